package push

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"qtrade/internal/domain"
)

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(msg, &out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestHubWelcomeAndBroadcast(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	a := dial(t, url)
	b := dial(t, url)

	if got := readJSON(t, a); got["type"] != "connected" {
		t.Fatalf("welcome = %v", got)
	}
	if got := readJSON(t, b); got["type"] != "connected" {
		t.Fatalf("welcome = %v", got)
	}

	hub.Publish(domain.TradeEvent{
		Type:         domain.EventTradeExecuted,
		OrderID:      "SIM-AAAA1111",
		StockCode:    "600519",
		Direction:    domain.DirectionBuy,
		FilledVolume: 100,
		FilledPrice:  1701.5,
		Status:       domain.OrderStatusFilled,
	})

	for _, conn := range []*websocket.Conn{a, b} {
		got := readJSON(t, conn)
		if got["type"] != domain.EventTradeExecuted || got["order_id"] != "SIM-AAAA1111" {
			t.Fatalf("event = %v", got)
		}
	}
}

func TestPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			hub.Publish(domain.TradeEvent{OrderID: "SIM-00000000"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked with no subscribers")
	}
}
