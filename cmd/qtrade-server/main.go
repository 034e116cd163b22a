package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"qtrade/internal/api"
	"qtrade/internal/broker"
	"qtrade/internal/config"
	"qtrade/internal/engine"
	"qtrade/internal/ledger"
	"qtrade/internal/news"
	"qtrade/internal/poller"
	"qtrade/internal/push"
	"qtrade/internal/quote"
	"qtrade/internal/risk"
	"qtrade/internal/store"
	"qtrade/internal/strategy"
	"qtrade/internal/util"
)

func main() {
	// Load config.
	cfgPath := "config/qtrade.yaml"
	if p := os.Getenv("QTRADE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	// Open stores.
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Fatalf("creating data dir: %v", err)
	}
	st, err := store.NewSQLiteStore(cfg.Storage.SQLitePath)
	if err != nil {
		log.Fatalf("opening sqlite store: %v", err)
	}
	defer st.Close()
	archive := store.NewParquetStore(cfg.Storage.DataDir)

	// Quote source and order book.
	quotes := quote.NewClient(
		time.Duration(cfg.Quote.TimeoutSeconds)*time.Second,
		cfg.Quote.RateLimitPerMin,
	)
	led := ledger.New()
	led.SetPriceFunc(func(code string) (float64, bool) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		price, err := quotes.LatestPrice(ctx, code)
		if err != nil {
			return 0, false
		}
		return price, true
	})

	// Trading gateway.
	var trader broker.Trader
	if cfg.Trading.MockMode {
		sim := broker.NewSimTrader(led, st)
		sim.InitialCash = cfg.Trading.InitialCash
		trader = sim
	} else {
		trader = broker.NewAlpacaTrader(
			cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, led, st)
	}
	logger.Info("starting trading service", "gateway", trader.Name(), "mock_mode", cfg.Trading.MockMode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := trader.Connect(ctx); err != nil {
		// The gateway reconnects in the background; keep serving.
		logger.Error("gateway connect failed", "error", err)
	}

	hub := push.NewHub()
	eng := engine.New(trader, risk.NewManager(cfg.Risk), quotes, hub, cfg)
	strat := strategy.NewEngine(quotes)
	srv := api.NewServer(eng, strat, quotes, st, hub, cfg.Trading.MockMode)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		strat.RunLoop(ctx, time.Duration(cfg.Strategy.RunIntervalMinutes)*time.Minute)
		return nil
	})
	if cfg.Poller.Enabled {
		nf := news.NewFetcher(time.Duration(cfg.Quote.TimeoutSeconds) * time.Second)
		p := poller.New(quotes, strat, nf, st, archive)
		g.Go(func() error { return p.Run(ctx) })
	}
	g.Go(func() error {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("trading service stopped")
}
