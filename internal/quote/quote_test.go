package quote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

// gbk encodes UTF-8 text the way the upstream endpoints do.
func gbk(t *testing.T, s string) []byte {
	t.Helper()
	out, _, err := transform.Bytes(simplifiedchinese.GBK.NewEncoder(), []byte(s))
	if err != nil {
		t.Fatal(err)
	}
	return out
}

// tencentLine builds a v_ quote line with 50 tilde-separated fields.
func tencentLine(symbol, name, code string, price float64) string {
	fields := make([]string, 50)
	for i := range fields {
		fields[i] = "0"
	}
	fields[1] = name
	fields[2] = code
	fields[3] = fmt.Sprintf("%.2f", price)
	fields[4] = "1690.00" // prev close
	fields[5] = "1695.00" // open
	fields[32] = "1.25"   // change percent
	fields[33] = "1710.00"
	fields[34] = "1688.00"
	fields[36] = "35000"
	fields[37] = "59500"
	fields[38] = "0.28"
	fields[39] = "32.5"
	return fmt.Sprintf(`v_%s="%s";`, symbol, strings.Join(fields, "~"))
}

func testClient(tencent, sina, kline string) *Client {
	c := NewClient(2*time.Second, 6000)
	c.TencentBase = tencent
	c.SinaBase = sina
	c.KlineBase = kline
	return c
}

func TestCodeToSymbol(t *testing.T) {
	cases := map[string]string{
		"600519": "sh600519",
		"688981": "sh688981",
		"900905": "sh900905",
		"000001": "sz000001",
		"300750": "sz300750",
		"002594": "sz002594",
	}
	for code, want := range cases {
		if got := CodeToSymbol(code); got != want {
			t.Errorf("CodeToSymbol(%s) = %s, want %s", code, got, want)
		}
	}
}

func TestLatestPriceTencent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(gbk(t, tencentLine("sh600519", "贵州茅台", "600519", 1702.50)))
	}))
	defer srv.Close()

	c := testClient(srv.URL, "http://127.0.0.1:0", "")
	price, err := c.LatestPrice(context.Background(), "600519")
	if err != nil {
		t.Fatal(err)
	}
	if price != 1702.50 {
		t.Fatalf("price = %v, want 1702.50", price)
	}
}

func TestLatestPriceFallsBackToSina(t *testing.T) {
	tencent := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusBadGateway)
	}))
	defer tencent.Close()

	sina := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sh600519") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write(gbk(t, `var hq_str_sh600519="贵州茅台,1695.00,1690.00,1701.00,1710.00,1688.00";`))
	}))
	defer sina.Close()

	c := testClient(tencent.URL, sina.URL, "")
	price, err := c.LatestPrice(context.Background(), "600519")
	if err != nil {
		t.Fatal(err)
	}
	if price != 1701.00 {
		t.Fatalf("price = %v, want 1701.00", price)
	}
}

func TestLatestPriceBothSourcesFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL, "")
	if _, err := c.LatestPrice(context.Background(), "600519"); err == nil {
		t.Fatal("expected error when both sources fail")
	}
}

func TestPoolParsesBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := tencentLine("sh600519", "贵州茅台", "600519", 1702.50) + "\n" +
			tencentLine("sz000001", "平安银行", "000001", 12.34) + "\n" +
			`v_sz999999="1~short~line";` + "\n"
		w.Write(gbk(t, body))
	}))
	defer srv.Close()

	c := testClient(srv.URL, "", "")
	quotes, err := c.Pool(context.Background(), []string{"600519", "000001", "999999"})
	if err != nil {
		t.Fatal(err)
	}
	if len(quotes) != 2 {
		t.Fatalf("quotes = %d, want 2 (short line skipped)", len(quotes))
	}
	q := quotes[0]
	if q.Code != "600519" || q.Name != "贵州茅台" {
		t.Fatalf("first quote %+v", q)
	}
	if q.Price != 1702.50 || q.PrevClose != 1690.00 || q.ChangePercent != 1.25 {
		t.Fatalf("parsed fields %+v", q)
	}
	if q.Volume != 35000 || q.PE != 32.5 {
		t.Fatalf("parsed fields %+v", q)
	}
}

func TestPoolDefaultCodes(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.String()
		w.Write(gbk(t, tencentLine("sh600519", "贵州茅台", "600519", 1700)))
	}))
	defer srv.Close()

	c := testClient(srv.URL, "", "")
	if _, err := c.Pool(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	for _, code := range DefaultPool[:3] {
		if !strings.Contains(gotQuery, code) {
			t.Errorf("default pool request missing %s: %s", code, gotQuery)
		}
	}
}

func TestKline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"sh600519":{"qfqday":[
			["2026-03-09","1690.00","1700.00","1705.00","1685.00","35000"],
			["2026-03-10","1700.00","1702.50","1710.00","1688.00","42000"]
		]}}}`)
	}))
	defer srv.Close()

	c := testClient("", "", srv.URL)
	bars, err := c.Kline(context.Background(), "600519", 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 2 {
		t.Fatalf("bars = %d, want 2", len(bars))
	}
	if bars[1].Date != "2026-03-10" || bars[1].Close != 1702.50 || bars[1].Volume != 42000 {
		t.Fatalf("bar %+v", bars[1])
	}
}

func TestKlineFallsBackToUnadjusted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"sz000001":{"day":[["2026-03-10","12.00","12.34","12.50","11.90","800000"]]}}}`)
	}))
	defer srv.Close()

	c := testClient("", "", srv.URL)
	bars, err := c.Kline(context.Background(), "000001", 30)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 1 || bars[0].Close != 12.34 {
		t.Fatalf("bars %+v", bars)
	}
}
