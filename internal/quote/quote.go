// Package quote fetches real-time China A-share quotes from Tencent finance
// with Sina as the fallback source. Both serve GBK-encoded text protocols.
package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"qtrade/internal/domain"
	"qtrade/internal/util"
)

// Source supplies prices and quotes to the trading engine and the poller.
type Source interface {
	LatestPrice(ctx context.Context, code string) (float64, error)
	Pool(ctx context.Context, codes []string) ([]domain.Quote, error)
	Kline(ctx context.Context, code string, count int) ([]domain.Kline, error)
}

// DefaultPool is the stock pool polled when no explicit code list is given.
var DefaultPool = []string{
	"600519", "000858", "601318", "000001", "600036",
	"300750", "002594", "688981", "603259", "000725",
	"002415", "600900", "601899", "000568", "600276",
	"002475", "601012", "600030", "002714", "601888",
	"000333", "600309", "601669", "002049", "600585",
	"601225", "002352", "300059", "688111", "002371",
}

var _ Source = (*Client)(nil)

// Client is an HTTP quote client. Base URLs are fields so tests can point
// them at a local server.
type Client struct {
	TencentBase string
	SinaBase    string
	KlineBase   string

	http    *http.Client
	limiter *util.RateLimiter
}

// NewClient creates a Client with the production endpoints, the given
// request timeout and a per-minute request budget shared by all calls.
func NewClient(timeout time.Duration, ratePerMin int) *Client {
	return &Client{
		TencentBase: "http://qt.gtimg.cn",
		SinaBase:    "http://hq.sinajs.cn",
		KlineBase:   "http://web.ifzq.gtimg.cn",
		http:        &http.Client{Timeout: timeout},
		limiter:     util.NewRateLimiter(ratePerMin),
	}
}

// CodeToSymbol maps a 6-digit code to its exchange-prefixed symbol. Codes
// starting with 6 or 9 trade in Shanghai, the rest in Shenzhen.
func CodeToSymbol(code string) string {
	if strings.HasPrefix(code, "6") || strings.HasPrefix(code, "9") {
		return "sh" + code
	}
	return "sz" + code
}

// LatestPrice returns the latest trade price for one code, trying Tencent
// first and Sina second. A zero price from either source counts as a miss.
func (c *Client) LatestPrice(ctx context.Context, code string) (float64, error) {
	symbol := CodeToSymbol(code)

	if raw, err := c.get(ctx, c.TencentBase+"/q="+symbol); err == nil {
		fields := strings.Split(raw, "~")
		if len(fields) > 3 {
			if price, err := strconv.ParseFloat(fields[3], 64); err == nil && price > 0 {
				return price, nil
			}
		}
	}

	raw, err := c.get(ctx, c.SinaBase+"/list="+symbol)
	if err != nil {
		return 0, fmt.Errorf("latest price for %s: %w", code, err)
	}
	if m := quotedRe.FindStringSubmatch(raw); m != nil {
		fields := strings.Split(m[1], ",")
		if len(fields) > 3 {
			if price, err := strconv.ParseFloat(fields[3], 64); err == nil && price > 0 {
				return price, nil
			}
		}
	}
	return 0, fmt.Errorf("latest price for %s: no source returned a price", code)
}

var (
	quotedRe = regexp.MustCompile(`"(.+)"`)
	lineRe   = regexp.MustCompile(`v_(\w+)="(.+)";`)
)

// Pool fetches a batch of quotes from Tencent in a single request. Lines
// with too few fields are skipped rather than failing the batch.
func (c *Client) Pool(ctx context.Context, codes []string) ([]domain.Quote, error) {
	if len(codes) == 0 {
		codes = DefaultPool
	}
	symbols := make([]string, len(codes))
	for i, code := range codes {
		symbols[i] = CodeToSymbol(code)
	}

	var raw string
	err := util.Retry(ctx, 2, time.Second, func() error {
		var err error
		raw, err = c.get(ctx, c.TencentBase+"/q="+strings.Join(symbols, ","))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("quote pool: %w", err)
	}

	var quotes []domain.Quote
	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		m := lineRe.FindStringSubmatch(strings.TrimSpace(line))
		if m == nil {
			continue
		}
		fields := strings.Split(m[2], "~")
		if len(fields) < 50 {
			continue
		}
		quotes = append(quotes, domain.Quote{
			Code:          fields[2],
			Name:          fields[1],
			Price:         f(fields[3]),
			ChangePercent: f(fields[32]),
			Volume:        int64(f(fields[36])),
			Amount:        f(fields[37]),
			High:          f(fields[33]),
			Low:           f(fields[34]),
			Open:          f(fields[5]),
			PrevClose:     f(fields[4]),
			TurnoverRate:  f(fields[38]),
			PE:            f(fields[39]),
		})
	}
	return quotes, nil
}

// klineResponse is the shape of the Tencent fqkline endpoint. Bars are
// heterogeneous arrays; values arrive as strings or numbers depending on
// the column.
type klineResponse struct {
	Data map[string]struct {
		QfqDay [][]any `json:"qfqday"`
		Day    [][]any `json:"day"`
	} `json:"data"`
}

// Kline fetches up to count daily bars, forward-adjusted when available.
func (c *Client) Kline(ctx context.Context, code string, count int) ([]domain.Kline, error) {
	symbol := CodeToSymbol(code)
	url := fmt.Sprintf("%s/appstock/app/fqkline/get?param=%s,day,,,%d,qfq", c.KlineBase, symbol, count)
	raw, err := c.get(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("kline for %s: %w", code, err)
	}

	var resp klineResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("kline for %s: %w", code, err)
	}
	days := resp.Data[symbol].QfqDay
	if len(days) == 0 {
		days = resp.Data[symbol].Day
	}

	bars := make([]domain.Kline, 0, len(days))
	for _, d := range days {
		if len(d) < 5 {
			continue
		}
		bar := domain.Kline{
			Date:  str(d[0]),
			Open:  num(d[1]),
			Close: num(d[2]),
			High:  num(d[3]),
			Low:   num(d[4]),
		}
		if len(d) > 5 {
			bar.Volume = int64(num(d[5]))
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// get issues one rate-limited request and returns the body decoded from GBK.
func (c *Client) get(ctx context.Context, url string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)")
	req.Header.Set("Referer", "https://finance.sina.com.cn")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder()))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func f(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		return f(x)
	}
	return 0
}
