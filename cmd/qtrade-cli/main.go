package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"qtrade/pkg/qtrade"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: qtrade-cli [-server URL] <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  version    Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "  status     Show qtrade-server status\n")
		fmt.Fprintf(os.Stderr, "  account    Show account summary\n")
		fmt.Fprintf(os.Stderr, "  positions  List current holdings\n")
		fmt.Fprintf(os.Stderr, "  orders     List orders (-status filter)\n")
		fmt.Fprintf(os.Stderr, "  quote      Latest price for a stock code\n")
		fmt.Fprintf(os.Stderr, "  exec       Submit a trade (-code -direction -price -volume)\n")
		fmt.Fprintf(os.Stderr, "  cancel     Cancel an open order by id\n")
		fmt.Fprintf(os.Stderr, "  signals    Show cached strategy signals\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	server := flag.String("server", envOr("QTRADE_SERVER", "http://localhost:8000"), "qtrade-server base URL")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(1)
	}

	client := qtrade.NewClient(*server)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch args[0] {
	case "version":
		fmt.Printf("qtrade-cli %s\n", version)
	case "status":
		err = runStatus(ctx, client)
	case "account":
		err = runAccount(ctx, client)
	case "positions":
		err = runPositions(ctx, client)
	case "orders":
		err = runOrders(ctx, client, args[1:])
	case "quote":
		err = runQuote(ctx, client, args[1:])
	case "exec":
		err = runExec(ctx, client, args[1:])
	case "cancel":
		err = runCancel(ctx, client, args[1:])
	case "signals":
		err = runSignals(ctx, client)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		flag.Usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runStatus(ctx context.Context, c *qtrade.Client) error {
	h, err := c.Health(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("status:    %s\n", h.Status)
	fmt.Printf("mode:      %s\n", h.Mode)
	fmt.Printf("gateway:   %s\n", h.Gateway)
	fmt.Printf("connected: %v\n", h.Connected)
	return nil
}

func runAccount(ctx context.Context, c *qtrade.Client) error {
	a, err := c.Account(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("cash:        %.2f\n", a.Cash)
	fmt.Printf("total asset: %.2f\n", a.TotalAsset)
	fmt.Printf("positions:   %d\n", a.Positions)
	return nil
}

func runPositions(ctx context.Context, c *qtrade.Client) error {
	positions, err := c.Positions(ctx)
	if err != nil {
		return err
	}
	if len(positions) == 0 {
		fmt.Println("no positions")
		return nil
	}
	fmt.Printf("%-8s %-10s %8s %8s %10s %12s %10s\n",
		"CODE", "NAME", "VOL", "AVAIL", "AVG COST", "MKT VALUE", "PROFIT")
	for _, p := range positions {
		fmt.Printf("%-8s %-10s %8d %8d %10.2f %12.2f %10.2f\n",
			p.StockCode, p.StockName, p.Volume, p.AvailableVolume,
			p.AvgCost, p.MarketValue, p.Profit)
	}
	return nil
}

func runOrders(ctx context.Context, c *qtrade.Client, args []string) error {
	fs := flag.NewFlagSet("orders", flag.ExitOnError)
	status := fs.String("status", "", "filter by status (pending, filled, cancelled, ...)")
	fs.Parse(args)

	orders, err := c.Orders(ctx, *status)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		fmt.Println("no orders")
		return nil
	}
	fmt.Printf("%-14s %-8s %-5s %8s %10s %8s %-14s\n",
		"ORDER", "CODE", "DIR", "VOL", "PRICE", "FILLED", "STATUS")
	for _, o := range orders {
		fmt.Printf("%-14s %-8s %-5s %8d %10.2f %8d %-14s\n",
			o.OrderID, o.StockCode, o.Direction, o.Volume, o.Price,
			o.FilledVolume, o.Status)
	}
	return nil
}

func runQuote(ctx context.Context, c *qtrade.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: qtrade-cli quote <code>")
	}
	price, err := c.Quote(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s %.2f\n", args[0], price)
	return nil
}

func runExec(ctx context.Context, c *qtrade.Client, args []string) error {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	code := fs.String("code", "", "6-digit stock code")
	name := fs.String("name", "", "stock name")
	direction := fs.String("direction", "buy", "buy or sell")
	price := fs.Float64("price", 0, "limit price (0 = latest market price)")
	volume := fs.Int64("volume", 0, "shares (0 = auto-size from confidence)")
	confidence := fs.Float64("confidence", 0.5, "signal confidence 0..1")
	fs.Parse(args)

	if *code == "" {
		return fmt.Errorf("-code is required")
	}
	resp, err := c.Execute(ctx, &qtrade.TradeRequest{
		StockCode:  *code,
		StockName:  *name,
		Direction:  *direction,
		Price:      *price,
		Volume:     *volume,
		Confidence: *confidence,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		fmt.Printf("rejected: %s\n", resp.Message)
		if resp.RiskCheck != nil {
			for _, chk := range resp.RiskCheck.Checks {
				mark := "ok"
				if !chk.Passed {
					mark = "FAIL"
				}
				fmt.Printf("  [%-4s] %s: %s\n", mark, chk.Rule, chk.Detail)
			}
		}
		os.Exit(1)
	}
	fmt.Printf("submitted %s: %s\n", resp.OrderID, resp.Message)
	return nil
}

func runCancel(ctx context.Context, c *qtrade.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: qtrade-cli cancel <order-id>")
	}
	resp, err := c.Cancel(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("cancelled %s\n", resp.OrderID)
	return nil
}

func runSignals(ctx context.Context, c *qtrade.Client) error {
	resp, err := c.Signals(ctx)
	if err != nil {
		return err
	}
	if resp.Count == 0 {
		fmt.Println("no signals yet")
		return nil
	}
	fmt.Printf("last run: %s\n\n", resp.LastRun)
	fmt.Printf("%-8s %-10s %-5s %6s %8s %-7s\n",
		"CODE", "NAME", "SIG", "CONF", "EXP RET", "RISK")
	for _, s := range resp.Signals {
		fmt.Printf("%-8s %-10s %-5s %6.2f %7.1f%% %-7s\n",
			s.StockCode, s.StockName, s.Signal, s.Confidence,
			s.ExpectedReturn, s.RiskLevel)
	}
	return nil
}
