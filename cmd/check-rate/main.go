package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"github.com/you/met-sale/internal/chain"
	"github.com/you/met-sale/internal/config"
	"github.com/you/met-sale/internal/pricefeed"
	"github.com/you/met-sale/internal/quote"
	"github.com/you/met-sale/internal/redisfeed"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config")
	amount := flag.String("amount", "", "token amount to quote")
	fromRedis := flag.Bool("from-redis", false, "read the snapshot the server mirrored to redis")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		panic(err)
	}
	cfg.Chain.WalletPK = ""

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if *fromRedis {
		pub := redisfeed.NewPublisher(cfg)
		if pub == nil {
			fmt.Fprintln(os.Stderr, "redis.addr is empty in config.yaml")
			os.Exit(1)
		}
		defer pub.Close()
		s, err := pub.ReadSnapshot(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read snapshot: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Snapshot @ %s\n", s.UpdatedAt.Format(time.RFC3339))
		fmt.Printf("Status:   %s\n", s.Status)
		printQuote(cfg, *amount, s.Rate, s.Price)
		return
	}

	// ВАЖНО: используем не-nil логгер
	log := zap.NewNop()

	fmt.Printf("RPC:      %s\n", cfg.Chain.RPCHTTP)
	fmt.Printf("Contract: %s\n", cfg.Contract.Address)

	w, err := chain.Dial(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		os.Exit(1)
	}
	raw, err := w.TradingRate(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tradingRate(): %s\n", chain.Reason(err))
		os.Exit(1)
	}
	rate := quote.FromMinor(raw, 0)

	price, err := pricefeed.New(cfg, log).NativePrice(ctx)
	if err != nil {
		fmt.Printf("Price:    unavailable (%v)\n", err)
	}
	printQuote(cfg, *amount, rate, price)
}

func printQuote(cfg *config.Config, amount string, rate, price decimal.Decimal) {
	fmt.Printf("Rate:     1 %s = %s %s\n", cfg.Chain.NativeSymbol, rate.String(), cfg.Contract.TokenSymbol)
	if price.Sign() > 0 {
		fmt.Printf("Price:    1 %s = $%s\n", cfg.Chain.NativeSymbol, price.StringFixed(quote.FiatPlaces))
	}
	if amount == "" {
		return
	}

	tokens, err := quote.ParseStrict(amount, cfg.Chain.NativeDecimals)
	if err != nil {
		fmt.Printf("Amount:   %q: %v\n", amount, err)
		return
	}
	q := quote.Calculate(tokens, rate, price)
	if !q.OK {
		fmt.Println("Quote:    no rate")
		return
	}
	wei, err := quote.ToMinorUnits(tokens, rate, cfg.Chain.NativeDecimals)
	if err != nil {
		fmt.Printf("Quote:    %v\n", err)
		return
	}
	fmt.Printf("Quote:    %s %s = %s %s", q.TokensText(), cfg.Contract.TokenSymbol, q.NativeText(), cfg.Chain.NativeSymbol)
	if q.FiatOK {
		fmt.Printf(" (~$%s)", q.FiatText())
	}
	fmt.Printf("\nValue:    %s wei\n", wei.String())
}
