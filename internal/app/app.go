// Package app wires the sale page server: chain reader, price feed,
// refresher, optional Redis mirror, metrics and the HTTP front-end.
package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/you/met-sale/internal/chain"
	"github.com/you/met-sale/internal/config"
	"github.com/you/met-sale/internal/metrics"
	"github.com/you/met-sale/internal/pricefeed"
	"github.com/you/met-sale/internal/redisfeed"
	"github.com/you/met-sale/internal/risk"
	"github.com/you/met-sale/internal/sale"
	"github.com/you/met-sale/internal/web"
	"go.uber.org/zap"
)

const readyWait = 5 * time.Second

// App manages the server's lifecycle and components.
type App struct {
	cfg *config.Config
	log *zap.Logger
}

func New(cfg *config.Config, log *zap.Logger) *App {
	return &App{cfg: cfg, log: log}
}

// Run blocks until ctx is cancelled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// graceful shutdown
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			a.log.Warn("received signal, shutting down...")
			cancel()
		case <-ctx.Done():
		}
	}()

	limits, err := risk.NewEngine(a.cfg)
	if err != nil {
		return err
	}

	rates := a.dialReader(ctx)
	prices := pricefeed.New(a.cfg, a.log)

	var sink sale.Sink
	if pub := redisfeed.NewPublisher(a.cfg); pub != nil {
		defer pub.Close()
		pctx, pcancel := context.WithTimeout(ctx, 3*time.Second)
		if err := pub.Ping(pctx); err != nil {
			a.log.Warn("redis unavailable, state mirror disabled", zap.String("addr", a.cfg.Redis.Addr), zap.Error(err))
		} else {
			sink = pub
			a.log.Info("mirroring state to redis", zap.String("addr", a.cfg.Redis.Addr))
		}
		pcancel()
	}

	ref := sale.NewRefresher(a.cfg, rates, prices, sink, a.log)
	go ref.Run(ctx)

	metrics.Serve(ctx, a.cfg.Metrics.ListenAddr, nil, ref.Ready, a.log)

	if !waitReady(ctx, ref.Ready, readyWait) {
		a.log.Warn("rate or price not loaded yet, serving anyway", zap.String("status", ref.Snapshot().Status))
	} else {
		a.log.Info("rate and price loaded", zap.String("status", ref.Snapshot().Status))
	}

	err = web.New(a.cfg, ref, limits, a.log).Run(ctx)
	a.log.Info("sale server finished")
	return err
}

// dialReader opens the read-only contract handle. The page still serves
// static content and fiat prices without it, so failure is not fatal.
func (a *App) dialReader(ctx context.Context) sale.RateSource {
	ro := *a.cfg
	ro.Chain.WalletPK = "" // сервер никогда не подписывает

	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	w, err := chain.Dial(dctx, &ro, a.log)
	if err != nil {
		a.log.Error("contract reader unavailable", zap.String("rpc", a.cfg.Chain.RPCHTTP), zap.Error(err))
		return nil
	}
	return w
}

// waitReady polls ready until it reports true, the timeout passes or ctx ends.
func waitReady(ctx context.Context, ready func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		if ready() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-tick.C:
		}
	}
}
