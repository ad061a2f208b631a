package sale

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/you/met-sale/internal/config"
	"github.com/you/met-sale/internal/metrics"
	"github.com/you/met-sale/internal/quote"
	"go.uber.org/zap"
)

// Refresher keeps the shared Snapshot current for the web page. Each tick
// is one attempt per source; a failed source keeps its previous value.
type Refresher struct {
	cfg    *config.Config
	log    *zap.Logger
	rates  RateSource // nil when the RPC was unavailable at startup
	prices PriceSource
	sink   Sink

	mu   sync.RWMutex
	snap Snapshot
	subs map[chan Snapshot]struct{}
}

func NewRefresher(cfg *config.Config, rates RateSource, prices PriceSource, sink Sink, log *zap.Logger) *Refresher {
	return &Refresher{
		cfg:    cfg,
		log:    log,
		rates:  rates,
		prices: prices,
		sink:   sink,
		subs:   make(map[chan Snapshot]struct{}),
	}
}

func (r *Refresher) Run(ctx context.Context) {
	r.RefreshOnce(ctx)

	t := time.NewTicker(r.cfg.RefreshInterval())
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.RefreshOnce(ctx)
		}
	}
}

func (r *Refresher) RefreshOnce(ctx context.Context) Snapshot {
	r.mu.RLock()
	next := r.snap
	r.mu.RUnlock()

	var problems []string

	if r.rates == nil {
		problems = append(problems, "Error fetching contract data.")
	} else if raw, err := r.rates.TradingRate(ctx); err != nil {
		metrics.FetchErrors.WithLabelValues("rate").Inc()
		r.log.Warn("trading rate refresh failed", zap.Error(err))
		problems = append(problems, "Error fetching contract data.")
	} else {
		next.Rate = quote.FromMinor(raw, 0)
		next.RateOK = next.Rate.Sign() > 0
		metrics.SetDecimal(metrics.ExchangeRate, next.Rate)
	}

	if r.prices != nil {
		if px, err := r.prices.NativePrice(ctx); err != nil {
			metrics.FetchErrors.WithLabelValues("price").Inc()
			r.log.Warn("price refresh failed", zap.Error(err))
			problems = append(problems, "Could not load live prices.")
		} else {
			next.Price = px
			next.PriceOK = true
			metrics.SetDecimal(metrics.NativeUSD, px)
		}
	}

	if len(problems) > 0 {
		next.Status = strings.Join(problems, " ")
	} else {
		next.Status = "Contract Rate: 1 " + r.cfg.Chain.NativeSymbol + " = " + next.Rate.String() + " " + r.cfg.Contract.TokenSymbol
	}
	next.UpdatedAt = time.Now().UTC()

	r.mu.Lock()
	r.snap = next
	for ch := range r.subs {
		// медленному подписчику заменяем непрочитанный снапшот свежим
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
	r.mu.Unlock()

	if r.sink != nil {
		if err := r.sink.PublishSnapshot(ctx, next); err != nil {
			r.log.Warn("publish snapshot", zap.Error(err))
		}
	}
	return next
}

func (r *Refresher) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

func (r *Refresher) Ready() bool {
	s := r.Snapshot()
	return s.RateOK && s.PriceOK
}

// Subscribe returns a channel of future snapshots and a cancel func.
func (r *Refresher) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()
	return ch, func() {
		r.mu.Lock()
		delete(r.subs, ch)
		r.mu.Unlock()
	}
}

// Quote computes a quote against the current snapshot.
func (r *Refresher) Quote(amountText string) quote.Quote {
	s := r.Snapshot()
	return quote.Calculate(quote.ParseAmount(amountText), s.Rate, s.Price)
}
