// Package redisfeed mirrors sale state into Redis for external dashboards:
// a HASH with the latest rate/price and a STREAM of purchase outcomes.
package redisfeed

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/you/met-sale/internal/config"
	"github.com/you/met-sale/internal/sale"
)

const streamMaxLen = 10_000

var _ sale.Sink = (*Publisher)(nil)

type Publisher struct {
	rdb      *redis.Client
	stateKey string // по умолчанию: "sale:state"
	stream   string // по умолчанию: "sale:purchases"
}

// NewPublisher returns nil when no Redis address is configured.
func NewPublisher(cfg *config.Config) *Publisher {
	if cfg.Redis.Addr == "" {
		return nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		DB:       cfg.Redis.DB,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
	})
	return NewWithClient(rdb, cfg.Redis.StateKey, cfg.Redis.Stream)
}

func NewWithClient(rdb *redis.Client, stateKey, stream string) *Publisher {
	if stateKey == "" {
		stateKey = "sale:state"
	}
	if stream == "" {
		stream = "sale:purchases"
	}
	return &Publisher{rdb: rdb, stateKey: stateKey, stream: stream}
}

func (p *Publisher) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
func (p *Publisher) Close() error                   { return p.rdb.Close() }

// PublishSnapshot overwrites HASH sale:state.
func (p *Publisher) PublishSnapshot(ctx context.Context, s sale.Snapshot) error {
	return p.rdb.HSet(ctx, p.stateKey, map[string]interface{}{
		"rate":     s.Rate.String(),
		"price":    s.Price.String(),
		"rate_ok":  strconv.FormatBool(s.RateOK),
		"price_ok": strconv.FormatBool(s.PriceOK),
		"status":   s.Status,
		"ts_ms":    s.UpdatedAt.UnixMilli(),
	}).Err()
}

// PublishPurchase appends to STREAM sale:purchases (capped, approximate trim).
func (p *Publisher) PublishPurchase(ctx context.Context, e sale.PurchaseEvent) error {
	return p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"account":   e.Account,
			"tx":        e.TxHash,
			"tokens":    e.Tokens,
			"value_wei": e.ValueWei,
			"ok":        strconv.FormatBool(e.OK),
			"reason":    e.Reason,
			"ts_ms":     e.At.UnixMilli(),
		},
	}).Err()
}

// ReadSnapshot reads back HASH sale:state.
func (p *Publisher) ReadSnapshot(ctx context.Context) (sale.Snapshot, error) {
	m, err := p.rdb.HGetAll(ctx, p.stateKey).Result()
	if err != nil {
		return sale.Snapshot{}, err
	}
	if len(m) == 0 {
		return sale.Snapshot{}, redis.Nil
	}

	var s sale.Snapshot
	if s.Rate, err = decimal.NewFromString(m["rate"]); err != nil {
		return sale.Snapshot{}, fmt.Errorf("bad rate %q: %w", m["rate"], err)
	}
	if s.Price, err = decimal.NewFromString(m["price"]); err != nil {
		return sale.Snapshot{}, fmt.Errorf("bad price %q: %w", m["price"], err)
	}
	s.RateOK, _ = strconv.ParseBool(m["rate_ok"])
	s.PriceOK, _ = strconv.ParseBool(m["price_ok"])
	s.Status = m["status"]
	if ms, err := strconv.ParseInt(m["ts_ms"], 10, 64); err == nil {
		s.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return s, nil
}
