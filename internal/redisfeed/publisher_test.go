package redisfeed

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/met-sale/internal/config"
	"github.com/you/met-sale/internal/sale"
)

func newTestPublisher(t *testing.T) (*Publisher, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewWithClient(rdb, "", ""), mr
}

func TestNewPublisher_Disabled(t *testing.T) {
	assert.Nil(t, NewPublisher(&config.Config{}))
}

func TestPublishSnapshot_RoundTrip(t *testing.T) {
	p, mr := newTestPublisher(t)
	ctx := context.Background()
	require.NoError(t, p.Ping(ctx))

	ts := time.UnixMilli(1_700_000_000_000).UTC()
	in := sale.Snapshot{
		Rate:      decimal.NewFromInt(1000),
		Price:     decimal.RequireFromString("612.34"),
		RateOK:    true,
		PriceOK:   true,
		Status:    "Contract Rate: 1 BNB = 1000 MET",
		UpdatedAt: ts,
	}
	require.NoError(t, p.PublishSnapshot(ctx, in))

	assert.Equal(t, "1000", mr.HGet("sale:state", "rate"))
	assert.Equal(t, "true", mr.HGet("sale:state", "price_ok"))

	out, err := p.ReadSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, in.Rate.Equal(out.Rate))
	assert.True(t, in.Price.Equal(out.Price))
	assert.True(t, out.RateOK)
	assert.Equal(t, in.Status, out.Status)
	assert.Equal(t, ts, out.UpdatedAt)
}

func TestReadSnapshot_Empty(t *testing.T) {
	p, _ := newTestPublisher(t)
	_, err := p.ReadSnapshot(context.Background())
	assert.ErrorIs(t, err, redis.Nil)
}

func TestPublishPurchase(t *testing.T) {
	p, _ := newTestPublisher(t)
	ctx := context.Background()

	require.NoError(t, p.PublishPurchase(ctx, sale.PurchaseEvent{
		Account:  "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed",
		TxHash:   "0xabc",
		Tokens:   "50",
		ValueWei: "50000000000000000",
		OK:       true,
		At:       time.Now(),
	}))

	msgs, err := p.rdb.XRange(ctx, "sale:purchases", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "0xabc", msgs[0].Values["tx"])
	assert.Equal(t, "true", msgs[0].Values["ok"])
	assert.Equal(t, "50000000000000000", msgs[0].Values["value_wei"])
}
