package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/met-sale/internal/config"
)

func TestEngine_NoLimit(t *testing.T) {
	e, err := NewEngine(&config.Config{})
	require.NoError(t, err)
	assert.NoError(t, e.AllowPurchase(decimal.RequireFromString("1000000")))
}

func TestEngine_Limit(t *testing.T) {
	cfg := &config.Config{}
	cfg.Sale.MaxNative = "0.5"
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	assert.NoError(t, e.AllowPurchase(decimal.RequireFromString("0.5")))
	assert.ErrorIs(t, e.AllowPurchase(decimal.RequireFromString("0.500001")), ErrAboveLimit)
}

func TestEngine_BadConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.Sale.MaxNative = "lots"
	_, err := NewEngine(cfg)

	var ce *config.Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "sale.max_native", ce.Field)
}

func TestEngine_Nil(t *testing.T) {
	var e *Engine
	assert.NoError(t, e.AllowPurchase(decimal.NewFromInt(1)))
}
