// Package sale holds the state and actions of one purchase session and the
// shared rate/price snapshot served to page visitors.
package sale

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/you/met-sale/internal/chain"
	"github.com/you/met-sale/internal/quote"
)

var (
	ErrNotConnected = errors.New("wallet not connected")
	ErrRateUnknown  = errors.New("exchange rate not loaded")
	ErrBusy         = errors.New("a purchase is already in flight")
)

// RateSource is the read-only half of the contract.
type RateSource interface {
	TradingRate(ctx context.Context) (*big.Int, error)
}

type PriceSource interface {
	NativePrice(ctx context.Context) (decimal.Decimal, error)
}

// Limiter rejects purchases that are too large.
type Limiter interface {
	AllowPurchase(native decimal.Decimal) error
}

// Sink receives published state and purchase outcomes. Optional.
type Sink interface {
	PublishSnapshot(ctx context.Context, s Snapshot) error
	PublishPurchase(ctx context.Context, e PurchaseEvent) error
}

// Connector obtains a signing contract handle and the account behind it.
type Connector func(ctx context.Context) (chain.Contract, common.Address, error)

// State is a copy of everything the page renders.
type State struct {
	Rate      decimal.Decimal
	Price     decimal.Decimal
	Ready     bool // price loaded
	Connected bool
	Busy      bool
	Account   string
	Quote     quote.Quote

	APIStatus    string
	WalletStatus string
	TxStatus     string
	TxURL        string
}

// Receipt describes a confirmed purchase.
type Receipt struct {
	TxHash   string
	TxURL    string
	ValueWei *big.Int
	Tokens   decimal.Decimal
	Native   decimal.Decimal
}

// Snapshot is the process-wide view of the two external values.
type Snapshot struct {
	Rate      decimal.Decimal `json:"rate"`
	Price     decimal.Decimal `json:"price"`
	RateOK    bool            `json:"rateOk"`
	PriceOK   bool            `json:"priceOk"`
	Status    string          `json:"status"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// PurchaseEvent is published after every submission attempt that reached the chain.
type PurchaseEvent struct {
	Account  string
	TxHash   string
	Tokens   string
	ValueWei string
	OK       bool
	Reason   string
	At       time.Time
}
