package risk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/you/met-sale/internal/config"
)

var ErrAboveLimit = errors.New("purchase above per-transaction limit")

// Engine caps how much native currency one purchase may carry. A zero cap
// means no limit.
type Engine struct{ maxNative decimal.Decimal }

func NewEngine(cfg *config.Config) (*Engine, error) {
	s := strings.TrimSpace(cfg.Sale.MaxNative)
	if s == "" {
		return &Engine{}, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil || d.Sign() < 0 {
		return nil, &config.Error{Field: "sale.max_native", Err: fmt.Errorf("bad decimal %q", s)}
	}
	return &Engine{maxNative: d}, nil
}

func (e *Engine) MaxNative() decimal.Decimal { return e.maxNative }

func (e *Engine) AllowPurchase(native decimal.Decimal) error {
	if e == nil || e.maxNative.IsZero() {
		return nil
	}
	if native.GreaterThan(e.maxNative) {
		return fmt.Errorf("%w: %s > %s", ErrAboveLimit, native.String(), e.maxNative.String())
	}
	return nil
}
