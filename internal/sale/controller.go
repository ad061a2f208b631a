package sale

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/you/met-sale/internal/chain"
	"github.com/you/met-sale/internal/config"
	"github.com/you/met-sale/internal/metrics"
	"github.com/you/met-sale/internal/quote"
	"github.com/you/met-sale/internal/risk"
	"go.uber.org/zap"
)

// Controller owns one session: rate, price, contract handle and the busy flag.
// Handlers may complete on different goroutines, so fields are guarded by mu;
// busy is separate so it can be observed while a purchase holds no lock.
type Controller struct {
	cfg    *config.Config
	log    *zap.Logger
	prices PriceSource
	limits Limiter
	sink   Sink

	mu       sync.Mutex
	contract chain.Contract
	account  string
	rate     decimal.Decimal
	price    decimal.Decimal
	ready    bool
	amount   string // последний введённый текст
	display  quote.Quote

	apiStatus    string
	walletStatus string
	txStatus     string
	txURL        string

	busy    atomic.Bool
	changed chan struct{}
}

func NewController(cfg *config.Config, prices PriceSource, limits Limiter, sink Sink, log *zap.Logger) *Controller {
	return &Controller{
		cfg:          cfg,
		log:          log,
		prices:       prices,
		limits:       limits,
		sink:         sink,
		walletStatus: "Not connected",
		changed:      make(chan struct{}, 1),
	}
}

// Changed fires (coalesced) whenever State would render differently.
func (c *Controller) Changed() <-chan struct{} { return c.changed }

func (c *Controller) notify() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

func (c *Controller) Busy() bool { return c.busy.Load() }

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Rate:         c.rate,
		Price:        c.price,
		Ready:        c.ready,
		Connected:    c.contract != nil,
		Busy:         c.busy.Load(),
		Account:      c.account,
		Quote:        c.display,
		APIStatus:    c.apiStatus,
		WalletStatus: c.walletStatus,
		TxStatus:     c.txStatus,
		TxURL:        c.txURL,
	}
}

func (c *Controller) set(f func()) {
	c.mu.Lock()
	f()
	c.mu.Unlock()
	c.notify()
}

// Connect obtains the signing handle, then loads the contract rate.
func (c *Controller) Connect(ctx context.Context, connect Connector) error {
	contract, addr, err := connect(ctx)
	if err != nil {
		c.log.Error("wallet connection failed", zap.Error(err))
		c.set(func() {
			if errors.Is(err, chain.ErrWrongNetwork) {
				c.walletStatus = fmt.Sprintf("Wrong network. Please switch to %s.", c.cfg.Chain.ChainName)
			} else {
				c.walletStatus = "Connection failed: " + err.Error()
			}
		})
		return err
	}

	c.set(func() {
		c.contract = contract
		c.account = addr.Hex()
		c.walletStatus = "Connected: " + chain.ShortAddress(addr)
	})
	c.log.Info("wallet connected", zap.String("account", addr.Hex()))

	// ошибка курса уже отражена в apiStatus, коннект при этом успешен
	_ = c.RefreshRate(ctx)
	return nil
}

// RefreshRate reads tradingRate() once. On failure the previous rate stays.
func (c *Controller) RefreshRate(ctx context.Context) error {
	c.mu.Lock()
	contract := c.contract
	c.mu.Unlock()
	if contract == nil {
		return ErrNotConnected
	}

	raw, err := contract.TradingRate(ctx)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("rate").Inc()
		c.log.Error("could not fetch trading rate from contract", zap.Error(err))
		c.set(func() { c.apiStatus = "Error fetching contract data." })
		return err
	}

	rate := quote.FromMinor(raw, 0)
	metrics.SetDecimal(metrics.ExchangeRate, rate)
	c.set(func() {
		c.rate = rate
		c.recalcLocked()
		c.apiStatus = fmt.Sprintf("Contract Rate: 1 %s = %s %s",
			c.cfg.Chain.NativeSymbol, rate.String(), c.cfg.Contract.TokenSymbol)
	})
	return nil
}

// RefreshPrice reads the external fiat price once.
func (c *Controller) RefreshPrice(ctx context.Context) error {
	if c.prices == nil {
		return nil
	}
	px, err := c.prices.NativePrice(ctx)
	if err != nil {
		metrics.FetchErrors.WithLabelValues("price").Inc()
		c.log.Warn("could not load live prices", zap.Error(err))
		c.set(func() { c.apiStatus = "Could not load live prices." })
		return err
	}
	metrics.SetDecimal(metrics.NativeUSD, px)
	c.set(func() {
		c.price = px
		c.ready = true
		c.recalcLocked()
	})
	return nil
}

// Recalculate is called on every edit of the amount field. With no rate
// loaded the displayed quote is left as it was.
func (c *Controller) Recalculate(amountText string) quote.Quote {
	c.mu.Lock()
	c.amount = amountText
	ok := c.recalcLocked()
	out := c.display
	c.mu.Unlock()

	if ok {
		c.notify()
	}
	return out
}

// recalcLocked recomputes the display from the last typed amount against the
// current rate and price. Caller holds mu.
func (c *Controller) recalcLocked() bool {
	q := quote.Calculate(quote.ParseAmount(c.amount), c.rate, c.price)
	if q.OK {
		c.display = q
	}
	return q.OK
}

// Purchase submits exactly one buyTokens() paying for amountText tokens.
// Input and precondition failures return before any chain call; once the
// busy flag is taken it is released on every path.
func (c *Controller) Purchase(ctx context.Context, amountText string) (Receipt, error) {
	c.mu.Lock()
	contract, rate, account := c.contract, c.rate, c.account
	c.mu.Unlock()

	reject := func(err error, msg string) (Receipt, error) {
		metrics.Purchases.WithLabelValues("rejected").Inc()
		c.set(func() { c.txStatus, c.txURL = msg, "" })
		return Receipt{}, err
	}

	if contract == nil {
		return reject(ErrNotConnected, "Please connect your wallet first.")
	}
	if rate.Sign() <= 0 {
		return reject(ErrRateUnknown, "Exchange rate not loaded yet.")
	}

	decimals := c.cfg.Chain.NativeDecimals
	tokens, err := quote.ParseStrict(amountText, decimals)
	if err != nil {
		if errors.Is(err, quote.ErrTooPrecise) {
			return reject(err, fmt.Sprintf("Too many decimal places (max %d).", decimals))
		}
		return reject(err, fmt.Sprintf("Please enter a valid %s amount.", c.cfg.Contract.TokenSymbol))
	}

	wei, err := quote.ToMinorUnits(tokens, rate, decimals)
	if err != nil {
		return reject(err, "Could not compute payment: "+err.Error())
	}
	native := quote.FromMinor(wei, decimals)
	if c.limits != nil {
		if err := c.limits.AllowPurchase(native); err != nil {
			if errors.Is(err, risk.ErrAboveLimit) {
				return reject(err, "Amount exceeds the per-purchase limit.")
			}
			return reject(err, err.Error())
		}
	}

	if !c.busy.CompareAndSwap(false, true) {
		return Receipt{}, ErrBusy
	}
	defer func() {
		c.busy.Store(false)
		c.notify()
	}()

	c.set(func() { c.txStatus, c.txURL = "Preparing transaction...", "" })

	if to := c.cfg.TxTimeout(); to > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, to)
		defer cancel()
	}

	rcpt := Receipt{ValueWei: wei, Tokens: tokens, Native: native}
	pending, err := contract.BuyTokens(ctx, wei)
	if err != nil {
		return rcpt, c.fail(ctx, account, rcpt, err)
	}
	rcpt.TxHash = pending.Hash()
	rcpt.TxURL = chain.TxURL(c.cfg.Chain.Explorer, rcpt.TxHash)
	c.set(func() { c.txStatus = "Transaction sent, awaiting confirmation..." })

	start := time.Now()
	if err := pending.Wait(ctx); err != nil {
		return rcpt, c.fail(ctx, account, rcpt, err)
	}
	metrics.ConfirmLatency.Observe(time.Since(start).Seconds())
	metrics.Purchases.WithLabelValues("ok").Inc()

	c.log.Info("purchase confirmed",
		zap.String("tx", rcpt.TxHash),
		zap.String("tokens", tokens.String()),
		zap.String("value_wei", wei.String()),
	)
	c.set(func() { c.txStatus, c.txURL = "Success! Transaction "+rcpt.TxHash, rcpt.TxURL })
	c.publish(ctx, account, rcpt, true, "")
	return rcpt, nil
}

func (c *Controller) fail(ctx context.Context, account string, rcpt Receipt, err error) error {
	reason := chain.Reason(err)
	metrics.Purchases.WithLabelValues("failed").Inc()
	c.log.Error("purchase failed", zap.String("tx", rcpt.TxHash), zap.String("reason", reason), zap.Error(err))
	c.set(func() { c.txStatus, c.txURL = "Error: "+reason, rcpt.TxURL })
	c.publish(ctx, account, rcpt, false, reason)
	return err
}

func (c *Controller) publish(ctx context.Context, account string, rcpt Receipt, ok bool, reason string) {
	if c.sink == nil {
		return
	}
	ev := PurchaseEvent{
		Account:  account,
		TxHash:   rcpt.TxHash,
		Tokens:   rcpt.Tokens.String(),
		ValueWei: rcpt.ValueWei.String(),
		OK:       ok,
		Reason:   reason,
		At:       time.Now().UTC(),
	}
	// ctx может быть уже просрочен, публикуем со своим коротким таймаутом
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.sink.PublishPurchase(pctx, ev); err != nil {
		c.log.Warn("publish purchase event", zap.Error(err))
	}
}
