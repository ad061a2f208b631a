package sale

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/met-sale/internal/chain"
	"github.com/you/met-sale/internal/config"
	"github.com/you/met-sale/internal/quote"
	"github.com/you/met-sale/internal/risk"
	"go.uber.org/zap"
)

var testAccount = common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")

type mockPending struct {
	hash    string
	release chan error
}

func (p *mockPending) Hash() string { return p.hash }
func (p *mockPending) Wait(ctx context.Context) error {
	select {
	case err := <-p.release:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

type mockContract struct {
	mu      sync.Mutex
	rate    *big.Int
	rateErr error
	buyErr  error
	pending *mockPending
	calls   []*big.Int
}

func (m *mockContract) TradingRate(context.Context) (*big.Int, error) {
	if m.rateErr != nil {
		return nil, m.rateErr
	}
	return m.rate, nil
}

func (m *mockContract) BuyTokens(_ context.Context, value *big.Int) (chain.Pending, error) {
	m.mu.Lock()
	m.calls = append(m.calls, value)
	m.mu.Unlock()
	if m.buyErr != nil {
		return nil, m.buyErr
	}
	return m.pending, nil
}

func (m *mockContract) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type mockPrices struct {
	px  decimal.Decimal
	err error
}

func (m mockPrices) NativePrice(context.Context) (decimal.Decimal, error) { return m.px, m.err }

type recordingSink struct {
	mu     sync.Mutex
	events []PurchaseEvent
	snaps  []Snapshot
}

func (s *recordingSink) PublishSnapshot(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	s.snaps = append(s.snaps, snap)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) PublishPurchase(_ context.Context, e PurchaseEvent) error {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Chain.ChainName = "Binance Smart Chain"
	cfg.Chain.NativeSymbol = "BNB"
	cfg.Chain.NativeDecimals = 18
	cfg.Chain.Explorer = "https://bscscan.com"
	cfg.Contract.TokenSymbol = "MET"
	cfg.Sale.TxTimeoutMs = 5000
	return cfg
}

func connectWith(m *mockContract) Connector {
	return func(context.Context) (chain.Contract, common.Address, error) {
		return m, testAccount, nil
	}
}

func newConnected(t *testing.T, m *mockContract, sink Sink) *Controller {
	t.Helper()
	c := NewController(newTestConfig(), mockPrices{px: decimal.RequireFromString("600")}, nil, sink, zap.NewNop())
	require.NoError(t, c.Connect(context.Background(), connectWith(m)))
	return c
}

func TestConnect_LoadsRate(t *testing.T) {
	m := &mockContract{rate: big.NewInt(1000)}
	c := newConnected(t, m, nil)

	st := c.State()
	assert.True(t, st.Connected)
	assert.Equal(t, "Connected: 0x5aAe...eAed", st.WalletStatus)
	assert.Equal(t, "Contract Rate: 1 BNB = 1000 MET", st.APIStatus)
	assert.True(t, decimal.NewFromInt(1000).Equal(st.Rate))
}

func TestConnect_WrongNetwork(t *testing.T) {
	c := NewController(newTestConfig(), nil, nil, nil, zap.NewNop())
	err := c.Connect(context.Background(), func(context.Context) (chain.Contract, common.Address, error) {
		return nil, common.Address{}, chain.ErrWrongNetwork
	})
	assert.ErrorIs(t, err, chain.ErrWrongNetwork)

	st := c.State()
	assert.False(t, st.Connected)
	assert.Equal(t, "Wrong network. Please switch to Binance Smart Chain.", st.WalletStatus)
}

func TestConnect_RateErrorKeepsConnection(t *testing.T) {
	m := &mockContract{rateErr: errors.New("rpc down")}
	c := newConnected(t, m, nil)

	st := c.State()
	assert.True(t, st.Connected)
	assert.True(t, st.Rate.IsZero())
	assert.Equal(t, "Error fetching contract data.", st.APIStatus)
}

func TestRefreshPrice_FailureKeepsPrevious(t *testing.T) {
	c := NewController(newTestConfig(), mockPrices{px: decimal.RequireFromString("600")}, nil, nil, zap.NewNop())
	require.NoError(t, c.RefreshPrice(context.Background()))
	assert.True(t, c.State().Ready)

	c.prices = mockPrices{err: errors.New("http 500")}
	assert.Error(t, c.RefreshPrice(context.Background()))

	st := c.State()
	assert.Equal(t, "600", st.Price.String())
	assert.Equal(t, "Could not load live prices.", st.APIStatus)
}

func TestRefreshPrice_500LeavesFiatSuppressed(t *testing.T) {
	m := &mockContract{rate: big.NewInt(1000)}
	c := NewController(newTestConfig(), mockPrices{err: errors.New("http 500")}, nil, nil, zap.NewNop())
	require.NoError(t, c.Connect(context.Background(), connectWith(m)))

	assert.Error(t, c.RefreshPrice(context.Background()))
	q := c.Recalculate("50")
	assert.True(t, q.OK)
	assert.False(t, q.FiatOK)
	assert.False(t, c.State().Ready)
}

func TestRecalculate_NoRateLeavesDisplay(t *testing.T) {
	c := NewController(newTestConfig(), nil, nil, nil, zap.NewNop())
	for _, in := range []string{"", "1", "50", "-5", "abc"} {
		q := c.Recalculate(in)
		assert.False(t, q.OK, "input %q", in)
	}
	assert.Equal(t, quote.Quote{}, c.State().Quote)
}

func TestRecalculate_Updates(t *testing.T) {
	m := &mockContract{rate: big.NewInt(1000)}
	c := newConnected(t, m, nil)
	require.NoError(t, c.RefreshPrice(context.Background()))

	q := c.Recalculate("50")
	require.True(t, q.OK)
	assert.Equal(t, "0.050000", q.NativeText())
	assert.Equal(t, "30.00", q.FiatText())

	// invalid input is zero, not an error
	q = c.Recalculate("oops")
	assert.True(t, q.OK)
	assert.Equal(t, "0.000000", q.NativeText())
}

func TestRecalculate_TypedBeforeDataArrives(t *testing.T) {
	m := &mockContract{rate: big.NewInt(1000)}
	c := NewController(newTestConfig(), mockPrices{px: decimal.RequireFromString("600")}, nil, nil, zap.NewNop())

	q := c.Recalculate("50")
	assert.False(t, q.OK)

	require.NoError(t, c.Connect(context.Background(), connectWith(m)))
	st := c.State()
	require.True(t, st.Quote.OK)
	assert.False(t, st.Quote.FiatOK)
	assert.Equal(t, "0.050000", st.Quote.NativeText())

	require.NoError(t, c.RefreshPrice(context.Background()))
	st = c.State()
	assert.True(t, st.Quote.OK)
	assert.True(t, st.Quote.FiatOK)
	assert.Equal(t, "30.00", st.Quote.FiatText())
}

func TestRefreshRate_RecomputesQuote(t *testing.T) {
	m := &mockContract{rate: big.NewInt(1000)}
	c := newConnected(t, m, nil)
	c.Recalculate("50")
	assert.Equal(t, "0.050000", c.State().Quote.NativeText())

	m.rate = big.NewInt(500)
	require.NoError(t, c.RefreshRate(context.Background()))
	assert.Equal(t, "0.100000", c.State().Quote.NativeText())
}

func TestPurchase_RejectsWithoutCall(t *testing.T) {
	m := &mockContract{rate: big.NewInt(1000)}
	c := newConnected(t, m, nil)

	for _, in := range []string{"", "  ", "-5", "0", "abc", "0.0000000000000000001"} {
		_, err := c.Purchase(context.Background(), in)
		assert.Error(t, err, "input %q", in)
		assert.False(t, c.Busy())
	}
	assert.Equal(t, 0, m.callCount())
	assert.Equal(t, "Too many decimal places (max 18).", c.State().TxStatus)

	_, err := c.Purchase(context.Background(), "-5")
	assert.ErrorIs(t, err, quote.ErrInvalidAmount)
	assert.Equal(t, "Please enter a valid MET amount.", c.State().TxStatus)
}

func TestPurchase_NotConnected(t *testing.T) {
	c := NewController(newTestConfig(), nil, nil, nil, zap.NewNop())
	_, err := c.Purchase(context.Background(), "50")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, "Please connect your wallet first.", c.State().TxStatus)
}

func TestPurchase_RateUnknown(t *testing.T) {
	m := &mockContract{rate: big.NewInt(0)}
	c := newConnected(t, m, nil)

	_, err := c.Purchase(context.Background(), "50")
	assert.ErrorIs(t, err, ErrRateUnknown)
	assert.Equal(t, 0, m.callCount())
}

func TestPurchase_AboveLimit(t *testing.T) {
	m := &mockContract{rate: big.NewInt(1000)}
	cfg := newTestConfig()
	cfg.Sale.MaxNative = "0.01"
	eng, err := risk.NewEngine(cfg)
	require.NoError(t, err)

	c := NewController(cfg, nil, eng, nil, zap.NewNop())
	require.NoError(t, c.Connect(context.Background(), connectWith(m)))

	_, err = c.Purchase(context.Background(), "50") // 0.05 BNB
	assert.ErrorIs(t, err, risk.ErrAboveLimit)
	assert.Equal(t, 0, m.callCount())
	assert.False(t, c.Busy())
}

func waitBusy(t *testing.T, c *Controller, want bool) {
	t.Helper()
	require.Eventually(t, func() bool { return c.Busy() == want }, time.Second, 5*time.Millisecond)
}

func TestPurchase_SuccessReleasesBusy(t *testing.T) {
	p := &mockPending{hash: "0xabc", release: make(chan error)}
	m := &mockContract{rate: big.NewInt(1000), pending: p}
	sink := &recordingSink{}
	c := newConnected(t, m, sink)

	type result struct {
		r   Receipt
		err error
	}
	done := make(chan result, 1)
	go func() {
		r, err := c.Purchase(context.Background(), "50")
		done <- result{r, err}
	}()

	waitBusy(t, c, true)
	require.Eventually(t, func() bool {
		return c.State().TxStatus == "Transaction sent, awaiting confirmation..."
	}, time.Second, 5*time.Millisecond)
	assert.True(t, c.State().Busy)

	// second submission while in flight is refused
	_, err := c.Purchase(context.Background(), "1")
	assert.ErrorIs(t, err, ErrBusy)

	p.release <- nil
	res := <-done
	require.NoError(t, res.err)
	assert.False(t, c.Busy())

	assert.Equal(t, "50000000000000000", res.r.ValueWei.String())
	assert.Equal(t, "0.05", res.r.Native.String())
	assert.Equal(t, "https://bscscan.com/tx/0xabc", res.r.TxURL)
	require.Equal(t, 1, m.callCount())

	st := c.State()
	assert.Equal(t, "Success! Transaction 0xabc", st.TxStatus)
	assert.Equal(t, "https://bscscan.com/tx/0xabc", st.TxURL)

	require.Len(t, sink.events, 1)
	assert.True(t, sink.events[0].OK)
	assert.Equal(t, testAccount.Hex(), sink.events[0].Account)
}

func TestPurchase_FailureReleasesBusy(t *testing.T) {
	p := &mockPending{hash: "0xdef", release: make(chan error)}
	m := &mockContract{rate: big.NewInt(1000), pending: p}
	sink := &recordingSink{}
	c := newConnected(t, m, sink)

	done := make(chan error, 1)
	go func() {
		_, err := c.Purchase(context.Background(), "50")
		done <- err
	}()

	waitBusy(t, c, true)
	p.release <- &chain.RevertError{Hash: "0xdef", Reason: "sale paused"}

	err := <-done
	assert.ErrorIs(t, err, chain.ErrReverted)
	assert.False(t, c.Busy())
	assert.Equal(t, "Error: sale paused", c.State().TxStatus)

	require.Len(t, sink.events, 1)
	assert.False(t, sink.events[0].OK)
	assert.Equal(t, "sale paused", sink.events[0].Reason)
}

func TestPurchase_SendErrorReleasesBusy(t *testing.T) {
	m := &mockContract{rate: big.NewInt(1000), buyErr: errors.New("estimate gas: execution reverted: not started")}
	c := newConnected(t, m, nil)

	_, err := c.Purchase(context.Background(), "50")
	require.Error(t, err)
	assert.False(t, c.Busy())
	assert.Equal(t, "Error: not started", c.State().TxStatus)
}

func TestPurchase_TimeoutReleasesBusy(t *testing.T) {
	p := &mockPending{hash: "0x1", release: make(chan error)}
	m := &mockContract{rate: big.NewInt(1000), pending: p}
	c := newConnected(t, m, nil)
	c.cfg.Sale.TxTimeoutMs = 30

	_, err := c.Purchase(context.Background(), "50")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, c.Busy())
	assert.Equal(t, "Error: Timed out waiting for the network.", c.State().TxStatus)
}

func TestChangedIsCoalesced(t *testing.T) {
	c := NewController(newTestConfig(), mockPrices{px: decimal.NewFromInt(1)}, nil, nil, zap.NewNop())
	require.NoError(t, c.RefreshPrice(context.Background()))
	require.NoError(t, c.RefreshPrice(context.Background()))

	select {
	case <-c.Changed():
	default:
		t.Fatal("expected a change notification")
	}
	select {
	case <-c.Changed():
		t.Fatal("notifications should coalesce")
	default:
	}
}
