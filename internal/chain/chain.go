package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Minimal ABI of the sale contract: one view and one payable call.
const saleABIJSON = `[
  {"inputs":[],"name":"buyTokens","outputs":[],"stateMutability":"payable","type":"function"},
  {"inputs":[],"name":"tradingRate","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var saleABI = mustABI(saleABIJSON)

func mustABI(s string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("bad sale abi: %v", err))
	}
	return a
}

var (
	ErrWrongNetwork = errors.New("wrong network")
	ErrNoSigner     = errors.New("no signer configured")
	ErrReverted     = errors.New("transaction reverted")
)

// Contract is what the sale flow needs from the chain.
type Contract interface {
	TradingRate(ctx context.Context) (*big.Int, error)
	BuyTokens(ctx context.Context, value *big.Int) (Pending, error)
}

// Pending is a broadcast transaction whose outcome is not known yet.
type Pending interface {
	Hash() string
	Wait(ctx context.Context) error
}

// RevertError: транзакция попала в блок, но статус receipt = 0.
type RevertError struct {
	Hash   string
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("tx %s reverted", e.Hash)
	}
	return fmt.Sprintf("tx %s reverted: %s", e.Hash, e.Reason)
}

func (e *RevertError) Unwrap() error { return ErrReverted }

// PackBuyTokens returns calldata for buyTokens().
func PackBuyTokens() ([]byte, error) {
	return saleABI.Pack("buyTokens")
}

func packTradingRate() ([]byte, error) {
	return saleABI.Pack("tradingRate")
}

func unpackTradingRate(res []byte) (*big.Int, error) {
	outs, err := saleABI.Methods["tradingRate"].Outputs.Unpack(res)
	if err != nil || len(outs) == 0 {
		if err == nil {
			err = fmt.Errorf("empty tradingRate output")
		}
		return nil, fmt.Errorf("decode tradingRate: %w", err)
	}
	v, ok := outs[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected tradingRate type %T", outs[0])
	}
	return v, nil
}

// ShortAddress renders 0x1234...abcd for status lines.
func ShortAddress(a common.Address) string {
	h := a.Hex()
	return h[:6] + "..." + h[len(h)-4:]
}

// TxURL links a transaction on the block explorer.
func TxURL(explorer, hash string) string {
	if explorer == "" {
		return hash
	}
	return strings.TrimRight(explorer, "/") + "/tx/" + hash
}
