package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/you/met-sale/internal/config"
	"go.uber.org/zap"
)

// Backend is the subset of *ethclient.Client the wallet uses.
type Backend interface {
	bind.DeployBackend
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Wallet talks to the sale contract. Without a key it is read-only.
type Wallet struct {
	b        Backend
	log      *zap.Logger
	contract common.Address
	chainID  *big.Int
	gasLimit uint64

	pk   *ecdsa.PrivateKey
	from common.Address
}

// Dial connects to the configured RPC and checks that it serves the
// configured chain. A mismatch stops the flow with ErrWrongNetwork.
func Dial(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Wallet, error) {
	contract, err := ValidateChecksum(cfg.Contract.Address)
	if err != nil {
		return nil, fmt.Errorf("contract address: %w", err)
	}

	ec, err := ethclient.DialContext(ctx, cfg.Chain.RPCHTTP)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	var pk *ecdsa.PrivateKey
	if s := strings.TrimSpace(cfg.Chain.WalletPK); s != "" {
		pk, err = crypto.HexToECDSA(strings.TrimPrefix(s, "0x"))
		if err != nil {
			ec.Close()
			return nil, fmt.Errorf("bad private key: %w", err)
		}
	}

	w, err := NewWallet(ctx, ec, contract, big.NewInt(cfg.Chain.ChainID), pk, cfg.Chain.GasLimitBuy, log)
	if err != nil {
		ec.Close()
		return nil, err
	}
	return w, nil
}

// NewWallet wraps an existing backend. pk may be nil.
func NewWallet(ctx context.Context, b Backend, contract common.Address, wantChainID *big.Int, pk *ecdsa.PrivateKey, gasLimit uint64, log *zap.Logger) (*Wallet, error) {
	got, err := b.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("get chain id: %w", err)
	}
	if got.Cmp(wantChainID) != 0 {
		return nil, fmt.Errorf("%w: rpc serves chain %s, need %s", ErrWrongNetwork, got, wantChainID)
	}

	w := &Wallet{
		b:        b,
		log:      log,
		contract: contract,
		chainID:  new(big.Int).Set(got),
		gasLimit: gasLimit,
		pk:       pk,
	}
	if pk != nil {
		w.from = crypto.PubkeyToAddress(pk.PublicKey)
	}
	return w, nil
}

func (w *Wallet) CanSign() bool           { return w.pk != nil }
func (w *Wallet) Address() common.Address { return w.from }

func (w *Wallet) TradingRate(ctx context.Context) (*big.Int, error) {
	input, err := packTradingRate()
	if err != nil {
		return nil, fmt.Errorf("pack tradingRate: %w", err)
	}
	res, err := w.b.CallContract(ctx, ethereum.CallMsg{To: &w.contract, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("call tradingRate: %w", err)
	}
	return unpackTradingRate(res)
}

// BuyTokens signs and broadcasts buyTokens() carrying value wei.
func (w *Wallet) BuyTokens(ctx context.Context, value *big.Int) (Pending, error) {
	if w.pk == nil {
		return nil, ErrNoSigner
	}
	input, err := PackBuyTokens()
	if err != nil {
		return nil, fmt.Errorf("pack buyTokens: %w", err)
	}

	msg := ethereum.CallMsg{From: w.from, To: &w.contract, Value: value, Data: input}
	signedTx, err := w.signTx(ctx, msg)
	if err != nil {
		return nil, err
	}
	if err := w.b.SendTransaction(ctx, signedTx); err != nil {
		return nil, fmt.Errorf("send transaction: %w", err)
	}
	w.log.Info("buyTokens sent",
		zap.String("tx", signedTx.Hash().Hex()),
		zap.String("value_wei", value.String()),
		zap.Uint64("nonce", signedTx.Nonce()),
	)
	return &pendingTx{w: w, tx: signedTx, msg: msg}, nil
}

func (w *Wallet) signTx(ctx context.Context, msg ethereum.CallMsg) (*types.Transaction, error) {
	nonce, err := w.b.PendingNonceAt(ctx, w.from)
	if err != nil {
		return nil, fmt.Errorf("get nonce: %w", err)
	}

	gas := w.gasLimit
	if gas == 0 {
		// EstimateGas заодно возвращает revert reason до отправки
		gas, err = w.b.EstimateGas(ctx, msg)
		if err != nil {
			return nil, fmt.Errorf("estimate gas: %w", err)
		}
	}

	header, err := w.b.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("get header: %w", err)
	}

	var tx *types.Transaction
	if header.BaseFee != nil {
		gasTipCap, err := w.b.SuggestGasTipCap(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas tip cap: %w", err)
		}
		gasFeeCap := new(big.Int).Add(
			new(big.Int).Mul(header.BaseFee, big.NewInt(2)),
			gasTipCap,
		)
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   w.chainID,
			Nonce:     nonce,
			GasTipCap: gasTipCap,
			GasFeeCap: gasFeeCap,
			Gas:       gas,
			To:        msg.To,
			Value:     msg.Value,
			Data:      msg.Data,
		})
	} else {
		// pre-London chains
		gasPrice, err := w.b.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("suggest gas price: %w", err)
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gas,
			To:       msg.To,
			Value:    msg.Value,
			Data:     msg.Data,
		})
	}

	signedTx, err := types.SignTx(tx, types.NewLondonSigner(w.chainID), w.pk)
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return signedTx, nil
}

type pendingTx struct {
	w   *Wallet
	tx  *types.Transaction
	msg ethereum.CallMsg
}

func (p *pendingTx) Hash() string { return p.tx.Hash().Hex() }

func (p *pendingTx) Wait(ctx context.Context) error {
	rcpt, err := bind.WaitMined(ctx, p.w.b, p.tx)
	if err != nil {
		return fmt.Errorf("wait mined: %w", err)
	}
	if rcpt.Status == types.ReceiptStatusSuccessful {
		return nil
	}

	// повторяем вызов на том же блоке, чтобы достать причину
	re := &RevertError{Hash: p.Hash()}
	if _, callErr := p.w.b.CallContract(ctx, p.msg, rcpt.BlockNumber); callErr != nil {
		re.Reason = Reason(callErr)
	}
	return re
}
