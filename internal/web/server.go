package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/you/met-sale/internal/chain"
	"github.com/you/met-sale/internal/config"
	"github.com/you/met-sale/internal/metrics"
	"github.com/you/met-sale/internal/quote"
	"github.com/you/met-sale/internal/risk"
	"github.com/you/met-sale/internal/sale"
	"go.uber.org/zap"
)

// Source is what the page reads; *sale.Refresher implements it.
type Source interface {
	Snapshot() sale.Snapshot
	Quote(amountText string) quote.Quote
	Subscribe() (<-chan sale.Snapshot, func())
}

type Server struct {
	cfg    *config.Config
	log    *zap.Logger
	src    Source
	limits sale.Limiter

	upgrader websocket.Upgrader
}

func New(cfg *config.Config, src Source, limits sale.Limiter, log *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		log:    log,
		src:    src,
		limits: limits,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	index := filepath.Join(s.cfg.Server.ViewsDir, "buy-met.html")
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFile(w, r, index)
	})
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.Server.PublicDir))))
	mux.Handle("GET /items/", http.StripPrefix("/items/", http.FileServer(http.Dir(s.cfg.Server.ItemsDir))))

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("GET /api/quote", s.handleQuote)
	mux.HandleFunc("POST /api/purchase/prepare", s.handlePrepare)
	mux.HandleFunc("GET /ws", s.handleWS)

	return withCORS(mux)
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("server running", zap.String("url", "http://localhost"+srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type stateResp struct {
	sale.Snapshot
	Contract     string `json:"contract"`
	ChainID      string `json:"chainId"`
	ChainName    string `json:"chainName"`
	RPCURL       string `json:"rpcUrl"`
	Explorer     string `json:"explorer"`
	NativeSymbol string `json:"nativeSymbol"`
	TokenSymbol  string `json:"tokenSymbol"`
	Decimals     int32  `json:"decimals"`
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, stateResp{
		Snapshot:     s.src.Snapshot(),
		Contract:     s.cfg.Contract.Address,
		ChainID:      s.cfg.ChainIDHex(),
		ChainName:    s.cfg.Chain.ChainName,
		RPCURL:       s.cfg.Chain.RPCHTTP,
		Explorer:     s.cfg.Chain.Explorer,
		NativeSymbol: s.cfg.Chain.NativeSymbol,
		TokenSymbol:  s.cfg.Contract.TokenSymbol,
		Decimals:     s.cfg.Chain.NativeDecimals,
	})
}

type quoteResp struct {
	OK     bool   `json:"ok"`
	Tokens string `json:"tokens,omitempty"`
	Native string `json:"native,omitempty"`
	FiatOK bool   `json:"fiatOk"`
	Fiat   string `json:"fiat,omitempty"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	metrics.QuoteRequests.Inc()
	q := s.src.Quote(r.URL.Query().Get("amount"))
	if !q.OK {
		writeJSON(w, http.StatusOK, quoteResp{})
		return
	}
	resp := quoteResp{OK: true, Tokens: q.TokensText(), Native: q.NativeText(), FiatOK: q.FiatOK}
	if q.FiatOK {
		resp.Fiat = q.FiatText()
	}
	writeJSON(w, http.StatusOK, resp)
}

type prepareReq struct {
	Amount string `json:"amount"`
}

// prepareResp is an unsigned eth_sendTransaction payload for the page's wallet.
type prepareResp struct {
	To      string `json:"to"`
	Value   string `json:"value"`
	Data    string `json:"data"`
	ChainID string `json:"chainId"`
	Native  string `json:"native"`
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req prepareReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request body")
		return
	}

	snap := s.src.Snapshot()
	if !snap.RateOK {
		writeError(w, http.StatusConflict, "Exchange rate not loaded yet.")
		return
	}

	decimals := s.cfg.Chain.NativeDecimals
	tokens, err := quote.ParseStrict(req.Amount, decimals)
	if err != nil {
		msg := "Please enter a valid " + s.cfg.Contract.TokenSymbol + " amount."
		if errors.Is(err, quote.ErrTooPrecise) {
			msg = "Too many decimal places."
		}
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	wei, err := quote.ToMinorUnits(tokens, snap.Rate, decimals)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	native := quote.FromMinor(wei, decimals)
	if s.limits != nil {
		if err := s.limits.AllowPurchase(native); err != nil {
			msg := err.Error()
			if errors.Is(err, risk.ErrAboveLimit) {
				msg = "Amount exceeds the per-purchase limit."
			}
			writeError(w, http.StatusBadRequest, msg)
			return
		}
	}

	data, err := chain.PackBuyTokens()
	if err != nil {
		s.log.Error("pack buyTokens", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, prepareResp{
		To:      s.cfg.Contract.Address,
		Value:   hexutil.EncodeBig(wei),
		Data:    hexutil.Encode(data),
		ChainID: s.cfg.ChainIDHex(),
		Native:  native.String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
