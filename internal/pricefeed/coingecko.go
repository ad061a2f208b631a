// Package pricefeed reads the fiat price of the native currency from CoinGecko.
package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/you/met-sale/internal/config"
	"go.uber.org/zap"
)

var ErrNoPrice = errors.New("price missing in response")

// HTTPError is any non-200 answer from the API.
type HTTPError struct {
	Status      int
	URL         string
	Body        string
	RateLimited bool
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d %s: %s", e.Status, e.URL, e.Body)
}

func newHTTPError(resp *http.Response, body []byte) *HTTPError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 240 {
		msg = msg[:240] + "…"
	}
	u := ""
	if resp.Request != nil && resp.Request.URL != nil {
		u = resp.Request.URL.Redacted()
	}
	return &HTTPError{
		Status:      resp.StatusCode,
		URL:         u,
		Body:        msg,
		RateLimited: resp.StatusCode == http.StatusTooManyRequests || strings.Contains(strings.ToLower(msg), "throttled"),
	}
}

type Client struct {
	base   string
	coinID string
	vs     string
	apiKey string
	pro    bool
	cli    *http.Client
	log    *zap.Logger
}

func New(cfg *config.Config, log *zap.Logger) *Client {
	return &Client{
		base:   strings.TrimRight(cfg.PriceFeed.BaseURL, "/"),
		coinID: cfg.PriceFeed.CoinID,
		vs:     cfg.PriceFeed.VsCurrency,
		apiKey: cfg.PriceFeed.APIKey,
		pro:    cfg.PriceFeed.Pro,
		cli:    &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
}

// WithHTTPClient swaps the transport, mostly for tests.
func (c *Client) WithHTTPClient(cli *http.Client) *Client {
	c.cli = cli
	return c
}

// NativePrice performs one GET of /simple/price. There is no retry: a
// failure leaves the caller's previous value in place.
func (c *Client) NativePrice(ctx context.Context) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", c.coinID)
	q.Set("vs_currencies", c.vs)

	req, err := c.makeReq(ctx, "/simple/price?"+q.Encode())
	if err != nil {
		return decimal.Zero, err
	}

	// {"binancecoin":{"usd":612.34}}
	var body map[string]map[string]decimal.Decimal
	if err := doJSON(c.cli, req, &body); err != nil {
		c.log.Warn("coingecko price fetch failed", zap.String("coin", c.coinID), zap.Error(err))
		return decimal.Zero, fmt.Errorf("coingecko simple price: %w", err)
	}

	px, ok := body[c.coinID][c.vs]
	if !ok || px.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s/%s", ErrNoPrice, c.coinID, c.vs)
	}
	c.log.Debug("coingecko price", zap.String("coin", c.coinID), zap.String(c.vs, px.String()))
	return px, nil
}

func (c *Client) makeReq(ctx context.Context, pathAndQuery string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+pathAndQuery, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		if c.pro {
			req.Header.Set("x-cg-pro-api-key", c.apiKey)
		} else {
			req.Header.Set("x-cg-demo-api-key", c.apiKey)
		}
	}
	return req, nil
}

func doJSON[T any](cli *http.Client, req *http.Request, v *T) error {
	resp, err := cli.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return newHTTPError(resp, b)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
