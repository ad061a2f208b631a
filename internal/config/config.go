package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port      int    `yaml:"port"`
		ViewsDir  string `yaml:"views_dir"`
		PublicDir string `yaml:"public_dir"`
		ItemsDir  string `yaml:"items_dir"`
	} `yaml:"server"`

	Chain struct {
		Network        string `yaml:"network"`
		ChainID        int64  `yaml:"chain_id"`
		ChainName      string `yaml:"chain_name"`
		RPCHTTP        string `yaml:"rpc_http"`
		Explorer       string `yaml:"explorer"`
		NativeSymbol   string `yaml:"native_symbol"`
		NativeDecimals int32  `yaml:"native_decimals"`
		WalletPK       string `yaml:"wallet_pk"`
		GasLimitBuy    uint64 `yaml:"gas_limit_buy"`
	} `yaml:"chain"`

	Contract struct {
		Address     string `yaml:"address"`
		TokenSymbol string `yaml:"token_symbol"`
	} `yaml:"contract"`

	PriceFeed struct {
		BaseURL    string `yaml:"base_url"`
		CoinID     string `yaml:"coin_id"`
		VsCurrency string `yaml:"vs_currency"`
		APIKey     string `yaml:"api_key"`
		Pro        bool   `yaml:"pro"`
	} `yaml:"pricefeed"`

	Refresh struct {
		IntervalMs int `yaml:"interval_ms"`
	} `yaml:"refresh"`

	Sale struct {
		MaxNative   string `yaml:"max_native"`
		TxTimeoutMs int    `yaml:"tx_timeout_ms"`
	} `yaml:"sale"`

	Metrics struct {
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"metrics"`

	Redis struct {
		Addr     string `yaml:"addr"`
		DB       int    `yaml:"db"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		StateKey string `yaml:"state_key"`
		Stream   string `yaml:"stream"`
	} `yaml:"redis"`

	Log struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"log"`
}

// Error описывает невалидное поле конфига.
type Error struct {
	Field string
	Err   error
}

func (e *Error) Error() string { return "config error [" + e.Field + "]: " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

var ErrMissing = errors.New("value is required")

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse decodes YAML, applies env overrides and defaults, then validates.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	c.applyEnv()
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("PORT"); ok {
		if p, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			c.Server.Port = p
		}
	}
	if v, ok := os.LookupEnv("SALE_WALLET_PK"); ok && v != "" {
		c.Chain.WalletPK = v
	}
	if v, ok := os.LookupEnv("COINGECKO_API_KEY"); ok && v != "" {
		c.PriceFeed.APIKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.ViewsDir == "" {
		c.Server.ViewsDir = "./views"
	}
	if c.Server.PublicDir == "" {
		c.Server.PublicDir = "./public"
	}
	if c.Server.ItemsDir == "" {
		c.Server.ItemsDir = "./items"
	}
	if c.Chain.ChainID == 0 {
		c.Chain.ChainID = 56
	}
	if c.Chain.ChainName == "" {
		c.Chain.ChainName = "Binance Smart Chain"
	}
	if c.Chain.RPCHTTP == "" {
		c.Chain.RPCHTTP = "https://bsc-dataseed.binance.org/"
	}
	if c.Chain.Explorer == "" {
		c.Chain.Explorer = "https://bscscan.com"
	}
	if c.Chain.NativeSymbol == "" {
		c.Chain.NativeSymbol = "BNB"
	}
	if c.Chain.NativeDecimals == 0 {
		c.Chain.NativeDecimals = 18
	}
	if c.Contract.TokenSymbol == "" {
		c.Contract.TokenSymbol = "MET"
	}
	if c.PriceFeed.BaseURL == "" {
		c.PriceFeed.BaseURL = "https://api.coingecko.com/api/v3"
	}
	if c.PriceFeed.CoinID == "" {
		c.PriceFeed.CoinID = "binancecoin"
	}
	if c.PriceFeed.VsCurrency == "" {
		c.PriceFeed.VsCurrency = "usd"
	}
	if c.Refresh.IntervalMs == 0 {
		c.Refresh.IntervalMs = 30_000
	}
	if c.Sale.TxTimeoutMs == 0 {
		c.Sale.TxTimeoutMs = 180_000
	}
	if c.Redis.StateKey == "" {
		c.Redis.StateKey = "sale:state"
	}
	if c.Redis.Stream == "" {
		c.Redis.Stream = "sale:purchases"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Contract.Address) == "" {
		return &Error{Field: "contract.address", Err: ErrMissing}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return &Error{Field: "server.port", Err: fmt.Errorf("out of range: %d", c.Server.Port)}
	}
	if c.Refresh.IntervalMs < 0 {
		return &Error{Field: "refresh.interval_ms", Err: fmt.Errorf("negative: %d", c.Refresh.IntervalMs)}
	}
	if c.Sale.TxTimeoutMs < 0 {
		return &Error{Field: "sale.tx_timeout_ms", Err: fmt.Errorf("negative: %d", c.Sale.TxTimeoutMs)}
	}
	if c.Chain.NativeDecimals < 0 || c.Chain.NativeDecimals > 36 {
		return &Error{Field: "chain.native_decimals", Err: fmt.Errorf("out of range: %d", c.Chain.NativeDecimals)}
	}
	return nil
}

func (c *Config) ListenAddr() string { return ":" + strconv.Itoa(c.Server.Port) }

func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Refresh.IntervalMs) * time.Millisecond
}
func (c *Config) TxTimeout() time.Duration {
	return time.Duration(c.Sale.TxTimeoutMs) * time.Millisecond
}

// ChainIDHex returns the chain id in the 0x-prefixed form wallets expect.
func (c *Config) ChainIDHex() string { return "0x" + strconv.FormatInt(c.Chain.ChainID, 16) }
