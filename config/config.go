package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"

	"github.com/michaelpento.lv/flasharb/types"
)

// Mainnet addresses
const (
	MainnetKyberProxy      = "0x818E6FECD516Ecc3849DAf6845e3EC868087B755"
	MainnetUniswapFactory  = "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"
	MainnetUniswapInitCode = "0x96e8ac4277198ff8b6f785478aa9a39f403cb768dd02cbee326c3e7da348845f"
	MainnetDydxSolo        = "0x1E0447b19BB6EcFdAe1e4AE1694b0C3659614e4e"
	MainnetDAI             = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	MainnetUSDT            = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
	MainnetWETH            = "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2"
)

type Config struct {
	// Chain and network settings
	ChainID      uint64 `json:"chain_id" yaml:"chain_id"`
	WSEndpoint   string `json:"ws_endpoint" yaml:"ws_endpoint"`
	FlashbotsRPC string `json:"flashbots_rpc" yaml:"flashbots_rpc"`
	UseFlashbots bool   `json:"use_flashbots" yaml:"use_flashbots"`

	// Evaluation settings. InputAmount is in whole stablecoin units and is
	// scaled to each stablecoin's minor units per pair.
	InputAmount          string        `json:"input_amount" yaml:"input_amount"`
	MinProfit            string        `json:"min_profit" yaml:"min_profit"`
	FallbackGasLimit     uint64        `json:"fallback_gas_limit" yaml:"fallback_gas_limit"`
	MaxGasPrice          string        `json:"max_gas_price" yaml:"max_gas_price"`
	PriceRefreshInterval Duration      `json:"price_refresh_interval" yaml:"price_refresh_interval"`
	DedupCacheSize       int           `json:"dedup_cache_size" yaml:"dedup_cache_size"`
	DryRun               bool          `json:"dry_run" yaml:"dry_run"`

	// Network settings
	NetworkTimeout   Duration `json:"network_timeout" yaml:"network_timeout"`
	ReconnectBackoff Duration `json:"reconnect_backoff" yaml:"reconnect_backoff"`
	MaxReconnects    int      `json:"max_reconnects" yaml:"max_reconnects"`

	RPCRateLimit RateLimitConfig `json:"rpc_rate_limit" yaml:"rpc_rate_limit"`

	// Venues and tokens
	Kyber     KyberConfig     `json:"kyber" yaml:"kyber"`
	Uniswap   UniswapConfig   `json:"uniswap" yaml:"uniswap"`
	FlashLoan FlashLoanConfig `json:"flash_loan" yaml:"flash_loan"`
	Native    TokenConfig     `json:"native" yaml:"native"`
	Stables   []TokenConfig   `json:"stables" yaml:"stables"`

	// ReferenceStable is the symbol of the stablecoin the reference price
	// is quoted in
	ReferenceStable string `json:"reference_stable" yaml:"reference_stable"`

	// Telemetry and monitoring
	Telemetry          TelemetryConfig `json:"telemetry" yaml:"telemetry"`
	PrometheusEnabled  bool            `json:"prometheus_enabled" yaml:"prometheus_enabled"`
	PrometheusEndpoint string          `json:"prometheus_endpoint" yaml:"prometheus_endpoint"`
}

type TokenConfig struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Address  string `json:"address" yaml:"address"`
	Decimals uint8  `json:"decimals" yaml:"decimals"`
}

type KyberConfig struct {
	Proxy string `json:"proxy" yaml:"proxy"`
}

type UniswapConfig struct {
	Factory      string `json:"factory" yaml:"factory"`
	InitCodeHash string `json:"init_code_hash" yaml:"init_code_hash"`
}

type FlashLoanConfig struct {
	// Contract is the deployed borrow-swap-repay contract
	Contract string `json:"contract" yaml:"contract"`
	// Solo is the dYdX solo margin pool the contract borrows from
	Solo string `json:"solo" yaml:"solo"`
	// ExecutePairs lists the stablecoin symbols that may trigger executions;
	// the remaining pairs are observed only
	ExecutePairs []string `json:"execute_pairs" yaml:"execute_pairs"`
}

type TelemetryConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	URL        string   `json:"url" yaml:"url"`
	BufferSize int      `json:"buffer_size" yaml:"buffer_size"`
	Timeout    Duration `json:"timeout" yaml:"timeout"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64  `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int      `json:"burst_size" yaml:"burst_size"`
	WaitTimeout       Duration `json:"wait_timeout" yaml:"wait_timeout"`
}

type SecureConfig struct {
	PrivateKey   string
	FlashbotsKey string
}

func (c *Config) ValidateConfig() error {
	var errors []string

	if c.ChainID == 0 {
		errors = append(errors, "chain_id must be specified")
	}
	if c.WSEndpoint == "" {
		errors = append(errors, "ws_endpoint must be specified")
	}

	if amount, err := c.InputAmountUnits(); err != nil {
		errors = append(errors, err.Error())
	} else if amount.Sign() <= 0 {
		errors = append(errors, "input_amount must be positive")
	}
	if _, err := c.MinProfitAmount(); err != nil {
		errors = append(errors, err.Error())
	}
	if _, err := c.MaxGasPriceWei(); err != nil {
		errors = append(errors, err.Error())
	}
	if c.PriceRefreshInterval <= 0 {
		errors = append(errors, "price_refresh_interval must be positive")
	}
	if c.DedupCacheSize <= 0 {
		errors = append(errors, "dedup_cache_size must be positive")
	}

	if !common.IsHexAddress(c.Kyber.Proxy) {
		errors = append(errors, "kyber.proxy must be a hex address")
	}
	if !common.IsHexAddress(c.Uniswap.Factory) {
		errors = append(errors, "uniswap.factory must be a hex address")
	}
	if err := c.Native.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("native token error: %v", err))
	}
	if len(c.Stables) == 0 {
		errors = append(errors, "at least one stablecoin must be configured")
	}
	for _, s := range c.Stables {
		if err := s.Validate(); err != nil {
			errors = append(errors, fmt.Sprintf("stablecoin %s error: %v", s.Symbol, err))
		}
	}
	if _, ok := c.findStable(c.ReferenceStable); !ok {
		errors = append(errors, fmt.Sprintf("reference_stable %q is not a configured stablecoin", c.ReferenceStable))
	}

	if !c.DryRun {
		if !common.IsHexAddress(c.FlashLoan.Contract) {
			errors = append(errors, "flash_loan.contract must be a hex address")
		}
		if !common.IsHexAddress(c.FlashLoan.Solo) {
			errors = append(errors, "flash_loan.solo must be a hex address")
		}
	}
	for _, symbol := range c.FlashLoan.ExecutePairs {
		if _, ok := c.findStable(symbol); !ok {
			errors = append(errors, fmt.Sprintf("flash_loan.execute_pairs: unknown stablecoin %q", symbol))
		}
	}

	if err := c.RPCRateLimit.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("RPC rate limit error: %v", err))
	}
	if err := c.Telemetry.Validate(); err != nil {
		errors = append(errors, fmt.Sprintf("telemetry error: %v", err))
	}
	if c.UseFlashbots && c.FlashbotsRPC == "" {
		errors = append(errors, "flashbots_rpc must be specified when use_flashbots is set")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

func (t *TokenConfig) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("symbol must be specified")
	}
	if !common.IsHexAddress(t.Address) {
		return fmt.Errorf("address must be a hex address")
	}
	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	if r.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive")
	}

	return nil
}

func (t *TelemetryConfig) Validate() error {
	if !t.Enabled {
		return nil
	}
	if t.URL == "" {
		return fmt.Errorf("url must be specified when telemetry is enabled")
	}
	if t.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// ToToken converts the token config into a domain token
func (t TokenConfig) ToToken() types.Token {
	return types.Token{
		Symbol:   t.Symbol,
		Address:  common.HexToAddress(t.Address),
		Decimals: t.Decimals,
	}
}

// InputAmountUnits parses the whole-unit input amount
func (c *Config) InputAmountUnits() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(c.InputAmount, 10)
	if !ok {
		return nil, fmt.Errorf("input_amount %q is not an integer", c.InputAmount)
	}
	return amount, nil
}

// MinProfitAmount parses the minimum profit in reference stablecoin minor units
func (c *Config) MinProfitAmount() (*big.Int, error) {
	if c.MinProfit == "" {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(c.MinProfit, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("min_profit %q must be a non-negative integer", c.MinProfit)
	}
	return amount, nil
}

// MaxGasPriceWei parses the gas price cap. Nil means uncapped.
func (c *Config) MaxGasPriceWei() (*big.Int, error) {
	if c.MaxGasPrice == "" {
		return nil, nil
	}
	price, ok := new(big.Int).SetString(c.MaxGasPrice, 10)
	if !ok || price.Sign() < 0 {
		return nil, fmt.Errorf("max_gas_price %q must be a non-negative integer", c.MaxGasPrice)
	}
	return price, nil
}

// TokenPairs returns one stablecoin/native pair per configured stablecoin
func (c *Config) TokenPairs() []types.TokenPair {
	native := c.Native.ToToken()
	pairs := make([]types.TokenPair, 0, len(c.Stables))
	for _, s := range c.Stables {
		pairs = append(pairs, types.TokenPair{Stable: s.ToToken(), Native: native})
	}
	return pairs
}

// ReferenceToken returns the stablecoin the reference price is quoted in
func (c *Config) ReferenceToken() (types.Token, error) {
	s, ok := c.findStable(c.ReferenceStable)
	if !ok {
		return types.Token{}, fmt.Errorf("reference stablecoin %q not configured", c.ReferenceStable)
	}
	return s.ToToken(), nil
}

// ExecutablePairs reports which stablecoin symbols may trigger executions
func (c *Config) ExecutablePairs() map[string]bool {
	allowed := make(map[string]bool, len(c.FlashLoan.ExecutePairs))
	for _, symbol := range c.FlashLoan.ExecutePairs {
		allowed[strings.ToUpper(symbol)] = true
	}
	return allowed
}

func (c *Config) findStable(symbol string) (TokenConfig, bool) {
	for _, s := range c.Stables {
		if strings.EqualFold(s.Symbol, symbol) {
			return s, true
		}
	}
	return TokenConfig{}, false
}

// Override adjusts a loaded config before it is validated
type Override func(*Config)

// WithDryRun forces dry-run mode
func WithDryRun() Override {
	return func(c *Config) {
		c.DryRun = true
	}
}

// WithoutTelemetry disables the telemetry push
func WithoutTelemetry() Override {
	return func(c *Config) {
		c.Telemetry.Enabled = false
	}
}

// LoadConfig reads a JSON or YAML config file on top of DefaultConfig. The
// format is chosen by file extension. Environment overrides and then the
// given overrides are applied before validation.
func LoadConfig(cfgFile string, overrides ...Override) (*Config, error) {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".flasharb.json")
	}

	data, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	switch strings.ToLower(filepath.Ext(cfgFile)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	applyEnvOverrides(config)
	for _, override := range overrides {
		override(config)
	}

	if err := config.ValidateConfig(); err != nil {
		return nil, err
	}

	return config, nil
}

func LoadSecureConfig() (*SecureConfig, error) {
	privateKey, err := GetRequiredEnv(EnvPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("private key not found: %w", err)
	}

	return &SecureConfig{
		PrivateKey:   strings.TrimPrefix(privateKey, "0x"),
		FlashbotsKey: strings.TrimPrefix(os.Getenv(EnvFlashbotsKey), "0x"),
	}, nil
}

func DefaultConfig() *Config {
	return &Config{
		ChainID:              1,
		WSEndpoint:           "ws://localhost:8546",
		FlashbotsRPC:         "https://relay.flashbots.net",
		InputAmount:          "10000",
		MinProfit:            "0",
		FallbackGasLimit:     600000,
		PriceRefreshInterval: Duration(15 * time.Second),
		DedupCacheSize:       256,
		NetworkTimeout:       Duration(5 * time.Second),
		ReconnectBackoff:     Duration(time.Second),
		MaxReconnects:        10,
		RPCRateLimit: RateLimitConfig{
			RequestsPerSecond: 25,
			BurstSize:         16,
			WaitTimeout:       Duration(2 * time.Second),
		},
		Kyber: KyberConfig{
			Proxy: MainnetKyberProxy,
		},
		Uniswap: UniswapConfig{
			Factory:      MainnetUniswapFactory,
			InitCodeHash: MainnetUniswapInitCode,
		},
		FlashLoan: FlashLoanConfig{
			Solo:         MainnetDydxSolo,
			ExecutePairs: []string{"DAI"},
		},
		Native: TokenConfig{Symbol: "WETH", Address: MainnetWETH, Decimals: 18},
		Stables: []TokenConfig{
			{Symbol: "DAI", Address: MainnetDAI, Decimals: 18},
			{Symbol: "USDT", Address: MainnetUSDT, Decimals: 6},
		},
		ReferenceStable: "DAI",
		Telemetry: TelemetryConfig{
			Enabled:    false,
			URL:        "https://groker.init.st/api/events",
			BufferSize: 64,
			Timeout:    Duration(5 * time.Second),
		},
		PrometheusEnabled:  false,
		PrometheusEndpoint: ":9090",
	}
}
