package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"arbScope/internal/model"
)

// ErrInvalid marks a missing or malformed configuration value.
var ErrInvalid = errors.New("invalid config")

// DefaultBalancerVault is the Balancer V2 vault address shared by most EVM chains.
const DefaultBalancerVault = "0xBA12222222228d8Ba445958a75a0704d566BF2C8"

// Config holds configuration values loaded from flags, env, .env, or config file.
type Config struct {
	RPCURL     string
	WSURL      string
	PrivateKey string
	ChainID    uint64

	Executor       string
	BalancerVault  string
	Quoter         string
	VeloRouter     string
	Routers        map[string]string
	UniswapFactory string
	VeloFactory    string

	LoanToken     string
	QuoteToken    string
	LoanDecimals  int
	QuoteDecimals int
	Pools         map[string]string

	MinLoan           float64
	MaxLoan           float64
	SearchIterations  int
	SearchConcurrency int
	DynamicCapPercent uint64
	PriceThreshold    float64

	GasBufferPercent        uint64
	MinGasLimit             uint64
	FallbackGasLimit        uint64
	FlashLoanFeeBps         uint64
	GasPriceGwei            float64
	MaxPriorityFeeGwei      float64
	FallbackPriorityFeeGwei float64
	MinProfitBufferBps      uint64
	MinProfitBufferWei      string

	RelayURLs []string

	FetchTimeout        time.Duration
	QuoteTimeout        time.Duration
	ReceiptTimeout      time.Duration
	RelayTimeout        time.Duration
	SubmitTimeout       time.Duration
	ReceiptPollInterval time.Duration
	NonceResyncInterval time.Duration

	DryRun            bool
	BatchSize         uint64
	DiscoveryLookback uint64
	Checkpoint        string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	HealthInterval    time.Duration
	DedupSize         int

	Out         string
	PGDSN       string
	RedisAddr   string
	RedisStream string
	MetricsAddr string
	LogLevel    string
}

// Load merges .env, config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	envFile := ".env"
	if flags != nil {
		if f := flags.Lookup("env-file"); f != nil && f.Value.String() != "" {
			envFile = f.Value.String()
		}
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("ARBBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("balancer-vault", DefaultBalancerVault)
	v.SetDefault("loan-decimals", -1)
	v.SetDefault("quote-decimals", -1)
	v.SetDefault("min-loan", 0.1)
	v.SetDefault("max-loan", 100.0)
	v.SetDefault("search-iterations", 10)
	v.SetDefault("search-concurrency", 4)
	v.SetDefault("dynamic-cap-percent", uint64(10))
	v.SetDefault("price-threshold", 0.001)
	v.SetDefault("gas-buffer-percent", uint64(20))
	v.SetDefault("min-gas-limit", uint64(200000))
	v.SetDefault("fallback-gas-limit", uint64(500000))
	v.SetDefault("flash-loan-fee-bps", uint64(0))
	v.SetDefault("max-priority-fee-gwei", 1.0)
	v.SetDefault("min-profit-buffer-bps", uint64(10))
	v.SetDefault("min-profit-buffer-wei", "5000000000000")
	v.SetDefault("fetch-timeout", 15*time.Second)
	v.SetDefault("quote-timeout", 10*time.Second)
	v.SetDefault("receipt-timeout", 60*time.Second)
	v.SetDefault("relay-timeout", 30*time.Second)
	v.SetDefault("submit-timeout", 180*time.Second)
	v.SetDefault("receipt-poll-interval", 2*time.Second)
	v.SetDefault("nonce-resync-interval", 5*time.Minute)
	v.SetDefault("batch-size", uint64(2000))
	v.SetDefault("discovery-lookback", uint64(5000))
	v.SetDefault("health-interval", time.Minute)
	v.SetDefault("dedup-size", 4096)
	v.SetDefault("checkpoint", "./data/checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("out", "./data/opportunities.jsonl")
	v.SetDefault("redis-stream", "arb:opportunities")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		RPCURL:     v.GetString("rpc"),
		WSURL:      v.GetString("ws-rpc"),
		PrivateKey: v.GetString("private-key"),
		ChainID:    v.GetUint64("chain-id"),

		Executor:       v.GetString("executor"),
		BalancerVault:  v.GetString("balancer-vault"),
		Quoter:         v.GetString("quoter"),
		VeloRouter:     v.GetString("velo-router"),
		Routers:        getStringMap(v, "routers"),
		UniswapFactory: v.GetString("uniswap-factory"),
		VeloFactory:    v.GetString("velo-factory"),

		LoanToken:     v.GetString("loan-token"),
		QuoteToken:    v.GetString("quote-token"),
		LoanDecimals:  v.GetInt("loan-decimals"),
		QuoteDecimals: v.GetInt("quote-decimals"),
		Pools:         getStringMap(v, "pool"),

		MinLoan:           v.GetFloat64("min-loan"),
		MaxLoan:           v.GetFloat64("max-loan"),
		SearchIterations:  v.GetInt("search-iterations"),
		SearchConcurrency: v.GetInt("search-concurrency"),
		DynamicCapPercent: v.GetUint64("dynamic-cap-percent"),
		PriceThreshold:    v.GetFloat64("price-threshold"),

		GasBufferPercent:        v.GetUint64("gas-buffer-percent"),
		MinGasLimit:             v.GetUint64("min-gas-limit"),
		FallbackGasLimit:        v.GetUint64("fallback-gas-limit"),
		FlashLoanFeeBps:         v.GetUint64("flash-loan-fee-bps"),
		GasPriceGwei:            v.GetFloat64("gas-price-gwei"),
		MaxPriorityFeeGwei:      v.GetFloat64("max-priority-fee-gwei"),
		FallbackPriorityFeeGwei: v.GetFloat64("fallback-priority-fee-gwei"),
		MinProfitBufferBps:      v.GetUint64("min-profit-buffer-bps"),
		MinProfitBufferWei:      v.GetString("min-profit-buffer-wei"),

		RelayURLs: getStringSlice(v, "relay"),

		FetchTimeout:        v.GetDuration("fetch-timeout"),
		QuoteTimeout:        v.GetDuration("quote-timeout"),
		ReceiptTimeout:      v.GetDuration("receipt-timeout"),
		RelayTimeout:        v.GetDuration("relay-timeout"),
		SubmitTimeout:       v.GetDuration("submit-timeout"),
		ReceiptPollInterval: v.GetDuration("receipt-poll-interval"),
		NonceResyncInterval: v.GetDuration("nonce-resync-interval"),

		DryRun:            v.GetBool("dry-run"),
		BatchSize:         v.GetUint64("batch-size"),
		DiscoveryLookback: v.GetUint64("discovery-lookback"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		MaxRetries:        v.GetInt("max-retries"),
		RetryBackoff:      v.GetDuration("retry-backoff"),
		HealthInterval:    v.GetDuration("health-interval"),
		DedupSize:         v.GetInt("dedup-size"),

		Out:         v.GetString("out"),
		PGDSN:       v.GetString("pg-dsn"),
		RedisAddr:   v.GetString("redis-addr"),
		RedisStream: v.GetString("redis-stream"),
		MetricsAddr: v.GetString("metrics-addr"),
		LogLevel:    v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks required fields and ranges. All problems are reported together.
func (c Config) Validate() error {
	var errs error
	add := func(format string, args ...interface{}) {
		errs = multierr.Append(errs, fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, args...)...))
	}
	requireAddress := func(name, value string) {
		if value == "" {
			add("%s is required", name)
			return
		}
		if !common.IsHexAddress(value) {
			add("%s is not an address: %s", name, value)
		}
	}
	optionalAddress := func(name, value string) {
		if value != "" && !common.IsHexAddress(value) {
			add("%s is not an address: %s", name, value)
		}
	}

	if c.RPCURL == "" {
		add("rpc url is required")
	}
	if c.PrivateKey == "" && !c.DryRun {
		add("private key is required unless dry-run is set")
	}
	requireAddress("executor", c.Executor)
	requireAddress("balancer-vault", c.BalancerVault)
	requireAddress("quoter", c.Quoter)
	requireAddress("velo-router", c.VeloRouter)
	requireAddress("loan-token", c.LoanToken)
	requireAddress("quote-token", c.QuoteToken)
	optionalAddress("uniswap-factory", c.UniswapFactory)
	optionalAddress("velo-factory", c.VeloFactory)
	if c.LoanToken != "" && strings.EqualFold(c.LoanToken, c.QuoteToken) {
		add("loan-token and quote-token must differ")
	}
	for factory, router := range c.Routers {
		optionalAddress("routers key", factory)
		optionalAddress("routers value", router)
	}

	if len(c.Pools) == 0 {
		add("at least one pool is required")
	}
	for pool, kind := range c.Pools {
		optionalAddress("pool", pool)
		if _, err := model.ParseDexKind(kind); err != nil {
			add("pool %s: %v", pool, err)
		}
	}

	if c.LoanDecimals < -1 || c.LoanDecimals > 77 {
		add("loan-decimals out of range: %d", c.LoanDecimals)
	}
	if c.QuoteDecimals < -1 || c.QuoteDecimals > 77 {
		add("quote-decimals out of range: %d", c.QuoteDecimals)
	}
	if c.MinLoan < 0 || c.MaxLoan <= 0 || c.MinLoan > c.MaxLoan {
		add("loan bounds must satisfy 0 <= min-loan <= max-loan, max-loan > 0")
	}
	if c.SearchIterations < 1 {
		add("search-iterations must be at least 1")
	}
	if c.SearchConcurrency < 1 {
		add("search-concurrency must be at least 1")
	}
	if c.DynamicCapPercent == 0 || c.DynamicCapPercent > 100 {
		add("dynamic-cap-percent must be in 1..100")
	}
	if c.PriceThreshold < 0 {
		add("price-threshold must not be negative")
	}
	if c.FlashLoanFeeBps > 10000 {
		add("flash-loan-fee-bps must not exceed 10000")
	}
	if c.GasPriceGwei < 0 || c.MaxPriorityFeeGwei < 0 || c.FallbackPriorityFeeGwei < 0 {
		add("gas prices must not be negative")
	}
	if _, ok := new(big.Int).SetString(c.MinProfitBufferWei, 10); !ok {
		add("min-profit-buffer-wei is not an integer: %q", c.MinProfitBufferWei)
	}
	for _, relay := range c.RelayURLs {
		if !strings.Contains(relay, "://") {
			add("relay url has no scheme: %s", relay)
		}
	}

	for name, d := range map[string]time.Duration{
		"fetch-timeout":         c.FetchTimeout,
		"quote-timeout":         c.QuoteTimeout,
		"receipt-timeout":       c.ReceiptTimeout,
		"relay-timeout":         c.RelayTimeout,
		"submit-timeout":        c.SubmitTimeout,
		"receipt-poll-interval": c.ReceiptPollInterval,
	} {
		if d <= 0 {
			add("%s must be positive", name)
		}
	}
	if c.BatchSize == 0 {
		add("batch-size must be greater than zero")
	}
	if c.DedupSize < 1 {
		add("dedup-size must be at least 1")
	}

	return errs
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, item := range typed {
			out[k] = fmt.Sprintf("%v", item)
		}
		return out
	case string:
		return parseStringMap(typed)
	case []string:
		return parseStringMap(strings.Join(typed, ","))
	default:
		return map[string]string{}
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
