package config

import (
	"errors"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func chdirTemp(t *testing.T) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func validConfig() Config {
	return Config{
		RPCURL:              "http://localhost:8545",
		DryRun:              true,
		Executor:            "0x1000000000000000000000000000000000000001",
		BalancerVault:       DefaultBalancerVault,
		Quoter:              "0x1000000000000000000000000000000000000002",
		VeloRouter:          "0x1000000000000000000000000000000000000003",
		LoanToken:           "0x2000000000000000000000000000000000000001",
		QuoteToken:          "0x2000000000000000000000000000000000000002",
		LoanDecimals:        -1,
		QuoteDecimals:       -1,
		Pools:               map[string]string{"0x3000000000000000000000000000000000000001": "univ3"},
		MinLoan:             0.1,
		MaxLoan:             100,
		SearchIterations:    10,
		SearchConcurrency:   4,
		DynamicCapPercent:   10,
		MinProfitBufferWei:  "5000000000000",
		FetchTimeout:        time.Second,
		QuoteTimeout:        time.Second,
		ReceiptTimeout:      time.Second,
		RelayTimeout:        time.Second,
		SubmitTimeout:       time.Second,
		ReceiptPollInterval: time.Second,
		BatchSize:           100,
		DedupSize:           64,
	}
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BalancerVault != DefaultBalancerVault {
		t.Fatalf("vault = %s", cfg.BalancerVault)
	}
	if cfg.MinLoan != 0.1 || cfg.MaxLoan != 100 || cfg.SearchIterations != 10 {
		t.Fatalf("unexpected loan defaults: %+v", cfg)
	}
	if cfg.GasBufferPercent != 20 || cfg.MinGasLimit != 200000 || cfg.FallbackGasLimit != 500000 {
		t.Fatalf("unexpected gas defaults: %+v", cfg)
	}
	if cfg.ReceiptTimeout != 60*time.Second || cfg.QuoteTimeout != 10*time.Second {
		t.Fatalf("unexpected timeouts: %v %v", cfg.ReceiptTimeout, cfg.QuoteTimeout)
	}
	if cfg.LoanDecimals != -1 || cfg.QuoteDecimals != -1 {
		t.Fatalf("expected decimals sentinel, got %d %d", cfg.LoanDecimals, cfg.QuoteDecimals)
	}
}

func TestLoadFlagsAndEnv(t *testing.T) {
	chdirTemp(t)
	t.Setenv("ARBBOT_MAX_LOAN", "42.5")
	t.Setenv("ARBBOT_RELAY", "https://relay-a, https://relay-b")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringToString("pool", nil, "")
	flags.Int("search-iterations", 10, "")
	if err := flags.Parse([]string{
		"--pool", "0xaa=univ3,0xbb=velo",
		"--search-iterations", "7",
	}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MaxLoan != 42.5 {
		t.Fatalf("max loan = %v", cfg.MaxLoan)
	}
	if cfg.SearchIterations != 7 {
		t.Fatalf("iterations = %d", cfg.SearchIterations)
	}
	wantRelays := []string{"https://relay-a", "https://relay-b"}
	if !reflect.DeepEqual(cfg.RelayURLs, wantRelays) {
		t.Fatalf("relays = %v", cfg.RelayURLs)
	}
	wantPools := map[string]string{"0xaa": "univ3", "0xbb": "velo"}
	if !reflect.DeepEqual(cfg.Pools, wantPools) {
		t.Fatalf("pools = %v", cfg.Pools)
	}
}

func TestParseStringMap(t *testing.T) {
	got := parseStringMap(" a = b ,c=d,broken,=x,y=")
	want := map[string]string{"a": "b", "c": "d"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := map[string]func(*Config){
		"missing rpc":          func(c *Config) { c.RPCURL = "" },
		"missing key":          func(c *Config) { c.DryRun = false },
		"bad executor":         func(c *Config) { c.Executor = "nope" },
		"same tokens":          func(c *Config) { c.QuoteToken = c.LoanToken },
		"no pools":             func(c *Config) { c.Pools = nil },
		"bad pool kind":        func(c *Config) { c.Pools = map[string]string{c.LoanToken: "curve"} },
		"inverted loan bounds": func(c *Config) { c.MinLoan, c.MaxLoan = 5, 1 },
		"zero iterations":      func(c *Config) { c.SearchIterations = 0 },
		"cap over 100":         func(c *Config) { c.DynamicCapPercent = 101 },
		"bad buffer wei":       func(c *Config) { c.MinProfitBufferWei = "1e12" },
		"relay without scheme": func(c *Config) { c.RelayURLs = []string{"relay.example"} },
		"zero receipt timeout": func(c *Config) { c.ReceiptTimeout = 0 },
	}
	for name, mutate := range tests {
		cfg := validConfig()
		mutate(&cfg)
		err := cfg.Validate()
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s: expected ErrInvalid, got %v", name, err)
		}
	}
}
