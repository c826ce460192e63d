package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"arbScope/internal/bot"
	"arbScope/internal/cache"
	"arbScope/internal/chain"
	"arbScope/internal/config"
	"arbScope/internal/dex"
	"arbScope/internal/flashloan"
	"arbScope/internal/metrics"
	"arbScope/internal/pricing"
	"arbScope/internal/route"
	"arbScope/internal/sim"
	"arbScope/internal/storage"
	"arbScope/internal/storage/postgres"
	"arbScope/internal/storage/redisfeed"
	"arbScope/internal/submit"
)

// app owns the long-lived connections behind one engine.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	client   *chain.Client
	logs     *chain.Client
	relays   []*chain.RelayClient
	sink     storage.Storage
	registry *prometheus.Registry
	engine   *bot.Engine
}

type addresses struct {
	loan, quote, executor, vault, quoter, veloRouter common.Address
	factories                                        []common.Address
}

func parseAddresses(cfg config.Config) (addresses, error) {
	var (
		out  addresses
		errs error
	)
	parse := func(dst *common.Address, raw string) {
		addr, err := bot.ParseAddress(raw)
		errs = multierr.Append(errs, err)
		*dst = addr
	}
	parse(&out.loan, cfg.LoanToken)
	parse(&out.quote, cfg.QuoteToken)
	parse(&out.executor, cfg.Executor)
	parse(&out.vault, cfg.BalancerVault)
	parse(&out.quoter, cfg.Quoter)
	parse(&out.veloRouter, cfg.VeloRouter)

	var rawFactories []string
	for _, f := range []string{cfg.UniswapFactory, cfg.VeloFactory} {
		if f != "" {
			rawFactories = append(rawFactories, f)
		}
	}
	factories, err := bot.ParseAddresses(rawFactories)
	errs = multierr.Append(errs, err)
	out.factories = factories
	return out, errs
}

// newApp dials the chain and assembles the engine. follow additionally dials the
// websocket endpoint used for log subscriptions.
func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger, follow bool) (_ *app, err error) {
	addrs, err := parseAddresses(cfg)
	if err != nil {
		return nil, err
	}
	pools, err := bot.ParsePools(cfg.Pools)
	if err != nil {
		return nil, err
	}
	routers, err := bot.ParseRouters(cfg.Routers)
	if err != nil {
		return nil, err
	}
	minProfitWei, ok := new(big.Int).SetString(cfg.MinProfitBufferWei, 10)
	if !ok {
		return nil, fmt.Errorf("invalid min-profit-buffer-wei: %q", cfg.MinProfitBufferWei)
	}

	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.client, err = chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect rpc: %w", err)
	}
	a.logs = a.client
	if follow && cfg.WSURL != "" && cfg.WSURL != cfg.RPCURL {
		a.logs, err = chain.NewClient(ctx, cfg.WSURL)
		if err != nil {
			return nil, fmt.Errorf("connect ws rpc: %w", err)
		}
	}

	chainID := new(big.Int).SetUint64(cfg.ChainID)
	if cfg.ChainID == 0 {
		chainID, err = a.client.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("get chain id: %w", err)
		}
	}

	fetcher := dex.NewFetcher(a.client, addrs.loan, addrs.quote, cfg.FetchTimeout, logger)
	loanDecimals, err := resolveDecimals(ctx, fetcher, addrs.loan, cfg.LoanDecimals)
	if err != nil {
		return nil, err
	}
	quoteDecimals, err := resolveDecimals(ctx, fetcher, addrs.quote, cfg.QuoteDecimals)
	if err != nil {
		return nil, err
	}

	var (
		key  *ecdsa.PrivateKey
		from common.Address
	)
	if cfg.PrivateKey != "" {
		key, err = crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		from = crypto.PubkeyToAddress(key.PublicKey)
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(a.registry)

	poolCache := cache.New()
	finder := route.NewFinder(poolCache, route.Config{
		LoanToken:     addrs.loan,
		QuoteToken:    addrs.quote,
		LoanDecimals:  loanDecimals,
		QuoteDecimals: quoteDecimals,
		Threshold:     cfg.PriceThreshold,
	}, logger)

	quoter := dex.NewQuoter(a.client, addrs.quoter, addrs.veloRouter, routers, cfg.QuoteTimeout)
	builder := flashloan.NewBuilder(addrs.vault, addrs.executor, quoter)
	estimator := flashloan.NewEstimator(builder, a.client, from, cfg.QuoteTimeout)

	simulator := sim.NewSimulator(quoter, estimator, sim.Config{
		GasBufferPercent: cfg.GasBufferPercent,
		MinGasLimit:      cfg.MinGasLimit,
		FallbackGasLimit: cfg.FallbackGasLimit,
		FlashLoanFeeBps:  cfg.FlashLoanFeeBps,
	}, logger)
	simulator.SetRecorder(m)
	loans := sim.NewLoanSearcher(simulator, poolCache, sim.LoanConfig{
		MinLoan:           cfg.MinLoan,
		MaxLoan:           cfg.MaxLoan,
		LoanDecimals:      loanDecimals,
		Iterations:        cfg.SearchIterations,
		Concurrency:       cfg.SearchConcurrency,
		DynamicCapPercent: cfg.DynamicCapPercent,
	}, logger)
	loans.SetRecorder(m)

	feeCfg, err := feeConfig(cfg)
	if err != nil {
		return nil, err
	}
	fees := submit.NewFeeSelector(a.client, feeCfg, logger)

	decoder, err := dex.NewEventDecoder()
	if err != nil {
		return nil, fmt.Errorf("event decoder: %w", err)
	}

	a.sink, err = openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	deps := bot.Deps{
		Cache:    poolCache,
		Fetcher:  fetcher,
		Finder:   finder,
		Loans:    loans,
		Fees:     fees,
		Builder:  builder,
		Sink:     a.sink,
		Decoder:  decoder,
		Logs:     a.logs,
		Recorder: m,
	}
	if !cfg.DryRun {
		submitter, err := a.newSubmitter(ctx, fees, key, chainID)
		if err != nil {
			return nil, err
		}
		deps.Submitter = submitter
		deps.Nonces = submitter.Nonces()
	}

	a.engine, err = bot.NewEngine(bot.Config{
		LoanToken:           addrs.loan,
		QuoteToken:          addrs.quote,
		LoanDecimals:        loanDecimals,
		Pools:               pools,
		Factories:           addrs.factories,
		DryRun:              cfg.DryRun,
		MinProfitBufferBps:  cfg.MinProfitBufferBps,
		MinProfitBufferWei:  minProfitWei,
		BatchSize:           cfg.BatchSize,
		DiscoveryLookback:   cfg.DiscoveryLookback,
		Retry:               bot.RetryPolicy{MaxRetries: cfg.MaxRetries, Backoff: cfg.RetryBackoff},
		FetchConcurrency:    cfg.SearchConcurrency,
		DedupSize:           cfg.DedupSize,
		HealthInterval:      cfg.HealthInterval,
		NonceResyncInterval: cfg.NonceResyncInterval,
		CheckpointPath:      cfg.Checkpoint,
		CheckpointEnabled:   cfg.CheckpointEnabled,
	}, deps, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("engine ready",
		zap.String("chain_id", chainID.String()),
		zap.String("loan_token", addrs.loan.Hex()),
		zap.String("quote_token", addrs.quote.Hex()),
		zap.Uint8("loan_decimals", loanDecimals),
		zap.Uint8("quote_decimals", quoteDecimals),
		zap.Int("factories", len(addrs.factories)),
		zap.String("account", from.Hex()),
	)
	return a, nil
}

func (a *app) newSubmitter(ctx context.Context, fees *submit.FeeSelector, key *ecdsa.PrivateKey, chainID *big.Int) (*submit.Submitter, error) {
	if key == nil {
		return nil, fmt.Errorf("private key is required unless dry-run is set")
	}
	relays := make([]submit.Relay, 0, len(a.cfg.RelayURLs))
	for _, url := range a.cfg.RelayURLs {
		relay, err := chain.DialRelay(ctx, url)
		if err != nil {
			return nil, err
		}
		a.relays = append(a.relays, relay)
		relays = append(relays, relay)
	}
	return submit.NewSubmitter(a.client, relays, nil, fees, key, submit.Config{
		ChainID:          chainID,
		GasBufferPercent: a.cfg.GasBufferPercent,
		MinGasLimit:      a.cfg.MinGasLimit,
		EstimateTimeout:  a.cfg.QuoteTimeout,
		ReceiptTimeout:   a.cfg.ReceiptTimeout,
		RelayTimeout:     a.cfg.RelayTimeout,
		SubmitTimeout:    a.cfg.SubmitTimeout,
		PollInterval:     a.cfg.ReceiptPollInterval,
	}, a.logger)
}

func (a *app) serveMetrics(ctx context.Context) {
	metrics.Serve(ctx, a.cfg.MetricsAddr, a.registry, a.logger)
}

func (a *app) Close() {
	if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.logger.Warn("close storage", zap.Error(err))
		}
	}
	for _, relay := range a.relays {
		relay.Close()
	}
	if a.logs != nil && a.logs != a.client {
		a.logs.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
}

// resolveDecimals returns the configured decimals, or reads them from the token
// when the configured value is negative.
func resolveDecimals(ctx context.Context, fetcher *dex.Fetcher, token common.Address, configured int) (uint8, error) {
	if configured >= 0 {
		return uint8(configured), nil
	}
	meta, err := fetcher.FetchTokenMeta(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("read decimals of %s: %w", token.Hex(), err)
	}
	return meta.Decimals, nil
}

func feeConfig(cfg config.Config) (submit.FeeConfig, error) {
	out := submit.FeeConfig{Timeout: cfg.FetchTimeout}
	var err error
	if cfg.GasPriceGwei > 0 {
		if out.FixedGasPrice, err = gwei(cfg.GasPriceGwei); err != nil {
			return submit.FeeConfig{}, fmt.Errorf("gas-price-gwei: %w", err)
		}
	}
	if out.MaxPriorityFee, err = gwei(cfg.MaxPriorityFeeGwei); err != nil {
		return submit.FeeConfig{}, fmt.Errorf("max-priority-fee-gwei: %w", err)
	}
	if cfg.FallbackPriorityFeeGwei > 0 {
		if out.FallbackPriorityFee, err = gwei(cfg.FallbackPriorityFeeGwei); err != nil {
			return submit.FeeConfig{}, fmt.Errorf("fallback-priority-fee-gwei: %w", err)
		}
	}
	return out, nil
}

func gwei(value float64) (*big.Int, error) {
	return pricing.AmountToBaseUnits(value, 9)
}

// openStorage always writes JSONL and fans out to Postgres and Redis when configured.
func openStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Storage, error) {
	sinks := storage.Multi{storage.NewJsonlStorage(cfg.Out)}

	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		sinks = append(sinks, store)
		logger.Info("postgres storage enabled")
	}

	if cfg.RedisAddr != "" {
		publisher := redisfeed.NewPublisher(cfg.RedisAddr, cfg.RedisStream)
		if err := publisher.Ping(ctx); err != nil {
			_ = sinks.Close()
			publisher.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		sinks = append(sinks, publisher)
		logger.Info("redis stream enabled", zap.String("stream", cfg.RedisStream))
	}
	return sinks, nil
}
