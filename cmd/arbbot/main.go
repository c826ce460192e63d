package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"arbScope/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:          "arbbot",
		Short:        "Two-pool flash-loan arbitrage bot",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("env-file", ".env", "dotenv file loaded before the environment")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Follow pool events and submit profitable arbitrages",
		RunE:  runBot,
	}
	addCommonFlags(runCmd.Flags())
	runCmd.Flags().String("ws-rpc", "", "websocket RPC URL for log subscriptions (defaults to --rpc)")
	runCmd.Flags().String("private-key", "", "hex private key of the submitting account")
	runCmd.Flags().StringSlice("relay", nil, "private relay URLs tried in order after the direct broadcast")
	runCmd.Flags().Bool("dry-run", false, "simulate and record opportunities without submitting")
	runCmd.Flags().Float64("gas-price-gwei", 0, "fixed gas price in gwei, 0 uses the fee oracle")
	runCmd.Flags().Float64("max-priority-fee-gwei", 1, "priority fee ceiling in gwei")
	runCmd.Flags().Float64("fallback-priority-fee-gwei", 0, "priority fee used when the oracle has no tip")
	runCmd.Flags().Uint64("min-profit-buffer-bps", 10, "profit share withheld from the on-chain guard")
	runCmd.Flags().String("min-profit-buffer-wei", "5000000000000", "absolute amount withheld from the on-chain guard")
	runCmd.Flags().Duration("receipt-timeout", 60*time.Second, "deadline for the direct send and its receipt")
	runCmd.Flags().Duration("relay-timeout", 30*time.Second, "deadline per relay, covering send and receipt")
	runCmd.Flags().Duration("submit-timeout", 180*time.Second, "overall submission deadline")
	runCmd.Flags().Duration("nonce-resync-interval", 5*time.Minute, "period between nonce resyncs, 0 disables")
	runCmd.Flags().Uint64("batch-size", 2000, "blocks per log backfill request")
	runCmd.Flags().Uint64("discovery-lookback", 5000, "maximum blocks replayed for pool discovery on start")
	runCmd.Flags().String("checkpoint", "./data/checkpoint.json", "checkpoint file path")
	runCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	runCmd.Flags().Duration("health-interval", time.Minute, "period between health log lines, 0 disables")
	runCmd.Flags().String("metrics-addr", "", "listen address for /metrics and /healthz, empty disables")
	root.AddCommand(runCmd)

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Load pools once, evaluate every route and record opportunities without submitting",
		RunE:  runScan,
	}
	addCommonFlags(scanCmd.Flags())
	root.AddCommand(scanCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addCommonFlags(flags *pflag.FlagSet) {
	flags.String("rpc", "", "HTTP or websocket RPC URL")
	flags.Uint64("chain-id", 0, "chain id, 0 queries the node")
	flags.String("executor", "", "arbitrage executor contract")
	flags.String("balancer-vault", config.DefaultBalancerVault, "flash-loan vault")
	flags.String("quoter", "", "Uniswap V3 QuoterV2 address")
	flags.String("velo-router", "", "default constant-product router")
	flags.StringSlice("routers", nil, "factory=router overrides (comma-separated)")
	flags.String("uniswap-factory", "", "Uniswap V3 factory watched for new pools")
	flags.String("velo-factory", "", "constant-product factory watched for new pools")
	flags.String("loan-token", "", "flash-loaned token")
	flags.String("quote-token", "", "intermediate token")
	flags.Int("loan-decimals", -1, "loan token decimals, -1 reads them from the chain")
	flags.Int("quote-decimals", -1, "quote token decimals, -1 reads them from the chain")
	flags.StringSlice("pool", nil, "pool=kind entries, kind is univ3, volatile or stable")
	flags.Float64("min-loan", 0.1, "smallest loan in loan-token units")
	flags.Float64("max-loan", 100, "largest loan in loan-token units")
	flags.Int("search-iterations", 10, "loan sizes sampled per route")
	flags.Int("search-concurrency", 4, "concurrent simulations per route")
	flags.Float64("price-threshold", 0.001, "minimum buy/sell price gap in quote units")
	flags.String("out", "./data/opportunities.jsonl", "output JSONL path")
	flags.String("pg-dsn", "", "Postgres DSN, empty disables")
	flags.String("redis-addr", "", "Redis address for the opportunity stream, empty disables")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
}

func runBot(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.Close()

	a.serveMetrics(ctx)

	logger.Info("bot start",
		zap.String("rpc", cfg.RPCURL),
		zap.Int("pools", len(cfg.Pools)),
		zap.Int("relays", len(cfg.RelayURLs)),
		zap.Bool("dry_run", cfg.DryRun),
		zap.String("out", cfg.Out),
		zap.Bool("checkpoint_enabled", cfg.CheckpointEnabled),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	if err := a.engine.Run(ctx); err != nil {
		return err
	}
	logger.Info("bot stopped")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
