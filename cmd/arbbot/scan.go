package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"arbScope/internal/config"
)

// runScan loads the configured pools at the current head, runs a single evaluation
// pass and records what it finds. It never signs or sends anything.
func runScan(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	cfg.DryRun = true
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

	a, err := newApp(ctx, cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.engine.Bootstrap(ctx); err != nil {
		return err
	}
	report, err := a.engine.Evaluate(ctx)
	if err != nil {
		return err
	}

	logger.Info("scan complete",
		zap.Uint64("block", a.engine.Head()),
		zap.Int("candidates", report.Candidates),
		zap.Int("opportunities", len(report.Opportunities)),
		zap.String("out", cfg.Out),
	)
	for _, opp := range report.Opportunities {
		logger.Info("opportunity",
			zap.String("id", opp.ID),
			zap.String("buy_pool", opp.BuyPool),
			zap.String("sell_pool", opp.SellPool),
			zap.String("loan", opp.LoanHuman),
			zap.String("net_profit", opp.NetProfit),
		)
	}
	return nil
}
