package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const logBufferSize = 1024

// Run bootstraps the cache, then follows pool and factory logs until ctx is done.
// Evaluation passes run on their own goroutine, one at a time.
func (e *Engine) Run(ctx context.Context) error {
	if e.deps.Decoder == nil || e.deps.Logs == nil {
		return errors.New("run requires an event decoder and a log source")
	}
	if e.cfg.BatchSize == 0 {
		return errors.New("batch size must be greater than zero")
	}
	if err := e.Bootstrap(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.evaluateLoop(ctx) })
	g.Go(func() error { return e.watch(ctx) })
	e.schedule()

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (e *Engine) evaluateLoop(ctx context.Context) error {
	var resync <-chan time.Time
	if e.deps.Nonces != nil && e.cfg.NonceResyncInterval > 0 {
		ticker := time.NewTicker(e.cfg.NonceResyncInterval)
		defer ticker.Stop()
		resync = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.trigger:
			if _, err := e.Evaluate(ctx); err != nil && ctx.Err() == nil {
				e.logger.Warn("evaluation failed", zap.Error(err))
			}
		case <-resync:
			e.deps.Nonces.Reset()
			e.logger.Debug("nonce state reset for resync")
		}
	}
}

// watch subscribes to logs, backfills the gap since the last handled block, and
// resubscribes after subscription errors or pool discovery.
func (e *Engine) watch(ctx context.Context) error {
	cp, ok, err := e.checkpoint.Load()
	if err != nil {
		return err
	}
	poolFrom := e.Head()
	factoryFrom := ResumeFrom(cp, ok, e.Head(), e.cfg.DiscoveryLookback)
	if ok {
		e.logger.Info("resume factory scan from checkpoint",
			zap.Uint64("last_processed", cp.LastProcessedBlock),
			zap.Uint64("from", factoryFrom),
		)
	}

	var health <-chan time.Time
	if e.cfg.HealthInterval > 0 {
		ticker := time.NewTicker(e.cfg.HealthInterval)
		defer ticker.Stop()
		health = ticker.C
	}

	for {
		logs := make(chan types.Log, logBufferSize)
		subscribedPools := e.deps.Cache.Len()
		sub, err := e.subscribe(ctx, logs)
		if err != nil {
			return err
		}

		head, err := e.latestBlock(ctx)
		if err != nil {
			sub.Unsubscribe()
			return err
		}
		if err := e.backfill(ctx, poolFrom, factoryFrom, head); err != nil {
			e.logger.Warn("backfill incomplete", zap.Error(err))
		}
		factoryFrom = head + 1
		if e.deps.Cache.Len() != subscribedPools {
			sub.Unsubscribe()
			poolFrom = head
			continue
		}

		err = e.consume(ctx, sub, logs, health)
		sub.Unsubscribe()
		if err != nil {
			return err
		}
		poolFrom = e.Head()
	}
}

// consume handles streamed logs. It returns nil when the subscription should be
// renewed and ctx's error when the engine is stopping.
func (e *Engine) consume(ctx context.Context, sub ethereum.Subscription, logs <-chan types.Log, health <-chan time.Time) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			e.logger.Warn("log subscription dropped, resubscribing", zap.Error(err))
			return nil
		case log := <-logs:
			_, discovered, err := e.HandleLog(ctx, log)
			if err != nil {
				e.logger.Warn("handle log failed", zap.Error(err))
			}
			if discovered {
				e.logger.Info("resubscribing to include discovered pool")
				return nil
			}
		case <-health:
			e.logger.Info("health",
				zap.Int("pools", e.deps.Cache.Len()),
				zap.Uint64("head", e.Head()),
				zap.Int("dedup_entries", e.seen.Len()),
			)
		}
	}
}

func (e *Engine) subscribe(ctx context.Context, ch chan<- types.Log) (ethereum.Subscription, error) {
	addresses := append(e.deps.Cache.Addresses(), e.cfg.Factories...)
	topics := append(e.deps.Decoder.PoolTopics(), e.deps.Decoder.FactoryTopics()...)

	var sub ethereum.Subscription
	err := withRetry(ctx, e.cfg.Retry, e.logger, "subscribe logs", func(ctx context.Context) error {
		var err error
		sub, err = e.deps.Logs.SubscribeLogs(ctx, addresses, topics, ch)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe logs: %w", err)
	}
	e.logger.Info("subscribed to logs", zap.Int("addresses", len(addresses)))
	return sub, nil
}

func (e *Engine) latestBlock(ctx context.Context) (uint64, error) {
	var head uint64
	err := withRetry(ctx, e.cfg.Retry, e.logger, "latest block", func(ctx context.Context) error {
		var err error
		head, err = e.deps.Logs.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get latest block: %w", err)
	}
	return head, nil
}

// backfill replays factory logs from factoryFrom and pool logs from poolFrom up to head.
// Factory logs go first so the checkpoint never passes an unscanned creation.
func (e *Engine) backfill(ctx context.Context, poolFrom, factoryFrom, head uint64) error {
	if len(e.cfg.Factories) > 0 && factoryFrom <= head {
		if err := e.scan(ctx, factoryFrom, head, e.cfg.Factories, e.deps.Decoder.FactoryTopics(), true); err != nil {
			return fmt.Errorf("factory logs: %w", err)
		}
	}
	if poolFrom <= head {
		if err := e.scan(ctx, poolFrom, head, e.deps.Cache.Addresses(), e.deps.Decoder.PoolTopics(), false); err != nil {
			return fmt.Errorf("pool logs: %w", err)
		}
	}
	return nil
}

func (e *Engine) scan(ctx context.Context, from, to uint64, addresses []common.Address, topics []common.Hash, advance bool) error {
	if len(addresses) == 0 {
		return nil
	}
	ranges, err := SplitRange(from, to, e.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, blockRange := range ranges {
		if err := ctx.Err(); err != nil {
			return err
		}
		var logs []types.Log
		err := withRetry(ctx, e.cfg.Retry, e.logger, "filter logs", func(ctx context.Context) error {
			var err error
			logs, err = e.deps.Logs.FilterLogs(ctx, blockRange.From, blockRange.To, addresses, topics)
			return err
		})
		if err != nil {
			return fmt.Errorf("filter logs %d-%d: %w", blockRange.From, blockRange.To, err)
		}
		for _, log := range logs {
			if _, _, err := e.HandleLog(ctx, log); err != nil {
				e.logger.Warn("handle backfilled log failed", zap.Error(err))
			}
		}
		if advance {
			if err := e.checkpoint.Advance(blockRange.To); err != nil {
				e.logger.Warn("checkpoint save failed", zap.Error(err))
			}
		}
		e.logger.Info("backfill batch complete",
			zap.Int("logs", len(logs)),
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
		)
	}
	return nil
}
