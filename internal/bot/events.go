package bot

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"arbScope/internal/dex"
	"arbScope/internal/model"
)

// HandleLog applies one chain log to the pool cache. updated reports a cache change,
// discovered reports a newly cached pool. Events older than the cached snapshot are
// ignored. Every change schedules an evaluation pass. A log that fails is forgotten
// so a redelivery is handled again.
func (e *Engine) HandleLog(ctx context.Context, log types.Log) (updated, discovered bool, err error) {
	if log.Removed || e.isDuplicate(log) {
		return false, false, nil
	}
	defer func() {
		if err != nil {
			e.seen.Remove(logID(log))
		}
	}()
	if e.deps.Decoder == nil || len(log.Topics) == 0 || !e.deps.Decoder.CanDecode(log.Topics[0]) {
		return false, false, nil
	}
	ev, err := e.deps.Decoder.Decode(log)
	if err != nil {
		return false, false, fmt.Errorf("decode log %s:%d: %w", log.TxHash.Hex(), log.Index, err)
	}
	e.deps.Recorder.ObserveEvent(ev.Kind.String())
	e.observeBlock(ev.Block)

	switch ev.Kind {
	case dex.EventV3Swap:
		e.deps.Cache.UpdateSnapshot(ev.Pool, func(snap *model.PoolSnapshot) {
			if snap.Block != nil && *snap.Block > ev.Block {
				return
			}
			tick := ev.Tick
			block := ev.Block
			snap.SqrtPriceX96 = ev.SqrtPriceX96
			snap.Tick = &tick
			snap.Block = &block
			updated = true
		})
	case dex.EventSync:
		e.deps.Cache.UpdateSnapshot(ev.Pool, func(snap *model.PoolSnapshot) {
			if snap.Block != nil && *snap.Block > ev.Block {
				return
			}
			block := ev.Block
			snap.Reserve0 = ev.Reserve0
			snap.Reserve1 = ev.Reserve1
			snap.Block = &block
			updated = true
		})
	case dex.EventCPSwap:
		if !e.deps.Cache.Has(ev.Pool) {
			return false, false, nil
		}
		if err := e.refreshSnapshot(ctx, ev.Pool); err != nil {
			return false, false, fmt.Errorf("refresh %s after swap: %w", ev.Pool.Hex(), err)
		}
		updated = true
	case dex.EventPoolCreated:
		discovered, err = e.handlePoolCreated(ctx, ev)
		if err != nil {
			return false, false, err
		}
		updated = discovered
	}

	if updated {
		e.logger.Debug("pool updated",
			zap.String("pool", ev.Pool.Hex()),
			zap.String("event", ev.Kind.String()),
			zap.Uint64("block", ev.Block),
		)
		e.schedule()
	}
	if ev.Block > 0 {
		if err := e.checkpoint.Advance(ev.Block - 1); err != nil {
			e.logger.Warn("checkpoint save failed", zap.Error(err))
		}
	}
	return updated, discovered, nil
}

func (e *Engine) handlePoolCreated(ctx context.Context, ev dex.PoolEvent) (bool, error) {
	if _, ok := e.factories[ev.Factory]; !ok {
		return false, nil
	}
	pair := model.PoolState{Token0: ev.Token0, Token1: ev.Token1}
	if !pair.HasPair(e.cfg.LoanToken, e.cfg.QuoteToken) || e.deps.Cache.Has(ev.Pool) {
		return false, nil
	}
	e.logger.Info("new pool for target pair",
		zap.String("pool", ev.Pool.Hex()),
		zap.String("factory", ev.Factory.Hex()),
		zap.String("kind", ev.DexKind.String()),
	)
	if err := e.loadPool(ctx, ev.Pool, ev.DexKind); err != nil {
		return false, fmt.Errorf("load discovered pool %s: %w", ev.Pool.Hex(), err)
	}
	e.deps.Recorder.SetCachedPools(e.deps.Cache.Len())
	return true, nil
}

// isDuplicate reports whether the log was already handled, remembering it if not.
func (e *Engine) isDuplicate(log types.Log) bool {
	seen, _ := e.seen.ContainsOrAdd(logID(log), struct{}{})
	return seen
}

func logID(log types.Log) string {
	return fmt.Sprintf("%s:%d", log.TxHash.Hex(), log.Index)
}

// schedule requests an evaluation pass. Requests made while one is pending coalesce.
func (e *Engine) schedule() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}
