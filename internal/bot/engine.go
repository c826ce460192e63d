// Package bot runs the arbitrage loop: it keeps the pool cache fresh from chain events,
// searches routes, sizes loans and submits the best opportunity.
package bot

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/holiman/uint256"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"arbScope/internal/cache"
	"arbScope/internal/dex"
	"arbScope/internal/flashloan"
	"arbScope/internal/model"
	"arbScope/internal/pricing"
	"arbScope/internal/sim"
	"arbScope/internal/storage"
	"arbScope/internal/submit"
)

// PoolFetcher loads pool metadata and snapshots from the chain.
type PoolFetcher interface {
	FetchPool(ctx context.Context, pool common.Address, kind model.DexKind) (model.PoolState, model.PoolSnapshot, error)
	FetchSnapshot(ctx context.Context, state model.PoolState) (model.PoolSnapshot, error)
}

// CandidateFinder lists routes worth simulating.
type CandidateFinder interface {
	Candidates() []model.RouteCandidate
}

// LoanFinder sizes the flash loan for a route.
type LoanFinder interface {
	FindOptimalLoanAmount(ctx context.Context, route model.RouteCandidate, gasPrice *big.Int) (sim.LoanResult, bool, error)
}

// FeeSource picks transaction fees.
type FeeSource interface {
	Select(ctx context.Context) (submit.Fees, error)
}

// CallBuilder encodes the flash-loan call for a route.
type CallBuilder interface {
	Vault() common.Address
	Calldata(route model.RouteCandidate, amount, minProfit *big.Int, salt *uint256.Int) ([]byte, error)
}

// TxSubmitter drives a signed call to a receipt.
type TxSubmitter interface {
	Submit(ctx context.Context, req submit.Request) (submit.Result, error)
}

// NonceResetter drops cached nonce state so the next use resyncs from the chain.
type NonceResetter interface {
	Reset()
}

// LogSource reads and streams chain logs.
type LogSource interface {
	LatestBlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
	SubscribeLogs(ctx context.Context, addresses []common.Address, topic0 []common.Hash, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Recorder receives engine measurements.
type Recorder interface {
	ObserveCandidates(n int)
	ObserveEvaluation()
	ObserveSubmission(outcome string)
	ObserveEvent(kind string)
	SetBestProfit(profit float64)
	SetCachedPools(n int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveCandidates(int)    {}
func (nopRecorder) ObserveEvaluation()       {}
func (nopRecorder) ObserveSubmission(string) {}
func (nopRecorder) ObserveEvent(string)      {}
func (nopRecorder) SetBestProfit(float64)    {}
func (nopRecorder) SetCachedPools(int)       {}

// Config holds engine settings.
type Config struct {
	LoanToken    common.Address
	QuoteToken   common.Address
	LoanDecimals uint8
	Pools        map[common.Address]model.DexKind
	Factories    []common.Address

	DryRun             bool
	MinProfitBufferBps uint64
	MinProfitBufferWei *big.Int

	BatchSize           uint64
	DiscoveryLookback   uint64
	Retry               RetryPolicy
	FetchConcurrency    int
	DedupSize           int
	HealthInterval      time.Duration
	NonceResyncInterval time.Duration
	CheckpointPath      string
	CheckpointEnabled   bool
}

// Deps are the engine's collaborators. Submitter and Nonces may be nil in dry-run mode;
// Decoder and Logs are only needed by Run.
type Deps struct {
	Cache     *cache.PoolCache
	Fetcher   PoolFetcher
	Finder    CandidateFinder
	Loans     LoanFinder
	Fees      FeeSource
	Builder   CallBuilder
	Submitter TxSubmitter
	Nonces    NonceResetter
	Sink      storage.Storage
	Decoder   *dex.EventDecoder
	Logs      LogSource
	Recorder  Recorder
}

// Report summarizes one evaluation pass.
type Report struct {
	Candidates    int
	Opportunities []model.Opportunity
	Submission    *model.Submission
}

// Engine owns the evaluation pipeline and the event loop that feeds it.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	factories  map[common.Address]struct{}
	checkpoint *CheckpointStore
	seen       *lru.Cache[string, struct{}]
	trigger    chan struct{}
	head       atomic.Uint64
	evalMu     sync.Mutex
}

func NewEngine(cfg Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch {
	case deps.Cache == nil:
		return nil, errors.New("pool cache is required")
	case deps.Fetcher == nil:
		return nil, errors.New("pool fetcher is required")
	case deps.Finder == nil:
		return nil, errors.New("route finder is required")
	case deps.Loans == nil:
		return nil, errors.New("loan searcher is required")
	case deps.Fees == nil:
		return nil, errors.New("fee source is required")
	case deps.Builder == nil:
		return nil, errors.New("call builder is required")
	case deps.Sink == nil:
		return nil, errors.New("storage sink is required")
	case deps.Submitter == nil && !cfg.DryRun:
		return nil, errors.New("submitter is required unless dry-run is set")
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if cfg.MinProfitBufferWei == nil {
		cfg.MinProfitBufferWei = new(big.Int)
	}
	if cfg.FetchConcurrency < 1 {
		cfg.FetchConcurrency = 4
	}
	if cfg.DedupSize < 1 {
		cfg.DedupSize = 4096
	}
	seen, err := lru.New[string, struct{}](cfg.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("dedup cache: %w", err)
	}

	factories := make(map[common.Address]struct{}, len(cfg.Factories))
	for _, f := range cfg.Factories {
		factories[f] = struct{}{}
	}
	return &Engine{
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		factories:  factories,
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
		seen:       seen,
		trigger:    make(chan struct{}, 1),
	}, nil
}

// Head returns the latest block the engine has observed.
func (e *Engine) Head() uint64 {
	return e.head.Load()
}

func (e *Engine) observeBlock(block uint64) {
	for {
		cur := e.head.Load()
		if block <= cur || e.head.CompareAndSwap(cur, block) {
			return
		}
	}
}

// Bootstrap fetches every configured pool concurrently. Pools that cannot be loaded
// are skipped; it fails only when none load.
func (e *Engine) Bootstrap(ctx context.Context) error {
	if e.deps.Logs != nil {
		head, err := e.deps.Logs.LatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
		e.observeBlock(head)
	}

	var (
		g      errgroup.Group
		loaded atomic.Int64
	)
	g.SetLimit(e.cfg.FetchConcurrency)
	for pool, kind := range e.cfg.Pools {
		pool, kind := pool, kind
		g.Go(func() error {
			if err := e.loadPool(ctx, pool, kind); err != nil {
				e.logger.Warn("pool fetch failed, skipping",
					zap.String("pool", pool.Hex()),
					zap.String("kind", kind.String()),
					zap.Error(err),
				)
				return nil
			}
			loaded.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	e.deps.Recorder.SetCachedPools(e.deps.Cache.Len())
	if loaded.Load() == 0 {
		return fmt.Errorf("none of %d configured pools could be loaded", len(e.cfg.Pools))
	}
	e.logger.Info("initial pool fetch complete",
		zap.Int64("loaded", loaded.Load()),
		zap.Int("configured", len(e.cfg.Pools)),
		zap.Uint64("head", e.Head()),
	)
	return nil
}

func (e *Engine) loadPool(ctx context.Context, pool common.Address, kind model.DexKind) error {
	var (
		state     model.PoolState
		snap      model.PoolSnapshot
		permanent error
	)
	err := withRetry(ctx, e.cfg.Retry, e.logger, "fetch pool", func(ctx context.Context) error {
		s, sn, err := e.deps.Fetcher.FetchPool(ctx, pool, kind)
		if err != nil && isPermanent(err) {
			permanent = err
			return nil
		}
		state, snap = s, sn
		return err
	})
	if err == nil {
		err = permanent
	}
	if err != nil {
		return err
	}
	e.deps.Cache.Upsert(state, snap)
	return nil
}

// refreshSnapshot refetches the dynamic state of a cached pool.
func (e *Engine) refreshSnapshot(ctx context.Context, pool common.Address) error {
	state, ok := e.deps.Cache.GetState(pool)
	if !ok {
		return fmt.Errorf("pool %s is not cached", pool.Hex())
	}
	var snap model.PoolSnapshot
	err := withRetry(ctx, e.cfg.Retry, e.logger, "refresh snapshot", func(ctx context.Context) error {
		var err error
		snap, err = e.deps.Fetcher.FetchSnapshot(ctx, state)
		return err
	})
	if err != nil {
		return err
	}
	e.deps.Cache.UpsertSnapshot(snap)
	return nil
}

func isPermanent(err error) bool {
	return errors.Is(err, dex.ErrPoolNotFound) ||
		errors.Is(err, dex.ErrPairMismatch) ||
		errors.Is(err, dex.ErrUnsupportedDex)
}

type pending struct {
	route  model.RouteCandidate
	sample model.LoanSample
	opp    model.Opportunity
}

// Evaluate runs one pass: route search, loan sizing for every candidate, persistence
// of each profitable opportunity, and submission of the most profitable one unless
// running dry. Per-candidate failures are logged and skipped.
func (e *Engine) Evaluate(ctx context.Context) (Report, error) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()
	defer e.deps.Recorder.ObserveEvaluation()

	fees, err := e.deps.Fees.Select(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("select fees: %w", err)
	}

	candidates := e.deps.Finder.Candidates()
	e.deps.Recorder.ObserveCandidates(len(candidates))
	report := Report{Candidates: len(candidates)}
	if len(candidates) == 0 {
		e.logger.Debug("no route candidates")
		return report, nil
	}
	e.logger.Info("evaluating route candidates",
		zap.Int("count", len(candidates)),
		zap.String("gas_price", fees.GasPrice.String()),
		zap.String("fee_source", fees.Source),
	)

	var best *pending
	for _, route := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		result, ok, err := e.deps.Loans.FindOptimalLoanAmount(ctx, route, fees.GasPrice)
		if err != nil {
			e.logger.Warn("loan search failed",
				zap.String("buy_pool", route.BuyPool.Hex()),
				zap.String("sell_pool", route.SellPool.Hex()),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			e.logger.Debug("no profitable loan amount",
				zap.String("buy_pool", route.BuyPool.Hex()),
				zap.String("sell_pool", route.SellPool.Hex()),
				zap.Int("samples", len(result.Samples)),
				zap.Int("failed", result.Failed),
			)
			continue
		}

		opp := e.opportunity(route, result.Best, fees.GasPrice)
		e.logger.Info("profitable opportunity",
			zap.String("id", opp.ID),
			zap.String("buy_pool", opp.BuyPool),
			zap.String("sell_pool", opp.SellPool),
			zap.String("loan", opp.LoanHuman),
			zap.String("net_profit", opp.NetProfit),
		)
		if err := e.deps.Sink.PutOpportunity(ctx, opp); err != nil {
			e.logger.Warn("persist opportunity failed", zap.String("id", opp.ID), zap.Error(err))
		}
		report.Opportunities = append(report.Opportunities, opp)

		if best == nil || result.Best.Profit.Cmp(best.sample.Profit) > 0 {
			best = &pending{route: route, sample: result.Best, opp: opp}
		}
	}
	if best == nil {
		return report, nil
	}
	e.deps.Recorder.SetBestProfit(pricing.BaseUnitsToAmount(best.sample.Profit, e.cfg.LoanDecimals))

	if e.cfg.DryRun || e.deps.Submitter == nil {
		e.logger.Info("dry run: not submitting", zap.String("id", best.opp.ID))
		return report, nil
	}
	sub := e.submit(ctx, best)
	report.Submission = &sub
	return report, nil
}

func (e *Engine) opportunity(route model.RouteCandidate, sample model.LoanSample, gasPrice *big.Int) model.Opportunity {
	now := time.Now().UTC()
	block := e.Head()

	var seed [16]byte
	binary.BigEndian.PutUint64(seed[:8], block)
	binary.BigEndian.PutUint64(seed[8:], uint64(now.UnixNano()))
	digest := crypto.Keccak256(route.BuyPool.Bytes(), route.SellPool.Bytes(), sample.Amount.Bytes(), seed[:])

	price := "0"
	if gasPrice != nil {
		price = gasPrice.String()
	}
	return model.Opportunity{
		ID:         fmt.Sprintf("%d-%x", block, digest[:6]),
		DetectedAt: now.Format(time.RFC3339Nano),
		Block:      block,
		BuyPool:    route.BuyPool.Hex(),
		SellPool:   route.SellPool.Hex(),
		BuyKind:    route.BuyKind.String(),
		SellKind:   route.SellKind.String(),
		BuyPrice:   route.BuyPrice,
		SellPrice:  route.SellPrice,
		LoanAmount: sample.Amount.String(),
		LoanHuman:  pricing.FormatUnits(sample.Amount, e.cfg.LoanDecimals),
		NetProfit:  sample.Profit.String(),
		GasPrice:   price,
		DryRun:     e.cfg.DryRun,
	}
}

func (e *Engine) submit(ctx context.Context, p *pending) model.Submission {
	sub := model.Submission{
		OpportunityID: p.opp.ID,
		SubmittedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		States:        []string{},
	}

	minProfit := flashloan.MinProfitGuard(p.sample.Profit, e.cfg.MinProfitBufferBps, e.cfg.MinProfitBufferWei)
	data, err := e.buildCall(p, minProfit)
	if err != nil {
		sub.Outcome = string(submit.StateFailedAll)
		sub.Error = err.Error()
		e.logger.Error("build flash-loan call failed", zap.String("id", p.opp.ID), zap.Error(err))
	} else {
		res, err := e.deps.Submitter.Submit(ctx, submit.Request{To: e.deps.Builder.Vault(), Data: data})
		sub.States = res.StateNames()
		sub.Outcome = string(res.Outcome)
		sub.Via = res.Via
		sub.Nonce = res.Nonce
		if res.TxHash != (common.Hash{}) {
			sub.TxHash = res.TxHash.Hex()
		}
		if res.Receipt != nil {
			sub.GasUsed = res.Receipt.GasUsed
			if res.Receipt.BlockNumber != nil {
				sub.Block = res.Receipt.BlockNumber.Uint64()
			}
		}
		if err != nil {
			sub.Error = err.Error()
		}
		e.logger.Info("submission finished",
			zap.String("id", p.opp.ID),
			zap.String("outcome", sub.Outcome),
			zap.String("tx_hash", sub.TxHash),
			zap.String("min_profit", minProfit.String()),
		)
	}
	sub.FinishedAt = time.Now().UTC().Format(time.RFC3339Nano)

	e.deps.Recorder.ObserveSubmission(sub.Outcome)
	if err := e.deps.Sink.PutSubmission(ctx, sub); err != nil {
		e.logger.Warn("persist submission failed", zap.String("id", p.opp.ID), zap.Error(err))
	}
	return sub
}

func (e *Engine) buildCall(p *pending, minProfit *big.Int) ([]byte, error) {
	salt, err := flashloan.NewSalt()
	if err != nil {
		return nil, err
	}
	return e.deps.Builder.Calldata(p.route, p.sample.Amount, minProfit, salt)
}
