package sim

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"arbScope/internal/model"
	"arbScope/internal/pricing"
)

// Sample outcomes reported to the Recorder.
const (
	SampleProfitable   = "profitable"
	SampleUnprofitable = "unprofitable"
	SampleFailed       = "failed"
)

// ProfitSimulator is the part of Simulator the loan search depends on.
type ProfitSimulator interface {
	CalculateNetProfit(ctx context.Context, route model.RouteCandidate, amountIn, gasPrice *big.Int) (*big.Int, error)
}

// SnapshotSource reads pool snapshots for the dynamic loan cap.
type SnapshotSource interface {
	GetSnapshot(pool common.Address) (model.PoolSnapshot, bool)
}

// LoanConfig bounds the loan-size search. MinLoan and MaxLoan are in loan-token units.
type LoanConfig struct {
	MinLoan           float64
	MaxLoan           float64
	LoanDecimals      uint8
	Iterations        int
	Concurrency       int
	DynamicCapPercent uint64
}

// LoanResult is the outcome of one search.
type LoanResult struct {
	Best         model.LoanSample
	EffectiveMax *big.Int
	Samples      []model.LoanSample
	Failed       int
}

// LoanSearcher runs a coarse grid search over loan sizes.
type LoanSearcher struct {
	sim       ProfitSimulator
	snapshots SnapshotSource
	cfg       LoanConfig
	logger    *zap.Logger
	recorder  Recorder
}

func NewLoanSearcher(sim ProfitSimulator, snapshots SnapshotSource, cfg LoanConfig, logger *zap.Logger) *LoanSearcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &LoanSearcher{
		sim:       sim,
		snapshots: snapshots,
		cfg:       cfg,
		logger:    logger,
		recorder:  nopRecorder{},
	}
}

// SetRecorder attaches a measurement sink.
func (l *LoanSearcher) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	l.recorder = r
}

// FindOptimalLoanAmount samples the configured range and returns the sample with the
// highest net profit. ok is false when no sample is profitable. Failed samples are
// excluded; only invalid bounds return an error.
func (l *LoanSearcher) FindOptimalLoanAmount(ctx context.Context, route model.RouteCandidate, gasPrice *big.Int) (LoanResult, bool, error) {
	minLoan, err := pricing.AmountToBaseUnits(l.cfg.MinLoan, l.cfg.LoanDecimals)
	if err != nil {
		return LoanResult{}, false, fmt.Errorf("min loan: %w", err)
	}
	maxLoan, err := pricing.AmountToBaseUnits(l.cfg.MaxLoan, l.cfg.LoanDecimals)
	if err != nil {
		return LoanResult{}, false, fmt.Errorf("max loan: %w", err)
	}

	effMax := maxLoan
	if dynCap := l.DynamicCap(route); dynCap != nil && dynCap.Cmp(effMax) < 0 {
		effMax = dynCap
	}

	amounts := SampleAmounts(minLoan, effMax, l.cfg.Iterations)
	result := LoanResult{EffectiveMax: effMax}
	l.logger.Info("searching optimal loan amount",
		zap.String("buy_pool", route.BuyPool.Hex()),
		zap.String("sell_pool", route.SellPool.Hex()),
		zap.String("min", pricing.FormatUnits(minLoan, l.cfg.LoanDecimals)),
		zap.String("effective_max", pricing.FormatUnits(effMax, l.cfg.LoanDecimals)),
		zap.Int("samples", len(amounts)),
	)
	if len(amounts) == 0 {
		return result, false, nil
	}

	profits := make([]*big.Int, len(amounts))
	var g errgroup.Group
	g.SetLimit(l.cfg.Concurrency)
	for i, amount := range amounts {
		i, amount := i, amount
		g.Go(func() error {
			profit, err := l.sim.CalculateNetProfit(ctx, route, amount, gasPrice)
			if err != nil {
				l.recorder.ObserveSample(SampleFailed)
				l.logger.Warn("loan sample failed",
					zap.String("amount", amount.String()),
					zap.Error(err),
				)
				return nil
			}
			if profit.Sign() > 0 {
				l.recorder.ObserveSample(SampleProfitable)
			} else {
				l.recorder.ObserveSample(SampleUnprofitable)
			}
			profits[i] = profit
			return nil
		})
	}
	_ = g.Wait()

	best := -1
	for i, profit := range profits {
		if profit == nil {
			result.Failed++
			continue
		}
		result.Samples = append(result.Samples, model.LoanSample{Amount: amounts[i], Profit: profit})
		if best < 0 || profit.Cmp(profits[best]) > 0 {
			best = i
		}
	}

	if best < 0 || profits[best].Sign() <= 0 {
		l.logger.Info("no profitable loan amount in range",
			zap.Int("evaluated", len(result.Samples)),
			zap.Int("failed", result.Failed),
		)
		return result, false, ctx.Err()
	}

	result.Best = model.LoanSample{Amount: amounts[best], Profit: profits[best]}
	l.logger.Info("optimal loan amount found",
		zap.String("loan", pricing.FormatUnits(result.Best.Amount, l.cfg.LoanDecimals)),
		zap.String("net_profit", pricing.FormatUnits(result.Best.Profit, l.cfg.LoanDecimals)),
	)
	return result, true, nil
}

// DynamicCap bounds the loan by a share of the buy pool's loan-token reserve.
// It returns nil when no cap applies.
func (l *LoanSearcher) DynamicCap(route model.RouteCandidate) *big.Int {
	if l.snapshots == nil {
		return nil
	}
	switch {
	case route.BuyKind.IsConstantProduct():
		snap, ok := l.snapshots.GetSnapshot(route.BuyPool)
		if !ok {
			l.logger.Warn("no snapshot for dynamic cap, using configured max", zap.String("pool", route.BuyPool.Hex()))
			return nil
		}
		reserve, ok := snap.ReserveOf(route.LoanToken)
		if !ok {
			l.logger.Error("loan token reserve missing for dynamic cap",
				zap.String("pool", route.BuyPool.Hex()),
				zap.String("loan_token", route.LoanToken.Hex()),
			)
			return nil
		}
		limit := new(big.Int).Mul(reserve, new(big.Int).SetUint64(l.cfg.DynamicCapPercent))
		return limit.Quo(limit, big.NewInt(100))
	case route.BuyKind == model.DexUniswapV3:
		l.logger.Warn("concentrated liquidity depth is not analysed, using configured max loan",
			zap.String("pool", route.BuyPool.Hex()),
		)
		return nil
	default:
		return nil
	}
}

// SampleAmounts returns n amounts spaced evenly over [lo, hi] inclusive, or the
// midpoint when n is 1. Zero amounts and amounts outside the range are dropped.
func SampleAmounts(lo, hi *big.Int, n int) []*big.Int {
	if n < 1 || lo == nil || hi == nil {
		return nil
	}
	span := new(big.Int).Sub(hi, lo)
	out := make([]*big.Int, 0, n)
	for i := 0; i < n; i++ {
		var amount *big.Int
		if n == 1 {
			amount = new(big.Int).Quo(span, big.NewInt(2))
		} else {
			amount = new(big.Int).Mul(span, big.NewInt(int64(i)))
			amount.Quo(amount, big.NewInt(int64(n-1)))
		}
		amount.Add(amount, lo)
		if amount.Sign() == 0 || amount.Cmp(lo) < 0 || amount.Cmp(hi) > 0 {
			continue
		}
		out = append(out, amount)
	}
	return out
}
