package submit

import (
	"context"
	"math/big"
	"time"

	"go.uber.org/zap"
)

// Fee sources, in fallback order.
const (
	FeeSourceFixed   = "fixed"
	FeeSourceEIP1559 = "eip1559"
	FeeSourceLegacy  = "legacy"
	FeeSourceConfig  = "config"
)

// FeeBackend is the chain fee oracle.
type FeeBackend interface {
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	SuggestFeeCap(ctx context.Context, tip *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Fees are the fee terms of one transaction. GasPrice is the per-gas price used for
// cost accounting; it never undercuts what the transaction may pay.
type Fees struct {
	TipCap   *big.Int
	FeeCap   *big.Int
	GasPrice *big.Int
	Source   string
}

// FeeConfig holds the configured fee bounds in wei.
type FeeConfig struct {
	FixedGasPrice       *big.Int
	MaxPriorityFee      *big.Int
	FallbackPriorityFee *big.Int
	Timeout             time.Duration
}

// FeeSelector picks fees from a fixed price, the EIP-1559 oracle, the legacy gas
// price or the configuration alone, in that order.
type FeeSelector struct {
	backend FeeBackend
	cfg     FeeConfig
	logger  *zap.Logger
}

func NewFeeSelector(backend FeeBackend, cfg FeeConfig, logger *zap.Logger) *FeeSelector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPriorityFee == nil {
		cfg.MaxPriorityFee = new(big.Int)
	}
	return &FeeSelector{backend: backend, cfg: cfg, logger: logger}
}

// Select returns fees for a new transaction. Oracle failures fall through the chain;
// Select only fails when ctx is done.
func (f *FeeSelector) Select(ctx context.Context) (Fees, error) {
	if fixed := f.cfg.FixedGasPrice; fixed != nil && fixed.Sign() > 0 {
		return Fees{
			TipCap:   new(big.Int).Set(fixed),
			FeeCap:   new(big.Int).Set(fixed),
			GasPrice: new(big.Int).Set(fixed),
			Source:   FeeSourceFixed,
		}, nil
	}

	fees, errDynamic := f.dynamic(ctx)
	if errDynamic == nil {
		return fees, nil
	}
	if err := ctx.Err(); err != nil {
		return Fees{}, err
	}
	f.logger.Warn("eip1559 fee estimation failed, trying legacy gas price", zap.Error(errDynamic))

	prio := f.fallbackPriority()
	price, errLegacy := f.legacyPrice(ctx)
	if errLegacy == nil {
		feeCap := new(big.Int).Add(price, prio)
		return Fees{TipCap: prio, FeeCap: feeCap, GasPrice: new(big.Int).Set(feeCap), Source: FeeSourceLegacy}, nil
	}
	if err := ctx.Err(); err != nil {
		return Fees{}, err
	}

	feeCap := new(big.Int).Mul(prio, big.NewInt(2))
	f.logger.Error("fee estimation failed, using configured fees only",
		zap.NamedError("eip1559_error", errDynamic),
		zap.NamedError("legacy_error", errLegacy),
		zap.String("max_fee", feeCap.String()),
		zap.String("max_priority_fee", prio.String()),
	)
	return Fees{TipCap: prio, FeeCap: feeCap, GasPrice: new(big.Int).Set(feeCap), Source: FeeSourceConfig}, nil
}

func (f *FeeSelector) dynamic(ctx context.Context) (Fees, error) {
	callCtx, cancel := f.withTimeout(ctx)
	defer cancel()

	tip, err := f.backend.SuggestGasTipCap(callCtx)
	if err != nil {
		return Fees{}, err
	}
	if tip.Cmp(f.cfg.MaxPriorityFee) > 0 {
		tip = new(big.Int).Set(f.cfg.MaxPriorityFee)
	}
	feeCap, err := f.backend.SuggestFeeCap(callCtx, tip)
	if err != nil {
		return Fees{}, err
	}
	if feeCap.Cmp(tip) < 0 {
		feeCap = new(big.Int).Set(tip)
	}
	return Fees{TipCap: tip, FeeCap: feeCap, GasPrice: new(big.Int).Set(feeCap), Source: FeeSourceEIP1559}, nil
}

func (f *FeeSelector) legacyPrice(ctx context.Context) (*big.Int, error) {
	callCtx, cancel := f.withTimeout(ctx)
	defer cancel()
	return f.backend.SuggestGasPrice(callCtx)
}

// fallbackPriority is the configured fallback tip, capped at the maximum tip.
func (f *FeeSelector) fallbackPriority() *big.Int {
	prio := f.cfg.MaxPriorityFee
	if fb := f.cfg.FallbackPriorityFee; fb != nil && fb.Sign() > 0 && fb.Cmp(prio) < 0 {
		prio = fb
	}
	return new(big.Int).Set(prio)
}

func (f *FeeSelector) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.cfg.Timeout)
}
