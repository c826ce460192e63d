// Package route finds buy/sell pool pairs whose prices for the target pair diverge.
package route

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"arbScope/internal/cache"
	"arbScope/internal/model"
	"arbScope/internal/pricing"
)

var errNoPrice = errors.New("no usable price")

// Config describes the target pair and the minimum price gap worth simulating.
type Config struct {
	LoanToken     common.Address
	QuoteToken    common.Address
	LoanDecimals  uint8
	QuoteDecimals uint8
	// Threshold is in quote-token units per loan token.
	Threshold float64
}

// Finder scans the pool cache for route candidates.
type Finder struct {
	cache  *cache.PoolCache
	cfg    Config
	logger *zap.Logger
}

func NewFinder(poolCache *cache.PoolCache, cfg Config, logger *zap.Logger) *Finder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finder{cache: poolCache, cfg: cfg, logger: logger}
}

type pricedPool struct {
	state model.PoolState
	price float64
}

// Candidates returns every ordered pool pair (A, B) holding the target pair where
// price(B) - price(A) exceeds the threshold, with A as the buy pool. Pools without a
// usable price are skipped. The result carries no profitability order.
func (f *Finder) Candidates() []model.RouteCandidate {
	pools := f.pricedPools()
	if len(pools) < 2 {
		return nil
	}

	var out []model.RouteCandidate
	for i := range pools {
		for j := range pools {
			if i == j || pools[i].state.Address == pools[j].state.Address {
				continue
			}
			buy, sell := pools[i], pools[j]
			if sell.price-buy.price <= f.cfg.Threshold {
				continue
			}
			out = append(out, f.candidate(buy, sell))
			f.logger.Debug("route candidate",
				zap.String("buy_pool", buy.state.Address.Hex()),
				zap.String("sell_pool", sell.state.Address.Hex()),
				zap.Float64("buy_price", buy.price),
				zap.Float64("sell_price", sell.price),
			)
		}
	}
	return out
}

func (f *Finder) pricedPools() []pricedPool {
	states := f.cache.States()
	pools := make([]pricedPool, 0, len(states))
	for _, state := range states {
		if !state.HasPair(f.cfg.LoanToken, f.cfg.QuoteToken) {
			continue
		}
		snap, ok := f.cache.GetSnapshot(state.Address)
		if !ok {
			f.logger.Warn("pool has no snapshot, skipping", zap.String("pool", state.Address.Hex()))
			continue
		}
		price, err := f.DirectionalPrice(state, snap)
		if err != nil {
			f.logger.Warn("pool price unavailable, skipping",
				zap.String("pool", state.Address.Hex()),
				zap.Stringer("kind", state.Kind),
				zap.Error(err),
			)
			continue
		}
		pools = append(pools, pricedPool{state: state, price: price})
	}
	return pools
}

// DirectionalPrice returns the quote-token price of one loan token in the pool.
func (f *Finder) DirectionalPrice(state model.PoolState, snap model.PoolSnapshot) (float64, error) {
	loanIsToken0 := state.Token0 == f.cfg.LoanToken
	d0, d1 := f.cfg.QuoteDecimals, f.cfg.LoanDecimals
	if loanIsToken0 {
		d0, d1 = f.cfg.LoanDecimals, f.cfg.QuoteDecimals
	}

	var price float64
	var err error
	switch {
	case state.Kind == model.DexUniswapV3:
		if snap.SqrtPriceX96 == nil {
			return 0, fmt.Errorf("%w: missing sqrt price", errNoPrice)
		}
		price, err = pricing.PriceFromSqrt(snap.SqrtPriceX96, d0, d1)
	case state.Kind.IsConstantProduct():
		if snap.Reserve0 == nil || snap.Reserve1 == nil {
			return 0, fmt.Errorf("%w: missing reserves", errNoPrice)
		}
		price, err = pricing.PriceFromReserves(snap.Reserve0, snap.Reserve1, d0, d1)
	default:
		return 0, fmt.Errorf("%w: unsupported kind %s", errNoPrice, state.Kind)
	}
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: pool uninitialized", errNoPrice)
	}
	if loanIsToken0 {
		return price, nil
	}
	return 1 / price, nil
}

func (f *Finder) candidate(buy, sell pricedPool) model.RouteCandidate {
	return model.RouteCandidate{
		BuyPool:          buy.state.Address,
		SellPool:         sell.state.Address,
		BuyKind:          buy.state.Kind,
		SellKind:         sell.state.Kind,
		BuyToken0IsLoan:  buy.state.Token0 == f.cfg.LoanToken,
		SellToken0IsLoan: sell.state.Token0 == f.cfg.LoanToken,
		LoanToken:        f.cfg.LoanToken,
		QuoteToken:       f.cfg.QuoteToken,
		BuyFee:           buy.state.Fee,
		SellFee:          sell.state.Fee,
		BuyStable:        buy.state.Stable,
		SellStable:       sell.state.Stable,
		BuyFactory:       buy.state.Factory,
		SellFactory:      sell.state.Factory,
		BuyPrice:         buy.price,
		SellPrice:        sell.price,
	}
}
