package dex

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"arbScope/internal/model"
)

var (
	// ErrQuote wraps every failure to obtain a swap quote.
	ErrQuote = errors.New("quote failed")
	// ErrInsufficientLiquidity marks a router revert for a trade the pool cannot fill.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
)

type quoteExactInputSingleParams struct {
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int
	Fee               *big.Int
	SqrtPriceLimitX96 *big.Int
}

type routerRoute struct {
	From    common.Address
	To      common.Address
	Stable  bool
	Factory common.Address
}

// Quoter prices single swap legs through on-chain quoting contracts.
type Quoter struct {
	caller        Caller
	quoter        common.Address
	defaultRouter common.Address
	routers       map[common.Address]common.Address
	timeout       time.Duration
}

// NewQuoter builds a quoter. routers maps a pool factory to the router that
// serves its pools; factories not listed use defaultRouter.
func NewQuoter(caller Caller, quoter, defaultRouter common.Address, routers map[common.Address]common.Address, timeout time.Duration) *Quoter {
	copied := make(map[common.Address]common.Address, len(routers))
	for factory, router := range routers {
		copied[factory] = router
	}
	return &Quoter{
		caller:        caller,
		quoter:        quoter,
		defaultRouter: defaultRouter,
		routers:       copied,
		timeout:       timeout,
	}
}

// RouterFor returns the router used for pools created by factory.
func (q *Quoter) RouterFor(factory common.Address) common.Address {
	if router, ok := q.routers[factory]; ok {
		return router
	}
	return q.defaultRouter
}

// Quote returns the output amount for swapping amountIn along leg.
func (q *Quoter) Quote(ctx context.Context, leg model.Leg, amountIn *big.Int) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, fmt.Errorf("%w: amount in must be positive", ErrQuote)
	}
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	switch {
	case leg.Kind == model.DexUniswapV3:
		return q.quoteV3(ctx, leg, amountIn)
	case leg.Kind.IsConstantProduct():
		return q.quoteConstantProduct(ctx, leg, amountIn)
	default:
		return nil, fmt.Errorf("%w: %w: %s", ErrQuote, ErrUnsupportedDex, leg.Kind)
	}
}

func (q *Quoter) quoteV3(ctx context.Context, leg model.Leg, amountIn *big.Int) (*big.Int, error) {
	if leg.Fee == nil {
		return nil, fmt.Errorf("%w: pool %s has no fee tier", ErrQuote, leg.Pool.Hex())
	}
	parsed, err := QuoterV2ABI()
	if err != nil {
		return nil, fmt.Errorf("parse quoter abi: %w", err)
	}
	params := quoteExactInputSingleParams{
		TokenIn:           leg.TokenIn,
		TokenOut:          leg.TokenOut,
		AmountIn:          amountIn,
		Fee:               new(big.Int).SetUint64(uint64(*leg.Fee)),
		SqrtPriceLimitX96: new(big.Int),
	}
	values, err := callMethod(ctx, q.caller, q.quoter, parsed, "quoteExactInputSingle", nil, params)
	if err != nil {
		return nil, quoteError(leg, err)
	}
	out, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("%w: amountOut: %w", ErrQuote, err)
	}
	return out, nil
}

func (q *Quoter) quoteConstantProduct(ctx context.Context, leg model.Leg, amountIn *big.Int) (*big.Int, error) {
	stable := leg.Kind == model.DexStable
	if leg.Stable != nil {
		stable = *leg.Stable
	}
	parsed, err := RouterABI()
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	routes := []routerRoute{{
		From:    leg.TokenIn,
		To:      leg.TokenOut,
		Stable:  stable,
		Factory: leg.Factory,
	}}
	values, err := callMethod(ctx, q.caller, q.RouterFor(leg.Factory), parsed, "getAmountsOut", nil, amountIn, routes)
	if err != nil {
		return nil, quoteError(leg, err)
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: getAmountsOut: unsupported type %T", ErrQuote, values[0])
	}
	if len(amounts) < 2 {
		return nil, fmt.Errorf("%w: getAmountsOut returned %d amounts", ErrQuote, len(amounts))
	}
	return new(big.Int).Set(amounts[len(amounts)-1]), nil
}

func quoteError(leg model.Leg, err error) error {
	if strings.Contains(err.Error(), "INSUFFICIENT_LIQUIDITY") {
		return fmt.Errorf("%w: %s pool %s: %w", ErrQuote, leg.Kind, leg.Pool.Hex(), ErrInsufficientLiquidity)
	}
	return fmt.Errorf("%w: %s pool %s: %w", ErrQuote, leg.Kind, leg.Pool.Hex(), err)
}
