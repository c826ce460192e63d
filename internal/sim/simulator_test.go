package sim

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"arbScope/internal/model"
)

var (
	weth     = common.HexToAddress("0x4200000000000000000000000000000000000006")
	usdc     = common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85")
	buyPool  = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	sellPool = common.HexToAddress("0xbbbb000000000000000000000000000000000002")
)

type quoteFunc func(leg model.Leg, amountIn *big.Int) (*big.Int, error)

func (f quoteFunc) Quote(_ context.Context, leg model.Leg, amountIn *big.Int) (*big.Int, error) {
	return f(leg, amountIn)
}

type fakeGas struct {
	units uint64
	err   error
	calls atomic.Int32
}

func (g *fakeGas) EstimateGas(context.Context, model.RouteCandidate, *big.Int) (uint64, error) {
	g.calls.Add(1)
	return g.units, g.err
}

func testRoute() model.RouteCandidate {
	fee := uint32(500)
	stable := false
	return model.RouteCandidate{
		BuyPool:          buyPool,
		SellPool:         sellPool,
		BuyKind:          model.DexUniswapV3,
		SellKind:         model.DexVolatile,
		BuyToken0IsLoan:  true,
		SellToken0IsLoan: false,
		LoanToken:        weth,
		QuoteToken:       usdc,
		BuyFee:           &fee,
		SellStable:       &stable,
	}
}

// twoLegQuoter converts at sellRate on the first leg and back at buyRate plus bonus.
func twoLegQuoter(bonus int64) quoteFunc {
	return func(leg model.Leg, amountIn *big.Int) (*big.Int, error) {
		if leg.Pool == sellPool {
			return new(big.Int).Mul(amountIn, big.NewInt(2)), nil
		}
		out := new(big.Int).Quo(amountIn, big.NewInt(2))
		return out.Add(out, big.NewInt(bonus)), nil
	}
}

func TestCalculateNetProfitSubtractsGasAndFee(t *testing.T) {
	gas := &fakeGas{units: 250000}
	s := NewSimulator(twoLegQuoter(1_000_000_000), gas, Config{
		GasBufferPercent: 20,
		MinGasLimit:      200000,
		FallbackGasLimit: 500000,
		FlashLoanFeeBps:  1,
	}, zap.NewNop())

	amount := big.NewInt(1_000_000_000_000)
	profit, err := s.CalculateNetProfit(context.Background(), testRoute(), amount, big.NewInt(1000))
	require.NoError(t, err)

	// gross 1e9, gas 300000*1000, fee 1e12*1/10000
	want := big.NewInt(1_000_000_000 - 300_000_000 - 100_000_000)
	assert.Equal(t, 0, want.Cmp(profit), "got %s", profit)
	assert.EqualValues(t, 1, gas.calls.Load())
}

func TestCalculateNetProfitSkipsGasWhenGrossNotPositive(t *testing.T) {
	gas := &fakeGas{units: 100000}
	s := NewSimulator(twoLegQuoter(-5), gas, Config{MinGasLimit: 200000}, nil)

	profit, err := s.CalculateNetProfit(context.Background(), testRoute(), big.NewInt(1000), big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, int64(-5), profit.Int64())
	assert.EqualValues(t, 0, gas.calls.Load())
}

func TestCalculateNetProfitZeroFirstLeg(t *testing.T) {
	gas := &fakeGas{units: 100000}
	quoter := quoteFunc(func(model.Leg, *big.Int) (*big.Int, error) { return big.NewInt(0), nil })
	s := NewSimulator(quoter, gas, Config{}, nil)

	profit, err := s.CalculateNetProfit(context.Background(), testRoute(), big.NewInt(1000), big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, 0, MinProfit().Cmp(profit))
	assert.EqualValues(t, 0, gas.calls.Load())
}

func TestCalculateNetProfitPropagatesQuoteError(t *testing.T) {
	quoteErr := errors.New("insufficient liquidity")
	quoter := quoteFunc(func(leg model.Leg, amountIn *big.Int) (*big.Int, error) {
		if leg.Pool == buyPool {
			return nil, quoteErr
		}
		return amountIn, nil
	})
	s := NewSimulator(quoter, &fakeGas{}, Config{}, nil)

	_, err := s.CalculateNetProfit(context.Background(), testRoute(), big.NewInt(1000), big.NewInt(1))
	require.ErrorIs(t, err, quoteErr)
}

func TestGasLimitFallsBackOnEstimateFailure(t *testing.T) {
	s := NewSimulator(nil, &fakeGas{err: errors.New("execution reverted")}, Config{
		GasBufferPercent: 20,
		MinGasLimit:      200000,
		FallbackGasLimit: 500000,
	}, nil)
	assert.EqualValues(t, 600000, s.GasLimit(context.Background(), testRoute(), big.NewInt(1)))
}

func TestBufferedGasLimit(t *testing.T) {
	assert.EqualValues(t, 240000, BufferedGasLimit(200000, 20, 100000))
	assert.EqualValues(t, 200000, BufferedGasLimit(100000, 20, 200000))
	assert.EqualValues(t, 150000, BufferedGasLimit(150000, 0, 0))
	assert.Equal(t, ^uint64(0), BufferedGasLimit(^uint64(0), 20, 0))
}
