// Package sim simulates arbitrage routes and searches for the most profitable loan size.
package sim

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"arbScope/internal/model"
)

// SwapQuoter quotes one swap leg.
type SwapQuoter interface {
	Quote(ctx context.Context, leg model.Leg, amountIn *big.Int) (*big.Int, error)
}

// GasEstimator estimates gas units for the flash-loan call that executes route with amount.
type GasEstimator interface {
	EstimateGas(ctx context.Context, route model.RouteCandidate, amount *big.Int) (uint64, error)
}

// Recorder receives simulation measurements. Metrics implement it.
type Recorder interface {
	ObserveQuote(kind model.DexKind, elapsed time.Duration, err error)
	ObserveSample(result string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveQuote(model.DexKind, time.Duration, error) {}
func (nopRecorder) ObserveSample(string)                             {}

// MinProfit returns the smallest representable signed 256-bit profit. It marks a route
// whose first leg produced nothing.
func MinProfit() *big.Int {
	return new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 255))
}

// Config holds the gas and fee terms of a simulation.
type Config struct {
	GasBufferPercent uint64
	MinGasLimit      uint64
	FallbackGasLimit uint64
	FlashLoanFeeBps  uint64
}

// Simulator computes the net profit of a route for a given loan amount.
type Simulator struct {
	quoter   SwapQuoter
	gas      GasEstimator
	cfg      Config
	logger   *zap.Logger
	recorder Recorder
}

func NewSimulator(quoter SwapQuoter, gas GasEstimator, cfg Config, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		quoter:   quoter,
		gas:      gas,
		cfg:      cfg,
		logger:   logger,
		recorder: nopRecorder{},
	}
}

// SetRecorder attaches a measurement sink.
func (s *Simulator) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	s.recorder = r
}

// SimulateSwap quotes a single leg. Quote errors are returned unchanged in the chain.
func (s *Simulator) SimulateSwap(ctx context.Context, leg model.Leg, amountIn *big.Int) (*big.Int, error) {
	start := time.Now()
	out, err := s.quoter.Quote(ctx, leg, amountIn)
	s.recorder.ObserveQuote(leg.Kind, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CalculateNetProfit runs both legs of route for amountIn and returns
// final - amountIn - gasLimit*gasPrice - flash-loan fee. Routes that lose money before
// gas skip the gas estimate.
func (s *Simulator) CalculateNetProfit(ctx context.Context, route model.RouteCandidate, amountIn, gasPrice *big.Int) (*big.Int, error) {
	legs := route.Legs()

	mid, err := s.SimulateSwap(ctx, legs[0], amountIn)
	if err != nil {
		return nil, fmt.Errorf("first leg %s: %w", legs[0].Pool.Hex(), err)
	}
	if mid.Sign() == 0 {
		return MinProfit(), nil
	}

	final, err := s.SimulateSwap(ctx, legs[1], mid)
	if err != nil {
		return nil, fmt.Errorf("second leg %s: %w", legs[1].Pool.Hex(), err)
	}

	gross := new(big.Int).Sub(final, amountIn)
	if gross.Sign() <= 0 {
		return gross, nil
	}

	gasLimit := s.GasLimit(ctx, route, amountIn)
	net := gross
	if gasPrice != nil {
		gasCost := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
		net.Sub(net, gasCost)
	}
	if s.cfg.FlashLoanFeeBps > 0 {
		fee := new(big.Int).Mul(amountIn, new(big.Int).SetUint64(s.cfg.FlashLoanFeeBps))
		fee.Quo(fee, big.NewInt(10000))
		net.Sub(net, fee)
	}

	s.logger.Debug("simulated route",
		zap.String("amount_in", amountIn.String()),
		zap.String("final", final.String()),
		zap.Uint64("gas_limit", gasLimit),
		zap.String("net_profit", net.String()),
	)
	return net, nil
}

// GasLimit estimates gas for the route's flash-loan call, falling back to the
// configured limit when estimation fails, then applies the buffer and floor.
func (s *Simulator) GasLimit(ctx context.Context, route model.RouteCandidate, amount *big.Int) uint64 {
	estimate := s.cfg.FallbackGasLimit
	if s.gas != nil {
		units, err := s.gas.EstimateGas(ctx, route, amount)
		if err != nil {
			s.logger.Warn("gas estimate failed, using fallback",
				zap.String("buy_pool", route.BuyPool.Hex()),
				zap.String("sell_pool", route.SellPool.Hex()),
				zap.Uint64("fallback", estimate),
				zap.Error(err),
			)
		} else {
			estimate = units
		}
	}
	return BufferedGasLimit(estimate, s.cfg.GasBufferPercent, s.cfg.MinGasLimit)
}

// BufferedGasLimit returns estimate*(100+bufferPercent)/100, raised to floor.
func BufferedGasLimit(estimate, bufferPercent, floor uint64) uint64 {
	limit := new(big.Int).SetUint64(estimate)
	limit.Mul(limit, new(big.Int).SetUint64(100+bufferPercent))
	limit.Quo(limit, big.NewInt(100))
	if !limit.IsUint64() {
		return ^uint64(0)
	}
	if v := limit.Uint64(); v > floor {
		return v
	}
	return floor
}
