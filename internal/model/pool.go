package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PoolState holds static pool metadata.
type PoolState struct {
	Address      common.Address `json:"address"`
	Kind         DexKind        `json:"kind"`
	Token0       common.Address `json:"token0"`
	Token1       common.Address `json:"token1"`
	Fee          *uint32        `json:"fee,omitempty"`
	Stable       *bool          `json:"stable,omitempty"`
	Factory      common.Address `json:"factory"`
	Token0IsLoan bool           `json:"token0_is_loan"`
}

// HasPair reports whether the pool holds exactly the tokens a and b.
func (s PoolState) HasPair(a, b common.Address) bool {
	return (s.Token0 == a && s.Token1 == b) || (s.Token0 == b && s.Token1 == a)
}

// PoolSnapshot holds the latest dynamic pool state. Nil fields do not apply to the pool's kind.
type PoolSnapshot struct {
	Address      common.Address `json:"address"`
	Kind         DexKind        `json:"kind"`
	Token0       common.Address `json:"token0"`
	Token1       common.Address `json:"token1"`
	Reserve0     *big.Int       `json:"reserve0,omitempty"`
	Reserve1     *big.Int       `json:"reserve1,omitempty"`
	SqrtPriceX96 *big.Int       `json:"sqrt_price_x96,omitempty"`
	Tick         *int32         `json:"tick,omitempty"`
	Block        *uint64        `json:"block,omitempty"`
}

// Clone returns a deep copy so stored snapshots never share mutable integers.
func (s PoolSnapshot) Clone() PoolSnapshot {
	out := s
	out.Reserve0 = cloneInt(s.Reserve0)
	out.Reserve1 = cloneInt(s.Reserve1)
	out.SqrtPriceX96 = cloneInt(s.SqrtPriceX96)
	if s.Tick != nil {
		tick := *s.Tick
		out.Tick = &tick
	}
	if s.Block != nil {
		block := *s.Block
		out.Block = &block
	}
	return out
}

// ReserveOf returns the reserve held for token, if the snapshot carries reserves.
func (s PoolSnapshot) ReserveOf(token common.Address) (*big.Int, bool) {
	switch token {
	case s.Token0:
		return s.Reserve0, s.Reserve0 != nil
	case s.Token1:
		return s.Reserve1, s.Reserve1 != nil
	default:
		return nil, false
	}
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
