package model

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RouteCandidate is a buy/sell pool pair whose prices diverge past the search threshold.
// The buy pool prices the loan token lowest, the sell pool highest.
type RouteCandidate struct {
	BuyPool          common.Address `json:"buy_pool"`
	SellPool         common.Address `json:"sell_pool"`
	BuyKind          DexKind        `json:"buy_kind"`
	SellKind         DexKind        `json:"sell_kind"`
	BuyToken0IsLoan  bool           `json:"buy_token0_is_loan"`
	SellToken0IsLoan bool           `json:"sell_token0_is_loan"`
	LoanToken        common.Address `json:"loan_token"`
	QuoteToken       common.Address `json:"quote_token"`
	BuyFee           *uint32        `json:"buy_fee,omitempty"`
	SellFee          *uint32        `json:"sell_fee,omitempty"`
	BuyStable        *bool          `json:"buy_stable,omitempty"`
	SellStable       *bool          `json:"sell_stable,omitempty"`
	BuyFactory       common.Address `json:"buy_factory"`
	SellFactory      common.Address `json:"sell_factory"`
	BuyPrice         float64        `json:"buy_price"`
	SellPrice        float64        `json:"sell_price"`
}

// Leg is one swap of a route, with everything needed to quote it.
type Leg struct {
	Pool       common.Address
	Kind       DexKind
	TokenIn    common.Address
	TokenOut   common.Address
	ZeroForOne bool
	Fee        *uint32
	Stable     *bool
	Factory    common.Address
}

// Legs returns the route's swaps in execution order: the loan token is sold into
// the sell pool, and the proceeds buy it back from the buy pool.
func (r RouteCandidate) Legs() [2]Leg {
	return [2]Leg{
		{
			Pool:       r.SellPool,
			Kind:       r.SellKind,
			TokenIn:    r.LoanToken,
			TokenOut:   r.QuoteToken,
			ZeroForOne: r.SellToken0IsLoan,
			Fee:        r.SellFee,
			Stable:     r.SellStable,
			Factory:    r.SellFactory,
		},
		{
			Pool:       r.BuyPool,
			Kind:       r.BuyKind,
			TokenIn:    r.QuoteToken,
			TokenOut:   r.LoanToken,
			ZeroForOne: !r.BuyToken0IsLoan,
			Fee:        r.BuyFee,
			Stable:     r.BuyStable,
			Factory:    r.BuyFactory,
		},
	}
}

// LoanSample is one point of the loan-size grid, both values in loan-token base units.
type LoanSample struct {
	Amount *big.Int `json:"amount"`
	Profit *big.Int `json:"profit"`
}
