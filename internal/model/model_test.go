package model

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestParseDexKind(t *testing.T) {
	cases := map[string]DexKind{
		"univ3":      DexUniswapV3,
		" UniswapV3": DexUniswapV3,
		"velo":       DexVolatile,
		"aero":       DexVolatile,
		"stable":     DexStable,
	}
	for input, want := range cases {
		got, err := ParseDexKind(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s want %s", input, got, want)
		}
	}
	if _, err := ParseDexKind("curve"); err == nil {
		t.Fatalf("expected error for unknown kind")
	}
}

func TestDexKindJSON(t *testing.T) {
	state := PoolState{Kind: DexStable}
	b, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded PoolState
	if err := json.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Kind != DexStable {
		t.Fatalf("kind mismatch: %s", decoded.Kind)
	}
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	tick := int32(-10)
	snap := PoolSnapshot{Reserve0: big.NewInt(5), SqrtPriceX96: big.NewInt(7), Tick: &tick}
	clone := snap.Clone()
	snap.Reserve0.SetInt64(99)
	*snap.Tick = 3
	if clone.Reserve0.Int64() != 5 {
		t.Fatalf("reserve shared with original")
	}
	if *clone.Tick != -10 {
		t.Fatalf("tick shared with original")
	}
}

func TestRouteLegs(t *testing.T) {
	loan := common.HexToAddress("0x01")
	quote := common.HexToAddress("0x02")
	route := RouteCandidate{
		BuyPool:          common.HexToAddress("0xaa"),
		SellPool:         common.HexToAddress("0xbb"),
		BuyToken0IsLoan:  true,
		SellToken0IsLoan: false,
		LoanToken:        loan,
		QuoteToken:       quote,
	}
	legs := route.Legs()
	if legs[0].Pool != route.SellPool || legs[0].TokenIn != loan || legs[0].TokenOut != quote {
		t.Fatalf("first leg mismatch: %+v", legs[0])
	}
	if legs[0].ZeroForOne {
		t.Fatalf("loan is token1 in sell pool, first leg must be oneForZero")
	}
	if legs[1].Pool != route.BuyPool || legs[1].TokenIn != quote || legs[1].TokenOut != loan {
		t.Fatalf("second leg mismatch: %+v", legs[1])
	}
	if legs[1].ZeroForOne {
		t.Fatalf("quote is token1 in buy pool, second leg must be oneForZero")
	}
}
