package flashloan

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"arbScope/internal/dex"
	"arbScope/internal/model"
)

var (
	weth       = common.HexToAddress("0x4200000000000000000000000000000000000006")
	usdc       = common.HexToAddress("0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85")
	v3Pool     = common.HexToAddress("0xaaaa000000000000000000000000000000000001")
	cpPool     = common.HexToAddress("0xbbbb000000000000000000000000000000000002")
	cpFactory  = common.HexToAddress("0xF1046053aa5682b4F9a81b5481394DA16BE5FF5a")
	veloRouter = common.HexToAddress("0xa062aE8A9c5e11aaA026fc2670B0D65cCc8B2858")
	executor   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	vault      = common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")
)

type staticRouters map[common.Address]common.Address

func (r staticRouters) RouterFor(factory common.Address) common.Address {
	if router, ok := r[factory]; ok {
		return router
	}
	return common.Address{}
}

// buy in the v3 pool, sell into the constant-product pool.
func testRoute() model.RouteCandidate {
	fee := uint32(500)
	stable := false
	return model.RouteCandidate{
		BuyPool:          v3Pool,
		SellPool:         cpPool,
		BuyKind:          model.DexUniswapV3,
		SellKind:         model.DexVolatile,
		BuyToken0IsLoan:  true,
		SellToken0IsLoan: false,
		LoanToken:        weth,
		QuoteToken:       usdc,
		BuyFee:           &fee,
		SellStable:       &stable,
		SellFactory:      cpFactory,
	}
}

func TestUserDataWordLayout(t *testing.T) {
	data, err := UserData{
		FirstPool:         cpPool,
		SecondPool:        v3Pool,
		QuoteToken:        usdc,
		ZeroForOne:        true,
		FirstIsConstProd:  true,
		SecondIsConstProd: false,
		Router:            veloRouter,
		MinProfit:         big.NewInt(12345),
		Salt:              uint256.NewInt(7),
	}.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) != UserDataWords*32 {
		t.Fatalf("length = %d", len(data))
	}

	addrAt := func(word int) common.Address {
		w := data[word*32 : (word+1)*32]
		if !bytes.Equal(w[:12], make([]byte, 12)) {
			t.Fatalf("word %d is not left-padded", word)
		}
		return common.BytesToAddress(w[12:])
	}
	uintAt := func(word int) *big.Int {
		return new(big.Int).SetBytes(data[word*32 : (word+1)*32])
	}

	if addrAt(0) != cpPool || addrAt(1) != v3Pool || addrAt(2) != usdc || addrAt(6) != veloRouter {
		t.Fatalf("address words mismatch")
	}
	if uintAt(3).Int64() != 1 || uintAt(4).Int64() != 1 || uintAt(5).Int64() != 0 {
		t.Fatalf("flag words mismatch: %s %s %s", uintAt(3), uintAt(4), uintAt(5))
	}
	if uintAt(7).Int64() != 12345 || uintAt(8).Int64() != 7 {
		t.Fatalf("min profit or salt mismatch")
	}
}

func TestUserDataRejectsInvalidMinProfit(t *testing.T) {
	if _, err := (UserData{MinProfit: big.NewInt(-1)}).Encode(); err == nil {
		t.Fatalf("expected error for negative min profit")
	}
	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	if _, err := (UserData{MinProfit: tooBig}).Encode(); err == nil {
		t.Fatalf("expected error for overflowing min profit")
	}
	if _, err := DecodeUserData(make([]byte, 31)); err == nil {
		t.Fatalf("expected error for short user data")
	}
}

func TestBuilderCalldata(t *testing.T) {
	builder := NewBuilder(vault, executor, staticRouters{cpFactory: veloRouter})
	amount := big.NewInt(1_000_000_000_000_000_000)
	data, err := builder.Calldata(testRoute(), amount, big.NewInt(99), uint256.NewInt(5))
	if err != nil {
		t.Fatalf("calldata: %v", err)
	}

	parsed, err := dex.VaultABI()
	if err != nil {
		t.Fatalf("vault abi: %v", err)
	}
	method := parsed.Methods["flashLoan"]
	if !bytes.Equal(data[:4], method.ID) {
		t.Fatalf("selector mismatch")
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if values[0].(common.Address) != executor {
		t.Fatalf("recipient mismatch")
	}
	tokens := values[1].([]common.Address)
	amounts := values[2].([]*big.Int)
	if len(tokens) != 1 || tokens[0] != weth || amounts[0].Cmp(amount) != 0 {
		t.Fatalf("loan mismatch: %v %v", tokens, amounts)
	}

	ud, err := DecodeUserData(values[3].([]byte))
	if err != nil {
		t.Fatalf("decode user data: %v", err)
	}
	if ud.FirstPool != cpPool || ud.SecondPool != v3Pool {
		t.Fatalf("leg order mismatch: %s then %s", ud.FirstPool.Hex(), ud.SecondPool.Hex())
	}
	// WETH is token1 of the constant-product pool, so selling it swaps one for zero.
	if ud.ZeroForOne || !ud.FirstIsConstProd || ud.SecondIsConstProd {
		t.Fatalf("flags mismatch: %+v", ud)
	}
	if ud.Router != veloRouter || ud.MinProfit.Int64() != 99 || ud.Salt.Uint64() != 5 {
		t.Fatalf("tail words mismatch: %+v", ud)
	}

	if _, err := builder.Calldata(testRoute(), big.NewInt(0), nil, nil); err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

type recordingBackend struct {
	msg ethereum.CallMsg
}

func (b *recordingBackend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.msg = msg
	return 321000, nil
}

func TestEstimatorTargetsVault(t *testing.T) {
	backend := &recordingBackend{}
	from := common.HexToAddress("0x2000000000000000000000000000000000000002")
	est := NewEstimator(NewBuilder(vault, executor, staticRouters{}), backend, from, 0)

	units, err := est.EstimateGas(context.Background(), testRoute(), big.NewInt(1000))
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if units != 321000 {
		t.Fatalf("units = %d", units)
	}
	if backend.msg.To == nil || *backend.msg.To != vault || backend.msg.From != from {
		t.Fatalf("unexpected call msg: %+v", backend.msg)
	}
}

func TestMinProfitGuard(t *testing.T) {
	abs := big.NewInt(5_000_000_000_000)
	cases := []struct {
		name   string
		profit *big.Int
		want   *big.Int
	}{
		{"bps buffer dominates", big.NewInt(1_000_000_000_000_000_000), big.NewInt(999_000_000_000_000_000)},
		{"absolute buffer dominates", big.NewInt(10_000_000_000_000), big.NewInt(5_000_000_000_000)},
		{"buffer capped below profit", big.NewInt(1_000_000_000_000), big.NewInt(1)},
		{"zero profit", big.NewInt(0), big.NewInt(1)},
		{"negative profit", big.NewInt(-10), big.NewInt(1)},
	}
	for _, tc := range cases {
		got := MinProfitGuard(tc.profit, 10, abs)
		if got.Cmp(tc.want) != 0 {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}
