package dex

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"arbScope/internal/model"
)

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func TestDecodeV3Swap(t *testing.T) {
	poolABI := mustABI(t, V3PoolABI)
	decoder, err := NewEventDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	pool := common.HexToAddress("0x1111111111111111111111111111111111111111")
	data, err := poolABI.Events["Swap"].Inputs.NonIndexed().Pack(
		big.NewInt(-1000),
		big.NewInt(2000),
		big.NewInt(123456789),
		big.NewInt(987654321),
		big.NewInt(-15),
	)
	if err != nil {
		t.Fatalf("pack swap: %v", err)
	}
	log := types.Log{
		Address:     pool,
		Topics:      []common.Hash{poolABI.Events["Swap"].ID, topicFromAddress(otherToken), topicFromAddress(otherToken)},
		Data:        data,
		BlockNumber: 42,
		Index:       3,
	}

	if !decoder.CanDecode(log.Topics[0]) {
		t.Fatalf("swap topic not recognised")
	}
	ev, err := decoder.Decode(log)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Kind != EventV3Swap || ev.Pool != pool || ev.Block != 42 || ev.LogIndex != 3 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.SqrtPriceX96.Int64() != 123456789 || ev.Tick != -15 {
		t.Fatalf("unexpected price fields: %s %d", ev.SqrtPriceX96, ev.Tick)
	}

	log.Topics = log.Topics[:2]
	if _, err := decoder.Decode(log); err == nil {
		t.Fatalf("expected topic count error")
	}
}

func TestDecodeSyncAndConstantProductSwap(t *testing.T) {
	poolABI := mustABI(t, CPPoolABI)
	decoder, err := NewEventDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	pool := common.HexToAddress("0x2222222222222222222222222222222222222222")

	data, err := poolABI.Events["Sync"].Inputs.NonIndexed().Pack(big.NewInt(7), big.NewInt(11))
	if err != nil {
		t.Fatalf("pack sync: %v", err)
	}
	ev, err := decoder.Decode(types.Log{Address: pool, Topics: []common.Hash{poolABI.Events["Sync"].ID}, Data: data})
	if err != nil {
		t.Fatalf("decode sync: %v", err)
	}
	if ev.Kind != EventSync || ev.Reserve0.Int64() != 7 || ev.Reserve1.Int64() != 11 {
		t.Fatalf("unexpected sync: %+v", ev)
	}

	swapData, err := poolABI.Events["Swap"].Inputs.NonIndexed().Pack(big.NewInt(1), big.NewInt(0), big.NewInt(0), big.NewInt(2))
	if err != nil {
		t.Fatalf("pack swap: %v", err)
	}
	ev, err = decoder.Decode(types.Log{
		Address: pool,
		Topics:  []common.Hash{poolABI.Events["Swap"].ID, topicFromAddress(pool), topicFromAddress(pool)},
		Data:    swapData,
	})
	if err != nil {
		t.Fatalf("decode swap: %v", err)
	}
	if ev.Kind != EventCPSwap || ev.Pool != pool {
		t.Fatalf("unexpected swap: %+v", ev)
	}
}

func TestDecodePoolCreated(t *testing.T) {
	v3Factory := mustABI(t, V3FactoryABI)
	cpFactory := mustABI(t, CPFactoryABI)
	decoder, err := NewEventDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	factory := common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	newPool := common.HexToAddress("0x5555555555555555555555555555555555555555")

	data, err := v3Factory.Events["PoolCreated"].Inputs.NonIndexed().Pack(big.NewInt(10), newPool)
	if err != nil {
		t.Fatalf("pack v3 created: %v", err)
	}
	ev, err := decoder.Decode(types.Log{
		Address: factory,
		Topics: []common.Hash{
			v3Factory.Events["PoolCreated"].ID,
			topicFromAddress(loanToken),
			topicFromAddress(quoteToken),
			common.BigToHash(big.NewInt(500)),
		},
		Data: data,
	})
	if err != nil {
		t.Fatalf("decode v3 created: %v", err)
	}
	if ev.Kind != EventPoolCreated || ev.DexKind != model.DexUniswapV3 || ev.Pool != newPool || ev.Factory != factory {
		t.Fatalf("unexpected v3 created: %+v", ev)
	}
	if ev.Token0 != loanToken || ev.Token1 != quoteToken || ev.Fee == nil || *ev.Fee != 500 {
		t.Fatalf("unexpected v3 created tokens: %+v", ev)
	}

	data, err = cpFactory.Events["PoolCreated"].Inputs.NonIndexed().Pack(newPool, big.NewInt(12))
	if err != nil {
		t.Fatalf("pack cp created: %v", err)
	}
	ev, err = decoder.Decode(types.Log{
		Address: factory,
		Topics: []common.Hash{
			cpFactory.Events["PoolCreated"].ID,
			topicFromAddress(quoteToken),
			topicFromAddress(loanToken),
			common.BigToHash(big.NewInt(1)),
		},
		Data: data,
	})
	if err != nil {
		t.Fatalf("decode cp created: %v", err)
	}
	if ev.DexKind != model.DexStable || ev.Stable == nil || !*ev.Stable || ev.Pool != newPool {
		t.Fatalf("unexpected cp created: %+v", ev)
	}
}
