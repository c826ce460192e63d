package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"arbScope/internal/model"
)

// EventKind identifies a decoded pool or factory event.
type EventKind uint8

const (
	EventUnknown EventKind = iota
	EventV3Swap
	EventCPSwap
	EventSync
	EventPoolCreated
)

func (k EventKind) String() string {
	switch k {
	case EventV3Swap:
		return "v3_swap"
	case EventCPSwap:
		return "cp_swap"
	case EventSync:
		return "sync"
	case EventPoolCreated:
		return "pool_created"
	default:
		return "unknown"
	}
}

// PoolEvent is a decoded log relevant to pool state. Pool is the emitting pool,
// or the new pool for PoolCreated.
type PoolEvent struct {
	Kind     EventKind
	Pool     common.Address
	Block    uint64
	TxHash   common.Hash
	LogIndex uint

	// V3 swap
	SqrtPriceX96 *big.Int
	Tick         int32

	// Sync
	Reserve0 *big.Int
	Reserve1 *big.Int

	// PoolCreated
	Factory common.Address
	DexKind model.DexKind
	Token0  common.Address
	Token1  common.Address
	Fee     *uint32
	Stable  *bool
}

// EventDecoder decodes the swap, sync, and pool creation events the bot listens to.
type EventDecoder struct {
	v3Pool      abi.ABI
	cpPool      abi.ABI
	v3Factory   abi.ABI
	cpFactory   abi.ABI
	topicToKind map[common.Hash]EventKind
}

// NewEventDecoder parses the event ABIs.
func NewEventDecoder() (*EventDecoder, error) {
	v3Pool, err := V3PoolABI()
	if err != nil {
		return nil, err
	}
	cpPool, err := CPPoolABI()
	if err != nil {
		return nil, err
	}
	v3Factory, err := V3FactoryABI()
	if err != nil {
		return nil, err
	}
	cpFactory, err := CPFactoryABI()
	if err != nil {
		return nil, err
	}

	d := &EventDecoder{
		v3Pool:    v3Pool,
		cpPool:    cpPool,
		v3Factory: v3Factory,
		cpFactory: cpFactory,
		topicToKind: map[common.Hash]EventKind{
			v3Pool.Events["Swap"].ID:           EventV3Swap,
			cpPool.Events["Swap"].ID:           EventCPSwap,
			cpPool.Events["Sync"].ID:           EventSync,
			v3Factory.Events["PoolCreated"].ID: EventPoolCreated,
			cpFactory.Events["PoolCreated"].ID: EventPoolCreated,
		},
	}
	return d, nil
}

// PoolTopics returns topic0 values emitted by pools.
func (d *EventDecoder) PoolTopics() []common.Hash {
	return []common.Hash{
		d.v3Pool.Events["Swap"].ID,
		d.cpPool.Events["Swap"].ID,
		d.cpPool.Events["Sync"].ID,
	}
}

// FactoryTopics returns topic0 values emitted by pool factories.
func (d *EventDecoder) FactoryTopics() []common.Hash {
	return []common.Hash{
		d.v3Factory.Events["PoolCreated"].ID,
		d.cpFactory.Events["PoolCreated"].ID,
	}
}

// CanDecode checks if the topic0 is supported.
func (d *EventDecoder) CanDecode(topic0 common.Hash) bool {
	_, ok := d.topicToKind[topic0]
	return ok
}

// Decode converts a raw log into a PoolEvent.
func (d *EventDecoder) Decode(log types.Log) (PoolEvent, error) {
	if len(log.Topics) == 0 {
		return PoolEvent{}, fmt.Errorf("missing topics")
	}
	kind, ok := d.topicToKind[log.Topics[0]]
	if !ok {
		return PoolEvent{}, fmt.Errorf("unsupported topic0: %s", log.Topics[0].Hex())
	}

	ev := PoolEvent{
		Kind:     kind,
		Pool:     log.Address,
		Block:    log.BlockNumber,
		TxHash:   log.TxHash,
		LogIndex: log.Index,
	}

	switch kind {
	case EventV3Swap:
		return d.decodeV3Swap(log, ev)
	case EventCPSwap:
		if _, err := parseIndexedTopics(d.cpPool.Events["Swap"], log.Topics); err != nil {
			return PoolEvent{}, err
		}
		return ev, nil
	case EventSync:
		return d.decodeSync(log, ev)
	case EventPoolCreated:
		if log.Topics[0] == d.v3Factory.Events["PoolCreated"].ID {
			return d.decodeV3PoolCreated(log, ev)
		}
		return d.decodeCPPoolCreated(log, ev)
	default:
		return PoolEvent{}, fmt.Errorf("unsupported event kind: %s", kind)
	}
}

func (d *EventDecoder) decodeV3Swap(log types.Log, ev PoolEvent) (PoolEvent, error) {
	event := d.v3Pool.Events["Swap"]
	if _, err := parseIndexedTopics(event, log.Topics); err != nil {
		return PoolEvent{}, err
	}
	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return PoolEvent{}, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	if len(values) != 5 {
		return PoolEvent{}, fmt.Errorf("unexpected swap values: %d", len(values))
	}
	sqrtPrice, err := asBigInt(values[2])
	if err != nil {
		return PoolEvent{}, err
	}
	tickInt, err := asBigInt(values[4])
	if err != nil {
		return PoolEvent{}, err
	}
	tick, err := int24FromBig(tickInt)
	if err != nil {
		return PoolEvent{}, err
	}
	ev.SqrtPriceX96 = sqrtPrice
	ev.Tick = tick
	return ev, nil
}

func (d *EventDecoder) decodeSync(log types.Log, ev PoolEvent) (PoolEvent, error) {
	event := d.cpPool.Events["Sync"]
	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return PoolEvent{}, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	if len(values) != 2 {
		return PoolEvent{}, fmt.Errorf("unexpected sync values: %d", len(values))
	}
	if ev.Reserve0, err = asBigInt(values[0]); err != nil {
		return PoolEvent{}, err
	}
	if ev.Reserve1, err = asBigInt(values[1]); err != nil {
		return PoolEvent{}, err
	}
	return ev, nil
}

func (d *EventDecoder) decodeV3PoolCreated(log types.Log, ev PoolEvent) (PoolEvent, error) {
	event := d.v3Factory.Events["PoolCreated"]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return PoolEvent{}, err
	}
	var indexed struct {
		Token0 common.Address
		Token1 common.Address
		Fee    *big.Int
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return PoolEvent{}, fmt.Errorf("parse topics: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return PoolEvent{}, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	if len(values) != 2 {
		return PoolEvent{}, fmt.Errorf("unexpected pool created values: %d", len(values))
	}
	pool, err := asAddress(values[1])
	if err != nil {
		return PoolEvent{}, err
	}
	fee := uint32(indexed.Fee.Uint64())

	ev.Factory = log.Address
	ev.Pool = pool
	ev.DexKind = model.DexUniswapV3
	ev.Token0 = indexed.Token0
	ev.Token1 = indexed.Token1
	ev.Fee = &fee
	return ev, nil
}

func (d *EventDecoder) decodeCPPoolCreated(log types.Log, ev PoolEvent) (PoolEvent, error) {
	event := d.cpFactory.Events["PoolCreated"]
	indexedTopics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return PoolEvent{}, err
	}
	var indexed struct {
		Token0 common.Address
		Token1 common.Address
		Stable bool
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(event.Inputs), indexedTopics); err != nil {
		return PoolEvent{}, fmt.Errorf("parse topics: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return PoolEvent{}, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	if len(values) != 2 {
		return PoolEvent{}, fmt.Errorf("unexpected pool created values: %d", len(values))
	}
	pool, err := asAddress(values[0])
	if err != nil {
		return PoolEvent{}, err
	}
	stable := indexed.Stable

	ev.Factory = log.Address
	ev.Pool = pool
	ev.DexKind = model.DexVolatile
	if stable {
		ev.DexKind = model.DexStable
	}
	ev.Token0 = indexed.Token0
	ev.Token1 = indexed.Token1
	ev.Stable = &stable
	return ev, nil
}

func parseIndexedTopics(event abi.Event, topics []common.Hash) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return topics[1:], nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
