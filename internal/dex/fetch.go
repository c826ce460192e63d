package dex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"arbScope/internal/model"
)

var (
	// ErrPoolNotFound means the pool address has no code or does not answer pool views.
	ErrPoolNotFound = errors.New("pool not found")
	// ErrUnsupportedDex means the operation has no implementation for the pool's kind.
	ErrUnsupportedDex = errors.New("unsupported dex kind")
	// ErrPairMismatch means the pool does not hold exactly the configured token pair.
	ErrPairMismatch = errors.New("pool does not hold the target pair")

	errEmptyReturn = errors.New("empty return data")
)

// Caller is the read-only chain access used by fetchers and quoters.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainReader adds the head block so snapshots can be read at one height.
type ChainReader interface {
	Caller
	LatestBlockNumber(ctx context.Context) (uint64, error)
}

// TokenMetaCache caches token metadata by address.
type TokenMetaCache struct {
	mu   sync.RWMutex
	data map[common.Address]model.TokenMeta
}

func NewTokenMetaCache() *TokenMetaCache {
	return &TokenMetaCache{data: make(map[common.Address]model.TokenMeta)}
}

func (c *TokenMetaCache) Get(address common.Address) (model.TokenMeta, bool) {
	c.mu.RLock()
	meta, ok := c.data[address]
	c.mu.RUnlock()
	return meta, ok
}

func (c *TokenMetaCache) Set(address common.Address, meta model.TokenMeta) {
	c.mu.Lock()
	c.data[address] = meta
	c.mu.Unlock()
}

// Fetcher loads pool state and snapshots for the target token pair.
type Fetcher struct {
	caller     ChainReader
	loanToken  common.Address
	quoteToken common.Address
	timeout    time.Duration
	tokens     *TokenMetaCache
	logger     *zap.Logger
}

// NewFetcher builds a fetcher for pools holding loanToken and quoteToken.
func NewFetcher(caller ChainReader, loanToken, quoteToken common.Address, timeout time.Duration, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		caller:     caller,
		loanToken:  loanToken,
		quoteToken: quoteToken,
		timeout:    timeout,
		tokens:     NewTokenMetaCache(),
		logger:     logger,
	}
}

// FetchPool loads static metadata and the current snapshot of pool. Constant-product
// kinds are corrected from the pool's stable() view.
func (f *Fetcher) FetchPool(ctx context.Context, pool common.Address, kind model.DexKind) (model.PoolState, model.PoolSnapshot, error) {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	var parsed abi.ABI
	var err error
	switch {
	case kind == model.DexUniswapV3:
		parsed, err = V3PoolABI()
	case kind.IsConstantProduct():
		parsed, err = CPPoolABI()
	default:
		return model.PoolState{}, model.PoolSnapshot{}, fmt.Errorf("fetch %s: %w: %s", pool.Hex(), ErrUnsupportedDex, kind)
	}
	if err != nil {
		return model.PoolState{}, model.PoolSnapshot{}, fmt.Errorf("parse pool abi: %w", err)
	}

	token0, err := f.callAddress(ctx, pool, parsed, "token0")
	if err != nil {
		return model.PoolState{}, model.PoolSnapshot{}, poolError(pool, err)
	}
	token1, err := f.callAddress(ctx, pool, parsed, "token1")
	if err != nil {
		return model.PoolState{}, model.PoolSnapshot{}, poolError(pool, err)
	}

	state := model.PoolState{
		Address:      pool,
		Kind:         kind,
		Token0:       token0,
		Token1:       token1,
		Token0IsLoan: token0 == f.loanToken,
	}
	if !state.HasPair(f.loanToken, f.quoteToken) {
		return model.PoolState{}, model.PoolSnapshot{}, fmt.Errorf("fetch %s: %w (%s/%s)", pool.Hex(), ErrPairMismatch, token0.Hex(), token1.Hex())
	}

	if kind == model.DexUniswapV3 {
		values, err := callMethod(ctx, f.caller, pool, parsed, "fee", nil)
		if err != nil {
			return model.PoolState{}, model.PoolSnapshot{}, poolError(pool, err)
		}
		feeInt, err := asBigInt(values[0])
		if err != nil {
			return model.PoolState{}, model.PoolSnapshot{}, fmt.Errorf("fee: %w", err)
		}
		fee := uint32(feeInt.Uint64())
		state.Fee = &fee
	} else {
		values, err := callMethod(ctx, f.caller, pool, parsed, "stable", nil)
		if err != nil {
			return model.PoolState{}, model.PoolSnapshot{}, poolError(pool, err)
		}
		stable, ok := values[0].(bool)
		if !ok {
			return model.PoolState{}, model.PoolSnapshot{}, fmt.Errorf("stable: unsupported type %T", values[0])
		}
		state.Stable = &stable
		if stable {
			state.Kind = model.DexStable
		} else {
			state.Kind = model.DexVolatile
		}
		if state.Kind != kind {
			f.logger.Info("pool kind corrected from chain",
				zap.String("pool", pool.Hex()),
				zap.Stringer("configured", kind),
				zap.Stringer("actual", state.Kind),
			)
		}
		factory, err := f.callAddress(ctx, pool, parsed, "factory")
		if err != nil {
			return model.PoolState{}, model.PoolSnapshot{}, poolError(pool, err)
		}
		state.Factory = factory
	}

	snap, err := f.fetchSnapshot(ctx, state, parsed)
	if err != nil {
		return model.PoolState{}, model.PoolSnapshot{}, err
	}
	return state, snap, nil
}

// FetchSnapshot reloads the dynamic fields of an already known pool.
func (f *Fetcher) FetchSnapshot(ctx context.Context, state model.PoolState) (model.PoolSnapshot, error) {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	var parsed abi.ABI
	var err error
	switch {
	case state.Kind == model.DexUniswapV3:
		parsed, err = V3PoolABI()
	case state.Kind.IsConstantProduct():
		parsed, err = CPPoolABI()
	default:
		return model.PoolSnapshot{}, fmt.Errorf("snapshot %s: %w: %s", state.Address.Hex(), ErrUnsupportedDex, state.Kind)
	}
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("parse pool abi: %w", err)
	}
	return f.fetchSnapshot(ctx, state, parsed)
}

// fetchSnapshot reads the dynamic fields at the current head and stamps the snapshot
// with that block, so older events cannot overwrite it.
func (f *Fetcher) fetchSnapshot(ctx context.Context, state model.PoolState, parsed abi.ABI) (model.PoolSnapshot, error) {
	head, err := f.caller.LatestBlockNumber(ctx)
	if err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("snapshot %s: head block: %w", state.Address.Hex(), err)
	}
	at := new(big.Int).SetUint64(head)
	snap := model.PoolSnapshot{
		Address: state.Address,
		Kind:    state.Kind,
		Token0:  state.Token0,
		Token1:  state.Token1,
		Block:   &head,
	}

	if state.Kind == model.DexUniswapV3 {
		values, err := callMethod(ctx, f.caller, state.Address, parsed, "slot0", at)
		if err != nil {
			return model.PoolSnapshot{}, poolError(state.Address, err)
		}
		if len(values) < 2 {
			return model.PoolSnapshot{}, fmt.Errorf("slot0: unexpected values: %d", len(values))
		}
		sqrt, err := asBigInt(values[0])
		if err != nil {
			return model.PoolSnapshot{}, fmt.Errorf("slot0 sqrt price: %w", err)
		}
		tickInt, err := asBigInt(values[1])
		if err != nil {
			return model.PoolSnapshot{}, fmt.Errorf("slot0 tick: %w", err)
		}
		tick, err := int24FromBig(tickInt)
		if err != nil {
			return model.PoolSnapshot{}, fmt.Errorf("slot0 tick: %w", err)
		}
		snap.SqrtPriceX96 = sqrt
		snap.Tick = &tick
		return snap, nil
	}

	values, err := callMethod(ctx, f.caller, state.Address, parsed, "getReserves", at)
	if err != nil {
		return model.PoolSnapshot{}, poolError(state.Address, err)
	}
	if len(values) < 2 {
		return model.PoolSnapshot{}, fmt.Errorf("getReserves: unexpected values: %d", len(values))
	}
	if snap.Reserve0, err = asBigInt(values[0]); err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("reserve0: %w", err)
	}
	if snap.Reserve1, err = asBigInt(values[1]); err != nil {
		return model.PoolSnapshot{}, fmt.Errorf("reserve1: %w", err)
	}
	return snap, nil
}

// FetchTokenMeta loads token metadata via ERC20 calls, falling back to the
// bytes32 symbol variant.
func (f *Fetcher) FetchTokenMeta(ctx context.Context, token common.Address) (model.TokenMeta, error) {
	if meta, ok := f.tokens.Get(token); ok {
		return meta, nil
	}
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	meta := model.TokenMeta{Address: token.Hex()}
	stringABI, err := erc20StringABI.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 string abi: %w", err)
	}
	bytes32ABI, err := erc20Bytes32ABI.get()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := callMethod(ctx, f.caller, token, stringABI, "decimals", nil)
	if err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, err
	}
	meta.Decimals = decimals

	if values, err := callMethod(ctx, f.caller, token, stringABI, "symbol", nil); err == nil {
		if symbol, ok := values[0].(string); ok {
			meta.Symbol = symbol
		}
	} else if values, err := callMethod(ctx, f.caller, token, bytes32ABI, "symbol", nil); err == nil {
		if symbol, ok := bytes32ToString(values[0]); ok {
			meta.Symbol = symbol
		}
	} else {
		f.logger.Debug("symbol call failed", zap.String("token", token.Hex()), zap.Error(err))
	}

	f.tokens.Set(token, meta)
	return meta, nil
}

func (f *Fetcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.timeout)
}

func (f *Fetcher) callAddress(ctx context.Context, to common.Address, parsed abi.ABI, method string) (common.Address, error) {
	values, err := callMethod(ctx, f.caller, to, parsed, method, nil)
	if err != nil {
		return common.Address{}, err
	}
	addr, err := asAddress(values[0])
	if err != nil {
		return common.Address{}, fmt.Errorf("%s: %w", method, err)
	}
	return addr, nil
}

func poolError(pool common.Address, err error) error {
	if errors.Is(err, errEmptyReturn) {
		return fmt.Errorf("fetch %s: %w: %v", pool.Hex(), ErrPoolNotFound, err)
	}
	return fmt.Errorf("fetch %s: %w", pool.Hex(), err)
}

func callMethod(ctx context.Context, caller Caller, to common.Address, parsed abi.ABI, method string, block *big.Int, args ...interface{}) ([]interface{}, error) {
	if caller == nil {
		return nil, fmt.Errorf("chain caller is nil")
	}
	data, err := parsed.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	msg := ethereum.CallMsg{To: &to, Data: data}
	resp, err := caller.CallContract(ctx, msg, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	if len(resp) == 0 && len(parsed.Methods[method].Outputs) > 0 {
		return nil, fmt.Errorf("call %s: %w", method, errEmptyReturn)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: no values", method)
	}
	return values, nil
}

func bytes32ToString(value interface{}) (string, bool) {
	switch v := value.(type) {
	case [32]byte:
		return string(bytes.TrimRight(v[:], "\x00")), true
	case []byte:
		return string(bytes.TrimRight(v, "\x00")), true
	default:
		return "", false
	}
}

func asAddress(value interface{}) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}

func asBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint8:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint16:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint32:
		return new(big.Int).SetUint64(uint64(v)), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int8:
		return big.NewInt(int64(v)), nil
	case int16:
		return big.NewInt(int64(v)), nil
	case int32:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported int type %T", value)
	}
}

func asUint8(value interface{}) (uint8, error) {
	switch v := value.(type) {
	case uint8:
		return v, nil
	case *big.Int:
		if !v.IsUint64() || v.Uint64() > 255 {
			return 0, fmt.Errorf("uint8 overflow: %s", v.String())
		}
		return uint8(v.Uint64()), nil
	default:
		return 0, fmt.Errorf("unsupported uint8 type %T", value)
	}
}

func int24FromBig(value *big.Int) (int32, error) {
	min := big.NewInt(-1 << 23)
	max := big.NewInt((1 << 23) - 1)
	if value.Cmp(min) < 0 || value.Cmp(max) > 0 {
		return 0, fmt.Errorf("int24 overflow: %s", value.String())
	}
	return int32(value.Int64()), nil
}
