package bot

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbScope/internal/cache"
	"arbScope/internal/dex"
	"arbScope/internal/flashloan"
	"arbScope/internal/model"
	"arbScope/internal/sim"
	"arbScope/internal/submit"
)

var (
	loanToken  = common.HexToAddress("0x4200000000000000000000000000000000000006")
	quoteToken = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	otherToken = common.HexToAddress("0x9999999999999999999999999999999999999999")

	poolA = common.HexToAddress("0x1111111111111111111111111111111111111111")
	poolB = common.HexToAddress("0x2222222222222222222222222222222222222222")
	poolC = common.HexToAddress("0x3333333333333333333333333333333333333333")

	v3Factory = common.HexToAddress("0x1F98431c8aD98523631AE4a59f267346ea31F984")
	vault     = common.HexToAddress("0xBA12222222228d8Ba445958a75a0704d566BF2C8")
	executor  = common.HexToAddress("0x7777777777777777777777777777777777777777")
	router    = common.HexToAddress("0x8888888888888888888888888888888888888888")
)

type fakeFetcher struct {
	mu         sync.Mutex
	errs       map[common.Address][]error
	poolCalls  map[common.Address]int
	snapCalls  map[common.Address]int
	snapshotFn func(model.PoolState) model.PoolSnapshot
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		errs:      map[common.Address][]error{},
		poolCalls: map[common.Address]int{},
		snapCalls: map[common.Address]int{},
	}
}

func (f *fakeFetcher) FetchPool(_ context.Context, pool common.Address, kind model.DexKind) (model.PoolState, model.PoolSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poolCalls[pool]++
	if errs := f.errs[pool]; len(errs) > 0 {
		err := errs[0]
		f.errs[pool] = errs[1:]
		if err != nil {
			return model.PoolState{}, model.PoolSnapshot{}, err
		}
	}
	state := model.PoolState{
		Address:      pool,
		Kind:         kind,
		Token0:       loanToken,
		Token1:       quoteToken,
		Token0IsLoan: true,
	}
	return state, testSnapshot(state, 10), nil
}

func (f *fakeFetcher) FetchSnapshot(_ context.Context, state model.PoolState) (model.PoolSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapCalls[state.Address]++
	if f.snapshotFn != nil {
		return f.snapshotFn(state), nil
	}
	return testSnapshot(state, 10), nil
}

func (f *fakeFetcher) calls(pool common.Address) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.poolCalls[pool]
}

func testSnapshot(state model.PoolState, block uint64) model.PoolSnapshot {
	snap := model.PoolSnapshot{
		Address: state.Address,
		Kind:    state.Kind,
		Token0:  state.Token0,
		Token1:  state.Token1,
		Block:   &block,
	}
	if state.Kind.IsConstantProduct() {
		snap.Reserve0 = big.NewInt(1_000)
		snap.Reserve1 = big.NewInt(3_000_000)
	} else {
		tick := int32(0)
		snap.SqrtPriceX96 = new(big.Int).Lsh(big.NewInt(1), 96)
		snap.Tick = &tick
	}
	return snap
}

type fakeFinder struct {
	routes []model.RouteCandidate
}

func (f fakeFinder) Candidates() []model.RouteCandidate { return f.routes }

type fakeLoans struct {
	profits map[common.Address]int64
	failing map[common.Address]bool
}

func (f fakeLoans) FindOptimalLoanAmount(_ context.Context, route model.RouteCandidate, _ *big.Int) (sim.LoanResult, bool, error) {
	if f.failing[route.BuyPool] {
		return sim.LoanResult{}, false, errors.New("quoter unavailable")
	}
	profit, ok := f.profits[route.BuyPool]
	if !ok {
		return sim.LoanResult{Failed: 2}, false, nil
	}
	best := model.LoanSample{Amount: big.NewInt(5_000_000), Profit: big.NewInt(profit)}
	return sim.LoanResult{Best: best, Samples: []model.LoanSample{best}}, true, nil
}

type fakeFees struct{}

func (fakeFees) Select(context.Context) (submit.Fees, error) {
	price := big.NewInt(1_000_000_000)
	return submit.Fees{TipCap: price, FeeCap: price, GasPrice: price, Source: submit.FeeSourceEIP1559}, nil
}

type fakeSubmitter struct {
	mu       sync.Mutex
	requests []submit.Request
}

func (f *fakeSubmitter) Submit(_ context.Context, req submit.Request) (submit.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return submit.Result{
		States:  []submit.State{submit.StateBuilt, submit.StateNonceAssigned, submit.StateBroadcastAttempted, submit.StateConfirmed},
		Outcome: submit.StateConfirmed,
		Via:     submit.ViaDirect,
		TxHash:  common.HexToHash("0xabc"),
		Nonce:   7,
		Receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 321_000, BlockNumber: big.NewInt(101)},
	}, nil
}

type memSink struct {
	mu            sync.Mutex
	opportunities []model.Opportunity
	submissions   []model.Submission
}

func (s *memSink) PutOpportunity(_ context.Context, opp model.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opportunities = append(s.opportunities, opp)
	return nil
}

func (s *memSink) PutSubmission(_ context.Context, sub model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submissions = append(s.submissions, sub)
	return nil
}

func (s *memSink) Close() error { return nil }

type staticRouters map[common.Address]common.Address

func (r staticRouters) RouterFor(factory common.Address) common.Address { return r[factory] }

type fakeLogs struct {
	head     uint64
	logs     []types.Log
	mu       sync.Mutex
	filtered [][2]uint64
}

func (f *fakeLogs) LatestBlockNumber(context.Context) (uint64, error) { return f.head, nil }

func (f *fakeLogs) FilterLogs(_ context.Context, from, to uint64, addresses []common.Address, _ []common.Hash) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filtered = append(f.filtered, [2]uint64{from, to})
	wanted := make(map[common.Address]bool, len(addresses))
	for _, a := range addresses {
		wanted[a] = true
	}
	var out []types.Log
	for _, log := range f.logs {
		if wanted[log.Address] && log.BlockNumber >= from && log.BlockNumber <= to {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeLogs) SubscribeLogs(context.Context, []common.Address, []common.Hash, chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("not supported")
}

type harness struct {
	engine    *Engine
	cache     *cache.PoolCache
	fetcher   *fakeFetcher
	sink      *memSink
	submitter *fakeSubmitter
}

func newHarness(t *testing.T, cfg Config, finder CandidateFinder, loans LoanFinder) *harness {
	t.Helper()
	decoder, err := dex.NewEventDecoder()
	require.NoError(t, err)

	h := &harness{
		cache:     cache.New(),
		fetcher:   newFakeFetcher(),
		sink:      &memSink{},
		submitter: &fakeSubmitter{},
	}
	if finder == nil {
		finder = fakeFinder{}
	}
	if loans == nil {
		loans = fakeLoans{}
	}
	cfg.LoanToken = loanToken
	cfg.QuoteToken = quoteToken
	cfg.LoanDecimals = 18
	cfg.Retry = RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}

	h.engine, err = NewEngine(cfg, Deps{
		Cache:     h.cache,
		Fetcher:   h.fetcher,
		Finder:    finder,
		Loans:     loans,
		Fees:      fakeFees{},
		Builder:   flashloan.NewBuilder(vault, executor, staticRouters{v3Factory: router}),
		Submitter: h.submitter,
		Sink:      h.sink,
		Decoder:   decoder,
	}, nil)
	require.NoError(t, err)
	return h
}

func (h *harness) scheduled() bool {
	select {
	case <-h.engine.trigger:
		return true
	default:
		return false
	}
}

func TestNewEngineRequiresSubmitterUnlessDryRun(t *testing.T) {
	deps := Deps{
		Cache:   cache.New(),
		Fetcher: newFakeFetcher(),
		Finder:  fakeFinder{},
		Loans:   fakeLoans{},
		Fees:    fakeFees{},
		Builder: flashloan.NewBuilder(vault, executor, nil),
		Sink:    &memSink{},
	}
	_, err := NewEngine(Config{}, deps, nil)
	require.Error(t, err)

	_, err = NewEngine(Config{DryRun: true}, deps, nil)
	require.NoError(t, err)
}

func TestBootstrapSkipsUnloadablePools(t *testing.T) {
	h := newHarness(t, Config{
		Pools: map[common.Address]model.DexKind{
			poolA: model.DexUniswapV3,
			poolB: model.DexVolatile,
			poolC: model.DexUniswapV3,
		},
	}, nil, nil)
	h.fetcher.errs[poolB] = []error{dex.ErrPoolNotFound}
	h.fetcher.errs[poolC] = []error{errors.New("connection reset")}

	require.NoError(t, h.engine.Bootstrap(context.Background()))

	assert.True(t, h.cache.Has(poolA))
	assert.False(t, h.cache.Has(poolB))
	assert.True(t, h.cache.Has(poolC))
	assert.Equal(t, 1, h.fetcher.calls(poolB), "permanent errors are not retried")
	assert.Equal(t, 2, h.fetcher.calls(poolC), "transient errors are retried")
}

func TestBootstrapFailsWhenNoPoolLoads(t *testing.T) {
	h := newHarness(t, Config{
		Pools: map[common.Address]model.DexKind{poolA: model.DexUniswapV3},
	}, nil, nil)
	h.fetcher.errs[poolA] = []error{dex.ErrPairMismatch}

	require.Error(t, h.engine.Bootstrap(context.Background()))
	assert.Equal(t, 0, h.cache.Len())
}

func testRoutes() []model.RouteCandidate {
	return []model.RouteCandidate{
		{
			BuyPool:          poolA,
			SellPool:         poolB,
			BuyKind:          model.DexUniswapV3,
			SellKind:         model.DexUniswapV3,
			BuyToken0IsLoan:  true,
			SellToken0IsLoan: true,
			LoanToken:        loanToken,
			QuoteToken:       quoteToken,
			BuyPrice:         3000,
			SellPrice:        3010,
		},
		{
			BuyPool:          poolC,
			SellPool:         poolB,
			BuyKind:          model.DexVolatile,
			SellKind:         model.DexUniswapV3,
			BuyToken0IsLoan:  false,
			SellToken0IsLoan: true,
			LoanToken:        loanToken,
			QuoteToken:       quoteToken,
			BuyFactory:       v3Factory,
			BuyPrice:         2990,
			SellPrice:        3010,
		},
	}
}

func TestEvaluateDryRunPersistsEveryOpportunity(t *testing.T) {
	loans := fakeLoans{profits: map[common.Address]int64{poolA: 1_000, poolC: 5_000}}
	h := newHarness(t, Config{DryRun: true}, fakeFinder{routes: testRoutes()}, loans)

	report, err := h.engine.Evaluate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Candidates)
	require.Len(t, report.Opportunities, 2)
	assert.Nil(t, report.Submission)
	assert.Len(t, h.sink.opportunities, 2)
	assert.Empty(t, h.sink.submissions)
	assert.Empty(t, h.submitter.requests)
	for _, opp := range h.sink.opportunities {
		assert.True(t, opp.DryRun)
		assert.NotEmpty(t, opp.ID)
		assert.Equal(t, "1000000000", opp.GasPrice)
	}
	assert.NotEqual(t, h.sink.opportunities[0].ID, h.sink.opportunities[1].ID)
}

func TestEvaluateSubmitsMostProfitableRoute(t *testing.T) {
	loans := fakeLoans{
		profits: map[common.Address]int64{poolA: 1_000, poolC: 5_000},
		failing: map[common.Address]bool{poolB: true},
	}
	routes := append(testRoutes(), model.RouteCandidate{BuyPool: poolB, SellPool: poolA, LoanToken: loanToken, QuoteToken: quoteToken})
	h := newHarness(t, Config{MinProfitBufferBps: 1_000}, fakeFinder{routes: routes}, loans)

	report, err := h.engine.Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Opportunities, 2)
	require.NotNil(t, report.Submission)
	require.Len(t, h.submitter.requests, 1)

	req := h.submitter.requests[0]
	assert.Equal(t, vault, req.To)

	vaultABI, err := dex.VaultABI()
	require.NoError(t, err)
	method := vaultABI.Methods["flashLoan"]
	require.Equal(t, method.ID, req.Data[:4])
	values, err := method.Inputs.Unpack(req.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, executor, values[0].(common.Address))
	assert.Equal(t, []common.Address{loanToken}, values[1].([]common.Address))
	assert.Equal(t, 0, values[2].([]*big.Int)[0].Cmp(big.NewInt(5_000_000)))

	ud, err := flashloan.DecodeUserData(values[3].([]byte))
	require.NoError(t, err)
	assert.Equal(t, poolB, ud.FirstPool)
	assert.Equal(t, poolC, ud.SecondPool)
	assert.True(t, ud.SecondIsConstProd)
	assert.Equal(t, router, ud.Router)
	want := flashloan.MinProfitGuard(big.NewInt(5_000), 1_000, big.NewInt(0))
	assert.Equal(t, 0, ud.MinProfit.Cmp(want))

	sub := report.Submission
	assert.Equal(t, string(submit.StateConfirmed), sub.Outcome)
	assert.Equal(t, submit.ViaDirect, sub.Via)
	assert.Equal(t, uint64(7), sub.Nonce)
	assert.Equal(t, uint64(321_000), sub.GasUsed)
	assert.Equal(t, uint64(101), sub.Block)
	assert.Equal(t, []string{"built", "nonce_assigned", "broadcast_attempted", "confirmed"}, sub.States)
	require.Len(t, h.sink.submissions, 1)
	assert.Equal(t, h.sink.opportunities[1].ID, h.sink.submissions[0].OpportunityID)
}

func TestEvaluateWithoutProfitSubmitsNothing(t *testing.T) {
	h := newHarness(t, Config{}, fakeFinder{routes: testRoutes()}, fakeLoans{})

	report, err := h.engine.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Candidates)
	assert.Empty(t, report.Opportunities)
	assert.Empty(t, h.submitter.requests)
}

func v3SwapLog(t *testing.T, pool common.Address, sqrtPrice *big.Int, tick int64, block uint64, index uint) types.Log {
	t.Helper()
	poolABI, err := dex.V3PoolABI()
	require.NoError(t, err)
	event := poolABI.Events["Swap"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(-1), big.NewInt(1), sqrtPrice, big.NewInt(1), big.NewInt(tick))
	require.NoError(t, err)
	return types.Log{
		Address:     pool,
		Topics:      []common.Hash{event.ID, common.BytesToHash(otherToken.Bytes()), common.BytesToHash(otherToken.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
		Index:       index,
	}
}

func TestHandleLogAppliesV3SwapOnce(t *testing.T) {
	h := newHarness(t, Config{DryRun: true}, nil, nil)
	state := model.PoolState{Address: poolA, Kind: model.DexUniswapV3, Token0: loanToken, Token1: quoteToken}
	h.cache.Upsert(state, testSnapshot(state, 10))

	log := v3SwapLog(t, poolA, big.NewInt(123_456), -42, 11, 0)
	updated, discovered, err := h.engine.HandleLog(context.Background(), log)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.False(t, discovered)
	assert.True(t, h.scheduled())
	assert.Equal(t, uint64(11), h.engine.Head())

	snap, ok := h.cache.GetSnapshot(poolA)
	require.True(t, ok)
	assert.Equal(t, int64(123_456), snap.SqrtPriceX96.Int64())
	assert.Equal(t, int32(-42), *snap.Tick)
	assert.Equal(t, uint64(11), *snap.Block)

	updated, _, err = h.engine.HandleLog(context.Background(), log)
	require.NoError(t, err)
	assert.False(t, updated, "duplicate log")
	assert.False(t, h.scheduled())

	removed := v3SwapLog(t, poolA, big.NewInt(1), 0, 12, 1)
	removed.Removed = true
	updated, _, err = h.engine.HandleLog(context.Background(), removed)
	require.NoError(t, err)
	assert.False(t, updated, "removed log")
}

func TestHandleLogIgnoresStaleEvents(t *testing.T) {
	h := newHarness(t, Config{DryRun: true}, nil, nil)
	state := model.PoolState{Address: poolA, Kind: model.DexUniswapV3, Token0: loanToken, Token1: quoteToken}
	h.cache.Upsert(state, testSnapshot(state, 20))

	updated, _, err := h.engine.HandleLog(context.Background(), v3SwapLog(t, poolA, big.NewInt(5), 1, 19, 0))
	require.NoError(t, err)
	assert.False(t, updated)
	assert.False(t, h.scheduled())

	snap, _ := h.cache.GetSnapshot(poolA)
	assert.Equal(t, 0, snap.SqrtPriceX96.Cmp(new(big.Int).Lsh(big.NewInt(1), 96)))
}

func TestHandleLogConstantProductEvents(t *testing.T) {
	h := newHarness(t, Config{DryRun: true}, nil, nil)
	state := model.PoolState{Address: poolB, Kind: model.DexVolatile, Token0: loanToken, Token1: quoteToken}
	h.cache.Upsert(state, testSnapshot(state, 10))

	cpABI, err := dex.CPPoolABI()
	require.NoError(t, err)

	syncData, err := cpABI.Events["Sync"].Inputs.NonIndexed().Pack(big.NewInt(2_000), big.NewInt(5_000_000))
	require.NoError(t, err)
	updated, _, err := h.engine.HandleLog(context.Background(), types.Log{
		Address:     poolB,
		Topics:      []common.Hash{cpABI.Events["Sync"].ID},
		Data:        syncData,
		BlockNumber: 12,
		Index:       4,
	})
	require.NoError(t, err)
	assert.True(t, updated)
	snap, _ := h.cache.GetSnapshot(poolB)
	assert.Equal(t, int64(2_000), snap.Reserve0.Int64())
	assert.Equal(t, int64(5_000_000), snap.Reserve1.Int64())
	assert.Equal(t, 0, h.fetcher.snapCalls[poolB])

	h.fetcher.snapshotFn = func(s model.PoolState) model.PoolSnapshot {
		snap := testSnapshot(s, 13)
		snap.Reserve0 = big.NewInt(1_999)
		return snap
	}
	swapEvent := cpABI.Events["Swap"]
	swapData, err := swapEvent.Inputs.NonIndexed().Pack(big.NewInt(1), big.NewInt(0), big.NewInt(0), big.NewInt(3_000))
	require.NoError(t, err)
	updated, _, err = h.engine.HandleLog(context.Background(), types.Log{
		Address:     poolB,
		Topics:      []common.Hash{swapEvent.ID, common.BytesToHash(otherToken.Bytes()), common.BytesToHash(otherToken.Bytes())},
		Data:        swapData,
		BlockNumber: 13,
		Index:       5,
	})
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Equal(t, 1, h.fetcher.snapCalls[poolB])
	snap, _ = h.cache.GetSnapshot(poolB)
	assert.Equal(t, int64(1_999), snap.Reserve0.Int64())
}

func poolCreatedLog(t *testing.T, factory, token0, token1, pool common.Address, block uint64) types.Log {
	t.Helper()
	factoryABI, err := dex.V3FactoryABI()
	require.NoError(t, err)
	event := factoryABI.Events["PoolCreated"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(10), pool)
	require.NoError(t, err)
	return types.Log{
		Address: factory,
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(token0.Bytes()),
			common.BytesToHash(token1.Bytes()),
			common.BigToHash(big.NewInt(500)),
		},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block)),
	}
}

func TestHandleLogDiscoversTargetPairPools(t *testing.T) {
	h := newHarness(t, Config{DryRun: true, Factories: []common.Address{v3Factory}}, nil, nil)

	updated, discovered, err := h.engine.HandleLog(context.Background(), poolCreatedLog(t, v3Factory, quoteToken, loanToken, poolC, 30))
	require.NoError(t, err)
	assert.True(t, updated)
	assert.True(t, discovered)
	assert.True(t, h.cache.Has(poolC))
	assert.Equal(t, 1, h.fetcher.calls(poolC))

	_, discovered, err = h.engine.HandleLog(context.Background(), poolCreatedLog(t, v3Factory, loanToken, otherToken, poolA, 31))
	require.NoError(t, err)
	assert.False(t, discovered, "foreign pair")

	stranger := common.HexToAddress("0x6666666666666666666666666666666666666666")
	_, discovered, err = h.engine.HandleLog(context.Background(), poolCreatedLog(t, stranger, loanToken, quoteToken, poolB, 32))
	require.NoError(t, err)
	assert.False(t, discovered, "unconfigured factory")
	assert.Equal(t, 1, h.cache.Len())
}

func TestHandleLogRetriesRedeliveredLogAfterFailure(t *testing.T) {
	h := newHarness(t, Config{DryRun: true, Factories: []common.Address{v3Factory}}, nil, nil)
	reset := errors.New("connection reset")
	h.fetcher.errs[poolC] = []error{reset, reset, reset}
	log := poolCreatedLog(t, v3Factory, loanToken, quoteToken, poolC, 40)

	_, discovered, err := h.engine.HandleLog(context.Background(), log)
	require.Error(t, err)
	assert.False(t, discovered)
	assert.False(t, h.cache.Has(poolC))
	assert.Equal(t, 3, h.fetcher.calls(poolC))

	updated, discovered, err := h.engine.HandleLog(context.Background(), log)
	require.NoError(t, err)
	assert.True(t, updated)
	assert.True(t, discovered, "a failed log must not be remembered as handled")
	assert.True(t, h.cache.Has(poolC))
	assert.Equal(t, 4, h.fetcher.calls(poolC))

	_, discovered, err = h.engine.HandleLog(context.Background(), log)
	require.NoError(t, err)
	assert.False(t, discovered, "a handled log is still deduplicated")
	assert.Equal(t, 4, h.fetcher.calls(poolC))
}

func TestBackfillScansFactoriesBeforePools(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	h := newHarness(t, Config{
		DryRun:            true,
		Factories:         []common.Address{v3Factory},
		BatchSize:         10,
		CheckpointPath:    path,
		CheckpointEnabled: true,
	}, nil, nil)
	state := model.PoolState{Address: poolA, Kind: model.DexUniswapV3, Token0: loanToken, Token1: quoteToken}
	h.cache.Upsert(state, testSnapshot(state, 100))

	logs := &fakeLogs{
		head: 125,
		logs: []types.Log{
			poolCreatedLog(t, v3Factory, loanToken, quoteToken, poolC, 105),
			v3SwapLog(t, poolA, big.NewInt(777), 3, 110, 0),
		},
	}
	h.engine.deps.Logs = logs

	require.NoError(t, h.engine.backfill(context.Background(), 100, 101, 125))

	assert.True(t, h.cache.Has(poolC), "factory scan loads discovered pool")
	snap, _ := h.cache.GetSnapshot(poolA)
	assert.Equal(t, int64(777), snap.SqrtPriceX96.Int64())

	require.NotEmpty(t, logs.filtered)
	assert.Equal(t, [2]uint64{101, 110}, logs.filtered[0])
	assert.Equal(t, [2]uint64{100, 109}, logs.filtered[3])

	cp, ok, err := NewCheckpointStore(path, true).Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(125), cp.LastProcessedBlock)
}
