package submit

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"arbScope/internal/sim"
)

var (
	// ErrTimeout is returned when the overall submission deadline passes without a receipt.
	ErrTimeout = errors.New("submission timed out")
	// ErrAllRoutesFailed is returned when neither the direct path nor any relay confirmed.
	ErrAllRoutesFailed = errors.New("all submission routes failed")
)

// State is a step of the submission state machine.
type State string

const (
	StateBuilt              State = "built"
	StateNonceAssigned      State = "nonce_assigned"
	StateBroadcastAttempted State = "broadcast_attempted"
	StateFailedDirect       State = "failed_direct"
	StateRelayAttempted     State = "relay_attempted"
	StateConfirmed          State = "confirmed"
	StateReverted           State = "reverted"
	StateFailedAll          State = "failed_all"
	StateTimedOut           State = "timed_out"
)

// ViaDirect marks a receipt obtained after the direct broadcast.
const ViaDirect = "direct"

// Backend is the chain surface the submitter needs.
type Backend interface {
	NonceSource
	FeeBackend
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Relay is a private transaction endpoint.
type Relay interface {
	URL() string
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
}

// Config holds the submission limits.
type Config struct {
	ChainID          *big.Int
	GasBufferPercent uint64
	MinGasLimit      uint64
	EstimateTimeout  time.Duration
	// ReceiptTimeout bounds the direct send and its receipt wait together.
	ReceiptTimeout   time.Duration
	// RelayTimeout bounds each relay's send and receipt wait together.
	RelayTimeout     time.Duration
	SubmitTimeout    time.Duration
	PollInterval     time.Duration
}

// Request is a built call ready to be signed.
type Request struct {
	To   common.Address
	Data []byte
}

// Result is the trace and outcome of one submission.
type Result struct {
	States   []State
	Outcome  State
	Via      string
	TxHash   common.Hash
	Nonce    uint64
	GasLimit uint64
	Fees     Fees
	Receipt  *types.Receipt
}

func (r *Result) enter(s State) {
	r.States = append(r.States, s)
}

// StateNames returns the visited states as strings.
func (r Result) StateNames() []string {
	out := make([]string, len(r.States))
	for i, s := range r.States {
		out[i] = string(s)
	}
	return out
}

// Submitter drives a transaction from signing to a receipt, first through the node and
// then through the configured relays in order.
type Submitter struct {
	backend Backend
	relays  []Relay
	nonces  *NonceManager
	fees    *FeeSelector
	key     *ecdsa.PrivateKey
	from    common.Address
	signer  types.Signer
	cfg     Config
	logger  *zap.Logger
}

func NewSubmitter(backend Backend, relays []Relay, nonces *NonceManager, fees *FeeSelector, key *ecdsa.PrivateKey, cfg Config, logger *zap.Logger) (*Submitter, error) {
	if key == nil {
		return nil, errors.New("signing key is required")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, errors.New("chain id is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	if nonces == nil {
		nonces = NewNonceManager(backend, from)
	}
	if nonces.Account() != from {
		return nil, fmt.Errorf("nonce manager account %s does not match signer %s", nonces.Account().Hex(), from.Hex())
	}
	return &Submitter{
		backend: backend,
		relays:  relays,
		nonces:  nonces,
		fees:    fees,
		key:     key,
		from:    from,
		signer:  types.LatestSignerForChainID(cfg.ChainID),
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// From returns the signing account.
func (s *Submitter) From() common.Address {
	return s.from
}

// Nonces returns the nonce manager used by the submitter.
func (s *Submitter) Nonces() *NonceManager {
	return s.nonces
}

// Submit signs req and drives it to a receipt. A reverted receipt is a completed
// result with a nil error; ErrTimeout and ErrAllRoutesFailed mark attempts that never
// produced a receipt.
func (s *Submitter) Submit(ctx context.Context, req Request) (Result, error) {
	var res Result
	if s.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SubmitTimeout)
		defer cancel()
	}

	res.enter(StateBuilt)
	gasLimit, err := s.gasLimit(ctx, req)
	if err != nil {
		return s.fail(ctx, &res, err)
	}
	res.GasLimit = gasLimit

	fees, err := s.fees.Select(ctx)
	if err != nil {
		return s.fail(ctx, &res, fmt.Errorf("select fees: %w", err))
	}
	res.Fees = fees

	nonce, err := s.nonces.Next(ctx)
	if err != nil {
		return s.fail(ctx, &res, err)
	}
	res.Nonce = nonce
	res.enter(StateNonceAssigned)

	to := req.To
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   s.cfg.ChainID,
		Nonce:     nonce,
		GasTipCap: fees.TipCap,
		GasFeeCap: fees.FeeCap,
		Gas:       gasLimit,
		To:        &to,
		Value:     new(big.Int),
		Data:      req.Data,
	})
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		s.nonces.Release(nonce)
		return s.fail(ctx, &res, fmt.Errorf("sign transaction: %w", err))
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		s.nonces.Release(nonce)
		return s.fail(ctx, &res, fmt.Errorf("encode transaction: %w", err))
	}
	res.TxHash = signed.Hash()

	logger := s.logger.With(
		zap.String("tx_hash", res.TxHash.Hex()),
		zap.Uint64("nonce", nonce),
	)
	logger.Info("submitting transaction",
		zap.Uint64("gas_limit", gasLimit),
		zap.String("max_fee", fees.FeeCap.String()),
		zap.String("max_priority_fee", fees.TipCap.String()),
		zap.String("fee_source", fees.Source),
	)

	var (
		broadcast bool
		lastErr   error
	)

	res.enter(StateBroadcastAttempted)
	directCtx, cancel := attemptContext(ctx, s.cfg.ReceiptTimeout)
	if err := s.backend.SendTransaction(directCtx, signed); err != nil {
		// A send that ran out of time may still have reached the node.
		if directCtx.Err() != nil {
			broadcast = true
		}
		logger.Warn("direct broadcast failed", zap.Error(err))
		lastErr = fmt.Errorf("direct broadcast: %w", err)
	} else {
		broadcast = true
		receipt, err := s.waitReceipt(directCtx, res.TxHash)
		if err == nil {
			cancel()
			return s.finish(&res, receipt, ViaDirect, logger), nil
		}
		logger.Warn("no receipt after direct broadcast", zap.Error(err))
		lastErr = fmt.Errorf("direct receipt: %w", err)
	}
	cancel()
	res.enter(StateFailedDirect)

	for _, relay := range s.relays {
		if ctx.Err() != nil {
			break
		}
		via := redactURL(relay.URL())
		res.enter(StateRelayAttempted)
		receipt, sent, err := s.tryRelay(ctx, relay, raw, res.TxHash)
		if sent {
			broadcast = true
		}
		if err == nil {
			return s.finish(&res, receipt, via, logger), nil
		}
		logger.Warn("relay attempt failed", zap.String("relay", via), zap.Bool("sent", sent), zap.Error(err))
		lastErr = fmt.Errorf("relay %s: %w", via, err)
	}

	// A broadcast tx may still land, and a nonce complaint means local state is stale:
	// both resync from the chain. Otherwise the nonce was never used and rolls back.
	if broadcast || isNonceError(lastErr) {
		s.nonces.Reset()
	} else {
		s.nonces.Release(nonce)
	}
	return s.fail(ctx, &res, lastErr)
}

// gasLimit estimates the call and applies the buffer and floor. An estimate failure
// means the call would revert, so nothing is signed.
func (s *Submitter) gasLimit(ctx context.Context, req Request) (uint64, error) {
	callCtx := ctx
	if s.cfg.EstimateTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.EstimateTimeout)
		defer cancel()
	}
	to := req.To
	units, err := s.backend.EstimateGas(callCtx, ethereum.CallMsg{From: s.from, To: &to, Data: req.Data})
	if err != nil {
		return 0, fmt.Errorf("estimate gas: %w", err)
	}
	return sim.BufferedGasLimit(units, s.cfg.GasBufferPercent, s.cfg.MinGasLimit), nil
}

// attemptContext bounds a single broadcast route. A zero timeout leaves only the
// parent deadline.
func attemptContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// tryRelay sends raw through relay and waits for its receipt, both within one relay
// timeout. sent reports whether the transaction may have left this process.
func (s *Submitter) tryRelay(ctx context.Context, relay Relay, raw []byte, hash common.Hash) (*types.Receipt, bool, error) {
	relayCtx, cancel := attemptContext(ctx, s.cfg.RelayTimeout)
	defer cancel()

	if _, err := relay.SendRawTransaction(relayCtx, raw); err != nil {
		return nil, relayCtx.Err() != nil, fmt.Errorf("broadcast: %w", err)
	}
	receipt, err := s.waitReceipt(relayCtx, hash)
	if err != nil {
		return nil, true, fmt.Errorf("receipt: %w", err)
	}
	return receipt, true, nil
}

// waitReceipt polls for hash until a receipt appears or ctx ends.
func (s *Submitter) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil {
			s.logger.Debug("receipt poll failed", zap.String("tx_hash", hash.Hex()), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Submitter) finish(res *Result, receipt *types.Receipt, via string, logger *zap.Logger) Result {
	res.Receipt = receipt
	res.Via = via
	fields := []zap.Field{
		zap.String("via", via),
		zap.Uint64("block", receiptBlock(receipt)),
		zap.Uint64("gas_used", receipt.GasUsed),
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		res.Outcome = StateConfirmed
		res.enter(StateConfirmed)
		logger.Info("transaction confirmed", fields...)
	} else {
		res.Outcome = StateReverted
		res.enter(StateReverted)
		logger.Error("transaction reverted on-chain", fields...)
	}
	return *res
}

// fail closes res as timed out when the overall deadline passed and as failed otherwise.
func (s *Submitter) fail(ctx context.Context, res *Result, cause error) (Result, error) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.Outcome = StateTimedOut
		res.enter(StateTimedOut)
		s.logger.Warn("submission timed out", zap.String("tx_hash", res.TxHash.Hex()), zap.Error(cause))
		if cause == nil {
			return *res, ErrTimeout
		}
		return *res, fmt.Errorf("%w: %w", ErrTimeout, cause)
	}
	res.Outcome = StateFailedAll
	res.enter(StateFailedAll)
	s.logger.Error("submission failed", zap.String("tx_hash", res.TxHash.Hex()), zap.Error(cause))
	if cause == nil {
		return *res, ErrAllRoutesFailed
	}
	return *res, fmt.Errorf("%w: %w", ErrAllRoutesFailed, cause)
}

func receiptBlock(receipt *types.Receipt) uint64 {
	if receipt.BlockNumber == nil {
		return 0
	}
	return receipt.BlockNumber.Uint64()
}

func isNonceError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "nonce")
}

// redactURL keeps the scheme and host of a relay URL; paths often carry API keys.
func redactURL(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "relay"
	}
	return parsed.Scheme + "://" + parsed.Host
}
