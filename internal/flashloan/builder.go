package flashloan

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"arbScope/internal/dex"
	"arbScope/internal/model"
)

// RouterResolver picks the router serving pools of a factory.
type RouterResolver interface {
	RouterFor(factory common.Address) common.Address
}

// Builder assembles vault flashLoan calls for the executor contract.
type Builder struct {
	vault    common.Address
	executor common.Address
	routers  RouterResolver
}

func NewBuilder(vault, executor common.Address, routers RouterResolver) *Builder {
	return &Builder{vault: vault, executor: executor, routers: routers}
}

// Vault returns the flash-loan vault address, the call target.
func (b *Builder) Vault() common.Address {
	return b.vault
}

// UserData maps a route onto the executor payload. The first leg sells the loan
// token into the sell pool; the router is the one serving whichever leg trades
// against a constant-product pool.
func (b *Builder) UserData(route model.RouteCandidate, minProfit *big.Int, salt *uint256.Int) UserData {
	legs := route.Legs()
	first, second := legs[0], legs[1]

	var router common.Address
	if b.routers != nil {
		switch {
		case first.Kind.IsConstantProduct():
			router = b.routers.RouterFor(first.Factory)
		case second.Kind.IsConstantProduct():
			router = b.routers.RouterFor(second.Factory)
		default:
			router = b.routers.RouterFor(common.Address{})
		}
	}

	return UserData{
		FirstPool:         first.Pool,
		SecondPool:        second.Pool,
		QuoteToken:        route.QuoteToken,
		ZeroForOne:        first.ZeroForOne,
		FirstIsConstProd:  first.Kind.IsConstantProduct(),
		SecondIsConstProd: second.Kind.IsConstantProduct(),
		Router:            router,
		MinProfit:         minProfit,
		Salt:              salt,
	}
}

// Calldata encodes vault.flashLoan(executor, [loanToken], [amount], userData).
func (b *Builder) Calldata(route model.RouteCandidate, amount, minProfit *big.Int, salt *uint256.Int) ([]byte, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("loan amount must be positive")
	}
	userData, err := b.UserData(route, minProfit, salt).Encode()
	if err != nil {
		return nil, fmt.Errorf("encode user data: %w", err)
	}
	parsed, err := dex.VaultABI()
	if err != nil {
		return nil, fmt.Errorf("parse vault abi: %w", err)
	}
	data, err := parsed.Pack("flashLoan",
		b.executor,
		[]common.Address{route.LoanToken},
		[]*big.Int{amount},
		userData,
	)
	if err != nil {
		return nil, fmt.Errorf("pack flashLoan: %w", err)
	}
	return data, nil
}

// GasBackend is the chain call used for gas estimation.
type GasBackend interface {
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
}

// Estimator estimates gas for the flash-loan call of a route, sent from the bot account.
type Estimator struct {
	builder *Builder
	backend GasBackend
	from    common.Address
	timeout time.Duration
}

func NewEstimator(builder *Builder, backend GasBackend, from common.Address, timeout time.Duration) *Estimator {
	return &Estimator{builder: builder, backend: backend, from: from, timeout: timeout}
}

// EstimateGas estimates with a zero profit guard and a fresh salt.
func (e *Estimator) EstimateGas(ctx context.Context, route model.RouteCandidate, amount *big.Int) (uint64, error) {
	salt, err := NewSalt()
	if err != nil {
		return 0, err
	}
	data, err := e.builder.Calldata(route, amount, new(big.Int), salt)
	if err != nil {
		return 0, err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	vault := e.builder.Vault()
	units, err := e.backend.EstimateGas(ctx, ethereum.CallMsg{From: e.from, To: &vault, Data: data})
	if err != nil {
		return 0, fmt.Errorf("estimate flashLoan gas: %w", err)
	}
	return units, nil
}
