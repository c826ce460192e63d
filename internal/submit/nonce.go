// Package submit signs and broadcasts flash-loan transactions and tracks them to a receipt.
package submit

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceSource reports the account's pending transaction count.
type NonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// NonceManager hands out nonces for one signing account. The first call seeds from the
// chain while holding the lock, so concurrent callers wait for the seed instead of
// racing their own fetches.
type NonceManager struct {
	mu      sync.Mutex
	source  NonceSource
	account common.Address
	last    *uint64
}

func NewNonceManager(source NonceSource, account common.Address) *NonceManager {
	return &NonceManager{source: source, account: account}
}

// Account returns the account the manager assigns nonces for.
func (m *NonceManager) Account() common.Address {
	return m.account
}

// Next returns the next nonce and records it as assigned.
func (m *NonceManager) Next(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var next uint64
	if m.last == nil {
		seed, err := m.source.PendingNonceAt(ctx, m.account)
		if err != nil {
			return 0, fmt.Errorf("seed nonce for %s: %w", m.account.Hex(), err)
		}
		next = seed
	} else {
		next = *m.last + 1
	}
	m.last = &next
	return next, nil
}

// Release returns nonce to the pool if it is the most recently assigned one and was
// never broadcast. It reports whether the nonce was rolled back.
func (m *NonceManager) Release(nonce uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last == nil || *m.last != nonce {
		return false
	}
	if nonce == 0 {
		m.last = nil
		return true
	}
	prev := nonce - 1
	m.last = &prev
	return true
}

// Reset drops the local state; the next call reseeds from the chain.
func (m *NonceManager) Reset() {
	m.mu.Lock()
	m.last = nil
	m.mu.Unlock()
}

// Last returns the most recently assigned nonce, if any.
func (m *NonceManager) Last() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return 0, false
	}
	return *m.last, true
}
