// Package cache stores the latest known state of every monitored pool.
package cache

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"arbScope/internal/model"
)

const shardCount = 16

// PoolCache is a lock-striped map of pool metadata and snapshots keyed by pool address.
// Writes to one key never block readers of keys in other shards, and every read returns
// a complete value.
type PoolCache struct {
	shards [shardCount]*shard
}

type shard struct {
	mu        sync.RWMutex
	states    map[common.Address]model.PoolState
	snapshots map[common.Address]model.PoolSnapshot
}

func New() *PoolCache {
	c := &PoolCache{}
	for i := range c.shards {
		c.shards[i] = &shard{
			states:    make(map[common.Address]model.PoolState),
			snapshots: make(map[common.Address]model.PoolSnapshot),
		}
	}
	return c
}

func (c *PoolCache) shardFor(pool common.Address) *shard {
	return c.shards[int(pool[common.AddressLength-1])%shardCount]
}

// GetState returns the static metadata for pool.
func (c *PoolCache) GetState(pool common.Address) (model.PoolState, bool) {
	s := c.shardFor(pool)
	s.mu.RLock()
	state, ok := s.states[pool]
	s.mu.RUnlock()
	return state, ok
}

// GetSnapshot returns a private copy of the latest snapshot for pool.
func (c *PoolCache) GetSnapshot(pool common.Address) (model.PoolSnapshot, bool) {
	s := c.shardFor(pool)
	s.mu.RLock()
	snap, ok := s.snapshots[pool]
	s.mu.RUnlock()
	if !ok {
		return model.PoolSnapshot{}, false
	}
	return snap.Clone(), true
}

// UpsertState replaces the metadata for state.Address.
func (c *PoolCache) UpsertState(state model.PoolState) {
	s := c.shardFor(state.Address)
	s.mu.Lock()
	s.states[state.Address] = state
	s.mu.Unlock()
}

// UpsertSnapshot replaces the snapshot for snap.Address wholesale.
func (c *PoolCache) UpsertSnapshot(snap model.PoolSnapshot) {
	stored := snap.Clone()
	s := c.shardFor(snap.Address)
	s.mu.Lock()
	s.snapshots[snap.Address] = stored
	s.mu.Unlock()
}

// Upsert stores a freshly fetched state and snapshot together.
func (c *PoolCache) Upsert(state model.PoolState, snap model.PoolSnapshot) {
	stored := snap.Clone()
	s := c.shardFor(state.Address)
	s.mu.Lock()
	s.states[state.Address] = state
	s.snapshots[state.Address] = stored
	s.mu.Unlock()
}

// UpdateSnapshot applies fn to a copy of the existing snapshot and stores the result.
// It returns false when the pool has no snapshot yet.
func (c *PoolCache) UpdateSnapshot(pool common.Address, fn func(*model.PoolSnapshot)) bool {
	s := c.shardFor(pool)
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[pool]
	if !ok {
		return false
	}
	next := snap.Clone()
	fn(&next)
	s.snapshots[pool] = next
	return true
}

// Has reports whether pool metadata is cached.
func (c *PoolCache) Has(pool common.Address) bool {
	_, ok := c.GetState(pool)
	return ok
}

// States returns all cached metadata ordered by pool address.
func (c *PoolCache) States() []model.PoolState {
	out := make([]model.PoolState, 0)
	for _, s := range c.shards {
		s.mu.RLock()
		for _, state := range s.states {
			out = append(out, state)
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

// Addresses returns the cached pool addresses ordered by address.
func (c *PoolCache) Addresses() []common.Address {
	states := c.States()
	out := make([]common.Address, 0, len(states))
	for _, state := range states {
		out = append(out, state.Address)
	}
	return out
}

// Len returns the number of pools with cached metadata.
func (c *PoolCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.states)
		s.mu.RUnlock()
	}
	return n
}
