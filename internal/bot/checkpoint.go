package bot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Checkpoint tracks the last block whose logs were fully handled.
type Checkpoint struct {
	LastProcessedBlock uint64 `json:"last_processed_block"`
	UpdatedAt          string `json:"updated_at"`
}

// CheckpointStore persists checkpoints to disk. Saves only move forward.
type CheckpointStore struct {
	path    string
	enabled bool

	mu    sync.Mutex
	saved uint64
	has   bool
}

func NewCheckpointStore(path string, enabled bool) *CheckpointStore {
	return &CheckpointStore{path: path, enabled: enabled}
}

func (c *CheckpointStore) Load() (Checkpoint, bool, error) {
	if !c.enabled {
		return Checkpoint{}, false, nil
	}

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return Checkpoint{}, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}

	c.mu.Lock()
	c.saved, c.has = cp.LastProcessedBlock, true
	c.mu.Unlock()
	return cp, true, nil
}

// Advance saves block if it is past the last saved checkpoint.
func (c *CheckpointStore) Advance(block uint64) error {
	if !c.enabled {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.has && block <= c.saved {
		return nil
	}
	if err := c.write(block); err != nil {
		return err
	}
	c.saved, c.has = block, true
	return nil
}

func (c *CheckpointStore) write(lastProcessed uint64) error {
	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	cp := Checkpoint{
		LastProcessedBlock: lastProcessed,
		UpdatedAt:          time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// ResumeFrom returns the first block to scan for factory events. Without a checkpoint,
// or when the checkpoint is further back than lookback, it starts lookback blocks
// before head.
func ResumeFrom(cp Checkpoint, ok bool, head, lookback uint64) uint64 {
	floor := uint64(0)
	if head > lookback {
		floor = head - lookback
	}
	if !ok || cp.LastProcessedBlock+1 < floor {
		return floor
	}
	return cp.LastProcessedBlock + 1
}
