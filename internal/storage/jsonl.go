package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"arbScope/internal/model"
)

// Record kinds written to the JSONL file.
const (
	KindOpportunity = "opportunity"
	KindSubmission  = "submission"
)

// Envelope is one JSONL line.
type Envelope struct {
	Kind   string          `json:"kind"`
	Record json.RawMessage `json:"record"`
}

// JsonlStorage appends records to a JSONL file.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

func (s *JsonlStorage) PutOpportunity(_ context.Context, opp model.Opportunity) error {
	return s.append(KindOpportunity, opp)
}

func (s *JsonlStorage) PutSubmission(_ context.Context, sub model.Submission) error {
	return s.append(KindSubmission, sub)
}

func (s *JsonlStorage) Close() error {
	return nil
}

func (s *JsonlStorage) append(kind string, record interface{}) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s record: %w", kind, err)
	}
	line, err := json.Marshal(Envelope{Kind: kind, Record: payload})
	if err != nil {
		return fmt.Errorf("marshal %s envelope: %w", kind, err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if _, err := writer.Write(line); err != nil {
		return fmt.Errorf("write %s record: %w", kind, err)
	}
	if err := writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}
