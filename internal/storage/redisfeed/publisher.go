// Package redisfeed publishes opportunity and submission records to a Redis stream.
package redisfeed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"arbScope/internal/model"
)

// DefaultMaxLen bounds the stream length (approximate trim).
const DefaultMaxLen = 10000

// Publisher appends records to a Redis stream.
type Publisher struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

func NewPublisher(addr, stream string) *Publisher {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	return &Publisher{rdb: rdb, stream: stream, maxLen: DefaultMaxLen}
}

// Ping checks the connection.
func (p *Publisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func (p *Publisher) PutOpportunity(ctx context.Context, opp model.Opportunity) error {
	return p.publish(ctx, "opportunity", opp.ID, opp)
}

func (p *Publisher) PutSubmission(ctx context.Context, sub model.Submission) error {
	return p.publish(ctx, "submission", sub.OpportunityID, sub)
}

func (p *Publisher) Close() error {
	return p.rdb.Close()
}

func (p *Publisher) publish(ctx context.Context, kind, id string, record interface{}) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"kind":    kind,
			"id":      id,
			"payload": string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s %s: %w", p.stream, kind, err)
	}
	return nil
}
