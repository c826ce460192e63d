package storage

import (
	"context"

	"go.uber.org/multierr"

	"arbScope/internal/model"
)

// Storage is a sink for opportunity and submission records.
type Storage interface {
	PutOpportunity(ctx context.Context, opp model.Opportunity) error
	PutSubmission(ctx context.Context, sub model.Submission) error
	Close() error
}

// Multi fans records out to every sink. A failing sink does not stop the others.
type Multi []Storage

func (m Multi) PutOpportunity(ctx context.Context, opp model.Opportunity) error {
	var err error
	for _, sink := range m {
		err = multierr.Append(err, sink.PutOpportunity(ctx, opp))
	}
	return err
}

func (m Multi) PutSubmission(ctx context.Context, sub model.Submission) error {
	var err error
	for _, sink := range m {
		err = multierr.Append(err, sink.PutSubmission(ctx, sub))
	}
	return err
}

func (m Multi) Close() error {
	var err error
	for _, sink := range m {
		err = multierr.Append(err, sink.Close())
	}
	return err
}
