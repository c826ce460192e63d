package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"arbScope/internal/model"
)

func TestJsonlStorageAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "records.jsonl")
	store := NewJsonlStorage(path)
	ctx := context.Background()

	opp := model.Opportunity{ID: "opp-1", BuyPool: "0xa", SellPool: "0xb", NetProfit: "1000", DryRun: true}
	sub := model.Submission{OpportunityID: "opp-1", Outcome: "confirmed", States: []string{"built", "confirmed"}}
	require.NoError(t, store.PutOpportunity(ctx, opp))
	require.NoError(t, store.PutSubmission(ctx, sub))
	require.NoError(t, store.Close())

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var lines []Envelope
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var env Envelope
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &env))
		lines = append(lines, env)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)

	assert.Equal(t, KindOpportunity, lines[0].Kind)
	var gotOpp model.Opportunity
	require.NoError(t, json.Unmarshal(lines[0].Record, &gotOpp))
	assert.Equal(t, opp, gotOpp)

	assert.Equal(t, KindSubmission, lines[1].Kind)
	var gotSub model.Submission
	require.NoError(t, json.Unmarshal(lines[1].Record, &gotSub))
	assert.Equal(t, sub, gotSub)
}

type countingSink struct {
	opps, subs int
	err        error
}

func (c *countingSink) PutOpportunity(context.Context, model.Opportunity) error {
	c.opps++
	return c.err
}

func (c *countingSink) PutSubmission(context.Context, model.Submission) error {
	c.subs++
	return c.err
}

func (c *countingSink) Close() error { return c.err }

func TestMultiContinuesPastFailures(t *testing.T) {
	first := &countingSink{err: errors.New("pg down")}
	second := &countingSink{}
	third := &countingSink{err: errors.New("redis down")}
	sinks := Multi{first, second, third}

	err := sinks.PutOpportunity(context.Background(), model.Opportunity{ID: "x"})
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)
	assert.Equal(t, 1, second.opps)
	assert.Equal(t, 1, third.opps)

	require.NoError(t, Multi{second}.PutSubmission(context.Background(), model.Submission{}))
	assert.Equal(t, 1, second.subs)
}
