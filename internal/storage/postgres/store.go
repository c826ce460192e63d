package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"arbScope/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS opportunities (
	id            TEXT PRIMARY KEY,
	detected_at   TIMESTAMPTZ NOT NULL,
	block         BIGINT NOT NULL,
	buy_pool      TEXT NOT NULL,
	sell_pool     TEXT NOT NULL,
	buy_kind      TEXT NOT NULL,
	sell_kind     TEXT NOT NULL,
	buy_price     DOUBLE PRECISION NOT NULL,
	sell_price    DOUBLE PRECISION NOT NULL,
	loan_amount   NUMERIC(78, 0) NOT NULL,
	net_profit    NUMERIC(78, 0) NOT NULL,
	gas_price     NUMERIC(78, 0) NOT NULL,
	dry_run       BOOLEAN NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS submissions (
	opportunity_id TEXT PRIMARY KEY REFERENCES opportunities (id),
	tx_hash        TEXT,
	nonce          BIGINT NOT NULL,
	outcome        TEXT NOT NULL,
	via            TEXT,
	block          BIGINT,
	gas_used       BIGINT,
	states         TEXT[] NOT NULL,
	error          TEXT,
	submitted_at   TIMESTAMPTZ NOT NULL,
	finished_at    TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Store persists opportunities and submission outcomes to Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// PutOpportunity inserts an opportunity; a repeated id is ignored.
func (s *Store) PutOpportunity(ctx context.Context, opp model.Opportunity) error {
	detectedAt, err := parseTime(opp.DetectedAt)
	if err != nil {
		return fmt.Errorf("opportunity %s: %w", opp.ID, err)
	}
	var amounts [3]pgtype.Numeric
	for i, raw := range []string{opp.LoanAmount, opp.NetProfit, opp.GasPrice} {
		if amounts[i], err = numeric(raw); err != nil {
			return fmt.Errorf("opportunity %s: %w", opp.ID, err)
		}
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO opportunities (
			id, detected_at, block, buy_pool, sell_pool, buy_kind, sell_kind,
			buy_price, sell_price, loan_amount, net_profit, gas_price, dry_run
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO NOTHING
	`,
		opp.ID,
		detectedAt,
		int64(opp.Block),
		opp.BuyPool,
		opp.SellPool,
		opp.BuyKind,
		opp.SellKind,
		opp.BuyPrice,
		opp.SellPrice,
		amounts[0],
		amounts[1],
		amounts[2],
		opp.DryRun,
	)
	return err
}

// PutSubmission inserts or replaces the outcome for an opportunity.
func (s *Store) PutSubmission(ctx context.Context, sub model.Submission) error {
	submittedAt, err := parseTime(sub.SubmittedAt)
	if err != nil {
		return fmt.Errorf("submission %s: %w", sub.OpportunityID, err)
	}
	finishedAt, err := parseTime(sub.FinishedAt)
	if err != nil {
		return fmt.Errorf("submission %s: %w", sub.OpportunityID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO submissions (
			opportunity_id, tx_hash, nonce, outcome, via, block, gas_used, states, error,
			submitted_at, finished_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (opportunity_id)
		DO UPDATE SET
			tx_hash = EXCLUDED.tx_hash,
			nonce = EXCLUDED.nonce,
			outcome = EXCLUDED.outcome,
			via = EXCLUDED.via,
			block = EXCLUDED.block,
			gas_used = EXCLUDED.gas_used,
			states = EXCLUDED.states,
			error = EXCLUDED.error,
			submitted_at = EXCLUDED.submitted_at,
			finished_at = EXCLUDED.finished_at
	`,
		sub.OpportunityID,
		sub.TxHash,
		int64(sub.Nonce),
		sub.Outcome,
		sub.Via,
		int64(sub.Block),
		int64(sub.GasUsed),
		sub.States,
		sub.Error,
		submittedAt,
		finishedAt,
	)
	return err
}

func parseTime(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return ts, nil
}

// numeric converts a base-unit integer string to a NUMERIC value.
func numeric(value string) (pgtype.Numeric, error) {
	if value == "" {
		return pgtype.Numeric{Int: new(big.Int), Valid: true}, nil
	}
	n, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return pgtype.Numeric{}, fmt.Errorf("invalid integer %q", value)
	}
	return pgtype.Numeric{Int: n, Valid: true}, nil
}
