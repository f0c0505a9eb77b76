package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/derivex/rewards-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision;
// the nested reward totals travel as JSONB since they are only ever read
// back whole.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Schema creates the tables the store needs. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS epoch_runs (
	run_id      UUID PRIMARY KEY,
	epoch_id    TEXT NOT NULL,
	start_ts    BIGINT NOT NULL,
	end_ts      BIGINT NOT NULL,
	rewards     JSONB NOT NULL,
	anomalies   JSONB NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS epoch_user_rebates (
	run_id                UUID NOT NULL REFERENCES epoch_runs(run_id),
	trader                TEXT NOT NULL,
	fees                  NUMERIC NOT NULL,
	effective_rebate_rate NUMERIC NOT NULL,
	trading_rebate        NUMERIC NOT NULL,
	short_call_seconds    DOUBLE PRECISION NOT NULL,
	short_put_seconds     DOUBLE PRECISION NOT NULL,
	collat_rebate         NUMERIC NOT NULL,
	total_rebate          NUMERIC NOT NULL,
	gov_rebate            NUMERIC NOT NULL,
	partner_rebate        NUMERIC NOT NULL,
	PRIMARY KEY (run_id, trader)
);
`

// InitSchema applies the schema.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) SaveEpochResult(ctx context.Context, r *model.EpochResult) error {
	rewards, err := json.Marshal(r.Rewards)
	if err != nil {
		return fmt.Errorf("marshal rewards: %w", err)
	}
	anomalies, err := json.Marshal(r.Anomalies)
	if err != nil {
		return fmt.Errorf("marshal anomalies: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save run %s: %w", r.RunID, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO epoch_runs (run_id, epoch_id, start_ts, end_ts, rewards, anomalies, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.RunID, r.EpochID, r.StartTimestamp, r.EndTimestamp,
		rewards, anomalies, r.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", r.RunID, err)
	}

	batch := &pgx.Batch{}
	for trader, u := range r.Users {
		batch.Queue(
			`INSERT INTO epoch_user_rebates
			 (run_id, trader, fees, effective_rebate_rate, trading_rebate,
			  short_call_seconds, short_put_seconds, collat_rebate,
			  total_rebate, gov_rebate, partner_rebate)
			 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC,
			         $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC)`,
			r.RunID, strings.ToLower(trader),
			u.Fees.String(), u.EffectiveRebateRate.String(), u.TradingRebateDollars.String(),
			u.ShortCallSeconds, u.ShortPutSeconds, u.CollatRebateDollars.String(),
			u.TotalRebateDollars.String(), u.GovRebate.String(), u.PartnerRebate.String(),
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range r.Users {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("insert user rebates for run %s: %w", r.RunID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch for run %s: %w", r.RunID, err)
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetEpochResult(ctx context.Context, runID string) (*model.EpochResult, error) {
	var r model.EpochResult
	var rewards, anomalies []byte

	err := s.pool.QueryRow(ctx,
		`SELECT run_id, epoch_id, start_ts, end_ts, rewards, anomalies, computed_at
		 FROM epoch_runs WHERE run_id = $1`, runID).
		Scan(&r.RunID, &r.EpochID, &r.StartTimestamp, &r.EndTimestamp,
			&rewards, &anomalies, &r.ComputedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}

	if err := json.Unmarshal(rewards, &r.Rewards); err != nil {
		return nil, fmt.Errorf("decode rewards for run %s: %w", runID, err)
	}
	if err := json.Unmarshal(anomalies, &r.Anomalies); err != nil {
		return nil, fmt.Errorf("decode anomalies for run %s: %w", runID, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT trader, fees::TEXT, effective_rebate_rate::TEXT, trading_rebate::TEXT,
		        short_call_seconds, short_put_seconds, collat_rebate::TEXT,
		        total_rebate::TEXT, gov_rebate::TEXT, partner_rebate::TEXT
		 FROM epoch_user_rebates WHERE run_id = $1`, runID)
	if err != nil {
		return nil, fmt.Errorf("get user rebates for run %s: %w", runID, err)
	}
	defer rows.Close()

	r.Users = make(map[string]model.UserRebate)
	for rows.Next() {
		var trader string
		u, err := scanUserRebate(rows, &trader)
		if err != nil {
			return nil, err
		}
		r.Users[trader] = u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &r, nil
}

func (s *PostgresStore) ListEpochs(ctx context.Context) ([]model.EpochSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.run_id, r.epoch_id, r.start_ts, r.end_ts,
		        r.rewards->>'total_gov_rebate',
		        (SELECT COUNT(*) FROM epoch_user_rebates u WHERE u.run_id = r.run_id),
		        r.computed_at
		 FROM epoch_runs r ORDER BY r.computed_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []model.EpochSummary
	for rows.Next() {
		var sum model.EpochSummary
		var totalGov string
		if err := rows.Scan(&sum.RunID, &sum.EpochID, &sum.StartTimestamp, &sum.EndTimestamp,
			&totalGov, &sum.UserCount, &sum.ComputedAt); err != nil {
			return nil, err
		}
		sum.TotalGovRebate, _ = decimal.NewFromString(totalGov)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

func (s *PostgresStore) GetUserRebate(ctx context.Context, runID, trader string) (*model.UserRebate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT trader, fees::TEXT, effective_rebate_rate::TEXT, trading_rebate::TEXT,
		        short_call_seconds, short_put_seconds, collat_rebate::TEXT,
		        total_rebate::TEXT, gov_rebate::TEXT, partner_rebate::TEXT
		 FROM epoch_user_rebates WHERE run_id = $1 AND trader = $2`,
		runID, strings.ToLower(trader))

	var got string
	u, err := scanUserRebate(row, &got)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s trader %s: %w", runID, trader, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get user rebate %s/%s: %w", runID, trader, err)
	}
	return &u, nil
}

// scanUserRebate reads one user rebate row, NUMERIC columns as TEXT.
func scanUserRebate(row pgx.Row, trader *string) (model.UserRebate, error) {
	var u model.UserRebate
	var fees, rate, trading, collat, total, gov, partner string

	if err := row.Scan(trader, &fees, &rate, &trading,
		&u.ShortCallSeconds, &u.ShortPutSeconds, &collat,
		&total, &gov, &partner); err != nil {
		return u, err
	}

	u.Fees, _ = decimal.NewFromString(fees)
	u.EffectiveRebateRate, _ = decimal.NewFromString(rate)
	u.TradingRebateDollars, _ = decimal.NewFromString(trading)
	u.CollatRebateDollars, _ = decimal.NewFromString(collat)
	u.TotalRebateDollars, _ = decimal.NewFromString(total)
	u.GovRebate, _ = decimal.NewFromString(gov)
	u.PartnerRebate, _ = decimal.NewFromString(partner)

	return u, nil
}
