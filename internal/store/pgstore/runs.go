package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/csvsync/internal/core"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const createRunsTable = `CREATE TABLE IF NOT EXISTS csv_runs (
	id          uuid PRIMARY KEY,
	kind        text NOT NULL,
	models      text[] NOT NULL,
	mode        text NOT NULL DEFAULT '',
	status      text NOT NULL,
	error       text,
	row_count   integer NOT NULL DEFAULT 0,
	committed   boolean NOT NULL DEFAULT false,
	started_at  timestamptz NOT NULL,
	duration_ms bigint NOT NULL DEFAULT 0
)`

// EnsureSchema creates the run history table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createRunsTable); err != nil {
		return fmt.Errorf("create csv_runs: %w", err)
	}
	return nil
}

// RecordRun writes run to csv_runs.
func (s *Store) RecordRun(ctx context.Context, run core.RunRecord) error {
	id, err := uuid.Parse(run.ID)
	if err != nil {
		return fmt.Errorf("run id: %w", err)
	}
	models := run.Models
	if models == nil {
		models = []string{}
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO csv_runs
		(id, kind, models, mode, status, error, row_count, committed, started_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		pgtype.UUID{Bytes: id, Valid: true},
		string(run.Kind),
		models,
		string(run.Mode),
		run.Status,
		pgtype.Text{String: run.Error, Valid: run.Error != ""},
		run.Rows,
		run.Committed,
		pgtype.Timestamptz{Time: run.StartedAt, Valid: true},
		run.Duration.Milliseconds(),
	)
	return err
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]core.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `SELECT id, kind, models, mode, status, error,
		row_count, committed, started_at, duration_ms
		FROM csv_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanRun)
}

func scanRun(row pgx.CollectableRow) (core.RunRecord, error) {
	var (
		id         pgtype.UUID
		kind, mode string
		errText    pgtype.Text
		started    pgtype.Timestamptz
		durationMS int64
		rec        core.RunRecord
	)
	err := row.Scan(&id, &kind, &rec.Models, &mode, &rec.Status, &errText,
		&rec.Rows, &rec.Committed, &started, &durationMS)
	if err != nil {
		return rec, err
	}
	rec.ID = uuid.UUID(id.Bytes).String()
	rec.Kind = core.RunKind(kind)
	rec.Mode = core.Mode(mode)
	rec.Error = errText.String
	rec.StartedAt = started.Time
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return rec, nil
}
