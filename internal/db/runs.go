package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/david/grant-importer/internal/ingest"
	"github.com/david/grant-importer/internal/models"
)

// RunHistory keeps the most recent import runs in import_runs.
type RunHistory struct {
	pool  *pgxpool.Pool
	limit int
}

func NewRunHistory(pool *pgxpool.Pool) *RunHistory {
	return &RunHistory{pool: pool, limit: ingest.HistoryLimit}
}

const runCols = `run_id, kind, started_at, finished_at, attempted, created, duplicate, skipped, errors, partial, aborted, records`

func (h *RunHistory) Record(ctx context.Context, r models.ImportResult) error {
	records, err := json.Marshal(r.Records)
	if err != nil {
		return fmt.Errorf("encode run records: %w", err)
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO import_runs (run_id, kind, status, started_at, finished_at, attempted, created, duplicate, skipped, errors, partial, aborted, records)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_id) DO NOTHING
	`, r.RunID, string(r.Kind), r.Status(), r.StartedAt, r.FinishedAt, r.Attempted, r.Created, r.Duplicate,
		r.Skipped, r.Errors, r.Partial, nullable(r.Aborted), records)
	if err != nil {
		return fmt.Errorf("insert import run: %w", err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM import_runs WHERE run_id NOT IN (
			SELECT run_id FROM import_runs ORDER BY started_at DESC LIMIT $1
		)
	`, h.limit)
	if err != nil {
		return fmt.Errorf("trim import runs: %w", err)
	}
	return tx.Commit(ctx)
}

func (h *RunHistory) Last(ctx context.Context) (*models.ImportResult, error) {
	row := h.pool.QueryRow(ctx, "SELECT "+runCols+" FROM import_runs ORDER BY started_at DESC LIMIT 1")
	r, err := scanRun(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (h *RunHistory) History(ctx context.Context, n int) ([]models.ImportResult, error) {
	if n <= 0 || n > h.limit {
		n = h.limit
	}
	rows, err := h.pool.Query(ctx, "SELECT "+runCols+" FROM import_runs ORDER BY started_at DESC LIMIT $1", n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.ImportResult{}
	for rows.Next() {
		r, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRun(scan func(dest ...any) error) (models.ImportResult, error) {
	var r models.ImportResult
	var kind string
	var aborted *string
	var records []byte
	err := scan(&r.RunID, &kind, &r.StartedAt, &r.FinishedAt, &r.Attempted, &r.Created, &r.Duplicate,
		&r.Skipped, &r.Errors, &r.Partial, &aborted, &records)
	if err != nil {
		return r, err
	}
	r.Kind = models.RunKind(kind)
	r.Aborted = deref(aborted)
	if len(records) > 0 {
		if err := json.Unmarshal(records, &r.Records); err != nil {
			return r, fmt.Errorf("decode run records: %w", err)
		}
	}
	return r, nil
}
