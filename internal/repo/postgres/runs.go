package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gemini-goats/goats-go/internal/domain"
)

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) Create(ctx context.Context, run domain.Run) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return domain.Run{}, err
	}
	createdAt := normalizeTime(run.CreatedAt)
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO dragons_runs (observation_id, run_id, version, output_dir, config_path, cal_manager_db, log_path, created_at, modified_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
		 RETURNING dragons_run_id`,
		run.ObservationID,
		strings.TrimSpace(run.RunID),
		nullIfEmpty(run.Version),
		strings.TrimSpace(run.OutputDir),
		strings.TrimSpace(run.ConfigPath),
		strings.TrimSpace(run.CalManagerDB),
		nullIfEmpty(run.LogPath),
		createdAt,
	)
	if err := row.Scan(&run.ID); err != nil {
		return domain.Run{}, fmt.Errorf("insert run: %w", err)
	}
	run.CreatedAt = createdAt
	run.ModifiedAt = createdAt
	return run, nil
}

func (s *RunStore) Get(ctx context.Context, id int64) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT dragons_run_id, observation_id, run_id, version, output_dir, config_path, cal_manager_db, log_path, created_at, modified_at
		 FROM dragons_runs WHERE dragons_run_id = $1`,
		id,
	)
	return scanRun(row)
}

func (s *RunStore) GetByRunID(ctx context.Context, observationID int64, runID string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT dragons_run_id, observation_id, run_id, version, output_dir, config_path, cal_manager_db, log_path, created_at, modified_at
		 FROM dragons_runs WHERE observation_id = $1 AND run_id = $2`,
		observationID,
		runID,
	)
	return scanRun(row)
}

func (s *RunStore) List(ctx context.Context, observationID int64) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	query := `SELECT dragons_run_id, observation_id, run_id, version, output_dir, config_path, cal_manager_db, log_path, created_at, modified_at
		FROM dragons_runs`
	var args []any
	if observationID > 0 {
		query += ` WHERE observation_id = $1`
		args = append(args, observationID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func (s *RunStore) Delete(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM dragons_runs WHERE dragons_run_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete run: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return handleNotFound(sql.ErrNoRows)
	}
	return nil
}

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	var version, logPath sql.NullString
	if err := row.Scan(&run.ID, &run.ObservationID, &run.RunID, &version, &run.OutputDir,
		&run.ConfigPath, &run.CalManagerDB, &logPath, &run.CreatedAt, &run.ModifiedAt); err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	run.Version = version.String
	run.LogPath = logPath.String
	run.CreatedAt = run.CreatedAt.UTC()
	run.ModifiedAt = run.ModifiedAt.UTC()
	return run, nil
}
