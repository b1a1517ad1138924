package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gemini-goats/goats-go/internal/domain"
	"github.com/gemini-goats/goats-go/internal/repo"
)

type ReductionStore struct {
	db DB
}

func NewReductionStore(db DB) *ReductionStore {
	if db == nil {
		return nil
	}
	return &ReductionStore{db: db}
}

func (s *ReductionStore) Create(ctx context.Context, red domain.Reduction) (domain.Reduction, error) {
	if s == nil || s.db == nil {
		return domain.Reduction{}, fmt.Errorf("reduction store not initialized")
	}
	if strings.TrimSpace(red.Status) == "" {
		red.Status = domain.ReductionCreated
	}
	if err := red.Validate(); err != nil {
		return domain.Reduction{}, err
	}
	startTime := normalizeTime(red.StartTime)
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO dragons_reductions (recipe_id, status, start_time, task_id, created_at)
		 VALUES ($1,$2,$3,$4,$3)
		 RETURNING reduce_id`,
		red.RecipeID,
		red.Status,
		startTime,
		nullIfEmpty(red.TaskID),
	)
	if err := row.Scan(&red.ID); err != nil {
		return domain.Reduction{}, fmt.Errorf("insert reduction: %w", err)
	}
	red.StartTime = startTime
	red.CreatedAt = startTime
	return red, nil
}

func (s *ReductionStore) Get(ctx context.Context, id int64) (domain.Reduction, error) {
	if s == nil || s.db == nil {
		return domain.Reduction{}, fmt.Errorf("reduction store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT reduce_id, recipe_id, status, start_time, end_time, task_id, created_at
		 FROM dragons_reductions WHERE reduce_id = $1`,
		id,
	)
	return scanReduction(row)
}

func (s *ReductionStore) List(ctx context.Context, filter repo.ReductionFilter) ([]domain.Reduction, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("reduction store not initialized")
	}

	query := `SELECT d.reduce_id, d.recipe_id, d.status, d.start_time, d.end_time, d.task_id, d.created_at
		FROM dragons_reductions d`
	var conditions []string
	var args []any
	if filter.RunID > 0 {
		query += ` JOIN dragons_recipes r ON r.recipe_id = d.recipe_id`
		args = append(args, filter.RunID)
		conditions = append(conditions, fmt.Sprintf("r.dragons_run_id = $%d", len(args)))
	}
	if filter.RecipeID > 0 {
		args = append(args, filter.RecipeID)
		conditions = append(conditions, fmt.Sprintf("d.recipe_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Status) != "" {
		args = append(args, strings.TrimSpace(filter.Status))
		conditions = append(conditions, fmt.Sprintf("d.status = $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY d.reduce_id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reductions: %w", err)
	}
	defer rows.Close()

	var out []domain.Reduction
	for rows.Next() {
		red, err := scanReduction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, red)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reductions: %w", err)
	}
	return out, nil
}

// SetStatus advances the reduction. Backward moves and moves out of a
// terminal state fail with ErrIllegalTransition. Terminal statuses record
// end_time.
func (s *ReductionStore) SetStatus(ctx context.Context, id int64, status string) (domain.Reduction, error) {
	if s == nil || s.db == nil {
		return domain.Reduction{}, fmt.Errorf("reduction store not initialized")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return domain.Reduction{}, err
	}
	if !domain.CanTransition(current.Status, status) {
		return domain.Reduction{}, fmt.Errorf("%w: %s -> %s", repo.ErrIllegalTransition, current.Status, status)
	}

	var endTime sql.NullTime
	if domain.ReductionStatusTerminal(status) {
		endTime = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE dragons_reductions SET status = $2, end_time = COALESCE($3, end_time)
		 WHERE reduce_id = $1 AND status = $4`,
		id,
		status,
		endTime,
		current.Status,
	)
	if err != nil {
		return domain.Reduction{}, fmt.Errorf("update reduction status: %w", err)
	}
	// a concurrent transition wins; re-check against the fresh row
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		fresh, err := s.Get(ctx, id)
		if err != nil {
			return domain.Reduction{}, err
		}
		return domain.Reduction{}, fmt.Errorf("%w: %s -> %s", repo.ErrIllegalTransition, fresh.Status, status)
	}
	return s.Get(ctx, id)
}

func (s *ReductionStore) SetTaskID(ctx context.Context, id int64, taskID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("reduction store not initialized")
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE dragons_reductions SET task_id = $2 WHERE reduce_id = $1`,
		id,
		nullIfEmpty(taskID),
	)
	if err != nil {
		return fmt.Errorf("set reduction task id: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return handleNotFound(sql.ErrNoRows)
	}
	return nil
}

// HasNonTerminalForRecipe reports whether the recipe already has a reduction
// in flight; the API layer uses it to refuse concurrent reductions.
func (s *ReductionStore) HasNonTerminalForRecipe(ctx context.Context, recipeID int64) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("reduction store not initialized")
	}
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM dragons_reductions
		 WHERE recipe_id = $1 AND status NOT IN ('done','error','canceled')`,
		recipeID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count non-terminal reductions: %w", err)
	}
	return count > 0, nil
}

func scanReduction(row rowScanner) (domain.Reduction, error) {
	var red domain.Reduction
	var endTime sql.NullTime
	var taskID sql.NullString
	if err := row.Scan(&red.ID, &red.RecipeID, &red.Status, &red.StartTime, &endTime, &taskID, &red.CreatedAt); err != nil {
		return domain.Reduction{}, handleNotFound(err)
	}
	red.StartTime = red.StartTime.UTC()
	red.EndTime = timePtr(endTime)
	red.TaskID = taskID.String
	red.CreatedAt = red.CreatedAt.UTC()
	return red, nil
}
