// Package eventlog persists the updates published on the live bus so clients
// that connect late can catch up over plain HTTP.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Event struct {
	ID         int64
	OccurredAt time.Time
	Group      string
	Kind       string
	Label      string
	Color      string
	RunID      string
	RequestID  string
	Payload    any
}

type Record struct {
	ID         int64           `json:"id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Group      string          `json:"group"`
	Kind       string          `json:"kind"`
	Label      string          `json:"label,omitempty"`
	Color      string          `json:"color,omitempty"`
	RunID      string          `json:"run_id,omitempty"`
	RequestID  string          `json:"request_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.Group) == "" {
		return errors.New("Group is required")
	}
	if strings.TrimSpace(e.Kind) == "" {
		return errors.New("Kind is required")
	}
	return nil
}

func Insert(ctx context.Context, q Querier, event Event) (int64, error) {
	if q == nil {
		return 0, errors.New("querier is required")
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return 0, err
	}

	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	var id int64
	err = q.QueryRowContext(
		ctx,
		`INSERT INTO event_log (
			occurred_at,
			group_name,
			kind,
			label,
			color,
			run_id,
			request_id,
			payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING event_id`,
		event.OccurredAt.UTC(),
		strings.TrimSpace(event.Group),
		strings.TrimSpace(event.Kind),
		nullIfEmpty(event.Label),
		nullIfEmpty(event.Color),
		nullIfEmpty(event.RunID),
		nullIfEmpty(event.RequestID),
		payloadJSON,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert event: %w", err)
	}
	return id, nil
}

// Filter narrows a List call. Zero fields match everything.
type Filter struct {
	Group string
	Kind  string
	RunID string
	Limit int
}

const defaultListLimit = 100

// List returns events newest first.
func List(ctx context.Context, q Querier, filter Filter) ([]Record, error) {
	if q == nil {
		return nil, errors.New("querier is required")
	}

	query := `SELECT event_id, occurred_at, group_name, kind, label, color, run_id, request_id, payload
		FROM event_log`
	var conditions []string
	var args []any
	add := func(column, value string) {
		if strings.TrimSpace(value) == "" {
			return
		}
		args = append(args, strings.TrimSpace(value))
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("group_name", filter.Group)
	add("kind", filter.Kind)
	add("run_id", filter.RunID)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY event_id DESC LIMIT $%d", len(args))

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var label, color, runID, requestID sql.NullString
		if err := rows.Scan(&rec.ID, &rec.OccurredAt, &rec.Group, &rec.Kind, &label, &color, &runID, &requestID, &rec.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		rec.OccurredAt = rec.OccurredAt.UTC()
		rec.Label = label.String
		rec.Color = color.String
		rec.RunID = runID.String
		rec.RequestID = requestID.String
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func nullIfEmpty(value string) sql.NullString {
	value = strings.TrimSpace(value)
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
