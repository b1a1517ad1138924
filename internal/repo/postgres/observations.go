package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gemini-goats/goats-go/internal/domain"
)

type ObservationStore struct {
	db DB
}

func NewObservationStore(db DB) *ObservationStore {
	if db == nil {
		return nil
	}
	return &ObservationStore{db: db}
}

// Upsert mirrors a TOM observation record. Identity comes from the TOM, so
// the id is supplied by the caller.
func (s *ObservationStore) Upsert(ctx context.Context, obs domain.Observation) (domain.Observation, error) {
	if s == nil || s.db == nil {
		return domain.Observation{}, fmt.Errorf("observation store not initialized")
	}
	if err := obs.Validate(); err != nil {
		return domain.Observation{}, err
	}
	createdAt := normalizeTime(obs.CreatedAt)
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO observations (observation_id, target_name, facility, program_id, created_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (observation_id) DO UPDATE SET
			target_name = EXCLUDED.target_name,
			facility = EXCLUDED.facility,
			program_id = EXCLUDED.program_id`,
		obs.ID,
		strings.TrimSpace(obs.TargetName),
		strings.TrimSpace(obs.Facility),
		nullIfEmpty(obs.ProgramID),
		createdAt,
	)
	if err != nil {
		return domain.Observation{}, fmt.Errorf("upsert observation: %w", err)
	}
	obs.CreatedAt = createdAt
	return obs, nil
}

func (s *ObservationStore) Get(ctx context.Context, id int64) (domain.Observation, error) {
	if s == nil || s.db == nil {
		return domain.Observation{}, fmt.Errorf("observation store not initialized")
	}
	if id <= 0 {
		return domain.Observation{}, fmt.Errorf("observation id is required")
	}
	var obs domain.Observation
	var programID sql.NullString
	row := s.db.QueryRowContext(
		ctx,
		`SELECT observation_id, target_name, facility, program_id, created_at
		 FROM observations WHERE observation_id = $1`,
		id,
	)
	if err := row.Scan(&obs.ID, &obs.TargetName, &obs.Facility, &programID, &obs.CreatedAt); err != nil {
		return domain.Observation{}, handleNotFound(err)
	}
	obs.ProgramID = programID.String
	obs.CreatedAt = obs.CreatedAt.UTC()
	return obs, nil
}
