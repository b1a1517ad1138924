package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gemini-goats/goats-go/internal/domain"
	"github.com/gemini-goats/goats-go/internal/repo"
)

type DownloadStore struct {
	db DB
}

func NewDownloadStore(db DB) *DownloadStore {
	if db == nil {
		return nil
	}
	return &DownloadStore{db: db}
}

func (s *DownloadStore) Create(ctx context.Context, dl domain.Download) (domain.Download, error) {
	if s == nil || s.db == nil {
		return domain.Download{}, fmt.Errorf("download store not initialized")
	}
	if strings.TrimSpace(dl.Status) == "" {
		dl.Status = domain.DownloadRunning
	}
	if err := dl.Validate(); err != nil {
		return domain.Download{}, err
	}
	startTime := normalizeTime(dl.StartTime)
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO downloads (observation_id, unique_id, status, done, error, start_time, message, num_files_downloaded, num_files_omitted)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 RETURNING download_id`,
		dl.ObservationID,
		strings.TrimSpace(dl.UniqueID),
		dl.Status,
		dl.Done,
		dl.Error,
		startTime,
		nullIfEmpty(dl.Message),
		dl.NumFilesDownloaded,
		dl.NumFilesOmitted,
	)
	if err := row.Scan(&dl.ID); err != nil {
		return domain.Download{}, fmt.Errorf("insert download: %w", err)
	}
	dl.StartTime = startTime
	return dl, nil
}

func (s *DownloadStore) GetByUniqueID(ctx context.Context, uniqueID string) (domain.Download, error) {
	if s == nil || s.db == nil {
		return domain.Download{}, fmt.Errorf("download store not initialized")
	}
	uniqueID = strings.TrimSpace(uniqueID)
	if uniqueID == "" {
		return domain.Download{}, fmt.Errorf("unique id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT download_id, observation_id, unique_id, status, done, error, start_time, end_time, message, num_files_downloaded, num_files_omitted
		 FROM downloads WHERE unique_id = $1`,
		uniqueID,
	)
	return scanDownload(row)
}

func (s *DownloadStore) List(ctx context.Context, filter repo.DownloadFilter) ([]domain.Download, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("download store not initialized")
	}

	query := `SELECT download_id, observation_id, unique_id, status, done, error, start_time, end_time, message, num_files_downloaded, num_files_omitted
		FROM downloads`
	var conditions []string
	var args []any
	if filter.ObservationID > 0 {
		args = append(args, filter.ObservationID)
		conditions = append(conditions, fmt.Sprintf("observation_id = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Status) != "" {
		args = append(args, strings.TrimSpace(filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_time DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list downloads: %w", err)
	}
	defer rows.Close()

	var out []domain.Download
	for rows.Next() {
		dl, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate downloads: %w", err)
	}
	return out, nil
}

// Finalize writes the terminal state of a download keyed by its unique id.
func (s *DownloadStore) Finalize(ctx context.Context, dl domain.Download) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("download store not initialized")
	}
	if err := dl.Validate(); err != nil {
		return err
	}
	result, err := s.db.ExecContext(
		ctx,
		`UPDATE downloads SET
			status = $2,
			done = $3,
			error = $4,
			end_time = $5,
			message = $6,
			num_files_downloaded = $7,
			num_files_omitted = $8
		 WHERE unique_id = $1`,
		strings.TrimSpace(dl.UniqueID),
		dl.Status,
		dl.Done,
		dl.Error,
		nullTime(dl.EndTime),
		nullIfEmpty(dl.Message),
		dl.NumFilesDownloaded,
		dl.NumFilesOmitted,
	)
	if err != nil {
		return fmt.Errorf("finalize download: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return handleNotFound(sql.ErrNoRows)
	}
	return nil
}

func scanDownload(row rowScanner) (domain.Download, error) {
	var dl domain.Download
	var endTime sql.NullTime
	var message sql.NullString
	if err := row.Scan(&dl.ID, &dl.ObservationID, &dl.UniqueID, &dl.Status, &dl.Done, &dl.Error,
		&dl.StartTime, &endTime, &message, &dl.NumFilesDownloaded, &dl.NumFilesOmitted); err != nil {
		return domain.Download{}, handleNotFound(err)
	}
	dl.StartTime = dl.StartTime.UTC()
	dl.EndTime = timePtr(endTime)
	dl.Message = message.String
	return dl, nil
}
