package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gemini-goats/goats-go/internal/domain"
	"github.com/gemini-goats/goats-go/internal/filterexpr"
	"github.com/gemini-goats/goats-go/internal/repo"
)

type RunFileStore struct {
	db DB
}

func NewRunFileStore(db DB) *RunFileStore {
	if db == nil {
		return nil
	}
	return &RunFileStore{db: db}
}

// BulkInsert links data products into a run, enabled by default. Conflicts
// with already-linked products are ignored.
func (s *RunFileStore) BulkInsert(ctx context.Context, runID int64, dataProductIDs []int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run file store not initialized")
	}
	if runID <= 0 {
		return fmt.Errorf("run id is required")
	}
	for _, dpID := range dataProductIDs {
		_, err := s.db.ExecContext(
			ctx,
			`INSERT INTO dragons_run_files (dragons_run_id, data_product_id, enabled)
			 VALUES ($1,$2,TRUE)
			 ON CONFLICT (dragons_run_id, data_product_id) DO NOTHING`,
			runID,
			dpID,
		)
		if err != nil {
			return fmt.Errorf("insert run file: %w", err)
		}
	}
	return nil
}

func (s *RunFileStore) Get(ctx context.Context, id int64) (domain.RunFile, error) {
	if s == nil || s.db == nil {
		return domain.RunFile{}, fmt.Errorf("run file store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		runFileSelect+` WHERE rf.run_file_id = $1`,
		id,
	)
	return scanRunFile(row)
}

const runFileSelect = `SELECT rf.run_file_id, rf.dragons_run_id, rf.data_product_id, rf.enabled,
	fd.file_type, fd.observation_type, fd.observation_class, fd.object_name, fd.group_id,
	fd.exposure_time, fd.central_wavelength, fd.wavelength_band, fd.observation_date,
	fd.roi_setting, fd.instrument, fd.astrodata
	FROM dragons_run_files rf
	JOIN file_descriptors fd ON fd.data_product_id = rf.data_product_id`

func (s *RunFileStore) List(ctx context.Context, filter repo.RunFileFilter) ([]domain.RunFile, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run file store not initialized")
	}

	query := runFileSelect
	var conditions []string
	var args []any
	if filter.RunID > 0 {
		args = append(args, filter.RunID)
		conditions = append(conditions, fmt.Sprintf("rf.dragons_run_id = $%d", len(args)))
	}
	if filter.Enabled != nil {
		args = append(args, *filter.Enabled)
		conditions = append(conditions, fmt.Sprintf("rf.enabled = $%d", len(args)))
	}
	if strings.TrimSpace(filter.FileType) != "" {
		args = append(args, strings.TrimSpace(filter.FileType))
		conditions = append(conditions, fmt.Sprintf("fd.file_type = $%d", len(args)))
	}
	if strings.TrimSpace(filter.Expression) != "" {
		compiled, err := filterexpr.Compile(filter.Expression, filterexpr.Options{
			Strict:    filter.Strict,
			Column:    "fd.astrodata",
			ArgOffset: len(args),
		})
		if err != nil {
			return nil, err
		}
		args = append(args, compiled.Args...)
		conditions = append(conditions, "("+compiled.SQL+")")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY rf.run_file_id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list run files: %w", err)
	}
	defer rows.Close()

	var out []domain.RunFile
	for rows.Next() {
		rf, err := scanRunFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run files: %w", err)
	}
	return out, nil
}

// ListEnabledInputs resolves the enabled files of a run to the fields the
// reduction executor consumes, in stable run-file order.
func (s *RunFileStore) ListEnabledInputs(ctx context.Context, runID int64) ([]repo.RunFileInput, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run file store not initialized")
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT rf.run_file_id, rf.data_product_id, dp.storage_path, COALESCE(fd.observation_type, '')
		 FROM dragons_run_files rf
		 JOIN data_products dp ON dp.data_product_id = rf.data_product_id
		 LEFT JOIN file_descriptors fd ON fd.data_product_id = rf.data_product_id
		 WHERE rf.dragons_run_id = $1 AND rf.enabled
		 ORDER BY rf.run_file_id ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list enabled inputs: %w", err)
	}
	defer rows.Close()

	var out []repo.RunFileInput
	for rows.Next() {
		var in repo.RunFileInput
		if err := rows.Scan(&in.RunFileID, &in.DataProductID, &in.StoragePath, &in.ObservationType); err != nil {
			return nil, fmt.Errorf("scan input: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inputs: %w", err)
	}
	return out, nil
}

func (s *RunFileStore) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run file store not initialized")
	}
	result, err := s.db.ExecContext(ctx, `UPDATE dragons_run_files SET enabled = $2 WHERE run_file_id = $1`, id, enabled)
	if err != nil {
		return fmt.Errorf("set run file enabled: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return handleNotFound(sql.ErrNoRows)
	}
	return nil
}

// DisableOldBiases turns off BIAS files dated outside a window around the
// latest object observation date of the run. Returns the number disabled.
func (s *RunFileStore) DisableOldBiases(ctx context.Context, runID int64, windowDays int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("run file store not initialized")
	}
	if windowDays <= 0 {
		return 0, nil
	}

	result, err := s.db.ExecContext(
		ctx,
		`UPDATE dragons_run_files rf SET enabled = FALSE
		 FROM file_descriptors fd
		 WHERE fd.data_product_id = rf.data_product_id
		   AND rf.dragons_run_id = $1
		   AND fd.file_type = 'BIAS'
		   AND fd.observation_date IS NOT NULL
		   AND ABS(EXTRACT(EPOCH FROM fd.observation_date - (
				SELECT MAX(fd2.observation_date)
				FROM dragons_run_files rf2
				JOIN file_descriptors fd2 ON fd2.data_product_id = rf2.data_product_id
				WHERE rf2.dragons_run_id = $1 AND fd2.file_type = 'object'
		   ))) > $2 * 86400`,
		runID,
		windowDays,
	)
	if err != nil {
		return 0, fmt.Errorf("disable old biases: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func scanRunFile(row rowScanner) (domain.RunFile, error) {
	var rf domain.RunFile
	var obsType, obsClass, objectName, groupID, band, roi, instrument sql.NullString
	var exposure, wavelength sql.NullFloat64
	var obsDate sql.NullTime
	var astrodataJSON []byte
	if err := row.Scan(&rf.ID, &rf.RunID, &rf.DataProductID, &rf.Enabled,
		&rf.Descriptors.FileType, &obsType, &obsClass, &objectName, &groupID,
		&exposure, &wavelength, &band, &obsDate, &roi, &instrument, &astrodataJSON); err != nil {
		return domain.RunFile{}, handleNotFound(err)
	}
	rf.Descriptors.DataProductID = rf.DataProductID
	rf.Descriptors.ObservationType = obsType.String
	rf.Descriptors.ObservationClass = obsClass.String
	rf.Descriptors.ObjectName = objectName.String
	rf.Descriptors.GroupID = groupID.String
	rf.Descriptors.WavelengthBand = band.String
	rf.Descriptors.ROISetting = roi.String
	rf.Descriptors.Instrument = instrument.String
	rf.Descriptors.ExposureTime = floatPtr(exposure)
	rf.Descriptors.CentralWavelength = floatPtr(wavelength)
	rf.Descriptors.ObservationDate = timePtr(obsDate)
	meta, err := decodeMetadata(astrodataJSON)
	if err != nil {
		return domain.RunFile{}, fmt.Errorf("decode descriptors: %w", err)
	}
	rf.Descriptors.AstrodataDescriptors = meta
	return rf, nil
}
