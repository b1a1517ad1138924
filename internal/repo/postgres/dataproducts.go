package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gemini-goats/goats-go/internal/domain"
	"github.com/gemini-goats/goats-go/internal/repo"
)

type DataProductStore struct {
	db DB
}

func NewDataProductStore(db DB) *DataProductStore {
	if db == nil {
		return nil
	}
	return &DataProductStore{db: db}
}

// Upsert registers a file by its product id. Re-downloading a file updates
// its type tag and processed flag in place.
func (s *DataProductStore) Upsert(ctx context.Context, dp domain.DataProduct) (domain.DataProduct, error) {
	if s == nil || s.db == nil {
		return domain.DataProduct{}, fmt.Errorf("data product store not initialized")
	}
	if err := dp.Validate(); err != nil {
		return domain.DataProduct{}, err
	}
	typeTag := strings.TrimSpace(dp.TypeTag)
	if typeTag == "" {
		typeTag = "fits_file"
	}
	row := s.db.QueryRowContext(
		ctx,
		`INSERT INTO data_products (product_id, observation_id, target_name, storage_path, type_tag, processed, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (product_id) DO UPDATE SET
			storage_path = EXCLUDED.storage_path,
			type_tag = EXCLUDED.type_tag,
			processed = EXCLUDED.processed
		 RETURNING data_product_id, created_at`,
		strings.TrimSpace(dp.ProductID),
		dp.ObservationID,
		strings.TrimSpace(dp.TargetName),
		strings.TrimSpace(dp.StoragePath),
		typeTag,
		dp.Processed,
		normalizeTime(dp.CreatedAt),
	)
	if err := row.Scan(&dp.ID, &dp.CreatedAt); err != nil {
		return domain.DataProduct{}, fmt.Errorf("upsert data product: %w", err)
	}
	dp.TypeTag = typeTag
	dp.CreatedAt = dp.CreatedAt.UTC()
	return dp, nil
}

func (s *DataProductStore) Get(ctx context.Context, id int64) (domain.DataProduct, error) {
	if s == nil || s.db == nil {
		return domain.DataProduct{}, fmt.Errorf("data product store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT data_product_id, product_id, observation_id, target_name, storage_path, type_tag, processed, created_at
		 FROM data_products WHERE data_product_id = $1`,
		id,
	)
	return scanDataProduct(row)
}

func (s *DataProductStore) GetByProductID(ctx context.Context, productID string) (domain.DataProduct, error) {
	if s == nil || s.db == nil {
		return domain.DataProduct{}, fmt.Errorf("data product store not initialized")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.DataProduct{}, fmt.Errorf("product id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT data_product_id, product_id, observation_id, target_name, storage_path, type_tag, processed, created_at
		 FROM data_products WHERE product_id = $1`,
		productID,
	)
	return scanDataProduct(row)
}

func (s *DataProductStore) List(ctx context.Context, filter repo.DataProductFilter) ([]domain.DataProduct, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("data product store not initialized")
	}

	query := `SELECT data_product_id, product_id, observation_id, target_name, storage_path, type_tag, processed, created_at
		FROM data_products`
	var conditions []string
	var args []any
	if filter.ObservationID > 0 {
		args = append(args, filter.ObservationID)
		conditions = append(conditions, fmt.Sprintf("observation_id = $%d", len(args)))
	}
	if filter.Processed != nil {
		args = append(args, *filter.Processed)
		conditions = append(conditions, fmt.Sprintf("processed = $%d", len(args)))
	}
	if strings.TrimSpace(filter.PathPrefix) != "" {
		args = append(args, strings.TrimSpace(filter.PathPrefix)+"%")
		conditions = append(conditions, fmt.Sprintf("storage_path LIKE $%d", len(args)))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY product_id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list data products: %w", err)
	}
	defer rows.Close()

	var out []domain.DataProduct
	for rows.Next() {
		dp, err := scanDataProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, dp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate data products: %w", err)
	}
	return out, nil
}

func (s *DataProductStore) Delete(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("data product store not initialized")
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM data_products WHERE data_product_id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete data product: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return handleNotFound(sql.ErrNoRows)
	}
	return nil
}

func (s *DataProductStore) UpsertDescriptors(ctx context.Context, d domain.FileDescriptors) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("data product store not initialized")
	}
	if err := d.Validate(); err != nil {
		return err
	}
	astrodataJSON, err := encodeMetadata(d.AstrodataDescriptors)
	if err != nil {
		return fmt.Errorf("encode descriptors: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO file_descriptors (
			data_product_id, file_type, observation_type, observation_class, object_name,
			group_id, exposure_time, central_wavelength, wavelength_band, observation_date,
			roi_setting, instrument, astrodata
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (data_product_id) DO UPDATE SET
			file_type = EXCLUDED.file_type,
			observation_type = EXCLUDED.observation_type,
			observation_class = EXCLUDED.observation_class,
			object_name = EXCLUDED.object_name,
			group_id = EXCLUDED.group_id,
			exposure_time = EXCLUDED.exposure_time,
			central_wavelength = EXCLUDED.central_wavelength,
			wavelength_band = EXCLUDED.wavelength_band,
			observation_date = EXCLUDED.observation_date,
			roi_setting = EXCLUDED.roi_setting,
			instrument = EXCLUDED.instrument,
			astrodata = EXCLUDED.astrodata`,
		d.DataProductID,
		strings.TrimSpace(d.FileType),
		nullIfEmpty(d.ObservationType),
		nullIfEmpty(d.ObservationClass),
		nullIfEmpty(d.ObjectName),
		nullIfEmpty(d.GroupID),
		nullFloat(d.ExposureTime),
		nullFloat(d.CentralWavelength),
		nullIfEmpty(d.WavelengthBand),
		nullTime(d.ObservationDate),
		nullIfEmpty(d.ROISetting),
		nullIfEmpty(d.Instrument),
		astrodataJSON,
	)
	if err != nil {
		return fmt.Errorf("upsert descriptors: %w", err)
	}
	return nil
}

func (s *DataProductStore) GetDescriptors(ctx context.Context, dataProductID int64) (domain.FileDescriptors, error) {
	if s == nil || s.db == nil {
		return domain.FileDescriptors{}, fmt.Errorf("data product store not initialized")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT data_product_id, file_type, observation_type, observation_class, object_name,
			group_id, exposure_time, central_wavelength, wavelength_band, observation_date,
			roi_setting, instrument, astrodata
		 FROM file_descriptors WHERE data_product_id = $1`,
		dataProductID,
	)
	return scanDescriptors(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataProduct(row rowScanner) (domain.DataProduct, error) {
	var dp domain.DataProduct
	if err := row.Scan(&dp.ID, &dp.ProductID, &dp.ObservationID, &dp.TargetName, &dp.StoragePath, &dp.TypeTag, &dp.Processed, &dp.CreatedAt); err != nil {
		return domain.DataProduct{}, handleNotFound(err)
	}
	dp.CreatedAt = dp.CreatedAt.UTC()
	return dp, nil
}

func scanDescriptors(row rowScanner) (domain.FileDescriptors, error) {
	var d domain.FileDescriptors
	var obsType, obsClass, objectName, groupID, band, roi, instrument sql.NullString
	var exposure, wavelength sql.NullFloat64
	var obsDate sql.NullTime
	var astrodataJSON []byte
	if err := row.Scan(&d.DataProductID, &d.FileType, &obsType, &obsClass, &objectName,
		&groupID, &exposure, &wavelength, &band, &obsDate, &roi, &instrument, &astrodataJSON); err != nil {
		return domain.FileDescriptors{}, handleNotFound(err)
	}
	d.ObservationType = obsType.String
	d.ObservationClass = obsClass.String
	d.ObjectName = objectName.String
	d.GroupID = groupID.String
	d.WavelengthBand = band.String
	d.ROISetting = roi.String
	d.Instrument = instrument.String
	d.ExposureTime = floatPtr(exposure)
	d.CentralWavelength = floatPtr(wavelength)
	d.ObservationDate = timePtr(obsDate)
	meta, err := decodeMetadata(astrodataJSON)
	if err != nil {
		return domain.FileDescriptors{}, fmt.Errorf("decode descriptors: %w", err)
	}
	d.AstrodataDescriptors = meta
	return d, nil
}
