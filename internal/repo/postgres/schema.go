package postgres

import (
	"context"
	"fmt"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS observations (
		observation_id BIGINT PRIMARY KEY,
		target_name    TEXT NOT NULL,
		facility       TEXT NOT NULL,
		program_id     TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS data_products (
		data_product_id BIGSERIAL PRIMARY KEY,
		product_id      TEXT NOT NULL UNIQUE,
		observation_id  BIGINT NOT NULL REFERENCES observations(observation_id) ON DELETE CASCADE,
		target_name     TEXT NOT NULL,
		storage_path    TEXT NOT NULL,
		type_tag        TEXT NOT NULL DEFAULT 'fits_file',
		processed       BOOLEAN NOT NULL DEFAULT FALSE,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_data_products_observation ON data_products(observation_id)`,
	`CREATE TABLE IF NOT EXISTS file_descriptors (
		data_product_id    BIGINT PRIMARY KEY REFERENCES data_products(data_product_id) ON DELETE CASCADE,
		file_type          TEXT NOT NULL,
		observation_type   TEXT,
		observation_class  TEXT,
		object_name        TEXT,
		group_id           TEXT,
		exposure_time      DOUBLE PRECISION,
		central_wavelength DOUBLE PRECISION,
		wavelength_band    TEXT,
		observation_date   TIMESTAMPTZ,
		roi_setting        TEXT,
		instrument         TEXT,
		astrodata          JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE TABLE IF NOT EXISTS dragons_runs (
		dragons_run_id BIGSERIAL PRIMARY KEY,
		observation_id BIGINT NOT NULL REFERENCES observations(observation_id) ON DELETE CASCADE,
		run_id         TEXT NOT NULL,
		version        TEXT,
		output_dir     TEXT NOT NULL,
		config_path    TEXT NOT NULL,
		cal_manager_db TEXT NOT NULL,
		log_path       TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
		modified_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (observation_id, run_id)
	)`,
	`CREATE TABLE IF NOT EXISTS dragons_run_files (
		run_file_id     BIGSERIAL PRIMARY KEY,
		dragons_run_id  BIGINT NOT NULL REFERENCES dragons_runs(dragons_run_id) ON DELETE CASCADE,
		data_product_id BIGINT NOT NULL REFERENCES data_products(data_product_id) ON DELETE CASCADE,
		enabled         BOOLEAN NOT NULL DEFAULT TRUE,
		UNIQUE (dragons_run_id, data_product_id)
	)`,
	`CREATE TABLE IF NOT EXISTS recipes_modules (
		recipes_module_id BIGSERIAL PRIMARY KEY,
		name              TEXT NOT NULL,
		version           TEXT NOT NULL,
		instrument        TEXT NOT NULL DEFAULT '',
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (name, version, instrument)
	)`,
	`CREATE TABLE IF NOT EXISTS base_recipes (
		base_recipe_id    BIGSERIAL PRIMARY KEY,
		recipes_module_id BIGINT NOT NULL REFERENCES recipes_modules(recipes_module_id) ON DELETE CASCADE,
		name              TEXT NOT NULL,
		function_body     TEXT NOT NULL,
		is_default        BOOLEAN NOT NULL DEFAULT TRUE,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (recipes_module_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS dragons_recipes (
		recipe_id         BIGSERIAL PRIMARY KEY,
		dragons_run_id    BIGINT NOT NULL REFERENCES dragons_runs(dragons_run_id) ON DELETE CASCADE,
		base_recipe_id    BIGINT NOT NULL REFERENCES base_recipes(base_recipe_id),
		observation_type  TEXT NOT NULL DEFAULT '',
		observation_class TEXT NOT NULL DEFAULT '',
		object_name       TEXT NOT NULL DEFAULT '',
		function_body     TEXT,
		uparms            TEXT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		modified_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (dragons_run_id, observation_type, observation_class, object_name)
	)`,
	`CREATE TABLE IF NOT EXISTS dragons_reductions (
		reduce_id  BIGSERIAL PRIMARY KEY,
		recipe_id  BIGINT NOT NULL REFERENCES dragons_recipes(recipe_id) ON DELETE CASCADE,
		status     TEXT NOT NULL DEFAULT 'created',
		start_time TIMESTAMPTZ NOT NULL DEFAULT now(),
		end_time   TIMESTAMPTZ,
		task_id    TEXT,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS downloads (
		download_id          BIGSERIAL PRIMARY KEY,
		observation_id       BIGINT NOT NULL REFERENCES observations(observation_id) ON DELETE CASCADE,
		unique_id            TEXT NOT NULL UNIQUE,
		status               TEXT NOT NULL,
		done                 BOOLEAN NOT NULL DEFAULT FALSE,
		error                BOOLEAN NOT NULL DEFAULT FALSE,
		start_time           TIMESTAMPTZ NOT NULL DEFAULT now(),
		end_time             TIMESTAMPTZ,
		message              TEXT,
		num_files_downloaded INTEGER NOT NULL DEFAULT 0,
		num_files_omitted    INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS service_credentials (
		user_id  BIGINT NOT NULL,
		service  TEXT NOT NULL,
		username TEXT NOT NULL DEFAULT '',
		password TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (user_id, service)
	)`,
	`CREATE TABLE IF NOT EXISTS event_log (
		event_id    BIGSERIAL PRIMARY KEY,
		occurred_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		group_name  TEXT NOT NULL,
		kind        TEXT NOT NULL,
		label       TEXT,
		color       TEXT,
		run_id      TEXT,
		request_id  TEXT,
		payload     JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
}

// EnsureSchema creates every table the service needs. Statements are
// idempotent so startup can always run it.
func EnsureSchema(ctx context.Context, db DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
