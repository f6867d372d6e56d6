package database

import (
	"context"
	"fmt"
)

// Observation tables are append-only: every parse of an artifact adds rows
// and nothing is merged across runs.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS raw_artifacts (
		artifact_id   BIGSERIAL PRIMARY KEY,
		run_id        TEXT NOT NULL,
		source        TEXT NOT NULL,
		artifact_type TEXT NOT NULL,
		search_key    TEXT NOT NULL,
		search_scope  TEXT NOT NULL,
		page_num      INT,
		url           TEXT NOT NULL,
		http_status   INT,
		content_type  TEXT,
		content_bytes INT,
		sha256        TEXT,
		filepath      TEXT NOT NULL,
		fetched_at    TIMESTAMPTZ NOT NULL,
		error         TEXT,
		paging_meta   JSONB,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS raw_artifacts_run_idx ON raw_artifacts (run_id)`,
	`CREATE TABLE IF NOT EXISTS srp_observations (
		id          BIGSERIAL PRIMARY KEY,
		artifact_id BIGINT NOT NULL,
		processor   TEXT NOT NULL,
		listing_id  TEXT NOT NULL,
		record      JSONB NOT NULL,
		observed_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS srp_observations_listing_idx ON srp_observations (listing_id)`,
	`CREATE TABLE IF NOT EXISTS detail_observations (
		id            BIGSERIAL PRIMARY KEY,
		artifact_id   BIGINT NOT NULL,
		listing_id    TEXT,
		listing_state TEXT NOT NULL,
		record        JSONB NOT NULL,
		observed_at   TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS detail_carousel_hints (
		id                BIGSERIAL PRIMARY KEY,
		artifact_id       BIGINT NOT NULL,
		source_listing_id TEXT,
		listing_id        TEXT NOT NULL,
		record            JSONB NOT NULL,
		observed_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_event (
		id             UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id   TEXT NOT NULL,
		event_type     TEXT NOT NULL,
		payload        JSONB NOT NULL,
		target_stream  TEXT NOT NULL,
		status         TEXT NOT NULL,
		retry_count    INT NOT NULL DEFAULT 0,
		error_message  TEXT,
		created_at     TIMESTAMPTZ NOT NULL,
		processed_at   TIMESTAMPTZ,
		next_retry_at  TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_event_pending_idx ON outbox_event (status, next_retry_at)`,
}

// EnsureSchema creates any missing tables. It is safe to run on every start.
func (db *DB) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
