package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/whitewalls86/new-car-tracker/internal/models"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactRepository stores artifact metadata. The raw bytes stay on disk.
type ArtifactRepository struct {
	db *DB
}

func NewArtifactRepository(db *DB) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

// InsertWithTx records a within tx and sets its ID.
func (r *ArtifactRepository) InsertWithTx(ctx context.Context, tx pgx.Tx, runID string, a *models.Artifact) error {
	var paging []byte
	if a.PagingMeta != nil {
		b, err := json.Marshal(a.PagingMeta)
		if err != nil {
			return fmt.Errorf("failed to marshal paging meta: %w", err)
		}
		paging = b
	}

	query := `
		INSERT INTO raw_artifacts (
			run_id, source, artifact_type, search_key, search_scope,
			page_num, url, http_status, content_type, content_bytes,
			sha256, filepath, fetched_at, error, paging_meta
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
		)
		RETURNING artifact_id`

	var id int64
	err := tx.QueryRow(ctx, query,
		runID, a.Source, a.ArtifactType, a.SearchKey, a.SearchScope,
		a.PageNum, a.URL, a.HTTPStatus, a.ContentType, a.ContentBytes,
		a.SHA256, a.Filepath, a.FetchedAt, a.Error, paging,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to insert artifact: %w", err)
	}

	a.ID = &id
	return nil
}

// Get loads one artifact's metadata.
func (r *ArtifactRepository) Get(ctx context.Context, id int64) (*models.Artifact, error) {
	query := `
		SELECT artifact_id, source, artifact_type, search_key, search_scope,
			page_num, url, http_status, content_type, content_bytes,
			sha256, filepath, fetched_at, error, paging_meta
		FROM raw_artifacts
		WHERE artifact_id = $1`

	a := &models.Artifact{}
	var paging []byte
	err := r.db.pool.QueryRow(ctx, query, id).Scan(
		&a.ID, &a.Source, &a.ArtifactType, &a.SearchKey, &a.SearchScope,
		&a.PageNum, &a.URL, &a.HTTPStatus, &a.ContentType, &a.ContentBytes,
		&a.SHA256, &a.Filepath, &a.FetchedAt, &a.Error, &paging,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", ErrArtifactNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get artifact: %w", err)
	}

	if len(paging) > 0 {
		a.PagingMeta = &models.PagingState{}
		if err := json.Unmarshal(paging, a.PagingMeta); err != nil {
			return nil, fmt.Errorf("failed to decode paging meta: %w", err)
		}
	}
	return a, nil
}
