package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/whitewalls86/new-car-tracker/internal/models"
)

// SRPObservation is one parsed results-page record keyed by its listing id.
type SRPObservation struct {
	ListingID string
	Record    any
}

// ObservationRepository appends parsed records. It never updates or merges.
type ObservationRepository struct {
	db *DB
}

func NewObservationRepository(db *DB) *ObservationRepository {
	return &ObservationRepository{db: db}
}

// InsertSRP appends the listings parsed from one results page.
func (r *ObservationRepository) InsertSRP(ctx context.Context, artifactID int64, processor string, rows []SRPObservation) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, row := range rows {
		record, err := json.Marshal(row.Record)
		if err != nil {
			return fmt.Errorf("failed to marshal observation %s: %w", row.ListingID, err)
		}
		batch.Queue(`
			INSERT INTO srp_observations (artifact_id, processor, listing_id, record)
			VALUES ($1, $2, $3, $4)`,
			artifactID, processor, row.ListingID, record)
	}

	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		return sendBatch(ctx, tx, batch)
	})
}

// InsertDetail appends the primary listing and carousel hints parsed from
// one detail page.
func (r *ObservationRepository) InsertDetail(ctx context.Context, artifactID int64, primary models.PrimaryListing, carousel []models.CarouselItem) error {
	record, err := json.Marshal(primary)
	if err != nil {
		return fmt.Errorf("failed to marshal primary listing: %w", err)
	}

	batch := &pgx.Batch{}
	batch.Queue(`
		INSERT INTO detail_observations (artifact_id, listing_id, listing_state, record)
		VALUES ($1, $2, $3, $4)`,
		artifactID, primary.ListingID, string(primary.ListingState), record)

	for _, item := range carousel {
		hint, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("failed to marshal carousel item %s: %w", item.ListingID, err)
		}
		batch.Queue(`
			INSERT INTO detail_carousel_hints (artifact_id, source_listing_id, listing_id, record)
			VALUES ($1, $2, $3, $4)`,
			artifactID, primary.ListingID, item.ListingID, hint)
	}

	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		return sendBatch(ctx, tx, batch)
	})
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("failed to insert observation %d: %w", i, err)
		}
	}
	return results.Close()
}
