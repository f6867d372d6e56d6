package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/whitewalls86/new-car-tracker/internal/database"
	"github.com/whitewalls86/new-car-tracker/internal/models"
	"github.com/whitewalls86/new-car-tracker/internal/scraper"
)

type EventType string

const (
	// EventTypeResultsRunCompleted is published when a results run reaches a
	// terminal state.
	EventTypeResultsRunCompleted EventType = "RESULTS_RUN_COMPLETED"
	// EventTypeDetailFetched is published after every detail fetch, failed or not.
	EventTypeDetailFetched EventType = "DETAIL_FETCHED"

	eventSource = "scraper"
)

type Transactor interface {
	Transaction(ctx context.Context, fn func(pgx.Tx) error) error
}

type ArtifactWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, runID string, a *models.Artifact) error
}

type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

type ResultsRunCompletedPayload struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	RunID         string    `json:"run_id"`
	SearchKey     string    `json:"search_key"`
	Scope         string    `json:"scope"`
	TerminalState string    `json:"terminal_state"`
	ArtifactIDs   []int64   `json:"artifact_ids"`
	PagesKept     int       `json:"pages_kept"`
	FetchErrors   int       `json:"fetch_errors"`
	Source        string    `json:"source"`
}

type DetailFetchedPayload struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	RunID       string    `json:"run_id"`
	ListingID   string    `json:"listing_id"`
	ArtifactIDs []int64   `json:"artifact_ids"`
	HTTPStatus  *int      `json:"http_status,omitempty"`
	Error       *string   `json:"error,omitempty"`
	Source      string    `json:"source"`
}

// Publisher records artifacts and the event announcing them in one
// transaction. The relay delivers the event to Redis afterwards.
type Publisher struct {
	db        Transactor
	artifacts ArtifactWriter
	outbox    OutboxWriter
	stream    string
	logger    *slog.Logger
	now       func() time.Time
}

func NewPublisher(db Transactor, artifacts ArtifactWriter, outbox OutboxWriter, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultStream
	}
	return &Publisher{
		db:        db,
		artifacts: artifacts,
		outbox:    outbox,
		stream:    stream,
		logger:    logger.With("component", "event_publisher"),
		now:       time.Now,
	}
}

// NewDBPublisher wires a Publisher to the repositories of db.
func NewDBPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	return NewPublisher(db, database.NewArtifactRepository(db), database.NewOutboxRepository(db), stream, logger)
}

// PublishResultsRun stores every artifact of run, setting their IDs, and
// queues a RESULTS_RUN_COMPLETED event.
func (p *Publisher) PublishResultsRun(ctx context.Context, run *scraper.ResultsRun) error {
	payload := &ResultsRunCompletedPayload{
		EventID:       uuid.New().String(),
		EventType:     string(EventTypeResultsRunCompleted),
		Timestamp:     p.now().UTC(),
		RunID:         run.RunID,
		SearchKey:     run.SearchKey,
		Scope:         run.Scope,
		TerminalState: string(run.TerminalState),
		Source:        eventSource,
	}
	for _, a := range run.Artifacts {
		if a.Failed() {
			payload.FetchErrors++
		} else {
			payload.PagesKept++
		}
	}

	err := p.publish(ctx, run.RunID, run.Artifacts, database.AggregateRun, run.RunID,
		EventTypeResultsRunCompleted, func(ids []int64) any {
			payload.ArtifactIDs = ids
			return payload
		})
	if err != nil {
		return err
	}

	p.logger.Info("results run recorded",
		"run_id", run.RunID,
		"search_key", run.SearchKey,
		"scope", run.Scope,
		"terminal_state", run.TerminalState,
		"artifacts", len(run.Artifacts),
		"event_id", payload.EventID)
	return nil
}

// PublishDetailFetched stores the artifacts of one detail fetch and queues a
// DETAIL_FETCHED event keyed by the listing.
func (p *Publisher) PublishDetailFetched(ctx context.Context, runID, listingID string, result *scraper.DetailResult) error {
	payload := &DetailFetchedPayload{
		EventID:   uuid.New().String(),
		EventType: string(EventTypeDetailFetched),
		Timestamp: p.now().UTC(),
		RunID:     runID,
		ListingID: listingID,
		Error:     result.Error,
		Source:    eventSource,
	}
	if len(result.Artifacts) > 0 {
		payload.HTTPStatus = result.Artifacts[0].HTTPStatus
	}

	err := p.publish(ctx, runID, result.Artifacts, database.AggregateListing, listingID,
		EventTypeDetailFetched, func(ids []int64) any {
			payload.ArtifactIDs = ids
			return payload
		})
	if err != nil {
		return err
	}

	p.logger.Info("detail fetch recorded",
		"run_id", runID,
		"listing_id", listingID,
		"event_id", payload.EventID)
	return nil
}

func (p *Publisher) publish(ctx context.Context, runID string, artifacts []*models.Artifact,
	aggregateType, aggregateID string, eventType EventType, build func(ids []int64) any) error {

	err := p.db.Transaction(ctx, func(tx pgx.Tx) error {
		ids := make([]int64, 0, len(artifacts))
		for _, a := range artifacts {
			if err := p.artifacts.InsertWithTx(ctx, tx, runID, a); err != nil {
				return err
			}
			if a.ID != nil {
				ids = append(ids, *a.ID)
			}
		}

		data, err := json.Marshal(build(ids))
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}

		return p.outbox.InsertWithTx(ctx, tx, &database.OutboxEvent{
			AggregateType: aggregateType,
			AggregateID:   aggregateID,
			EventType:     string(eventType),
			Payload:       data,
			TargetStream:  p.stream,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", eventType, err)
	}
	return nil
}
