package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to TEST_DATABASE_URL, applies the schema and empties
// every table. Tests that need it are skipped when the variable is unset.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := Connect(ctx, dsn, Config{MaxConns: 4})
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(ctx))

	_, err = db.pool.Exec(ctx, `TRUNCATE raw_artifacts, srp_observations, detail_observations,
		detail_carousel_hints, outbox_event RESTART IDENTITY`)
	require.NoError(t, err)

	return db
}

func insertEvent(t *testing.T, db *DB, repo *OutboxRepository, event *OutboxEvent) {
	t.Helper()
	err := db.Transaction(context.Background(), func(tx pgx.Tx) error {
		return repo.InsertWithTx(context.Background(), tx, event)
	})
	require.NoError(t, err)
}

func TestNextRetryAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		retries int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{8, 256 * time.Second},
		{9, maxBackoff},
		{40, maxBackoff},
	}

	for _, tt := range tests {
		assert.Equal(t, now.Add(tt.want), nextRetryAt(now, tt.retries), "retries=%d", tt.retries)
	}
}

func TestOutboxRepository_InsertWithTx(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	t.Run("fills defaults", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: AggregateRun,
			AggregateID:   "run-1",
			EventType:     "RESULTS_RUN_COMPLETED",
			Payload:       json.RawMessage(`{"run_id":"run-1"}`),
		}
		insertEvent(t, db, repo, event)

		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.Equal(t, OutboxStatusPending, event.Status)
		assert.Equal(t, DefaultStream, event.TargetStream)
		assert.False(t, event.CreatedAt.IsZero())
		require.NotNil(t, event.NextRetryAt)
	})

	t.Run("rolled back with the transaction", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: AggregateRun,
			AggregateID:   "run-rollback",
			EventType:     "RESULTS_RUN_COMPLETED",
			Payload:       json.RawMessage(`{}`),
		}

		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			if err := repo.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
			return assert.AnError
		})
		require.ErrorIs(t, err, assert.AnError)

		pending, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		for _, e := range pending {
			assert.NotEqual(t, "run-rollback", e.AggregateID)
		}
	})

	t.Run("rejects missing payload", func(t *testing.T) {
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, &OutboxEvent{
				AggregateType: AggregateRun,
				AggregateID:   "run-2",
				EventType:     "RESULTS_RUN_COMPLETED",
			})
		})
		assert.Error(t, err)
	})
}

func TestOutboxRepository_GetPending(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	for _, tc := range []struct {
		id     string
		status string
	}{
		{"run-a", OutboxStatusPending},
		{"run-b", OutboxStatusProcessed},
		{"run-c", OutboxStatusPending},
		{"run-d", OutboxStatusFailed},
		{"run-e", OutboxStatusDeadLetter},
	} {
		insertEvent(t, db, repo, &OutboxEvent{
			AggregateType: AggregateRun,
			AggregateID:   tc.id,
			EventType:     "RESULTS_RUN_COMPLETED",
			Payload:       json.RawMessage(`{"run_id":"` + tc.id + `"}`),
			Status:        tc.status,
		})
	}

	t.Run("limit", func(t *testing.T) {
		pending, err := repo.GetPending(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, pending, 2)
	})

	t.Run("pending and failed oldest first", func(t *testing.T) {
		pending, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		require.Len(t, pending, 3)

		var ids []string
		for i, e := range pending {
			ids = append(ids, e.AggregateID)
			assert.Contains(t, []string{OutboxStatusPending, OutboxStatusFailed}, e.Status)
			assert.JSONEq(t, `{"run_id":"`+e.AggregateID+`"}`, string(e.Payload))
			if i > 0 {
				assert.False(t, e.CreatedAt.Before(pending[i-1].CreatedAt))
			}
		}
		assert.ElementsMatch(t, []string{"run-a", "run-c", "run-d"}, ids)
	})

	t.Run("respects next_retry_at", func(t *testing.T) {
		_, err := db.pool.Exec(ctx,
			"UPDATE outbox_event SET next_retry_at = $1 WHERE aggregate_id = $2",
			time.Now().Add(time.Hour), "run-d")
		require.NoError(t, err)

		pending, err := repo.GetPending(ctx, 10)
		require.NoError(t, err)
		for _, e := range pending {
			assert.NotEqual(t, "run-d", e.AggregateID)
		}
	})
}

func TestOutboxRepository_MarkProcessed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)
	event := &OutboxEvent{
		AggregateType: AggregateListing,
		AggregateID:   "listing-1",
		EventType:     "DETAIL_FETCHED",
		Payload:       json.RawMessage(`{"listing_id":"listing-1"}`),
	}
	insertEvent(t, db, repo, event)

	t.Run("mark as processed", func(t *testing.T) {
		require.NoError(t, repo.MarkProcessed(ctx, event.ID))

		var status string
		var processedAt *time.Time
		err := db.pool.QueryRow(ctx,
			"SELECT status, processed_at FROM outbox_event WHERE id = $1",
			event.ID).Scan(&status, &processedAt)
		require.NoError(t, err)

		assert.Equal(t, OutboxStatusProcessed, status)
		require.NotNil(t, processedAt)
		assert.WithinDuration(t, time.Now(), *processedAt, 5*time.Second)
	})

	t.Run("unknown event", func(t *testing.T) {
		assert.Error(t, repo.MarkProcessed(ctx, uuid.New()))
	})
}

func TestOutboxRepository_MarkFailed(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	t.Run("increments retry count and backs off", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: AggregateRun,
			AggregateID:   "run-1",
			EventType:     "RESULTS_RUN_COMPLETED",
			Payload:       json.RawMessage(`{}`),
		}
		insertEvent(t, db, repo, event)

		require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

		var status string
		var retryCount int
		var errorMsg *string
		var nextRetry *time.Time
		err := db.pool.QueryRow(ctx,
			"SELECT status, retry_count, error_message, next_retry_at FROM outbox_event WHERE id = $1",
			event.ID).Scan(&status, &retryCount, &errorMsg, &nextRetry)
		require.NoError(t, err)

		assert.Equal(t, OutboxStatusFailed, status)
		assert.Equal(t, 1, retryCount)
		require.NotNil(t, errorMsg)
		assert.Contains(t, *errorMsg, "assert.AnError")
		require.NotNil(t, nextRetry)
		assert.True(t, nextRetry.After(time.Now()))
	})

	t.Run("dead letter after max retries", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: AggregateRun,
			AggregateID:   "run-2",
			EventType:     "RESULTS_RUN_COMPLETED",
			Payload:       json.RawMessage(`{}`),
			RetryCount:    MaxRetryCount - 1,
		}
		insertEvent(t, db, repo, event)

		require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

		counts, err := repo.CountByStatus(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), counts[OutboxStatusDeadLetter])
		assert.Equal(t, int64(1), counts[OutboxStatusFailed])
	})

	t.Run("unknown event", func(t *testing.T) {
		assert.Error(t, repo.MarkFailed(ctx, uuid.New(), assert.AnError))
	})
}
