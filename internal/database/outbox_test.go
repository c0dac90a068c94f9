package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/database/dbtest"
)

func TestOutbox_DeliveryLifecycle(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return now })

	first := &database.OutboxEvent{EventType: "price.observed", Payload: `{"price":10}`, TargetStream: "s"}
	second := &database.OutboxEvent{EventType: "price.dropped", Payload: `{"price":9}`, TargetStream: "s"}
	require.NoError(t, db.InsertOutboxEvent(ctx, first))
	now = now.Add(time.Second)
	require.NoError(t, db.InsertOutboxEvent(ctx, second))
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, database.OutboxStatusPending, first.Status)

	pending, err := db.PendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)

	require.NoError(t, db.MarkOutboxProcessed(ctx, first.ID))
	require.NoError(t, db.MarkOutboxFailed(ctx, second.ID, errors.New("connection refused")))

	// The failed event waits out its backoff.
	pending, err = db.PendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	now = now.Add(3 * time.Second)
	pending, err = db.PendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, database.OutboxStatusFailed, pending[0].Status)
	assert.Equal(t, 1, pending[0].RetryCount)
	require.NotNil(t, pending[0].ErrorMessage)
	assert.Equal(t, "connection refused", *pending[0].ErrorMessage)

	count, err := db.CountOutbox(ctx, database.OutboxStatusPending, database.OutboxStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestOutbox_DeadLetterAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	event := &database.OutboxEvent{EventType: "issue.detected", Payload: `{}`, TargetStream: "s"}
	require.NoError(t, db.InsertOutboxEvent(ctx, event))

	for i := 0; i < database.MaxRetryCount; i++ {
		require.NoError(t, db.MarkOutboxFailed(ctx, event.ID, errors.New("down")))
	}

	dead, err := db.CountOutbox(ctx, database.OutboxStatusDeadLetter)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)

	db.SetClock(func() time.Time { return time.Now().UTC().Add(time.Hour) })
	pending, err := db.PendingOutboxEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutbox_Errors(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	err := db.InsertOutboxEvent(ctx, &database.OutboxEvent{EventType: "x", Payload: `{}`})
	assert.Error(t, err)

	assert.ErrorIs(t, db.MarkOutboxProcessed(ctx, "missing"), database.ErrNotFound)
	assert.ErrorIs(t, db.MarkOutboxFailed(ctx, "missing", errors.New("x")), database.ErrNotFound)
}
