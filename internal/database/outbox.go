package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// OutboxStatusPending indicates the event is waiting to be delivered
	OutboxStatusPending = "pending"
	// OutboxStatusProcessed indicates the event reached its stream
	OutboxStatusProcessed = "processed"
	// OutboxStatusFailed indicates delivery failed and will be retried
	OutboxStatusFailed = "failed"
	// OutboxStatusDeadLetter indicates the event failed too many times
	OutboxStatusDeadLetter = "dead_letter"

	// MaxRetryCount is the number of failed deliveries before dead letter
	MaxRetryCount = 5
)

// OutboxEvent is an event stored until the relay delivers it to Redis.
type OutboxEvent struct {
	ID           string     `gorm:"primaryKey" json:"id"`
	EventType    string     `gorm:"not null" json:"event_type"`
	Payload      string     `gorm:"not null" json:"payload"`
	TargetStream string     `gorm:"not null" json:"target_stream"`
	Status       string     `gorm:"not null" json:"status"`
	RetryCount   int        `gorm:"not null" json:"retry_count"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	NextRetryAt  time.Time  `gorm:"not null" json:"next_retry_at"`
}

func (OutboxEvent) TableName() string { return "outbox_event" }

// InsertOutboxEvent stores event as pending. Call it on a transaction
// handle to commit the event together with the rows it describes.
func (db *DB) InsertOutboxEvent(ctx context.Context, event *OutboxEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Status == "" {
		event.Status = OutboxStatusPending
	}
	if event.TargetStream == "" {
		return fmt.Errorf("outbox event %s has no target stream", event.ID)
	}

	now := db.now().UTC()
	event.CreatedAt = now
	if event.NextRetryAt.IsZero() {
		event.NextRetryAt = now
	}

	if err := db.with(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// PendingOutboxEvents returns pending and failed events whose retry time
// has passed, oldest first.
func (db *DB) PendingOutboxEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	var events []OutboxEvent
	err := db.with(ctx).
		Where("status IN ? AND next_retry_at <= ?",
			[]string{OutboxStatusPending, OutboxStatusFailed}, db.now().UTC()).
		Order("created_at, id").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get pending events: %w", err)
	}
	return events, nil
}

func (db *DB) MarkOutboxProcessed(ctx context.Context, id string) error {
	now := db.now().UTC()
	res := db.with(ctx).Model(&OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":       OutboxStatusProcessed,
			"processed_at": now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark event as processed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("outbox event %s: %w", id, ErrNotFound)
	}
	return nil
}

// MarkOutboxFailed records a delivery failure and schedules the retry,
// moving the event to dead letter after MaxRetryCount failures.
func (db *DB) MarkOutboxFailed(ctx context.Context, id string, deliveryErr error) error {
	var event OutboxEvent
	err := db.with(ctx).Where("id = ?", id).Take(&event).Error
	if notFound(err) {
		return fmt.Errorf("outbox event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get retry count: %w", err)
	}

	retryCount := event.RetryCount + 1
	status := OutboxStatusFailed
	if retryCount >= MaxRetryCount {
		status = OutboxStatusDeadLetter
	}

	err = db.with(ctx).Model(&OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"retry_count":   retryCount,
			"error_message": deliveryErr.Error(),
			"next_retry_at": nextRetryTime(db.now().UTC(), retryCount),
		}).Error
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

// CountOutbox counts events in any of the given statuses.
func (db *DB) CountOutbox(ctx context.Context, statuses ...string) (int64, error) {
	var count int64
	err := db.with(ctx).Model(&OutboxEvent{}).Where("status IN ?", statuses).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count outbox events: %w", err)
	}
	return count, nil
}

// nextRetryTime backs off exponentially: 2s, 4s, 8s... capped at 5 minutes.
func nextRetryTime(now time.Time, retryCount int) time.Time {
	backoffSeconds := 1 << retryCount
	if backoffSeconds > 300 {
		backoffSeconds = 300
	}
	return now.Add(time.Duration(backoffSeconds) * time.Second)
}
