package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/price-tracker/internal/database"
)

// OutboxPublisher stores events in the outbox table; a Relay delivers
// them. Events survive a Redis outage and are retried with backoff.
type OutboxPublisher struct {
	db     *database.DB
	stream string
	now    func() time.Time
}

func NewOutboxPublisher(db *database.DB, stream string) *OutboxPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &OutboxPublisher{db: db, stream: stream, now: time.Now}
}

func (p *OutboxPublisher) Publish(ctx context.Context, eventType EventType, payload any) error {
	env, err := NewEnvelope(eventType, payload, p.now())
	if err != nil {
		return err
	}
	return p.db.InsertOutboxEvent(ctx, &database.OutboxEvent{
		ID:           env.ID,
		EventType:    string(env.Type),
		Payload:      string(env.Data),
		TargetStream: p.stream,
	})
}

func (p *OutboxPublisher) Close() error { return nil }

// OutboxStore is the part of the database the relay drains.
type OutboxStore interface {
	PendingOutboxEvents(ctx context.Context, limit int) ([]database.OutboxEvent, error)
	MarkOutboxProcessed(ctx context.Context, id string) error
	MarkOutboxFailed(ctx context.Context, id string, err error) error
	CountOutbox(ctx context.Context, statuses ...string) (int64, error)
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// Relay moves events from the outbox to their Redis stream.
type Relay struct {
	store     OutboxStore
	stream    *StreamPublisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewRelay(store OutboxStore, stream *StreamPublisher, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	return &Relay{
		store:     store,
		stream:    stream,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
	}
}

// Start polls the outbox until ctx is done.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay",
		"interval", r.interval,
		"batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	if _, err := r.ProcessBatch(ctx); err != nil {
		r.logger.Error("failed to process events on startup", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil {
				r.logger.Error("failed to process events", "error", err)
			}
		}
	}
}

// Flush drains every due event. Events that fail go into backoff and are
// left for a later run.
func (r *Relay) Flush(ctx context.Context) error {
	seen := make(map[string]bool)
	for {
		res, err := r.processBatch(ctx, seen)
		if err != nil {
			return err
		}
		if res.fresh == 0 || res.fetched < r.batchSize {
			return nil
		}
	}
}

// ProcessBatch delivers one batch of due events and returns how many
// reached Redis. Individual failures are recorded on the event.
func (r *Relay) ProcessBatch(ctx context.Context) (int, error) {
	res, err := r.processBatch(ctx, nil)
	return res.delivered, err
}

type batchResult struct {
	fetched   int
	fresh     int
	delivered int
}

func (r *Relay) processBatch(ctx context.Context, seen map[string]bool) (batchResult, error) {
	var res batchResult

	pending, err := r.store.PendingOutboxEvents(ctx, r.batchSize)
	if err != nil {
		return res, fmt.Errorf("failed to get pending events: %w", err)
	}
	res.fetched = len(pending)

	if len(pending) == 0 {
		return res, nil
	}

	r.logger.Debug("processing events", "count", len(pending))

	for _, event := range pending {
		if seen != nil {
			if seen[event.ID] {
				continue
			}
			seen[event.ID] = true
		}
		res.fresh++

		if err := r.processEvent(ctx, event); err != nil {
			r.logger.Error("failed to process event",
				"event_id", event.ID,
				"event_type", event.EventType,
				"error", err)
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			continue
		}
		res.delivered++
	}

	return res, nil
}

func (r *Relay) processEvent(ctx context.Context, event database.OutboxEvent) error {
	env := Envelope{
		ID:        event.ID,
		Type:      EventType(event.EventType),
		Timestamp: event.CreatedAt,
		Data:      []byte(event.Payload),
	}

	if err := r.stream.Deliver(ctx, event.TargetStream, env); err != nil {
		if markErr := r.store.MarkOutboxFailed(ctx, event.ID, err); markErr != nil {
			r.logger.Error("failed to mark event as failed",
				"event_id", event.ID,
				"error", markErr)
		}
		return err
	}

	if err := r.store.MarkOutboxProcessed(ctx, event.ID); err != nil {
		return err
	}

	r.logger.Debug("event delivered",
		"event_id", event.ID,
		"event_type", event.EventType,
		"target_stream", event.TargetStream)

	return nil
}

type OutboxStats struct {
	Pending    int64 `json:"pending"`
	DeadLetter int64 `json:"dead_letter"`
}

// Stats counts events awaiting delivery and events given up on.
func (r *Relay) Stats(ctx context.Context) (OutboxStats, error) {
	var (
		stats OutboxStats
		err   error
	)
	stats.Pending, err = r.store.CountOutbox(ctx, database.OutboxStatusPending, database.OutboxStatusFailed)
	if err != nil {
		return stats, err
	}
	stats.DeadLetter, err = r.store.CountOutbox(ctx, database.OutboxStatusDeadLetter)
	return stats, err
}
