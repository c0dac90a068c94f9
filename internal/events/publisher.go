// Package events publishes scrape outcomes to a Redis stream.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultStream = "stream:price_events"

type EventType string

const (
	TypePriceObserved EventType = "price.observed"
	TypePriceDropped  EventType = "price.dropped"
	TypeIssueDetected EventType = "issue.detected"
)

type PriceObserved struct {
	ProductID       int64   `json:"product_id"`
	URL             string  `json:"url"`
	SiteName        string  `json:"site_name"`
	Price           float64 `json:"price"`
	Selector        string  `json:"selector,omitempty"`
	Stage           string  `json:"stage,omitempty"`
	VendorName      string  `json:"vendor_name,omitempty"`
	IsMarketplace   bool    `json:"is_marketplace"`
	IsPrimeEligible bool    `json:"is_prime_eligible"`
}

type PriceDropped struct {
	ProductID   int64   `json:"product_id"`
	ProductName string  `json:"product_name"`
	URL         string  `json:"url"`
	SiteName    string  `json:"site_name"`
	OldPrice    float64 `json:"old_price"`
	NewPrice    float64 `json:"new_price"`
	DropPercent float64 `json:"drop_percent"`
}

type IssueDetected struct {
	IssueID    int64  `json:"issue_id"`
	ProductID  int64  `json:"product_id"`
	URL        string `json:"url"`
	IssueType  string `json:"issue_type"`
	StatusCode int    `json:"http_status_code,omitempty"`
	Message    string `json:"error_message,omitempty"`
}

// Publisher is what the runner emits to. Publishing is best effort; the
// database stays the source of truth.
type Publisher interface {
	Publish(ctx context.Context, eventType EventType, payload any) error
	Close() error
}

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

type StreamPublisher struct {
	redis  RedisClient
	stream string
	logger *slog.Logger
	now    func() time.Time
}

func NewStreamPublisher(client RedisClient, stream string, logger *slog.Logger) *StreamPublisher {
	if stream == "" {
		stream = DefaultStream
	}
	return &StreamPublisher{
		redis:  client,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
		now:    time.Now,
	}
}

// Envelope is one stream entry as written to Redis.
type Envelope struct {
	ID        string
	Type      EventType
	Timestamp time.Time
	Data      []byte
}

// NewEnvelope marshals payload under a fresh event id.
func NewEnvelope(eventType EventType, payload any, at time.Time) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return Envelope{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: at.UTC(),
		Data:      data,
	}, nil
}

func (p *StreamPublisher) Publish(ctx context.Context, eventType EventType, payload any) error {
	env, err := NewEnvelope(eventType, payload, p.now())
	if err != nil {
		return err
	}
	return p.Deliver(ctx, p.stream, env)
}

// Deliver writes env to stream, or to the publisher's stream when empty.
func (p *StreamPublisher) Deliver(ctx context.Context, stream string, env Envelope) error {
	if stream == "" {
		stream = p.stream
	}
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"type":      string(env.Type),
			"event_id":  env.ID,
			"timestamp": env.Timestamp.UTC().Format(time.RFC3339),
			"data":      string(env.Data),
		},
	}

	id, err := p.redis.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}

	p.logger.Debug("event published",
		"type", env.Type,
		"event_id", env.ID,
		"stream_id", id)

	return nil
}

func (p *StreamPublisher) Close() error {
	return p.redis.Close()
}

// Nop discards events; used when no Redis address is configured.
type Nop struct{}

func (Nop) Publish(context.Context, EventType, any) error { return nil }
func (Nop) Close() error                                  { return nil }

// Message is a decoded stream entry.
type Message struct {
	StreamID  string
	EventID   string
	Type      EventType
	Timestamp time.Time
	Data      json.RawMessage
}

// ParseMessage reads the fields written by StreamPublisher.
func ParseMessage(msg redis.XMessage) (*Message, error) {
	str := func(key string) string {
		v, _ := msg.Values[key].(string)
		return v
	}

	out := &Message{
		StreamID: msg.ID,
		EventID:  str("event_id"),
		Type:     EventType(str("type")),
		Data:     json.RawMessage(str("data")),
	}
	if out.Type == "" {
		return nil, fmt.Errorf("stream entry %s has no type", msg.ID)
	}
	if ts := str("timestamp"); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse timestamp of %s: %w", msg.ID, err)
		}
		out.Timestamp = t
	}
	return out, nil
}

// Decode unmarshals the message data into v.
func (m *Message) Decode(v any) error {
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("failed to decode %s event %s: %w", m.Type, m.EventID, err)
	}
	return nil
}
