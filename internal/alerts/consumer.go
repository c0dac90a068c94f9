package alerts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/maltedev/price-tracker/internal/events"
)

// StreamClient is the subset of the redis client the consumer needs.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

type Sender interface {
	Send(ctx context.Context, content string) error
}

type ConsumerConfig struct {
	Stream         string
	Group          string
	Name           string
	MinDropPercent float64
	Block          time.Duration
}

// Consumer reads price.dropped events from the stream and forwards the
// ones at or above MinDropPercent.
type Consumer struct {
	redis  StreamClient
	sender Sender
	cfg    ConsumerConfig
	logger *slog.Logger
}

func NewConsumer(client StreamClient, sender Sender, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = events.DefaultStream
	}
	if cfg.Group == "" {
		cfg.Group = "price-alerts"
	}
	if cfg.Name == "" {
		cfg.Name = "consumer-1"
	}
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	return &Consumer{
		redis:  client,
		sender: sender,
		cfg:    cfg,
		logger: logger.With("component", "alerts_consumer"),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "stream", c.cfg.Stream, "group", c.cfg.Group)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.cfg.Group,
			Consumer: c.cfg.Name,
			Streams:  []string{c.cfg.Stream, ">"},
			Count:    10,
			Block:    c.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, stream := range streams {
			for _, message := range stream.Messages {
				if err := c.Handle(ctx, message); err != nil {
					c.logger.Error("failed to process message", "id", message.ID, "error", err)
					continue
				}
				if err := c.redis.XAck(ctx, c.cfg.Stream, c.cfg.Group, message.ID).Err(); err != nil {
					c.logger.Error("failed to acknowledge message", "id", message.ID, "error", err)
				}
			}
		}
	}
}

// Handle processes one stream entry. Events other than price.dropped are
// acknowledged without action.
func (c *Consumer) Handle(ctx context.Context, msg redis.XMessage) error {
	parsed, err := events.ParseMessage(msg)
	if err != nil {
		return err
	}
	if parsed.Type != events.TypePriceDropped {
		return nil
	}

	var drop events.PriceDropped
	if err := parsed.Decode(&drop); err != nil {
		return err
	}

	if drop.DropPercent < c.cfg.MinDropPercent {
		c.logger.Debug("drop below threshold",
			"url", drop.URL,
			"drop_percent", drop.DropPercent,
			"min", c.cfg.MinDropPercent)
		return nil
	}

	if err := c.sender.Send(ctx, FormatDrop(drop)); err != nil {
		return fmt.Errorf("failed to send alert for %s: %w", drop.URL, err)
	}

	c.logger.Info("price drop alert sent",
		"product_id", drop.ProductID,
		"url", drop.URL,
		"old_price", drop.OldPrice,
		"new_price", drop.NewPrice)
	return nil
}
