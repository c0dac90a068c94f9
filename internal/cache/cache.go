// Package cache decides whether a URL is due for fetching and records
// each outcome with exponential backoff for failures.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/maltedev/price-tracker/internal/models"
)

type Store interface {
	GetCacheEntry(ctx context.Context, url string) (*models.CacheEntry, error)
	SaveCacheEntry(ctx context.Context, entry *models.CacheEntry) error
}

// Policy holds the two durations written to cache rows. SuccessTTL gates
// refetching after a success. FailureTTL is only recorded on failed rows;
// failed rows are gated by their next retry time instead.
type Policy struct {
	SuccessTTL time.Duration
	FailureTTL time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		SuccessTTL: 6 * time.Hour,
		FailureTTL: 24 * time.Hour,
	}
}

const maxBackoffHours = 24

// Backoff returns min(2^(attempts-1), 24) hours. Attempts below one count
// as one.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 6 {
		return maxBackoffHours * time.Hour
	}
	hours := math.Min(math.Pow(2, float64(attempts-1)), maxBackoffHours)
	return time.Duration(hours) * time.Hour
}

type Engine struct {
	store  Store
	policy Policy
	locks  *KeyedMutex
	now    func() time.Time
	logger *slog.Logger
}

func NewEngine(store Store, policy Policy, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		policy: policy,
		locks:  NewKeyedMutex(),
		now:    time.Now,
		logger: logger.With("component", "cache"),
	}
}

// SetClock replaces the time source.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// With returns an engine writing through store (typically a transaction)
// that shares this engine's policy, clock and locks.
func (e *Engine) With(store Store) *Engine {
	clone := *e
	clone.store = store
	return &clone
}

// Lock serializes work on url across goroutines. Callers hold it from
// ShouldFetch until RecordResult.
func (e *Engine) Lock(url string) func() {
	return e.locks.Lock(url)
}

func (e *Engine) ShouldFetch(ctx context.Context, url string) (bool, error) {
	entry, err := e.store.GetCacheEntry(ctx, url)
	if err != nil {
		return false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return e.due(entry), nil
}

func (e *Engine) due(entry *models.CacheEntry) bool {
	if entry == nil {
		return true
	}

	now := e.now().UTC()

	switch entry.Status {
	case models.CacheStatusSuccess:
		return !now.Before(entry.FreshUntil())
	case models.CacheStatusFailed:
		if entry.NextRetry == nil {
			return true
		}
		return !now.Before(*entry.NextRetry)
	}
	return true
}

// Entry returns the stored row and whether it is due.
func (e *Engine) Entry(ctx context.Context, url string) (*models.CacheEntry, bool, error) {
	entry, err := e.store.GetCacheEntry(ctx, url)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return entry, e.due(entry), nil
}

// RecordResult updates the URL's row. A failure schedules nextRetry when
// given, otherwise now + Backoff(attempts).
func (e *Engine) RecordResult(ctx context.Context, url string, success bool, nextRetry *time.Time) (*models.CacheEntry, error) {
	entry, err := e.store.GetCacheEntry(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if entry == nil {
		entry = &models.CacheEntry{URL: url}
	}

	now := e.now().UTC()
	entry.Attempts++
	entry.LastScraped = now

	if success {
		entry.Status = models.CacheStatusSuccess
		entry.CacheDurationHours = hours(e.policy.SuccessTTL)
		entry.NextRetry = nil
	} else {
		entry.Status = models.CacheStatusFailed
		entry.CacheDurationHours = hours(e.policy.FailureTTL)

		retry := now.Add(Backoff(entry.Attempts))
		if nextRetry != nil {
			retry = nextRetry.UTC()
		}
		entry.NextRetry = &retry
	}

	if err := e.store.SaveCacheEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to save cache entry: %w", err)
	}

	e.logger.Debug("recorded result",
		"url", url,
		"status", entry.Status,
		"attempts", entry.Attempts,
		"next_retry", entry.NextRetry,
	)

	return entry, nil
}

func hours(d time.Duration) int {
	h := int(d / time.Hour)
	if h < 1 {
		return 1
	}
	return h
}
