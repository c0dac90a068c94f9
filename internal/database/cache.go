package database

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/maltedev/price-tracker/internal/models"
)

// GetCacheEntry returns nil, nil when the URL has never been recorded.
func (db *DB) GetCacheEntry(ctx context.Context, url string) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	err := db.with(ctx).Where("url = ?", url).Take(&entry).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return &entry, nil
}

// SaveCacheEntry upserts the row keyed by url.
func (db *DB) SaveCacheEntry(ctx context.Context, entry *models.CacheEntry) error {
	entry.LastScraped = entry.LastScraped.UTC()
	if entry.NextRetry != nil {
		t := entry.NextRetry.UTC()
		entry.NextRetry = &t
	}

	id := entry.ID
	err := db.with(ctx).Omit("id").Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_scraped", "cache_duration_hours", "status", "attempts", "next_retry",
		}),
	}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("failed to save cache entry for %s: %w", entry.URL, err)
	}
	if id != 0 {
		entry.ID = id
	}
	return nil
}

func (db *DB) ListCacheEntries(ctx context.Context, status models.CacheStatus) ([]models.CacheEntry, error) {
	q := db.with(ctx).Order("url")
	if status != "" {
		q = q.Where("status = ?", status)
	}

	var entries []models.CacheEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	return entries, nil
}
