package database

import (
	"context"
	"fmt"
	"time"

	"github.com/maltedev/price-tracker/internal/models"
)

// InsertPrice appends an observation. ScrapedAt defaults to now.
func (db *DB) InsertPrice(ctx context.Context, obs *models.PriceObservation) error {
	if obs.ScrapedAt.IsZero() {
		obs.ScrapedAt = db.now()
	}
	obs.ScrapedAt = obs.ScrapedAt.UTC()

	if err := db.with(ctx).Create(obs).Error; err != nil {
		return fmt.Errorf("failed to insert price for %s: %w", obs.URL, err)
	}
	return nil
}

// LatestPrice returns the newest observation for (product, url) or nil.
func (db *DB) LatestPrice(ctx context.Context, productID int64, url string) (*models.PriceObservation, error) {
	var obs models.PriceObservation
	err := db.with(ctx).
		Where("product_id = ? AND url = ?", productID, url).
		Order("scraped_at DESC, id DESC").
		Take(&obs).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest price: %w", err)
	}
	return &obs, nil
}

// PriceHistory returns a product's observations newest first. limit <= 0
// means no limit.
func (db *DB) PriceHistory(ctx context.Context, productID int64, limit int) ([]models.PriceObservation, error) {
	q := db.with(ctx).Where("product_id = ?", productID).Order("scraped_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []models.PriceObservation
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to get price history for product %d: %w", productID, err)
	}
	return rows, nil
}

func (db *DB) CountPrices(ctx context.Context) (int64, error) {
	var n int64
	if err := db.with(ctx).Model(&models.PriceObservation{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count prices: %w", err)
	}
	return n, nil
}

// URLsNeedingScrape returns active URLs with no observation for the same
// (product, url) newer than now - maxAge.
func (db *DB) URLsNeedingScrape(ctx context.Context, maxAge time.Duration) ([]models.URLEntry, error) {
	cutoff := db.now().Add(-maxAge)

	var urls []models.URLEntry
	err := db.with(ctx).
		Where("active = ?", true).
		Where(`NOT EXISTS (
			SELECT 1 FROM price_history ph
			WHERE ph.product_id = urls.product_id
			  AND ph.url = urls.url
			  AND ph.scraped_at > ?
		)`, cutoff).
		Order("product_id, id").
		Find(&urls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list urls needing scrape: %w", err)
	}
	return urls, nil
}

// ProductPrice is one row of the latest-price overview.
type ProductPrice struct {
	ProductID   int64     `json:"product_id"`
	ProductName string    `json:"product_name"`
	Category    string    `json:"category"`
	URL         string    `json:"url"`
	SiteName    string    `json:"site_name"`
	Price       float64   `json:"price"`
	VendorName  *string   `json:"vendor_name,omitempty"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// LatestPrices returns the most recent observation of every (product, url)
// pair, ordered by product name then price.
func (db *DB) LatestPrices(ctx context.Context) ([]ProductPrice, error) {
	var rows []ProductPrice
	err := db.with(ctx).Raw(`
		SELECT p.id AS product_id, p.name AS product_name, p.category AS category,
		       ph.url AS url, ph.site_name AS site_name, ph.price AS price,
		       ph.vendor_name AS vendor_name, ph.scraped_at AS scraped_at
		FROM price_history ph
		JOIN products p ON p.id = ph.product_id
		WHERE ph.id = (
			SELECT ph2.id FROM price_history ph2
			WHERE ph2.product_id = ph.product_id AND ph2.url = ph.url
			ORDER BY ph2.scraped_at DESC, ph2.id DESC
			LIMIT 1
		)
		ORDER BY p.name, ph.price`).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get latest prices: %w", err)
	}
	return rows, nil
}
