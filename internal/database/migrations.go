package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type migration struct {
	Version    int
	Name       string
	Statements []string
}

// migrations are applied in order and recorded in schema_migrations.
// Never edit an applied migration; append a new one.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create_products_and_urls",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS products (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				name TEXT NOT NULL UNIQUE,
				category TEXT NOT NULL DEFAULT 'Other',
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS urls (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				product_id INTEGER NOT NULL,
				url TEXT NOT NULL UNIQUE,
				site_name TEXT NOT NULL,
				active BOOLEAN NOT NULL DEFAULT 1,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
				FOREIGN KEY (product_id) REFERENCES products (id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_products_name ON products(name)`,
			`CREATE INDEX IF NOT EXISTS idx_products_category ON products(category)`,
			`CREATE INDEX IF NOT EXISTS idx_urls_product_id ON urls(product_id)`,
			`CREATE INDEX IF NOT EXISTS idx_urls_site_name ON urls(site_name)`,
		},
	},
	{
		Version: 2,
		Name:    "create_price_history",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS price_history (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				product_id INTEGER NOT NULL,
				url TEXT NOT NULL,
				price REAL NOT NULL,
				scraped_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				site_name TEXT NOT NULL,
				vendor_name TEXT NULL,
				vendor_url TEXT NULL,
				is_marketplace BOOLEAN NOT NULL DEFAULT 0,
				is_prime_eligible BOOLEAN NOT NULL DEFAULT 0,
				FOREIGN KEY (product_id) REFERENCES products (id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_price_history_product_id ON price_history(product_id)`,
			`CREATE INDEX IF NOT EXISTS idx_price_history_scraped_at ON price_history(scraped_at)`,
			`CREATE INDEX IF NOT EXISTS idx_price_history_site_name ON price_history(site_name)`,
			`CREATE INDEX IF NOT EXISTS idx_price_history_vendor_name ON price_history(vendor_name)`,
			`CREATE INDEX IF NOT EXISTS idx_price_history_product_url ON price_history(product_id, url, scraped_at)`,
		},
	},
	{
		Version: 3,
		Name:    "create_cache",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS cache (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				url TEXT NOT NULL UNIQUE,
				last_scraped TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				cache_duration_hours INTEGER NOT NULL DEFAULT 6,
				status TEXT NOT NULL DEFAULT 'success' CHECK (status IN ('success', 'failed')),
				attempts INTEGER NOT NULL DEFAULT 0,
				next_retry TIMESTAMP NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_cache_last_scraped ON cache(last_scraped)`,
		},
	},
	{
		Version: 4,
		Name:    "create_product_issues",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS product_issues (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				product_id INTEGER NOT NULL,
				url TEXT NOT NULL,
				issue_type TEXT NOT NULL CHECK (issue_type IN ('404_error', 'name_mismatch', 'scrape_error', 'anti_bot')),
				expected_name TEXT NULL,
				actual_name TEXT NULL,
				error_message TEXT NULL,
				http_status_code INTEGER NULL,
				detected_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				resolved BOOLEAN NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_product_issues_product_id ON product_issues(product_id)`,
			`CREATE INDEX IF NOT EXISTS idx_product_issues_resolved ON product_issues(resolved, issue_type)`,
			`CREATE INDEX IF NOT EXISTS idx_product_issues_url ON product_issues(url)`,
		},
	},
	{
		Version: 5,
		Name:    "create_outbox_event",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS outbox_event (
				id TEXT PRIMARY KEY,
				event_type TEXT NOT NULL,
				payload TEXT NOT NULL,
				target_stream TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'processed', 'failed', 'dead_letter')),
				retry_count INTEGER NOT NULL DEFAULT 0,
				error_message TEXT NULL,
				created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
				processed_at TIMESTAMP NULL,
				next_retry_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_outbox_event_status ON outbox_event(status, next_retry_at)`,
		},
	},
}

type schemaMigration struct {
	Version int `gorm:"primaryKey"`
	Name    string
}

func (schemaMigration) TableName() string { return "schema_migrations" }

// Migrate brings the schema up to the latest version.
func (db *DB) Migrate(ctx context.Context) error {
	g := db.with(ctx)

	if err := g.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`).Error; err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var applied []schemaMigration
	if err := g.Find(&applied).Error; err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, m := range applied {
		done[m.Version] = true
	}

	for _, m := range migrations {
		if done[m.Version] {
			continue
		}

		err := g.Transaction(func(tx *gorm.DB) error {
			for _, stmt := range m.Statements {
				if err := tx.Exec(stmt).Error; err != nil {
					return err
				}
			}
			return tx.Create(&schemaMigration{Version: m.Version, Name: m.Name}).Error
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", m.Version, m.Name, err)
		}

		db.logger.Info("applied migration", "version", m.Version, "name", m.Name)
	}

	return nil
}

// SchemaVersion returns the highest applied migration.
func (db *DB) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := db.with(ctx).Raw(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&version).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}
