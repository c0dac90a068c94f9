// Package dbtest opens throwaway SQLite databases for tests.
package dbtest

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/models"
)

// Open creates a migrated database in tb's temp dir and closes it on
// cleanup.
func Open(tb testing.TB) *database.DB {
	tb.Helper()

	db, err := database.New(context.Background(), database.Config{
		Path:   filepath.Join(tb.TempDir(), "test.db"),
		Logger: Logger(),
		Silent: true,
	})
	if err != nil {
		tb.Fatalf("failed to open test db: %v", err)
	}
	tb.Cleanup(func() {
		_ = db.Close()
	})
	return db
}

// Logger discards output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// SeedProduct inserts a product with the given active URLs.
func SeedProduct(tb testing.TB, db *database.DB, name string, urls ...string) *models.Product {
	tb.Helper()
	ctx := context.Background()

	p := &models.Product{Name: name, Category: "Mouse"}
	if err := db.CreateProduct(ctx, p); err != nil {
		tb.Fatalf("failed to seed product %s: %v", name, err)
	}
	for _, u := range urls {
		entry := &models.URLEntry{ProductID: p.ID, URL: u, SiteName: "Test"}
		if _, err := db.CreateURLIfMissing(ctx, entry); err != nil {
			tb.Fatalf("failed to seed url %s: %v", u, err)
		}
		p.URLs = append(p.URLs, *entry)
	}
	return p
}
