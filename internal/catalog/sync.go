package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/sites"
)

type SyncResult struct {
	NewProducts       int `json:"new_products"`
	NewURLs           int `json:"new_urls"`
	UpdatedCategories int `json:"updated_categories"`
}

type Syncer struct {
	db       *database.DB
	registry *sites.Registry
	logger   *slog.Logger
}

func NewSyncer(db *database.DB, registry *sites.Registry, logger *slog.Logger) *Syncer {
	return &Syncer{
		db:       db,
		registry: registry,
		logger:   logger.With("component", "catalog"),
	}
}

// Sync upserts the catalog in one transaction. Products and URLs missing
// from the document are left alone, and existing URLs keep their active
// flag. A URL already owned by another product is skipped with a warning.
func (s *Syncer) Sync(ctx context.Context, doc *Document) (SyncResult, error) {
	var result SyncResult

	err := s.db.Transaction(ctx, func(tx *database.DB) error {
		result = SyncResult{}

		for _, entry := range doc.Products {
			product, err := tx.GetProductByName(ctx, entry.Name)
			if err != nil {
				return err
			}

			switch {
			case product == nil:
				product = &models.Product{Name: entry.Name, Category: entry.Category}
				if err := tx.CreateProduct(ctx, product); err != nil {
					return err
				}
				result.NewProducts++
			case entry.Category != "" && product.Category != entry.Category:
				if err := tx.UpdateProductCategory(ctx, product.ID, entry.Category); err != nil {
					return err
				}
				result.UpdatedCategories++
			}

			for _, rawURL := range entry.URLs {
				created, err := tx.CreateURLIfMissing(ctx, &models.URLEntry{
					ProductID: product.ID,
					URL:       rawURL,
					SiteName:  s.registry.SiteName(rawURL),
				})
				if err != nil {
					return err
				}
				if created {
					result.NewURLs++
					continue
				}

				existing, err := tx.GetURL(ctx, rawURL)
				if err != nil {
					return err
				}
				if existing != nil && existing.ProductID != product.ID {
					s.logger.Warn("url belongs to another product, skipping",
						"url", rawURL,
						"product", entry.Name,
						"owner_id", existing.ProductID)
				}
			}
		}
		return nil
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to sync catalog: %w", err)
	}

	s.logger.Info("catalog synced",
		"products", len(doc.Products),
		"new_products", result.NewProducts,
		"new_urls", result.NewURLs,
		"updated_categories", result.UpdatedCategories)

	return result, nil
}
