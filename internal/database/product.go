package database

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/maltedev/price-tracker/internal/models"
)

// GetProductByName returns nil, nil when no product has that name.
func (db *DB) GetProductByName(ctx context.Context, name string) (*models.Product, error) {
	var p models.Product
	err := db.with(ctx).Where("name = ?", name).Take(&p).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %q: %w", name, err)
	}
	return &p, nil
}

// GetProductByID returns nil, nil when the product does not exist.
func (db *DB) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	err := db.with(ctx).Where("id = ?", id).Take(&p).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product %d: %w", id, err)
	}
	return &p, nil
}

// GetProductByURL resolves the product owning a URL regardless of its
// active flag. Returns nil, nil when the URL is unknown.
func (db *DB) GetProductByURL(ctx context.Context, url string) (*models.Product, error) {
	var p models.Product
	err := db.with(ctx).
		Joins("JOIN urls ON urls.product_id = products.id").
		Where("urls.url = ?", url).
		Take(&p).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product for url: %w", err)
	}
	return &p, nil
}

func (db *DB) ListProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := db.with(ctx).Order("name").Find(&products).Error; err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

func (db *DB) CountProducts(ctx context.Context) (int64, error) {
	var n int64
	if err := db.with(ctx).Model(&models.Product{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count products: %w", err)
	}
	return n, nil
}

func (db *DB) CreateProduct(ctx context.Context, p *models.Product) error {
	if p.Category == "" {
		p.Category = models.DefaultCategory
	}
	if err := db.with(ctx).Omit(clause.Associations).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create product %q: %w", p.Name, err)
	}
	return nil
}

func (db *DB) UpdateProductCategory(ctx context.Context, id int64, category string) error {
	res := db.with(ctx).Model(&models.Product{}).
		Where("id = ?", id).
		Updates(map[string]any{"category": category, "updated_at": db.now()})
	if res.Error != nil {
		return fmt.Errorf("failed to update category for product %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteProduct removes a product; urls and price_history follow through
// ON DELETE CASCADE. Cache and issue rows are left in place.
func (db *DB) DeleteProduct(ctx context.Context, id int64) (bool, error) {
	res := db.with(ctx).Where("id = ?", id).Delete(&models.Product{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete product %d: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListActiveURLs returns active URLs ordered by product then id.
func (db *DB) ListActiveURLs(ctx context.Context) ([]models.URLEntry, error) {
	var urls []models.URLEntry
	err := db.with(ctx).Where("active = ?", true).Order("product_id, id").Find(&urls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list active urls: %w", err)
	}
	return urls, nil
}

func (db *DB) ListURLsForProduct(ctx context.Context, productID int64) ([]models.URLEntry, error) {
	var urls []models.URLEntry
	err := db.with(ctx).Where("product_id = ?", productID).Order("id").Find(&urls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list urls for product %d: %w", productID, err)
	}
	return urls, nil
}

// GetURL returns nil, nil when the URL is unknown.
func (db *DB) GetURL(ctx context.Context, url string) (*models.URLEntry, error) {
	var u models.URLEntry
	err := db.with(ctx).Where("url = ?", url).Take(&u).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get url: %w", err)
	}
	return &u, nil
}

// CreateURLIfMissing inserts the URL unless it already exists (for any
// product). It reports whether a row was created and never touches the
// active flag of an existing row.
func (db *DB) CreateURLIfMissing(ctx context.Context, u *models.URLEntry) (bool, error) {
	u.Active = true
	res := db.with(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "url"}}, DoNothing: true}).
		Create(u)
	if res.Error != nil {
		return false, fmt.Errorf("failed to insert url %s: %w", u.URL, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (db *DB) SetURLActive(ctx context.Context, url string, active bool) (bool, error) {
	res := db.with(ctx).Model(&models.URLEntry{}).
		Where("url = ?", url).
		Update("active", active)
	if res.Error != nil {
		return false, fmt.Errorf("failed to set active=%t for url: %w", active, res.Error)
	}
	return res.RowsAffected > 0, nil
}
