package database

import (
	"context"
	"fmt"

	"github.com/maltedev/price-tracker/internal/models"
)

type IssueFilter struct {
	Resolved  *bool
	Types     []models.IssueType
	ProductID int64
	URL       string
}

func (db *DB) InsertIssue(ctx context.Context, issue *models.ProductIssue) error {
	if !issue.IssueType.Valid() {
		return fmt.Errorf("invalid issue type %q", issue.IssueType)
	}
	if issue.DetectedAt.IsZero() {
		issue.DetectedAt = db.now()
	}
	issue.DetectedAt = issue.DetectedAt.UTC()

	if err := db.with(ctx).Create(issue).Error; err != nil {
		return fmt.Errorf("failed to insert %s issue for %s: %w", issue.IssueType, issue.URL, err)
	}
	return nil
}

// ListIssues returns issues newest first, with the product name joined
// when the product still exists.
func (db *DB) ListIssues(ctx context.Context, f IssueFilter) ([]models.ProductIssue, error) {
	q := db.with(ctx).
		Table("product_issues").
		Select("product_issues.*, products.name AS product_name").
		Joins("LEFT JOIN products ON products.id = product_issues.product_id")

	if f.Resolved != nil {
		q = q.Where("product_issues.resolved = ?", *f.Resolved)
	}
	if len(f.Types) > 0 {
		q = q.Where("product_issues.issue_type IN ?", f.Types)
	}
	if f.ProductID != 0 {
		q = q.Where("product_issues.product_id = ?", f.ProductID)
	}
	if f.URL != "" {
		q = q.Where("product_issues.url = ?", f.URL)
	}

	var issues []models.ProductIssue
	if err := q.Order("product_issues.detected_at DESC, product_issues.id DESC").Scan(&issues).Error; err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	return issues, nil
}

// GetIssue returns nil, nil when the id is unknown.
func (db *DB) GetIssue(ctx context.Context, id int64) (*models.ProductIssue, error) {
	var issue models.ProductIssue
	err := db.with(ctx).Where("id = ?", id).Take(&issue).Error
	if notFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get issue %d: %w", id, err)
	}
	return &issue, nil
}

func (db *DB) ResolveIssue(ctx context.Context, id int64) error {
	res := db.with(ctx).Model(&models.ProductIssue{}).Where("id = ?", id).Update("resolved", true)
	if res.Error != nil {
		return fmt.Errorf("failed to resolve issue %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("issue %d: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DB) ResolveIssuesForProduct(ctx context.Context, productID int64) (int64, error) {
	res := db.with(ctx).Model(&models.ProductIssue{}).
		Where("product_id = ? AND resolved = ?", productID, false).
		Update("resolved", true)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to resolve issues for product %d: %w", productID, res.Error)
	}
	return res.RowsAffected, nil
}

// HasOpenIssue reports whether url has an unresolved issue of any of the
// given types.
func (db *DB) HasOpenIssue(ctx context.Context, url string, types ...models.IssueType) (bool, error) {
	q := db.with(ctx).Model(&models.ProductIssue{}).Where("url = ? AND resolved = ?", url, false)
	if len(types) > 0 {
		q = q.Where("issue_type IN ?", types)
	}

	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to check open issues: %w", err)
	}
	return n > 0, nil
}

// IssueCount groups unresolved issues by type.
type IssueCount struct {
	IssueType models.IssueType `json:"issue_type"`
	Count     int64            `json:"count"`
}

func (db *DB) CountOpenIssues(ctx context.Context) ([]IssueCount, error) {
	var counts []IssueCount
	err := db.with(ctx).Model(&models.ProductIssue{}).
		Select("issue_type, COUNT(*) AS count").
		Where("resolved = ?", false).
		Group("issue_type").
		Order("issue_type").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count open issues: %w", err)
	}
	return counts, nil
}
