// Package issues turns persistent scrape failures into product issues
// and applies the automatic remedies for the critical ones.
package issues

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/scraper"
)

type Tracker struct {
	db     *database.DB
	logger *slog.Logger
	now    func() time.Time
}

func New(db *database.DB, logger *slog.Logger) *Tracker {
	return &Tracker{
		db:     db,
		logger: logger.With("component", "issues"),
		now:    time.Now,
	}
}

func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// FromResult maps a pipeline result to the issue it should raise, or nil.
// Failures that never reached a server are not escalated.
func FromResult(productID int64, url string, r scraper.Result, detectedAt time.Time) *models.ProductIssue {
	issue := &models.ProductIssue{
		ProductID:  productID,
		URL:        url,
		DetectedAt: detectedAt.UTC(),
	}
	if r.Err != nil {
		issue.ErrorMessage = models.StringPtr(r.Err.Error())
	}

	switch r.Kind {
	case scraper.KindNotFound:
		issue.IssueType = models.IssueNotFound
		issue.HTTPStatusCode = models.IntPtr(404)
	case scraper.KindNameMismatch:
		issue.IssueType = models.IssueNameMismatch
		issue.ExpectedName = models.StringPtr(r.ExpectedName)
		issue.ActualName = models.StringPtr(r.ActualName)
	case scraper.KindAntiBot:
		issue.IssueType = models.IssueAntiBot
		issue.HTTPStatusCode = models.IntPtr(r.StatusCode)
	case scraper.KindNoPrice:
		issue.IssueType = models.IssueScrapeError
		issue.HTTPStatusCode = models.IntPtr(r.StatusCode)
	case scraper.KindHTTPError:
		if r.StatusCode == 0 {
			return nil
		}
		issue.IssueType = models.IssueScrapeError
		issue.HTTPStatusCode = models.IntPtr(r.StatusCode)
	default:
		return nil
	}

	return issue
}

// Detect records the issue r implies, writing through tx so it commits
// with the cache update. Repeated failures insert repeated rows.
func (t *Tracker) Detect(ctx context.Context, tx *database.DB, productID int64, url string, r scraper.Result) (*models.ProductIssue, error) {
	issue := FromResult(productID, url, r, t.now())
	if issue == nil {
		return nil, nil
	}

	if tx == nil {
		tx = t.db
	}
	if err := tx.InsertIssue(ctx, issue); err != nil {
		return nil, err
	}

	t.logger.Warn("issue detected",
		"issue_id", issue.ID,
		"product_id", productID,
		"url", url,
		"type", issue.IssueType,
	)
	return issue, nil
}

// AutoHandle remedies every unresolved critical issue and returns how
// many it handled. 404 issues remove the product only when autoRemove is
// set; name mismatches always deactivate the URL.
func (t *Tracker) AutoHandle(ctx context.Context, autoRemove bool) (int, error) {
	resolved := false
	open, err := t.db.ListIssues(ctx, database.IssueFilter{
		Resolved: &resolved,
		Types:    []models.IssueType{models.IssueNotFound, models.IssueNameMismatch},
	})
	if err != nil {
		return 0, err
	}

	handled := 0
	removed := make(map[int64]bool)

	for _, issue := range open {
		if err := ctx.Err(); err != nil {
			return handled, err
		}

		switch issue.IssueType {
		case models.IssueNotFound:
			if !autoRemove {
				continue
			}
			if removed[issue.ProductID] {
				handled++
				continue
			}
			if err := t.removeProduct(ctx, issue); err != nil {
				return handled, err
			}
			removed[issue.ProductID] = true
			handled++

		case models.IssueNameMismatch:
			if removed[issue.ProductID] {
				handled++
				continue
			}
			if err := t.deactivateURL(ctx, issue); err != nil {
				return handled, err
			}
			handled++
		}
	}

	t.logger.Info("auto-handle finished", "handled", handled, "auto_remove", autoRemove)
	return handled, nil
}

func (t *Tracker) removeProduct(ctx context.Context, issue models.ProductIssue) error {
	return t.db.Transaction(ctx, func(tx *database.DB) error {
		deleted, err := tx.DeleteProduct(ctx, issue.ProductID)
		if err != nil {
			return err
		}
		n, err := tx.ResolveIssuesForProduct(ctx, issue.ProductID)
		if err != nil {
			return err
		}

		if deleted {
			t.logger.Info("removed product", "product_id", issue.ProductID, "name", issue.ProductName, "url", issue.URL, "resolved_issues", n)
		} else {
			t.logger.Info("product already removed", "product_id", issue.ProductID, "resolved_issues", n)
		}
		return nil
	})
}

func (t *Tracker) deactivateURL(ctx context.Context, issue models.ProductIssue) error {
	return t.db.Transaction(ctx, func(tx *database.DB) error {
		if _, err := tx.SetURLActive(ctx, issue.URL, false); err != nil {
			return err
		}
		if err := tx.ResolveIssue(ctx, issue.ID); err != nil {
			return err
		}

		t.logger.Info("deactivated url", "issue_id", issue.ID, "url", issue.URL,
			"expected", deref(issue.ExpectedName), "actual", deref(issue.ActualName))
		return nil
	})
}

func (t *Tracker) Resolve(ctx context.Context, id int64) error {
	if err := t.db.ResolveIssue(ctx, id); err != nil {
		return err
	}
	t.logger.Info("issue resolved", "issue_id", id)
	return nil
}

// Reactivate resolves the issue and puts its URL back in rotation.
func (t *Tracker) Reactivate(ctx context.Context, id int64) error {
	return t.db.Transaction(ctx, func(tx *database.DB) error {
		issue, err := tx.GetIssue(ctx, id)
		if err != nil {
			return err
		}
		if issue == nil {
			return fmt.Errorf("issue %d: %w", id, database.ErrNotFound)
		}

		if err := tx.ResolveIssue(ctx, id); err != nil {
			return err
		}
		ok, err := tx.SetURLActive(ctx, issue.URL, true)
		if err != nil {
			return err
		}
		if !ok {
			t.logger.Warn("url no longer exists", "issue_id", id, "url", issue.URL)
		}

		t.logger.Info("url reactivated", "issue_id", id, "url", issue.URL)
		return nil
	})
}

// ErrOpenCriticalIssue is returned by ReactivateURL while the URL still
// has an unresolved 404 or name mismatch.
var ErrOpenCriticalIssue = errors.New("url has an unresolved critical issue")

func (t *Tracker) ReactivateURL(ctx context.Context, url string) error {
	open, err := t.db.HasOpenIssue(ctx, url, models.IssueNotFound, models.IssueNameMismatch)
	if err != nil {
		return err
	}
	if open {
		return ErrOpenCriticalIssue
	}

	ok, err := t.db.SetURLActive(ctx, url, true)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("url %s: %w", url, database.ErrNotFound)
	}
	return nil
}

// NeedsStealth reports whether url's last attempts were blocked, in which
// case the next fetch should use the stealth profile.
func (t *Tracker) NeedsStealth(ctx context.Context, url string) (bool, error) {
	return t.db.HasOpenIssue(ctx, url, models.IssueAntiBot)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
