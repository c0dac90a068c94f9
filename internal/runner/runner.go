// Package runner drives one scrape run: select URLs, fetch the due ones
// through the pipeline, and fold every outcome into price, cache and
// issue state.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/price-tracker/internal/alerts"
	"github.com/maltedev/price-tracker/internal/cache"
	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/events"
	"github.com/maltedev/price-tracker/internal/issues"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/queue"
	"github.com/maltedev/price-tracker/internal/scraper"
	"github.com/maltedev/price-tracker/internal/sites"
)

const DefaultMaxAgeHours = 48

type Options struct {
	NewProductsOnly bool
	MaxAgeHours     int
	DebugDomains    []string
	Workers         int
	// Site restricts the run to URLs on this domain.
	Site string
}

type Summary struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Total      int            `json:"total"`
	Fetched    int            `json:"fetched"`
	Skipped    int            `json:"skipped"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	Errored    int            `json:"errored"`
	Issues     map[string]int `json:"issues"`
}

func (s *Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeSucceeded
	outcomeFailed
	outcomeErrored
)

type Runner struct {
	db        *database.DB
	fetcher   scraper.Fetcher
	cache     *cache.Engine
	issues    *issues.Tracker
	publisher events.Publisher
	logger    *slog.Logger
	debug     *slog.Logger
	now       func() time.Time
}

func New(db *database.DB, fetcher scraper.Fetcher, engine *cache.Engine, tracker *issues.Tracker, publisher events.Publisher, logger *slog.Logger) *Runner {
	if publisher == nil {
		publisher = events.Nop{}
	}
	logger = logger.With("component", "runner")
	return &Runner{
		db:        db,
		fetcher:   fetcher,
		cache:     engine,
		issues:    tracker,
		publisher: publisher,
		logger:    logger,
		debug:     logger,
		now:       time.Now,
	}
}

// SetDebugLogger sets the logger handed to the pipeline for URLs on one
// of Options.DebugDomains.
func (r *Runner) SetDebugLogger(l *slog.Logger) {
	r.debug = l.With("component", "runner")
}

func (r *Runner) Run(ctx context.Context, opts Options) (*Summary, error) {
	if opts.MaxAgeHours <= 0 {
		opts.MaxAgeHours = DefaultMaxAgeHours
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	summary := &Summary{
		RunID:     uuid.New().String(),
		StartedAt: r.now().UTC(),
		Issues:    make(map[string]int),
	}
	logger := r.logger.With("run_id", summary.RunID)

	urls, err := r.selectURLs(ctx, opts)
	if err != nil {
		return nil, err
	}
	summary.Total = len(urls)

	if len(urls) == 0 {
		logger.Info("no URLs to process")
		summary.FinishedAt = r.now().UTC()
		return summary, nil
	}

	logger.Info("starting run",
		"urls", len(urls),
		"workers", opts.Workers,
		"new_products_only", opts.NewProductsOnly)

	q := queue.NewInMemoryQueue()
	tasks := make([]*queue.Task, len(urls))
	for i, u := range urls {
		tasks[i] = &queue.Task{
			ID:        fmt.Sprintf("%s-%d", summary.RunID, u.ID),
			URL:       u.URL,
			ProductID: u.ProductID,
			SiteName:  u.SiteName,
		}
	}
	if err := queue.PushAll(q, tasks); err != nil {
		return nil, fmt.Errorf("failed to queue urls: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.Workers; w++ {
		g.Go(func() error {
			for {
				task, err := q.Pop(gctx)
				if errors.Is(err, queue.ErrQueueClosed) {
					return nil
				}
				if err != nil {
					return err
				}

				result, issueType, out := r.process(gctx, task, opts)

				mu.Lock()
				summary.record(result, issueType, out)
				mu.Unlock()
			}
		})
	}

	err = g.Wait()
	summary.FinishedAt = r.now().UTC()

	logger.Info("run finished",
		"total", summary.Total,
		"fetched", summary.Fetched,
		"skipped", summary.Skipped,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"errored", summary.Errored,
		"duration", summary.Duration())

	if err != nil {
		return summary, fmt.Errorf("run interrupted: %w", err)
	}
	return summary, nil
}

func (s *Summary) record(fetched bool, issueType models.IssueType, out outcome) {
	if fetched {
		s.Fetched++
	}
	switch out {
	case outcomeSkipped:
		s.Skipped++
	case outcomeSucceeded:
		s.Succeeded++
	case outcomeFailed:
		s.Failed++
	case outcomeErrored:
		s.Errored++
	}
	if issueType != "" {
		s.Issues[string(issueType)]++
	}
}

func (r *Runner) selectURLs(ctx context.Context, opts Options) ([]models.URLEntry, error) {
	var (
		urls []models.URLEntry
		err  error
	)
	if opts.NewProductsOnly {
		urls, err = r.db.URLsNeedingScrape(ctx, time.Duration(opts.MaxAgeHours)*time.Hour)
	} else {
		urls, err = r.db.ListActiveURLs(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select urls: %w", err)
	}

	if opts.Site == "" {
		return urls, nil
	}
	filtered := urls[:0]
	for _, u := range urls {
		if sites.MatchesDomain(sites.Host(u.URL), opts.Site) {
			filtered = append(filtered, u)
		}
	}
	return filtered, nil
}

// process handles one URL under its cache lock. It reports whether a
// fetch happened, the issue type recorded (if any) and the outcome.
func (r *Runner) process(ctx context.Context, task *queue.Task, opts Options) (bool, models.IssueType, outcome) {
	logger := r.loggerFor(task.URL, opts.DebugDomains).With("url", task.URL, "product_id", task.ProductID)

	unlock := r.cache.Lock(task.URL)
	defer unlock()

	due, err := r.cache.ShouldFetch(ctx, task.URL)
	if err != nil {
		logger.Error("failed to check cache", "error", err)
		return false, "", outcomeErrored
	}
	if !due {
		logger.Debug("cached, skipping")
		return false, "", outcomeSkipped
	}

	stealth, err := r.issues.NeedsStealth(ctx, task.URL)
	if err != nil {
		logger.Warn("failed to check anti-bot history", "error", err)
	}

	res := r.fetcher.Fetch(ctx, scraper.Request{
		URL:          task.URL,
		ForceStealth: stealth || task.ForceStealth,
		Logger:       logger,
	})
	if ctx.Err() != nil {
		return true, "", outcomeErrored
	}

	var (
		previous *models.PriceObservation
		obs      *models.PriceObservation
		issue    *models.ProductIssue
	)

	err = r.db.Transaction(ctx, func(tx *database.DB) error {
		if _, err := r.cache.With(tx).RecordResult(ctx, task.URL, res.OK(), nil); err != nil {
			return err
		}

		if !res.OK() {
			var err error
			issue, err = r.issues.Detect(ctx, tx, task.ProductID, task.URL, res)
			return err
		}

		var err error
		previous, err = tx.LatestPrice(ctx, task.ProductID, task.URL)
		if err != nil {
			return err
		}

		obs = observation(task, res)
		return tx.InsertPrice(ctx, obs)
	})
	if err != nil {
		logger.Error("failed to persist result", "kind", res.Kind.String(), "error", err)
		return true, "", outcomeErrored
	}

	if !res.OK() {
		var issueType models.IssueType
		if issue != nil {
			issueType = issue.IssueType
			r.publishIssue(ctx, issue, logger)
		}
		logger.Info("fetch failed", "kind", res.Kind.String(), "status", res.StatusCode, "error", res.Err)
		return true, issueType, outcomeFailed
	}

	r.publishPrice(ctx, task, res, previous, logger)
	return true, "", outcomeSucceeded
}

func observation(task *queue.Task, res scraper.Result) *models.PriceObservation {
	obs := &models.PriceObservation{
		ProductID: task.ProductID,
		URL:       task.URL,
		Price:     res.Price,
		SiteName:  task.SiteName,
	}
	if v := res.Vendor; v != nil {
		obs.VendorName = models.StringPtr(v.Name)
		obs.VendorURL = models.StringPtr(v.URL)
		obs.IsMarketplace = v.IsMarketplace
		obs.IsPrimeEligible = v.IsPrimeEligible
	}
	return obs
}

func (r *Runner) publishPrice(ctx context.Context, task *queue.Task, res scraper.Result, previous *models.PriceObservation, logger *slog.Logger) {
	observed := events.PriceObserved{
		ProductID: task.ProductID,
		URL:       task.URL,
		SiteName:  task.SiteName,
		Price:     res.Price,
		Selector:  res.Selector,
		Stage:     res.Stage,
	}
	if v := res.Vendor; v != nil {
		observed.VendorName = v.Name
		observed.IsMarketplace = v.IsMarketplace
		observed.IsPrimeEligible = v.IsPrimeEligible
	}
	if err := r.publisher.Publish(ctx, events.TypePriceObserved, observed); err != nil {
		logger.Warn("failed to publish event", "type", events.TypePriceObserved, "error", err)
	}

	if previous == nil || res.Price >= previous.Price {
		return
	}

	drop := events.PriceDropped{
		ProductID:   task.ProductID,
		URL:         task.URL,
		SiteName:    task.SiteName,
		OldPrice:    previous.Price,
		NewPrice:    res.Price,
		DropPercent: alerts.DropPercent(previous.Price, res.Price),
	}
	if p, err := r.db.GetProductByID(ctx, task.ProductID); err == nil && p != nil {
		drop.ProductName = p.Name
	}

	logger.Info("price dropped", "old_price", drop.OldPrice, "new_price", drop.NewPrice, "drop_percent", drop.DropPercent)
	if err := r.publisher.Publish(ctx, events.TypePriceDropped, drop); err != nil {
		logger.Warn("failed to publish event", "type", events.TypePriceDropped, "error", err)
	}
}

func (r *Runner) publishIssue(ctx context.Context, issue *models.ProductIssue, logger *slog.Logger) {
	detected := events.IssueDetected{
		IssueID:   issue.ID,
		ProductID: issue.ProductID,
		URL:       issue.URL,
		IssueType: string(issue.IssueType),
	}
	if issue.HTTPStatusCode != nil {
		detected.StatusCode = *issue.HTTPStatusCode
	}
	if issue.ErrorMessage != nil {
		detected.Message = *issue.ErrorMessage
	}
	if err := r.publisher.Publish(ctx, events.TypeIssueDetected, detected); err != nil {
		logger.Warn("failed to publish event", "type", events.TypeIssueDetected, "error", err)
	}
}

func (r *Runner) loggerFor(url string, debugDomains []string) *slog.Logger {
	if len(debugDomains) == 0 {
		return r.logger
	}
	host := sites.Host(url)
	for _, d := range debugDomains {
		if sites.MatchesDomain(host, d) {
			return r.debug
		}
	}
	return r.logger
}
