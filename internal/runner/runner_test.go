package runner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-tracker/internal/cache"
	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/database/dbtest"
	"github.com/maltedev/price-tracker/internal/events"
	"github.com/maltedev/price-tracker/internal/issues"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/scraper"
	"github.com/maltedev/price-tracker/internal/sites"
)

const (
	urlA = "https://www.ldlc.com/fiche/PB001.html"
	urlB = "https://www.materiel.net/produit/202.html"
	urlC = "https://www.alternate.fr/html/product/303"
)

type fakeFetcher struct {
	mu       sync.Mutex
	results  map[string]scraper.Result
	calls    map[string]int
	requests []scraper.Request
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		results: make(map[string]scraper.Result),
		calls:   make(map[string]int),
	}
}

func (f *fakeFetcher) set(url string, r scraper.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.URL = url
	f.results[url] = r
}

func (f *fakeFetcher) Fetch(ctx context.Context, req scraper.Request) scraper.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URL]++
	f.requests = append(f.requests, req)
	return f.results[req.URL]
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.EventType
	drops  []events.PriceDropped
}

func (p *recordingPublisher) Publish(ctx context.Context, t events.EventType, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, t)
	if d, ok := payload.(events.PriceDropped); ok {
		p.drops = append(p.drops, d)
	}
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type fixture struct {
	db        *database.DB
	fetcher   *fakeFetcher
	publisher *recordingPublisher
	tracker   *issues.Tracker
	runner    *Runner
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		db:        dbtest.Open(t),
		fetcher:   newFakeFetcher(),
		publisher: &recordingPublisher{},
		now:       time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return f.now }
	logger := dbtest.Logger()

	f.db.SetClock(clock)
	engine := cache.NewEngine(f.db, cache.DefaultPolicy(), logger)
	engine.SetClock(clock)
	f.tracker = issues.New(f.db, logger)
	f.tracker.SetClock(clock)

	f.runner = New(f.db, f.fetcher, engine, f.tracker, f.publisher, logger)
	f.runner.now = clock
	return f
}

func success(price float64) scraper.Result {
	return scraper.Result{Kind: scraper.KindSuccess, Price: price, Stage: scraper.StageHTTP, StatusCode: 200}
}

func TestRun_EndToEnd(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	keyboard := dbtest.SeedProduct(t, f.db, "Keychron Q1", urlA, urlB)
	mouse := dbtest.SeedProduct(t, f.db, "Logitech G Pro", urlC)

	f.fetcher.set(urlA, success(199.90))
	f.fetcher.set(urlB, success(189.00))
	f.fetcher.set(urlC, success(129.99))

	first, err := f.runner.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, first.Total)
	assert.Equal(t, 3, first.Fetched)
	assert.Equal(t, 3, first.Succeeded)
	assert.NotEmpty(t, first.RunID)

	history, err := f.db.PriceHistory(ctx, keyboard.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	for _, u := range []string{urlA, urlB, urlC} {
		entry, err := f.db.GetCacheEntry(ctx, u)
		require.NoError(t, err)
		require.NotNil(t, entry)
		assert.Equal(t, models.CacheStatusSuccess, entry.Status)
	}

	f.now = f.now.Add(time.Hour)
	second, err := f.runner.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, second.Skipped)
	assert.Equal(t, 0, second.Fetched)
	assert.Equal(t, 3, f.fetcher.total())

	f.now = f.now.Add(6 * time.Hour)
	f.fetcher.set(urlA, scraper.Result{Kind: scraper.KindNotFound, StatusCode: 404, Stage: scraper.StageHTTP})
	f.fetcher.set(urlC, success(99.99))

	third, err := f.runner.Run(ctx, Options{Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, third.Fetched)
	assert.Equal(t, 2, third.Succeeded)
	assert.Equal(t, 1, third.Failed)
	assert.Equal(t, 1, third.Issues[string(models.IssueNotFound)])

	entry, err := f.db.GetCacheEntry(ctx, urlA)
	require.NoError(t, err)
	assert.Equal(t, models.CacheStatusFailed, entry.Status)
	require.NotNil(t, entry.NextRetry)
	assert.Equal(t, f.now.Add(2*time.Hour), entry.NextRetry.UTC())

	require.Len(t, f.publisher.drops, 1)
	assert.Equal(t, "Logitech G Pro", f.publisher.drops[0].ProductName)
	assert.InDelta(t, 23.08, f.publisher.drops[0].DropPercent, 0.01)
	assert.Contains(t, f.publisher.events, events.TypeIssueDetected)

	handled, err := f.tracker.AutoHandle(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 1, handled)

	p, err := f.db.GetProductByID(ctx, keyboard.ID)
	require.NoError(t, err)
	assert.Nil(t, p)

	history, err = f.db.PriceHistory(ctx, keyboard.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	mouseHistory, err := f.db.PriceHistory(ctx, mouse.ID, 0)
	require.NoError(t, err)
	assert.Len(t, mouseHistory, 2)
}

func TestRun_NoURLs(t *testing.T) {
	f := newFixture(t)

	summary, err := f.runner.Run(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Total)
	assert.Equal(t, 0, f.fetcher.total())
}

func TestRun_NewProductsOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	seen := dbtest.SeedProduct(t, f.db, "Seen", urlA)
	dbtest.SeedProduct(t, f.db, "Fresh", urlB)

	require.NoError(t, f.db.InsertPrice(ctx, &models.PriceObservation{
		ProductID: seen.ID,
		URL:       urlA,
		Price:     10,
		SiteName:  "Test",
		ScrapedAt: f.now.Add(-time.Hour),
	}))

	f.fetcher.set(urlB, success(20))

	summary, err := f.runner.Run(ctx, Options{NewProductsOnly: true, MaxAgeHours: 48})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, f.fetcher.calls[urlB])
	assert.Zero(t, f.fetcher.calls[urlA])
}

func TestRun_NetworkFailureRecordsBackoffWithoutIssue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	dbtest.SeedProduct(t, f.db, "Offline", urlA)

	f.fetcher.set(urlA, scraper.Result{Kind: scraper.KindHTTPError, Err: errors.New("dial tcp: connection refused")})

	summary, err := f.runner.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Empty(t, summary.Issues)

	entry, err := f.db.GetCacheEntry(ctx, urlA)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.Attempts)
	assert.Equal(t, f.now.Add(time.Hour), entry.NextRetry.UTC())

	open, err := f.db.ListIssues(ctx, database.IssueFilter{})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRun_AntiBotHistoryForcesStealth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := dbtest.SeedProduct(t, f.db, "Guarded", urlA)

	require.NoError(t, f.db.InsertIssue(ctx, &models.ProductIssue{
		ProductID:  p.ID,
		URL:        urlA,
		IssueType:  models.IssueAntiBot,
		DetectedAt: f.now,
	}))
	f.fetcher.set(urlA, success(42))

	_, err := f.runner.Run(ctx, Options{})
	require.NoError(t, err)

	require.Len(t, f.fetcher.requests, 1)
	assert.True(t, f.fetcher.requests[0].ForceStealth)
}

func TestRun_VendorStored(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := dbtest.SeedProduct(t, f.db, "Marketplace Item", "https://www.amazon.fr/dp/B000TEST")

	r := success(55.5)
	r.Vendor = &sites.Vendor{Name: "Shop SARL", IsMarketplace: true, IsPrimeEligible: true}
	f.fetcher.set("https://www.amazon.fr/dp/B000TEST", r)

	_, err := f.runner.Run(ctx, Options{})
	require.NoError(t, err)

	latest, err := f.db.LatestPrice(ctx, p.ID, "https://www.amazon.fr/dp/B000TEST")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.NotNil(t, latest.VendorName)
	assert.Equal(t, "Shop SARL", *latest.VendorName)
	assert.True(t, latest.IsMarketplace)
	assert.True(t, latest.IsPrimeEligible)
	assert.Nil(t, latest.VendorURL)
}

func TestLoggerFor(t *testing.T) {
	f := newFixture(t)
	debug := dbtest.Logger()
	f.runner.SetDebugLogger(debug)

	assert.Same(t, f.runner.debug, f.runner.loggerFor(urlA, []string{"ldlc.com"}))
	assert.Same(t, f.runner.logger, f.runner.loggerFor(urlB, []string{"ldlc.com"}))
	assert.Same(t, f.runner.logger, f.runner.loggerFor(urlA, nil))
}

func TestRun_SiteFilter(t *testing.T) {
	f := newFixture(t)
	dbtest.SeedProduct(t, f.db, "Keychron Q1", urlA, urlB)
	f.fetcher.set(urlA, success(10))
	f.fetcher.set(urlB, success(20))

	summary, err := f.runner.Run(context.Background(), Options{Site: "materiel.net"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, f.fetcher.calls[urlB])
	assert.Zero(t, f.fetcher.calls[urlA])
}
