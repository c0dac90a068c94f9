package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/database/dbtest"
	"github.com/maltedev/price-tracker/internal/models"
)

func seedProduct(t *testing.T, db *database.DB, name string, urls ...string) *models.Product {
	t.Helper()
	ctx := context.Background()

	p := &models.Product{Name: name, Category: "Mouse"}
	require.NoError(t, db.CreateProduct(ctx, p))
	for _, u := range urls {
		created, err := db.CreateURLIfMissing(ctx, &models.URLEntry{ProductID: p.ID, URL: u, SiteName: "Amazon"})
		require.NoError(t, err)
		require.True(t, created)
	}
	return p
}

func TestMigrate_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	require.NoError(t, db.Migrate(ctx))
	version, err := db.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, version)
}

func TestDeleteProduct_CascadesURLsAndHistory(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	p := seedProduct(t, db, "Razer DeathAdder V3 Pro", "https://www.amazon.fr/dp/B0B6XZ4GPN/")
	other := seedProduct(t, db, "Keychron Q1", "https://www.ldlc.com/fiche/PB00512345.html")

	require.NoError(t, db.InsertPrice(ctx, &models.PriceObservation{ProductID: p.ID, URL: "https://www.amazon.fr/dp/B0B6XZ4GPN/", Price: 129.99, SiteName: "Amazon"}))
	require.NoError(t, db.InsertPrice(ctx, &models.PriceObservation{ProductID: other.ID, URL: "https://www.ldlc.com/fiche/PB00512345.html", Price: 189.9, SiteName: "LDLC"}))

	deleted, err := db.DeleteProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	urls, err := db.ListURLsForProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, urls)

	history, err := db.PriceHistory(ctx, p.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)

	remaining, err := db.PriceHistory(ctx, other.ID, 0)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestCreateURLIfMissing_KeepsActiveFlag(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	url := "https://www.topachat.com/pages/detail2_cat_est_micro_puis_rubrique_est_wgfx_pcie_puis_ref_est_in20012345.html"
	p := seedProduct(t, db, "RTX 4070", url)

	_, err := db.SetURLActive(ctx, url, false)
	require.NoError(t, err)

	created, err := db.CreateURLIfMissing(ctx, &models.URLEntry{ProductID: p.ID, URL: url, SiteName: "TopAchat"})
	require.NoError(t, err)
	assert.False(t, created)

	entry, err := db.GetURL(ctx, url)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.False(t, entry.Active)
}

func TestURLsNeedingScrape(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	db.SetClock(func() time.Time { return now })

	fresh := "https://www.ldlc.com/fiche/fresh.html"
	stale := "https://www.ldlc.com/fiche/stale.html"
	never := "https://www.ldlc.com/fiche/never.html"
	inactive := "https://www.ldlc.com/fiche/inactive.html"
	p := seedProduct(t, db, "Corsair K70", fresh, stale, never, inactive)

	require.NoError(t, db.InsertPrice(ctx, &models.PriceObservation{ProductID: p.ID, URL: fresh, Price: 99, SiteName: "LDLC", ScrapedAt: now.Add(-2 * time.Hour)}))
	require.NoError(t, db.InsertPrice(ctx, &models.PriceObservation{ProductID: p.ID, URL: stale, Price: 99, SiteName: "LDLC", ScrapedAt: now.Add(-72 * time.Hour)}))
	_, err := db.SetURLActive(ctx, inactive, false)
	require.NoError(t, err)

	urls, err := db.URLsNeedingScrape(ctx, 48*time.Hour)
	require.NoError(t, err)

	var got []string
	for _, u := range urls {
		got = append(got, u.URL)
	}
	assert.ElementsMatch(t, []string{stale, never}, got)
}

func TestSaveCacheEntry_Upsert(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	url := "https://www.grosbill.com/produit/abc.aspx"
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	retry := now.Add(time.Hour)

	require.NoError(t, db.SaveCacheEntry(ctx, &models.CacheEntry{
		URL: url, LastScraped: now, CacheDurationHours: 24, Status: models.CacheStatusFailed, Attempts: 1, NextRetry: &retry,
	}))

	entry, err := db.GetCacheEntry(ctx, url)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, 1, entry.Attempts)
	require.NotNil(t, entry.NextRetry)
	assert.True(t, retry.Equal(*entry.NextRetry))

	entry.Attempts = 2
	entry.Status = models.CacheStatusSuccess
	entry.CacheDurationHours = 6
	entry.NextRetry = nil
	require.NoError(t, db.SaveCacheEntry(ctx, entry))

	entries, err := db.ListCacheEntries(ctx, "")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 2, entries[0].Attempts)
	assert.Equal(t, models.CacheStatusSuccess, entries[0].Status)
	assert.Nil(t, entries[0].NextRetry)

	missing, err := db.GetCacheEntry(ctx, "https://example.com/none")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestIssues_FilterAndResolve(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	url := "https://www.idealo.fr/prix/202062898/razer-deathadder-v3-pro.html"
	p := seedProduct(t, db, "Razer DeathAdder V3 Pro", url)

	mismatch := &models.ProductIssue{
		ProductID: p.ID, URL: url, IssueType: models.IssueNameMismatch,
		ExpectedName: models.StringPtr("razer deathadder"), ActualName: models.StringPtr("Logitech G502"),
	}
	require.NoError(t, db.InsertIssue(ctx, mismatch))
	require.NoError(t, db.InsertIssue(ctx, &models.ProductIssue{ProductID: p.ID, URL: url, IssueType: models.IssueAntiBot}))

	assert.Error(t, db.InsertIssue(ctx, &models.ProductIssue{ProductID: p.ID, URL: url, IssueType: "bogus"}))

	open := false
	issues, err := db.ListIssues(ctx, database.IssueFilter{Resolved: &open, Types: []models.IssueType{models.IssueNameMismatch}})
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "Razer DeathAdder V3 Pro", issues[0].ProductName)
	assert.Equal(t, "Logitech G502", *issues[0].ActualName)

	has, err := db.HasOpenIssue(ctx, url, models.IssueAntiBot)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, db.ResolveIssue(ctx, mismatch.ID))
	assert.ErrorIs(t, db.ResolveIssue(ctx, 9999), database.ErrNotFound)

	counts, err := db.CountOpenIssues(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, models.IssueAntiBot, counts[0].IssueType)
	assert.EqualValues(t, 1, counts[0].Count)
}

func TestTransaction_RollsBack(t *testing.T) {
	ctx := context.Background()
	db := dbtest.Open(t)

	err := db.Transaction(ctx, func(tx *database.DB) error {
		if err := tx.CreateProduct(ctx, &models.Product{Name: "Rolled back"}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	p, err := db.GetProductByName(ctx, "Rolled back")
	require.NoError(t, err)
	assert.Nil(t, p)
}
