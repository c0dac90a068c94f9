package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/price-tracker/internal/cache"
	"github.com/maltedev/price-tracker/internal/catalog"
	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/database/dbtest"
	"github.com/maltedev/price-tracker/internal/issues"
	"github.com/maltedev/price-tracker/internal/models"
	"github.com/maltedev/price-tracker/internal/sites"
)

type testServer struct {
	db      *database.DB
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := dbtest.Open(t)
	logger := dbtest.Logger()

	h := NewHandlers(
		db,
		issues.New(db, logger),
		catalog.NewSyncer(db, sites.Default(logger), logger),
		cache.NewEngine(db, cache.DefaultPolicy(), logger),
		logger,
	)
	return &testServer{db: db, handler: NewRouter(h, RouterConfig{})}
}

func (s *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	decode(t, rec, &body)
	assert.Equal(t, "ok", body["status"])

	require.NoError(t, s.db.InsertOutboxEvent(context.Background(), &database.OutboxEvent{
		EventType:    "price.observed",
		Payload:      `{}`,
		TargetStream: "stream:price_events",
	}))
	rec = s.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var withBacklog struct {
		Outbox struct {
			Pending    int64 `json:"pending"`
			DeadLetter int64 `json:"dead_letter"`
		} `json:"outbox"`
	}
	decode(t, rec, &withBacklog)
	assert.Equal(t, int64(1), withBacklog.Outbox.Pending)
	assert.Zero(t, withBacklog.Outbox.DeadLetter)
}

func TestProductsAndPrices(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	p := dbtest.SeedProduct(t, s.db, "Keychron Q1", "https://www.ldlc.com/p/1")
	for _, price := range []float64{199, 189, 179} {
		require.NoError(t, s.db.InsertPrice(ctx, &models.PriceObservation{
			ProductID: p.ID, URL: "https://www.ldlc.com/p/1", Price: price, SiteName: "LDLC",
		}))
	}

	rec := s.do(t, http.MethodGet, "/api/v1/products", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var products []ProductResponse
	decode(t, rec, &products)
	require.Len(t, products, 1)
	assert.Equal(t, "Keychron Q1", products[0].Name)
	assert.Len(t, products[0].URLs, 1)
	require.Len(t, products[0].LatestPrices, 1)
	assert.Equal(t, 179.0, products[0].LatestPrices[0].Price)

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantLen  int
	}{
		{"all", "/api/v1/products/" + itoa(p.ID) + "/prices", http.StatusOK, 3},
		{"limited", "/api/v1/products/" + itoa(p.ID) + "/prices?limit=2", http.StatusOK, 2},
		{"bad limit", "/api/v1/products/" + itoa(p.ID) + "/prices?limit=x", http.StatusBadRequest, 0},
		{"unknown product", "/api/v1/products/9999/prices", http.StatusNotFound, 0},
		{"bad id", "/api/v1/products/abc/prices", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodGet, tt.path, "")
			require.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusOK {
				var history []models.PriceObservation
				decode(t, rec, &history)
				assert.Len(t, history, tt.wantLen)
			}
		})
	}
}

func TestIssueEndpoints(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)
	p := dbtest.SeedProduct(t, s.db, "Drifted", "https://www.idealo.fr/prechcat.html?q=x")

	issue := &models.ProductIssue{
		ProductID:    p.ID,
		URL:          "https://www.idealo.fr/prechcat.html?q=x",
		IssueType:    models.IssueNameMismatch,
		ExpectedName: models.StringPtr("logitech g pro"),
		ActualName:   models.StringPtr("Razer Viper"),
	}
	require.NoError(t, s.db.InsertIssue(ctx, issue))

	rec := s.do(t, http.MethodGet, "/api/v1/issues?resolved=false", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.ProductIssue
	decode(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Drifted", list[0].ProductName)

	rec = s.do(t, http.MethodGet, "/api/v1/issues?resolved=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/issues/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary issues.Summary
	decode(t, rec, &summary)
	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Critical)

	rec = s.do(t, http.MethodPost, "/api/v1/issues/auto-handle", `{"auto_remove": false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var handled map[string]int
	decode(t, rec, &handled)
	assert.Equal(t, 1, handled["handled"])

	u, err := s.db.GetURL(ctx, "https://www.idealo.fr/prechcat.html?q=x")
	require.NoError(t, err)
	assert.False(t, u.Active)

	rec = s.do(t, http.MethodPost, "/api/v1/issues/"+itoa(issue.ID)+"/reactivate", "")
	require.Equal(t, http.StatusOK, rec.Code)

	u, err = s.db.GetURL(ctx, "https://www.idealo.fr/prechcat.html?q=x")
	require.NoError(t, err)
	assert.True(t, u.Active)

	rec = s.do(t, http.MethodPost, "/api/v1/issues/9999/resolve", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/issues/9999/reactivate", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSyncCatalog(t *testing.T) {
	s := newTestServer(t)

	body := `{"version": 1, "products": [{"name": "Keychron Q1", "urls": ["https://www.ldlc.com/p/1"]}]}`
	rec := s.do(t, http.MethodPost, "/api/v1/catalog/sync", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var result catalog.SyncResult
	decode(t, rec, &result)
	assert.Equal(t, catalog.SyncResult{NewProducts: 1, NewURLs: 1}, result)

	rec = s.do(t, http.MethodPost, "/api/v1/catalog/sync", `{"version": 2, "products": []}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var invalid struct {
		Fields []catalog.ValidationError `json:"fields"`
	}
	decode(t, rec, &invalid)
	assert.Len(t, invalid.Fields, 2)

	rec = s.do(t, http.MethodPost, "/api/v1/catalog/sync", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetCacheEntry(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/cache", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/cache?url=https://unknown.example/p", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var empty CacheResponse
	decode(t, rec, &empty)
	assert.Nil(t, empty.Entry)
	assert.True(t, empty.ShouldFetch)

	require.NoError(t, s.db.SaveCacheEntry(ctx, &models.CacheEntry{
		URL:                "https://www.ldlc.com/p/1",
		LastScraped:        time.Now().UTC(),
		CacheDurationHours: 6,
		Status:             models.CacheStatusSuccess,
		Attempts:           1,
	}))

	rec = s.do(t, http.MethodGet, "/api/v1/cache?url=https://www.ldlc.com/p/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var fresh CacheResponse
	decode(t, rec, &fresh)
	require.NotNil(t, fresh.Entry)
	assert.False(t, fresh.ShouldFetch)
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
