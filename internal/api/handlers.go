package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/price-tracker/internal/cache"
	"github.com/maltedev/price-tracker/internal/catalog"
	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/issues"
	"github.com/maltedev/price-tracker/internal/models"
)

type Handlers struct {
	db      *database.DB
	issues  *issues.Tracker
	catalog *catalog.Syncer
	cache   *cache.Engine
	logger  *slog.Logger
}

func NewHandlers(db *database.DB, tracker *issues.Tracker, syncer *catalog.Syncer, engine *cache.Engine, logger *slog.Logger) *Handlers {
	return &Handlers{
		db:      db,
		issues:  tracker,
		catalog: syncer,
		cache:   engine,
		logger:  logger.With("component", "api"),
	}
}

// Health reports database reachability, row counts and the outbox
// backlog. A large dead letter count turns the check unhealthy.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	products, err := h.db.CountProducts(r.Context())
	if err != nil {
		h.logger.Error("health check failed", "error", err)
		h.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error"})
		return
	}
	prices, _ := h.db.CountPrices(r.Context())
	pendingCount, _ := h.db.CountOutbox(r.Context(), database.OutboxStatusPending, database.OutboxStatusFailed)
	deadLetterCount, _ := h.db.CountOutbox(r.Context(), database.OutboxStatusDeadLetter)

	health := map[string]interface{}{
		"status":   "ok",
		"products": products,
		"prices":   prices,
		"outbox": map[string]interface{}{
			"pending":     pendingCount,
			"dead_letter": deadLetterCount,
		},
	}

	status := http.StatusOK
	if pendingCount > 1000 {
		health["status"] = "warning"
		health["message"] = "High number of pending outbox events"
	}
	if deadLetterCount > 100 {
		health["status"] = "error"
		health["message"] = "High number of dead letter events"
		status = http.StatusServiceUnavailable
	}

	h.respondJSON(w, status, health)
}

type ProductResponse struct {
	models.Product
	LatestPrices []database.ProductPrice `json:"latest_prices,omitempty"`
}

func (h *Handlers) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.db.ListProducts(r.Context())
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}

	latest, err := h.db.LatestPrices(r.Context())
	if err != nil {
		h.logger.Error("failed to get latest prices", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list products")
		return
	}
	byProduct := make(map[int64][]database.ProductPrice)
	for _, p := range latest {
		byProduct[p.ProductID] = append(byProduct[p.ProductID], p)
	}

	resp := make([]ProductResponse, len(products))
	for i, p := range products {
		urls, err := h.db.ListURLsForProduct(r.Context(), p.ID)
		if err != nil {
			h.logger.Error("failed to list urls", "product_id", p.ID, "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to list products")
			return
		}
		p.URLs = urls
		resp[i] = ProductResponse{Product: p, LatestPrices: byProduct[p.ID]}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) GetPriceHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	product, err := h.db.GetProductByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get product", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get product")
		return
	}
	if product == nil {
		h.respondError(w, http.StatusNotFound, "product not found")
		return
	}

	history, err := h.db.PriceHistory(r.Context(), id, limit)
	if err != nil {
		h.logger.Error("failed to get price history", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get price history")
		return
	}

	h.respondJSON(w, http.StatusOK, history)
}

func (h *Handlers) ListIssues(w http.ResponseWriter, r *http.Request) {
	var filter database.IssueFilter
	if raw := r.URL.Query().Get("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid resolved flag")
			return
		}
		filter.Resolved = &resolved
	}
	if raw := r.URL.Query().Get("type"); raw != "" {
		typ := models.IssueType(raw)
		if !typ.Valid() {
			h.respondError(w, http.StatusBadRequest, "invalid issue type")
			return
		}
		filter.Types = []models.IssueType{typ}
	}

	list, err := h.db.ListIssues(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list issues", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list issues")
		return
	}

	h.respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) IssueSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.issues.Summary(r.Context())
	if err != nil {
		h.logger.Error("failed to summarize issues", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to summarize issues")
		return
	}

	h.respondJSON(w, http.StatusOK, summary)
}

type AutoHandleRequest struct {
	AutoRemove bool `json:"auto_remove"`
}

func (h *Handlers) AutoHandleIssues(w http.ResponseWriter, r *http.Request) {
	var req AutoHandleRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	handled, err := h.issues.AutoHandle(r.Context(), req.AutoRemove)
	if err != nil {
		h.logger.Error("failed to auto-handle issues", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to auto-handle issues")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]int{"handled": handled})
}

func (h *Handlers) ResolveIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}

	if err := h.issues.Resolve(r.Context(), id); err != nil {
		h.issueError(w, id, "resolve", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "resolved": true})
}

func (h *Handlers) ReactivateIssue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}

	if err := h.issues.Reactivate(r.Context(), id); err != nil {
		h.issueError(w, id, "reactivate", err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "reactivated": true})
}

func (h *Handlers) SyncCatalog(w http.ResponseWriter, r *http.Request) {
	doc, err := catalog.Load(r.Body)
	if err != nil {
		var verrs catalog.ValidationErrors
		if errors.As(err, &verrs) {
			h.respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
				"error":  "invalid catalog",
				"fields": verrs,
			})
			return
		}
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.catalog.Sync(r.Context(), doc)
	if err != nil {
		h.logger.Error("failed to sync catalog", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to sync catalog")
		return
	}

	h.respondJSON(w, http.StatusOK, result)
}

type CacheResponse struct {
	URL         string             `json:"url"`
	Entry       *models.CacheEntry `json:"entry"`
	ShouldFetch bool               `json:"should_fetch"`
}

func (h *Handlers) GetCacheEntry(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		h.respondError(w, http.StatusBadRequest, "url is required")
		return
	}

	entry, due, err := h.cache.Entry(r.Context(), url)
	if err != nil {
		h.logger.Error("failed to read cache entry", "url", url, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to read cache entry")
		return
	}

	h.respondJSON(w, http.StatusOK, CacheResponse{URL: url, Entry: entry, ShouldFetch: due})
}

func (h *Handlers) idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.respondError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func (h *Handlers) issueError(w http.ResponseWriter, id int64, action string, err error) {
	if errors.Is(err, database.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "issue not found")
		return
	}
	h.logger.Error("failed to "+action+" issue", "id", id, "error", err)
	h.respondError(w, http.StatusInternalServerError, "failed to "+action+" issue")
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
