package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/router-for-me/UsageDeck/internal/config"
	"github.com/router-for-me/UsageDeck/internal/provider"
	"github.com/router-for-me/UsageDeck/internal/refresh"
	"github.com/router-for-me/UsageDeck/internal/store"
)

// Handler serves the API routes.
type Handler struct {
	configs      *config.Store
	store        *store.Store
	orchestrator *refresh.Orchestrator
	registry     *provider.Registry
}

func newHandler(configs *config.Store, st *store.Store, orchestrator *refresh.Orchestrator, registry *provider.Registry) *Handler {
	return &Handler{configs: configs, store: st, orchestrator: orchestrator, registry: registry}
}

// Health reports process liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Refresh triggers a refresh cycle, joining an in-flight one, and returns
// its summary. force=1 probes providers without credentials too.
func (h *Handler) Refresh(c *gin.Context) {
	force := c.Query("force") == "1" || strings.EqualFold(c.Query("force"), "true")
	summary, errCycle := h.orchestrator.Trigger(c.Request.Context(), force)
	if errCycle != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": errCycle.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// Providers returns the latest snapshot per provider.
func (h *Handler) Providers(c *gin.Context) {
	rows, errQuery := h.store.LatestPerProvider(c.Request.Context())
	if errQuery != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query providers failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"providers": rows})
}

// History returns recent snapshots for one provider, newest first.
func (h *Handler) History(c *gin.Context) {
	providerID := strings.TrimSpace(c.Param("id"))
	if providerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider id is required"})
		return
	}
	rows, errQuery := h.store.HistoryForProvider(c.Request.Context(), providerID, queryInt(c, "limit"))
	if errQuery != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query history failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": rows})
}

// RecentHistory returns the most recent N snapshots per provider across all
// providers.
func (h *Handler) RecentHistory(c *gin.Context) {
	rows, errQuery := h.store.RecentHistory(c.Request.Context(), queryInt(c, "per"))
	if errQuery != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query history failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": rows})
}

// Resets returns recent reset events for one provider, newest first.
func (h *Handler) Resets(c *gin.Context) {
	providerID := strings.TrimSpace(c.Param("id"))
	if providerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider id is required"})
		return
	}
	rows, errQuery := h.store.ResetEventsForProvider(c.Request.Context(), providerID, queryInt(c, "limit"))
	if errQuery != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query reset events failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resets": rows})
}

// Check probes connectivity for one configured provider. A 429 from the
// upstream counts as a working credential that is merely rate limited.
func (h *Handler) Check(c *gin.Context) {
	providerID := store.NormalizeProviderID(c.Param("id"))
	if providerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider id is required"})
		return
	}

	cfg, found := h.findConfig(providerID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "provider not configured"})
		return
	}
	capability, resolved := h.registry.Resolve(cfg)
	if !resolved {
		c.JSON(http.StatusOK, gin.H{"ok": false, "status_code": 0, "message": "integration missing"})
		return
	}

	_, errFetch := capability.Fetch(c.Request.Context(), cfg)
	statusCode := provider.StatusCodeOf(errFetch)
	switch {
	case errFetch == nil:
		c.JSON(http.StatusOK, gin.H{"ok": true, "status_code": http.StatusOK, "message": "ok"})
	case statusCode == http.StatusTooManyRequests:
		c.JSON(http.StatusOK, gin.H{"ok": true, "status_code": statusCode, "message": "rate limited"})
	default:
		c.JSON(http.StatusOK, gin.H{"ok": false, "status_code": statusCode, "message": errFetch.Error()})
	}
}

// findConfig resolves a provider ID against the configured list plus the
// injected zero-credential system set.
func (h *Handler) findConfig(providerID string) (provider.Config, bool) {
	for _, cfg := range h.configs.Providers() {
		if store.NormalizeProviderID(cfg.ID) == providerID && !cfg.Disabled {
			return cfg, true
		}
	}
	if provider.IsSystemProvider(providerID) {
		return provider.Config{ID: providerID}, true
	}
	return provider.Config{}, false
}

func queryInt(c *gin.Context, name string) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return 0
	}
	value, errParse := strconv.Atoi(raw)
	if errParse != nil || value < 0 {
		return 0
	}
	return value
}
