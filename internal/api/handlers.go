// Package api exposes price comparison and refresh over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/circuitbreaker"
	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/partprice/internal/domain"
	"github.com/jonesrussell/north-cloud/partprice/internal/orchestrator"
)

const (
	// MaxCompareLimit caps the limit query parameter.
	MaxCompareLimit = 100
	// MaxRefreshProducts caps one bulk refresh request.
	MaxRefreshProducts = 50
)

// Comparer answers live comparison requests.
type Comparer interface {
	Aggregate(ctx context.Context, term, category string, limit int) domain.AggregatedResult
	CheckAvailability(ctx context.Context) map[string]bool
	ListAllCategories(ctx context.Context) map[string][]domain.Category
}

// Refresher runs on-demand refreshes and reports cycles.
type Refresher interface {
	RefreshProducts(ctx context.Context, productIDs []int64) (orchestrator.CycleReport, error)
	LastReport() (orchestrator.CycleReport, bool)
}

// BreakerSource lists circuit breakers and closes them on request.
type BreakerSource interface {
	Snapshot() []circuitbreaker.Stats
	Reset(host string) bool
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// RefreshRequest is the body of POST /api/v1/products/refresh.
type RefreshRequest struct {
	ProductIDs []int64 `json:"product_ids" binding:"required"`
}

// Handler holds HTTP request handlers.
type Handler struct {
	comparer  Comparer
	refresher Refresher
	breakers  BreakerSource
	logger    logger.Logger
}

// NewHandler creates a handler. breakers may be nil.
func NewHandler(comparer Comparer, refresher Refresher, breakers BreakerSource, log logger.Logger) *Handler {
	return &Handler{
		comparer:  comparer,
		refresher: refresher,
		breakers:  breakers,
		logger:    log,
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, ErrorResponse{
		Error:     msg,
		Code:      code,
		Timestamp: time.Now(),
	})
}

// Compare handles GET /api/v1/compare?q=&category=&limit=.
func (h *Handler) Compare(c *gin.Context) {
	term := strings.TrimSpace(c.Query("q"))
	if term == "" {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "query parameter q is required")
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(c, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = min(n, MaxCompareLimit)
	}

	result := h.comparer.Aggregate(c.Request.Context(), term, c.Query("category"), limit)
	c.JSON(http.StatusOK, result)
}

// Availability handles GET /api/v1/sources/availability.
func (h *Handler) Availability(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sources": h.comparer.CheckAvailability(c.Request.Context())})
}

// Categories handles GET /api/v1/sources/categories.
func (h *Handler) Categories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": h.comparer.ListAllCategories(c.Request.Context())})
}

// Refresh handles POST /api/v1/products/refresh.
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body: "+err.Error())
		return
	}
	if len(req.ProductIDs) == 0 || len(req.ProductIDs) > MaxRefreshProducts {
		respondError(c, http.StatusBadRequest, "VALIDATION_ERROR",
			"product_ids must hold between 1 and "+strconv.Itoa(MaxRefreshProducts)+" ids")
		return
	}

	report, err := h.refresher.RefreshProducts(c.Request.Context(), req.ProductIDs)
	if err != nil {
		h.logger.Error("Bulk refresh failed",
			logger.Int("products", len(req.ProductIDs)),
			logger.Error(err),
		)
		respondError(c, http.StatusInternalServerError, "REFRESH_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, report)
}

// LastCycle handles GET /api/v1/cycles/last.
func (h *Handler) LastCycle(c *gin.Context) {
	report, ok := h.refresher.LastReport()
	if !ok {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "no cycle has finished yet")
		return
	}
	c.JSON(http.StatusOK, report)
}

// Circuits handles GET /api/v1/circuits.
func (h *Handler) Circuits(c *gin.Context) {
	stats := []circuitbreaker.Stats{}
	if h.breakers != nil {
		stats = append(stats, h.breakers.Snapshot()...)
	}
	c.JSON(http.StatusOK, gin.H{"circuits": stats})
}

// ResetCircuit handles POST /api/v1/circuits/:host/reset.
func (h *Handler) ResetCircuit(c *gin.Context) {
	host := c.Param("host")
	if h.breakers == nil || !h.breakers.Reset(host) {
		respondError(c, http.StatusNotFound, "NOT_FOUND", "no circuit for host "+host)
		return
	}

	h.logger.Info("Circuit reset", logger.Host(host))
	c.JSON(http.StatusOK, gin.H{"host": host, "state": circuitbreaker.StateClosed})
}
