package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/shardie-github/castor-sub009/internal/domain"
	"github.com/shardie-github/castor-sub009/internal/dto"
	"github.com/shardie-github/castor-sub009/internal/service"
	"github.com/shardie-github/castor-sub009/internal/tenant"
)

// TenantHeader carries the caller's tenant on every request.
const TenantHeader = "X-Tenant-ID"

// Handler owns the HTTP surface: signal intake on one side, reporting reads
// on the other. Every route is tenant-scoped through the tenant header.
type Handler struct {
	ingest    service.IngestServicer
	analytics service.AnalyticsServicer
	router    *gin.Engine
	log       *zap.Logger
}

// New creates the handler and registers its routes.
func New(ingest service.IngestServicer, analytics service.AnalyticsServicer, log *zap.Logger) *Handler {
	h := &Handler{
		ingest:    ingest,
		analytics: analytics,
		router:    gin.Default(),
		log:       log,
	}
	h.registerRoutes()
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)

	v1 := h.router.Group("/v1")
	v1.POST("/signals/promo", h.submitPromo)
	v1.POST("/signals/pixel", h.submitPixel)
	v1.POST("/signals/conversion", h.submitConversion)
	v1.POST("/imports/offline", h.submitOfflineImport)

	v1.PUT("/campaigns/:id/attribution", h.putAttributionSettings)
	v1.GET("/campaigns/:id/attribution", h.getAttributionSettings)
	v1.GET("/campaigns/:id/attribution/results", h.getAttributionResults)
	v1.GET("/campaigns/:id/financials", h.getFinancials)
	v1.GET("/campaigns/:id/lift", h.getLift)
}

// healthCheck handles GET /health
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// submitPromo handles POST /v1/signals/promo
func (h *Handler) submitPromo(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}

	var req dto.PromoSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.validationError(c, err)
		return
	}

	if err := h.ingest.SubmitPromo(c.Request.Context(), tenantID, &req); err != nil {
		h.ingestError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.SignalAcceptedResponse{Status: "accepted", Source: string(domain.SourcePromoCode)})
}

// submitPixel handles POST /v1/signals/pixel
func (h *Handler) submitPixel(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}

	var req dto.PixelSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.validationError(c, err)
		return
	}

	if err := h.ingest.SubmitPixel(c.Request.Context(), tenantID, &req); err != nil {
		h.ingestError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.SignalAcceptedResponse{Status: "accepted", Source: string(domain.SourcePixel)})
}

// submitConversion handles POST /v1/signals/conversion
func (h *Handler) submitConversion(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}

	var req dto.ConversionSignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.validationError(c, err)
		return
	}

	if err := h.ingest.SubmitConversion(c.Request.Context(), tenantID, &req); err != nil {
		h.ingestError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.SignalAcceptedResponse{Status: "accepted", Source: string(domain.SourceDirectAPI)})
}

// submitOfflineImport handles POST /v1/imports/offline
func (h *Handler) submitOfflineImport(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}

	var req dto.OfflineImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.validationError(c, err)
		return
	}

	resp, err := h.ingest.SubmitOfflineImport(c.Request.Context(), tenantID, &req)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, resp)
}

// putAttributionSettings handles PUT /v1/campaigns/:id/attribution
func (h *Handler) putAttributionSettings(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}

	var req dto.AttributionSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.validationError(c, err)
		return
	}

	resp, err := h.analytics.SaveSettings(c.Request.Context(), tenantID, c.Param("id"), &req)
	if err != nil {
		var invalid *domain.InvalidModelError
		if errors.As(err, &invalid) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_model", Message: err.Error()})
			return
		}
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// getAttributionSettings handles GET /v1/campaigns/:id/attribution
func (h *Handler) getAttributionSettings(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}

	resp, err := h.analytics.GetSettings(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// getAttributionResults handles GET /v1/campaigns/:id/attribution/results
func (h *Handler) getAttributionResults(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}

	rows, err := h.analytics.GetAttributionResults(c.Request.Context(), tenantID, c.Param("id"), c.Query("model"))
	if err != nil {
		var invalid *domain.InvalidModelError
		if errors.As(err, &invalid) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_model", Message: err.Error()})
			return
		}
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": rows})
}

// getFinancials handles GET /v1/campaigns/:id/financials
func (h *Handler) getFinancials(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}

	rows, err := h.analytics.GetFinancials(c.Request.Context(), tenantID, c.Param("id"), c.Query("model"))
	if err != nil {
		var invalid *domain.InvalidModelError
		if errors.As(err, &invalid) {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid_model", Message: err.Error()})
			return
		}
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"financials": rows})
}

// getLift handles GET /v1/campaigns/:id/lift. Without query parameters it
// lists the stored segment stats; with a segment and explicit windows it
// computes and persists a fresh one.
func (h *Handler) getLift(c *gin.Context) {
	tenantID, ok := h.requireTenant(c)
	if !ok {
		return
	}

	if len(c.Request.URL.Query()) == 0 {
		rows, err := h.analytics.ListSegmentLifts(c.Request.Context(), tenantID, c.Param("id"))
		if err != nil {
			h.internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"segments": rows})
		return
	}

	var q dto.LiftQueryRequest
	if err := c.ShouldBindQuery(&q); err != nil {
		h.validationError(c, err)
		return
	}

	resp, err := h.analytics.ComputeSegmentLift(c.Request.Context(), tenantID, c.Param("id"), &q)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) requireTenant(c *gin.Context) (string, bool) {
	tenantID, err := tenant.Require(c.GetHeader(TenantHeader))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "missing_tenant", Message: err.Error()})
		return "", false
	}
	return tenantID, true
}

func (h *Handler) validationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "validation_error", Message: err.Error()})
}

func (h *Handler) ingestError(c *gin.Context, err error) {
	// Timestamp problems are the caller's to fix; queue trouble is ours.
	if errors.Is(err, service.ErrFutureTimestamp) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "validation_error", Message: err.Error()})
		return
	}
	h.internalError(c, err)
}

func (h *Handler) internalError(c *gin.Context, err error) {
	h.log.Error("Request failed", zap.Error(err))
	c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal_error", Message: err.Error()})
}
