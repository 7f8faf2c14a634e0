package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/craftora/domain-gateway/internal/analytics"
	"github.com/craftora/domain-gateway/internal/resolver"
)

// ResolveHandler serves the edge routers: hostname resolution and
// traffic reporting. These endpoints sit on the hot path and skip the
// tenant JWT; the edge authenticates with a shared service token.
type ResolveHandler struct {
	resolver  *resolver.Resolver
	analytics *analytics.Service
	logger    *zap.Logger
}

func NewResolveHandler(res *resolver.Resolver, analyticsSvc *analytics.Service, logger *zap.Logger) *ResolveHandler {
	return &ResolveHandler{resolver: res, analytics: analyticsSvc, logger: logger}
}

func (h *ResolveHandler) Resolve(c *gin.Context) {
	host := c.Query("host")
	if host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "host parameter required"})
		return
	}

	tenant, err := h.resolver.Resolve(c.Request.Context(), host)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No tenant for hostname"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"tenant_id": tenant.String()})
}

type TrafficSampleRequest struct {
	MappingID  string  `json:"mapping_id" binding:"required"`
	TenantID   string  `json:"tenant_id" binding:"required"`
	Error      bool    `json:"error"`
	ResponseMs float64 `json:"response_ms"`
}

// ReportTraffic ingests one request observation from the edge.
func (h *ResolveHandler) ReportTraffic(c *gin.Context) {
	var req TrafficSampleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	mappingID, err := uuid.Parse(req.MappingID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid mapping id"})
		return
	}
	tenant, err := uuid.Parse(req.TenantID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid tenant id"})
		return
	}

	if err := h.analytics.Record(c.Request.Context(), analytics.Sample{
		MappingID:  mappingID,
		TenantID:   tenant,
		Error:      req.Error,
		ResponseMs: req.ResponseMs,
		At:         time.Now(),
	}); err != nil {
		h.logger.Warn("failed to record traffic sample", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record sample"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "recorded"})
}
