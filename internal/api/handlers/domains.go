package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/craftora/domain-gateway/internal/analytics"
	"github.com/craftora/domain-gateway/internal/certs"
	"github.com/craftora/domain-gateway/internal/dnsverify"
	"github.com/craftora/domain-gateway/internal/health"
	"github.com/craftora/domain-gateway/internal/registry"
)

type DomainHandler struct {
	registry  *registry.Service
	verify    *dnsverify.Service
	certs     *certs.Service
	health    *health.Service
	analytics *analytics.Service
	logger    *zap.Logger
}

func NewDomainHandler(reg *registry.Service, verify *dnsverify.Service, certSvc *certs.Service,
	healthSvc *health.Service, analyticsSvc *analytics.Service, logger *zap.Logger) *DomainHandler {
	return &DomainHandler{
		registry:  reg,
		verify:    verify,
		certs:     certSvc,
		health:    healthSvc,
		analytics: analyticsSvc,
		logger:    logger,
	}
}

type CreateDomainRequest struct {
	Domain   string                 `json:"domain" binding:"required"`
	Method   string                 `json:"verification_method,omitempty"`
	CertType string                 `json:"certificate_type,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (h *DomainHandler) CreateDomain(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	var req CreateDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.registry.AddDomain(c.Request.Context(), tenant, registry.AddDomainRequest{
		Domain:   req.Domain,
		Method:   req.Method,
		CertType: req.CertType,
		Actor:    c.GetString("subject"),
		Metadata: req.Metadata,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

func (h *DomainHandler) ListDomains(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	mappings, err := h.registry.ListMappings(c.Request.Context(), tenant)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"domains": mappings,
		"count":   len(mappings),
	})
}

func (h *DomainHandler) GetDomain(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	m, err := h.registry.GetMapping(c.Request.Context(), tenant, id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, m)
}

type UpdateDomainRequest struct {
	AutoRenew *bool                  `json:"auto_renew,omitempty"`
	Method    *string                `json:"verification_method,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (h *DomainHandler) UpdateDomain(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req UpdateDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.registry.UpdateConfiguration(c.Request.Context(), tenant, id, registry.ConfigPatch{
		AutoRenew: req.AutoRenew,
		Method:    req.Method,
		Metadata:  req.Metadata,
		Actor:     c.GetString("subject"),
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, m)
}

func (h *DomainHandler) DeleteDomain(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := h.registry.RemoveDomain(c.Request.Context(), tenant, id, c.GetString("subject")); err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusNoContent, nil)
}

func (h *DomainHandler) GetQuota(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}

	used, limit, err := h.registry.QuotaUsage(c.Request.Context(), tenant)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"used": used, "limit": limit})
}

type RestartVerificationRequest struct {
	Method string `json:"verification_method,omitempty"`
}

// RestartVerification re-enters verification with a fresh token, e.g.
// after the tenant lost the original instructions.
func (h *DomainHandler) RestartVerification(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req RestartVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.verify.InitiateVerification(c.Request.Context(), tenant, id, dnsverify.InitiateOptions{
		Method:      req.Method,
		AutoRecheck: true,
		Actor:       c.GetString("subject"),
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, m)
}

// VerifyDomain runs an on-demand DNS check and reports the outcome.
func (h *DomainHandler) VerifyDomain(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	result, err := h.verify.VerifyDomain(c.Request.Context(), tenant, id, c.GetString("subject"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *DomainHandler) CheckHealth(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	report, err := h.health.RunHealthCheck(c.Request.Context(), tenant, id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (h *DomainHandler) GetAnalytics(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	from, to := analytics.ParseWindow(c.DefaultQuery("range", "24h"), time.Now())
	summary, err := h.analytics.Summarize(c.Request.Context(), tenant, id, from, to)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, summary)
}
