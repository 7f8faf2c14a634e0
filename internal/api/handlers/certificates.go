package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/craftora/domain-gateway/internal/domain"
)

type UploadCertificateRequest struct {
	Certificate string `json:"certificate" binding:"required"`
	PrivateKey  string `json:"private_key" binding:"required"`
	Chain       string `json:"chain,omitempty"`
}

// certificateView strips key material from API responses. Private keys
// never leave the service once stored.
type certificateView struct {
	Serial    string `json:"serial"`
	Type      string `json:"type"`
	Issuer    string `json:"issuer"`
	ValidFrom string `json:"valid_from"`
	ExpiresAt string `json:"expires_at"`
	Revoked   bool   `json:"revoked"`
}

func viewOf(cert *domain.Certificate) certificateView {
	return certificateView{
		Serial:    cert.Serial,
		Type:      string(cert.Type),
		Issuer:    cert.Issuer,
		ValidFrom: cert.ValidFrom.UTC().Format("2006-01-02T15:04:05Z"),
		ExpiresAt: cert.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z"),
		Revoked:   cert.Revoked,
	}
}

func (h *DomainHandler) UploadCertificate(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	var req UploadCertificateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cert, err := h.registry.UploadCustomCertificate(c.Request.Context(), tenant, id,
		req.Certificate, req.PrivateKey, req.Chain, c.GetString("subject"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, viewOf(cert))
}

func (h *DomainHandler) GetCertificate(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	cert, err := h.certs.CurrentCertificate(c.Request.Context(), tenant, id)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, viewOf(cert))
}

// RenewCertificate forces a managed issuance or renewal outside the
// sweep schedule.
func (h *DomainHandler) RenewCertificate(c *gin.Context) {
	tenant, ok := tenantID(c)
	if !ok {
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}

	cert, err := h.certs.RenewManaged(c.Request.Context(), tenant, id, c.GetString("subject"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, viewOf(cert))
}
