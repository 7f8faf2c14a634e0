package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/craftora/domain-gateway/internal/domain"
)

// tenantID pulls the authenticated tenant out of the request context.
func tenantID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString("tenant_id"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid tenant identity"})
		return uuid.Nil, false
	}
	return id, true
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid domain id"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError translates service errors into HTTP responses. Anything not
// recognized is a 500 with a generic message; details stay in the logs.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	var quotaErr *domain.QuotaError
	if errors.As(err, &quotaErr) {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "Custom domain limit reached",
			"used":  quotaErr.Used,
			"limit": quotaErr.Limit,
		})
		return
	}

	var rateErr *domain.RateLimitError
	if errors.As(err, &rateErr) {
		c.Header("Retry-After", strconv.Itoa(int(rateErr.RetryAfter.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Certificate authority rate limit reached"})
		return
	}

	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Domain not found"})
	case errors.Is(err, domain.ErrDomainTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "Domain is already in use"})
	case errors.Is(err, domain.ErrQuotaExceeded):
		c.JSON(http.StatusForbidden, gin.H{"error": "Custom domain limit reached"})
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrDomainNotVerified):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Domain was modified concurrently, retry"})
	case errors.Is(err, domain.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit reached"})
	default:
		logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
