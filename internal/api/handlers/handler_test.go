package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/craftora/domain-gateway/internal/domain"
)

func performWriteError(err error) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/domains", nil)
	writeError(c, zap.NewNop(), err)
	return w
}

func TestWriteErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: bad hostname", domain.ErrInvalidInput), http.StatusBadRequest},
		{fmt.Errorf("%w: mapping x", domain.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: shop.example.com", domain.ErrDomainTaken), http.StatusConflict},
		{fmt.Errorf("%w: from deleting", domain.ErrInvalidTransition), http.StatusConflict},
		{fmt.Errorf("%w: mapping is pending", domain.ErrDomainNotVerified), http.StatusConflict},
		{fmt.Errorf("%w: mapping y", domain.ErrVersionConflict), http.StatusConflict},
		{domain.ErrQuotaExceeded, http.StatusForbidden},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{fmt.Errorf("database on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		w := performWriteError(tt.err)
		assert.Equal(t, tt.status, w.Code, "error %v", tt.err)
	}
}

func TestWriteErrorQuotaDetails(t *testing.T) {
	w := performWriteError(&domain.QuotaError{Used: 3, Limit: 3})

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"used":3`)
	assert.Contains(t, w.Body.String(), `"limit":3`)
}

func TestWriteErrorRateLimitRetryAfter(t *testing.T) {
	w := performWriteError(&domain.RateLimitError{RetryAfter: 2 * time.Hour})

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "7200", w.Header().Get("Retry-After"))
}

func TestWriteErrorHidesInternalDetails(t *testing.T) {
	w := performWriteError(fmt.Errorf("pq: connection refused at 10.0.0.3"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.3")
}
