package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	EventDomainVerified           = "domain.verified"
	EventDomainVerificationFailed = "domain.verification_failed"
	EventDomainVerificationStale  = "domain.verification_stalled"
	EventDomainRemoved            = "domain.removed"
	EventCertificateIssued        = "certificate.issued"
	EventCertificateRenewed       = "certificate.renewed"
)

type Event struct {
	Type       string                 `json:"type"`
	TenantID   string                 `json:"tenant_id"`
	MappingID  string                 `json:"mapping_id"`
	Domain     string                 `json:"domain"`
	Data       map[string]interface{} `json:"data,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Events is the notification dispatch boundary. Publish is fire-and-forget:
// delivery failure never rolls back the domain operation that produced the
// event.
type Events interface {
	Publish(ctx context.Context, event Event)
}

// LogEvents writes events to the log only; the default when no webhook is
// configured.
type LogEvents struct {
	Logger *zap.Logger
}

func (l *LogEvents) Publish(_ context.Context, event Event) {
	l.Logger.Info("domain event",
		zap.String("type", event.Type),
		zap.String("tenant_id", event.TenantID),
		zap.String("domain", event.Domain),
	)
}

// WebhookEvents POSTs each event to the configured endpoint in the
// background.
type WebhookEvents struct {
	URL    string
	Client *http.Client
	Logger *zap.Logger
}

func NewWebhookEvents(url string, logger *zap.Logger) *WebhookEvents {
	return &WebhookEvents{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
		Logger: logger,
	}
}

func (w *WebhookEvents) Publish(_ context.Context, event Event) {
	go func() {
		body, err := json.Marshal(event)
		if err != nil {
			return
		}

		resp, err := w.Client.Post(w.URL, "application/json", bytes.NewReader(body))
		if err != nil {
			w.Logger.Warn("event delivery failed",
				zap.String("type", event.Type),
				zap.String("domain", event.Domain),
				zap.Error(err),
			)
			return
		}
		resp.Body.Close()
	}()
}
