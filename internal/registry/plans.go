package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/craftora/domain-gateway/internal/domain"
)

type Plan string

const (
	PlanFoundation Plan = "foundation"
	PlanGrowth     Plan = "growth"
	PlanPremium    Plan = "premium"
	PlanEnterprise Plan = "enterprise"
)

// PlanPolicy maps a plan to the number of custom domains it permits.
// Subdomains are unlimited per tenant (still globally unique).
type PlanPolicy map[Plan]int

func DefaultPlanPolicy() PlanPolicy {
	return PlanPolicy{
		PlanFoundation: 0,
		PlanGrowth:     0,
		PlanPremium:    3,
		PlanEnterprise: 10,
	}
}

func (p PlanPolicy) CustomDomainLimit(plan Plan) int {
	limit, ok := p[plan]
	if !ok {
		return 0
	}
	return limit
}

// TenantDirectory is the external tenant/business directory, consulted
// only for plan lookups.
type TenantDirectory interface {
	PlanFor(ctx context.Context, tenantID uuid.UUID) (Plan, error)
}

// StaticDirectory serves fixed plan assignments; used in tests and local
// development.
type StaticDirectory struct {
	Plans   map[uuid.UUID]Plan
	Default Plan
}

func (d *StaticDirectory) PlanFor(_ context.Context, tenantID uuid.UUID) (Plan, error) {
	if plan, ok := d.Plans[tenantID]; ok {
		return plan, nil
	}
	if d.Default != "" {
		return d.Default, nil
	}
	return "", fmt.Errorf("%w: tenant %s has no plan", domain.ErrNotFound, tenantID)
}

// HTTPDirectory asks the platform's tenant service for plan assignments.
type HTTPDirectory struct {
	BaseURL      string
	ServiceToken string
	Client       *http.Client
}

func NewHTTPDirectory(baseURL, serviceToken string) *HTTPDirectory {
	return &HTTPDirectory{
		BaseURL:      baseURL,
		ServiceToken: serviceToken,
		Client:       &http.Client{Timeout: 5 * time.Second},
	}
}

func (d *HTTPDirectory) PlanFor(ctx context.Context, tenantID uuid.UUID) (Plan, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.BaseURL+"/internal/v1/tenants/"+tenantID.String()+"/plan", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Service-Token", d.ServiceToken)

	resp, err := d.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tenant directory: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("%w: tenant %s has no plan", domain.ErrNotFound, tenantID)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tenant directory returned %d", resp.StatusCode)
	}

	var body struct {
		Plan Plan `json:"plan"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("tenant directory: %w", err)
	}
	return body.Plan, nil
}
