package providers

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Selector decisions.
const (
	DecisionOK = "OK"
	DecisionKO = "KO"
)

// Brief describes what the asset is for.
type Brief struct {
	UseCase string `json:"use_case"`
	Style   string `json:"style,omitempty"`
}

// SelectRequest asks the selector to pick a provider within a budget.
type SelectRequest struct {
	Brief       Brief  `json:"brief"`
	Modality    string `json:"modality"`
	Format      string `json:"format"`
	DurationS   int    `json:"duration_s,omitempty"`
	Quality     string `json:"quality"`
	BudgetWoofs int    `json:"budget_woofs"`
}

// SelectResponse is the selector's decision with its estimates.
type SelectResponse struct {
	Decision     string   `json:"decision"`
	Provider     string   `json:"provider"`
	CostWoofs    int      `json:"cost_woofs"`
	EtaS         int      `json:"eta_s"`
	QualityScore float64  `json:"quality_score"`
	Suggestions  []string `json:"suggestions,omitempty"`
}

// Rejected reports a hard KO decision.
func (r SelectResponse) Rejected() bool {
	return strings.EqualFold(r.Decision, DecisionKO)
}

// Selector picks a render provider for a request.
type Selector interface {
	Select(ctx context.Context, req SelectRequest) (SelectResponse, error)
}

// SelectorClient calls the selector endpoint over HTTP.
type SelectorClient struct {
	URL    string
	APIKey string
	HTTP   *http.Client
}

// Select posts req and returns the decision. Unknown decisions are errors.
func (c *SelectorClient) Select(ctx context.Context, req SelectRequest) (SelectResponse, error) {
	var out SelectResponse
	if err := postJSON(ctx, c.HTTP, c.URL, c.APIKey, req, &out); err != nil {
		return SelectResponse{}, err
	}
	switch strings.ToUpper(out.Decision) {
	case DecisionOK, DecisionKO:
		out.Decision = strings.ToUpper(out.Decision)
		return out, nil
	default:
		return SelectResponse{}, errors.New("selector returned no decision")
	}
}
