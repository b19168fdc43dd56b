// Package scoring defines the contract with the external scoring provider and
// runs submissions against it asynchronously with a bounded wait.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "funding-workflow/internal/common/errors"
	commonhttp "funding-workflow/internal/common/http"
	"funding-workflow/internal/models"
)

// Request is the aggregated submission bundle. Video is absent for saas businesses.
type Request struct {
	SubmissionID string                 `json:"submissionId"`
	SessionID    string                 `json:"sessionId"`
	SMEID        string                 `json:"smeId"`
	BusinessType models.BusinessType    `json:"businessType"`
	BusinessInfo map[string]interface{} `json:"businessInfo"`
	CAC          map[string]interface{} `json:"cac"`
	Video        *models.EvidenceRef    `json:"video,omitempty"`
	BankLink     *models.EvidenceRef    `json:"bankLink,omitempty"`
	Evidence     []models.EvidenceRef   `json:"evidence,omitempty"`
}

// Response is either a pair of scores or a rejection with a reason.
type Response struct {
	PulseScore  *float64 `json:"pulseScore,omitempty"`
	ProfitScore *float64 `json:"profitScore,omitempty"`
	Rejected    bool     `json:"rejected,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

func (r *Response) validate() error {
	if r.Rejected {
		return nil
	}
	if r.PulseScore == nil || r.ProfitScore == nil {
		return errors.New("response carries neither scores nor a rejection")
	}
	return nil
}

// Gateway scores one submission. Calls are idempotent by SubmissionID.
type Gateway interface {
	Score(ctx context.Context, req Request) (*Response, error)
}

// GatewayFunc adapts a function to Gateway.
type GatewayFunc func(ctx context.Context, req Request) (*Response, error)

func (f GatewayFunc) Score(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}

// HTTPGateway calls POST {baseURL}/v1/scores.
type HTTPGateway struct {
	client  *commonhttp.Client
	baseURL string
	apiKey  string
}

func NewHTTPGateway(baseURL, apiKey string, timeout time.Duration) *HTTPGateway {
	return &HTTPGateway{
		client:  commonhttp.NewClient(timeout),
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
	}
}

func (g *HTTPGateway) Score(ctx context.Context, req Request) (*Response, error) {
	headers := map[string]string{"Idempotency-Key": req.SubmissionID}
	if g.apiKey != "" {
		headers["Authorization"] = "Bearer " + g.apiKey
	}

	var resp Response
	if err := g.client.PostJSON(ctx, g.baseURL+"/v1/scores", headers, req, &resp); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, apperrors.NewScoringUnavailableError(err)
	}
	if err := resp.validate(); err != nil {
		return nil, apperrors.NewScoringUnavailableError(fmt.Errorf("submission %s: %w", req.SubmissionID, err))
	}
	return &resp, nil
}
