// internal/workers/negotiation/respond-offer/handler.go
package respondoffer

import (
	"context"

	"funding-workflow/internal/common/auth"
	"funding-workflow/internal/common/logger"
	"funding-workflow/internal/common/observability"
	"funding-workflow/internal/models"
	"funding-workflow/internal/negotiation"
	"funding-workflow/internal/workers/jobs"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "negotiation-respond-offer"

type OfferService interface {
	Respond(ctx context.Context, p auth.Principal, offerID string, decision models.OfferDecision, counterTerms *models.OfferTerms, plan []models.MilestonePlanItem) (*negotiation.Response, error)
}

type Handler struct {
	config  *Config
	service OfferService
	runner  *jobs.Runner
	logger  logger.Logger
}

func NewHandler(cfg *Config, service OfferService, obs *observability.Observability, log logger.Logger) *Handler {
	if cfg == nil {
		cfg = LoadConfig()
	}
	runner := jobs.NewRunner(TaskType, cfg.Timeout, obs, log)
	return &Handler{config: cfg, service: service, runner: runner, logger: runner.Logger()}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	jobs.Run(h.runner, client, job, h.Execute)
}

// Execute applies the counterparty's decision. On accept the output carries
// the loanId of the escrow ledger the workflow continues with.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	resp, err := h.service.Respond(ctx, input.Principal(), input.OfferID, input.Decision, input.CounterTerms, input.MilestonePlan)
	if err != nil {
		return nil, err
	}

	out := &Output{
		OfferID:     resp.Offer.OfferID,
		OfferStatus: resp.Offer.Status,
		LoanID:      resp.Offer.LoanID,
		Result:      resp,
	}
	if resp.Counter != nil {
		out.CounterOfferID = resp.Counter.OfferID
	}

	h.logger.Info("Offer response applied", map[string]interface{}{
		"offerId":  out.OfferID,
		"decision": input.Decision,
		"status":   out.OfferStatus,
	})
	return out, nil
}
