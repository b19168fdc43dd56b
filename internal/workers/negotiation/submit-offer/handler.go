// internal/workers/negotiation/submit-offer/handler.go
package submitoffer

import (
	"context"

	"funding-workflow/internal/common/auth"
	"funding-workflow/internal/common/logger"
	"funding-workflow/internal/common/observability"
	"funding-workflow/internal/models"
	"funding-workflow/internal/workers/jobs"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "negotiation-submit-offer"

type OfferService interface {
	SubmitOffer(ctx context.Context, p auth.Principal, smeID, lenderID, fundingRequestID string, terms models.OfferTerms) (*models.Offer, error)
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

// Execute records a lender's offer. Without an explicit lenderId the caller
// is the lender.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	lenderID := input.LenderID
	if lenderID == "" {
		lenderID = input.ActorID
	}

	offer, err := h.service.SubmitOffer(ctx, input.Principal(), input.SMEID, lenderID, input.FundingRequestID, input.OfferTerms)
	if err != nil {
		return nil, err
	}

	h.logger.Info("Offer submitted", map[string]interface{}{
		"offerId":          offer.OfferID,
		"fundingRequestId": offer.FundingRequestID,
		"amount":           offer.Amount,
	})
	return &Output{
		OfferID:     offer.OfferID,
		OfferStatus: offer.Status,
		Round:       offer.Round,
		Offer:       offer,
	}, nil
}
