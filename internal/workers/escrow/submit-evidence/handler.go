// internal/workers/escrow/submit-evidence/handler.go
package submitevidence

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

const TaskType = "escrow-submit-evidence"

type EscrowService interface {
	SubmitEvidence(ctx context.Context, p auth.Principal, milestoneID string, refs []models.EvidenceRef, note string) (*models.EscrowLedger, *models.Milestone, error)
}

type Handler struct {
	config  *Config
	service EscrowService
	runner  *jobs.Runner
	logger  logger.Logger
}

func NewHandler(cfg *Config, service EscrowService, obs *observability.Observability, log logger.Logger) *Handler {
	if cfg == nil {
		cfg = LoadConfig()
	}
	runner := jobs.NewRunner(TaskType, cfg.Timeout, obs, log)
	return &Handler{config: cfg, service: service, runner: runner, logger: runner.Logger()}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	jobs.Run(h.runner, client, job, h.Execute)
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	ledger, milestone, err := h.service.SubmitEvidence(ctx, input.Principal(), input.MilestoneID, input.Evidence, input.Note)
	if err != nil {
		return nil, err
	}

	h.logger.Info("Milestone evidence submitted", map[string]interface{}{
		"loanId":      ledger.LoanID,
		"milestoneId": milestone.MilestoneID,
		"evidence":    len(input.Evidence),
	})
	return &Output{MilestoneOutput: jobs.NewMilestoneOutput(ledger, milestone)}, nil
}
