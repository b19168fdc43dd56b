// internal/workers/escrow/decide-milestone/handler.go
package decidemilestone

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

const TaskType = "escrow-decide-milestone"

type EscrowService interface {
	Decide(ctx context.Context, p auth.Principal, milestoneID string, decision models.MilestoneDecision, feedback string) (*models.EscrowLedger, *models.Milestone, error)
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

// Execute applies the lender's decision. A repeated approve fails with
// ALREADY_RELEASED, which the workflow treats as a business error.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	ledger, milestone, err := h.service.Decide(ctx, input.Principal(), input.MilestoneID, input.Decision, input.Feedback)
	if err != nil {
		return nil, err
	}

	released := milestone.Status == models.MilestoneReleased
	h.logger.Info("Milestone decided", map[string]interface{}{
		"loanId":         ledger.LoanID,
		"milestoneId":    milestone.MilestoneID,
		"decision":       input.Decision,
		"status":         milestone.Status,
		"releasedAmount": ledger.ReleasedAmount,
	})
	return &Output{MilestoneOutput: jobs.NewMilestoneOutput(ledger, milestone), Released: released}, nil
}
