// internal/workers/escrow/get-ledger/handler.go
package getledger

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

const TaskType = "escrow-get-ledger"

type LedgerReader interface {
	GetLedger(ctx context.Context, p auth.Principal, loanID string) (*models.EscrowLedger, error)
	GetMilestone(ctx context.Context, p auth.Principal, milestoneID string) (*models.EscrowLedger, *models.Milestone, error)
	MilestoneEvidence(ctx context.Context, p auth.Principal, milestoneID string) ([]models.EvidenceRecord, error)
}

type Handler struct {
	config  *Config
	service LedgerReader
	runner  *jobs.Runner
	logger  logger.Logger
}

func NewHandler(cfg *Config, service LedgerReader, obs *observability.Observability, log logger.Logger) *Handler {
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
	p := input.Principal()

	if input.MilestoneID == "" {
		ledger, err := h.service.GetLedger(ctx, p, input.LoanID)
		if err != nil {
			return nil, err
		}
		return &Output{LedgerOutput: jobs.NewLedgerOutput(ledger)}, nil
	}

	ledger, _, err := h.service.GetMilestone(ctx, p, input.MilestoneID)
	if err != nil {
		return nil, err
	}
	out := &Output{LedgerOutput: jobs.NewLedgerOutput(ledger)}
	if input.IncludeEvidence {
		if out.Evidence, err = h.service.MilestoneEvidence(ctx, p, input.MilestoneID); err != nil {
			return nil, err
		}
	}
	return out, nil
}
