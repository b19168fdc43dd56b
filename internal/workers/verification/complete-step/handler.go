// internal/workers/verification/complete-step/handler.go
package completestep

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

const TaskType = "verification-complete-step"

type SessionService interface {
	CompleteStep(ctx context.Context, p auth.Principal, sessionID string, step models.StepKind, payload map[string]interface{}, refs []models.EvidenceRef) (*models.VerificationSession, error)
}

type Handler struct {
	config  *Config
	service SessionService
	runner  *jobs.Runner
	logger  logger.Logger
}

func NewHandler(cfg *Config, service SessionService, obs *observability.Observability, log logger.Logger) *Handler {
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
	if input.Payload == nil {
		input.Payload = map[string]interface{}{}
	}

	session, err := h.service.CompleteStep(ctx, input.Principal(), input.SessionID, input.Step, input.Payload, input.Evidence)
	if err != nil {
		return nil, err
	}

	h.logger.Debug("Step recorded", map[string]interface{}{
		"sessionId":   session.SessionID,
		"step":        input.Step,
		"currentStep": session.CurrentStep,
	})
	return &Output{SessionOutput: jobs.NewSessionOutput(session)}, nil
}
