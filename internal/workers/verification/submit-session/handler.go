// internal/workers/verification/submit-session/handler.go
package submitsession

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

const TaskType = "verification-submit"

type SessionService interface {
	Submit(ctx context.Context, p auth.Principal, sessionID string) (*models.VerificationSession, error)
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

// Execute submits the session and returns as soon as scoring is dispatched.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	session, err := h.service.Submit(ctx, input.Principal(), input.SessionID)
	if err != nil {
		return nil, err
	}

	h.logger.Info("Session submitted for scoring", map[string]interface{}{
		"sessionId":    session.SessionID,
		"submissionId": session.SubmissionID,
	})
	return &Output{SessionOutput: jobs.NewSessionOutput(session)}, nil
}
