// internal/workers/verification/start-session/handler.go
package startsession

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

const TaskType = "verification-start-session"

type SessionService interface {
	Start(ctx context.Context, p auth.Principal, smeID string) (*models.VerificationSession, error)
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
	return &Handler{
		config:  cfg,
		service: service,
		runner:  runner,
		logger:  runner.Logger(),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	jobs.Run(h.runner, client, job, h.Execute)
}

// Execute opens a session for the SME. An empty smeId means the caller
// is starting their own verification.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	smeID := input.SMEID
	if smeID == "" {
		smeID = input.ActorID
	}

	session, err := h.service.Start(ctx, input.Principal(), smeID)
	if err != nil {
		return nil, err
	}

	h.logger.Info("Verification session started", map[string]interface{}{
		"sessionId": session.SessionID,
		"smeId":     session.SMEID,
	})
	return &Output{SessionOutput: jobs.NewSessionOutput(session)}, nil
}
