// internal/workers/verification/record-scoring-result/handler.go
package recordscoringresult

import (
	"context"
	"errors"
	"time"

	apperrors "funding-workflow/internal/common/errors"
	"funding-workflow/internal/common/logger"
	"funding-workflow/internal/common/observability"
	"funding-workflow/internal/models"
	"funding-workflow/internal/scoring"
	"funding-workflow/internal/workers/jobs"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "verification-record-scoring-result"

type ScoringResolver interface {
	ResolveScoring(ctx context.Context, outcome scoring.Outcome) (*models.VerificationSession, bool, error)
}

type Handler struct {
	config  *Config
	service ScoringResolver
	runner  *jobs.Runner
	logger  logger.Logger
}

func NewHandler(cfg *Config, service ScoringResolver, obs *observability.Observability, log logger.Logger) *Handler {
	if cfg == nil {
		cfg = LoadConfig()
	}
	runner := jobs.NewRunner(TaskType, cfg.Timeout, obs, log)
	return &Handler{config: cfg, service: service, runner: runner, logger: runner.Logger()}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	jobs.Run(h.runner, client, job, h.Execute)
}

// Execute applies the result. Results for superseded submissions and repeats
// complete with applied=false.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}

	session, applied, err := h.service.ResolveScoring(ctx, toOutcome(input))
	if err != nil {
		return nil, err
	}

	h.logger.Info("Scoring result recorded", map[string]interface{}{
		"sessionId":    input.SessionID,
		"submissionId": input.SubmissionID,
		"applied":      applied,
	})
	return &Output{SessionOutput: jobs.NewSessionOutput(session), Applied: applied}, nil
}

func toOutcome(input *Input) scoring.Outcome {
	outcome := scoring.Outcome{
		Request: scoring.Request{SessionID: input.SessionID, SubmissionID: input.SubmissionID},
	}
	switch {
	case input.TimedOut:
		outcome.Err = apperrors.NewScoringTimeoutError(input.SubmissionID, time.Duration(0))
	case input.Error != "":
		outcome.Err = apperrors.NewScoringUnavailableError(errors.New(input.Error))
	default:
		outcome.Response = &scoring.Response{
			PulseScore:  input.PulseScore,
			ProfitScore: input.ProfitScore,
			Rejected:    input.Rejected,
			Reason:      input.Reason,
		}
	}
	return outcome
}
