// Package jobs holds the plumbing every workflow job handler shares: variable
// decoding, the caller principal, completion and error reporting.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"funding-workflow/internal/common/auth"
	apperrors "funding-workflow/internal/common/errors"
	"funding-workflow/internal/common/logger"
	"funding-workflow/internal/common/metrics"
	"funding-workflow/internal/common/observability"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const defaultTimeout = 30 * time.Second

// Actor is the caller identity carried in every job's variables.
type Actor struct {
	ActorID string `json:"actorId"`
	Role    string `json:"role"`
}

func (a Actor) Principal() auth.Principal {
	return auth.Principal{ActorID: a.ActorID, Role: auth.Role(a.Role)}
}

// Runner executes jobs of one task type.
type Runner struct {
	taskType string
	timeout  time.Duration
	errors   *apperrors.ErrorHandler
	obs      *observability.Observability
	logger   logger.Logger
}

func NewRunner(taskType string, timeout time.Duration, obs *observability.Observability, log logger.Logger) *Runner {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	log = log.WithFields(map[string]interface{}{"taskType": taskType})
	return &Runner{
		taskType: taskType,
		timeout:  timeout,
		errors:   apperrors.NewErrorHandler(log),
		obs:      obs,
		logger:   log,
	}
}

func (r *Runner) TaskType() string {
	return r.taskType
}

func (r *Runner) Logger() logger.Logger {
	return r.logger
}

// Decode unmarshals the job variables into a new I.
func Decode[I any](job entities.Job) (*I, error) {
	var input I
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		return nil, apperrors.NewValidationError(fmt.Sprintf("parse input: %v", err), nil)
	}
	return &input, nil
}

// Run decodes the job, runs exec under the runner's timeout and completes the
// job with its output. Failures are reported through the error handler.
func Run[I any, O any](r *Runner, client worker.JobClient, job entities.Job, exec func(context.Context, *I) (*O, error)) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(r.taskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(r.taskType).Dec()

	r.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	input, err := Decode[I](job)
	if err != nil {
		r.fail(client, job, err, start)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	output, err := exec(ctx, input)
	if err != nil {
		r.fail(client, job, err, start)
		return
	}
	r.complete(client, job, output, start)
}

func (r *Runner) complete(client worker.JobClient, job entities.Job, output interface{}, start time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		r.logger.Error("failed to create complete job command", map[string]interface{}{"error": err.Error()})
		r.fail(client, job, apperrors.NewInternalError(err), start)
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		r.logger.Error("failed to send complete job command", map[string]interface{}{
			"jobKey": job.Key,
			"error":  err.Error(),
		})
		return
	}

	duration := time.Since(start)
	metrics.WorkerJobsCompleted.WithLabelValues(r.taskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(r.taskType).Observe(duration.Seconds())
	r.obs.RecordJobProcessed(ctx, r.taskType, "completed")
	r.obs.RecordJobDuration(ctx, r.taskType, duration, "completed")

	r.logger.Info("job completed successfully", map[string]interface{}{
		"jobKey":     job.Key,
		"durationMs": duration.Milliseconds(),
	})
}

func (r *Runner) fail(client worker.JobClient, job entities.Job, err error, start time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	code := string(apperrors.Normalize(err).Code)
	duration := time.Since(start)
	metrics.WorkerJobsFailed.WithLabelValues(r.taskType, code).Inc()
	metrics.WorkerJobDuration.WithLabelValues(r.taskType).Observe(duration.Seconds())
	r.obs.RecordJobProcessed(ctx, r.taskType, "failed")
	r.obs.RecordJobDuration(ctx, r.taskType, duration, "failed")

	r.errors.HandleJobError(ctx, client, job, err)
}
