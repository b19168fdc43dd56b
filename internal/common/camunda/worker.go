// internal/common/camunda/worker.go
package camunda

import (
	"sort"
	"sync"
	"time"

	"funding-workflow/internal/common/logger"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// WorkerSettings are the per task type polling limits.
type WorkerSettings struct {
	MaxJobsActive int
	Timeout       time.Duration
}

// Workers tracks the job workers opened against one Zeebe client.
type Workers struct {
	client zbc.Client
	logger logger.Logger

	mu      sync.Mutex
	workers map[string]worker.JobWorker
}

func NewWorkers(client zbc.Client, log logger.Logger) *Workers {
	return &Workers{client: client, logger: log, workers: make(map[string]worker.JobWorker)}
}

// Start opens a job worker for taskType. A second call for the same task type
// is ignored.
func (w *Workers) Start(taskType string, settings WorkerSettings, handler worker.JobHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.workers[taskType]; ok {
		w.logger.Warn("worker already started", map[string]interface{}{"taskType": taskType})
		return
	}

	w.workers[taskType] = w.client.NewJobWorker().
		JobType(taskType).
		Handler(handler).
		MaxJobsActive(settings.MaxJobsActive).
		Timeout(settings.Timeout).
		Open()

	w.logger.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": settings.MaxJobsActive,
		"timeout_ms":    settings.Timeout.Milliseconds(),
	})
}

// TaskTypes lists the started task types in order.
func (w *Workers) TaskTypes() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	types := make([]string, 0, len(w.workers))
	for t := range w.workers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Close stops every worker and waits for in-flight jobs.
func (w *Workers) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for taskType, jw := range w.workers {
		w.logger.Info("stopping worker", map[string]interface{}{"taskType": taskType})
		jw.Close()
		jw.AwaitClose()
	}
	w.workers = make(map[string]worker.JobWorker)
}
