package app

import (
	"funding-workflow/internal/common/camunda"
	"funding-workflow/internal/common/config"

	decidemilestone "funding-workflow/internal/workers/escrow/decide-milestone"
	getledger "funding-workflow/internal/workers/escrow/get-ledger"
	submitevidence "funding-workflow/internal/workers/escrow/submit-evidence"
	respondoffer "funding-workflow/internal/workers/negotiation/respond-offer"
	submitoffer "funding-workflow/internal/workers/negotiation/submit-offer"
	completestep "funding-workflow/internal/workers/verification/complete-step"
	goback "funding-workflow/internal/workers/verification/go-back"
	recordscoringresult "funding-workflow/internal/workers/verification/record-scoring-result"
	restartsession "funding-workflow/internal/workers/verification/restart-session"
	startsession "funding-workflow/internal/workers/verification/start-session"
	submitsession "funding-workflow/internal/workers/verification/submit-session"

	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

// Registration binds a task type to its handler and polling settings.
type Registration struct {
	TaskType string
	Settings camunda.WorkerSettings
	Handler  worker.JobHandler
}

// Registrations builds a handler for every enabled task type.
func (a *App) Registrations() []Registration {
	var regs []Registration
	add := func(taskType string, build func(wc config.WorkerConfig) worker.JobHandler) {
		if !config.IsWorkerEnabled(a.cfg, taskType) {
			a.logger.Info("worker disabled", map[string]interface{}{"taskType": taskType})
			return
		}
		wc := config.GetWorkerConfig(a.cfg, taskType)
		regs = append(regs, Registration{
			TaskType: taskType,
			Settings: camunda.WorkerSettings{
				MaxJobsActive: wc.MaxJobsActive,
				Timeout:       config.GetDuration(wc.Timeout),
			},
			Handler: build(wc),
		})
	}
	add(startsession.TaskType, func(wc config.WorkerConfig) worker.JobHandler {
		return startsession.NewHandler(&startsession.Config{Timeout: config.GetDuration(wc.Timeout)}, a.Verification, a.obs, a.logger).Handle
	})
	add(completestep.TaskType, func(wc config.WorkerConfig) worker.JobHandler {
		return completestep.NewHandler(&completestep.Config{Timeout: config.GetDuration(wc.Timeout)}, a.Verification, a.obs, a.logger).Handle
	})
	add(goback.TaskType, func(wc config.WorkerConfig) worker.JobHandler {
		return goback.NewHandler(&goback.Config{Timeout: config.GetDuration(wc.Timeout)}, a.Verification, a.obs, a.logger).Handle
	})
	add(submitsession.TaskType, func(wc config.WorkerConfig) worker.JobHandler {
		return submitsession.NewHandler(&submitsession.Config{Timeout: config.GetDuration(wc.Timeout)}, a.Verification, a.obs, a.logger).Handle
	})
	add(restartsession.TaskType, func(wc config.WorkerConfig) worker.JobHandler {
		return restartsession.NewHandler(&restartsession.Config{Timeout: config.GetDuration(wc.Timeout)}, a.Verification, a.obs, a.logger).Handle
	})
	add(recordscoringresult.TaskType, func(wc config.WorkerConfig) worker.JobHandler {
		return recordscoringresult.NewHandler(&recordscoringresult.Config{Timeout: config.GetDuration(wc.Timeout)}, a.Verification, a.obs, a.logger).Handle
	})
	add(submitevidence.TaskType, func(wc config.WorkerConfig) worker.JobHandler {
		return submitevidence.NewHandler(&submitevidence.Config{Timeout: config.GetDuration(wc.Timeout)}, a.Escrow, a.obs, a.logger).Handle
	})
	add(decidemilestone.TaskType, func(wc config.WorkerConfig) worker.JobHandler {
		return decidemilestone.NewHandler(&decidemilestone.Config{Timeout: config.GetDuration(wc.Timeout)}, a.Escrow, a.obs, a.logger).Handle
	})
	add(getledger.TaskType, func(wc config.WorkerConfig) worker.JobHandler {
		return getledger.NewHandler(&getledger.Config{Timeout: config.GetDuration(wc.Timeout)}, a.Escrow, a.obs, a.logger).Handle
	})
	add(submitoffer.TaskType, func(wc config.WorkerConfig) worker.JobHandler {
		return submitoffer.NewHandler(&submitoffer.Config{Timeout: config.GetDuration(wc.Timeout)}, a.Negotiation, a.obs, a.logger).Handle
	})
	add(respondoffer.TaskType, func(wc config.WorkerConfig) worker.JobHandler {
		return respondoffer.NewHandler(&respondoffer.Config{Timeout: config.GetDuration(wc.Timeout)}, a.Negotiation, a.obs, a.logger).Handle
	})

	return regs
}

// Start opens a job worker for every registration.
func (a *App) Start(workers *camunda.Workers) int {
	regs := a.Registrations()
	for _, r := range regs {
		workers.Start(r.TaskType, r.Settings, r.Handler)
	}
	return len(regs)
}
