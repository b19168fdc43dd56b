// Package app assembles the workflow services and their job handlers from
// configuration.
package app

import (
	"fmt"

	"funding-workflow/internal/audit"
	"funding-workflow/internal/common/config"
	"funding-workflow/internal/common/logger"
	"funding-workflow/internal/common/observability"
	"funding-workflow/internal/escrow"
	"funding-workflow/internal/evidence"
	"funding-workflow/internal/models"
	"funding-workflow/internal/negotiation"
	"funding-workflow/internal/notify"
	"funding-workflow/internal/scoring"
	"funding-workflow/internal/store"
	"funding-workflow/internal/trust"
	"funding-workflow/internal/verification"
)

// Options carries the infrastructure chosen by the caller. Nil fields fall
// back to in-process implementations.
type Options struct {
	KV            store.KV
	Gateway       scoring.Gateway
	Audit         audit.Sink
	Publisher     notify.Publisher
	Messages      MessagePublisher
	Observability *observability.Observability
}

type App struct {
	Trust        *trust.Service
	Evidence     *evidence.Store
	Verification *verification.Service
	Escrow       *escrow.Service
	Negotiation  *negotiation.Service
	Dispatcher   *scoring.Dispatcher

	cfg    *config.Config
	obs    *observability.Observability
	logger logger.Logger
}

func New(cfg *config.Config, opts Options, log logger.Logger) (*App, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("app: scoring gateway is required")
	}
	kv := opts.KV
	if kv == nil {
		kv = store.NewMemoryKV()
	}
	sink := opts.Audit
	if sink == nil {
		sink = audit.NopSink{}
	}
	publisher := opts.Publisher
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	retries := cfg.Store.MaxCASRetries

	catalog, err := verification.LoadCatalog(cfg.Verification.SchemaRegistryPath)
	if err != nil {
		return nil, err
	}

	a := &App{
		Trust:      trust.NewService(kv, retries, log),
		Evidence:   evidence.NewStore(kv, retries, log),
		Dispatcher: scoring.NewDispatcher(opts.Gateway, config.GetDuration(cfg.Verification.ScoringTimeout), log),
		cfg:        cfg,
		obs:        opts.Observability,
		logger:     log,
	}

	var notifier verification.ScoredNotifier
	if cfg.Verification.PublishScoredEvent {
		notifier = NewScoredNotifier(opts.Messages, publisher, log)
	}

	a.Verification, err = verification.NewService(verification.Dependencies{
		KV:             kv,
		Trust:          a.Trust,
		Evidence:       a.Evidence,
		Catalog:        catalog,
		Dispatcher:     a.Dispatcher,
		Notifier:       notifier,
		Audit:          sink,
		Observability:  opts.Observability,
		MaxRetries:     retries,
		ScoringTimeout: config.GetDuration(cfg.Verification.ScoringTimeout),
	}, log)
	if err != nil {
		return nil, err
	}
	a.Dispatcher.OnComplete(a.Verification.HandleOutcome)

	a.Escrow, err = escrow.NewService(escrow.Dependencies{
		KV:            kv,
		Evidence:      a.Evidence,
		Publisher:     publisher,
		Audit:         sink,
		Observability: opts.Observability,
	}, escrow.Config{
		UnlockPolicy:     models.UnlockPolicy(cfg.Escrow.UnlockPolicy),
		MaxResubmissions: cfg.Escrow.MaxResubmissions,
		MaxRetries:       retries,
	}, log)
	if err != nil {
		return nil, err
	}

	a.Negotiation, err = negotiation.NewService(negotiation.Dependencies{
		KV:            kv,
		Trust:         a.Trust,
		Escrow:        a.Escrow,
		Publisher:     publisher,
		Audit:         sink,
		Observability: opts.Observability,
		MaxRetries:    retries,
	}, log)
	if err != nil {
		return nil, err
	}

	return a, nil
}
