// Package trust owns the persisted outcome of SME verification.
package trust

import (
	"context"
	"errors"
	"time"

	apperrors "funding-workflow/internal/common/errors"
	"funding-workflow/internal/common/logger"
	"funding-workflow/internal/common/metrics"
	"funding-workflow/internal/models"
	"funding-workflow/internal/store"
)

const keyPrefix = "trust"

// Outcome is a terminal scoring result for one submission.
type Outcome struct {
	SessionID     string
	SubmissionID  string
	PulseScore    *float64
	ProfitScore   *float64
	FailureReason string
}

func (o Outcome) Verified() bool {
	return o.FailureReason == "" && o.PulseScore != nil && o.ProfitScore != nil
}

type Service struct {
	repo   *store.Repository[models.SMETrustRecord, *models.SMETrustRecord]
	logger logger.Logger
	now    func() time.Time
}

func NewService(kv store.KV, maxRetries int, log logger.Logger) *Service {
	return &Service{
		repo:   store.NewRepository[models.SMETrustRecord](kv, keyPrefix, "trust_record", maxRetries),
		logger: log.WithFields(map[string]interface{}{"component": "trust"}),
		now:    time.Now,
	}
}

func (s *Service) Get(ctx context.Context, smeID string) (*models.SMETrustRecord, error) {
	return s.repo.Get(ctx, smeID)
}

// EnsureCreated returns the SME's record, creating it unverified on first use.
func (s *Service) EnsureCreated(ctx context.Context, smeID string) (*models.SMETrustRecord, error) {
	for {
		rec, err := s.repo.Get(ctx, smeID)
		if err == nil {
			return rec, nil
		}
		if !apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
			return nil, err
		}

		rec = &models.SMETrustRecord{SMEID: smeID, State: models.TrustUnverified, UpdatedAt: s.now().UTC()}
		err = s.repo.Create(ctx, smeID, rec)
		if err == nil {
			s.logger.Info("Trust record created", map[string]interface{}{"smeId": smeID})
			return rec, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
	}
}

// MarkPending moves the record to pending for a new submission.
func (s *Service) MarkPending(ctx context.Context, smeID, sessionID, submissionID string) (*models.SMETrustRecord, error) {
	if _, err := s.EnsureCreated(ctx, smeID); err != nil {
		return nil, err
	}

	return s.update(ctx, smeID, func(r *models.SMETrustRecord) error {
		switch r.State {
		case models.TrustPending:
			if r.LastSubmissionID == submissionID {
				return store.ErrSkipWrite
			}
			return apperrors.NewScoringInFlightError(r.LastSessionID, r.LastSubmissionID)
		case models.TrustVerified:
			return apperrors.NewInvalidStateError("trust_record", smeID, string(r.State), "submit")
		}

		r.State = models.TrustPending
		r.PulseScore = nil
		r.ProfitScore = nil
		r.FailureReason = ""
		r.LastSessionID = sessionID
		r.LastSubmissionID = submissionID
		r.Attempts++
		return nil
	})
}

// Resolve applies a terminal scoring outcome. Outcomes for anything but the
// current pending submission are ignored and the record is returned unchanged.
func (s *Service) Resolve(ctx context.Context, smeID string, outcome Outcome) (*models.SMETrustRecord, bool, error) {
	applied := false
	rec, err := s.update(ctx, smeID, func(r *models.SMETrustRecord) error {
		applied = false
		if r.State != models.TrustPending || r.LastSubmissionID != outcome.SubmissionID {
			return store.ErrSkipWrite
		}

		if outcome.Verified() {
			r.State = models.TrustVerified
			r.PulseScore = outcome.PulseScore
			r.ProfitScore = outcome.ProfitScore
			r.FailureReason = ""
		} else {
			reason := outcome.FailureReason
			if reason == "" {
				reason = "ScoringRejected"
			}
			r.State = models.TrustFailed
			r.PulseScore = nil
			r.ProfitScore = nil
			r.FailureReason = reason
		}
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if applied {
		metrics.VerificationOutcomes.WithLabelValues(string(rec.State), rec.FailureReason).Inc()
		s.logger.Info("Trust record resolved", map[string]interface{}{
			"smeId":         smeID,
			"submissionId":  outcome.SubmissionID,
			"state":         rec.State,
			"failureReason": rec.FailureReason,
		})
	}
	return rec, applied, nil
}

// update validates the record invariants before every write.
func (s *Service) update(ctx context.Context, smeID string, mutate func(*models.SMETrustRecord) error) (*models.SMETrustRecord, error) {
	return s.repo.Update(ctx, smeID, func(r *models.SMETrustRecord) error {
		if err := mutate(r); err != nil {
			return err
		}
		r.UpdatedAt = s.now().UTC()
		if err := r.Validate(); err != nil {
			s.logger.Error("Trust record invariant violated", map[string]interface{}{"smeId": smeID, "error": err.Error()})
			return apperrors.NewInvariantViolationError("trust_record", err.Error())
		}
		return nil
	})
}
