// Package verification drives an SME through the onboarding steps, hands the
// completed submission to scoring and records the terminal outcome.
package verification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"funding-workflow/internal/audit"
	"funding-workflow/internal/common/auth"
	apperrors "funding-workflow/internal/common/errors"
	"funding-workflow/internal/common/logger"
	"funding-workflow/internal/common/metrics"
	"funding-workflow/internal/common/observability"
	"funding-workflow/internal/evidence"
	"funding-workflow/internal/models"
	"funding-workflow/internal/scoring"
	"funding-workflow/internal/store"
	"funding-workflow/internal/trust"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	sessionPrefix = "verification/session"
	indexPrefix   = "verification/sme"
	auditEntity   = "verification_session"
)

// Dispatcher hands a submission to the scoring gateway without waiting.
type Dispatcher interface {
	Dispatch(req scoring.Request) error
}

// ScoredNotifier is told about every applied scoring outcome.
type ScoredNotifier interface {
	NotifyScored(ctx context.Context, session *models.VerificationSession, record *models.SMETrustRecord) error
}

type Dependencies struct {
	KV             store.KV
	Trust          *trust.Service
	Evidence       *evidence.Store
	Catalog        *Catalog
	Dispatcher     Dispatcher
	Notifier       ScoredNotifier
	Audit          audit.Sink
	Observability  *observability.Observability
	MaxRetries     int
	// ScoringTimeout bounds how long a submission may wait for its outcome.
	// Zero leaves submissions without a persisted deadline.
	ScoringTimeout time.Duration
}

type Service struct {
	sessions   *store.Repository[models.VerificationSession, *models.VerificationSession]
	index      *store.Repository[models.SessionIndex, *models.SessionIndex]
	trust      *trust.Service
	evidence   *evidence.Store
	catalog    *Catalog
	graph      *Graph
	dispatcher Dispatcher
	notifier   ScoredNotifier
	audit      audit.Sink
	obs        *observability.Observability
	logger     logger.Logger
	now        func() time.Time

	scoringTimeout time.Duration
}

func NewService(deps Dependencies, log logger.Logger) (*Service, error) {
	if deps.KV == nil || deps.Trust == nil || deps.Evidence == nil || deps.Dispatcher == nil {
		return nil, errors.New("verification: kv, trust, evidence and dispatcher are required")
	}
	catalog := deps.Catalog
	if catalog == nil {
		var err error
		if catalog, err = NewCatalog(DefaultSteps()); err != nil {
			return nil, err
		}
	}
	sink := deps.Audit
	if sink == nil {
		sink = audit.NopSink{}
	}

	return &Service{
		sessions:   store.NewRepository[models.VerificationSession](deps.KV, sessionPrefix, "verification_session", deps.MaxRetries),
		index:      store.NewRepository[models.SessionIndex](deps.KV, indexPrefix, "session_index", deps.MaxRetries),
		trust:      deps.Trust,
		evidence:   deps.Evidence,
		catalog:    catalog,
		graph:      DefaultGraph(),
		dispatcher: deps.Dispatcher,
		notifier:   deps.Notifier,
		audit:      sink,
		obs:        deps.Observability,
		logger:     log.WithFields(map[string]interface{}{"component": "verification"}),
		now:        time.Now,

		scoringTimeout: deps.ScoringTimeout,
	}, nil
}

// Graph exposes the step graph the service advances sessions along.
func (s *Service) Graph() *Graph {
	return s.graph
}

// Start opens a new session for smeID. At most one session per SME is open.
func (s *Service) Start(ctx context.Context, p auth.Principal, smeID string) (*models.VerificationSession, error) {
	var session *models.VerificationSession
	err := s.obs.Track(ctx, "verification.start", func(ctx context.Context) error {
		if err := auth.RequireActor(p, auth.RoleSME, smeID, "start verification"); err != nil {
			return err
		}

		record, err := s.trust.EnsureCreated(ctx, smeID)
		if err != nil {
			return err
		}
		if record, err = s.settleTrust(ctx, record); err != nil {
			return err
		}
		if record.State == models.TrustVerified || record.State == models.TrustPending {
			return apperrors.NewInvalidStateError("trust_record", smeID, string(record.State), "start")
		}

		session, err = s.open(ctx, smeID)
		return err
	}, attribute.String("smeId", smeID))
	if err != nil {
		return nil, err
	}

	s.record(ctx, p, session, "started", nil)
	s.logger.Info("Verification session started", map[string]interface{}{"sessionId": session.SessionID, "smeId": smeID})
	return session, nil
}

// open writes the session record first and then claims the SME index, so the
// index never points at a session that does not exist yet.
func (s *Service) open(ctx context.Context, smeID string) (*models.VerificationSession, error) {
	if idx, err := s.index.Get(ctx, smeID); err == nil && idx.OpenSessionID != "" {
		if open, err := s.sessions.Get(ctx, idx.OpenSessionID); err == nil && open.IsOpen() {
			if open, err = s.expire(ctx, open); err != nil {
				return nil, err
			}
			if open.IsOpen() {
				return nil, apperrors.NewAlreadyInProgressError(smeID, open.SessionID)
			}
		}
	}

	now := s.now().UTC()
	session := &models.VerificationSession{
		SessionID:      uuid.NewString(),
		SMEID:          smeID,
		CurrentStep:    s.graph.First(),
		CollectedSteps: map[models.StepKind]models.StepResult{},
		Status:         models.SessionInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.sessions.Create(ctx, session.SessionID, session); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			return nil, apperrors.NewInternalError(fmt.Errorf("session id %s collided", session.SessionID))
		}
		return nil, err
	}

	if err := s.claimIndex(ctx, smeID, session.SessionID); err != nil {
		s.discard(ctx, session.SessionID)
		return nil, err
	}
	return session, nil
}

func (s *Service) claimIndex(ctx context.Context, smeID, sessionID string) error {
	for {
		_, err := s.index.Update(ctx, smeID, func(idx *models.SessionIndex) error {
			if idx.OpenSessionID != "" && idx.OpenSessionID != sessionID {
				open, err := s.sessions.Get(ctx, idx.OpenSessionID)
				switch {
				case err == nil && open.IsOpen():
					return apperrors.NewAlreadyInProgressError(smeID, open.SessionID)
				case err != nil && !apperrors.IsCode(err, apperrors.ErrCodeNotFound):
					return err
				}
			}
			idx.OpenSessionID = sessionID
			idx.LastSessionID = sessionID
			return nil
		})
		if err == nil {
			return nil
		}
		if !apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
			return err
		}

		err = s.index.Create(ctx, smeID, &models.SessionIndex{SMEID: smeID, OpenSessionID: sessionID, LastSessionID: sessionID})
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
	}
}

// discard abandons a session that lost the index race.
func (s *Service) discard(ctx context.Context, sessionID string) {
	_, err := s.sessions.Update(ctx, sessionID, func(sess *models.VerificationSession) error {
		sess.Status = models.SessionAbandoned
		sess.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		s.logger.Warn("Failed to abandon orphan session", map[string]interface{}{"sessionId": sessionID, "error": err.Error()})
	}
}

func (s *Service) releaseIndex(ctx context.Context, smeID, sessionID string) {
	_, err := s.index.Update(ctx, smeID, func(idx *models.SessionIndex) error {
		if idx.OpenSessionID != sessionID {
			return store.ErrSkipWrite
		}
		idx.OpenSessionID = ""
		return nil
	})
	if err != nil && !apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
		// Start self-heals an index that points at a closed session.
		s.logger.Warn("Failed to release session index", map[string]interface{}{"smeId": smeID, "sessionId": sessionID, "error": err.Error()})
	}
}

// Get returns the session to its SME.
func (s *Service) Get(ctx context.Context, p auth.Principal, sessionID string) (*models.VerificationSession, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireActor(p, auth.RoleSME, session.SMEID, "get verification session"); err != nil {
		return nil, err
	}
	return s.expire(ctx, session)
}

// CompleteStep validates and stores the result of the current step and
// advances the session along the step graph.
func (s *Service) CompleteStep(ctx context.Context, p auth.Principal, sessionID string, step models.StepKind, payload map[string]interface{}, refs []models.EvidenceRef) (*models.VerificationSession, error) {
	var session *models.VerificationSession
	err := s.obs.Track(ctx, "verification.complete_step", func(ctx context.Context) error {
		current, err := s.Get(ctx, p, sessionID)
		if err != nil {
			return err
		}
		if err := s.checkStep(current, step); err != nil {
			return err
		}
		if err := s.catalog.Validate(step, payload, refs); err != nil {
			return err
		}

		var classified models.BusinessType
		if step == s.graph.BranchPoint() {
			classified = classify(payload)
			if current.BusinessType != models.BusinessTypeUnclassified && current.BusinessType != classified {
				return apperrors.NewBranchLockedError(sessionID,
					fmt.Sprintf("business type is %s; restart the session to change it", current.BusinessType))
			}
		}

		if err := s.evidence.Check(ctx, models.OwnerSession, sessionID, refs); err != nil {
			return err
		}

		session, err = s.sessions.Update(ctx, sessionID, func(sess *models.VerificationSession) error {
			if err := s.checkStep(sess, step); err != nil {
				return err
			}
			if step == s.graph.BranchPoint() {
				if sess.BusinessType != models.BusinessTypeUnclassified && sess.BusinessType != classified {
					return apperrors.NewBranchLockedError(sessionID, "business type changed concurrently")
				}
				sess.BusinessType = classified
			}

			next, err := s.graph.Next(step, sess.BusinessType)
			if err != nil {
				return apperrors.NewInternalError(err)
			}

			now := s.now().UTC()
			if sess.CollectedSteps == nil {
				sess.CollectedSteps = map[models.StepKind]models.StepResult{}
			}
			sess.CollectedSteps[step] = models.StepResult{
				Kind:        step,
				Payload:     payload,
				Evidence:    refs,
				CompletedAt: now,
			}
			sess.CurrentStep = next
			sess.UpdatedAt = now
			return s.checkInvariants(sess)
		})
		if err != nil {
			return err
		}

		// Step results hold the refs; indexing after the commit is best effort.
		if _, err := s.evidence.Append(ctx, models.OwnerSession, sessionID, refs, p.ActorID); err != nil {
			s.logger.Error("Failed to index step evidence", map[string]interface{}{"sessionId": sessionID, "step": step, "error": err.Error()})
		}
		return nil
	}, attribute.String("sessionId", sessionID), attribute.String("step", string(step)))

	if err != nil {
		metrics.VerificationSteps.WithLabelValues(string(step), string(apperrors.CodeOf(err))).Inc()
		return nil, err
	}

	metrics.VerificationSteps.WithLabelValues(string(step), "completed").Inc()
	s.record(ctx, p, session, "step_completed", map[string]interface{}{"step": step, "nextStep": session.CurrentStep})
	s.logger.Info("Verification step completed", map[string]interface{}{
		"sessionId": sessionID,
		"step":      step,
		"nextStep":  session.CurrentStep,
	})
	return session, nil
}

func (s *Service) checkStep(sess *models.VerificationSession, step models.StepKind) error {
	if sess.Status != models.SessionInProgress {
		return apperrors.NewInvalidStateError(auditEntity, sess.SessionID, string(sess.Status), "complete step")
	}
	if sess.CurrentStep != step {
		return apperrors.NewStaleStepError(sess.SessionID, string(sess.CurrentStep), string(step))
	}
	if step == s.graph.Final() {
		err := apperrors.NewInvalidStateError(auditEntity, sess.SessionID, string(step), "complete step")
		err.Details = fmt.Sprintf("sessionId: %s; all steps are collected, call submit instead", sess.SessionID)
		return err
	}
	return nil
}

// checkInvariants rejects a session whose collected steps leave its branch.
func (s *Service) checkInvariants(sess *models.VerificationSession) error {
	for step := range sess.CollectedSteps {
		if !s.graph.Requires(step, sess.BusinessType) {
			return apperrors.NewInvariantViolationError(auditEntity,
				fmt.Sprintf("session %s holds step %s outside the %q path", sess.SessionID, step, sess.BusinessType))
		}
	}
	return nil
}

func classify(payload map[string]interface{}) models.BusinessType {
	if isSaaS, _ := payload["isSaaS"].(bool); isSaaS {
		return models.BusinessTypeSaaS
	}
	return models.BusinessTypeStandard
}

// GoBack moves to the previous step on the session's path. Collected results
// are kept. Once classified, the session cannot move back past the branch point.
func (s *Service) GoBack(ctx context.Context, p auth.Principal, sessionID string) (*models.VerificationSession, error) {
	var session *models.VerificationSession
	err := s.obs.Track(ctx, "verification.go_back", func(ctx context.Context) error {
		if _, err := s.Get(ctx, p, sessionID); err != nil {
			return err
		}

		var err error
		session, err = s.sessions.Update(ctx, sessionID, func(sess *models.VerificationSession) error {
			if sess.Status != models.SessionInProgress {
				return apperrors.NewInvalidStateError(auditEntity, sessionID, string(sess.Status), "go back")
			}
			if sess.CurrentStep == s.graph.BranchPoint() && sess.BusinessType != models.BusinessTypeUnclassified {
				return apperrors.NewBranchLockedError(sessionID, "cannot move back past the business type step; restart the session instead")
			}
			prev, ok := s.graph.Previous(sess.CurrentStep, sess.BusinessType)
			if !ok {
				return apperrors.NewNoPreviousStepError(sessionID)
			}
			sess.CurrentStep = prev
			sess.UpdatedAt = s.now().UTC()
			return nil
		})
		return err
	}, attribute.String("sessionId", sessionID))
	if err != nil {
		return nil, err
	}

	s.record(ctx, p, session, "went_back", map[string]interface{}{"step": session.CurrentStep})
	return session, nil
}

// Submit freezes a complete session, marks the trust record pending and hands
// the bundle to scoring. The returned submission ID correlates the outcome.
func (s *Service) Submit(ctx context.Context, p auth.Principal, sessionID string) (*models.VerificationSession, error) {
	var session *models.VerificationSession
	err := s.obs.Track(ctx, "verification.submit", func(ctx context.Context) error {
		if _, err := s.Get(ctx, p, sessionID); err != nil {
			return err
		}

		submissionID := uuid.NewString()
		frozen, err := s.sessions.Update(ctx, sessionID, func(sess *models.VerificationSession) error {
			if sess.Status != models.SessionInProgress {
				return apperrors.NewInvalidStateError(auditEntity, sessionID, string(sess.Status), "submit")
			}
			if missing := s.graph.Missing(sess.BusinessType, sess.CollectedSteps); len(missing) > 0 {
				return apperrors.NewIncompleteSessionError(sessionID, missing)
			}
			if err := s.checkInvariants(sess); err != nil {
				return err
			}
			now := s.now().UTC()
			sess.Status = models.SessionSubmitted
			sess.SubmissionID = submissionID
			sess.CurrentStep = s.graph.Final()
			sess.UpdatedAt = now
			if s.scoringTimeout > 0 {
				deadline := now.Add(s.scoringTimeout)
				sess.ScoringDeadline = &deadline
			}
			return nil
		})
		if err != nil {
			return err
		}

		if err := s.markPending(ctx, frozen); err != nil {
			s.reopen(ctx, sessionID, submissionID)
			return err
		}

		session, err = s.sessions.Update(ctx, sessionID, func(sess *models.VerificationSession) error {
			if sess.SubmissionID != submissionID || sess.Status != models.SessionSubmitted {
				return store.ErrSkipWrite
			}
			sess.Status = models.SessionScoring
			sess.UpdatedAt = s.now().UTC()
			return nil
		})
		if err != nil {
			return err
		}

		req := s.buildRequest(session)
		if err := s.dispatcher.Dispatch(req); err != nil {
			s.logger.Error("Scoring dispatch failed", map[string]interface{}{"sessionId": sessionID, "submissionId": submissionID, "error": err.Error()})
			_, _, rerr := s.ResolveScoring(ctx, scoring.Outcome{Request: req, Err: apperrors.NewScoringUnavailableError(err)})
			if rerr != nil {
				return rerr
			}
			session, err = s.sessions.Get(ctx, sessionID)
			return err
		}
		return nil
	}, attribute.String("sessionId", sessionID))
	if err != nil {
		return nil, err
	}

	s.record(ctx, p, session, "submitted", map[string]interface{}{"submissionId": session.SubmissionID})
	s.logger.Info("Verification session submitted", map[string]interface{}{
		"sessionId":    sessionID,
		"submissionId": session.SubmissionID,
		"businessType": session.BusinessType,
	})
	return session, nil
}

// reopen undoes the freeze when the trust record refused the submission.
func (s *Service) reopen(ctx context.Context, sessionID, submissionID string) {
	_, err := s.sessions.Update(ctx, sessionID, func(sess *models.VerificationSession) error {
		if sess.SubmissionID != submissionID || sess.Status != models.SessionSubmitted {
			return store.ErrSkipWrite
		}
		sess.Status = models.SessionInProgress
		sess.SubmissionID = ""
		sess.ScoringDeadline = nil
		sess.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to reopen session", map[string]interface{}{"sessionId": sessionID, "error": err.Error()})
	}
}

// markPending moves the trust record to pending for sess. A record still held
// by an overdue submission is expired first.
func (s *Service) markPending(ctx context.Context, sess *models.VerificationSession) error {
	_, err := s.trust.MarkPending(ctx, sess.SMEID, sess.SessionID, sess.SubmissionID)
	if !apperrors.IsCode(err, apperrors.ErrCodeScoringInFlight) {
		return err
	}

	record, gerr := s.trust.Get(ctx, sess.SMEID)
	if gerr == nil {
		record, gerr = s.settleTrust(ctx, record)
	}
	if gerr != nil || record.State == models.TrustPending {
		return err
	}
	_, err = s.trust.MarkPending(ctx, sess.SMEID, sess.SessionID, sess.SubmissionID)
	return err
}

func (s *Service) buildRequest(sess *models.VerificationSession) scoring.Request {
	req := scoring.Request{
		SubmissionID: sess.SubmissionID,
		SessionID:    sess.SessionID,
		SMEID:        sess.SMEID,
		BusinessType: sess.BusinessType,
		BusinessInfo: sess.CollectedSteps[models.StepBusinessInfo].Payload,
		CAC:          sess.CollectedSteps[models.StepCAC].Payload,
	}

	for _, step := range s.graph.Sequence(sess.BusinessType) {
		for _, ref := range sess.CollectedSteps[step].Evidence {
			ref := ref
			req.Evidence = append(req.Evidence, ref)
			switch {
			case step == models.StepVideoRecording && ref.Kind == models.EvidenceVideo:
				req.Video = &ref
			case step == models.StepBankConnection && ref.Kind == models.EvidenceBankLink:
				req.BankLink = &ref
			}
		}
	}
	return req
}

// ResolveScoring applies a terminal scoring outcome to the trust record and
// completes the session. Outcomes for unknown or superseded submissions, and
// repeated outcomes, are ignored. The bool reports whether this call applied it.
func (s *Service) ResolveScoring(ctx context.Context, outcome scoring.Outcome) (*models.VerificationSession, bool, error) {
	req := outcome.Request
	var (
		session *models.VerificationSession
		applied bool
	)

	err := s.obs.Track(ctx, "verification.resolve_scoring", func(ctx context.Context) error {
		current, err := s.sessions.Get(ctx, req.SessionID)
		if err != nil {
			return err
		}
		session = current
		if current.SubmissionID == "" || current.SubmissionID != req.SubmissionID {
			s.logger.Warn("Ignoring outcome for unknown submission", map[string]interface{}{
				"sessionId":    req.SessionID,
				"submissionId": req.SubmissionID,
			})
			return nil
		}

		record, changed, err := s.trust.Resolve(ctx, current.SMEID, toTrustOutcome(outcome))
		if err != nil {
			return err
		}

		session, err = s.sessions.Update(ctx, req.SessionID, func(sess *models.VerificationSession) error {
			if sess.Status == models.SessionCompleted || sess.SubmissionID != req.SubmissionID {
				return store.ErrSkipWrite
			}
			now := s.now().UTC()
			sess.Status = models.SessionCompleted
			sess.CompletedAt = &now
			sess.UpdatedAt = now
			return nil
		})
		if err != nil {
			return err
		}
		s.releaseIndex(ctx, current.SMEID, req.SessionID)

		applied = changed
		if changed && s.notifier != nil {
			if err := s.notifier.NotifyScored(ctx, session, record); err != nil {
				s.logger.Warn("Failed to publish scoring result", map[string]interface{}{"sessionId": req.SessionID, "error": err.Error()})
			}
		}
		if changed {
			s.audit.Record(ctx, audit.NewEvent(auditEntity, req.SessionID, "scored", "", "", map[string]interface{}{
				"submissionId":  req.SubmissionID,
				"trustState":    record.State,
				"failureReason": record.FailureReason,
			}))
		}
		return nil
	}, attribute.String("sessionId", req.SessionID), attribute.String("submissionId", req.SubmissionID))
	if err != nil {
		return nil, false, err
	}
	return session, applied, nil
}

func toTrustOutcome(o scoring.Outcome) trust.Outcome {
	out := trust.Outcome{SessionID: o.Request.SessionID, SubmissionID: o.Request.SubmissionID}
	switch {
	case o.TimedOut():
		out.FailureReason = models.FailureScoringTimeout
	case o.Err != nil:
		out.FailureReason = models.FailureScoringUnavailable
	case o.Response == nil:
		out.FailureReason = models.FailureScoringUnavailable
	case o.Response.Rejected:
		out.FailureReason = o.Response.Reason
	case o.Response.PulseScore == nil || o.Response.ProfitScore == nil:
		out.FailureReason = models.FailureScoringUnavailable
	default:
		out.PulseScore = o.Response.PulseScore
		out.ProfitScore = o.Response.ProfitScore
	}
	return out
}

// HandleOutcome is the dispatcher completion callback.
func (s *Service) HandleOutcome(ctx context.Context, outcome scoring.Outcome) {
	if _, _, err := s.ResolveScoring(ctx, outcome); err != nil {
		s.logger.Error("Failed to record scoring outcome", map[string]interface{}{
			"sessionId":    outcome.Request.SessionID,
			"submissionId": outcome.Request.SubmissionID,
			"error":        err.Error(),
		})
	}
}

func (s *Service) overdue(sess *models.VerificationSession) bool {
	if sess.ScoringDeadline == nil {
		return false
	}
	switch sess.Status {
	case models.SessionSubmitted, models.SessionScoring:
		return s.now().After(*sess.ScoringDeadline)
	default:
		return false
	}
}

// expire resolves sess as timed out once its scoring deadline has passed.
// Sessions that are not overdue are returned as they are.
func (s *Service) expire(ctx context.Context, sess *models.VerificationSession) (*models.VerificationSession, error) {
	if !s.overdue(sess) {
		return sess, nil
	}

	s.logger.Warn("Scoring deadline passed", map[string]interface{}{
		"sessionId":    sess.SessionID,
		"submissionId": sess.SubmissionID,
		"deadline":     sess.ScoringDeadline.Format(time.RFC3339),
	})
	resolved, _, err := s.ResolveScoring(ctx, scoring.Outcome{
		Request: scoring.Request{
			SubmissionID: sess.SubmissionID,
			SessionID:    sess.SessionID,
			SMEID:        sess.SMEID,
			BusinessType: sess.BusinessType,
		},
		Err: apperrors.NewScoringTimeoutError(sess.SubmissionID, s.scoringTimeout),
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// settleTrust expires the submission a pending trust record waits on when it
// is overdue, and returns the current record.
func (s *Service) settleTrust(ctx context.Context, record *models.SMETrustRecord) (*models.SMETrustRecord, error) {
	if record.State != models.TrustPending || record.LastSessionID == "" {
		return record, nil
	}
	sess, err := s.sessions.Get(ctx, record.LastSessionID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
			return record, nil
		}
		return nil, err
	}
	if !s.overdue(sess) {
		return record, nil
	}
	if _, err := s.expire(ctx, sess); err != nil {
		return nil, err
	}
	return s.trust.Get(ctx, record.SMEID)
}

// ExpireOverdue resolves every stored submission whose scoring deadline has
// passed and returns how many it resolved. Failures on single sessions are
// logged and joined into the returned error.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	ids, err := s.sessions.IDs(ctx)
	if err != nil {
		return 0, err
	}

	var (
		expired int
		errs    []error
	)
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return expired, err
		}
		sess, err := s.sessions.Get(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !s.overdue(sess) {
			continue
		}
		if _, err := s.expire(ctx, sess); err != nil {
			s.logger.Error("Failed to expire scoring submission", map[string]interface{}{"sessionId": id, "error": err.Error()})
			errs = append(errs, err)
			continue
		}
		expired++
	}

	if expired > 0 {
		s.logger.Info("Expired overdue scoring submissions", map[string]interface{}{"count": expired})
	}
	return expired, errors.Join(errs...)
}

// Restart abandons an in-progress session and opens a fresh one for the same
// SME. This is the only way to change the business type.
func (s *Service) Restart(ctx context.Context, p auth.Principal, sessionID string) (*models.VerificationSession, error) {
	old, err := s.Get(ctx, p, sessionID)
	if err != nil {
		return nil, err
	}

	_, err = s.sessions.Update(ctx, sessionID, func(sess *models.VerificationSession) error {
		if sess.Status != models.SessionInProgress {
			return apperrors.NewInvalidStateError(auditEntity, sessionID, string(sess.Status), "restart")
		}
		sess.Status = models.SessionAbandoned
		sess.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.releaseIndex(ctx, old.SMEID, sessionID)
	s.record(ctx, p, old, "abandoned", nil)

	return s.Start(ctx, p, old.SMEID)
}

func (s *Service) record(ctx context.Context, p auth.Principal, sess *models.VerificationSession, action string, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["status"] = sess.Status
	data["smeId"] = sess.SMEID
	s.audit.Record(ctx, audit.NewEvent(auditEntity, sess.SessionID, action, p.ActorID, string(p.Role), data))
}
