// Package escrow holds accepted loans in a milestone ledger and releases each
// tranche exactly once after the lender approves its evidence.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"funding-workflow/internal/audit"
	"funding-workflow/internal/common/auth"
	apperrors "funding-workflow/internal/common/errors"
	"funding-workflow/internal/common/logger"
	"funding-workflow/internal/common/metrics"
	"funding-workflow/internal/common/observability"
	"funding-workflow/internal/common/validation"
	"funding-workflow/internal/evidence"
	"funding-workflow/internal/models"
	"funding-workflow/internal/notify"
	"funding-workflow/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	ledgerPrefix    = "escrow/ledger"
	milestonePrefix = "escrow/milestone"
	auditEntity     = "escrow_ledger"
)

// loanNamespace seeds the name-based UUIDs that make loan IDs a pure function
// of the accepted offer.
var loanNamespace = uuid.MustParse("5f0c7a52-9d0e-4e8b-8f58-2f3cf2b1d6a4")

// LoanIDFor returns the loan ID a ledger for offerID is stored under.
func LoanIDFor(offerID string) string {
	return uuid.NewSHA1(loanNamespace, []byte(offerID)).String()
}

func milestoneIDFor(loanID string, sequence int) string {
	return uuid.NewSHA1(uuid.MustParse(loanID), []byte(strconv.Itoa(sequence))).String()
}

type Config struct {
	UnlockPolicy     models.UnlockPolicy
	MaxResubmissions int // 0 = unlimited
	MaxRetries       int
}

type Dependencies struct {
	KV            store.KV
	Evidence      *evidence.Store
	Publisher     notify.Publisher
	Audit         audit.Sink
	Observability *observability.Observability
}

type Service struct {
	ledgers    *store.Repository[models.EscrowLedger, *models.EscrowLedger]
	milestones *store.Repository[models.MilestoneIndex, *models.MilestoneIndex]
	evidence   *evidence.Store
	publisher  notify.Publisher
	audit      audit.Sink
	obs        *observability.Observability
	cfg        Config
	logger     logger.Logger
	now        func() time.Time
}

func NewService(deps Dependencies, cfg Config, log logger.Logger) (*Service, error) {
	if deps.KV == nil || deps.Evidence == nil {
		return nil, errors.New("escrow: kv and evidence store are required")
	}
	switch cfg.UnlockPolicy {
	case "":
		cfg.UnlockPolicy = models.UnlockSequential
	case models.UnlockSequential, models.UnlockParallel:
	default:
		return nil, fmt.Errorf("escrow: unknown unlock policy %q", cfg.UnlockPolicy)
	}
	if cfg.MaxResubmissions < 0 {
		return nil, fmt.Errorf("escrow: max resubmissions must not be negative, got %d", cfg.MaxResubmissions)
	}

	publisher := deps.Publisher
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	sink := deps.Audit
	if sink == nil {
		sink = audit.NopSink{}
	}

	return &Service{
		ledgers:    store.NewRepository[models.EscrowLedger](deps.KV, ledgerPrefix, "escrow_ledger", cfg.MaxRetries),
		milestones: store.NewRepository[models.MilestoneIndex](deps.KV, milestonePrefix, "milestone_index", cfg.MaxRetries),
		evidence:   deps.Evidence,
		publisher:  publisher,
		audit:      sink,
		obs:        deps.Observability,
		cfg:        cfg,
		logger:     log.WithFields(map[string]interface{}{"component": "escrow"}),
		now:        time.Now,
	}, nil
}

// ValidatePlan checks every plan item and that the plan sums to amount.
func ValidatePlan(amount int64, plan []models.MilestonePlanItem) error {
	if len(plan) == 0 {
		return apperrors.NewValidationError("milestone plan is empty", []apperrors.FieldError{
			{Field: "plan", Message: "at least one milestone is required", Code: "required"},
		})
	}

	var fields []apperrors.FieldError
	var sum int64
	for i, item := range plan {
		if err := validation.FromRules("plan", item.Validate()); err != nil {
			if stdErr, ok := apperrors.AsStandardError(err); ok {
				for _, f := range stdErr.FieldErrors {
					f.Field = fmt.Sprintf("plan[%d].%s", i, f.Field)
					fields = append(fields, f)
				}
			}
			continue
		}
		sum += item.Amount
	}
	if len(fields) > 0 {
		return apperrors.NewValidationError("milestone plan is invalid", fields)
	}
	if sum != amount {
		return apperrors.NewAmountMismatchError(amount, sum)
	}
	return nil
}

// DefaultPlan is a single milestone for the full offer amount.
func DefaultPlan(offer *models.Offer) []models.MilestonePlanItem {
	return []models.MilestonePlanItem{{Title: "Full disbursement", Amount: offer.Amount, Requirements: []string{}}}
}

// CreateLedger opens the escrow ledger of an accepted offer. Creating the same
// offer's ledger again returns the existing one.
func (s *Service) CreateLedger(ctx context.Context, offer *models.Offer, plan []models.MilestonePlanItem) (*models.EscrowLedger, error) {
	if offer == nil {
		return nil, apperrors.NewValidationError("offer is required", nil)
	}

	var ledger *models.EscrowLedger
	created := false
	err := s.obs.Track(ctx, "escrow.create_ledger", func(ctx context.Context) error {
		if offer.Status != models.OfferAccepted {
			return apperrors.NewInvalidStateError("offer", offer.OfferID, string(offer.Status), "create ledger for")
		}
		if err := ValidatePlan(offer.Amount, plan); err != nil {
			return err
		}

		loanID := LoanIDFor(offer.OfferID)
		if existing, err := s.ledgers.Get(ctx, loanID); err == nil {
			ledger = existing
			return nil
		} else if !apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
			return err
		}

		ledger = s.build(loanID, offer, plan)
		if err := ledger.Validate(0); err != nil {
			return apperrors.NewInvariantViolationError(auditEntity, err.Error())
		}

		// Milestone IDs are deterministic, so index records written by an
		// earlier attempt are reused as they are.
		for _, m := range ledger.Milestones {
			idx := &models.MilestoneIndex{MilestoneID: m.MilestoneID, LoanID: loanID}
			if err := s.milestones.Create(ctx, m.MilestoneID, idx); err != nil && !errors.Is(err, store.ErrVersionConflict) {
				return err
			}
		}

		err := s.ledgers.Create(ctx, loanID, ledger)
		switch {
		case err == nil:
			created = true
			return nil
		case errors.Is(err, store.ErrVersionConflict):
			ledger, err = s.ledgers.Get(ctx, loanID)
			return err
		default:
			return err
		}
	}, attribute.String("offerId", offer.OfferID))
	if err != nil {
		return nil, err
	}

	if created {
		for _, m := range ledger.Milestones {
			metrics.MilestoneTransitions.WithLabelValues("none", string(m.Status)).Inc()
		}
		s.audit.Record(ctx, audit.NewEvent(auditEntity, ledger.LoanID, "ledger_created", offer.LenderID, string(auth.RoleLender), map[string]interface{}{
			"offerId":      offer.OfferID,
			"totalAmount":  ledger.TotalAmount,
			"milestones":   len(ledger.Milestones),
			"unlockPolicy": ledger.UnlockPolicy,
		}))
		s.logger.Info("Escrow ledger created", map[string]interface{}{
			"loanId":      ledger.LoanID,
			"offerId":     offer.OfferID,
			"totalAmount": ledger.TotalAmount,
			"milestones":  len(ledger.Milestones),
		})
	}
	return ledger, nil
}

func (s *Service) build(loanID string, offer *models.Offer, plan []models.MilestonePlanItem) *models.EscrowLedger {
	now := s.now().UTC()
	ledger := &models.EscrowLedger{
		LoanID:        loanID,
		OfferID:       offer.OfferID,
		SMEID:         offer.SMEID,
		LenderID:      offer.LenderID,
		TotalAmount:   offer.Amount,
		PendingAmount: offer.Amount,
		UnlockPolicy:  s.cfg.UnlockPolicy,
		CreatedAt:     now,
		UpdatedAt:     now,
		Milestones:    make([]models.Milestone, len(plan)),
	}

	for i, item := range plan {
		status := models.MilestoneUpcoming
		if i == 0 || s.cfg.UnlockPolicy == models.UnlockParallel {
			status = models.MilestonePendingEvidence
		}
		requirements := append([]string{}, item.Requirements...)
		sort.Strings(requirements)

		ledger.Milestones[i] = models.Milestone{
			MilestoneID:  milestoneIDFor(loanID, i+1),
			LoanID:       loanID,
			Sequence:     i + 1,
			Title:        item.Title,
			Amount:       item.Amount,
			DueDate:      item.DueDate,
			Requirements: requirements,
			Status:       status,
		}
	}
	return ledger
}

// GetLedger returns the ledger to its SME or its lender.
func (s *Service) GetLedger(ctx context.Context, p auth.Principal, loanID string) (*models.EscrowLedger, error) {
	ledger, err := s.ledgers.Get(ctx, loanID)
	if err != nil {
		return nil, err
	}
	if err := authorizeParty(p, ledger, "get ledger"); err != nil {
		return nil, err
	}
	return ledger, nil
}

// GetMilestone returns one milestone together with its ledger.
func (s *Service) GetMilestone(ctx context.Context, p auth.Principal, milestoneID string) (*models.EscrowLedger, *models.Milestone, error) {
	ledger, err := s.ledgerFor(ctx, milestoneID)
	if err != nil {
		return nil, nil, err
	}
	if err := authorizeParty(p, ledger, "get milestone"); err != nil {
		return nil, nil, err
	}
	m, _ := ledger.Milestone(milestoneID)
	return ledger, m, nil
}

// MilestoneEvidence lists every evidence record ever submitted for a milestone.
func (s *Service) MilestoneEvidence(ctx context.Context, p auth.Principal, milestoneID string) ([]models.EvidenceRecord, error) {
	if _, _, err := s.GetMilestone(ctx, p, milestoneID); err != nil {
		return nil, err
	}
	return s.evidence.List(ctx, models.OwnerMilestone, milestoneID)
}

func authorizeParty(p auth.Principal, ledger *models.EscrowLedger, operation string) error {
	if err := p.Validate(); err != nil {
		return err
	}
	switch {
	case p.Role == auth.RoleSME && p.ActorID == ledger.SMEID:
		return nil
	case p.Role == auth.RoleLender && p.ActorID == ledger.LenderID:
		return nil
	}
	return apperrors.NewForbiddenError(fmt.Sprintf("%s: %s is not a party to loan %s", operation, p, ledger.LoanID))
}

func (s *Service) ledgerFor(ctx context.Context, milestoneID string) (*models.EscrowLedger, error) {
	idx, err := s.milestones.Get(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	ledger, err := s.ledgers.Get(ctx, idx.LoanID)
	if err != nil {
		return nil, err
	}
	if m, _ := ledger.Milestone(milestoneID); m == nil {
		return nil, apperrors.NewNotFoundError("milestone", milestoneID)
	}
	return ledger, nil
}

// SubmitEvidence moves a pending_evidence milestone to pending_approval once
// the evidence labels cover all of its requirements.
func (s *Service) SubmitEvidence(ctx context.Context, p auth.Principal, milestoneID string, refs []models.EvidenceRef, note string) (*models.EscrowLedger, *models.Milestone, error) {
	var ledger *models.EscrowLedger
	err := s.obs.Track(ctx, "escrow.submit_evidence", func(ctx context.Context) error {
		current, err := s.ledgerFor(ctx, milestoneID)
		if err != nil {
			return err
		}
		if err := auth.RequireActor(p, auth.RoleSME, current.SMEID, "submit milestone evidence"); err != nil {
			return err
		}

		m, _ := current.Milestone(milestoneID)
		if err := s.checkSubmittable(m); err != nil {
			return err
		}
		if missing := missingRequirements(m.Requirements, refs); len(missing) > 0 {
			return apperrors.NewMissingRequirementsError(milestoneID, missing)
		}

		if err := s.evidence.Check(ctx, models.OwnerMilestone, milestoneID, refs); err != nil {
			return err
		}

		ledger, err = s.update(ctx, current.LoanID, func(l *models.EscrowLedger) error {
			m, _ := l.Milestone(milestoneID)
			if err := s.checkSubmittable(m); err != nil {
				return err
			}
			m.Status = models.MilestonePendingApproval
			m.SubmittedEvidence = append([]models.EvidenceRef{}, refs...)
			m.EvidenceNote = note
			m.Submissions++
			return nil
		})
		if err != nil {
			return err
		}

		if _, err := s.evidence.Append(ctx, models.OwnerMilestone, milestoneID, refs, p.ActorID); err != nil {
			s.logger.Error("Failed to index milestone evidence", map[string]interface{}{"milestoneId": milestoneID, "error": err.Error()})
		}
		return nil
	}, attribute.String("milestoneId", milestoneID))
	if err != nil {
		return nil, nil, err
	}

	m, _ := ledger.Milestone(milestoneID)
	metrics.MilestoneTransitions.WithLabelValues(string(models.MilestonePendingEvidence), string(models.MilestonePendingApproval)).Inc()
	s.record(ctx, p, ledger, "evidence_submitted", map[string]interface{}{
		"milestoneId": milestoneID,
		"evidence":    len(refs),
		"submission":  m.Submissions,
	})
	s.logger.Info("Milestone evidence submitted", map[string]interface{}{
		"loanId":      ledger.LoanID,
		"milestoneId": milestoneID,
		"submission":  m.Submissions,
	})
	return ledger, m, nil
}

func (s *Service) checkSubmittable(m *models.Milestone) error {
	switch m.Status {
	case models.MilestonePendingEvidence:
		return nil
	case models.MilestoneRejected:
		return apperrors.NewResubmissionLimitError(m.MilestoneID, s.cfg.MaxResubmissions)
	default:
		return apperrors.NewInvalidStateError("milestone", m.MilestoneID, string(m.Status), "submit evidence for")
	}
}

// missingRequirements returns the requirement labels no ref carries.
func missingRequirements(requirements []string, refs []models.EvidenceRef) []string {
	have := make(map[string]struct{}, len(refs))
	for _, r := range refs {
		have[r.Label] = struct{}{}
	}
	var missing []string
	for _, req := range requirements {
		if _, ok := have[req]; !ok {
			missing = append(missing, req)
		}
	}
	return missing
}

// Decide approves or rejects the evidence of a pending_approval milestone.
// Approval releases the tranche; a released milestone is never released again.
func (s *Service) Decide(ctx context.Context, p auth.Principal, milestoneID string, decision models.MilestoneDecision, feedback string) (*models.EscrowLedger, *models.Milestone, error) {
	var (
		ledger *models.EscrowLedger
		from   models.MilestoneStatus
		to     models.MilestoneStatus
		next   *models.Milestone
	)
	err := s.obs.Track(ctx, "escrow.decide", func(ctx context.Context) error {
		if decision != models.MilestoneApprove && decision != models.MilestoneReject {
			return apperrors.NewValidationError(fmt.Sprintf("unknown decision %q", decision), []apperrors.FieldError{
				{Field: "decision", Message: "must be approve or reject", Code: "enum"},
			})
		}

		current, err := s.ledgerFor(ctx, milestoneID)
		if err != nil {
			return err
		}
		if err := auth.RequireActor(p, auth.RoleLender, current.LenderID, "decide milestone"); err != nil {
			return err
		}

		ledger, err = s.update(ctx, current.LoanID, func(l *models.EscrowLedger) error {
			next = nil
			m, idx := l.Milestone(milestoneID)
			switch m.Status {
			case models.MilestoneReleased:
				return apperrors.NewAlreadyReleasedError(milestoneID)
			case models.MilestonePendingApproval:
			default:
				return apperrors.NewInvalidStateError("milestone", milestoneID, string(m.Status), string(decision))
			}

			from = m.Status
			if feedback != "" {
				m.LenderFeedback = feedback
			}

			if decision == models.MilestoneApprove {
				at := s.now().UTC()
				m.Status = models.MilestoneReleased
				m.ReleasedAt = &at
				l.ReleasedAmount += m.Amount
				l.PendingAmount = l.TotalAmount - l.ReleasedAmount

				if l.UnlockPolicy == models.UnlockSequential && idx+1 < len(l.Milestones) {
					if n := &l.Milestones[idx+1]; n.Status == models.MilestoneUpcoming {
						n.Status = models.MilestonePendingEvidence
						next = n
					}
				}
			} else {
				m.Rejections++
				m.Status = models.MilestonePendingEvidence
				if s.cfg.MaxResubmissions > 0 && m.Rejections >= s.cfg.MaxResubmissions {
					m.Status = models.MilestoneRejected
				}
			}
			to = m.Status
			return nil
		})
		return err
	}, attribute.String("milestoneId", milestoneID), attribute.String("decision", string(decision)))
	if err != nil {
		return nil, nil, err
	}

	m, _ := ledger.Milestone(milestoneID)
	metrics.MilestoneTransitions.WithLabelValues(string(from), string(to)).Inc()
	if next != nil {
		metrics.MilestoneTransitions.WithLabelValues(string(models.MilestoneUpcoming), string(models.MilestonePendingEvidence)).Inc()
	}

	data := map[string]interface{}{
		"milestoneId": milestoneID,
		"decision":    decision,
		"status":      m.Status,
		"feedback":    feedback,
	}
	if to == models.MilestoneReleased {
		metrics.ReleasedAmount.Add(float64(m.Amount))
		data["amount"] = m.Amount
		data["releasedAmount"] = ledger.ReleasedAmount
		s.publishRelease(ctx, ledger, m)
	}
	s.record(ctx, p, ledger, "milestone_"+string(to), data)

	s.logger.Info("Milestone decided", map[string]interface{}{
		"loanId":         ledger.LoanID,
		"milestoneId":    milestoneID,
		"decision":       decision,
		"status":         m.Status,
		"releasedAmount": ledger.ReleasedAmount,
	})
	return ledger, m, nil
}

// publishRelease tells the custodian to move funds. The release is already
// committed, so a publish failure is logged and not returned.
func (s *Service) publishRelease(ctx context.Context, ledger *models.EscrowLedger, m *models.Milestone) {
	event := notify.Event{
		Type:       notify.EventMilestoneReleased,
		Key:        m.MilestoneID,
		OccurredAt: *m.ReleasedAt,
		Payload: map[string]interface{}{
			"loanId":         ledger.LoanID,
			"milestoneId":    m.MilestoneID,
			"smeId":          ledger.SMEID,
			"lenderId":       ledger.LenderID,
			"amount":         m.Amount,
			"releasedAmount": ledger.ReleasedAmount,
			"pendingAmount":  ledger.PendingAmount,
		},
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithError(err).Error("Failed to publish milestone release", map[string]interface{}{
			"loanId":      ledger.LoanID,
			"milestoneId": m.MilestoneID,
		})
	}
}

// update checks the ledger invariants against the pre-mutation released
// amount before every write.
func (s *Service) update(ctx context.Context, loanID string, mutate func(*models.EscrowLedger) error) (*models.EscrowLedger, error) {
	return s.ledgers.Update(ctx, loanID, func(l *models.EscrowLedger) error {
		previous := l.ReleasedAmount
		if err := mutate(l); err != nil {
			return err
		}
		l.UpdatedAt = s.now().UTC()
		if err := l.Validate(previous); err != nil {
			s.logger.Error("Escrow ledger invariant violated", map[string]interface{}{"loanId": loanID, "error": err.Error()})
			return apperrors.NewInvariantViolationError(auditEntity, err.Error())
		}
		return nil
	})
}

func (s *Service) record(ctx context.Context, p auth.Principal, ledger *models.EscrowLedger, action string, data map[string]interface{}) {
	s.audit.Record(ctx, audit.NewEvent(auditEntity, ledger.LoanID, action, p.ActorID, string(p.Role), data))
}
