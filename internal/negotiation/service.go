// Package negotiation keeps the offer history between a lender and a verified
// SME and hands the single accepted offer of a funding request to escrow.
package negotiation

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
	"funding-workflow/internal/common/validation"
	"funding-workflow/internal/escrow"
	"funding-workflow/internal/models"
	"funding-workflow/internal/notify"
	"funding-workflow/internal/store"
	"funding-workflow/internal/trust"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	offerPrefix      = "negotiation/offer"
	logPrefix        = "negotiation/log"
	acceptancePrefix = "negotiation/accepted"
	auditEntity      = "offer"
)

// counterNamespace derives a counter offer's ID from its parent.
var counterNamespace = uuid.MustParse("0b9f3c1e-6d2a-4f57-9a7e-3c8d5e41b2f0")

type Dependencies struct {
	KV            store.KV
	Trust         *trust.Service
	Escrow        *escrow.Service
	Publisher     notify.Publisher
	Audit         audit.Sink
	Observability *observability.Observability
	MaxRetries    int
}

type Service struct {
	offers      *store.Repository[models.Offer, *models.Offer]
	logs        *store.Repository[models.OfferLog, *models.OfferLog]
	acceptances *store.Repository[models.Acceptance, *models.Acceptance]
	trust       *trust.Service
	escrow      *escrow.Service
	publisher   notify.Publisher
	audit       audit.Sink
	obs         *observability.Observability
	logger      logger.Logger
	now         func() time.Time
}

// Response is the authoritative state after Respond.
type Response struct {
	Offer   *models.Offer        `json:"offer"`
	Counter *models.Offer        `json:"counterOffer,omitempty"`
	Ledger  *models.EscrowLedger `json:"ledger,omitempty"`
}

func NewService(deps Dependencies, log logger.Logger) (*Service, error) {
	if deps.KV == nil || deps.Trust == nil || deps.Escrow == nil {
		return nil, errors.New("negotiation: kv, trust and escrow are required")
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
		offers:      store.NewRepository[models.Offer](deps.KV, offerPrefix, "offer", deps.MaxRetries),
		logs:        store.NewRepository[models.OfferLog](deps.KV, logPrefix, "offer_log", deps.MaxRetries),
		acceptances: store.NewRepository[models.Acceptance](deps.KV, acceptancePrefix, "acceptance", deps.MaxRetries),
		trust:       deps.Trust,
		escrow:      deps.Escrow,
		publisher:   publisher,
		audit:       sink,
		obs:         deps.Observability,
		logger:      log.WithFields(map[string]interface{}{"component": "negotiation"}),
		now:         time.Now,
	}, nil
}

func acceptanceID(smeID, lenderID, fundingRequestID string) string {
	return smeID + "/" + lenderID + "/" + fundingRequestID
}

// SubmitOffer opens a negotiation with a verified SME.
func (s *Service) SubmitOffer(ctx context.Context, p auth.Principal, smeID, lenderID, fundingRequestID string, terms models.OfferTerms) (*models.Offer, error) {
	var offer *models.Offer
	err := s.obs.Track(ctx, "negotiation.submit_offer", func(ctx context.Context) error {
		if err := auth.RequireActor(p, auth.RoleLender, lenderID, "submit offer"); err != nil {
			return err
		}
		if err := validateParties(smeID, fundingRequestID); err != nil {
			return err
		}
		if err := validation.FromRules("offer terms", terms.Validate()); err != nil {
			return err
		}

		record, err := s.trust.Get(ctx, smeID)
		switch {
		case apperrors.IsCode(err, apperrors.ErrCodeNotFound):
			return apperrors.NewSMENotVerifiedError(smeID, string(models.TrustUnverified))
		case err != nil:
			return err
		case record.State != models.TrustVerified:
			return apperrors.NewSMENotVerifiedError(smeID, string(record.State))
		}

		if log, err := s.logs.Get(ctx, fundingRequestID); err == nil && log.SMEID != smeID {
			return apperrors.NewValidationError(fmt.Sprintf("funding request %s belongs to another SME", fundingRequestID), []apperrors.FieldError{
				{Field: "smeId", Message: "does not own the funding request", Code: "mismatch"},
			})
		}
		if acc, err := s.acceptances.Get(ctx, acceptanceID(smeID, lenderID, fundingRequestID)); err == nil && acc.OfferID != "" {
			return apperrors.NewDuplicateAcceptanceError(fundingRequestID, acc.OfferID)
		}

		now := s.now().UTC()
		offer = &models.Offer{
			OfferID:          uuid.NewString(),
			FundingRequestID: fundingRequestID,
			SMEID:            smeID,
			LenderID:         lenderID,
			OfferTerms:       terms,
			Status:           models.OfferPending,
			ProposedBy:       models.PartyLender,
			Round:            1,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.offers.Create(ctx, offer.OfferID, offer); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				return apperrors.NewPersistenceConflictError(s.offers.Key(offer.OfferID), 1)
			}
			return err
		}
		return s.appendLog(ctx, p, offer, models.ActionSubmitted)
	}, attribute.String("fundingRequestId", fundingRequestID))
	if err != nil {
		return nil, err
	}

	s.logger.Info("Offer submitted", map[string]interface{}{
		"offerId":          offer.OfferID,
		"fundingRequestId": fundingRequestID,
		"smeId":            smeID,
		"lenderId":         lenderID,
		"amount":           offer.Amount,
	})
	return offer, nil
}

func validateParties(smeID, fundingRequestID string) error {
	var fields []apperrors.FieldError
	if smeID == "" {
		fields = append(fields, apperrors.FieldError{Field: "smeId", Message: "is required", Code: "required"})
	}
	if fundingRequestID == "" {
		fields = append(fields, apperrors.FieldError{Field: "fundingRequestId", Message: "is required", Code: "required"})
	}
	if len(fields) > 0 {
		return apperrors.NewValidationError("offer parties are incomplete", fields)
	}
	return nil
}

// Get returns an offer to either of its parties.
func (s *Service) Get(ctx context.Context, p auth.Principal, offerID string) (*models.Offer, error) {
	offer, err := s.offers.Get(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if err := authorizeParty(p, offer.SMEID, offer.LenderID, "get offer"); err != nil {
		return nil, err
	}
	return offer, nil
}

func authorizeParty(p auth.Principal, smeID, lenderID, operation string) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if (p.Role == auth.RoleSME && p.ActorID == smeID) || (p.Role == auth.RoleLender && p.ActorID == lenderID) {
		return nil
	}
	return apperrors.NewForbiddenError(fmt.Sprintf("%s: %s is not a party", operation, p))
}

// History returns the offer log of a funding request. Lenders only see the
// events of their own offers.
func (s *Service) History(ctx context.Context, p auth.Principal, fundingRequestID string) ([]models.OfferEvent, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	log, err := s.logs.Get(ctx, fundingRequestID)
	if err != nil {
		if apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
			return []models.OfferEvent{}, nil
		}
		return nil, err
	}

	if p.Role == auth.RoleSME {
		if p.ActorID != log.SMEID {
			return nil, apperrors.NewForbiddenError(fmt.Sprintf("offer history: %s does not own funding request %s", p, fundingRequestID))
		}
		return log.Events, nil
	}

	events := make([]models.OfferEvent, 0, len(log.Events))
	for _, e := range log.Events {
		if e.LenderID == p.ActorID {
			events = append(events, e)
		}
	}
	return events, nil
}

// Respond lets the counterparty of the proposer accept, reject or counter a
// pending offer.
func (s *Service) Respond(ctx context.Context, p auth.Principal, offerID string, decision models.OfferDecision, counterTerms *models.OfferTerms, plan []models.MilestonePlanItem) (*Response, error) {
	var resp *Response
	err := s.obs.Track(ctx, "negotiation.respond", func(ctx context.Context) error {
		offer, err := s.offers.Get(ctx, offerID)
		if err != nil {
			return err
		}
		if err := authorizeResponder(p, offer); err != nil {
			return err
		}

		switch decision {
		case models.DecisionAccept:
			resp, err = s.accept(ctx, p, offer, plan)
		case models.DecisionReject:
			resp, err = s.reject(ctx, p, offer)
		case models.DecisionCounter:
			resp, err = s.counter(ctx, p, offer, counterTerms)
		default:
			err = apperrors.NewValidationError(fmt.Sprintf("unknown decision %q", decision), []apperrors.FieldError{
				{Field: "decision", Message: "must be accept, reject or counter", Code: "enum"},
			})
		}
		return err
	}, attribute.String("offerId", offerID), attribute.String("decision", string(decision)))
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// authorizeResponder admits only the party that did not propose the offer.
func authorizeResponder(p auth.Principal, offer *models.Offer) error {
	if offer.ProposedBy == models.PartyLender {
		return auth.RequireActor(p, auth.RoleSME, offer.SMEID, "respond to offer")
	}
	return auth.RequireActor(p, auth.RoleLender, offer.LenderID, "respond to offer")
}

func (s *Service) accept(ctx context.Context, p auth.Principal, offer *models.Offer, plan []models.MilestonePlanItem) (*Response, error) {
	switch offer.Status {
	case models.OfferPending:
	case models.OfferAccepted:
		// Replayed acceptance: finish any ledger creation a failed attempt left behind.
		ledger, err := s.escrow.CreateLedger(ctx, offer, s.planFor(offer, plan))
		if err != nil {
			return nil, err
		}
		return &Response{Offer: offer, Ledger: ledger}, nil
	default:
		return nil, apperrors.NewInvalidStateError("offer", offer.OfferID, string(offer.Status), "accept")
	}

	plan = s.planFor(offer, plan)
	if err := escrow.ValidatePlan(offer.Amount, plan); err != nil {
		return nil, err
	}

	if err := s.reserve(ctx, offer); err != nil {
		return nil, err
	}

	loanID := escrow.LoanIDFor(offer.OfferID)
	accepted, err := s.transition(ctx, offer.OfferID, models.OfferAccepted, func(o *models.Offer) {
		o.LoanID = loanID
	})
	if err != nil {
		s.release(ctx, offer)
		return nil, err
	}

	ledger, err := s.escrow.CreateLedger(ctx, accepted, plan)
	if err != nil {
		s.logger.WithError(err).Error("Offer accepted but ledger creation failed", map[string]interface{}{
			"offerId": accepted.OfferID,
			"loanId":  loanID,
		})
		return nil, err
	}

	if err := s.appendLog(ctx, p, accepted, models.ActionAccepted); err != nil {
		return nil, err
	}

	event := notify.Event{
		Type:       notify.EventOfferAccepted,
		Key:        accepted.OfferID,
		OccurredAt: accepted.UpdatedAt,
		Payload: map[string]interface{}{
			"offerId":          accepted.OfferID,
			"fundingRequestId": accepted.FundingRequestID,
			"smeId":            accepted.SMEID,
			"lenderId":         accepted.LenderID,
			"loanId":           ledger.LoanID,
			"amount":           accepted.Amount,
		},
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithError(err).Warn("Failed to publish offer acceptance", map[string]interface{}{"offerId": accepted.OfferID})
	}

	s.logger.Info("Offer accepted", map[string]interface{}{
		"offerId":          accepted.OfferID,
		"fundingRequestId": accepted.FundingRequestID,
		"loanId":           ledger.LoanID,
	})
	return &Response{Offer: accepted, Ledger: ledger}, nil
}

func (s *Service) planFor(offer *models.Offer, plan []models.MilestonePlanItem) []models.MilestonePlanItem {
	if len(plan) == 0 {
		return escrow.DefaultPlan(offer)
	}
	return plan
}

// reserve claims the (sme, lender, funding request) acceptance slot for offer.
// A slot held by a different offer fails with DUPLICATE_ACCEPTANCE.
func (s *Service) reserve(ctx context.Context, offer *models.Offer) error {
	id := acceptanceID(offer.SMEID, offer.LenderID, offer.FundingRequestID)
	claim := func(a *models.Acceptance) error {
		switch a.OfferID {
		case offer.OfferID:
			return store.ErrSkipWrite
		case "":
			a.OfferID = offer.OfferID
			a.LoanID = escrow.LoanIDFor(offer.OfferID)
			a.AcceptedAt = s.now().UTC()
			return nil
		default:
			return apperrors.NewDuplicateAcceptanceError(offer.FundingRequestID, a.OfferID)
		}
	}

	for {
		_, err := s.acceptances.Update(ctx, id, claim)
		if err == nil || !apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
			return err
		}

		acc := &models.Acceptance{FundingRequestID: offer.FundingRequestID, SMEID: offer.SMEID, LenderID: offer.LenderID}
		if err := claim(acc); err != nil {
			return err
		}
		err = s.acceptances.Create(ctx, id, acc)
		if err == nil || !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
	}
}

// release frees a slot reserved by offer when the offer could not be accepted.
// A slot whose offer did get accepted by a concurrent attempt is kept.
func (s *Service) release(ctx context.Context, offer *models.Offer) {
	if current, err := s.offers.Get(ctx, offer.OfferID); err == nil && current.Status == models.OfferAccepted {
		return
	}

	id := acceptanceID(offer.SMEID, offer.LenderID, offer.FundingRequestID)
	_, err := s.acceptances.Update(ctx, id, func(a *models.Acceptance) error {
		if a.OfferID != offer.OfferID {
			return store.ErrSkipWrite
		}
		a.OfferID = ""
		a.LoanID = ""
		return nil
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to release acceptance reservation", map[string]interface{}{"offerId": offer.OfferID})
	}
}

func (s *Service) reject(ctx context.Context, p auth.Principal, offer *models.Offer) (*Response, error) {
	rejected, err := s.transition(ctx, offer.OfferID, models.OfferRejected, nil)
	if err != nil {
		return nil, err
	}
	if err := s.appendLog(ctx, p, rejected, models.ActionRejected); err != nil {
		return nil, err
	}
	s.logger.Info("Offer rejected", map[string]interface{}{"offerId": offer.OfferID, "by": p.String()})
	return &Response{Offer: rejected}, nil
}

func (s *Service) counter(ctx context.Context, p auth.Principal, offer *models.Offer, terms *models.OfferTerms) (*Response, error) {
	if terms == nil {
		return nil, apperrors.NewValidationError("counter offer requires terms", []apperrors.FieldError{
			{Field: "counterTerms", Message: "is required", Code: "required"},
		})
	}
	if err := validation.FromRules("counter terms", terms.Validate()); err != nil {
		return nil, err
	}

	countered, err := s.transition(ctx, offer.OfferID, models.OfferCountered, nil)
	if err != nil {
		return nil, err
	}

	proposer := models.PartySME
	if offer.ProposedBy == models.PartySME {
		proposer = models.PartyLender
	}
	now := s.now().UTC()
	child := &models.Offer{
		OfferID:          uuid.NewSHA1(counterNamespace, []byte(offer.OfferID)).String(),
		FundingRequestID: offer.FundingRequestID,
		SMEID:            offer.SMEID,
		LenderID:         offer.LenderID,
		OfferTerms:       *terms,
		Status:           models.OfferPending,
		ProposedBy:       proposer,
		ParentOfferID:    offer.OfferID,
		Round:            offer.Round + 1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.offers.Create(ctx, child.OfferID, child); err != nil {
		if !errors.Is(err, store.ErrVersionConflict) {
			return nil, err
		}
		if child, err = s.offers.Get(ctx, child.OfferID); err != nil {
			return nil, err
		}
	}

	if err := s.appendLog(ctx, p, child, models.ActionCountered); err != nil {
		return nil, err
	}
	s.logger.Info("Offer countered", map[string]interface{}{
		"offerId":        offer.OfferID,
		"counterOfferId": child.OfferID,
		"round":          child.Round,
		"by":             p.String(),
	})
	return &Response{Offer: countered, Counter: child}, nil
}

// transition moves a pending offer to a final status. Offers never change
// once they leave pending.
func (s *Service) transition(ctx context.Context, offerID string, to models.OfferStatus, mutate func(*models.Offer)) (*models.Offer, error) {
	return s.offers.Update(ctx, offerID, func(o *models.Offer) error {
		if o.IsFinal() {
			return apperrors.NewInvalidStateError("offer", offerID, string(o.Status), "respond to")
		}
		o.Status = to
		o.UpdatedAt = s.now().UTC()
		if mutate != nil {
			mutate(o)
		}
		return nil
	})
}

// appendLog adds one event to the funding request's offer log and mirrors it
// to the audit sink.
func (s *Service) appendLog(ctx context.Context, p auth.Principal, offer *models.Offer, action models.OfferAction) error {
	event := models.OfferEvent{
		OfferID:  offer.OfferID,
		LenderID: offer.LenderID,
		Action:   action,
		ActorID:  p.ActorID,
		Role:     string(p.Role),
		Terms:    offer.OfferTerms,
		At:       s.now().UTC(),
	}
	add := func(l *models.OfferLog) error {
		event.Sequence = len(l.Events) + 1
		l.Events = append(l.Events, event)
		return nil
	}

	for {
		_, err := s.logs.Update(ctx, offer.FundingRequestID, add)
		if err == nil {
			break
		}
		if !apperrors.IsCode(err, apperrors.ErrCodeNotFound) {
			return err
		}

		log := &models.OfferLog{FundingRequestID: offer.FundingRequestID, SMEID: offer.SMEID}
		_ = add(log)
		err = s.logs.Create(ctx, offer.FundingRequestID, log)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
	}

	metrics.OfferTransitions.WithLabelValues(string(action)).Inc()
	s.audit.Record(ctx, audit.NewEvent(auditEntity, offer.OfferID, string(action), p.ActorID, string(p.Role), map[string]interface{}{
		"fundingRequestId": offer.FundingRequestID,
		"sequence":         event.Sequence,
		"amount":           offer.Amount,
		"interestRate":     offer.InterestRate,
		"tenureMonths":     offer.TenureMonths,
		"round":            offer.Round,
	}))
	return nil
}
