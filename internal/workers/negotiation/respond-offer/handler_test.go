package respondoffer

import (
	"context"
	"testing"

	"funding-workflow/internal/common/auth"
	apperrors "funding-workflow/internal/common/errors"
	"funding-workflow/internal/common/logger"
	"funding-workflow/internal/models"
	"funding-workflow/internal/negotiation"
	"funding-workflow/internal/workers/jobs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) Respond(ctx context.Context, p auth.Principal, offerID string, decision models.OfferDecision, counterTerms *models.OfferTerms, plan []models.MilestonePlanItem) (*negotiation.Response, error) {
	args := m.Called(ctx, p, offerID, decision, counterTerms, plan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*negotiation.Response), args.Error(1)
}

var sme = jobs.Actor{ActorID: "sme-1", Role: "sme"}

func TestHandler_Execute_Accept(t *testing.T) {
	plan := []models.MilestonePlanItem{
		{Title: "Inventory", Amount: 2_000_000, Requirements: []string{"invoices"}},
		{Title: "Expansion", Amount: 3_000_000, Requirements: []string{"delivery_note"}},
	}
	resp := &negotiation.Response{
		Offer:  &models.Offer{OfferID: "offer-1", Status: models.OfferAccepted, LoanID: "loan-1"},
		Ledger: &models.EscrowLedger{LoanID: "loan-1", TotalAmount: 5_000_000, PendingAmount: 5_000_000},
	}
	svc := new(MockService)
	svc.On("Respond", mock.Anything, sme.Principal(), "offer-1", models.DecisionAccept, (*models.OfferTerms)(nil), plan).Return(resp, nil)

	h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))
	out, err := h.Execute(context.Background(), &Input{Actor: sme, OfferID: "offer-1", Decision: models.DecisionAccept, MilestonePlan: plan})
	require.NoError(t, err)
	assert.Equal(t, models.OfferAccepted, out.OfferStatus)
	assert.Equal(t, "loan-1", out.LoanID)
	assert.Empty(t, out.CounterOfferID)
}

func TestHandler_Execute_Counter(t *testing.T) {
	counter := &models.OfferTerms{Amount: 4_000_000, InterestRate: 10, TenureMonths: 18}
	resp := &negotiation.Response{
		Offer:   &models.Offer{OfferID: "offer-1", Status: models.OfferCountered},
		Counter: &models.Offer{OfferID: "offer-2", Status: models.OfferPending, ParentOfferID: "offer-1", Round: 2},
	}
	svc := new(MockService)
	svc.On("Respond", mock.Anything, sme.Principal(), "offer-1", models.DecisionCounter, counter, []models.MilestonePlanItem(nil)).Return(resp, nil)

	h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))
	out, err := h.Execute(context.Background(), &Input{Actor: sme, OfferID: "offer-1", Decision: models.DecisionCounter, CounterTerms: counter})
	require.NoError(t, err)
	assert.Equal(t, models.OfferCountered, out.OfferStatus)
	assert.Equal(t, "offer-2", out.CounterOfferID)
}

func TestInput_Validate(t *testing.T) {
	terms := &models.OfferTerms{Amount: 1, TenureMonths: 1}
	plan := []models.MilestonePlanItem{{Title: "All", Amount: 1}}

	tests := []struct {
		name    string
		input   Input
		wantErr bool
	}{
		{name: "accept", input: Input{OfferID: "o", Decision: models.DecisionAccept}},
		{name: "accept with plan", input: Input{OfferID: "o", Decision: models.DecisionAccept, MilestonePlan: plan}},
		{name: "reject", input: Input{OfferID: "o", Decision: models.DecisionReject}},
		{name: "counter", input: Input{OfferID: "o", Decision: models.DecisionCounter, CounterTerms: terms}},
		{name: "counter without terms", input: Input{OfferID: "o", Decision: models.DecisionCounter}, wantErr: true},
		{name: "reject with terms", input: Input{OfferID: "o", Decision: models.DecisionReject, CounterTerms: terms}, wantErr: true},
		{name: "plan on reject", input: Input{OfferID: "o", Decision: models.DecisionReject, MilestonePlan: plan}, wantErr: true},
		{name: "unknown decision", input: Input{OfferID: "o", Decision: "maybe"}, wantErr: true},
		{name: "no offer", input: Input{Decision: models.DecisionAccept}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantErr {
				assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestHandler_Execute_DuplicateAcceptance(t *testing.T) {
	svc := new(MockService)
	svc.On("Respond", mock.Anything, mock.Anything, "offer-2", models.DecisionAccept, (*models.OfferTerms)(nil), []models.MilestonePlanItem(nil)).
		Return(nil, apperrors.NewDuplicateAcceptanceError("fr-1", "offer-1"))

	h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))
	_, err := h.Execute(context.Background(), &Input{Actor: sme, OfferID: "offer-2", Decision: models.DecisionAccept})
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDuplicateAcceptance))
}
