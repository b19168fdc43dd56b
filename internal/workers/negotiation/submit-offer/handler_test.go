package submitoffer

import (
	"context"
	"encoding/json"
	"testing"

	"funding-workflow/internal/common/auth"
	apperrors "funding-workflow/internal/common/errors"
	"funding-workflow/internal/common/logger"
	"funding-workflow/internal/models"
	"funding-workflow/internal/workers/jobs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) SubmitOffer(ctx context.Context, p auth.Principal, smeID, lenderID, fundingRequestID string, terms models.OfferTerms) (*models.Offer, error) {
	args := m.Called(ctx, p, smeID, lenderID, fundingRequestID, terms)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Offer), args.Error(1)
}

var (
	lender = jobs.Actor{ActorID: "lender-1", Role: "lender"}
	terms  = models.OfferTerms{Amount: 5_000_000, InterestRate: 12.5, TenureMonths: 12}
)

func TestInput_DecodesFlatTerms(t *testing.T) {
	raw := `{"actorId":"lender-1","role":"lender","smeId":"sme-1","fundingRequestId":"fr-1","amount":5000000,"interestRate":12.5,"tenureMonths":12}`
	var input Input
	require.NoError(t, json.Unmarshal([]byte(raw), &input))
	assert.Equal(t, terms, input.OfferTerms)
	assert.Equal(t, "lender-1", input.ActorID)
}

func TestHandler_Execute(t *testing.T) {
	t.Run("lender defaults to caller", func(t *testing.T) {
		svc := new(MockService)
		svc.On("SubmitOffer", mock.Anything, lender.Principal(), "sme-1", "lender-1", "fr-1", terms).Return(&models.Offer{
			OfferID:          "offer-1",
			FundingRequestID: "fr-1",
			OfferTerms:       terms,
			Status:           models.OfferPending,
			Round:            1,
		}, nil)

		h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))
		out, err := h.Execute(context.Background(), &Input{Actor: lender, SMEID: "sme-1", FundingRequestID: "fr-1", OfferTerms: terms})
		require.NoError(t, err)
		assert.Equal(t, "offer-1", out.OfferID)
		assert.Equal(t, models.OfferPending, out.OfferStatus)
		assert.Equal(t, 1, out.Round)
		svc.AssertExpectations(t)
	})

	t.Run("unverified SME", func(t *testing.T) {
		svc := new(MockService)
		svc.On("SubmitOffer", mock.Anything, mock.Anything, "sme-1", "lender-1", "fr-1", terms).
			Return(nil, apperrors.NewSMENotVerifiedError("sme-1", "pending"))

		h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))
		_, err := h.Execute(context.Background(), &Input{Actor: lender, SMEID: "sme-1", FundingRequestID: "fr-1", OfferTerms: terms})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSMENotVerified))
	})

	t.Run("funding request required", func(t *testing.T) {
		svc := new(MockService)
		h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))
		_, err := h.Execute(context.Background(), &Input{Actor: lender, SMEID: "sme-1", OfferTerms: terms})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
		svc.AssertNotCalled(t, "SubmitOffer")
	})
}
