package getledger

import (
	"context"
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

type MockReader struct {
	mock.Mock
}

func (m *MockReader) GetLedger(ctx context.Context, p auth.Principal, loanID string) (*models.EscrowLedger, error) {
	args := m.Called(ctx, p, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EscrowLedger), args.Error(1)
}

func (m *MockReader) GetMilestone(ctx context.Context, p auth.Principal, milestoneID string) (*models.EscrowLedger, *models.Milestone, error) {
	args := m.Called(ctx, p, milestoneID)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*models.EscrowLedger), args.Get(1).(*models.Milestone), args.Error(2)
}

func (m *MockReader) MilestoneEvidence(ctx context.Context, p auth.Principal, milestoneID string) ([]models.EvidenceRecord, error) {
	args := m.Called(ctx, p, milestoneID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.EvidenceRecord), args.Error(1)
}

var (
	sme    = jobs.Actor{ActorID: "sme-1", Role: "sme"}
	ledger = &models.EscrowLedger{
		LoanID:         "loan-1",
		TotalAmount:    5_000_000,
		ReleasedAmount: 2_000_000,
		PendingAmount:  3_000_000,
		Milestones: []models.Milestone{
			{MilestoneID: "m-1", Amount: 2_000_000, Status: models.MilestoneReleased},
			{MilestoneID: "m-2", Amount: 3_000_000, Status: models.MilestonePendingEvidence},
		},
	}
)

func TestHandler_Execute_ByLoan(t *testing.T) {
	svc := new(MockReader)
	svc.On("GetLedger", mock.Anything, sme.Principal(), "loan-1").Return(ledger, nil)

	h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))
	out, err := h.Execute(context.Background(), &Input{Actor: sme, LoanID: "loan-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2_000_000), out.ReleasedAmount)
	assert.Equal(t, int64(3_000_000), out.PendingAmount)
	assert.Empty(t, out.Evidence)
}

func TestHandler_Execute_ByMilestoneWithEvidence(t *testing.T) {
	records := []models.EvidenceRecord{{Ref: models.EvidenceRef{EvidenceID: "ev-1", Label: "invoices"}, SubmittedBy: "sme-1"}}
	svc := new(MockReader)
	svc.On("GetMilestone", mock.Anything, sme.Principal(), "m-1").Return(ledger, &ledger.Milestones[0], nil)
	svc.On("MilestoneEvidence", mock.Anything, sme.Principal(), "m-1").Return(records, nil)

	h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))
	out, err := h.Execute(context.Background(), &Input{Actor: sme, MilestoneID: "m-1", IncludeEvidence: true})
	require.NoError(t, err)
	assert.Equal(t, "loan-1", out.LoanID)
	assert.Equal(t, records, out.Evidence)
	svc.AssertNotCalled(t, "GetLedger")
}

func TestHandler_Execute_Errors(t *testing.T) {
	t.Run("no key", func(t *testing.T) {
		h := NewHandler(nil, new(MockReader), nil, logger.NewTestLogger(t))
		_, err := h.Execute(context.Background(), &Input{Actor: sme})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
	})

	t.Run("evidence without milestone", func(t *testing.T) {
		h := NewHandler(nil, new(MockReader), nil, logger.NewTestLogger(t))
		_, err := h.Execute(context.Background(), &Input{Actor: sme, LoanID: "loan-1", IncludeEvidence: true})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
	})

	t.Run("outsider is forbidden", func(t *testing.T) {
		outsider := jobs.Actor{ActorID: "sme-2", Role: "sme"}
		svc := new(MockReader)
		svc.On("GetLedger", mock.Anything, outsider.Principal(), "loan-1").Return(nil, apperrors.NewForbiddenError("not a party"))
		h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))
		_, err := h.Execute(context.Background(), &Input{Actor: outsider, LoanID: "loan-1"})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeForbidden))
	})
}
