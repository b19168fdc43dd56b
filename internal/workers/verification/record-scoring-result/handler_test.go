package recordscoringresult

import (
	"context"
	"testing"

	apperrors "funding-workflow/internal/common/errors"
	"funding-workflow/internal/common/logger"
	"funding-workflow/internal/models"
	"funding-workflow/internal/scoring"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockResolver struct {
	mock.Mock
}

func (m *MockResolver) ResolveScoring(ctx context.Context, outcome scoring.Outcome) (*models.VerificationSession, bool, error) {
	args := m.Called(ctx, outcome)
	if args.Get(0) == nil {
		return nil, false, args.Error(2)
	}
	return args.Get(0).(*models.VerificationSession), args.Bool(1), args.Error(2)
}

func score(v float64) *float64 { return &v }

func completedSession() *models.VerificationSession {
	return &models.VerificationSession{
		SessionID:    "sess-1",
		SMEID:        "sme-1",
		Status:       models.SessionCompleted,
		SubmissionID: "sub-1",
		CurrentStep:  models.StepSubmit,
	}
}

func TestToOutcome(t *testing.T) {
	t.Run("scores", func(t *testing.T) {
		o := toOutcome(&Input{SessionID: "sess-1", SubmissionID: "sub-1", PulseScore: score(72), ProfitScore: score(64)})
		require.NotNil(t, o.Response)
		assert.NoError(t, o.Err)
		assert.Equal(t, 72.0, *o.Response.PulseScore)
		assert.Equal(t, "sub-1", o.Request.SubmissionID)
	})

	t.Run("timeout", func(t *testing.T) {
		o := toOutcome(&Input{SessionID: "sess-1", SubmissionID: "sub-1", TimedOut: true})
		assert.Nil(t, o.Response)
		assert.True(t, o.TimedOut())
	})

	t.Run("provider error", func(t *testing.T) {
		o := toOutcome(&Input{SessionID: "sess-1", SubmissionID: "sub-1", Error: "503 from provider"})
		assert.False(t, o.TimedOut())
		assert.True(t, apperrors.IsCode(o.Err, apperrors.ErrCodeScoringUnavailable))
	})

	t.Run("rejection", func(t *testing.T) {
		o := toOutcome(&Input{SessionID: "sess-1", SubmissionID: "sub-1", Rejected: true, Reason: "video unclear"})
		require.NotNil(t, o.Response)
		assert.True(t, o.Response.Rejected)
		assert.Equal(t, "video unclear", o.Response.Reason)
	})
}

func TestHandler_Execute(t *testing.T) {
	t.Run("applied", func(t *testing.T) {
		svc := new(MockResolver)
		svc.On("ResolveScoring", mock.Anything, mock.MatchedBy(func(o scoring.Outcome) bool {
			return o.Request.SessionID == "sess-1" && o.Response != nil
		})).Return(completedSession(), true, nil)

		h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))
		out, err := h.Execute(context.Background(), &Input{
			SessionID: "sess-1", SubmissionID: "sub-1", PulseScore: score(80), ProfitScore: score(70),
		})
		require.NoError(t, err)
		assert.True(t, out.Applied)
		assert.Equal(t, models.SessionCompleted, out.SessionState)
	})

	t.Run("repeat is not applied", func(t *testing.T) {
		svc := new(MockResolver)
		svc.On("ResolveScoring", mock.Anything, mock.Anything).Return(completedSession(), false, nil)

		h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))
		out, err := h.Execute(context.Background(), &Input{SessionID: "sess-1", SubmissionID: "sub-1", TimedOut: true})
		require.NoError(t, err)
		assert.False(t, out.Applied)
	})

	t.Run("scores out of range", func(t *testing.T) {
		svc := new(MockResolver)
		h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))
		_, err := h.Execute(context.Background(), &Input{SessionID: "sess-1", SubmissionID: "sub-1", PulseScore: score(140)})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
		svc.AssertNotCalled(t, "ResolveScoring")
	})

	t.Run("unknown session", func(t *testing.T) {
		svc := new(MockResolver)
		svc.On("ResolveScoring", mock.Anything, mock.Anything).Return(nil, false, apperrors.NewNotFoundError("verification_session", "sess-9"))

		h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))
		_, err := h.Execute(context.Background(), &Input{SessionID: "sess-9", SubmissionID: "sub-1", Error: "x"})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeNotFound))
	})
}
