package completestep

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

type MockService struct {
	mock.Mock
}

func (m *MockService) CompleteStep(ctx context.Context, p auth.Principal, sessionID string, step models.StepKind, payload map[string]interface{}, refs []models.EvidenceRef) (*models.VerificationSession, error) {
	args := m.Called(ctx, p, sessionID, step, payload, refs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VerificationSession), args.Error(1)
}

var smeActor = jobs.Actor{ActorID: "sme-1", Role: "sme"}

func TestHandler_Execute(t *testing.T) {
	t.Run("advances the session", func(t *testing.T) {
		svc := new(MockService)
		payload := map[string]interface{}{"businessType": "saas"}
		svc.On("CompleteStep", mock.Anything, smeActor.Principal(), "sess-1", models.StepBusinessType, payload, []models.EvidenceRef(nil)).
			Return(&models.VerificationSession{
				SessionID:    "sess-1",
				BusinessType: models.BusinessTypeSaaS,
				CurrentStep:  models.StepBankConnection,
				Status:       models.SessionInProgress,
			}, nil)

		h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))
		out, err := h.Execute(context.Background(), &Input{
			Actor:     smeActor,
			SessionID: "sess-1",
			Step:      models.StepBusinessType,
			Payload:   payload,
		})
		require.NoError(t, err)
		assert.Equal(t, models.StepBankConnection, out.CurrentStep)
		assert.Equal(t, models.BusinessTypeSaaS, out.BusinessType)
		svc.AssertExpectations(t)
	})

	t.Run("missing session id is rejected before the service", func(t *testing.T) {
		svc := new(MockService)
		h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))

		_, err := h.Execute(context.Background(), &Input{Actor: smeActor, Step: models.StepCAC})
		require.Error(t, err)
		std, ok := apperrors.AsStandardError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeValidationFailed, std.Code)
		require.Len(t, std.FieldErrors, 1)
		assert.Equal(t, "sessionId", std.FieldErrors[0].Field)
		svc.AssertNotCalled(t, "CompleteStep")
	})

	t.Run("stale step propagates", func(t *testing.T) {
		svc := new(MockService)
		svc.On("CompleteStep", mock.Anything, mock.Anything, "sess-1", models.StepCAC, map[string]interface{}{}, []models.EvidenceRef(nil)).
			Return(nil, apperrors.NewStaleStepError("sess-1", "business_info", "cac"))

		h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))
		_, err := h.Execute(context.Background(), &Input{Actor: smeActor, SessionID: "sess-1", Step: models.StepCAC})
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeStaleStep))
	})
}
