package goback

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

func (m *MockService) GoBack(ctx context.Context, p auth.Principal, sessionID string) (*models.VerificationSession, error) {
	args := m.Called(ctx, p, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.VerificationSession), args.Error(1)
}

func TestHandler_Execute(t *testing.T) {
	actor := jobs.Actor{ActorID: "sme-1", Role: "sme"}

	tests := []struct {
		name     string
		input    *Input
		setup    func(*MockService)
		wantStep models.StepKind
		wantCode apperrors.ErrorCode
	}{
		{
			name:  "moves to the previous step",
			input: &Input{Actor: actor, SessionID: "sess-1"},
			setup: func(m *MockService) {
				m.On("GoBack", mock.Anything, actor.Principal(), "sess-1").Return(&models.VerificationSession{
					SessionID:   "sess-1",
					CurrentStep: models.StepBusinessInfo,
					Status:      models.SessionInProgress,
				}, nil)
			},
			wantStep: models.StepBusinessInfo,
		},
		{
			name:  "first step has no predecessor",
			input: &Input{Actor: actor, SessionID: "sess-1"},
			setup: func(m *MockService) {
				m.On("GoBack", mock.Anything, actor.Principal(), "sess-1").Return(nil, apperrors.NewNoPreviousStepError("sess-1"))
			},
			wantCode: apperrors.ErrCodeNoPreviousStep,
		},
		{
			name:     "session id required",
			input:    &Input{Actor: actor},
			setup:    func(*MockService) {},
			wantCode: apperrors.ErrCodeValidationFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockService)
			tt.setup(svc)
			h := NewHandler(nil, svc, nil, logger.NewTestLogger(t))

			out, err := h.Execute(context.Background(), tt.input)
			if tt.wantCode != "" {
				assert.True(t, apperrors.IsCode(err, tt.wantCode), "got %v", err)
				assert.Nil(t, out)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStep, out.CurrentStep)
			svc.AssertExpectations(t)
		})
	}
}
