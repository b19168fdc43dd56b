package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf_UnwrapsWrappedStandardError(t *testing.T) {
	base := NewAlreadyReleasedError("m-1")
	wrapped := fmt.Errorf("decide: %w", base)

	assert.Equal(t, ErrCodeAlreadyReleased, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, ErrCodeAlreadyReleased))
	assert.False(t, IsCode(wrapped, ErrCodeInvalidState))
	assert.False(t, IsCode(nil, ErrCodeAlreadyReleased))
	assert.Equal(t, ErrorCode(""), CodeOf(stderrors.New("plain")))
}

func TestConvertToBPMNError(t *testing.T) {
	tests := []struct {
		name            string
		err             *StandardError
		expectedRetries int
		expectedCat     string
	}{
		{
			name:            "persistence conflict is retried",
			err:             NewPersistenceConflictError("escrow/ledger/l-1", 3),
			expectedRetries: 3,
			expectedCat:     "TRANSIENT",
		},
		{
			name:            "scoring timeout is never retried",
			err:             NewScoringTimeoutError("sub-1", time.Second),
			expectedRetries: 0,
			expectedCat:     "TRANSIENT",
		},
		{
			name:            "validation error",
			err:             NewValidationError("bad payload", []FieldError{{Field: "rcNumber", Message: "required"}}),
			expectedRetries: 0,
			expectedCat:     "VALIDATION",
		},
		{
			name:            "state error",
			err:             NewStaleStepError("s-1", "cac", "business_info"),
			expectedRetries: 0,
			expectedCat:     "STATE",
		},
		{
			name:            "invariant violation",
			err:             NewInvariantViolationError("ledger", "sum mismatch"),
			expectedRetries: 0,
			expectedCat:     "FATAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpmnErr := ConvertToBPMNError(tt.err)

			assert.Equal(t, string(tt.err.Code), bpmnErr.Code)
			assert.Equal(t, tt.expectedRetries, bpmnErr.Retries)

			vars := bpmnErr.ToErrorVariables()
			assert.Equal(t, string(tt.err.Code), vars["errorCode"])
			assert.Equal(t, tt.expectedCat, vars["errorCategory"])
		})
	}
}

func TestValidationError_CarriesFieldErrors(t *testing.T) {
	err := NewValidationError("step business_info", []FieldError{
		{Field: "businessName", Message: "businessName is required", Code: "required"},
	})

	bpmnErr := ConvertToBPMNError(err)
	fields, ok := bpmnErr.ErrorVariables["fieldErrors"].([]FieldError)
	require.True(t, ok)
	assert.Len(t, fields, 1)
	assert.Equal(t, "businessName", fields[0].Field)
}

func TestNormalize_WrapsPlainErrors(t *testing.T) {
	stdErr := Normalize(stderrors.New("boom"))
	assert.Equal(t, ErrCodeInternal, stdErr.Code)
	assert.Equal(t, "boom", stdErr.Details)

	original := NewForbiddenError("lender only")
	assert.Same(t, original, Normalize(fmt.Errorf("wrapped: %w", original)))
}
