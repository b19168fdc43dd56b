// Package errors provides the stable error taxonomy of the funding workflow and
// its mapping onto BPMN errors for the Zeebe job workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode is a stable, client-visible error kind.
type ErrorCode string

// Validation errors (client-fixable, never retried).
const (
	ErrCodeValidationFailed    ErrorCode = "VALIDATION_FAILED"
	ErrCodeMissingRequirements ErrorCode = "MISSING_REQUIREMENTS"
	ErrCodeAmountMismatch      ErrorCode = "AMOUNT_MISMATCH"
)

// State errors.
const (
	ErrCodeInvalidState         ErrorCode = "INVALID_STATE"
	ErrCodeStaleStep            ErrorCode = "STALE_STEP"
	ErrCodeNoPreviousStep       ErrorCode = "NO_PREVIOUS_STEP"
	ErrCodeBranchLocked         ErrorCode = "BRANCH_LOCKED"
	ErrCodeIncompleteSession    ErrorCode = "INCOMPLETE_SESSION"
	ErrCodeAlreadyInProgress    ErrorCode = "ALREADY_IN_PROGRESS"
	ErrCodeAlreadyReleased      ErrorCode = "ALREADY_RELEASED"
	ErrCodeDuplicateAcceptance  ErrorCode = "DUPLICATE_ACCEPTANCE"
	ErrCodeSMENotVerified       ErrorCode = "SME_NOT_VERIFIED"
	ErrCodeEvidenceConflict     ErrorCode = "EVIDENCE_CONFLICT"
	ErrCodeScoringInFlight      ErrorCode = "SCORING_IN_FLIGHT"
	ErrCodeResubmissionExceeded ErrorCode = "RESUBMISSION_LIMIT_REACHED"
)

// Access errors.
const (
	ErrCodeForbidden ErrorCode = "FORBIDDEN"
	ErrCodeNotFound  ErrorCode = "NOT_FOUND"
)

// Transient / infrastructure errors.
const (
	ErrCodePersistenceConflict ErrorCode = "PERSISTENCE_CONFLICT"
	ErrCodePersistenceFailed   ErrorCode = "PERSISTENCE_FAILED"
	ErrCodeScoringUnavailable  ErrorCode = "SCORING_UNAVAILABLE"
	ErrCodeScoringTimeout      ErrorCode = "SCORING_TIMEOUT"
	ErrCodeExternalService     ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout             ErrorCode = "TIMEOUT_ERROR"
)

// Fatal errors.
const (
	ErrCodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// FieldError describes one field-level validation problem.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// StandardError represents a structured application error.
type StandardError struct {
	Code        ErrorCode              `json:"code"`
	Message     string                 `json:"message"`
	Details     string                 `json:"details,omitempty"`
	Retryable   bool                   `json:"retryable"`
	FieldErrors []FieldError           `json:"fieldErrors,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = map[string]interface{}{}
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message, details string, retryable bool) *StandardError {
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationError creates a non-retryable validation error carrying field-level problems.
func NewValidationError(details string, fields []FieldError) *StandardError {
	err := newError(ErrCodeValidationFailed, "Validation failed", details, false)
	err.FieldErrors = fields
	return err
}

// NewMissingRequirementsError lists the requirement labels not covered by submitted evidence.
func NewMissingRequirementsError(milestoneID string, missing []string) *StandardError {
	return newError(ErrCodeMissingRequirements, "Evidence does not cover milestone requirements",
		fmt.Sprintf("milestoneId: %s, missing: %s", milestoneID, strings.Join(missing, ", ")), false).
		WithMetadata("missing", missing)
}

// NewAmountMismatchError reports a milestone plan that does not sum to the offer amount.
func NewAmountMismatchError(expected, actual int64) *StandardError {
	return newError(ErrCodeAmountMismatch, "Milestone plan does not match offer amount",
		fmt.Sprintf("expected: %d, got: %d", expected, actual), false)
}

// NewInvalidStateError reports an operation invalid for the entity's current state.
func NewInvalidStateError(entity, id, state, operation string) *StandardError {
	return newError(ErrCodeInvalidState, fmt.Sprintf("Cannot %s %s in state %s", operation, entity, state),
		fmt.Sprintf("%sId: %s", entity, id), false)
}

func NewStaleStepError(sessionID, current, submitted string) *StandardError {
	return newError(ErrCodeStaleStep, "Step is not the session's current step",
		fmt.Sprintf("sessionId: %s, currentStep: %s, submittedStep: %s", sessionID, current, submitted), false)
}

func NewNoPreviousStepError(sessionID string) *StandardError {
	return newError(ErrCodeNoPreviousStep, "Session is at its first step", fmt.Sprintf("sessionId: %s", sessionID), false)
}

func NewBranchLockedError(sessionID, details string) *StandardError {
	return newError(ErrCodeBranchLocked, "Business type is fixed for this session; restart to change it",
		fmt.Sprintf("sessionId: %s, %s", sessionID, details), false)
}

func NewIncompleteSessionError(sessionID string, missing []string) *StandardError {
	return newError(ErrCodeIncompleteSession, "Required steps are missing",
		fmt.Sprintf("sessionId: %s, missing: %s", sessionID, strings.Join(missing, ", ")), false).
		WithMetadata("missing", missing)
}

func NewAlreadyInProgressError(smeID, sessionID string) *StandardError {
	return newError(ErrCodeAlreadyInProgress, "An open verification session already exists",
		fmt.Sprintf("smeId: %s, sessionId: %s", smeID, sessionID), false).
		WithMetadata("sessionId", sessionID)
}

// NewAlreadyReleasedError is returned for any decision on a released milestone.
func NewAlreadyReleasedError(milestoneID string) *StandardError {
	return newError(ErrCodeAlreadyReleased, "Milestone funds have already been released",
		fmt.Sprintf("milestoneId: %s", milestoneID), false)
}

func NewDuplicateAcceptanceError(fundingRequestID, acceptedOfferID string) *StandardError {
	return newError(ErrCodeDuplicateAcceptance, "An offer has already been accepted for this funding request",
		fmt.Sprintf("fundingRequestId: %s, acceptedOfferId: %s", fundingRequestID, acceptedOfferID), false)
}

func NewSMENotVerifiedError(smeID, state string) *StandardError {
	return newError(ErrCodeSMENotVerified, "SME is not verified", fmt.Sprintf("smeId: %s, trustState: %s", smeID, state), false)
}

func NewEvidenceConflictError(evidenceID string) *StandardError {
	return newError(ErrCodeEvidenceConflict, "Evidence ID already recorded with different content",
		fmt.Sprintf("evidenceId: %s", evidenceID), false)
}

func NewScoringInFlightError(sessionID, submissionID string) *StandardError {
	return newError(ErrCodeScoringInFlight, "A scoring request is already in flight for this session",
		fmt.Sprintf("sessionId: %s, submissionId: %s", sessionID, submissionID), false)
}

func NewResubmissionLimitError(milestoneID string, limit int) *StandardError {
	return newError(ErrCodeResubmissionExceeded, "Milestone resubmission limit reached",
		fmt.Sprintf("milestoneId: %s, limit: %d", milestoneID, limit), false)
}

// NewForbiddenError reports a principal lacking the role or ownership for an operation.
func NewForbiddenError(details string) *StandardError {
	return newError(ErrCodeForbidden, "Operation not permitted for this principal", details, false)
}

func NewNotFoundError(entity, id string) *StandardError {
	return newError(ErrCodeNotFound, fmt.Sprintf("%s not found", entity), fmt.Sprintf("id: %s", id), false)
}

// NewPersistenceConflictError is returned when compare-and-swap retries are exhausted.
func NewPersistenceConflictError(key string, attempts int) *StandardError {
	return newError(ErrCodePersistenceConflict, "Too much contention updating record",
		fmt.Sprintf("key: %s, attempts: %d", key, attempts), true)
}

func NewPersistenceFailedError(operation string, err error) *StandardError {
	return newError(ErrCodePersistenceFailed, "Persistence operation failed",
		fmt.Sprintf("operation: %s, error: %s", operation, err.Error()), true)
}

func NewScoringUnavailableError(err error) *StandardError {
	return newError(ErrCodeScoringUnavailable, "Scoring gateway unavailable", err.Error(), true)
}

func NewScoringTimeoutError(submissionID string, timeout time.Duration) *StandardError {
	return newError(ErrCodeScoringTimeout, "Scoring gateway timeout",
		fmt.Sprintf("submissionId: %s, timeout: %s", submissionID, timeout), false)
}

// NewInvariantViolationError aborts a write that would persist an inconsistent record.
func NewInvariantViolationError(entity, details string) *StandardError {
	return newError(ErrCodeInvariantViolation, fmt.Sprintf("%s invariant violated", entity), details, false)
}

func NewInternalError(err error) *StandardError {
	return newError(ErrCodeInternal, "Unexpected error", err.Error(), false)
}

// NewExternalServiceError wraps a failure of an external dependency (Zeebe, SNS).
func NewExternalServiceError(service string, err error) *StandardError {
	return newError(ErrCodeExternalService, fmt.Sprintf("External service '%s' error", service), err.Error(), true)
}

func NewTimeoutError(service string, err error) *StandardError {
	return newError(ErrCodeTimeout, fmt.Sprintf("Service '%s' timeout", service), err.Error(), true)
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// GetRetryCount returns the recommended job retry count for a code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodePersistenceConflict,
		ErrCodePersistenceFailed,
		ErrCodeExternalService:
		return 3

	case ErrCodeScoringUnavailable,
		ErrCodeTimeout:
		return 2

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	vars := map[string]interface{}{
		"originalErrorCode": string(stdErr.Code),
		"errorCategory":     GetErrorCategory(stdErr.Code),
		"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
	}
	if len(stdErr.FieldErrors) > 0 {
		vars["fieldErrors"] = stdErr.FieldErrors
	}

	return &BPMNError{
		Code:           string(stdErr.Code),
		Message:        stdErr.Message,
		Details:        stdErr.Details,
		Retryable:      stdErr.Retryable,
		Retries:        retries,
		ErrorVariables: vars,
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// AsStandardError unwraps err to a *StandardError if one is in the chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first StandardError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// GetErrorCategory returns the taxonomy bucket of the error code.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeValidationFailed, ErrCodeMissingRequirements, ErrCodeAmountMismatch:
		return "VALIDATION"
	case ErrCodeForbidden, ErrCodeNotFound:
		return "ACCESS"
	case ErrCodePersistenceConflict, ErrCodePersistenceFailed, ErrCodeScoringUnavailable, ErrCodeScoringTimeout:
		return "TRANSIENT"
	case ErrCodeInvariantViolation, ErrCodeInternal:
		return "FATAL"
	}

	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "TIMEOUT") || strings.Contains(codeStr, "EXTERNAL"):
		return "TRANSIENT"
	case codeStr == "":
		return "OTHER"
	default:
		return "STATE"
	}
}
