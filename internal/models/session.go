package models

import (
	"time"

	"funding-workflow/internal/store"
)

// StepKind identifies one onboarding step.
type StepKind string

const (
	StepBusinessInfo   StepKind = "business_info"
	StepCAC            StepKind = "cac"
	StepBusinessType   StepKind = "business_type"
	StepVideoRecording StepKind = "video_recording"
	StepBankConnection StepKind = "bank_connection"
	StepSubmit         StepKind = "submit"
)

// BusinessType is the branch flag fixed at the classification step.
type BusinessType string

const (
	BusinessTypeUnclassified BusinessType = ""
	BusinessTypeStandard     BusinessType = "standard"
	BusinessTypeSaaS         BusinessType = "saas"
)

type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionSubmitted  SessionStatus = "submitted"
	SessionScoring    SessionStatus = "scoring"
	SessionCompleted  SessionStatus = "completed"
	SessionAbandoned  SessionStatus = "abandoned"
)

type StepResult struct {
	Kind        StepKind               `json:"kind"`
	Payload     map[string]interface{} `json:"payload"`
	Evidence    []EvidenceRef          `json:"evidence,omitempty"`
	CompletedAt time.Time              `json:"completedAt"`
}

type VerificationSession struct {
	store.Versioned
	SessionID       string                  `json:"sessionId"`
	SMEID           string                  `json:"smeId"`
	BusinessType    BusinessType            `json:"businessType"`
	CurrentStep     StepKind                `json:"currentStep"`
	CollectedSteps  map[StepKind]StepResult `json:"collectedSteps"`
	Status          SessionStatus           `json:"status"`
	SubmissionID    string                  `json:"submissionId,omitempty"`
	// ScoringDeadline is set on submit; past it the submission resolves as timed out.
	ScoringDeadline *time.Time              `json:"scoringDeadline,omitempty"`
	CreatedAt       time.Time               `json:"createdAt"`
	UpdatedAt       time.Time               `json:"updatedAt"`
	CompletedAt     *time.Time              `json:"completedAt,omitempty"`
}

// IsOpen reports whether the session still blocks a new one for the same SME.
func (s *VerificationSession) IsOpen() bool {
	switch s.Status {
	case SessionInProgress, SessionSubmitted, SessionScoring:
		return true
	default:
		return false
	}
}

// SessionIndex records the open session of an SME.
type SessionIndex struct {
	store.Versioned
	SMEID         string `json:"smeId"`
	OpenSessionID string `json:"openSessionId,omitempty"`
	LastSessionID string `json:"lastSessionId,omitempty"`
}
