package models

import (
	"fmt"
	"time"

	"funding-workflow/internal/store"
)

type TrustState string

const (
	TrustUnverified TrustState = "unverified"
	TrustPending    TrustState = "pending"
	TrustVerified   TrustState = "verified"
	TrustFailed     TrustState = "failed"
)

// Failure reasons set by the platform itself; gateway rejections carry their own text.
const (
	FailureScoringTimeout     = "ScoringTimeout"
	FailureScoringUnavailable = "ScoringUnavailable"
)

type SMETrustRecord struct {
	store.Versioned
	SMEID            string     `json:"smeId"`
	State            TrustState `json:"state"`
	PulseScore       *float64   `json:"pulseScore,omitempty"`
	ProfitScore      *float64   `json:"profitScore,omitempty"`
	FailureReason    string     `json:"failureReason,omitempty"`
	LastSessionID    string     `json:"lastSessionId,omitempty"`
	LastSubmissionID string     `json:"lastSubmissionId,omitempty"`
	Attempts         int        `json:"attempts"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Validate checks that scores are present iff verified and a failure reason iff failed.
func (r *SMETrustRecord) Validate() error {
	hasScores := r.PulseScore != nil && r.ProfitScore != nil
	partialScores := (r.PulseScore == nil) != (r.ProfitScore == nil)

	switch {
	case partialScores:
		return fmt.Errorf("trust record %s has only one score", r.SMEID)
	case r.State == TrustVerified && !hasScores:
		return fmt.Errorf("trust record %s is verified without scores", r.SMEID)
	case r.State != TrustVerified && hasScores:
		return fmt.Errorf("trust record %s carries scores in state %s", r.SMEID, r.State)
	case r.State == TrustFailed && r.FailureReason == "":
		return fmt.Errorf("trust record %s failed without a reason", r.SMEID)
	case r.State != TrustFailed && r.FailureReason != "":
		return fmt.Errorf("trust record %s carries a failure reason in state %s", r.SMEID, r.State)
	}

	switch r.State {
	case TrustUnverified, TrustPending, TrustVerified, TrustFailed:
		return nil
	default:
		return fmt.Errorf("trust record %s has unknown state %q", r.SMEID, r.State)
	}
}
