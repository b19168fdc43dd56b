package jobs

import "funding-workflow/internal/models"

// SessionOutput is the session state every verification job returns.
type SessionOutput struct {
	SessionID    string                      `json:"sessionId"`
	SessionState models.SessionStatus        `json:"sessionState"`
	CurrentStep  models.StepKind             `json:"currentStep"`
	BusinessType models.BusinessType         `json:"businessType,omitempty"`
	SubmissionID string                      `json:"submissionId,omitempty"`
	Session      *models.VerificationSession `json:"session"`
}

func NewSessionOutput(s *models.VerificationSession) SessionOutput {
	return SessionOutput{
		SessionID:    s.SessionID,
		SessionState: s.Status,
		CurrentStep:  s.CurrentStep,
		BusinessType: s.BusinessType,
		SubmissionID: s.SubmissionID,
		Session:      s,
	}
}

// LedgerOutput is the ledger state every escrow job returns.
type LedgerOutput struct {
	LoanID         string               `json:"loanId"`
	TotalAmount    int64                `json:"totalAmount"`
	ReleasedAmount int64                `json:"releasedAmount"`
	PendingAmount  int64                `json:"pendingAmount"`
	FullyReleased  bool                 `json:"fullyReleased"`
	Ledger         *models.EscrowLedger `json:"ledger"`
}

func NewLedgerOutput(l *models.EscrowLedger) LedgerOutput {
	return LedgerOutput{
		LoanID:         l.LoanID,
		TotalAmount:    l.TotalAmount,
		ReleasedAmount: l.ReleasedAmount,
		PendingAmount:  l.PendingAmount,
		FullyReleased:  l.ReleasedAmount == l.TotalAmount,
		Ledger:         l,
	}
}

// MilestoneOutput adds the milestone a job acted on to its ledger.
type MilestoneOutput struct {
	LedgerOutput
	MilestoneID     string                 `json:"milestoneId"`
	MilestoneStatus models.MilestoneStatus `json:"milestoneStatus"`
	Rejections      int                    `json:"rejections"`
}

func NewMilestoneOutput(l *models.EscrowLedger, m *models.Milestone) MilestoneOutput {
	return MilestoneOutput{
		LedgerOutput:    NewLedgerOutput(l),
		MilestoneID:     m.MilestoneID,
		MilestoneStatus: m.Status,
		Rejections:      m.Rejections,
	}
}
