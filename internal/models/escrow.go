package models

import (
	"fmt"
	"time"

	"funding-workflow/internal/store"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type MilestoneStatus string

const (
	MilestoneUpcoming        MilestoneStatus = "upcoming"
	MilestonePendingEvidence MilestoneStatus = "pending_evidence"
	MilestonePendingApproval MilestoneStatus = "pending_approval"
	MilestoneReleased        MilestoneStatus = "released"
	MilestoneRejected        MilestoneStatus = "rejected"
)

type UnlockPolicy string

const (
	UnlockSequential UnlockPolicy = "sequential"
	UnlockParallel   UnlockPolicy = "parallel"
)

type MilestoneDecision string

const (
	MilestoneApprove MilestoneDecision = "approve"
	MilestoneReject  MilestoneDecision = "reject"
)

// MilestonePlanItem is one tranche of an accepted offer.
type MilestonePlanItem struct {
	Title        string     `json:"title"`
	Amount       int64      `json:"amount"`
	Requirements []string   `json:"requirements"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
}

func (i MilestonePlanItem) Validate() error {
	return validation.ValidateStruct(&i,
		validation.Field(&i.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&i.Amount, validation.Required, validation.Min(int64(1))),
		validation.Field(&i.Requirements, validation.Each(validation.Required)),
	)
}

type Milestone struct {
	MilestoneID       string          `json:"milestoneId"`
	LoanID            string          `json:"loanId"`
	Sequence          int             `json:"sequence"`
	Title             string          `json:"title"`
	Amount            int64           `json:"amount"`
	DueDate           *time.Time      `json:"dueDate,omitempty"`
	Requirements      []string        `json:"requirements"`
	Status            MilestoneStatus `json:"status"`
	SubmittedEvidence []EvidenceRef   `json:"submittedEvidence,omitempty"`
	EvidenceNote      string          `json:"evidenceNote,omitempty"`
	LenderFeedback    string          `json:"lenderFeedback,omitempty"`
	Submissions       int             `json:"submissions"`
	Rejections        int             `json:"rejections"`
	ReleasedAt        *time.Time      `json:"releasedAt,omitempty"`
}

type EscrowLedger struct {
	store.Versioned
	LoanID         string       `json:"loanId"`
	OfferID        string       `json:"offerId"`
	SMEID          string       `json:"smeId"`
	LenderID       string       `json:"lenderId"`
	TotalAmount    int64        `json:"totalAmount"`
	ReleasedAmount int64        `json:"releasedAmount"`
	PendingAmount  int64        `json:"pendingAmount"`
	Milestones     []Milestone  `json:"milestones"`
	UnlockPolicy   UnlockPolicy `json:"unlockPolicy"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// Milestone returns the milestone with the given ID and its index.
func (l *EscrowLedger) Milestone(id string) (*Milestone, int) {
	for i := range l.Milestones {
		if l.Milestones[i].MilestoneID == id {
			return &l.Milestones[i], i
		}
	}
	return nil, -1
}

// Validate checks the ledger totals against its milestones. previousReleased
// is the released amount before the mutation being validated.
func (l *EscrowLedger) Validate(previousReleased int64) error {
	if len(l.Milestones) == 0 {
		return fmt.Errorf("ledger %s has no milestones", l.LoanID)
	}

	var total, released int64
	for _, m := range l.Milestones {
		if m.Amount <= 0 {
			return fmt.Errorf("milestone %s has non-positive amount %d", m.MilestoneID, m.Amount)
		}
		total += m.Amount
		if m.Status == MilestoneReleased {
			released += m.Amount
		}
	}

	switch {
	case total != l.TotalAmount:
		return fmt.Errorf("ledger %s total %d != milestone sum %d", l.LoanID, l.TotalAmount, total)
	case released != l.ReleasedAmount:
		return fmt.Errorf("ledger %s released %d != released milestone sum %d", l.LoanID, l.ReleasedAmount, released)
	case l.PendingAmount != l.TotalAmount-l.ReleasedAmount:
		return fmt.Errorf("ledger %s pending %d != total %d - released %d", l.LoanID, l.PendingAmount, l.TotalAmount, l.ReleasedAmount)
	case l.ReleasedAmount < previousReleased:
		return fmt.Errorf("ledger %s released amount decreased from %d to %d", l.LoanID, previousReleased, l.ReleasedAmount)
	}
	return nil
}

// MilestoneIndex maps a milestone ID to its ledger.
type MilestoneIndex struct {
	store.Versioned
	MilestoneID string `json:"milestoneId"`
	LoanID      string `json:"loanId"`
}
