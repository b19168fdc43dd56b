// internal/workers/escrow/get-ledger/models.go
package getledger

import (
	"funding-workflow/internal/common/validation"
	"funding-workflow/internal/models"
	"funding-workflow/internal/workers/jobs"

	ozzo "github.com/go-ozzo/ozzo-validation/v4"
)

// Input names a ledger directly by loanId or through one of its milestones.
type Input struct {
	jobs.Actor
	LoanID          string `json:"loanId,omitempty"`
	MilestoneID     string `json:"milestoneId,omitempty"`
	IncludeEvidence bool   `json:"includeEvidence,omitempty"`
}

func (i *Input) Validate() error {
	return validation.FromRules("invalid ledger lookup", ozzo.ValidateStruct(i,
		ozzo.Field(&i.LoanID, ozzo.Required.When(i.MilestoneID == "").Error("loanId or milestoneId is required")),
		ozzo.Field(&i.IncludeEvidence, ozzo.Empty.When(i.MilestoneID == "").Error("evidence is listed per milestone")),
	))
}

type Output struct {
	jobs.LedgerOutput
	Evidence []models.EvidenceRecord `json:"evidence,omitempty"`
}
