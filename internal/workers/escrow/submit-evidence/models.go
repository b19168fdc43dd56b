// internal/workers/escrow/submit-evidence/models.go
package submitevidence

import (
	"funding-workflow/internal/common/validation"
	"funding-workflow/internal/models"
	"funding-workflow/internal/workers/jobs"

	ozzo "github.com/go-ozzo/ozzo-validation/v4"
)

type Input struct {
	jobs.Actor
	MilestoneID string               `json:"milestoneId"`
	Evidence    []models.EvidenceRef `json:"evidence"`
	Note        string               `json:"note,omitempty"`
}

func (i *Input) Validate() error {
	return validation.FromRules("invalid evidence submission", ozzo.ValidateStruct(i,
		ozzo.Field(&i.MilestoneID, ozzo.Required),
		ozzo.Field(&i.Evidence, ozzo.Required),
		ozzo.Field(&i.Note, ozzo.Length(0, 2000)),
	))
}

type Output struct {
	jobs.MilestoneOutput
}
