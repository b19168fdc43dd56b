// internal/workers/escrow/decide-milestone/models.go
package decidemilestone

import (
	"funding-workflow/internal/common/validation"
	"funding-workflow/internal/models"
	"funding-workflow/internal/workers/jobs"

	ozzo "github.com/go-ozzo/ozzo-validation/v4"
)

type Input struct {
	jobs.Actor
	MilestoneID string                   `json:"milestoneId"`
	Decision    models.MilestoneDecision `json:"decision"`
	Feedback    string                   `json:"feedback,omitempty"`
}

func (i *Input) Validate() error {
	return validation.FromRules("invalid milestone decision", ozzo.ValidateStruct(i,
		ozzo.Field(&i.MilestoneID, ozzo.Required),
		ozzo.Field(&i.Decision, ozzo.Required, ozzo.In(models.MilestoneApprove, models.MilestoneReject)),
		ozzo.Field(&i.Feedback, ozzo.Length(0, 2000)),
	))
}

type Output struct {
	jobs.MilestoneOutput
	Released bool `json:"released"`
}
