// internal/workers/verification/complete-step/models.go
package completestep

import (
	"funding-workflow/internal/common/validation"
	"funding-workflow/internal/models"
	"funding-workflow/internal/workers/jobs"

	ozzo "github.com/go-ozzo/ozzo-validation/v4"
)

type Input struct {
	jobs.Actor
	SessionID string                 `json:"sessionId"`
	Step      models.StepKind        `json:"step"`
	Payload   map[string]interface{} `json:"payload"`
	Evidence  []models.EvidenceRef   `json:"evidence,omitempty"`
}

func (i *Input) Validate() error {
	return validation.FromRules("invalid complete-step input", ozzo.ValidateStruct(i,
		ozzo.Field(&i.SessionID, ozzo.Required),
		ozzo.Field(&i.Step, ozzo.Required),
	))
}

type Output struct {
	jobs.SessionOutput
}
