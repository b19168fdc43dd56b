// internal/workers/verification/submit-session/models.go
package submitsession

import (
	"funding-workflow/internal/common/validation"
	"funding-workflow/internal/workers/jobs"

	ozzo "github.com/go-ozzo/ozzo-validation/v4"
)

type Input struct {
	jobs.Actor
	SessionID string `json:"sessionId"`
}

func (i *Input) Validate() error {
	return validation.FromRules("invalid verification-submit input", ozzo.ValidateStruct(i,
		ozzo.Field(&i.SessionID, ozzo.Required),
	))
}

// Output reports the submission handed to scoring. The workflow waits on the
// verification-scored message correlated by sessionId.
type Output struct {
	jobs.SessionOutput
}
