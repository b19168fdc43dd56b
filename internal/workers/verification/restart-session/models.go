// internal/workers/verification/restart-session/models.go
package restartsession

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
	return validation.FromRules("invalid verification-restart input", ozzo.ValidateStruct(i,
		ozzo.Field(&i.SessionID, ozzo.Required),
	))
}

type Output struct {
	jobs.SessionOutput
	AbandonedSessionID string `json:"abandonedSessionId"`
}
