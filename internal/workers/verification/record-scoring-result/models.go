// internal/workers/verification/record-scoring-result/models.go
package recordscoringresult

import (
	"funding-workflow/internal/common/validation"
	"funding-workflow/internal/workers/jobs"

	ozzo "github.com/go-ozzo/ozzo-validation/v4"
)

// Input is a scoring result delivered through the workflow instead of the
// in-process dispatcher. TimedOut and Error mark a result with no scores.
type Input struct {
	SessionID    string   `json:"sessionId"`
	SubmissionID string   `json:"submissionId"`
	PulseScore   *float64 `json:"pulseScore,omitempty"`
	ProfitScore  *float64 `json:"profitScore,omitempty"`
	Rejected     bool     `json:"rejected,omitempty"`
	Reason       string   `json:"reason,omitempty"`
	TimedOut     bool     `json:"timedOut,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func (i *Input) Validate() error {
	return validation.FromRules("invalid scoring result", ozzo.ValidateStruct(i,
		ozzo.Field(&i.SessionID, ozzo.Required),
		ozzo.Field(&i.SubmissionID, ozzo.Required),
		ozzo.Field(&i.PulseScore, ozzo.Min(0.0), ozzo.Max(100.0)),
		ozzo.Field(&i.ProfitScore, ozzo.Min(0.0), ozzo.Max(100.0)),
	))
}

type Output struct {
	jobs.SessionOutput
	Applied bool `json:"applied"`
}
