// internal/workers/verification/start-session/models.go
package startsession

import "funding-workflow/internal/workers/jobs"

type Input struct {
	jobs.Actor
	SMEID string `json:"smeId"`
}

type Output struct {
	jobs.SessionOutput
}
