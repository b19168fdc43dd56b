// pkg/registry/schema.go
package registry

// StepRegistry describes the onboarding steps: the JSON schema each step
// payload must satisfy and the evidence it must carry.
type StepRegistry struct {
	Version     string           `json:"version"`
	LastUpdated string           `json:"lastUpdated"`
	Steps       []StepDefinition `json:"steps"`
}

type StepDefinition struct {
	Step             string                 `json:"step"`
	DisplayName      string                 `json:"displayName"`
	Description      string                 `json:"description"`
	Version          string                 `json:"version"`
	PayloadSchema    map[string]interface{} `json:"payloadSchema"`
	RequiredEvidence []EvidenceRequirement  `json:"requiredEvidence"`
	Tags             []string               `json:"tags"`
}

// EvidenceRequirement names an evidence label (and kind) a step must include.
type EvidenceRequirement struct {
	Label string `json:"label"`
	Kind  string `json:"kind"`
}
