package verification

import (
	"fmt"
	"sort"

	apperrors "funding-workflow/internal/common/errors"
	"funding-workflow/internal/common/validation"
	"funding-workflow/internal/models"
	"funding-workflow/pkg/registry"
)

// Evidence labels checked by the built-in step definitions.
const (
	LabelCACCertificate = "cac_certificate"
	LabelFounderVideo   = "founder_video"
	LabelBankLink       = "bank_link"
)

// DefaultSteps returns the built-in step definitions.
func DefaultSteps() *registry.StepRegistry {
	return &registry.StepRegistry{
		Version: "1.0.0",
		Steps: []registry.StepDefinition{
			{
				Step:        string(models.StepBusinessInfo),
				DisplayName: "Business Information",
				Version:     "1.0.0",
				PayloadSchema: map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"businessName", "industry", "yearsInOperation"},
					"properties": map[string]interface{}{
						"businessName":     map[string]interface{}{"type": "string", "minLength": 2},
						"industry":         map[string]interface{}{"type": "string", "minLength": 2},
						"yearsInOperation": map[string]interface{}{"type": "integer", "minimum": 0},
						"monthlyRevenue":   map[string]interface{}{"type": "integer", "minimum": 0},
						"state":            map[string]interface{}{"type": "string"},
					},
				},
			},
			{
				Step:        string(models.StepCAC),
				DisplayName: "CAC Registration",
				Version:     "1.0.0",
				PayloadSchema: map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"rcNumber", "registeredName"},
					"properties": map[string]interface{}{
						"rcNumber":       map[string]interface{}{"type": "string", "pattern": "^(RC|BN)?[0-9]{5,8}$"},
						"registeredName": map[string]interface{}{"type": "string", "minLength": 2},
					},
				},
				RequiredEvidence: []registry.EvidenceRequirement{{Label: LabelCACCertificate, Kind: string(models.EvidenceDocument)}},
			},
			{
				Step:        string(models.StepBusinessType),
				DisplayName: "Business Type",
				Version:     "1.0.0",
				PayloadSchema: map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"isSaaS"},
					"properties": map[string]interface{}{
						"isSaaS": map[string]interface{}{"type": "boolean"},
					},
				},
			},
			{
				Step:        string(models.StepVideoRecording),
				DisplayName: "Founder Video",
				Version:     "1.0.0",
				PayloadSchema: map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"durationSeconds"},
					"properties": map[string]interface{}{
						"durationSeconds": map[string]interface{}{"type": "integer", "minimum": 30, "maximum": 600},
					},
				},
				RequiredEvidence: []registry.EvidenceRequirement{{Label: LabelFounderVideo, Kind: string(models.EvidenceVideo)}},
			},
			{
				Step:        string(models.StepBankConnection),
				DisplayName: "Bank Connection",
				Version:     "1.0.0",
				PayloadSchema: map[string]interface{}{
					"type":     "object",
					"required": []interface{}{"provider", "accountsLinked"},
					"properties": map[string]interface{}{
						"provider":       map[string]interface{}{"type": "string", "minLength": 2},
						"accountsLinked": map[string]interface{}{"type": "integer", "minimum": 1},
					},
				},
				RequiredEvidence: []registry.EvidenceRequirement{{Label: LabelBankLink, Kind: string(models.EvidenceBankLink)}},
			},
		},
	}
}

// Catalog validates step payloads and their evidence.
type Catalog struct {
	schemas  *validation.SchemaSet
	evidence map[models.StepKind][]registry.EvidenceRequirement
}

// NewCatalog compiles the definitions in reg. Every collection step of the
// default graph must be defined.
func NewCatalog(reg *registry.StepRegistry) (*Catalog, error) {
	if err := reg.Validate(); err != nil {
		return nil, err
	}

	c := &Catalog{
		schemas:  validation.NewSchemaSet(),
		evidence: make(map[models.StepKind][]registry.EvidenceRequirement),
	}
	for _, def := range reg.Steps {
		if err := c.schemas.Register(def.Step, def.PayloadSchema); err != nil {
			return nil, err
		}
		c.evidence[models.StepKind(def.Step)] = def.RequiredEvidence
	}

	g := DefaultGraph()
	for _, step := range g.Sequence(models.BusinessTypeStandard) {
		if !c.schemas.Has(string(step)) {
			return nil, fmt.Errorf("step %s has no definition", step)
		}
	}
	return c, nil
}

// LoadCatalog builds a catalog from a registry file, or the defaults when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return NewCatalog(DefaultSteps())
	}
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load step registry: %w", err)
	}
	return NewCatalog(reg)
}

// Validate checks payload against the step schema and evidence against the
// step's required labels, reporting every problem at once.
func (c *Catalog) Validate(step models.StepKind, payload map[string]interface{}, evidence []models.EvidenceRef) error {
	var fields []apperrors.FieldError

	if err := c.schemas.Validate(string(step), payload); err != nil {
		stdErr, ok := apperrors.AsStandardError(err)
		if !ok || len(stdErr.FieldErrors) == 0 {
			return err
		}
		fields = append(fields, stdErr.FieldErrors...)
	}

	have := make(map[string]models.EvidenceKind, len(evidence))
	for _, ref := range evidence {
		have[ref.Label] = ref.Kind
	}
	for _, req := range c.evidence[step] {
		kind, ok := have[req.Label]
		switch {
		case !ok:
			fields = append(fields, apperrors.FieldError{Field: "evidence." + req.Label, Message: "evidence is required", Code: "required"})
		case req.Kind != "" && string(kind) != req.Kind:
			fields = append(fields, apperrors.FieldError{Field: "evidence." + req.Label, Message: fmt.Sprintf("must be %s evidence", req.Kind), Code: "kind"})
		}
	}

	if len(fields) == 0 {
		return nil
	}
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return apperrors.NewValidationError(fmt.Sprintf("step %s is invalid", step), fields)
}
