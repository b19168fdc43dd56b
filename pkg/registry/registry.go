// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xeipuuv/gojsonschema"
)

func LoadRegistry(path string) (*StepRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg StepRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	return &reg, nil
}

// SaveRegistry writes reg as indented JSON, stamping LastUpdated.
func SaveRegistry(reg *StepRegistry, path string) error {
	reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}

// Find returns the definition for step, if any.
func (r *StepRegistry) Find(step string) (*StepDefinition, bool) {
	for i := range r.Steps {
		if r.Steps[i].Step == step {
			return &r.Steps[i], true
		}
	}
	return nil, false
}

// Upsert replaces the definition with the same step or appends it.
func (r *StepRegistry) Upsert(def StepDefinition) {
	if existing, ok := r.Find(def.Step); ok {
		*existing = def
		return
	}
	r.Steps = append(r.Steps, def)
}

// Validate checks for duplicate or unnamed steps and that every payload
// schema compiles.
func (r *StepRegistry) Validate() error {
	seen := make(map[string]bool, len(r.Steps))
	for _, def := range r.Steps {
		if def.Step == "" {
			return fmt.Errorf("step definition missing required field: step")
		}
		if seen[def.Step] {
			return fmt.Errorf("duplicate step: %s", def.Step)
		}
		seen[def.Step] = true

		if def.PayloadSchema == nil {
			return fmt.Errorf("step %s missing payloadSchema", def.Step)
		}
		if _, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.PayloadSchema)); err != nil {
			return fmt.Errorf("step %s has an invalid payloadSchema: %w", def.Step, err)
		}
		for _, ev := range def.RequiredEvidence {
			if ev.Label == "" {
				return fmt.Errorf("step %s has an evidence requirement without a label", def.Step)
			}
		}
	}
	return nil
}
