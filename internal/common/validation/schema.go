package validation

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "funding-workflow/internal/common/errors"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaSet holds compiled JSON schemas addressed by name.
type SchemaSet struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

func NewSchemaSet() *SchemaSet {
	return &SchemaSet{schemas: make(map[string]*gojsonschema.Schema)}
}

// Register compiles schema and stores it under name, replacing any previous one.
func (s *SchemaSet) Register(name string, schema map[string]interface{}) error {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return fmt.Errorf("compile schema %s: %w", name, err)
	}

	s.mu.Lock()
	s.schemas[name] = compiled
	s.mu.Unlock()
	return nil
}

func (s *SchemaSet) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.schemas[name]
	return ok
}

// Validate checks doc against the named schema. An invalid document yields a
// VALIDATION_FAILED StandardError listing every field problem.
func (s *SchemaSet) Validate(name string, doc map[string]interface{}) error {
	s.mu.RLock()
	schema, ok := s.schemas[name]
	s.mu.RUnlock()
	if !ok {
		return apperrors.NewValidationError(fmt.Sprintf("no schema registered for %s", name), nil)
	}

	if doc == nil {
		doc = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return apperrors.NewValidationError(fmt.Sprintf("%s: %v", name, err), nil)
	}
	if result.Valid() {
		return nil
	}

	fields := FieldErrors(result.Errors())
	problems := make([]string, len(fields))
	for i, f := range fields {
		problems[i] = f.Field + ": " + f.Message
	}
	return apperrors.NewValidationError(fmt.Sprintf("%s: %s", name, strings.Join(problems, "; ")), fields)
}

// ValidateDocument validates doc against an uncompiled schema.
func ValidateDocument(schema, doc map[string]interface{}) error {
	set := NewSchemaSet()
	if err := set.Register("document", schema); err != nil {
		return err
	}
	return set.Validate("document", doc)
}

// FieldErrors converts gojsonschema results into field-level errors, sorted by field.
func FieldErrors(results []gojsonschema.ResultError) []apperrors.FieldError {
	out := make([]apperrors.FieldError, 0, len(results))
	for _, r := range results {
		field := r.Field()
		if r.Type() == "required" {
			if prop, ok := r.Details()["property"].(string); ok {
				switch {
				case field == "(root)" || field == "":
					field = prop
				case field != prop && !strings.HasSuffix(field, "."+prop):
					field = field + "." + prop
				}
			}
		}
		out = append(out, apperrors.FieldError{
			Field:   field,
			Message: r.Description(),
			Code:    r.Type(),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}
