package validation

import (
	"errors"
	"sort"

	apperrors "funding-workflow/internal/common/errors"

	ozzo "github.com/go-ozzo/ozzo-validation/v4"
)

// FromRules converts an ozzo-validation result into a VALIDATION_FAILED
// error. Nested field errors are flattened into dotted paths.
func FromRules(details string, err error) error {
	if err == nil {
		return nil
	}

	var errs ozzo.Errors
	if !errors.As(err, &errs) {
		return apperrors.NewValidationError(details+": "+err.Error(), nil)
	}

	fields := flatten("", errs)
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return apperrors.NewValidationError(details, fields)
}

func flatten(prefix string, errs ozzo.Errors) []apperrors.FieldError {
	var out []apperrors.FieldError
	for name, e := range errs {
		if e == nil {
			continue
		}
		field := name
		if prefix != "" {
			field = prefix + "." + name
		}

		var nested ozzo.Errors
		if errors.As(e, &nested) {
			out = append(out, flatten(field, nested)...)
			continue
		}

		code := "invalid"
		var ruleErr ozzo.Error
		if errors.As(e, &ruleErr) {
			code = ruleErr.Code()
		}
		out = append(out, apperrors.FieldError{Field: field, Message: e.Error(), Code: code})
	}
	return out
}
