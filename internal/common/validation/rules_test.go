package validation

import (
	"errors"
	"testing"

	apperrors "funding-workflow/internal/common/errors"

	ozzo "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tranche struct {
	Title        string   `json:"title"`
	Amount       int64    `json:"amount"`
	Requirements []string `json:"requirements"`
}

func (t tranche) Validate() error {
	return ozzo.ValidateStruct(&t,
		ozzo.Field(&t.Title, ozzo.Required),
		ozzo.Field(&t.Amount, ozzo.Required, ozzo.Min(int64(1))),
		ozzo.Field(&t.Requirements, ozzo.Each(ozzo.Required)),
	)
}

func TestFromRules(t *testing.T) {
	assert.NoError(t, FromRules("plan", tranche{Title: "Equipment", Amount: 10}.Validate()))

	err := FromRules("plan", tranche{Amount: -4, Requirements: []string{"invoices", ""}}.Validate())
	stdErr, ok := apperrors.AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeValidationFailed, stdErr.Code)

	fields := map[string]string{}
	for _, f := range stdErr.FieldErrors {
		fields[f.Field] = f.Code
	}
	assert.Contains(t, fields, "title")
	assert.Contains(t, fields, "amount")
	assert.Contains(t, fields, "requirements.1")
}

func TestFromRules_PlainError(t *testing.T) {
	err := FromRules("terms", errors.New("boom"))
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeValidationFailed))
}
