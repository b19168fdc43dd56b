package verification

import (
	"path/filepath"
	"testing"

	apperrors "funding-workflow/internal/common/errors"
	"funding-workflow/internal/models"
	"funding-workflow/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fieldNames(t *testing.T, err error) []string {
	t.Helper()
	stdErr, ok := apperrors.AsStandardError(err)
	require.True(t, ok, "expected StandardError, got %v", err)
	require.Equal(t, apperrors.ErrCodeValidationFailed, stdErr.Code)

	names := make([]string, 0, len(stdErr.FieldErrors))
	for _, f := range stdErr.FieldErrors {
		names = append(names, f.Field)
	}
	return names
}

func TestCatalog_Validate(t *testing.T) {
	c, err := NewCatalog(DefaultSteps())
	require.NoError(t, err)

	cert := models.EvidenceRef{EvidenceID: "ev-1", Label: LabelCACCertificate, Kind: models.EvidenceDocument, URI: "blob://cac"}

	assert.NoError(t, c.Validate(models.StepCAC, map[string]interface{}{
		"rcNumber":       "RC123456",
		"registeredName": "Ade Foods Ltd",
	}, []models.EvidenceRef{cert}))

	err = c.Validate(models.StepCAC, map[string]interface{}{"rcNumber": "12"}, nil)
	names := fieldNames(t, err)
	assert.Contains(t, names, "rcNumber")
	assert.Contains(t, names, "registeredName")
	assert.Contains(t, names, "evidence."+LabelCACCertificate)

	wrongKind := cert
	wrongKind.Kind = models.EvidenceVideo
	err = c.Validate(models.StepCAC, map[string]interface{}{
		"rcNumber":       "RC123456",
		"registeredName": "Ade Foods Ltd",
	}, []models.EvidenceRef{wrongKind})
	assert.Equal(t, []string{"evidence." + LabelCACCertificate}, fieldNames(t, err))
}

func TestCatalog_RejectsIncompleteRegistry(t *testing.T) {
	reg := DefaultSteps()
	reg.Steps = reg.Steps[:2]

	_, err := NewCatalog(reg)
	assert.ErrorContains(t, err, "has no definition")
}

func TestLoadCatalog_FromRegistryFile(t *testing.T) {
	reg := DefaultSteps()
	def, ok := reg.Find(string(models.StepBusinessInfo))
	require.True(t, ok)
	def.PayloadSchema["required"] = []interface{}{"businessName", "industry", "yearsInOperation", "monthlyRevenue"}

	path := filepath.Join(t.TempDir(), "steps.json")
	require.NoError(t, registry.SaveRegistry(reg, path))

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	err = c.Validate(models.StepBusinessInfo, map[string]interface{}{
		"businessName":     "Ade Foods",
		"industry":         "agriculture",
		"yearsInOperation": 3,
	}, nil)
	assert.Equal(t, []string{"monthlyRevenue"}, fieldNames(t, err))

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
