package verification

import (
	"testing"

	"funding-workflow/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestGraph_Sequence(t *testing.T) {
	g := DefaultGraph()

	assert.Equal(t, []models.StepKind{
		models.StepBusinessInfo, models.StepCAC, models.StepBusinessType,
		models.StepVideoRecording, models.StepBankConnection,
	}, g.Sequence(models.BusinessTypeStandard))

	saas := g.Sequence(models.BusinessTypeSaaS)
	assert.Len(t, saas, 4)
	assert.NotContains(t, saas, models.StepVideoRecording)

	assert.Equal(t, []models.StepKind{
		models.StepBusinessInfo, models.StepCAC, models.StepBusinessType,
	}, g.Sequence(models.BusinessTypeUnclassified))
}

func TestGraph_Next(t *testing.T) {
	g := DefaultGraph()

	tests := []struct {
		from    models.StepKind
		bt      models.BusinessType
		want    models.StepKind
		wantErr bool
	}{
		{from: models.StepBusinessInfo, want: models.StepCAC},
		{from: models.StepBusinessType, bt: models.BusinessTypeStandard, want: models.StepVideoRecording},
		{from: models.StepBusinessType, bt: models.BusinessTypeSaaS, want: models.StepBankConnection},
		{from: models.StepBusinessType, wantErr: true},
		{from: models.StepBankConnection, bt: models.BusinessTypeSaaS, want: models.StepSubmit},
		{from: models.StepSubmit, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"/"+string(tt.bt), func(t *testing.T) {
			got, err := g.Next(tt.from, tt.bt)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGraph_Previous(t *testing.T) {
	g := DefaultGraph()

	prev, ok := g.Previous(models.StepBankConnection, models.BusinessTypeSaaS)
	assert.True(t, ok)
	assert.Equal(t, models.StepBusinessType, prev)

	prev, ok = g.Previous(models.StepBankConnection, models.BusinessTypeStandard)
	assert.True(t, ok)
	assert.Equal(t, models.StepVideoRecording, prev)

	prev, ok = g.Previous(models.StepSubmit, models.BusinessTypeSaaS)
	assert.True(t, ok)
	assert.Equal(t, models.StepBankConnection, prev)

	_, ok = g.Previous(models.StepBusinessInfo, models.BusinessTypeStandard)
	assert.False(t, ok)
}

func TestGraph_Missing(t *testing.T) {
	g := DefaultGraph()
	collected := map[models.StepKind]models.StepResult{
		models.StepBusinessInfo:   {},
		models.StepCAC:            {},
		models.StepBusinessType:   {},
		models.StepBankConnection: {},
	}

	assert.Empty(t, g.Missing(models.BusinessTypeSaaS, collected))
	assert.Equal(t, []string{"video_recording"}, g.Missing(models.BusinessTypeStandard, collected))
	assert.Equal(t, []string{"business_type"}, g.Missing(models.BusinessTypeUnclassified, map[models.StepKind]models.StepResult{
		models.StepBusinessInfo: {},
		models.StepCAC:          {},
	}))
}

func TestGraph_Requires(t *testing.T) {
	g := DefaultGraph()
	assert.False(t, g.Requires(models.StepVideoRecording, models.BusinessTypeSaaS))
	assert.True(t, g.Requires(models.StepVideoRecording, models.BusinessTypeStandard))
	assert.False(t, g.Requires(models.StepSubmit, models.BusinessTypeStandard))
}
