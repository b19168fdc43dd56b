package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTrack_RecordsSpansAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	recorder := tracetest.NewSpanRecorder()

	obs, err := New("funding-test", WithRegisterer(reg), WithSpanProcessor(recorder))
	require.NoError(t, err)
	defer obs.Shutdown(context.Background())

	require.NoError(t, obs.Track(context.Background(), "escrow.decide", func(ctx context.Context) error {
		return nil
	}))
	boom := errors.New("boom")
	assert.ErrorIs(t, obs.Track(context.Background(), "escrow.submit_evidence", func(ctx context.Context) error {
		return boom
	}), boom)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "escrow.decide", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)

	families, err := reg.Gather()
	require.NoError(t, err)

	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "operations_processed_total")
}

func TestNilObservability_IsSafe(t *testing.T) {
	var obs *Observability

	called := false
	err := obs.Track(context.Background(), "noop", func(ctx context.Context) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.True(t, called)

	obs.RecordJobProcessed(context.Background(), "verification-submit", "success")
	assert.NoError(t, obs.Shutdown(context.Background()))
}
