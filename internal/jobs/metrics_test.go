package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	metric:
		for _, m := range family.GetMetric() {
			for _, pair := range m.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

func TestTrackerRecordsRuns(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	require.NoError(t, metrics.Track("authz:sweep_expired").End(nil))

	boom := errors.New("db down")
	assert.ErrorIs(t, metrics.Track("authz:sweep_expired").End(boom), boom)

	assert.Equal(t, 1.0, counterValue(t, reg, "carebook_jobs_total", map[string]string{"job": "authz:sweep_expired", "status": "success"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "carebook_jobs_total", map[string]string{"job": "authz:sweep_expired", "status": "failure"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "carebook_jobs_failures_total", map[string]string{"job": "authz:sweep_expired"}))
}

func TestNilMetricsTrackerIsInert(t *testing.T) {
	var metrics *Metrics
	boom := errors.New("db down")
	assert.ErrorIs(t, metrics.Track("session:purge").End(boom), boom)
	assert.NoError(t, metrics.Track("session:purge").End(nil))
}
