package observability

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(slog.New(slog.NewJSONHandler(&buf, nil)), "scheduler")

	logger.Info("cycle complete", "persisted", 3)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "cycle complete", entry["msg"])
	assert.Equal(t, "scheduler", entry["component"])
	assert.InDelta(t, 3, entry["persisted"], 0)
}

func TestNewMetricsForTesting_Independent(t *testing.T) {
	a := NewMetricsForTesting()
	b := NewMetricsForTesting()

	a.RecordsPersisted.WithLabelValues("CHART").Add(2)

	assert.InDelta(t, 2, counterValue(t, a.RecordsPersisted.WithLabelValues("CHART")), 0)
	assert.InDelta(t, 0, counterValue(t, b.RecordsPersisted.WithLabelValues("CHART")), 0)
}

func TestNewMetricsForTesting_RegistersCleanly(t *testing.T) {
	reg := prometheus.NewRegistry()
	assert.NotPanics(t, func() { reg.MustRegister(NewMetricsForTesting().collectors()...) })
}

func TestNewMetricsWith_ExposesSeries(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWith(reg)
	m.CyclesTotal.WithLabelValues("WTOP").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "traffic_ingest_cycles_total")
	assert.Contains(t, names, "traffic_ingest_scheduler_running")
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}
