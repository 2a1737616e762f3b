package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.IngestPacket("aware", ResultOK, 120)
	m.IngestPacket("aware", ResultOK, 30)
	m.IngestPacket("aware", ResultRejected, 99)
	m.IngestChunks("aware", "battery", 2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingestPackets.WithLabelValues("aware", ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestPackets.WithLabelValues("aware", ResultRejected)))
	assert.Equal(t, 150.0, testutil.ToFloat64(m.ingestBytes.WithLabelValues("aware")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingestChunks.WithLabelValues("aware", "battery")))
}

func TestNewReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.ScraperRun("instagram", ResultOK)
	second.ScraperRun("instagram", ResultOK)
	assert.Equal(t, 2.0, testutil.ToFloat64(first.scraperRuns.WithLabelValues("instagram", ResultOK)))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.IngestPacket("x", ResultOK, 1)
		m.ConverterError("x")
		m.ScraperPage("x")
	})
}
