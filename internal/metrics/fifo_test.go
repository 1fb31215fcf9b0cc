package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBlock(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewFIFOMetrics(registry)
	require.NoError(t, err)

	m.RecordBlock(3, 2048, false, 200*time.Microsecond)
	m.RecordBlock(4, 1900, true, 300*time.Microsecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.blocksTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.overflowsTotal))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.occupancyGauge))
	assert.Equal(t, float64(1900), testutil.ToFloat64(m.scaleGauge))
	assert.Equal(t, 1, testutil.CollectAndCount(m.iterationDuration))
}

func TestRecordOpen(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewFIFOMetrics(registry)
	require.NoError(t, err)

	m.RecordOpen(1, errors.New("no pipe"))
	m.RecordOpen(2, errors.New("no pipe"))
	m.RecordOpen(3, nil)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.sourceOpensTotal.WithLabelValues("error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sourceOpensTotal.WithLabelValues("success")))
}

func TestRecordPacketGaps(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewFIFOMetrics(registry)
	require.NoError(t, err)

	m.RecordPacket(1, 0)
	m.RecordPacket(0, 5)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.packetsTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.gapsTotal))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.lostTotal))
}

func TestDoubleRegistrationFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := NewFIFOMetrics(registry)
	require.NoError(t, err)
	_, err = NewFIFOMetrics(registry)
	assert.Error(t, err)
}

func TestRegisterSourceDrops(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := NewFIFOMetrics(registry)
	require.NoError(t, err)

	var dropped uint64 = 3
	require.NoError(t, m.RegisterSourceDrops(func() uint64 { return dropped }))
	dropped = 7

	expected := `
# HELP gnss_fifo_source_dropped_total Milliseconds discarded by the source before they were read
# TYPE gnss_fifo_source_dropped_total counter
gnss_fifo_source_dropped_total 7
`
	require.NoError(t, testutil.GatherAndCompare(registry, strings.NewReader(expected), "gnss_fifo_source_dropped_total"))
	assert.Error(t, m.RegisterSourceDrops(func() uint64 { return 0 }))
}
