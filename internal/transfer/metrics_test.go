package transfer

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMetrics_Singleton(t *testing.T) {
	registry := prometheus.NewRegistry()

	m1 := InitMetrics(registry)
	require.NotNil(t, m1)

	// A second init, even against a different registry, returns the same
	// instance instead of double-registering collectors.
	m2 := InitMetrics(prometheus.NewRegistry())
	assert.Same(t, m1, m2)
	assert.Same(t, m1, GetMetrics())
}

func TestMetrics_RecordersDoNotPanic(t *testing.T) {
	m := InitMetrics(prometheus.NewRegistry())

	m.RecordRequest("upload_chunk", "ok", 0.02)
	m.RecordUpload(2048)
	m.RecordDownload(4096)
	m.UpdateFileCounts(3, 7)
	m.RecordSweep(1, 2)
}

func TestMetrics_NilReceiverSafe(t *testing.T) {
	// Hot paths call through GetMetrics() which may be nil before init;
	// every recorder must tolerate that.
	var m *Metrics
	m.RecordRequest("download", "error", 0.5)
	m.RecordUpload(1)
	m.RecordDownload(1)
	m.UpdateFileCounts(0, 0)
	m.RecordSweep(0, 0)
}
