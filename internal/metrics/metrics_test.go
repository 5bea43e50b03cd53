// v0
// internal/metrics/metrics_test.go
package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRecord(t *testing.T) {
	m := New()
	m.Tick(10 * time.Millisecond)
	m.Tick(10 * time.Millisecond)
	m.SensorFault()
	m.Publish(true)
	m.Publish(false)
	m.Reconnect(false)
	m.Pump(true)
	m.Reading(45, 22)
	m.SinkConnected(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ticks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sensorFaults))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishes.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publishes.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnects.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pumpEnabled))
	assert.Equal(t, 45.0, testutil.ToFloat64(m.humidity))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkConnected))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Tick(time.Millisecond)
		m.SensorFault()
		m.Publish(true)
		m.Reconnect(true)
		m.Pump(false)
		m.Reading(1, 2)
		m.SinkConnected(false)
		m.SetCircuitBreakerState("mqtt", 1)
	})
}

func TestHandlerExposesRegistry(t *testing.T) {
	m := New()
	m.Pump(true)
	srv := httptest.NewServer(m.WrapHandler("metrics", m.Handler()))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "farmtech_pump_enabled 1"))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.httpRequests.WithLabelValues("metrics", "200")) == 1
	}, time.Second, 10*time.Millisecond)
}
