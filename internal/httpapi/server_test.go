// v0
// internal/httpapi/server_test.go
package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsromanox/FarmTech/internal/controller"
	"github.com/tsromanox/FarmTech/internal/logging"
	"github.com/tsromanox/FarmTech/internal/metrics"
)

type staticSource struct{ snap controller.Snapshot }

func (s staticSource) Snapshot() controller.Snapshot { return s.snap }

func newTestServer(t *testing.T, access io.Writer) *httptest.Server {
	t.Helper()
	h := 45.0
	src := staticSource{snap: controller.Snapshot{
		DeviceID:    "dev-1",
		PumpEnabled: true,
		SampleValid: true,
		Humidity:    &h,
		Connection:  "Connected",
		Stats:       controller.Stats{Ticks: 3},
	}}
	m := metrics.New()
	m.Pump(true)
	s := NewServer(":0", logging.Discard(), src, m, access)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestHealth(t *testing.T) {
	access := &lockedBuffer{}
	ts := newTestServer(t, access)
	code, body := get(t, ts.URL+"/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "OK", body)
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(access.String()), []byte("GET /health"))
	}, time.Second, 10*time.Millisecond)
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, io.Discard)
	code, body := get(t, ts.URL+"/status")
	require.Equal(t, http.StatusOK, code)

	var got controller.Snapshot
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, "dev-1", got.DeviceID)
	assert.True(t, got.PumpEnabled)
	require.NotNil(t, got.Humidity)
	assert.Equal(t, 45.0, *got.Humidity)
	assert.Nil(t, got.Temperature)
	assert.Equal(t, int64(3), got.Stats.Ticks)
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t, io.Discard)
	get(t, ts.URL+"/status")
	code, body := get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "farmtech_pump_enabled 1")
	assert.Contains(t, body, `farmtech_http_requests_total{code="200",route="status"} 1`)
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, io.Discard)
	resp, err := http.Post(ts.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
