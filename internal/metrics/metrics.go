// v1
// internal/metrics/metrics.go
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the controller collectors. All methods are safe on a nil receiver so
// components can run without instrumentation.
type Metrics struct {
	reg *prometheus.Registry

	ticks         prometheus.Counter
	tickDuration  prometheus.Histogram
	sensorFaults  prometheus.Counter
	publishes     *prometheus.CounterVec
	reconnects    *prometheus.CounterVec
	pumpEnabled   prometheus.Gauge
	humidity      prometheus.Gauge
	temperature   prometheus.Gauge
	sinkConnected prometheus.Gauge
	cbState       *prometheus.GaugeVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmtech_ticks_total",
			Help: "Control loop ticks executed.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "farmtech_tick_duration_seconds",
			Help:    "Wall time spent inside one control loop tick.",
			Buckets: prometheus.DefBuckets,
		}),
		sensorFaults: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "farmtech_sensor_faults_total",
			Help: "Sensor reads that produced an invalid sample.",
		}),
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmtech_publish_total",
			Help: "Telemetry publish attempts by result.",
		}, []string{"result"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmtech_reconnect_attempts_total",
			Help: "Telemetry reconnect attempts by result.",
		}, []string{"result"}),
		pumpEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "farmtech_pump_enabled",
			Help: "1 while the pump relay is driven on.",
		}),
		humidity: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "farmtech_humidity_percent",
			Help: "Last valid relative humidity reading.",
		}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "farmtech_temperature_celsius",
			Help: "Last valid temperature reading.",
		}),
		sinkConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "farmtech_sink_connected",
			Help: "1 while the telemetry sink is connected.",
		}),
		cbState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "farmtech_cb_state",
			Help: "Circuit breaker state gauge (0 closed, 1 open, 2 half open).",
		}, []string{"target"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "farmtech_http_requests_total",
			Help: "Status API requests by route and response code.",
		}, []string{"route", "code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "farmtech_http_request_duration_seconds",
			Help:    "Status API latency by route.",
			Buckets: []float64{.001, .005, .01, .05, .1, .5},
		}, []string{"route"}),
	}

	m.reg.MustRegister(
		m.ticks,
		m.tickDuration,
		m.sensorFaults,
		m.publishes,
		m.reconnects,
		m.pumpEnabled,
		m.humidity,
		m.temperature,
		m.sinkConnected,
		m.cbState,
		m.httpRequests,
		m.httpLatency,
	)
	return m
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// WrapHandler counts requests by status code and observes latency for one route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	labels := prometheus.Labels{"route": route}
	return promhttp.InstrumentHandlerDuration(m.httpLatency.MustCurryWith(labels),
		promhttp.InstrumentHandlerCounter(m.httpRequests.MustCurryWith(labels), next))
}

func (m *Metrics) Tick(d time.Duration) {
	if m == nil {
		return
	}
	m.ticks.Inc()
	m.tickDuration.Observe(d.Seconds())
}

func (m *Metrics) SensorFault() {
	if m == nil {
		return
	}
	m.sensorFaults.Inc()
}

func (m *Metrics) Reading(humidity, temperature float64) {
	if m == nil {
		return
	}
	m.humidity.Set(humidity)
	m.temperature.Set(temperature)
}

func (m *Metrics) Pump(on bool) {
	if m == nil {
		return
	}
	m.pumpEnabled.Set(b2f(on))
}

func (m *Metrics) Publish(ok bool) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) Reconnect(ok bool) {
	if m == nil {
		return
	}
	m.reconnects.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) SinkConnected(on bool) {
	if m == nil {
		return
	}
	m.sinkConnected.Set(b2f(on))
}

func (m *Metrics) SetCircuitBreakerState(target string, state float64) {
	if m == nil {
		return
	}
	m.cbState.WithLabelValues(target).Set(state)
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
