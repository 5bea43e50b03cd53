// v3
// internal/controller/controller.go
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tsromanox/FarmTech/internal/actuator"
	"github.com/tsromanox/FarmTech/internal/breaker"
	"github.com/tsromanox/FarmTech/internal/clock"
	"github.com/tsromanox/FarmTech/internal/display"
	"github.com/tsromanox/FarmTech/internal/logging"
	"github.com/tsromanox/FarmTech/internal/metrics"
	"github.com/tsromanox/FarmTech/internal/sensor"
	"github.com/tsromanox/FarmTech/internal/telemetry"
)

// Options are the loop tunables.
type Options struct {
	DeviceID         string
	Topic            string
	Threshold        float64
	Interval         time.Duration
	Frame            time.Duration
	ReconnectBackoff time.Duration
	UTCOffset        time.Duration
}

// Deps are the collaborators the loop drives. Metrics may be nil.
type Deps struct {
	Reader    sensor.Reader
	Relay     actuator.Output
	LED       actuator.Output
	Sink      telemetry.Sink
	Presenter display.Presenter
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Log       *slog.Logger
}

// Stats holds some counters for the /status endpoint.
type Stats struct {
	Ticks             int64 `json:"ticks"`
	SensorFaults      int64 `json:"sensorFaults"`
	Published         int64 `json:"published"`
	PublishErrors     int64 `json:"publishErrors"`
	ReconnectAttempts int64 `json:"reconnectAttempts"`
	ReconnectFailures int64 `json:"reconnectFailures"`
}

type breakerReporter interface {
	BreakerState() breaker.State
}

// Controller owns every piece of loop state. Only the goroutine running Step/Run mutates
// it; mu guards the copy read by Snapshot.
type Controller struct {
	opts Options
	d    Deps
	log  *slog.Logger

	pump     actuator.State
	lastTick time.Time
	ticked   bool

	mu       sync.Mutex
	sample   sensor.Sample
	pumpView actuator.State
	stats    Stats
	tickAt   time.Time
}

func New(opts Options, d Deps) *Controller {
	return &Controller{
		opts:   opts,
		d:      d,
		log:    logging.Component(d.Log, "controller"),
		sample: sensor.InvalidSample(time.Time{}),
	}
}

// Step runs one tick when the interval has elapsed since the last tick started, then
// renders. It reports whether a tick ran.
func (c *Controller) Step(ctx context.Context, now time.Time) bool {
	ran := false
	if !c.ticked || now.Sub(c.lastTick) >= c.opts.Interval {
		c.advance(now)
		c.tick(ctx)
		ran = true
	}
	c.render(c.d.Sink.State())
	return ran
}

// advance moves the tick anchor by one interval so late frames do not shift later ticks.
// After a stall of a whole interval or more the anchor restarts at now instead of bursting.
func (c *Controller) advance(now time.Time) {
	if !c.ticked {
		c.ticked = true
		c.lastTick = now
		return
	}
	c.lastTick = c.lastTick.Add(c.opts.Interval)
	if now.Sub(c.lastTick) >= c.opts.Interval {
		c.lastTick = now
	}
}

func (c *Controller) tick(ctx context.Context) {
	start := time.Now()

	// sampling
	s := c.d.Reader.Read()
	if s.Valid() {
		c.setOutput(c.d.LED, true, "led")
		c.d.Metrics.Reading(s.Humidity, s.Temperature)
		c.log.Debug("sample", "humidity", s.Humidity, "temperature", s.Temperature)
	} else {
		c.setOutput(c.d.LED, false, "led")
		c.d.Metrics.SensorFault()
		c.log.Warn("sensor fault: reading is not a number; holding previous pump state", "pump", c.pump.String())
	}

	// deciding
	next := actuator.Decide(s, c.pump, c.opts.Threshold)
	if next != c.pump {
		c.log.Info("pump state changed", "from", c.pump.String(), "to", next.String(), "valid", s.Valid(), "threshold", c.opts.Threshold)
	}
	c.pump = next
	c.setOutput(c.d.Relay, next.Enabled, "relay")
	c.d.Metrics.Pump(next.Enabled)

	// publishing
	published, pubErr, reconnected, recErr := c.publish(ctx, s)

	c.mu.Lock()
	c.sample = s
	c.pumpView = next
	c.tickAt = c.d.Clock.Now()
	c.stats.Ticks++
	if !s.Valid() {
		c.stats.SensorFaults++
	}
	if published {
		c.stats.Published++
	}
	if pubErr {
		c.stats.PublishErrors++
	}
	if reconnected {
		c.stats.ReconnectAttempts++
		if recErr {
			c.stats.ReconnectFailures++
		}
	}
	c.mu.Unlock()

	c.d.Metrics.SinkConnected(c.d.Sink.IsConnected())
	if br, ok := c.d.Sink.(breakerReporter); ok {
		c.d.Metrics.SetCircuitBreakerState("telemetry", float64(br.BreakerState()))
	}
	c.d.Metrics.Tick(time.Since(start))
}

// publish services the sink once, makes at most one reconnect attempt and publishes a
// valid sample only while connected.
func (c *Controller) publish(ctx context.Context, s sensor.Sample) (published, pubErr, attempted, recErr bool) {
	sink := c.d.Sink
	sink.Poll()
	if !sink.Enabled() {
		return
	}
	if !sink.IsConnected() {
		attempted = true
		if err := sink.TryReconnect(ctx); err != nil {
			recErr = true
			c.d.Metrics.Reconnect(false)
			if errors.Is(err, breaker.ErrOpen) {
				c.log.Debug("reconnect skipped; breaker open", "err", err)
			} else {
				c.log.Warn("reconnect failed", "err", err)
			}
		} else {
			c.d.Metrics.Reconnect(true)
			c.log.Info("telemetry reconnected")
		}
	}
	if !s.Valid() || !sink.IsConnected() {
		return
	}
	rec := telemetry.NewRecord(s, c.d.Clock.Now())
	if err := sink.Publish(c.opts.Topic, rec); err != nil {
		pubErr = true
		c.d.Metrics.Publish(false)
		c.log.Warn("publish failed", "topic", c.opts.Topic, "err", err)
		return
	}
	published = true
	c.d.Metrics.Publish(true)
	c.log.Debug("published", "topic", c.opts.Topic, "payload", string(rec.Encode()))
	return
}

func (c *Controller) render(conn telemetry.ConnectionState) {
	c.mu.Lock()
	s := c.sample
	c.mu.Unlock()
	c.d.Presenter.Render(display.Status{
		Pump:        c.pump,
		Sample:      s,
		Connection:  conn,
		Now:         c.d.Clock.Now().Add(c.opts.UTCOffset),
		ClockSynced: c.d.Clock.Synced(),
	})
}

func (c *Controller) setOutput(o actuator.Output, on bool, name string) {
	if o == nil {
		return
	}
	if err := o.Set(on); err != nil {
		c.log.Error("output write failed", "output", name, "on", on, "err", err)
	}
}

// Run drives both outputs low, connects the sink (blocking until online unless telemetry
// is disabled) and then steps every frame until ctx ends. The relay is left low on exit.
func (c *Controller) Run(ctx context.Context) error {
	c.setOutput(c.d.Relay, false, "relay")
	c.setOutput(c.d.LED, false, "led")
	defer func() {
		c.setOutput(c.d.Relay, false, "relay")
		c.setOutput(c.d.LED, false, "led")
		c.d.Sink.Close()
		c.log.Info("controller stopped")
	}()

	if c.d.Sink.Enabled() {
		c.render(telemetry.Connecting)
		if err := telemetry.ConnectBlocking(ctx, c.d.Sink, c.opts.ReconnectBackoff, c.log); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
	c.log.Info("controller loop starting", "interval", c.opts.Interval.String(), "frame", c.opts.Frame.String(), "threshold", c.opts.Threshold)

	t := time.NewTicker(c.opts.Frame)
	defer t.Stop()
	c.Step(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			c.Step(ctx, now)
		}
	}
}

// Snapshot is the JSON view served on /status. Readings are nil while the last sample is
// invalid.
type Snapshot struct {
	DeviceID    string    `json:"deviceId"`
	PumpEnabled bool      `json:"pumpEnabled"`
	SampleValid bool      `json:"sampleValid"`
	Humidity    *float64  `json:"humidity"`
	Temperature *float64  `json:"temperature_C"`
	Connection  string    `json:"connection"`
	LastTick    time.Time `json:"lastTick"`
	ClockSynced bool      `json:"clockSynced"`
	Threshold   float64   `json:"threshold"`
	Stats       Stats     `json:"stats"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	s, st, at := c.sample, c.stats, c.tickAt
	c.mu.Unlock()
	snap := Snapshot{
		DeviceID:    c.opts.DeviceID,
		PumpEnabled: c.Pump().Enabled,
		SampleValid: s.Valid(),
		Connection:  c.d.Sink.State().String(),
		LastTick:    at,
		ClockSynced: c.d.Clock.Synced(),
		Threshold:   c.opts.Threshold,
		Stats:       st,
	}
	if s.Valid() {
		h, t := s.Humidity, s.Temperature
		snap.Humidity = &h
		snap.Temperature = &t
	}
	return snap
}

// Pump is the last applied actuator state.
func (c *Controller) Pump() actuator.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pumpView
}
