// v2
// internal/telemetry/sink.go
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ConnectionState is the sink's view of its transport.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

var (
	// ErrNotConnected is returned by Publish while the sink is not connected. The transport
	// is not touched.
	ErrNotConnected = errors.New("telemetry sink not connected")
	// ErrTransport marks failures reported by the underlying client.
	ErrTransport = errors.New("telemetry transport error")
)

// SinkError carries the operation and client identity of a transport failure.
type SinkError struct {
	Op       string
	ClientID string
	Err      error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("%s (client %s): %v", e.Op, e.ClientID, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

func transportErr(op, clientID string, err error) *SinkError {
	return &SinkError{Op: op, ClientID: clientID, Err: fmt.Errorf("%w: %w", ErrTransport, err)}
}

// Sink is a best-effort telemetry destination. Publish never waits for acknowledgement and
// Poll must be called once per loop tick to service the transport.
type Sink interface {
	// Connect establishes the primary session. Used at boot only.
	Connect(ctx context.Context) error
	// TryReconnect makes one bounded attempt with the reconnect identity.
	TryReconnect(ctx context.Context) error
	Publish(topic string, r Record) error
	Poll()
	IsConnected() bool
	State() ConnectionState
	// Enabled is false for the null sink; the loop skips publish and reconnect entirely.
	Enabled() bool
	Close()
}

// ConnectBlocking retries Connect with a fixed backoff until it succeeds or ctx ends.
func ConnectBlocking(ctx context.Context, s Sink, backoff time.Duration, log *slog.Logger) error {
	for attempt := 1; ; attempt++ {
		err := s.Connect(ctx)
		if err == nil {
			log.Info("telemetry connected", "attempts", attempt)
			return nil
		}
		log.Warn("telemetry connect failed; retrying", "attempt", attempt, "backoff", backoff.String(), "err", err)
		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// NullSink disables telemetry. Every operation succeeds without I/O and nothing is ever
// published.
type NullSink struct{}

func (NullSink) Connect(context.Context) error      { return nil }
func (NullSink) TryReconnect(context.Context) error { return nil }
func (NullSink) Publish(string, Record) error       { return ErrNotConnected }
func (NullSink) Poll()                              {}
func (NullSink) IsConnected() bool                  { return false }
func (NullSink) State() ConnectionState             { return Disconnected }
func (NullSink) Enabled() bool                      { return false }
func (NullSink) Close()                             {}
