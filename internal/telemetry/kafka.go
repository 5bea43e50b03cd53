// v3
// internal/telemetry/kafka.go
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/tsromanox/FarmTech/internal/breaker"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink produces records keyed by device id with an async kafka-go writer. Delivery
// errors arrive through the writer's completion callback and are drained by Poll.
type KafkaSink struct {
	brokers  []string
	deviceID string
	timeout  time.Duration
	log      *slog.Logger
	brk      *breaker.Breaker

	dial      func(ctx context.Context, addr string) error
	newWriter func(brokers []string, done func([]kafka.Message, error)) messageWriter

	errs chan error

	mu     sync.Mutex
	w      messageWriter
	state  ConnectionState
	client string
}

func NewKafkaSink(brokers []string, deviceID string, timeout time.Duration, brk *breaker.Breaker, log *slog.Logger) *KafkaSink {
	return &KafkaSink{
		brokers:   brokers,
		deviceID:  deviceID,
		timeout:   timeout,
		log:       log,
		brk:       brk,
		dial:      dialBroker,
		newWriter: newAsyncWriter,
		errs:      make(chan error, 64),
	}
}

func newAsyncWriter(brokers []string, done func([]kafka.Message, error)) messageWriter {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion:   done,
	}
}

func dialBroker(ctx context.Context, addr string) error {
	conn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (s *KafkaSink) Connect(ctx context.Context) error {
	return s.connect(ctx, s.deviceID)
}

func (s *KafkaSink) TryReconnect(ctx context.Context) error {
	id := s.deviceID + "_Reconnect"
	if s.brk == nil {
		return s.connect(ctx, id)
	}
	err := s.brk.Execute(ctx, func(ctx context.Context) error { return s.connect(ctx, id) })
	if errors.Is(err, breaker.ErrOpen) {
		return &SinkError{Op: "reconnect", ClientID: id, Err: err}
	}
	return err
}

// connect succeeds once any broker accepts a TCP session. The writer itself dials lazily.
func (s *KafkaSink) connect(ctx context.Context, clientID string) error {
	s.setState(Connecting)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var last error
	for _, b := range s.brokers {
		if err := s.dial(ctx, b); err != nil {
			s.log.Warn("broker dial failed", "broker", b, "err", err)
			last = err
			continue
		}
		s.mu.Lock()
		if s.w == nil {
			s.w = s.newWriter(s.brokers, s.complete)
		}
		s.state = Connected
		s.client = clientID
		s.mu.Unlock()
		s.log.Info("kafka connected", "broker", b, "clientId", clientID)
		return nil
	}
	s.setState(Disconnected)
	if last == nil {
		last = errors.New("no brokers configured")
	}
	return transportErr("connect", clientID, last)
}

func (s *KafkaSink) complete(msgs []kafka.Message, err error) {
	if err == nil {
		return
	}
	select {
	case s.errs <- fmt.Errorf("%d message(s): %w", len(msgs), err):
	default:
	}
}

func (s *KafkaSink) Publish(topic string, r Record) error {
	s.mu.Lock()
	w, state, id := s.w, s.state, s.client
	s.mu.Unlock()
	if state != Connected || w == nil {
		return ErrNotConnected
	}
	at := r.Time()
	if at.IsZero() {
		at = time.Now()
	}
	msg := kafka.Message{Topic: topic, Key: []byte(s.deviceID), Value: r.Encode(), Time: at}
	if err := w.WriteMessages(context.Background(), msg); err != nil {
		s.setState(Disconnected)
		return transportErr("publish", id, err)
	}
	return nil
}

// Poll drains delivery failures reported since the last call. Any failure marks the sink
// disconnected so the loop probes the cluster again.
func (s *KafkaSink) Poll() {
	for {
		select {
		case err := <-s.errs:
			s.log.Warn("kafka delivery failed", "err", err)
			s.setState(Disconnected)
		default:
			return
		}
	}
}

func (s *KafkaSink) IsConnected() bool { return s.State() == Connected }

func (s *KafkaSink) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *KafkaSink) Enabled() bool { return true }

func (s *KafkaSink) Close() {
	s.mu.Lock()
	w := s.w
	s.w = nil
	s.state = Disconnected
	s.mu.Unlock()
	if w != nil {
		if err := w.Close(); err != nil {
			s.log.Error("failed to close kafka writer", "err", err)
		}
	}
}

func (s *KafkaSink) setState(st ConnectionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// BreakerState reports the reconnect breaker, Closed when none is configured.
func (s *KafkaSink) BreakerState() breaker.State {
	if s.brk == nil {
		return breaker.Closed
	}
	return s.brk.State()
}
