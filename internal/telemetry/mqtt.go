// v4
// internal/telemetry/mqtt.go
package telemetry

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tsromanox/FarmTech/internal/breaker"
)

// MQTTOptions configures an MQTTSink. Broker is a paho URL such as tcp://host:1883 or
// ssl://hub.azure-devices.net:8883.
type MQTTOptions struct {
	Broker            string
	ClientID          string
	ReconnectClientID string
	Username          string
	Password          string
	TLS               *tls.Config
	ConnectTimeout    time.Duration
	QoS               byte

	// Subscribe is an optional topic filter. Inbound messages on it are logged.
	Subscribe string

	// PasswordFunc, when set, replaces Password and is called on every connect attempt with
	// the attempt time. Short-lived credentials such as SAS tokens are signed here.
	PasswordFunc func(now time.Time) (string, error)
}

// MQTTSink publishes records with paho. Paho's own reconnect logic is disabled; the control
// loop owns the reconnect cadence.
type MQTTSink struct {
	opts MQTTOptions
	log  *slog.Logger
	brk  *breaker.Breaker

	newClient func(o *mqtt.ClientOptions) mqtt.Client
	now       func() time.Time

	mu      sync.Mutex
	client  mqtt.Client
	current string
	state   ConnectionState
	pending []mqtt.Token
	lostErr error
}

// NewMQTTSink does not connect. brk guards TryReconnect and may be nil.
func NewMQTTSink(opts MQTTOptions, brk *breaker.Breaker, log *slog.Logger) *MQTTSink {
	if opts.ReconnectClientID == "" {
		opts.ReconnectClientID = opts.ClientID + "_Reconnect"
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	return &MQTTSink{
		opts:      opts,
		log:       log,
		brk:       brk,
		newClient: mqtt.NewClient,
		now:       time.Now,
	}
}

func (s *MQTTSink) Connect(ctx context.Context) error {
	return s.connect(ctx, s.opts.ClientID)
}

// TryReconnect makes a single attempt bounded by ConnectTimeout. While the breaker is open
// it fails fast with breaker.ErrOpen.
func (s *MQTTSink) TryReconnect(ctx context.Context) error {
	if s.brk == nil {
		return s.connect(ctx, s.opts.ReconnectClientID)
	}
	err := s.brk.Execute(ctx, func(ctx context.Context) error {
		return s.connect(ctx, s.opts.ReconnectClientID)
	})
	if errors.Is(err, breaker.ErrOpen) {
		return &SinkError{Op: "reconnect", ClientID: s.opts.ReconnectClientID, Err: err}
	}
	return err
}

func (s *MQTTSink) connect(ctx context.Context, clientID string) error {
	s.setState(Connecting)

	password := s.opts.Password
	if s.opts.PasswordFunc != nil {
		var err error
		if password, err = s.opts.PasswordFunc(s.now()); err != nil {
			s.setState(Disconnected)
			return &SinkError{Op: "credentials", ClientID: clientID, Err: err}
		}
	}

	o := mqtt.NewClientOptions().
		AddBroker(s.opts.Broker).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(s.opts.ConnectTimeout).
		SetConnectionLostHandler(s.onLost)
	if s.opts.Username != "" {
		o.SetUsername(s.opts.Username)
		o.SetPassword(password)
	}
	if s.opts.TLS != nil {
		o.SetTLSConfig(s.opts.TLS)
	}

	c := s.newClient(o)
	tok := c.Connect()
	timer := time.NewTimer(s.opts.ConnectTimeout)
	defer timer.Stop()
	select {
	case <-tok.Done():
	case <-timer.C:
		s.setState(Disconnected)
		c.Disconnect(0)
		return transportErr("connect", clientID, fmt.Errorf("timed out after %s", s.opts.ConnectTimeout))
	case <-ctx.Done():
		s.setState(Disconnected)
		c.Disconnect(0)
		return ctx.Err()
	}
	if err := tok.Error(); err != nil {
		s.setState(Disconnected)
		return transportErr("connect", clientID, err)
	}

	s.mu.Lock()
	old := s.client
	s.client = c
	s.current = clientID
	s.state = Connected
	s.pending = nil
	s.lostErr = nil
	s.mu.Unlock()
	if old != nil {
		old.Disconnect(0)
	}
	s.log.Info("mqtt connected", "broker", s.opts.Broker, "clientId", clientID)
	if s.opts.Subscribe != "" {
		s.subscribe(c)
	}
	return nil
}

// subscribe runs after every connect since sessions are clean. A failed subscription is
// logged and the session stays up.
func (s *MQTTSink) subscribe(c mqtt.Client) {
	tok := c.Subscribe(s.opts.Subscribe, s.opts.QoS, s.onMessage)
	if !tok.WaitTimeout(s.opts.ConnectTimeout) {
		s.log.Warn("mqtt subscribe timed out", "topic", s.opts.Subscribe)
		return
	}
	if err := tok.Error(); err != nil {
		s.log.Warn("mqtt subscribe failed", "topic", s.opts.Subscribe, "err", err)
		return
	}
	s.log.Info("mqtt subscribed", "topic", s.opts.Subscribe)
}

func (s *MQTTSink) onMessage(_ mqtt.Client, m mqtt.Message) {
	s.log.Info("message arrived", "topic", m.Topic(), "payload", string(m.Payload()))
}

// Publish hands the payload to paho and returns without waiting for delivery. Delivery
// failures surface on a later Poll.
func (s *MQTTSink) Publish(topic string, r Record) error {
	s.mu.Lock()
	c, state, id := s.client, s.state, s.current
	s.mu.Unlock()
	if state != Connected || c == nil {
		return ErrNotConnected
	}

	tok := c.Publish(topic, s.opts.QoS, false, r.Encode())
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			s.setState(Disconnected)
			return transportErr("publish", id, err)
		}
		return nil
	default:
	}
	s.mu.Lock()
	s.pending = append(s.pending, tok)
	s.mu.Unlock()
	return nil
}

// Poll collects completed deliveries and notices a dropped session.
func (s *MQTTSink) Poll() {
	s.mu.Lock()
	keep := s.pending[:0]
	var failed error
	for _, tok := range s.pending {
		select {
		case <-tok.Done():
			if err := tok.Error(); err != nil && failed == nil {
				failed = err
			}
		default:
			keep = append(keep, tok)
		}
	}
	s.pending = keep
	lost := s.lostErr
	s.lostErr = nil
	if s.state == Connected && s.client != nil && !s.client.IsConnectionOpen() && lost == nil {
		lost = errors.New("connection closed")
	}
	if failed != nil || lost != nil {
		s.state = Disconnected
	}
	s.mu.Unlock()

	if failed != nil {
		s.log.Warn("mqtt delivery failed", "err", failed)
	}
	if lost != nil {
		s.log.Warn("mqtt connection lost", "err", lost)
	}
}

func (s *MQTTSink) IsConnected() bool { return s.State() == Connected }

func (s *MQTTSink) State() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *MQTTSink) Enabled() bool { return true }

func (s *MQTTSink) Close() {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.state = Disconnected
	s.pending = nil
	s.mu.Unlock()
	if c != nil {
		c.Disconnect(250)
	}
}

// onLost only applies to the current session. A client already replaced by a reconnect
// can report its drop late, e.g. when the broker kicks it for the new session's client id.
func (s *MQTTSink) onLost(c mqtt.Client, err error) {
	s.mu.Lock()
	if c != s.client {
		s.mu.Unlock()
		s.log.Debug("ignoring connection lost from a replaced session", "err", err)
		return
	}
	s.lostErr = err
	s.state = Disconnected
	s.mu.Unlock()
}

func (s *MQTTSink) setState(st ConnectionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// ClientID is the identity of the current session, empty before the first connect.
func (s *MQTTSink) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// BreakerState reports the reconnect breaker, Closed when none is configured.
func (s *MQTTSink) BreakerState() breaker.State {
	if s.brk == nil {
		return breaker.Closed
	}
	return s.brk.State()
}
