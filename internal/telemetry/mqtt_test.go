// v2
// internal/telemetry/mqtt_test.go
package telemetry

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsromanox/FarmTech/internal/breaker"
	"github.com/tsromanox/FarmTech/internal/logging"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken() *fakeToken { return &fakeToken{done: make(chan struct{})} }

func doneToken(err error) *fakeToken {
	t := newToken()
	t.complete(err)
	return t
}

func (t *fakeToken) complete(err error) {
	t.err = err
	close(t.done)
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type publishCall struct {
	topic   string
	payload string
}

// fakeBroker hands out fakeClients and records what they do.
type fakeBroker struct {
	mu         sync.Mutex
	connectErr error
	hang       bool
	nextPub    func() *fakeToken
	clients    []*fakeClient
	published  []publishCall
	subErr     error
	subs       []string
	handler    mqtt.MessageHandler
}

func (b *fakeBroker) newClient(o *mqtt.ClientOptions) mqtt.Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := &fakeClient{b: b, opts: o}
	b.clients = append(b.clients, c)
	return c
}

func (b *fakeBroker) last() *fakeClient {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clients[len(b.clients)-1]
}

func (b *fakeBroker) dials() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

type fakeClient struct {
	b    *fakeBroker
	opts *mqtt.ClientOptions
	mu   sync.Mutex
	open bool
}

func (c *fakeClient) IsConnected() bool { return c.IsConnectionOpen() }
func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}
func (c *fakeClient) Connect() mqtt.Token {
	c.b.mu.Lock()
	err, hang := c.b.connectErr, c.b.hang
	c.b.mu.Unlock()
	if hang {
		return newToken()
	}
	if err == nil {
		c.mu.Lock()
		c.open = true
		c.mu.Unlock()
	}
	return doneToken(err)
}
func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
}
func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.published = append(c.b.published, publishCall{topic: topic, payload: string(payload.([]byte))})
	if c.b.nextPub != nil {
		return c.b.nextPub()
	}
	return doneToken(nil)
}
func (c *fakeClient) Subscribe(topic string, _ byte, h mqtt.MessageHandler) mqtt.Token {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	c.b.subs = append(c.b.subs, topic)
	c.b.handler = h
	return doneToken(c.b.subErr)
}
func (c *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return doneToken(nil)
}
func (c *fakeClient) Unsubscribe(...string) mqtt.Token            { return doneToken(nil) }
func (c *fakeClient) AddRoute(string, mqtt.MessageHandler)         {}
func (c *fakeClient) OptionsReader() mqtt.ClientOptionsReader      { return mqtt.ClientOptionsReader{} }
func (c *fakeClient) drop(err error) {
	c.mu.Lock()
	c.open = false
	c.mu.Unlock()
	c.opts.OnConnectionLost(c, err)
}

func newTestSink(b *fakeBroker, brk *breaker.Breaker) *MQTTSink {
	s := NewMQTTSink(MQTTOptions{
		Broker:         "tcp://localhost:1883",
		ClientID:       "DHTClientMain",
		ConnectTimeout: 50 * time.Millisecond,
	}, brk, logging.Discard())
	s.newClient = b.newClient
	return s
}

var testRecord = Record{Timestamp: "2023-10-27T10:30:00Z", Humidity: 45, Temperature: 22}

func TestMQTTConnectAndPublish(t *testing.T) {
	b := &fakeBroker{}
	s := newTestSink(b, nil)
	assert.Equal(t, Disconnected, s.State())

	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.IsConnected())
	assert.Equal(t, "DHTClientMain", b.last().opts.ClientID)
	assert.False(t, b.last().opts.AutoReconnect)

	require.NoError(t, s.Publish("sensor/data", testRecord))
	require.Len(t, b.published, 1)
	assert.Equal(t, "sensor/data", b.published[0].topic)
	assert.Equal(t, `{"timestamp": "2023-10-27T10:30:00Z","humidity": 45.00,"temperature_C": 22.00}`, b.published[0].payload)
}

func TestMQTTConnectFailure(t *testing.T) {
	b := &fakeBroker{connectErr: errors.New("connection refused")}
	s := newTestSink(b, nil)

	err := s.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	var se *SinkError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "connect", se.Op)
	assert.Equal(t, "DHTClientMain", se.ClientID)
	assert.Equal(t, Disconnected, s.State())
}

func TestMQTTConnectTimesOut(t *testing.T) {
	b := &fakeBroker{hang: true}
	s := newTestSink(b, nil)

	start := time.Now()
	err := s.Connect(context.Background())
	assert.ErrorIs(t, err, ErrTransport)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, Disconnected, s.State())
}

func TestMQTTPublishWhileDisconnected(t *testing.T) {
	b := &fakeBroker{}
	s := newTestSink(b, nil)

	err := s.Publish("sensor/data", testRecord)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, b.published)
}

func TestMQTTPollObservesFailedDelivery(t *testing.T) {
	b := &fakeBroker{}
	s := newTestSink(b, nil)
	require.NoError(t, s.Connect(context.Background()))

	tok := newToken()
	b.nextPub = func() *fakeToken { return tok }
	require.NoError(t, s.Publish("sensor/data", testRecord))
	s.Poll()
	assert.True(t, s.IsConnected(), "pending delivery must not change state")

	tok.complete(errors.New("write: broken pipe"))
	s.Poll()
	assert.Equal(t, Disconnected, s.State())
}

func TestMQTTImmediatePublishErrorDisconnects(t *testing.T) {
	b := &fakeBroker{}
	s := newTestSink(b, nil)
	require.NoError(t, s.Connect(context.Background()))

	b.nextPub = func() *fakeToken { return doneToken(errors.New("not Connected")) }
	err := s.Publish("sensor/data", testRecord)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, Disconnected, s.State())
}

func TestMQTTConnectionLost(t *testing.T) {
	b := &fakeBroker{}
	s := newTestSink(b, nil)
	require.NoError(t, s.Connect(context.Background()))

	b.last().drop(errors.New("EOF"))
	assert.False(t, s.IsConnected())
	s.Poll()
	assert.Equal(t, Disconnected, s.State())
}

func TestMQTTReconnectUsesReconnectIdentity(t *testing.T) {
	b := &fakeBroker{}
	s := newTestSink(b, nil)

	require.NoError(t, s.TryReconnect(context.Background()))
	assert.Equal(t, "DHTClientMain_Reconnect", b.last().opts.ClientID)
	assert.Equal(t, "DHTClientMain_Reconnect", s.ClientID())
}

func TestMQTTReconnectFastFailsWhenBreakerOpen(t *testing.T) {
	b := &fakeBroker{connectErr: errors.New("connection refused")}
	brk := breaker.New("test", breaker.Config{MaxFailures: 2, ResetTimeout: time.Hour, SuccessesToClose: 1}, nil, nil)
	s := newTestSink(b, brk)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, s.TryReconnect(context.Background()), ErrTransport)
	}
	dials := b.dials()

	err := s.TryReconnect(context.Background())
	assert.ErrorIs(t, err, breaker.ErrOpen)
	assert.Equal(t, dials, b.dials(), "open breaker must not dial")
}

func TestMQTTClose(t *testing.T) {
	b := &fakeBroker{}
	s := newTestSink(b, nil)
	require.NoError(t, s.Connect(context.Background()))
	c := b.last()

	s.Close()
	assert.False(t, c.IsConnectionOpen())
	assert.Equal(t, Disconnected, s.State())
	assert.ErrorIs(t, s.Publish("sensor/data", testRecord), ErrNotConnected)
}

func TestMQTTLostFromReplacedSessionIsIgnored(t *testing.T) {
	b := &fakeBroker{}
	s := newTestSink(b, nil)
	require.NoError(t, s.Connect(context.Background()))
	first := b.last()

	b.nextPub = func() *fakeToken { return doneToken(errors.New("write: broken pipe")) }
	assert.ErrorIs(t, s.Publish("sensor/data", testRecord), ErrTransport)
	b.nextPub = nil
	require.NoError(t, s.TryReconnect(context.Background()))
	second := b.last()

	// the broker kicks the old session after the new one is up
	first.drop(errors.New("EOF"))
	s.Poll()

	assert.True(t, second.IsConnectionOpen())
	assert.Equal(t, Connected, s.State())
	require.NoError(t, s.Publish("sensor/data", testRecord))
}

func TestMQTTReconnectAfterTokenLifetimeUsesFreshToken(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte("device-key"))
	opts, err := AzureOptions("farmtech", "esp32-01", key, "", time.Hour, 50*time.Millisecond)
	require.NoError(t, err)

	b := &fakeBroker{}
	s := NewMQTTSink(opts, nil, logging.Discard())
	s.newClient = b.newClient
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Connect(context.Background()))
	bootToken := b.last().opts.Password
	exp, err := SASExpiry(bootToken)
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), exp)

	// hub drops the session once the token expires
	now = now.Add(2 * time.Hour)
	b.last().drop(errors.New("not authorized"))
	s.Poll()
	require.False(t, s.IsConnected())

	require.NoError(t, s.TryReconnect(context.Background()))
	fresh := b.last().opts.Password
	assert.NotEqual(t, bootToken, fresh)
	exp, err = SASExpiry(fresh)
	require.NoError(t, err)
	assert.True(t, exp.After(now), "token presented on reconnect must outlive the reconnect")
	assert.Equal(t, "farmtech.azure-devices.net/esp32-01/?api-version=2021-04-12", b.last().opts.Username)
}

func TestMQTTCredentialErrorSkipsDial(t *testing.T) {
	b := &fakeBroker{}
	s := newTestSink(b, nil)
	s.opts.Username = "user"
	s.opts.PasswordFunc = func(time.Time) (string, error) { return "", errors.New("key unavailable") }

	err := s.Connect(context.Background())
	var se *SinkError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "credentials", se.Op)
	assert.Zero(t, b.dials())
	assert.Equal(t, Disconnected, s.State())
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestMQTTSubscribeLogsInboundMessages(t *testing.T) {
	const filter = "devices/esp32-01/messages/devicebound/#"
	var buf bytes.Buffer
	b := &fakeBroker{}
	s := newTestSink(b, nil)
	s.log = slog.New(slog.NewTextHandler(&buf, nil))
	s.opts.Subscribe = filter

	require.NoError(t, s.Connect(context.Background()))
	require.NoError(t, s.TryReconnect(context.Background()))
	assert.Equal(t, []string{filter, filter}, b.subs, "clean sessions subscribe on every connect")

	require.NotNil(t, b.handler)
	b.handler(b.last(), fakeMessage{topic: "devices/esp32-01/messages/devicebound/%24.to=x", payload: []byte("valve=open")})
	assert.Contains(t, buf.String(), "message arrived")
	assert.Contains(t, buf.String(), "valve=open")
}

func TestMQTTSubscribeFailureKeepsSession(t *testing.T) {
	b := &fakeBroker{subErr: errors.New("not authorized")}
	s := newTestSink(b, nil)
	s.opts.Subscribe = "cmd/#"

	require.NoError(t, s.Connect(context.Background()))
	assert.True(t, s.IsConnected())
}

func TestMQTTNoSubscribeByDefault(t *testing.T) {
	b := &fakeBroker{}
	s := newTestSink(b, nil)
	require.NoError(t, s.Connect(context.Background()))
	assert.Empty(t, b.subs)
}
