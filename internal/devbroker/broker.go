// v0
// internal/devbroker/broker.go
package devbroker

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/DrmagicE/gmqtt"
	"github.com/DrmagicE/gmqtt/pkg/packets"

	"github.com/tsromanox/FarmTech/internal/telemetry"
)

// Observation is one telemetry message seen by the broker.
type Observation struct {
	ClientID string
	Topic    string
	Raw      []byte
	Payload  telemetry.Payload
	Err      error
}

// Broker is an embedded MQTT broker for bench runs. It accepts any client and reports
// messages arriving on the telemetry topic.
type Broker struct {
	ln   net.Listener
	p    *plugin
	log  *slog.Logger
	stop func(ctx context.Context)
}

// plugin is the plugin for gmqtt
type plugin struct {
	topic   string
	log     *slog.Logger
	observe func(Observation)
}

// New listens on addr (":1883", "127.0.0.1:0"). The broker does not serve until Start.
// An empty topic observes every topic. observe may be nil.
func New(addr, topic string, log *slog.Logger, observe func(Observation)) (*Broker, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	return &Broker{
		ln:  ln,
		log: log,
		p:   &plugin{topic: topic, log: log, observe: observe},
	}, nil
}

// Addr is the bound listener address.
func (b *Broker) Addr() net.Addr { return b.ln.Addr() }

// Start serves in the background.
func (b *Broker) Start() {
	s := gmqtt.NewServer(
		gmqtt.WithTCPListener(b.ln),
		gmqtt.WithPlugin(b.p),
	)
	s.Run()
	b.stop = func(ctx context.Context) { s.Stop(ctx) }
	b.log.Info("dev broker started", "addr", b.ln.Addr().String(), "topic", b.p.topic)
}

func (b *Broker) Stop(ctx context.Context) {
	if b.stop == nil {
		_ = b.ln.Close()
		return
	}
	b.stop(ctx)
	b.log.Info("dev broker stopped")
}

// Load implements plugin interface
func (p *plugin) Load(gmqtt.Server) error { return nil }

// Unload implements plugin interface
func (p *plugin) Unload() error { return nil }

// Name implements plugin interface
func (p *plugin) Name() string { return "farmtech dev broker" }

// HookWrapper implements plugin interface
func (p *plugin) HookWrapper() gmqtt.HookWrapper {
	return gmqtt.HookWrapper{
		OnConnectWrapper:    p.OnConnectWrapper,
		OnMsgArrivedWrapper: p.OnMsgArrivedWrapper,
	}
}

// OnConnectWrapper logs the client identity; "_Reconnect" ids mark steady-state reconnects.
func (p *plugin) OnConnectWrapper(connect gmqtt.OnConnect) gmqtt.OnConnect {
	return func(ctx context.Context, client gmqtt.Client) (code uint8) {
		id := client.OptionsReader().ClientID()
		p.log.Info("client connect", "clientId", id, "reconnect", strings.HasSuffix(id, "_Reconnect"))
		return connect(ctx, client)
	}
}

// OnMsgArrivedWrapper decodes telemetry on the watched topic. Undecodable payloads are
// still routed; they are only reported.
func (p *plugin) OnMsgArrivedWrapper(arrived gmqtt.OnMsgArrived) gmqtt.OnMsgArrived {
	return func(ctx context.Context, client gmqtt.Client, msg packets.Message) (valid bool) {
		topic := msg.Topic()
		if p.topic == "" || topic == p.topic {
			raw := append([]byte(nil), msg.Payload()...)
			obs := Observation{ClientID: client.OptionsReader().ClientID(), Topic: topic, Raw: raw}
			obs.Payload, obs.Err = telemetry.Decode(raw)
			if obs.Err != nil {
				p.log.Warn("undecodable telemetry", "clientId", obs.ClientID, "topic", topic, "err", obs.Err)
			} else {
				p.log.Info("telemetry",
					"clientId", obs.ClientID,
					"timestamp", obs.Payload.Timestamp,
					"humidity", obs.Payload.Humidity,
					"temperature_C", obs.Payload.Temperature)
			}
			if p.observe != nil {
				p.observe(obs)
			}
		}
		return arrived(ctx, client, msg)
	}
}
