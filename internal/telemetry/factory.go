// v2
// internal/telemetry/factory.go
package telemetry

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/tsromanox/FarmTech/internal/breaker"
	"github.com/tsromanox/FarmTech/internal/config"
	"github.com/tsromanox/FarmTech/internal/logging"
)

// FromConfig builds the sink selected by cfg.Sink and returns the topic records go to.
// now is the clock credentials are signed against.
func FromConfig(cfg *config.Config, log *slog.Logger, now func() time.Time) (Sink, string, error) {
	lg := logging.Component(log, "telemetry")
	switch cfg.Sink {
	case config.SinkNone:
		return NullSink{}, "", nil
	case config.SinkMQTT:
		brk := breaker.New("mqtt-reconnect", cfg.Breaker, lg, nil)
		s := NewMQTTSink(MQTTOptions{
			Broker:         cfg.BrokerURL(),
			ClientID:       cfg.ClientID,
			Username:       cfg.Username,
			Password:       cfg.Password,
			ConnectTimeout: cfg.ConnectTimeout,
			Subscribe:      cfg.SubscribeTopic,
		}, brk, lg)
		return s, cfg.Topic, nil
	case config.SinkAzure:
		opts, err := AzureOptions(cfg.AzureHub, cfg.AzureDeviceID, cfg.AzureDeviceKey, cfg.AzureSASToken,
			cfg.AzureSASTTL, cfg.ConnectTimeout)
		if err != nil {
			return nil, "", fmt.Errorf("azure sink: %w", err)
		}
		if cfg.SubscribeTopic != "" {
			opts.Subscribe = cfg.SubscribeTopic
		}
		if cfg.AzureSASToken != "" {
			logTokenExpiry(lg, cfg.AzureSASToken, now())
		}
		brk := breaker.New("azure-reconnect", cfg.Breaker, lg, nil)
		s := NewMQTTSink(opts, brk, lg)
		s.now = now
		return s, AzureTopic(cfg.AzureDeviceID), nil
	case config.SinkKafka:
		brk := breaker.New("kafka-reconnect", cfg.Breaker, lg, nil)
		return NewKafkaSink(cfg.Brokers(), cfg.DeviceID, cfg.ConnectTimeout, brk, lg), cfg.Topic, nil
	default:
		return nil, "", fmt.Errorf("%w: unknown sink %q", config.ErrInvalid, cfg.Sink)
	}
}

// logTokenExpiry reports when a fixed SAS token stops working. It cannot be renewed, so
// telemetry stays down after that until the token is replaced.
func logTokenExpiry(lg *slog.Logger, token string, now time.Time) {
	exp, err := SASExpiry(token)
	switch {
	case err != nil:
		lg.Warn("cannot read sas token expiry", "err", err)
	case !exp.After(now):
		lg.Error("sas token already expired; configure azure_device_key for renewable tokens", "expiry", exp)
	default:
		lg.Warn("fixed sas token will not be renewed; telemetry stops at expiry", "expiry", exp, "remaining", exp.Sub(now).Round(time.Second).String())
	}
}
