// v2
// internal/config/config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"

	"github.com/tsromanox/FarmTech/internal/breaker"
)

// ErrInvalid wraps every validation failure so callers can tell bad settings from I/O errors.
var ErrInvalid = errors.New("invalid configuration")

// Sink kinds.
const (
	SinkNone  = "none"
	SinkMQTT  = "mqtt"
	SinkAzure = "azure"
	SinkKafka = "kafka"
)

// Sensor kinds.
const (
	SensorDHT11 = "dht11"
	SensorDHT22 = "dht22"
	SensorSim   = "sim"
)

// Display kinds.
const (
	DisplayTerminal = "terminal"
	DisplayLog      = "log"
	DisplayNone     = "none"
)

// Config holds every runtime option of the controller. Values come from defaults, then the
// properties file, then FARMTECH_* environment variables, then CLI flags.
type Config struct {
	PropertiesPath string `env:"FARMTECH_PROPERTIES"`
	LogLevel       string `env:"LOG_LEVEL"`

	// Network association is owned by the host; these are reported only.
	SSID         string `env:"FARMTECH_SSID"`
	WiFiPassword string `env:"FARMTECH_WIFI_PASSWORD"`

	Sink             string        `env:"FARMTECH_SINK"`
	BrokerHost       string        `env:"FARMTECH_BROKER_HOST"`
	BrokerPort       int           `env:"FARMTECH_BROKER_PORT"`
	Topic            string        `env:"FARMTECH_TOPIC"`
	SubscribeTopic   string        `env:"FARMTECH_SUBSCRIBE_TOPIC"`
	Username         string        `env:"FARMTECH_USERNAME"`
	Password         string        `env:"FARMTECH_PASSWORD"`
	ClientID         string        `env:"FARMTECH_CLIENT_ID"`
	DeviceID         string        `env:"FARMTECH_DEVICE_ID"`
	ReconnectBackoff time.Duration `env:"FARMTECH_RECONNECT_BACKOFF"`
	ConnectTimeout   time.Duration `env:"FARMTECH_CONNECT_TIMEOUT"`
	KafkaBrokers     string        `env:"FARMTECH_KAFKA_BROKERS"`

	AzureHub       string        `env:"FARMTECH_AZURE_HUB"`
	AzureDeviceID  string        `env:"FARMTECH_AZURE_DEVICE_ID"`
	AzureDeviceKey string        `env:"FARMTECH_AZURE_DEVICE_KEY"`
	AzureSASToken  string        `env:"FARMTECH_AZURE_SAS_TOKEN"`
	AzureSASTTL    time.Duration `env:"FARMTECH_AZURE_SAS_TTL"`

	SensorType   string  `env:"FARMTECH_SENSOR_TYPE"`
	SensorPin    string  `env:"FARMTECH_SENSOR_PIN"`
	SimFaultRate float64 `env:"FARMTECH_SIM_FAULT_RATE"`
	RelayPin     string  `env:"FARMTECH_RELAY_PIN"`
	LEDPin       string  `env:"FARMTECH_LED_PIN"`

	Threshold  float64 `env:"FARMTECH_THRESHOLD"`
	IntervalMS int     `env:"FARMTECH_INTERVAL_MS"`
	FrameMS    int     `env:"FARMTECH_FRAME_MS"`

	NTPServer string        `env:"FARMTECH_NTP_SERVER"`
	NTPResync time.Duration `env:"FARMTECH_NTP_RESYNC"`
	UTCOffset time.Duration `env:"FARMTECH_UTC_OFFSET"`

	Display  string `env:"FARMTECH_DISPLAY"`
	HTTPBind string `env:"FARMTECH_HTTP_BIND"`

	Breaker breaker.Config
}

// Defaults returns the reference behaviour of the FarmTech sketch.
func Defaults() *Config {
	return &Config{
		LogLevel:         "info",
		Sink:             SinkNone,
		BrokerHost:       "localhost",
		BrokerPort:       1883,
		Topic:            "sensor/data",
		ClientID:         "DHTClientMain",
		ReconnectBackoff: 5 * time.Second,
		ConnectTimeout:   2 * time.Second,
		AzureSASTTL:      time.Hour,
		SensorType:       SensorDHT22,
		SensorPin:        "GPIO15",
		RelayPin:         "GPIO2",
		LEDPin:           "GPIO23",
		Threshold:        50.0,
		IntervalMS:       1000,
		FrameMS:          250,
		NTPServer:        "pool.ntp.org",
		NTPResync:        time.Hour,
		Display:          DisplayTerminal,
		Breaker:          breaker.DefaultConfig(),
	}
}

// Load builds the configuration. path may be empty, in which case FARMTECH_PROPERTIES is
// consulted; with neither set only defaults and environment apply.
func Load(path string, log *slog.Logger) (*Config, error) {
	cfg := Defaults()
	if path == "" {
		path = os.Getenv("FARMTECH_PROPERTIES")
	}
	if path != "" {
		props, err := loadProps(path)
		if err != nil {
			return nil, err
		}
		cfg.applyProps(props, log)
		cfg.PropertiesPath = path
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Interval is the tick cadence.
func (c *Config) Interval() time.Duration { return time.Duration(c.IntervalMS) * time.Millisecond }

// Frame is the render cadence between ticks.
func (c *Config) Frame() time.Duration { return time.Duration(c.FrameMS) * time.Millisecond }

// Brokers splits the kafka_brokers option.
func (c *Config) Brokers() []string { return splitCSV(c.KafkaBrokers) }

// BrokerURL is the paho broker address for the plain MQTT sink.
func (c *Config) BrokerURL() string {
	return "tcp://" + c.BrokerHost + ":" + strconv.Itoa(c.BrokerPort)
}

// Validate checks ranges and the settings each sink kind depends on.
func (c *Config) Validate() error {
	if c.IntervalMS <= 0 {
		return fmt.Errorf("%w: interval_ms must be > 0 (got %d)", ErrInvalid, c.IntervalMS)
	}
	if c.FrameMS <= 0 {
		return fmt.Errorf("%w: frame_ms must be > 0 (got %d)", ErrInvalid, c.FrameMS)
	}
	if c.Threshold <= 0 || c.Threshold > 100 {
		return fmt.Errorf("%w: threshold must be in (0,100] (got %.2f)", ErrInvalid, c.Threshold)
	}
	if c.ReconnectBackoff <= 0 {
		return fmt.Errorf("%w: reconnect_backoff must be > 0", ErrInvalid)
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect_timeout must be > 0", ErrInvalid)
	}
	switch c.SensorType {
	case SensorDHT11, SensorDHT22, SensorSim:
	default:
		return fmt.Errorf("%w: unknown sensor_type %q", ErrInvalid, c.SensorType)
	}
	if c.SimFaultRate < 0 || c.SimFaultRate > 1 {
		return fmt.Errorf("%w: sim_fault_rate must be in [0,1]", ErrInvalid)
	}
	switch c.Display {
	case DisplayTerminal, DisplayLog, DisplayNone:
	default:
		return fmt.Errorf("%w: unknown display %q", ErrInvalid, c.Display)
	}
	switch c.Sink {
	case SinkNone:
	case SinkMQTT:
		if c.BrokerHost == "" || c.BrokerPort <= 0 || c.BrokerPort > 65535 {
			return fmt.Errorf("%w: mqtt sink needs broker_host and broker_port", ErrInvalid)
		}
		if c.Topic == "" {
			return fmt.Errorf("%w: mqtt sink needs a topic", ErrInvalid)
		}
	case SinkAzure:
		if c.AzureHub == "" || c.AzureDeviceID == "" {
			return fmt.Errorf("%w: azure sink needs azure_hub and azure_device_id", ErrInvalid)
		}
		if c.AzureSASToken == "" && c.AzureDeviceKey == "" {
			return fmt.Errorf("%w: azure sink needs azure_sas_token or azure_device_key", ErrInvalid)
		}
	case SinkKafka:
		if len(c.Brokers()) == 0 {
			return fmt.Errorf("%w: kafka sink needs kafka_brokers", ErrInvalid)
		}
		if c.Topic == "" {
			return fmt.Errorf("%w: kafka sink needs a topic", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown sink %q", ErrInvalid, c.Sink)
	}
	if err := c.Breaker.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

func loadProps(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open properties file %s: %w", path, err)
	}
	defer f.Close()

	m := map[string]string{}
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		m[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Config) applyProps(props map[string]string, log *slog.Logger) {
	strs := map[string]*string{
		"ssid":             &c.SSID,
		"wifi_password":    &c.WiFiPassword,
		"sink":             &c.Sink,
		"broker_host":      &c.BrokerHost,
		"topic":            &c.Topic,
		"subscribe_topic":  &c.SubscribeTopic,
		"username":         &c.Username,
		"password":         &c.Password,
		"client_id":        &c.ClientID,
		"device_id":        &c.DeviceID,
		"kafka_brokers":    &c.KafkaBrokers,
		"azure_hub":        &c.AzureHub,
		"azure_device_id":  &c.AzureDeviceID,
		"azure_device_key": &c.AzureDeviceKey,
		"azure_sas_token":  &c.AzureSASToken,
		"sensor_type":      &c.SensorType,
		"sensor_pin":       &c.SensorPin,
		"relay_pin":        &c.RelayPin,
		"led_pin":          &c.LEDPin,
		"ntp_server":       &c.NTPServer,
		"display":          &c.Display,
		"http_bind":        &c.HTTPBind,
		"log_level":        &c.LogLevel,
	}
	for k, p := range strs {
		if v, ok := props[k]; ok {
			*p = v
		}
	}

	c.BrokerPort = geti(props, "broker_port", c.BrokerPort, log)
	c.IntervalMS = geti(props, "interval_ms", c.IntervalMS, log)
	c.FrameMS = geti(props, "frame_ms", c.FrameMS, log)
	c.Threshold = getf(props, "threshold", c.Threshold, log)
	c.SimFaultRate = getf(props, "sim_fault_rate", c.SimFaultRate, log)
	c.ReconnectBackoff = getd(props, "reconnect_backoff", c.ReconnectBackoff, log)
	c.ConnectTimeout = getd(props, "connect_timeout", c.ConnectTimeout, log)
	c.AzureSASTTL = getd(props, "azure_sas_ttl", c.AzureSASTTL, log)
	c.NTPResync = getd(props, "ntp_resync", c.NTPResync, log)
	c.UTCOffset = getd(props, "utc_offset", c.UTCOffset, log)
	c.Breaker = breaker.FromProperties(props, c.Breaker)
}

func getf(m map[string]string, key string, def float64, log *slog.Logger) float64 {
	if v, ok := m[key]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		warn(log, key, v, def)
	}
	return def
}

func geti(m map[string]string, key string, def int, log *slog.Logger) int {
	if v, ok := m[key]; ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		warn(log, key, v, def)
	}
	return def
}

func getd(m map[string]string, key string, def time.Duration, log *slog.Logger) time.Duration {
	if v, ok := m[key]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		warn(log, key, v, def)
	}
	return def
}

func warn(log *slog.Logger, key, val string, def any) {
	if log == nil {
		return
	}
	log.Warn("invalid value in properties, using default", "key", key, "val", val, "default", def)
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
