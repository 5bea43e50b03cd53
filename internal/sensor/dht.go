// v0
// internal/sensor/dht.go
package sensor

import (
	"fmt"
	"time"

	dht "github.com/MichaelS11/go-dht"
)

// DHT reads a DHT11/DHT22 on a single GPIO data pin.
type DHT struct {
	dev *dht.DHT
	now func() time.Time
}

// NewDHT initialises the periph host and binds the sensor. model is "dht11" or "dht22".
func NewDHT(pin, model string) (*DHT, error) {
	if err := dht.HostInit(); err != nil {
		return nil, fmt.Errorf("dht host init: %w", err)
	}
	dev, err := dht.NewDHT(pin, dht.Celsius, model)
	if err != nil {
		return nil, fmt.Errorf("dht %s on %s: %w", model, pin, err)
	}
	return &DHT{dev: dev, now: time.Now}, nil
}

// Read performs a single bus transaction. Driver errors surface as an invalid sample; the
// caller decides whether to log and when to try again.
func (d *DHT) Read() Sample {
	humidity, temperature, err := d.dev.Read()
	if err != nil {
		return InvalidSample(d.now())
	}
	return NewSample(humidity, temperature, d.now())
}
