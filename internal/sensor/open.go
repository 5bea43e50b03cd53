// v0
// internal/sensor/open.go
package sensor

import "fmt"

// Open selects the reader for a sensor_type option.
func Open(kind, pin string, faultRate float64) (Reader, error) {
	switch kind {
	case "dht11", "dht22":
		return NewDHT(pin, kind)
	case "sim":
		return NewSimulated(faultRate, 0), nil
	default:
		return nil, fmt.Errorf("unknown sensor type %q", kind)
	}
}
