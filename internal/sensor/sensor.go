// v1
// internal/sensor/sensor.go
package sensor

import (
	"fmt"
	"math"
	"time"
)

// Validity marks whether a sample can drive decisions.
type Validity int

const (
	Invalid Validity = iota
	Valid
)

func (v Validity) String() string {
	if v == Valid {
		return "valid"
	}
	return "invalid"
}

// Sample is one humidity/temperature reading. When Validity is Invalid both values are NaN
// and must not be used.
type Sample struct {
	Humidity    float64
	Temperature float64
	Validity    Validity
	ReadAt      time.Time
}

// Reader produces one sample per call. Implementations do not retry and do not log.
type Reader interface {
	Read() Sample
}

// NewSample validates the two scalar reads. A NaN in either marks the whole sample invalid.
func NewSample(humidity, temperature float64, at time.Time) Sample {
	if math.IsNaN(humidity) || math.IsNaN(temperature) {
		return InvalidSample(at)
	}
	return Sample{Humidity: humidity, Temperature: temperature, Validity: Valid, ReadAt: at}
}

// InvalidSample is the fault signal.
func InvalidSample(at time.Time) Sample {
	return Sample{Humidity: math.NaN(), Temperature: math.NaN(), Validity: Invalid, ReadAt: at}
}

func (s Sample) Valid() bool { return s.Validity == Valid }

func (s Sample) String() string {
	if !s.Valid() {
		return "invalid sample"
	}
	return fmt.Sprintf("humidity=%.2f%% temperature=%.2fC", s.Humidity, s.Temperature)
}

// Static returns the same values on every read; used for dry runs and tests.
type Static struct {
	Humidity    float64
	Temperature float64
	Now         func() time.Time
}

func (s *Static) Read() Sample {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return NewSample(s.Humidity, s.Temperature, now())
}
