// v1
// internal/sensor/simulated.go
package sensor

import (
	"math/rand"
	"time"
)

// Simulated walks humidity and temperature inside the ranges of a greenhouse DHT22
// (humidity 30–70 %, temperature 18–28 °C). FaultRate is the probability of a NaN read.
type Simulated struct {
	FaultRate float64

	rnd         *rand.Rand
	now         func() time.Time
	humidity    float64
	temperature float64
}

// NewSimulated seeds the walk. A zero seed uses the current time.
func NewSimulated(faultRate float64, seed int64) *Simulated {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(seed))
	return &Simulated{
		FaultRate:   faultRate,
		rnd:         rnd,
		now:         time.Now,
		humidity:    30 + rnd.Float64()*40,
		temperature: 18 + rnd.Float64()*10,
	}
}

func (s *Simulated) Read() Sample {
	if s.FaultRate > 0 && s.rnd.Float64() < s.FaultRate {
		return InvalidSample(s.now())
	}
	s.humidity = clamp(s.humidity+(s.rnd.Float64()-0.5)*4, 30, 70)
	s.temperature = clamp(s.temperature+(s.rnd.Float64()-0.5), 18, 28)
	return NewSample(s.humidity, s.temperature, s.now())
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
