// v0
// internal/actuator/actuator.go
package actuator

import (
	"fmt"
	"strings"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/tsromanox/FarmTech/internal/sensor"
)

// State is the pump command last applied to the relay.
type State struct {
	Enabled bool
}

func (s State) String() string {
	if s.Enabled {
		return "ON"
	}
	return "OFF"
}

// Decide is the irrigation rule. The pump runs while 0 < humidity < threshold. An invalid
// sample keeps the previous state so a single bad read never toggles the relay.
func Decide(s sensor.Sample, prev State, threshold float64) State {
	if !s.Valid() {
		return prev
	}
	return State{Enabled: s.Humidity > 0 && s.Humidity < threshold}
}

// Output drives one digital line. Set is idempotent.
type Output interface {
	Set(on bool) error
}

// GPIOPin is a periph-backed output.
type GPIOPin struct {
	pin gpio.PinIO
}

var hostOnce sync.Once
var hostErr error

// OpenGPIO initialises the host drivers once and resolves the pin by name (e.g. "GPIO2").
func OpenGPIO(name string) (*GPIOPin, error) {
	hostOnce.Do(func() { _, hostErr = host.Init() })
	if hostErr != nil {
		return nil, fmt.Errorf("periph host init: %w", hostErr)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %q not found", name)
	}
	return &GPIOPin{pin: p}, nil
}

func (g *GPIOPin) Set(on bool) error {
	if err := g.pin.Out(gpio.Level(on)); err != nil {
		return fmt.Errorf("gpio %s out: %w", g.pin.Name(), err)
	}
	return nil
}

// MemoryPin records writes; used for simulated runs and in tests.
type MemoryPin struct {
	mu     sync.Mutex
	level  bool
	writes int
}

func (m *MemoryPin) Set(on bool) error {
	m.mu.Lock()
	m.level = on
	m.writes++
	m.mu.Unlock()
	return nil
}

func (m *MemoryPin) Level() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

func (m *MemoryPin) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Open returns a GPIO output, or a MemoryPin when name is empty or "mem".
func Open(name string) (Output, error) {
	if name == "" || strings.EqualFold(name, "mem") {
		return &MemoryPin{}, nil
	}
	return OpenGPIO(name)
}
