// v1
// internal/display/display.go
package display

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/tsromanox/FarmTech/internal/actuator"
	"github.com/tsromanox/FarmTech/internal/sensor"
	"github.com/tsromanox/FarmTech/internal/telemetry"
)

// Panel geometry of the 20x4 character LCD the layout is designed for.
const (
	Cols = 20
	Rows = 4
)

const timeLayout = "02/01/2006 15:04:05"

// Status is everything a presenter may show. Now is already in local time.
type Status struct {
	Pump        actuator.State
	Sample      sensor.Sample
	Connection  telemetry.ConnectionState
	Now         time.Time
	ClockSynced bool
}

// Presenter renders a status. Implementations swallow device errors.
type Presenter interface {
	Render(Status)
}

// Frame lays out a status on the 20x4 grid. Every row is exactly Cols wide.
func Frame(st Status) [Rows]string {
	var f [Rows]string
	f[0] = fmt.Sprintf("Pump: %-3s Net:%s", st.Pump, netCode(st.Connection))
	if st.Sample.Valid() {
		f[1] = fmt.Sprintf("humidity:%.2f", st.Sample.Humidity)
		f[2] = fmt.Sprintf("temperature:%.2fC", st.Sample.Temperature)
	} else {
		f[1] = "humidity:--"
		f[2] = "temperature:--"
	}
	if st.ClockSynced {
		f[3] = st.Now.Format(timeLayout)
	} else {
		f[3] = "Connection Err"
	}
	for i := range f {
		f[i] = fit(f[i])
	}
	return f
}

func netCode(s telemetry.ConnectionState) string {
	switch s {
	case telemetry.Connected:
		return "OK"
	case telemetry.Connecting:
		return ".."
	default:
		return "--"
	}
}

func fit(s string) string {
	if len(s) > Cols {
		return s[:Cols]
	}
	return s + strings.Repeat(" ", Cols-len(s))
}

// Terminal draws the frame as a bordered panel. With ANSI set the cursor is homed and the
// screen cleared first so the panel redraws in place.
type Terminal struct {
	w     io.Writer
	log   *slog.Logger
	ansi  bool
	mu    sync.Mutex
	style lipgloss.Style
}

func NewTerminal(w io.Writer, ansi bool, log *slog.Logger) *Terminal {
	return &Terminal{
		w:    w,
		log:  log,
		ansi: ansi,
		style: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1),
	}
}

func (t *Terminal) Render(st Status) {
	f := Frame(st)
	out := t.style.Render(strings.Join(f[:], "\n"))
	if t.ansi {
		out = "\x1b[H\x1b[2J" + out
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := io.WriteString(t.w, out+"\n"); err != nil {
		t.log.Debug("display write failed", "err", err)
	}
}

// Log emits one line whenever the frame changes.
type Log struct {
	log  *slog.Logger
	mu   sync.Mutex
	last [Rows]string
}

func NewLog(log *slog.Logger) *Log { return &Log{log: log} }

func (l *Log) Render(st Status) {
	f := Frame(st)
	l.mu.Lock()
	changed := f != l.last
	l.last = f
	l.mu.Unlock()
	if !changed {
		return
	}
	l.log.Info("display",
		"row0", strings.TrimSpace(f[0]),
		"row1", strings.TrimSpace(f[1]),
		"row2", strings.TrimSpace(f[2]),
		"row3", strings.TrimSpace(f[3]))
}

// None discards every frame.
type None struct{}

func (None) Render(Status) {}

// New selects a presenter by display kind: terminal, log or none.
func New(kind string, w io.Writer, log *slog.Logger) (Presenter, error) {
	switch kind {
	case "terminal":
		return NewTerminal(w, true, log), nil
	case "log":
		return NewLog(log), nil
	case "none":
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown display %q", kind)
	}
}
