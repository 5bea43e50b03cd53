// v3
// internal/breaker/breaker.go
package breaker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// State of a breaker. The numeric values are exported as a metrics gauge.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "Closed"
	case Open:
		return "Open"
	case HalfOpen:
		return "HalfOpen"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrOpen is returned without running the guarded operation.
var ErrOpen = errors.New("breaker open: attempt skipped")

// Config holds the breaker tunables.
type Config struct {
	MaxFailures      int           // consecutive failures that trip the breaker
	ResetTimeout     time.Duration // cool-down before a trial attempt is let through
	SuccessesToClose int           // trial successes needed to close again
}

// DefaultConfig mirrors the defaults of the properties loader.
func DefaultConfig() Config {
	return Config{MaxFailures: 3, ResetTimeout: 30 * time.Second, SuccessesToClose: 1}
}

// Validate reports the first out-of-range tunable.
func (c Config) Validate() error {
	switch {
	case c.MaxFailures < 1:
		return errors.New("circuit.maxfailures must be >= 1")
	case c.ResetTimeout <= 0:
		return errors.New("circuit.resetseconds must be > 0")
	case c.SuccessesToClose < 1:
		return errors.New("circuit.successestoclose must be >= 1")
	}
	return nil
}

// Breaker guards a flaky operation, here a network connect. After MaxFailures consecutive
// failures it skips attempts for ResetTimeout, then lets trial attempts through until
// SuccessesToClose of them succeed.
type Breaker struct {
	name  string
	cfg   Config
	log   *slog.Logger
	probe func(ctx context.Context) error
	now   func() time.Time

	mu        sync.Mutex
	state     State
	failures  int
	trialsOK  int
	trippedAt time.Time
}

// New builds a closed breaker. probe is optional; when set it must pass before the first
// trial attempt after a cool-down.
func New(name string, cfg Config, logger *slog.Logger, probe func(ctx context.Context) error) *Breaker {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		log:   logger.With(slog.String("breaker", name)),
		probe: probe,
		now:   time.Now,
	}
}

// Execute runs op unless the breaker is cooling down, in which case it returns ErrOpen.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	trial, err := b.admit(ctx)
	if err != nil {
		return err
	}
	err = op(ctx)
	b.record(trial, err)
	return err
}

// admit decides whether an attempt may run and whether it counts as a trial.
func (b *Breaker) admit(ctx context.Context) (bool, error) {
	b.mu.Lock()
	switch b.state {
	case Closed:
		b.mu.Unlock()
		return false, nil
	case HalfOpen:
		b.mu.Unlock()
		return true, nil
	}
	if wait := b.cfg.ResetTimeout - b.now().Sub(b.trippedAt); wait > 0 {
		b.mu.Unlock()
		b.log.Debug("attempt skipped", "retryIn", wait.String())
		return false, ErrOpen
	}
	b.state = HalfOpen
	b.trialsOK = 0
	b.mu.Unlock()

	if b.probe != nil {
		if err := b.probe(ctx); err != nil {
			b.log.Warn("probe failed; staying open", "err", err)
			b.trip()
			return false, ErrOpen
		}
	}
	b.log.Info("cool-down elapsed; allowing trial attempt")
	return true, nil
}

func (b *Breaker) record(trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.failures++
		if trial || b.failures >= b.cfg.MaxFailures {
			b.state = Open
			b.trippedAt = b.now()
			b.trialsOK = 0
			b.log.Warn("breaker tripped", "failures", b.failures, "coolDown", b.cfg.ResetTimeout.String(), "err", err)
		}
		return
	}
	if !trial {
		b.failures = 0
		return
	}
	b.trialsOK++
	if b.trialsOK >= b.cfg.SuccessesToClose {
		b.state = Closed
		b.failures = 0
		b.trialsOK = 0
		b.log.Info("breaker closed")
	}
}

func (b *Breaker) trip() {
	b.mu.Lock()
	b.state = Open
	b.trippedAt = b.now()
	b.trialsOK = 0
	b.mu.Unlock()
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
