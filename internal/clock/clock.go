// v0
// internal/clock/clock.go
package clock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beevik/ntp"
)

// Clock is the wall time source used for telemetry timestamps and the display.
// Synced reports whether Now can be trusted.
type Clock interface {
	Now() time.Time
	Synced() bool
}

// System trusts the host clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }
func (System) Synced() bool   { return true }

// Fixed always returns T. Used by tests and dry runs.
type Fixed struct {
	T        time.Time
	Unsynced bool
}

func (f Fixed) Now() time.Time { return f.T }
func (f Fixed) Synced() bool   { return !f.Unsynced }

type queryFunc func(host string, opt ntp.QueryOptions) (*ntp.Response, error)

// NTP corrects the host clock with an offset queried from an NTP server.
type NTP struct {
	server string
	resync time.Duration
	log    *slog.Logger
	query  queryFunc
	mono   func() time.Time

	mu     sync.RWMutex
	offset time.Duration
	synced bool
}

// NewNTP does not query the server; call Sync or Run.
func NewNTP(server string, resync time.Duration, lg *slog.Logger) *NTP {
	return &NTP{
		server: server,
		resync: resync,
		log:    lg,
		query:  ntp.QueryWithOptions,
		mono:   time.Now,
	}
}

// Sync queries the server once. On failure the previous offset and sync flag are kept.
func (c *NTP) Sync() error {
	resp, err := c.query(c.server, ntp.QueryOptions{Timeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("ntp query %s: %w", c.server, err)
	}
	if err := resp.Validate(); err != nil {
		return fmt.Errorf("ntp response %s: %w", c.server, err)
	}
	c.mu.Lock()
	c.offset = resp.ClockOffset
	c.synced = true
	c.mu.Unlock()
	c.log.Info("ntp synced", "server", c.server, "offset", resp.ClockOffset)
	return nil
}

// Run syncs immediately and then every resync interval until ctx is done.
func (c *NTP) Run(ctx context.Context) {
	if err := c.Sync(); err != nil {
		c.log.Warn("ntp sync failed", "err", err)
	}
	if c.resync <= 0 {
		return
	}
	t := time.NewTicker(c.resync)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := c.Sync(); err != nil {
				c.log.Warn("ntp resync failed", "err", err)
			}
		}
	}
}

func (c *NTP) Now() time.Time {
	c.mu.RLock()
	off := c.offset
	c.mu.RUnlock()
	return c.mono().Add(off).UTC()
}

func (c *NTP) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}
