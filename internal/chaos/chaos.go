package chaos

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrDropped is returned for upstream requests dropped by chaos
var ErrDropped = errors.New("chaos: request dropped")

// Chaos provides deterministic failure injection for upstream calls
type Chaos struct {
	cfg    *Config
	logger *zap.Logger
	rng    *rand.Rand
	mu     sync.Mutex
	start  time.Time
}

// New creates a new Chaos instance
func New(cfg *Config, logger *zap.Logger) *Chaos {
	c := &Chaos{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		start:  time.Now(),
	}

	if cfg.Profile != "" {
		dropPct, delayMin, delayMax, err := ParseProfile(cfg.Profile)
		if err != nil {
			logger.Warn("failed to parse chaos profile", zap.Error(err))
		} else {
			if dropPct > 0 {
				cfg.DropPct = dropPct
			}
			if delayMin > 0 || delayMax > 0 {
				cfg.DelayMsMin = delayMin
				cfg.DelayMsMax = delayMax
			}
		}
	}

	return c
}

// EnabledFor checks if chaos applies to an upstream path
func (c *Chaos) EnabledFor(path string) bool {
	if !c.cfg.Enabled {
		return false
	}

	if c.cfg.WindowMs > 0 {
		elapsed := time.Since(c.start).Milliseconds()
		if elapsed > int64(c.cfg.WindowMs) {
			return false
		}
	}

	if c.cfg.TargetPath != "" && !strings.Contains(path, c.cfg.TargetPath) {
		return false
	}

	return true
}

// MaybeDelay injects a random delay if chaos is enabled
func (c *Chaos) MaybeDelay(ctx context.Context, path string) error {
	if !c.EnabledFor(path) {
		return nil
	}

	if c.cfg.DelayMsMin == 0 && c.cfg.DelayMsMax == 0 {
		return nil
	}

	c.mu.Lock()
	var delayMs int
	if c.cfg.DelayMsMin >= c.cfg.DelayMsMax {
		delayMs = c.cfg.DelayMsMin
	} else {
		delayMs = c.cfg.DelayMsMin + c.rng.Intn(c.cfg.DelayMsMax-c.cfg.DelayMsMin+1)
	}
	c.mu.Unlock()

	if delayMs > 0 {
		c.logger.Info("chaos delay injected",
			zap.String("path", path),
			zap.Int("delay_ms", delayMs),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(delayMs) * time.Millisecond):
			return nil
		}
	}

	return nil
}

// MaybeDrop returns true if the request should be dropped
func (c *Chaos) MaybeDrop(path string) bool {
	if !c.EnabledFor(path) {
		return false
	}

	if c.cfg.DropPct == 0 {
		return false
	}

	c.mu.Lock()
	drop := c.rng.Intn(100) < c.cfg.DropPct
	c.mu.Unlock()

	if drop {
		c.logger.Info("chaos drop injected",
			zap.String("path", path),
			zap.Bool("dropped", true),
		)
	}

	return drop
}

// Transport wraps next with delay and drop injection
func (c *Chaos) Transport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripper{chaos: c, next: next}
}

type roundTripper struct {
	chaos *Chaos
	next  http.RoundTripper
}

func (rt roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	path := req.URL.Path
	if err := rt.chaos.MaybeDelay(req.Context(), path); err != nil {
		return nil, err
	}
	if rt.chaos.MaybeDrop(path) {
		return nil, ErrDropped
	}
	return rt.next.RoundTrip(req)
}
