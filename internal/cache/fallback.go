package cache

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"matchcall/internal/domain"
	logx "matchcall/pkg/logx"
)

// Policy decides what happens when the primary backend fails.
type Policy string

const (
	// PolicyFallback serves from the local map while the backend is down.
	// Duplicates or misses are possible after a restart.
	PolicyFallback Policy = "fallback"
	// PolicySuppress surfaces ErrCacheUnavailable so the detector skips the
	// binding until the backend recovers.
	PolicySuppress Policy = "suppress"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyFallback:
		return PolicyFallback, nil
	case PolicySuppress:
		return PolicySuppress, nil
	default:
		return "", fmt.Errorf("unknown cache policy %q", s)
	}
}

// Fallback fronts a primary backend with a process-local map.
//
// Every successful Set is mirrored locally, so a later outage under
// PolicyFallback still sees baselines written while the backend was up.
type Fallback struct {
	primary domain.Cache
	local   *Memory
	policy  Policy
	log     logx.Logger

	degraded  atomic.Bool
	capWarned atomic.Bool
}

// NewFallback wraps primary. maxEntries caps the local map (<= 0 means
// DefaultMaxEntries); a baseline evicted from it during an outage is
// re-primed without an event on its next poll.
func NewFallback(primary domain.Cache, policy Policy, maxEntries int, log logx.Logger) *Fallback {
	if log.IsZero() {
		log = logx.Nop()
	}
	if policy == "" {
		policy = PolicyFallback
	}
	return &Fallback{primary: primary, local: NewMemory(maxEntries), policy: policy, log: log}
}

// Degraded reports whether the last primary call failed.
func (c *Fallback) Degraded() bool { return c.degraded.Load() }

func (c *Fallback) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := c.primary.Get(ctx, key)
	if err == nil {
		c.recovered()
		return v, ok, nil
	}
	c.failed("get", err)
	if c.policy == PolicySuppress {
		return "", false, domain.Wrap(domain.ErrCacheUnavailable, "cache.get", err)
	}
	return c.local.Get(ctx, key)
}

func (c *Fallback) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	before := c.local.Evicted()
	_ = c.local.Set(ctx, key, value, ttl)
	if c.local.Evicted() > before && !c.capWarned.Swap(true) {
		c.log.Warn("fallback cache full; evicting baselines", logx.Int("max_entries", c.local.maxEntries))
	}
	if err := c.primary.Set(ctx, key, value, ttl); err != nil {
		c.failed("set", err)
		if c.policy == PolicySuppress {
			return domain.Wrap(domain.ErrCacheUnavailable, "cache.set", err)
		}
		return nil
	}
	c.recovered()
	return nil
}

func (c *Fallback) failed(op string, err error) {
	if !c.degraded.Swap(true) {
		c.log.Warn("cache backend unavailable", logx.String("op", op), logx.String("policy", string(c.policy)), logx.Err(err))
	}
}

func (c *Fallback) recovered() {
	if c.degraded.Swap(false) {
		c.log.Info("cache backend recovered")
	}
}
