package riot

import (
	"time"

	logx "matchcall/pkg/logx"
)

// A consecutive-failure breaker per routing host:
//   - success resets failures and closes the circuit
//   - once failures >= trip, the circuit opens for an exponentially
//     increasing cooldown

type circuitCfg struct {
	trip       int
	baseDelay  time.Duration
	maxDelay   time.Duration
	resetAfter time.Duration
	enabled    bool
}

func (c *Client) circuitCfg() circuitCfg {
	trip := c.cfg.CircuitTripFailures
	if trip == 0 {
		trip = 5
	}
	if trip < 0 {
		return circuitCfg{}
	}
	base := c.cfg.CircuitBaseDelay
	if base <= 0 {
		base = 5 * time.Second
	}
	maxD := c.cfg.CircuitMaxDelay
	if maxD <= 0 {
		maxD = 2 * time.Minute
	}
	reset := c.cfg.CircuitResetAfter
	if reset <= 0 {
		reset = 5 * time.Minute
	}
	return circuitCfg{trip: trip, baseDelay: base, maxDelay: maxD, resetAfter: reset, enabled: true}
}

func (s *circuitStore) getLocked(key string) *circuitState {
	if s.m == nil {
		s.m = make(map[string]*circuitState)
	}
	st := s.m[key]
	if st == nil {
		st = &circuitState{}
		s.m[key] = st
	}
	return st
}

func (c *Client) circuitIsOpen(now time.Time, key string) (bool, time.Time) {
	cc := c.circuitCfg()
	if !cc.enabled {
		return false, time.Time{}
	}
	c.circuits.mu.Lock()
	defer c.circuits.mu.Unlock()
	st := c.circuits.getLocked(key)

	if !st.lastFailure.IsZero() && now.Sub(st.lastFailure) > cc.resetAfter {
		st.fails = 0
		st.openUntil = time.Time{}
	}
	if !st.openUntil.IsZero() && now.Before(st.openUntil) {
		return true, st.openUntil
	}
	return false, time.Time{}
}

func (c *Client) circuitRecordResult(now time.Time, key string, err error) {
	cc := c.circuitCfg()
	if !cc.enabled {
		return
	}
	c.circuits.mu.Lock()
	defer c.circuits.mu.Unlock()
	st := c.circuits.getLocked(key)

	if err == nil {
		st.fails = 0
		st.openUntil = time.Time{}
		st.lastFailure = time.Time{}
		return
	}
	st.fails++
	st.lastFailure = now
	if st.fails < cc.trip {
		return
	}
	d := cc.baseDelay
	for i := 0; i < st.fails-cc.trip; i++ {
		d *= 2
		if d >= cc.maxDelay {
			break
		}
	}
	if d > cc.maxDelay {
		d = cc.maxDelay
	}
	st.openUntil = now.Add(d)
	c.log.Warn("riot circuit opened", logx.String("routing", key), logx.Duration("cooldown", d))
}
