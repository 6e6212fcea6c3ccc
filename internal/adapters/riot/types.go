// Package riot implements domain.MatchSource against the Riot match-v5 API.
package riot

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logx "matchcall/pkg/logx"
)

// Config controls the client. Retry and circuit parameters are policy, not
// contract: every value is overridable from the config file.
type Config struct {
	APIKey string
	// BaseURL overrides https://{routing}.api.riotgames.com (tests, proxies).
	BaseURL string

	Timeout    time.Duration
	RatePerSec float64
	Burst      int

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration

	// CircuitTripFailures < 0 disables the breaker.
	CircuitTripFailures int
	CircuitBaseDelay    time.Duration
	CircuitMaxDelay     time.Duration
	CircuitResetAfter   time.Duration
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	log     logx.Logger

	circuits circuitStore
	now      func() time.Time
	sleep    func(d time.Duration) <-chan time.Time
}

type circuitState struct {
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

type circuitStore struct {
	mu sync.Mutex
	m  map[string]*circuitState
}
