package riot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"matchcall/internal/domain"
	logx "matchcall/pkg/logx"
)

const defaultBaseURL = "https://%s.api.riotgames.com"

var (
	errCircuitOpen = errors.New("circuit open")
	errLimiterWait = errors.New("rate limiter wait")
)

// statusError carries the HTTP status of a failed attempt.
type statusError struct {
	code       int
	retryAfter time.Duration
}

func (e statusError) Error() string { return "riot api status " + strconv.Itoa(e.code) }

func New(cfg Config, log logx.Logger) *Client {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	// Development keys allow 20 req/s; stay under it by default.
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 15
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(cfg.RatePerSec)
		if cfg.Burst < 1 {
			cfg.Burst = 1
		}
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		log:     log,
		now:     time.Now,
		sleep:   time.After,
	}
}

// RoutingFor maps a platform region (na1, euw1, kr, ...) to its regional
// routing host. Routing values pass through unchanged.
func RoutingFor(region string) (string, error) {
	switch r := strings.ToLower(strings.TrimSpace(region)); r {
	case "americas", "europe", "asia", "sea":
		return r, nil
	case "na1", "br1", "la1", "la2":
		return "americas", nil
	case "euw1", "eun1", "tr1", "ru", "me1":
		return "europe", nil
	case "kr", "jp1":
		return "asia", nil
	case "oc1", "ph2", "sg2", "th2", "tw2", "vn2":
		return "sea", nil
	default:
		return "", fmt.Errorf("unknown region %q", region)
	}
}

// RecentMatchIDs returns up to count match ids for puuid, newest first.
// Every failure is reported as domain.ErrSourceFetchFailed.
func (c *Client) RecentMatchIDs(ctx context.Context, puuid, region string, count int) ([]string, error) {
	if count <= 0 {
		count = 1
	}
	routing, err := RoutingFor(region)
	if err != nil {
		return nil, domain.Wrap(domain.ErrSourceFetchFailed, "riot.ids", err)
	}
	if open, until := c.circuitIsOpen(c.now(), routing); open {
		return nil, domain.Wrap(domain.ErrSourceFetchFailed, "riot.ids",
			fmt.Errorf("%w for %s until %s", errCircuitOpen, routing, until.Format(time.RFC3339)))
	}

	u := c.baseURL(routing) + "/lol/match/v5/matches/by-puuid/" + url.PathEscape(puuid) +
		"/ids?start=0&count=" + strconv.Itoa(count)

	var (
		ids  []string
		last error
	)
	for attempt := 0; attempt <= c.cfg.RetryMax; attempt++ {
		ids, last = c.fetch(ctx, u)
		if last == nil {
			c.circuitRecordResult(c.now(), routing, nil)
			return ids, nil
		}
		if !retryable(last) || attempt == c.cfg.RetryMax || ctx.Err() != nil {
			break
		}
		delay := c.backoff(attempt, last)
		c.log.Debug("riot retry scheduled", logx.String("routing", routing), logx.Int("attempt", attempt+2), logx.Duration("delay", delay), logx.Err(last))
		select {
		case <-ctx.Done():
			last = ctx.Err()
		case <-c.sleep(delay):
			continue
		}
		break
	}
	if tripsCircuit(ctx, last) {
		c.circuitRecordResult(c.now(), routing, last)
	}
	return nil, domain.Wrap(domain.ErrSourceFetchFailed, "riot.ids", last)
}

func (c *Client) baseURL(routing string) string {
	if b := strings.TrimRight(strings.TrimSpace(c.cfg.BaseURL), "/"); b != "" {
		return b
	}
	return fmt.Sprintf(defaultBaseURL, routing)
}

func (c *Client) fetch(ctx context.Context, u string) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", errLimiterWait, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Riot-Token", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, statusError{code: resp.StatusCode, retryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	var ids []string
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&ids); err != nil {
		return nil, fmt.Errorf("decode match ids: %w", err)
	}
	return ids, nil
}

func retryable(err error) bool {
	var se statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	if errors.Is(err, errLimiterWait) {
		return false
	}
	// Transport errors (timeouts, resets) are worth another try.
	return !errors.Is(err, context.Canceled)
}

// tripsCircuit reports whether a final failure says something about the
// routing host. Client errors belong to one account and a canceled or
// expired caller context belongs to the caller.
func tripsCircuit(ctx context.Context, err error) bool {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, errLimiterWait) {
		return false
	}
	var se statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	return true
}

// backoff is exponential with jitter, bounded by RetryMaxDelay. A
// Retry-After hint wins when larger.
func (c *Client) backoff(attempt int, err error) time.Duration {
	d := c.cfg.RetryBase << attempt
	if d <= 0 || d > c.cfg.RetryMaxDelay {
		d = c.cfg.RetryMaxDelay
	}
	d += time.Duration(rand.Int63n(int64(d)/5 + 1))
	var se statusError
	if errors.As(err, &se) && se.retryAfter > d {
		d = se.retryAfter
	}
	if d > c.cfg.RetryMaxDelay {
		d = c.cfg.RetryMaxDelay
	}
	return d
}

func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return 0
}
