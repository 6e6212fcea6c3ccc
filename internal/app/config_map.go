package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"matchcall/internal/adapters/natsplayer"
	"matchcall/internal/adapters/riot"
	"matchcall/internal/adapters/telegram"
	"matchcall/internal/cache"
	"matchcall/internal/config"
	"matchcall/internal/delivery"
	"matchcall/internal/detector"
	"matchcall/internal/dispatch"
	"matchcall/internal/observability/ops"
	"matchcall/internal/poller"
	"matchcall/internal/storage"
	logx "matchcall/pkg/logx"
)

const (
	cacheMemory = "memory"
	cacheRedis  = "redis"
	cacheSQLite = "sqlite"
)

func mapLogging(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alert: logx.AlertConfig{
			Enabled:    cfg.Alerts.Enabled,
			MinLevel:   cfg.Alerts.MinLevel,
			RatePerSec: cfg.Alerts.RatePerSec,
		},
	}
}

func mapAlerts(cfg *config.Config) (telegram.Config, bool, error) {
	a := cfg.Alerts
	if !a.Enabled {
		return telegram.Config{}, false, nil
	}
	if strings.TrimSpace(a.Token) == "" || a.ChatID == 0 {
		return telegram.Config{}, false, errors.New("alerts.token and alerts.chat_id are required when alerts.enabled=true")
	}
	if a.RatePerSec < 0 {
		return telegram.Config{}, false, errors.New("alerts.rate_per_sec must be >= 0")
	}
	return telegram.Config{Token: a.Token, ChatID: a.ChatID, ThreadID: a.ThreadID}, true, nil
}

func mapStorage(cfg *config.Config) (storage.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		return storage.Config{}, errors.New("storage.path is required")
	}
	busy, err := config.ParseDurationOr("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Path: path, BusyTimeout: busy}, nil
}

type cacheSettings struct {
	Driver     string
	TTL        time.Duration
	Policy     cache.Policy
	MaxEntries int
	Redis      cache.RedisConfig
}

func mapCache(cfg *config.Config) (cacheSettings, error) {
	c := cfg.Cache
	out := cacheSettings{Driver: strings.ToLower(strings.TrimSpace(c.Driver)), MaxEntries: c.MaxEntries}
	if out.Driver == "" {
		out.Driver = cacheSQLite
	}
	var err error
	if out.TTL, err = config.ParseDurationOr("cache.ttl", c.TTL, detector.DefaultCacheTTL); err != nil {
		return cacheSettings{}, err
	}
	if out.Policy, err = cache.ParsePolicy(c.OnUnavailable); err != nil {
		return cacheSettings{}, fmt.Errorf("cache.on_unavailable: %w", err)
	}
	if c.MaxEntries < 0 {
		return cacheSettings{}, errors.New("cache.max_entries must be >= 0")
	}
	switch out.Driver {
	case cacheMemory, cacheSQLite:
	case cacheRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return cacheSettings{}, errors.New("cache.redis.addr is required when cache.driver=redis")
		}
		timeout, err := config.ParseDurationOr("cache.redis.timeout", c.Redis.Timeout, 2*time.Second)
		if err != nil {
			return cacheSettings{}, err
		}
		out.Redis = cache.RedisConfig{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
			Timeout:  timeout,
		}
	default:
		return cacheSettings{}, fmt.Errorf("unknown cache.driver: %s", c.Driver)
	}
	return out, nil
}

func mapRiot(cfg *config.Config) (riot.Config, error) {
	r := cfg.Riot
	if strings.TrimSpace(r.APIKey) == "" {
		return riot.Config{}, errors.New("riot.api_key is required")
	}
	if r.RatePerSec < 0 || r.Burst < 0 || r.RetryMax < 0 {
		return riot.Config{}, errors.New("riot.rate_per_sec, riot.burst and riot.retry_max must be >= 0")
	}
	out := riot.Config{
		APIKey:              r.APIKey,
		BaseURL:             strings.TrimSpace(r.BaseURL),
		RatePerSec:          r.RatePerSec,
		Burst:               r.Burst,
		RetryMax:            r.RetryMax,
		CircuitTripFailures: r.Circuit.TripFailures,
	}
	fields := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"riot.timeout", r.Timeout, &out.Timeout},
		{"riot.retry_base", r.RetryBase, &out.RetryBase},
		{"riot.retry_max_delay", r.RetryMaxDelay, &out.RetryMaxDelay},
		{"riot.circuit.base_delay", r.Circuit.BaseDelay, &out.CircuitBaseDelay},
		{"riot.circuit.max_delay", r.Circuit.MaxDelay, &out.CircuitMaxDelay},
		{"riot.circuit.reset_after", r.Circuit.ResetAfter, &out.CircuitResetAfter},
	}
	for _, f := range fields {
		d, err := config.ParseDuration(f.path, f.raw)
		if err != nil {
			return riot.Config{}, err
		}
		*f.dst = d
	}
	return out, nil
}

func mapPlayer(cfg *config.Config) (natsplayer.Config, error) {
	p := cfg.Player
	timeout, err := config.ParseDuration("player.timeout", p.Timeout)
	if err != nil {
		return natsplayer.Config{}, err
	}
	grace, err := config.ParseDuration("player.reply_grace", p.ReplyGrace)
	if err != nil {
		return natsplayer.Config{}, err
	}
	return natsplayer.Config{URL: p.URL, Subject: p.Subject, Timeout: timeout, ReplyGrace: grace}, nil
}

func mapDetector(cfg *config.Config, ttl time.Duration) (detector.Config, error) {
	p := cfg.Poll
	if p.MatchCount < 0 || p.Concurrency < 0 {
		return detector.Config{}, errors.New("poll.match_count and poll.concurrency must be >= 0")
	}
	fetch, err := config.ParseDuration("poll.fetch_timeout", p.FetchTimeout)
	if err != nil {
		return detector.Config{}, err
	}
	return detector.Config{
		MatchCount:   p.MatchCount,
		Concurrency:  p.Concurrency,
		FetchTimeout: fetch,
		CacheTTL:     ttl,
	}, nil
}

func mapPoll(cfg *config.Config) (poller.Config, error) {
	p := cfg.Poll
	if p.BackoffMax < 0 {
		return poller.Config{}, errors.New("poll.backoff_max must be >= 0")
	}
	timeout, err := config.ParseDuration("poll.timeout", p.Timeout)
	if err != nil {
		return poller.Config{}, err
	}
	deliver, err := config.ParseDuration("delivery.timeout", cfg.Delivery.Timeout)
	if err != nil {
		return poller.Config{}, err
	}
	return poller.Config{
		Schedule:        p.Schedule,
		Timeout:         timeout,
		DeliveryTimeout: deliver,
		BackoffMax:      p.BackoffMax,
		RunOnStart:      p.RunOnStart,
	}, nil
}

func mapDispatch(cfg *config.Config) (dispatch.Config, error) {
	d := cfg.Dispatch
	out := dispatch.Config{DefaultVolume: 1.0, DefaultNormalize: true}
	if d.DefaultVolume != nil {
		v := *d.DefaultVolume
		if v <= 0 || v > 2 {
			return dispatch.Config{}, fmt.Errorf("dispatch.default_volume must be within (0, 2], got %v", v)
		}
		out.DefaultVolume = v
	}
	if d.DefaultNormalize != nil {
		out.DefaultNormalize = *d.DefaultNormalize
	}
	maxDur, err := config.ParseDuration("dispatch.default_max_duration", d.DefaultMaxDuration)
	if err != nil {
		return dispatch.Config{}, err
	}
	out.DefaultMaxDuration = maxDur
	return out, nil
}

func mapDelivery(cfg *config.Config) (delivery.Config, string, error) {
	d := cfg.Delivery
	analysis, err := config.ParseDuration("delivery.analysis_timeout", d.AnalysisTimeout)
	if err != nil {
		return delivery.Config{}, "", err
	}
	tmpl := strings.TrimSpace(d.AnnounceURL)
	if tmpl == "" {
		tmpl = delivery.DefaultAnnounceURL
	}
	if !strings.HasPrefix(tmpl, "http://") && !strings.HasPrefix(tmpl, "https://") {
		return delivery.Config{}, "", fmt.Errorf("delivery.announce_url must be an http(s) URL template")
	}
	return delivery.Config{AnalysisTimeout: analysis}, tmpl, nil
}

func mapOps(cfg *config.Config) (ops.Config, error) {
	o := cfg.Ops
	out := ops.Config{
		Enabled:       o.Enabled,
		Addr:          strings.TrimSpace(o.Addr),
		Token:         strings.TrimSpace(o.Token),
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOr("ops.read_timeout", o.ReadTimeout, 10*time.Second); err != nil {
		return ops.Config{}, err
	}
	// pprof profiles run for 30s by default, so no write timeout unless set.
	if out.WriteTimeout, err = config.ParseDuration("ops.write_timeout", o.WriteTimeout); err != nil {
		return ops.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOr("ops.idle_timeout", o.IdleTimeout, time.Minute); err != nil {
		return ops.Config{}, err
	}
	return out, nil
}

// validate maps every section and reports the first problem.
func validate(cfg *config.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, _, err := mapAlerts(cfg); err != nil {
		return err
	}
	if _, err := mapStorage(cfg); err != nil {
		return err
	}
	cs, err := mapCache(cfg)
	if err != nil {
		return err
	}
	if _, err := mapRiot(cfg); err != nil {
		return err
	}
	if _, err := mapPlayer(cfg); err != nil {
		return err
	}
	if _, err := mapDetector(cfg, cs.TTL); err != nil {
		return err
	}
	if _, err := mapPoll(cfg); err != nil {
		return err
	}
	if _, err := mapDispatch(cfg); err != nil {
		return err
	}
	if _, _, err := mapDelivery(cfg); err != nil {
		return err
	}
	_, err = mapOps(cfg)
	return err
}
