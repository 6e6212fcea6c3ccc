package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("500ms", "10s", "1m") and are parsed where the config is mapped onto
// components.
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Alerts   AlertsConfig   `json:"alerts,omitempty"`
	Storage  StorageConfig  `json:"storage"`
	Cache    CacheConfig    `json:"cache,omitempty"`
	Riot     RiotConfig     `json:"riot"`
	Player   PlayerConfig   `json:"player"`
	Poll     PollConfig     `json:"poll,omitempty"`
	Dispatch DispatchConfig `json:"dispatch,omitempty"`
	Delivery DeliveryConfig `json:"delivery,omitempty"`
	Ops      OpsConfig      `json:"ops,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// AlertsConfig forwards WARN+ log lines to a Telegram chat.
type AlertsConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"` // never logged
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// StorageConfig points at the sqlite database holding bindings,
// destinations and analysis records.
//
//	"storage": { "path": "./matchcall.db", "busy_timeout": "2s" }
type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// CacheConfig selects the last-seen cache backend.
//
// Driver is one of "memory", "redis" or "sqlite" (default "sqlite").
// OnUnavailable is "fallback" (keep going on a process-local map) or
// "suppress" (skip the binding for that cycle).
type CacheConfig struct {
	Driver        string      `json:"driver,omitempty"`
	TTL           string      `json:"ttl,omitempty"`
	OnUnavailable string      `json:"on_unavailable,omitempty"`
	MaxEntries    int         `json:"max_entries,omitempty"`
	Redis         RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"` // never logged
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type RiotConfig struct {
	APIKey        string        `json:"api_key"` // never logged
	BaseURL       string        `json:"base_url,omitempty"`
	Timeout       string        `json:"timeout,omitempty"`
	RatePerSec    float64       `json:"rate_per_sec,omitempty"`
	Burst         int           `json:"burst,omitempty"`
	RetryMax      int           `json:"retry_max,omitempty"`
	RetryBase     string        `json:"retry_base,omitempty"`
	RetryMaxDelay string        `json:"retry_max_delay,omitempty"`
	Circuit       CircuitConfig `json:"circuit,omitempty"`
}

// CircuitConfig tunes the per-routing breaker. TripFailures < 0 disables it.
type CircuitConfig struct {
	TripFailures int    `json:"trip_failures,omitempty"`
	BaseDelay    string `json:"base_delay,omitempty"`
	MaxDelay     string `json:"max_delay,omitempty"`
	ResetAfter   string `json:"reset_after,omitempty"`
}

type PlayerConfig struct {
	URL        string `json:"url"`
	Subject    string `json:"subject,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	ReplyGrace string `json:"reply_grace,omitempty"`
}

type PollConfig struct {
	Schedule     string `json:"schedule,omitempty"`
	Timeout      string `json:"timeout,omitempty"`
	RunOnStart   bool   `json:"run_on_start,omitempty"`
	MatchCount   int    `json:"match_count,omitempty"`
	Concurrency  int    `json:"concurrency,omitempty"`
	FetchTimeout string `json:"fetch_timeout,omitempty"`
	BackoffMax   int    `json:"backoff_max,omitempty"`
}

// DispatchConfig holds playback defaults. Pointers separate "omitted"
// from an explicit zero.
type DispatchConfig struct {
	DefaultVolume      *float64 `json:"default_volume,omitempty"`
	DefaultNormalize   *bool    `json:"default_normalize,omitempty"`
	DefaultMaxDuration string   `json:"default_max_duration,omitempty"`
}

type DeliveryConfig struct {
	AnnounceURL     string `json:"announce_url,omitempty"`
	Timeout         string `json:"timeout,omitempty"`
	AnalysisTimeout string `json:"analysis_timeout,omitempty"`
}

// OpsConfig controls the health/metrics/pprof HTTP server.
//
// Prefer a loopback address. A non-loopback address needs a token or
// allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // never logged
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}
