package dispatch

import (
	"context"
	"sync"
	"time"

	"matchcall/internal/domain"
	"matchcall/internal/metrics"
	logx "matchcall/pkg/logx"
)

// Statuses reported by Broadcast.
const (
	StatusPlayed        = "played"
	StatusPlayFailed    = "play_failed"
	StatusEnqueueFailed = "enqueue_failed"
	StatusCanceled      = "canceled"
)

type Config struct {
	DefaultVolume      float64
	DefaultNormalize   bool
	DefaultMaxDuration time.Duration
}

// PlayOptions are the per-job playback knobs passed through to the player.
type PlayOptions struct {
	Volume      float64
	Normalize   bool
	MaxDuration time.Duration
}

// Job is one queued playback request. Exactly one of Audio or URL is set.
type Job struct {
	ID      string
	Audio   []byte
	URL     string
	Options PlayOptions

	// Context for logs only.
	MatchID  string
	Identity string

	result chan Result
}

// Result is the outcome of one job.
type Result struct {
	OK     bool
	Status string
	Err    error
}

// Phase is the per-key worker state.
type Phase int

const (
	Idle Phase = iota
	Running
)

func (p Phase) String() string {
	if p == Running {
		return "running"
	}
	return "idle"
}

// WorkerState is the tagged per-key state: Idle, or Running with a handle.
type WorkerState struct {
	Phase  Phase
	Handle *Handle
}

// Handle identifies one live worker. Done is closed when the worker exits.
type Handle struct {
	Key       string
	StartedAt time.Time
	done      chan struct{}
}

func (h *Handle) Done() <-chan struct{} { return h.done }

// Queue is the per-destination dispatcher. It is safe for concurrent use.
type Queue struct {
	// mu guards workers and closed. It is only held for the spawn check
	// and for worker deregistration, never across a player call.
	mu      sync.Mutex
	workers map[string]*Handle
	closed  bool

	queues sync.Map // key -> *jobQueue

	cfgMu sync.RWMutex
	cfg   Config

	player  domain.Player
	log     logx.Logger
	metrics *metrics.Pipeline

	// base context for player calls; jobs are never canceled once dequeued.
	ctx context.Context
	wg  sync.WaitGroup
}
