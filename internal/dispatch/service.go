package dispatch

import (
	"context"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"matchcall/internal/domain"
	"matchcall/internal/metrics"
	logx "matchcall/pkg/logx"
)

func New(cfg Config, player domain.Player, log logx.Logger, m *metrics.Pipeline) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{
		workers: map[string]*Handle{},
		cfg:     normalizeConfig(cfg),
		player:  player,
		log:     log,
		metrics: m,
		ctx:     context.Background(),
	}
}

func normalizeConfig(cfg Config) Config {
	if cfg.DefaultVolume <= 0 {
		cfg.DefaultVolume = 1.0
	}
	if cfg.DefaultVolume > 2 {
		cfg.DefaultVolume = 2
	}
	if cfg.DefaultMaxDuration < 0 {
		cfg.DefaultMaxDuration = 0
	}
	return cfg
}

// Apply swaps playback defaults. Jobs already queued keep their options.
func (q *Queue) Apply(cfg Config) {
	q.cfgMu.Lock()
	q.cfg = normalizeConfig(cfg)
	q.cfgMu.Unlock()
}

// Defaults returns the playback options used when a caller passes none.
func (q *Queue) Defaults() PlayOptions {
	q.cfgMu.RLock()
	defer q.cfgMu.RUnlock()
	return PlayOptions{
		Volume:      q.cfg.DefaultVolume,
		Normalize:   q.cfg.DefaultNormalize,
		MaxDuration: q.cfg.DefaultMaxDuration,
	}
}

// Enqueue appends job to the key's queue and makes sure a worker is running.
// It returns once the job is queued and never waits for playback.
func (q *Queue) Enqueue(key string, job Job) bool {
	key = strings.TrimSpace(key)
	if key == "" || (len(job.Audio) == 0) == (job.URL == "") {
		q.log.Warn("dispatch job rejected", logx.String("key", key), logx.Bool("has_audio", len(job.Audio) > 0), logx.Bool("has_url", job.URL != ""))
		q.metrics.JobRejected()
		return false
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Options.Volume <= 0 {
		job.Options.Volume = q.Defaults().Volume
	}

	// Intake check, push and spawn share one critical section so a job
	// accepted here always has a worker counted before Close returns.
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.log.Debug("dispatch closed; dropping job", logx.String("key", key), logx.String("job", job.ID))
		q.metrics.JobRejected()
		return false
	}
	v, _ := q.queues.LoadOrStore(key, &jobQueue{})
	jq := v.(*jobQueue)
	depth := jq.push(job)
	if _, running := q.workers[key]; !running {
		h := &Handle{Key: key, StartedAt: time.Now(), done: make(chan struct{})}
		q.workers[key] = h
		q.wg.Add(1)
		go q.run(h, jq)
	}
	q.mu.Unlock()
	q.metrics.QueueDepth(depth)

	q.log.Debug("dispatch job enqueued", logx.String("key", key), logx.String("job", job.ID), logx.String("match", job.MatchID), logx.Int("depth", depth))
	return true
}

// EnqueueBytes queues an inline audio payload. A nil opt uses Defaults.
func (q *Queue) EnqueueBytes(key string, audio []byte, opt *PlayOptions) bool {
	return q.Enqueue(key, Job{Audio: audio, Options: q.options(opt)})
}

// EnqueueURL queues a reference payload the player fetches itself. A nil
// opt uses Defaults.
func (q *Queue) EnqueueURL(key, url string, opt *PlayOptions) bool {
	return q.Enqueue(key, Job{URL: url, Options: q.options(opt)})
}

func (q *Queue) options(opt *PlayOptions) PlayOptions {
	if opt == nil {
		return q.Defaults()
	}
	return *opt
}

// State reports the tagged worker state for key.
func (q *Queue) State(key string) WorkerState {
	q.mu.Lock()
	defer q.mu.Unlock()
	if h, ok := q.workers[key]; ok {
		return WorkerState{Phase: Running, Handle: h}
	}
	return WorkerState{Phase: Idle}
}

// Workers returns the keys that currently have a live worker, sorted.
func (q *Queue) Workers() []string {
	q.mu.Lock()
	keys := make([]string, 0, len(q.workers))
	for k := range q.workers {
		keys = append(keys, k)
	}
	q.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Pending returns the number of queued (not yet started) jobs for key.
func (q *Queue) Pending(key string) int {
	v, ok := q.queues.Load(key)
	if !ok {
		return 0
	}
	return v.(*jobQueue).len()
}

// Close stops intake. Running workers keep draining what is already queued.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Wait blocks until every worker has exited or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run(h *Handle, jq *jobQueue) {
	q.metrics.WorkerStarted()
	q.log.Debug("dispatch worker started", logx.String("key", h.Key))
	defer func() {
		q.metrics.WorkerStopped()
		close(h.done)
		q.wg.Done()
		q.log.Debug("dispatch worker stopped", logx.String("key", h.Key), logx.Duration("alive", time.Since(h.StartedAt)))
	}()

	for {
		j, ok := jq.pop()
		if !ok {
			// Re-check under the registry lock: an Enqueue that appended
			// before taking the lock either sees us registered (and relies
			// on us) or runs after we deregister (and spawns a new worker).
			q.mu.Lock()
			if jq.len() > 0 {
				q.mu.Unlock()
				continue
			}
			if q.workers[h.Key] == h {
				delete(q.workers, h.Key)
			}
			q.mu.Unlock()
			return
		}
		q.exec(h.Key, j)
	}
}

func (q *Queue) exec(key string, j Job) {
	start := time.Now()
	res := q.play(key, j)
	took := time.Since(start)

	fields := []logx.Field{
		logx.String("key", key),
		logx.String("job", j.ID),
		logx.String("match", j.MatchID),
		logx.String("identity", j.Identity),
		logx.Duration("took", took),
	}
	if res.OK {
		q.metrics.JobDone("ok", took)
		q.log.Info("playback finished", fields...)
	} else {
		q.metrics.JobDone("failed", took)
		q.log.Warn("playback failed", append(fields, logx.Err(res.Err))...)
	}
	if j.result != nil {
		// buffered(1); never blocks the worker
		j.result <- res
	}
}

func (q *Queue) play(key string, j Job) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("panic in player", logx.String("key", key), logx.String("job", j.ID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			res = Result{Status: StatusPlayFailed, Err: domain.Wrap(domain.ErrPlayback, "dispatch.play", nil)}
		}
	}()
	if q.player == nil {
		return Result{Status: StatusPlayFailed, Err: domain.Wrap(domain.ErrPlayback, "dispatch.play", nil)}
	}
	ok, err := q.player.Play(q.ctx, domain.PlayRequest{
		Destination: key,
		Audio:       j.Audio,
		URL:         j.URL,
		Volume:      j.Options.Volume,
		Normalize:   j.Options.Normalize,
		MaxDuration: j.Options.MaxDuration,
	})
	if err != nil || !ok {
		return Result{Status: StatusPlayFailed, Err: domain.Wrap(domain.ErrPlayback, "dispatch.play", err)}
	}
	return Result{OK: true, Status: StatusPlayed}
}
