// Package detector finds newly completed matches for bound identities.
//
// Each Poll lists the active bindings, fetches the newest match ids per
// binding and compares them against a last-seen cache. The first observation
// of a binding only records a baseline; later changes emit one event.
package detector

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"matchcall/internal/cache"
	"matchcall/internal/domain"
	"matchcall/internal/metrics"
	logx "matchcall/pkg/logx"
)

// DefaultCacheTTL is the lifetime of a last-seen entry when none is set.
const DefaultCacheTTL = 30 * 24 * time.Hour

type Config struct {
	// MatchCount is how many recent ids to request per binding (default 1).
	MatchCount int
	// Concurrency bounds parallel per-binding fetches (default 4).
	Concurrency int
	// FetchTimeout bounds each per-binding fetch; 0 leaves it to the caller.
	FetchTimeout time.Duration
	// CacheTTL is the lifetime of a last-seen entry (default 30 days).
	CacheTTL time.Duration
}

type Detector struct {
	cfg     Config
	store   domain.BindingStore
	source  domain.MatchSource
	cache   domain.Cache
	log     logx.Logger
	metrics *metrics.Pipeline
	now     func() time.Time
}

// New builds a detector. A nil cache falls back to a process-local map.
func New(cfg Config, store domain.BindingStore, source domain.MatchSource, c domain.Cache, log logx.Logger, m *metrics.Pipeline) *Detector {
	if log.IsZero() {
		log = logx.Nop()
	}
	if c == nil {
		c = cache.NewMemory(0)
	}
	if cfg.MatchCount <= 0 {
		cfg.MatchCount = 1
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	return &Detector{cfg: cfg, store: store, source: source, cache: c, log: log, metrics: m, now: time.Now}
}

// Poll runs one detection cycle.
//
// A binding store failure aborts the cycle with ErrBindingListUnavailable.
// Failures for a single binding are logged and only skip that binding.
// Events are returned in binding order.
func (d *Detector) Poll(ctx context.Context) ([]domain.MatchCompletedEvent, error) {
	start := d.now()
	bindings, err := d.store.ListBindings(ctx)
	if err != nil {
		d.metrics.PollCycle("store_error")
		d.log.Warn("poll aborted: binding list unavailable", logx.Err(err))
		return nil, domain.Wrap(domain.ErrBindingListUnavailable, "detector.poll", err)
	}

	results := make([]*domain.MatchCompletedEvent, len(bindings))
	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for i, b := range bindings {
		g.Go(func() error {
			ev, err := d.check(ctx, b)
			if err != nil {
				d.log.Warn("binding skipped", logx.String("identity", b.Identity), logx.String("puuid", b.PUUID), logx.String("region", b.Region), logx.Err(err))
				return nil
			}
			results[i] = ev
			return nil
		})
	}
	_ = g.Wait()

	events := make([]domain.MatchCompletedEvent, 0, len(results))
	for _, ev := range results {
		if ev != nil {
			events = append(events, *ev)
		}
	}
	d.metrics.PollCycle("ok")
	d.metrics.EventsEmitted(len(events))
	d.log.Debug("poll finished", logx.Int("bindings", len(bindings)), logx.Int("events", len(events)), logx.Duration("took", d.now().Sub(start)))
	return events, nil
}

// check evaluates one binding and returns an event if a new match appeared.
func (d *Detector) check(ctx context.Context, b domain.Binding) (*domain.MatchCompletedEvent, error) {
	fctx := ctx
	if d.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fctx, cancel = context.WithTimeout(ctx, d.cfg.FetchTimeout)
		defer cancel()
	}
	ids, err := d.source.RecentMatchIDs(fctx, b.PUUID, b.Region, d.cfg.MatchCount)
	if err != nil {
		d.metrics.SourceFetch("error")
		if errors.Is(err, domain.ErrSourceFetchFailed) {
			return nil, err
		}
		return nil, domain.Wrap(domain.ErrSourceFetchFailed, "detector.fetch", err)
	}
	d.metrics.SourceFetch("ok")
	if len(ids) == 0 || ids[0] == "" {
		return nil, nil
	}
	newest := ids[0]
	key := b.CacheKey()

	last, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, domain.ErrCacheUnavailable) {
			return nil, err
		}
		return nil, domain.Wrap(domain.ErrCacheUnavailable, "detector.cache_get", err)
	}
	if !ok {
		// First contact: record a baseline so history is not announced.
		if err := d.cache.Set(ctx, key, newest, d.cfg.CacheTTL); err != nil {
			return nil, domain.Wrap(domain.ErrCacheUnavailable, "detector.cache_prime", err)
		}
		d.log.Debug("binding primed", logx.String("key", key), logx.String("match", newest))
		return nil, nil
	}
	if last == newest {
		return nil, nil
	}

	ev := &domain.MatchCompletedEvent{
		Identity:        b.Identity,
		PUUID:           b.PUUID,
		MatchID:         newest,
		Region:          b.Region,
		DestinationHint: b.DestinationHint,
		DetectedAt:      d.now(),
	}
	if err := d.cache.Set(ctx, key, newest, d.cfg.CacheTTL); err != nil {
		// The event still goes out; the next cycle may repeat it.
		d.log.Warn("last-seen update failed", logx.String("key", key), logx.String("match", newest), logx.Err(err))
	}
	d.log.Info("match completed", logx.String("identity", b.Identity), logx.String("puuid", b.PUUID), logx.String("match", newest), logx.String("previous", last))
	return ev, nil
}
