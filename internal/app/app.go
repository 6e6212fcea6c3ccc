// Package app wires the notification pipeline together: config, logging,
// storage, cache, adapters, the detector/dispatch/delivery core, the poller
// and the ops server.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"matchcall/internal/adapters/natsplayer"
	"matchcall/internal/adapters/riot"
	"matchcall/internal/adapters/telegram"
	"matchcall/internal/cache"
	"matchcall/internal/config"
	"matchcall/internal/delivery"
	"matchcall/internal/detector"
	"matchcall/internal/dispatch"
	"matchcall/internal/domain"
	"matchcall/internal/eventbus"
	"matchcall/internal/metrics"
	"matchcall/internal/observability/ops"
	"matchcall/internal/poller"
	"matchcall/internal/runtime/supervisor"
	"matchcall/internal/storage"
	logx "matchcall/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	log  logx.Logger
	logs *logx.Service

	reg     *prometheus.Registry
	metrics *metrics.Pipeline
	bus     eventbus.Bus

	store    *storage.Store
	redis    *cache.Redis
	fallback *cache.Fallback
	player   *natsplayer.Player

	queue    *dispatch.Queue
	detector *detector.Detector
	resolver *delivery.Resolver
	poller   *poller.Service
	ops      *ops.Service

	sup *supervisor.Supervisor
}

// New loads the config and builds every component. Nothing runs until
// Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	// Alerts are enabled only after the sender exists.
	logCfg := mapLogging(cfg)
	logs, log := logx.New(logCfg, nil)
	if tc, enabled, _ := mapAlerts(cfg); enabled {
		alerter, err := telegram.New(tc)
		if err != nil {
			log.Warn("telegram alerts disabled", logx.Err(err))
		} else {
			logs.SetSender(alerter)
		}
	}

	a := &App{cfgm: cfgm, logs: logs, log: log.With(logx.String("comp", "app"))}
	if err := a.build(cfg, log); err != nil {
		a.closeResources()
		_ = logs.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(cfg *config.Config, log logx.Logger) error {
	a.reg = prometheus.NewRegistry()
	a.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.reg)
	a.bus = eventbus.New()

	sc, _ := mapStorage(cfg)
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	a.store = store

	cs, _ := mapCache(cfg)
	lastSeen := a.buildCache(cs, log.With(logx.String("comp", "cache")))

	pc, _ := mapPlayer(cfg)
	player, err := natsplayer.Connect(pc, log.With(logx.String("comp", "player")))
	if err != nil {
		return fmt.Errorf("connect player: %w", err)
	}
	a.player = player

	dc, _ := mapDispatch(cfg)
	a.queue = dispatch.New(dc, player, log.With(logx.String("comp", "dispatch")), a.metrics)

	rc, _ := mapRiot(cfg)
	source := riot.New(rc, log.With(logx.String("comp", "riot")))

	detCfg, _ := mapDetector(cfg, cs.TTL)
	a.detector = detector.New(detCfg, store, source, lastSeen, log.With(logx.String("comp", "detector")), a.metrics)

	delCfg, tmpl, _ := mapDelivery(cfg)
	a.resolver = delivery.New(delCfg, delivery.Deps{
		Resolver:    store,
		Analysis:    store,
		Broadcaster: a.queue,
		Narrator:    delivery.URLNarrator{Template: tmpl},
		Bus:         a.bus,
		Metrics:     a.metrics,
	}, log.With(logx.String("comp", "delivery")))

	pollCfg, _ := mapPoll(cfg)
	a.poller = poller.New(pollCfg, a.detector, a.bus, log.With(logx.String("comp", "poller")), a.metrics)
	a.poller.Handle(func(ctx context.Context, ev domain.MatchCompletedEvent) {
		a.resolver.Handle(ctx, ev)
	})

	oc, _ := mapOps(cfg)
	a.ops = ops.New(oc, a.reg, a.Health, log.With(logx.String("comp", "ops")))
	return nil
}

// buildCache picks the last-seen backend. Remote backends are wrapped so
// an outage follows the configured policy.
func (a *App) buildCache(cs cacheSettings, log logx.Logger) domain.Cache {
	switch cs.Driver {
	case cacheMemory:
		log.Info("last-seen cache: memory")
		return cache.NewMemory(cs.MaxEntries)
	case cacheRedis:
		a.redis = cache.NewRedis(cache.NewRedisClient(cs.Redis), cs.Redis.Prefix, cs.Redis.Timeout)
		a.fallback = cache.NewFallback(a.redis, cs.Policy, cs.MaxEntries, log)
		log.Info("last-seen cache: redis", logx.String("addr", cs.Redis.Addr), logx.String("policy", string(cs.Policy)))
		return a.fallback
	default:
		a.fallback = cache.NewFallback(a.store.LastSeen(), cs.Policy, cs.MaxEntries, log)
		log.Info("last-seen cache: sqlite", logx.String("policy", string(cs.Policy)))
		return a.fallback
	}
}

// Health feeds /healthz.
func (a *App) Health() (bool, any) {
	st := a.poller.Status()
	natsUp := a.player.IsConnected()
	detail := map[string]any{
		"poll":           st,
		"dispatch":       a.queue.Workers(),
		"player":         natsUp,
		"cache_degraded": a.fallback != nil && a.fallback.Degraded(),
		"dropped_events": eventbus.Dropped(a.bus),
	}
	if sup := a.poller.Supervisor(); sup != nil {
		detail["poller_goroutines"] = sup.Snapshot()
	}
	if a.sup != nil {
		detail["app_goroutines"] = a.sup.Snapshot()
	}
	return natsUp && st.Failures == 0, detail
}

func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err := a.store.Ping(pctx)
	if err == nil && a.redis != nil {
		if rerr := a.redis.Ping(pctx); rerr != nil {
			a.log.Warn("redis unreachable at start", logx.Err(rerr))
		}
	}
	cancel()
	if err != nil {
		return fmt.Errorf("storage ping: %w", err)
	}

	if err := a.ops.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.poller.Start(a.sup.Context()); err != nil {
		return err
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	sub := a.cfgm.Subscribe(4)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				a.apply(c, last, cfg)
				last = cfg
			}
		}
	})
	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

func (a *App) logEvent(e eventbus.Event) {
	switch d := e.Data.(type) {
	case delivery.Outcome:
		a.log.Debug("event", logx.String("type", e.Type), logx.String("match", d.Event.MatchID),
			logx.Bool("ok", d.OK), logx.String("status", d.Status), logx.String("target", d.Target))
	case domain.MatchCompletedEvent:
		a.log.Debug("event", logx.String("type", e.Type), logx.String("match", d.MatchID), logx.String("identity", d.Identity))
	default:
		a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	}
}

// apply pushes hot-reloadable sections into running components.
func (a *App) apply(ctx context.Context, prev, cfg *config.Config) {
	sections, fields := config.Summarize(prev, cfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogging(cfg))
	if dc, err := mapDispatch(cfg); err == nil {
		a.queue.Apply(dc)
	}
	if pc, err := mapPoll(cfg); err == nil {
		if err := a.poller.Apply(pc); err != nil {
			a.log.Warn("poll config rejected; keeping previous", logx.Err(err))
		}
	}
	if oc, err := mapOps(cfg); err == nil {
		if err := a.ops.Reconfigure(ctx, oc); err != nil {
			a.log.Warn("ops server reconfigure failed", logx.Err(err))
		}
	}
	if r := config.RestartRequired(sections); len(r) > 0 {
		a.log.Warn("config changed; restart required for these sections", logx.Strings("sections", r))
	}
	a.log.Info("config reloaded", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
}

// Stop shuts components down in dependency order: no new polls, then
// consumers, then queued playback, then transports and storage.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		a.closeResources()
		return a.logs.Close()
	}
	a.log.Info("stopping")

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		sctx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(sctx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	step("poller", 5*time.Second, a.poller.Stop)
	step("dispatch", 5*time.Second, func(c context.Context) error {
		a.queue.Close()
		return a.queue.Wait(c)
	})
	step("ops", 2*time.Second, a.ops.Stop)
	step("supervisor", 2*time.Second, a.sup.Stop)
	a.closeResources()

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) closeResources() {
	if a.player != nil {
		a.player.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
