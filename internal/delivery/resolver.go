// Package delivery routes a completed-match event to a destination.
//
// Candidates come from the event's destination hint, or else from the
// destination resolver. They are tried in order through the dispatcher's
// broadcast surface until one plays.
package delivery

import (
	"context"
	"strings"
	"time"

	"matchcall/internal/dispatch"
	"matchcall/internal/domain"
	"matchcall/internal/eventbus"
	"matchcall/internal/metrics"
	logx "matchcall/pkg/logx"
)

const (
	StatusNoTarget      = "no_target"
	StatusPayloadFailed = "payload_failed"
)

// DefaultAnnounceURL points at a local synthesis sidecar.
const DefaultAnnounceURL = "http://127.0.0.1:8090/announce?match={match_id}&identity={identity}"

// DefaultAnalysisTimeout bounds the analysis lookup ahead of the first
// broadcast.
const DefaultAnalysisTimeout = 250 * time.Millisecond

type Config struct {
	// AnalysisTimeout bounds the optional analysis lookup.
	AnalysisTimeout time.Duration
}

// Outcome is published on the bus after every Handle.
type Outcome struct {
	Event      domain.MatchCompletedEvent
	OK         bool
	Status     string
	Attempts   int
	Target     string
	Candidates []string
}

type Resolver struct {
	cfg         Config
	resolver    domain.DestinationResolver
	analysis    domain.AnalysisStore
	broadcaster dispatch.Broadcaster
	narrator    Narrator
	bus         eventbus.Bus
	log         logx.Logger
	metrics     *metrics.Pipeline
}

type Deps struct {
	Resolver    domain.DestinationResolver
	Analysis    domain.AnalysisStore // optional
	Broadcaster dispatch.Broadcaster
	Narrator    Narrator
	Bus         eventbus.Bus // optional
	Metrics     *metrics.Pipeline
}

func New(cfg Config, deps Deps, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.AnalysisTimeout <= 0 {
		cfg.AnalysisTimeout = DefaultAnalysisTimeout
	}
	if deps.Narrator == nil {
		deps.Narrator = URLNarrator{Template: DefaultAnnounceURL}
	}
	return &Resolver{
		cfg:         cfg,
		resolver:    deps.Resolver,
		analysis:    deps.Analysis,
		broadcaster: deps.Broadcaster,
		narrator:    deps.Narrator,
		bus:         deps.Bus,
		log:         log,
		metrics:     deps.Metrics,
	}
}

// Handle delivers one event. It never returns an error: every failure maps
// to (false, status).
func (r *Resolver) Handle(ctx context.Context, ev domain.MatchCompletedEvent) (bool, string) {
	log := r.log.With(logx.String("identity", ev.Identity), logx.String("match", ev.MatchID))
	out := Outcome{Event: ev}
	defer func() {
		r.metrics.Delivery(out.Status)
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryDone, Data: out})
		}
	}()

	out.Candidates = r.candidates(ctx, ev, log)
	if len(out.Candidates) == 0 {
		out.Status = StatusNoTarget
		log.Warn("delivery skipped", logx.Err(domain.Wrap(domain.ErrNoTargetFound, "delivery.handle", nil)))
		return false, out.Status
	}

	rec := r.lookupAnalysis(ctx, ev, log)

	req, err := r.narrator.Payload(ctx, ev, rec)
	if err != nil {
		out.Status = StatusPayloadFailed
		log.Warn("delivery payload failed", logx.Err(err))
		return false, out.Status
	}
	if req.MatchID == "" {
		req.MatchID = ev.MatchID
	}
	if req.Identity == "" {
		req.Identity = ev.Identity
	}

	for _, key := range out.Candidates {
		out.Attempts++
		ok, status := r.broadcaster.Broadcast(ctx, key, req)
		out.Status = status
		if ok {
			out.OK = true
			out.Target = key
			log.Info("delivered", logx.String("target", key), logx.String("status", status), logx.Int("attempts", out.Attempts))
			return true, status
		}
		log.Debug("delivery attempt failed", logx.String("target", key), logx.String("status", status))
		if ctx.Err() != nil {
			break
		}
	}
	log.Warn("delivery failed", logx.Strings("candidates", out.Candidates), logx.String("status", out.Status),
		logx.Err(domain.Wrap(domain.ErrAllTargetsFailed, "delivery.handle", nil)))
	return false, out.Status
}

// candidates returns the ordered, de-duplicated destination keys.
func (r *Resolver) candidates(ctx context.Context, ev domain.MatchCompletedEvent, log logx.Logger) []string {
	if hint := strings.TrimSpace(ev.DestinationHint); hint != "" {
		return []string{hint}
	}
	if r.resolver == nil {
		return nil
	}
	keys, err := r.resolver.Resolve(ctx, ev.Identity)
	if err != nil {
		log.Warn("destination resolve failed", logx.Err(err))
		return nil
	}
	return dedupe(keys)
}

func dedupe(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// lookupAnalysis looks up a precomputed record. It is informative only and
// never fails the delivery. Narrators that ignore the record skip it.
func (r *Resolver) lookupAnalysis(ctx context.Context, ev domain.MatchCompletedEvent, log logx.Logger) *domain.AnalysisRecord {
	if r.analysis == nil {
		return nil
	}
	if ac, ok := r.narrator.(AnalysisConsumer); ok && !ac.UsesAnalysis() {
		return nil
	}
	actx, cancel := context.WithTimeout(ctx, r.cfg.AnalysisTimeout)
	defer cancel()
	rec, ok, err := r.analysis.GetRecord(actx, ev.MatchID)
	if err != nil {
		log.Debug("analysis lookup failed", logx.Err(err))
		return nil
	}
	if !ok {
		return nil
	}
	log.Debug("analysis record found", logx.Float64("score", rec.Score))
	return &rec
}
