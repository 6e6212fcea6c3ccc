package delivery

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"matchcall/internal/dispatch"
	"matchcall/internal/domain"
	"matchcall/internal/eventbus"
	logx "matchcall/pkg/logx"
)

type fakeResolver struct {
	mu    sync.Mutex
	keys  []string
	err   error
	calls int
}

func (r *fakeResolver) Resolve(ctx context.Context, identity string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return r.keys, r.err
}

// scriptedPlayer answers play calls from a fixed script of results.
type scriptedPlayer struct {
	mu      sync.Mutex
	results []bool
	calls   []domain.PlayRequest
}

func (p *scriptedPlayer) Play(ctx context.Context, req domain.PlayRequest) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := len(p.calls)
	p.calls = append(p.calls, req)
	if i < len(p.results) && !p.results[i] {
		return false, errors.New("not connected to voice")
	}
	return true, nil
}

func (p *scriptedPlayer) snapshot() []domain.PlayRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.PlayRequest(nil), p.calls...)
}

type fakeAnalysis struct {
	rec   domain.AnalysisRecord
	ok    bool
	err   error
	block bool
	calls atomic.Int32
}

func (a *fakeAnalysis) GetRecord(ctx context.Context, matchID string) (domain.AnalysisRecord, bool, error) {
	a.calls.Add(1)
	if a.block {
		<-ctx.Done()
		return domain.AnalysisRecord{}, false, ctx.Err()
	}
	return a.rec, a.ok, a.err
}

func newResolver(res domain.DestinationResolver, player domain.Player, analysis domain.AnalysisStore, bus eventbus.Bus) *Resolver {
	return newResolverWithTemplate(res, player, analysis, bus, "https://tts.local/m/{match_id}?who={identity}")
}

func newResolverWithTemplate(res domain.DestinationResolver, player domain.Player, analysis domain.AnalysisStore, bus eventbus.Bus, tpl string) *Resolver {
	q := dispatch.New(dispatch.Config{}, player, logx.Nop(), nil)
	return New(Config{AnalysisTimeout: 50 * time.Millisecond}, Deps{
		Resolver:    res,
		Analysis:    analysis,
		Broadcaster: q,
		Narrator:    URLNarrator{Template: tpl},
		Bus:         bus,
	}, logx.Nop())
}

var event = domain.MatchCompletedEvent{Identity: "42", PUUID: "P", MatchID: "NA1_102", Region: "na1"}

func TestHintBypassesResolver(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{keys: []string{"111", "222"}}
	player := &scriptedPlayer{}
	r := newResolver(res, player, nil, nil)

	ev := event
	ev.DestinationHint = "999"
	ok, status := r.Handle(context.Background(), ev)
	if !ok || status != dispatch.StatusPlayed {
		t.Fatalf("Handle = (%v, %s)", ok, status)
	}
	if res.calls != 0 {
		t.Fatalf("resolver called %d times, want 0", res.calls)
	}
	calls := player.snapshot()
	if len(calls) != 1 || calls[0].Destination != "999" {
		t.Fatalf("play calls = %+v", calls)
	}
}

func TestHintFailureDoesNotFallBackToResolver(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{keys: []string{"111"}}
	player := &scriptedPlayer{results: []bool{false}}
	r := newResolver(res, player, nil, nil)

	ev := event
	ev.DestinationHint = "999"
	ok, status := r.Handle(context.Background(), ev)
	if ok || status != dispatch.StatusPlayFailed {
		t.Fatalf("Handle = (%v, %s)", ok, status)
	}
	if res.calls != 0 || len(player.snapshot()) != 1 {
		t.Fatalf("resolver calls=%d play calls=%d", res.calls, len(player.snapshot()))
	}
}

func TestFallsThroughToNextCandidate(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{keys: []string{"111", "222"}}
	player := &scriptedPlayer{results: []bool{false, true}}
	r := newResolver(res, player, nil, nil)

	ok, status := r.Handle(context.Background(), event)
	if !ok || status != dispatch.StatusPlayed {
		t.Fatalf("Handle = (%v, %s), want (true, played)", ok, status)
	}
	calls := player.snapshot()
	if len(calls) != 2 {
		t.Fatalf("play calls = %d, want 2", len(calls))
	}
	if calls[0].Destination != "111" || calls[1].Destination != "222" {
		t.Fatalf("destinations = %s, %s", calls[0].Destination, calls[1].Destination)
	}
	if calls[1].URL != "https://tts.local/m/NA1_102?who=42" {
		t.Fatalf("payload url = %s", calls[1].URL)
	}
}

func TestAllCandidatesFailReturnsLastStatus(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{keys: []string{"111", "222"}}
	player := &scriptedPlayer{results: []bool{false, false}}
	r := newResolver(res, player, nil, nil)

	ok, status := r.Handle(context.Background(), event)
	if ok || status != dispatch.StatusPlayFailed {
		t.Fatalf("Handle = (%v, %s)", ok, status)
	}
	if len(player.snapshot()) != 2 {
		t.Fatalf("play calls = %d, want 2", len(player.snapshot()))
	}
}

func TestNoTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		res  *fakeResolver
	}{
		{name: "empty list", res: &fakeResolver{}},
		{name: "resolver error", res: &fakeResolver{err: errors.New("guild cache unavailable")}},
		{name: "blank keys", res: &fakeResolver{keys: []string{"", "  "}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			player := &scriptedPlayer{}
			r := newResolver(tt.res, player, nil, nil)
			ok, status := r.Handle(context.Background(), event)
			if ok || status != StatusNoTarget {
				t.Fatalf("Handle = (%v, %s), want (false, no_target)", ok, status)
			}
			if len(player.snapshot()) != 0 {
				t.Fatal("player must not be invoked")
			}
		})
	}
}

func TestCandidatesAreDeduplicated(t *testing.T) {
	t.Parallel()
	res := &fakeResolver{keys: []string{"111", "111", "222", "111"}}
	player := &scriptedPlayer{results: []bool{false, false}}
	r := newResolver(res, player, nil, nil)

	r.Handle(context.Background(), event)
	calls := player.snapshot()
	if len(calls) != 2 || calls[0].Destination != "111" || calls[1].Destination != "222" {
		t.Fatalf("calls = %+v", calls)
	}
}

func TestAnalysisProbeNeverBlocksDelivery(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		analysis *fakeAnalysis
	}{
		{name: "found", analysis: &fakeAnalysis{ok: true, rec: domain.AnalysisRecord{MatchID: "NA1_102", Score: 7.5}}},
		{name: "missing", analysis: &fakeAnalysis{}},
		{name: "error", analysis: &fakeAnalysis{err: errors.New("no such table")}},
		{name: "slow", analysis: &fakeAnalysis{block: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			player := &scriptedPlayer{}
			r := newResolverWithTemplate(&fakeResolver{keys: []string{"111"}}, player, tt.analysis, nil, "https://tts.local/m/{match_id}?score={score}")
			ok, _ := r.Handle(context.Background(), event)
			if !ok {
				t.Fatal("analysis lookup must not fail delivery")
			}
			if tt.analysis.calls.Load() != 1 {
				t.Fatalf("analysis lookups = %d, want 1", tt.analysis.calls.Load())
			}
		})
	}
}

func TestAnalysisSkippedWhenNarratorIgnoresIt(t *testing.T) {
	t.Parallel()
	analysis := &fakeAnalysis{block: true}
	player := &scriptedPlayer{}
	r := newResolver(&fakeResolver{keys: []string{"111"}}, player, analysis, nil)

	start := time.Now()
	ok, _ := r.Handle(context.Background(), event)
	if !ok {
		t.Fatal("delivery failed")
	}
	if n := analysis.calls.Load(); n != 0 {
		t.Fatalf("analysis lookups = %d, want 0", n)
	}
	if d := time.Since(start); d >= 50*time.Millisecond {
		t.Fatalf("delivery took %v, lookup was not skipped", d)
	}
}

func TestNarratorFillsAnalysisPlaceholders(t *testing.T) {
	t.Parallel()
	player := &scriptedPlayer{}
	analysis := &fakeAnalysis{ok: true, rec: domain.AnalysisRecord{MatchID: "NA1_102", Score: 7.5, Summary: "top damage"}}
	r := newResolverWithTemplate(&fakeResolver{keys: []string{"111"}}, player, analysis, nil,
		"https://tts.local/m/{match_id}?score={score}&s={summary}")

	if ok, _ := r.Handle(context.Background(), event); !ok {
		t.Fatal("delivery failed")
	}
	calls := player.snapshot()
	want := "https://tts.local/m/NA1_102?score=7.5&s=top+damage"
	if len(calls) != 1 || calls[0].URL != want {
		t.Fatalf("play calls = %+v, want url %s", calls, want)
	}
}

func TestOutcomePublished(t *testing.T) {
	t.Parallel()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4, eventbus.TypeDeliveryDone)
	defer unsub()
	r := newResolver(&fakeResolver{keys: []string{"111", "222"}}, &scriptedPlayer{results: []bool{false, true}}, nil, bus)

	r.Handle(context.Background(), event)
	select {
	case e := <-ch:
		out, ok := e.Data.(Outcome)
		if !ok {
			t.Fatalf("unexpected payload %T", e.Data)
		}
		if !out.OK || out.Target != "222" || out.Attempts != 2 {
			t.Fatalf("outcome = %+v", out)
		}
	case <-time.After(time.Second):
		t.Fatal("no outcome published")
	}
}

func TestURLNarratorEscapes(t *testing.T) {
	t.Parallel()
	n := URLNarrator{Template: "https://x/{region}/{puuid}?m={match_id}"}
	req, err := n.Payload(context.Background(), domain.MatchCompletedEvent{MatchID: "NA1_1", PUUID: "a b", Region: "na1"}, nil)
	if err != nil {
		t.Fatalf("Payload: %v", err)
	}
	if req.URL != "https://x/na1/a+b?m=NA1_1" {
		t.Fatalf("URL = %s", req.URL)
	}
	if _, err := (URLNarrator{}).Payload(context.Background(), event, nil); err == nil {
		t.Fatal("empty template should fail")
	}
}
