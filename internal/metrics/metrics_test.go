package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPipelineCounters(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	p := New(reg)

	p.JobDone("ok", 10*time.Millisecond)
	p.JobDone("ok", 20*time.Millisecond)
	p.JobDone("failed", time.Millisecond)
	p.WorkerStarted()
	p.WorkerStarted()
	p.WorkerStopped()
	p.Delivery("no_target")

	if got := testutil.ToFloat64(p.dispatchJobs.WithLabelValues("ok")); got != 2 {
		t.Fatalf("ok jobs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(p.dispatchWorkers); got != 1 {
		t.Fatalf("active workers = %v, want 1", got)
	}
	if got := testutil.ToFloat64(p.deliveries.WithLabelValues("no_target")); got != 1 {
		t.Fatalf("no_target = %v, want 1", got)
	}
}

func TestNilPipelineIsSafe(t *testing.T) {
	t.Parallel()
	var p *Pipeline
	p.JobDone("ok", time.Second)
	p.WorkerStarted()
	p.PollCycle("ok")
	p.EventsEmitted(3)
	p.Delivery("played")
}
