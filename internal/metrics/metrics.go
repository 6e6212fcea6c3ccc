// Package metrics defines the Prometheus collectors for the notification pipeline.
//
// All methods are nil-safe so components can run without metrics in tests.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "matchcall"

type Pipeline struct {
	dispatchJobs    *prometheus.CounterVec
	dispatchWorkers prometheus.Gauge
	dispatchDepth   prometheus.Histogram
	playDuration    prometheus.Histogram

	pollCycles    *prometheus.CounterVec
	pollEvents    prometheus.Counter
	sourceFetches *prometheus.CounterVec

	deliveries *prometheus.CounterVec
}

// New registers the pipeline collectors on reg.
func New(reg prometheus.Registerer) *Pipeline {
	f := promauto.With(reg)
	return &Pipeline{
		dispatchJobs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "jobs_total",
			Help: "Playback jobs processed by result.",
		}, []string{"result"}),
		dispatchWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "active_workers",
			Help: "Destination workers currently alive.",
		}),
		dispatchDepth: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "queue_depth",
			Help:    "Per-destination queue depth observed at enqueue.",
			Buckets: []float64{1, 2, 4, 8, 16, 32},
		}),
		playDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "play_duration_seconds",
			Help:    "Time spent inside the external player per job.",
			Buckets: prometheus.DefBuckets,
		}),
		pollCycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "detector", Name: "poll_cycles_total",
			Help: "Poll cycles by result.",
		}, []string{"result"}),
		pollEvents: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "detector", Name: "events_total",
			Help: "Match completed events emitted.",
		}),
		sourceFetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "detector", Name: "source_fetches_total",
			Help: "Per-binding match source fetches by result.",
		}, []string{"result"}),
		deliveries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "delivery", Name: "results_total",
			Help: "Delivery outcomes by status.",
		}, []string{"status"}),
	}
}

func (p *Pipeline) JobDone(result string, took time.Duration) {
	if p == nil {
		return
	}
	p.dispatchJobs.WithLabelValues(result).Inc()
	p.playDuration.Observe(took.Seconds())
}

func (p *Pipeline) JobRejected() {
	if p == nil {
		return
	}
	p.dispatchJobs.WithLabelValues("rejected").Inc()
}

func (p *Pipeline) WorkerStarted() {
	if p == nil {
		return
	}
	p.dispatchWorkers.Inc()
}

func (p *Pipeline) WorkerStopped() {
	if p == nil {
		return
	}
	p.dispatchWorkers.Dec()
}

func (p *Pipeline) QueueDepth(n int) {
	if p == nil {
		return
	}
	p.dispatchDepth.Observe(float64(n))
}

func (p *Pipeline) PollCycle(result string) {
	if p == nil {
		return
	}
	p.pollCycles.WithLabelValues(result).Inc()
}

func (p *Pipeline) EventsEmitted(n int) {
	if p == nil || n <= 0 {
		return
	}
	p.pollEvents.Add(float64(n))
}

func (p *Pipeline) SourceFetch(result string) {
	if p == nil {
		return
	}
	p.sourceFetches.WithLabelValues(result).Inc()
}

func (p *Pipeline) Delivery(status string) {
	if p == nil {
		return
	}
	p.deliveries.WithLabelValues(status).Inc()
}
