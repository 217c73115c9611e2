package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricKind int

const (
	kindCounter metricKind = iota
	kindGauge
	kindHistogram
)

type metricDef struct {
	kind    metricKind
	name    string
	help    string
	labels  []string
	buckets []float64
}

// Every metric the pipeline emits. Tags outside a metric's labels are dropped,
// missing ones are reported as "".
var metricDefs = map[string]metricDef{
	"job.transition": {
		kind: kindCounter, name: "job_transitions_total",
		help:   "Analysis job state transitions",
		labels: []string{"analysis_type", "transition", "result", "error_class"},
	},
	"job.duration": {
		kind: kindHistogram, name: "job_duration_seconds",
		help:    "Time from claim to terminal state of analysis jobs",
		labels:  []string{"analysis_type", "transition", "result", "error_class"},
		buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
	},
	"worker.claim": {
		kind: kindCounter, name: "worker_claims_total",
		help:   "Worker claim attempts",
		labels: []string{"result"},
	},
	"admission.decision": {
		kind: kindCounter, name: "admission_decisions_total",
		help:   "Admission decisions for AI requests",
		labels: []string{"action", "result", "limit_type", "plan"},
	},
	"usage.cost": {
		kind: kindCounter, name: "usage_cost_total",
		help:   "Estimated AI cost charged, in micro-dollars",
		labels: []string{"usage_type", "analysis_type"},
	},
	"sweeper.run": {
		kind: kindCounter, name: "sweeper_runs_total",
		help:   "Retention sweep runs",
		labels: []string{"result", "error_class"},
	},
	"sweeper.duration": {
		kind: kindHistogram, name: "sweeper_run_duration_seconds",
		help:    "Retention sweep duration",
		labels:  []string{"result", "error_class"},
		buckets: prometheus.DefBuckets,
	},
	"sweeper.jobs_processed": {
		kind: kindCounter, name: "sweeper_jobs_processed_total",
		help:   "Jobs deleted or failed by the sweeper",
		labels: []string{"operation"},
	},
	"sweeper.last_success_epoch": {
		kind: kindGauge, name: "sweeper_last_success_timestamp_seconds",
		help: "Unix time of the last successful sweep",
	},
	"jobs.by_status": {
		kind: kindGauge, name: "jobs",
		help:   "Analysis jobs currently stored, by status",
		labels: []string{"status"},
	},
	"http.request": {
		kind: kindCounter, name: "http_requests_total",
		help:   "HTTP requests served",
		labels: []string{"method", "route", "status_code"},
	},
	"http.request_duration": {
		kind: kindHistogram, name: "http_request_duration_seconds",
		help:    "HTTP request latency distribution",
		labels:  []string{"method", "route"},
		buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	},
}

// PrometheusOptions configures a PrometheusSink.
type PrometheusOptions struct {
	Namespace string
	// Registry defaults to a fresh registry with Go and process collectors.
	Registry *prometheus.Registry
}

// PrometheusSink implements Sink on top of Prometheus collectors.
// Collectors are registered lazily on first use. It is safe for concurrent use.
type PrometheusSink struct {
	namespace string
	registry  *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

var _ Sink = (*PrometheusSink)(nil)

// NewPrometheusSink creates a sink backed by its own registry.
func NewPrometheusSink(opts PrometheusOptions) *PrometheusSink {
	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return &PrometheusSink{
		namespace:  strings.TrimSpace(opts.Namespace),
		registry:   reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying registry so other collectors can be added.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// Count increments a counter metric.
func (s *PrometheusSink) Count(name string, value int64, tags map[string]string) {
	if s == nil || value < 0 {
		return
	}
	def, ok := metricDefs[name]
	if !ok || def.kind != kindCounter {
		return
	}
	s.counter(def).With(labelValues(def, tags)).Add(float64(value))
}

// Gauge records the current value for a gauge metric.
func (s *PrometheusSink) Gauge(name string, value float64, tags map[string]string) {
	if s == nil {
		return
	}
	def, ok := metricDefs[name]
	if !ok || def.kind != kindGauge {
		return
	}
	s.gauge(def).With(labelValues(def, tags)).Set(value)
}

// Timing observes a duration in seconds.
func (s *PrometheusSink) Timing(name string, value time.Duration, tags map[string]string) {
	if s == nil {
		return
	}
	def, ok := metricDefs[name]
	if !ok || def.kind != kindHistogram {
		return
	}
	s.histogram(def).With(labelValues(def, tags)).Observe(value.Seconds())
}

func (s *PrometheusSink) counter(def metricDef) *prometheus.CounterVec {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vec, ok := s.counters[def.name]; ok {
		return vec
	}
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: s.namespace,
		Name:      def.name,
		Help:      def.help,
	}, def.labels)
	s.registry.MustRegister(vec)
	s.counters[def.name] = vec
	return vec
}

func (s *PrometheusSink) gauge(def metricDef) *prometheus.GaugeVec {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vec, ok := s.gauges[def.name]; ok {
		return vec
	}
	vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: s.namespace,
		Name:      def.name,
		Help:      def.help,
	}, def.labels)
	s.registry.MustRegister(vec)
	s.gauges[def.name] = vec
	return vec
}

func (s *PrometheusSink) histogram(def metricDef) *prometheus.HistogramVec {
	s.mu.Lock()
	defer s.mu.Unlock()
	if vec, ok := s.histograms[def.name]; ok {
		return vec
	}
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: s.namespace,
		Name:      def.name,
		Help:      def.help,
		Buckets:   def.buckets,
	}, def.labels)
	s.registry.MustRegister(vec)
	s.histograms[def.name] = vec
	return vec
}

func labelValues(def metricDef, tags map[string]string) prometheus.Labels {
	labels := make(prometheus.Labels, len(def.labels))
	for _, l := range def.labels {
		labels[l] = strings.TrimSpace(tags[l])
	}
	return labels
}
