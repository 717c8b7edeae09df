// Package metrics implements the process-wide Query Metrics singleton
// (spec.md §4.F): atomic counters and a fixed-bucket latency histogram,
// consumable either as a dependency-free Snapshot or, when wired to a
// prometheus.Registerer, as "mytsdb_"-prefixed observable metrics (spec.md §6).
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Phase identifies one of the timed stages of query evaluation (spec.md §4.F).
type Phase int

const (
	PhaseTotal Phase = iota
	PhaseParse
	PhaseEval
	PhaseExec
	PhaseStorageRead
	numPhases
)

func (p Phase) String() string {
	switch p {
	case PhaseTotal:
		return "total"
	case PhaseParse:
		return "parse"
	case PhaseEval:
		return "eval"
	case PhaseExec:
		return "exec"
	case PhaseStorageRead:
		return "storage_read"
	default:
		return "unknown"
	}
}

// Buckets are the fixed latency-histogram upper bounds from spec.md §4.F, in
// seconds.
var Buckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics is the process-wide query metrics singleton. The zero value is not
// usable; construct with New.
type Metrics struct {
	queryCount  int64
	queryErrors int64

	phaseNanos [numPhases]int64

	samplesScanned int64
	seriesScanned  int64
	bytesScanned   int64

	histMu       sync.Mutex
	bucketCounts []int64
	histCount    int64
	histSum      float64

	promQueryCount   prometheus.Counter
	promQueryErrors  prometheus.Counter
	promSamples      prometheus.Counter
	promSeries       prometheus.Counter
	promBytes        prometheus.Counter
	promDuration     prometheus.Histogram
	promPhaseSeconds *prometheus.CounterVec
}

// New constructs a Metrics singleton with zeroed counters.
func New() *Metrics {
	return &Metrics{
		bucketCounts: make([]int64, len(Buckets)),

		promQueryCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mytsdb_query_count_total",
			Help: "Total number of PromQL queries evaluated.",
		}),
		promQueryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mytsdb_query_errors_total",
			Help: "Total number of PromQL queries that returned an error.",
		}),
		promSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mytsdb_samples_scanned_total",
			Help: "Total number of raw samples scanned while answering queries.",
		}),
		promSeries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mytsdb_series_scanned_total",
			Help: "Total number of series scanned while answering queries.",
		}),
		promBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mytsdb_bytes_scanned_total",
			Help: "Total number of sample bytes scanned while answering queries.",
		}),
		promDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mytsdb_query_duration_seconds",
			Help:    "End-to-end PromQL query evaluation latency.",
			Buckets: Buckets,
		}),
		promPhaseSeconds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mytsdb_query_phase_seconds_total",
			Help: "Cumulative seconds spent in each query-evaluation phase.",
		}, []string{"phase"}),
	}
}

// Register registers the Prometheus-facing side of the metrics with reg, as
// described in spec.md §6 ("Observable names").
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.promQueryCount, m.promQueryErrors, m.promSamples, m.promBytes,
		m.promSeries, m.promDuration, m.promPhaseSeconds,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return errors.Wrap(err, "metrics: register")
		}
	}
	return nil
}

// IncQueryCount records that a query was evaluated.
func (m *Metrics) IncQueryCount() {
	atomic.AddInt64(&m.queryCount, 1)
	m.promQueryCount.Inc()
}

// IncQueryErrors records that a query evaluation returned an error.
func (m *Metrics) IncQueryErrors() {
	atomic.AddInt64(&m.queryErrors, 1)
	m.promQueryErrors.Inc()
}

func (m *Metrics) addPhase(phase Phase, d time.Duration) {
	atomic.AddInt64(&m.phaseNanos[phase], d.Nanoseconds())
	m.promPhaseSeconds.WithLabelValues(phase.String()).Add(d.Seconds())
}

func (m *Metrics) addScan(samples, series, bytes int64) {
	if samples != 0 {
		atomic.AddInt64(&m.samplesScanned, samples)
		m.promSamples.Add(float64(samples))
	}
	if series != 0 {
		atomic.AddInt64(&m.seriesScanned, series)
		m.promSeries.Add(float64(series))
	}
	if bytes != 0 {
		atomic.AddInt64(&m.bytesScanned, bytes)
		m.promBytes.Add(float64(bytes))
	}
}

// observeLatency records one end-to-end query latency observation into the
// fixed-bucket histogram. The histogram's own multi-bucket update is not
// atomic and is protected by histMu (spec.md §5 "Shared-resource policy").
func (m *Metrics) observeLatency(seconds float64) {
	m.histMu.Lock()
	defer m.histMu.Unlock()
	m.histSum += seconds
	m.histCount++
	for i, ub := range Buckets {
		if seconds <= ub {
			m.bucketCounts[i]++
		}
	}
	m.promDuration.Observe(seconds)
}

// BucketCount is one (upper_bound, cumulative_count) pair of the latency
// histogram (spec.md §6).
type BucketCount struct {
	UpperBound float64
	Count      int64
}

// Snapshot is a point-in-time, dependency-free read of every counter (spec.md
// §4.F, §6). Per spec.md §5, inter-counter skew across a single query is
// expected since each counter updates independently.
type Snapshot struct {
	QueryCount  int64
	QueryErrors int64

	PhaseSeconds map[string]float64

	SamplesScanned int64
	SeriesScanned  int64
	BytesScanned   int64

	HistogramCount int64
	HistogramSum   float64
	Histogram      []BucketCount
}

// Snapshot reads every counter into a Snapshot.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		QueryCount:     atomic.LoadInt64(&m.queryCount),
		QueryErrors:    atomic.LoadInt64(&m.queryErrors),
		SamplesScanned: atomic.LoadInt64(&m.samplesScanned),
		SeriesScanned:  atomic.LoadInt64(&m.seriesScanned),
		BytesScanned:   atomic.LoadInt64(&m.bytesScanned),
		PhaseSeconds:   make(map[string]float64, numPhases),
	}
	for p := Phase(0); p < numPhases; p++ {
		s.PhaseSeconds[p.String()] = time.Duration(atomic.LoadInt64(&m.phaseNanos[p])).Seconds()
	}

	m.histMu.Lock()
	s.HistogramCount = m.histCount
	s.HistogramSum = m.histSum
	s.Histogram = make([]BucketCount, len(Buckets))
	for i, ub := range Buckets {
		s.Histogram[i] = BucketCount{UpperBound: ub, Count: m.bucketCounts[i]}
	}
	m.histMu.Unlock()

	return s
}

// Timer is the scoped-timer abstraction from spec.md §4.F: it captures a
// start time on construction and records elapsed duration to its designated
// phase on Stop, with optional storage-read scan counters.
type Timer struct {
	m     *Metrics
	phase Phase
	start time.Time

	samples, series, bytes int64
}

// NewTimer starts a timer for phase.
func (m *Metrics) NewTimer(phase Phase) *Timer {
	return &Timer{m: m, phase: phase, start: time.Now()}
}

// ObserveScan records scan counters to be attributed to this timer's phase
// on Stop; intended for the storage-read phase (spec.md §4.F).
func (t *Timer) ObserveScan(samples, series, bytes int64) {
	t.samples += samples
	t.series += series
	t.bytes += bytes
}

// Stop records the elapsed duration to the timer's phase, any accumulated
// scan counters, and, for PhaseTotal, an observation in the latency
// histogram.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	t.m.addPhase(t.phase, d)
	if t.samples != 0 || t.series != 0 || t.bytes != 0 {
		t.m.addScan(t.samples, t.series, t.bytes)
	}
	if t.phase == PhaseTotal {
		t.m.observeLatency(d.Seconds())
	}
	return d
}
