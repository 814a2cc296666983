package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry encapsulates all metrics and provides a clean interface
// for recording metrics without global state
type Registry struct {
	registry *prometheus.Registry

	// Generator metrics
	recordsGenerated *prometheus.CounterVec
	enqueueWait      prometheus.Histogram
	activeWorkers    prometheus.Gauge

	// Queue metrics
	queueCapacity prometheus.Gauge

	// Dispatcher metrics
	batchesFlushed  *prometheus.CounterVec
	batchSize       *prometheus.HistogramVec
	dispatcherState *prometheus.GaugeVec

	// Sink metrics
	publishTotal     *prometheus.CounterVec
	publishDuration  *prometheus.HistogramVec
	recordsPublished *prometheus.CounterVec

	// System health metrics
	systemInfo *prometheus.GaugeVec
	startTime  prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		recordsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadpub_generator_records_total",
				Help: "Total number of records handed to the queue by generator workers",
			},
			[]string{"status"}, // status: enqueued, disconnected, error
		),

		enqueueWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "loadpub_generator_enqueue_wait_seconds",
				Help:    "Time generator workers spent blocked on a full queue",
				Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
			},
		),

		activeWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "loadpub_generator_active_workers",
				Help: "Number of generator workers currently running",
			},
		),

		queueCapacity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "loadpub_queue_capacity",
				Help: "Capacity of the backpressure queue",
			},
		),

		batchesFlushed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadpub_dispatcher_batches_total",
				Help: "Total number of batches flushed by the dispatcher",
			},
			[]string{"trigger"}, // trigger: size, interval, drain
		),

		batchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loadpub_dispatcher_batch_size",
				Help:    "Number of records in flushed batches",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
			},
			[]string{"trigger"},
		),

		dispatcherState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "loadpub_dispatcher_state",
				Help: "Current dispatcher state (value is 1 for the active state)",
			},
			[]string{"state"},
		),

		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadpub_sink_publish_total",
				Help: "Total number of batch publish operations",
			},
			[]string{"topic", "status"}, // status: success, partial, error
		),

		publishDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "loadpub_sink_publish_duration_seconds",
				Help:    "Time spent publishing batches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"topic"},
		),

		recordsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "loadpub_sink_records_total",
				Help: "Total number of records attempted by the sink",
			},
			[]string{"topic", "status"}, // status: success, error
		),

		systemInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "loadpub_system_info",
				Help: "System information (value is always 1, labels contain info)",
			},
			[]string{"version", "build_time"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "loadpub_start_time_seconds",
				Help: "Unix timestamp when the application started",
			},
		),
	}

	// add default Go metrics (memory, GC, goroutines, etc.)
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.recordsGenerated,
		r.enqueueWait,
		r.activeWorkers,
		r.queueCapacity,
		r.batchesFlushed,
		r.batchSize,
		r.dispatcherState,
		r.publishTotal,
		r.publishDuration,
		r.recordsPublished,
		r.systemInfo,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()

	return r
}

// Handler returns an HTTP handler for the Prometheus metrics endpoint
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// RecordGenerated records the result of a single enqueue attempt by a generator worker
func (r *Registry) RecordGenerated(wait time.Duration, err error) {
	status := "enqueued"
	if err != nil {
		status = "error"
	}

	r.recordsGenerated.WithLabelValues(status).Inc()
	if err == nil {
		r.enqueueWait.Observe(wait.Seconds())
	}
}

// RecordGeneratorDisconnected records a worker that stopped because the queue closed
func (r *Registry) RecordGeneratorDisconnected() {
	r.recordsGenerated.WithLabelValues("disconnected").Inc()
}

// WorkerStarted and WorkerStopped track the number of running generator workers
func (r *Registry) WorkerStarted() {
	r.activeWorkers.Inc()
}

func (r *Registry) WorkerStopped() {
	r.activeWorkers.Dec()
}

// ObserveQueue exports the queue depth, read at scrape time, and its capacity.
// It must be called at most once per registry.
func (r *Registry) ObserveQueue(depth func() int, capacity int) {
	r.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "loadpub_queue_depth",
			Help: "Number of records buffered between generators and the dispatcher",
		},
		func() float64 { return float64(depth()) },
	))
	r.queueCapacity.Set(float64(capacity))
}

// RecordFlush records a batch flushed by the dispatcher
func (r *Registry) RecordFlush(trigger string, size int) {
	r.batchesFlushed.WithLabelValues(trigger).Inc()
	r.batchSize.WithLabelValues(trigger).Observe(float64(size))
}

// SetDispatcherState marks state as the active dispatcher state
func (r *Registry) SetDispatcherState(state string, all []string) {
	for _, s := range all {
		r.dispatcherState.WithLabelValues(s).Set(0)
	}
	r.dispatcherState.WithLabelValues(state).Set(1)
}

// RecordSinkPublish records a sink publish operation
func (r *Registry) RecordSinkPublish(topic string, succeeded, failed int, duration time.Duration) {
	status := "success"
	switch {
	case failed > 0 && succeeded == 0:
		status = "error"
	case failed > 0:
		status = "partial"
	}

	r.publishTotal.WithLabelValues(topic, status).Inc()
	r.publishDuration.WithLabelValues(topic).Observe(duration.Seconds())
	if succeeded > 0 {
		r.recordsPublished.WithLabelValues(topic, "success").Add(float64(succeeded))
	}
	if failed > 0 {
		r.recordsPublished.WithLabelValues(topic, "error").Add(float64(failed))
	}
}

// SetSystemInfo sets system information metrics
func (r *Registry) SetSystemInfo(version, buildTime string) {
	r.systemInfo.WithLabelValues(version, buildTime).Set(1)
}
