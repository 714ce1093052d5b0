// Package metrics exposes stream, archive and SQS client metrics for
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/baldanca/sqs-stream/archive"
	"github.com/baldanca/sqs-stream/stream"
)

// Registry owns every collector; nothing is registered globally.
type Registry struct {
	registry *prometheus.Registry

	// Stream metrics
	receiveTotal     *prometheus.CounterVec
	receiveDuration  *prometheus.HistogramVec
	messagesReceived *prometheus.CounterVec
	retryTotal       *prometheus.CounterVec
	retryDelay       *prometheus.GaugeVec
	endedTotal       *prometheus.CounterVec

	// SQS client metrics
	operationTotal    *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec

	// Archive metrics
	flushTotal     *prometheus.CounterVec
	flushDuration  *prometheus.HistogramVec
	flushedRecords *prometheus.CounterVec
	flushedBytes   *prometheus.CounterVec
	skippedTotal   *prometheus.CounterVec

	startTime prometheus.Gauge
}

// NewRegistry registers every collector on a fresh, non-global registry.
func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()

	r := &Registry{
		registry: registry,

		receiveTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqsstream_receive_total",
				Help: "Total number of ReceiveMessage calls issued by streams",
			},
			[]string{"queue", "status"}, // status: success, empty, error
		),
		receiveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqsstream_receive_duration_seconds",
				Help:    "Time spent in ReceiveMessage, long polling included",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"queue"},
		),
		messagesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqsstream_messages_received_total",
				Help: "Total number of messages delivered by streams",
			},
			[]string{"queue"},
		),
		retryTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqsstream_retry_total",
				Help: "Total number of receive retries scheduled",
			},
			[]string{"queue"},
		),
		retryDelay: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "sqsstream_retry_delay_seconds",
				Help: "Backoff delay of the most recent retry",
			},
			[]string{"queue"},
		),
		endedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqsstream_ended_total",
				Help: "Total number of streams that reached end of stream",
			},
			[]string{"queue", "status"}, // status: clean, error
		),

		operationTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqsstream_sqs_operation_total",
				Help: "Total number of SQS API calls",
			},
			[]string{"queue", "operation", "status"}, // status: success, error
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqsstream_sqs_operation_duration_seconds",
				Help:    "Time spent in SQS API calls",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"queue", "operation"},
		),

		flushTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqsstream_archive_flush_total",
				Help: "Total number of archive flushes",
			},
			[]string{"queue", "status"}, // status: success, error
		),
		flushDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqsstream_archive_flush_duration_seconds",
				Help:    "Time spent encoding, writing and acking a batch",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		flushedRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqsstream_archive_records_total",
				Help: "Total number of records written to archive objects",
			},
			[]string{"queue"},
		),
		flushedBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqsstream_archive_body_bytes_total",
				Help: "Total message body bytes written to archive objects",
			},
			[]string{"queue"},
		),
		skippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sqsstream_archive_skipped_total",
				Help: "Total number of messages that failed to transform",
			},
			[]string{"queue"},
		),

		startTime: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sqsstream_start_time_seconds",
				Help: "Unix timestamp when the process started",
			},
		),
	}

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registry.MustRegister(
		r.receiveTotal,
		r.receiveDuration,
		r.messagesReceived,
		r.retryTotal,
		r.retryDelay,
		r.endedTotal,
		r.operationTotal,
		r.operationDuration,
		r.flushTotal,
		r.flushDuration,
		r.flushedRecords,
		r.flushedBytes,
		r.skippedTotal,
		r.startTime,
	)

	r.startTime.SetToCurrentTime()
	return r
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          r.registry,
	})
}

// StreamObserver records the lifecycle of a stream reading queue.
func (r *Registry) StreamObserver(queue string) stream.Observer {
	return streamObserver{r: r, queue: queue}
}

// ArchiveObserver records the flushes of an archiver reading queue.
func (r *Registry) ArchiveObserver(queue string) archive.Observer {
	return archiveObserver{r: r, queue: queue}
}

func (r *Registry) recordOperation(queue, operation string, d time.Duration, err error) {
	r.operationTotal.WithLabelValues(queue, operation, status(err)).Inc()
	r.operationDuration.WithLabelValues(queue, operation).Observe(d.Seconds())
}

type streamObserver struct {
	r     *Registry
	queue string
}

func (o streamObserver) Fetched(count int, elapsed time.Duration, err error) {
	st := status(err)
	if err == nil && count == 0 {
		st = "empty"
	}
	o.r.receiveTotal.WithLabelValues(o.queue, st).Inc()
	o.r.receiveDuration.WithLabelValues(o.queue).Observe(elapsed.Seconds())
	if count > 0 {
		o.r.messagesReceived.WithLabelValues(o.queue).Add(float64(count))
	}
}

func (o streamObserver) Retrying(_ error, delay time.Duration) {
	o.r.retryTotal.WithLabelValues(o.queue).Inc()
	o.r.retryDelay.WithLabelValues(o.queue).Set(delay.Seconds())
}

func (o streamObserver) Ended(err error) {
	st := "clean"
	if err != nil {
		st = "error"
	}
	o.r.endedTotal.WithLabelValues(o.queue, st).Inc()
}

type archiveObserver struct {
	r     *Registry
	queue string
}

func (o archiveObserver) Flushed(items int, bytes int64, elapsed time.Duration, err error) {
	o.r.flushTotal.WithLabelValues(o.queue, status(err)).Inc()
	o.r.flushDuration.WithLabelValues(o.queue).Observe(elapsed.Seconds())
	if err == nil {
		o.r.flushedRecords.WithLabelValues(o.queue).Add(float64(items))
		o.r.flushedBytes.WithLabelValues(o.queue).Add(float64(bytes))
	}
}

func (o archiveObserver) Skipped(error) {
	o.r.skippedTotal.WithLabelValues(o.queue).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
