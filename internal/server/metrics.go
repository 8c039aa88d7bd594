package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const defaultMetricsNamespace = "imgsvc"

// Observer captures telemetry for image operations.
type Observer interface {
	RecordUpload(duration time.Duration, sizeBytes int64, err error)
	RecordGet(duration time.Duration, err error)
	RecordDelete(duration time.Duration, err error)
	RecordSweep(duration time.Duration, deleted int, err error)
	RecordCacheLookup(hit bool)
}

// PrometheusObserver exports image operation metrics to Prometheus.
type PrometheusObserver struct {
	operationDuration *prometheus.HistogramVec
	operationErrors   *prometheus.CounterVec
	uploadBytes       prometheus.Counter
	sweptObjects      prometheus.Counter
	cacheLookups      *prometheus.CounterVec
}

// NewPrometheusObserver registers image metrics on reg, reusing collectors
// that are already registered under the same names.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = defaultMetricsNamespace
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	duration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "operation_duration_seconds",
		Help:      "Latency for image operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"}))
	if err != nil {
		return nil, err
	}
	opErrors, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operation_errors_total",
		Help:      "Count of failed image operations.",
	}, []string{"operation"}))
	if err != nil {
		return nil, err
	}
	uploadBytes, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploaded_bytes_total",
		Help:      "Cumulative payload size successfully uploaded to object storage.",
	}))
	if err != nil {
		return nil, err
	}
	swept, err := register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "swept_objects_total",
		Help:      "Orphaned objects removed by sweeps.",
	}))
	if err != nil {
		return nil, err
	}
	lookups, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "view_cache_lookups_total",
		Help:      "Image view cache lookups by result.",
	}, []string{"result"}))
	if err != nil {
		return nil, err
	}

	return &PrometheusObserver{
		operationDuration: duration,
		operationErrors:   opErrors,
		uploadBytes:       uploadBytes,
		sweptObjects:      swept,
		cacheLookups:      lookups,
	}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, collector C) (C, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		var zero C
		return zero, fmt.Errorf("register image metric: %w", err)
	}
	return collector, nil
}

// RecordUpload tracks upload duration, size and failures.
func (o *PrometheusObserver) RecordUpload(duration time.Duration, sizeBytes int64, err error) {
	if o == nil {
		return
	}
	o.record("upload", duration, err)
	if err == nil && sizeBytes > 0 {
		o.uploadBytes.Add(float64(sizeBytes))
	}
}

func (o *PrometheusObserver) RecordGet(duration time.Duration, err error) {
	o.record("get", duration, err)
}

func (o *PrometheusObserver) RecordDelete(duration time.Duration, err error) {
	o.record("delete", duration, err)
}

func (o *PrometheusObserver) RecordSweep(duration time.Duration, deleted int, err error) {
	if o == nil {
		return
	}
	o.record("sweep", duration, err)
	if deleted > 0 {
		o.sweptObjects.Add(float64(deleted))
	}
}

func (o *PrometheusObserver) RecordCacheLookup(hit bool) {
	if o == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	o.cacheLookups.WithLabelValues(result).Inc()
}

func (o *PrometheusObserver) record(op string, duration time.Duration, err error) {
	if o == nil {
		return
	}
	o.operationDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		o.operationErrors.WithLabelValues(op).Inc()
	}
}

type nopObserver struct{}

func (nopObserver) RecordUpload(time.Duration, int64, error) {}

func (nopObserver) RecordGet(time.Duration, error) {}

func (nopObserver) RecordDelete(time.Duration, error) {}

func (nopObserver) RecordSweep(time.Duration, int, error) {}

func (nopObserver) RecordCacheLookup(bool) {}
