package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Observer captures telemetry for conversions and saves.
type Observer interface {
	RecordConversion(duration time.Duration, attempts int, originalBytes, finalBytes int, err error)
	RecordSave(err error)
}

// PrometheusObserver exports conversion metrics to Prometheus.
type PrometheusObserver struct {
	conversionDuration prometheus.Histogram
	conversions        *prometheus.CounterVec
	encodeAttempts     prometheus.Histogram
	bytesIn            prometheus.Counter
	bytesOut           prometheus.Counter
	saves              *prometheus.CounterVec
}

// NewPrometheusObserver registers the conversion metrics on reg.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "webp_shrink"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		conversionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Time spent converting one file, including every encode attempt.",
			Buckets:   prometheus.DefBuckets,
		}),
		conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Converted files by result.",
		}, []string{"result"}),
		encodeAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "encode_attempts",
			Help:      "Encode calls needed per converted file.",
			Buckets:   prometheus.LinearBuckets(1, 2, 11),
		}),
		bytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "input_bytes_total",
			Help:      "Bytes read from source images that converted successfully.",
		}),
		bytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "output_bytes_total",
			Help:      "Bytes of WebP output produced.",
		}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saves_total",
			Help:      "Output files written by result.",
		}, []string{"result"}),
	}

	var err error
	if o.conversionDuration, err = register(reg, o.conversionDuration); err != nil {
		return nil, err
	}
	if o.conversions, err = register(reg, o.conversions); err != nil {
		return nil, err
	}
	if o.encodeAttempts, err = register(reg, o.encodeAttempts); err != nil {
		return nil, err
	}
	if o.bytesIn, err = register(reg, o.bytesIn); err != nil {
		return nil, err
	}
	if o.bytesOut, err = register(reg, o.bytesOut); err != nil {
		return nil, err
	}
	if o.saves, err = register(reg, o.saves); err != nil {
		return nil, err
	}
	return o, nil
}

// register adds c to reg, reusing an identical collector registered earlier.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("register conversion metric: %w", err)
	}
	return c, nil
}

// RecordConversion tracks duration, attempts and sizes of one file.
func (o *PrometheusObserver) RecordConversion(duration time.Duration, attempts int, originalBytes, finalBytes int, err error) {
	if o == nil {
		return
	}
	o.conversionDuration.Observe(duration.Seconds())
	if err != nil {
		o.conversions.WithLabelValues("error").Inc()
		return
	}
	o.conversions.WithLabelValues("success").Inc()
	o.encodeAttempts.Observe(float64(attempts))
	o.bytesIn.Add(float64(originalBytes))
	o.bytesOut.Add(float64(finalBytes))
}

// RecordSave counts a write of one output file.
func (o *PrometheusObserver) RecordSave(err error) {
	if o == nil {
		return
	}
	if err != nil {
		o.saves.WithLabelValues("error").Inc()
		return
	}
	o.saves.WithLabelValues("success").Inc()
}

// Nop is an Observer that records nothing.
type Nop struct{}

func (Nop) RecordConversion(time.Duration, int, int, int, error) {}
func (Nop) RecordSave(error)                                    {}
