package metrics

import (
	"errors"
	"time"

	"github.com/pedscribe/pedscribe/internal/pkg/dedup"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pedscribe"

// Register registers the metric to prometheus default registry.
// If an equal metric is already registered the existing one is returned
func Register[T prometheus.Collector](m T) (T, error) {
	err := prometheus.Register(m)
	if err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if res, ok := are.ExistingCollector.(T); ok {
				return res, nil
			}
		}
		return m, err
	}
	return m, nil
}

// Pipeline keeps consultation processing metrics
type Pipeline struct {
	stepDur         *prometheus.HistogramVec
	dedupRatio      prometheus.Histogram
	dedupSuspicious prometheus.Counter
}

// NewPipeline registers pipeline metrics
func NewPipeline() (*Pipeline, error) {
	var err error
	res := &Pipeline{}
	res.stepDur, err = Register(prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Pipeline step duration",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 14),
		}, []string{"step", "result"}))
	if err != nil {
		return nil, err
	}
	res.dedupRatio, err = Register(prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dedup_removed_ratio",
			Help:      "Part of transcript removed by deduplication",
			Buckets:   []float64{0, 0.01, 0.05, 0.1, 0.2, 0.3, 0.5, 0.7, 0.9},
		}))
	if err != nil {
		return nil, err
	}
	res.dedupSuspicious, err = Register(prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_suspicious_total",
			Help:      "Deduplications that removed more than half of the transcript",
		}))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ObserveStep records step duration
func (p *Pipeline) ObserveStep(step string, err error, d time.Duration) {
	if p == nil {
		return
	}
	res := "ok"
	if err != nil {
		res = "error"
	}
	p.stepDur.WithLabelValues(step, res).Observe(d.Seconds())
}

// ObserveDedup records deduplication stats
func (p *Pipeline) ObserveDedup(st dedup.Stats) {
	if p == nil {
		return
	}
	p.dedupRatio.Observe(st.RemovedRatio)
	if st.Suspicious {
		p.dedupSuspicious.Inc()
	}
}
