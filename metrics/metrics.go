package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the training and sampling collectors. A nil *Metrics is a no-op.
type Metrics struct {
	steps     prometheus.Counter
	tokens    prometheus.Counter
	loss      prometheus.Gauge
	epochTime prometheus.Histogram
	generated prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		steps: f.NewCounter(prometheus.CounterOpts{
			Name: "minigpt_train_steps_total",
			Help: "Optimizer steps taken.",
		}),
		tokens: f.NewCounter(prometheus.CounterOpts{
			Name: "minigpt_train_tokens_total",
			Help: "Target positions scored during training.",
		}),
		loss: f.NewGauge(prometheus.GaugeOpts{
			Name: "minigpt_train_loss",
			Help: "Mean cross-entropy of the latest batch.",
		}),
		epochTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "minigpt_epoch_duration_seconds",
			Help:    "Wall time per training epoch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		generated: f.NewCounter(prometheus.CounterOpts{
			Name: "minigpt_generated_tokens_total",
			Help: "Tokens produced by the sampler.",
		}),
	}
}

func (m *Metrics) ObserveStep(loss float64, tokens int) {
	if m == nil {
		return
	}
	m.steps.Inc()
	m.tokens.Add(float64(tokens))
	m.loss.Set(loss)
}

func (m *Metrics) ObserveEpoch(seconds float64) {
	if m == nil {
		return
	}
	m.epochTime.Observe(seconds)
}

func (m *Metrics) AddGeneratedTokens(n int) {
	if m == nil {
		return
	}
	m.generated.Add(float64(n))
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
