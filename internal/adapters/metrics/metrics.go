package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/devbush/docscribe/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of one process. A nil *Metrics records nothing.
type Metrics struct {
	registry prometheus.Gatherer

	documents        *prometheus.CounterVec
	providerRequests *prometheus.CounterVec
	providerDuration prometheus.Histogram
	retries          *prometheus.CounterVec
	tokens           *prometheus.CounterVec
	cost             prometheus.Gauge
	rateLimitWait    prometheus.Histogram
	validationIssues *prometheus.CounterVec
}

// New registers the collectors on reg. A nil reg uses a fresh private registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: reg,
		documents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docscribe_documents_total",
				Help: "Documents processed, by outcome",
			},
			[]string{"outcome"},
		),
		providerRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docscribe_provider_requests_total",
				Help: "Provider calls, by provider and result",
			},
			[]string{"provider", "result"},
		),
		providerDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docscribe_provider_duration_seconds",
				Help:    "Provider call latency in seconds",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
		),
		retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docscribe_retries_total",
				Help: "Provider call retries, by reason",
			},
			[]string{"reason"},
		),
		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docscribe_tokens_total",
				Help: "Tokens consumed, by direction",
			},
			[]string{"direction"},
		),
		cost: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "docscribe_cost_dollars",
				Help: "Estimated spend of the current run in dollars",
			},
		),
		rateLimitWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docscribe_ratelimit_wait_seconds",
				Help:    "Time spent blocked in the rate limiter",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
			},
		),
		validationIssues: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docscribe_validation_issues_total",
				Help: "Validation issues found in provider output, by kind",
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(
		m.documents,
		m.providerRequests,
		m.providerDuration,
		m.retries,
		m.tokens,
		m.cost,
		m.rateLimitWait,
		m.validationIssues,
	)
	return m
}

func (m *Metrics) DocumentProcessed(outcome domain.Outcome) {
	if m == nil {
		return
	}
	m.documents.WithLabelValues(string(outcome)).Inc()
}

// ProviderCall records one provider request and its latency
func (m *Metrics) ProviderCall(provider string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.providerRequests.WithLabelValues(provider, ErrorReason(err)).Inc()
	m.providerDuration.Observe(duration.Seconds())
}

func (m *Metrics) Retry(err error) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(ErrorReason(err)).Inc()
}

func (m *Metrics) Tokens(usage domain.Usage) {
	if m == nil {
		return
	}
	m.tokens.WithLabelValues("input").Add(float64(usage.InputTokens))
	m.tokens.WithLabelValues("output").Add(float64(usage.OutputTokens))
}

func (m *Metrics) SetCost(dollars float64) {
	if m == nil {
		return
	}
	m.cost.Set(dollars)
}

// RateLimitWait matches the limiter's wait observer signature
func (m *Metrics) RateLimitWait(d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWait.Observe(d.Seconds())
}

func (m *Metrics) ValidationIssue(kind string) {
	if m == nil {
		return
	}
	m.validationIssues.WithLabelValues(kind).Inc()
}

// Handler serves the registered collectors
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ErrorReason maps an error to a low-cardinality label value
func ErrorReason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limit"
	case errors.Is(err, domain.ErrConnection):
		return "connection"
	case errors.Is(err, domain.ErrProviderAPI):
		return "api"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "other"
}
