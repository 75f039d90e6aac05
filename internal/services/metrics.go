package services

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsRegistry = prometheus.NewRegistry()

	submissionsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offboarding_submissions_dispatched_total",
		Help: "Rating commands handed to the task queue, by kind.",
	}, []string{"kind"})

	submissionResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offboarding_submission_results_total",
		Help: "Rating command outcomes, by kind and result.",
	}, []string{"kind", "result"})

	ratingsLoads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "offboarding_ratings_loads_total",
		Help: "Ratings feed loads requested by sessions, by result.",
	}, []string{"result"})

	sessionsExpired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "offboarding_sessions_expired_total",
		Help: "Conversation-view sessions closed by the sweeper.",
	})
)

func init() {
	metricsRegistry.MustRegister(
		submissionsDispatched,
		submissionResults,
		ratingsLoads,
		sessionsExpired,
		collectors.NewGoCollector(),
	)
}

// RegisterSessionGauges exposes live counts from the session manager and the
// view event hub.
func RegisterSessionGauges(m *SessionManager, hub *ViewEventHub) error {
	if err := metricsRegistry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "offboarding_sessions_active",
		Help: "Open conversation-view sessions.",
	}, func() float64 { return float64(m.Count()) })); err != nil {
		return err
	}
	return metricsRegistry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "offboarding_view_event_clients",
		Help: "Connected view event (SSE) clients.",
	}, func() float64 { return float64(hub.ClientCount()) }))
}

// MetricsHandler serves the service metrics in the Prometheus format.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
