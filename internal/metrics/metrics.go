package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manutencao_http_requests_total",
			Help: "Total de requisições HTTP",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "manutencao_http_request_duration_seconds",
			Help:    "Duração das requisições HTTP em segundos",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	classificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manutencao_classifications_total",
			Help: "Classificações de chamados por estratégia e necessidade de revisão",
		},
		[]string{"strategy", "needs_review"},
	)

	assignmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manutencao_assignments_total",
			Help: "Tentativas de atribuição de chamados",
		},
		[]string{"mode", "result"},
	)

	accessDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manutencao_access_decisions_total",
			Help: "Decisões administrativas sobre solicitações de acesso",
		},
		[]string{"kind", "decision"},
	)

	liveSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "manutencao_live_subscribers",
			Help: "Conexões websocket ativas",
		},
	)
)

// RecordHTTPRequest registra uma requisição concluída.
func RecordHTTPRequest(method, route string, statusCode int, durationSeconds float64) {
	status := "unknown"
	switch {
	case statusCode >= 500:
		status = "5xx"
	case statusCode >= 400:
		status = "4xx"
	case statusCode >= 300:
		status = "3xx"
	case statusCode >= 200:
		status = "2xx"
	}
	if route == "" {
		route = "unmatched"
	}
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

// RecordClassification conta o resultado da cadeia de classificação.
func RecordClassification(strategy string, needsReview bool) {
	review := "false"
	if needsReview {
		review = "true"
	}
	classificationsTotal.WithLabelValues(strategy, review).Inc()
}

// RecordAssignment conta atribuições ("manual" ou "auto"), com sucesso ou falha.
func RecordAssignment(mode string, ok bool) {
	result := "assigned"
	if !ok {
		result = "failed"
	}
	assignmentsTotal.WithLabelValues(mode, result).Inc()
}

// RecordAccessDecision conta aprovações e negações.
func RecordAccessDecision(kind string, approved bool) {
	decision := "denied"
	if approved {
		decision = "approved"
	}
	accessDecisionsTotal.WithLabelValues(kind, decision).Inc()
}

// LiveSubscriberDelta ajusta o gauge de conexões ao vivo.
func LiveSubscriberDelta(delta float64) {
	liveSubscribers.Add(delta)
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
