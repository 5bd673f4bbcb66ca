// Package metrics expone contadores Prometheus del núcleo fiscal.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jhoicas/facturacion-afip/internal/infrastructure/afip"
)

var _ afip.Observer = (*AFIPMetrics)(nil)

// AFIPMetrics registra logins WSAA, llamadas WSFE y resultados de autorización.
type AFIPMetrics struct {
	registry *prometheus.Registry

	ticketServed  *prometheus.CounterVec
	loginDuration *prometheus.HistogramVec
	callDuration  *prometheus.HistogramVec
	caeResults    *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	resyncRuns    prometheus.Counter
}

// New crea las métricas sobre un registro propio (incluye collectors de Go y proceso).
func New() *AFIPMetrics {
	reg := prometheus.NewRegistry()
	m := &AFIPMetrics{
		registry: reg,
		ticketServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "afip",
			Subsystem: "wsaa",
			Name:      "tickets_served_total",
			Help:      "Tickets de acceso entregados por origen (cached, disk, ok=login nuevo).",
		}, []string{"source"}),
		loginDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "afip",
			Subsystem: "wsaa",
			Name:      "login_duration_seconds",
			Help:      "Duración de los intercambios loginCms.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		callDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "afip",
			Subsystem: "wsfe",
			Name:      "call_duration_seconds",
			Help:      "Duración de las llamadas WSFE por operación y resultado de transporte.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"op", "outcome"}),
		caeResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "afip",
			Subsystem: "wsfe",
			Name:      "cae_results_total",
			Help:      "Resultados de FECAESolicitar (approved, rejected, error).",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "afip",
			Subsystem: "invoices",
			Name:      "transitions_total",
			Help:      "Transiciones de estado escritas por operación y estado destino.",
		}, []string{"op", "state"}),
		resyncRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "afip",
			Subsystem: "invoices",
			Name:      "resync_runs_total",
			Help:      "Ejecuciones de la resincronización de pendientes.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ticketServed, m.loginDuration, m.callDuration, m.caeResults, m.transitions, m.resyncRuns,
	)
	return m
}

// Handler devuelve el handler HTTP de exposición (/metrics).
func (m *AFIPMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry devuelve el registro (tests).
func (m *AFIPMetrics) Registry() *prometheus.Registry { return m.registry }

// TicketServed implementa afip.Observer.
func (m *AFIPMetrics) TicketServed(source string) {
	m.ticketServed.WithLabelValues(source).Inc()
}

// LoginFinished implementa afip.Observer.
func (m *AFIPMetrics) LoginFinished(outcome string, elapsed time.Duration) {
	m.loginDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// CallFinished implementa afip.Observer.
func (m *AFIPMetrics) CallFinished(op, outcome string, elapsed time.Duration) {
	m.callDuration.WithLabelValues(op, outcome).Observe(elapsed.Seconds())
}

// CAEResult implementa afip.Observer.
func (m *AFIPMetrics) CAEResult(outcome string) {
	m.caeResults.WithLabelValues(outcome).Inc()
}

// Transition cuenta una transición de estado durable.
func (m *AFIPMetrics) Transition(op, state string) {
	m.transitions.WithLabelValues(op, state).Inc()
}

// ResyncRun cuenta una ejecución de resincronización.
func (m *AFIPMetrics) ResyncRun() {
	m.resyncRuns.Inc()
}
