package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chargehub/backend/services/csms/internal/ocpp"
	"chargehub/backend/services/csms/internal/station"
)

const namespace = "csms"

// Source exposes live counts that are read on scrape.
type Source interface {
	Count() (total, online int)
	Active() []station.ActiveTransaction
}

// Metrics collects CSMS metrics on its own registry. It is an event sink, a command
// observer and an integrity mismatch recorder at once.
type Metrics struct {
	registry *prometheus.Registry

	events             *prometheus.CounterVec
	commands           *prometheus.CounterVec
	commandDuration    *prometheus.HistogramVec
	integrityMismatch  *prometheus.CounterVec
	transactionsIssued prometheus.Counter
}

func New(source Source) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "station_events_total",
				Help:      "Station events by type.",
			},
			[]string{"type"},
		),
		commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commands_total",
				Help:      "Outbound commands by action and outcome.",
			},
			[]string{"action", "status"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "command_duration_seconds",
				Help:      "Time from queueing a command to its outcome.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"action"},
		),
		integrityMismatch: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "integrity_mismatches_total",
				Help:      "Operator requests whose hash did not match, by policy.",
			},
			[]string{"mode"},
		),
		transactionsIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_started_total",
			Help:      "Transaction ids issued.",
		}),
	}

	m.registry.MustRegister(m.events, m.commands, m.commandDuration, m.integrityMismatch, m.transactionsIssued)
	if source != nil {
		m.registry.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stations_connected",
				Help:      "Stations with an open connection.",
			}, func() float64 {
				_, online := source.Count()
				return float64(online)
			}),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stations_known",
				Help:      "Stations with a session, connected or not.",
			}, func() float64 {
				total, _ := source.Count()
				return float64(total)
			}),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "transactions_active",
				Help:      "Active transactions on connected stations.",
			}, func() float64 {
				return float64(len(source.Active()))
			}),
		)
	}
	return m
}

func (m *Metrics) Publish(_ context.Context, ev station.Event) {
	m.events.WithLabelValues(string(ev.Type)).Inc()
	if ev.Type == station.EventTransactionStarted {
		m.transactionsIssued.Inc()
	}
}

func (m *Metrics) CommandFinished(action string, status ocpp.CommandStatus, elapsed time.Duration) {
	m.commands.WithLabelValues(action, string(status)).Inc()
	m.commandDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

func (m *Metrics) IntegrityMismatch(mode string) {
	m.integrityMismatch.WithLabelValues(mode).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
