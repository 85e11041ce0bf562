// Package telemetry provides Prometheus metrics, OpenTelemetry tracing
// and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nextlevelbuilder/seance/internal/autoproxy"
	"github.com/nextlevelbuilder/seance/internal/scope"
)

// Decision results recorded per handled message.
const (
	ResultAutoproxy = "autoproxy"
	ResultManual    = "manual"
	ResultCommand   = "command"
	ResultNone      = "none"
)

// Metrics holds the collectors for one running instance. Build it with
// NewMetrics; a nil *Metrics is safe to call and records nothing.
type Metrics struct {
	decisions   *prometheus.CounterVec
	commands    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	scopes      prometheus.Gauge
	global      prometheus.Gauge
	handle      prometheus.Histogram
}

// NewMetrics registers the seance collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seance_autoproxy_decisions_total",
			Help: "Messages handled, by outcome",
		}, []string{"result"}),
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seance_autoproxy_commands_total",
			Help: "Autoproxy commands handled, by resulting mode or status",
		}, []string{"kind"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "seance_autoproxy_transitions_total",
			Help: "Autoproxy mode transitions",
		}, []string{"from", "to", "cause"}),
		scopes: f.NewGauge(prometheus.GaugeOpts{
			Name: "seance_autoproxy_scopes",
			Help: "Number of tracked autoproxy scopes",
		}),
		global: f.NewGauge(prometheus.GaugeOpts{
			Name: "seance_autoproxy_global_active",
			Help: "Global autoproxy active=1 inactive=0",
		}),
		handle: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "seance_message_handle_duration_seconds",
			Help:    "Time spent deciding and dispatching one inbound message",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		}),
	}
}

// RecordDecision counts one handled message.
func (m *Metrics) RecordDecision(result string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(result).Inc()
}

// RecordCommand counts one autoproxy command.
func (m *Metrics) RecordCommand(kind string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(kind).Inc()
}

// SetScopes records the number of tracked scopes.
func (m *Metrics) SetScopes(n int) {
	if m == nil {
		return
	}
	m.scopes.Set(float64(n))
}

// SetGlobalActive sets the global gauge to 1 if active else 0.
func (m *Metrics) SetGlobalActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.global.Set(1)
	} else {
		m.global.Set(0)
	}
}

// HandleObserver returns the per-message duration histogram, or nil,
// for use with TimeFunc.
func (m *Metrics) HandleObserver() prometheus.Observer {
	if m == nil {
		return nil
	}
	return m.handle
}

// ModeChanged implements autoproxy.Observer.
func (m *Metrics) ModeChanged(_ scope.Key, from, to autoproxy.Mode, cause autoproxy.Cause) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from.String(), to.String(), string(cause)).Inc()
}

// TimeFunc measures the duration of fn and records it in obs if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------

type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context carrying the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns the correlation id or an empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with a corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
