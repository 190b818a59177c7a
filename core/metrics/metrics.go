// Package metrics exposes session counters on a private Prometheus registry.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "biofeedback"

type Metrics struct {
	registry *prometheus.Registry

	datagrams      prometheus.Counter
	decodeErrors   prometheus.Counter
	thetaSamples   prometheus.Counter
	gsrSamples     prometheus.Counter
	pairsEvaluated prometheus.Counter
	pendingTicks   prometheus.Counter
	pairsDropped   prometheus.Counter
	motorCommands  *prometheus.CounterVec
	sinkErrors     *prometheus.CounterVec
	recordsDropped prometheus.Counter
	relaxing       prometheus.Gauge
}

// New registers all collectors on reg. A nil reg gets a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		datagrams: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingress",
			Name:      "datagrams_total",
			Help:      "UDP datagrams received",
		}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingress",
			Name:      "decode_errors_total",
			Help:      "Datagrams dropped because they could not be decoded",
		}),
		thetaSamples: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingress",
			Name:      "theta_samples_total",
			Help:      "Theta values extracted from datagrams",
		}),
		gsrSamples: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "serial",
			Name:      "gsr_samples_total",
			Help:      "GSR readings drained from the serial link",
		}),
		pairsEvaluated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "pairs_evaluated_total",
			Help:      "Theta/GSR pairs evaluated by the state machine",
		}),
		pendingTicks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "pending_ticks_total",
			Help:      "Ticks that left theta samples pending for lack of a GSR partner",
		}),
		pairsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "samples_dropped_total",
			Help:      "Samples evicted or discarded without being paired",
		}),
		motorCommands: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "motor",
			Name:      "commands_total",
			Help:      "Motor commands sent, by command and result",
		}, []string{"command", "result"}),
		sinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "sink_errors_total",
			Help:      "Failed sink writes, by sink",
		}, []string{"sink"}),
		recordsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recorder",
			Name:      "records_dropped_total",
			Help:      "Records discarded because the write queue was full",
		}),
		relaxing: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "relaxing",
			Help:      "1 while the state machine is in RELAXING",
		}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Datagram() {
	if m != nil {
		m.datagrams.Inc()
	}
}

func (m *Metrics) DecodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) ThetaSamples(n int) {
	if m != nil {
		m.thetaSamples.Add(float64(n))
	}
}

func (m *Metrics) GSRSample() {
	if m != nil {
		m.gsrSamples.Inc()
	}
}

func (m *Metrics) PairEvaluated() {
	if m != nil {
		m.pairsEvaluated.Inc()
	}
}

// TickPending counts one tick that ended with unpaired theta values.
func (m *Metrics) TickPending() {
	if m != nil {
		m.pendingTicks.Inc()
	}
}

func (m *Metrics) SamplesDropped(n int) {
	if m != nil && n > 0 {
		m.pairsDropped.Add(float64(n))
	}
}

// MotorCommand counts a motor command. err is the send result.
func (m *Metrics) MotorCommand(command string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.motorCommands.WithLabelValues(command, result).Inc()
}

func (m *Metrics) SinkError(sink string) {
	if m != nil {
		m.sinkErrors.WithLabelValues(sink).Inc()
	}
}

func (m *Metrics) RecordDropped() {
	if m != nil {
		m.recordsDropped.Inc()
	}
}

func (m *Metrics) SetRelaxing(on bool) {
	if m == nil {
		return
	}
	if on {
		m.relaxing.Set(1)
	} else {
		m.relaxing.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
