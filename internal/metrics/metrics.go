package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	logx "ctawatch/pkg/logx"
)

type Config struct {
	Enabled bool
	Listen  string
}

// Metrics holds the pipeline's Prometheus counters. A nil *Metrics is a
// valid no-op so callers never need to branch on whether metrics are enabled.
type Metrics struct {
	reg *prometheus.Registry

	cycles        *prometheus.CounterVec
	alertsFetched prometheus.Counter
	alertsNew     prometheus.Counter
	alertsChanged prometheus.Counter
	deliveries    *prometheus.CounterVec

	srv *http.Server
	log logx.Logger
}

func New(cfg Config, log logx.Logger) *Metrics {
	if !cfg.Enabled {
		return nil
	}
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ctawatch_cycles_total",
			Help: "Poll cycles by result (ok, fetch_error, store_error, panic).",
		}, []string{"result"}),
		alertsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ctawatch_alerts_fetched_total",
			Help: "Alert records fetched from the feed.",
		}),
		alertsNew: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ctawatch_alerts_new_total",
			Help: "Alerts seen for the first time.",
		}),
		alertsChanged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ctawatch_alerts_changed_total",
			Help: "Tracked alerts whose headline or short description changed.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ctawatch_deliveries_total",
			Help: "Per-recipient delivery attempts by result (ok, error).",
		}, []string{"result"}),
		log: log,
	}
	reg.MustRegister(m.cycles, m.alertsFetched, m.alertsNew, m.alertsChanged, m.deliveries)

	listen := cfg.Listen
	if listen == "" {
		listen = ":9177"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	m.srv = &http.Server{
		Addr:         listen,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return m
}

// Serve runs the /metrics endpoint until the server is shut down.
func (m *Metrics) Serve() {
	if m == nil || m.srv == nil {
		return
	}
	m.log.Info("metrics listening", logx.String("addr", m.srv.Addr))
	if err := m.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.log.Warn("metrics server stopped", logx.Err(err))
	}
}

func (m *Metrics) Shutdown(ctx context.Context) error {
	if m == nil || m.srv == nil {
		return nil
	}
	return m.srv.Shutdown(ctx)
}

func (m *Metrics) CycleFinished(result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
}

func (m *Metrics) AlertsFetched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.alertsFetched.Add(float64(n))
}

func (m *Metrics) AlertNew() {
	if m == nil {
		return
	}
	m.alertsNew.Inc()
}

func (m *Metrics) AlertChanged() {
	if m == nil {
		return
	}
	m.alertsChanged.Inc()
}

func (m *Metrics) DeliveryOK() {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues("ok").Inc()
}

func (m *Metrics) DeliveryError() {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues("error").Inc()
}
