// Package metrics exposes engine state to Prometheus.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skyhaul/linkmgr/pkg"
	"github.com/skyhaul/linkmgr/pkg/logx"
)

// Exporter registers and serves the daemon's metric families.
type Exporter struct {
	registry *prometheus.Registry
	server   *http.Server
	logger   *logx.Logger

	score    *prometheus.GaugeVec
	rtt      *prometheus.GaugeVec
	jitter   *prometheus.GaugeVec
	loss     *prometheus.GaugeVec
	sinr     *prometheus.GaugeVec
	active   *prometheus.GaugeVec
	vpnUp    prometheus.Gauge
	failover prometheus.Counter
	events   *prometheus.CounterVec
	routeErr prometheus.Counter
}

func NewExporter(logger *logx.Logger) *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		logger:   logger,
		score: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "linkmgr_interface_score",
			Help: "Composite quality score (0-100) per interface.",
		}, []string{"interface"}),
		rtt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "linkmgr_interface_rtt_ms",
			Help: "Latest probe round-trip time in milliseconds.",
		}, []string{"interface"}),
		jitter: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "linkmgr_interface_jitter_ms",
			Help: "Latest jitter estimate in milliseconds.",
		}, []string{"interface"}),
		loss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "linkmgr_interface_loss_pct",
			Help: "Latest packet loss percentage.",
		}, []string{"interface"}),
		sinr: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "linkmgr_interface_sinr_db",
			Help: "Latest cellular SINR in dB.",
		}, []string{"interface"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "linkmgr_active_interface",
			Help: "1 for the interface holding the default route.",
		}, []string{"interface"}),
		vpnUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "linkmgr_vpn_healthy",
			Help: "1 while the management tunnel is healthy.",
		}),
		failover: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkmgr_failover_total",
			Help: "Committed default route switches.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "linkmgr_events_total",
			Help: "Detected link events by kind.",
		}, []string{"kind"}),
		routeErr: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "linkmgr_route_mutation_errors_total",
			Help: "Failed route mutations.",
		}),
	}
	e.registry.MustRegister(e.score, e.rtt, e.jitter, e.loss, e.sinr,
		e.active, e.vpnUp, e.failover, e.events, e.routeErr)
	return e
}

// Serve starts the metrics listener.
func (e *Exporter) Serve(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{}))
	e.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	go func() {
		e.logger.Info("metrics listener started", "addr", e.server.Addr)
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.logger.Error("metrics listener failed", "error", err.Error())
		}
	}()
}

// Shutdown stops the listener.
func (e *Exporter) Shutdown(ctx context.Context) {
	if e.server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	_ = e.server.Shutdown(shutdownCtx)
}

// ObserveSample updates the per-interface gauges from one sample.
func (e *Exporter) ObserveSample(sample pkg.HealthSample) {
	labels := prometheus.Labels{"interface": sample.Interface}
	if sample.Unreachable {
		e.loss.With(labels).Set(100)
		return
	}
	e.rtt.With(labels).Set(sample.RTTMs)
	e.jitter.With(labels).Set(sample.JitterMs)
	e.loss.With(labels).Set(sample.LossPct)
	if sample.Radio != nil {
		e.sinr.With(labels).Set(sample.Radio.SINRdB)
	}
}

// ObserveScore records the latest composite score.
func (e *Exporter) ObserveScore(iface string, score pkg.QualityScore) {
	e.score.With(prometheus.Labels{"interface": iface}).Set(score.Value)
}

// ObserveEvent counts one detected event.
func (e *Exporter) ObserveEvent(ev pkg.Event) {
	e.events.With(prometheus.Labels{"kind": string(ev.Kind)}).Inc()
}

// ObserveSwitch records a committed failover and moves the active marker.
func (e *Exporter) ObserveSwitch(from, to string) {
	e.failover.Inc()
	if from != "" {
		e.active.With(prometheus.Labels{"interface": from}).Set(0)
	}
	e.active.With(prometheus.Labels{"interface": to}).Set(1)
}

// ObserveRouteError counts one failed route mutation.
func (e *Exporter) ObserveRouteError() {
	e.routeErr.Inc()
}

// ObserveVPN records tunnel health.
func (e *Exporter) ObserveVPN(healthy bool) {
	if healthy {
		e.vpnUp.Set(1)
	} else {
		e.vpnUp.Set(0)
	}
}
