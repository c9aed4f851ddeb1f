// Package metrics holds the Prometheus collectors shared by every binary.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Price observations appended to the snapshot store"},
		[]string{"symbol"},
	)
	SweepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alert_sweeps_total", Help: "Sweep cycles run, by sweeper and outcome"},
		[]string{"sweeper", "outcome"},
	)
	AlertTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alert_transitions_total", Help: "Alerts moved out of active"},
		[]string{"status"},
	)
	AlertRaceLosses = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "alert_race_losses_total", Help: "Guarded transitions that found the alert already handled"},
	)
	AlertsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alerts_skipped_total", Help: "Active alerts skipped during a trigger sweep"},
		[]string{"reason"},
	)
	NotificationFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "notification_failures_total", Help: "Best-effort alert notifications that failed"},
		[]string{"sink"},
	)
	ReconcilerEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reconciler_events_total", Help: "Change events applied by reconcilers"},
		[]string{"table", "type"},
	)
	ChangePublishFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "change_publish_failures_total", Help: "Committed writes whose change event could not be published"},
		[]string{"table"},
	)
	RateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "quote_rate_limited_total", Help: "Upstream quote requests rejected for rate limiting"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		SweepsTotal,
		AlertTransitions,
		AlertRaceLosses,
		AlertsSkipped,
		NotificationFailures,
		ReconcilerEvents,
		ChangePublishFailures,
		RateLimited,
	)
}

// Serve exposes /metrics on addr in the background. An empty addr disables it.
func Serve(addr string) *http.Server {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
