// Package metrics holds the Prometheus series the controller updates.
//
//   - risk_admissions_total{result}        entry evaluations by outcome
//   - risk_exits_total{reason}             closed positions by exit reason
//   - risk_breaker_trips_total{trigger}    circuit breaker trips
//   - risk_averaging_total{result}         averaging attempts (applied|rejected|failed)
//   - risk_delta_advisories_total          neutral-position advisories raised
//   - risk_notify_total{result}            alert deliveries (sent|retry|dropped)
//   - risk_limit_utilisation_pct{account,limit}
//
// Registered in init() and served on the health mux at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "risk_admissions_total", Help: "Entry evaluations by result"},
		[]string{"result"},
	)

	Exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "risk_exits_total", Help: "Closed positions by exit reason"},
		[]string{"reason"},
	)

	BreakerTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "risk_breaker_trips_total", Help: "Circuit breaker trips by trigger"},
		[]string{"trigger"},
	)

	Averaging = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "risk_averaging_total", Help: "Averaging attempts by result"},
		[]string{"result"},
	)

	DeltaAdvisories = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "risk_delta_advisories_total", Help: "Net delta advisories raised"},
	)

	Notify = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "risk_notify_total", Help: "Alert deliveries by result"},
		[]string{"result"},
	)

	LimitUtilisation = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "risk_limit_utilisation_pct", Help: "Loss limit utilisation in percent"},
		[]string{"account", "limit"},
	)
)

func init() {
	prometheus.MustRegister(
		Admissions,
		Exits,
		BreakerTrips,
		Averaging,
		DeltaAdvisories,
		Notify,
		LimitUtilisation,
	)
}
