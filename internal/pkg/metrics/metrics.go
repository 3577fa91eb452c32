package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is served on /metrics by the HTTP server.
var Registry = prometheus.NewRegistry()

var (
	// SessionActive is 1 while an update or check session holds the device.
	SessionActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "skypeer_update_session_active",
			Help: "Whether an update session is running (1=active, 0=idle).",
		},
	)

	// SessionsTotal counts session requests by kind and outcome.
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skypeer_update_sessions_total",
			Help: "Total number of update session requests.",
		},
		[]string{"kind", "result"}, // kind: firmware/apps/check, result: started/busy/disabled
	)

	// ComponentResults counts the terminal state of every driver.
	ComponentResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skypeer_update_component_results_total",
			Help: "Terminal states reached by component drivers.",
		},
		[]string{"component", "state"},
	)

	// PhaseDuration observes the time a driver spent in each state.
	PhaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skypeer_update_phase_duration_seconds",
			Help:    "Time spent by a component driver in each state.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 9), // 10ms .. ~11min
		},
		[]string{"component", "state"},
	)

	// LinkRequests counts requests sent over the vehicle link.
	LinkRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skypeer_link_requests_total",
			Help: "Requests sent to components over the vehicle link.",
		},
		[]string{"link", "command", "status"}, // status: ok/timeout/rejected/unreachable/cancelled/error
	)
)

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	Registry.MustRegister(SessionActive)
	Registry.MustRegister(SessionsTotal)
	Registry.MustRegister(ComponentResults)
	Registry.MustRegister(PhaseDuration)
	Registry.MustRegister(LinkRequests)
}
