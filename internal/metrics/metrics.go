package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AllocateDuration tracks the latency of gift code allocation
	AllocateDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "giftcode_allocate_duration_seconds",
			Help: "Duration of gift code allocation requests in seconds",
			Buckets: []float64{
				0.001, // 1ms
				0.005, // 5ms
				0.01,  // 10ms
				0.025, // 25ms
				0.05,  // 50ms
				0.1,   // 100ms
				0.25,  // 250ms
				0.5,   // 500ms
				1.0,   // 1s
				2.5,   // 2.5s
				5.0,   // 5s
			},
		},
		[]string{"outcome"}, // full, partial, failed
	)

	// CodeClaims counts individual claim attempts
	CodeClaims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "giftcode_claims_total",
			Help: "Gift code claim attempts by result",
		},
		[]string{"result"}, // won, lost, error
	)

	// SessionTransitions counts applied session transitions
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_session_transitions_total",
			Help: "Checkout session status transitions by target status",
		},
		[]string{"status"},
	)

	// Swept counts records moved to EXPIRED by a sweep
	Swept = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expiry_swept_total",
			Help: "Records transitioned to EXPIRED by sweeps",
		},
		[]string{"entity"}, // session, gift_code
	)
)

// RecordAllocateDuration records the duration of an allocation request
func RecordAllocateDuration(outcome string, duration float64) {
	AllocateDuration.WithLabelValues(outcome).Observe(duration)
}

// RecordClaim records the result of one claim attempt
func RecordClaim(result string) {
	CodeClaims.WithLabelValues(result).Inc()
}

// RecordTransition records an applied session transition
func RecordTransition(status string) {
	SessionTransitions.WithLabelValues(status).Inc()
}

// RecordSwept records n records expired by a sweep
func RecordSwept(entity string, n int) {
	if n > 0 {
		Swept.WithLabelValues(entity).Add(float64(n))
	}
}
