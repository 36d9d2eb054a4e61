package registrations

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registrationsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "confpass_registrations_created_total",
		Help: "Registrations issued by the allocator",
	})
	registrationsReused = promauto.NewCounter(prometheus.CounterOpts{
		Name: "confpass_registrations_reused_total",
		Help: "Register calls answered with an existing registration for the same email",
	})
	allocationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "confpass_allocation_retries_total",
		Help: "Allocation attempts retried after losing a race",
	})
	allocationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "confpass_allocation_failures_total",
		Help: "Allocation failures by error code",
	}, []string{"code"})
	allocationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "confpass_allocation_duration_seconds",
		Help:    "Duration of Allocate calls including retries",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})
)
