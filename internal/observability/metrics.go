// Package observability holds the prometheus instrumentation shared by the
// governor and the API client.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AdmissionDecisions counts admission outcomes per action type.
	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_admission_decisions_total",
		Help: "Rate limit admission decisions by action and outcome.",
	}, []string{"action", "outcome"})

	// SuspiciousPromotions counts identifiers promoted into the suspicious
	// set after repeated denials.
	SuspiciousPromotions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gatekeeper_suspicious_promotions_total",
		Help: "Identifiers promoted to the suspicious set.",
	})

	// ClientRetries counts API client retries by trigger.
	ClientRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_client_retries_total",
		Help: "API client retries by trigger.",
	}, []string{"trigger"})
)
