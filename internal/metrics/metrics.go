package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "emr"

var (
	AuthorizationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "authz",
		Name:      "decisions_total",
		Help:      "Authorization checks by check kind and outcome.",
	}, []string{"check", "outcome"})

	GrantCacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "authz",
		Name:      "grant_cache_lookups_total",
		Help:      "Principal grant cache lookups by result.",
	}, []string{"result"})

	UsageRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "license",
		Name:      "usage_rejections_total",
		Help:      "Usage increments rejected because the limit was reached.",
	}, []string{"resource_type"})

	KeysGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "license",
		Name:      "keys_generated_total",
		Help:      "License keys generated by strategy.",
	}, []string{"strategy"})

	KeyCollisionsExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "license",
		Name:      "key_collisions_exhausted_total",
		Help:      "Key generations that ran out of collision retries.",
	})

	Activations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "license",
		Name:      "activations_total",
		Help:      "License activation attempts by outcome.",
	}, []string{"outcome"})
)

// Outcome maps a boolean decision to a label value.
func Outcome(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}
