// Package metrics registers the service's Prometheus counters on the
// default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AuthorizationsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wpseo_gsc_authorizations_started_total",
		Help: "Authorization flows started (authorization URLs issued).",
	})
	ConnectionsEstablishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wpseo_gsc_connections_established_total",
		Help: "Successful authorization-code exchanges.",
	})
	StateValidationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wpseo_gsc_state_validation_failures_total",
		Help: "Rejected callback state parameters (malformed, expired, replayed or mismatched).",
	})
	TokenRefreshesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wpseo_gsc_token_refreshes_total",
		Help: "Successful access token refreshes.",
	})
	TokenRefreshFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wpseo_gsc_token_refresh_failures_total",
		Help: "Failed access token refreshes.",
	})
	AnalyticsQueriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wpseo_gsc_analytics_queries_total",
		Help: "Search analytics queries proxied to the Search Console API.",
	})
)
