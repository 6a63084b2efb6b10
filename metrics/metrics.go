// Package metrics exposes the process-wide Prometheus collectors for the
// challenge engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChallengesIssued counts minted challenges.
	ChallengesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payauth_challenges_issued_total",
		Help: "Number of challenges issued.",
	})

	// ChallengesConsumed counts fresh pending -> consumed transitions.
	ChallengesConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payauth_challenges_consumed_total",
		Help: "Number of challenges consumed by a matching transfer.",
	})

	// ChallengesExpired counts pending -> expired transitions by the sweep.
	ChallengesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payauth_challenges_expired_total",
		Help: "Number of challenges expired by the sweep.",
	})

	// SessionsIssued counts minted session credentials.
	SessionsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payauth_sessions_issued_total",
		Help: "Number of sessions issued after consumption.",
	})

	// MatcherSkips counts matcher rejections by reason. Skips are expected
	// operation, not failures.
	MatcherSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payauth_matcher_skips_total",
		Help: "Transfer notifications skipped by the matcher, by reason.",
	}, []string{"reason"})

	// WebhookDeliveries counts webhook attempts by outcome.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payauth_webhook_deliveries_total",
		Help: "Webhook delivery attempts, by outcome.",
	}, []string{"outcome"})
)
