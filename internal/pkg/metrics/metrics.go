package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsTotal counts webhook deliveries by outcome:
	// processed, duplicate, ignored, discarded, invalid_signature, invalid_payload, failed.
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expandfox_webhook_events_total",
			Help: "Total number of billing webhook deliveries",
		},
		[]string{"outcome"},
	)

	WebhookProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "expandfox_webhook_processing_duration_seconds",
			Help:    "Duration of webhook processing",
			Buckets: prometheus.DefBuckets,
		},
	)

	SubscriptionTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expandfox_subscription_transitions_total",
			Help: "Subscription status changes applied from provider events",
		},
		[]string{"status"},
	)

	QuotaChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expandfox_quota_checks_total",
			Help: "Total number of quota check-and-increment calls",
		},
		[]string{"resource", "result"}, // result: allowed/denied
	)

	QuotaCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "expandfox_quota_check_duration_seconds",
			Help:    "Duration of quota check-and-increment calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"resource"},
	)

	PeriodResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "expandfox_period_resets_total",
			Help: "Usage periods rolled over",
		},
	)

	ReferralGrantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expandfox_referral_grants_total",
			Help: "Referral bonuses granted",
		},
		[]string{"plan"},
	)

	ReferralRegistrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expandfox_referral_registrations_total",
			Help: "Referral registrations by result",
		},
		[]string{"result"},
	)

	UpgradeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expandfox_upgrade_requests_total",
			Help: "Upgrade request state changes",
		},
		[]string{"status"},
	)

	JobsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "expandfox_jobs_processed_total",
			Help: "Background jobs processed",
		},
		[]string{"type", "result"},
	)
)
