package constants

// Static route constants
const (
	HealthRoute  = "/healthz"
	MetricsRoute = "/metrics"
	MonitorRoute = "/monitor"
	// provider webhooks are signed, they live outside the token-protected api
	WebhookRoute = "/billing/webhook"
	APIPrefix    = "/api"
	APIVersion   = "/v1"
	DocsBasePath = "/docs/api/"
)
