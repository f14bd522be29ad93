package billing

import (
	"strings"

	"github.com/ManuelReschke/ExpandFox/app/models"
)

const (
	EventSubscriptionCreated     = "subscription.created"
	EventSubscriptionUpdated     = "subscription.updated"
	EventSubscriptionDeleted     = "subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventCheckoutCompleted       = "checkout.session.completed"
)

// status assumed when an event does not report one
var fallbackStatus = map[string]string{
	EventSubscriptionCreated:     models.BillingStatusIncomplete,
	EventSubscriptionDeleted:     models.BillingStatusCanceled,
	EventInvoicePaymentSucceeded: models.BillingStatusActive,
	EventInvoicePaymentFailed:    models.BillingStatusPastDue,
	EventCheckoutCompleted:       models.BillingStatusActive,
}

// normalizeEventType accepts provider spellings such as "customer.subscription.updated".
func normalizeEventType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	return strings.TrimPrefix(t, "customer.")
}

// IsSubscriptionEvent reports whether the state machine handles eventType.
func IsSubscriptionEvent(eventType string) bool {
	switch eventType {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted,
		EventInvoicePaymentSucceeded, EventInvoicePaymentFailed, EventCheckoutCompleted:
		return true
	default:
		return false
	}
}

// createsSubscription reports whether an event may create an untracked subscription.
func createsSubscription(eventType string) bool {
	switch eventType {
	case EventSubscriptionCreated, EventCheckoutCompleted, EventInvoicePaymentSucceeded:
		return true
	default:
		return false
	}
}

// NextStatus is the status a subscription takes from an event: the status
// the provider reported, verbatim, or the event type's default when none was
// reported. It returns "" when neither applies.
func NextStatus(eventType, reported string) string {
	if s := strings.ToLower(strings.TrimSpace(reported)); s != "" {
		return s
	}
	return fallbackStatus[eventType]
}

// IsEntitling reports whether a subscription in status grants its plan.
func IsEntitling(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.BillingStatusActive, models.BillingStatusTrialing:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether status ends the subscription.
func IsTerminal(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.BillingStatusCanceled, models.BillingStatusUnpaid, models.BillingStatusExpired:
		return true
	default:
		return false
	}
}
