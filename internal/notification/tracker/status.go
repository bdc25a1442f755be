// Package tracker reconciles asynchronous provider delivery reports with the
// stored per-channel delivery state. Providers speak their own status
// vocabularies and redeliver callbacks at will; everything is normalized and
// deduplicated before it touches the store.
package tracker

import (
	"strings"

	"facility_portal_backend/internal/notification"
)

// providerStatuses maps every provider status string we have seen in the wild
// to the canonical vocabulary. Lookup is case-insensitive.
var providerStatuses = map[string]notification.Status{
	// pre-delivery
	"queued":    notification.StatusPending,
	"accepted":  notification.StatusPending,
	"scheduled": notification.StatusPending,
	"sending":   notification.StatusPending,

	// handed off to the carrier or mailbox provider
	"sent":       notification.StatusSent,
	"submitted":  notification.StatusSent,
	"dispatched": notification.StatusSent,

	// confirmed on the device or in the inbox
	"delivered":   notification.StatusDelivered,
	"delivery_ok": notification.StatusDelivered,
	"received":    notification.StatusDelivered,

	// recipient interaction
	"read":   notification.StatusRead,
	"opened": notification.StatusRead,
	"seen":   notification.StatusRead,

	// terminal failures
	"failed":        notification.StatusFailed,
	"undelivered":   notification.StatusFailed,
	"undeliverable": notification.StatusFailed,
	"bounced":       notification.StatusFailed,
	"rejected":      notification.StatusFailed,
	"expired":       notification.StatusFailed,
	"error":         notification.StatusFailed,
}

// MapProviderStatus normalizes a provider status string. Unrecognized values
// map to pending, which the store treats as a no-op, so a provider adding new
// vocabulary can never corrupt the stored state.
func MapProviderStatus(raw string) notification.Status {
	if mapped, ok := providerStatuses[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return mapped
	}
	return notification.StatusPending
}
