package tracker

import (
	"testing"

	"facility_portal_backend/internal/notification"
)

func TestMapProviderStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want notification.Status
	}{
		{"queued", notification.StatusPending},
		{"sending", notification.StatusPending},
		{"sent", notification.StatusSent},
		{"submitted", notification.StatusSent},
		{"dispatched", notification.StatusSent},
		{"delivered", notification.StatusDelivered},
		{"delivery_ok", notification.StatusDelivered},
		{"received", notification.StatusDelivered},
		{"read", notification.StatusRead},
		{"opened", notification.StatusRead},
		{"seen", notification.StatusRead},
		{"failed", notification.StatusFailed},
		{"undelivered", notification.StatusFailed},
		{"bounced", notification.StatusFailed},
		{"rejected", notification.StatusFailed},
		{"expired", notification.StatusFailed},

		// normalization
		{"DELIVERED", notification.StatusDelivered},
		{"  Read  ", notification.StatusRead},

		// unknown vocabulary degrades to a no-op
		{"carrier_handoff_v2", notification.StatusPending},
		{"", notification.StatusPending},
	}

	for _, tc := range cases {
		if got := MapProviderStatus(tc.raw); got != tc.want {
			t.Errorf("MapProviderStatus(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}
