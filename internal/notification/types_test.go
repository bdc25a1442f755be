package notification

import (
	"testing"

	"github.com/google/uuid"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusSent, true},
		{StatusPending, StatusDelivered, true},
		{StatusPending, StatusRead, true},
		{StatusPending, StatusFailed, true},
		{StatusSent, StatusDelivered, true},
		{StatusSent, StatusRead, true},
		{StatusSent, StatusFailed, true},
		{StatusDelivered, StatusRead, true},

		// regressions
		{StatusSent, StatusPending, false},
		{StatusDelivered, StatusSent, false},
		{StatusDelivered, StatusPending, false},
		{StatusRead, StatusDelivered, false},
		{StatusRead, StatusSent, false},
		{StatusDelivered, StatusFailed, false},
		{StatusRead, StatusFailed, false},

		// terminal states
		{StatusFailed, StatusSent, false},
		{StatusFailed, StatusDelivered, false},
		{StatusRead, StatusPending, false},

		// same status is not an advance
		{StatusSent, StatusSent, false},
		{StatusDelivered, StatusDelivered, false},

		// unknown vocabulary
		{Status("queued"), StatusSent, false},
		{StatusSent, Status("bounced"), false},
	}

	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestChannelValid(t *testing.T) {
	for _, ch := range AllChannels {
		if !ch.Valid() {
			t.Errorf("expected %s to be valid", ch)
		}
	}
	if Channel("fax").Valid() {
		t.Error("expected fax to be invalid")
	}
	if Channel("").Valid() {
		t.Error("expected empty channel to be invalid")
	}
}

func TestContactDestination(t *testing.T) {
	contact := Contact{
		UserID: uuid.New(),
		Email:  "tenant@example.com",
		Phone:  "+31612345678",
		Bindings: map[Channel]ChannelBinding{
			ChannelPush: {Channel: ChannelPush, Address: "device-token-1", Enabled: true},
			ChannelSMS:  {Channel: ChannelSMS, Address: "+31687654321", Enabled: true},
		},
	}

	if got := contact.Destination(ChannelEmail); got != "tenant@example.com" {
		t.Errorf("email destination = %q", got)
	}
	// binding address wins over the profile phone
	if got := contact.Destination(ChannelSMS); got != "+31687654321" {
		t.Errorf("sms destination = %q", got)
	}
	// no whatsapp binding falls back to the profile phone
	if got := contact.Destination(ChannelWhatsApp); got != "+31612345678" {
		t.Errorf("whatsapp destination = %q", got)
	}
	if got := contact.Destination(ChannelPush); got != "device-token-1" {
		t.Errorf("push destination = %q", got)
	}
}

func TestContactChannelEnabled(t *testing.T) {
	contact := Contact{
		Bindings: map[Channel]ChannelBinding{
			ChannelSMS: {Channel: ChannelSMS, Enabled: false},
		},
	}

	if contact.ChannelEnabled(ChannelSMS) {
		t.Error("expected sms to be disabled")
	}
	// absence of a binding row counts as enabled
	if !contact.ChannelEnabled(ChannelEmail) {
		t.Error("expected email to be enabled")
	}
}
