package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"facility_portal_backend/internal/notification"
	"facility_portal_backend/platform/apperr"
	"facility_portal_backend/platform/logger"

	"github.com/google/uuid"
)

// fakeStore keeps per-(notification, channel) state in memory and enforces
// the same monotonic transition rule as the real repository.
type fakeStore struct {
	mu      sync.Mutex
	failErr error
	state   map[string]notification.Status
}

func newFakeStore() *fakeStore {
	return &fakeStore{state: map[string]notification.Status{}}
}

func (s *fakeStore) key(id uuid.UUID, ch notification.Channel) string {
	return id.String() + ":" + string(ch)
}

func (s *fakeStore) set(id uuid.UUID, ch notification.Channel, st notification.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state[s.key(id, ch)] = st
}

func (s *fakeStore) get(id uuid.UUID, ch notification.Channel) notification.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state[s.key(id, ch)]
}

func (s *fakeStore) AdvanceDeliveryStatus(_ context.Context, id uuid.UUID, ch notification.Channel, to notification.Status, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return false, s.failErr
	}
	current, ok := s.state[s.key(id, ch)]
	if !ok {
		return false, nil
	}
	if !notification.CanTransition(current, to) {
		return false, nil
	}
	s.state[s.key(id, ch)] = to
	return true, nil
}

type fakeDeduper struct {
	seen map[string]bool
}

func (d *fakeDeduper) FirstSeen(_ context.Context, key string) bool {
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[key] {
		return false
	}
	d.seen[key] = true
	return true
}

func newTestService(store Store, dedup Deduper) *Service {
	return NewService(store, dedup, logger.New("development"))
}

func TestProcessCallbackAdvancesStatus(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeDeduper{})
	id := uuid.New()
	store.set(id, notification.ChannelSMS, notification.StatusSent)

	err := svc.ProcessCallback(context.Background(), CallbackParams{
		NotificationID: id,
		Channel:        notification.ChannelSMS,
		RawStatus:      "delivered",
		MessageID:      "SM123",
	})
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if got := store.get(id, notification.ChannelSMS); got != notification.StatusDelivered {
		t.Errorf("status = %s, want delivered", got)
	}
}

func TestProcessCallbackIgnoresRegression(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeDeduper{})
	id := uuid.New()
	store.set(id, notification.ChannelSMS, notification.StatusDelivered)

	// the "sent" report arrives after "delivered" was already applied
	err := svc.ProcessCallback(context.Background(), CallbackParams{
		NotificationID: id,
		Channel:        notification.ChannelSMS,
		RawStatus:      "sent",
		MessageID:      "SM123",
	})
	if err != nil {
		t.Fatalf("out-of-order callback must not error: %v", err)
	}
	if got := store.get(id, notification.ChannelSMS); got != notification.StatusDelivered {
		t.Errorf("status regressed to %s", got)
	}
}

func TestProcessCallbackUnknownStatusIsNoOp(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeDeduper{})
	id := uuid.New()
	store.set(id, notification.ChannelWhatsApp, notification.StatusSent)

	err := svc.ProcessCallback(context.Background(), CallbackParams{
		NotificationID: id,
		Channel:        notification.ChannelWhatsApp,
		RawStatus:      "some_new_vendor_state",
	})
	if err != nil {
		t.Fatalf("unknown status must not error: %v", err)
	}
	if got := store.get(id, notification.ChannelWhatsApp); got != notification.StatusSent {
		t.Errorf("status changed to %s on unknown vocabulary", got)
	}
}

func TestProcessCallbackDuplicateSuppressed(t *testing.T) {
	store := newFakeStore()
	dedup := &fakeDeduper{}
	svc := newTestService(store, dedup)
	id := uuid.New()
	store.set(id, notification.ChannelSMS, notification.StatusSent)

	p := CallbackParams{
		NotificationID: id,
		Channel:        notification.ChannelSMS,
		RawStatus:      "delivered",
		MessageID:      "SM123",
	}
	if err := svc.ProcessCallback(context.Background(), p); err != nil {
		t.Fatalf("first callback failed: %v", err)
	}

	// rewind the store to prove the duplicate never reaches it
	store.set(id, notification.ChannelSMS, notification.StatusSent)
	if err := svc.ProcessCallback(context.Background(), p); err != nil {
		t.Fatalf("duplicate callback failed: %v", err)
	}
	if got := store.get(id, notification.ChannelSMS); got != notification.StatusSent {
		t.Error("duplicate callback reached the store")
	}
}

func TestProcessCallbackValidation(t *testing.T) {
	svc := newTestService(newFakeStore(), nil)

	err := svc.ProcessCallback(context.Background(), CallbackParams{
		Channel:   notification.ChannelSMS,
		RawStatus: "delivered",
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("missing id: got %v, want validation error", err)
	}

	err = svc.ProcessCallback(context.Background(), CallbackParams{
		NotificationID: uuid.New(),
		Channel:        notification.Channel("fax"),
		RawStatus:      "delivered",
	})
	if !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("bad channel: got %v, want validation error", err)
	}
}

func TestProcessCallbackUnknownNotificationSwallowed(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)

	err := svc.ProcessCallback(context.Background(), CallbackParams{
		NotificationID: uuid.New(),
		Channel:        notification.ChannelSMS,
		RawStatus:      "delivered",
	})
	if err != nil {
		t.Fatalf("unknown notification must not error: %v", err)
	}
}

func TestProcessCallbackStoreErrorPropagates(t *testing.T) {
	store := newFakeStore()
	store.failErr = errors.New("connection refused")
	svc := newTestService(store, nil)

	err := svc.ProcessCallback(context.Background(), CallbackParams{
		NotificationID: uuid.New(),
		Channel:        notification.ChannelSMS,
		RawStatus:      "delivered",
	})
	if err == nil {
		t.Fatal("expected the store error to propagate")
	}
}

func TestProcessOpenBeaconMarksEmailRead(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)
	id := uuid.New()
	store.set(id, notification.ChannelEmail, notification.StatusSent)

	svc.ProcessOpenBeacon(context.Background(), id)

	if got := store.get(id, notification.ChannelEmail); got != notification.StatusRead {
		t.Errorf("status = %s, want read", got)
	}

	// replays are harmless
	svc.ProcessOpenBeacon(context.Background(), id)
	if got := store.get(id, notification.ChannelEmail); got != notification.StatusRead {
		t.Errorf("status = %s after replay, want read", got)
	}
}

func TestProcessOpenBeaconUnknownNotification(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, nil)

	// must not panic or error; the endpoint always serves the pixel
	svc.ProcessOpenBeacon(context.Background(), uuid.New())
	svc.ProcessOpenBeacon(context.Background(), uuid.Nil)
}
