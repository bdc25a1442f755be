package notification

import (
	"context"
	"sync"
	"time"

	"facility_portal_backend/platform/apperr"
	"facility_portal_backend/platform/config"
	"facility_portal_backend/platform/logger"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	opDispatch = "notification.dispatch"

	// maxConcurrentSends bounds the per-dispatch fan-out. There are at most
	// four channels today; the bound guards against future channel growth.
	maxConcurrentSends = 4
)

// SendResult reports the provider-side outcome of one send attempt.
type SendResult struct {
	Provider          string
	ExternalMessageID *string
}

// Sender delivers one notification on one channel. A returned error marks the
// attempt as failed for that channel only and is never propagated to the
// dispatch caller.
type Sender interface {
	Channel() Channel
	Send(ctx context.Context, n Notification, destination string) (SendResult, error)
}

// DispatchStore is the persistence surface the dispatcher needs.
type DispatchStore interface {
	Create(ctx context.Context, p CreateParams) (Notification, error)
	RecordAttempt(ctx context.Context, p AttemptRecord) error
	ResolveContact(ctx context.Context, userID uuid.UUID) (Contact, error)
}

// DispatchParams describes one logical notification for one user.
type DispatchParams struct {
	UserID   uuid.UUID
	Title    string
	Message  string
	Type     Type
	Data     map[string]string
	Channels []Channel
}

// Dispatcher persists a notification and fans it out across the requested
// channels concurrently. The canonical row is written before any send, so a
// provider callback racing the dispatch always finds it.
type Dispatcher struct {
	store   DispatchStore
	senders map[Channel]Sender
	timeout time.Duration
	log     *logger.Logger
}

// NewDispatcher wires the configured senders. Nil senders (channels without
// configuration) are skipped; dispatch records a failed attempt for any
// requested channel that has no sender.
func NewDispatcher(store DispatchStore, cfg config.NotificationConfig, log *logger.Logger, senders ...Sender) *Dispatcher {
	byChannel := make(map[Channel]Sender, len(senders))
	for _, s := range senders {
		if s == nil {
			continue
		}
		byChannel[s.Channel()] = s
	}

	timeout := cfg.GetSendTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Dispatcher{
		store:   store,
		senders: byChannel,
		timeout: timeout,
		log:     log,
	}
}

// Dispatch creates the notification and attempts delivery on every requested
// channel the user accepts. Channel failures are recorded in the delivery log
// and never fail the dispatch; the only error cases are invalid input and a
// failure to persist the canonical row.
func (d *Dispatcher) Dispatch(ctx context.Context, p DispatchParams) (Notification, error) {
	channels := p.Channels
	if len(channels) == 0 {
		channels = DefaultChannels
	}
	for _, ch := range channels {
		if !ch.Valid() {
			return Notification{}, apperr.Validation("unknown channel: "+string(ch)).WithOp(opDispatch)
		}
	}

	n, err := d.store.Create(ctx, CreateParams{
		UserID:  p.UserID,
		Title:   p.Title,
		Message: p.Message,
		Type:    p.Type,
		Data:    p.Data,
	})
	if err != nil {
		return Notification{}, err
	}

	contact, err := d.store.ResolveContact(ctx, p.UserID)
	if err != nil {
		// The notification exists; without a contact profile no channel can
		// deliver, so leave the delivery log empty.
		d.log.Error("contact resolution failed, skipping delivery",
			"notification_id", n.ID.String(), "error", err.Error())
		return n, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSends)

	for _, ch := range dedupeChannels(channels) {
		if !contact.ChannelEnabled(ch) {
			d.log.Debug("channel disabled by user, skipping",
				"notification_id", n.ID.String(), "channel", string(ch))
			continue
		}

		g.Go(func() error {
			record := d.sendOne(gctx, n, ch, contact.Destination(ch))

			if recordErr := d.store.RecordAttempt(ctx, record); recordErr != nil {
				d.log.DatabaseError(opDispatch, recordErr)
			}

			mu.Lock()
			foldAttempt(&n, record)
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	return n, nil
}

// sendOne runs a single channel attempt under its own timeout and converts
// the outcome into a delivery log record.
func (d *Dispatcher) sendOne(ctx context.Context, n Notification, ch Channel, destination string) AttemptRecord {
	record := AttemptRecord{
		NotificationID: n.ID,
		Channel:        ch,
		Status:         StatusSent,
	}

	sender, ok := d.senders[ch]
	if !ok {
		record.Status = StatusFailed
		record.ErrorMessage = strptr("channel not configured")
		d.log.DeliveryEvent(n.ID.String(), string(ch), string(StatusFailed), nil)
		return record
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	result, err := sender.Send(sendCtx, n, destination)
	record.Provider = result.Provider
	record.ExternalMessageID = result.ExternalMessageID
	if err != nil {
		record.Status = StatusFailed
		record.ErrorMessage = strptr(err.Error())
	}

	d.log.DeliveryEvent(n.ID.String(), string(ch), string(record.Status), err)
	return record
}

func foldAttempt(n *Notification, record AttemptRecord) {
	if n.DeliveryStatus == nil {
		n.DeliveryStatus = map[Channel]Status{}
	}
	if n.ExternalMessageIDs == nil {
		n.ExternalMessageIDs = map[Channel]string{}
	}

	n.ChannelsSent = append(n.ChannelsSent, record.Channel)
	n.DeliveryStatus[record.Channel] = record.Status
	if record.ExternalMessageID != nil {
		n.ExternalMessageIDs[record.Channel] = *record.ExternalMessageID
	}
	n.DeliveryAttempts++
}

func dedupeChannels(channels []Channel) []Channel {
	seen := make(map[Channel]bool, len(channels))
	out := make([]Channel, 0, len(channels))
	for _, ch := range channels {
		if seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}

func strptr(s string) *string {
	return &s
}
