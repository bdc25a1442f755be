package store

import (
	"context"
	"errors"
	"fmt"

	"facility_portal_backend/internal/notification"
	"facility_portal_backend/platform/apperr"
	"facility_portal_backend/platform/phone"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	opResolve       = "notification.store.resolve_channels"
	opUpsertChannel = "notification.store.upsert_channel"
	opRemoveChannel = "notification.store.remove_channel"
	opRemoveToken   = "notification.store.remove_push_token"
)

// ResolveContact loads the user's profile and channel bindings in one shot.
func (r *Repository) ResolveContact(ctx context.Context, userID uuid.UUID) (notification.Contact, error) {
	if r == nil || r.pool == nil {
		return notification.Contact{}, apperr.Internal(errRepoNotConfigured).WithOp(opResolve)
	}
	if userID == uuid.Nil {
		return notification.Contact{}, apperr.Validation(errUserIDRequired).WithOp(opResolve)
	}

	contact := notification.Contact{UserID: userID, Bindings: map[notification.Channel]notification.ChannelBinding{}}

	var phoneRaw *string
	err := r.pool.QueryRow(ctx, `
		SELECT email, phone FROM fmc_users WHERE id = $1
	`, userID).Scan(&contact.Email, &phoneRaw)
	if errors.Is(err, pgx.ErrNoRows) {
		return notification.Contact{}, apperr.NotFound("user not found").WithOp(opResolve)
	}
	if err != nil {
		return notification.Contact{}, apperr.Internal(fmt.Sprintf("load user contact failed: %v", err)).WithOp(opResolve)
	}
	if phoneRaw != nil {
		contact.Phone = *phoneRaw
	}

	rows, err := r.pool.Query(ctx, `
		SELECT channel, address, enabled
		FROM fmc_user_channels
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return notification.Contact{}, apperr.Internal(fmt.Sprintf("load channel bindings failed: %v", err)).WithOp(opResolve)
	}
	defer rows.Close()

	for rows.Next() {
		var b notification.ChannelBinding
		var channelRaw string
		if scanErr := rows.Scan(&channelRaw, &b.Address, &b.Enabled); scanErr != nil {
			return notification.Contact{}, apperr.Internal(fmt.Sprintf("scan channel binding failed: %v", scanErr)).WithOp(opResolve)
		}
		b.Channel = notification.Channel(channelRaw)
		contact.Bindings[b.Channel] = b
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return notification.Contact{}, apperr.Internal(fmt.Sprintf("iterate channel bindings failed: %v", rowsErr)).WithOp(opResolve)
	}

	return contact, nil
}

// UpsertChannelBinding registers or replaces the user's address on a channel
// and marks the channel enabled. Phone-based channels are normalized to E.164
// before storage.
func (r *Repository) UpsertChannelBinding(ctx context.Context, userID uuid.UUID, ch notification.Channel, address string) error {
	if r == nil || r.pool == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(opUpsertChannel)
	}
	if userID == uuid.Nil || !ch.Valid() {
		return apperr.Validation("userId and a valid channel are required").WithOp(opUpsertChannel)
	}
	if address == "" {
		return apperr.Validation("address is required").WithOp(opUpsertChannel)
	}

	if ch == notification.ChannelSMS || ch == notification.ChannelWhatsApp {
		if !phone.IsDialable(address) {
			return apperr.Validation("address is not a dialable phone number").WithOp(opUpsertChannel)
		}
		address = phone.NormalizeE164(address)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO fmc_user_channels (user_id, channel, address, enabled, updated_at)
		VALUES ($1, $2, $3, TRUE, now())
		ON CONFLICT (user_id, channel) DO UPDATE SET
			address = EXCLUDED.address,
			enabled = TRUE,
			updated_at = now()
	`, userID, string(ch), address)
	if err != nil {
		return apperr.Internal(fmt.Sprintf("upsert channel binding failed: %v", err)).WithOp(opUpsertChannel)
	}

	return nil
}

// SetChannelEnabled flips the opt-in flag for one channel without touching
// the stored address.
func (r *Repository) SetChannelEnabled(ctx context.Context, userID uuid.UUID, ch notification.Channel, enabled bool) error {
	if r == nil || r.pool == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(opUpsertChannel)
	}
	if userID == uuid.Nil || !ch.Valid() {
		return apperr.Validation("userId and a valid channel are required").WithOp(opUpsertChannel)
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO fmc_user_channels (user_id, channel, address, enabled, updated_at)
		VALUES ($1, $2, '', $3, now())
		ON CONFLICT (user_id, channel) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			updated_at = now()
	`, userID, string(ch), enabled)
	if err != nil {
		return apperr.Internal(fmt.Sprintf("set channel enabled failed: %v", err)).WithOp(opUpsertChannel)
	}

	return nil
}

// RemoveChannelBinding deletes the user's binding on a channel. Missing rows
// are not an error.
func (r *Repository) RemoveChannelBinding(ctx context.Context, userID uuid.UUID, ch notification.Channel) error {
	if r == nil || r.pool == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(opRemoveChannel)
	}
	if userID == uuid.Nil || !ch.Valid() {
		return apperr.Validation("userId and a valid channel are required").WithOp(opRemoveChannel)
	}

	_, err := r.pool.Exec(ctx, `
		DELETE FROM fmc_user_channels WHERE user_id = $1 AND channel = $2
	`, userID, string(ch))
	if err != nil {
		return apperr.Internal(fmt.Sprintf("remove channel binding failed: %v", err)).WithOp(opRemoveChannel)
	}

	return nil
}

// RemovePushToken drops a push binding by its token value, regardless of the
// owning user. Push providers report dead tokens asynchronously and do not
// echo the user id back.
func (r *Repository) RemovePushToken(ctx context.Context, token string) error {
	if r == nil || r.pool == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(opRemoveToken)
	}
	if token == "" {
		return nil
	}

	_, err := r.pool.Exec(ctx, `
		DELETE FROM fmc_user_channels WHERE channel = 'push' AND address = $1
	`, token)
	if err != nil {
		return apperr.Internal(fmt.Sprintf("remove push token failed: %v", err)).WithOp(opRemoveToken)
	}

	return nil
}
