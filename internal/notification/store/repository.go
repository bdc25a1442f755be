// Package store persists canonical notifications and their per-channel
// delivery log, plus the per-user channel directory.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"facility_portal_backend/internal/notification"
	"facility_portal_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	opCreate      = "notification.store.create"
	opGet         = "notification.store.get"
	opList        = "notification.store.list"
	opCountUnread = "notification.store.count_unread"
	opMarkRead    = "notification.store.mark_read"
	opMarkAllRead = "notification.store.mark_all_read"
	opRecord      = "notification.store.record_attempt"
	opAdvance     = "notification.store.advance_status"

	errRepoNotConfigured = "notification repository not configured"
	errUserIDRequired    = "userId is required"
)

// Repository persists notifications and delivery log entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a notification repository over the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts the canonical notification row. This happens before any
// channel send so provider callbacks racing the dispatch can find the row.
func (r *Repository) Create(ctx context.Context, p notification.CreateParams) (notification.Notification, error) {
	if r == nil || r.pool == nil {
		return notification.Notification{}, apperr.Internal(errRepoNotConfigured).WithOp(opCreate)
	}
	if p.UserID == uuid.Nil {
		return notification.Notification{}, apperr.Validation(errUserIDRequired).WithOp(opCreate)
	}
	if p.Title == "" || p.Message == "" {
		return notification.Notification{}, apperr.Validation("title and message are required").WithOp(opCreate)
	}

	kind := p.Type
	if kind == "" {
		kind = notification.TypeInfo
	}
	data := p.Data
	if data == nil {
		data = map[string]string{}
	}

	var n notification.Notification
	var channels []string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO fmc_notifications (user_id, title, message, type, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, title, message, type, data, is_read, read_at,
		          channels_sent, delivery_status, external_message_ids, delivery_attempts, created_at
	`, p.UserID, p.Title, p.Message, string(kind), data).Scan(
		&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.Data, &n.IsRead, &n.ReadAt,
		&channels, &n.DeliveryStatus, &n.ExternalMessageIDs, &n.DeliveryAttempts, &n.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return notification.Notification{}, apperr.Validation("unknown userId").WithOp(opCreate)
		}
		return notification.Notification{}, apperr.Internal(fmt.Sprintf("create notification failed: %v", err)).WithOp(opCreate)
	}
	n.ChannelsSent = toChannels(channels)

	return n, nil
}

// GetByID fetches one notification.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (notification.Notification, error) {
	if r == nil || r.pool == nil {
		return notification.Notification{}, apperr.Internal(errRepoNotConfigured).WithOp(opGet)
	}

	var n notification.Notification
	var channels []string
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, title, message, type, data, is_read, read_at,
		       channels_sent, delivery_status, external_message_ids, delivery_attempts, created_at
		FROM fmc_notifications
		WHERE id = $1
	`, id).Scan(
		&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.Data, &n.IsRead, &n.ReadAt,
		&channels, &n.DeliveryStatus, &n.ExternalMessageIDs, &n.DeliveryAttempts, &n.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return notification.Notification{}, apperr.NotFound("notification not found").WithOp(opGet)
	}
	if err != nil {
		return notification.Notification{}, apperr.Internal(fmt.Sprintf("get notification failed: %v", err)).WithOp(opGet)
	}
	n.ChannelsSent = toChannels(channels)

	return n, nil
}

// List returns a user's notifications, newest first, with the total count.
func (r *Repository) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]notification.Notification, int, error) {
	if r == nil || r.pool == nil {
		return nil, 0, apperr.Internal(errRepoNotConfigured).WithOp(opList)
	}
	if userID == uuid.Nil {
		return nil, 0, apperr.Validation(errUserIDRequired).WithOp(opList)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM fmc_notifications WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, apperr.Internal(fmt.Sprintf("count notifications failed: %v", err)).WithOp(opList)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, title, message, type, data, is_read, read_at,
		       channels_sent, delivery_status, external_message_ids, delivery_attempts, created_at
		FROM fmc_notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(fmt.Sprintf("list notifications query failed: %v", err)).WithOp(opList)
	}
	defer rows.Close()

	items := make([]notification.Notification, 0, limit)
	for rows.Next() {
		var n notification.Notification
		var channels []string
		if scanErr := rows.Scan(
			&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type, &n.Data, &n.IsRead, &n.ReadAt,
			&channels, &n.DeliveryStatus, &n.ExternalMessageIDs, &n.DeliveryAttempts, &n.CreatedAt,
		); scanErr != nil {
			return nil, 0, apperr.Internal(fmt.Sprintf("scan notifications failed: %v", scanErr)).WithOp(opList)
		}
		n.ChannelsSent = toChannels(channels)
		items = append(items, n)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, 0, apperr.Internal(fmt.Sprintf("iterate notifications failed: %v", rowsErr)).WithOp(opList)
	}

	return items, total, nil
}

// CountUnread returns the number of unread notifications for a user.
func (r *Repository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	if r == nil || r.pool == nil {
		return 0, apperr.Internal(errRepoNotConfigured).WithOp(opCountUnread)
	}
	if userID == uuid.Nil {
		return 0, apperr.Validation(errUserIDRequired).WithOp(opCountUnread)
	}

	var count int
	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM fmc_notifications
		WHERE user_id = $1 AND is_read = FALSE
	`, userID).Scan(&count)
	if err != nil {
		return 0, apperr.Internal(fmt.Sprintf("count unread notifications failed: %v", err)).WithOp(opCountUnread)
	}

	return count, nil
}

// MarkRead marks one notification as read for the owning user.
func (r *Repository) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	if r == nil || r.pool == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(opMarkRead)
	}
	if userID == uuid.Nil || notificationID == uuid.Nil {
		return apperr.Validation("userId and notificationId are required").WithOp(opMarkRead)
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE fmc_notifications
		SET is_read = TRUE, read_at = now()
		WHERE id = $1 AND user_id = $2
	`, notificationID, userID)
	if err != nil {
		return apperr.Internal(fmt.Sprintf("mark notification read failed: %v", err)).WithOp(opMarkRead)
	}

	return nil
}

// MarkAllRead marks every unread notification as read for the user.
func (r *Repository) MarkAllRead(ctx context.Context, userID uuid.UUID) error {
	if r == nil || r.pool == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(opMarkAllRead)
	}
	if userID == uuid.Nil {
		return apperr.Validation(errUserIDRequired).WithOp(opMarkAllRead)
	}

	_, err := r.pool.Exec(ctx, `
		UPDATE fmc_notifications
		SET is_read = TRUE, read_at = now()
		WHERE user_id = $1 AND is_read = FALSE
	`, userID)
	if err != nil {
		return apperr.Internal(fmt.Sprintf("mark all notifications read failed: %v", err)).WithOp(opMarkAllRead)
	}

	return nil
}

// RecordAttempt upserts the delivery log row for (notification, channel) and
// folds the attempt into the notification row. A resend replaces the previous
// attempt generation instead of inserting a second row.
func (r *Repository) RecordAttempt(ctx context.Context, p notification.AttemptRecord) error {
	if r == nil || r.pool == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(opRecord)
	}
	if p.NotificationID == uuid.Nil || !p.Channel.Valid() {
		return apperr.Validation("notificationId and a valid channel are required").WithOp(opRecord)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperr.Internal(fmt.Sprintf("begin record attempt: %v", err)).WithOp(opRecord)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO fmc_delivery_log (notification_id, channel, provider, external_message_id, status, error_message, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (notification_id, channel) DO UPDATE SET
			provider = EXCLUDED.provider,
			external_message_id = EXCLUDED.external_message_id,
			status = EXCLUDED.status,
			error_message = EXCLUDED.error_message,
			delivered_at = NULL,
			read_at = NULL,
			updated_at = now()
	`, p.NotificationID, string(p.Channel), p.Provider, p.ExternalMessageID, string(p.Status), p.ErrorMessage)
	if err != nil {
		return apperr.Internal(fmt.Sprintf("upsert delivery log failed: %v", err)).WithOp(opRecord)
	}

	_, err = tx.Exec(ctx, `
		UPDATE fmc_notifications SET
			channels_sent = CASE WHEN $2 = ANY(channels_sent) THEN channels_sent ELSE array_append(channels_sent, $2) END,
			delivery_status = jsonb_set(coalesce(delivery_status, '{}'::jsonb), ARRAY[$2], to_jsonb($3::text), true),
			external_message_ids = CASE
				WHEN $4::text IS NULL THEN external_message_ids
				ELSE jsonb_set(coalesce(external_message_ids, '{}'::jsonb), ARRAY[$2], to_jsonb($4::text), true)
			END,
			delivery_attempts = delivery_attempts + 1
		WHERE id = $1
	`, p.NotificationID, string(p.Channel), string(p.Status), p.ExternalMessageID)
	if err != nil {
		return apperr.Internal(fmt.Sprintf("fold attempt into notification failed: %v", err)).WithOp(opRecord)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperr.Internal(fmt.Sprintf("commit record attempt: %v", err)).WithOp(opRecord)
	}
	return nil
}

// AdvanceDeliveryStatus applies a tracker update to (notification, channel)
// if and only if it is a legal forward transition. The guard lives in the
// UPDATE's WHERE clause so concurrent callbacks cannot regress the status.
// Returns false without error when the update was a no-op (unknown id,
// unknown channel row, or an out-of-order status).
func (r *Repository) AdvanceDeliveryStatus(ctx context.Context, notificationID uuid.UUID, ch notification.Channel, to notification.Status, at time.Time) (bool, error) {
	if r == nil || r.pool == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opAdvance)
	}
	if notificationID == uuid.Nil || !ch.Valid() {
		return false, apperr.Validation("notificationId and a valid channel are required").WithOp(opAdvance)
	}
	// pending is the safe mapping for unknown provider vocabulary; it never
	// advances anything.
	if to == notification.StatusPending {
		return false, nil
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, apperr.Internal(fmt.Sprintf("begin advance status: %v", err)).WithOp(opAdvance)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE fmc_delivery_log SET
			status = $3,
			delivered_at = CASE WHEN $3 = 'delivered' THEN $4 ELSE delivered_at END,
			read_at = CASE WHEN $3 = 'read' THEN $4 ELSE read_at END,
			updated_at = now()
		WHERE notification_id = $1 AND channel = $2 AND (
			(status = 'pending') OR
			(status = 'sent' AND $3 IN ('delivered', 'read', 'failed')) OR
			(status = 'delivered' AND $3 = 'read')
		)
	`, notificationID, string(ch), string(to), at)
	if err != nil {
		return false, apperr.Internal(fmt.Sprintf("advance delivery log failed: %v", err)).WithOp(opAdvance)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
		UPDATE fmc_notifications SET
			delivery_status = jsonb_set(coalesce(delivery_status, '{}'::jsonb), ARRAY[$2], to_jsonb($3::text), true)
		WHERE id = $1
	`, notificationID, string(ch), string(to))
	if err != nil {
		return false, apperr.Internal(fmt.Sprintf("advance notification status failed: %v", err)).WithOp(opAdvance)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, apperr.Internal(fmt.Sprintf("commit advance status: %v", err)).WithOp(opAdvance)
	}
	return true, nil
}

func toChannels(values []string) []notification.Channel {
	out := make([]notification.Channel, 0, len(values))
	for _, v := range values {
		out = append(out, notification.Channel(v))
	}
	return out
}
