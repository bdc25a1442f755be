// Package outbox stages deferred notifications (visit reminders and the
// like) for the scheduler. Rows are claimed with FOR UPDATE SKIP LOCKED so
// multiple scheduler instances never enqueue the same row twice.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"facility_portal_backend/internal/notification"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusEnqueued       Status = "enqueued"
	StatusProcessing     Status = "processing"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	errRepoNotConfigured        = "outbox repository not configured"
)

// Record is one staged notification waiting for its run_at.
type Record struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Title    string
	Message  string
	Type     notification.Type
	Data     map[string]string
	Channels []notification.Channel
	RunAt    time.Time
	Status   Status
	Attempts int
}

type InsertParams struct {
	UserID   uuid.UUID
	Title    string
	Message  string
	Type     notification.Type
	Data     map[string]string
	Channels []notification.Channel
	RunAt    time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, p InsertParams) (uuid.UUID, error) {
	if r == nil || r.pool == nil {
		return uuid.Nil, errors.New(errRepoNotConfigured)
	}
	if p.UserID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("userId is required")
	}
	if p.Title == "" || p.Message == "" {
		return uuid.Nil, fmt.Errorf("title and message are required")
	}
	if p.RunAt.IsZero() {
		p.RunAt = time.Now().UTC()
	}
	kind := p.Type
	if kind == "" {
		kind = notification.TypeInfo
	}
	data := p.Data
	if data == nil {
		data = map[string]string{}
	}

	channels := make([]string, 0, len(p.Channels))
	for _, ch := range p.Channels {
		channels = append(channels, string(ch))
	}

	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`INSERT INTO fmc_notification_outbox (user_id, title, message, type, data, channels, run_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		p.UserID, p.Title, p.Message, string(kind), data, channels, p.RunAt,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Record, error) {
	if r == nil || r.pool == nil {
		return Record{}, errors.New(errRepoNotConfigured)
	}

	var rec Record
	var status string
	var channels []string
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, title, message, type, data, channels, run_at, status, attempts
		 FROM fmc_notification_outbox
		 WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.Message, &rec.Type, &rec.Data, &channels, &rec.RunAt, &status, &rec.Attempts)
	if err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	rec.Channels = toChannels(channels)
	return rec, nil
}

// ClaimPending flips due pending rows to enqueued and returns them. Rows
// locked by a concurrent scheduler instance are skipped.
func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]Record, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}
	if limit < 1 {
		limit = 50
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH cte AS (
		SELECT id
		FROM fmc_notification_outbox
		WHERE status = 'pending' AND run_at <= now()
		ORDER BY run_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE fmc_notification_outbox o
	SET status = 'enqueued', updated_at = now()
	FROM cte
	WHERE o.id = cte.id
	RETURNING o.id, o.user_id, o.title, o.message, o.type, o.data, o.channels, o.run_at, o.status, o.attempts`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var rec Record
		var status string
		var channels []string
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.Message, &rec.Type, &rec.Data, &channels, &rec.RunAt, &status, &rec.Attempts); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		rec.Channels = toChannels(channels)
		results = append(results, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID, lastError *string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE fmc_notification_outbox
		 SET status = 'pending', last_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, lastError,
	)
	return err
}

// Reschedule returns a record to pending with a new run_at, so a failed
// dispatch is retried after a backoff instead of immediately.
func (r *Repository) Reschedule(ctx context.Context, id uuid.UUID, runAt time.Time, lastError string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE fmc_notification_outbox
		 SET status = 'pending', run_at = $2, last_error = $3, updated_at = now()
		 WHERE id = $1`,
		id, runAt, lastError,
	)
	return err
}

func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE fmc_notification_outbox
		 SET status = 'processing', attempts = attempts + 1, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	return err
}

func (r *Repository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE fmc_notification_outbox
		 SET status = 'succeeded', last_error = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE fmc_notification_outbox
		 SET status = 'failed', last_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, lastError,
	)
	return err
}

func toChannels(values []string) []notification.Channel {
	out := make([]notification.Channel, 0, len(values))
	for _, v := range values {
		out = append(out, notification.Channel(v))
	}
	return out
}
