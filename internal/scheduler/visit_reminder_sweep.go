package scheduler

import (
	"context"
	"time"

	"facility_portal_backend/internal/events"
	"facility_portal_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultSweepInterval = 5 * time.Minute

	// stageHorizon is how far ahead the sweep looks for planned visits.
	// reminderLead is how long before the visit the reminder should land.
	// The horizon exceeds the lead so rows are staged well before run_at.
	stageHorizon = 48 * time.Hour
	reminderLead = 24 * time.Hour
)

// VisitReminderSweep periodically scans for maintenance visits that need a
// reminder staged. Each hit is published as VisitReminderDue and stamped, so
// a visit is staged exactly once across sweep instances.
type VisitReminderSweep struct {
	pool     *pgxpool.Pool
	bus      events.Bus
	log      *logger.Logger
	interval time.Duration
}

func NewVisitReminderSweep(pool *pgxpool.Pool, bus events.Bus, log *logger.Logger, interval time.Duration) *VisitReminderSweep {
	if interval <= 0 {
		interval = defaultSweepInterval
	}

	return &VisitReminderSweep{
		pool:     pool,
		bus:      bus,
		log:      log,
		interval: interval,
	}
}

func (s *VisitReminderSweep) Run(ctx context.Context) {
	if s == nil || s.pool == nil || s.bus == nil {
		return
	}

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

type visitCandidate struct {
	RequestID uuid.UUID
	TenantID  uuid.UUID
	Title     string
	VisitAt   time.Time
}

func (s *VisitReminderSweep) sweep(ctx context.Context) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		s.log.Warn("visit reminder sweep begin failed", "error", err)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT mr.id, p.tenant_id, mr.title, mr.scheduled_visit_at
		FROM fmc_maintenance_requests mr
		JOIN fmc_properties p ON p.id = mr.property_id
		WHERE mr.scheduled_visit_at IS NOT NULL
		  AND mr.visit_reminder_staged_at IS NULL
		  AND mr.status IN ('assigned', 'in_progress')
		  AND mr.scheduled_visit_at > now()
		  AND mr.scheduled_visit_at <= now() + $1::interval
		ORDER BY mr.scheduled_visit_at ASC
		LIMIT 100
		FOR UPDATE OF mr SKIP LOCKED
	`, stageHorizon)
	if err != nil {
		s.log.Warn("visit reminder sweep query failed", "error", err)
		return
	}

	var candidates []visitCandidate
	for rows.Next() {
		var c visitCandidate
		if err := rows.Scan(&c.RequestID, &c.TenantID, &c.Title, &c.VisitAt); err != nil {
			rows.Close()
			s.log.Warn("visit reminder sweep scan failed", "error", err)
			return
		}
		candidates = append(candidates, c)
	}
	rows.Close()
	if rows.Err() != nil {
		s.log.Warn("visit reminder sweep query failed", "error", rows.Err())
		return
	}

	staged := 0
	for _, c := range candidates {
		remindAt := c.VisitAt.Add(-reminderLead)
		if now := time.Now().UTC(); remindAt.Before(now) {
			remindAt = now
		}

		err := s.bus.PublishSync(ctx, events.VisitReminderDue{
			BaseEvent: events.NewBaseEvent(),
			RequestID: c.RequestID,
			TenantID:  c.TenantID,
			Title:     c.Title,
			VisitAt:   c.VisitAt,
			RemindAt:  remindAt,
		})
		if err != nil {
			// Leave the stamp unset; the next sweep retries this visit.
			s.log.Warn("visit reminder staging failed",
				"request_id", c.RequestID.String(), "error", err)
			continue
		}

		if _, err := tx.Exec(ctx, `
			UPDATE fmc_maintenance_requests
			SET visit_reminder_staged_at = now(), updated_at = now()
			WHERE id = $1
		`, c.RequestID); err != nil {
			s.log.Warn("visit reminder stamp failed",
				"request_id", c.RequestID.String(), "error", err)
			continue
		}
		staged++
	}

	if err := tx.Commit(ctx); err != nil {
		s.log.Warn("visit reminder sweep commit failed", "error", err)
		return
	}

	if staged > 0 {
		s.log.Info("visit reminders staged", "count", staged)
	}
}
