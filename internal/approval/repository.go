// Package approval implements the work-approval workflow: when a technician
// reports a maintenance request completed, the bound tenant receives a
// short-lived six-digit code and confirms the work by submitting it back.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"facility_portal_backend/platform/apperr"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	opGetRequest = "approval.repository.get_request"
	opStoreCode  = "approval.repository.store_code"
	opConsume    = "approval.repository.consume_code"

	errRepoNotConfigured = "approval repository not configured"
)

// Request is a maintenance request as the approval workflow sees it: the
// lifecycle fields plus the challenge columns and the tenant resolved from
// the owning property.
type Request struct {
	ID             uuid.UUID
	PropertyID     uuid.UUID
	TenantID       uuid.UUID
	TechnicianID   *uuid.UUID
	Title          string
	Status         string
	TenantApproved bool
	ApprovedAt     *time.Time
	Code           *string
	CodeIssuedAt   *time.Time
	CodeExpiresAt  *time.Time
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetRequest loads the request with the tenant joined in from the property.
func (r *Repository) GetRequest(ctx context.Context, id uuid.UUID) (Request, error) {
	if r == nil || r.pool == nil {
		return Request{}, apperr.Internal(errRepoNotConfigured).WithOp(opGetRequest)
	}

	var req Request
	err := r.pool.QueryRow(ctx, `
		SELECT mr.id, mr.property_id, p.tenant_id, mr.technician_id, mr.title, mr.status,
		       mr.tenant_approved, mr.approved_at,
		       mr.approval_code, mr.approval_code_issued_at, mr.approval_code_expires_at
		FROM fmc_maintenance_requests mr
		JOIN fmc_properties p ON p.id = mr.property_id
		WHERE mr.id = $1
	`, id).Scan(
		&req.ID, &req.PropertyID, &req.TenantID, &req.TechnicianID, &req.Title, &req.Status,
		&req.TenantApproved, &req.ApprovedAt,
		&req.Code, &req.CodeIssuedAt, &req.CodeExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Request{}, apperr.NotFound("maintenance request not found").WithOp(opGetRequest)
	}
	if err != nil {
		return Request{}, apperr.Internal(fmt.Sprintf("get maintenance request failed: %v", err)).WithOp(opGetRequest)
	}

	return req, nil
}

// StoreCode writes a fresh challenge onto the request, overwriting whatever
// code was there. Issuing a new code always invalidates the previous one.
func (r *Repository) StoreCode(ctx context.Context, requestID uuid.UUID, code string, issuedAt, expiresAt time.Time) error {
	if r == nil || r.pool == nil {
		return apperr.Internal(errRepoNotConfigured).WithOp(opStoreCode)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE fmc_maintenance_requests
		SET approval_code = $2,
		    approval_code_issued_at = $3,
		    approval_code_expires_at = $4,
		    updated_at = now()
		WHERE id = $1 AND tenant_approved = FALSE
	`, requestID, code, issuedAt, expiresAt)
	if err != nil {
		return apperr.Internal(fmt.Sprintf("store approval code failed: %v", err)).WithOp(opStoreCode)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("request is already approved").WithOp(opStoreCode)
	}

	return nil
}

// ConsumeCode is the atomic verify step: one conditional UPDATE that only
// succeeds when the request is unapproved and the stored code matches. Two
// concurrent verifies with the same code can therefore never both succeed.
// Returns false without error when nothing matched; the caller disambiguates
// by re-reading the row.
func (r *Repository) ConsumeCode(ctx context.Context, requestID uuid.UUID, code string) (bool, error) {
	if r == nil || r.pool == nil {
		return false, apperr.Internal(errRepoNotConfigured).WithOp(opConsume)
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE fmc_maintenance_requests
		SET tenant_approved = TRUE,
		    status = 'approved',
		    approved_at = now(),
		    approval_code = NULL,
		    approval_code_issued_at = NULL,
		    approval_code_expires_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND tenant_approved = FALSE AND approval_code = $2
	`, requestID, code)
	if err != nil {
		return false, apperr.Internal(fmt.Sprintf("consume approval code failed: %v", err)).WithOp(opConsume)
	}

	return tag.RowsAffected() == 1, nil
}
