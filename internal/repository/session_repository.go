package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/kkkkikiki/topup/internal/model"
)

const sessionColumns = `id, session_id, user_id, source_url, cart_total_cents, current_balance_cents,
	top_up_amount_cents, status, created_at, updated_at, expires_at, payment_tx_hash, metadata`

// SessionRepository handles checkout session rows in PostgreSQL
type SessionRepository struct {
	db *sqlx.DB
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *sqlx.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Insert stores a new session and sets its row id
func (r *SessionRepository) Insert(ctx context.Context, s *model.CheckoutSession) error {
	query := `
		INSERT INTO checkout_sessions (session_id, user_id, source_url, cart_total_cents, current_balance_cents,
			top_up_amount_cents, status, created_at, updated_at, expires_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`

	err := r.db.GetContext(ctx, &s.ID, query,
		s.SessionID, s.UserID, s.SourceURL, s.CartTotalCents, s.CurrentBalanceCents,
		s.TopUpAmountCents, s.Status, s.CreatedAt, s.UpdatedAt, s.ExpiresAt, s.Metadata)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("session %s: %w", s.SessionID, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Get retrieves a session by its public session id
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*model.CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE session_id = $1`

	var s model.CheckoutSession
	if err := r.db.GetContext(ctx, &s, query, sessionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return &s, nil
}

// ListAll returns every session, oldest first
func (r *SessionRepository) ListAll(ctx context.Context) ([]model.CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM checkout_sessions ORDER BY created_at ASC, id ASC`

	var sessions []model.CheckoutSession
	if err := r.db.SelectContext(ctx, &sessions, query); err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// ListByStatus returns every session in status, oldest first
func (r *SessionRepository) ListByStatus(ctx context.Context, status model.SessionStatus) ([]model.CheckoutSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM checkout_sessions WHERE status = $1 ORDER BY created_at ASC, id ASC`

	var sessions []model.CheckoutSession
	if err := r.db.SelectContext(ctx, &sessions, query, status); err != nil {
		return nil, fmt.Errorf("failed to list sessions by status: %w", err)
	}
	return sessions, nil
}

// ListExpired returns sessions in one of statuses whose expiry is at or before now
func (r *SessionRepository) ListExpired(ctx context.Context, now time.Time, statuses []model.SessionStatus) ([]model.CheckoutSession, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	query := `
		SELECT ` + sessionColumns + `
		FROM checkout_sessions
		WHERE expires_at <= $1 AND status = ANY($2)
		ORDER BY expires_at ASC, id ASC
	`

	var sessions []model.CheckoutSession
	if err := r.db.SelectContext(ctx, &sessions, query, now, pq.Array(names)); err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	return sessions, nil
}

// CompareAndSetStatus moves a session from one status to another only if
// the row is still in from. A nil metadata leaves the stored bag unchanged.
func (r *SessionRepository) CompareAndSetStatus(ctx context.Context, sessionID string, from, to model.SessionStatus, updatedAt time.Time, metadata model.Metadata) (bool, error) {
	query := `
		UPDATE checkout_sessions
		SET status = $1, updated_at = $2, metadata = COALESCE($3::jsonb, metadata)
		WHERE session_id = $4 AND status = $5
	`

	result, err := r.db.ExecContext(ctx, query, to, updatedAt, metadata, sessionID, from)
	if err != nil {
		return false, fmt.Errorf("failed to update session status: %w", err)
	}

	ok, err := affectedOne(result)
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return ok, nil
}

// MarkPaid moves a session from from to PAID and binds txHash to it in the
// same write. A hash already bound to another session violates the unique
// index and is reported as ErrDuplicate.
func (r *SessionRepository) MarkPaid(ctx context.Context, sessionID string, from model.SessionStatus, txHash string, updatedAt time.Time, metadata model.Metadata) (bool, error) {
	query := `
		UPDATE checkout_sessions
		SET status = $1, payment_tx_hash = $2, updated_at = $3, metadata = COALESCE($4::jsonb, metadata)
		WHERE session_id = $5 AND status = $6
	`

	result, err := r.db.ExecContext(ctx, query, model.SessionPaid, txHash, updatedAt, metadata, sessionID, from)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("payment %s: %w", txHash, ErrDuplicate)
		}
		return false, fmt.Errorf("failed to mark session paid: %w", err)
	}

	ok, err := affectedOne(result)
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return ok, nil
}

// Ping checks the database connection
func (r *SessionRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
