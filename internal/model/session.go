package model

import (
	"time"
)

// SessionStatus is the lifecycle state of a checkout session
type SessionStatus string

const (
	SessionCreated    SessionStatus = "CREATED"
	SessionPending    SessionStatus = "PENDING"
	SessionPaid       SessionStatus = "PAID"
	SessionProcessing SessionStatus = "PROCESSING"
	SessionFulfilled  SessionStatus = "FULFILLED"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionExpired    SessionStatus = "EXPIRED"
	SessionFailed     SessionStatus = "FAILED"
)

// SessionStatuses lists every session status in lifecycle order
var SessionStatuses = []SessionStatus{
	SessionCreated,
	SessionPending,
	SessionPaid,
	SessionProcessing,
	SessionFulfilled,
	SessionCompleted,
	SessionExpired,
	SessionFailed,
}

// Valid reports whether s is a known session status
func (s SessionStatus) Valid() bool {
	switch s {
	case SessionCreated, SessionPending, SessionPaid, SessionProcessing,
		SessionFulfilled, SessionCompleted, SessionExpired, SessionFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the session can no longer be mutated
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionExpired, SessionFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is an allowed successor of s
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	switch s {
	case SessionCreated:
		return next == SessionPending || next == SessionExpired || next == SessionFailed
	case SessionPending:
		return next == SessionPaid || next == SessionExpired || next == SessionFailed
	case SessionPaid:
		return next == SessionProcessing || next == SessionFailed
	case SessionProcessing:
		return next == SessionFulfilled || next == SessionFailed
	case SessionFulfilled:
		return next == SessionCompleted || next == SessionFailed
	case SessionCompleted, SessionExpired, SessionFailed:
		return false
	}
	return false
}

// Expirable reports whether the sweep may move s to EXPIRED
func (s SessionStatus) Expirable() bool {
	return s.CanTransitionTo(SessionExpired)
}

func (s SessionStatus) String() string {
	return string(s)
}

// CheckoutSession represents a purchase tracked from creation to completion
type CheckoutSession struct {
	ID                  int64         `db:"id" json:"-"`
	SessionID           string        `db:"session_id" json:"session_id"`
	UserID              *string       `db:"user_id" json:"user_id,omitempty"`
	SourceURL           string        `db:"source_url" json:"source_url"`
	CartTotalCents      int64         `db:"cart_total_cents" json:"cart_total_cents"`
	CurrentBalanceCents int64         `db:"current_balance_cents" json:"current_balance_cents"`
	TopUpAmountCents    int64         `db:"top_up_amount_cents" json:"top_up_amount_cents"`
	Status              SessionStatus `db:"status" json:"status"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time     `db:"updated_at" json:"updated_at"`
	ExpiresAt           time.Time     `db:"expires_at" json:"expires_at"`
	PaymentTxHash       *string       `db:"payment_tx_hash" json:"payment_tx_hash,omitempty"`
	Metadata            Metadata      `db:"metadata" json:"metadata,omitempty"`
}

// IsExpired reports whether the session's expiry has passed at now
func (s *CheckoutSession) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// CreateSessionRequest is the input for opening a checkout session
type CreateSessionRequest struct {
	AmazonURL           string  `json:"amazon_url"`
	CartTotalCents      int64   `json:"cart_total_cents"`
	CurrentBalanceCents int64   `json:"current_balance_cents"`
	UserID              *string `json:"user_id,omitempty"`
}
