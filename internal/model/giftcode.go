package model

import (
	"time"
)

// CodeStatus is the lifecycle state of a gift code
type CodeStatus string

const (
	CodeAvailable CodeStatus = "AVAILABLE"
	CodeAllocated CodeStatus = "ALLOCATED"
	CodeRedeemed  CodeStatus = "REDEEMED"
	CodeExpired   CodeStatus = "EXPIRED"
	CodeFailed    CodeStatus = "FAILED"
)

// CodeStatuses lists every code status in lifecycle order
var CodeStatuses = []CodeStatus{CodeAvailable, CodeAllocated, CodeRedeemed, CodeExpired, CodeFailed}

// Valid reports whether s is a known code status
func (s CodeStatus) Valid() bool {
	switch s {
	case CodeAvailable, CodeAllocated, CodeRedeemed, CodeExpired, CodeFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s CodeStatus) IsTerminal() bool {
	switch s {
	case CodeRedeemed, CodeExpired, CodeFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is an allowed successor of s.
// A code never returns to AVAILABLE.
func (s CodeStatus) CanTransitionTo(next CodeStatus) bool {
	switch s {
	case CodeAvailable:
		return next == CodeAllocated || next == CodeExpired || next == CodeFailed
	case CodeAllocated:
		return next == CodeRedeemed || next == CodeExpired || next == CodeFailed
	case CodeRedeemed, CodeExpired, CodeFailed:
		return false
	}
	return false
}

func (s CodeStatus) String() string {
	return string(s)
}

// GiftCode represents a pre-purchased gift code in the inventory table
type GiftCode struct {
	ID           int64      `db:"id" json:"id"`
	Code         string     `db:"code" json:"code"`
	Denomination int64      `db:"denomination" json:"denomination"` // cents
	Status       CodeStatus `db:"status" json:"status"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	ExpiresAt    time.Time  `db:"expires_at" json:"expires_at"`
	Metadata     Metadata   `db:"metadata" json:"metadata,omitempty"`
}

// IsExpired reports whether the code's expiry has passed at now
func (c *GiftCode) IsExpired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Claimable reports whether the allocator may select the code at now
func (c *GiftCode) Claimable(now time.Time) bool {
	return c.Status == CodeAvailable && !c.IsExpired(now)
}

// NewCode is the input for a single inventory import
type NewCode struct {
	Code         string    `json:"code"`
	Denomination int64     `json:"denomination"`
	ExpiresAt    time.Time `json:"expires_at"`
	Metadata     Metadata  `json:"metadata,omitempty"`
}
