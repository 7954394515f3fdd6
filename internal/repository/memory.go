package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kkkkikiki/topup/internal/model"
)

// MemoryGiftCodeStore keeps gift codes in process. Every method is a single
// atomic step, so CompareAndSetStatus has the same semantics as the SQL
// conditional update.
type MemoryGiftCodeStore struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]*model.GiftCode
	byCode map[string]int64
}

// NewMemoryGiftCodeStore creates an empty in-memory gift code store
func NewMemoryGiftCodeStore() *MemoryGiftCodeStore {
	return &MemoryGiftCodeStore{
		byID:   make(map[int64]*model.GiftCode),
		byCode: make(map[string]int64),
	}
}

func (s *MemoryGiftCodeStore) Insert(_ context.Context, code *model.GiftCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byCode[code.Code]; ok {
		return fmt.Errorf("code %s: %w", code.Code, ErrDuplicate)
	}
	s.insertLocked(code)
	return nil
}

func (s *MemoryGiftCodeStore) InsertBatch(_ context.Context, codes []*model.GiftCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if _, ok := s.byCode[c.Code]; ok {
			return fmt.Errorf("code %s: %w", c.Code, ErrDuplicate)
		}
		if _, ok := seen[c.Code]; ok {
			return fmt.Errorf("code %s: %w", c.Code, ErrDuplicate)
		}
		seen[c.Code] = struct{}{}
	}
	for _, c := range codes {
		s.insertLocked(c)
	}
	return nil
}

func (s *MemoryGiftCodeStore) insertLocked(code *model.GiftCode) {
	s.nextID++
	code.ID = s.nextID
	stored := *code
	stored.Metadata = code.Metadata.Clone()
	s.byID[stored.ID] = &stored
	s.byCode[stored.Code] = stored.ID
}

func (s *MemoryGiftCodeStore) GetByCode(_ context.Context, code string) (*model.GiftCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byCode[code]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCode(s.byID[id]), nil
}

func (s *MemoryGiftCodeStore) GetByID(_ context.Context, id int64) (*model.GiftCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCode(c), nil
}

func (s *MemoryGiftCodeStore) ListAll(_ context.Context) ([]model.GiftCode, error) {
	return s.list(func(*model.GiftCode) bool { return true }), nil
}

func (s *MemoryGiftCodeStore) ListByStatus(_ context.Context, status model.CodeStatus) ([]model.GiftCode, error) {
	return s.list(func(c *model.GiftCode) bool { return c.Status == status }), nil
}

func (s *MemoryGiftCodeStore) list(keep func(*model.GiftCode) bool) []model.GiftCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.GiftCode, 0, len(s.byID))
	for _, c := range s.byID {
		if keep(c) {
			out = append(out, *copyCode(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryGiftCodeStore) CompareAndSetStatus(_ context.Context, id int64, from, to model.CodeStatus, metadata model.Metadata) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byID[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	if metadata != nil {
		c.Metadata = metadata.Clone()
	}
	return true, nil
}

func (s *MemoryGiftCodeStore) Ping(context.Context) error {
	return nil
}

func copyCode(c *model.GiftCode) *model.GiftCode {
	out := *c
	out.Metadata = c.Metadata.Clone()
	return &out
}

// MemorySessionStore keeps checkout sessions in process
type MemorySessionStore struct {
	mu       sync.Mutex
	nextID   int64
	sessions map[string]*model.CheckoutSession
}

// NewMemorySessionStore creates an empty in-memory session store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*model.CheckoutSession)}
}

func (s *MemorySessionStore) Insert(_ context.Context, session *model.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[session.SessionID]; ok {
		return fmt.Errorf("session %s: %w", session.SessionID, ErrDuplicate)
	}
	s.nextID++
	session.ID = s.nextID
	s.sessions[session.SessionID] = copySession(session)
	return nil
}

func (s *MemorySessionStore) Get(_ context.Context, sessionID string) (*model.CheckoutSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return copySession(session), nil
}

func (s *MemorySessionStore) ListAll(_ context.Context) ([]model.CheckoutSession, error) {
	return s.list(func(*model.CheckoutSession) bool { return true }), nil
}

func (s *MemorySessionStore) ListByStatus(_ context.Context, status model.SessionStatus) ([]model.CheckoutSession, error) {
	return s.list(func(c *model.CheckoutSession) bool { return c.Status == status }), nil
}

func (s *MemorySessionStore) ListExpired(_ context.Context, now time.Time, statuses []model.SessionStatus) ([]model.CheckoutSession, error) {
	wanted := make(map[model.SessionStatus]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}
	return s.list(func(c *model.CheckoutSession) bool {
		return wanted[c.Status] && c.IsExpired(now)
	}), nil
}

func (s *MemorySessionStore) list(keep func(*model.CheckoutSession) bool) []model.CheckoutSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.CheckoutSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		if keep(session) {
			out = append(out, *copySession(session))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemorySessionStore) CompareAndSetStatus(_ context.Context, sessionID string, from, to model.SessionStatus, updatedAt time.Time, metadata model.Metadata) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || session.Status != from {
		return false, nil
	}
	session.Status = to
	session.UpdatedAt = updatedAt
	if metadata != nil {
		session.Metadata = metadata.Clone()
	}
	return true, nil
}

func (s *MemorySessionStore) MarkPaid(_ context.Context, sessionID string, from model.SessionStatus, txHash string, updatedAt time.Time, metadata model.Metadata) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, other := range s.sessions {
		if id != sessionID && other.PaymentTxHash != nil && *other.PaymentTxHash == txHash {
			return false, fmt.Errorf("payment %s: %w", txHash, ErrDuplicate)
		}
	}
	session, ok := s.sessions[sessionID]
	if !ok || session.Status != from {
		return false, nil
	}
	session.Status = model.SessionPaid
	session.UpdatedAt = updatedAt
	session.PaymentTxHash = &txHash
	if metadata != nil {
		session.Metadata = metadata.Clone()
	}
	return true, nil
}

func (s *MemorySessionStore) Ping(context.Context) error {
	return nil
}

func copySession(session *model.CheckoutSession) *model.CheckoutSession {
	out := *session
	out.Metadata = session.Metadata.Clone()
	if session.UserID != nil {
		uid := *session.UserID
		out.UserID = &uid
	}
	if session.PaymentTxHash != nil {
		hash := *session.PaymentTxHash
		out.PaymentTxHash = &hash
	}
	return &out
}
