package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kkkkikiki/topup/internal/apperr"
	"github.com/kkkkikiki/topup/internal/metrics"
	"github.com/kkkkikiki/topup/internal/model"
	"github.com/kkkkikiki/topup/internal/repository"
	"github.com/kkkkikiki/topup/internal/validation"
)

// DefaultSessionTTL is how long a new session stays open
const DefaultSessionTTL = 15 * time.Minute

var (
	ErrSessionNotFound   = errors.New("checkout session not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConcurrentUpdate  = errors.New("checkout session was modified concurrently")
	ErrSessionExpired    = errors.New("checkout session has expired")
	ErrPaymentReused     = errors.New("payment already applied to another session")
)

// Store is the checkout session table. CompareAndSetStatus must update the
// row only when it is still in from, and report whether it did.
type Store interface {
	Insert(ctx context.Context, s *model.CheckoutSession) error
	Get(ctx context.Context, sessionID string) (*model.CheckoutSession, error)
	ListAll(ctx context.Context) ([]model.CheckoutSession, error)
	ListByStatus(ctx context.Context, status model.SessionStatus) ([]model.CheckoutSession, error)
	ListExpired(ctx context.Context, now time.Time, statuses []model.SessionStatus) ([]model.CheckoutSession, error)
	CompareAndSetStatus(ctx context.Context, sessionID string, from, to model.SessionStatus, updatedAt time.Time, metadata model.Metadata) (bool, error)
	// MarkPaid is CompareAndSetStatus to PAID that also binds txHash to the
	// session. It returns repository.ErrDuplicate when another session
	// already holds txHash.
	MarkPaid(ctx context.Context, sessionID string, from model.SessionStatus, txHash string, updatedAt time.Time, metadata model.Metadata) (bool, error)
}

// Service is the checkout session lifecycle
type Service struct {
	store Store
	rules *validation.Rules
	ttl   time.Duration
	now   func() time.Time
	newID func() string
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSessionTTL overrides the expiry window
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// NewService creates a new checkout lifecycle service
func NewService(store Store, rules *validation.Rules, opts ...Option) *Service {
	s := &Service{
		store: store,
		rules: rules,
		ttl:   DefaultSessionTTL,
		now:   time.Now,
		newID: newSessionID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// newSessionID returns session- followed by 32 lowercase hex characters
func newSessionID() string {
	return validation.SessionIDPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Create validates req and opens a session in CREATED. Every invalid field is
// reported; nothing is written unless all of them pass.
func (s *Service) Create(ctx context.Context, req model.CreateSessionRequest) (*model.CheckoutSession, error) {
	const op = "checkout.Create"

	var fields apperr.FieldList
	s.rules.CheckRetailerURL(&fields, "amazon_url", req.AmazonURL)
	s.rules.CheckPositiveAmount(&fields, "cart_total_cents", req.CartTotalCents)
	s.rules.CheckNonNegativeAmount(&fields, "current_balance_cents", req.CurrentBalanceCents)
	validation.CheckUserID(&fields, "user_id", req.UserID)
	if err := fields.Err(op); err != nil {
		return nil, err
	}

	now := s.now()
	session := &model.CheckoutSession{
		SessionID:           s.newID(),
		UserID:              req.UserID,
		SourceURL:           strings.TrimSpace(req.AmazonURL),
		CartTotalCents:      req.CartTotalCents,
		CurrentBalanceCents: req.CurrentBalanceCents,
		TopUpAmountCents:    TopUpAmount(req.CartTotalCents, req.CurrentBalanceCents),
		Status:              model.SessionCreated,
		CreatedAt:           now,
		UpdatedAt:           now,
		ExpiresAt:           now.Add(s.ttl),
	}

	if err := s.store.Insert(ctx, session); err != nil {
		return nil, apperr.Persistence(op, err)
	}

	metrics.RecordTransition(string(model.SessionCreated))
	logrus.WithFields(logrus.Fields{
		"session_id": session.SessionID,
		"top_up":     session.TopUpAmountCents,
	}).Info("Create: checkout session created")
	return session, nil
}

// TopUpAmount is the part of the cart not already covered by the balance
func TopUpAmount(cartTotalCents, currentBalanceCents int64) int64 {
	return max(0, cartTotalCents-currentBalanceCents)
}

// Get returns the session with sessionID
func (s *Service) Get(ctx context.Context, sessionID string) (*model.CheckoutSession, error) {
	const op = "checkout.Get"

	var fields apperr.FieldList
	validation.CheckSessionID(&fields, "session_id", sessionID)
	if err := fields.Err(op); err != nil {
		return nil, err
	}
	return s.load(ctx, op, sessionID)
}

func (s *Service) load(ctx context.Context, op, sessionID string) (*model.CheckoutSession, error) {
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.NotFound(op, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID))
		}
		return nil, apperr.Persistence(op, err)
	}
	return session, nil
}

// Transition moves the session to next if the graph allows it. metadata, when
// non-nil, is merged into the stored bag in the same write.
func (s *Service) Transition(ctx context.Context, sessionID string, next model.SessionStatus, metadata model.Metadata) (*model.CheckoutSession, error) {
	const op = "checkout.Transition"

	var fields apperr.FieldList
	validation.CheckSessionID(&fields, "session_id", sessionID)
	if !next.Valid() {
		fields.Add("status", "unknown status %q", next)
	}
	s.rules.CheckMetadata(&fields, "metadata", metadata)
	if err := fields.Err(op); err != nil {
		return nil, err
	}

	session, err := s.load(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, op, session, next, metadata)
}

// apply performs the compare-and-swap for a loaded session
func (s *Service) apply(ctx context.Context, op string, session *model.CheckoutSession, next model.SessionStatus, metadata model.Metadata) (*model.CheckoutSession, error) {
	now := s.now()
	if err := s.guard(ctx, op, session, next, now); err != nil {
		return nil, err
	}

	var merged model.Metadata
	if metadata != nil {
		merged = session.Metadata.Merge(metadata)
	}

	ok, err := s.store.CompareAndSetStatus(ctx, session.SessionID, session.Status, next, now, merged)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	if !ok {
		return nil, apperr.Conflict(op, fmt.Errorf("%w: expected %s", ErrConcurrentUpdate, session.Status))
	}
	return s.changed(session, next, now, merged), nil
}

// guard rejects moves the graph forbids. A session still open past its
// expiry is moved to EXPIRED instead of advanced.
func (s *Service) guard(ctx context.Context, op string, session *model.CheckoutSession, next model.SessionStatus, now time.Time) error {
	from := session.Status
	if !from.CanTransitionTo(next) {
		return apperr.Conflict(op, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next))
	}
	if next == model.SessionExpired || next == model.SessionFailed || !from.Expirable() || !session.IsExpired(now) {
		return nil
	}

	ok, err := s.store.CompareAndSetStatus(ctx, session.SessionID, from, model.SessionExpired, now, nil)
	if err != nil {
		logrus.WithField("session_id", session.SessionID).WithError(err).Warn("could not expire overdue session")
	} else if ok {
		s.changed(session, model.SessionExpired, now, nil)
	}
	return apperr.Conflict(op, fmt.Errorf("%w: %s at %s", ErrSessionExpired, session.SessionID, session.ExpiresAt.Format(time.RFC3339)))
}

// changed records a successful move and returns the session as written
func (s *Service) changed(session *model.CheckoutSession, next model.SessionStatus, now time.Time, merged model.Metadata) *model.CheckoutSession {
	metrics.RecordTransition(string(next))
	logrus.WithFields(logrus.Fields{
		"session_id": session.SessionID,
		"from":       session.Status,
		"to":         next,
	}).Info("session status changed")

	updated := *session
	updated.Status = next
	updated.UpdatedAt = now
	if merged != nil {
		updated.Metadata = merged
	}
	return &updated
}

// RecordPayment moves the session to PAID and binds the paying transaction
// to it. Hashes compare case-insensitively; one already bound to another
// session is a Conflict wrapping ErrPaymentReused.
func (s *Service) RecordPayment(ctx context.Context, sessionID, txHash string, metadata model.Metadata) (*model.CheckoutSession, error) {
	const op = "checkout.RecordPayment"

	var fields apperr.FieldList
	validation.CheckSessionID(&fields, "session_id", sessionID)
	validation.CheckTxHash(&fields, "tx_hash", txHash)
	s.rules.CheckMetadata(&fields, "metadata", metadata)
	if err := fields.Err(op); err != nil {
		return nil, err
	}

	session, err := s.load(ctx, op, sessionID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.guard(ctx, op, session, model.SessionPaid, now); err != nil {
		return nil, err
	}

	var merged model.Metadata
	if metadata != nil {
		merged = session.Metadata.Merge(metadata)
	}

	hash := strings.ToLower(txHash)
	ok, err := s.store.MarkPaid(ctx, sessionID, session.Status, hash, now, merged)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict(op, fmt.Errorf("%w: %s", ErrPaymentReused, hash))
		}
		return nil, apperr.Persistence(op, err)
	}
	if !ok {
		return nil, apperr.Conflict(op, fmt.Errorf("%w: expected %s", ErrConcurrentUpdate, session.Status))
	}

	updated := s.changed(session, model.SessionPaid, now, merged)
	updated.PaymentTxHash = &hash
	return updated, nil
}

// ListByStatus returns every session currently in status
func (s *Service) ListByStatus(ctx context.Context, status model.SessionStatus) ([]model.CheckoutSession, error) {
	const op = "checkout.ListByStatus"

	if !status.Valid() {
		return nil, apperr.Validation(op, apperr.FieldError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)})
	}
	sessions, err := s.store.ListByStatus(ctx, status)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	return sessions, nil
}

// ListAll returns every session
func (s *Service) ListAll(ctx context.Context) ([]model.CheckoutSession, error) {
	sessions, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, apperr.Persistence("checkout.ListAll", err)
	}
	return sessions, nil
}

// expirableStatuses are the statuses with an EXPIRED edge
func expirableStatuses() []model.SessionStatus {
	var out []model.SessionStatus
	for _, st := range model.SessionStatuses {
		if st.Expirable() {
			out = append(out, st)
		}
	}
	return out
}

// SweepExpired moves every session past its expiry whose status allows it
// to EXPIRED and returns how many moved. Sessions that change concurrently
// are skipped; finding none is not an error.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	const op = "checkout.SweepExpired"

	now := s.now()
	sessions, err := s.store.ListExpired(ctx, now, expirableStatuses())
	if err != nil {
		return 0, apperr.Persistence(op, err)
	}

	swept := 0
	for _, session := range sessions {
		ok, err := s.store.CompareAndSetStatus(ctx, session.SessionID, session.Status, model.SessionExpired, now, nil)
		if err != nil {
			return swept, apperr.Persistence(op, err)
		}
		if ok {
			swept++
		}
	}

	metrics.RecordSwept("session", swept)
	if swept > 0 {
		metrics.SessionTransitions.WithLabelValues(string(model.SessionExpired)).Add(float64(swept))
		logrus.WithField("count", swept).Info("SweepExpired: checkout sessions expired")
	}
	return swept, nil
}
