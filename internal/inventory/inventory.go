package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kkkkikiki/topup/internal/apperr"
	"github.com/kkkkikiki/topup/internal/metrics"
	"github.com/kkkkikiki/topup/internal/model"
	"github.com/kkkkikiki/topup/internal/repository"
	"github.com/kkkkikiki/topup/internal/validation"
)

var (
	ErrNoInventory         = errors.New("no inventory available")
	ErrInsufficientValue   = errors.New("insufficient total value")
	ErrNoCombination       = errors.New("no suitable combination")
	ErrClaimsLost          = errors.New("every selected code was claimed concurrently")
	ErrCodeNotFound        = errors.New("gift code not found")
	ErrDuplicateCode       = errors.New("gift code already exists")
	ErrInvalidStatusChange = errors.New("invalid gift code status change")
	ErrConcurrentUpdate    = errors.New("gift code was modified concurrently")
)

// Store is the inventory table. CompareAndSetStatus must update the row only
// when it is still in from, and report whether it did.
type Store interface {
	Insert(ctx context.Context, code *model.GiftCode) error
	InsertBatch(ctx context.Context, codes []*model.GiftCode) error
	GetByCode(ctx context.Context, code string) (*model.GiftCode, error)
	GetByID(ctx context.Context, id int64) (*model.GiftCode, error)
	ListAll(ctx context.Context) ([]model.GiftCode, error)
	ListByStatus(ctx context.Context, status model.CodeStatus) ([]model.GiftCode, error)
	CompareAndSetStatus(ctx context.Context, id int64, from, to model.CodeStatus, metadata model.Metadata) (bool, error)
}

// Service owns the gift code inventory and the allocator
type Service struct {
	store Store
	rules *validation.Rules
	now   func() time.Time

	codeSecret []byte
}

// Option configures a Service
type Option func(*Service)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithCodeSecret sets the key material GenerateBatch mixes into every batch
func WithCodeSecret(secret string) Option {
	return func(s *Service) { s.codeSecret = []byte(secret) }
}

// NewService creates a new inventory service
func NewService(store Store, rules *validation.Rules, opts ...Option) *Service {
	s := &Service{store: store, rules: rules, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AllocationResult reports the outcome of one allocation pass
type AllocationResult struct {
	Success         bool             `json:"success"`
	SelectedCodes   []model.GiftCode `json:"selected_codes"`
	TotalAllocated  int64            `json:"total_allocated"`
	RemainingAmount int64            `json:"remaining_amount"`
	Error           string           `json:"error,omitempty"`
}

// Allocate selects and claims AVAILABLE codes covering targetCents.
//
// Codes lost to a concurrent claim are skipped without substitution, so a
// successful result may still leave RemainingAmount above zero. When a claim
// fails at the store the result still lists what was claimed and the error
// is returned alongside it.
func (s *Service) Allocate(ctx context.Context, targetCents int64) (*AllocationResult, error) {
	const op = "inventory.Allocate"

	start := time.Now()
	outcome := "failed"
	defer func() {
		metrics.RecordAllocateDuration(outcome, time.Since(start).Seconds())
	}()

	var fields apperr.FieldList
	s.rules.CheckNonNegativeAmount(&fields, "target_amount_cents", targetCents)
	if err := fields.Err(op); err != nil {
		return nil, err
	}

	result := &AllocationResult{SelectedCodes: []model.GiftCode{}, RemainingAmount: targetCents}
	if targetCents == 0 {
		result.Success = true
		outcome = "full"
		return result, nil
	}

	available, err := s.store.ListByStatus(ctx, model.CodeAvailable)
	if err != nil {
		return s.fail(result, apperr.Persistence(op, err))
	}

	now := s.now()
	candidates := make([]model.GiftCode, 0, len(available))
	for _, c := range available {
		if c.Claimable(now) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return s.fail(result, apperr.Conflict(op, ErrNoInventory))
	}

	if total := sumDenominations(candidates); total < targetCents {
		return s.fail(result, apperr.Conflict(op, fmt.Errorf("%w: have %d, need %d", ErrInsufficientValue, total, targetCents)))
	}

	selected := SelectCombination(candidates, targetCents)
	if len(selected) == 0 {
		return s.fail(result, apperr.Conflict(op, ErrNoCombination))
	}

	var claimErrs []error
	for _, c := range selected {
		ok, err := s.store.CompareAndSetStatus(ctx, c.ID, model.CodeAvailable, model.CodeAllocated, nil)
		if err != nil {
			metrics.RecordClaim("error")
			claimErrs = append(claimErrs, fmt.Errorf("claim code %d: %w", c.ID, err))
			continue
		}
		if !ok {
			metrics.RecordClaim("lost")
			logrus.WithFields(logrus.Fields{
				"code_id":      c.ID,
				"denomination": c.Denomination,
			}).Debug("Allocate: code claimed by another request")
			continue
		}
		metrics.RecordClaim("won")
		c.Status = model.CodeAllocated
		result.SelectedCodes = append(result.SelectedCodes, c)
		result.TotalAllocated += c.Denomination
	}

	result.RemainingAmount = max(0, targetCents-result.TotalAllocated)
	result.Success = len(result.SelectedCodes) > 0

	log := logrus.WithFields(logrus.Fields{
		"target":    targetCents,
		"allocated": result.TotalAllocated,
		"codes":     len(result.SelectedCodes),
		"selected":  len(selected),
	})

	if len(claimErrs) > 0 {
		err := apperr.Persistence(op, errors.Join(claimErrs...))
		if result.Success {
			outcome = "partial"
		}
		result.Error = err.Error()
		log.WithError(err).Error("Allocate: claim failed at store")
		return result, err
	}
	if !result.Success {
		return s.fail(result, apperr.Conflict(op, ErrClaimsLost))
	}

	if result.RemainingAmount > 0 {
		outcome = "partial"
		log.Warn("Allocate: partial allocation after lost claims")
	} else {
		outcome = "full"
		log.Info("Allocate: allocation complete")
	}
	return result, nil
}

func (s *Service) fail(result *AllocationResult, err error) (*AllocationResult, error) {
	result.Success = false
	result.Error = err.Error()
	logrus.WithFields(logrus.Fields{
		"target": result.RemainingAmount,
	}).WithError(err).Warn("Allocate: allocation failed")
	return result, err
}

// AddCode imports a single gift code as AVAILABLE
func (s *Service) AddCode(ctx context.Context, in model.NewCode) (*model.GiftCode, error) {
	const op = "inventory.AddCode"

	var fields apperr.FieldList
	s.checkNewCode(&fields, "", in)
	if err := fields.Err(op); err != nil {
		return nil, err
	}

	code := s.newGiftCode(in)
	if err := s.store.Insert(ctx, code); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict(op, fmt.Errorf("%w: %s", ErrDuplicateCode, in.Code))
		}
		return nil, apperr.Persistence(op, err)
	}

	logrus.WithFields(logrus.Fields{
		"code_id":      code.ID,
		"denomination": code.Denomination,
	}).Info("AddCode: gift code imported")
	return code, nil
}

// ImportCodes imports codes in bulk. Either every code is stored or none is.
func (s *Service) ImportCodes(ctx context.Context, in []model.NewCode) ([]model.GiftCode, error) {
	const op = "inventory.ImportCodes"

	var fields apperr.FieldList
	if len(in) == 0 {
		fields.Add("codes", "must not be empty")
	}
	seen := make(map[string]int, len(in))
	for i, c := range in {
		prefix := fmt.Sprintf("codes[%d].", i)
		s.checkNewCode(&fields, prefix, c)
		if j, ok := seen[c.Code]; ok {
			fields.Add(prefix+"code", "duplicates codes[%d]", j)
		}
		seen[c.Code] = i
	}
	if err := fields.Err(op); err != nil {
		return nil, err
	}

	codes := make([]*model.GiftCode, len(in))
	for i, c := range in {
		codes[i] = s.newGiftCode(c)
	}
	if err := s.store.InsertBatch(ctx, codes); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Conflict(op, fmt.Errorf("%w: %v", ErrDuplicateCode, err))
		}
		return nil, apperr.Persistence(op, err)
	}

	out := make([]model.GiftCode, len(codes))
	var value int64
	for i, c := range codes {
		out[i] = *c
		value += c.Denomination
	}
	logrus.WithFields(logrus.Fields{
		"count": len(out),
		"value": value,
	}).Info("ImportCodes: gift codes imported")
	return out, nil
}

func (s *Service) checkNewCode(fields *apperr.FieldList, prefix string, in model.NewCode) {
	s.rules.CheckCode(fields, prefix+"code", in.Code)
	s.rules.CheckPositiveAmount(fields, prefix+"denomination", in.Denomination)
	if !in.ExpiresAt.After(s.now()) {
		fields.Add(prefix+"expires_at", "must be in the future")
	}
	s.rules.CheckMetadata(fields, prefix+"metadata", in.Metadata)
}

func (s *Service) newGiftCode(in model.NewCode) *model.GiftCode {
	return &model.GiftCode{
		Code:         in.Code,
		Denomination: in.Denomination,
		Status:       model.CodeAvailable,
		CreatedAt:    s.now(),
		ExpiresAt:    in.ExpiresAt,
		Metadata:     in.Metadata.Clone(),
	}
}

// GetByCode looks a code up by its code string
func (s *Service) GetByCode(ctx context.Context, code string) (*model.GiftCode, error) {
	const op = "inventory.GetByCode"

	var fields apperr.FieldList
	s.rules.CheckCode(&fields, "code", code)
	if err := fields.Err(op); err != nil {
		return nil, err
	}

	c, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, lookupErr(op, err)
	}
	return c, nil
}

// GetByID looks a code up by its store id
func (s *Service) GetByID(ctx context.Context, id int64) (*model.GiftCode, error) {
	const op = "inventory.GetByID"

	c, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(op, err)
	}
	return c, nil
}

func lookupErr(op string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(op, ErrCodeNotFound)
	}
	return apperr.Persistence(op, err)
}

// ListAll returns every code in the inventory
func (s *Service) ListAll(ctx context.Context) ([]model.GiftCode, error) {
	codes, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, apperr.Persistence("inventory.ListAll", err)
	}
	return codes, nil
}

// ListByStatus returns every code currently in status
func (s *Service) ListByStatus(ctx context.Context, status model.CodeStatus) ([]model.GiftCode, error) {
	const op = "inventory.ListByStatus"

	if !status.Valid() {
		return nil, apperr.Validation(op, apperr.FieldError{Field: "status", Message: fmt.Sprintf("unknown status %q", status)})
	}
	codes, err := s.store.ListByStatus(ctx, status)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	return codes, nil
}

// UpdateStatus moves a code forward along its status graph
func (s *Service) UpdateStatus(ctx context.Context, id int64, status model.CodeStatus) (*model.GiftCode, error) {
	return s.changeStatus(ctx, "inventory.UpdateStatus", id, status, nil)
}

// Redeem marks an ALLOCATED code as REDEEMED for orderRef
func (s *Service) Redeem(ctx context.Context, id int64, orderRef string) (*model.GiftCode, error) {
	const op = "inventory.Redeem"

	if orderRef == "" {
		return nil, apperr.Validation(op, apperr.FieldError{Field: "order_ref", Message: "must not be empty"})
	}
	return s.changeStatus(ctx, op, id, model.CodeRedeemed, model.Metadata{
		"redeemed_order": orderRef,
		"redeemed_at":    s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Service) changeStatus(ctx context.Context, op string, id int64, to model.CodeStatus, extra model.Metadata) (*model.GiftCode, error) {
	if !to.Valid() {
		return nil, apperr.Validation(op, apperr.FieldError{Field: "status", Message: fmt.Sprintf("unknown status %q", to)})
	}

	code, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, lookupErr(op, err)
	}
	if !code.Status.CanTransitionTo(to) {
		return nil, apperr.Conflict(op, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusChange, code.Status, to))
	}

	var metadata model.Metadata
	if extra != nil {
		metadata = code.Metadata.Merge(extra)
	}
	ok, err := s.store.CompareAndSetStatus(ctx, id, code.Status, to, metadata)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	if !ok {
		return nil, apperr.Conflict(op, ErrConcurrentUpdate)
	}

	logrus.WithFields(logrus.Fields{
		"code_id": id,
		"from":    code.Status,
		"to":      to,
	}).Info("gift code status changed")

	code.Status = to
	if metadata != nil {
		code.Metadata = metadata
	}
	return code, nil
}

// SweepExpiredCodes moves every non-terminal code past its expiry to EXPIRED
func (s *Service) SweepExpiredCodes(ctx context.Context) (int, error) {
	const op = "inventory.SweepExpiredCodes"

	now := s.now()
	swept := 0
	for _, status := range []model.CodeStatus{model.CodeAvailable, model.CodeAllocated} {
		codes, err := s.store.ListByStatus(ctx, status)
		if err != nil {
			return swept, apperr.Persistence(op, err)
		}
		for _, c := range codes {
			if !c.IsExpired(now) {
				continue
			}
			ok, err := s.store.CompareAndSetStatus(ctx, c.ID, status, model.CodeExpired, nil)
			if err != nil {
				return swept, apperr.Persistence(op, err)
			}
			if ok {
				swept++
			}
		}
	}

	metrics.RecordSwept("gift_code", swept)
	if swept > 0 {
		logrus.WithField("count", swept).Info("SweepExpiredCodes: gift codes expired")
	}
	return swept, nil
}
