package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kkkkikiki/topup/internal/apperr"
	"github.com/kkkkikiki/topup/internal/inventory"
	"github.com/kkkkikiki/topup/internal/model"
)

// ErrShortAllocation means the inventory could not cover the whole top-up
var ErrShortAllocation = errors.New("allocation did not cover the top-up amount")

// ErrNotFulfilled means the session has no delivered codes to redeem yet
var ErrNotFulfilled = errors.New("checkout session is not fulfilled")

const allocatedCodesKey = "allocated_code_ids"

// Sessions is the part of the checkout lifecycle the orchestrator drives
type Sessions interface {
	Get(ctx context.Context, sessionID string) (*model.CheckoutSession, error)
	Transition(ctx context.Context, sessionID string, next model.SessionStatus, metadata model.Metadata) (*model.CheckoutSession, error)
	RecordPayment(ctx context.Context, sessionID, txHash string, metadata model.Metadata) (*model.CheckoutSession, error)
}

// Inventory is the part of the inventory service the orchestrator uses
type Inventory interface {
	Allocate(ctx context.Context, targetCents int64) (*inventory.AllocationResult, error)
	GetByID(ctx context.Context, id int64) (*model.GiftCode, error)
	Redeem(ctx context.Context, id int64, orderRef string) (*model.GiftCode, error)
}

// Orchestrator turns a confirmed payment into allocated gift codes
type Orchestrator struct {
	sessions  Sessions
	inventory Inventory
	verifier  PaymentVerifier
	maxRounds int
}

// NewOrchestrator creates an orchestrator that re-invokes the allocator up
// to maxRounds times while a partial allocation keeps making progress
func NewOrchestrator(sessions Sessions, inv Inventory, verifier PaymentVerifier, maxRounds int) *Orchestrator {
	if maxRounds < 1 {
		maxRounds = 1
	}
	return &Orchestrator{sessions: sessions, inventory: inv, verifier: verifier, maxRounds: maxRounds}
}

// Fulfillment is the outcome of a confirmed payment
type Fulfillment struct {
	Session        *model.CheckoutSession `json:"session"`
	Codes          []model.GiftCode       `json:"codes"`
	TotalAllocated int64                  `json:"total_allocated"`
}

// ConfirmPayment verifies receipt for the session, marks it PAID, allocates
// gift codes covering the top-up and marks it FULFILLED. A rejected receipt
// leaves the session untouched; a failed allocation moves it to FAILED. A
// session past its expiry is expired instead, and a transaction already
// bound to another session is refused before anything is allocated.
func (o *Orchestrator) ConfirmPayment(ctx context.Context, sessionID string, receipt PaymentReceipt) (*Fulfillment, error) {
	const op = "fulfillment.ConfirmPayment"

	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}

	if err := o.verifier.Verify(ctx, session, receipt); err != nil {
		logrus.WithFields(logrus.Fields{
			"session_id": sessionID,
			"tx_hash":    receipt.TxHash,
		}).WithError(err).Warn("ConfirmPayment: payment rejected")
		return nil, apperr.Wrap(op, err)
	}

	if session.Status == model.SessionCreated {
		if session, err = o.sessions.Transition(ctx, sessionID, model.SessionPending, nil); err != nil {
			return nil, apperr.Wrap(op, err)
		}
	}

	session, err = o.sessions.RecordPayment(ctx, sessionID, receipt.TxHash, model.Metadata{
		"tx_hash":         receipt.TxHash,
		"chain":           receipt.Chain,
		"paid_amount_raw": receipt.AmountRaw,
	})
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}

	if session, err = o.sessions.Transition(ctx, sessionID, model.SessionProcessing, nil); err != nil {
		return nil, apperr.Wrap(op, err)
	}

	codes, total, allocErr := o.allocate(ctx, session.TopUpAmountCents)
	if allocErr != nil {
		return nil, o.failSession(ctx, op, sessionID, codes, allocErr)
	}

	ids := make([]any, len(codes))
	for i, c := range codes {
		ids[i] = c.ID
	}
	session, err = o.sessions.Transition(ctx, sessionID, model.SessionFulfilled, model.Metadata{
		allocatedCodesKey: ids,
		"allocated_cents": total,
	})
	if err != nil {
		return nil, o.failSession(ctx, op, sessionID, codes, err)
	}

	logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"top_up":     session.TopUpAmountCents,
		"allocated":  total,
		"codes":      len(codes),
	}).Info("ConfirmPayment: session fulfilled")

	return &Fulfillment{Session: session, Codes: codes, TotalAllocated: total}, nil
}

// allocate claims codes for target, re-invoking the allocator for what a
// lost race left uncovered
func (o *Orchestrator) allocate(ctx context.Context, target int64) ([]model.GiftCode, int64, error) {
	codes := []model.GiftCode{}
	var total int64
	remaining := target

	for round := 0; round < o.maxRounds && remaining > 0; round++ {
		res, err := o.inventory.Allocate(ctx, remaining)
		if res != nil {
			codes = append(codes, res.SelectedCodes...)
			total += res.TotalAllocated
			remaining = max(0, target-total)
		}
		if err != nil {
			return codes, total, err
		}
		if res == nil || res.TotalAllocated == 0 {
			break
		}
	}

	if remaining > 0 {
		return codes, total, apperr.Conflict("fulfillment.allocate",
			fmt.Errorf("%w: %d of %d cents uncovered", ErrShortAllocation, remaining, target))
	}
	return codes, total, nil
}

// failSession moves the session to FAILED, recording any codes already
// claimed so they can be reconciled, and joins every error met on the way
func (o *Orchestrator) failSession(ctx context.Context, op, sessionID string, claimed []model.GiftCode, cause error) error {
	ids := make([]any, len(claimed))
	for i, c := range claimed {
		ids[i] = c.ID
	}
	meta := model.Metadata{"failure": cause.Error()}
	if len(ids) > 0 {
		meta[allocatedCodesKey] = ids
	}

	log := logrus.WithFields(logrus.Fields{
		"session_id": sessionID,
		"claimed":    len(claimed),
	}).WithError(cause)

	if _, err := o.sessions.Transition(ctx, sessionID, model.SessionFailed, meta); err != nil {
		log.WithField("fail_error", err.Error()).Error("ConfirmPayment: could not mark session failed")
		return apperr.Wrap(op, errors.Join(cause, err))
	}
	log.Error("ConfirmPayment: fulfillment failed")
	return apperr.Wrap(op, cause)
}

// CompleteRedemption marks every code delivered for the session REDEEMED and
// completes the session. Codes already redeemed for this session are skipped
// so the call can be retried.
func (o *Orchestrator) CompleteRedemption(ctx context.Context, sessionID string) (*model.CheckoutSession, error) {
	const op = "fulfillment.CompleteRedemption"

	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	if session.Status != model.SessionFulfilled {
		return nil, apperr.Conflict(op, fmt.Errorf("%w: status is %s", ErrNotFulfilled, session.Status))
	}

	ids, err := codeIDs(session.Metadata)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}

	var errs []error
	for _, id := range ids {
		code, err := o.inventory.GetByID(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if code.Status == model.CodeRedeemed && code.Metadata["redeemed_order"] == sessionID {
			continue
		}
		if _, err := o.inventory.Redeem(ctx, id, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, apperr.Wrap(op, errors.Join(errs...))
	}

	session, err = o.sessions.Transition(ctx, sessionID, model.SessionCompleted, model.Metadata{"redeemed_codes": len(ids)})
	if err != nil {
		return nil, apperr.Wrap(op, err)
	}
	return session, nil
}

// codeIDs reads the allocated code ids back from session metadata. Values
// decoded from a JSON column arrive as float64.
func codeIDs(meta model.Metadata) ([]int64, error) {
	raw, ok := meta[allocatedCodesKey]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s has unexpected type %T", allocatedCodesKey, raw)
	}

	ids := make([]int64, 0, len(list))
	for _, v := range list {
		switch id := v.(type) {
		case int64:
			ids = append(ids, id)
		case int:
			ids = append(ids, int64(id))
		case float64:
			ids = append(ids, int64(id))
		case json.Number:
			n, err := id.Int64()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", allocatedCodesKey, err)
			}
			ids = append(ids, n)
		default:
			return nil, fmt.Errorf("%s has unexpected element %T", allocatedCodesKey, v)
		}
	}
	return ids, nil
}
