package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/kkkkikiki/topup/internal/apperr"
	"github.com/kkkkikiki/topup/internal/model"
	"github.com/kkkkikiki/topup/internal/validation"
)

// ErrUnderpaid means the transfer does not cover the session's top-up
var ErrUnderpaid = errors.New("payment does not cover the top-up amount")

// PaymentReceipt describes a stablecoin transfer reported for a session
type PaymentReceipt struct {
	TxHash    string `json:"tx_hash"`
	Chain     string `json:"chain,omitempty"`
	AmountRaw string `json:"amount_raw"` // token base units
}

// PaymentVerifier decides whether a receipt pays for a session
type PaymentVerifier interface {
	Verify(ctx context.Context, session *model.CheckoutSession, receipt PaymentReceipt) error
}

// AmountVerifier checks the receipt is well formed and that the transferred
// amount, converted to cents, covers the top-up. It trusts the receipt; chain
// lookups belong to whoever produces it.
type AmountVerifier struct {
	decimals      int32
	centsPerToken decimal.Decimal
}

// NewAmountVerifier creates a verifier for a token with the given decimals
// worth centsPerToken cents per whole token
func NewAmountVerifier(decimals int32, centsPerToken int64) *AmountVerifier {
	return &AmountVerifier{decimals: decimals, centsPerToken: decimal.NewFromInt(centsPerToken)}
}

// Cents converts a raw token amount to cents, truncating fractions of a cent
func (v *AmountVerifier) Cents(amountRaw string) (int64, error) {
	raw, err := decimal.NewFromString(amountRaw)
	if err != nil {
		return 0, fmt.Errorf("amount_raw %q is not a number", amountRaw)
	}
	if raw.IsNegative() || !raw.Equal(raw.Truncate(0)) {
		return 0, fmt.Errorf("amount_raw %q must be a non-negative integer", amountRaw)
	}
	return raw.Shift(-v.decimals).Mul(v.centsPerToken).Truncate(0).IntPart(), nil
}

func (v *AmountVerifier) Verify(_ context.Context, session *model.CheckoutSession, receipt PaymentReceipt) error {
	const op = "fulfillment.Verify"

	var fields apperr.FieldList
	validation.CheckTxHash(&fields, "tx_hash", receipt.TxHash)
	cents, err := v.Cents(receipt.AmountRaw)
	if err != nil {
		fields.Add("amount_raw", "%v", err)
	}
	if err := fields.Err(op); err != nil {
		return err
	}

	if cents < session.TopUpAmountCents {
		return apperr.Conflict(op, fmt.Errorf("%w: paid %d, need %d", ErrUnderpaid, cents, session.TopUpAmountCents))
	}
	return nil
}
