package service

import (
	"encoding/json"

	"github.com/kkkkikiki/topup/internal/checkout"
	"github.com/kkkkikiki/topup/internal/fulfillment"
	"github.com/kkkkikiki/topup/internal/inventory"
	"github.com/kkkkikiki/topup/internal/model"
)

type AddCodeRequest struct {
	model.NewCode
}

type GiftCodeResponse struct {
	GiftCode *model.GiftCode `json:"gift_code"`
}

type ImportCodesRequest struct {
	Codes []model.NewCode `json:"codes"`
}

type ImportCodesResponse struct {
	Imported   int              `json:"imported"`
	TotalValue int64            `json:"total_value"`
	GiftCodes  []model.GiftCode `json:"gift_codes"`
}

type GenerateCodesRequest struct {
	inventory.GenerateRequest
}

type AllocateRequest struct {
	TargetAmountCents int64 `json:"target_amount_cents"`
}

type AllocateResponse struct {
	Result *inventory.AllocationResult `json:"result"`
}

// GetCodeRequest looks a code up by id, or by code when id is zero
type GetCodeRequest struct {
	ID   int64  `json:"id,omitempty"`
	Code string `json:"code,omitempty"`
}

// ListCodesRequest lists every code, or only those in Status when set
type ListCodesRequest struct {
	Status model.CodeStatus `json:"status,omitempty"`
}

type ListCodesResponse struct {
	GiftCodes []model.GiftCode `json:"gift_codes"`
}

type UpdateCodeStatusRequest struct {
	ID     int64            `json:"id"`
	Status model.CodeStatus `json:"status"`
}

type RedeemCodeRequest struct {
	ID       int64  `json:"id"`
	OrderRef string `json:"order_ref"`
}

type StatsRequest struct{}

type StatsResponse struct {
	Stats *inventory.Stats `json:"stats"`
}

type CreateSessionRequest struct {
	model.CreateSessionRequest
}

type SessionResponse struct {
	Session *model.CheckoutSession `json:"session"`
}

type GetSessionRequest struct {
	SessionID string `json:"session_id"`
}

// TransitionSessionRequest carries optional metadata as a raw JSON object,
// parsed and bounded before it reaches the session
type TransitionSessionRequest struct {
	SessionID string              `json:"session_id"`
	Status    model.SessionStatus `json:"status"`
	Metadata  json.RawMessage     `json:"metadata,omitempty"`
}

// ListSessionsRequest lists every session, or only those in Status when set
type ListSessionsRequest struct {
	Status model.SessionStatus `json:"status,omitempty"`
}

type ListSessionsResponse struct {
	Sessions []model.CheckoutSession `json:"sessions"`
}

type SweepExpiredRequest struct{}

type SweepExpiredResponse struct {
	Expired int `json:"expired"`
}

type StatisticsRequest struct{}

type StatisticsResponse struct {
	Statistics *checkout.Statistics `json:"statistics"`
}

type ConfirmPaymentRequest struct {
	SessionID string                     `json:"session_id"`
	Receipt   fulfillment.PaymentReceipt `json:"receipt"`
}

type ConfirmPaymentResponse struct {
	Fulfillment *fulfillment.Fulfillment `json:"fulfillment"`
}

type CompleteRedemptionRequest struct {
	SessionID string `json:"session_id"`
}
