package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/kkkkikiki/topup/internal/apperr"
	"github.com/kkkkikiki/topup/internal/checkout"
	"github.com/kkkkikiki/topup/internal/fulfillment"
	"github.com/kkkkikiki/topup/internal/inventory"
	"github.com/kkkkikiki/topup/internal/model"
	"github.com/kkkkikiki/topup/internal/repository"
	"github.com/kkkkikiki/topup/internal/validation"
)

type testEnv struct {
	inventory *InventoryClient
	checkout  *CheckoutClient
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	rules := validation.NewRules("AMZN-", 16, 1000000, []string{"amazon.com"}, 4096)
	inv := inventory.NewService(repository.NewMemoryGiftCodeStore(), rules)
	sessions := checkout.NewService(repository.NewMemorySessionStore(), rules)
	orch := fulfillment.NewOrchestrator(sessions, inv, fulfillment.NewAmountVerifier(6, 100), 3)

	mux := http.NewServeMux()
	mux.Handle(NewInventoryServiceHandler(NewInventoryServer(inv)))
	mux.Handle(NewCheckoutServiceHandler(NewCheckoutServer(sessions, orch, rules)))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testEnv{
		inventory: NewInventoryClient(srv.Client(), srv.URL),
		checkout:  NewCheckoutClient(srv.Client(), srv.URL),
	}
}

func (e *testEnv) addCode(t *testing.T, code string, denomination int64) *model.GiftCode {
	t.Helper()
	res, err := e.inventory.AddCode(context.Background(), connect.NewRequest(&AddCodeRequest{NewCode: model.NewCode{
		Code:         code,
		Denomination: denomination,
		ExpiresAt:    time.Now().Add(24 * time.Hour),
	}}))
	if err != nil {
		t.Fatalf("add code: %v", err)
	}
	return res.Msg.GiftCode
}

func TestInventoryService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i, d := range []int64{500, 1000, 2500} {
		env.addCode(t, fmt.Sprintf("AMZN-TEST%012d", i), d)
	}

	alloc, err := env.inventory.Allocate(ctx, connect.NewRequest(&AllocateRequest{TargetAmountCents: 1311}))
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if got := alloc.Msg.Result; !got.Success || got.TotalAllocated != 1500 || len(got.SelectedCodes) != 2 {
		t.Fatalf("unexpected allocation %+v", got)
	}

	_, err = env.inventory.Allocate(ctx, connect.NewRequest(&AllocateRequest{TargetAmountCents: 5000}))
	if connect.CodeOf(err) != connect.CodeResourceExhausted {
		t.Fatalf("expected resource exhausted, got %v", err)
	}

	listed, err := env.inventory.ListCodes(ctx, connect.NewRequest(&ListCodesRequest{Status: model.CodeAllocated}))
	if err != nil {
		t.Fatalf("list codes: %v", err)
	}
	if len(listed.Msg.GiftCodes) != 2 {
		t.Fatalf("expected 2 allocated codes, got %d", len(listed.Msg.GiftCodes))
	}

	redeemed, err := env.inventory.RedeemCode(ctx, connect.NewRequest(&RedeemCodeRequest{
		ID:       listed.Msg.GiftCodes[0].ID,
		OrderRef: "order-1",
	}))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if redeemed.Msg.GiftCode.Status != model.CodeRedeemed {
		t.Fatalf("expected REDEEMED, got %s", redeemed.Msg.GiftCode.Status)
	}

	got, err := env.inventory.GetCode(ctx, connect.NewRequest(&GetCodeRequest{Code: "AMZN-TEST000000000002"}))
	if err != nil {
		t.Fatalf("get code: %v", err)
	}
	if got.Msg.GiftCode.Denomination != 2500 || got.Msg.GiftCode.Status != model.CodeAvailable {
		t.Fatalf("unexpected code %+v", got.Msg.GiftCode)
	}

	_, err = env.inventory.UpdateCodeStatus(ctx, connect.NewRequest(&UpdateCodeStatusRequest{
		ID:     got.Msg.GiftCode.ID,
		Status: model.CodeRedeemed,
	}))
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Fatalf("AVAILABLE -> REDEEMED must fail precondition, got %v", err)
	}

	stats, err := env.inventory.Stats(ctx, connect.NewRequest(&StatsRequest{}))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s := stats.Msg.Stats; s.TotalCodes != 3 || s.TotalValue != 4000 || s.AvailableValue != 2500 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if stats.Msg.Stats.Denominations[2500] != 1 {
		t.Fatalf("expected one available 2500 code, got %v", stats.Msg.Stats.Denominations)
	}
}

func TestInventoryServiceErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addCode(t, "AMZN-DUPLICATE0000001", 500)

	_, err := env.inventory.AddCode(ctx, connect.NewRequest(&AddCodeRequest{NewCode: model.NewCode{
		Code:         "AMZN-DUPLICATE0000001",
		Denomination: 500,
		ExpiresAt:    time.Now().Add(time.Hour),
	}}))
	if connect.CodeOf(err) != connect.CodeAlreadyExists {
		t.Fatalf("expected already exists, got %v", err)
	}

	_, err = env.inventory.AddCode(ctx, connect.NewRequest(&AddCodeRequest{NewCode: model.NewCode{
		Code:         "bad",
		Denomination: -1,
		ExpiresAt:    time.Now().Add(time.Hour),
	}}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	var cerr *connect.Error
	if !errors.As(err, &cerr) || cerr.Meta().Get("Invalid-Fields") != "code,denomination" {
		t.Fatalf("expected field list in metadata, got %v", err)
	}

	_, err = env.inventory.GetCode(ctx, connect.NewRequest(&GetCodeRequest{ID: 999}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGenerateCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.inventory.GenerateCodes(ctx, connect.NewRequest(&GenerateCodesRequest{
		GenerateRequest: inventory.GenerateRequest{
			Batch:        "perf",
			Count:        20,
			Denomination: 1000,
			ExpiresAt:    time.Now().Add(time.Hour),
		},
	}))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Msg.Imported != 20 || res.Msg.TotalValue != 20000 {
		t.Fatalf("unexpected import %d / %d", res.Msg.Imported, res.Msg.TotalValue)
	}
	for _, c := range res.Msg.GiftCodes {
		if !strings.HasPrefix(c.Code, "AMZN-") || len(c.Code) != len("AMZN-")+16 {
			t.Fatalf("malformed generated code %q", c.Code)
		}
	}
}

func TestCheckoutService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addCode(t, "AMZN-CHECKOUT00000001", 500)
	env.addCode(t, "AMZN-CHECKOUT00000002", 1000)

	created, err := env.checkout.CreateSession(ctx, connect.NewRequest(&CreateSessionRequest{
		CreateSessionRequest: model.CreateSessionRequest{
			AmazonURL:           "https://www.amazon.com/gp/cart/view.html",
			CartTotalCents:      1811,
			CurrentBalanceCents: 500,
		},
	}))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	session := created.Msg.Session
	if session.TopUpAmountCents != 1311 || session.Status != model.SessionCreated {
		t.Fatalf("unexpected session %+v", session)
	}

	_, err = env.checkout.TransitionSession(ctx, connect.NewRequest(&TransitionSessionRequest{
		SessionID: session.SessionID,
		Status:    model.SessionPending,
		Metadata:  json.RawMessage(`[1,2]`),
	}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Fatalf("non-object metadata must be rejected, got %v", err)
	}

	pending, err := env.checkout.TransitionSession(ctx, connect.NewRequest(&TransitionSessionRequest{
		SessionID: session.SessionID,
		Status:    model.SessionPending,
		Metadata:  json.RawMessage(`{"wallet":"0xabc"}`),
	}))
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if pending.Msg.Session.Metadata["wallet"] != "0xabc" {
		t.Fatalf("metadata not stored: %v", pending.Msg.Session.Metadata)
	}

	_, err = env.checkout.TransitionSession(ctx, connect.NewRequest(&TransitionSessionRequest{
		SessionID: session.SessionID,
		Status:    model.SessionCompleted,
	}))
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Fatalf("PENDING -> COMPLETED must fail precondition, got %v", err)
	}

	confirmed, err := env.checkout.ConfirmPayment(ctx, connect.NewRequest(&ConfirmPaymentRequest{
		SessionID: session.SessionID,
		Receipt: fulfillment.PaymentReceipt{
			TxHash:    "0x" + strings.Repeat("0f", 32),
			AmountRaw: "13110000",
		},
	}))
	if err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if f := confirmed.Msg.Fulfillment; f.Session.Status != model.SessionFulfilled || f.TotalAllocated != 1500 {
		t.Fatalf("unexpected fulfillment %+v", f)
	}

	completed, err := env.checkout.CompleteRedemption(ctx, connect.NewRequest(&CompleteRedemptionRequest{SessionID: session.SessionID}))
	if err != nil {
		t.Fatalf("complete redemption: %v", err)
	}
	if completed.Msg.Session.Status != model.SessionCompleted {
		t.Fatalf("expected COMPLETED, got %s", completed.Msg.Session.Status)
	}

	stats, err := env.checkout.Statistics(ctx, connect.NewRequest(&StatisticsRequest{}))
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if stats.Msg.Statistics.ByStatus[model.SessionCompleted] != 1 || stats.Msg.Statistics.AverageTopUpCents.String() != "1311" {
		t.Fatalf("unexpected statistics %+v", stats.Msg.Statistics)
	}

	listed, err := env.checkout.ListSessions(ctx, connect.NewRequest(&ListSessionsRequest{}))
	if err != nil || len(listed.Msg.Sessions) != 1 {
		t.Fatalf("expected one session, got %v %v", listed, err)
	}

	swept, err := env.checkout.SweepExpired(ctx, connect.NewRequest(&SweepExpiredRequest{}))
	if err != nil || swept.Msg.Expired != 0 {
		t.Fatalf("nothing should expire, got %v %v", swept, err)
	}
}

func TestCheckoutServiceErrors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.checkout.GetSession(ctx, connect.NewRequest(&GetSessionRequest{SessionID: "session-123"}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}

	_, err = env.checkout.CreateSession(ctx, connect.NewRequest(&CreateSessionRequest{
		CreateSessionRequest: model.CreateSessionRequest{AmazonURL: "ftp://amazon.com/cart", CartTotalCents: 0},
	}))
	var cerr *connect.Error
	if !errors.As(err, &cerr) || cerr.Code() != connect.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	if cerr.Meta().Get("Invalid-Fields") != "amazon_url,cart_total_cents" {
		t.Fatalf("unexpected field list %q", cerr.Meta().Get("Invalid-Fields"))
	}

	created, err := env.checkout.CreateSession(ctx, connect.NewRequest(&CreateSessionRequest{
		CreateSessionRequest: model.CreateSessionRequest{AmazonURL: "https://amazon.com/cart", CartTotalCents: 1000},
	}))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	_, err = env.checkout.ConfirmPayment(ctx, connect.NewRequest(&ConfirmPaymentRequest{
		SessionID: created.Msg.Session.SessionID,
		Receipt:   fulfillment.PaymentReceipt{TxHash: "0x" + strings.Repeat("aa", 32), AmountRaw: "10000000"},
	}))
	if connect.CodeOf(err) != connect.CodeResourceExhausted {
		t.Fatalf("empty inventory must be resource exhausted, got %v", err)
	}
}

func TestConnectCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want connect.Code
	}{
		{"validation", apperr.Validation("op", apperr.FieldError{Field: "f", Message: "m"}), connect.CodeInvalidArgument},
		{"not found", apperr.NotFound("op", checkout.ErrSessionNotFound), connect.CodeNotFound},
		{"transition", apperr.Conflict("op", checkout.ErrInvalidTransition), connect.CodeFailedPrecondition},
		{"shortage", apperr.Wrap("outer", apperr.Conflict("op", inventory.ErrInsufficientValue)), connect.CodeResourceExhausted},
		{"duplicate", apperr.Conflict("op", inventory.ErrDuplicateCode), connect.CodeAlreadyExists},
		{"reused payment", apperr.Wrap("outer", apperr.Conflict("op", checkout.ErrPaymentReused)), connect.CodeAlreadyExists},
		{"expired session", apperr.Conflict("op", checkout.ErrSessionExpired), connect.CodeFailedPrecondition},
		{"persistence", apperr.Persistence("op", errors.New("connection reset")), connect.CodeInternal},
		{"plain", errors.New("boom"), connect.CodeInternal},
		{"canceled", apperr.Persistence("op", context.Canceled), connect.CodeCanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := connectCode(tt.err); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}
