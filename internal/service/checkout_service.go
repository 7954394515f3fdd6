package service

import (
	"bytes"
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kkkkikiki/topup/internal/apperr"
	"github.com/kkkkikiki/topup/internal/checkout"
	"github.com/kkkkikiki/topup/internal/fulfillment"
	"github.com/kkkkikiki/topup/internal/model"
	"github.com/kkkkikiki/topup/internal/validation"
)

// CheckoutServer implements topup.v1.CheckoutService
type CheckoutServer struct {
	sessions     *checkout.Service
	orchestrator *fulfillment.Orchestrator
	rules        *validation.Rules
}

// NewCheckoutServer creates a new CheckoutServer instance
func NewCheckoutServer(sessions *checkout.Service, orchestrator *fulfillment.Orchestrator, rules *validation.Rules) *CheckoutServer {
	return &CheckoutServer{sessions: sessions, orchestrator: orchestrator, rules: rules}
}

// NewCheckoutServiceHandler builds an HTTP handler for every checkout
// procedure. It returns the path on which to mount the handler.
func NewCheckoutServiceHandler(s *CheckoutServer, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{withCodec()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(CheckoutServiceCreateSessionProcedure, connect.NewUnaryHandler(CheckoutServiceCreateSessionProcedure, s.CreateSession, opts...))
	mux.Handle(CheckoutServiceGetSessionProcedure, connect.NewUnaryHandler(CheckoutServiceGetSessionProcedure, s.GetSession, opts...))
	mux.Handle(CheckoutServiceTransitionSessionProcedure, connect.NewUnaryHandler(CheckoutServiceTransitionSessionProcedure, s.TransitionSession, opts...))
	mux.Handle(CheckoutServiceListSessionsProcedure, connect.NewUnaryHandler(CheckoutServiceListSessionsProcedure, s.ListSessions, opts...))
	mux.Handle(CheckoutServiceSweepExpiredProcedure, connect.NewUnaryHandler(CheckoutServiceSweepExpiredProcedure, s.SweepExpired, opts...))
	mux.Handle(CheckoutServiceStatisticsProcedure, connect.NewUnaryHandler(CheckoutServiceStatisticsProcedure, s.Statistics, opts...))
	mux.Handle(CheckoutServiceConfirmPaymentProcedure, connect.NewUnaryHandler(CheckoutServiceConfirmPaymentProcedure, s.ConfirmPayment, opts...))
	mux.Handle(CheckoutServiceCompleteRedemptionProcedure, connect.NewUnaryHandler(CheckoutServiceCompleteRedemptionProcedure, s.CompleteRedemption, opts...))
	return "/" + CheckoutServiceName + "/", mux
}

// CreateSession opens a checkout session
func (s *CheckoutServer) CreateSession(
	ctx context.Context,
	req *connect.Request[CreateSessionRequest],
) (*connect.Response[SessionResponse], error) {
	session, err := s.sessions.Create(ctx, req.Msg.CreateSessionRequest)
	if err != nil {
		return nil, toConnectError(CheckoutServiceCreateSessionProcedure, err)
	}
	return connect.NewResponse(&SessionResponse{Session: session}), nil
}

// GetSession returns a session by its public id
func (s *CheckoutServer) GetSession(
	ctx context.Context,
	req *connect.Request[GetSessionRequest],
) (*connect.Response[SessionResponse], error) {
	session, err := s.sessions.Get(ctx, req.Msg.SessionID)
	if err != nil {
		return nil, toConnectError(CheckoutServiceGetSessionProcedure, err)
	}
	return connect.NewResponse(&SessionResponse{Session: session}), nil
}

// TransitionSession moves a session to a new status
func (s *CheckoutServer) TransitionSession(
	ctx context.Context,
	req *connect.Request[TransitionSessionRequest],
) (*connect.Response[SessionResponse], error) {
	var metadata model.Metadata
	if raw := bytes.TrimSpace(req.Msg.Metadata); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		var fields apperr.FieldList
		metadata = s.rules.ParseMetadata(&fields, "metadata", string(raw))
		if err := fields.Err("service.TransitionSession"); err != nil {
			return nil, toConnectError(CheckoutServiceTransitionSessionProcedure, err)
		}
	}

	session, err := s.sessions.Transition(ctx, req.Msg.SessionID, req.Msg.Status, metadata)
	if err != nil {
		return nil, toConnectError(CheckoutServiceTransitionSessionProcedure, err)
	}
	return connect.NewResponse(&SessionResponse{Session: session}), nil
}

// ListSessions lists sessions, optionally filtered by status
func (s *CheckoutServer) ListSessions(
	ctx context.Context,
	req *connect.Request[ListSessionsRequest],
) (*connect.Response[ListSessionsResponse], error) {
	var (
		sessions []model.CheckoutSession
		err      error
	)
	if req.Msg.Status == "" {
		sessions, err = s.sessions.ListAll(ctx)
	} else {
		sessions, err = s.sessions.ListByStatus(ctx, req.Msg.Status)
	}
	if err != nil {
		return nil, toConnectError(CheckoutServiceListSessionsProcedure, err)
	}
	return connect.NewResponse(&ListSessionsResponse{Sessions: sessions}), nil
}

// SweepExpired expires every overdue session now instead of waiting for
// the background sweeper
func (s *CheckoutServer) SweepExpired(
	ctx context.Context,
	_ *connect.Request[SweepExpiredRequest],
) (*connect.Response[SweepExpiredResponse], error) {
	n, err := s.sessions.SweepExpired(ctx)
	if err != nil {
		return nil, toConnectError(CheckoutServiceSweepExpiredProcedure, err)
	}
	return connect.NewResponse(&SweepExpiredResponse{Expired: n}), nil
}

// Statistics summarizes sessions
func (s *CheckoutServer) Statistics(
	ctx context.Context,
	_ *connect.Request[StatisticsRequest],
) (*connect.Response[StatisticsResponse], error) {
	stats, err := s.sessions.Statistics(ctx)
	if err != nil {
		return nil, toConnectError(CheckoutServiceStatisticsProcedure, err)
	}
	return connect.NewResponse(&StatisticsResponse{Statistics: stats}), nil
}

// ConfirmPayment records a payment and fulfills the session
func (s *CheckoutServer) ConfirmPayment(
	ctx context.Context,
	req *connect.Request[ConfirmPaymentRequest],
) (*connect.Response[ConfirmPaymentResponse], error) {
	f, err := s.orchestrator.ConfirmPayment(ctx, req.Msg.SessionID, req.Msg.Receipt)
	if err != nil {
		return nil, toConnectError(CheckoutServiceConfirmPaymentProcedure, err)
	}
	return connect.NewResponse(&ConfirmPaymentResponse{Fulfillment: f}), nil
}

// CompleteRedemption redeems the session's codes and completes it
func (s *CheckoutServer) CompleteRedemption(
	ctx context.Context,
	req *connect.Request[CompleteRedemptionRequest],
) (*connect.Response[SessionResponse], error) {
	session, err := s.orchestrator.CompleteRedemption(ctx, req.Msg.SessionID)
	if err != nil {
		return nil, toConnectError(CheckoutServiceCompleteRedemptionProcedure, err)
	}
	return connect.NewResponse(&SessionResponse{Session: session}), nil
}
