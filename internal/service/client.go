package service

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// InventoryClient is a client for topup.v1.InventoryService
type InventoryClient struct {
	addCode          *connect.Client[AddCodeRequest, GiftCodeResponse]
	importCodes      *connect.Client[ImportCodesRequest, ImportCodesResponse]
	generateCodes    *connect.Client[GenerateCodesRequest, ImportCodesResponse]
	allocate         *connect.Client[AllocateRequest, AllocateResponse]
	getCode          *connect.Client[GetCodeRequest, GiftCodeResponse]
	listCodes        *connect.Client[ListCodesRequest, ListCodesResponse]
	updateCodeStatus *connect.Client[UpdateCodeStatusRequest, GiftCodeResponse]
	redeemCode       *connect.Client[RedeemCodeRequest, GiftCodeResponse]
	stats            *connect.Client[StatsRequest, StatsResponse]
}

// NewInventoryClient constructs a client for the inventory service at
// baseURL, e.g. http://localhost:8080
func NewInventoryClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *InventoryClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{withCodec()}, opts...)
	return &InventoryClient{
		addCode:          connect.NewClient[AddCodeRequest, GiftCodeResponse](httpClient, baseURL+InventoryServiceAddCodeProcedure, opts...),
		importCodes:      connect.NewClient[ImportCodesRequest, ImportCodesResponse](httpClient, baseURL+InventoryServiceImportCodesProcedure, opts...),
		generateCodes:    connect.NewClient[GenerateCodesRequest, ImportCodesResponse](httpClient, baseURL+InventoryServiceGenerateCodesProcedure, opts...),
		allocate:         connect.NewClient[AllocateRequest, AllocateResponse](httpClient, baseURL+InventoryServiceAllocateProcedure, opts...),
		getCode:          connect.NewClient[GetCodeRequest, GiftCodeResponse](httpClient, baseURL+InventoryServiceGetCodeProcedure, opts...),
		listCodes:        connect.NewClient[ListCodesRequest, ListCodesResponse](httpClient, baseURL+InventoryServiceListCodesProcedure, opts...),
		updateCodeStatus: connect.NewClient[UpdateCodeStatusRequest, GiftCodeResponse](httpClient, baseURL+InventoryServiceUpdateCodeStatusProcedure, opts...),
		redeemCode:       connect.NewClient[RedeemCodeRequest, GiftCodeResponse](httpClient, baseURL+InventoryServiceRedeemCodeProcedure, opts...),
		stats:            connect.NewClient[StatsRequest, StatsResponse](httpClient, baseURL+InventoryServiceStatsProcedure, opts...),
	}
}

func (c *InventoryClient) AddCode(ctx context.Context, req *connect.Request[AddCodeRequest]) (*connect.Response[GiftCodeResponse], error) {
	return c.addCode.CallUnary(ctx, req)
}

func (c *InventoryClient) ImportCodes(ctx context.Context, req *connect.Request[ImportCodesRequest]) (*connect.Response[ImportCodesResponse], error) {
	return c.importCodes.CallUnary(ctx, req)
}

func (c *InventoryClient) GenerateCodes(ctx context.Context, req *connect.Request[GenerateCodesRequest]) (*connect.Response[ImportCodesResponse], error) {
	return c.generateCodes.CallUnary(ctx, req)
}

func (c *InventoryClient) Allocate(ctx context.Context, req *connect.Request[AllocateRequest]) (*connect.Response[AllocateResponse], error) {
	return c.allocate.CallUnary(ctx, req)
}

func (c *InventoryClient) GetCode(ctx context.Context, req *connect.Request[GetCodeRequest]) (*connect.Response[GiftCodeResponse], error) {
	return c.getCode.CallUnary(ctx, req)
}

func (c *InventoryClient) ListCodes(ctx context.Context, req *connect.Request[ListCodesRequest]) (*connect.Response[ListCodesResponse], error) {
	return c.listCodes.CallUnary(ctx, req)
}

func (c *InventoryClient) UpdateCodeStatus(ctx context.Context, req *connect.Request[UpdateCodeStatusRequest]) (*connect.Response[GiftCodeResponse], error) {
	return c.updateCodeStatus.CallUnary(ctx, req)
}

func (c *InventoryClient) RedeemCode(ctx context.Context, req *connect.Request[RedeemCodeRequest]) (*connect.Response[GiftCodeResponse], error) {
	return c.redeemCode.CallUnary(ctx, req)
}

func (c *InventoryClient) Stats(ctx context.Context, req *connect.Request[StatsRequest]) (*connect.Response[StatsResponse], error) {
	return c.stats.CallUnary(ctx, req)
}

// CheckoutClient is a client for topup.v1.CheckoutService
type CheckoutClient struct {
	createSession      *connect.Client[CreateSessionRequest, SessionResponse]
	getSession         *connect.Client[GetSessionRequest, SessionResponse]
	transitionSession  *connect.Client[TransitionSessionRequest, SessionResponse]
	listSessions       *connect.Client[ListSessionsRequest, ListSessionsResponse]
	sweepExpired       *connect.Client[SweepExpiredRequest, SweepExpiredResponse]
	statistics         *connect.Client[StatisticsRequest, StatisticsResponse]
	confirmPayment     *connect.Client[ConfirmPaymentRequest, ConfirmPaymentResponse]
	completeRedemption *connect.Client[CompleteRedemptionRequest, SessionResponse]
}

// NewCheckoutClient constructs a client for the checkout service at baseURL
func NewCheckoutClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *CheckoutClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{withCodec()}, opts...)
	return &CheckoutClient{
		createSession:      connect.NewClient[CreateSessionRequest, SessionResponse](httpClient, baseURL+CheckoutServiceCreateSessionProcedure, opts...),
		getSession:         connect.NewClient[GetSessionRequest, SessionResponse](httpClient, baseURL+CheckoutServiceGetSessionProcedure, opts...),
		transitionSession:  connect.NewClient[TransitionSessionRequest, SessionResponse](httpClient, baseURL+CheckoutServiceTransitionSessionProcedure, opts...),
		listSessions:       connect.NewClient[ListSessionsRequest, ListSessionsResponse](httpClient, baseURL+CheckoutServiceListSessionsProcedure, opts...),
		sweepExpired:       connect.NewClient[SweepExpiredRequest, SweepExpiredResponse](httpClient, baseURL+CheckoutServiceSweepExpiredProcedure, opts...),
		statistics:         connect.NewClient[StatisticsRequest, StatisticsResponse](httpClient, baseURL+CheckoutServiceStatisticsProcedure, opts...),
		confirmPayment:     connect.NewClient[ConfirmPaymentRequest, ConfirmPaymentResponse](httpClient, baseURL+CheckoutServiceConfirmPaymentProcedure, opts...),
		completeRedemption: connect.NewClient[CompleteRedemptionRequest, SessionResponse](httpClient, baseURL+CheckoutServiceCompleteRedemptionProcedure, opts...),
	}
}

func (c *CheckoutClient) CreateSession(ctx context.Context, req *connect.Request[CreateSessionRequest]) (*connect.Response[SessionResponse], error) {
	return c.createSession.CallUnary(ctx, req)
}

func (c *CheckoutClient) GetSession(ctx context.Context, req *connect.Request[GetSessionRequest]) (*connect.Response[SessionResponse], error) {
	return c.getSession.CallUnary(ctx, req)
}

func (c *CheckoutClient) TransitionSession(ctx context.Context, req *connect.Request[TransitionSessionRequest]) (*connect.Response[SessionResponse], error) {
	return c.transitionSession.CallUnary(ctx, req)
}

func (c *CheckoutClient) ListSessions(ctx context.Context, req *connect.Request[ListSessionsRequest]) (*connect.Response[ListSessionsResponse], error) {
	return c.listSessions.CallUnary(ctx, req)
}

func (c *CheckoutClient) SweepExpired(ctx context.Context, req *connect.Request[SweepExpiredRequest]) (*connect.Response[SweepExpiredResponse], error) {
	return c.sweepExpired.CallUnary(ctx, req)
}

func (c *CheckoutClient) Statistics(ctx context.Context, req *connect.Request[StatisticsRequest]) (*connect.Response[StatisticsResponse], error) {
	return c.statistics.CallUnary(ctx, req)
}

func (c *CheckoutClient) ConfirmPayment(ctx context.Context, req *connect.Request[ConfirmPaymentRequest]) (*connect.Response[ConfirmPaymentResponse], error) {
	return c.confirmPayment.CallUnary(ctx, req)
}

func (c *CheckoutClient) CompleteRedemption(ctx context.Context, req *connect.Request[CompleteRedemptionRequest]) (*connect.Response[SessionResponse], error) {
	return c.completeRedemption.CallUnary(ctx, req)
}
