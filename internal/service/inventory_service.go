package service

import (
	"context"
	"net/http"

	"connectrpc.com/connect"

	"github.com/kkkkikiki/topup/internal/inventory"
	"github.com/kkkkikiki/topup/internal/model"
)

// InventoryServer implements topup.v1.InventoryService
type InventoryServer struct {
	inventory *inventory.Service
}

// NewInventoryServer creates a new InventoryServer instance
func NewInventoryServer(inv *inventory.Service) *InventoryServer {
	return &InventoryServer{inventory: inv}
}

// NewInventoryServiceHandler builds an HTTP handler for every inventory
// procedure. It returns the path on which to mount the handler.
func NewInventoryServiceHandler(s *InventoryServer, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{withCodec()}, opts...)

	mux := http.NewServeMux()
	mux.Handle(InventoryServiceAddCodeProcedure, connect.NewUnaryHandler(InventoryServiceAddCodeProcedure, s.AddCode, opts...))
	mux.Handle(InventoryServiceImportCodesProcedure, connect.NewUnaryHandler(InventoryServiceImportCodesProcedure, s.ImportCodes, opts...))
	mux.Handle(InventoryServiceGenerateCodesProcedure, connect.NewUnaryHandler(InventoryServiceGenerateCodesProcedure, s.GenerateCodes, opts...))
	mux.Handle(InventoryServiceAllocateProcedure, connect.NewUnaryHandler(InventoryServiceAllocateProcedure, s.Allocate, opts...))
	mux.Handle(InventoryServiceGetCodeProcedure, connect.NewUnaryHandler(InventoryServiceGetCodeProcedure, s.GetCode, opts...))
	mux.Handle(InventoryServiceListCodesProcedure, connect.NewUnaryHandler(InventoryServiceListCodesProcedure, s.ListCodes, opts...))
	mux.Handle(InventoryServiceUpdateCodeStatusProcedure, connect.NewUnaryHandler(InventoryServiceUpdateCodeStatusProcedure, s.UpdateCodeStatus, opts...))
	mux.Handle(InventoryServiceRedeemCodeProcedure, connect.NewUnaryHandler(InventoryServiceRedeemCodeProcedure, s.RedeemCode, opts...))
	mux.Handle(InventoryServiceStatsProcedure, connect.NewUnaryHandler(InventoryServiceStatsProcedure, s.Stats, opts...))
	return "/" + InventoryServiceName + "/", mux
}

// AddCode imports a single gift code
func (s *InventoryServer) AddCode(
	ctx context.Context,
	req *connect.Request[AddCodeRequest],
) (*connect.Response[GiftCodeResponse], error) {
	code, err := s.inventory.AddCode(ctx, req.Msg.NewCode)
	if err != nil {
		return nil, toConnectError(InventoryServiceAddCodeProcedure, err)
	}
	return connect.NewResponse(&GiftCodeResponse{GiftCode: code}), nil
}

// ImportCodes imports a batch of gift codes, all or nothing
func (s *InventoryServer) ImportCodes(
	ctx context.Context,
	req *connect.Request[ImportCodesRequest],
) (*connect.Response[ImportCodesResponse], error) {
	codes, err := s.inventory.ImportCodes(ctx, req.Msg.Codes)
	if err != nil {
		return nil, toConnectError(InventoryServiceImportCodesProcedure, err)
	}
	return connect.NewResponse(importResponse(codes)), nil
}

// GenerateCodes pre-generates a batch of codes and imports them
func (s *InventoryServer) GenerateCodes(
	ctx context.Context,
	req *connect.Request[GenerateCodesRequest],
) (*connect.Response[ImportCodesResponse], error) {
	codes, err := s.inventory.GenerateBatch(ctx, req.Msg.GenerateRequest)
	if err != nil {
		return nil, toConnectError(InventoryServiceGenerateCodesProcedure, err)
	}
	return connect.NewResponse(importResponse(codes)), nil
}

func importResponse(codes []model.GiftCode) *ImportCodesResponse {
	res := &ImportCodesResponse{Imported: len(codes), GiftCodes: codes}
	for _, c := range codes {
		res.TotalValue += c.Denomination
	}
	return res
}

// Allocate claims codes covering the requested amount
func (s *InventoryServer) Allocate(
	ctx context.Context,
	req *connect.Request[AllocateRequest],
) (*connect.Response[AllocateResponse], error) {
	result, err := s.inventory.Allocate(ctx, req.Msg.TargetAmountCents)
	if err != nil {
		cerr := toConnectError(InventoryServiceAllocateProcedure, err)
		if result != nil {
			cerr = withClaimedCodes(cerr, result.SelectedCodes)
		}
		return nil, cerr
	}
	return connect.NewResponse(&AllocateResponse{Result: result}), nil
}

// GetCode looks a gift code up by id or by code
func (s *InventoryServer) GetCode(
	ctx context.Context,
	req *connect.Request[GetCodeRequest],
) (*connect.Response[GiftCodeResponse], error) {
	var (
		code *model.GiftCode
		err  error
	)
	if req.Msg.ID != 0 {
		code, err = s.inventory.GetByID(ctx, req.Msg.ID)
	} else {
		code, err = s.inventory.GetByCode(ctx, req.Msg.Code)
	}
	if err != nil {
		return nil, toConnectError(InventoryServiceGetCodeProcedure, err)
	}
	return connect.NewResponse(&GiftCodeResponse{GiftCode: code}), nil
}

// ListCodes lists the inventory, optionally filtered by status
func (s *InventoryServer) ListCodes(
	ctx context.Context,
	req *connect.Request[ListCodesRequest],
) (*connect.Response[ListCodesResponse], error) {
	var (
		codes []model.GiftCode
		err   error
	)
	if req.Msg.Status == "" {
		codes, err = s.inventory.ListAll(ctx)
	} else {
		codes, err = s.inventory.ListByStatus(ctx, req.Msg.Status)
	}
	if err != nil {
		return nil, toConnectError(InventoryServiceListCodesProcedure, err)
	}
	return connect.NewResponse(&ListCodesResponse{GiftCodes: codes}), nil
}

// UpdateCodeStatus moves a gift code along its status graph
func (s *InventoryServer) UpdateCodeStatus(
	ctx context.Context,
	req *connect.Request[UpdateCodeStatusRequest],
) (*connect.Response[GiftCodeResponse], error) {
	code, err := s.inventory.UpdateStatus(ctx, req.Msg.ID, req.Msg.Status)
	if err != nil {
		return nil, toConnectError(InventoryServiceUpdateCodeStatusProcedure, err)
	}
	return connect.NewResponse(&GiftCodeResponse{GiftCode: code}), nil
}

// RedeemCode marks an allocated code as redeemed for an order
func (s *InventoryServer) RedeemCode(
	ctx context.Context,
	req *connect.Request[RedeemCodeRequest],
) (*connect.Response[GiftCodeResponse], error) {
	code, err := s.inventory.Redeem(ctx, req.Msg.ID, req.Msg.OrderRef)
	if err != nil {
		return nil, toConnectError(InventoryServiceRedeemCodeProcedure, err)
	}
	return connect.NewResponse(&GiftCodeResponse{GiftCode: code}), nil
}

// Stats reports inventory counts and value
func (s *InventoryServer) Stats(
	ctx context.Context,
	_ *connect.Request[StatsRequest],
) (*connect.Response[StatsResponse], error) {
	stats, err := s.inventory.Stats(ctx)
	if err != nil {
		return nil, toConnectError(InventoryServiceStatsProcedure, err)
	}
	return connect.NewResponse(&StatsResponse{Stats: stats}), nil
}
