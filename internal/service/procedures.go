package service

const (
	// InventoryServiceName is the fully-qualified name of the InventoryService
	InventoryServiceName = "topup.v1.InventoryService"
	// CheckoutServiceName is the fully-qualified name of the CheckoutService
	CheckoutServiceName = "topup.v1.CheckoutService"
)

// Procedure paths, in the form /package.Service/Method
const (
	InventoryServiceAddCodeProcedure          = "/topup.v1.InventoryService/AddCode"
	InventoryServiceImportCodesProcedure      = "/topup.v1.InventoryService/ImportCodes"
	InventoryServiceGenerateCodesProcedure    = "/topup.v1.InventoryService/GenerateCodes"
	InventoryServiceAllocateProcedure         = "/topup.v1.InventoryService/Allocate"
	InventoryServiceGetCodeProcedure          = "/topup.v1.InventoryService/GetCode"
	InventoryServiceListCodesProcedure        = "/topup.v1.InventoryService/ListCodes"
	InventoryServiceUpdateCodeStatusProcedure = "/topup.v1.InventoryService/UpdateCodeStatus"
	InventoryServiceRedeemCodeProcedure       = "/topup.v1.InventoryService/RedeemCode"
	InventoryServiceStatsProcedure            = "/topup.v1.InventoryService/Stats"

	CheckoutServiceCreateSessionProcedure      = "/topup.v1.CheckoutService/CreateSession"
	CheckoutServiceGetSessionProcedure         = "/topup.v1.CheckoutService/GetSession"
	CheckoutServiceTransitionSessionProcedure  = "/topup.v1.CheckoutService/TransitionSession"
	CheckoutServiceListSessionsProcedure       = "/topup.v1.CheckoutService/ListSessions"
	CheckoutServiceSweepExpiredProcedure       = "/topup.v1.CheckoutService/SweepExpired"
	CheckoutServiceStatisticsProcedure         = "/topup.v1.CheckoutService/Statistics"
	CheckoutServiceConfirmPaymentProcedure     = "/topup.v1.CheckoutService/ConfirmPayment"
	CheckoutServiceCompleteRedemptionProcedure = "/topup.v1.CheckoutService/CompleteRedemption"
)
