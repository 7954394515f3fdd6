package service

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"connectrpc.com/connect"
	"github.com/sirupsen/logrus"

	"github.com/kkkkikiki/topup/internal/apperr"
	"github.com/kkkkikiki/topup/internal/checkout"
	"github.com/kkkkikiki/topup/internal/fulfillment"
	"github.com/kkkkikiki/topup/internal/inventory"
	"github.com/kkkkikiki/topup/internal/model"
)

// shortages are conflicts caused by running out of inventory rather than by
// the caller's view of a record being stale
var shortages = []error{
	inventory.ErrNoInventory,
	inventory.ErrInsufficientValue,
	inventory.ErrNoCombination,
	inventory.ErrClaimsLost,
	fulfillment.ErrShortAllocation,
}

// connectCode maps an error kind onto a connect status code
func connectCode(err error) connect.Code {
	switch {
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	}

	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return connect.CodeInvalidArgument
	case apperr.KindNotFound:
		return connect.CodeNotFound
	case apperr.KindConflict:
		for _, target := range shortages {
			if errors.Is(err, target) {
				return connect.CodeResourceExhausted
			}
		}
		if errors.Is(err, inventory.ErrDuplicateCode) || errors.Is(err, checkout.ErrPaymentReused) {
			return connect.CodeAlreadyExists
		}
		return connect.CodeFailedPrecondition
	default:
		return connect.CodeInternal
	}
}

// toConnectError converts a service error, attaching the violated fields of
// a validation error as response metadata
func toConnectError(procedure string, err error) *connect.Error {
	code := connectCode(err)
	cerr := connect.NewError(code, err)

	if fields := apperr.FieldsOf(err); len(fields) > 0 {
		names := make([]string, len(fields))
		for i, f := range fields {
			names[i] = f.Field
		}
		cerr.Meta().Set("Invalid-Fields", strings.Join(names, ","))
	}

	log := logrus.WithFields(logrus.Fields{
		"procedure": procedure,
		"code":      code.String(),
	}).WithError(err)
	if code == connect.CodeInternal {
		log.Error("request failed")
	} else {
		log.Debug("request rejected")
	}
	return cerr
}

// withClaimedCodes records the ids of codes an allocation claimed before it
// failed, so the caller can reconcile them
func withClaimedCodes(cerr *connect.Error, codes []model.GiftCode) *connect.Error {
	if len(codes) == 0 {
		return cerr
	}
	ids := make([]string, len(codes))
	for i, c := range codes {
		ids[i] = strconv.FormatInt(c.ID, 10)
	}
	cerr.Meta().Set("Claimed-Code-Ids", strings.Join(ids, ","))
	return cerr
}
