package billing

import (
	"errors"
	"net/http"

	"github.com/complykit/complykit/handler"
	"github.com/complykit/complykit/pkg/cursor"
	"github.com/complykit/complykit/pkg/identity"
	billingsvc "github.com/complykit/complykit/svc/billing"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{billingsvc.ErrSubscriptionNotFound, http.StatusNotFound, "subscription_not_found"},
	{billingsvc.ErrPackageNotFound, http.StatusNotFound, "package_not_found"},
	{billingsvc.ErrPermissionNotFound, http.StatusNotFound, "permission_not_found"},

	{billingsvc.ErrUnauthenticated, http.StatusUnauthorized, "unauthorized"},
	{billingsvc.ErrInvalidSignature, http.StatusUnauthorized, "invalid_signature"},
	{billingsvc.ErrForbidden, http.StatusForbidden, "forbidden"},

	{billingsvc.ErrUnknownAction, http.StatusBadRequest, "unknown_action"},
	{billingsvc.ErrMissingSubscription, http.StatusBadRequest, "missing_subscription"},
	{billingsvc.ErrPackageUnavailable, http.StatusBadRequest, "package_unavailable"},
	{billingsvc.ErrSamePackage, http.StatusBadRequest, "same_package"},
	{billingsvc.ErrRefundWindowElapsed, http.StatusBadRequest, "refund_window_elapsed"},
	{billingsvc.ErrInvalidEvent, http.StatusBadRequest, "invalid_event"},
	{cursor.ErrInvalidCursor, http.StatusBadRequest, "invalid_cursor"},

	{billingsvc.ErrTerminalState, http.StatusConflict, "terminal_state"},
	{billingsvc.ErrNotActive, http.StatusConflict, "not_active"},
	{billingsvc.ErrConcurrentUpdate, http.StatusConflict, "concurrent_update"},
	{billingsvc.ErrDuplicateSlug, http.StatusConflict, "duplicate_slug"},
	{billingsvc.ErrPermissionInUse, http.StatusConflict, "permission_in_use"},
	{billingsvc.ErrDuplicateReference, http.StatusConflict, "duplicate_reference"},
	{billingsvc.ErrNoChargeReference, http.StatusConflict, "no_charge_reference"},

	{billingsvc.ErrUpstream, http.StatusBadGateway, "upstream_error"},
}

// classify maps billing sentinels to HTTP errors. The message is the
// sentinel's own text so wrapped details, such as gateway responses, stay in
// the logs.
func classify(err error) (handler.HTTPError, bool) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return handler.HTTPError{Status: m.status, Code: m.code, Message: m.target.Error(), Err: err}, true
		}
	}
	if identity.IsAuthError(err) {
		msg := "authentication required"
		if errors.Is(err, identity.ErrExpiredToken) {
			msg = identity.ErrExpiredToken.Error()
		}
		return handler.HTTPError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: msg, Err: err}, true
	}
	return handler.HTTPError{}, false
}
