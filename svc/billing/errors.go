package billing

import "errors"

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPackageNotFound      = errors.New("package not found")
	ErrPermissionNotFound   = errors.New("permission not found")

	ErrUnauthenticated = errors.New("caller is not authenticated")
	ErrForbidden       = errors.New("caller may not act on this resource")

	ErrUnknownAction       = errors.New("unknown subscription action")
	ErrMissingSubscription = errors.New("subscription id is required for this action")
	ErrPackageUnavailable  = errors.New("package is not available for purchase")
	ErrSamePackage         = errors.New("subscription is already on this package")
	ErrRefundWindowElapsed = errors.New("refund window has elapsed")

	ErrTerminalState      = errors.New("subscription is cancelled or refunded")
	ErrNotActive          = errors.New("subscription is not active")
	ErrConcurrentUpdate   = errors.New("subscription was modified concurrently")
	ErrDuplicateSlug      = errors.New("package slug already exists")
	ErrPermissionInUse    = errors.New("permission is referenced by a package")
	ErrDuplicateReference = errors.New("transaction reference already recorded")

	ErrNoChargeReference = errors.New("subscription has no gateway charge to refund")

	ErrUpstream = errors.New("payment gateway request failed")

	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidEvent     = errors.New("invalid webhook event")
	// ErrEventNotReady marks an event that arrived before the row it refers
	// to. The gateway retries it later.
	ErrEventNotReady = errors.New("webhook event references an unknown subscription")
)

// IsNotFound reports any of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrPackageNotFound) ||
		errors.Is(err, ErrPermissionNotFound)
}
