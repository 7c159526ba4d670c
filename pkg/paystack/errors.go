package paystack

import (
	"errors"
	"fmt"
)

var (
	ErrRequestFailed    = errors.New("paystack request failed")
	ErrInvalidSignature = errors.New("invalid paystack signature")
	ErrInvalidPayload   = errors.New("invalid paystack payload")
	ErrMissingSecret    = errors.New("paystack secret key is required")
)

// APIError is a non-2xx answer, or a 2xx answer with status=false.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("paystack api error (status %d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return ErrRequestFailed }

// Temporary reports whether a retry of the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
