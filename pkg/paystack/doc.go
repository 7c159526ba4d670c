// Package paystack is a small client for the parts of the Paystack API the
// billing engine uses: hosted checkout initialisation, refunds, disabling
// recurring subscriptions, and webhook signature verification and decoding.
//
// Every API response is wrapped in {"status", "message", "data"}; a false
// status or a non-2xx code is returned as *APIError, which wraps
// ErrRequestFailed.
package paystack
