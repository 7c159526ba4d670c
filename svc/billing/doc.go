// Package billing is the subscription and entitlement engine.
//
// It keeps local subscription rows consistent with the payment gateway:
//
//   - Resolver derives feature flags from active subscriptions at read time.
//   - Manager executes the initialize, cancel, refund and change-plan actions.
//   - Reconciler applies verified Paystack webhooks exactly once.
//   - Catalog manages packages and the permissions they grant.
//
// Every write to a subscription row is conditional on the version of the row
// it was decided from (UPDATE ... WHERE id = ? AND version = ?), so a
// concurrent write that leaves the status unchanged still fails the check. A
// write that loses the race re-reads the row and decides again. Cancelled and refunded rows
// are terminal; only an admin override changes them. Expiry is never
// written by the engine: an active row whose end date has passed is treated
// as expired wherever it is read.
//
// Storage is behind the Store interface with Postgres and in-memory
// implementations.
package billing
