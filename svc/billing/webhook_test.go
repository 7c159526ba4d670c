package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complykit/complykit/pkg/cursor"
	"github.com/complykit/complykit/pkg/paystack"
	"github.com/complykit/complykit/svc/billing"
)

func chargeData(reference string, pkg billing.Package, paidAt time.Time, metadata map[string]string) map[string]any {
	return map[string]any{
		"id":        412094,
		"reference": reference,
		"status":    "success",
		"amount":    pkg.Price,
		"currency":  pkg.Currency,
		"paid_at":   paidAt.Format(time.RFC3339),
		"customer":  map[string]any{"customer_code": "CUS_alice", "email": alice.Email},
		"plan":      map[string]any{"plan_code": pkg.PlanCode, "interval": string(pkg.Type)},
		"metadata":  metadata,
	}
}

func firstCharge(reference string, pkg billing.Package, paidAt time.Time) map[string]any {
	return chargeData(reference, pkg, paidAt, map[string]string{
		billing.MetaProfileID: alice.ProfileID,
		billing.MetaPackageID: pkg.ID.String(),
		billing.MetaAction:    "initialize",
	})
}

func allSubscriptions(t *testing.T, f *fixture) []billing.Subscription {
	t.Helper()
	rows, err := f.store.ListSubscriptions(context.Background(), billing.SubscriptionFilter{}, cursor.Query{Limit: 100, Order: cursor.Asc})
	require.NoError(t, err)
	return rows
}

func TestReconciler_RejectsBadSignature(t *testing.T) {
	t.Parallel()

	f := newFixture(t, date(2024, 1, 1))
	pkg := f.seedPackage(t, "basic", billing.PackageMonthly, billing.Flags{Firearm: true})
	body, _ := webhook(t, paystack.EventChargeSuccess, firstCharge("ref_1", pkg, date(2024, 1, 1)))

	for _, sig := range []string{"", "deadbeef", "not-hex", paystack.Sign("other-secret", body)} {
		err := f.reconciler.Handle(context.Background(), body, sig)
		require.ErrorIs(t, err, billing.ErrInvalidSignature)
	}
	assert.Empty(t, allSubscriptions(t, f))
}

func TestReconciler_FirstChargeIsIdempotent(t *testing.T) {
	t.Parallel()

	paidAt := date(2024, 1, 1).Add(9 * time.Hour)
	f := newFixture(t, paidAt)
	ctx := context.Background()
	pkg := f.seedPackage(t, "basic", billing.PackageMonthly, billing.Flags{Firearm: true})
	body, sig := webhook(t, paystack.EventChargeSuccess, firstCharge("ref_first", pkg, paidAt))

	require.NoError(t, f.reconciler.Handle(ctx, body, sig))
	require.NoError(t, f.reconciler.Handle(ctx, body, sig))

	rows := allSubscriptions(t, f)
	require.Len(t, rows, 1)
	sub := rows[0]
	assert.Equal(t, alice.ProfileID, sub.ProfileID)
	assert.Equal(t, pkg.ID, sub.PackageID)
	assert.Equal(t, billing.StatusActive, sub.Status)
	assert.Equal(t, paidAt, sub.StartDate)
	assert.Equal(t, paidAt.AddDate(0, 1, 0), sub.EndDate)
	assert.Equal(t, "ref_first", sub.TransactionReference)
	assert.Equal(t, "CUS_alice", sub.CustomerCode)

	assert.Equal(t, []string{billing.EventActivated}, f.publisher.Types(), "one transition, one event")
	assert.True(t, f.resolver.HasPermission(ctx, alice, billing.FlagFirearm))
}

func TestReconciler_RenewalExtendsOnce(t *testing.T) {
	t.Parallel()

	start := date(2024, 1, 1)
	f := newFixture(t, start)
	ctx := context.Background()
	pkg := f.seedPackage(t, "basic", billing.PackageMonthly, billing.Flags{Firearm: true})

	body, sig := webhook(t, paystack.EventChargeSuccess, firstCharge("ref_first", pkg, start))
	require.NoError(t, f.reconciler.Handle(ctx, body, sig))

	renewedAt := date(2024, 2, 1)
	f.clock.Set(renewedAt)
	renewal := chargeData("ref_renewal", pkg, renewedAt, nil)
	body, sig = webhook(t, paystack.EventChargeSuccess, renewal)
	require.NoError(t, f.reconciler.Handle(ctx, body, sig))
	require.NoError(t, f.reconciler.Handle(ctx, body, sig))

	rows := allSubscriptions(t, f)
	require.Len(t, rows, 1)
	assert.Equal(t, date(2024, 3, 1), rows[0].EndDate, "a replayed renewal must not add a second period")
	assert.Equal(t, start, rows[0].StartDate)
	assert.Equal(t, []string{billing.EventActivated, billing.EventRenewed}, f.publisher.Types())
}

func TestReconciler_RenewalDoesNotReviveCancelled(t *testing.T) {
	t.Parallel()

	start := date(2024, 1, 1)
	f := newFixture(t, start)
	ctx := context.Background()
	pkg := f.seedPackage(t, "basic", billing.PackageMonthly, billing.Flags{Firearm: true})

	body, sig := webhook(t, paystack.EventChargeSuccess, firstCharge("ref_first", pkg, start))
	require.NoError(t, f.reconciler.Handle(ctx, body, sig))
	sub := allSubscriptions(t, f)[0]

	_, err := f.manager.Cancel(ctx, alice, sub.ID)
	require.NoError(t, err)

	f.clock.Set(date(2024, 2, 1))
	body, sig = webhook(t, paystack.EventChargeSuccess, chargeData("ref_renewal", pkg, date(2024, 2, 1), nil))
	require.NoError(t, f.reconciler.Handle(ctx, body, sig), "the event is acknowledged")

	after := f.reload(t, sub.ID)
	assert.Equal(t, billing.StatusCancelled, after.Status)
	assert.Equal(t, date(2024, 2, 1), after.EndDate)
}

func TestReconciler_PlanChangeCompletes(t *testing.T) {
	t.Parallel()

	start := date(2024, 1, 1)
	f := newFixture(t, start)
	ctx := context.Background()
	basic := f.seedPackage(t, "basic", billing.PackageMonthly, billing.Flags{Firearm: true})
	pro := f.seedPackage(t, "pro", billing.PackageYearly, billing.Flags{Firearm: true, Vehicle: true})
	sub := f.seedSubscription(t, alice, basic, billing.StatusActive, start, start.AddDate(0, 1, 0))

	paidAt := date(2024, 1, 10)
	f.clock.Set(paidAt)
	body, sig := webhook(t, paystack.EventChargeSuccess, chargeData("ref_change", pro, paidAt, map[string]string{
		billing.MetaProfileID:      alice.ProfileID,
		billing.MetaPackageID:      pro.ID.String(),
		billing.MetaSubscriptionID: sub.ID.String(),
		billing.MetaAction:         "change-plan",
	}))
	require.NoError(t, f.reconciler.Handle(ctx, body, sig))
	require.NoError(t, f.reconciler.Handle(ctx, body, sig))

	require.Len(t, allSubscriptions(t, f), 1)
	after := f.reload(t, sub.ID)
	assert.Equal(t, pro.ID, after.PackageID)
	assert.Equal(t, paidAt, after.StartDate)
	assert.Equal(t, paidAt.AddDate(1, 0, 0), after.EndDate)
	assert.Equal(t, "ref_change", after.TransactionReference)
	assert.Equal(t, []string{billing.EventPlanChanged}, f.publisher.Types())
	assert.True(t, f.resolver.HasPermission(ctx, alice, billing.FlagVehicle))
}

func TestReconciler_SubscriptionCreateBeforeChargeIsRetried(t *testing.T) {
	t.Parallel()

	start := date(2024, 1, 1)
	f := newFixture(t, start)
	ctx := context.Background()
	pkg := f.seedPackage(t, "basic", billing.PackageMonthly, billing.Flags{Firearm: true})

	next := date(2024, 2, 1)
	created, createSig := webhook(t, paystack.EventSubscriptionCreate, map[string]any{
		"subscription_code": "SUB_abc",
		"email_token":       "tok_abc",
		"status":            "active",
		"next_payment_date": next.Format(time.RFC3339),
		"customer":          map[string]any{"customer_code": "CUS_alice"},
		"plan":              map[string]any{"plan_code": pkg.PlanCode},
	})

	err := f.reconciler.Handle(ctx, created, createSig)
	require.ErrorIs(t, err, billing.ErrEventNotReady)

	charge, chargeSig := webhook(t, paystack.EventChargeSuccess, firstCharge("ref_first", pkg, start))
	require.NoError(t, f.reconciler.Handle(ctx, charge, chargeSig))

	// the gateway retries; the failed attempt left no marker behind
	require.NoError(t, f.reconciler.Handle(ctx, created, createSig))

	rows := allSubscriptions(t, f)
	require.Len(t, rows, 1)
	assert.Equal(t, "SUB_abc", rows[0].SubscriptionCode)
	assert.Equal(t, "tok_abc", rows[0].EmailToken)
	require.NotNil(t, rows[0].CurrentPeriodEnd)
	assert.Equal(t, next, *rows[0].CurrentPeriodEnd)
}

func TestReconciler_SubscriptionDisable(t *testing.T) {
	t.Parallel()

	start := date(2024, 1, 1)
	f := newFixture(t, start)
	ctx := context.Background()
	pkg := f.seedPackage(t, "basic", billing.PackageMonthly, billing.Flags{Firearm: true})
	sub := f.seedSubscription(t, alice, pkg, billing.StatusActive, start, start.AddDate(0, 1, 0))
	sub.SubscriptionCode = "SUB_abc"
	ok, err := f.store.UpdateSubscription(ctx, sub)
	require.NoError(t, err)
	require.True(t, ok)

	body, sig := webhook(t, paystack.EventSubscriptionDisable, map[string]any{
		"subscription_code": "SUB_abc",
		"status":            "complete",
	})
	require.NoError(t, f.reconciler.Handle(ctx, body, sig))
	require.NoError(t, f.reconciler.Handle(ctx, body, sig))

	assert.Equal(t, billing.StatusCancelled, f.reload(t, sub.ID).Status)
	assert.Equal(t, []string{billing.EventCancelled}, f.publisher.Types())
}

func TestReconciler_RefundProcessed(t *testing.T) {
	t.Parallel()

	start := date(2024, 1, 1)
	f := newFixture(t, start)
	ctx := context.Background()
	pkg := f.seedPackage(t, "basic", billing.PackageMonthly, billing.Flags{Firearm: true})
	sub := f.seedSubscription(t, alice, pkg, billing.StatusActive, start, start.AddDate(0, 1, 0))

	body, sig := webhook(t, paystack.EventRefundProcessed, map[string]any{
		"id":                    9001,
		"status":                "processed",
		"transaction_reference": sub.TransactionReference,
		"amount":                pkg.Price,
	})
	require.NoError(t, f.reconciler.Handle(ctx, body, sig))

	after := f.reload(t, sub.ID)
	assert.Equal(t, billing.StatusRefunded, after.Status)
	require.NotNil(t, after.RefundedAt)
}

func TestReconciler_AcknowledgesUnhandledEvents(t *testing.T) {
	t.Parallel()

	f := newFixture(t, date(2024, 1, 1))
	ctx := context.Background()

	for _, event := range []string{paystack.EventSubscriptionNotRenew, "invoice.create", "transfer.success"} {
		body, sig := webhook(t, event, map[string]any{"subscription_code": "SUB_x"})
		require.NoError(t, f.reconciler.Handle(ctx, body, sig), event)
	}
	assert.Empty(t, f.publisher.Types())
}

func TestReconciler_RejectsMalformedSignedBody(t *testing.T) {
	t.Parallel()

	f := newFixture(t, date(2024, 1, 1))
	body := []byte(`{"event":`)
	err := f.reconciler.Handle(context.Background(), body, paystack.Sign(testSecret, body))
	require.ErrorIs(t, err, billing.ErrInvalidEvent)
}

func TestNewReconciler_PanicsWithoutSecret(t *testing.T) {
	t.Parallel()

	store := billing.NewMemoryStore()
	assert.Panics(t, func() {
		billing.NewReconciler(store, billing.NewResolver(store, nil, 0), "")
	})
}
