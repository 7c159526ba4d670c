package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/complykit/complykit/pkg/cursor"
	"github.com/complykit/complykit/pkg/identity"
	"github.com/complykit/complykit/pkg/logger"
	"github.com/complykit/complykit/pkg/validator"
)

// Result is what Dispatch returns: a checkout for initialize and
// change-plan, the updated subscription for cancel and refund.
type Result struct {
	Action       ActionKind    `json:"action"`
	Checkout     *Checkout     `json:"checkout,omitempty"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

// Manager executes user and admin lifecycle actions. Every subscription
// write is a conditional update on the status it was decided from; money
// moving gateway calls finish before local state is committed.
type Manager struct {
	store    Store
	gateway  Gateway
	resolver *Resolver
	cfg      Config
	opts     options
}

// NewManager panics on missing dependencies so misconfiguration fails at
// startup.
func NewManager(store Store, gateway Gateway, resolver *Resolver, cfg Config, opts ...Option) *Manager {
	if store == nil {
		panic("billing: Store is required")
	}
	if gateway == nil {
		panic("billing: Gateway is required")
	}
	if resolver == nil {
		panic("billing: Resolver is required")
	}
	return &Manager{
		store:    store,
		gateway:  gateway,
		resolver: resolver,
		cfg:      cfg.withDefaults(),
		opts:     newOptions("lifecycle", opts),
	}
}

// Dispatch runs one action on behalf of caller.
func (m *Manager) Dispatch(ctx context.Context, caller identity.Caller, action Action) (res Result, err error) {
	if caller.ProfileID == "" {
		return Result{}, ErrUnauthenticated
	}
	if action == nil {
		return Result{}, fmt.Errorf("%w: action is required", ErrUnknownAction)
	}

	kind := string(action.Kind())
	ctx, span := m.opts.tracer.Start(ctx, "billing.Dispatch")
	span.SetAttributes(attribute.String("subscription.action", kind), attribute.String("profile.id", caller.ProfileID))
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		m.opts.metrics.action(kind, outcome, time.Since(start))
		span.End()
	}()

	res.Action = action.Kind()
	switch a := action.(type) {
	case InitializeAction:
		co, err := m.Initialize(ctx, caller, a)
		if err != nil {
			return Result{}, err
		}
		res.Checkout = &co
	case CancelAction:
		sub, err := m.Cancel(ctx, caller, a.SubscriptionID)
		if err != nil {
			return Result{}, err
		}
		res.Subscription = &sub
	case RefundAction:
		sub, err := m.Refund(ctx, caller, a.SubscriptionID)
		if err != nil {
			return Result{}, err
		}
		res.Subscription = &sub
	case ChangePlanAction:
		co, err := m.ChangePlan(ctx, caller, a)
		if err != nil {
			return Result{}, err
		}
		res.Checkout = &co
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownAction, kind)
	}
	return res, nil
}

// Initialize opens a gateway checkout for a package. No row is written: the
// subscription is created by the charge.success webhook.
func (m *Manager) Initialize(ctx context.Context, caller identity.Caller, a InitializeAction) (Checkout, error) {
	pkg, err := m.purchasable(ctx, a.PackageID)
	if err != nil {
		return Checkout{}, err
	}
	if err := requireEmail(caller); err != nil {
		return Checkout{}, err
	}

	ref := checkoutReference(caller.ProfileID, ActionInitialize, pkg.ID, uuid.Nil, a.IdempotencyKey)
	co, err := m.checkout(ctx, CheckoutRequest{
		Email:       caller.Email,
		Amount:      pkg.Price,
		Currency:    pkg.Currency,
		Reference:   ref,
		PlanCode:    pkg.PlanCode,
		CallbackURL: a.CallbackURL,
		Metadata: map[string]string{
			MetaProfileID: caller.ProfileID,
			MetaPackageID: pkg.ID.String(),
			MetaAction:    string(ActionInitialize),
		},
	})
	if err != nil {
		return Checkout{}, err
	}

	m.opts.log.InfoContext(ctx, "checkout initialized",
		logger.ProfileID(caller.ProfileID),
		logger.PackageID(pkg.ID),
		logger.Reference(co.Reference),
	)
	return co, nil
}

// ChangePlan opens a checkout for another package correlated to an existing
// subscription. The switch happens when the gateway confirms the charge.
func (m *Manager) ChangePlan(ctx context.Context, caller identity.Caller, a ChangePlanAction) (Checkout, error) {
	sub, err := m.store.GetSubscription(ctx, a.SubscriptionID)
	if err != nil {
		return Checkout{}, err
	}
	if err := authorize(caller, sub); err != nil {
		return Checkout{}, err
	}
	if sub.Status.IsTerminal() {
		return Checkout{}, ErrTerminalState
	}
	if !sub.EffectivelyActive(m.opts.clock()) {
		return Checkout{}, ErrNotActive
	}
	if sub.PackageID == a.NewPackageID {
		return Checkout{}, ErrSamePackage
	}
	pkg, err := m.purchasable(ctx, a.NewPackageID)
	if err != nil {
		return Checkout{}, err
	}
	if err := requireEmail(caller); err != nil {
		return Checkout{}, err
	}

	ref := checkoutReference(sub.ProfileID, ActionChangePlan, pkg.ID, sub.ID, a.IdempotencyKey)
	co, err := m.checkout(ctx, CheckoutRequest{
		Email:       caller.Email,
		Amount:      pkg.Price,
		Currency:    pkg.Currency,
		Reference:   ref,
		PlanCode:    pkg.PlanCode,
		CallbackURL: a.CallbackURL,
		Metadata: map[string]string{
			MetaProfileID:      sub.ProfileID,
			MetaPackageID:      pkg.ID.String(),
			MetaSubscriptionID: sub.ID.String(),
			MetaAction:         string(ActionChangePlan),
		},
	})
	if err != nil {
		return Checkout{}, err
	}

	m.opts.log.InfoContext(ctx, "plan change checkout initialized",
		logger.SubscriptionID(sub.ID),
		logger.PackageID(pkg.ID),
		logger.Reference(co.Reference),
	)
	return co, nil
}

// Cancel moves a non-terminal subscription to cancelled. Recurring billing
// is disabled at the gateway first; if that fails nothing changes locally.
func (m *Manager) Cancel(ctx context.Context, caller identity.Caller, id uuid.UUID) (Subscription, error) {
	disabled := false
	for range m.cfg.CASRetries {
		sub, err := m.store.GetSubscription(ctx, id)
		if err != nil {
			return Subscription{}, err
		}
		if err := authorize(caller, sub); err != nil {
			return Subscription{}, err
		}
		if sub.Status.IsTerminal() {
			return Subscription{}, ErrTerminalState
		}

		if !disabled && sub.SubscriptionCode != "" && sub.EmailToken != "" {
			err := m.callGateway(ctx, "disable_subscription", func(ctx context.Context) error {
				return m.gateway.DisableSubscription(ctx, sub.SubscriptionCode, sub.EmailToken)
			})
			if err != nil {
				return Subscription{}, err
			}
			disabled = true
		}

		next := sub
		next.Status = StatusCancelled
		next.UpdatedAt = m.opts.clock()
		ok, err := m.store.UpdateSubscription(ctx, next)
		if err != nil {
			return Subscription{}, err
		}
		if ok {
			next.Version++
			m.committed(ctx, EventCancelled, next)
			m.opts.log.InfoContext(ctx, "subscription cancelled",
				logger.SubscriptionID(next.ID),
				logger.ProfileID(next.ProfileID),
				logger.Role(string(caller.Role)),
			)
			return next.View(m.opts.clock()), nil
		}
		m.opts.metrics.conflict()
	}
	return Subscription{}, ErrConcurrentUpdate
}

// Refund refunds the charge at the gateway and marks the subscription
// refunded. The row stays locked for the whole exchange; a gateway failure
// rolls the transaction back untouched.
func (m *Manager) Refund(ctx context.Context, caller identity.Caller, id uuid.UUID) (Subscription, error) {
	var refunded Subscription
	err := m.store.RunInTx(ctx, func(ctx context.Context) error {
		sub, err := m.store.LockSubscription(ctx, id)
		if err != nil {
			return err
		}
		if err := authorize(caller, sub); err != nil {
			return err
		}
		if sub.Status.IsTerminal() {
			return ErrTerminalState
		}
		now := m.opts.clock()
		if !sub.EffectivelyActive(now) {
			return ErrNotActive
		}
		if now.Sub(sub.StartDate) > m.cfg.RefundWindow {
			return ErrRefundWindowElapsed
		}
		if sub.TransactionReference == "" {
			return ErrNoChargeReference
		}

		err = m.callGateway(ctx, "refund", func(ctx context.Context) error {
			return m.gateway.Refund(ctx, sub.TransactionReference)
		})
		if err != nil {
			return err
		}

		next := sub
		next.Status = StatusRefunded
		next.RefundedAt = &now
		next.UpdatedAt = now
		ok, err := m.store.UpdateSubscription(ctx, next)
		if err != nil {
			return err
		}
		if !ok {
			// The row is locked, so this means the store lost the lock. The
			// gateway refund already went out; refund.processed will settle it.
			m.opts.log.ErrorContext(ctx, "refund issued but local update lost",
				logger.SubscriptionID(sub.ID),
				logger.Reference(sub.TransactionReference),
			)
			return ErrConcurrentUpdate
		}
		next.Version++
		refunded = next
		return nil
	})
	if err != nil {
		return Subscription{}, err
	}

	m.committed(ctx, EventRefunded, refunded)
	m.opts.log.InfoContext(ctx, "subscription refunded",
		logger.SubscriptionID(refunded.ID),
		logger.ProfileID(refunded.ProfileID),
		logger.Reference(refunded.TransactionReference),
	)
	return refunded.View(m.opts.clock()), nil
}

// Override holds the fields an admin may set directly. Nil fields are left
// unchanged.
type Override struct {
	Status           *Status
	PackageID        *uuid.UUID
	EndDate          *time.Time
	CurrentPeriodEnd *time.Time
}

// Override applies an admin correction. It is the only way to change a row
// in a terminal state.
func (m *Manager) Override(ctx context.Context, caller identity.Caller, id uuid.UUID, o Override) (Subscription, error) {
	if !caller.IsAdmin() {
		return Subscription{}, ErrForbidden
	}
	if o.Status != nil {
		if err := validator.Apply(validator.OneOf("status", *o.Status, StatusActive, StatusExpired, StatusCancelled, StatusRefunded)); err != nil {
			return Subscription{}, err
		}
	}
	if o.PackageID != nil {
		if _, err := m.store.GetPackage(ctx, *o.PackageID); err != nil {
			return Subscription{}, err
		}
	}

	for range m.cfg.CASRetries {
		sub, err := m.store.GetSubscription(ctx, id)
		if err != nil {
			return Subscription{}, err
		}

		now := m.opts.clock()
		next := sub
		if o.Status != nil {
			next.Status = *o.Status
			if next.Status == StatusRefunded && next.RefundedAt == nil {
				next.RefundedAt = &now
			}
		}
		if o.PackageID != nil {
			next.PackageID = *o.PackageID
		}
		if o.EndDate != nil {
			next.EndDate = o.EndDate.UTC()
		}
		if o.CurrentPeriodEnd != nil {
			cpe := o.CurrentPeriodEnd.UTC()
			next.CurrentPeriodEnd = &cpe
		}
		if err := validator.Apply(validator.Check("end_date", "after_start", "must be after start_date", next.EndDate.After(next.StartDate))); err != nil {
			return Subscription{}, err
		}
		next.UpdatedAt = now

		ok, err := m.store.UpdateSubscription(ctx, next)
		if err != nil {
			return Subscription{}, err
		}
		if ok {
			next.Version++
			m.resolver.Invalidate(ctx, next.ProfileID)
			m.opts.log.WarnContext(ctx, "subscription overridden by admin",
				logger.SubscriptionID(next.ID),
				logger.ProfileID(caller.ProfileID),
				slog.String("from_status", string(sub.Status)),
				slog.String("to_status", string(next.Status)),
			)
			return next.View(now), nil
		}
		m.opts.metrics.conflict()
	}
	return Subscription{}, ErrConcurrentUpdate
}

// Delete is the admin form of cancel.
func (m *Manager) Delete(ctx context.Context, caller identity.Caller, id uuid.UUID) (Subscription, error) {
	if !caller.IsAdmin() {
		return Subscription{}, ErrForbidden
	}
	return m.Cancel(ctx, caller, id)
}

// Get returns one subscription visible to caller.
func (m *Manager) Get(ctx context.Context, caller identity.Caller, id uuid.UUID) (Subscription, error) {
	sub, err := m.store.GetSubscription(ctx, id)
	if err != nil {
		return Subscription{}, err
	}
	if err := authorize(caller, sub); err != nil {
		return Subscription{}, err
	}
	return sub.View(m.opts.clock()), nil
}

// List pages through subscriptions. Admins see every profile, other callers
// only their own. status filters on the effective status.
func (m *Manager) List(ctx context.Context, caller identity.Caller, status Status, q cursor.Query) (cursor.Page[Subscription], error) {
	if caller.ProfileID == "" {
		return cursor.Page[Subscription]{}, ErrUnauthenticated
	}
	if status != "" {
		if err := validator.Apply(validator.OneOf("status", status, StatusActive, StatusExpired, StatusCancelled, StatusRefunded)); err != nil {
			return cursor.Page[Subscription]{}, err
		}
	}

	now := m.opts.clock()
	f := SubscriptionFilter{Status: status, Now: now}
	if !caller.IsAdmin() {
		f.ProfileID = caller.ProfileID
	}
	rows, err := m.store.ListSubscriptions(ctx, f, q)
	if err != nil {
		return cursor.Page[Subscription]{}, err
	}
	for i := range rows {
		rows[i] = rows[i].View(now)
	}
	return cursor.Paginate(rows, q, Subscription.Cursor), nil
}

func (m *Manager) purchasable(ctx context.Context, id uuid.UUID) (Package, error) {
	pkg, err := m.store.GetPackage(ctx, id)
	if err != nil {
		return Package{}, err
	}
	if !pkg.IsActive {
		return Package{}, ErrPackageUnavailable
	}
	return pkg, nil
}

func (m *Manager) checkout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	var co Checkout
	err := m.callGateway(ctx, "initialize", func(ctx context.Context) error {
		var err error
		co, err = m.gateway.InitializeCheckout(ctx, req)
		return err
	})
	if err != nil {
		return Checkout{}, err
	}
	if co.Reference == "" {
		co.Reference = req.Reference
	}
	return co, nil
}

// callGateway bounds fn by the gateway timeout and maps every failure to
// ErrUpstream.
func (m *Manager) callGateway(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.GatewayTimeout)
	defer cancel()

	ctx, span := m.opts.tracer.Start(ctx, "billing.gateway."+op)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	outcome := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		outcome = "timeout"
	case err != nil:
		outcome = "error"
	}
	m.opts.metrics.gateway(op, outcome, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		m.opts.log.ErrorContext(ctx, "gateway call failed",
			logger.Error(err),
			logger.Action(op),
			logger.Duration(time.Since(start)),
		)
		return fmt.Errorf("%w: %s: %w", ErrUpstream, op, err)
	}
	return nil
}

// committed runs the after-commit side effects of a subscription write.
func (m *Manager) committed(ctx context.Context, eventType string, s Subscription) {
	m.resolver.Invalidate(ctx, s.ProfileID)
	m.opts.publish(ctx, eventType, s)
}

// authorize allows admins and the owning profile.
func authorize(caller identity.Caller, s Subscription) error {
	if caller.IsAdmin() {
		return nil
	}
	if caller.ProfileID != "" && caller.ProfileID == s.ProfileID {
		return nil
	}
	return ErrForbidden
}

func requireEmail(caller identity.Caller) error {
	return validator.Apply(validator.Check("email", "required", "caller has no email address for the checkout", strings.TrimSpace(caller.Email) != ""))
}

// referenceNamespace scopes the deterministic references derived from
// idempotency keys.
var referenceNamespace = uuid.MustParse("8d3c2a5e-4f1b-4c7e-9a6d-2b0f5e8c1d37")

// checkoutReference derives the gateway reference. With an idempotency key
// the same request always maps to the same reference, which the gateway
// refuses to initialize twice.
func checkoutReference(profileID string, kind ActionKind, packageID, subscriptionID uuid.UUID, key string) string {
	var id uuid.UUID
	if key == "" {
		id = uuid.New()
	} else {
		id = uuid.NewSHA1(referenceNamespace, []byte(strings.Join([]string{
			profileID, string(kind), packageID.String(), subscriptionID.String(), key,
		}, "|")))
	}
	return "cpk_" + strings.ReplaceAll(id.String(), "-", "")
}
