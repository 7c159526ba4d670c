package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/complykit/complykit/pkg/cursor"
	"github.com/complykit/complykit/pkg/logger"
	"github.com/complykit/complykit/pkg/paystack"
)

// Reconciler applies verified gateway webhooks to subscription rows. Each
// event is applied at most once: a processed-event marker is inserted in the
// same transaction as the writes it guards.
type Reconciler struct {
	store    Store
	resolver *Resolver
	secret   string
	retries  int
	opts     options
}

func NewReconciler(store Store, resolver *Resolver, secret string, opts ...Option) *Reconciler {
	if store == nil {
		panic("billing: Store is required")
	}
	if resolver == nil {
		panic("billing: Resolver is required")
	}
	if secret == "" {
		panic("billing: webhook secret is required")
	}
	return &Reconciler{
		store:    store,
		resolver: resolver,
		secret:   secret,
		retries:  DefaultConfig().CASRetries,
		opts:     newOptions("webhook", opts),
	}
}

// outcome is the result of applying one event inside the transaction.
type outcome struct {
	status string // applied, ignored or duplicate
	event  string // domain event to publish, empty for none
	sub    Subscription
}

var (
	outcomeIgnored   = outcome{status: "ignored"}
	outcomeDuplicate = outcome{status: "duplicate"}
)

// Handle verifies, parses and applies one webhook delivery. A nil error means
// the event is durably processed or recognised as a duplicate and must be
// acknowledged. ErrInvalidSignature means the body was not looked at.
func (r *Reconciler) Handle(ctx context.Context, body []byte, signature string) error {
	if err := paystack.VerifySignature(r.secret, body, signature); err != nil {
		r.opts.metrics.webhook("unknown", "rejected")
		r.opts.log.WarnContext(ctx, "webhook signature rejected", logger.Error(err))
		return ErrInvalidSignature
	}

	ev, err := paystack.ParseEvent(body)
	if err != nil {
		r.opts.metrics.webhook("unknown", "rejected")
		return fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	ctx, span := r.opts.tracer.Start(ctx, "billing.Webhook")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.event", ev.Event))

	res, err := r.apply(ctx, ev)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook failed")
		r.opts.metrics.webhook(ev.Event, "failed")
		level := slog.LevelError
		if errors.Is(err, ErrEventNotReady) || errors.Is(err, ErrInvalidEvent) {
			level = slog.LevelWarn
		}
		r.opts.log.Log(ctx, level, "webhook processing failed", logger.Error(err), logger.EventType(ev.Event))
		return err
	}

	r.opts.metrics.webhook(ev.Event, res.status)
	if res.status == "applied" {
		r.resolver.Invalidate(ctx, res.sub.ProfileID)
		if res.event != "" {
			r.opts.publish(ctx, res.event, res.sub)
		}
	}
	r.opts.log.InfoContext(ctx, "webhook processed",
		logger.EventType(ev.Event),
		slog.String("outcome", res.status),
	)
	return nil
}

func (r *Reconciler) apply(ctx context.Context, ev paystack.Event) (outcome, error) {
	switch ev.Event {
	case paystack.EventChargeSuccess:
		var data paystack.ChargeData
		if err := ev.DecodeData(&data); err != nil {
			return outcome{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		key := data.Reference
		if key == "" {
			key = data.ChargeID()
		}
		return r.once(ctx, ev.Event, key, func(ctx context.Context) (outcome, error) {
			return r.chargeSuccess(ctx, data)
		})

	case paystack.EventSubscriptionCreate:
		var data paystack.SubscriptionData
		if err := ev.DecodeData(&data); err != nil {
			return outcome{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		return r.once(ctx, ev.Event, data.SubscriptionCode, func(ctx context.Context) (outcome, error) {
			return r.subscriptionCreate(ctx, data)
		})

	case paystack.EventSubscriptionDisable:
		var data paystack.SubscriptionData
		if err := ev.DecodeData(&data); err != nil {
			return outcome{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		return r.once(ctx, ev.Event, data.SubscriptionCode, func(ctx context.Context) (outcome, error) {
			return r.subscriptionDisable(ctx, data)
		})

	case paystack.EventSubscriptionNotRenew:
		// Access lasts until end_date; nothing to write.
		return outcomeIgnored, nil

	case paystack.EventRefundProcessed:
		var data paystack.RefundData
		if err := ev.DecodeData(&data); err != nil {
			return outcome{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
		}
		return r.once(ctx, ev.Event, data.Key(), func(ctx context.Context) (outcome, error) {
			return r.refundProcessed(ctx, data)
		})
	}
	return outcomeIgnored, nil
}

// once runs fn in a transaction guarded by the processed-event marker
// "<event>:<id>". A failing fn rolls the marker back so a redelivery is
// processed again.
func (r *Reconciler) once(ctx context.Context, event, id string, fn func(ctx context.Context) (outcome, error)) (outcome, error) {
	if id == "" {
		return outcome{}, fmt.Errorf("%w: %s without identifier", ErrInvalidEvent, event)
	}
	key := event + ":" + id

	var res outcome
	err := r.store.RunInTx(ctx, func(ctx context.Context) error {
		fresh, err := r.store.MarkEventProcessed(ctx, key, event, r.opts.clock())
		if err != nil {
			return err
		}
		if !fresh {
			res = outcomeDuplicate
			return nil
		}
		res, err = fn(ctx)
		return err
	})
	if err != nil {
		return outcome{}, err
	}
	return res, nil
}

func (r *Reconciler) chargeSuccess(ctx context.Context, data paystack.ChargeData) (outcome, error) {
	if data.Status != "" && data.Status != "success" {
		return outcomeIgnored, nil
	}
	if data.Reference != "" {
		if _, err := r.store.FindSubscriptionByReference(ctx, data.Reference); err == nil {
			return outcomeIgnored, nil
		} else if !errors.Is(err, ErrSubscriptionNotFound) {
			return outcome{}, err
		}
	}

	paidAt := r.opts.clock()
	if data.PaidAt != nil {
		paidAt = data.PaidAt.UTC()
	}

	meta := data.Metadata
	switch {
	case meta[MetaAction] == string(ActionChangePlan) && meta[MetaSubscriptionID] != "":
		return r.completePlanChange(ctx, data, paidAt)
	case meta[MetaProfileID] != "":
		return r.activate(ctx, data, paidAt)
	case data.Plan.PlanCode != "" && data.Customer.CustomerCode != "":
		return r.renew(ctx, data, paidAt)
	}

	r.opts.log.WarnContext(ctx, "charge does not correlate to a subscription", logger.Reference(data.Reference))
	return outcomeIgnored, nil
}

// activate creates the subscription for a first payment.
func (r *Reconciler) activate(ctx context.Context, data paystack.ChargeData, paidAt time.Time) (outcome, error) {
	pkg, err := r.chargedPackage(ctx, data)
	if err != nil {
		if errors.Is(err, ErrPackageNotFound) {
			r.opts.log.ErrorContext(ctx, "paid charge references an unknown package", logger.Reference(data.Reference))
			return outcomeIgnored, nil
		}
		return outcome{}, err
	}

	now := cursor.Normalize(r.opts.clock())
	end := pkg.Type.PeriodEnd(paidAt)
	sub := Subscription{
		ID:                   uuid.New(),
		ProfileID:            data.Metadata[MetaProfileID],
		PackageID:            pkg.ID,
		StartDate:            paidAt,
		EndDate:              end,
		Status:               StatusActive,
		CurrentPeriodEnd:     &end,
		TransactionReference: data.Reference,
		CustomerCode:         data.Customer.CustomerCode,
		CreatedAt:            now,
		UpdatedAt:            now,
		Version:              1,
	}
	created, err := r.store.CreateSubscription(ctx, sub)
	if err != nil {
		return outcome{}, err
	}
	if !created {
		return outcomeDuplicate, nil
	}
	return outcome{status: "applied", event: EventActivated, sub: sub}, nil
}

func (r *Reconciler) chargedPackage(ctx context.Context, data paystack.ChargeData) (Package, error) {
	if raw := data.Metadata[MetaPackageID]; raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return Package{}, ErrPackageNotFound
		}
		return r.store.GetPackage(ctx, id)
	}
	if data.Plan.PlanCode != "" {
		return r.store.FindPackageByPlanCode(ctx, data.Plan.PlanCode)
	}
	return Package{}, ErrPackageNotFound
}

// renew extends the active subscription of the charged customer by one
// period. Rows that are cancelled or refunded are never revived.
func (r *Reconciler) renew(ctx context.Context, data paystack.ChargeData, paidAt time.Time) (outcome, error) {
	pkg, err := r.store.FindPackageByPlanCode(ctx, data.Plan.PlanCode)
	if err != nil {
		if errors.Is(err, ErrPackageNotFound) {
			r.opts.log.WarnContext(ctx, "renewal for unknown plan", slog.String("plan_code", data.Plan.PlanCode))
			return outcomeIgnored, nil
		}
		return outcome{}, err
	}

	return r.update(ctx, func(ctx context.Context) (Subscription, error) {
		return r.store.FindRenewable(ctx, data.Customer.CustomerCode, pkg.ID)
	}, func(sub Subscription) (Subscription, bool) {
		if sub.Status != StatusActive {
			return sub, false
		}
		base := sub.EndDate
		if paidAt.After(base) {
			base = paidAt
		}
		end := pkg.Type.PeriodEnd(base)
		sub.EndDate = end
		sub.CurrentPeriodEnd = &end
		return sub, true
	}, EventRenewed)
}

// completePlanChange moves the correlated subscription to the new package and
// starts a fresh period from the payment.
func (r *Reconciler) completePlanChange(ctx context.Context, data paystack.ChargeData, paidAt time.Time) (outcome, error) {
	subID, err := uuid.Parse(data.Metadata[MetaSubscriptionID])
	if err != nil {
		return outcome{}, fmt.Errorf("%w: bad subscription_id metadata", ErrInvalidEvent)
	}
	pkg, err := r.chargedPackage(ctx, data)
	if err != nil {
		if errors.Is(err, ErrPackageNotFound) {
			r.opts.log.ErrorContext(ctx, "plan change charge references an unknown package", logger.Reference(data.Reference))
			return outcomeIgnored, nil
		}
		return outcome{}, err
	}

	return r.update(ctx, func(ctx context.Context) (Subscription, error) {
		return r.store.GetSubscription(ctx, subID)
	}, func(sub Subscription) (Subscription, bool) {
		if sub.Status.IsTerminal() {
			r.opts.log.ErrorContext(ctx, "plan change paid for a terminal subscription",
				logger.SubscriptionID(sub.ID),
				logger.Reference(data.Reference),
			)
			return sub, false
		}
		end := pkg.Type.PeriodEnd(paidAt)
		sub.PackageID = pkg.ID
		sub.Status = StatusActive
		sub.StartDate = paidAt
		sub.EndDate = end
		sub.CurrentPeriodEnd = &end
		sub.TransactionReference = data.Reference
		if sub.CustomerCode == "" {
			sub.CustomerCode = data.Customer.CustomerCode
		}
		return sub, true
	}, EventPlanChanged)
}

// subscriptionCreate attaches the gateway subscription to the row created by
// the first charge. Paystack may deliver it before charge.success, in which
// case it fails with ErrEventNotReady and is retried.
func (r *Reconciler) subscriptionCreate(ctx context.Context, data paystack.SubscriptionData) (outcome, error) {
	if data.Plan.PlanCode == "" || data.Customer.CustomerCode == "" {
		return outcomeIgnored, nil
	}
	pkg, err := r.store.FindPackageByPlanCode(ctx, data.Plan.PlanCode)
	if err != nil {
		if errors.Is(err, ErrPackageNotFound) {
			return outcomeIgnored, nil
		}
		return outcome{}, err
	}

	res, err := r.update(ctx, func(ctx context.Context) (Subscription, error) {
		sub, err := r.store.FindRenewable(ctx, data.Customer.CustomerCode, pkg.ID)
		if errors.Is(err, ErrSubscriptionNotFound) {
			return Subscription{}, fmt.Errorf("%w: %s", ErrEventNotReady, data.SubscriptionCode)
		}
		return sub, err
	}, func(sub Subscription) (Subscription, bool) {
		if sub.SubscriptionCode == data.SubscriptionCode && sub.EmailToken == data.EmailToken {
			return sub, false
		}
		sub.SubscriptionCode = data.SubscriptionCode
		sub.EmailToken = data.EmailToken
		if data.NextPaymentDate != nil {
			next := data.NextPaymentDate.UTC()
			sub.CurrentPeriodEnd = &next
		}
		return sub, true
	}, "")
	return res, err
}

func (r *Reconciler) subscriptionDisable(ctx context.Context, data paystack.SubscriptionData) (outcome, error) {
	return r.update(ctx, func(ctx context.Context) (Subscription, error) {
		return r.store.FindSubscriptionByCode(ctx, data.SubscriptionCode)
	}, func(sub Subscription) (Subscription, bool) {
		if sub.Status.IsTerminal() {
			return sub, false
		}
		sub.Status = StatusCancelled
		return sub, true
	}, EventCancelled)
}

// refundProcessed records refunds issued outside the lifecycle manager, for
// example from the gateway dashboard.
func (r *Reconciler) refundProcessed(ctx context.Context, data paystack.RefundData) (outcome, error) {
	if data.TransactionReference == "" {
		return outcomeIgnored, nil
	}
	return r.update(ctx, func(ctx context.Context) (Subscription, error) {
		return r.store.FindSubscriptionByReference(ctx, data.TransactionReference)
	}, func(sub Subscription) (Subscription, bool) {
		if sub.Status.IsTerminal() {
			return sub, false
		}
		now := r.opts.clock()
		sub.Status = StatusRefunded
		sub.RefundedAt = &now
		return sub, true
	}, EventRefunded)
}

// update is the webhook's conditional write loop: load the row, let mutate
// decide on the current state, then write only if no one else has written
// the row since it was loaded.
// A lost race re-loads and re-decides. An unknown row is ignored unless load
// reports something else.
func (r *Reconciler) update(
	ctx context.Context,
	load func(ctx context.Context) (Subscription, error),
	mutate func(Subscription) (Subscription, bool),
	event string,
) (outcome, error) {
	for range r.retries {
		sub, err := load(ctx)
		if errors.Is(err, ErrSubscriptionNotFound) {
			return outcomeIgnored, nil
		}
		if err != nil {
			return outcome{}, err
		}

		next, changed := mutate(sub)
		if !changed {
			return outcomeIgnored, nil
		}
		next.UpdatedAt = r.opts.clock()
		ok, err := r.store.UpdateSubscription(ctx, next)
		if err != nil {
			return outcome{}, err
		}
		if ok {
			next.Version++
			r.opts.log.InfoContext(ctx, "subscription updated from webhook",
				logger.SubscriptionID(next.ID),
				slog.String("from_status", string(sub.Status)),
				slog.String("to_status", string(next.Status)),
			)
			return outcome{status: "applied", event: event, sub: next}, nil
		}
		r.opts.metrics.conflict()
	}
	return outcome{}, ErrConcurrentUpdate
}
