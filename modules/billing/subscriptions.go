package billing

import (
	"github.com/complykit/complykit/handler"
	"github.com/complykit/complykit/pkg/cursor"
	billingsvc "github.com/complykit/complykit/svc/billing"
)

func (m *Module) listSubscriptions(ctx handler.Context, req listSubscriptionsRequest) handler.Response {
	q, err := cursor.Parse(req.Cursor, req.Limit, req.Order)
	if err != nil {
		return handler.Error(err)
	}
	page, err := m.svc.Manager.List(ctx, caller(ctx), billingsvc.Status(req.Status), q)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(page)
}

// subscriptionAction is the single action endpoint:
// POST /subscriptions?action=<initialize|cancel|refund|change-plan>&id=<subscription>.
// Checkout actions answer 201 with the hosted payment page, state changes
// answer 200 with the updated subscription.
func (m *Module) subscriptionAction(ctx handler.Context, req subscriptionActionRequest) handler.Response {
	action, err := billingsvc.ParseAction(req.Action, req.ID, req.ActionBody, req.IdempotencyKey)
	if err != nil {
		return handler.Error(err)
	}
	res, err := m.svc.Manager.Dispatch(ctx, caller(ctx), action)
	if err != nil {
		return handler.Error(err)
	}
	if res.Checkout != nil {
		return handler.Created(res)
	}
	return handler.JSON(res)
}

func (m *Module) getSubscription(ctx handler.Context, req subscriptionRequest) handler.Response {
	id, err := parseID(req.ID)
	if err != nil {
		return handler.Error(err)
	}
	sub, err := m.svc.Manager.Get(ctx, caller(ctx), id)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(sub)
}

func (m *Module) overrideSubscription(ctx handler.Context, req overrideRequest) handler.Response {
	id, err := parseID(req.ID)
	if err != nil {
		return handler.Error(err)
	}
	sub, err := m.svc.Manager.Override(ctx, caller(ctx), id, billingsvc.Override{
		Status:           req.Status,
		PackageID:        req.PackageID,
		EndDate:          req.EndDate,
		CurrentPeriodEnd: req.CurrentPeriodEnd,
	})
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(sub)
}

func (m *Module) deleteSubscription(ctx handler.Context, req subscriptionRequest) handler.Response {
	id, err := parseID(req.ID)
	if err != nil {
		return handler.Error(err)
	}
	sub, err := m.svc.Manager.Delete(ctx, caller(ctx), id)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(sub)
}

func (m *Module) entitlements(ctx handler.Context, _ struct{}) handler.Response {
	ent, err := m.svc.Resolver.Resolve(ctx, caller(ctx))
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(ent)
}
