package billing

import (
	"context"

	"github.com/complykit/complykit/pkg/paystack"
)

// Gateway is the subset of the payment gateway the engine drives.
type Gateway interface {
	InitializeCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error)
	// Refund refunds the charge identified by its transaction reference.
	Refund(ctx context.Context, reference string) error
	// DisableSubscription stops recurring billing for a gateway subscription.
	DisableSubscription(ctx context.Context, code, emailToken string) error
}

type CheckoutRequest struct {
	Email       string
	Amount      int64
	Currency    string
	Reference   string
	PlanCode    string
	CallbackURL string
	Metadata    map[string]string
}

// Checkout is returned by initialize and change-plan.
type Checkout struct {
	AuthorizationURL string `json:"authorization_url"`
	Reference        string `json:"reference"`
	AccessCode       string `json:"access_code"`
}

// Metadata keys attached to checkouts and read back from charge events.
const (
	MetaProfileID      = "profile_id"
	MetaPackageID      = "package_id"
	MetaSubscriptionID = "subscription_id"
	MetaAction         = "action"
)

// PaystackGateway adapts the Paystack client to Gateway.
type PaystackGateway struct {
	client *paystack.Client
}

var _ Gateway = (*PaystackGateway)(nil)

func NewPaystackGateway(client *paystack.Client) *PaystackGateway {
	if client == nil {
		panic("billing: paystack client is required")
	}
	return &PaystackGateway{client: client}
}

func (g *PaystackGateway) InitializeCheckout(ctx context.Context, req CheckoutRequest) (Checkout, error) {
	out, err := g.client.InitializeTransaction(ctx, paystack.InitializeRequest{
		Email:       req.Email,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Reference:   req.Reference,
		Plan:        req.PlanCode,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return Checkout{}, err
	}
	return Checkout{
		AuthorizationURL: out.AuthorizationURL,
		Reference:        out.Reference,
		AccessCode:       out.AccessCode,
	}, nil
}

func (g *PaystackGateway) Refund(ctx context.Context, reference string) error {
	_, err := g.client.CreateRefund(ctx, paystack.RefundRequest{Transaction: reference})
	return err
}

func (g *PaystackGateway) DisableSubscription(ctx context.Context, code, emailToken string) error {
	return g.client.DisableSubscription(ctx, code, emailToken)
}
