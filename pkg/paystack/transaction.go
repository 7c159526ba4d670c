package paystack

import (
	"context"
	"net/http"
)

type InitializeRequest struct {
	Email    string `json:"email"`
	Amount   int64  `json:"amount"` // minor units
	Currency string `json:"currency,omitempty"`
	// Reference must be unique per checkout. Reusing one makes Paystack
	// reject the second initialisation, which is how retries stay idempotent.
	Reference   string            `json:"reference,omitempty"`
	Plan        string            `json:"plan,omitempty"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type Checkout struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

// InitializeTransaction creates a hosted checkout session.
func (c *Client) InitializeTransaction(ctx context.Context, req InitializeRequest) (*Checkout, error) {
	if req.CallbackURL == "" {
		req.CallbackURL = c.callbackURL
	}
	var out Checkout
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
