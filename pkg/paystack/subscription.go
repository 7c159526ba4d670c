package paystack

import (
	"context"
	"net/http"
)

// DisableSubscription stops recurring billing for a subscription. The email
// token is issued with the subscription.create event.
func (c *Client) DisableSubscription(ctx context.Context, code, emailToken string) error {
	body := map[string]string{"code": code, "token": emailToken}
	return c.do(ctx, http.MethodPost, "/subscription/disable", body, nil)
}
