package paystack

import (
	"context"
	"encoding/json"
	"net/http"
)

type RefundRequest struct {
	// Transaction is the reference or id of the charge to refund.
	Transaction string `json:"transaction"`
	// Amount in minor units; zero refunds the full charge.
	Amount       int64  `json:"amount,omitempty"`
	MerchantNote string `json:"merchant_note,omitempty"`
}

type Refund struct {
	ID       json.Number `json:"id"`
	Status   string      `json:"status"`
	Amount   int64       `json:"amount"`
	Currency string      `json:"currency"`
}

// CreateRefund asks Paystack to refund a charge. The refund settles
// asynchronously and is confirmed by a refund.processed event.
func (c *Client) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	var out Refund
	if err := c.do(ctx, http.MethodPost, "/refund", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
