package paystack

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries hex(HMAC-SHA512(secret, body)) on every webhook.
const SignatureHeader = "X-Paystack-Signature"

const (
	EventChargeSuccess        = "charge.success"
	EventSubscriptionCreate   = "subscription.create"
	EventSubscriptionDisable  = "subscription.disable"
	EventSubscriptionNotRenew = "subscription.not_renew"
	EventRefundProcessed      = "refund.processed"
)

// Sign returns the signature Paystack would send for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks signature against the raw request body in constant
// time. The body must not be parsed before this succeeds.
func VerifySignature(secret string, body []byte, signature string) error {
	if secret == "" {
		return ErrMissingSecret
	}
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return ErrInvalidSignature
	}
	want, _ := hex.DecodeString(Sign(secret, body))
	if !hmac.Equal(got, want) {
		return ErrInvalidSignature
	}
	return nil
}

// Event is the outer webhook payload.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseEvent decodes the outer payload. Call it only after VerifySignature.
func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ev.Event == "" {
		return Event{}, fmt.Errorf("%w: missing event type", ErrInvalidPayload)
	}
	return ev, nil
}

// DecodeData unmarshals the event's data object into out.
func (e Event) DecodeData(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: missing data for %s", ErrInvalidPayload, e.Event)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrInvalidPayload, e.Event, err)
	}
	return nil
}

type Customer struct {
	CustomerCode string `json:"customer_code"`
	Email        string `json:"email"`
}

// Plan is sent as an object, an empty object or an empty string depending
// on the event, so decoding tolerates all three.
type Plan struct {
	PlanCode string `json:"plan_code"`
	Interval string `json:"interval"`
	Name     string `json:"name"`
}

func (p *Plan) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		*p = Plan{}
		return nil
	}
	type plain Plan
	return json.Unmarshal(b, (*plain)(p))
}

// Metadata is the string map attached at initialisation. Paystack echoes it
// back as an object, a JSON-encoded string or an empty string.
type Metadata map[string]string

func (m *Metadata) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(strings.TrimSpace(s))
	}
	if len(b) == 0 || b[0] != '{' {
		*m = Metadata{}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Metadata, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		out[k] = string(bytes.TrimSpace(v))
	}
	*m = out
	return nil
}

// ChargeData is the data of charge.success.
type ChargeData struct {
	ID        json.Number `json:"id"`
	Reference string      `json:"reference"`
	Status    string      `json:"status"`
	Amount    int64       `json:"amount"`
	Currency  string      `json:"currency"`
	PaidAt    *time.Time  `json:"paid_at"`
	Customer  Customer    `json:"customer"`
	Plan      Plan        `json:"plan"`
	Metadata  Metadata    `json:"metadata"`
}

// SubscriptionData is the data of the subscription.* events.
type SubscriptionData struct {
	SubscriptionCode string     `json:"subscription_code"`
	EmailToken       string     `json:"email_token"`
	Status           string     `json:"status"`
	Amount           int64      `json:"amount"`
	NextPaymentDate  *time.Time `json:"next_payment_date"`
	CreatedAt        *time.Time `json:"createdAt"`
	Customer         Customer   `json:"customer"`
	Plan             Plan       `json:"plan"`
}

// RefundData is the data of the refund.* events.
type RefundData struct {
	ID                   json.Number `json:"id"`
	Status               string      `json:"status"`
	TransactionReference string      `json:"transaction_reference"`
	RefundReference      string      `json:"refund_reference"`
	Amount               int64       `json:"amount"`
	Currency             string      `json:"currency"`
}

// Key returns the identifier used to deduplicate a refund event.
func (r RefundData) Key() string {
	if r.ID != "" {
		return r.ID.String()
	}
	if r.RefundReference != "" {
		return r.RefundReference
	}
	return r.TransactionReference
}

// Interval values used by Paystack plans.
const (
	IntervalMonthly  = "monthly"
	IntervalAnnually = "annually"
)

// ChargeID renders the numeric charge id, or "" when absent.
func (c ChargeData) ChargeID() string {
	if c.ID == "" {
		return ""
	}
	if n, err := c.ID.Int64(); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return c.ID.String()
}
