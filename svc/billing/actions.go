package billing

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/complykit/complykit/pkg/validator"
)

// ActionKind is the value of the action selector.
type ActionKind string

const (
	ActionInitialize ActionKind = "initialize"
	ActionCancel     ActionKind = "cancel"
	ActionRefund     ActionKind = "refund"
	ActionChangePlan ActionKind = "change-plan"
)

// Action is one lifecycle request. The set of implementations is closed:
// InitializeAction, CancelAction, RefundAction and ChangePlanAction.
type Action interface {
	Kind() ActionKind
	sealed()
}

type InitializeAction struct {
	PackageID   uuid.UUID
	CallbackURL string
	// IdempotencyKey, when set, makes the gateway reference deterministic so
	// a retried request cannot open a second checkout.
	IdempotencyKey string
}

type CancelAction struct {
	SubscriptionID uuid.UUID
}

type RefundAction struct {
	SubscriptionID uuid.UUID
}

type ChangePlanAction struct {
	SubscriptionID uuid.UUID
	NewPackageID   uuid.UUID
	CallbackURL    string
	IdempotencyKey string
}

func (InitializeAction) Kind() ActionKind { return ActionInitialize }
func (CancelAction) Kind() ActionKind     { return ActionCancel }
func (RefundAction) Kind() ActionKind     { return ActionRefund }
func (ChangePlanAction) Kind() ActionKind { return ActionChangePlan }

func (InitializeAction) sealed() {}
func (CancelAction) sealed()     {}
func (RefundAction) sealed()     {}
func (ChangePlanAction) sealed() {}

// ActionBody is the JSON body accepted by the action endpoint. Each action
// reads only its own fields.
type ActionBody struct {
	PackageID    string `json:"package_id"`
	NewPackageID string `json:"new_package_id"`
	CallbackURL  string `json:"callback_url"`
}

// ParseAction turns the raw selector, id and body into a typed Action.
// Unknown selectors fail with ErrUnknownAction; missing or malformed fields
// fail with validator.ValidationErrors.
func ParseAction(selector, id string, body ActionBody, idempotencyKey string) (Action, error) {
	kind := ActionKind(strings.TrimSpace(selector))
	idempotencyKey = strings.TrimSpace(idempotencyKey)

	switch kind {
	case ActionInitialize:
		if err := validator.Apply(
			validator.Required("package_id", body.PackageID),
			validator.When(body.PackageID != "", validator.UUID("package_id", body.PackageID)),
			callbackRule(body.CallbackURL),
			validator.MaxLen("idempotency_key", idempotencyKey, 128),
		); err != nil {
			return nil, err
		}
		return InitializeAction{
			PackageID:      uuid.MustParse(body.PackageID),
			CallbackURL:    body.CallbackURL,
			IdempotencyKey: idempotencyKey,
		}, nil

	case ActionCancel, ActionRefund:
		subID, err := parseSubscriptionID(id)
		if err != nil {
			return nil, err
		}
		if kind == ActionCancel {
			return CancelAction{SubscriptionID: subID}, nil
		}
		return RefundAction{SubscriptionID: subID}, nil

	case ActionChangePlan:
		if err := validator.Apply(
			validator.Required("id", id),
			validator.When(id != "", validator.UUID("id", id)),
			validator.Required("new_package_id", body.NewPackageID),
			validator.When(body.NewPackageID != "", validator.UUID("new_package_id", body.NewPackageID)),
			callbackRule(body.CallbackURL),
			validator.MaxLen("idempotency_key", idempotencyKey, 128),
		); err != nil {
			return nil, err
		}
		return ChangePlanAction{
			SubscriptionID: uuid.MustParse(id),
			NewPackageID:   uuid.MustParse(body.NewPackageID),
			CallbackURL:    body.CallbackURL,
			IdempotencyKey: idempotencyKey,
		}, nil
	}

	if kind == "" {
		return nil, fmt.Errorf("%w: action is required", ErrUnknownAction)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, kind)
}

func parseSubscriptionID(id string) (uuid.UUID, error) {
	if err := validator.Apply(
		validator.Required("id", id),
		validator.When(id != "", validator.UUID("id", id)),
	); err != nil {
		return uuid.Nil, err
	}
	return uuid.MustParse(id), nil
}

func callbackRule(raw string) validator.Rule {
	return validator.When(raw != "", validator.Check("callback_url", "url", "must be an absolute http(s) URL", validCallback(raw)))
}

func validCallback(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "https" || u.Scheme == "http") && u.Host != ""
}
