package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/complykit/complykit/pkg/validator"
	billingsvc "github.com/complykit/complykit/svc/billing"
)

// Path and query fields are tagged json:"-" so a body cannot set them.

type listSubscriptionsRequest struct {
	Status string `query:"status" json:"-"`
	Cursor string `query:"cursor" json:"-"`
	Limit  *int   `query:"limit" json:"-"`
	Order  string `query:"order" json:"-"`
}

type subscriptionActionRequest struct {
	Action         string `query:"action" json:"-"`
	ID             string `query:"id" json:"-"`
	IdempotencyKey string `header:"Idempotency-Key" json:"-"`
	billingsvc.ActionBody
}

type subscriptionRequest struct {
	ID string `path:"id" json:"-"`
}

type overrideRequest struct {
	ID               string             `path:"id" json:"-"`
	Status           *billingsvc.Status `json:"status"`
	PackageID        *uuid.UUID         `json:"package_id"`
	EndDate          *time.Time         `json:"end_date"`
	CurrentPeriodEnd *time.Time         `json:"current_period_end"`
}

type listPackagesRequest struct {
	IncludeInactive bool   `query:"include_inactive" json:"-"`
	Cursor          string `query:"cursor" json:"-"`
	Limit           *int   `query:"limit" json:"-"`
	Order           string `query:"order" json:"-"`
}

type packageRequest struct {
	ID string `path:"id" json:"-"`
}

type updatePackageRequest struct {
	ID string `path:"id" json:"-"`
	billingsvc.PackagePatch
}

type listPermissionsRequest struct {
	Cursor string `query:"cursor" json:"-"`
	Limit  *int   `query:"limit" json:"-"`
	Order  string `query:"order" json:"-"`
}

type permissionRequest struct {
	ID string `path:"id" json:"-"`
}

type updatePermissionRequest struct {
	ID string `path:"id" json:"-"`
	billingsvc.PermissionPatch
}

func parseID(raw string) (uuid.UUID, error) {
	if err := validator.Apply(validator.UUID("id", raw)); err != nil {
		return uuid.Nil, err
	}
	return uuid.MustParse(raw), nil
}
