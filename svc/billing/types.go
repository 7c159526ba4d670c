package billing

import (
	"time"

	"github.com/google/uuid"

	"github.com/complykit/complykit/pkg/cursor"
)

// Status is the stored lifecycle state of a subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// IsTerminal reports whether no lifecycle action may change s.
func (s Status) IsTerminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusExpired, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Subscription mirrors a gateway subscription for one profile and package.
// Gateway correlation fields are empty until a webhook confirms them.
type Subscription struct {
	ID                   uuid.UUID  `json:"id"`
	ProfileID            string     `json:"profile_id"`
	PackageID            uuid.UUID  `json:"package_id"`
	StartDate            time.Time  `json:"start_date"`
	EndDate              time.Time  `json:"end_date"`
	Status               Status     `json:"status"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	TransactionReference string     `json:"transaction_reference,omitempty"`
	SubscriptionCode     string     `json:"subscription_code,omitempty"`
	CustomerCode         string     `json:"customer_code,omitempty"`
	EmailToken           string     `json:"-"`
	RefundedAt           *time.Time `json:"refunded_at"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	// Version increments on every stored update. Writers pass the version
	// they read so a write based on a stale row is refused.
	Version int64 `json:"version"`
}

// EffectivelyActive applies the read-time expiry check: a stored active row
// whose end date has passed grants nothing.
func (s Subscription) EffectivelyActive(now time.Time) bool {
	return s.Status == StatusActive && s.EndDate.After(now)
}

// EffectiveStatus is the status callers see. Expiry is derived, never
// written by a lifecycle action.
func (s Subscription) EffectiveStatus(now time.Time) Status {
	if s.Status == StatusActive && !s.EndDate.After(now) {
		return StatusExpired
	}
	return s.Status
}

// View returns a copy carrying the effective status.
func (s Subscription) View(now time.Time) Subscription {
	s.Status = s.EffectiveStatus(now)
	return s
}

func (s Subscription) Cursor() cursor.Cursor {
	return cursor.Of(s.CreatedAt, s.ID.String())
}

// SubscriptionFilter scopes a subscription listing. An empty ProfileID lists
// every profile. Status matches the effective status at Now.
type SubscriptionFilter struct {
	ProfileID string
	Status    Status
	Now       time.Time
}

// PackageType is the billing period of a package.
type PackageType string

const (
	PackageMonthly PackageType = "monthly"
	PackageYearly  PackageType = "yearly"
)

// PeriodEnd returns the end of one billing period starting at start.
func (t PackageType) PeriodEnd(start time.Time) time.Time {
	if t == PackageYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

type Package struct {
	ID           uuid.UUID   `json:"id"`
	Name         string      `json:"package_name"`
	Slug         string      `json:"slug"`
	Type         PackageType `json:"type"`
	PermissionID uuid.UUID   `json:"permission_id"`
	Description  string      `json:"description"`
	IsActive     bool        `json:"is_active"`
	Price        int64       `json:"price"`
	Currency     string      `json:"currency"`
	PlanCode     string      `json:"plan_code,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func (p Package) Cursor() cursor.Cursor {
	return cursor.Of(p.CreatedAt, p.ID.String())
}

// PackageFilter scopes a package listing.
type PackageFilter struct {
	IncludeInactive bool
}

// Flag names one feature a permission can grant.
type Flag string

const (
	FlagPSIRA       Flag = "psira_access"
	FlagFirearm     Flag = "firearm_access"
	FlagVehicle     Flag = "vehicle_access"
	FlagCertificate Flag = "certificate_access"
	FlagDrivers     Flag = "drivers_access"
)

// AllFlags lists every known flag.
var AllFlags = []Flag{FlagPSIRA, FlagFirearm, FlagVehicle, FlagCertificate, FlagDrivers}

// Flags is the set of feature-access booleans.
type Flags struct {
	PSIRA       bool `json:"psira_access"`
	Firearm     bool `json:"firearm_access"`
	Vehicle     bool `json:"vehicle_access"`
	Certificate bool `json:"certificate_access"`
	Drivers     bool `json:"drivers_access"`
}

// Or returns the union of f and o.
func (f Flags) Or(o Flags) Flags {
	return Flags{
		PSIRA:       f.PSIRA || o.PSIRA,
		Firearm:     f.Firearm || o.Firearm,
		Vehicle:     f.Vehicle || o.Vehicle,
		Certificate: f.Certificate || o.Certificate,
		Drivers:     f.Drivers || o.Drivers,
	}
}

// Has reports whether flag is granted. Unknown flags are never granted.
func (f Flags) Has(flag Flag) bool {
	switch flag {
	case FlagPSIRA:
		return f.PSIRA
	case FlagFirearm:
		return f.Firearm
	case FlagVehicle:
		return f.Vehicle
	case FlagCertificate:
		return f.Certificate
	case FlagDrivers:
		return f.Drivers
	}
	return false
}

func allGranted() Flags {
	return Flags{PSIRA: true, Firearm: true, Vehicle: true, Certificate: true, Drivers: true}
}

type Permission struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"permission_name"`
	Flags
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p Permission) Cursor() cursor.Cursor {
	return cursor.Of(p.CreatedAt, p.ID.String())
}

// Entitlements is the resolved feature access of one caller.
type Entitlements struct {
	Flags                   Flags `json:"flags"`
	ActiveSubscriptionCount int   `json:"active_subscription_count"`
	Admin                   bool  `json:"admin"`
	// ValidUntil is the earliest end date among the qualifying
	// subscriptions; the result must not be reused past it.
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// HasActiveSubscription is true for admins and for callers with at least one
// qualifying subscription.
func (e Entitlements) HasActiveSubscription() bool {
	return e.Admin || e.ActiveSubscriptionCount > 0
}

func (e Entitlements) HasPermission(flag Flag) bool {
	return e.Admin || e.Flags.Has(flag)
}
