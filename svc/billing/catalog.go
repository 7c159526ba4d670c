package billing

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/complykit/complykit/pkg/cursor"
	"github.com/complykit/complykit/pkg/identity"
	"github.com/complykit/complykit/pkg/logger"
	"github.com/complykit/complykit/pkg/validator"
)

// DefaultCurrency applies to packages created without a currency.
const DefaultCurrency = "ZAR"

// Catalog manages packages and permissions. Reads are open to any
// authenticated caller, writes require the admin role.
type Catalog struct {
	store Store
	opts  options
}

func NewCatalog(store Store, opts ...Option) *Catalog {
	if store == nil {
		panic("billing: Store is required")
	}
	return &Catalog{store: store, opts: newOptions("catalog", opts)}
}

type PermissionInput struct {
	Name string `json:"permission_name"`
	Flags
}

// PermissionPatch changes only the non-nil fields.
type PermissionPatch struct {
	Name        *string `json:"permission_name"`
	PSIRA       *bool   `json:"psira_access"`
	Firearm     *bool   `json:"firearm_access"`
	Vehicle     *bool   `json:"vehicle_access"`
	Certificate *bool   `json:"certificate_access"`
	Drivers     *bool   `json:"drivers_access"`
}

type PackageInput struct {
	Name         string      `json:"package_name"`
	Slug         string      `json:"slug"`
	Type         PackageType `json:"type"`
	PermissionID string      `json:"permission_id"`
	Description  string      `json:"description"`
	IsActive     *bool       `json:"is_active"`
	Price        int64       `json:"price"`
	Currency     string      `json:"currency"`
	PlanCode     string      `json:"plan_code"`
}

// PackagePatch changes only the non-nil fields.
type PackagePatch struct {
	Name         *string      `json:"package_name"`
	Slug         *string      `json:"slug"`
	Type         *PackageType `json:"type"`
	PermissionID *string      `json:"permission_id"`
	Description  *string      `json:"description"`
	IsActive     *bool        `json:"is_active"`
	Price        *int64       `json:"price"`
	Currency     *string      `json:"currency"`
	PlanCode     *string      `json:"plan_code"`
}

func (c *Catalog) CreatePermission(ctx context.Context, caller identity.Caller, in PermissionInput) (Permission, error) {
	if !caller.IsAdmin() {
		return Permission{}, ErrForbidden
	}
	now := cursor.Normalize(c.opts.clock())
	p := Permission{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(in.Name),
		Flags:     in.Flags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := validatePermission(p); err != nil {
		return Permission{}, err
	}
	if err := c.store.CreatePermission(ctx, p); err != nil {
		return Permission{}, err
	}
	c.opts.log.InfoContext(ctx, "permission created", logger.ProfileID(caller.ProfileID), slog.String("permission_id", p.ID.String()))
	return p, nil
}

func (c *Catalog) UpdatePermission(ctx context.Context, caller identity.Caller, id uuid.UUID, patch PermissionPatch) (Permission, error) {
	if !caller.IsAdmin() {
		return Permission{}, ErrForbidden
	}
	p, err := c.store.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	setBool(&p.PSIRA, patch.PSIRA)
	setBool(&p.Firearm, patch.Firearm)
	setBool(&p.Vehicle, patch.Vehicle)
	setBool(&p.Certificate, patch.Certificate)
	setBool(&p.Drivers, patch.Drivers)
	p.UpdatedAt = c.opts.clock()

	if err := validatePermission(p); err != nil {
		return Permission{}, err
	}
	if err := c.store.UpdatePermission(ctx, p); err != nil {
		return Permission{}, err
	}
	return p, nil
}

// DeletePermission removes a permission no package references.
func (c *Catalog) DeletePermission(ctx context.Context, caller identity.Caller, id uuid.UUID) error {
	if !caller.IsAdmin() {
		return ErrForbidden
	}
	if err := c.store.DeletePermission(ctx, id); err != nil {
		return err
	}
	c.opts.log.InfoContext(ctx, "permission deleted", logger.ProfileID(caller.ProfileID), slog.String("permission_id", id.String()))
	return nil
}

func (c *Catalog) GetPermission(ctx context.Context, id uuid.UUID) (Permission, error) {
	return c.store.GetPermission(ctx, id)
}

func (c *Catalog) ListPermissions(ctx context.Context, q cursor.Query) (cursor.Page[Permission], error) {
	rows, err := c.store.ListPermissions(ctx, q)
	if err != nil {
		return cursor.Page[Permission]{}, err
	}
	return cursor.Paginate(rows, q, Permission.Cursor), nil
}

func (c *Catalog) CreatePackage(ctx context.Context, caller identity.Caller, in PackageInput) (Package, error) {
	if !caller.IsAdmin() {
		return Package{}, ErrForbidden
	}
	if err := validator.Apply(
		validator.Required("permission_id", in.PermissionID),
		validator.When(in.PermissionID != "", validator.UUID("permission_id", in.PermissionID)),
	); err != nil {
		return Package{}, err
	}

	now := cursor.Normalize(c.opts.clock())
	p := Package{
		ID:           uuid.New(),
		Name:         strings.TrimSpace(in.Name),
		Slug:         normalizeSlug(in.Slug),
		Type:         in.Type,
		PermissionID: uuid.MustParse(in.PermissionID),
		Description:  strings.TrimSpace(in.Description),
		IsActive:     in.IsActive == nil || *in.IsActive,
		Price:        in.Price,
		Currency:     normalizeCurrency(in.Currency),
		PlanCode:     strings.TrimSpace(in.PlanCode),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := validatePackage(p); err != nil {
		return Package{}, err
	}
	if err := c.store.CreatePackage(ctx, p); err != nil {
		return Package{}, packageError(err)
	}
	c.opts.log.InfoContext(ctx, "package created", logger.ProfileID(caller.ProfileID), logger.PackageID(p.ID))
	return p, nil
}

func (c *Catalog) UpdatePackage(ctx context.Context, caller identity.Caller, id uuid.UUID, patch PackagePatch) (Package, error) {
	if !caller.IsAdmin() {
		return Package{}, ErrForbidden
	}
	p, err := c.store.GetPackage(ctx, id)
	if err != nil {
		return Package{}, err
	}

	if patch.PermissionID != nil {
		if err := validator.Apply(validator.UUID("permission_id", *patch.PermissionID)); err != nil {
			return Package{}, err
		}
		p.PermissionID = uuid.MustParse(*patch.PermissionID)
	}
	if patch.Name != nil {
		p.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Slug != nil {
		p.Slug = normalizeSlug(*patch.Slug)
	}
	if patch.Type != nil {
		p.Type = *patch.Type
	}
	if patch.Description != nil {
		p.Description = strings.TrimSpace(*patch.Description)
	}
	setBool(&p.IsActive, patch.IsActive)
	if patch.Price != nil {
		p.Price = *patch.Price
	}
	if patch.Currency != nil {
		p.Currency = normalizeCurrency(*patch.Currency)
	}
	if patch.PlanCode != nil {
		p.PlanCode = strings.TrimSpace(*patch.PlanCode)
	}
	p.UpdatedAt = c.opts.clock()

	if err := validatePackage(p); err != nil {
		return Package{}, err
	}
	if err := c.store.UpdatePackage(ctx, p); err != nil {
		return Package{}, packageError(err)
	}
	return p, nil
}

// DeletePackage soft-deletes: subscriptions keep referencing the row.
func (c *Catalog) DeletePackage(ctx context.Context, caller identity.Caller, id uuid.UUID) (Package, error) {
	inactive := false
	p, err := c.UpdatePackage(ctx, caller, id, PackagePatch{IsActive: &inactive})
	if err != nil {
		return Package{}, err
	}
	c.opts.log.InfoContext(ctx, "package deactivated", logger.ProfileID(caller.ProfileID), logger.PackageID(id))
	return p, nil
}

// GetPackage hides inactive packages from non-admins.
func (c *Catalog) GetPackage(ctx context.Context, caller identity.Caller, id uuid.UUID) (Package, error) {
	p, err := c.store.GetPackage(ctx, id)
	if err != nil {
		return Package{}, err
	}
	if !p.IsActive && !caller.IsAdmin() {
		return Package{}, ErrPackageNotFound
	}
	return p, nil
}

// ListPackages lists active packages. Admins may include inactive ones.
func (c *Catalog) ListPackages(ctx context.Context, caller identity.Caller, includeInactive bool, q cursor.Query) (cursor.Page[Package], error) {
	f := PackageFilter{IncludeInactive: includeInactive && caller.IsAdmin()}
	rows, err := c.store.ListPackages(ctx, f, q)
	if err != nil {
		return cursor.Page[Package]{}, err
	}
	return cursor.Paginate(rows, q, Package.Cursor), nil
}

func validatePermission(p Permission) error {
	return validator.Apply(
		validator.Required("permission_name", p.Name),
		validator.MaxLen("permission_name", p.Name, 100),
	)
}

func validatePackage(p Package) error {
	return validator.Apply(
		validator.Required("package_name", p.Name),
		validator.MaxLen("package_name", p.Name, 100),
		validator.Required("slug", p.Slug),
		validator.When(p.Slug != "", validator.Slug("slug", p.Slug)),
		validator.MaxLen("slug", p.Slug, 64),
		validator.OneOf("type", p.Type, PackageMonthly, PackageYearly),
		validator.MaxLen("description", p.Description, 1000),
		validator.Positive("price", p.Price),
		validator.CurrencyCode("currency", p.Currency),
		validator.MaxLen("plan_code", p.PlanCode, 64),
	)
}

// packageError turns a dangling permission reference into a field error.
func packageError(err error) error {
	if errors.Is(err, ErrPermissionNotFound) {
		return validator.Apply(validator.Check("permission_id", "not_found", "permission does not exist", false))
	}
	return err
}

func normalizeSlug(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeCurrency(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DefaultCurrency
	}
	return s
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
