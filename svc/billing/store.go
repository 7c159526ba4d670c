package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/complykit/complykit/pkg/cursor"
)

// Store persists subscriptions, the package catalog and processed webhook
// markers. Subscription writes are conditional: UpdateSubscription only
// applies when the stored status still equals expected.
type Store interface {
	// RunInTx runs fn in one transaction. Calls made with the context passed
	// to fn join it. Nested calls reuse the outer transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	GetSubscription(ctx context.Context, id uuid.UUID) (Subscription, error)
	// LockSubscription reads a row and holds it until the surrounding
	// transaction ends.
	LockSubscription(ctx context.Context, id uuid.UUID) (Subscription, error)
	FindSubscriptionByReference(ctx context.Context, reference string) (Subscription, error)
	FindSubscriptionByCode(ctx context.Context, code string) (Subscription, error)
	// FindRenewable returns the newest active row of a gateway customer on a
	// package.
	FindRenewable(ctx context.Context, customerCode string, packageID uuid.UUID) (Subscription, error)
	// ListSubscriptions returns up to q.FetchLimit() rows after q.After.
	ListSubscriptions(ctx context.Context, f SubscriptionFilter, q cursor.Query) ([]Subscription, error)
	ActiveSubscriptions(ctx context.Context, profileID string, now time.Time) ([]Subscription, error)
	// CreateSubscription reports false when the transaction reference is
	// already recorded.
	CreateSubscription(ctx context.Context, s Subscription) (bool, error)
	// UpdateSubscription writes s only if the stored row is still at
	// s.Version and reports whether it did. The stored version becomes
	// s.Version+1.
	UpdateSubscription(ctx context.Context, s Subscription) (bool, error)

	// MarkEventProcessed records a webhook event key and reports false when
	// it was already recorded.
	MarkEventProcessed(ctx context.Context, key, event string, at time.Time) (bool, error)

	CreatePermission(ctx context.Context, p Permission) error
	UpdatePermission(ctx context.Context, p Permission) error
	GetPermission(ctx context.Context, id uuid.UUID) (Permission, error)
	ListPermissions(ctx context.Context, q cursor.Query) ([]Permission, error)
	// DeletePermission returns ErrPermissionInUse while any package,
	// active or not, references the permission.
	DeletePermission(ctx context.Context, id uuid.UUID) error
	PermissionsForPackages(ctx context.Context, packageIDs []uuid.UUID) (map[uuid.UUID]Permission, error)

	CreatePackage(ctx context.Context, p Package) error
	UpdatePackage(ctx context.Context, p Package) error
	GetPackage(ctx context.Context, id uuid.UUID) (Package, error)
	FindPackageByPlanCode(ctx context.Context, planCode string) (Package, error)
	ListPackages(ctx context.Context, f PackageFilter, q cursor.Query) ([]Package, error)
}
