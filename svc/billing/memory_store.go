package billing

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/complykit/complykit/pkg/cursor"
)

// MemoryStore is an in-process Store for tests and local development.
// Transactions are serialized and rolled back by restoring a snapshot.
type MemoryStore struct {
	txMu sync.Mutex

	mu            sync.RWMutex
	subscriptions map[uuid.UUID]Subscription
	packages      map[uuid.UUID]Package
	permissions   map[uuid.UUID]Permission
	events        map[string]time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		subscriptions: make(map[uuid.UUID]Subscription),
		packages:      make(map[uuid.UUID]Package),
		permissions:   make(map[uuid.UUID]Permission),
		events:        make(map[string]time.Time),
	}
}

type memTxKey struct{}

type memSnapshot struct {
	subscriptions map[uuid.UUID]Subscription
	packages      map[uuid.UUID]Package
	permissions   map[uuid.UUID]Permission
	events        map[string]time.Time
}

func (m *MemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}

	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.RLock()
	snap := memSnapshot{
		subscriptions: maps.Clone(m.subscriptions),
		packages:      maps.Clone(m.packages),
		permissions:   maps.Clone(m.permissions),
		events:        maps.Clone(m.events),
	}
	m.mu.RUnlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, true)); err != nil {
		m.mu.Lock()
		m.subscriptions = snap.subscriptions
		m.packages = snap.packages
		m.permissions = snap.permissions
		m.events = snap.events
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *MemoryStore) GetSubscription(_ context.Context, id uuid.UUID) (Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.subscriptions[id]
	if !ok {
		return Subscription{}, ErrSubscriptionNotFound
	}
	return s, nil
}

// LockSubscription is GetSubscription: the transaction mutex already
// excludes other transactions.
func (m *MemoryStore) LockSubscription(ctx context.Context, id uuid.UUID) (Subscription, error) {
	return m.GetSubscription(ctx, id)
}

func (m *MemoryStore) FindSubscriptionByReference(_ context.Context, reference string) (Subscription, error) {
	return m.findSubscription(func(s Subscription) bool {
		return reference != "" && s.TransactionReference == reference
	})
}

func (m *MemoryStore) FindSubscriptionByCode(_ context.Context, code string) (Subscription, error) {
	return m.findSubscription(func(s Subscription) bool {
		return code != "" && s.SubscriptionCode == code
	})
}

func (m *MemoryStore) FindRenewable(_ context.Context, customerCode string, packageID uuid.UUID) (Subscription, error) {
	return m.findSubscription(func(s Subscription) bool {
		return customerCode != "" &&
			s.CustomerCode == customerCode &&
			s.PackageID == packageID &&
			s.Status == StatusActive
	})
}

// findSubscription returns the newest row matching match.
func (m *MemoryStore) findSubscription(match func(Subscription) bool) (Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		found Subscription
		ok    bool
	)
	for _, s := range m.subscriptions {
		if !match(s) {
			continue
		}
		if !ok || cursor.Compare(s.Cursor(), found.Cursor()) > 0 {
			found, ok = s, true
		}
	}
	if !ok {
		return Subscription{}, ErrSubscriptionNotFound
	}
	return found, nil
}

func (m *MemoryStore) ListSubscriptions(_ context.Context, f SubscriptionFilter, q cursor.Query) ([]Subscription, error) {
	m.mu.RLock()
	rows := make([]Subscription, 0, len(m.subscriptions))
	for _, s := range m.subscriptions {
		if f.ProfileID != "" && s.ProfileID != f.ProfileID {
			continue
		}
		if f.Status != "" && s.EffectiveStatus(f.Now) != f.Status {
			continue
		}
		rows = append(rows, s)
	}
	m.mu.RUnlock()

	return cursor.Window(rows, q, Subscription.Cursor), nil
}

func (m *MemoryStore) ActiveSubscriptions(_ context.Context, profileID string, now time.Time) ([]Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Subscription
	for _, s := range m.subscriptions {
		if s.ProfileID == profileID && s.EffectivelyActive(now) {
			out = append(out, s)
		}
	}
	cursor.Sort(out, cursor.Asc, Subscription.Cursor)
	return out, nil
}

func (m *MemoryStore) CreateSubscription(_ context.Context, s Subscription) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.TransactionReference != "" {
		for _, existing := range m.subscriptions {
			if existing.TransactionReference == s.TransactionReference {
				return false, nil
			}
		}
	}
	s.Version = max(s.Version, 1)
	m.subscriptions[s.ID] = s
	return true, nil
}

func (m *MemoryStore) UpdateSubscription(_ context.Context, s Subscription) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.subscriptions[s.ID]
	if !ok || current.Version != s.Version {
		return false, nil
	}
	s.CreatedAt = current.CreatedAt
	s.Version++
	m.subscriptions[s.ID] = s
	return true, nil
}

func (m *MemoryStore) MarkEventProcessed(_ context.Context, key, _ string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, seen := m.events[key]; seen {
		return false, nil
	}
	m.events[key] = at
	return true, nil
}

func (m *MemoryStore) CreatePermission(_ context.Context, p Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.permissions[p.ID] = p
	return nil
}

func (m *MemoryStore) UpdatePermission(_ context.Context, p Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.permissions[p.ID]
	if !ok {
		return ErrPermissionNotFound
	}
	p.CreatedAt = current.CreatedAt
	m.permissions[p.ID] = p
	return nil
}

func (m *MemoryStore) GetPermission(_ context.Context, id uuid.UUID) (Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.permissions[id]
	if !ok {
		return Permission{}, ErrPermissionNotFound
	}
	return p, nil
}

func (m *MemoryStore) ListPermissions(_ context.Context, q cursor.Query) ([]Permission, error) {
	m.mu.RLock()
	rows := slices.Collect(maps.Values(m.permissions))
	m.mu.RUnlock()

	return cursor.Window(rows, q, Permission.Cursor), nil
}

func (m *MemoryStore) DeletePermission(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.permissions[id]; !ok {
		return ErrPermissionNotFound
	}
	for _, p := range m.packages {
		if p.PermissionID == id {
			return ErrPermissionInUse
		}
	}
	delete(m.permissions, id)
	return nil
}

func (m *MemoryStore) PermissionsForPackages(_ context.Context, packageIDs []uuid.UUID) (map[uuid.UUID]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[uuid.UUID]Permission, len(packageIDs))
	for _, id := range packageIDs {
		pkg, ok := m.packages[id]
		if !ok {
			continue
		}
		if perm, ok := m.permissions[pkg.PermissionID]; ok {
			out[id] = perm
		}
	}
	return out, nil
}

func (m *MemoryStore) CreatePackage(_ context.Context, p Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkPackage(p); err != nil {
		return err
	}
	m.packages[p.ID] = p
	return nil
}

func (m *MemoryStore) UpdatePackage(_ context.Context, p Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.packages[p.ID]
	if !ok {
		return ErrPackageNotFound
	}
	if err := m.checkPackage(p); err != nil {
		return err
	}
	p.CreatedAt = current.CreatedAt
	m.packages[p.ID] = p
	return nil
}

// checkPackage enforces the constraints the database declares.
func (m *MemoryStore) checkPackage(p Package) error {
	if _, ok := m.permissions[p.PermissionID]; !ok {
		return ErrPermissionNotFound
	}
	for _, other := range m.packages {
		if other.ID != p.ID && other.Slug == p.Slug {
			return ErrDuplicateSlug
		}
	}
	return nil
}

func (m *MemoryStore) GetPackage(_ context.Context, id uuid.UUID) (Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.packages[id]
	if !ok {
		return Package{}, ErrPackageNotFound
	}
	return p, nil
}

func (m *MemoryStore) FindPackageByPlanCode(_ context.Context, planCode string) (Package, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.packages {
		if planCode != "" && p.PlanCode == planCode {
			return p, nil
		}
	}
	return Package{}, ErrPackageNotFound
}

func (m *MemoryStore) ListPackages(_ context.Context, f PackageFilter, q cursor.Query) ([]Package, error) {
	m.mu.RLock()
	rows := make([]Package, 0, len(m.packages))
	for _, p := range m.packages {
		if !f.IncludeInactive && !p.IsActive {
			continue
		}
		rows = append(rows, p)
	}
	m.mu.RUnlock()

	return cursor.Window(rows, q, Package.Cursor), nil
}
