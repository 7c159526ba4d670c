package billing_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/complykit/complykit/pkg/events"
	"github.com/complykit/complykit/pkg/identity"
	"github.com/complykit/complykit/pkg/paystack"
	"github.com/complykit/complykit/pkg/redis"
	"github.com/complykit/complykit/svc/billing"
)

const testSecret = "sk_test_secret"

var (
	alice = identity.Caller{ProfileID: "profile-alice", Email: "alice@example.com", Role: identity.RoleUser}
	bob   = identity.Caller{ProfileID: "profile-bob", Email: "bob@example.com", Role: identity.RoleUser}
	admin = identity.Caller{ProfileID: "profile-admin", Email: "admin@example.com", Role: identity.RoleAdmin}
)

// testClock is a settable clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *testClock { return &testClock{t: t.UTC()} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t.UTC()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) InitializeCheckout(ctx context.Context, req billing.CheckoutRequest) (billing.Checkout, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(billing.Checkout), args.Error(1)
}

func (m *mockGateway) Refund(ctx context.Context, reference string) error {
	return m.Called(ctx, reference).Error(0)
}

func (m *mockGateway) DisableSubscription(ctx context.Context, code, emailToken string) error {
	return m.Called(ctx, code, emailToken).Error(0)
}

// recordingPublisher keeps every published message.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []events.Message
}

func (p *recordingPublisher) Publish(_ context.Context, msg events.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.Type
	}
	return out
}

// memoryCache is an EntitlementCache that records the ttl of every write.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]billing.Entitlements
	ttls    map[string]time.Duration
	gets    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]billing.Entitlements{}, ttls: map[string]time.Duration{}}
}

func (c *memoryCache) Get(_ context.Context, key string) (billing.Entitlements, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	e, ok := c.entries[key]
	if !ok {
		return billing.Entitlements{}, redis.ErrCacheMiss
	}
	return e, nil
}

func (c *memoryCache) Set(_ context.Context, key string, v billing.Entitlements, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = v
	c.ttls[key] = ttl
	return nil
}

func (c *memoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	return nil
}

func (c *memoryCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// fixture is an engine wired to the in-memory store.
type fixture struct {
	store      *billing.MemoryStore
	clock      *testClock
	gateway    *mockGateway
	publisher  *recordingPublisher
	cache      *memoryCache
	resolver   *billing.Resolver
	manager    *billing.Manager
	reconciler *billing.Reconciler
	catalog    *billing.Catalog
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	return newFixtureWithConfig(t, now, billing.DefaultConfig())
}

func newFixtureWithConfig(t *testing.T, now time.Time, cfg billing.Config) *fixture {
	t.Helper()

	f := &fixture{
		store:     billing.NewMemoryStore(),
		clock:     newClock(now),
		gateway:   &mockGateway{},
		publisher: &recordingPublisher{},
		cache:     newMemoryCache(),
	}
	opts := []billing.Option{
		billing.WithClock(f.clock.Now),
		billing.WithPublisher(f.publisher),
	}
	f.resolver = billing.NewResolver(f.store, f.cache, cfg.CacheTTL, opts...)
	f.manager = billing.NewManager(f.store, f.gateway, f.resolver, cfg, opts...)
	f.reconciler = billing.NewReconciler(f.store, f.resolver, testSecret, opts...)
	f.catalog = billing.NewCatalog(f.store, opts...)
	t.Cleanup(func() { f.gateway.AssertExpectations(t) })
	return f
}

// seedPackage stores a permission with flags and a package granting it.
func (f *fixture) seedPackage(t *testing.T, slug string, typ billing.PackageType, flags billing.Flags) billing.Package {
	t.Helper()
	ctx := context.Background()
	now := f.clock.Now()

	perm := billing.Permission{ID: uuid.New(), Name: slug + " permission", Flags: flags, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, f.store.CreatePermission(ctx, perm))

	pkg := billing.Package{
		ID:           uuid.New(),
		Name:         slug,
		Slug:         slug,
		Type:         typ,
		PermissionID: perm.ID,
		IsActive:     true,
		Price:        15000,
		Currency:     "ZAR",
		PlanCode:     "PLN_" + slug,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, f.store.CreatePackage(ctx, pkg))
	return pkg
}

// seedSubscription stores a subscription row directly.
func (f *fixture) seedSubscription(t *testing.T, owner identity.Caller, pkg billing.Package, status billing.Status, start, end time.Time) billing.Subscription {
	t.Helper()
	sub := billing.Subscription{
		ID:                   uuid.New(),
		ProfileID:            owner.ProfileID,
		PackageID:            pkg.ID,
		StartDate:            start.UTC(),
		EndDate:              end.UTC(),
		Status:               status,
		TransactionReference: "ref_" + uuid.NewString(),
		CustomerCode:         "CUS_" + owner.ProfileID,
		CreatedAt:            f.clock.Now(),
		UpdatedAt:            f.clock.Now(),
		Version:              1,
	}
	created, err := f.store.CreateSubscription(context.Background(), sub)
	require.NoError(t, err)
	require.True(t, created)
	return sub
}

// interleavingStore runs a competing writer once, right before the next
// subscription update, so it commits between a read and the write built
// from that read.
type interleavingStore struct {
	billing.Store

	mu        sync.Mutex
	before    func(ctx context.Context)
	afterRead func(ctx context.Context)
}

func (s *interleavingStore) interleave(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.before = fn
}

func (s *interleavingStore) UpdateSubscription(ctx context.Context, sub billing.Subscription) (bool, error) {
	s.mu.Lock()
	before := s.before
	s.before = nil
	s.mu.Unlock()

	if before != nil {
		before(ctx)
	}
	return s.Store.UpdateSubscription(ctx, sub)
}

// interleaveRead runs fn once, after the next active-subscription read has
// returned and before its caller sees the rows.
func (s *interleavingStore) interleaveRead(fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.afterRead = fn
}

func (s *interleavingStore) ActiveSubscriptions(ctx context.Context, profileID string, now time.Time) ([]billing.Subscription, error) {
	subs, err := s.Store.ActiveSubscriptions(ctx, profileID, now)

	s.mu.Lock()
	after := s.afterRead
	s.afterRead = nil
	s.mu.Unlock()

	if after != nil {
		after(ctx)
	}
	return subs, err
}

// newInterleavedFixture wires the engine through an interleavingStore over
// the fixture's memory store.
func newInterleavedFixture(t *testing.T, now time.Time) (*fixture, *interleavingStore) {
	t.Helper()

	f := newFixture(t, now)
	store := &interleavingStore{Store: f.store}
	cfg := billing.DefaultConfig()
	opts := []billing.Option{
		billing.WithClock(f.clock.Now),
		billing.WithPublisher(f.publisher),
	}
	f.resolver = billing.NewResolver(store, f.cache, cfg.CacheTTL, opts...)
	f.manager = billing.NewManager(store, f.gateway, f.resolver, cfg, opts...)
	f.reconciler = billing.NewReconciler(store, f.resolver, testSecret, opts...)
	return f, store
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) billing.Subscription {
	t.Helper()
	sub, err := f.store.GetSubscription(context.Background(), id)
	require.NoError(t, err)
	return sub
}

// webhook builds a signed Paystack delivery.
func webhook(t *testing.T, event string, data any) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{"event": event, "data": data})
	require.NoError(t, err)
	return body, paystack.Sign(testSecret, body)
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
