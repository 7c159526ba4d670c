package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complykit/complykit/handler"
	"github.com/complykit/complykit/modules/billing"
	"github.com/complykit/complykit/pkg/identity"
	"github.com/complykit/complykit/pkg/paystack"
	"github.com/complykit/complykit/pkg/ratelimiter"
	billingsvc "github.com/complykit/complykit/svc/billing"
)

const webhookSecret = "sk_test_module"

var (
	alice = identity.Caller{ProfileID: "profile-alice", Email: "alice@example.com", Role: identity.RoleUser}
	bob   = identity.Caller{ProfileID: "profile-bob", Email: "bob@example.com", Role: identity.RoleUser}
	admin = identity.Caller{ProfileID: "profile-admin", Email: "admin@example.com", Role: identity.RoleAdmin}
)

// fakeGateway approves every request and records refunds.
type fakeGateway struct {
	mu      sync.Mutex
	refunds []string
}

func (g *fakeGateway) InitializeCheckout(_ context.Context, req billingsvc.CheckoutRequest) (billingsvc.Checkout, error) {
	return billingsvc.Checkout{
		AuthorizationURL: "https://checkout.paystack.com/" + req.Reference,
		Reference:        req.Reference,
		AccessCode:       "ac_" + req.Reference,
	}, nil
}

func (g *fakeGateway) Refund(_ context.Context, reference string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refunds = append(g.refunds, reference)
	return nil
}

func (g *fakeGateway) DisableSubscription(context.Context, string, string) error { return nil }

type server struct {
	t        *testing.T
	handler  http.Handler
	store    *billingsvc.MemoryStore
	verifier *identity.Verifier
	now      time.Time
}

func newServer(t *testing.T, now time.Time, modOpts ...billing.Option) *server {
	t.Helper()

	store := billingsvc.NewMemoryStore()
	clock := func() time.Time { return now }
	log := slog.New(slog.DiscardHandler)
	opts := []billingsvc.Option{billingsvc.WithClock(clock), billingsvc.WithLogger(log)}

	resolver := billingsvc.NewResolver(store, nil, 0, opts...)
	verifier := identity.NewVerifier(identity.Config{Secret: "jwt-test-secret", Leeway: time.Second})
	mod := billing.NewModule(billing.Services{
		Manager:    billingsvc.NewManager(store, &fakeGateway{}, resolver, billingsvc.DefaultConfig(), opts...),
		Resolver:   resolver,
		Reconciler: billingsvc.NewReconciler(store, resolver, webhookSecret, opts...),
		Catalog:    billingsvc.NewCatalog(store, opts...),
	}, verifier, log, modOpts...)

	return &server{t: t, handler: mod.Handle(), store: store, verifier: verifier, now: now}
}

func (s *server) do(method, target string, as *identity.Caller, body any, headers ...string) (*httptest.ResponseRecorder, handler.Envelope) {
	s.t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if as != nil {
		token, err := s.verifier.Issue(*as, time.Hour)
		require.NoError(s.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var env handler.Envelope
	if w.Body.Len() > 0 {
		require.NoError(s.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

// decode re-marshals envelope data into out.
func decode(t *testing.T, data any, out any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func (s *server) seedPackage(slug string, flags billingsvc.Flags) billingsvc.Package {
	s.t.Helper()

	w, env := s.do(http.MethodPost, "/permissions", &admin, map[string]any{
		"permission_name": slug,
		"firearm_access":  flags.Firearm,
		"vehicle_access":  flags.Vehicle,
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var perm billingsvc.Permission
	decode(s.t, env.Data, &perm)

	w, env = s.do(http.MethodPost, "/packages", &admin, map[string]any{
		"package_name":  "Guard " + slug,
		"slug":          slug,
		"type":          "monthly",
		"permission_id": perm.ID.String(),
		"price":         15000,
		"plan_code":     "PLN_" + slug,
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	var pkg billingsvc.Package
	decode(s.t, env.Data, &pkg)
	return pkg
}

func (s *server) seedSubscription(owner identity.Caller, pkg billingsvc.Package, start time.Time) billingsvc.Subscription {
	s.t.Helper()
	sub := billingsvc.Subscription{
		ID:                   uuid.New(),
		ProfileID:            owner.ProfileID,
		PackageID:            pkg.ID,
		StartDate:            start,
		EndDate:              start.AddDate(0, 1, 0),
		Status:               billingsvc.StatusActive,
		TransactionReference: "ref_" + uuid.NewString(),
		CreatedAt:            start,
		UpdatedAt:            start,
		Version:              1,
	}
	created, err := s.store.CreateSubscription(context.Background(), sub)
	require.NoError(s.t, err)
	require.True(s.t, created)
	return sub
}

var now = time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)

func TestModule_RequiresBearerToken(t *testing.T) {
	t.Parallel()
	s := newServer(t, now)

	for _, target := range []string{"/subscriptions", "/entitlements", "/packages", "/permissions"} {
		w, env := s.do(http.MethodGet, target, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, target)
		assert.False(t, env.Success)
		require.NotNil(t, env.Error)
		assert.Equal(t, "unauthorized", env.Error.Code)
	}

	w, _ := s.do(http.MethodGet, "/entitlements", nil, nil, "Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestModule_WebhookActivatesSubscription(t *testing.T) {
	t.Parallel()
	s := newServer(t, now)
	pkg := s.seedPackage("firearm", billingsvc.Flags{Firearm: true})

	body, err := json.Marshal(map[string]any{
		"event": paystack.EventChargeSuccess,
		"data": map[string]any{
			"reference": "ref_checkout",
			"status":    "success",
			"paid_at":   now.Format(time.RFC3339),
			"customer":  map[string]any{"customer_code": "CUS_alice"},
			"plan":      map[string]any{"plan_code": pkg.PlanCode},
			"metadata": map[string]any{
				billingsvc.MetaProfileID: alice.ProfileID,
				billingsvc.MetaPackageID: pkg.ID.String(),
			},
		},
	})
	require.NoError(t, err)

	post := func(signature string) int {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/paystack", bytes.NewReader(body))
		req.Header.Set(billing.SignatureHeader, signature)
		w := httptest.NewRecorder()
		s.handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusUnauthorized, post("bad"))
	assert.Equal(t, http.StatusOK, post(paystack.Sign(webhookSecret, body)))
	assert.Equal(t, http.StatusOK, post(paystack.Sign(webhookSecret, body)), "redeliveries are acknowledged")

	w, env := s.do(http.MethodGet, "/entitlements", &alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var ent billingsvc.Entitlements
	decode(t, env.Data, &ent)
	assert.True(t, ent.Flags.Firearm)
	assert.False(t, ent.Flags.Vehicle)
	assert.Equal(t, 1, ent.ActiveSubscriptionCount)

	w, env = s.do(http.MethodGet, "/subscriptions", &alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page struct {
		Items      []billingsvc.Subscription `json:"items"`
		NextCursor *string                   `json:"nextCursor"`
	}
	decode(t, env.Data, &page)
	require.Len(t, page.Items, 1)
	assert.Nil(t, page.NextCursor)
}

func TestModule_AcknowledgesUnusableSignedWebhook(t *testing.T) {
	t.Parallel()
	s := newServer(t, now)

	body := []byte(`{"event":"charge.success","data":"oops"}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/paystack", bytes.NewReader(body))
	req.Header.Set(billing.SignatureHeader, paystack.Sign(webhookSecret, body))
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestModule_InitializeCheckout(t *testing.T) {
	t.Parallel()
	s := newServer(t, now)
	pkg := s.seedPackage("firearm", billingsvc.Flags{Firearm: true})

	w, env := s.do(http.MethodPost, "/subscriptions?action=initialize", &alice,
		map[string]any{"package_id": pkg.ID.String()},
		"Idempotency-Key", "checkout-1",
	)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res billingsvc.Result
	decode(t, env.Data, &res)
	assert.Equal(t, billingsvc.ActionInitialize, res.Action)
	require.NotNil(t, res.Checkout)
	assert.Contains(t, res.Checkout.AuthorizationURL, res.Checkout.Reference)

	_, env2 := s.do(http.MethodPost, "/subscriptions?action=initialize", &alice,
		map[string]any{"package_id": pkg.ID.String()},
		"Idempotency-Key", "checkout-1",
	)
	var again billingsvc.Result
	decode(t, env2.Data, &again)
	assert.Equal(t, res.Checkout.Reference, again.Checkout.Reference, "same key, same reference")
}

func TestModule_ActionRateLimit(t *testing.T) {
	t.Parallel()

	limiter, err := ratelimiter.New(ratelimiter.NewMemoryStore(), ratelimiter.Config{Capacity: 2, RefillRate: 1, RefillInterval: time.Hour})
	require.NoError(t, err)
	s := newServer(t, now, billing.WithActionLimiter(limiter))
	pkg := s.seedPackage("firearm", billingsvc.Flags{Firearm: true})
	body := map[string]any{"package_id": pkg.ID.String()}

	for range 2 {
		w, _ := s.do(http.MethodPost, "/subscriptions?action=initialize", &alice, body)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.NotEmpty(t, w.Header().Get("X-RateLimit-Remaining"))
	}

	w, env := s.do(http.MethodPost, "/subscriptions?action=initialize", &alice, body)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.False(t, env.Success)
	require.NotNil(t, env.Error)
	assert.Equal(t, "rate_limited", env.Error.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	w, _ = s.do(http.MethodPost, "/subscriptions?action=initialize", &bob, body)
	assert.Equal(t, http.StatusCreated, w.Code, "buckets are per profile")

	w, _ = s.do(http.MethodGet, "/subscriptions", &alice, nil)
	assert.Equal(t, http.StatusOK, w.Code, "reads are not limited")
}

func TestModule_ActionErrors(t *testing.T) {
	t.Parallel()
	s := newServer(t, now)
	pkg := s.seedPackage("firearm", billingsvc.Flags{Firearm: true})
	sub := s.seedSubscription(alice, pkg, now.AddDate(0, 0, -1))

	tests := []struct {
		name   string
		target string
		as     identity.Caller
		body   any
		status int
		code   string
	}{
		{"unknown action", "/subscriptions?action=upgrade", alice, nil, http.StatusBadRequest, "unknown_action"},
		{"missing action", "/subscriptions", alice, nil, http.StatusBadRequest, "unknown_action"},
		{"missing package", "/subscriptions?action=initialize", alice, map[string]any{}, http.StatusBadRequest, "validation_error"},
		{"unknown package", "/subscriptions?action=initialize", alice, map[string]any{"package_id": uuid.NewString()}, http.StatusNotFound, "package_not_found"},
		{"cancel without id", "/subscriptions?action=cancel", alice, nil, http.StatusBadRequest, "validation_error"},
		{"cancel someone else's", "/subscriptions?action=cancel&id=" + sub.ID.String(), bob, nil, http.StatusForbidden, "forbidden"},
		{"same package", "/subscriptions?action=change-plan&id=" + sub.ID.String(), alice, map[string]any{"new_package_id": pkg.ID.String()}, http.StatusBadRequest, "same_package"},
		{"unknown body field", "/subscriptions?action=initialize", alice, map[string]any{"package": "x"}, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := s.do(http.MethodPost, tt.target, &tt.as, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
			assert.Equal(t, tt.status, env.StatusCode)
		})
	}
}

func TestModule_RefundFlow(t *testing.T) {
	t.Parallel()
	s := newServer(t, now)
	pkg := s.seedPackage("firearm", billingsvc.Flags{Firearm: true})
	fresh := s.seedSubscription(alice, pkg, now.AddDate(0, 0, -4))
	stale := s.seedSubscription(alice, pkg, now.AddDate(0, 0, -8))

	w, env := s.do(http.MethodPost, "/subscriptions?action=refund&id="+stale.ID.String(), &alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "refund_window_elapsed", env.Error.Code)

	w, env = s.do(http.MethodPost, "/subscriptions?action=refund&id="+fresh.ID.String(), &alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res billingsvc.Result
	decode(t, env.Data, &res)
	require.NotNil(t, res.Subscription)
	assert.Equal(t, billingsvc.StatusRefunded, res.Subscription.Status)

	w, env = s.do(http.MethodPost, "/subscriptions?action=refund&id="+fresh.ID.String(), &alice, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "terminal_state", env.Error.Code)
}

func TestModule_AdminSubscriptionRoutes(t *testing.T) {
	t.Parallel()
	s := newServer(t, now)
	pkg := s.seedPackage("firearm", billingsvc.Flags{Firearm: true})
	sub := s.seedSubscription(alice, pkg, now.AddDate(0, 0, -1))
	target := "/subscriptions/" + sub.ID.String()

	w, _ := s.do(http.MethodGet, target, &alice, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(http.MethodGet, target, &bob, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = s.do(http.MethodGet, "/subscriptions/not-a-uuid", &alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.do(http.MethodGet, "/subscriptions/"+uuid.NewString(), &alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	end := now.AddDate(1, 0, 0)
	w, _ = s.do(http.MethodPatch, target, &alice, map[string]any{"end_date": end})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env := s.do(http.MethodPatch, target, &admin, map[string]any{"end_date": end})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got billingsvc.Subscription
	decode(t, env.Data, &got)
	assert.True(t, end.Equal(got.EndDate))

	w, _ = s.do(http.MethodDelete, target, &alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, env = s.do(http.MethodDelete, target, &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, env.Data, &got)
	assert.Equal(t, billingsvc.StatusCancelled, got.Status)
}

func TestModule_ListSubscriptionsPages(t *testing.T) {
	t.Parallel()
	s := newServer(t, now)
	pkg := s.seedPackage("firearm", billingsvc.Flags{Firearm: true})
	for i := range 25 {
		s.seedSubscription(alice, pkg, now.Add(-time.Duration(i)*time.Hour))
	}

	type page struct {
		Items      []billingsvc.Subscription `json:"items"`
		NextCursor *string                   `json:"nextCursor"`
	}

	w, env := s.do(http.MethodGet, "/subscriptions?limit=20", &alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var first page
	decode(t, env.Data, &first)
	assert.Len(t, first.Items, 20)
	require.NotNil(t, first.NextCursor)

	w, env = s.do(http.MethodGet, "/subscriptions?limit=20&cursor="+*first.NextCursor, &alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var second page
	decode(t, env.Data, &second)
	assert.Len(t, second.Items, 5)
	assert.Nil(t, second.NextCursor)

	w, _ = s.do(http.MethodGet, "/subscriptions?status=paused", &alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = s.do(http.MethodGet, "/subscriptions?limit=abc", &alice, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestModule_CatalogRoutes(t *testing.T) {
	t.Parallel()
	s := newServer(t, now)
	pkg := s.seedPackage("firearm", billingsvc.Flags{Firearm: true})

	w, env := s.do(http.MethodPost, "/packages", &alice, map[string]any{"package_name": "x"})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", env.Error.Code)

	w, env = s.do(http.MethodPost, "/packages", &admin, map[string]any{
		"package_name":  "Dup",
		"slug":          "firearm",
		"type":          "yearly",
		"permission_id": pkg.PermissionID.String(),
		"price":         100,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "duplicate_slug", env.Error.Code)

	w, env = s.do(http.MethodPost, "/packages", &admin, map[string]any{"package_name": "Bad", "slug": "Bad Slug"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "validation_error", env.Error.Code)

	w, env = s.do(http.MethodDelete, "/permissions/"+pkg.PermissionID.String(), &admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "permission_in_use", env.Error.Code)

	w, env = s.do(http.MethodPatch, "/packages/"+pkg.ID.String(), &admin, map[string]any{"price": 20000})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated billingsvc.Package
	decode(t, env.Data, &updated)
	assert.EqualValues(t, 20000, updated.Price)

	w, _ = s.do(http.MethodDelete, "/packages/"+pkg.ID.String(), &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(http.MethodGet, "/packages/"+pkg.ID.String(), &alice, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, env = s.do(http.MethodGet, "/packages?include_inactive=true", &admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Items []billingsvc.Package `json:"items"`
	}
	decode(t, env.Data, &list)
	require.Len(t, list.Items, 1)
	assert.False(t, list.Items[0].IsActive)

	w, env = s.do(http.MethodGet, "/permissions/"+pkg.PermissionID.String(), &alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var perm billingsvc.Permission
	decode(t, env.Data, &perm)
	assert.True(t, perm.Firearm)
}
