package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"github.com/complykit/complykit/pkg/identity"
	"github.com/complykit/complykit/pkg/logger"
	"github.com/complykit/complykit/pkg/redis"
)

// EntitlementCache is the cache the resolver reads through. It is satisfied
// by *redis.JSONCache[Entitlements]; Get must return redis.ErrCacheMiss for
// absent keys.
type EntitlementCache interface {
	Get(ctx context.Context, key string) (Entitlements, error)
	Set(ctx context.Context, key string, v Entitlements, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Resolver derives feature access from subscription state. It never writes
// subscriptions. Cached results live at most ttl and never past the earliest
// end date they were computed from.
//
// A result computed while an invalidation ran in this process is returned
// but not cached. Invalidations from other instances are not seen, so across
// instances a result read before a write can be cached after that write's
// invalidation and served for up to ttl.
type Resolver struct {
	store Store
	cache EntitlementCache
	ttl   time.Duration
	group singleflight.Group
	opts  options

	// gen advances on every invalidation. genMu orders cache writes against
	// the advance so a write checked against the old generation lands before
	// the delete that follows it.
	gen   atomic.Uint64
	genMu sync.RWMutex
}

type computed struct {
	ent Entitlements
	gen uint64
}

// NewResolver creates a Resolver. cache may be nil, which disables caching.
func NewResolver(store Store, cache EntitlementCache, ttl time.Duration, opts ...Option) *Resolver {
	if store == nil {
		panic("billing: Store is required")
	}
	return &Resolver{
		store: store,
		cache: cache,
		ttl:   ttl,
		opts:  newOptions("entitlements", opts),
	}
}

// Resolve returns the caller's entitlements. Admins are granted everything
// without a lookup.
func (r *Resolver) Resolve(ctx context.Context, caller identity.Caller) (Entitlements, error) {
	if caller.IsAdmin() {
		return Entitlements{Flags: allGranted(), Admin: true}, nil
	}
	if caller.ProfileID == "" {
		return Entitlements{}, ErrUnauthenticated
	}

	ctx, span := r.opts.tracer.Start(ctx, "billing.Resolve")
	defer span.End()
	span.SetAttributes(attribute.String("profile.id", caller.ProfileID))

	if ent, ok := r.cached(ctx, caller.ProfileID); ok {
		return ent, nil
	}

	v, err, _ := r.group.Do(caller.ProfileID, func() (any, error) {
		gen := r.gen.Load()
		ent, err := r.compute(context.WithoutCancel(ctx), caller.ProfileID)
		return computed{ent: ent, gen: gen}, err
	})
	if err != nil {
		span.RecordError(err)
		return Entitlements{}, err
	}
	c := v.(computed)
	r.remember(ctx, caller.ProfileID, c)
	return c.ent, nil
}

// HasPermission fails closed: any resolution error denies access.
func (r *Resolver) HasPermission(ctx context.Context, caller identity.Caller, flag Flag) bool {
	if caller.IsAdmin() {
		return true
	}
	ent, err := r.Resolve(ctx, caller)
	if err != nil {
		r.opts.log.WarnContext(ctx, "entitlement check failed", logger.Error(err), logger.ProfileID(caller.ProfileID))
		return false
	}
	return ent.HasPermission(flag)
}

func (r *Resolver) HasActiveSubscription(ctx context.Context, caller identity.Caller) bool {
	if caller.IsAdmin() {
		return true
	}
	ent, err := r.Resolve(ctx, caller)
	if err != nil {
		r.opts.log.WarnContext(ctx, "entitlement check failed", logger.Error(err), logger.ProfileID(caller.ProfileID))
		return false
	}
	return ent.HasActiveSubscription()
}

// Invalidate drops the cached entitlements of a profile. Called after every
// committed subscription write.
func (r *Resolver) Invalidate(ctx context.Context, profileID string) {
	if r.cache == nil || profileID == "" {
		return
	}
	r.group.Forget(profileID)
	r.genMu.Lock()
	r.gen.Add(1)
	r.genMu.Unlock()
	if err := r.cache.Delete(ctx, profileID); err != nil {
		r.opts.log.WarnContext(ctx, "failed to invalidate entitlements", logger.Error(err), logger.ProfileID(profileID))
	}
}

func (r *Resolver) compute(ctx context.Context, profileID string) (Entitlements, error) {
	now := r.opts.clock()
	subs, err := r.store.ActiveSubscriptions(ctx, profileID, now)
	if err != nil {
		return Entitlements{}, fmt.Errorf("load active subscriptions: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(subs))
	seen := make(map[uuid.UUID]bool, len(subs))
	for _, s := range subs {
		if !seen[s.PackageID] {
			seen[s.PackageID] = true
			ids = append(ids, s.PackageID)
		}
	}
	perms, err := r.store.PermissionsForPackages(ctx, ids)
	if err != nil {
		return Entitlements{}, fmt.Errorf("load package permissions: %w", err)
	}

	var ent Entitlements
	for _, s := range subs {
		if !s.EffectivelyActive(now) {
			continue
		}
		ent.ActiveSubscriptionCount++
		if perm, ok := perms[s.PackageID]; ok {
			ent.Flags = ent.Flags.Or(perm.Flags)
		}
		if ent.ValidUntil == nil || s.EndDate.Before(*ent.ValidUntil) {
			end := s.EndDate
			ent.ValidUntil = &end
		}
	}
	return ent, nil
}

func (r *Resolver) cached(ctx context.Context, profileID string) (Entitlements, bool) {
	if r.cache == nil || r.ttl <= 0 {
		return Entitlements{}, false
	}
	ent, err := r.cache.Get(ctx, profileID)
	switch {
	case errors.Is(err, redis.ErrCacheMiss):
		r.opts.metrics.cache("miss")
		return Entitlements{}, false
	case err != nil:
		r.opts.metrics.cache("error")
		r.opts.log.WarnContext(ctx, "entitlement cache read failed", logger.Error(err), logger.ProfileID(profileID))
		return Entitlements{}, false
	}
	if ent.ValidUntil != nil && !ent.ValidUntil.After(r.opts.clock()) {
		r.opts.metrics.cache("miss")
		return Entitlements{}, false
	}
	r.opts.metrics.cache("hit")
	return ent, true
}

func (r *Resolver) remember(ctx context.Context, profileID string, c computed) {
	if r.cache == nil || r.ttl <= 0 {
		return
	}
	r.genMu.RLock()
	defer r.genMu.RUnlock()
	if r.gen.Load() != c.gen {
		r.opts.metrics.cache("stale")
		return
	}

	ent := c.ent
	ttl := r.ttl
	if ent.ValidUntil != nil {
		if left := ent.ValidUntil.Sub(r.opts.clock()); left < ttl {
			ttl = left
		}
	}
	if err := r.cache.Set(ctx, profileID, ent, ttl); err != nil {
		r.opts.log.WarnContext(ctx, "entitlement cache write failed", logger.Error(err), logger.ProfileID(profileID))
	}
}
