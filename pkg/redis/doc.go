// Package redis wraps github.com/redis/go-redis/v9 with a retrying Connect,
// a readiness probe and JSONCache, a small typed cache with per-entry TTLs.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	cache := redis.NewJSONCache[Entitlements](client, "entitlements")
package redis
