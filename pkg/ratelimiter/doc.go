// Package ratelimiter is a token bucket limiter with in-memory and Redis
// stores and an HTTP middleware.
//
//	limiter, err := ratelimiter.New(ratelimiter.NewRedisStore(client, "ratelimit"), cfg)
//	if err != nil {
//		return err
//	}
//	r.With(ratelimiter.Middleware(limiter, keyFunc, onLimited, log)).Post("/subscriptions", h)
//
// A rejected request does not consume tokens. Store failures let the request
// through.
package ratelimiter
