package ratelimiter

import (
	"log/slog"
	"net/http"
	"strconv"
)

// KeyFunc extracts the bucket key. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// LimitedFunc writes the response for a rejected request.
type LimitedFunc func(w http.ResponseWriter, r *http.Request, res Result)

// Middleware limits requests per key and sets the X-RateLimit-* headers.
// Store errors are logged and the request is let through.
func Middleware(l *Limiter, key KeyFunc, onLimited LimitedFunc, log *slog.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	if onLimited == nil {
		onLimited = func(w http.ResponseWriter, _ *http.Request, _ Result) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			res, err := l.Allow(r.Context(), k)
			if err != nil {
				log.WarnContext(r.Context(), "rate limiter unavailable, allowing request", slog.Any("error", err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))

			if !res.Allowed {
				secs := int(res.RetryAfter(l.now()).Seconds() + 0.999)
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				onLimited(w, r, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
