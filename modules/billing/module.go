package billing

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/complykit/complykit/handler"
	"github.com/complykit/complykit/pkg/identity"
	"github.com/complykit/complykit/pkg/logger"
	"github.com/complykit/complykit/pkg/ratelimiter"
	billingsvc "github.com/complykit/complykit/svc/billing"
)

// Services are the engine components the module exposes.
type Services struct {
	Manager    *billingsvc.Manager
	Resolver   *billingsvc.Resolver
	Reconciler *billingsvc.Reconciler
	Catalog    *billingsvc.Catalog
}

// Module serves the subscription, entitlement, catalog and webhook routes.
//
// Example:
//
//	mod := billing.NewModule(billing.Services{
//	    Manager:    manager,
//	    Resolver:   resolver,
//	    Reconciler: reconciler,
//	    Catalog:    catalog,
//	}, verifier, log)
//
//	r := chi.NewRouter()
//	r.Mount("/", mod.Handle())
type Module struct {
	svc      Services
	verifier *identity.Verifier
	log      *slog.Logger
	onError  handler.ErrorHandler
	limiter  *ratelimiter.Limiter
}

// Option configures a Module.
type Option func(*Module)

// WithActionLimiter limits subscription actions per profile. Initialize and
// refund call the payment gateway, so the action endpoint is the one worth
// protecting.
func WithActionLimiter(l *ratelimiter.Limiter) Option {
	return func(m *Module) { m.limiter = l }
}

func NewModule(svc Services, verifier *identity.Verifier, log *slog.Logger, opts ...Option) *Module {
	if svc.Manager == nil || svc.Resolver == nil || svc.Reconciler == nil || svc.Catalog == nil {
		panic("billing module: all services are required")
	}
	if verifier == nil {
		panic("billing module: identity verifier is required")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With(logger.Component("billing_http"))
	m := &Module{
		svc:      svc,
		verifier: verifier,
		log:      log,
		onError:  handler.NewErrorHandler(log, classify),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle builds the module router. Every route except the gateway webhook
// requires a bearer token.
func (m *Module) Handle() http.Handler {
	r := chi.NewRouter()

	r.Post("/webhooks/paystack", m.paystackWebhook)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(m.verifier, m.unauthorized))

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", wrap(m, m.listSubscriptions))
			r.With(m.limitActions).Post("/", wrap(m, m.subscriptionAction))
			r.Get("/{id}", wrap(m, m.getSubscription))
			r.Patch("/{id}", wrap(m, m.overrideSubscription))
			r.Delete("/{id}", wrap(m, m.deleteSubscription))
		})

		r.Get("/entitlements", wrap(m, m.entitlements))

		r.Route("/packages", func(r chi.Router) {
			r.Get("/", wrap(m, m.listPackages))
			r.Post("/", wrap(m, m.createPackage))
			r.Get("/{id}", wrap(m, m.getPackage))
			r.Patch("/{id}", wrap(m, m.updatePackage))
			r.Delete("/{id}", wrap(m, m.deletePackage))
		})

		r.Route("/permissions", func(r chi.Router) {
			r.Get("/", wrap(m, m.listPermissions))
			r.Post("/", wrap(m, m.createPermission))
			r.Get("/{id}", wrap(m, m.getPermission))
			r.Patch("/{id}", wrap(m, m.updatePermission))
			r.Delete("/{id}", wrap(m, m.deletePermission))
		})
	})

	return r
}

func wrap[R any](m *Module, h handler.HandlerFunc[R]) http.HandlerFunc {
	return handler.Wrap(h,
		handler.WithBinders[R](handler.Defaults(chi.URLParam)...),
		handler.WithErrorHandler[R](m.onError),
	)
}

func (m *Module) limitActions(next http.Handler) http.Handler {
	if m.limiter == nil {
		return next
	}
	return ratelimiter.Middleware(m.limiter, profileKey, m.rateLimited, m.log)(next)
}

func profileKey(r *http.Request) string {
	return caller(r.Context()).ProfileID
}

func (m *Module) rateLimited(w http.ResponseWriter, r *http.Request, _ ratelimiter.Result) {
	m.log.InfoContext(r.Context(), "subscription action rate limited")
	if err := handler.WriteError(w, handler.NewHTTPError(http.StatusTooManyRequests, "rate_limited", nil)); err != nil {
		m.log.ErrorContext(r.Context(), "failed to write error response", logger.Error(err))
	}
}

func (m *Module) unauthorized(w http.ResponseWriter, r *http.Request, err error) {
	m.log.DebugContext(r.Context(), "request rejected by authentication", logger.Error(err))
	m.writeError(w, r, err)
}

// writeError renders err for handlers that do not go through handler.Wrap.
func (m *Module) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if werr := handler.WriteError(w, handler.Classify(err, classify)); werr != nil {
		m.log.ErrorContext(r.Context(), "failed to write error response", logger.Error(werr))
	}
}

// caller returns the authenticated identity or the zero Caller, which every
// service method rejects as unauthenticated.
func caller(ctx context.Context) identity.Caller {
	c, _ := identity.FromContext(ctx)
	return c
}
