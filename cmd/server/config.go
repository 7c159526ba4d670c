package main

import (
	"github.com/complykit/complykit/pkg/events"
	"github.com/complykit/complykit/pkg/httpserver"
	"github.com/complykit/complykit/pkg/identity"
	"github.com/complykit/complykit/pkg/paystack"
	"github.com/complykit/complykit/pkg/pg"
	"github.com/complykit/complykit/pkg/ratelimiter"
	"github.com/complykit/complykit/pkg/redis"
	"github.com/complykit/complykit/svc/billing"
)

type appConfig struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Name string `env:"APP_NAME" envDefault:"complykit"`

	// CacheEntitlements turns the Redis entitlement cache on. Redis is still
	// used for readiness when it is off.
	CacheEntitlements bool `env:"ENTITLEMENT_CACHE_ENABLED" envDefault:"true"`
}

// config groups every section the server loads at startup.
type config struct {
	App      appConfig
	HTTP     httpserver.Config
	Postgres pg.Config
	Redis    redis.Config
	Paystack paystack.Config
	Identity identity.Config
	Events   events.Config
	Billing  billing.Config

	// RateLimit applies per profile to subscription actions.
	RateLimit ratelimiter.Config
}
