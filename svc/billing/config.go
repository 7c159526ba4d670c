package billing

import "time"

// Config holds the engine's business settings.
type Config struct {
	RefundWindow   time.Duration `env:"REFUND_WINDOW" envDefault:"168h"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"15s"`
	CacheTTL       time.Duration `env:"ENTITLEMENT_CACHE_TTL" envDefault:"30s"`
	// CASRetries bounds how often a conditional write is re-evaluated after
	// losing a race before ErrConcurrentUpdate is returned.
	CASRetries int `env:"BILLING_CAS_RETRIES" envDefault:"3"`
}

// DefaultConfig matches the env defaults and is used by tests.
func DefaultConfig() Config {
	return Config{
		RefundWindow:   7 * 24 * time.Hour,
		GatewayTimeout: 15 * time.Second,
		CacheTTL:       30 * time.Second,
		CASRetries:     3,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RefundWindow <= 0 {
		c.RefundWindow = d.RefundWindow
	}
	if c.GatewayTimeout <= 0 {
		c.GatewayTimeout = d.GatewayTimeout
	}
	if c.CASRetries <= 0 {
		c.CASRetries = d.CASRetries
	}
	return c
}
