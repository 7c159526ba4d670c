package paystack

import "time"

type Config struct {
	SecretKey string        `env:"PAYSTACK_SECRET_KEY,required"`
	BaseURL   string        `env:"PAYSTACK_BASE_URL" envDefault:"https://api.paystack.co"`
	Timeout   time.Duration `env:"PAYSTACK_TIMEOUT" envDefault:"15s"`
	// CallbackURL is where the hosted checkout redirects after payment.
	CallbackURL string `env:"PAYSTACK_CALLBACK_URL"`
}
