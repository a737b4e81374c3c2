// Package recovery issues and redeems emergency passkey registration
// tokens for accounts that lost every authenticator.
package recovery

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls the emergency recovery window and token handling.
type Config struct {
	// Window bounds how long an issued recovery token stays redeemable.
	Window time.Duration `env:"PASSLOCK_RECOVERY_WINDOW" envDefault:"1h"`

	// Secret keys the token digest. Rotating it invalidates every
	// outstanding token at once.
	Secret string `env:"PASSLOCK_RECOVERY_SECRET"`

	// SignInAfterRecovery establishes a session for the account as soon
	// as recovery completes, instead of requiring a fresh login ceremony.
	SignInAfterRecovery bool `env:"PASSLOCK_SIGN_IN_AFTER_RECOVERY" envDefault:"true"`
}

// LoadConfigFromEnv returns recovery configuration with defensive defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			Window:              time.Hour,
			SignInAfterRecovery: true,
		}
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Hour
	}
	return cfg
}
