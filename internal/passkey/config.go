// Package passkey wraps the WebAuthn relying-party primitives used for
// credential registration, authentication, and step-up checks.
package passkey

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls relying-party settings and verification policy.
type Config struct {
	RPDisplayName string        `env:"PASSLOCK_RP_DISPLAY_NAME" envDefault:"Passlock"`
	RPID          string        `env:"PASSLOCK_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"PASSLOCK_RP_ORIGINS"      envSeparator:","`
	CeremonyTTL   time.Duration `env:"PASSLOCK_CEREMONY_TTL"    envDefault:"5m"`

	// UserVerificationRequired demands the authenticator assert user
	// verification (biometric or PIN) on every ceremony.
	UserVerificationRequired bool `env:"PASSLOCK_USER_VERIFICATION_REQUIRED" envDefault:"true"`

	// Paranoid collapses failure detail into one generic invalid-credentials
	// signal so callers cannot enumerate accounts through error messages.
	Paranoid bool `env:"PASSLOCK_PARANOID" envDefault:"false"`
}

// LoadConfigFromEnv returns passkey configuration with defensive defaults.
//
// Defaults are intentionally explicit because verification policy is
// security-sensitive and should remain predictable in local and CI
// environments.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			RPDisplayName:            "Passlock",
			RPID:                     "localhost",
			RPOrigins:                []string{"http://localhost:8086"},
			CeremonyTTL:              5 * time.Minute,
			UserVerificationRequired: true,
		}
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = "Passlock"
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8086"}
	}
	if cfg.CeremonyTTL <= 0 {
		cfg.CeremonyTTL = 5 * time.Minute
	}
	return cfg
}
