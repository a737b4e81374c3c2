// Package app assembles the passkey engine from configuration: storage,
// ceremony state, the WebAuthn relying party, recovery, and the service
// facade.
package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/louisbranch/passlock/internal/account"
	"github.com/louisbranch/passlock/internal/challenge"
	"github.com/louisbranch/passlock/internal/passkey"
	"github.com/louisbranch/passlock/internal/reauth"
	"github.com/louisbranch/passlock/internal/recovery"
	"github.com/louisbranch/passlock/internal/service"
	"github.com/louisbranch/passlock/internal/sessiongrant"
	"github.com/louisbranch/passlock/internal/storage/sqlite"
	"github.com/louisbranch/passlock/internal/strategy"
)

// maintenanceInterval paces the expired-state sweeps.
const maintenanceInterval = 5 * time.Minute

// App is the assembled engine.
type App struct {
	store      *sqlite.Store
	challenges challenge.Store
	gate       *reauth.Gate
	service    *service.Service
	redis      *redis.Client
}

// New builds the engine from environment configuration.
func New(dbPath string) (*App, error) {
	store, err := openStore(dbPath)
	if err != nil {
		return nil, err
	}

	passkeyConfig := passkey.LoadConfigFromEnv()
	relyingParty, err := passkey.NewRelyingParty(passkeyConfig)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("configure relying party: %w", err)
	}

	var redisClient *redis.Client
	var challenges challenge.Store
	if addr := strings.TrimSpace(os.Getenv("PASSLOCK_REDIS_ADDR")); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
		challenges = challenge.NewRedisStore(redisClient)
	} else {
		challenges = challenge.NewMemoryStore()
	}

	recoveryConfig := recovery.LoadConfigFromEnv()
	if strings.TrimSpace(recoveryConfig.Secret) == "" {
		// Ephemeral secret for local runs; outstanding recovery tokens do
		// not survive a restart.
		recoveryConfig.Secret = randomSecret()
		log.Printf("PASSLOCK_RECOVERY_SECRET is unset, using an ephemeral secret")
	}
	recoveryManager, err := recovery.NewManager(recoveryConfig, store, logNotifier{})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("configure recovery: %w", err)
	}

	gate := reauth.NewGate(passkeyConfig.CeremonyTTL)

	auth := strategy.New(relyingParty, challenges, store, store)
	auth.SetAudit(logAudit{})

	grantConfig, err := sessiongrant.LoadConfigFromEnv(nil)
	if err != nil {
		log.Printf("session grants disabled: %v", err)
		grantConfig = sessiongrant.Config{}
	}

	svc := service.New(service.Deps{
		Accounts:    store,
		Credentials: store,
		Challenges:  challenges,
		Verifier:    relyingParty,
		Auth:        auth,
		Recovery:    recoveryManager,
		Gate:        gate,
		Audit:       logAudit{},
		GrantConfig: grantConfig,
	})

	return &App{
		store:      store,
		challenges: challenges,
		gate:       gate,
		service:    svc,
		redis:      redisClient,
	}, nil
}

// Service exposes the engine facade for embedding callers.
func (a *App) Service() *service.Service {
	return a.service
}

// Run sweeps expired ceremonies and proofs until the context ends.
func (a *App) Run(ctx context.Context) error {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := a.challenges.DeleteExpired(ctx, now.UTC()); err != nil {
				log.Printf("sweep ceremonies: %v", err)
			}
			a.gate.DeleteExpired(now.UTC())
		}
	}
}

// Close releases storage and connections.
func (a *App) Close() error {
	var firstErr error
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			firstErr = err
		}
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func openStore(dbPath string) (*sqlite.Store, error) {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = filepath.Join("data", "passlock.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	store, err := sqlite.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	return store, nil
}

func randomSecret() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		// crypto/rand failing is unrecoverable anyway.
		panic(fmt.Sprintf("read random: %v", err))
	}
	return base64.RawStdEncoding.EncodeToString(raw)
}

// logNotifier is the development notifier. Production deployments inject a
// mailer through recovery.NewManager instead.
type logNotifier struct{}

func (logNotifier) RecoveryRequested(_ context.Context, acct account.Account, rawToken string, expiresAt time.Time) error {
	log.Printf("recovery token for %s (expires %s): %s", acct.Email, expiresAt.Format(time.RFC3339), rawToken)
	return nil
}

// logAudit writes audit events to the process log.
type logAudit struct{}

func (logAudit) Record(_ context.Context, event strategy.AuditEvent) {
	log.Printf("audit %s account=%s credential=%s detail=%s", event.Kind, event.AccountID, event.CredentialID, event.Detail)
}
