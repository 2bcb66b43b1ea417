package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/bitbondlabs/bitbondd/internal/blob/s3"
	"github.com/bitbondlabs/bitbondd/internal/cache/redis"
	"github.com/bitbondlabs/bitbondd/internal/config"
	"github.com/bitbondlabs/bitbondd/internal/crypto"
	"github.com/bitbondlabs/bitbondd/internal/domain"
	"github.com/bitbondlabs/bitbondd/internal/market"
	"github.com/bitbondlabs/bitbondd/internal/nft"
	"github.com/bitbondlabs/bitbondd/internal/notify"
	"github.com/bitbondlabs/bitbondd/internal/service"
	"github.com/bitbondlabs/bitbondd/internal/store/memory"
	"github.com/bitbondlabs/bitbondd/internal/store/postgres"
	"github.com/bitbondlabs/bitbondd/internal/vault"
)

// devYieldReserve is the asset balance seeded into the custody account in dev
// mode so withdrawals can pay out yield without an external treasury top-up.
const devYieldReserve = domain.Micros(1_000_000_000_000)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Ledger and views over it.
	Ledger   domain.Ledger
	Heights  domain.HeightSource
	Advancer domain.HeightAdvancer
	Audit    domain.AuditStore

	// Redis-backed facilities; nil in dev mode.
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	Events      domain.EventPublisher
	StatsCache  domain.StatsCache

	// Blob storage; nil unless archiving is enabled.
	Archiver      domain.Archiver
	ArchiveReader domain.BlobReader

	// Engines.
	Registry *nft.Registry
	Vault    *vault.Engine
	Market   *market.Engine

	// Services.
	Stats    *service.StatsService
	Notifier *notify.Notifier

	// Signer is the operator's signing identity; nil when no key is
	// configured.
	Signer *crypto.Signer
}

// loadOperatorSigner builds a Signer from the configured raw key or
// encrypted keystore. Returns nil when neither is set.
func loadOperatorSigner(cfg *config.Config) (*crypto.Signer, error) {
	if cfg.Operator.PrivateKey == "" && cfg.Operator.EncryptedKeyPath == "" {
		return nil, nil
	}
	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Operator.PrivateKey,
		EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
		KeyPassword:      cfg.Operator.KeyPassword,
	})
	if err != nil {
		return nil, err
	}
	return crypto.NewSigner(keyHex)
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. Dev mode runs entirely on the
// in-memory ledger with no external backends.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}
	devMode := strings.ToLower(cfg.Mode) == "dev"

	custody := domain.Principal(strings.ToLower(cfg.Engine.Custody))
	escrow := domain.Principal(strings.ToLower(cfg.Engine.Escrow))
	treasury := domain.Principal(strings.ToLower(cfg.Engine.Treasury))

	// --- Ledger ---
	if devMode {
		ledger := memory.NewLedger()
		ledger.SeedAsset(custody, devYieldReserve)
		deps.Ledger = ledger
		deps.Heights = ledger
		deps.Advancer = ledger
		deps.Audit = memory.NewAuditStore()
	} else {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		ledger := postgres.NewLedger(pgClient)
		deps.Ledger = ledger
		deps.Heights = ledger
		deps.Advancer = ledger
		deps.Audit = postgres.NewAuditStore(pgClient)
	}

	// --- Redis (skipped in dev mode) ---
	if !devMode {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		bus := redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = bus
		deps.Events = bus
		deps.StatsCache = redis.NewStatsCache(redisClient, 0)
	}

	// --- Engines ---
	deps.Registry = nft.NewRegistry(deps.Ledger, custody, cfg.Engine.BaseTokenURI, logger)
	deps.Vault = vault.NewEngine(deps.Ledger, deps.Heights, deps.Registry, vault.Config{
		Custody:      custody,
		BlocksPerDay: cfg.Engine.BlocksPerDay,
	}, deps.Events, logger)
	deps.Market = market.NewEngine(deps.Ledger, deps.Registry, market.Config{
		Escrow:   escrow,
		Treasury: treasury,
	}, deps.Events, logger)

	// --- S3 blob storage (only when archiving) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(deps.Ledger, s3blob.NewWriter(s3Client), deps.Audit)
		deps.ArchiveReader = s3blob.NewReader(s3Client)
	}

	// --- Services ---
	deps.Stats = service.NewStatsService(deps.Ledger, deps.Market, deps.Heights, deps.StatsCache, logger)

	// --- Operator signing key (optional; the -sign CLI mode signs with it,
	// and the principal is logged so operators can verify their identity) ---
	if signer, err := loadOperatorSigner(cfg); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: operator key: %w", err)
	} else if signer != nil {
		deps.Signer = signer
		logger.Info("operator key loaded", slog.String("principal", signer.Principal().String()))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
