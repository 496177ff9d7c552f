package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	s3blob "github.com/alanyoungcy/poolsettle/internal/blob/s3"
	cachemem "github.com/alanyoungcy/poolsettle/internal/cache/memory"
	"github.com/alanyoungcy/poolsettle/internal/cache/redis"
	"github.com/alanyoungcy/poolsettle/internal/config"
	"github.com/alanyoungcy/poolsettle/internal/domain"
	"github.com/alanyoungcy/poolsettle/internal/ledger"
	"github.com/alanyoungcy/poolsettle/internal/ledger/ethereum"
	"github.com/alanyoungcy/poolsettle/internal/ledger/memory"
	"github.com/alanyoungcy/poolsettle/internal/metrics"
	"github.com/alanyoungcy/poolsettle/internal/notify"
	"github.com/alanyoungcy/poolsettle/internal/server/handler"
	"github.com/alanyoungcy/poolsettle/internal/service"
	"github.com/alanyoungcy/poolsettle/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Ledger
	Ledger    *ledger.Client
	Addresses ledger.Addresses
	Operators service.Operators

	// Stores (nil without Postgres)
	ReceiptStore domain.ReceiptStore
	AuditStore   domain.AuditStore

	// Caches
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	History     domain.EventHistory

	// Blob storage (nil without S3 and Postgres)
	Archiver domain.Archiver

	// Services
	Accounts    *service.AccountService
	Oracles     *service.OracleService
	Predictions *service.PredictionService

	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Health   map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	if err := config.ResolveOperatorSecrets(cfg); err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Health:  make(map[string]handler.HealthCheck),
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger).
		WithCooldown(cfg.Notify.Cooldown.Duration)

	// --- PostgreSQL ---
	var receipts *postgres.ReceiptStore
	if cfg.Postgres.Enabled {
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		receipts = postgres.NewReceiptStore(pool)
		deps.ReceiptStore = receipts
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Health["postgres"] = pgClient.Ping
	}

	// --- Redis, or in-process caches ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		bus := redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = bus
		deps.History = bus
		deps.Health["redis"] = redisClient.Ping
	} else {
		bus := cachemem.NewSignalBus()
		deps.RateLimiter = cachemem.NewRateLimiter()
		deps.LockManager = cachemem.NewLockManager()
		deps.SignalBus = bus
		deps.History = bus
	}

	// --- S3 archive ---
	if cfg.S3.Enabled && receipts != nil {
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), receipts, deps.AuditStore, logger)
		deps.Health["s3"] = s3Client.Health
	}

	// --- Ledger ---
	backend, ops, closeLedger, err := dialLedger(ctx, cfg, deps, logger)
	if err != nil {
		return fail(err)
	}
	if closeLedger != nil {
		closers = append(closers, closeLedger)
	}

	client := ledger.NewClient(backend, logger).
		WithTimeout(cfg.Ledger.CallTimeout.Duration).
		WithRecorder(deps.Metrics).
		WithNotifier(deps.Notifier)
	if deps.ReceiptStore != nil {
		client = client.WithJournal(deps.ReceiptStore)
	}
	deps.Ledger = client

	svcLogger := logger.With(slog.String("component", "service"))
	deps.Oracles = service.NewOracleService(client, deps.Addresses, ops, svcLogger)

	if ops.DefaultOracle == "" && cfg.Ledger.Driver == config.DriverMemory {
		oracle, err := deps.Oracles.CreateOracle(ctx, service.Identity{}, "default oracle")
		if err != nil {
			return fail(fmt.Errorf("wire: default oracle: %w", err))
		}
		ops.DefaultOracle = oracle.Address
		deps.Oracles = service.NewOracleService(client, deps.Addresses, ops, svcLogger)
	}
	if err := ops.Validate(); err != nil {
		return fail(fmt.Errorf("wire: operators: %w", err))
	}
	deps.Operators = ops

	deps.Accounts = service.NewAccountService(client, deps.Addresses, ops, deps.LockManager, svcLogger)
	deps.Predictions = service.NewPredictionService(
		client, deps.Addresses, ops, deps.Accounts, deps.Oracles,
		deps.LockManager, deps.SignalBus, svcLogger,
	).WithHistory(deps.History)

	return deps, cleanup, nil
}

// dialLedger opens the configured ledger backend and resolves the operator
// identities. The memory driver creates any operator that is not configured.
func dialLedger(ctx context.Context, cfg *config.Config, deps *Dependencies, logger *slog.Logger) (ledger.Backend, service.Operators, func(), error) {
	oc := cfg.Operators
	ops := service.Operators{
		TokenOwner:         service.Identity{Address: oc.TokenOwner, Credential: oc.TokenOwnerPassword},
		OracleOperator:     service.Identity{Address: oc.OracleOperator, Credential: oc.OracleOperatorPassword},
		PredictionOperator: service.Identity{Address: oc.PredictionOperator, Credential: oc.PredictionOperatorPassword},
		DefaultOracle:      oc.DefaultOracle,
		AccountCredential:  oc.DefaultAccountPassword,
	}

	switch cfg.Ledger.Driver {
	case config.DriverEthereum:
		backend, err := ethereum.Dial(ctx, ethereum.Config{
			RPCURL:       cfg.Ledger.RPCURL,
			ChainID:      cfg.Ledger.ChainID,
			KeystoreDir:  cfg.Ledger.KeystoreDir,
			LightKDF:     cfg.Ledger.LightKDF,
			GasLimit:     cfg.Ledger.GasLimit,
			PollInterval: cfg.Ledger.PollInterval.Duration,
		}, logger)
		if err != nil {
			return nil, ops, nil, fmt.Errorf("wire: ledger: %w", err)
		}
		deps.Addresses = ledger.Addresses{
			Token:             common.HexToAddress(cfg.Ledger.TokenAddress),
			OracleFactory:     common.HexToAddress(cfg.Ledger.OracleFactoryAddress),
			PredictionFactory: common.HexToAddress(cfg.Ledger.PredictionFactoryAddress),
		}
		deps.Health["ledger"] = backend.Ping
		if ops.DefaultOracle == "" {
			logger.WarnContext(ctx, "no default oracle configured; predictions must name their oracle")
		}
		return backend, ops, backend.Close, nil

	default:
		owner := common.HexToAddress(oc.TokenOwner)
		if oc.TokenOwner == "" {
			key, err := gethcrypto.GenerateKey()
			if err != nil {
				return nil, ops, nil, fmt.Errorf("wire: token owner key: %w", err)
			}
			owner = gethcrypto.PubkeyToAddress(key.PublicKey)
			ops.TokenOwner.Address = owner.Hex()
		}
		backend := memory.New(owner)
		backend.AddAccount(owner, ops.TokenOwner.Credential)
		for _, id := range []*service.Identity{&ops.OracleOperator, &ops.PredictionOperator} {
			if id.Address != "" {
				backend.AddAccount(common.HexToAddress(id.Address), id.Credential)
				continue
			}
			addr, err := backend.NewAccount(ctx, id.Credential)
			if err != nil {
				return nil, ops, nil, fmt.Errorf("wire: bootstrap operator: %w", err)
			}
			id.Address = addr.Hex()
		}
		deps.Addresses = backend.Addresses()
		logger.InfoContext(ctx, "using in-memory ledger",
			slog.String("token_owner", ops.TokenOwner.Address),
			slog.String("oracle_operator", ops.OracleOperator.Address),
			slog.String("prediction_operator", ops.PredictionOperator.Address),
		)
		return backend, ops, nil, nil
	}
}
