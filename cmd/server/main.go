package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookgo/clock"
	"go.uber.org/zap"

	"github.com/sunnypayments/core/internal/adapter/bank"
	"github.com/sunnypayments/core/internal/adapter/cache"
	"github.com/sunnypayments/core/internal/adapter/ledger"
	"github.com/sunnypayments/core/internal/adapter/pool"
	"github.com/sunnypayments/core/internal/adapter/queue"
	"github.com/sunnypayments/core/internal/adapter/rail"
	"github.com/sunnypayments/core/internal/adapter/secrets"
	"github.com/sunnypayments/core/internal/adapter/stepup"
	"github.com/sunnypayments/core/internal/adapter/storage/postgres"
	"github.com/sunnypayments/core/internal/ports"
	"github.com/sunnypayments/core/internal/service/orchestrator"
	"github.com/sunnypayments/core/internal/service/routing"
	"github.com/sunnypayments/core/internal/service/settlement"
	"github.com/sunnypayments/core/pkg/config"
)

const (
	serviceName    = "payments-core"
	serviceVersion = "v1.0.0"
)

func main() {
	// 1. Initialize Logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	logger.Info("Starting payments core",
		zap.String("service", serviceName),
		zap.String("version", serviceVersion),
	)

	// 2. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	clk := clock.New()

	// 3. Initialize PostgreSQL Connection
	db, err := postgres.NewConnection(cfg.Database.URL, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}

	if err := postgres.RunMigrations(db); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// 4. Initialize Caches (shared store plus in-process fallback)
	localCache := cache.NewLocalCache(time.Minute, clk, logger)
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL, logger)
	if err != nil {
		logger.Warn("Redis unavailable at startup, running on local cache", zap.Error(err))
		redisCache = localCache
	}

	// 5. Initialize Message Queue
	var messageQueue queue.MessageQueue
	if cfg.NATS.URL != "" {
		messageQueue, err = queue.NewNATSQueue(cfg.NATS.URL, logger)
	} else {
		messageQueue, err = queue.NewRabbitMQQueue(cfg.RabbitMQ.URL, logger)
	}
	if err != nil {
		logger.Fatal("Failed to connect to message queue", zap.Error(err))
	}
	defer messageQueue.Close()

	// 6. Initialize Credential Source (Vault when configured, else the
	// file-backed encrypted store)
	var credentials ports.CredentialSource
	if cfg.Vault.Address != "" {
		vaultSource, err := secrets.NewVaultSource(cfg.Vault.Address, cfg.Vault.Token, cfg.Vault.MountPath, logger)
		if err != nil {
			logger.Fatal("Failed to create vault client", zap.Error(err))
		}
		credentials = vaultSource
	} else {
		store := secrets.NewStore(cfg.Secrets.Dir, cfg.Secrets.MasterKeyPath, logger)
		if err := store.Initialize(); err != nil {
			logger.Fatal("Failed to initialize secret store", zap.Error(err))
		}
		credentials = store
	}

	// 7. Initialize Connection Manager and Bank Socket Pools
	manager := pool.NewManager(db, redisCache, localCache, cfg.Pool.HealthCheckInterval, clk, logger)
	for railID, railCfg := range cfg.Bank.Rails {
		dialer := bank.NewDialer(railCfg, credentials, logger)
		manager.RegisterBankPool(railID, pool.NewBankPool(railID, cfg.Pool.MaxBankSockets, dialer, logger))
	}

	// 8. Initialize Repositories
	attemptRepo := postgres.NewAttemptRepository(db, logger)

	// 9. Initialize Step-Up Controller
	stepUpProvider := stepup.NewHTTPProvider(cfg.StepUp.ServerURL, cfg.StepUp.APIKey, logger)
	stepUpController := stepup.NewController(
		stepUpProvider,
		[]byte(cfg.StepUp.TokenSigningKey),
		cfg.StepUp.ChallengeLifetime,
		cfg.StepUp.CompletedRetain,
		cfg.StepUp.SweepInterval,
		clk,
		logger,
	)
	defer stepUpController.Close()

	// 10. Initialize Settlement Monitor
	ledgerClient := ledger.NewHTTPClient(cfg.Crypto.NodeURLs, logger)
	monitor := settlement.NewMonitor(
		ledgerClient,
		messageQueue,
		cfg.Crypto.RequiredConfirmations,
		cfg.Crypto.Tolerances,
		cfg.Crypto.DefaultTolerance,
		cfg.Crypto.PollInterval,
		clk,
		logger,
	)
	defer monitor.Cleanup()

	// 11. Initialize Routing Engine
	router := routing.NewEngine(
		routing.DefaultScorer{},
		cfg.Routing.HighValueThreshold,
		cfg.Routing.RiskThreshold,
		cfg.Routing.HistorySize,
		clk,
		logger,
	)

	// 12. Initialize Hosted Rail Provider
	stripeProvider := rail.NewStripeProvider(cfg.Stripe.SecretKey, logger)

	// 13. Initialize Orchestrator
	core := orchestrator.New(
		router,
		manager,
		stepUpController,
		monitor,
		stripeProvider,
		attemptRepo,
		messageQueue,
		cfg.StepUp.ChallengeLifetime,
		clk,
		logger,
	)
	if err := core.WatchSettlements(); err != nil {
		logger.Fatal("Failed to subscribe to settlement events", zap.Error(err))
	}

	logger.Info("Payments core ready",
		zap.Int("bank_rails", len(cfg.Bank.Rails)),
		zap.Int("max_bank_sockets", cfg.Pool.MaxBankSockets),
	)

	// 14. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	monitor.Cleanup()
	stepUpController.Close()
	if err := manager.Shutdown(); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
}
