package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"wallet-ledger-go/internal/database"
	"wallet-ledger-go/internal/ledger"
	"wallet-ledger-go/internal/models"
	"wallet-ledger-go/internal/postgres"
	"wallet-ledger-go/internal/rabbitmq"
	"wallet-ledger-go/internal/store"
	"wallet-ledger-go/internal/store/memory"
	"wallet-ledger-go/internal/webhook"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Try to load .env file - if it doesn't exist, that's okay
	// Environment variables can be set via other means (shell export, docker, etc.)
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

// Backend is what every storage backend provides: the ledger itself
// plus webhook endpoint persistence.
type Backend interface {
	store.LedgerStore
	store.EndpointStore
}

type Services struct {
	Store      store.LedgerStore
	Endpoints  store.EndpointStore
	Engine     *ledger.Engine
	Registry   *webhook.Registry
	Dispatcher *webhook.Dispatcher

	amqpPublisher *rabbitmq.Publisher
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	fees := ledger.DefaultFeeSchedule()
	if cfg.FeesFile != "" {
		fees, err = LoadFeeSchedule(cfg.FeesFile)
		if err != nil {
			backend.Close()
			return nil, err
		}
		zap.L().Info("Loaded fee schedule", zap.String("file", cfg.FeesFile))
	}

	sender, err := webhook.NewHttpSender(cfg.Dispatcher.RequestTimeout)
	if err != nil {
		backend.Close()
		return nil, err
	}

	dispatcher := webhook.NewDispatcher(webhook.DispatcherConfig{
		Endpoints: backend,
		Sender:    sender,
		Workers:   cfg.Dispatcher.Workers,
		QueueSize: cfg.Dispatcher.QueueSize,
	})

	publishers := ledger.MultiPublisher{dispatcher}
	var amqpPublisher *rabbitmq.Publisher
	if cfg.AMQP.Enabled {
		amqpPublisher, err = rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			backend.Close()
			return nil, err
		}
		publishers = append(publishers, amqpPublisher)
	}

	return &Services{
		Store:         backend,
		Endpoints:     backend,
		Engine:        ledger.NewEngine(backend, fees, publishers),
		Registry:      webhook.NewRegistry(backend),
		Dispatcher:    dispatcher,
		amqpPublisher: amqpPublisher,
	}, nil
}

// InitializeStoreOnly opens just the storage backend, without the webhook
// pipeline. Useful for CLI tools.
func InitializeStoreOnly(ctx context.Context, cfg *models.Config) (Backend, error) {
	return openBackend(ctx, cfg)
}

func openBackend(ctx context.Context, cfg *models.Config) (Backend, error) {
	switch cfg.Backend {
	case "sqlite":
		return database.NewService(ctx, cfg.Database)
	case "postgres":
		return postgres.NewService(ctx, cfg.Postgres.URL)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %q", cfg.Backend)
	}
}

func (cs *Services) Close() {
	if cs.amqpPublisher != nil {
		cs.amqpPublisher.Close()
	}
	if cs.Store != nil {
		cs.Store.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
