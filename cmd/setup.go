package cmd

import (
	"fmt"

	"farmhand/core/config"
	"farmhand/core/database"
	"farmhand/core/logger"
	"farmhand/core/storage"
	"farmhand/feature/reconcile"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// runtime bundles the shared dependencies of the one-shot commands.
type runtime struct {
	cfg        *config.Config
	logger     *zap.Logger
	db         *gorm.DB
	store      storage.Client
	reconciler *reconcile.Reconciler
}

func newRuntime() (*runtime, error) {
	cfg, err := config.LoadConfig(".")
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if !cfg.ModHub.IsValidGameTitle() {
		return nil, fmt.Errorf("unsupported game title %q", cfg.ModHub.GameTitle)
	}

	l, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// The MySQL schema lifecycle is managed externally; AutoMigrate
	// covers only the sqlite dev path.
	if cfg.Database.Driver == "sqlite" {
		if err := reconcile.Migrate(db); err != nil {
			return nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
	}

	store, err := storage.NewClient(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	reconciler := reconcile.NewReconciler(db, store, l, reconcile.Options{
		Bucket:        cfg.Storage.Bucket,
		StagingPrefix: cfg.Ingest.StagingPrefix,
		PayloadPrefix: cfg.Ingest.PayloadPrefix,
		FailureLimit:  cfg.Ingest.FailureLimit,
	})

	return &runtime{
		cfg:        cfg,
		logger:     l,
		db:         db,
		store:      store,
		reconciler: reconciler,
	}, nil
}
