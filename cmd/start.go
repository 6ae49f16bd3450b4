package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"farmhand/core/config"
	"farmhand/core/database"
	"farmhand/core/loader"
	"farmhand/core/logger"
	"farmhand/core/middleware/auth"
	"farmhand/core/middleware/rayid"
	"farmhand/core/schedule"
	"farmhand/core/storage"

	"farmhand/feature/archive"
	"farmhand/feature/modhub"
	"farmhand/feature/reconcile"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the ingestion server",
	Long:  `Starts the HTTP server, the scheduler and all enabled features.`,
	Run: func(cmd *cobra.Command, args []string) {
		// 1. Load Configuration
		cfg, err := config.LoadConfig(".")
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		if !cfg.ModHub.IsValidGameTitle() {
			log.Fatalf("Unsupported game title %q", cfg.ModHub.GameTitle)
		}

		// 2. Initialize Logger
		logg, err := logger.New(&cfg.Log)
		if err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
		defer logg.Sync()
		zap.ReplaceGlobals(logg)

		// 3. Connect to Database. The catalog lives here; without it
		// nothing works.
		db, err := database.Connect(cfg.Database)
		if err != nil {
			logg.Fatal("Failed to connect to database", zap.Error(err))
		}
		// The MySQL schema lifecycle is managed externally; AutoMigrate
		// covers only the sqlite dev path.
		if cfg.Database.Driver == "sqlite" {
			if err := reconcile.Migrate(db); err != nil {
				logg.Fatal("Failed to migrate schema", zap.Error(err))
			}
		}

		// 4. Initialize Storage
		store, err := storage.NewClient(cfg.Storage)
		if err != nil {
			logg.Fatal("Failed to create storage client", zap.Error(err))
		}

		reconciler := reconcile.NewReconciler(db, store, logg, reconcile.Options{
			Bucket:        cfg.Storage.Bucket,
			StagingPrefix: cfg.Ingest.StagingPrefix,
			PayloadPrefix: cfg.Ingest.PayloadPrefix,
			FailureLimit:  cfg.Ingest.FailureLimit,
		})

		// 5. Initialize Fiber App. The body limit must admit the largest
		// accepted archive.
		app := fiber.New(fiber.Config{
			DisableStartupMessage: true,
			BodyLimit:             int(cfg.Ingest.MaxArchiveBytes),
		})

		// 6. Initialize Feature Loader
		mgr := loader.NewManager()

		modhubFeature := modhub.NewFeature(cfg.ModHub, reconciler, logg)
		archiveFeature := archive.NewFeature(store, cfg.Storage.Bucket, cfg.Ingest, reconciler, logg)

		mgr.Register(modhubFeature)
		mgr.Register(archiveFeature)

		// Middleware Registration
		// RayID first so everything downstream is traceable.
		app.Use(rayid.New())

		app.Use(func(c *fiber.Ctx) error {
			l := logger.WithRayID(logg, c)
			l.Info("Request started",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
			err := c.Next()
			if err != nil {
				l.Error("Request error", zap.Error(err))
			}
			return err
		})

		app.Use(auth.New(auth.Config{ApiKey: cfg.Server.ApiKey}))

		// 7. Load Features
		if err := mgr.LoadAll(app); err != nil {
			logg.Fatal("Failed to load features", zap.Error(err))
		}

		// 8. Scheduler: periodic crawls and staging cleanup.
		baseCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		runner := schedule.New(logg, baseCtx)
		if modhubFeature.IsEnabled() && cfg.ModHub.Schedule != "" {
			if _, err := runner.Add(cfg.ModHub.Schedule, modhubFeature.Service().RunScheduled); err != nil {
				logg.Fatal("Invalid crawl schedule", zap.Error(err))
			}
		}
		if cfg.Ingest.SweepSchedule != "" {
			ttl := time.Duration(cfg.Ingest.StagingTTLMinutes) * time.Minute
			if _, err := runner.Add(cfg.Ingest.SweepSchedule, func(ctx context.Context) {
				if _, err := reconciler.SweepStaging(ctx, ttl); err != nil {
					logg.Error("Staging sweep failed", zap.Error(err))
				}
				if _, err := reconciler.SweepOrphanPayloads(ctx); err != nil {
					logg.Error("Orphan payload sweep failed", zap.Error(err))
				}
			}); err != nil {
				logg.Fatal("Invalid sweep schedule", zap.Error(err))
			}
		}
		runner.Start()

		// 9. Start Server
		go func() {
			logg.Info("Starting server", zap.String("port", cfg.Server.Port))
			if err := app.Listen(":" + cfg.Server.Port); err != nil {
				logg.Fatal("Server failed to start", zap.Error(err))
			}
		}()

		// 10. Graceful Shutdown
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		logg.Info("Shutting down server...")
		cancel()
		runner.Stop()
		_ = app.Shutdown()
	},
}

func init() {
	RootCmd.AddCommand(startCmd)
}
