package archive

import (
	"farmhand/core/storage"
	"farmhand/feature/reconcile"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Feature implements the loader.Feature interface.
type Feature struct {
	cfg     Config
	service *Service
	handler *Handler
}

// NewFeature creates a new archive ingest feature.
func NewFeature(client storage.Client, bucket string, cfg Config, reconciler *reconcile.Reconciler, logger *zap.Logger) *Feature {
	svc := NewService(client, bucket, cfg, logger)
	h := NewHandler(svc, reconciler, logger)
	return &Feature{cfg: cfg, service: svc, handler: h}
}

// Name returns the name of the feature.
func (f *Feature) Name() string {
	return "archive"
}

// IsEnabled checks if the feature is enabled.
func (f *Feature) IsEnabled() bool {
	return f.cfg.Enabled
}

// Load registers the feature's routes.
func (f *Feature) Load(app fiber.Router) error {
	f.handler.RegisterRoutes(app)
	return nil
}

// Service exposes the ingest service for CLI use.
func (f *Feature) Service() *Service {
	return f.service
}
