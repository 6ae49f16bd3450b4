package archive

import (
	"errors"
	"io"

	"farmhand/core/logger"
	"farmhand/feature/normalizer"
	"farmhand/feature/reconcile"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler handles HTTP requests for archive ingestion.
type Handler struct {
	service    *Service
	reconciler *reconcile.Reconciler
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service, reconciler *reconcile.Reconciler, logger *zap.Logger) *Handler {
	return &Handler{service: service, reconciler: reconciler, logger: logger}
}

// RegisterRoutes registers the archive routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/archives")
	group.Post("/", h.HandleUpload)
	group.Delete("/:owner/:hash", h.HandleDelete)
}

// HandleUpload ingests one uploaded archive.
// @Summary Ingest Archive
// @Description Validates an uploaded mod or savegame archive, stages its payload and reconciles the descriptor into the catalog.
// @Tags archives
// @Accept multipart/form-data
// @Produce json
// @Param owner_ref formData string true "Owner reference the descriptor is keyed under"
// @Param archive formData file true "Zip archive"
// @Success 201 {object} map[string]interface{} "Record and run report"
// @Failure 400 {object} map[string]string "Invalid archive"
// @Failure 413 {object} map[string]string "Archive too large"
// @Failure 422 {object} map[string]string "Descriptor failed normalization"
// @Failure 503 {object} map[string]string "Storage unavailable"
// @Router /archives [post]
func (h *Handler) HandleUpload(c *fiber.Ctx) error {
	l := logger.WithRayID(h.logger, c)

	ownerRef := c.FormValue("owner_ref")
	if ownerRef == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "owner_ref is required"})
	}

	fileHeader, err := c.FormFile("archive")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "archive file is required"})
	}
	if fileHeader.Size > h.service.cfg.MaxArchiveBytes {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{
			"error": "archive exceeds the configured size limit",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	rec, err := h.service.Ingest(c.Context(), ownerRef, data)
	if err != nil {
		return h.uploadError(c, l, err)
	}

	report, err := h.reconciler.Reconcile(c.Context(), reconcile.Batch{
		Source:  "archive",
		Records: []*normalizer.CanonicalRecord{rec},
	})
	if err != nil {
		l.Error("Reconciliation failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}

	l.Info("Archive ingested",
		zap.String("owner", ownerRef),
		zap.String("content_hash", rec.ContentHash),
		zap.String("run_id", report.RunID),
	)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"record": rec,
		"report": report,
	})
}

func (h *Handler) uploadError(c *fiber.Ctx, l *zap.Logger, err error) error {
	if ie, ok := AsIngestError(err); ok {
		l.Warn("Archive rejected", zap.String("reason", string(ie.Reason)), zap.String("detail", ie.Detail))
		status := fiber.StatusBadRequest
		if ie.Reason == ArchiveTooLarge {
			status = fiber.StatusRequestEntityTooLarge
		}
		return c.Status(status).JSON(fiber.Map{"error": err.Error(), "reason": string(ie.Reason)})
	}
	if ne, ok := normalizer.AsNormalizationError(err); ok {
		l.Warn("Descriptor rejected", zap.String("reason", string(ne.Reason)), zap.String("field", ne.Field))
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":  err.Error(),
			"reason": string(ne.Reason),
			"field":  ne.Field,
		})
	}
	l.Error("Archive staging failed", zap.Error(err))
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
}

// HandleDelete removes one descriptor and its payload.
// @Summary Delete Descriptor
// @Description Deletes a descriptor by owner and content hash. The payload blob is removed when no other descriptor shares it.
// @Tags archives
// @Produce json
// @Param owner path string true "Owner reference"
// @Param hash path string true "Content hash"
// @Success 200 {object} map[string]string "Deleted"
// @Failure 404 {object} map[string]string "Unknown descriptor"
// @Failure 503 {object} map[string]string "Storage unavailable"
// @Router /archives/{owner}/{hash} [delete]
func (h *Handler) HandleDelete(c *fiber.Ctx) error {
	l := logger.WithRayID(h.logger, c)

	ownerRef := c.Params("owner")
	contentHash := c.Params("hash")

	err := h.reconciler.DeleteDescriptor(c.Context(), ownerRef, contentHash)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown descriptor"})
	}
	if err != nil {
		l.Error("Descriptor deletion failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}

	l.Info("Descriptor deleted", zap.String("owner", ownerRef), zap.String("content_hash", contentHash))
	return c.JSON(fiber.Map{"status": "deleted"})
}
