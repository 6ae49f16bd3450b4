package modhub

import (
	"errors"
	"time"

	"farmhand/core/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler handles HTTP requests for the scraper.
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers the scraper routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/modhub")
	group.Post("/crawl", h.HandleCrawl)
	group.Get("/entries", h.HandleEntries)
	group.Get("/runs/latest", h.HandleLatestRun)
}

// HandleCrawl triggers a crawl synchronously.
// @Summary Run Crawl
// @Description Crawls the upstream mod listing and reconciles the results. Without parameters an incremental crawl is run from the last completed crawl; full=true walks the entire listing. This operation may take a long time.
// @Tags modhub
// @Produce json
// @Param full query boolean false "Crawl the full listing"
// @Param since query string false "Incremental cutoff, RFC 3339"
// @Success 200 {object} reconcile.Report "Run report"
// @Failure 400 {object} map[string]string "Invalid parameters"
// @Failure 503 {object} map[string]string "Storage unavailable"
// @Router /modhub/crawl [post]
func (h *Handler) HandleCrawl(c *fiber.Ctx) error {
	l := logger.WithRayID(h.logger, c)

	if c.Query("full") == "true" {
		l.Info("Triggering full crawl")
		report, err := h.service.RunCrawl(c.Context(), nil)
		return h.crawlResponse(c, l, report, err)
	}

	var since *time.Time
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "since must be RFC 3339"})
		}
		since = &t
	} else {
		last, err := h.service.reconciler.LastCompletedRun(c.Context(), "modhub")
		if err == nil {
			since = &last.StartedAt
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
		}
	}

	l.Info("Triggering incremental crawl")
	report, err := h.service.RunCrawl(c.Context(), since)
	return h.crawlResponse(c, l, report, err)
}

func (h *Handler) crawlResponse(c *fiber.Ctx, l *zap.Logger, report any, err error) error {
	if err != nil {
		l.Error("Crawl failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(report)
}

// HandleEntries lists catalog entries.
// @Summary List Entries
// @Description Pages through the mod catalog, newest upstream change first.
// @Tags modhub
// @Produce json
// @Param delisted query boolean false "Include delisted entries"
// @Param limit query int false "Page size, max 200"
// @Param offset query int false "Page offset"
// @Success 200 {array} reconcile.ModEntry "Entries"
// @Failure 503 {object} map[string]string "Storage unavailable"
// @Router /modhub/entries [get]
func (h *Handler) HandleEntries(c *fiber.Ctx) error {
	entries, err := h.service.reconciler.ListEntries(
		c.Context(),
		c.Query("delisted") == "true",
		c.QueryInt("limit"),
		c.QueryInt("offset"),
	)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(entries)
}

// HandleLatestRun returns the most recent run with its failures.
// @Summary Latest Run
// @Description Returns the most recently started reconciliation run and its recorded failures.
// @Tags modhub
// @Produce json
// @Success 200 {object} map[string]interface{} "Run and failures"
// @Failure 404 {object} map[string]string "No runs yet"
// @Failure 503 {object} map[string]string "Storage unavailable"
// @Router /modhub/runs/latest [get]
func (h *Handler) HandleLatestRun(c *fiber.Ctx) error {
	run, err := h.service.reconciler.LatestRun(c.Context())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no runs recorded"})
	}
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}

	failures, err := h.service.reconciler.RunFailures(c.Context(), run.RunID, 0)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"run":      run,
		"failures": failures,
	})
}
