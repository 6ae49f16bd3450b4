package modhub

import (
	"context"
	"errors"
	"time"

	"farmhand/feature/reconcile"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Service runs crawls and reconciles their results into the catalog.
type Service struct {
	crawler    *Crawler
	reconciler *reconcile.Reconciler
	cfg        Config
	logger     *zap.Logger
}

// NewService creates a new scraper service.
func NewService(cfg Config, reconciler *reconcile.Reconciler, logger *zap.Logger) *Service {
	return &Service{
		crawler:    NewCrawler(cfg, logger),
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger,
	}
}

// RunCrawl performs one crawl and reconciles the gathered records. A nil
// since crawls the full listing; a complete full crawl additionally
// delists entries that vanished upstream. A cancelled crawl persists
// nothing.
func (s *Service) RunCrawl(ctx context.Context, since *time.Time) (*reconcile.Report, error) {
	return s.RunCrawlFrom(ctx, since, Cursor{Page: 1})
}

// RunCrawlFrom resumes an aborted crawl at the given cursor. Delisting
// needs the whole listing, so a crawl resumed past the first page never
// delists.
func (s *Service) RunCrawlFrom(ctx context.Context, since *time.Time, cursor Cursor) (*reconcile.Report, error) {
	startedAt := time.Now().UTC()

	result, err := s.crawler.CrawlFrom(ctx, since, cursor)
	if err != nil {
		// Cancelled mid-crawl: no record is applied (the crawl resumes via
		// its cursor), but the aborted run still enters the audit trail.
		batch := reconcile.Batch{Source: "modhub", StartedAt: startedAt}
		for _, f := range result.Failures {
			batch.Failures = append(batch.Failures, reconcile.Failure{Key: f.Key, Reason: f.Reason})
		}
		report, _ := s.reconciler.Reconcile(ctx, batch)
		return report, err
	}

	s.logger.Info("Crawl finished",
		zap.Int("records", len(result.Records)),
		zap.Int("failures", len(result.Failures)),
		zap.Int("pages", result.PagesFetched),
		zap.Bool("complete", result.Complete),
	)
	if result.NextCursor != nil {
		s.logger.Warn("Crawl stopped early", zap.Int("resume_page", result.NextCursor.Page))
	}

	// The crawl start is the run's start time: entries updated upstream
	// while the crawl ran must fall after the next incremental cutoff.
	batch := reconcile.Batch{Source: "modhub", Records: result.Records, StartedAt: startedAt}
	for _, f := range result.Failures {
		batch.Failures = append(batch.Failures, reconcile.Failure{Key: f.Key, Reason: f.Reason})
	}

	report, err := s.reconciler.Reconcile(ctx, batch)
	if err != nil {
		return report, err
	}

	if since == nil && cursor.Page <= 1 && result.Complete && len(result.Failures) == 0 {
		seen := make([]string, 0, len(result.Records))
		for _, rec := range result.Records {
			seen = append(seen, rec.Slug)
		}
		delisted, err := s.reconciler.DelistMissing(ctx, seen)
		if err != nil {
			return report, err
		}
		if delisted > 0 {
			s.logger.Info("Entries delisted", zap.Int64("count", delisted))
		}
	}

	return report, nil
}

// RunScheduled performs the periodic incremental crawl. The cutoff is the
// start of the last completed crawl; the first run ever is a full crawl.
func (s *Service) RunScheduled(ctx context.Context) {
	var since *time.Time
	last, err := s.reconciler.LastCompletedRun(ctx, "modhub")
	switch {
	case err == nil:
		since = &last.StartedAt
	case errors.Is(err, gorm.ErrRecordNotFound):
		// First crawl, walk everything.
	default:
		s.logger.Error("Crawl cutoff lookup failed", zap.Error(err))
		return
	}

	report, err := s.RunCrawl(ctx, since)
	if err != nil {
		s.logger.Error("Scheduled crawl failed", zap.Error(err))
		return
	}
	s.logger.Info("Scheduled crawl reconciled",
		zap.String("run_id", report.RunID),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("failed", report.Failed),
	)
}
