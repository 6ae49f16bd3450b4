package modhub

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"farmhand/core/utils"
	"farmhand/feature/normalizer"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// maxConsecutivePageFailures bounds a crawl when the upstream keeps
// failing: listing pages terminate a crawl by coming back empty, which a
// permanently failing upstream never does.
const maxConsecutivePageFailures = 3

// Cursor marks where a crawl can be resumed.
type Cursor struct {
	Page int `json:"page"`
}

// Failure records one entry or page the crawl could not process.
type Failure struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Result is the outcome of one crawl.
type Result struct {
	// Records are the scraped mod entries in the order their sources
	// became ready, deduplicated by slug.
	Records []*normalizer.CanonicalRecord
	// Failures lists pages and entries that failed, in discovery order.
	Failures []Failure
	// PagesFetched counts listing pages processed, including failed ones.
	PagesFetched int
	// Complete is true when the upstream was exhausted or the since
	// cutoff was reached, i.e. the crawl was not cancelled or cut short.
	Complete bool
	// NextCursor is set when the crawl stopped early and can be resumed.
	NextCursor *Cursor
}

// Crawler walks the paginated upstream listing and emits canonical records.
type Crawler struct {
	client *Client
	cfg    Config
	logger *zap.Logger
}

// NewCrawler creates a crawler with its own paced client.
func NewCrawler(cfg Config, logger *zap.Logger) *Crawler {
	return &Crawler{
		client: NewClient(cfg, logger),
		cfg:    cfg,
		logger: logger,
	}
}

// Crawl walks the listing from the first page. A non-nil since enables
// incremental mode: the crawl stops after the first page whose entries are
// all at or before since (the upstream lists newest first). Entries of
// that final page are still emitted.
func (cr *Crawler) Crawl(ctx context.Context, since *time.Time) (*Result, error) {
	return cr.CrawlFrom(ctx, since, Cursor{Page: 1})
}

// CrawlFrom resumes a crawl at the given cursor. Cancellation is honored
// between page boundaries only, so no record is ever half-processed.
func (cr *Crawler) CrawlFrom(ctx context.Context, since *time.Time, cursor Cursor) (*Result, error) {
	res := &Result{}
	seen := map[string]int{} // slug -> index into res.Records

	page := cursor.Page
	if page < 1 {
		page = 1
	}

	consecutiveFailures := 0
	for {
		if err := ctx.Err(); err != nil {
			res.NextCursor = &Cursor{Page: page}
			return res, err
		}
		if cr.cfg.MaxPages > 0 && res.PagesFetched >= cr.cfg.MaxPages {
			res.NextCursor = &Cursor{Page: page}
			return res, nil
		}

		pageURL := cr.cfg.ListingURL(cr.cfg.Category, page)
		cr.logger.Info("Fetching listing page", zap.Int("page", page), zap.String("url", pageURL))

		body, err := cr.client.Fetch(ctx, pageURL)
		var entries []ListingEntry
		if err == nil {
			entries, err = ParseListing(body, pageURL)
		}
		res.PagesFetched++

		if err != nil {
			// One bad page must not abort the whole crawl.
			res.Failures = append(res.Failures, Failure{Key: pageURL, Reason: err.Error()})
			consecutiveFailures++
			if consecutiveFailures >= maxConsecutivePageFailures {
				cr.logger.Error("Aborting crawl after repeated page failures", zap.Int("page", page))
				res.NextCursor = &Cursor{Page: page + 1}
				return res, nil
			}
			page++
			continue
		}
		consecutiveFailures = 0

		if len(entries) == 0 {
			res.Complete = true
			return res, nil
		}

		records, failures := cr.fetchDetails(ctx, entries)
		res.Failures = append(res.Failures, failures...)
		for _, rec := range records {
			mergeRecord(res, seen, rec)
		}

		// Incremental cutoff: the upstream lists newest first, so a page
		// entirely at or before since means everything further back is
		// already known.
		if since != nil && allAtOrBefore(entries, *since) {
			res.Complete = true
			return res, nil
		}

		page++
	}
}

// fetchDetails fetches and parses detail pages with bounded concurrency.
// Per-entry failures are recorded, never fatal.
func (cr *Crawler) fetchDetails(ctx context.Context, entries []ListingEntry) ([]*normalizer.CanonicalRecord, []Failure) {
	concurrency := int64(cr.cfg.Concurrency)
	if concurrency <= 0 {
		concurrency = 4
	}

	records := make([]*normalizer.CanonicalRecord, len(entries))
	var mu sync.Mutex
	var failures []Failure

	sem := semaphore.NewWeighted(concurrency)
	g, gctx := errgroup.WithContext(ctx)

	for i, entry := range entries {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)

			rec, err := cr.fetchDetail(gctx, entry)
			if err != nil {
				mu.Lock()
				failures = append(failures, Failure{Key: entry.Slug, Reason: err.Error()})
				mu.Unlock()
				return nil
			}
			records[i] = rec
			return nil
		})
	}
	_ = g.Wait()

	// Compact while preserving listing order.
	out := records[:0]
	for _, rec := range records {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, failures
}

func (cr *Crawler) fetchDetail(ctx context.Context, entry ListingEntry) (*normalizer.CanonicalRecord, error) {
	detailURL := cr.cfg.DetailURL(entry.Slug)
	body, err := cr.client.Fetch(ctx, detailURL)
	if err != nil {
		return nil, err
	}

	page, err := ParseDetail(body, detailURL)
	if err != nil {
		return nil, err
	}

	rec, err := BuildRecord(entry, page, detailURL)
	if err != nil {
		return nil, err
	}

	if cr.cfg.FetchDescriptors && rec.DownloadURL.Known {
		cr.enrichFromDescriptor(ctx, rec)
	}

	return rec, nil
}

// enrichFromDescriptor downloads the mod archive, records its checksum and
// normalizes its embedded modDesc.xml, filling fields the detail page did
// not carry. Enrichment is best effort: a failure past the download leaves
// the scraped record as is.
func (cr *Crawler) enrichFromDescriptor(ctx context.Context, rec *normalizer.CanonicalRecord) {
	data, err := cr.client.Download(ctx, rec.DownloadURL.Value)
	if err != nil {
		cr.logger.Warn("Descriptor download failed",
			zap.String("slug", rec.Slug),
			zap.String("file", utils.FilenameFromURL(rec.DownloadURL.Value)),
			zap.Error(err))
		return
	}

	sum := sha256.Sum256(data)
	rec.Checksum = hex.EncodeToString(sum[:])

	descriptor, err := extractModDesc(data)
	if err != nil {
		cr.logger.Warn("Descriptor extraction failed", zap.String("slug", rec.Slug), zap.Error(err))
		return
	}

	norm, err := normalizer.Normalize(descriptor, normalizer.KindModDescriptor)
	if err != nil {
		cr.logger.Warn("Descriptor normalization failed", zap.String("slug", rec.Slug), zap.Error(err))
		return
	}

	if !rec.Author.Known && norm.Author.Known {
		rec.Author = norm.Author
	}
	if !rec.Version.Known && norm.Version.Known {
		rec.Version = norm.Version
	}
	if !rec.Title.Known && norm.Title.Known {
		rec.Title = norm.Title
	}
}

// extractModDesc pulls the top-level modDesc.xml out of a mod archive.
func extractModDesc(archive []byte) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if f.Name != "modDesc.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, io.EOF
}

// mergeRecord applies the in-crawl dedup rule: when the same slug shows up
// twice (pagination overlap during concurrent upstream updates) the
// later-seen record wins only if its timestamp is not older.
func mergeRecord(res *Result, seen map[string]int, rec *normalizer.CanonicalRecord) {
	if i, ok := seen[rec.Slug]; ok {
		if !rec.UpstreamUpdatedAt.Before(res.Records[i].UpstreamUpdatedAt) {
			res.Records[i] = rec
		}
		return
	}
	seen[rec.Slug] = len(res.Records)
	res.Records = append(res.Records, rec)
}

func allAtOrBefore(entries []ListingEntry, cutoff time.Time) bool {
	for _, e := range entries {
		if e.UpdatedAt.After(cutoff) {
			return false
		}
	}
	return true
}
