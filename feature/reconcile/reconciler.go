package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"farmhand/core/database"
	"farmhand/core/storage"
	"farmhand/core/utils"
	"farmhand/feature/normalizer"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultFailureLimit = 25

// Options configures a Reconciler.
type Options struct {
	// Bucket holds staged and promoted payloads.
	Bucket string
	// StagingPrefix is where the archive ingest parks payloads before a
	// descriptor row exists.
	StagingPrefix string
	// PayloadPrefix is the final content-addressed location.
	PayloadPrefix string
	// FailureLimit caps the failures echoed back in a Report.
	FailureLimit int
}

// Reconciler applies batches of canonical records to the catalog. Every
// record lands exactly once regardless of how often the same batch is
// replayed.
type Reconciler struct {
	db     *gorm.DB
	store  storage.Client
	logger *zap.Logger
	opts   Options
	locks  *keyLock
}

// NewReconciler wires a reconciler against the given database and blob
// store. store may be nil when no batch will ever carry payloads.
func NewReconciler(db *gorm.DB, store storage.Client, logger *zap.Logger, opts Options) *Reconciler {
	if opts.FailureLimit <= 0 {
		opts.FailureLimit = defaultFailureLimit
	}
	if opts.StagingPrefix == "" {
		opts.StagingPrefix = "staging"
	}
	if opts.PayloadPrefix == "" {
		opts.PayloadPrefix = "payloads"
	}
	return &Reconciler{
		db:     db,
		store:  store,
		logger: logger,
		opts:   opts,
		locks:  newKeyLock(),
	}
}

// Reconcile applies one batch. Infrastructure failures abort the run;
// per-record failures are recorded and skipped. Cancellation is honored
// between records, never inside one, and finalizes the run as cancelled.
func (r *Reconciler) Reconcile(ctx context.Context, batch Batch) (*Report, error) {
	startedAt := batch.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		// The producing stage was cancelled before any record could be
		// applied. The run is still recorded for the audit trail.
		run := IngestRun{RunID: uuid.NewString(), Source: batch.Source, Status: RunStatusRunning, StartedAt: startedAt}
		if err := r.db.Create(&run).Error; err != nil {
			return nil, unavailable("ingest-run", err)
		}
		report := &Report{RunID: run.RunID, Status: RunStatusRunning}
		for _, f := range batch.Failures {
			report.addFailure(r.opts.FailureLimit, f)
			r.recordFailure(run.RunID, f)
		}
		r.finalize(report, &run, RunStatusCancelled, "")
		return report, ctxErr
	}

	if err := r.preflight(ctx, batch); err != nil {
		return nil, err
	}

	run := IngestRun{
		RunID:     uuid.NewString(),
		Source:    batch.Source,
		Status:    RunStatusRunning,
		StartedAt: startedAt,
	}
	if err := r.db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, unavailable("ingest-run", err)
	}

	report := &Report{RunID: run.RunID, Status: RunStatusRunning}

	for _, f := range batch.Failures {
		report.addFailure(r.opts.FailureLimit, f)
		r.recordFailure(run.RunID, f)
	}

	for _, rec := range batch.Records {
		if err := ctx.Err(); err != nil {
			r.finalize(report, &run, RunStatusCancelled, "")
			return report, err
		}

		outcome, err := r.reconcileOne(ctx, batch.Source, rec)
		if err != nil {
			pe, ok := AsPersistenceError(err)
			if ok && pe.Reason == Conflict {
				// Counted, never an error: out-of-order arrival is normal.
				report.Conflicts++
				r.logger.Info("Conflict discarded",
					zap.String("key", rec.NaturalKey()), zap.Error(pe.Err))
				continue
			}
			if ok && pe.Reason == StorageUnavailable {
				r.finalize(report, &run, RunStatusFailed, err.Error())
				return report, err
			}
			f := Failure{Key: rec.NaturalKey(), Reason: err.Error()}
			report.addFailure(r.opts.FailureLimit, f)
			r.recordFailure(run.RunID, f)
			continue
		}

		switch outcome {
		case outcomeNew:
			report.Created++
		case outcomeUpdated:
			report.Updated++
		case outcomeUnchanged:
			report.Unchanged++
		}
	}

	r.finalize(report, &run, RunStatusCompleted, "")
	return report, nil
}

const (
	outcomeNew       = "new"
	outcomeUpdated   = "updated"
	outcomeUnchanged = "unchanged"
)

// preflight verifies the infrastructure before any record is touched, so
// a dead dependency fails the batch once instead of once per record.
func (r *Reconciler) preflight(ctx context.Context, batch Batch) error {
	if err := database.Ping(ctx, r.db); err != nil {
		return unavailable("database", err)
	}
	if r.store != nil {
		exists, err := r.store.BucketExists(ctx, r.opts.Bucket)
		if err != nil {
			return unavailable("bucket "+r.opts.Bucket, err)
		}
		if !exists {
			return unavailable("bucket "+r.opts.Bucket, errors.New("bucket does not exist"))
		}
	} else {
		for _, rec := range batch.Records {
			if rec.PayloadStagingKey != "" {
				return unavailable(rec.NaturalKey(), errors.New("record carries a payload but no blob store is configured"))
			}
		}
	}
	return nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, source string, rec *normalizer.CanonicalRecord) (string, error) {
	key := rec.NaturalKey()
	mu := r.locks.get(key)
	mu.Lock()
	defer mu.Unlock()

	if rec.Slug != "" {
		return r.reconcileModEntry(ctx, source, rec)
	}
	return r.reconcileDescriptor(ctx, rec)
}

// reconcileModEntry upserts a scraped mod entry on its slug. The upstream
// update timestamp decides between conflict, unchanged and updated.
func (r *Reconciler) reconcileModEntry(ctx context.Context, source string, rec *normalizer.CanonicalRecord) (string, error) {
	incoming := toModEntry(rec, source)

	var existing ModEntry
	err := r.db.WithContext(ctx).Where("slug = ?", rec.Slug).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := r.db.WithContext(ctx).Create(&incoming).Error; err != nil {
			return "", fmt.Errorf("create %s: %w", rec.Slug, err)
		}
		return outcomeNew, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s: %w", rec.Slug, err)
	}

	if rec.UpstreamUpdatedAt.Before(existing.UpstreamUpdatedAt) {
		return "", conflict(rec.Slug, fmt.Errorf("incoming timestamp %s is older than stored %s",
			rec.UpstreamUpdatedAt.Format(time.RFC3339), existing.UpstreamUpdatedAt.Format(time.RFC3339)))
	}
	if rec.UpstreamUpdatedAt.Equal(existing.UpstreamUpdatedAt) || sameModEntry(existing, incoming) {
		if !sameModEntry(existing, incoming) {
			r.logger.Info("Stale timestamp, incoming fields not applied",
				zap.String("slug", rec.Slug),
				zap.Time("timestamp", rec.UpstreamUpdatedAt))
		}
		return outcomeUnchanged, nil
	}

	if utils.CompareVersions(incoming.Version, existing.Version) < 0 {
		// Legitimate upstream rollbacks happen; worth a trace either way.
		r.logger.Warn("Entry version went backwards",
			zap.String("slug", rec.Slug),
			zap.String("stored", existing.Version),
			zap.String("incoming", incoming.Version))
	}

	incoming.ID = existing.ID
	incoming.CreatedAt = existing.CreatedAt
	// A reappearing entry is no longer delisted.
	incoming.Delisted = false
	// A crawl without descriptor enrichment carries no checksum; keep the
	// last observed one.
	if incoming.Checksum == "" {
		incoming.Checksum = existing.Checksum
	}
	if err := r.db.WithContext(ctx).Save(&incoming).Error; err != nil {
		return "", fmt.Errorf("update %s: %w", rec.Slug, err)
	}
	return outcomeUpdated, nil
}

// reconcileDescriptor inserts a content-addressed descriptor. The staged
// payload is promoted to its final key inside the same transaction that
// creates the row, so neither ever exists without the other.
func (r *Reconciler) reconcileDescriptor(ctx context.Context, rec *normalizer.CanonicalRecord) (string, error) {
	key := rec.NaturalKey()

	var existing Descriptor
	err := r.db.WithContext(ctx).
		Where("owner_ref = ? AND content_hash = ?", rec.OwnerRef, rec.ContentHash).
		First(&existing).Error
	if err == nil {
		// Same content ingested again. The staged copy is redundant.
		r.discardStaged(ctx, rec.PayloadStagingKey)
		return outcomeUnchanged, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("lookup %s: %w", key, err)
	}

	row, err := toDescriptor(rec)
	if err != nil {
		return "", err
	}

	finalKey := ""
	if rec.PayloadStagingKey != "" {
		finalKey = fmt.Sprintf("%s/%s.zip", r.opts.PayloadPrefix, rec.ContentHash)
		row.PayloadKey = finalKey
		row.PayloadSize = rec.PayloadSize
	}

	outcome := outcomeNew
	var prev Descriptor
	err = r.db.WithContext(ctx).
		Where("owner_ref = ? AND kind = ?", rec.OwnerRef, string(rec.Kind)).
		Order("id DESC").First(&prev).Error
	if err == nil {
		row.PreviousID = &prev.ID
		outcome = outcomeUpdated
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("lookup %s: %w", key, err)
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		if finalKey != "" {
			_, err := r.store.CopyObject(ctx,
				minio.CopyDestOptions{Bucket: r.opts.Bucket, Object: finalKey},
				minio.CopySrcOptions{Bucket: r.opts.Bucket, Object: rec.PayloadStagingKey},
			)
			if err != nil {
				// Rolls back the row; the staged object stays for the sweeper.
				return fmt.Errorf("promote payload: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		// The row rolled back; the failure belongs to this record alone
		// and the rest of the batch proceeds.
		return "", fmt.Errorf("persist %s: %w", key, err)
	}

	r.discardStaged(ctx, rec.PayloadStagingKey)
	return outcome, nil
}

// DelistMissing marks entries absent from a complete crawl as delisted.
// Only meaningful after a full crawl; an incremental crawl sees a subset.
func (r *Reconciler) DelistMissing(ctx context.Context, seen []string) (int64, error) {
	q := r.db.WithContext(ctx).Model(&ModEntry{}).Where("delisted = ?", false)
	if len(seen) > 0 {
		q = q.Where("slug NOT IN ?", seen)
	}
	res := q.Update("delisted", true)
	if res.Error != nil {
		return 0, unavailable("delist", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteDescriptor removes a descriptor row and, when no other descriptor
// shares the payload, its blob.
func (r *Reconciler) DeleteDescriptor(ctx context.Context, ownerRef, contentHash string) error {
	key := ownerRef + "/" + contentHash
	mu := r.locks.get(key)
	mu.Lock()
	defer mu.Unlock()

	var d Descriptor
	err := r.db.WithContext(ctx).
		Where("owner_ref = ? AND content_hash = ?", ownerRef, contentHash).
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return unavailable(key, err)
	}

	if err := r.db.WithContext(ctx).Delete(&d).Error; err != nil {
		return unavailable(key, err)
	}

	if d.PayloadKey != "" && r.store != nil {
		var sharers int64
		if err := r.db.WithContext(ctx).Model(&Descriptor{}).
			Where("content_hash = ?", contentHash).Count(&sharers).Error; err != nil {
			return unavailable(key, err)
		}
		if sharers == 0 {
			if err := r.store.RemoveObject(ctx, r.opts.Bucket, d.PayloadKey, minio.RemoveObjectOptions{}); err != nil {
				r.logger.Warn("Payload removal failed, sweeper will collect it",
					zap.String("key", d.PayloadKey), zap.Error(err))
			}
		}
	}
	return nil
}

// LatestRun returns the most recently started run.
func (r *Reconciler) LatestRun(ctx context.Context) (*IngestRun, error) {
	var run IngestRun
	err := r.db.WithContext(ctx).Order("started_at DESC").First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// LastCompletedRun returns the most recent completed run of one source.
// Used as the incremental crawl cutoff.
func (r *Reconciler) LastCompletedRun(ctx context.Context, source string) (*IngestRun, error) {
	var run IngestRun
	err := r.db.WithContext(ctx).
		Where("source = ? AND status = ?", source, RunStatusCompleted).
		Order("started_at DESC").First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListEntries pages through the mod catalog, newest upstream change first.
func (r *Reconciler) ListEntries(ctx context.Context, includeDelisted bool, limit, offset int) ([]ModEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := r.db.WithContext(ctx).Model(&ModEntry{})
	if !includeDelisted {
		q = q.Where("delisted = ?", false)
	}
	var entries []ModEntry
	err := q.Order("upstream_updated_at DESC").Limit(limit).Offset(offset).Find(&entries).Error
	return entries, err
}

// RunFailures lists the recorded failures of one run.
func (r *Reconciler) RunFailures(ctx context.Context, runID string, limit int) ([]IngestFailure, error) {
	if limit <= 0 {
		limit = r.opts.FailureLimit
	}
	var failures []IngestFailure
	err := r.db.WithContext(ctx).
		Where("run_id = ?", runID).Order("id ASC").Limit(limit).
		Find(&failures).Error
	return failures, err
}

func (r *Reconciler) finalize(report *Report, run *IngestRun, status, firstErr string) {
	if firstErr == "" && len(report.Failures) > 0 {
		first := report.Failures[0]
		firstErr = first.Key + ": " + first.Reason
	}

	now := time.Now().UTC()
	run.Status = status
	run.Created = report.Created
	run.Updated = report.Updated
	run.Unchanged = report.Unchanged
	run.Conflicts = report.Conflicts
	run.Failed = report.Failed
	run.FirstError = firstErr
	run.FinishedAt = &now

	report.Status = status

	// Finalization must not inherit a cancelled request context.
	if err := r.db.Save(run).Error; err != nil {
		r.logger.Error("Run finalization failed", zap.String("run_id", run.RunID), zap.Error(err))
	}
}

func (r *Reconciler) recordFailure(runID string, f Failure) {
	row := IngestFailure{RunID: runID, Key: f.Key, Reason: f.Reason}
	if err := r.db.Create(&row).Error; err != nil {
		r.logger.Error("Failure record not persisted",
			zap.String("run_id", runID), zap.String("key", f.Key), zap.Error(err))
	}
}

func (r *Reconciler) discardStaged(ctx context.Context, stagingKey string) {
	if stagingKey == "" || r.store == nil {
		return
	}
	if err := r.store.RemoveObject(ctx, r.opts.Bucket, stagingKey, minio.RemoveObjectOptions{}); err != nil {
		r.logger.Warn("Staged payload removal failed, sweeper will collect it",
			zap.String("key", stagingKey), zap.Error(err))
	}
}

func toModEntry(rec *normalizer.CanonicalRecord, source string) ModEntry {
	return ModEntry{
		Slug:              rec.Slug,
		Title:             rec.Title.Value,
		Author:            rec.Author.Value,
		Version:           rec.Version.Value,
		Category:          rec.Category.Value,
		DownloadURL:       rec.DownloadURL.Value,
		Released:          rec.Released.Value,
		SizeBytes:         rec.Size.Value,
		Checksum:          rec.Checksum,
		UpstreamUpdatedAt: rec.UpstreamUpdatedAt,
		Source:            source,
	}
}

// sameModEntry compares the upstream-derived columns only.
func sameModEntry(a, b ModEntry) bool {
	return a.Title == b.Title &&
		a.Author == b.Author &&
		a.Version == b.Version &&
		a.Category == b.Category &&
		a.DownloadURL == b.DownloadURL &&
		a.Released == b.Released &&
		a.SizeBytes == b.SizeBytes &&
		// An absent checksum only means the crawl skipped enrichment.
		(a.Checksum == b.Checksum || a.Checksum == "" || b.Checksum == "") &&
		a.UpstreamUpdatedAt.Equal(b.UpstreamUpdatedAt)
}

func toDescriptor(rec *normalizer.CanonicalRecord) (Descriptor, error) {
	deps := ""
	if len(rec.Dependencies) > 0 {
		raw, err := json.Marshal(rec.Dependencies)
		if err != nil {
			return Descriptor{}, fmt.Errorf("encode dependencies: %w", err)
		}
		deps = string(raw)
	}
	return Descriptor{
		OwnerRef:       rec.OwnerRef,
		ContentHash:    rec.ContentHash,
		Kind:           string(rec.Kind),
		Title:          rec.Title.Value,
		Author:         rec.Author.Value,
		Version:        rec.Version.Value,
		MapName:        rec.MapName.Value,
		SavegameName:   rec.SavegameName.Value,
		IngameDate:     rec.IngameDate.Value,
		Money:          rec.Money.Value,
		PlayTime:       rec.PlayTime.Value,
		DependencyList: deps,
	}, nil
}
