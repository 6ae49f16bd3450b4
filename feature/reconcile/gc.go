package reconcile

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// SweepStaging removes staged payloads older than ttl. Entries under the
// staging prefix are either in-flight ingests or leftovers of failed ones;
// anything past the TTL is a leftover.
func (r *Reconciler) SweepStaging(ctx context.Context, ttl time.Duration) (int, error) {
	if r.store == nil {
		return 0, nil
	}

	cutoff := time.Now().Add(-ttl)
	removed := 0

	objects := r.store.ListObjects(ctx, r.opts.Bucket, minio.ListObjectsOptions{
		Prefix:    r.opts.StagingPrefix + "/",
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return removed, unavailable("staging sweep", obj.Err)
		}
		if obj.LastModified.After(cutoff) {
			continue
		}
		if err := r.store.RemoveObject(ctx, r.opts.Bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			r.logger.Warn("Stale staged payload not removed", zap.String("key", obj.Key), zap.Error(err))
			continue
		}
		removed++
	}

	r.logger.Info("Staging sweep finished", zap.Int("removed", removed))
	return removed, nil
}

// SweepOrphanPayloads removes promoted payloads no descriptor references.
// Orphans appear when a descriptor row is deleted but its blob removal
// failed, and after a promote that committed on the blob side while the
// database transaction rolled back.
func (r *Reconciler) SweepOrphanPayloads(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}

	var orphans []minio.ObjectInfo
	objects := r.store.ListObjects(ctx, r.opts.Bucket, minio.ListObjectsOptions{
		Prefix:    r.opts.PayloadPrefix + "/",
		Recursive: true,
	})
	for obj := range objects {
		if obj.Err != nil {
			return 0, unavailable("payload sweep", obj.Err)
		}

		hash := strings.TrimSuffix(path.Base(obj.Key), ".zip")
		var refs int64
		if err := r.db.WithContext(ctx).Model(&Descriptor{}).
			Where("content_hash = ?", hash).Count(&refs).Error; err != nil {
			return 0, unavailable("payload sweep", err)
		}
		if refs == 0 {
			orphans = append(orphans, obj)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}

	objectsCh := make(chan minio.ObjectInfo, len(orphans))
	for _, obj := range orphans {
		objectsCh <- obj
	}
	close(objectsCh)

	removed := len(orphans)
	for res := range r.store.RemoveObjects(ctx, r.opts.Bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		r.logger.Warn("Orphan payload not removed",
			zap.String("key", res.ObjectName), zap.Error(res.Err))
		removed--
	}

	r.logger.Info("Orphan payload sweep finished", zap.Int("removed", removed))
	return removed, nil
}
