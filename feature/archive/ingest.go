package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"farmhand/core/storage"
	"farmhand/core/utils"
	"farmhand/feature/normalizer"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"go.uber.org/zap"
)

// descriptorKinds maps recognized descriptor basenames to their schema.
var descriptorKinds = map[string]normalizer.SchemaKind{
	"modDesc.xml":        normalizer.KindModDescriptor,
	"careerSavegame.xml": normalizer.KindSavegameDescriptor,
	"map.xml":            normalizer.KindMapDescriptor,
}

// Service validates uploaded archives, stages their payloads and produces
// canonical records for reconciliation.
type Service struct {
	store  storage.Client
	bucket string
	cfg    Config
	logger *zap.Logger
}

// NewService creates a new archive ingest service.
func NewService(store storage.Client, bucket string, cfg Config, logger *zap.Logger) *Service {
	return &Service{store: store, bucket: bucket, cfg: cfg, logger: logger}
}

// Ingest validates one uploaded archive and returns its canonical record.
// The payload is staged in the blob store before the descriptor is parsed;
// on any later failure the staged copy is removed again. The returned
// record carries the staging key so the reconciler can promote the payload
// atomically with the descriptor row.
func (s *Service) Ingest(ctx context.Context, ownerRef string, data []byte) (*normalizer.CanonicalRecord, error) {
	if int64(len(data)) > s.cfg.MaxArchiveBytes {
		return nil, reject(ArchiveTooLarge, "archive is %d bytes, limit is %d", len(data), s.cfg.MaxArchiveBytes)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, reject(MalformedArchive, "not a readable zip: %v", err)
	}
	if len(zr.File) > s.cfg.MaxEntries {
		return nil, reject(ArchiveTooLarge, "archive has %d entries, limit is %d", len(zr.File), s.cfg.MaxEntries)
	}

	descriptor, kind, err := s.validateEntries(zr)
	if err != nil {
		return nil, err
	}

	contentHash, err := canonicalHash(zr)
	if err != nil {
		return nil, err
	}

	raw, err := readEntry(descriptor, s.cfg.MaxEntryBytes)
	if err != nil {
		return nil, err
	}

	stagingKey := fmt.Sprintf("%s/%s.zip", s.cfg.StagingPrefix, uuid.NewString())
	_, err = s.store.PutObject(ctx, s.bucket, stagingKey, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: utils.ContentTypeFor(path.Ext(stagingKey))})
	if err != nil {
		return nil, fmt.Errorf("stage payload: %w", err)
	}

	rec, err := normalizer.Normalize(raw, kind)
	if err != nil {
		s.discardStaged(ctx, stagingKey)
		return nil, err
	}

	rec.OwnerRef = ownerRef
	rec.ContentHash = contentHash
	rec.PayloadStagingKey = stagingKey
	rec.PayloadSize = int64(len(data))

	s.logger.Info("Archive staged",
		zap.String("owner", ownerRef),
		zap.String("kind", string(kind)),
		zap.String("content_hash", contentHash),
		zap.String("size", utils.FormatFileSize(int64(len(data)))),
	)
	return rec, nil
}

// validateEntries checks bounds and path safety, and locates the single
// descriptor entry. Zero or several recognized descriptors reject the
// archive; guessing which one to trust would corrupt the catalog.
func (s *Service) validateEntries(zr *zip.Reader) (*zip.File, normalizer.SchemaKind, error) {
	var (
		descriptor *zip.File
		kind       normalizer.SchemaKind
		found      []string
	)

	for _, f := range zr.File {
		name := f.Name
		cleaned := path.Clean(name)
		if strings.HasPrefix(name, "/") || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
			return nil, "", reject(PathTraversal, "entry %q escapes the archive root", name)
		}
		if f.FileInfo().IsDir() {
			continue
		}
		if int64(f.UncompressedSize64) > s.cfg.MaxEntryBytes {
			return nil, "", reject(ArchiveTooLarge, "entry %q declares %d bytes, limit is %d",
				name, f.UncompressedSize64, s.cfg.MaxEntryBytes)
		}

		if k, ok := descriptorKinds[path.Base(path.Clean(name))]; ok {
			found = append(found, name)
			descriptor = f
			kind = k
		}
	}

	switch len(found) {
	case 0:
		return nil, "", reject(MissingDescriptor, "no recognized descriptor entry")
	case 1:
		return descriptor, kind, nil
	default:
		return nil, "", reject(AmbiguousDescriptor, "multiple descriptor entries: %s", strings.Join(found, ", "))
	}
}

// canonicalHash computes the content hash of an archive independent of
// entry order, compression level and zip metadata. Two archives holding
// the same files under the same names hash identically.
func canonicalHash(zr *zip.Reader) (string, error) {
	files := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool {
		return path.Clean(files[i].Name) < path.Clean(files[j].Name)
	})

	h := sha256.New()
	for _, f := range files {
		h.Write([]byte(path.Clean(f.Name)))
		h.Write([]byte{0})

		rc, err := f.Open()
		if err != nil {
			return "", reject(MalformedArchive, "entry %q: %v", f.Name, err)
		}
		_, err = io.Copy(h, rc)
		rc.Close()
		if err != nil {
			return "", reject(MalformedArchive, "entry %q: %v", f.Name, err)
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, reject(MalformedArchive, "entry %q: %v", f.Name, err)
	}
	defer rc.Close()

	// The declared size was checked already; the limit guards against a
	// lying header.
	raw, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, reject(MalformedArchive, "entry %q: %v", f.Name, err)
	}
	if int64(len(raw)) > limit {
		return nil, reject(ArchiveTooLarge, "entry %q exceeds %d bytes", f.Name, limit)
	}
	return raw, nil
}

func (s *Service) discardStaged(ctx context.Context, stagingKey string) {
	if err := s.store.RemoveObject(ctx, s.bucket, stagingKey, minio.RemoveObjectOptions{}); err != nil {
		s.logger.Warn("Staged payload removal failed, sweeper will collect it",
			zap.String("key", stagingKey), zap.Error(err))
	}
}
