package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"farmhand/core/storage/mocks"
	"farmhand/feature/normalizer"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const validModDesc = `<?xml version="1.0" encoding="utf-8"?>
<modDesc descVersion="60">
    <author>GIANTS Software</author>
    <version>1.0.0.0</version>
    <title><en>Big Bud Pack</en></title>
</modDesc>`

func testConfig() Config {
	return Config{
		Enabled:         true,
		MaxArchiveBytes: 1 << 20,
		MaxEntries:      16,
		MaxEntryBytes:   1 << 20,
		StagingPrefix:   "staging",
		PayloadPrefix:   "payloads",
	}
}

// zipBytes builds an archive preserving the given entry order.
func zipBytes(t *testing.T, entries [][2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, e := range entries {
		f, err := w.Create(e[0])
		require.NoError(t, err)
		_, err = f.Write([]byte(e[1]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestIngestStagesAndNormalizes(t *testing.T) {
	store := new(mocks.Client)
	store.On("PutObject", mock.Anything, "test", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, nil)

	svc := NewService(store, "test", testConfig(), zap.NewNop())
	data := zipBytes(t, [][2]string{
		{"modDesc.xml", validModDesc},
		{"textures/bigbud.dds", "binary"},
	})

	rec, err := svc.Ingest(context.Background(), "farmer-joe", data)
	require.NoError(t, err)
	assert.Equal(t, normalizer.KindModDescriptor, rec.Kind)
	assert.Equal(t, "farmer-joe", rec.OwnerRef)
	assert.Equal(t, "Big Bud Pack", rec.Title.Value)
	assert.Equal(t, "1.0.0.0", rec.Version.Value)
	assert.Len(t, rec.ContentHash, 64)
	assert.Contains(t, rec.PayloadStagingKey, "staging/")
	assert.EqualValues(t, len(data), rec.PayloadSize)
	store.AssertExpectations(t)
}

func TestIngestSavegame(t *testing.T) {
	store := new(mocks.Client)
	store.On("PutObject", mock.Anything, "test", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, nil)

	svc := NewService(store, "test", testConfig(), zap.NewNop())
	data := zipBytes(t, [][2]string{
		{"savegame1/careerSavegame.xml", `<?xml version="1.0" encoding="utf-8"?>
<careerSavegame>
    <settings>
        <savegameName>My Farm</savegameName>
        <mapTitle>Riverbend Springs</mapTitle>
    </settings>
    <statistics>
        <money>125000</money>
    </statistics>
</careerSavegame>`},
	})

	rec, err := svc.Ingest(context.Background(), "farmer-joe", data)
	require.NoError(t, err)
	assert.Equal(t, normalizer.KindSavegameDescriptor, rec.Kind)
	assert.Equal(t, "Riverbend Springs", rec.MapName.Value)
	assert.EqualValues(t, 125000, rec.Money.Value)
}

func TestCanonicalHashIgnoresPacking(t *testing.T) {
	store := new(mocks.Client)
	store.On("PutObject", mock.Anything, "test", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(minio.UploadInfo{}, nil)

	svc := NewService(store, "test", testConfig(), zap.NewNop())

	forward := zipBytes(t, [][2]string{
		{"modDesc.xml", validModDesc},
		{"textures/bigbud.dds", "binary"},
	})
	reversed := zipBytes(t, [][2]string{
		{"textures/bigbud.dds", "binary"},
		{"modDesc.xml", validModDesc},
	})
	differing := zipBytes(t, [][2]string{
		{"modDesc.xml", validModDesc},
		{"textures/bigbud.dds", "other binary"},
	})

	a, err := svc.Ingest(context.Background(), "farmer-joe", forward)
	require.NoError(t, err)
	b, err := svc.Ingest(context.Background(), "farmer-joe", reversed)
	require.NoError(t, err)
	c, err := svc.Ingest(context.Background(), "farmer-joe", differing)
	require.NoError(t, err)

	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.NotEqual(t, a.ContentHash, c.ContentHash)
}

func TestIngestRejectsPathTraversal(t *testing.T) {
	store := new(mocks.Client)
	svc := NewService(store, "test", testConfig(), zap.NewNop())

	data := zipBytes(t, [][2]string{
		{"modDesc.xml", validModDesc},
		{"../evil.sh", "#!/bin/sh"},
	})

	_, err := svc.Ingest(context.Background(), "farmer-joe", data)
	require.Error(t, err)
	ie, ok := AsIngestError(err)
	require.True(t, ok)
	assert.Equal(t, PathTraversal, ie.Reason)
	// Nothing reaches the blob store.
	store.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestIngestRejectsOversizeArchive(t *testing.T) {
	cfg := testConfig()
	cfg.MaxArchiveBytes = 16
	svc := NewService(new(mocks.Client), "test", cfg, zap.NewNop())

	_, err := svc.Ingest(context.Background(), "farmer-joe", make([]byte, 17))
	ie, ok := AsIngestError(err)
	require.True(t, ok)
	assert.Equal(t, ArchiveTooLarge, ie.Reason)
}

func TestIngestRejectsTooManyEntries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEntries = 1
	svc := NewService(new(mocks.Client), "test", cfg, zap.NewNop())

	data := zipBytes(t, [][2]string{
		{"modDesc.xml", validModDesc},
		{"extra.txt", "x"},
	})
	_, err := svc.Ingest(context.Background(), "farmer-joe", data)
	ie, ok := AsIngestError(err)
	require.True(t, ok)
	assert.Equal(t, ArchiveTooLarge, ie.Reason)
}

func TestIngestRejectsOversizeEntry(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEntryBytes = 8
	svc := NewService(new(mocks.Client), "test", cfg, zap.NewNop())

	data := zipBytes(t, [][2]string{
		{"modDesc.xml", validModDesc},
	})
	_, err := svc.Ingest(context.Background(), "farmer-joe", data)
	ie, ok := AsIngestError(err)
	require.True(t, ok)
	assert.Equal(t, ArchiveTooLarge, ie.Reason)
}

func TestIngestRejectsMissingDescriptor(t *testing.T) {
	svc := NewService(new(mocks.Client), "test", testConfig(), zap.NewNop())

	data := zipBytes(t, [][2]string{{"readme.txt", "no descriptor here"}})
	_, err := svc.Ingest(context.Background(), "farmer-joe", data)
	ie, ok := AsIngestError(err)
	require.True(t, ok)
	assert.Equal(t, MissingDescriptor, ie.Reason)
}

func TestIngestRejectsAmbiguousDescriptor(t *testing.T) {
	svc := NewService(new(mocks.Client), "test", testConfig(), zap.NewNop())

	data := zipBytes(t, [][2]string{
		{"modDesc.xml", validModDesc},
		{"savegame1/careerSavegame.xml", "<careerSavegame/>"},
	})
	_, err := svc.Ingest(context.Background(), "farmer-joe", data)
	ie, ok := AsIngestError(err)
	require.True(t, ok)
	assert.Equal(t, AmbiguousDescriptor, ie.Reason)
}

func TestIngestRejectsMalformedArchive(t *testing.T) {
	svc := NewService(new(mocks.Client), "test", testConfig(), zap.NewNop())

	_, err := svc.Ingest(context.Background(), "farmer-joe", []byte("definitely not a zip"))
	ie, ok := AsIngestError(err)
	require.True(t, ok)
	assert.Equal(t, MalformedArchive, ie.Reason)
}

func TestIngestDiscardsStagedOnNormalizeFailure(t *testing.T) {
	var stagedKey string
	store := new(mocks.Client)
	store.On("PutObject", mock.Anything, "test", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			stagedKey = args.String(2)
		}).
		Return(minio.UploadInfo{}, nil)
	store.On("RemoveObject", mock.Anything, "test", mock.Anything, mock.Anything).Return(nil)

	svc := NewService(store, "test", testConfig(), zap.NewNop())

	// Valid zip, recognizable descriptor, but the document misses the
	// required version element.
	data := zipBytes(t, [][2]string{
		{"modDesc.xml", `<modDesc descVersion="60"><title><en>Big Bud</en></title></modDesc>`},
	})
	_, err := svc.Ingest(context.Background(), "farmer-joe", data)
	require.Error(t, err)
	_, ok := normalizer.AsNormalizationError(err)
	assert.True(t, ok)

	// The staged copy was removed again.
	store.AssertCalled(t, "RemoveObject", mock.Anything, "test", stagedKey, mock.Anything)
}
