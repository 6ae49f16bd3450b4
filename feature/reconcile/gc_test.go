package reconcile

import (
	"context"
	"testing"
	"time"

	"farmhand/core/storage/mocks"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func objectChannel(objects ...minio.ObjectInfo) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(objects))
	for _, obj := range objects {
		ch <- obj
	}
	close(ch)
	return ch
}

func TestSweepStagingRemovesOnlyStaleObjects(t *testing.T) {
	now := time.Now()
	store := new(mocks.Client)
	store.On("ListObjects", mock.Anything, "test", mock.MatchedBy(func(opts minio.ListObjectsOptions) bool {
		return opts.Prefix == "staging/"
	})).Return(objectChannel(
		minio.ObjectInfo{Key: "staging/old.zip", LastModified: now.Add(-2 * time.Hour)},
		minio.ObjectInfo{Key: "staging/fresh.zip", LastModified: now.Add(-time.Minute)},
	))
	store.On("RemoveObject", mock.Anything, "test", "staging/old.zip", mock.Anything).Return(nil).Once()

	r := NewReconciler(newTestDB(t), store, zap.NewNop(), Options{Bucket: "test"})
	removed, err := r.SweepStaging(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	store.AssertExpectations(t)
	store.AssertNotCalled(t, "RemoveObject", mock.Anything, "test", "staging/fresh.zip", mock.Anything)
}

func TestSweepOrphanPayloads(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Create(&Descriptor{
		OwnerRef:    "farmer-joe",
		ContentHash: "referenced",
		Kind:        "mod-descriptor",
		PayloadKey:  "payloads/referenced.zip",
	}).Error)

	var swept []string
	store := new(mocks.Client)
	store.On("ListObjects", mock.Anything, "test", mock.MatchedBy(func(opts minio.ListObjectsOptions) bool {
		return opts.Prefix == "payloads/"
	})).Return(objectChannel(
		minio.ObjectInfo{Key: "payloads/referenced.zip"},
		minio.ObjectInfo{Key: "payloads/orphan.zip"},
	))
	store.On("RemoveObjects", mock.Anything, "test", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ch := args.Get(2).(<-chan minio.ObjectInfo)
			for obj := range ch {
				swept = append(swept, obj.Key)
			}
		}).Return(nil)

	r := NewReconciler(db, store, zap.NewNop(), Options{Bucket: "test"})
	removed, err := r.SweepOrphanPayloads(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []string{"payloads/orphan.zip"}, swept)
}

func TestSweepsWithoutStoreAreNoOps(t *testing.T) {
	r := NewReconciler(newTestDB(t), nil, zap.NewNop(), Options{Bucket: "test"})

	removed, err := r.SweepStaging(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = r.SweepOrphanPayloads(context.Background())
	require.NoError(t, err)
	assert.Zero(t, removed)
}
