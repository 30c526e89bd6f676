package minio

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/simidx/blobstore"
)

// TestMinioStore_Integration requires a running MinIO instance.
// Skip if not available.
func TestMinioStore_Integration(t *testing.T) {
	endpoint := "localhost:9000"
	accessKey := "minioadmin"
	secretKey := "minioadmin"
	bucket := "test-simidx"

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: false,
	})
	if err != nil {
		t.Skipf("MinIO client creation failed: %v", err)
	}

	ctx := context.Background()

	if _, err = client.ListBuckets(ctx); err != nil {
		t.Skipf("MinIO not available: %v", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	require.NoError(t, err)

	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, "test-prefix/")

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "media.txt", data))

	blob, err := store.Open(ctx, "media.txt")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, len(data))
	n, err := blob.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, buf)

	rr, ok := blob.(blobstore.RangeReader)
	require.True(t, ok)

	rc, err := rr.ReadRange(6, 5)
	require.NoError(t, err)

	part := make([]byte, 5)
	_, err = io.ReadFull(rc, part)
	require.NoError(t, err)
	assert.Equal(t, "minio", string(part))
	require.NoError(t, rc.Close())
	require.NoError(t, blob.Close())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, names, "media.txt")

	url, err := store.SignURL(ctx, "media.txt", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.Contains(url, bucket))

	require.NoError(t, store.Delete(ctx, "media.txt"))

	_, err = store.Open(ctx, "media.txt")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	// Streaming write.
	wb, err := store.Create(ctx, "stream.txt")
	require.NoError(t, err)

	_, err = wb.Write([]byte("streamed data"))
	require.NoError(t, err)
	require.NoError(t, wb.Close())

	blob, err = store.Open(ctx, "stream.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(13), blob.Size())
	require.NoError(t, blob.Close())

	// Aborted write leaves nothing behind.
	wb, err = store.Create(ctx, "aborted.txt")
	require.NoError(t, err)

	_, err = wb.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, wb.(blobstore.Aborter).Abort())

	_, err = store.Open(ctx, "aborted.txt")
	assert.ErrorIs(t, err, blobstore.ErrNotFound)

	_ = store.Delete(ctx, "stream.txt")
}
