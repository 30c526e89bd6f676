package blobstore

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface checks.
var (
	_ BlobStore   = (*MemoryStore)(nil)
	_ BlobStore   = (*LocalStore)(nil)
	_ RangeReader = (*memoryBlob)(nil)
	_ Aborter     = (*memoryWritableBlob)(nil)
	_ Aborter     = (*localWritableBlob)(nil)
)

func TestStores(t *testing.T) {
	stores := map[string]func(t *testing.T) BlobStore{
		"Memory": func(t *testing.T) BlobStore { return NewMemoryStore() },
		"Local":  func(t *testing.T) BlobStore { return NewLocalStore(t.TempDir()) },
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("PutOpen", func(t *testing.T) {
				store := newStore(t)

				require.NoError(t, store.Put(ctx, "acme/item1.jpg", []byte("payload")))

				blob, err := store.Open(ctx, "acme/item1.jpg")
				require.NoError(t, err)
				defer blob.Close()

				assert.EqualValues(t, 7, blob.Size())

				data, err := io.ReadAll(io.NewSectionReader(blob, 0, blob.Size()))
				require.NoError(t, err)
				assert.Equal(t, []byte("payload"), data)
			})

			t.Run("OpenMissing", func(t *testing.T) {
				store := newStore(t)

				_, err := store.Open(ctx, "nope")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("Create", func(t *testing.T) {
				store := newStore(t)

				w, err := store.Create(ctx, "snapshots/archive.db")
				require.NoError(t, err)

				_, err = w.Write([]byte("part one "))
				require.NoError(t, err)
				_, err = w.Write([]byte("part two"))
				require.NoError(t, err)

				require.NoError(t, w.Close())

				blob, err := store.Open(ctx, "snapshots/archive.db")
				require.NoError(t, err)
				defer blob.Close()

				data, err := io.ReadAll(io.NewSectionReader(blob, 0, blob.Size()))
				require.NoError(t, err)
				assert.Equal(t, []byte("part one part two"), data)
			})

			t.Run("Abort", func(t *testing.T) {
				store := newStore(t)

				require.NoError(t, store.Put(ctx, "report.db", []byte("good")))

				w, err := store.Create(ctx, "report.db")
				require.NoError(t, err)

				_, err = w.Write([]byte("trunc"))
				require.NoError(t, err)

				aborter, ok := w.(Aborter)
				require.True(t, ok)
				require.NoError(t, aborter.Abort())

				// The aborted write left the previous blob untouched.
				blob, err := store.Open(ctx, "report.db")
				require.NoError(t, err)
				defer blob.Close()

				data, err := io.ReadAll(io.NewSectionReader(blob, 0, blob.Size()))
				require.NoError(t, err)
				assert.Equal(t, []byte("good"), data)

				// A fresh name aborted before Close never appears.
				w, err = store.Create(ctx, "never.db")
				require.NoError(t, err)

				_, err = w.Write([]byte("partial"))
				require.NoError(t, err)
				require.NoError(t, w.(Aborter).Abort())

				_, err = store.Open(ctx, "never.db")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("Delete", func(t *testing.T) {
				store := newStore(t)

				require.NoError(t, store.Put(ctx, "gone", []byte("x")))
				require.NoError(t, store.Delete(ctx, "gone"))

				_, err := store.Open(ctx, "gone")
				assert.ErrorIs(t, err, ErrNotFound)

				// Deleting again must not fail.
				assert.NoError(t, store.Delete(ctx, "gone"))
			})

			t.Run("List", func(t *testing.T) {
				store := newStore(t)

				require.NoError(t, store.Put(ctx, "acme/b.jpg", []byte("b")))
				require.NoError(t, store.Put(ctx, "acme/a.jpg", []byte("a")))
				require.NoError(t, store.Put(ctx, "other/c.jpg", []byte("c")))

				names, err := store.List(ctx, "acme/")
				require.NoError(t, err)
				assert.Equal(t, []string{"acme/a.jpg", "acme/b.jpg"}, names)

				all, err := store.List(ctx, "")
				require.NoError(t, err)
				assert.Len(t, all, 3)
			})
		})
	}
}

func TestLocalStoreInvalidName(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	assert.Error(t, store.Put(ctx, "../escape", []byte("x")))
	assert.Error(t, store.Put(ctx, "", []byte("x")))

	_, err := store.Open(ctx, "../escape")
	assert.Error(t, err)
}

func TestMemoryBlobReadRange(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "blob", []byte("0123456789")))

	blob, err := store.Open(ctx, "blob")
	require.NoError(t, err)
	defer blob.Close()

	rr, ok := blob.(RangeReader)
	require.True(t, ok)

	r, err := rr.ReadRange(2, 4)
	require.NoError(t, err)
	defer r.Close()

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), data)
}

func TestMemoryStoreIsolation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	payload := []byte("original")
	require.NoError(t, store.Put(ctx, "blob", payload))

	// Mutating the caller's slice must not leak into the store.
	payload[0] = 'X'

	blob, err := store.Open(ctx, "blob")
	require.NoError(t, err)
	defer blob.Close()

	data, err := io.ReadAll(io.NewSectionReader(blob, 0, blob.Size()))
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), data)
}
