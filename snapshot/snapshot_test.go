package snapshot

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/simidx/blobstore"
)

type fakeSource struct {
	data []byte
}

func (f *fakeSource) BackupTo(_ context.Context, dest string) error {
	return os.WriteFile(dest, f.data, 0o644)
}

func TestCompression(t *testing.T) {
	payload := bytes.Repeat([]byte("the catalog payload "), 512)

	for _, codec := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run(string(codec), func(t *testing.T) {
			var buf bytes.Buffer

			w, err := codec.newWriter(&buf)
			require.NoError(t, err)

			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := detectReader(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			defer r.Close()

			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}

	t.Run("Unknown", func(t *testing.T) {
		_, err := Compression("brotli").newWriter(io.Discard)
		assert.Error(t, err)
	})
}

func TestVersionedKey(t *testing.T) {
	assert.Equal(t, "snapshots/catalog-v7.db", versionedKey("snapshots/catalog.db", 7))
	assert.Equal(t, "backup-v1", versionedKey("backup", 1))
}

func TestMemoryCommitLog(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryCommitLog()

	_, err := log.Latest(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, log.Publish(ctx, Record{Version: 1, Key: "a"}))
	require.NoError(t, log.Publish(ctx, Record{Version: 2, Key: "b"}))

	err = log.Publish(ctx, Record{Version: 2, Key: "dup"})
	assert.ErrorIs(t, err, ErrVersionConflict)

	latest, err := log.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", latest.Key)
}

func TestManagerBackup(t *testing.T) {
	ctx := context.Background()

	t.Run("FixedKey", func(t *testing.T) {
		blobs := blobstore.NewMemoryStore()
		src := &fakeSource{data: []byte("catalog bytes one")}

		m := NewManager(src, blobs, func(o *Options) {
			o.Key = "snap/catalog.db"
			o.Compression = CompressionNone
			o.TempDir = t.TempDir()
		})

		rec, err := m.Backup(ctx)
		require.NoError(t, err)
		assert.Equal(t, "snap/catalog.db", rec.Key)
		assert.Equal(t, int64(len(src.data)), rec.Size)

		// Without a commit log a second backup replaces the object in place.
		src.data = []byte("catalog bytes two")

		rec, err = m.Backup(ctx)
		require.NoError(t, err)
		assert.Equal(t, "snap/catalog.db", rec.Key)

		names, err := blobs.List(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"snap/catalog.db"}, names)
	})

	t.Run("VersionedWithCommitLog", func(t *testing.T) {
		blobs := blobstore.NewMemoryStore()
		log := NewMemoryCommitLog()
		src := &fakeSource{data: []byte("versioned catalog")}

		m := NewManager(src, blobs, func(o *Options) {
			o.Key = "snap/catalog.db"
			o.CommitLog = log
			o.TempDir = t.TempDir()
		})

		first, err := m.Backup(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), first.Version)
		assert.Equal(t, "snap/catalog-v1.db", first.Key)

		second, err := m.Backup(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), second.Version)
		assert.Equal(t, "snap/catalog-v2.db", second.Key)

		latest, err := log.Latest(ctx)
		require.NoError(t, err)
		assert.Equal(t, second.Key, latest.Key)
	})

	t.Run("Throttled", func(t *testing.T) {
		blobs := blobstore.NewMemoryStore()
		src := &fakeSource{data: bytes.Repeat([]byte("x"), 3<<20)}

		m := NewManager(src, blobs, func(o *Options) {
			o.Key = "snap/catalog.db"
			o.Compression = CompressionNone
			o.UploadBytesPerSec = 1 << 30
			o.TempDir = t.TempDir()
		})

		rec, err := m.Backup(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3<<20), rec.Size)
	})
}

func TestRestore(t *testing.T) {
	ctx := context.Background()

	backup := func(t *testing.T, codec Compression) (*blobstore.MemoryStore, []byte) {
		t.Helper()

		blobs := blobstore.NewMemoryStore()
		data := bytes.Repeat([]byte("sqlite page "), 4096)

		m := NewManager(&fakeSource{data: data}, blobs, func(o *Options) {
			o.Key = "snap/catalog.db"
			o.Compression = codec
			o.TempDir = t.TempDir()
		})

		_, err := m.Backup(ctx)
		require.NoError(t, err)

		return blobs, data
	}

	for _, codec := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd} {
		t.Run("RoundTrip_"+string(codec), func(t *testing.T) {
			blobs, want := backup(t, codec)
			dbPath := filepath.Join(t.TempDir(), "catalog.db")

			require.NoError(t, Restore(ctx, blobs, "snap/catalog.db", dbPath))

			got, err := os.ReadFile(dbPath)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}

	t.Run("ResolvesLatestFromCommitLog", func(t *testing.T) {
		blobs := blobstore.NewMemoryStore()
		log := NewMemoryCommitLog()
		src := &fakeSource{data: []byte("old")}

		m := NewManager(src, blobs, func(o *Options) {
			o.Key = "snap/catalog.db"
			o.Compression = CompressionNone
			o.CommitLog = log
			o.TempDir = t.TempDir()
		})

		_, err := m.Backup(ctx)
		require.NoError(t, err)

		src.data = []byte("new")

		_, err = m.Backup(ctx)
		require.NoError(t, err)

		dbPath := filepath.Join(t.TempDir(), "catalog.db")

		require.NoError(t, Restore(ctx, blobs, "snap/catalog.db", dbPath, func(o *RestoreOptions) {
			o.CommitLog = log
		}))

		got, err := os.ReadFile(dbPath)
		require.NoError(t, err)
		assert.Equal(t, []byte("new"), got)
	})

	t.Run("RefusesExistingFile", func(t *testing.T) {
		blobs, _ := backup(t, CompressionNone)
		dbPath := filepath.Join(t.TempDir(), "catalog.db")
		require.NoError(t, os.WriteFile(dbPath, []byte("live"), 0o644))

		err := Restore(ctx, blobs, "snap/catalog.db", dbPath)
		assert.ErrorIs(t, err, ErrLocalExists)

		got, err := os.ReadFile(dbPath)
		require.NoError(t, err)
		assert.Equal(t, []byte("live"), got)
	})

	t.Run("NoSnapshot", func(t *testing.T) {
		blobs := blobstore.NewMemoryStore()
		dbPath := filepath.Join(t.TempDir(), "catalog.db")

		err := Restore(ctx, blobs, "snap/catalog.db", dbPath)
		assert.ErrorIs(t, err, ErrNoSnapshot)
		assert.NoFileExists(t, dbPath)
	})
}

func TestRunFinalBackup(t *testing.T) {
	blobs := blobstore.NewMemoryStore()
	src := &fakeSource{data: []byte("final state")}

	m := NewManager(src, blobs, func(o *Options) {
		o.Key = "snap/catalog.db"
		o.Compression = CompressionNone
		o.TempDir = t.TempDir()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		m.Run(ctx)
	}()

	cancel()
	<-done

	assert.Equal(t, 1, blobs.Len())
}
