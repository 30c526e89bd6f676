// Package snapshot ships catalog backups to a blob store and restores them
// at startup.
//
// A Manager periodically asks its Source for a consistent local copy of the
// catalog, compresses it, and streams it to a blob store, optionally
// throttled and optionally tracked in a CommitLog. Restore runs before the
// catalog is opened: it downloads the newest snapshot into the database
// path, refusing to touch an existing file. Restore failures are meant to be
// logged and ignored so a bad snapshot never blocks startup.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hupe1980/simidx/blobstore"
)

var (
	// ErrNoSnapshot is returned when no snapshot exists to restore from.
	ErrNoSnapshot = errors.New("snapshot: no snapshot available")

	// ErrLocalExists is returned when a restore would overwrite an existing
	// database file.
	ErrLocalExists = errors.New("snapshot: local database already exists")
)

const (
	// uploadBurst is the largest single chunk a throttled upload writes.
	uploadBurst = 1 << 20

	// finalBackupTimeout bounds the shutdown backup taken when Run's context
	// is canceled.
	finalBackupTimeout = 30 * time.Second
)

// Source writes a consistent, self-contained copy of the catalog database
// to a local path.
type Source interface {
	BackupTo(ctx context.Context, dest string) error
}

// Options configure a Manager.
type Options struct {
	// Key is the object key snapshots are uploaded under. With a commit log
	// each upload gets a versioned variant of Key; without one the object
	// is replaced in place.
	Key string

	// Compression selects the upload codec.
	Compression Compression

	// Interval is the cadence of Run. Values below one minute are raised
	// to one minute.
	Interval time.Duration

	// UploadBytesPerSec throttles uploads. Zero means unlimited.
	UploadBytesPerSec float64

	// CommitLog, when set, records every upload and is consulted for the
	// next version number.
	CommitLog CommitLog

	// TempDir is the scratch directory for local copies. Defaults to the
	// system temp dir.
	TempDir string

	// Logger receives progress and failure logs.
	Logger *slog.Logger
}

// Manager periodically uploads catalog snapshots to a blob store.
type Manager struct {
	src   Source
	blobs blobstore.BlobStore
	opts  Options
}

// NewManager creates a snapshot manager for the given source and blob store.
func NewManager(src Source, blobs blobstore.BlobStore, optFns ...func(o *Options)) *Manager {
	opts := Options{
		Key:         "snapshots/catalog.db",
		Compression: CompressionZstd,
		Interval:    time.Hour,
	}

	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}

	if opts.Interval < time.Minute {
		opts.Interval = time.Minute
	}

	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Manager{src: src, blobs: blobs, opts: opts}
}

// Backup takes a consistent copy of the catalog, uploads it, and publishes
// it to the commit log when one is configured. It returns the record
// describing the upload.
func (m *Manager) Backup(ctx context.Context) (Record, error) {
	version := int64(1)
	key := m.opts.Key

	if m.opts.CommitLog != nil {
		latest, err := m.opts.CommitLog.Latest(ctx)

		switch {
		case err == nil:
			version = latest.Version + 1
		case errors.Is(err, ErrNoSnapshot):
		default:
			return Record{}, fmt.Errorf("resolve latest snapshot: %w", err)
		}

		key = versionedKey(m.opts.Key, version)
	}

	local := filepath.Join(m.opts.TempDir, fmt.Sprintf("snapshot-%d.db", time.Now().UnixNano()))

	if err := m.src.BackupTo(ctx, local); err != nil {
		return Record{}, fmt.Errorf("copy catalog: %w", err)
	}
	defer os.Remove(local)

	size, err := m.upload(ctx, local, key)
	if err != nil {
		return Record{}, fmt.Errorf("upload snapshot %s: %w", key, err)
	}

	rec := Record{
		Version:   version,
		Key:       key,
		Size:      size,
		CreatedAt: time.Now().UTC(),
	}

	if m.opts.CommitLog != nil {
		if err := m.opts.CommitLog.Publish(ctx, rec); err != nil {
			return Record{}, err
		}
	}

	m.opts.Logger.InfoContext(ctx, "snapshot uploaded",
		"key", key,
		"bytes", size,
		"version", version,
	)

	return rec, nil
}

func (m *Manager) upload(ctx context.Context, local, key string) (int64, error) {
	f, err := os.Open(local)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	wb, err := m.blobs.Create(ctx, key)
	if err != nil {
		return 0, err
	}

	counter := &countingWriter{w: wb}

	var sink io.Writer = counter
	if m.opts.UploadBytesPerSec > 0 {
		sink = &throttledWriter{
			ctx:     ctx,
			w:       counter,
			limiter: rate.NewLimiter(rate.Limit(m.opts.UploadBytesPerSec), uploadBurst),
		}
	}

	cw, err := m.opts.Compression.newWriter(sink)
	if err != nil {
		abortBlob(wb)
		return 0, err
	}

	if _, err := io.Copy(cw, f); err != nil {
		_ = cw.Close()
		abortBlob(wb)

		return 0, err
	}

	if err := cw.Close(); err != nil {
		abortBlob(wb)
		return 0, err
	}

	if err := wb.Close(); err != nil {
		return 0, err
	}

	return counter.n, nil
}

// Run uploads a snapshot every interval until ctx is canceled, then takes a
// final backup so the newest state survives shutdown. Failures are logged
// and the next cycle proceeds.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			finalCtx, cancel := context.WithTimeout(context.Background(), finalBackupTimeout)

			if _, err := m.Backup(finalCtx); err != nil {
				m.opts.Logger.Warn("final snapshot failed", "error", err)
			}

			cancel()

			return
		case <-ticker.C:
			if _, err := m.Backup(ctx); err != nil {
				m.opts.Logger.WarnContext(ctx, "snapshot failed", "error", err)
			}
		}
	}
}

// RestoreOptions configure Restore.
type RestoreOptions struct {
	// CommitLog, when set, resolves the newest snapshot key instead of the
	// fixed one.
	CommitLog CommitLog

	// Logger receives progress logs.
	Logger *slog.Logger
}

// Restore downloads the newest snapshot into dbPath. The codec is detected
// from the object's leading bytes, so the caller does not have to know how
// the snapshot was written. Restore refuses to overwrite an existing file
// with ErrLocalExists and reports ErrNoSnapshot when the blob store holds
// none. The download lands in a temp file that is renamed into place, so a
// partial download never looks like a database.
func Restore(ctx context.Context, blobs blobstore.BlobStore, key, dbPath string, optFns ...func(o *RestoreOptions)) error {
	opts := RestoreOptions{}

	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}

	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if _, err := os.Stat(dbPath); err == nil {
		return ErrLocalExists
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	if opts.CommitLog != nil {
		rec, err := opts.CommitLog.Latest(ctx)
		if err != nil {
			return err
		}

		key = rec.Key
	}

	blob, err := blobs.Open(ctx, key)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrNoSnapshot, key)
		}

		return err
	}
	defer blob.Close()

	var src io.Reader

	if rr, ok := blob.(blobstore.RangeReader); ok {
		rc, err := rr.ReadRange(0, blob.Size())
		if err != nil {
			return err
		}
		defer rc.Close()

		src = rc
	} else {
		src = io.NewSectionReader(blob, 0, blob.Size())
	}

	dec, err := detectReader(src)
	if err != nil {
		return err
	}
	defer dec.Close()

	if err := writeFileAtomic(dbPath, dec); err != nil {
		return err
	}

	opts.Logger.InfoContext(ctx, "snapshot restored", "key", key, "path", dbPath)

	return nil
}

// versionedKey derives the object key for a snapshot version by inserting
// the version before the key's extension: "a/catalog.db" -> "a/catalog-v7.db".
func versionedKey(key string, version int64) string {
	ext := path.Ext(key)

	return fmt.Sprintf("%s-v%d%s", strings.TrimSuffix(key, ext), version, ext)
}

func writeFileAtomic(final string, src io.Reader) error {
	if dir := filepath.Dir(final); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	tmp := final + ".restore"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)

		return err
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)

		return err
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, final)
}

func abortBlob(wb blobstore.WritableBlob) {
	if a, ok := wb.(blobstore.Aborter); ok {
		_ = a.Abort()
		return
	}

	_ = wb.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)

	return n, err
}

// throttledWriter paces writes through a token bucket, chunking large
// writes so a single call never exceeds the burst.
type throttledWriter struct {
	ctx     context.Context
	w       io.Writer
	limiter *rate.Limiter
}

func (t *throttledWriter) Write(p []byte) (int, error) {
	written := 0

	for len(p) > 0 {
		chunk := len(p)
		if chunk > t.limiter.Burst() {
			chunk = t.limiter.Burst()
		}

		if err := t.limiter.WaitN(t.ctx, chunk); err != nil {
			return written, err
		}

		n, err := t.w.Write(p[:chunk])
		written += n

		if err != nil {
			return written, err
		}

		p = p[chunk:]
	}

	return written, nil
}
