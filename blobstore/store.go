package blobstore

import (
	"context"
	"io"
	"os"
	"time"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies
// errors.Is(err, ErrNotFound). The default maps to os.ErrNotExist.
var ErrNotFound = os.ErrNotExist

// BlobStore is an abstraction for storing and retrieving blobs.
type BlobStore interface {
	// Open opens a blob for reading.
	Open(ctx context.Context, name string) (Blob, error)

	// Put writes a blob in one shot. The blob is visible under name only
	// after Put returns.
	Put(ctx context.Context, name string, data []byte) error

	// Create opens a blob for streaming writes. The data is visible under
	// name only after the returned blob is closed without error.
	Create(ctx context.Context, name string) (WritableBlob, error)

	// Delete removes a blob. Deleting an absent blob is not an error.
	Delete(ctx context.Context, name string) error

	// List returns the names of all blobs with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Blob is a read-only handle to a stored blob.
type Blob interface {
	io.ReaderAt
	io.Closer

	// Size returns the size of the blob in bytes.
	Size() int64
}

// WritableBlob is a streaming write handle. Nothing is durable until
// Close returns without error.
type WritableBlob interface {
	io.Writer
	io.Closer

	// Sync flushes buffered data where the backend supports it.
	Sync() error
}

// Aborter is an optional interface for writable blobs that can discard a
// write in progress. After Abort the blob under the target name is left as
// it was before Create; a failed writer never publishes a truncated blob.
type Aborter interface {
	Abort() error
}

// RangeReader is an optional interface for blobs that can stream a byte
// range without per-call positioning. Remote stores implement it to avoid
// one round trip per ReadAt during sequential reads.
type RangeReader interface {
	ReadRange(off, length int64) (io.ReadCloser, error)
}

// URLSigner is an optional interface for stores that can mint pre-signed,
// time-limited download URLs for their blobs.
type URLSigner interface {
	SignURL(ctx context.Context, name string, expiry time.Duration) (string, error)
}
