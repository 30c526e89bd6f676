// Package blobstore abstracts the storage that holds item media and
// snapshot archives.
//
// BlobStore is the write-read-delete-list contract; implementations must
// be safe for concurrent use. Optional capabilities are expressed as
// separate interfaces checked once at wiring time:
//
//   - URLSigner: mint pre-signed, time-limited download URLs
//   - RangeReader: stream a byte range of a blob
//   - Aborter: discard a streaming write without publishing it
//
// # Built-in Implementations
//
//   - LocalStore: local filesystem, reads served through mmap
//   - MemoryStore: in-memory store for tests
//   - s3.Store: Amazon S3 with streaming uploads and pre-signed URLs
//   - minio.Store: MinIO and other S3-compatible object stores
package blobstore
