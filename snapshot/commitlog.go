package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrVersionConflict is returned when a snapshot version has already been
// published, usually by a concurrent writer.
var ErrVersionConflict = errors.New("snapshot: version already published")

// Record describes one uploaded snapshot.
type Record struct {
	// Version increases by one per published snapshot.
	Version int64

	// Key is the object key the snapshot was uploaded under.
	Key string

	// Size is the uploaded size in bytes, after compression.
	Size int64

	// CreatedAt is the upload time.
	CreatedAt time.Time
}

// CommitLog tracks published snapshots. It gives concurrent writers
// compare-and-swap semantics the blob store lacks and lets restores find
// the newest upload without listing objects.
type CommitLog interface {
	// Latest returns the newest published record, or ErrNoSnapshot when
	// nothing has been published yet.
	Latest(ctx context.Context) (Record, error)

	// Publish appends rec under its version. Publishing a version that
	// already exists fails with ErrVersionConflict.
	Publish(ctx context.Context, rec Record) error
}

// MemoryCommitLog is an in-memory CommitLog for tests and single-process
// setups. It is safe for concurrent use.
type MemoryCommitLog struct {
	mu      sync.Mutex
	records map[int64]Record
	max     int64
}

// NewMemoryCommitLog creates an empty in-memory commit log.
func NewMemoryCommitLog() *MemoryCommitLog {
	return &MemoryCommitLog{records: make(map[int64]Record)}
}

// Latest implements CommitLog.
func (l *MemoryCommitLog) Latest(_ context.Context) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.max == 0 {
		return Record{}, ErrNoSnapshot
	}

	return l.records[l.max], nil
}

// Publish implements CommitLog.
func (l *MemoryCommitLog) Publish(_ context.Context, rec Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.records[rec.Version]; exists {
		return fmt.Errorf("%w: version %d", ErrVersionConflict, rec.Version)
	}

	l.records[rec.Version] = rec

	if rec.Version > l.max {
		l.max = rec.Version
	}

	return nil
}
