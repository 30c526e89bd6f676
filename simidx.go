package simidx

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/simidx/ann"
	"github.com/hupe1980/simidx/catalog"
)

// Record describes the stored media behind an item.
type Record = catalog.Record

// Item pairs an item id with its record.
type Item = catalog.Item

// Match is a single search result.
type Match struct {
	// ItemID identifies the matched item within the searched project.
	ItemID string

	// Similarity is the cosine similarity between the query and the item,
	// in [-1, 1]. Results are ordered by non-increasing similarity.
	Similarity float64
}

// Store is an embedding index with project-scoped search and a durable
// catalog. The catalog is the source of truth: the in-memory vector index
// and project membership maps are rebuilt from it at Open, so the store
// survives restarts without persisting the index itself.
//
// All methods are safe for concurrent use. Mutating operations serialize on
// a store-wide lock.
type Store struct {
	mu sync.Mutex

	catalog *catalog.Catalog
	index   ann.Index
	dim     int

	maxCapacity int

	// members maps a project to the internal ids it owns, keys maps an
	// internal id back to its caller-facing identity. Both mirror the
	// catalog and are maintained on every mutation.
	members map[string]*roaring64.Bitmap
	keys    map[uint64]itemKey

	closed bool

	metrics MetricsCollector
	logger  *Logger
}

type itemKey struct {
	projectID string
	itemID    string
}

// Open opens the store at path, creating the catalog file if absent. The
// vector index is rebuilt from the catalog before Open returns, so a freshly
// opened store serves searches over everything the catalog holds.
//
// dimension fixes the embedding dimension for the lifetime of the store and
// must match any vectors already persisted at path.
func Open(ctx context.Context, path string, dimension int, optFns ...Option) (*Store, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dimension)
	}

	opts := applyOptions(optFns...)

	var (
		index ann.Index
		err   error
	)

	switch opts.indexKind {
	case IndexHNSW:
		index, err = ann.NewHNSW(dimension, opts.hnswOptFns...)
	case IndexFlat:
		index, err = ann.NewFlat(dimension, opts.flatOptFns...)
	default:
		return nil, fmt.Errorf("unknown index kind %q", opts.indexKind)
	}

	if err != nil {
		return nil, err
	}

	cat, err := catalog.Open(ctx, path, func(o *catalog.Options) {
		o.Logger = opts.logger.Logger
	})
	if err != nil {
		return nil, err
	}

	s := &Store{
		catalog:     cat,
		index:       index,
		dim:         dimension,
		maxCapacity: opts.maxCapacity,
		members:     make(map[string]*roaring64.Bitmap),
		keys:        make(map[uint64]itemKey),
		metrics:     opts.metricsCollector,
		logger:      opts.logger,
	}

	if err := s.loadLocked(ctx); err != nil {
		_ = cat.Close()
		return nil, fmt.Errorf("load catalog: %w", translateError(err))
	}

	s.logger.InfoContext(ctx, "store opened",
		"path", path,
		"dimension", dimension,
		"index_kind", string(opts.indexKind),
		"items", len(s.keys),
	)

	return s, nil
}

// UpsertItem inserts or replaces an item. The catalog write, the index
// update, and the membership bookkeeping happen under the store lock, so
// concurrent readers never observe a partial upsert.
func (s *Store) UpsertItem(ctx context.Context, projectID, itemID string, rec Record, embedding []float32) error {
	start := time.Now()

	err := translateError(s.upsertItem(ctx, projectID, itemID, rec, embedding))

	s.metrics.RecordUpsert(time.Since(start), err)
	s.logger.LogUpsert(ctx, projectID, itemID, len(embedding), err)

	return err
}

func (s *Store) upsertItem(ctx context.Context, projectID, itemID string, rec Record, embedding []float32) error {
	if err := ValidateProjectID(projectID); err != nil {
		return err
	}

	if err := ValidateItemID(itemID); err != nil {
		return err
	}

	if len(embedding) != s.dim {
		return &ErrDimensionMismatch{Expected: s.dim, Actual: len(embedding)}
	}

	if isZeroVector(embedding) {
		return ErrZeroVector
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	// Only a brand new item can push the store over its capacity.
	if s.maxCapacity > 0 && len(s.keys) >= s.maxCapacity {
		_, exists, err := s.catalog.Resolve(ctx, projectID, itemID)
		if err != nil {
			return err
		}

		if !exists {
			return fmt.Errorf("%w: limit %d", ErrCapacityExceeded, s.maxCapacity)
		}
	}

	internal, err := s.catalog.UpsertItem(ctx, projectID, itemID, rec, embedding)
	if err != nil {
		return err
	}

	if err := s.index.Upsert(internal, embedding); err != nil {
		return err
	}

	bm := s.members[projectID]
	if bm == nil {
		bm = roaring64.New()
		s.members[projectID] = bm
	}

	bm.Add(internal)
	s.keys[internal] = itemKey{projectID: projectID, itemID: itemID}

	return nil
}

// GetRecord returns the record stored for an item, or ErrNotFound.
func (s *Store) GetRecord(ctx context.Context, projectID, itemID string) (Record, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return Record{}, err
	}

	if err := ValidateItemID(itemID); err != nil {
		return Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Record{}, ErrClosed
	}

	rec, err := s.catalog.GetRecord(ctx, projectID, itemID)

	return rec, translateError(err)
}

// ListRecords returns all items of a project ordered by item id. A project
// with no items yields an empty, non-nil slice; an unknown project yields
// ErrProjectNotFound.
func (s *Store) ListRecords(ctx context.Context, projectID string) ([]Item, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	items, err := s.catalog.ListRecords(ctx, projectID)

	return items, translateError(err)
}

// DeleteItem removes an item's vector, catalog rows, and membership entry.
// It returns the record that was stored and whether the item existed, so
// callers can clean up an external blob afterwards. Deleting an absent item
// is not an error.
func (s *Store) DeleteItem(ctx context.Context, projectID, itemID string) (Record, bool, error) {
	start := time.Now()

	rec, existed, err := s.deleteItem(ctx, projectID, itemID)
	err = translateError(err)

	s.metrics.RecordDelete(time.Since(start), err)
	s.logger.LogDelete(ctx, projectID, itemID, existed, err)

	return rec, existed, err
}

func (s *Store) deleteItem(ctx context.Context, projectID, itemID string) (Record, bool, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return Record{}, false, err
	}

	if err := ValidateItemID(itemID); err != nil {
		return Record{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Record{}, false, ErrClosed
	}

	rec, internal, existed, err := s.catalog.DeleteItem(ctx, projectID, itemID)
	if err != nil {
		return Record{}, false, err
	}

	if existed {
		s.index.Delete(internal)

		if bm := s.members[projectID]; bm != nil {
			bm.Remove(internal)
		}

		delete(s.keys, internal)
	}

	return rec, existed, nil
}

// Search returns up to k items of a project ordered by descending cosine
// similarity to the query. k <= 0 and empty projects yield an empty result,
// an unknown project yields ErrProjectNotFound.
//
// Membership filtering is applied during the index search, so results never
// leak across projects. With an approximate index a heavily filtered search
// may return fewer than k results; raising EFSearch widens the sweep.
func (s *Store) Search(ctx context.Context, projectID string, query []float32, k int) ([]Match, error) {
	start := time.Now()

	matches, err := s.search(ctx, projectID, query, k)
	err = translateError(err)

	s.metrics.RecordSearch(time.Since(start), err)
	s.logger.LogSearch(ctx, projectID, k, len(matches), err)

	return matches, err
}

func (s *Store) search(ctx context.Context, projectID string, query []float32, k int) ([]Match, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return nil, err
	}

	if len(query) != s.dim {
		return nil, &ErrDimensionMismatch{Expected: s.dim, Actual: len(query)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	members, ok := s.members[projectID]
	if !ok {
		return nil, ErrProjectNotFound
	}

	if k <= 0 || members.IsEmpty() {
		return []Match{}, nil
	}

	candidates, err := s.index.Search(query, k, members.Contains)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(candidates))

	for _, c := range candidates {
		key, ok := s.keys[c.ID]
		if !ok {
			continue
		}

		matches = append(matches, Match{
			ItemID:     key.itemID,
			Similarity: 1 - float64(c.Distance),
		})
	}

	return matches, nil
}

// EnsureProject creates a project if it does not exist yet. Projects are
// also created implicitly by UpsertItem; an explicit create lets an empty
// project be distinguished from an unknown one.
func (s *Store) EnsureProject(ctx context.Context, projectID string) error {
	if err := ValidateProjectID(projectID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	if err := s.catalog.EnsureProject(ctx, projectID); err != nil {
		return err
	}

	if s.members[projectID] == nil {
		s.members[projectID] = roaring64.New()
	}

	return nil
}

// ProjectExists reports whether a project has been created.
func (s *Store) ProjectExists(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.members[projectID]

	return ok
}

// Projects returns all known project ids in lexical order.
func (s *Store) Projects() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.members))
	for name := range s.members {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// CountItems returns the number of items in a project.
func (s *Store) CountItems(projectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	bm, ok := s.members[projectID]
	if !ok {
		return 0, ErrProjectNotFound
	}

	return int(bm.GetCardinality()), nil
}

// RebuildIndex discards the vector index and membership maps and rebuilds
// both from the catalog. The store is unavailable to other operations while
// the rebuild runs.
func (s *Store) RebuildIndex(ctx context.Context) error {
	start := time.Now()

	items, err := s.rebuildIndex(ctx)
	err = translateError(err)

	s.metrics.RecordRebuild(time.Since(start), err)
	s.logger.LogRebuild(ctx, items, err)

	return err
}

func (s *Store) rebuildIndex(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	if err := s.loadLocked(ctx); err != nil {
		return 0, err
	}

	return len(s.keys), nil
}

// loadLocked repopulates the index and the mirrors from the catalog. The
// caller must hold s.mu, except during Open before the store is published.
func (s *Store) loadLocked(ctx context.Context) error {
	s.index.Reset()
	s.members = make(map[string]*roaring64.Bitmap)
	s.keys = make(map[uint64]itemKey)

	projects, err := s.catalog.Projects(ctx)
	if err != nil {
		return err
	}

	for _, p := range projects {
		s.members[p] = roaring64.New()
	}

	return s.catalog.ScanEntries(ctx, func(e catalog.Entry) error {
		if err := s.index.Upsert(e.InternalID, e.Embedding); err != nil {
			return err
		}

		bm := s.members[e.ProjectID]
		if bm == nil {
			bm = roaring64.New()
			s.members[e.ProjectID] = bm
		}

		bm.Add(e.InternalID)
		s.keys[e.InternalID] = itemKey{projectID: e.ProjectID, itemID: e.ItemID}

		return nil
	})
}

// BackupTo writes a compacted, self-contained copy of the catalog to dest.
// The copy is taken under the store lock, so it is a consistent snapshot.
func (s *Store) BackupTo(ctx context.Context, dest string) error {
	start := time.Now()

	err := translateError(s.backupTo(ctx, dest))

	s.metrics.RecordBackup(time.Since(start), err)
	s.logger.LogBackup(ctx, dest, err)

	return err
}

func (s *Store) backupTo(ctx context.Context, dest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}

	return s.catalog.VacuumInto(ctx, dest)
}

// Len returns the total number of items across all projects.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.keys)
}

// Dimension returns the embedding dimension the store was opened with.
func (s *Store) Dimension() int {
	return s.dim
}

// Path returns the filesystem path of the catalog.
func (s *Store) Path() string {
	return s.catalog.Path()
}

// Close releases the catalog. Further operations return ErrClosed. Close is
// idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.catalog.Close()
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}

	return true
}
