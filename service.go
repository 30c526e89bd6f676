package simidx

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/simidx/blobstore"
	"github.com/hupe1980/simidx/gate"
	"github.com/hupe1980/simidx/snapshot"
)

// EmbedGate is the admission gate name the service registers for embedder
// calls.
const EmbedGate = "embed"

// contentTypeExt maps accepted media content types to blob key extensions.
var contentTypeExt = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// ServiceOptions configure a Service.
type ServiceOptions struct {
	// Gates admits embedder calls under the EmbedGate name. A private
	// registry is created when nil; a shared one lets several services
	// compete for the same embedder slots.
	Gates *gate.Registry

	// EmbedConcurrency caps concurrent embedder calls.
	EmbedConcurrency int64

	// MaxPayloadBytes caps accepted media payload sizes.
	MaxPayloadBytes int64

	// URLTTL is the default expiry for signed item URLs.
	URLTTL time.Duration

	// Snapshots, when set, runs for the lifetime of the service and is
	// stopped by Close.
	Snapshots *snapshot.Manager

	// Logger receives service logs.
	Logger *Logger
}

// DefaultServiceOptions are the fallbacks applied by NewService.
var DefaultServiceOptions = ServiceOptions{
	EmbedConcurrency: 2,
	MaxPayloadBytes:  20 << 20,
	URLTTL:           24 * time.Hour,
}

// Service ties a Store to an embedder and a blob store. It accepts raw
// media, persists the bytes as a blob, computes the embedding under a
// bounded admission gate, and indexes the result. The embedder is the
// expensive resource here; the gate keeps its concurrency fixed no matter
// how many requests arrive.
type Service struct {
	store    *Store
	blobs    blobstore.BlobStore
	signer   blobstore.URLSigner
	embedder Embedder
	gates    *gate.Registry

	maxPayload int64
	urlTTL     time.Duration

	runCancel context.CancelFunc
	runDone   chan struct{}

	logger *Logger
}

// NewService creates a service over an open store. Whether the blob store
// can sign URLs is decided here, once, by interface assertion; ItemURL
// reports ErrURLNotSupported forever after when it cannot.
func NewService(store *Store, blobs blobstore.BlobStore, embedder Embedder, optFns ...func(o *ServiceOptions)) (*Service, error) {
	opts := DefaultServiceOptions

	for _, fn := range optFns {
		if fn != nil {
			fn(&opts)
		}
	}

	if opts.Logger == nil {
		opts.Logger = NoopLogger()
	}

	if opts.Gates == nil {
		opts.Gates = gate.NewRegistry()
	}

	if opts.EmbedConcurrency < 1 {
		opts.EmbedConcurrency = DefaultServiceOptions.EmbedConcurrency
	}

	if opts.MaxPayloadBytes < 1 {
		opts.MaxPayloadBytes = DefaultServiceOptions.MaxPayloadBytes
	}

	if opts.URLTTL < time.Second {
		opts.URLTTL = DefaultServiceOptions.URLTTL
	}

	if d, ok := embedder.(Dimensioner); ok && d.Dimension() != store.Dimension() {
		return nil, &ErrDimensionMismatch{Expected: store.Dimension(), Actual: d.Dimension()}
	}

	if err := opts.Gates.Register(EmbedGate, opts.EmbedConcurrency); err != nil {
		return nil, err
	}

	signer, _ := blobs.(blobstore.URLSigner)

	s := &Service{
		store:      store,
		blobs:      blobs,
		signer:     signer,
		embedder:   embedder,
		gates:      opts.Gates,
		maxPayload: opts.MaxPayloadBytes,
		urlTTL:     opts.URLTTL,
		logger:     opts.Logger,
	}

	if opts.Snapshots != nil {
		runCtx, cancel := context.WithCancel(context.Background())
		s.runCancel = cancel
		s.runDone = make(chan struct{})

		go func() {
			defer close(s.runDone)
			opts.Snapshots.Run(runCtx)
		}()
	}

	return s, nil
}

// Store returns the underlying store.
func (s *Service) Store() *Store {
	return s.store
}

// AddItem stores a media payload and indexes its embedding. An empty itemID
// gets a generated one; passing an existing itemID replaces the item. The
// returned Item carries the final id and the stored record.
//
// The blob is written before the embedding is computed. When embedding or
// indexing fails afterwards, the blob is deleted again on a best-effort
// basis so failed uploads do not accumulate storage.
func (s *Service) AddItem(ctx context.Context, projectID, itemID string, payload []byte, contentType, filename string) (Item, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return Item{}, err
	}

	generated := itemID == ""
	if generated {
		itemID = newItemID()
	} else if err := ValidateItemID(itemID); err != nil {
		return Item{}, err
	}

	if int64(len(payload)) > s.maxPayload {
		return Item{}, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), s.maxPayload)
	}

	ext, ok := contentTypeExt[contentType]
	if !ok {
		return Item{}, fmt.Errorf("%w: %q", ErrUnsupportedMedia, contentType)
	}

	// A replacement with a different content type lands under a new blob
	// key; remember the old one so it can be removed after the upsert.
	var prevKey string

	if !generated {
		prev, err := s.store.GetRecord(ctx, projectID, itemID)

		switch {
		case err == nil:
			prevKey = prev.BlobKey
		case errors.Is(err, ErrNotFound):
		default:
			return Item{}, err
		}
	}

	blobKey := projectID + "/" + itemID + "." + ext

	if err := s.blobs.Put(ctx, blobKey, payload); err != nil {
		return Item{}, fmt.Errorf("store media: %w", err)
	}

	embedding, err := s.embed(ctx, payload)
	if err != nil {
		s.cleanupBlob(ctx, blobKey)
		return Item{}, err
	}

	rec := Record{
		BlobKey:          blobKey,
		ContentType:      contentType,
		OriginalFilename: filename,
		SizeBytes:        int64(len(payload)),
	}

	if err := s.store.UpsertItem(ctx, projectID, itemID, rec, embedding); err != nil {
		s.cleanupBlob(ctx, blobKey)
		return Item{}, err
	}

	if prevKey != "" && prevKey != blobKey {
		s.cleanupBlob(ctx, prevKey)
	}

	return Item{ItemID: itemID, Record: rec}, nil
}

// RemoveItem deletes an item and its blob. It reports whether the item
// existed; removing an absent item is not an error.
func (s *Service) RemoveItem(ctx context.Context, projectID, itemID string) (bool, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return false, err
	}

	if err := ValidateItemID(itemID); err != nil {
		return false, err
	}

	rec, existed, err := s.store.DeleteItem(ctx, projectID, itemID)
	if err != nil {
		return false, err
	}

	if existed && rec.BlobKey != "" {
		s.cleanupBlob(ctx, rec.BlobKey)
	}

	return existed, nil
}

// Query embeds the payload and searches the project with it.
func (s *Service) Query(ctx context.Context, projectID string, payload []byte, k int) ([]Match, error) {
	if err := ValidateProjectID(projectID); err != nil {
		return nil, err
	}

	if int64(len(payload)) > s.maxPayload {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrPayloadTooLarge, len(payload), s.maxPayload)
	}

	embedding, err := s.embed(ctx, payload)
	if err != nil {
		return nil, err
	}

	return s.store.Search(ctx, projectID, embedding, k)
}

// ItemURL returns a signed, time-limited download URL for an item's media.
// A ttl of zero or less falls back to the service default; values below one
// second are raised to one second.
func (s *Service) ItemURL(ctx context.Context, projectID, itemID string, ttl time.Duration) (string, error) {
	if s.signer == nil {
		return "", ErrURLNotSupported
	}

	if err := ValidateProjectID(projectID); err != nil {
		return "", err
	}

	if err := ValidateItemID(itemID); err != nil {
		return "", err
	}

	rec, err := s.store.GetRecord(ctx, projectID, itemID)
	if err != nil {
		return "", err
	}

	if ttl <= 0 {
		ttl = s.urlTTL
	}

	if ttl < time.Second {
		ttl = time.Second
	}

	return s.signer.SignURL(ctx, rec.BlobKey, ttl)
}

// Close stops the snapshot runner, taking its final backup, then closes the
// store.
func (s *Service) Close() error {
	if s.runCancel != nil {
		s.runCancel()
		<-s.runDone
	}

	return s.store.Close()
}

func (s *Service) embed(ctx context.Context, payload []byte) ([]float32, error) {
	guard, err := s.gates.Acquire(ctx, EmbedGate)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	return s.embedder.Embed(ctx, payload)
}

func (s *Service) cleanupBlob(ctx context.Context, key string) {
	// The failure that triggered cleanup may have canceled ctx.
	ctx = context.WithoutCancel(ctx)

	if err := s.blobs.Delete(ctx, key); err != nil {
		s.logger.WarnContext(ctx, "orphan media cleanup failed", "blob_key", key, "error", err)
	}
}

func newItemID() string {
	id := uuid.New()

	return hex.EncodeToString(id[:])
}
