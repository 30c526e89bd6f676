// Package simidx provides an embedded similarity search index for
// project-scoped media collections.
//
// Simidx pairs an in-memory vector index (HNSW or brute force) with a
// durable SQLite catalog. The catalog is the source of truth: every
// embedding and record is written there first, and the index is rebuilt
// from it on every Open. Nothing but the catalog file has to survive a
// restart.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	store, _ := simidx.Open(ctx, "catalog.db", 512)
//	defer store.Close()
//
//	_ = store.UpsertItem(ctx, "acme", "sunset", simidx.Record{BlobKey: "acme/sunset.jpg"}, embedding)
//
//	matches, _ := store.Search(ctx, "acme", query, 5)
//	for _, m := range matches {
//	    fmt.Println(m.ItemID, m.Similarity)
//	}
//
// Searches are scoped to one project and never see another project's
// items. Similarity is the cosine similarity between query and item, so a
// vector finds itself with a score of 1.0.
//
// # Serving Media
//
// Service adds the media plumbing around the store: payloads land in a
// blob store, embeddings are computed by a caller-supplied Embedder behind
// a bounded admission gate, and item URLs are minted when the blob store
// can sign them.
//
//	dim, _ := simidx.ProbeDimension(ctx, embedder, sample)
//	store, _ := simidx.Open(ctx, cfg.DBPath, dim, cfg.StoreOptions()...)
//
//	svc, _ := simidx.NewService(store, blobs, embedder)
//	item, _ := svc.AddItem(ctx, "acme", "", payload, "image/jpeg", "sunset.jpg")
//	matches, _ := svc.Query(ctx, "acme", queryImage, 5)
//
// # Backups
//
// The snapshot package ships compacted catalog copies to a blob store on a
// timer and restores the newest one at startup when the local catalog is
// missing:
//
//	_ = snapshot.Restore(ctx, remote, cfg.SnapshotKey, cfg.DBPath)
//	store, _ := simidx.Open(ctx, cfg.DBPath, dim)
//
//	mgr := snapshot.NewManager(store, remote, func(o *snapshot.Options) {
//	    o.Interval = cfg.SnapshotInterval
//	})
//	svc, _ := simidx.NewService(store, blobs, embedder, func(o *simidx.ServiceOptions) {
//	    o.Snapshots = mgr
//	})
//
// # Key Properties
//
//   - Catalog-as-truth: index state is disposable, rebuilt at Open
//   - Project scoping enforced inside the index search, not by post-filtering
//   - Internal ids are never reused, even across restarts
//   - Schema version mismatches reset the catalog, loudly
//   - Embedder concurrency is capped by a named admission gate
package simidx
