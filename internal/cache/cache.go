// Package cache provides the two-tier (persistent + in-memory) hash
// record cache.
//
// # Tiers
//
// Both tiers share one key space: (segmentLength, path).
//
//   - The in-memory tier is a segmentLength -> path -> record map,
//     populated on successful persistent reads and on every successful
//     hash. It is the only tier the hot lookup path touches.
//   - The persistent tier is the embedded store (internal/store),
//     consulted on memory misses and written through on every Put.
//   - A per-segment negative set records paths proven absent from the
//     persistent tier within this run, short-circuiting repeat misses.
//
// # Freshness
//
// A record is returned only while it still describes the filesystem
// entry (types.HashRecord.Fresh): stale rows are rejected on lookup,
// never deleted. The cache is advisory - persistent-store faults are
// reported on the error channel and treated as misses.
//
// # Lookup amortisation
//
// File lookups first bulk-load the parent directory's persistent subtree
// into memory (pre-cache), so one store round-trip serves every file in
// the directory. With restrictFiles set (the default), files are ONLY
// served from memory after that pre-cache; single-file persistent
// queries are reserved for directories.
package cache

import (
	"slices"
	"sync"

	"github.com/ivoronin/dupehound/internal/store"
	"github.com/ivoronin/dupehound/internal/types"
)

// Cache is the two-tier hash record cache. Safe for concurrent use.
type Cache struct {
	db            store.Store // nil = memory-only
	precacheDirs  bool        // eager subtree load on directory hits
	restrictFiles bool        // file lookups served from memory only
	errCh         chan error  // persistent-store faults (non-fatal)

	mu        sync.RWMutex
	mem       map[int64]map[string]*types.HashRecord
	negative  map[int64]map[string]struct{}
	precached map[string]struct{} // directories already bulk-loaded
}

// Options configures cache behaviour.
type Options struct {
	// Path is the persistent store location. Empty disables the
	// persistent tier (memory-only run).
	Path string
	// PrecacheDirectories bulk-loads a directory's subtree on lookup.
	PrecacheDirectories bool
	// RestrictFilesToMemCache disables single-file persistent queries;
	// files are found only via their pre-cached parent directory.
	RestrictFilesToMemCache bool
	// ErrCh receives non-fatal persistent-store errors.
	ErrCh chan error
}

// Open creates a Cache. With an empty path the persistent tier is
// disabled and the cache is memory-only.
func Open(opts Options) (*Cache, error) {
	c := &Cache{
		precacheDirs:  opts.PrecacheDirectories,
		restrictFiles: opts.RestrictFilesToMemCache,
		errCh:         opts.ErrCh,
		mem:           make(map[int64]map[string]*types.HashRecord),
		negative:      make(map[int64]map[string]struct{}),
		precached:     make(map[string]struct{}),
	}
	if opts.Path == "" {
		return c, nil
	}

	db, err := store.OpenBolt(opts.Path)
	if err != nil {
		return nil, err
	}
	if err := db.EnsureUniqueIndex("uuid"); err != nil {
		_ = db.Close()
		return nil, err
	}
	c.db = db
	return c, nil
}

// NewWithStore creates a Cache over an existing store (used by tests).
func NewWithStore(db store.Store, precacheDirs, restrictFiles bool, errCh chan error) *Cache {
	return &Cache{
		db:            db,
		precacheDirs:  precacheDirs,
		restrictFiles: restrictFiles,
		errCh:         errCh,
		mem:           make(map[int64]map[string]*types.HashRecord),
		negative:      make(map[int64]map[string]struct{}),
		precached:     make(map[string]struct{}),
	}
}

// Close closes the persistent tier.
func (c *Cache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Get returns a fresh record for the entry at the given segment length,
// or nil on a miss.
//
// Lookup order: in-memory tier, negative set, parent-directory pre-cache
// (files), single persistent query (directories, or files when
// single-file queries are allowed).
func (c *Cache) Get(fi *types.FileInfo, segmentLength int64) *types.HashRecord {
	if rec := c.memGet(fi, segmentLength); rec != nil {
		return rec
	}
	if c.isNegative(fi.Path, segmentLength) || c.db == nil {
		return nil
	}

	if !fi.IsDir {
		// One store round-trip loads the whole parent directory, then
		// the memory tier is retried.
		c.PreCacheDir(parentDir(fi.Path))
		if rec := c.memGet(fi, segmentLength); rec != nil {
			return rec
		}
		if c.restrictFiles {
			c.markNegative(fi.Path, segmentLength)
			return nil
		}
	}

	rec, err := c.db.QueryPath(fi.Path, segmentLength, fi.ModTime.UTC())
	if err != nil {
		c.sendError(err)
		return nil
	}
	if rec == nil || !rec.Fresh(fi) {
		c.markNegative(fi.Path, segmentLength)
		return nil
	}

	c.memPut(rec)
	if rec.IsDir && c.precacheDirs {
		c.PreCacheDir(rec.Path)
	}
	return rec
}

// Put records a successful hash in both tiers.
func (c *Cache) Put(rec *types.HashRecord) {
	c.memPut(rec)
	if c.db != nil {
		if err := c.db.Upsert(rec); err != nil {
			c.sendError(err)
		}
	}
}

// PreCacheDir bulk-loads every persistent row under dir into the
// in-memory tier. Each directory is loaded at most once per run.
func (c *Cache) PreCacheDir(dir string) {
	if c.db == nil || dir == "" {
		return
	}
	c.mu.Lock()
	if _, done := c.precached[dir]; done {
		c.mu.Unlock()
		return
	}
	c.precached[dir] = struct{}{}
	c.mu.Unlock()

	recs, err := c.db.QueryDirPrefix(dir)
	if err != nil {
		c.sendError(err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range recs {
		bySeg, ok := c.mem[rec.SegmentLength]
		if !ok {
			bySeg = make(map[string]*types.HashRecord)
			c.mem[rec.SegmentLength] = bySeg
		}
		// Records hashed this run take precedence over persisted rows.
		if _, exists := bySeg[rec.Path]; !exists {
			bySeg[rec.Path] = rec
		}
	}
}

// GroupByFingerprint returns candidate groups at the given segment
// length, limited to paths under the given prefixes.
//
// With a persistent tier the store performs the grouping; rows are then
// intersected with the in-memory tier so that only entries seen (hashed
// or validated) during this run participate - rows for files deleted
// since an earlier run drop out. Memory-only caches group directly.
func (c *Cache) GroupByFingerprint(segmentLength int64, prefixes []string) ([][]*types.HashRecord, error) {
	if c.db == nil {
		return c.memGroups(segmentLength, prefixes), nil
	}

	stored, err := c.db.GroupByFingerprint(segmentLength, prefixes)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var groups [][]*types.HashRecord
	for _, g := range stored {
		var live []*types.HashRecord
		for _, rec := range g {
			if cur, ok := c.mem[rec.SegmentLength][rec.Path]; ok && cur.Fingerprint == rec.Fingerprint {
				live = append(live, cur)
			}
		}
		if len(live) > 0 {
			groups = append(groups, live)
		}
	}
	return groups, nil
}

// memGet returns a fresh in-memory record satisfying the lookup.
// An exact segment match is preferred; otherwise any stored row whose
// sampling already covered the content (store.SatisfiesSegment) serves.
func (c *Cache) memGet(fi *types.FileInfo, segmentLength int64) *types.HashRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if rec, ok := c.mem[segmentLength][fi.Path]; ok && rec.Fresh(fi) {
		return rec
	}
	for seg, bySeg := range c.mem {
		if seg == segmentLength {
			continue
		}
		if rec, ok := bySeg[fi.Path]; ok && rec.Fresh(fi) && store.SatisfiesSegment(rec, segmentLength) {
			return rec
		}
	}
	return nil
}

// memPut stores a record in the in-memory tier and clears its negative
// mark.
func (c *Cache) memPut(rec *types.HashRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bySeg, ok := c.mem[rec.SegmentLength]
	if !ok {
		bySeg = make(map[string]*types.HashRecord)
		c.mem[rec.SegmentLength] = bySeg
	}
	bySeg[rec.Path] = rec
	delete(c.negative[rec.SegmentLength], rec.Path)
}

// memGroups groups in-memory records by fingerprint. As with the
// persistent grouping, whole-hash rows satisfy sampled groupings and an
// exact segment match represents a path stored at several levels.
func (c *Cache) memGroups(segmentLength int64, prefixes []string) [][]*types.HashRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	best := make(map[string]*types.HashRecord)
	for _, bySeg := range c.mem {
		for _, rec := range bySeg {
			if !store.SatisfiesSegment(rec, segmentLength) || !pathUnderAny(rec.Path, prefixes) {
				continue
			}
			cur, seen := best[rec.Path]
			if !seen || (cur.SegmentLength != segmentLength && rec.SegmentLength == segmentLength) {
				best[rec.Path] = rec
			}
		}
	}

	// Map iteration order is non-deterministic; sort paths before
	// grouping so group order is stable.
	paths := make([]string, 0, len(best))
	for path := range best {
		paths = append(paths, path)
	}
	slices.Sort(paths)

	byHash := make(map[string][]*types.HashRecord)
	var order []string
	for _, path := range paths {
		rec := best[path]
		key := string(rec.Fingerprint[:])
		if _, seen := byHash[key]; !seen {
			order = append(order, key)
		}
		byHash[key] = append(byHash[key], rec)
	}

	groups := make([][]*types.HashRecord, 0, len(order))
	for _, key := range order {
		groups = append(groups, byHash[key])
	}
	return groups
}

// isNegative reports whether the path is a known persistent-tier miss.
func (c *Cache) isNegative(path string, segmentLength int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.negative[segmentLength][path]
	return ok
}

// markNegative records a proven persistent-tier miss.
func (c *Cache) markNegative(path string, segmentLength int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.negative[segmentLength]
	if !ok {
		set = make(map[string]struct{})
		c.negative[segmentLength] = set
	}
	set[path] = struct{}{}
}

// sendError reports a non-fatal persistent-store fault.
func (c *Cache) sendError(err error) {
	if c.errCh != nil {
		c.errCh <- err
	}
}
