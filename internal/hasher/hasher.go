// Package hasher drives fingerprint computation over a filesystem tree.
//
// # Architecture Overview
//
// The hasher is the scheduling layer between the duplicate engine and
// the fingerprint primitives. Given a root path and a segment length it
// traverses the tree recursively, consulting the cache before touching
// any content, hashing files through sampled windows and aggregating
// directories from their children's fingerprints.
//
// # Concurrency Model
//
//  1. SUBTREE GOROUTINES (fan-out)
//     - One goroutine per directory child, awaited as a group
//     - errgroup collects the subtree results per directory
//     - Unbounded goroutine count; I/O bounded by the permit semaphore
//
//  2. PERMIT SEMAPHORE (backpressure)
//     - One global counting semaphore bounds concurrently open entries
//     - A file holds one permit for the duration of its own reads
//     - A directory holds one permit only while enumerating itself,
//     never while its children perform I/O
//
// # Synchronization Primitives
//
//	┌─────────────────┬────────────────────────────────────────────────┐
//	│ Primitive       │ Purpose                                        │
//	├─────────────────┼────────────────────────────────────────────────┤
//	│ sem             │ Bounds concurrently open files/directories     │
//	│ errgroup        │ Awaits child subtrees, carries cancellation    │
//	│ cache           │ Concurrent two-tier lookup/upsert              │
//	│ tracker         │ Atomic bytes-read / bytes-to-read counters     │
//	└─────────────────┴────────────────────────────────────────────────┘
//
// # Data Flow
//
//	Hash(ctx, root)
//	    │
//	    ├──► canonicalise root, seed ignore matcher (.dupeignore)
//	    │
//	    └──► hashEntry(entry)
//	             │
//	             ├──► cache.Get fresh? ──► return record (no I/O)
//	             │
//	             ├──► file: permit → open → sampled windows → record
//	             │
//	             └──► dir:  permit → enumerate → release
//	                        ├──► hashEntry(child) per child  [fan-out]
//	                        ├──► await all children
//	                        └──► combine successful children → record
//
// # Failure & Cancellation
//
// A single entry's I/O failure (permission denied, read error) is
// reported on the error channel and the entry is omitted from its
// parent's aggregate; it never poisons siblings or the root. At the root
// itself the failure is returned to the caller. Cancellation is checked
// before acquiring permits, before reads and before each recursive
// dispatch; a cancelled run returns ctx's error and writes no partial
// records.
package hasher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ivoronin/dupehound/internal/cache"
	"github.com/ivoronin/dupehound/internal/fingerprint"
	"github.com/ivoronin/dupehound/internal/ignore"
	"github.com/ivoronin/dupehound/internal/progress"
	"github.com/ivoronin/dupehound/internal/types"
)

// DefaultMaxJobs is the default permit count bounding concurrently open
// entries.
const DefaultMaxJobs = 32

// Hasher computes fingerprints for a tree at one segment length.
//
// The permit semaphore and the cache are shared across Hashers so that
// successive verification rounds respect one global I/O bound and one
// record store. Construct with New, call Hash per root.
type Hasher struct {
	cache         *cache.Cache
	sem           types.Semaphore
	segmentLength int64
	excludes      []string // CLI globs, merged into every root matcher
	tracker       *progress.Tracker
	errCh         chan error
	onHashed      func(*types.HashRecord)
}

// New creates a Hasher.
//
// sem is the global permit semaphore shared by all hashing activity.
// segmentLength 0 means whole-content hashing. onHashed (optional) is
// invoked after every freshly computed record.
func New(c *cache.Cache, sem types.Semaphore, segmentLength int64, excludes []string, tracker *progress.Tracker, errCh chan error, onHashed func(*types.HashRecord)) *Hasher {
	return &Hasher{
		cache:         c,
		sem:           sem,
		segmentLength: segmentLength,
		excludes:      excludes,
		tracker:       tracker,
		errCh:         errCh,
		onHashed:      onHashed,
	}
}

// Hash fingerprints the entry at path and returns its record.
//
// The path is canonicalised first. The nearest .dupeignore seeds the
// ignore matcher: the entry's own directory for directories, one level
// up for files. Inputs that are neither regular files nor directories
// are rejected.
func (h *Hasher) Hash(ctx context.Context, path string) (*types.HashRecord, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("canonicalise %s: %w", path, err)
	}

	info, err := os.Lstat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() && !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s: not a regular file or directory", abs)
	}

	ignoreRoot := abs
	if !info.IsDir() {
		ignoreRoot = filepath.Dir(abs)
	}
	matcher, err := ignore.Load(ignoreRoot, h.excludes)
	if err != nil {
		return nil, err
	}

	return h.hashEntry(ctx, abs, info, matcher)
}

// hashEntry fingerprints one filesystem entry, cache first.
func (h *Hasher) hashEntry(ctx context.Context, path string, info os.FileInfo, matcher *ignore.Matcher) (*types.HashRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fi := types.NewFileInfo(path, info)
	if rec := h.cache.Get(fi, h.segmentLength); rec != nil {
		h.tracker.AddCached()
		return rec, nil
	}

	if info.IsDir() {
		return h.hashDir(ctx, fi, matcher)
	}
	return h.hashFile(ctx, fi)
}

// hashFile computes a file's sampled (or whole) fingerprint.
// One permit is held for the duration of the file's I/O.
func (h *Hasher) hashFile(ctx context.Context, fi *types.FileInfo) (*types.HashRecord, error) {
	whole := fingerprint.WholeHash(fi.Size, h.segmentLength)
	if whole {
		h.tracker.AddToRead(fi.Size)
	} else {
		h.tracker.AddToRead(3 * h.segmentLength)
	}

	if err := h.sem.AcquireCtx(ctx); err != nil {
		return nil, err
	}
	defer h.sem.Release()

	f, err := os.Open(fi.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	fp, read, whole, err := fingerprint.OfSections(ctx, f, fi.Size, h.segmentLength)
	h.tracker.AddRead(read)
	if err != nil {
		return nil, err
	}

	// Invariant: a fingerprint covering the whole content is stored
	// with segment length 0, whatever segment was requested.
	segmentLength := h.segmentLength
	if whole {
		segmentLength = 0
	}

	return h.commit(&types.HashRecord{
		Path:          fi.Path,
		DirPath:       parentDir(fi.Path),
		SegmentLength: segmentLength,
		DataLength:    fi.Size,
		Fingerprint:   fp,
		LastWriteUTC:  fi.ModTime.UTC(),
		HashTimeUTC:   time.Now().UTC(),
	}), nil
}

// hashDir enumerates a directory, recurses into its children
// concurrently, and aggregates the successful results.
func (h *Hasher) hashDir(ctx context.Context, fi *types.FileInfo, matcher *ignore.Matcher) (*types.HashRecord, error) {
	children, err := h.listDirectory(ctx, fi.Path, matcher)
	if err != nil {
		return nil, err
	}

	// Fan-out: one goroutine per child, results collected by index so
	// the aggregate never needs slice locking. Failed children leave a
	// nil slot and are omitted.
	records := make([]*types.HashRecord, len(children))
	var g errgroup.Group
	for i, child := range children {
		g.Go(func() error {
			rec, err := h.hashChild(ctx, child, matcher)
			if err != nil {
				return err // cancellation only
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var fps []fingerprint.Fingerprint
	var dataLength int64
	for _, rec := range records {
		if rec == nil {
			continue
		}
		fps = append(fps, rec.Fingerprint)
		dataLength += rec.DataLength
	}

	return h.commit(&types.HashRecord{
		Path:          fi.Path,
		DirPath:       parentDir(fi.Path),
		IsDir:         true,
		SegmentLength: h.segmentLength,
		DataLength:    dataLength,
		Fingerprint:   fingerprint.Combine(fps),
		LastWriteUTC:  fi.ModTime.UTC(),
		HashTimeUTC:   time.Now().UTC(),
	}), nil
}

// hashChild fingerprints one child of a directory.
//
// Recoverable failures (I/O errors, permission denial) are reported on
// the error channel and surface as a nil record so the parent omits the
// child. Only cancellation propagates as an error.
func (h *Hasher) hashChild(ctx context.Context, child childEntry, matcher *ignore.Matcher) (*types.HashRecord, error) {
	m := matcher
	if child.info.IsDir() {
		var err error
		if m, err = matcher.Extend(child.path); err != nil {
			h.sendError(fmt.Errorf("%s: %w", child.path, err))
			m = matcher
		}
	}

	rec, err := h.hashEntry(ctx, child.path, child.info, m)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		h.sendError(fmt.Errorf("%s: %w", child.path, err))
		return nil, nil
	}
	return rec, nil
}

// childEntry pairs a child path with its stat result.
type childEntry struct {
	path string
	info os.FileInfo
}

// listDirectory reads a directory under one permit, returning hashable
// children: regular files and subdirectories that pass the ignore
// matcher. Symlinks, devices and sockets are skipped.
//
// Batched ReadDir (1000 entries per batch) bounds memory on huge
// directories.
func (h *Hasher) listDirectory(ctx context.Context, dirPath string, matcher *ignore.Matcher) ([]childEntry, error) {
	if err := h.sem.AcquireCtx(ctx); err != nil {
		return nil, err
	}
	defer h.sem.Release()

	dir, err := os.Open(dirPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = dir.Close() }()

	var children []childEntry
	const batchSize = 1000
	for {
		entries, err := dir.ReadDir(batchSize)
		if len(entries) == 0 {
			if err != nil && err != io.EOF {
				return nil, err
			}
			break
		}

		for _, entry := range entries {
			fullPath := filepath.Join(dirPath, entry.Name())
			if entry.Name() == ignore.IgnoreFileName || matcher.Match(fullPath) {
				continue
			}
			if !entry.IsDir() && !entry.Type().IsRegular() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				h.sendError(fmt.Errorf("%s: %w", fullPath, err))
				continue
			}
			children = append(children, childEntry{path: fullPath, info: info})
		}
	}

	return children, nil
}

// commit stores a freshly computed record and fires callbacks.
func (h *Hasher) commit(rec *types.HashRecord) *types.HashRecord {
	h.cache.Put(rec)
	h.tracker.AddHashed()
	if h.onHashed != nil {
		h.onHashed(rec)
	}
	return rec
}

// sendError sends an error to the errors channel if it's not nil.
func (h *Hasher) sendError(err error) {
	if h.errCh != nil {
		h.errCh <- err
	}
}

// parentDir returns the containing directory of path, or "" for roots.
func parentDir(path string) string {
	dir := filepath.Dir(path)
	if dir == path {
		return ""
	}
	return dir
}
