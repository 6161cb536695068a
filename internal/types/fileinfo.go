// Package types provides shared types used across the dupehound codebase.
package types

import (
	"cmp"
	"context"
	"os"
	"slices"
	"time"
)

// FileInfo holds metadata for a filesystem entry (file or directory).
type FileInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
	IsDir   bool
}

// NewFileInfo creates FileInfo from os.FileInfo and an absolute path.
func NewFileInfo(path string, info os.FileInfo) *FileInfo {
	return &FileInfo{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		IsDir:   info.IsDir(),
	}
}

// Sorted is an ordered collection that maintains sort order by a key function.
// T is the element type, K is the comparable key type.
// Once constructed, items are guaranteed to be sorted by key.
type Sorted[T any, K cmp.Ordered] struct {
	items   []T
	keyFunc func(T) K
}

// NewSorted creates a sorted collection from items using keyFunc for ordering.
// Items are copied and sorted at construction time.
func NewSorted[T any, K cmp.Ordered](items []T, keyFunc func(T) K) Sorted[T, K] {
	sorted := make([]T, len(items))
	copy(sorted, items)
	slices.SortFunc(sorted, func(a, b T) int {
		return cmp.Compare(keyFunc(a), keyFunc(b))
	})
	return Sorted[T, K]{items: sorted, keyFunc: keyFunc}
}

// Items returns the sorted items.
func (s Sorted[T, K]) Items() []T { return s.items }

// First returns the first item (smallest key), or zero value if empty.
func (s Sorted[T, K]) First() T {
	if len(s.items) == 0 {
		var zero T
		return zero
	}
	return s.items[0]
}

// Len returns the number of items.
func (s Sorted[T, K]) Len() int { return len(s.items) }

// CandidateGroup contains records sharing a fingerprint at some sampling
// level (potential duplicates). Records are always sorted by Path for
// deterministic iteration.
type CandidateGroup = Sorted[*HashRecord, string]

// NewCandidateGroup creates a CandidateGroup sorted by record path.
func NewCandidateGroup(records []*HashRecord) CandidateGroup {
	return NewSorted(records, func(r *HashRecord) string { return r.Path })
}

// CandidateGroups is a sorted collection of candidate groups.
type CandidateGroups = Sorted[CandidateGroup, string]

// NewCandidateGroups creates sorted CandidateGroups.
func NewCandidateGroups(groups []CandidateGroup) CandidateGroups {
	return NewSorted(groups, func(cg CandidateGroup) string {
		return cg.First().Path
	})
}

// DuplicateGroup contains records with proven-identical content.
type DuplicateGroup = Sorted[*HashRecord, string]

// NewDuplicateGroup creates a DuplicateGroup sorted by record path.
func NewDuplicateGroup(records []*HashRecord) DuplicateGroup {
	return NewSorted(records, func(r *HashRecord) string { return r.Path })
}

// DuplicateGroups is a sorted collection of duplicate groups.
type DuplicateGroups = Sorted[DuplicateGroup, string]

// NewDuplicateGroups creates sorted DuplicateGroups.
func NewDuplicateGroups(groups []DuplicateGroup) DuplicateGroups {
	return NewSorted(groups, func(dg DuplicateGroup) string {
		return dg.First().Path
	})
}

// Semaphore implements a counting semaphore using a buffered channel.
// It limits concurrent access to a resource by blocking when the limit is reached.
type Semaphore chan struct{}

// NewSemaphore creates a semaphore that allows up to n concurrent acquisitions.
func NewSemaphore(n int) Semaphore { return make(chan struct{}, n) }

// Acquire blocks until a slot is available, then claims it.
func (s Semaphore) Acquire() { s <- struct{}{} }

// AcquireCtx claims a slot or returns the context error if ctx is
// cancelled first. No slot is held when an error is returned.
func (s Semaphore) AcquireCtx(ctx context.Context) error {
	select {
	case s <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot, unblocking one waiting Acquire call.
func (s Semaphore) Release() { <-s }
