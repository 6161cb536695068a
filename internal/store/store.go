// Package store persists hash records in an embedded key-value store.
//
// The Store interface is the persistence surface consumed by the cache:
// point lookups by derived key, predicate queries by path, prefix scans by
// containing directory, fingerprint grouping, and upserts. The bbolt
// implementation below is the only one shipped; tests substitute fakes.
package store

import (
	"time"

	"github.com/ivoronin/dupehound/internal/types"
)

// Store is the abstract persistence interface for hash records.
//
// Implementations serialise their own concurrency; callers may issue
// operations from multiple goroutines. All lookups return (nil, nil) on
// absence - an error means the store itself failed, which callers treat
// as a cache miss (the cache is advisory).
type Store interface {
	// EnsureUniqueIndex declares a unique index on the given record field.
	EnsureUniqueIndex(field string) error

	// Get returns the record with the given derived key, or nil.
	Get(uuid string) (*types.HashRecord, error)

	// QueryPath returns a record for path whose stored segment length
	// satisfies a lookup at segmentLength and whose LastWriteUTC is not
	// before since. A stored whole-hash row (segment 0) satisfies any
	// sampled query over content it fully covered, and a sampled row
	// satisfies a whole-hash query when its sampling already covered the
	// whole file (dataLength <= 2*storedSegment).
	QueryPath(path string, segmentLength int64, since time.Time) (*types.HashRecord, error)

	// QueryDirPrefix returns every record whose containing directory
	// equals dir or is a descendant of it, across all segment lengths.
	QueryDirPrefix(dir string) ([]*types.HashRecord, error)

	// GroupByFingerprint returns records at the given segment length,
	// limited to paths under any of the given prefixes (no prefixes =
	// everything), grouped by fingerprint.
	GroupByFingerprint(segmentLength int64, prefixes []string) ([][]*types.HashRecord, error)

	// Upsert stores the record, replacing any row with the same key.
	Upsert(rec *types.HashRecord) error

	// Close releases the underlying database.
	Close() error
}

// SatisfiesSegment reports whether a stored row answers a lookup at
// segmentLength, per the store's query contract.
//
// A whole-hash row (segment 0) satisfies a sampled lookup exactly when
// the lookup would itself have whole-hashed the file (three windows
// would touch or overlap) - in that case the whole-content fingerprint
// IS the value the lookup would compute. The same guard as the hasher's
// sampling short-circuit keeps the two sides consistent, so a file is
// never re-read because it was stored under the normalised segment 0.
//
// The equivalence only holds for files. A directory's aggregate is a
// different value at every segment length, so directory rows answer
// only exact-segment lookups.
func SatisfiesSegment(stored *types.HashRecord, segmentLength int64) bool {
	if stored.SegmentLength == segmentLength {
		return true
	}
	if stored.IsDir {
		return false
	}
	if segmentLength == 0 {
		// A sampled row is accepted when its sampling already covered
		// the whole content. Rows written by this engine normalise that
		// case to segment 0, so this arm only matters for foreign rows.
		return stored.SegmentLength > 0 && stored.DataLength <= 2*stored.SegmentLength
	}
	return stored.SegmentLength == 0 && 3*segmentLength >= stored.DataLength
}
