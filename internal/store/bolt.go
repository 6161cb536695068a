package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/ivoronin/dupehound/internal/types"
)

const (
	recordsBucket = "records" // uuid -> JSON record
	byDirBucket   = "bydir"   // dirPath NUL uuid -> nil
	byPathBucket  = "bypath"  // path NUL uuid -> nil
)

// indexSep separates the indexed value from the uuid in index keys.
// NUL never appears in paths.
const indexSep = "\x00"

// Bolt is the bbolt-backed Store.
//
// Records live in one bucket keyed by the derived uuid; two index
// buckets provide prefix scans by containing directory and by path.
// bbolt's file lock rejects a second instance against the same cache.
type Bolt struct {
	db *bolt.DB
}

var _ Store = (*Bolt)(nil)

// OpenBolt opens (or creates) the cache database at path.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cache (locked by another instance?): %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{recordsBucket, byDirBucket, byPathBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Bolt{db: db}, nil
}

// Close closes the database.
func (s *Bolt) Close() error {
	return s.db.Close()
}

// EnsureUniqueIndex declares a unique index on field.
// bbolt keys are unique by construction, so for the uuid primary key
// this only validates the field name.
func (s *Bolt) EnsureUniqueIndex(field string) error {
	if field != "uuid" {
		return fmt.Errorf("unsupported index field %q", field)
	}
	return nil
}

// Get returns the record with the given uuid, or nil if absent.
func (s *Bolt) Get(uuid string) (*types.HashRecord, error) {
	var rec *types.HashRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(recordsBucket)).Get([]byte(uuid))
		if data == nil {
			return nil
		}
		var err error
		rec, err = decodeRecord(data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}
	return rec, nil
}

// QueryPath scans the rows stored for path and returns one satisfying the
// segment-length constraint with LastWriteUTC >= since. An exact segment
// match wins over a covering row.
func (s *Bolt) QueryPath(path string, segmentLength int64, since time.Time) (*types.HashRecord, error) {
	var exact, covering *types.HashRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket([]byte(recordsBucket))
		c := tx.Bucket([]byte(byPathBucket)).Cursor()
		prefix := []byte(path + indexSep)
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			uuid := k[len(prefix):]
			data := records.Get(uuid)
			if data == nil {
				continue // dangling index entry
			}
			rec, err := decodeRecord(data)
			if err != nil {
				return err
			}
			if rec.LastWriteUTC.Before(since) || !SatisfiesSegment(rec, segmentLength) {
				continue
			}
			if rec.SegmentLength == segmentLength {
				exact = rec
				return nil
			}
			if covering == nil {
				covering = rec
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache query path: %w", err)
	}
	if exact != nil {
		return exact, nil
	}
	return covering, nil
}

// QueryDirPrefix returns all records whose DirPath equals dir or lies
// below it, across every segment length.
func (s *Bolt) QueryDirPrefix(dir string) ([]*types.HashRecord, error) {
	var out []*types.HashRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		records := tx.Bucket([]byte(recordsBucket))
		c := tx.Bucket([]byte(byDirBucket)).Cursor()
		// Index keys sort lexicographically, so every key for dir itself
		// and for its descendants starts with dir.
		for k, _ := c.Seek([]byte(dir)); k != nil && bytes.HasPrefix(k, []byte(dir)); k, _ = c.Next() {
			keyDir, uuid, ok := splitIndexKey(k)
			if !ok || !dirMatches(keyDir, dir) {
				continue
			}
			data := records.Get(uuid)
			if data == nil {
				continue
			}
			rec, err := decodeRecord(data)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cache query dir prefix: %w", err)
	}
	return out, nil
}

// GroupByFingerprint scans records satisfying a lookup at segmentLength
// under the given path prefixes and groups them by fingerprint.
//
// The segment constraint is the same as QueryPath's: whole-hash rows
// participate in sampled groupings (entries too small to sample are
// stored with segment 0 and would otherwise never group). When several
// rows for one path satisfy the constraint, the exact segment match
// represents the path.
func (s *Bolt) GroupByFingerprint(segmentLength int64, prefixes []string) ([][]*types.HashRecord, error) {
	best := make(map[string]*types.HashRecord)
	var pathOrder []string // bucket iteration order keeps this deterministic

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(recordsBucket)).ForEach(func(_, data []byte) error {
			rec, err := decodeRecord(data)
			if err != nil {
				return err
			}
			if !SatisfiesSegment(rec, segmentLength) || !pathUnderAny(rec.Path, prefixes) {
				return nil
			}
			cur, seen := best[rec.Path]
			if !seen {
				pathOrder = append(pathOrder, rec.Path)
			}
			if !seen || (cur.SegmentLength != segmentLength && rec.SegmentLength == segmentLength) {
				best[rec.Path] = rec
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("cache group by fingerprint: %w", err)
	}

	byHash := make(map[string][]*types.HashRecord)
	var order []string
	for _, path := range pathOrder {
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
	return groups, nil
}

// Upsert stores the record and maintains both index buckets.
func (s *Bolt) Upsert(rec *types.HashRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	uuid := rec.UUID()

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(recordsBucket)).Put([]byte(uuid), data); err != nil {
			return err
		}
		if err := tx.Bucket([]byte(byDirBucket)).Put([]byte(rec.DirPath+indexSep+uuid), nil); err != nil {
			return err
		}
		return tx.Bucket([]byte(byPathBucket)).Put([]byte(rec.Path+indexSep+uuid), nil)
	})
	if err != nil {
		return fmt.Errorf("cache upsert: %w", err)
	}
	return nil
}

// decodeRecord unmarshals a stored row.
func decodeRecord(data []byte) (*types.HashRecord, error) {
	rec := &types.HashRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

// splitIndexKey splits "value NUL uuid" index keys.
func splitIndexKey(k []byte) (value string, uuid []byte, ok bool) {
	i := bytes.IndexByte(k, 0)
	if i < 0 {
		return "", nil, false
	}
	return string(k[:i]), k[i+1:], true
}

// dirMatches reports whether keyDir equals dir or is a descendant of it.
func dirMatches(keyDir, dir string) bool {
	return keyDir == dir || strings.HasPrefix(keyDir, dir+string(filepath.Separator))
}

// pathUnderAny reports whether path lies under any prefix (or prefixes is
// empty).
func pathUnderAny(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
