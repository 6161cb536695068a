package types

import (
	"fmt"
	"time"

	"github.com/ivoronin/dupehound/internal/fingerprint"
)

// HashRecord is one persisted fingerprint row.
//
// A record is uniquely identified by (SegmentLength, Path). SegmentLength
// is 0 when the fingerprint covers the whole content; for sampled file
// fingerprints it is the window size used. DataLength is the file size,
// or for directories the recursive sum of child DataLengths.
type HashRecord struct {
	Path          string                  `json:"path"`
	DirPath       string                  `json:"dirPath"`
	IsDir         bool                    `json:"isDir"`
	SegmentLength int64                   `json:"segmentLength"`
	DataLength    int64                   `json:"dataLength"`
	Fingerprint   fingerprint.Fingerprint `json:"fingerprint"`
	LastWriteUTC  time.Time               `json:"lastWriteUTC"`
	HashTimeUTC   time.Time               `json:"hashTimeUTC"`
}

// UUID returns the derived primary key "{segmentLength};{path}".
func (r *HashRecord) UUID() string {
	return RecordUUID(r.SegmentLength, r.Path)
}

// RecordUUID builds the primary key for a (segmentLength, path) pair.
func RecordUUID(segmentLength int64, path string) string {
	return fmt.Sprintf("%d;%s", segmentLength, path)
}

// Fresh reports whether the record still describes the given filesystem
// entry. A record goes stale when the entry's mtime moves past the
// recorded one, when a file's length changes, or when the entry kind
// (file vs directory) differs. Directory lengths are not comparable
// without recursing, so only kind and mtime are checked for directories.
func (r *HashRecord) Fresh(fi *FileInfo) bool {
	if r.IsDir != fi.IsDir {
		return false
	}
	if fi.ModTime.UTC().After(r.LastWriteUTC) {
		return false
	}
	if !r.IsDir && r.DataLength != fi.Size {
		return false
	}
	return true
}
