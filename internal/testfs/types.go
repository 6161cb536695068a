// Package testfs provides test infrastructure for filesystem operations.
//
// It supports two modes:
//   - Integration tests: Harness creates trees in t.TempDir()
//   - E2E tests: Docker Harness uses containers with tmpfs mounts
//
// # FileTree Specification
//
// Tests describe the tree to create with a single FileTree type:
//
//	given := testfs.FileTree{
//	    Volumes: []Volume{
//	        {
//	            MountPoint: "/data",
//	            Files: []File{
//	                {Path: []string{"a.bin", "backup/a.bin"}, Chunks: []Chunk{{Pattern: 'A', Size: "1MiB"}}},
//	            },
//	        },
//	    },
//	}
//
// A File with several paths creates one independent copy of the same
// chunked content at each path - the duplicate sets the engine is
// expected to find. Subdirectories are created automatically from file
// paths (mkdir -p semantics); paths are relative to the volume mount
// point.
//
// # Verification
//
// The engine never mutates the tree, so verification has two halves:
//
//   - Snapshot/AssertUnchanged: a reap before and after the run proves
//     every file still has its original size and mtime.
//   - Group assertions: expected duplicate sets (sets of paths) are
//     compared order-insensitively against the engine's output, either
//     the in-process DuplicateGroups or ParseGroups over CLI stdout.
package testfs

import "github.com/dustin/go-humanize"

// -----------------------------------------------------------------------------
// FileTree Specification Types
// -----------------------------------------------------------------------------

// FileTree describes a filesystem state to create.
type FileTree struct {
	// Volumes in the filesystem (each a separate tmpfs mount in E2E).
	Volumes []Volume `json:"volumes"`
}

// Volume represents a directory subtree (a separate tmpfs mount in E2E,
// a subdirectory of the temp root in integration tests).
type Volume struct {
	// MountPoint is the absolute path where this volume is rooted.
	// Examples: "/data", "/vol1".
	MountPoint string `json:"mountPoint"`

	// Files in this volume.
	Files []File `json:"files,omitempty"`

	// Ignore patterns written to the volume root's .dupeignore file.
	Ignore []string `json:"ignore,omitempty"`
}

// File defines file content materialised at one or more paths.
//
// Path[0] is created with the content described by Chunks; every
// further path receives its own independent copy of the same bytes.
// Same chunks at different paths = duplicates to be detected.
type File struct {
	// Path contains one or more paths (relative to volume).
	// Example: []string{"data/file.bin", "backup/file.bin"}
	Path []string `json:"path"`

	// Chunks specifies file content as a sequence of filled regions.
	// Each chunk fills its size with the pattern byte.
	// Use IEC units for sizes: "1KiB", "1MiB", "1GiB".
	Chunks []Chunk `json:"chunks,omitempty"`
}

// Chunk defines a region of file content filled with a pattern byte.
type Chunk struct {
	// Pattern is the fill byte for this chunk region.
	// Example: 'A' fills the region with 0x41 bytes.
	Pattern rune `json:"pattern"`

	// Size in IEC units (1024-based): "1KiB", "1MiB", "1GiB".
	// Parsed via go-humanize for precise alignment with sampling
	// window boundaries.
	Size string `json:"size"`
}

// TotalSize calculates the sum of all chunk sizes in bytes.
func (f *File) TotalSize() int64 {
	var total int64
	for _, c := range f.Chunks {
		size, _ := humanize.ParseBytes(c.Size)
		total += int64(size)
	}
	return total
}

// -----------------------------------------------------------------------------
// Execution Result Types
// -----------------------------------------------------------------------------

// RunResult captures the results of a dupehound execution.
type RunResult struct {
	ExitCode int    // Process exit code
	Stdout   string // Standard output
	Stderr   string // Standard error
}

// -----------------------------------------------------------------------------
// Reap Types (filesystem state snapshots)
// -----------------------------------------------------------------------------

// ReapResult is the output format of a filesystem snapshot.
// Comparing two snapshots proves the engine performed a read-only run.
type ReapResult struct {
	Volumes []ReapVolume `json:"volumes"`
}

// ReapVolume contains scanned filesystem state for a single volume.
type ReapVolume struct {
	Name  string     `json:"name"` // Mount point path (e.g., "/data")
	Files []ReapFile `json:"files,omitempty"`
}

// ReapFile contains the metadata the cache's freshness rules depend on.
type ReapFile struct {
	Path            string `json:"path"`            // Relative to the volume
	Size            int64  `json:"size"`            // File size in bytes
	ModTimeUnixNano int64  `json:"modTimeUnixNano"` // Modification time
}
