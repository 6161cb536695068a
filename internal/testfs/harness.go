//go:build unix && !e2e

package testfs

import (
	"path/filepath"
	"testing"
)

// -----------------------------------------------------------------------------
// Harness - Integration Test API
// -----------------------------------------------------------------------------

// Harness provides integration test infrastructure using t.TempDir().
//
// Unlike the E2E Harness that uses Docker containers with tmpfs mounts,
// this Harness creates files in a temporary directory on the local
// filesystem and the engine runs in-process.
//
// Usage:
//
//	given := testfs.FileTree{
//	    Volumes: []Volume{
//	        {MountPoint: "/vol1", Files: []File{
//	            {Path: []string{"a.bin", "b.bin"}, Chunks: []Chunk{{Pattern: 'A', Size: "1MiB"}}},
//	        }},
//	    },
//	}
//	h := testfs.New(t, given)
//	before := h.Snapshot()
//	// ... run pipeline against h.Path("/vol1")
//	testfs.AssertUnchanged(t, before, h.Snapshot())
type Harness struct {
	t     *testing.T
	root  string   // Temporary directory root
	given FileTree // Original spec
}

// New creates a new Harness with the given FileTree specification.
//
// The harness creates a temporary directory via t.TempDir() and
// materialises every volume, file and ignore file under it. Cleanup is
// automatic via t.TempDir() mechanics.
func New(t *testing.T, given FileTree) *Harness {
	t.Helper()

	root := t.TempDir()
	h := &Harness{
		t:     t,
		root:  root,
		given: given,
	}

	if err := SowFileTree(root, given); err != nil {
		t.Fatalf("failed to setup files: %v", err)
	}

	return h
}

// Root returns the temporary directory root path.
func (h *Harness) Root() string {
	return h.root
}

// Path maps a volume-relative path from the spec (e.g. "/vol1/a.bin")
// to its actual location under the temp root.
func (h *Harness) Path(logical string) string {
	return filepath.Join(h.root, logical)
}

// Snapshot captures the current state of every volume in the spec.
func (h *Harness) Snapshot() *ReapResult {
	h.t.Helper()

	paths := make([]string, len(h.given.Volumes))
	for i, vol := range h.given.Volumes {
		paths[i] = vol.MountPoint
	}
	result, err := ReapPaths(h.root, paths)
	if err != nil {
		h.t.Fatalf("snapshot: %v", err)
	}
	return result
}
