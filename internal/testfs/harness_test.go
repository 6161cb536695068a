//go:build unix && !e2e

package testfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSowCreatesCopiesAndIgnoreFile(t *testing.T) {
	given := FileTree{
		Volumes: []Volume{
			{
				MountPoint: "/vol1",
				Files: []File{
					{Path: []string{"a.bin", "backup/a.bin"}, Chunks: []Chunk{{Pattern: 'A', Size: "4KiB"}}},
					{Path: []string{"b.bin"}, Chunks: []Chunk{{Pattern: 'B', Size: "1KiB"}, {Pattern: 'C', Size: "1KiB"}}},
				},
				Ignore: []string{"*.tmp"},
			},
		},
	}

	h := New(t, given)

	// Both copies exist with identical content but are independent files.
	a1, err := os.ReadFile(h.Path("/vol1/a.bin"))
	if err != nil {
		t.Fatal(err)
	}
	a2, err := os.ReadFile(h.Path("/vol1/backup/a.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if string(a1) != string(a2) {
		t.Error("copies differ in content")
	}
	if len(a1) != 4096 || a1[0] != 'A' {
		t.Errorf("chunk content wrong: len %d, first byte %q", len(a1), a1[0])
	}

	// Multi-chunk file concatenates regions in order.
	b, err := os.ReadFile(h.Path("/vol1/b.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if len(b) != 2048 || b[0] != 'B' || b[2047] != 'C' {
		t.Errorf("multi-chunk content wrong: len %d", len(b))
	}

	// Ignore file written at the volume root.
	ignore, err := os.ReadFile(h.Path("/vol1/.dupeignore"))
	if err != nil {
		t.Fatal(err)
	}
	if string(ignore) != "*.tmp\n" {
		t.Errorf("ignore file content: %q", string(ignore))
	}
}

func TestFileTotalSize(t *testing.T) {
	f := File{Chunks: []Chunk{{Pattern: 'A', Size: "1KiB"}, {Pattern: 'B', Size: "1MiB"}}}
	if got, want := f.TotalSize(), int64(1024+1<<20); got != want {
		t.Errorf("TotalSize: got %d, want %d", got, want)
	}
}

func TestSnapshotAndAssertUnchanged(t *testing.T) {
	given := FileTree{
		Volumes: []Volume{
			{MountPoint: "/vol1", Files: []File{
				{Path: []string{"a.bin"}, Chunks: []Chunk{{Pattern: 'A', Size: "1KiB"}}},
				{Path: []string{"sub/b.bin"}, Chunks: []Chunk{{Pattern: 'B', Size: "2KiB"}}},
			}},
		},
	}

	h := New(t, given)
	before := h.Snapshot()

	if len(before.Volumes) != 1 {
		t.Fatalf("volumes: got %d, want 1", len(before.Volumes))
	}
	if len(before.Volumes[0].Files) != 2 {
		t.Fatalf("files: got %d, want 2", len(before.Volumes[0].Files))
	}

	// A read-only pass between snapshots leaves them equal.
	if _, err := os.ReadFile(h.Path("/vol1/a.bin")); err != nil {
		t.Fatal(err)
	}
	AssertUnchanged(t, before, h.Snapshot())
}

func TestSnapshotDetectsModification(t *testing.T) {
	given := FileTree{
		Volumes: []Volume{
			{MountPoint: "/vol1", Files: []File{
				{Path: []string{"a.bin"}, Chunks: []Chunk{{Pattern: 'A', Size: "1KiB"}}},
			}},
		},
	}

	h := New(t, given)
	before := h.Snapshot()

	if err := os.WriteFile(h.Path("/vol1/a.bin"), []byte("changed"), 0o644); err != nil {
		t.Fatal(err)
	}
	after := h.Snapshot()

	changed := false
	for i, f := range after.Volumes[0].Files {
		b := before.Volumes[0].Files[i]
		if f.Size != b.Size || f.ModTimeUnixNano != b.ModTimeUnixNano {
			changed = true
		}
	}
	if !changed {
		t.Error("snapshot did not reflect the modification")
	}
}

func TestParseGroups(t *testing.T) {
	stdout := `# 2 × 98 KiB
/vol1/a.bin
/vol1/b.bin

# 2 × 49 KiB (directories)
/vol1/d1
/vol1/d2

`
	groups := ParseGroups(stdout)
	if len(groups) != 2 {
		t.Fatalf("groups: got %d, want 2", len(groups))
	}
	AssertGroups(t, [][]string{
		{"/vol1/b.bin", "/vol1/a.bin"},
		{"/vol1/d2", "/vol1/d1"},
	}, groups)
}

func TestParseGroupsVerbose(t *testing.T) {
	stdout := "# 2 × 1.0 KiB\nDEADBEEF  /vol1/a.bin\nDEADBEEF  /vol1/b.bin\n\n"
	groups := ParseGroups(stdout)
	if len(groups) != 1 {
		t.Fatalf("groups: got %d, want 1", len(groups))
	}
	AssertGroups(t, [][]string{{"/vol1/a.bin", "/vol1/b.bin"}}, groups)
}

func TestReapPathsRelativeRoot(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "vol1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "vol1", "x.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	result, err := ReapPaths(root, []string{"/vol1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Volumes) != 1 || result.Volumes[0].Name != "/vol1" {
		t.Fatalf("unexpected volumes: %+v", result.Volumes)
	}
	if len(result.Volumes[0].Files) != 1 || result.Volumes[0].Files[0].Path != "x.bin" {
		t.Errorf("unexpected files: %+v", result.Volumes[0].Files)
	}
}
