package types

import (
	"testing"
	"time"
)

func TestRecordUUID(t *testing.T) {
	rec := &HashRecord{Path: "/data/a.bin", SegmentLength: 8192}
	if got, want := rec.UUID(), "8192;/data/a.bin"; got != want {
		t.Errorf("UUID: got %q, want %q", got, want)
	}
	if got, want := RecordUUID(0, "/data/a.bin"), "0;/data/a.bin"; got != want {
		t.Errorf("RecordUUID: got %q, want %q", got, want)
	}
}

func TestRecordFresh(t *testing.T) {
	mtime := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	base := func() *HashRecord {
		return &HashRecord{
			Path:         "/data/a.bin",
			DataLength:   1000,
			LastWriteUTC: mtime,
		}
	}

	tests := []struct {
		name string
		rec  *HashRecord
		fi   *FileInfo
		want bool
	}{
		{
			name: "unchanged file",
			rec:  base(),
			fi:   &FileInfo{Path: "/data/a.bin", Size: 1000, ModTime: mtime},
			want: true,
		},
		{
			name: "older mtime still fresh",
			rec:  base(),
			fi:   &FileInfo{Path: "/data/a.bin", Size: 1000, ModTime: mtime.Add(-time.Hour)},
			want: true,
		},
		{
			name: "newer mtime stale",
			rec:  base(),
			fi:   &FileInfo{Path: "/data/a.bin", Size: 1000, ModTime: mtime.Add(time.Second)},
			want: false,
		},
		{
			name: "length change stale",
			rec:  base(),
			fi:   &FileInfo{Path: "/data/a.bin", Size: 1001, ModTime: mtime},
			want: false,
		},
		{
			name: "kind change stale",
			rec:  base(),
			fi:   &FileInfo{Path: "/data/a.bin", Size: 1000, ModTime: mtime, IsDir: true},
			want: false,
		},
		{
			name: "directory ignores length",
			rec:  &HashRecord{Path: "/data", IsDir: true, DataLength: 5000, LastWriteUTC: mtime},
			fi:   &FileInfo{Path: "/data", Size: 4096, ModTime: mtime, IsDir: true},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Fresh(tt.fi); got != tt.want {
				t.Errorf("Fresh: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSortedCollections(t *testing.T) {
	records := []*HashRecord{
		{Path: "/c"},
		{Path: "/a"},
		{Path: "/b"},
	}

	group := NewCandidateGroup(records)
	if group.Len() != 3 {
		t.Fatalf("Len: got %d, want 3", group.Len())
	}
	if group.First().Path != "/a" {
		t.Errorf("First: got %s, want /a", group.First().Path)
	}
	paths := []string{}
	for _, r := range group.Items() {
		paths = append(paths, r.Path)
	}
	for i := 1; i < len(paths); i++ {
		if paths[i-1] > paths[i] {
			t.Errorf("items not sorted: %v", paths)
		}
	}

	groups := NewCandidateGroups([]CandidateGroup{
		NewCandidateGroup([]*HashRecord{{Path: "/z"}, {Path: "/y"}}),
		group,
	})
	if groups.First().First().Path != "/a" {
		t.Errorf("groups not sorted by first path: got %s", groups.First().First().Path)
	}
}

func TestSortedEmpty(t *testing.T) {
	group := NewCandidateGroup(nil)
	if group.Len() != 0 {
		t.Errorf("Len: got %d, want 0", group.Len())
	}
	if group.First() != nil {
		t.Error("First of empty group should be nil")
	}
}
