package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ivoronin/dupehound/internal/fingerprint"
	"github.com/ivoronin/dupehound/internal/types"
)

func openTestStore(t *testing.T) *Bolt {
	t.Helper()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "Cache.db"))
	if err != nil {
		t.Fatalf("OpenBolt: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func makeRecord(path string, segmentLength, dataLength int64, content string) *types.HashRecord {
	return &types.HashRecord{
		Path:          path,
		DirPath:       filepath.Dir(path),
		SegmentLength: segmentLength,
		DataLength:    dataLength,
		Fingerprint:   fingerprint.OfBytes([]byte(content)),
		LastWriteUTC:  time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		HashTimeUTC:   time.Date(2026, 6, 1, 12, 0, 1, 0, time.UTC),
	}
}

func TestUpsertGetRoundTrip(t *testing.T) {
	s := openTestStore(t)
	rec := makeRecord("/data/a.bin", 8192, 100000, "a")

	if err := s.Upsert(rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := s.Get(rec.UUID())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("record not found after upsert")
	}
	if got.Path != rec.Path || got.SegmentLength != rec.SegmentLength ||
		got.DataLength != rec.DataLength || got.Fingerprint != rec.Fingerprint ||
		!got.LastWriteUTC.Equal(rec.LastWriteUTC) {
		t.Errorf("record changed across round trip: got %+v, want %+v", got, rec)
	}

	missing, err := s.Get("8192;/data/missing")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for absent uuid")
	}
}

func TestUpsertReplacesExistingRow(t *testing.T) {
	s := openTestStore(t)

	first := makeRecord("/data/a.bin", 8192, 100000, "old")
	second := makeRecord("/data/a.bin", 8192, 100000, "new")

	if err := s.Upsert(first); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(second); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(second.UUID())
	if err != nil {
		t.Fatal(err)
	}
	if got.Fingerprint != second.Fingerprint {
		t.Error("upsert did not replace the existing row")
	}
}

func TestSatisfiesSegment(t *testing.T) {
	tests := []struct {
		name          string
		stored        *types.HashRecord
		segmentLength int64
		want          bool
	}{
		{"exact sampled match", &types.HashRecord{SegmentLength: 8192, DataLength: 1 << 20}, 8192, true},
		{"exact whole match", &types.HashRecord{SegmentLength: 0, DataLength: 1 << 20}, 0, true},
		{"whole row covers small sampled query", &types.HashRecord{SegmentLength: 0, DataLength: 10000}, 8192, true},
		{"whole row too large for sampled query", &types.HashRecord{SegmentLength: 0, DataLength: 1 << 20}, 8192, false},
		{"sampled row covered whole file", &types.HashRecord{SegmentLength: 8192, DataLength: 16000}, 0, true},
		{"sampled row did not cover whole file", &types.HashRecord{SegmentLength: 8192, DataLength: 100000}, 0, false},
		{"whole row at the short-circuit boundary", &types.HashRecord{SegmentLength: 0, DataLength: 3 * 8192}, 8192, true},
		{"sampled row never satisfies a larger sampled query", &types.HashRecord{SegmentLength: 8192, DataLength: 30000}, 16384, false},
		{"directory exact only", &types.HashRecord{IsDir: true, SegmentLength: 8192, DataLength: 100}, 16384, false},
		{"directory exact match", &types.HashRecord{IsDir: true, SegmentLength: 8192, DataLength: 100}, 8192, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SatisfiesSegment(tt.stored, tt.segmentLength); got != tt.want {
				t.Errorf("SatisfiesSegment = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQueryPathSegmentConstraint(t *testing.T) {
	s := openTestStore(t)
	since := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	// Whole-hash row for a small file.
	whole := makeRecord("/data/small.bin", 0, 10000, "small")
	if err := s.Upsert(whole); err != nil {
		t.Fatal(err)
	}

	// A sampled query at 8192 accepts the whole row: 10000 <= 3*8192.
	got, err := s.QueryPath("/data/small.bin", 8192, since)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.SegmentLength != 0 {
		t.Errorf("sampled query should accept covering whole row, got %+v", got)
	}

	// A large file's whole row does not satisfy a sampled query.
	big := makeRecord("/data/big.bin", 0, 1<<20, "big")
	if err := s.Upsert(big); err != nil {
		t.Fatal(err)
	}
	got, err = s.QueryPath("/data/big.bin", 8192, since)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("whole row for large file should not satisfy sampled query, got %+v", got)
	}

	// Exact segment match wins when both rows exist.
	bigSampled := makeRecord("/data/big.bin", 8192, 1<<20, "big-sampled")
	if err := s.Upsert(bigSampled); err != nil {
		t.Fatal(err)
	}
	got, err = s.QueryPath("/data/big.bin", 8192, since)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.SegmentLength != 8192 {
		t.Errorf("exact segment row should win, got %+v", got)
	}
}

func TestQueryPathLastWriteLowerBound(t *testing.T) {
	s := openTestStore(t)
	rec := makeRecord("/data/a.bin", 8192, 100000, "a")
	if err := s.Upsert(rec); err != nil {
		t.Fatal(err)
	}

	// Entry modified after the row was recorded: row must not match.
	got, err := s.QueryPath("/data/a.bin", 8192, rec.LastWriteUTC.Add(time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("row older than the lower bound should be rejected")
	}

	got, err = s.QueryPath("/data/a.bin", 8192, rec.LastWriteUTC)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Error("row at the lower bound should be accepted")
	}
}

func TestQueryDirPrefix(t *testing.T) {
	s := openTestStore(t)

	recs := []*types.HashRecord{
		makeRecord("/data/a.bin", 8192, 100, "a"),
		makeRecord("/data/sub/b.bin", 8192, 100, "b"),
		makeRecord("/data/sub/deep/c.bin", 0, 100, "c"),
		makeRecord("/datastore/x.bin", 8192, 100, "x"), // sibling, must not match
		makeRecord("/other/y.bin", 8192, 100, "y"),
	}
	for _, r := range recs {
		if err := s.Upsert(r); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.QueryDirPrefix("/data")
	if err != nil {
		t.Fatal(err)
	}

	paths := make(map[string]bool)
	for _, r := range got {
		paths[r.Path] = true
	}
	for _, want := range []string{"/data/a.bin", "/data/sub/b.bin", "/data/sub/deep/c.bin"} {
		if !paths[want] {
			t.Errorf("missing %s from prefix scan", want)
		}
	}
	if paths["/datastore/x.bin"] {
		t.Error("prefix scan leaked sibling directory /datastore")
	}
	if paths["/other/y.bin"] {
		t.Error("prefix scan leaked unrelated directory")
	}
}

func TestGroupByFingerprint(t *testing.T) {
	s := openTestStore(t)

	// Two large files sharing a sampled fingerprint, one whole-hashed
	// small pair, one singleton, and a record outside the prefix.
	dupA := makeRecord("/data/a.bin", 8192, 100000, "same")
	dupB := makeRecord("/data/b.bin", 8192, 100000, "same")
	smallA := makeRecord("/data/s1.bin", 0, 10000, "small")
	smallB := makeRecord("/data/s2.bin", 0, 10000, "small")
	single := makeRecord("/data/u.bin", 8192, 100000, "unique")
	outside := makeRecord("/elsewhere/c.bin", 8192, 100000, "same")

	for _, r := range []*types.HashRecord{dupA, dupB, smallA, smallB, single, outside} {
		if err := s.Upsert(r); err != nil {
			t.Fatal(err)
		}
	}

	groups, err := s.GroupByFingerprint(8192, []string{"/data"})
	if err != nil {
		t.Fatal(err)
	}

	var got [][]string
	for _, g := range groups {
		var paths []string
		for _, r := range g {
			paths = append(paths, r.Path)
		}
		got = append(got, paths)
	}

	// The small pair participates despite being stored at segment 0:
	// whole rows satisfy sampled groupings for files they fully cover.
	assertContainsGroup(t, got, []string{"/data/a.bin", "/data/b.bin"})
	assertContainsGroup(t, got, []string{"/data/s1.bin", "/data/s2.bin"})
	for _, g := range got {
		for _, p := range g {
			if p == "/elsewhere/c.bin" {
				t.Error("record outside prefix included in grouping")
			}
		}
	}
}

func TestEnsureUniqueIndex(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnsureUniqueIndex("uuid"); err != nil {
		t.Errorf("uuid index: %v", err)
	}
	if err := s.EnsureUniqueIndex("path"); err == nil {
		t.Error("expected error for unsupported index field")
	}
}

// assertContainsGroup checks that one of the groups has exactly the
// wanted members (order-insensitive).
func assertContainsGroup(t *testing.T, groups [][]string, want []string) {
	t.Helper()
	wantSet := make(map[string]bool, len(want))
	for _, p := range want {
		wantSet[p] = true
	}
	for _, g := range groups {
		if len(g) != len(want) {
			continue
		}
		all := true
		for _, p := range g {
			if !wantSet[p] {
				all = false
				break
			}
		}
		if all {
			return
		}
	}
	t.Errorf("no group matches %v in %v", want, groups)
}
