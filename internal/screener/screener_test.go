package screener

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ivoronin/dupehound/internal/cache"
	"github.com/ivoronin/dupehound/internal/fingerprint"
	"github.com/ivoronin/dupehound/internal/types"
)

const testSegment = 8192

func record(path string, segmentLength, dataLength int64, content string) *types.HashRecord {
	return &types.HashRecord{
		Path:          path,
		DirPath:       filepath.Dir(path),
		SegmentLength: segmentLength,
		DataLength:    dataLength,
		Fingerprint:   fingerprint.OfBytes([]byte(content)),
		LastWriteUTC:  time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func seededCache(t *testing.T, recs ...*types.HashRecord) *cache.Cache {
	t.Helper()
	c, err := cache.Open(cache.Options{})
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range recs {
		c.Put(r)
	}
	return c
}

func TestRunGroupsByFingerprint(t *testing.T) {
	c := seededCache(t,
		record("/data/a.bin", testSegment, 100000, "same"),
		record("/data/b.bin", testSegment, 100000, "same"),
		record("/data/c.bin", testSegment, 100000, "other"),
		record("/data/d.bin", testSegment, 100000, "other"),
		record("/data/unique.bin", testSegment, 100000, "unique"),
	)

	groups := New(c, testSegment, []string{"/data"}, false, nil).Run()

	if groups.Len() != 2 {
		t.Fatalf("groups: got %d, want 2", groups.Len())
	}
	for _, g := range groups.Items() {
		if g.Len() != 2 {
			t.Errorf("group size: got %d, want 2", g.Len())
		}
	}
}

func TestRunDropsSingletons(t *testing.T) {
	c := seededCache(t,
		record("/data/a.bin", testSegment, 100000, "a"),
		record("/data/b.bin", testSegment, 100000, "b"),
	)

	groups := New(c, testSegment, nil, false, nil).Run()
	if groups.Len() != 0 {
		t.Errorf("groups: got %d, want 0", groups.Len())
	}
}

func TestRunIncludesWholeHashedSmallFiles(t *testing.T) {
	// Small files are stored at segment 0; they must still form
	// candidates for a screening pass at the sampling segment.
	c := seededCache(t,
		record("/data/s1.bin", 0, 10000, "small"),
		record("/data/s2.bin", 0, 10000, "small"),
	)

	groups := New(c, testSegment, nil, false, nil).Run()
	if groups.Len() != 1 {
		t.Fatalf("groups: got %d, want 1", groups.Len())
	}
	if groups.First().Len() != 2 {
		t.Errorf("group size: got %d, want 2", groups.First().Len())
	}
}

func TestRunRespectsRootPrefixes(t *testing.T) {
	c := seededCache(t,
		record("/data/a.bin", testSegment, 100000, "same"),
		record("/data/b.bin", testSegment, 100000, "same"),
		record("/elsewhere/c.bin", testSegment, 100000, "same"),
	)

	groups := New(c, testSegment, []string{"/data"}, false, nil).Run()
	if groups.Len() != 1 {
		t.Fatalf("groups: got %d, want 1", groups.Len())
	}
	for _, rec := range groups.First().Items() {
		if rec.Path == "/elsewhere/c.bin" {
			t.Error("record outside roots included")
		}
	}
}

func TestRunEmptyCache(t *testing.T) {
	c := seededCache(t)
	groups := New(c, testSegment, nil, false, nil).Run()
	if groups.Len() != 0 {
		t.Errorf("groups: got %d, want 0", groups.Len())
	}
}

func TestRunGroupsDirectories(t *testing.T) {
	d1 := record("/data/d1", testSegment, 110000, "dir-agg")
	d1.IsDir = true
	d2 := record("/data/d2", testSegment, 110000, "dir-agg")
	d2.IsDir = true

	c := seededCache(t, d1, d2)
	groups := New(c, testSegment, nil, false, nil).Run()
	if groups.Len() != 1 {
		t.Fatalf("groups: got %d, want 1", groups.Len())
	}
	if !groups.First().First().IsDir {
		t.Error("directory candidates lost their kind")
	}
}
