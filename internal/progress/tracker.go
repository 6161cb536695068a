package progress

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Tracker aggregates bytes-read / bytes-to-read deltas from parallel
// hash workers.
//
// Both counters are plain atomic adds, so reports may arrive in any
// order: the read/to-read ratio is monotone with respect to arriving
// deltas, but an individual snapshot of the pair need not be
// serialisable. That is acceptable for progress display.
type Tracker struct {
	totalRead   atomic.Int64
	totalToRead atomic.Int64
	cachedFiles atomic.Int64
	hashedFiles atomic.Int64
	startTime   time.Time

	bar *Bar
}

// NewTracker creates a Tracker rendering through the given bar.
func NewTracker(bar *Bar) *Tracker {
	t := &Tracker{bar: bar, startTime: time.Now()}
	bar.Describe(t)
	return t
}

// AddToRead registers bytes scheduled for hashing.
func (t *Tracker) AddToRead(n int64) {
	t.totalToRead.Add(n)
	t.bar.Describe(t)
}

// AddRead registers bytes actually read by a worker.
func (t *Tracker) AddRead(n int64) {
	t.totalRead.Add(n)
	t.bar.Describe(t)
}

// AddCached registers an entry served from the cache without I/O.
func (t *Tracker) AddCached() {
	t.cachedFiles.Add(1)
	t.bar.Describe(t)
}

// AddHashed registers an entry hashed from its content.
func (t *Tracker) AddHashed() {
	t.hashedFiles.Add(1)
	t.bar.Describe(t)
}

// BytesRead returns the total bytes read so far.
func (t *Tracker) BytesRead() int64 { return t.totalRead.Load() }

// Finish completes the underlying bar.
func (t *Tracker) Finish() {
	t.bar.Finish(t)
}

func (t *Tracker) String() string {
	read := t.totalRead.Load()
	toRead := t.totalToRead.Load()
	pct := 0.0
	if toRead > 0 {
		pct = float64(read) / float64(toRead) * 100
	}
	return fmt.Sprintf("Hashed %d entries (%s of %s, %.0f%%), %d cached in %.1fs",
		t.hashedFiles.Load(),
		humanize.IBytes(uint64(read)), humanize.IBytes(uint64(toRead)), pct,
		t.cachedFiles.Load(),
		time.Since(t.startTime).Seconds())
}
