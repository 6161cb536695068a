// Package screener screens cached hash records to find duplicate
// candidates.
//
// # Overview
//
// The screener is the first filtering stage in the duplicate detection
// pipeline. After the initial hash pass has populated the cache at the
// initial segment length, it groups records by fingerprint and keeps
// groups of two or more entries: the candidate set handed to the
// verifier for progressively larger sampling.
//
// # Why This Design?
//
//   - Fingerprint grouping is one cache query plus an O(n) pass
//   - No file I/O - everything comes from records the hash pass produced
//   - Single-threaded (CPU-bound, not I/O-bound)
package screener

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ivoronin/dupehound/internal/cache"
	"github.com/ivoronin/dupehound/internal/progress"
	"github.com/ivoronin/dupehound/internal/types"
)

// Screener selects candidate duplicate groups from cached records.
//
// The screener is designed for single-use: create with New(), call Run() once.
type Screener struct {
	// Config (immutable, set by New)
	cache         *cache.Cache // Source of hashed records
	segmentLength int64        // Sampling level of the initial hash pass
	roots         []string     // Restrict candidates to these path prefixes
	showProgress  bool         // Whether to display progress bar
	errCh         chan error   // Non-fatal errors (store faults)
}

// New creates a Screener over records at the given segment length,
// restricted to paths under roots.
func New(c *cache.Cache, segmentLength int64, roots []string, showProgress bool, errCh chan error) *Screener {
	return &Screener{
		cache:         c,
		segmentLength: segmentLength,
		roots:         roots,
		showProgress:  showProgress,
		errCh:         errCh,
	}
}

// stats tracks screening progress.
type stats struct {
	candidateEntries int
	candidateBytes   int64
	startTime        time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Selected %d candidates (%s) in %.1fs",
		s.candidateEntries, humanize.IBytes(uint64(s.candidateBytes)),
		time.Since(s.startTime).Seconds())
}

// Run groups cached records by fingerprint and returns groups of 2+.
func (s *Screener) Run() types.CandidateGroups {
	bar := progress.New(s.showProgress)
	st := &stats{startTime: time.Now()}

	raw, err := s.cache.GroupByFingerprint(s.segmentLength, s.roots)
	if err != nil {
		// Advisory cache: a grouping failure yields no candidates
		// rather than aborting the run.
		s.sendError(err)
		return types.NewCandidateGroups(nil)
	}

	var result []types.CandidateGroup
	for _, records := range raw {
		if len(records) < 2 {
			continue
		}
		result = append(result, types.NewCandidateGroup(records))
	}

	for _, group := range result {
		st.candidateEntries += group.Len()
		st.candidateBytes += group.First().DataLength * int64(group.Len())
	}

	bar.Finish(st)

	return types.NewCandidateGroups(result)
}

// sendError sends an error to the errors channel if it's not nil.
func (s *Screener) sendError(err error) {
	if s.errCh != nil {
		s.errCh <- err
	}
}
