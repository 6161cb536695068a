// Package verifier confirms duplicates using verification rounds with
// growing sample sizes.
//
// # Architecture Overview
//
// The verifier takes candidate groups (entries sharing a fingerprint at
// the initial segment length) and re-hashes them through the scheduler
// at progressively larger segment lengths, regrouping after each round.
// Each round is a strict refinement: entries that diverge in any sampled
// window separate and are never rejoined. The final round hashes whole
// content, so surviving groups are exact duplicates.
//
// # Round Schedule
//
// Segment multipliers 2, 4, 8, 16, 32, 64, then 0 (whole content),
// applied to the initial segment length. A group surviving round k has
// matched three sampled windows of k times the initial segment; most
// non-duplicates diverge in the head or tail window of the first round
// and are eliminated with three small reads.
//
// The scheduler's cache keys records by (segmentLength, path), so a
// round never re-reads content an earlier round (or run) already
// covered: files small enough to have been whole-hashed are served from
// their segment-0 row at every subsequent level.
//
// # Concurrency Model
//
//  1. WORKER GOROUTINES (fixed pool)
//     - N workers consume group jobs from the queue
//     - Each job re-hashes one group's members concurrently, bounded by
//     the global permit semaphore shared with the hash pass
//
//  2. COLLECTOR (main goroutine)
//     - Reads confirmed groups from the results channel until closed
//
//  3. ORCHESTRATOR (goroutines)
//     - Queues initial jobs; pending WaitGroup closes the queue when the
//     last job (including respawned next-round jobs) completes
//     - Worker WaitGroup closes the results channel
//
// # Data Flow
//
//	Run() starts
//	    │
//	    ├──► start N workers (consume queue)
//	    │
//	    ├──► queue one job per candidate group at round 0
//	    │
//	    ├──► goroutine: pending.Wait() → close(queue)
//	    ├──► goroutine: workerWg.Wait() → close(results)
//	    │
//	    └──► collect from results → return duplicates
//
//	Worker processes job:
//	    │
//	    ├──► re-hash each member at the round's segment length
//	    │
//	    └──► regroup by (fingerprint, dataLength):
//	             ├──► singleton → eliminated
//	             ├──► group at final round → results (exact duplicates)
//	             └──► group with rounds left → pending.Add(1), queue
package verifier

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/ivoronin/dupehound/internal/cache"
	"github.com/ivoronin/dupehound/internal/fingerprint"
	"github.com/ivoronin/dupehound/internal/hasher"
	"github.com/ivoronin/dupehound/internal/progress"
	"github.com/ivoronin/dupehound/internal/types"
)

// segmentMultipliers is the round schedule applied to the initial
// segment length. 0 means whole-content hashing and always terminates
// the ladder.
var segmentMultipliers = []int64{2, 4, 8, 16, 32, 64, 0}

// fmtBytes is a shorthand for humanize.IBytes (human-readable byte sizes).
var fmtBytes = humanize.IBytes

// job represents a unit of verification work: one candidate group at one
// round of the schedule.
type job struct {
	group types.CandidateGroup
	round int // index into segmentMultipliers
}

// stats tracks verification progress.
type stats struct {
	totalCandidateBytes uint64       // bytes covered by candidate entries (upfront)
	eliminatedEntries   atomic.Int64 // entries separated from their group
	confirmedEntries    atomic.Int64 // entries in confirmed duplicate groups
	confirmedBytes      atomic.Uint64
	confirmedSets       atomic.Int64
	tracker             *progress.Tracker // byte counters shared with the hashers
	startTime           time.Time
}

func (s *stats) String() string {
	elapsed := time.Since(s.startTime).Truncate(time.Millisecond)
	return fmt.Sprintf("Verified %s of %s, eliminated %d, confirmed %d duplicates (%s) in %d sets in %v",
		fmtBytes(uint64(s.tracker.BytesRead())), fmtBytes(s.totalCandidateBytes),
		s.eliminatedEntries.Load(),
		s.confirmedEntries.Load(), fmtBytes(s.confirmedBytes.Load()), s.confirmedSets.Load(),
		elapsed)
}

// Verifier confirms duplicates among candidate groups.
//
// The verifier is designed for single-use: create with New(), call Run() once.
type Verifier struct {
	// Config (immutable, set by New)
	groups               types.CandidateGroups
	cache                *cache.Cache    // Shared record cache
	sem                  types.Semaphore // Global permit semaphore (shared with hash pass)
	initialSegmentLength int64
	excludes             []string
	workers              int
	showProgress         bool
	errCh                chan error

	// Runtime (initialized in Run)
	hashers   []*hasher.Hasher // One per round, sharing cache/sem/tracker
	jobCh     chan job
	resultsCh chan types.DuplicateGroup
	pending   sync.WaitGroup
	workerWg  sync.WaitGroup
	bar       *progress.Bar
	stats     *stats
}

// New creates a Verifier for confirming duplicates among candidate groups.
func New(groups types.CandidateGroups, c *cache.Cache, sem types.Semaphore, initialSegmentLength int64, excludes []string, workers int, showProgress bool, errCh chan error) *Verifier {
	return &Verifier{
		groups:               groups,
		cache:                c,
		sem:                  sem,
		initialSegmentLength: initialSegmentLength,
		excludes:             excludes,
		workers:              workers,
		showProgress:         showProgress,
		errCh:                errCh,
	}
}

// Run executes the verification rounds and returns groups whose members
// have identical content.
func (v *Verifier) Run(ctx context.Context) types.DuplicateGroups {
	if v.groups.Len() == 0 {
		return types.NewDuplicateGroups(nil)
	}

	var totalCandidateBytes uint64
	for _, cg := range v.groups.Items() {
		totalCandidateBytes += uint64(cg.First().DataLength) * uint64(cg.Len())
	}

	// Initialize runtime fields. The hashers' byte counters feed this
	// verifier's own stats line, so their tracker renders no bar of its
	// own.
	v.jobCh = make(chan job, 1000)
	v.resultsCh = make(chan types.DuplicateGroup, 100)
	v.bar = progress.New(v.showProgress) // Spinner mode
	tracker := progress.NewTracker(progress.New(false))
	v.stats = &stats{totalCandidateBytes: totalCandidateBytes, tracker: tracker, startTime: time.Now()}
	v.bar.Describe(v.stats) // Render progress bar immediately

	v.hashers = make([]*hasher.Hasher, len(segmentMultipliers))
	for i, mult := range segmentMultipliers {
		v.hashers[i] = hasher.New(v.cache, v.sem, mult*v.initialSegmentLength, v.excludes, tracker, v.errCh, nil)
	}

	// Start workers
	for range v.workers {
		v.workerWg.Add(1)
		go func() {
			defer v.workerWg.Done()
			for j := range v.jobCh {
				v.processJob(ctx, j)
			}
		}()
	}

	// Queue initial jobs (one per candidate group)
	v.pending.Add(v.groups.Len())
	go func() {
		for _, group := range v.groups.Items() {
			v.jobCh <- job{group: group, round: 0}
		}
	}()

	// Close jobCh when all jobs (including respawned rounds) complete
	go func() {
		v.pending.Wait()
		close(v.jobCh)
	}()

	// Close resultsCh when workers done
	go func() {
		v.workerWg.Wait()
		close(v.resultsCh)
	}()

	// Collect confirmed duplicates
	var duplicates []types.DuplicateGroup
	for group := range v.resultsCh {
		duplicates = append(duplicates, group)
		v.stats.confirmedEntries.Add(int64(group.Len()))
		v.stats.confirmedBytes.Add(uint64(group.First().DataLength) * uint64(group.Len()))
		v.stats.confirmedSets.Add(1)
		v.bar.Describe(v.stats)
	}

	v.bar.Finish(v.stats)
	return types.NewDuplicateGroups(duplicates)
}

// groupKey regroups round results: entries stay together only while both
// their fingerprint and their covered length match.
type groupKey struct {
	fp     fingerprint.Fingerprint
	length int64
}

// processJob re-hashes a group's members at the job's round and routes
// the refined groups.
func (v *Verifier) processJob(ctx context.Context, j job) {
	defer v.pending.Done()

	if ctx.Err() != nil {
		return // cancelled: drop the job, write nothing
	}

	byKey := v.rehashGroup(ctx, j)

	for _, records := range byKey {
		refined := types.NewCandidateGroup(records)
		if refined.Len() < 2 {
			v.stats.eliminatedEntries.Add(int64(refined.Len()))
			v.bar.Describe(v.stats)
			continue
		}
		if segmentMultipliers[j.round] == 0 {
			// Whole-content round: members are exact duplicates.
			v.resultsCh <- types.NewDuplicateGroup(refined.Items())
		} else {
			v.pending.Add(1)
			v.jobCh <- job{group: refined, round: j.round + 1}
		}
	}
}

// rehashGroup re-hashes every member of a job's group at the round's
// segment length, concurrently, and buckets the results by
// (fingerprint, dataLength). Members that fail to re-hash (vanished,
// unreadable) are dropped from the group.
func (v *Verifier) rehashGroup(ctx context.Context, j job) map[groupKey][]*types.HashRecord {
	h := v.hashers[j.round]
	results := make([]*types.HashRecord, j.group.Len())

	var g errgroup.Group
	for i, member := range j.group.Items() {
		g.Go(func() error {
			rec, err := h.Hash(ctx, member.Path)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				v.sendError(fmt.Errorf("%s: %w", member.Path, err))
				return nil
			}
			results[i] = rec
			return nil
		})
	}
	_ = g.Wait() // member funcs never return errors

	byKey := make(map[groupKey][]*types.HashRecord)
	for _, rec := range results {
		if rec == nil {
			continue
		}
		key := groupKey{fp: rec.Fingerprint, length: rec.DataLength}
		byKey[key] = append(byKey[key], rec)
	}
	return byKey
}

// sendError sends an error to the errors channel if it's not nil.
func (v *Verifier) sendError(err error) {
	if v.errCh != nil {
		v.errCh <- err
	}
}
