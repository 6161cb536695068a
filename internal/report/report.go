// Package report renders confirmed duplicate groups.
//
// # Overview
//
// The report is the final stage in the duplicate detection pipeline.
// It takes the groups that survived whole-content verification and
// writes them to the output, one group per block, followed by a summary
// of sets, entries and reclaimable bytes. Reclaimable bytes count every
// member of a set except one (the copy that would be kept).
//
// # Why This Design?
//
//   - Sequential processing (output ordering matters, no I/O to overlap)
//   - Groups and members are pre-sorted by path, so output is
//     byte-identical across runs over an unchanged tree
//   - Verbose mode adds per-entry fingerprints for auditing
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ivoronin/dupehound/internal/types"
)

// Report writes duplicate groups to an output writer.
//
// The report is designed for single-use: create with New(), call Run() once.
type Report struct {
	// Config (immutable, set by New)
	groups  types.DuplicateGroups // Confirmed duplicate groups to render
	verbose bool                  // Include fingerprints per entry
	out     io.Writer
}

// New creates a Report for the given duplicate groups.
func New(groups types.DuplicateGroups, verbose bool, out io.Writer) *Report {
	return &Report{
		groups:  groups,
		verbose: verbose,
		out:     out,
	}
}

// stats tracks report totals.
type stats struct {
	totalSets        int
	totalEntries     int
	reclaimableBytes uint64
	startTime        time.Time
}

func (s *stats) String() string {
	return fmt.Sprintf("Found %d duplicate sets (%d entries, %s reclaimable) in %.1fs",
		s.totalSets, s.totalEntries,
		humanize.IBytes(s.reclaimableBytes),
		time.Since(s.startTime).Seconds())
}

// Run renders all duplicate groups and returns the summary line.
func (r *Report) Run() string {
	st := &stats{startTime: time.Now()}

	for _, group := range r.groups.Items() {
		if group.Len() < 2 {
			continue
		}

		first := group.First()
		fmt.Fprintf(r.out, "# %d × %s%s\n",
			group.Len(), humanize.IBytes(uint64(first.DataLength)), kindSuffix(first))
		for _, rec := range group.Items() {
			if r.verbose {
				fmt.Fprintf(r.out, "%s  %s\n", rec.Fingerprint.Hex(), rec.Path)
			} else {
				fmt.Fprintln(r.out, rec.Path)
			}
		}
		fmt.Fprintln(r.out)

		st.totalSets++
		st.totalEntries += group.Len()
		st.reclaimableBytes += uint64(first.DataLength) * uint64(group.Len()-1)
	}

	return st.String()
}

// kindSuffix marks directory groups in the group header.
func kindSuffix(rec *types.HashRecord) string {
	if rec.IsDir {
		return " (directories)"
	}
	return ""
}
