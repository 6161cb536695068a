package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/ivoronin/dupehound/internal/cache"
	"github.com/ivoronin/dupehound/internal/hasher"
	"github.com/ivoronin/dupehound/internal/progress"
	"github.com/ivoronin/dupehound/internal/report"
	"github.com/ivoronin/dupehound/internal/screener"
	"github.com/ivoronin/dupehound/internal/types"
	"github.com/ivoronin/dupehound/internal/verifier"
	"github.com/spf13/cobra"
)

// findOptions holds CLI flags for the find command.
type findOptions struct {
	segmentLengthStr string
	excludes         []string
	maxJobs          int
	noProgress       bool
	verbose          bool
	cacheFile        string
	noPrecacheDirs   bool
	noRestrictFiles  bool
}

// newFindCmd creates the find subcommand.
func newFindCmd() *cobra.Command {
	opts := &findOptions{
		segmentLengthStr: "8KiB",
		maxJobs:          hasher.DefaultMaxJobs,
		cacheFile:        "Cache.db",
	}

	cmd := &cobra.Command{
		Use:   "find [paths...]",
		Short: "Find duplicate files and directories",
		Long: `Finds duplicates by sampled content fingerprints.

The first pass hashes three sampled windows of each file; verification
rounds grow the sample until exact content equality is proven, so large
trees are deduplicated without reading every byte. Fingerprints are
cached in the cache file, making re-runs over unchanged trees cheap.

Directories are matched as well as files: two directories whose contents
are identical (regardless of filenames) form a duplicate set.

Per-directory .dupeignore files (one glob pattern per line) exclude
entries from the scan.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(cmd.Context(), args, opts)
		},
	}

	// Bind flags to options
	cmd.Flags().StringVarP(&opts.segmentLengthStr, "segment-length", "s", opts.segmentLengthStr, "Sample window size for the first pass (e.g., 8KiB, 64KiB)")
	cmd.Flags().StringSliceVarP(&opts.excludes, "exclude", "e", nil, "Glob patterns to exclude")
	cmd.Flags().IntVarP(&opts.maxJobs, "max-jobs", "j", opts.maxJobs, "Maximum concurrently open files")
	cmd.Flags().BoolVar(&opts.noProgress, "no-progress", false, "Disable progress output")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Show fingerprints for each duplicate entry")
	cmd.Flags().StringVar(&opts.cacheFile, "cache-file", opts.cacheFile, "Path to fingerprint cache file (empty disables persistence)")
	cmd.Flags().BoolVar(&opts.noPrecacheDirs, "no-precache-dirs", false, "Disable eager subtree loads on directory cache hits")
	cmd.Flags().BoolVar(&opts.noRestrictFiles, "no-restrict-files", false, "Allow single-file cache queries instead of directory pre-caching only")

	return cmd
}

// drainErrors consumes errors from a channel and writes them to stderr.
// Clears progress bar line before printing to avoid visual collision.
func drainErrors(errs <-chan error) {
	for err := range errs {
		fmt.Fprintf(os.Stderr, "\r\033[Kerror: %v\n", err)
	}
}

// runFind executes the find pipeline: hash → screen → verify → report.
func runFind(ctx context.Context, paths []string, opts *findOptions) error {
	segmentLength, err := parseSize(opts.segmentLengthStr)
	if err != nil {
		return fmt.Errorf("invalid --segment-length: %w", err)
	}

	if err := validateGlobPatterns(opts.excludes); err != nil {
		return fmt.Errorf("invalid --exclude: %w", err)
	}

	roots, err := canonicalizePaths(paths)
	if err != nil {
		return err
	}

	showProgress := !opts.noProgress

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	// Create shared error channel
	errors := make(chan error, 100)
	go drainErrors(errors)
	defer close(errors)

	// Open the two-tier cache (persistent tier optional)
	recordCache, err := cache.Open(cache.Options{
		Path:                    opts.cacheFile,
		PrecacheDirectories:     !opts.noPrecacheDirs,
		RestrictFilesToMemCache: !opts.noRestrictFiles,
		ErrCh:                   errors,
	})
	if err != nil {
		return fmt.Errorf("open cache: %w", err)
	}
	defer func() { _ = recordCache.Close() }()

	// One global permit semaphore bounds open files across all phases
	sem := types.NewSemaphore(opts.maxJobs)

	// Phase 1: hash every root at the initial segment length
	tracker := progress.NewTracker(progress.New(showProgress))
	h := hasher.New(recordCache, sem, segmentLength, opts.excludes, tracker, errors, nil)
	for _, root := range roots {
		if _, err := h.Hash(ctx, root); err != nil {
			return fmt.Errorf("hash %s: %w", root, err)
		}
	}
	tracker.Finish()

	// Phase 2: screen cached records for duplicate candidates
	candidates := screener.New(recordCache, segmentLength, roots, showProgress, errors).Run()
	if candidates.Len() == 0 {
		return nil
	}

	// Phase 3: verification rounds with growing sample sizes
	duplicates := verifier.New(candidates, recordCache, sem, segmentLength, opts.excludes,
		opts.maxJobs, showProgress, errors).Run(ctx)

	if err := ctx.Err(); err != nil {
		return err
	}

	// Phase 4: render confirmed duplicate groups
	summary := report.New(duplicates, opts.verbose, os.Stdout).Run()
	fmt.Fprintln(os.Stderr, summary)

	return nil
}
