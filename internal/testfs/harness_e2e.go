//go:build e2e

package testfs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// -----------------------------------------------------------------------------
// Configuration
// -----------------------------------------------------------------------------

const (
	// baseImage is the Docker image used for E2E tests.
	baseImage = "alpine:3.21"

	// CacheMount is a tmpfs mount reserved for the cache database, so
	// tests can exercise cache reuse across runs with
	// --cache-file CacheFile.
	CacheMount = "/cache"

	// CacheFile is the cache database path inside the container.
	CacheFile = CacheMount + "/Cache.db"

	// Binary names and paths inside container.
	binaryName       = "dupehound"
	helperBinaryName = "testfs-helper"
	binaryPath       = "/tmp/" + binaryName
	helperBinaryPath = "/tmp/" + helperBinaryName
)

// -----------------------------------------------------------------------------
// Harness - Public API
// -----------------------------------------------------------------------------

// Harness provides E2E test infrastructure using Docker containers.
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
//	result := h.RunDupehound("find", "--no-progress", "/vol1")
//	testfs.AssertGroups(t, [][]string{{"/vol1/a.bin", "/vol1/b.bin"}}, testfs.ParseGroups(result.Stdout))
type Harness struct {
	t          *testing.T
	ctx        context.Context
	given      FileTree
	container  *Container
	lastResult *RunResult
}

// New creates a new Harness with the given FileTree specification.
//
// The harness:
//  1. Starts a Docker container with tmpfs volumes for each Volume in
//     the spec, plus CacheMount for the cache database
//  2. Bind-mounts pre-built dupehound binaries into the container
//  3. Creates files according to the spec via testfs-helper
//
// Requires DUPEHOUND_E2E_BINDIR env var (set by 'make test-e2e').
// The container is automatically cleaned up when the test finishes via t.Cleanup().
func New(t *testing.T, given FileTree) *Harness {
	t.Helper()

	ctx := context.Background()
	h := &Harness{
		t:     t,
		ctx:   ctx,
		given: given,
	}

	spec, err := h.buildContainerSpec()
	if err != nil {
		t.Fatalf("failed to build container spec: %v", err)
	}

	c, err := NewContainer(ctx, spec)
	if err != nil {
		t.Fatalf("failed to create container: %v", err)
	}
	h.container = c

	t.Cleanup(func() {
		h.Cleanup()
	})

	if err := h.sowFileTree(); err != nil {
		t.Fatalf("failed to setup files: %v", err)
	}

	return h
}

// RunDupehound executes the dupehound binary inside the container with
// the given arguments.
//
// Example:
//
//	h.RunDupehound("find", "--no-progress", "--cache-file", testfs.CacheFile, "/vol1")
//
// The result (exit code, stdout, stderr) is stored and returned.
func (h *Harness) RunDupehound(args ...string) *RunResult {
	h.t.Helper()

	cmd := append([]string{binaryPath}, args...)
	stdout, stderr, exitCode, err := h.container.Run(h.ctx, cmd, nil)
	if err != nil {
		h.t.Fatalf("failed to run dupehound: %v", err)
	}

	h.lastResult = &RunResult{
		ExitCode: exitCode,
		Stdout:   stdout,
		Stderr:   stderr,
	}
	return h.lastResult
}

// Snapshot captures the state of every volume via testfs-helper.
func (h *Harness) Snapshot() *ReapResult {
	h.t.Helper()

	paths := make([]string, len(h.given.Volumes))
	for i, vol := range h.given.Volumes {
		paths[i] = vol.MountPoint
	}

	cmd := append([]string{helperBinaryPath, "reap"}, paths...)
	stdout, stderr, exitCode, err := h.container.Run(h.ctx, cmd, nil)
	if err != nil {
		h.t.Fatalf("run reap: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("reap failed (exit %d): %s%s", exitCode, stdout, stderr)
	}

	var result ReapResult
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		h.t.Fatalf("parse reap output: %v", err)
	}
	return &result
}

// Exec runs an arbitrary command inside the container (chmod, touch,
// rm - whatever a scenario needs between runs).
func (h *Harness) Exec(cmd ...string) *RunResult {
	h.t.Helper()

	stdout, stderr, exitCode, err := h.container.Run(h.ctx, cmd, nil)
	if err != nil {
		h.t.Fatalf("exec %v: %v", cmd, err)
	}
	return &RunResult{ExitCode: exitCode, Stdout: stdout, Stderr: stderr}
}

// Cleanup terminates the container and releases resources.
func (h *Harness) Cleanup() {
	if h.container != nil {
		_ = h.container.Close(h.ctx)
		h.container = nil
	}
}

// -----------------------------------------------------------------------------
// Container Configuration
// -----------------------------------------------------------------------------

// buildContainerSpec derives the container spec for this FileTree.
func (h *Harness) buildContainerSpec() (ContainerSpec, error) {
	// Get binary directory from environment
	binDir := os.Getenv("DUPEHOUND_E2E_BINDIR")
	if binDir == "" {
		return ContainerSpec{}, fmt.Errorf("DUPEHOUND_E2E_BINDIR not set - run via 'make test-e2e'")
	}

	tmpfs := make([]string, 0, len(h.given.Volumes)+1)
	for _, v := range h.given.Volumes {
		tmpfs = append(tmpfs, v.MountPoint)
	}
	tmpfs = append(tmpfs, CacheMount)

	return ContainerSpec{
		Image: baseImage,
		Tmpfs: tmpfs,
		Binds: map[string]string{
			filepath.Join(binDir, binaryName):       binaryPath,
			filepath.Join(binDir, helperBinaryName): helperBinaryPath,
		},
	}, nil
}

// sowFileTree creates filesystem from FileTree spec using testfs-helper.
func (h *Harness) sowFileTree() error {
	specJSON, err := json.Marshal(h.given)
	if err != nil {
		return fmt.Errorf("marshal spec: %w", err)
	}

	cmd := []string{helperBinaryPath, "sow"}
	stdout, stderr, exitCode, err := h.container.Run(h.ctx, cmd, specJSON)
	if err != nil {
		return fmt.Errorf("run sow: %w", err)
	}
	if exitCode != 0 {
		return fmt.Errorf("sow failed (exit %d): %s%s", exitCode, stdout, stderr)
	}
	return nil
}
