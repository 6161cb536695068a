package testfs

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// -----------------------------------------------------------------------------
// Reap Operations - Capture filesystem state
// -----------------------------------------------------------------------------

// ReapPaths captures the filesystem state for the given paths.
//
// Each path becomes a ReapVolume listing every regular file with the
// metadata the cache's freshness rules depend on (size and mtime), in
// sorted path order so two snapshots of the same tree compare equal.
//
// The root parameter specifies the base directory to subtract from paths.
// For E2E tests, root is "" or "/" so paths are used as-is.
// For integration tests, root is t.TempDir() so logical paths are computed.
func ReapPaths(root string, paths []string) (*ReapResult, error) {
	result := &ReapResult{}

	for _, path := range paths {
		actualPath := path
		if root != "" && root != "/" {
			actualPath = filepath.Join(root, path)
		}

		vol, err := reapPath(actualPath, path)
		if err != nil {
			return nil, fmt.Errorf("reap %s: %w", path, err)
		}
		result.Volumes = append(result.Volumes, vol)
	}

	return result, nil
}

// ReapToWriter captures filesystem state and writes JSON to the writer.
// Used by testfs-helper CLI tool to write to stdout.
func ReapToWriter(w io.Writer, paths []string) error {
	result, err := ReapPaths("", paths)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// reapPath scans a directory tree and returns its state.
// rootPath is the actual filesystem path to scan.
// logicalPath is the path to report in the result (for volume name).
func reapPath(rootPath, logicalPath string) (ReapVolume, error) {
	vol := ReapVolume{
		Name: logicalPath,
	}

	err := filepath.Walk(rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil // directories, symlinks, devices
		}

		relPath, _ := filepath.Rel(rootPath, path)
		vol.Files = append(vol.Files, ReapFile{
			Path:            relPath,
			Size:            info.Size(),
			ModTimeUnixNano: info.ModTime().UnixNano(),
		})
		return nil
	})
	if err != nil {
		return vol, err
	}

	sort.Slice(vol.Files, func(i, j int) bool {
		return vol.Files[i].Path < vol.Files[j].Path
	})

	return vol, nil
}
