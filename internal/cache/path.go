package cache

import (
	"path/filepath"
	"strings"
)

// parentDir returns the containing directory of path, or "" for roots.
func parentDir(path string) string {
	dir := filepath.Dir(path)
	if dir == path {
		return ""
	}
	return dir
}

// pathUnderAny reports whether path lies under any prefix (or prefixes
// is empty).
func pathUnderAny(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return true
	}
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
