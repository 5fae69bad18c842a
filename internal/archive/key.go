package archive

import (
	"fmt"
	"path"
	"strings"
)

// validateKey rejects keys that are empty, absolute or escape the archive
// root. Keys always use forward slashes.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty archive key")
	}
	if strings.HasPrefix(key, "/") || path.Clean(key) != key || key == ".." || strings.HasPrefix(key, "../") {
		return fmt.Errorf("invalid archive key: %q", key)
	}
	return nil
}

// Key returns the archive key of file inside a deployment directory.
func Key(deploymentDir, file string) string {
	return path.Join(strings.ReplaceAll(deploymentDir, "\\", "/"), file)
}
