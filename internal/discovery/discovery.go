// Package discovery provides file discovery for batch processing.
package discovery

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/five82/lathe/internal/errors"
	"github.com/five82/lathe/internal/util"
)

// FindVideoFiles finds video files directly inside dir, sorted by name.
// Hidden files and sample/extras material are skipped.
func FindVideoFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.NewInputValidationError("directory does not exist: " + dir)
	}
	if !info.IsDir() {
		return nil, errors.NewInputValidationError(dir + " is not a directory")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.NewIOError("cannot read directory "+dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || isSampleFile(name) {
			continue
		}

		fullPath := filepath.Join(dir, name)
		if util.IsVideoFile(fullPath) {
			files = append(files, fullPath)
		}
	}

	if len(files) == 0 {
		return nil, errors.NewNoFilesFoundError(dir)
	}

	sort.Strings(files)
	return files, nil
}

// isSampleFile matches disc-rip extras that should not be batch encoded.
func isSampleFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "sample") || strings.HasPrefix(lower, "extras_")
}
