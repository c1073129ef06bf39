// Package batch runs patch sessions over many shared objects.
package batch

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
)

var elfMagic = []byte("\x7fELF")

// DiscoverOptions controls how directory arguments are expanded.
type DiscoverOptions struct {
	Recursive  bool
	Extensions []string
	Logger     *log.Logger
}

// Discover expands paths into the ELF files to patch. File arguments are
// taken as given. Directories contribute files whose suffix is in
// Extensions (any suffix when empty) and that start with the ELF magic.
// Unreadable entries below a directory are logged and skipped.
func Discover(paths []string, opts DiscoverOptions) ([]string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	seen := make(map[string]bool)
	var found []string
	add := func(path string) {
		if !seen[path] {
			seen[path] = true
			found = append(found, path)
		}
	}

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("failed to stat path: %w", err)
		}
		if !info.IsDir() {
			add(filepath.Clean(root))
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				logger.Warn("Error accessing path", "path", path, "err", err)
				return nil
			}
			if d.IsDir() {
				if !opts.Recursive && path != root {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() || !hasExtension(path, opts.Extensions) {
				return nil
			}
			ok, err := isELF(path)
			if err != nil {
				logger.Warn("Cannot open file", "path", path, "err", err)
				return nil
			}
			if ok {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("error walking directory: %w", err)
		}
	}

	sort.Strings(found)
	return found, nil
}

func hasExtension(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	for _, ext := range exts {
		if ext != "" && strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func isELF(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, len(elfMagic))
	if _, err := io.ReadFull(f, buf); err != nil {
		return false, nil
	}
	return bytes.Equal(buf, elfMagic), nil
}
