// Package workspace reads the application source tree that the change detector snapshots.
package workspace

import (
	"cmp"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DefaultMaxFileSize skips generated or vendored blobs.
const DefaultMaxFileSize = 50 * 1024

var ignoredDirs = map[string]bool{
	"__pycache__":   true,
	"venv":          true,
	"env":           true,
	".venv":         true,
	"node_modules":  true,
	".git":          true,
	".healer":       true,
	".pytest_cache": true,
}

var languageByExt = map[string]string{
	".py":      "python",
	".go":      "go",
	".js":      "javascript",
	".ts":      "typescript",
	".java":    "java",
	".rb":      "ruby",
	".rs":      "rust",
	".proto":   "protobuf",
	".graphql": "graphql",
}

// ScanOptions narrows a scan.
type ScanOptions struct {
	// Extensions to read, with the leading dot. Empty reads every known source extension.
	Extensions  []string
	MaxFileSize int64
	Logger      *slog.Logger
}

// Scan is the content of a source tree keyed by slash-separated path relative to its root.
type Scan struct {
	Files     map[string]string
	Languages []string
	Skipped   []string
}

// ScanSources reads the source files under root. Ignored directories are not descended into
// and files above the size limit are listed in Skipped.
func ScanSources(root string, opts ScanOptions) (*Scan, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	allowed := make(map[string]bool, len(languageByExt))
	if len(opts.Extensions) == 0 {
		for ext := range languageByExt {
			allowed[ext] = true
		}
	} else {
		for _, ext := range opts.Extensions {
			allowed[strings.ToLower(ext)] = true
		}
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", root)
	}

	scan := &Scan{Files: make(map[string]string), Languages: []string{}, Skipped: []string{}}
	perLanguage := make(map[string]int)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != root && ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}

			return nil
		}

		ext := strings.ToLower(filepath.Ext(path))
		if !d.Type().IsRegular() || !allowed[ext] {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)

		fi, err := d.Info()
		if err != nil {
			return err
		}

		if fi.Size() > maxSize {
			logger.Debug("workspace: skipping large file", "path", rel, "size", fi.Size())
			scan.Skipped = append(scan.Skipped, rel)

			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("workspace: cannot read file", "path", rel, "error", err)
			scan.Skipped = append(scan.Skipped, rel)

			return nil
		}

		scan.Files[rel] = string(data)

		if lang, ok := languageByExt[ext]; ok {
			perLanguage[lang]++
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}

	for lang := range perLanguage {
		scan.Languages = append(scan.Languages, lang)
	}

	slices.SortFunc(scan.Languages, func(a, b string) int {
		if c := cmp.Compare(perLanguage[b], perLanguage[a]); c != 0 {
			return c
		}

		return cmp.Compare(a, b)
	})

	return scan, nil
}
