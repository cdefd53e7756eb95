package index

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNotADirectory is returned when a scan root does not exist or is not
// a directory.
var ErrNotADirectory = errors.New("not a directory")

// ImageExtensions lists the page image extensions the scanner recognizes,
// matched case-insensitively.
var ImageExtensions = []string{".jpg", ".jpeg", ".tif", ".tiff"}

// DefaultExcludePatterns contains path patterns to exclude from document
// discovery. Transkribus and eScriptorium exports keep job metadata next
// to the page files; none of it is transcription content.
var DefaultExcludePatterns = []string{
	".git/**",
	"**/mets.xml",
	"**/METS.xml",
	"**/metadata.xml",
}

// Scanner discovers transcription documents and page images under a
// corpus root.
type Scanner struct {
	patterns []string
}

// NewScanner creates a Scanner with the default exclusion patterns.
func NewScanner() *Scanner {
	return &Scanner{patterns: DefaultExcludePatterns}
}

// NewScannerWithPatterns creates a Scanner with custom exclusion patterns.
func NewScannerWithPatterns(patterns []string) *Scanner {
	return &Scanner{patterns: patterns}
}

// ShouldExclude returns true if the given path matches any exclusion
// pattern. The path should be relative to the scan root.
func (s *Scanner) ShouldExclude(relPath string) bool {
	relPath = filepath.ToSlash(relPath)

	for _, pattern := range s.patterns {
		if matched, _ := doublestar.Match(pattern, relPath); matched {
			return true
		}
	}
	return false
}

// ScanDocuments recursively collects the XML documents under root, minus
// exclusions. The extension match is case-insensitive; transcription
// export tools disagree on casing. Paths come back relative to root with
// forward slashes, in lexical walk order, so repeated scans of an
// unchanged corpus yield the same slice and the same document identities
// on every platform.
func (s *Scanner) ScanDocuments(root string) ([]string, error) {
	if err := checkDirectory(root); err != nil {
		return nil, err
	}

	var docs []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".xml") {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)
		if s.ShouldExclude(relPath) {
			return nil
		}

		docs = append(docs, relPath)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan documents under %s: %w", root, err)
	}

	return docs, nil
}

// ScanImages recursively collects page images under root and maps each
// image key to its path. When two images share a key the first one found
// wins and the duplicate is logged.
func (s *Scanner) ScanImages(root string) (map[string]string, error) {
	if err := checkDirectory(root); err != nil {
		return nil, err
	}

	images := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isImagePath(path) {
			return nil
		}

		key := ImageKey(path)
		if existing, ok := images[key]; ok {
			slog.Warn("Duplicate image basename, keeping first",
				"image", existing,
				"duplicate", path)
			return nil
		}
		images[key] = path
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan images under %s: %w", root, err)
	}

	return images, nil
}

// ImageKey returns the lookup key linking a document to its page image:
// the lowercased base name without extension. A document keyed "p001"
// matches p001.jpg, P001.TIF and so on.
func ImageKey(path string) string {
	base := filepath.Base(path)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}

func isImagePath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, imageExt := range ImageExtensions {
		if ext == imageExt {
			return true
		}
	}
	return false
}

func checkDirectory(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", root, ErrNotADirectory)
		}
		return fmt.Errorf("failed to stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: %w", root, ErrNotADirectory)
	}
	return nil
}
