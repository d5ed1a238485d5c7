package feed

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/phuslu/log"
)

// Scanner builds the full version listing for a data directory. Scan walks
// the whole tree and opens every matching archive, which is why its results
// are cached rather than recomputed per request.
type Scanner struct {
	dataDir string
	pattern string
}

// NewScanner creates a scanner over dataDir. pattern is the same file-name
// glob the cache's validation policy uses, so the listing and the
// fingerprint always describe the same file set.
func NewScanner(dataDir, pattern string) *Scanner {
	return &Scanner{
		dataDir: dataDir,
		pattern: pattern,
	}
}

// Scan returns the listing ordered by canonical ID, then version. Archives
// without a readable manifest are skipped with a warning. A missing data
// directory yields an empty listing, not an error.
func (s *Scanner) Scan(ctx context.Context) ([]Package, error) {
	if _, err := os.Stat(s.dataDir); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat data directory: %w", err)
	}

	var packages []Package
	err := filepath.WalkDir(s.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		matched, err := filepath.Match(s.pattern, d.Name())
		if err != nil || !matched {
			return err
		}

		pkg, err := ReadManifest(path)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Skipping unreadable package archive")
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(s.dataDir, path)
		if err != nil {
			return err
		}
		pkg.Size = info.Size()
		pkg.Published = info.ModTime()
		pkg.Path = rel
		packages = append(packages, pkg)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", s.dataDir, err)
	}

	sort.Slice(packages, func(i, j int) bool {
		a, b := packages[i], packages[j]
		ca, cb := CanonicalID(a.ID), CanonicalID(b.ID)
		if ca != cb {
			return ca < cb
		}
		return CompareVersions(a.Version, b.Version) < 0
	})

	log.Debug().
		Int("packages", len(packages)).
		Str("data_dir", s.dataDir).
		Msg("Scanned package directory")

	return packages, nil
}
