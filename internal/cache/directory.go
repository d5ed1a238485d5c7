package cache

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// snapshot pairs a stored listing with the directory fingerprint it was last
// validated against. It is read and replaced as a unit under the cache mutex.
type snapshot struct {
	value     interface{}
	fileCount int
	lastMod   time.Time
}

// DirectoryCache holds one previously computed package listing and clears it
// whenever the backing directory tree no longer matches the fingerprint
// (file count, latest mtime) recorded at the last validation.
//
// The cache never computes a listing itself. Callers ask for the value via
// Get, perform the expensive recomputation when Get returns nil, and feed
// the fresh result back via Set. Two concurrent callers may both see a miss
// and both recompute; the last Set wins and nothing corrupts, but the cache
// makes no at-most-once promise.
//
// A DirectoryCache is constructed once per data directory and injected into
// whatever serves requests; it is safe for concurrent use.
type DirectoryCache struct {
	dataDir string
	policy  ValidationPolicy

	mu   sync.Mutex
	snap snapshot
}

// NewDirectoryCache creates a cache over dataDir with the given policy.
// Both are fixed for the lifetime of the cache.
func NewDirectoryCache(dataDir string, policy ValidationPolicy) *DirectoryCache {
	return &DirectoryCache{
		dataDir: dataDir,
		policy:  policy,
	}
}

// Get validates the stored listing against the live directory tree and
// returns it, or nil when the caller has to recompute. Validation may clear
// the stored value as a side effect.
//
// Enumeration errors (permissions, files vanishing mid-scan) are returned
// unwrapped and leave the stored state untouched. A missing or empty
// directory path and a disabled policy are not errors: they reset the cache
// and Get returns nil.
func (c *DirectoryCache) Get() (interface{}, error) {
	if !c.policy.Enabled || !c.directoryValid() {
		c.mu.Lock()
		c.snap = snapshot{}
		c.mu.Unlock()
		return nil, nil
	}

	// With both checks disabled a stored value stays valid until the
	// directory disappears or the policy is turned off.
	if !c.policy.CheckCount && !c.policy.CheckModifiedDate {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.snap.value, nil
	}

	// The walk runs outside the lock so slow filesystems never block
	// concurrent readers; only the compare-and-commit below is serialized.
	count, lastMod, err := c.fingerprint()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if count != c.snap.fileCount || !lastMod.Equal(c.snap.lastMod) {
		c.snap = snapshot{fileCount: count, lastMod: lastMod}
	}
	return c.snap.value, nil
}

// Set stores a freshly computed listing, replacing whatever is stored.
//
// The fingerprint is deliberately not refreshed here: the next Get re-derives
// it against the directory as it is then, so a write that lands between the
// caller's computation and this Set is still detected on the next read.
func (c *DirectoryCache) Set(value interface{}) {
	c.mu.Lock()
	c.snap.value = value
	c.mu.Unlock()
}

// directoryValid reports whether the configured path exists and is a
// directory. An unset path or a stat failure degrades to "always invalidate"
// rather than erroring.
func (c *DirectoryCache) directoryValid() bool {
	if c.dataDir == "" {
		return false
	}
	info, err := os.Stat(c.dataDir)
	return err == nil && info.IsDir()
}

// fingerprint walks the directory tree and derives the candidate fingerprint
// for the enabled policy dimensions. Disabled dimensions keep their zero
// value so they compare equal against a reset snapshot.
func (c *DirectoryCache) fingerprint() (int, time.Time, error) {
	var count int
	var lastMod time.Time

	err := filepath.WalkDir(c.dataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		matched, err := filepath.Match(c.policy.SearchPattern, d.Name())
		if err != nil || !matched {
			return err
		}
		if c.policy.CheckCount {
			count++
		}
		if c.policy.CheckModifiedDate {
			info, err := d.Info()
			if err != nil {
				return err
			}
			if mt := info.ModTime(); mt.After(lastMod) {
				lastMod = mt
			}
		}
		return nil
	})
	if err != nil {
		return 0, time.Time{}, err
	}
	return count, lastMod, nil
}
