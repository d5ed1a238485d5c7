package cache

// ValidationPolicy describes how a DirectoryCache decides that the package
// directory has changed since the cached listing was computed.
//
// A policy is read on every validation and must not be mutated once it has
// been attached to a cache. Concurrent reads are safe; mutating fields while
// a validation is in flight is undefined behavior.
type ValidationPolicy struct {
	// SearchPattern is a file-name glob (filepath.Match syntax) selecting
	// which files in the directory tree count toward the fingerprint.
	SearchPattern string

	// CheckCount includes the number of matching files in the comparison.
	CheckCount bool

	// CheckModifiedDate includes the latest modification time among matching
	// files. This is the expensive branch: it stats every matched file.
	CheckModifiedDate bool

	// Enabled is the master switch. When false the cache never returns a
	// stored value.
	Enabled bool
}

// DefaultPolicy returns the policy used by the stock server configuration:
// count-based invalidation over *.nupkg files, timestamps off.
func DefaultPolicy() ValidationPolicy {
	return ValidationPolicy{
		SearchPattern: "*.nupkg",
		CheckCount:    true,
		Enabled:       true,
	}
}
