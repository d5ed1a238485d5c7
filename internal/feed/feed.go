// Package feed derives package version listings from a directory of .nupkg
// archives. A full scan is the expensive operation the directory cache in
// internal/cache gatekeeps; everything in this package is stateless.
package feed

import (
	"archive/zip"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Package is one version record in the feed listing.
type Package struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	Authors     string    `json:"authors,omitempty"`
	Description string    `json:"description,omitempty"`
	Size        int64     `json:"size"`
	Published   time.Time `json:"published"`
	Path        string    `json:"-"` // file path relative to the data directory
}

// nuspec mirrors the subset of the NuGet manifest we expose. The manifest is
// namespaced XML; decoding by local element names is enough here.
type nuspec struct {
	XMLName  xml.Name `xml:"package"`
	Metadata struct {
		ID          string `xml:"id"`
		Version     string `xml:"version"`
		Authors     string `xml:"authors"`
		Description string `xml:"description"`
	} `xml:"metadata"`
}

// ReadManifest opens a .nupkg archive and extracts identity metadata from the
// embedded .nuspec manifest.
func ReadManifest(path string) (Package, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return Package{}, fmt.Errorf("opening archive: %w", err)
	}
	defer r.Close()

	for _, f := range r.File {
		if !strings.HasSuffix(strings.ToLower(f.Name), ".nuspec") {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return Package{}, fmt.Errorf("opening manifest %s: %w", f.Name, err)
		}
		var spec nuspec
		err = xml.NewDecoder(rc).Decode(&spec)
		rc.Close()
		if err != nil {
			return Package{}, fmt.Errorf("parsing manifest %s: %w", f.Name, err)
		}
		if spec.Metadata.ID == "" || spec.Metadata.Version == "" {
			return Package{}, fmt.Errorf("manifest %s missing id or version", f.Name)
		}
		return Package{
			ID:          spec.Metadata.ID,
			Version:     spec.Metadata.Version,
			Authors:     spec.Metadata.Authors,
			Description: spec.Metadata.Description,
		}, nil
	}
	return Package{}, fmt.Errorf("no .nuspec manifest in %s", path)
}

// CanonicalID normalizes a package ID for lookups. NuGet IDs are
// case-insensitive.
func CanonicalID(id string) string {
	return strings.ToLower(id)
}

// Versions returns the entries in listing whose ID matches id,
// case-insensitively, preserving listing order.
func Versions(listing []Package, id string) []Package {
	cid := CanonicalID(id)
	var out []Package
	for _, p := range listing {
		if CanonicalID(p.ID) == cid {
			out = append(out, p)
		}
	}
	return out
}

// Find returns the entry matching id and version exactly (ID
// case-insensitive, version as written).
func Find(listing []Package, id, version string) (Package, bool) {
	cid := CanonicalID(id)
	for _, p := range listing {
		if CanonicalID(p.ID) == cid && p.Version == version {
			return p, true
		}
	}
	return Package{}, false
}

// CompareVersions orders dotted package versions: numeric release segments
// compare numerically, a release sorts after any of its prereleases, and
// prerelease tags compare lexically. Build metadata after '+' is ignored.
func CompareVersions(a, b string) int {
	a, _, _ = strings.Cut(a, "+")
	b, _, _ = strings.Cut(b, "+")
	aRel, aPre, aHasPre := strings.Cut(a, "-")
	bRel, bPre, bHasPre := strings.Cut(b, "-")

	if c := compareRelease(aRel, bRel); c != 0 {
		return c
	}
	switch {
	case aHasPre && !bHasPre:
		return -1
	case !aHasPre && bHasPre:
		return 1
	default:
		return strings.Compare(aPre, bPre)
	}
}

func compareRelease(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var sa, sb string
		if i < len(as) {
			sa = as[i]
		}
		if i < len(bs) {
			sb = bs[i]
		}
		na, errA := strconv.Atoi(sa)
		nb, errB := strconv.Atoi(sb)
		if errA == nil && errB == nil {
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			continue
		}
		// Missing segments count as zero; "1.0" equals "1.0.0".
		if sa == "" {
			na, errA = 0, nil
		}
		if sb == "" {
			nb, errB = 0, nil
		}
		if errA == nil && errB == nil {
			if na != nb {
				if na < nb {
					return -1
				}
				return 1
			}
			continue
		}
		if c := strings.Compare(sa, sb); c != 0 {
			return c
		}
	}
	return 0
}
