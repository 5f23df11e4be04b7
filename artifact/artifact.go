// Package artifact implements the artifact fetcher: it downloads every
// build artifact matching a name pattern from a located run, merges the
// archives into a single flat collection, and enforces the expected
// distribution count before the pipeline may proceed to attestation.
package artifact

import (
	"path/filepath"
	"sort"
	"time"
)

// Meta describes one artifact set available on a build run, as reported
// by the build system's listing endpoint.
type Meta struct {
	// ID is the artifact identifier in the external build system.
	ID int64 `json:"id"`

	// Name is the artifact set name the glob pattern is matched against.
	Name string `json:"name"`

	// SizeInBytes is the compressed size of the artifact archive.
	SizeInBytes int64 `json:"size_in_bytes"`

	// ArchiveDownloadURL is where the artifact archive can be fetched.
	ArchiveDownloadURL string `json:"archive_download_url"`

	// Expired reports whether the artifact has been garbage-collected
	// upstream and can no longer be downloaded.
	Expired bool `json:"expired"`

	// CreatedAt is when the artifact was uploaded.
	CreatedAt time.Time `json:"created_at"`
}

// Entry is a single file in a merged artifact collection.
type Entry struct {
	// Name is the flattened file name, unique within the collection.
	Name string `json:"name"`

	// Size is the file size in bytes.
	Size int64 `json:"size"`
}

// Collection is the merged, deduplicated artifact set produced by a fetch.
// The collection is immutable once returned; repeating a fetch against
// immutable upstream artifacts yields the same collection.
type Collection struct {
	// Dir is the destination directory holding the merged files.
	Dir string `json:"dir"`

	// Entries lists the merged files sorted by name.
	Entries []Entry `json:"entries"`
}

// Count returns the number of files in the collection.
func (c *Collection) Count() int {
	return len(c.Entries)
}

// Names returns the sorted file names of the collection.
func (c *Collection) Names() []string {
	names := make([]string, 0, len(c.Entries))
	for _, e := range c.Entries {
		names = append(names, e.Name)
	}
	return names
}

// Path returns the full path of a named file inside the collection.
func (c *Collection) Path(name string) string {
	return filepath.Join(c.Dir, name)
}

// sortEntries orders entries by name for deterministic listings.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
}
