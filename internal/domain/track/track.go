// Package track provides the Track domain entity.
package track

import "strings"

// Track represents one playable audio item of the playlist.
// A track has no identifier of its own; it is identified by its playlist position.
type Track struct {
	Title  string // Display title
	Author string // Author or narrator
	URI    string // Network or local audio resource
}

// IsValid reports whether the track carries a resource to load.
func (t Track) IsValid() bool {
	return strings.TrimSpace(t.URI) != ""
}

// String returns "title - author" for logging.
func (t Track) String() string {
	if t.Author == "" {
		return t.Title
	}
	return t.Title + " - " + t.Author
}
