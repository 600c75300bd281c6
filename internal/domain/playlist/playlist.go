// Package playlist provides the Playlist domain entity.
package playlist

import (
	"github.com/cockroachdb/errors"

	"github.com/osa030/abplayer/internal/domain/track"
)

// ErrEmpty is returned when a playlist is built without tracks.
var ErrEmpty = errors.New("playlist must contain at least one track")

// BackPolicy selects how PrevIndex steps backwards.
type BackPolicy string

const (
	// BackWrap moves back by one and wraps from the first track to the last.
	BackWrap BackPolicy = "wrap"
	// BackReset moves back by one except from the last track, which jumps to the first.
	// Index 0 stays at 0.
	BackReset BackPolicy = "reset"
)

// Playlist is an ordered, non-empty, immutable sequence of tracks.
type Playlist struct {
	tracks []track.Track
}

// New creates a playlist from the given tracks.
// The slice is copied; at least one track is required.
func New(tracks []track.Track) (*Playlist, error) {
	if len(tracks) == 0 {
		return nil, ErrEmpty
	}
	for i, t := range tracks {
		if !t.IsValid() {
			return nil, errors.Newf("track %d (%q) has no uri", i, t.Title)
		}
	}

	copied := make([]track.Track, len(tracks))
	copy(copied, tracks)
	return &Playlist{tracks: copied}, nil
}

// Len returns the number of tracks.
func (p *Playlist) Len() int {
	return len(p.tracks)
}

// At returns the track at index i.
// The second return value is false when i is out of range.
func (p *Playlist) At(i int) (track.Track, bool) {
	if i < 0 || i >= len(p.tracks) {
		return track.Track{}, false
	}
	return p.tracks[i], true
}

// Tracks returns a copy of all tracks.
func (p *Playlist) Tracks() []track.Track {
	result := make([]track.Track, len(p.tracks))
	copy(result, p.tracks)
	return result
}

// NextIndex returns the index following i, wrapping from the last track to the first.
func (p *Playlist) NextIndex(i int) int {
	if i < len(p.tracks)-1 {
		return i + 1
	}
	return 0
}

// PrevIndex returns the index preceding i according to policy.
// Unknown policies behave as BackWrap.
func (p *Playlist) PrevIndex(i int, policy BackPolicy) int {
	n := len(p.tracks)
	switch policy {
	case BackReset:
		if i < n-1 && i > 0 {
			return i - 1
		}
		return 0
	default:
		return (i - 1 + n) % n
	}
}

// ValidPolicy reports whether policy is a known back policy.
func ValidPolicy(policy BackPolicy) bool {
	return policy == BackWrap || policy == BackReset
}
