// Package playback provides the playback controller: a single-goroutine state machine
// over one loaded audio resource and a fixed playlist.
package playback

import (
	"github.com/osa030/abplayer/internal/app/engine"
	"github.com/osa030/abplayer/internal/domain/track"
)

// State represents the playback state.
type State int

const (
	StateEmpty   State = iota // No resource loaded
	StateLoading              // Load in flight
	StatePaused               // Resource loaded, transport intent is paused
	StatePlaying              // Resource loaded, transport intent is playing
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StatePaused:
		return "paused"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Snapshot is a read-only copy of the controller state.
type Snapshot struct {
	Index       int
	Total       int
	Track       track.Track
	State       State
	IsPlaying   bool
	IsBuffering bool
	Loaded      bool
	Volume      float64
	Generation  uint64
	Revision    uint64 // Increases with every published change; orders snapshots
}

// playbackState is owned by the controller goroutine and never shared.
type playbackState struct {
	currentIndex int
	isPlaying    bool
	isBuffering  bool
	volume       float64
	loaded       engine.Handle
	loading      bool
	generation   uint64
	revision     uint64
}

func newPlaybackState(volume float64) *playbackState {
	return &playbackState{
		currentIndex: 0,
		isPlaying:    false,
		isBuffering:  false,
		volume:       volume,
	}
}

func (st *playbackState) state() State {
	switch {
	case st.loading:
		return StateLoading
	case st.loaded.IsZero():
		return StateEmpty
	case st.isPlaying:
		return StatePlaying
	default:
		return StatePaused
	}
}
