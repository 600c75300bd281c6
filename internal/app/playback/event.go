package playback

// EventType represents a playback event type.
type EventType int

const (
	EventTrackChanged     EventType = iota // Current index changed, load about to start
	EventTrackLoaded                       // Resource for the current track loaded
	EventLoadFailed                        // Resource for the current track failed to load
	EventStateChanged                      // Transport intent flipped (play/pause)
	EventBufferingChanged                  // Buffering status of the loaded resource changed
	EventShutdown                          // Controller released its resource and stopped
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackChanged:
		return "track_changed"
	case EventTrackLoaded:
		return "track_loaded"
	case EventLoadFailed:
		return "load_failed"
	case EventStateChanged:
		return "state_changed"
	case EventBufferingChanged:
		return "buffering_changed"
	case EventShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Event represents a playback event.
type Event struct {
	Type     EventType
	Snapshot Snapshot // State right after the event
}
