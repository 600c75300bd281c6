// Package presenter exposes the playback controller to presentation layers:
// a read-only view of the current state, the three transport requests and a change feed.
package presenter

import (
	"context"
	"sync"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/abplayer/internal/app/notification"
	"github.com/osa030/abplayer/internal/app/playback"
)

// Controller is the part of playback.Controller the presenter drives.
type Controller interface {
	TogglePlayPause(ctx context.Context) error
	NextTrack(ctx context.Context) error
	PreviousTrack(ctx context.Context) error
	Snapshot() playback.Snapshot
	Events() <-chan playback.Event
}

var _ Controller = (*playback.Controller)(nil)

// View is the read-only projection rendered by presentation layers.
// Title and Author are empty while no resource is loaded.
type View struct {
	Title       string
	Author      string
	Index       int
	Total       int
	State       string
	IsPlaying   bool
	IsBuffering bool
	Loaded      bool
}

// NewView projects a controller snapshot.
func NewView(s playback.Snapshot) View {
	v := View{
		Index:       s.Index,
		Total:       s.Total,
		State:       s.State.String(),
		IsPlaying:   s.IsPlaying,
		IsBuffering: s.IsBuffering,
		Loaded:      s.Loaded,
	}
	if s.Loaded {
		v.Title = s.Track.Title
		v.Author = s.Track.Author
	}
	return v
}

// WatchFunc receives view changes. Returning an error ends the watch.
type WatchFunc func(seq uint64, event string, v View) error

// Presenter mediates between presentation layers and the playback controller.
type Presenter struct {
	controller    Controller
	notifications *notification.Manager
	done          chan struct{}
}

// New creates a presenter. Call Run to start forwarding controller events.
func New(c Controller, n *notification.Manager) *Presenter {
	return &Presenter{
		controller:    c,
		notifications: n,
		done:          make(chan struct{}),
	}
}

// Run forwards controller events to subscribers until the event channel closes or ctx ends.
func (p *Presenter) Run(ctx context.Context) {
	defer close(p.done)

	events := p.controller.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				zlog.Debug().Msg("presenter: controller event stream closed")
				return
			}
			zlog.Debug().Msgf("presenter: event: %s state=%s index=%d", ev.Type, ev.Snapshot.State, ev.Snapshot.Index)
			p.notifications.Broadcast(ev.Type.String(), ev.Snapshot)
		}
	}
}

// Done is closed when Run returns.
func (p *Presenter) Done() <-chan struct{} {
	return p.done
}

// View returns the current projection.
func (p *Presenter) View() View {
	return NewView(p.controller.Snapshot())
}

// RequestPlayPause forwards a play/pause command.
func (p *Presenter) RequestPlayPause(ctx context.Context) error {
	return p.controller.TogglePlayPause(ctx)
}

// RequestNext forwards a next-track command.
func (p *Presenter) RequestNext(ctx context.Context) error {
	return p.controller.NextTrack(ctx)
}

// RequestPrevious forwards a previous-track command.
func (p *Presenter) RequestPrevious(ctx context.Context) error {
	return p.controller.PreviousTrack(ctx)
}

// Watch delivers the current view, then every later change, until ctx ends, Run stops or fn fails.
// Changes the current view already includes are skipped. fn is never called after Watch returns.
func (p *Presenter) Watch(ctx context.Context, fn WatchFunc) error {
	stream := &watchStream{fn: fn, errCh: make(chan error, 1)}
	id := p.notifications.SubscribeWithInitial(stream, p.controller.Snapshot)
	defer stream.close()
	defer p.notifications.Unsubscribe(id)

	select {
	case <-ctx.Done():
		return nil
	case <-p.done:
		return nil
	case err := <-stream.errCh:
		return err
	}
}

// watchStream adapts a WatchFunc to notification.Stream.
type watchStream struct {
	fn    WatchFunc
	errCh chan error

	mu       sync.Mutex
	closed   bool
	revision uint64 // of the newest snapshot delivered
}

func (s *watchStream) Send(n notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	// Events queued before the initial state was taken arrive after it.
	if n.Event != notification.EventInitialState && n.Snapshot.Revision <= s.revision {
		zlog.Debug().Msgf("presenter: skipping outdated %s: revision=%d current=%d", n.Event, n.Snapshot.Revision, s.revision)
		return nil
	}
	s.revision = n.Snapshot.Revision

	err := s.fn(n.SequenceNo, n.Event, NewView(n.Snapshot))
	if err != nil {
		select {
		case s.errCh <- err:
		default:
		}
	}
	return err
}

// close waits for an in-flight Send and disables later ones.
func (s *watchStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
