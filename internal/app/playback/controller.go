package playback

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/abplayer/internal/app/engine"
	"github.com/osa030/abplayer/internal/domain/playlist"
)

// Errors
var (
	ErrNoResource = errors.New("no resource loaded")
	ErrClosed     = errors.New("controller closed")
)

const (
	defaultEventBuffer  = 16
	defaultStatusBuffer = 32

	// Upper bound for the unload issued by Shutdown.
	shutdownUnloadTimeout = 5 * time.Second
)

// Config holds controller configuration.
type Config struct {
	Volume         float64             // Applied to every load, 0.0 - 1.0
	LoadTimeout    time.Duration       // Upper bound for one engine load, 0 disables
	PreviousPolicy playlist.BackPolicy // How PreviousTrack steps back
	EventBuffer    int                 // Capacity of the event channel
	Options        engine.Options      // Passed to engine.Configure by Initialize
}

type commandKind int

const (
	cmdInitialize commandKind = iota
	cmdTogglePlayPause
	cmdNext
	cmdPrevious
	cmdShutdown
)

func (k commandKind) String() string {
	switch k {
	case cmdInitialize:
		return "initialize"
	case cmdTogglePlayPause:
		return "toggle_play_pause"
	case cmdNext:
		return "next"
	case cmdPrevious:
		return "previous"
	case cmdShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

type command struct {
	ctx   context.Context
	kind  commandKind
	reply chan error
}

// statusUpdate is an engine status report tagged with the load generation that subscribed to it.
type statusUpdate struct {
	generation uint64
	status     engine.Status
}

// Controller owns the playback state and mediates every engine interaction.
//
// All state transitions run on one goroutine, one command at a time. Engine status reports
// are queued to the same goroutine and dropped when they belong to an earlier load.
type Controller struct {
	engine   engine.Engine
	playlist *playlist.Playlist
	config   Config

	commands chan command
	statuses chan statusUpdate
	eventCh  chan Event
	done     chan struct{}

	mu       sync.RWMutex
	snapshot Snapshot
}

// NewController creates a controller and starts its goroutine.
// The controller starts Empty; call Initialize to configure the engine and load the first track.
func NewController(eng engine.Engine, pl *playlist.Playlist, config Config) *Controller {
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaultEventBuffer
	}
	if config.PreviousPolicy == "" {
		config.PreviousPolicy = playlist.BackWrap
	}

	c := &Controller{
		engine:   eng,
		playlist: pl,
		config:   config,
		commands: make(chan command),
		statuses: make(chan statusUpdate, defaultStatusBuffer),
		eventCh:  make(chan Event, config.EventBuffer),
		done:     make(chan struct{}),
	}

	st := newPlaybackState(config.Volume)
	c.publish(st)
	go c.run(st)

	return c
}

// Events returns the event channel. It is closed after Shutdown.
func (c *Controller) Events() <-chan Event {
	return c.eventCh
}

// Done is closed when the controller goroutine has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Snapshot returns the state after the last completed transition.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// Initialize configures the engine and loads the current track.
// Errors are logged and returned; the controller stays usable in the Empty state.
// When a resource is already loaded it does nothing.
func (c *Controller) Initialize(ctx context.Context) error {
	return c.dispatch(ctx, cmdInitialize)
}

// TogglePlayPause pauses when playing and plays otherwise.
// It fails with ErrNoResource when nothing is loaded.
func (c *Controller) TogglePlayPause(ctx context.Context) error {
	return c.dispatch(ctx, cmdTogglePlayPause)
}

// NextTrack unloads the current resource and loads the next track, wrapping to the first.
// It does nothing when nothing is loaded.
func (c *Controller) NextTrack(ctx context.Context) error {
	return c.dispatch(ctx, cmdNext)
}

// PreviousTrack unloads the current resource and loads the previous track per the
// configured back policy. It does nothing when nothing is loaded.
func (c *Controller) PreviousTrack(ctx context.Context) error {
	return c.dispatch(ctx, cmdPrevious)
}

// Shutdown unloads any loaded resource and stops the controller.
// It runs even when ctx is already done; the unload is bounded by its own timeout instead.
// Calling it again returns ErrClosed.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.dispatch(ctx, cmdShutdown)
}

// dispatch hands a command to the controller goroutine and waits for its result.
// A command that was accepted runs to completion even if ctx is cancelled afterwards.
func (c *Controller) dispatch(ctx context.Context, kind commandKind) error {
	cmd := command{ctx: ctx, kind: kind, reply: make(chan error, 1)}

	cancelled := ctx.Done()
	if kind == cmdShutdown {
		cancelled = nil
	} else if err := ctx.Err(); err != nil {
		return err
	}

	select {
	case c.commands <- cmd:
	case <-c.done:
		return ErrClosed
	case <-cancelled:
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-cancelled:
		return ctx.Err()
	}
}

// run is the controller goroutine. st is owned exclusively by it.
func (c *Controller) run(st *playbackState) {
	defer close(c.done)
	defer close(c.eventCh)

	for {
		select {
		case cmd := <-c.commands:
			err := c.handle(cmd.ctx, st, cmd.kind)
			cmd.reply <- err
			if cmd.kind == cmdShutdown {
				return
			}
		case u := <-c.statuses:
			c.applyStatus(st, u)
		}
	}
}

func (c *Controller) handle(ctx context.Context, st *playbackState, kind commandKind) error {
	zlog.Debug().Msgf("playback: command: %s state=%s index=%d", kind, st.state(), st.currentIndex)

	switch kind {
	case cmdInitialize:
		return c.initialize(ctx, st)
	case cmdTogglePlayPause:
		return c.togglePlayPause(ctx, st)
	case cmdNext:
		return c.switchTrack(ctx, st, c.playlist.NextIndex(st.currentIndex))
	case cmdPrevious:
		return c.switchTrack(ctx, st, c.playlist.PrevIndex(st.currentIndex, c.config.PreviousPolicy))
	case cmdShutdown:
		return c.shutdown(ctx, st)
	default:
		return errors.Newf("unknown command: %d", kind)
	}
}

func (c *Controller) initialize(ctx context.Context, st *playbackState) error {
	if !st.loaded.IsZero() {
		return nil
	}

	if err := c.engine.Configure(ctx, c.config.Options); err != nil {
		zlog.Error().Err(err).Msg("playback: engine configuration failed")
		return errors.Wrap(err, "configure engine")
	}

	return c.loadCurrent(ctx, st)
}

// loadCurrent asks the engine to load the track at st.currentIndex.
// It never unloads; callers release the previous resource first.
func (c *Controller) loadCurrent(ctx context.Context, st *playbackState) error {
	t, ok := c.playlist.At(st.currentIndex)
	if !ok {
		return errors.Newf("index %d out of range", st.currentIndex)
	}

	st.generation++
	generation := st.generation
	st.loading = true
	st.isBuffering = false
	c.publish(st)

	source := engine.Source{URI: t.URI}
	initial := engine.InitialStatus{ShouldPlay: st.isPlaying, Volume: st.volume}

	loadCtx := ctx
	if c.config.LoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, c.config.LoadTimeout)
		defer cancel()
	}

	zlog.Debug().Msgf("playback: loading: index=%d generation=%d track=%s should_play=%v",
		st.currentIndex, generation, t, initial.ShouldPlay)

	h, err := c.engine.Load(loadCtx, source, initial, c.subscriber(generation))
	st.loading = false
	if err != nil {
		zlog.Error().Err(err).Msgf("playback: failed to load track: index=%d uri=%s", st.currentIndex, t.URI)
		c.sendEvent(st, EventLoadFailed)
		return errors.Wrapf(err, "load track %d", st.currentIndex)
	}

	st.loaded = h
	zlog.Info().Msgf("playback: loaded: index=%d track=%s handle=%s", st.currentIndex, t, h)
	c.sendEvent(st, EventTrackLoaded)
	return nil
}

// subscriber returns the status callback for one load generation.
func (c *Controller) subscriber(generation uint64) engine.StatusFunc {
	return func(status engine.Status) {
		c.postStatus(statusUpdate{generation: generation, status: status})
	}
}

// postStatus queues a report for the controller goroutine without blocking the engine.
// When the queue is full the oldest report makes room, so the latest one always survives.
func (c *Controller) postStatus(u statusUpdate) {
	for {
		select {
		case c.statuses <- u:
			return
		case <-c.done:
			return
		default:
		}

		select {
		case old := <-c.statuses:
			zlog.Warn().Msgf("playback: status queue full, dropping oldest report: generation=%d", old.generation)
		default:
		}
	}
}

// applyStatus applies a buffering report if it belongs to the loaded resource.
func (c *Controller) applyStatus(st *playbackState, u statusUpdate) {
	if u.generation != st.generation || st.loaded.IsZero() {
		zlog.Debug().Msgf("playback: discarding stale status: generation=%d current=%d", u.generation, st.generation)
		return
	}

	if st.isBuffering == u.status.IsBuffering {
		return
	}
	st.isBuffering = u.status.IsBuffering
	c.sendEvent(st, EventBufferingChanged)
}

func (c *Controller) togglePlayPause(ctx context.Context, st *playbackState) error {
	if st.loaded.IsZero() {
		return ErrNoResource
	}

	var err error
	if st.isPlaying {
		err = c.engine.Pause(ctx, st.loaded)
	} else {
		err = c.engine.Play(ctx, st.loaded)
	}
	if err != nil {
		zlog.Error().Err(err).Msgf("playback: transport command failed: playing=%v handle=%s", st.isPlaying, st.loaded)
		return errors.Wrap(err, "toggle play/pause")
	}

	st.isPlaying = !st.isPlaying
	c.sendEvent(st, EventStateChanged)
	return nil
}

// switchTrack releases the loaded resource, moves to index and loads it.
// isPlaying carries over to the new load.
func (c *Controller) switchTrack(ctx context.Context, st *playbackState, index int) error {
	if st.loaded.IsZero() {
		return nil
	}

	c.release(ctx, st)
	st.currentIndex = index
	c.sendEvent(st, EventTrackChanged)

	return c.loadCurrent(ctx, st)
}

// release unloads the loaded resource. The handle is dropped even if the engine reports an error.
func (c *Controller) release(ctx context.Context, st *playbackState) {
	h := st.loaded
	st.loaded = ""
	st.isBuffering = false

	if err := c.engine.Unload(ctx, h); err != nil {
		if errors.Is(err, engine.ErrUnload) {
			zlog.Warn().Err(err).Msgf("playback: unload reported an error, treating as released: handle=%s", h)
		} else {
			zlog.Error().Err(err).Msgf("playback: unload failed: handle=%s", h)
		}
	}
}

func (c *Controller) shutdown(ctx context.Context, st *playbackState) error {
	if !st.loaded.IsZero() {
		unloadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownUnloadTimeout)
		c.release(unloadCtx, st)
		cancel()
	}
	// Reports still in flight for the released resource are stale from here on.
	st.generation++
	c.sendEvent(st, EventShutdown)
	zlog.Info().Msg("playback: controller stopped")
	return nil
}

// publish stores a snapshot of st for readers on other goroutines.
// Every call stamps a higher Revision.
func (c *Controller) publish(st *playbackState) Snapshot {
	st.revision++
	t, _ := c.playlist.At(st.currentIndex)
	snap := Snapshot{
		Index:       st.currentIndex,
		Total:       c.playlist.Len(),
		Track:       t,
		State:       st.state(),
		IsPlaying:   st.isPlaying,
		IsBuffering: st.isBuffering,
		Loaded:      !st.loaded.IsZero(),
		Volume:      st.volume,
		Generation:  st.generation,
		Revision:    st.revision,
	}

	c.mu.Lock()
	c.snapshot = snap
	c.mu.Unlock()

	return snap
}

// sendEvent publishes st and emits an event without blocking.
func (c *Controller) sendEvent(st *playbackState, t EventType) {
	snap := c.publish(st)
	select {
	case c.eventCh <- Event{Type: t, Snapshot: snap}:
	default:
		zlog.Debug().Msgf("playback: event channel full, dropping %s", t)
	}
}
