package presenter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/abplayer/internal/app/engine"
	"github.com/osa030/abplayer/internal/app/notification"
	"github.com/osa030/abplayer/internal/app/playback"
	"github.com/osa030/abplayer/internal/domain/playlist"
	"github.com/osa030/abplayer/internal/domain/track"
	"github.com/osa030/abplayer/internal/infra/memengine"
)

func newTestPresenter(t *testing.T) (*Presenter, *playback.Controller, *memengine.Engine) {
	t.Helper()

	pl, err := playlist.New([]track.Track{
		{Title: "Chapter 1", Author: "Hugh Howey", URI: "https://example.com/01.mp3"},
		{Title: "Chapter 2", Author: "Hugh Howey", URI: "https://example.com/02.mp3"},
	})
	require.NoError(t, err)

	eng := memengine.New()
	c := playback.NewController(eng, pl, playback.Config{Volume: 1, Options: engine.DefaultOptions()})
	p := New(c, notification.NewManager())

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	t.Cleanup(func() {
		_ = c.Shutdown(context.Background())
		cancel()
		<-p.Done()
	})
	return p, c, eng
}

func TestNewView(t *testing.T) {
	snap := playback.Snapshot{
		Index:     1,
		Total:     3,
		Track:     track.Track{Title: "Chapter 2", Author: "Hugh Howey", URI: "x"},
		State:     playback.StatePlaying,
		IsPlaying: true,
		Loaded:    true,
	}

	v := NewView(snap)
	assert.Equal(t, "Chapter 2", v.Title)
	assert.Equal(t, "Hugh Howey", v.Author)
	assert.Equal(t, "playing", v.State)
	assert.True(t, v.IsPlaying)

	snap.Loaded = false
	snap.State = playback.StateEmpty
	v = NewView(snap)
	assert.Empty(t, v.Title)
	assert.Empty(t, v.Author)
	assert.Equal(t, 1, v.Index)
	assert.False(t, v.Loaded)
}

func TestPresenter_Requests(t *testing.T) {
	ctx := context.Background()
	p, c, eng := newTestPresenter(t)

	assert.ErrorIs(t, p.RequestPlayPause(ctx), playback.ErrNoResource)
	assert.Empty(t, p.View().Title)

	require.NoError(t, c.Initialize(ctx))
	assert.Equal(t, "Chapter 1", p.View().Title)

	require.NoError(t, p.RequestPlayPause(ctx))
	assert.True(t, p.View().IsPlaying)

	require.NoError(t, p.RequestNext(ctx))
	assert.Equal(t, "Chapter 2", p.View().Title)

	require.NoError(t, p.RequestPrevious(ctx))
	assert.Equal(t, 0, p.View().Index)
	assert.True(t, p.View().IsPlaying)
	assert.Len(t, eng.LiveHandles(), 1)
}

type watchRecorder struct {
	mu     sync.Mutex
	events []string
	views  []View
}

func (r *watchRecorder) record(seq uint64, event string, v View) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	r.views = append(r.views, v)
	return nil
}

func (r *watchRecorder) snapshot() ([]string, []View) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...), append([]View(nil), r.views...)
}

func TestPresenter_Watch(t *testing.T) {
	ctx := context.Background()
	p, c, _ := newTestPresenter(t)

	rec := &watchRecorder{}
	watchCtx, cancel := context.WithCancel(ctx)
	watchDone := make(chan error, 1)
	go func() { watchDone <- p.Watch(watchCtx, rec.record) }()

	require.Eventually(t, func() bool {
		events, _ := rec.snapshot()
		return len(events) == 1
	}, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return p.notifications.SubscriberCount() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, p.RequestPlayPause(ctx))

	require.Eventually(t, func() bool {
		events, _ := rec.snapshot()
		return len(events) == 3
	}, time.Second, time.Millisecond)

	events, views := rec.snapshot()
	assert.Equal(t, []string{notification.EventInitialState, "track_loaded", "state_changed"}, events)
	assert.False(t, views[0].Loaded)
	assert.True(t, views[2].IsPlaying)

	cancel()
	select {
	case err := <-watchDone:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("watch did not return")
	}
	assert.Equal(t, 0, p.notifications.SubscriberCount())
}

func TestPresenter_WatchCallbackError(t *testing.T) {
	p, _, _ := newTestPresenter(t)

	boom := errors.New("client gone")
	err := p.Watch(context.Background(), func(uint64, string, View) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestPresenter_WatchSkipsOutdatedEvents(t *testing.T) {
	ctx := context.Background()
	pl, err := playlist.New([]track.Track{
		{Title: "Chapter 1", Author: "Hugh Howey", URI: "https://example.com/01.mp3"},
		{Title: "Chapter 2", Author: "Hugh Howey", URI: "https://example.com/02.mp3"},
	})
	require.NoError(t, err)

	c := playback.NewController(memengine.New(), pl, playback.Config{Volume: 1, Options: engine.DefaultOptions()})
	p := New(c, notification.NewManager())
	t.Cleanup(func() { _ = c.Shutdown(context.Background()) })

	// Both events stay queued in the controller until Run starts.
	require.NoError(t, c.Initialize(ctx))
	require.NoError(t, c.TogglePlayPause(ctx))

	rec := &watchRecorder{}
	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = p.Watch(watchCtx, rec.record) }()
	require.Eventually(t, func() bool {
		events, _ := rec.snapshot()
		return len(events) == 1
	}, time.Second, time.Millisecond)

	runCtx, stopRun := context.WithCancel(ctx)
	go p.Run(runCtx)
	t.Cleanup(func() {
		stopRun()
		<-p.Done()
	})

	require.NoError(t, p.RequestNext(ctx))
	require.Eventually(t, func() bool {
		events, _ := rec.snapshot()
		return len(events) >= 3
	}, time.Second, time.Millisecond)

	events, views := rec.snapshot()
	assert.Equal(t, []string{notification.EventInitialState, "track_changed", "track_loaded"}, events)
	assert.True(t, views[0].IsPlaying)
	assert.Equal(t, "Chapter 1", views[0].Title)
	assert.Equal(t, "Chapter 2", views[2].Title)
	assert.True(t, views[2].IsPlaying)
}
