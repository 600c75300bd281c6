package main

import (
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiconnect "github.com/osa030/abplayer/internal/api/connect"
	"github.com/osa030/abplayer/internal/app/engine"
	"github.com/osa030/abplayer/internal/app/notification"
	"github.com/osa030/abplayer/internal/app/playback"
	"github.com/osa030/abplayer/internal/app/presenter"
	"github.com/osa030/abplayer/internal/domain/playlist"
	"github.com/osa030/abplayer/internal/domain/track"
	"github.com/osa030/abplayer/internal/infra/config"
	"github.com/osa030/abplayer/internal/infra/memengine"
)

func TestStopPlayer_QuitWithActiveWatcher(t *testing.T) {
	pl, err := playlist.New([]track.Track{
		{Title: "Chapter 1", Author: "Hugh Howey", URI: "https://example.com/01.mp3"},
		{Title: "Chapter 2", Author: "Hugh Howey", URI: "https://example.com/02.mp3"},
	})
	require.NoError(t, err)

	eng := memengine.New()
	c := playback.NewController(eng, pl, playback.Config{Volume: 1, Options: engine.DefaultOptions()})
	n := notification.NewManager()
	defer n.Close()
	p := presenter.New(c, n)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	require.NoError(t, c.Initialize(ctx))

	server := newServer(&config.Config{}, p)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(l) }()

	watchCtx, stopWatch := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopWatch()
	client := apiconnect.NewClient(http.DefaultClient, "http://"+l.Addr().String(), "")
	watchDone := make(chan error, 1)
	go func() {
		watchDone <- client.Watch(watchCtx, func(uint64, string, presenter.View) error { return nil })
	}()
	require.Eventually(t, func() bool { return n.SubscriberCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	// The user quits from the console; no signal arrives.
	newConsole(strings.NewReader("q\n"), &syncBuffer{}, p).Run(ctx)

	start := time.Now()
	stopPlayer(cancel, c, p, server)
	assert.Less(t, time.Since(start), shutdownTimeout)

	assert.Empty(t, eng.LiveHandles())
	assert.Equal(t, memengine.OpUnload, eng.Ops()[len(eng.Ops())-1])
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("controller still running")
	}
	assert.ErrorIs(t, <-serveErr, http.ErrServerClosed)

	select {
	case <-watchDone:
	case <-time.After(time.Second):
		t.Fatal("watch stream still open")
	}
}

func TestStopPlayer_WithoutServer(t *testing.T) {
	pl, err := playlist.New([]track.Track{{Title: "Chapter 1", URI: "https://example.com/01.mp3"}})
	require.NoError(t, err)

	eng := memengine.New()
	c := playback.NewController(eng, pl, playback.Config{Volume: 1, Options: engine.DefaultOptions()})
	p := presenter.New(c, notification.NewManager())

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	require.NoError(t, c.Initialize(ctx))

	stopPlayer(cancel, c, p, nil)
	assert.Empty(t, eng.LiveHandles())
	<-p.Done()

	// A second stop finds the controller closed.
	stopPlayer(cancel, c, p, nil)
	assert.ErrorIs(t, c.Shutdown(context.Background()), playback.ErrClosed)
}
