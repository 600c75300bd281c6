package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/abplayer/internal/app/engine"
)

// fakeMpv answers IPC commands the way an idle mpv does.
type fakeMpv struct {
	t        *testing.T
	listener net.Listener

	mu       sync.Mutex
	conn     net.Conn
	commands [][]any
}

func newFakeMpv(t *testing.T) (*fakeMpv, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "mpv.sock")
	l, err := net.Listen("unix", path)
	require.NoError(t, err)

	f := &fakeMpv{t: t, listener: l}
	go f.serve()
	t.Cleanup(func() { _ = l.Close() })
	return f, path
}

// serve handles one client connection at a time until the listener closes.
func (f *fakeMpv) serve() {
	for {
		conn, err := f.listener.Accept()
		if err != nil {
			return
		}
		f.mu.Lock()
		f.conn = conn
		f.mu.Unlock()

		f.handle(conn)
	}
}

// disconnect closes the client connection the way a crashing mpv does.
func (f *fakeMpv) disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.conn.Close()
}

func (f *fakeMpv) handle(conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		f.mu.Lock()
		f.commands = append(f.commands, req.Command)
		f.mu.Unlock()

		f.write(map[string]any{"request_id": req.RequestID, "error": "success"})

		if len(req.Command) >= 2 && req.Command[0] == "loadfile" {
			uri, _ := req.Command[1].(string)
			if strings.Contains(uri, "missing") {
				f.write(map[string]any{"event": "end-file", "reason": "error", "file_error": "loading failed"})
			} else if !strings.Contains(uri, "hang") {
				f.write(map[string]any{"event": "file-loaded"})
			}
		}
	}
}

func (f *fakeMpv) write(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		f.t.Errorf("marshal fake reply: %v", err)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	_, _ = f.conn.Write(append(data, '\n'))
}

func (f *fakeMpv) names() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	names := make([]string, len(f.commands))
	for i, c := range f.commands {
		names[i] = c[0].(string)
	}
	return names
}

func (f *fakeMpv) last() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commands[len(f.commands)-1]
}

func newTestEngine(t *testing.T) (*Engine, *fakeMpv) {
	t.Helper()

	f, path := newFakeMpv(t)
	e, err := New(map[string]any{
		"socket_path":        path,
		"start_process":      false,
		"connect_timeout_ms": 1000,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	require.NoError(t, e.Configure(context.Background(), engine.DefaultOptions()))
	return e, f
}

func TestNew_Settings(t *testing.T) {
	e, err := New(nil)
	require.NoError(t, err)
	assert.Equal(t, "mpv", e.settings.Binary)
	assert.Equal(t, "/tmp/abplayer-mpv.sock", e.settings.SocketPath)
	require.NotNil(t, e.settings.StartProcess)
	assert.True(t, *e.settings.StartProcess)
	assert.Equal(t, 3000, e.settings.ConnectTimeoutMs)

	_, err = New(map[string]any{"connect_timeout_ms": 1})
	assert.Error(t, err)

	_, err = New(map[string]any{"binary": 42})
	assert.Error(t, err)
}

func TestEngine_NotConnected(t *testing.T) {
	e, err := New(map[string]any{"start_process": false})
	require.NoError(t, err)

	_, err = e.Load(context.Background(), engine.Source{URI: "a.mp3"}, engine.InitialStatus{}, nil)
	assert.True(t, errors.Is(err, engine.ErrLoad))
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestEngine_ConfigureConnectFailure(t *testing.T) {
	e, err := New(map[string]any{
		"socket_path":        filepath.Join(t.TempDir(), "absent.sock"),
		"start_process":      false,
		"connect_timeout_ms": 100,
	})
	require.NoError(t, err)

	err = e.Configure(context.Background(), engine.DefaultOptions())
	assert.True(t, errors.Is(err, engine.ErrConfiguration))
}

func TestEngine_Configure(t *testing.T) {
	_, f := newTestEngine(t)

	names := f.names()
	assert.Equal(t, "set_property", names[0])
	assert.ElementsMatch(t, []string{"set_property", "observe_property", "observe_property"}, names)
}

func TestEngine_LoadPlayPauseUnload(t *testing.T) {
	ctx := context.Background()
	e, f := newTestEngine(t)

	h, err := e.Load(ctx, engine.Source{URI: "https://example.com/01.mp3"}, engine.InitialStatus{ShouldPlay: false, Volume: 0.5}, nil)
	require.NoError(t, err)
	assert.False(t, h.IsZero())

	names := f.names()
	assert.Equal(t, []string{"set_property", "set_property", "loadfile"}, names[len(names)-3:])
	assert.Equal(t, []any{"loadfile", "https://example.com/01.mp3", "replace"}, f.last())

	require.NoError(t, e.Play(ctx, h))
	assert.Equal(t, []any{"set_property", "pause", false}, f.last())
	require.NoError(t, e.Pause(ctx, h))
	assert.Equal(t, []any{"set_property", "pause", true}, f.last())

	require.NoError(t, e.Unload(ctx, h))
	assert.Equal(t, []any{"stop"}, f.last())

	err = e.Unload(ctx, h)
	assert.True(t, errors.Is(err, engine.ErrUnload))
	err = e.Play(ctx, h)
	assert.True(t, errors.Is(err, engine.ErrPlayback))
}

func TestEngine_LoadWhileLoaded(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.Load(ctx, engine.Source{URI: "a.mp3"}, engine.InitialStatus{Volume: 1}, nil)
	require.NoError(t, err)

	_, err = e.Load(ctx, engine.Source{URI: "b.mp3"}, engine.InitialStatus{Volume: 1}, nil)
	assert.True(t, errors.Is(err, engine.ErrLoad))
}

func TestEngine_LoadError(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)

	_, err := e.Load(ctx, engine.Source{URI: "missing.mp3"}, engine.InitialStatus{Volume: 1}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrLoad))
	assert.Contains(t, err.Error(), "loading failed")

	// The failed load does not block the next one.
	_, err = e.Load(ctx, engine.Source{URI: "a.mp3"}, engine.InitialStatus{Volume: 1}, nil)
	assert.NoError(t, err)
}

func TestEngine_LoadTimeout(t *testing.T) {
	e, f := newTestEngine(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Load(ctx, engine.Source{URI: "hang.mp3"}, engine.InitialStatus{Volume: 1}, nil)
	assert.True(t, errors.Is(err, engine.ErrLoad))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, []any{"stop"}, f.last())
}

func TestEngine_StatusEvents(t *testing.T) {
	ctx := context.Background()
	e, f := newTestEngine(t)

	statuses := make(chan engine.Status, 8)
	h, err := e.Load(ctx, engine.Source{URI: "a.mp3"}, engine.InitialStatus{ShouldPlay: true, Volume: 1}, func(s engine.Status) {
		statuses <- s
	})
	require.NoError(t, err)

	f.write(map[string]any{"event": "property-change", "id": 1, "name": "paused-for-cache", "data": true})

	select {
	case s := <-statuses:
		assert.True(t, s.IsBuffering)
		assert.True(t, s.IsLoaded)
		assert.True(t, s.IsPlaying)
	case <-time.After(time.Second):
		t.Fatal("no status delivered")
	}

	f.write(map[string]any{"event": "property-change", "id": 2, "name": "pause", "data": true})
	select {
	case s := <-statuses:
		assert.True(t, s.IsBuffering)
		assert.False(t, s.IsPlaying)
	case <-time.After(time.Second):
		t.Fatal("no status delivered")
	}

	f.write(map[string]any{"event": "end-file", "reason": "eof"})
	select {
	case s := <-statuses:
		assert.True(t, s.DidJustFinish)
	case <-time.After(time.Second):
		t.Fatal("no status delivered")
	}

	// Events after unload are not attributed to the released handle.
	require.NoError(t, e.Unload(ctx, h))
	f.write(map[string]any{"event": "property-change", "id": 1, "name": "paused-for-cache", "data": false})
	select {
	case s := <-statuses:
		t.Fatalf("unexpected status after unload: %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngine_Reconnect(t *testing.T) {
	ctx := context.Background()
	e, f := newTestEngine(t)

	statuses := make(chan engine.Status, 8)
	h, err := e.Load(ctx, engine.Source{URI: "a.mp3"}, engine.InitialStatus{Volume: 1}, func(s engine.Status) {
		statuses <- s
	})
	require.NoError(t, err)

	f.disconnect()
	require.Eventually(t, func() bool {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.conn == nil
	}, time.Second, time.Millisecond)

	// The file went away with the connection.
	assert.True(t, errors.Is(e.Play(ctx, h), engine.ErrPlayback))
	assert.True(t, errors.Is(e.Unload(ctx, h), engine.ErrUnload))
	_, err = e.Load(ctx, engine.Source{URI: "b.mp3"}, engine.InitialStatus{Volume: 1}, nil)
	assert.True(t, errors.Is(err, ErrNotConnected))

	require.NoError(t, e.Configure(ctx, engine.DefaultOptions()))
	h2, err := e.Load(ctx, engine.Source{URI: "b.mp3"}, engine.InitialStatus{Volume: 1}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, h, h2)
	assert.Equal(t, []any{"loadfile", "b.mp3", "replace"}, f.last())
	require.NoError(t, e.Play(ctx, h2))
	assert.Empty(t, statuses)
}
