// Package mpv implements engine.Engine on top of an idle mpv process
// controlled through its JSON IPC socket.
//
// mpv plays one file at a time, which matches the single-resource model of the controller:
// a Handle names the file most recently loaded and becomes invalid once it is stopped.
package mpv

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/abplayer/internal/app/engine"
)

const (
	socketCheckInterval = 100 * time.Millisecond
	maxLineSize         = 1024 * 1024

	observeIDPausedForCache = 1
	observeIDPause          = 2

	propPausedForCache = "paused-for-cache"
	propPause          = "pause"
	propVolume         = "volume"
	propAudioExclusive = "audio-exclusive"

	eventFileLoaded     = "file-loaded"
	eventEndFile        = "end-file"
	eventPropertyChange = "property-change"

	endReasonError = "error"
	endReasonEOF   = "eof"
)

// ErrNotConnected is returned when a command is issued before Configure.
var ErrNotConnected = errors.New("mpv: not connected")

// Settings holds mpv engine settings decoded from config.
type Settings struct {
	Binary           string   `mapstructure:"binary" default:"mpv" validate:"required"`
	SocketPath       string   `mapstructure:"socket_path" default:"/tmp/abplayer-mpv.sock" validate:"required"`
	StartProcess     *bool    `mapstructure:"start_process" default:"true"`
	ConnectTimeoutMs int      `mapstructure:"connect_timeout_ms" default:"3000" validate:"gte=100,lte=60000"`
	ExtraArgs        []string `mapstructure:"extra_args"`
}

// request is one IPC command.
type request struct {
	Command   []any `json:"command"`
	RequestID int   `json:"request_id"`
}

// message is anything mpv writes to the socket: a reply or an event.
type message struct {
	RequestID int             `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
	Event     string          `json:"event"`
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Reason    string          `json:"reason"`
	FileError string          `json:"file_error"`
}

// resource is the file currently owned by a handle.
type resource struct {
	handle   engine.Handle
	uri      string
	onStatus engine.StatusFunc
	loaded   bool
	loadedCh chan error
	paused   bool
	buffered bool
}

// signalLoaded reports the load outcome once; later outcomes are dropped.
func (r *resource) signalLoaded(err error) {
	select {
	case r.loadedCh <- err:
	default:
	}
}

// Engine drives an mpv process.
type Engine struct {
	settings Settings

	cmd  *exec.Cmd
	conn net.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int
	pending map[int]chan message
	current *resource
	closed  chan struct{} // closed when conn is lost; replaced on every connect
}

var _ engine.Engine = (*Engine)(nil)

// New creates an mpv engine from raw config settings. No process is started until Configure.
func New(settings map[string]any) (*Engine, error) {
	var s Settings
	if err := mapstructure.Decode(settings, &s); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&s); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	zlog.Debug().Msgf("mpv: settings: %+v", s)
	if err := validator.New().Struct(s); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	return &Engine{
		settings: s,
		pending:  make(map[int]chan message),
		closed:   make(chan struct{}),
	}, nil
}

// Configure connects to mpv (starting it if configured) and applies the playback policy.
// Mobile-only options have no mpv equivalent and are ignored.
func (e *Engine) Configure(ctx context.Context, opts engine.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	if err := e.connect(ctx); err != nil {
		return errors.Mark(err, engine.ErrConfiguration)
	}

	if _, err := e.request(ctx, "set_property", propAudioExclusive, opts.Exclusive()); err != nil {
		return errors.Mark(errors.Wrap(err, "set audio-exclusive"), engine.ErrConfiguration)
	}
	for id, prop := range map[int]string{observeIDPausedForCache: propPausedForCache, observeIDPause: propPause} {
		if _, err := e.request(ctx, "observe_property", id, prop); err != nil {
			return errors.Mark(errors.Wrapf(err, "observe %s", prop), engine.ErrConfiguration)
		}
	}

	zlog.Debug().Msgf("mpv: configured: exclusive=%v background=%v silent_mode=%v earpiece=%v (mobile options ignored)",
		opts.Exclusive(), opts.StaysActiveInBackground, opts.PlaysInSilentModeIOS, opts.PlayThroughEarpieceAndroid)
	return nil
}

// Load replaces mpv's file with src and waits until mpv reports it loaded.
func (e *Engine) Load(ctx context.Context, src engine.Source, initial engine.InitialStatus, onStatus engine.StatusFunc) (engine.Handle, error) {
	e.mu.Lock()
	if e.current != nil {
		h := e.current.handle
		e.mu.Unlock()
		return "", errors.Mark(errors.Newf("resource %s still loaded", h), engine.ErrLoad)
	}
	r := &resource{
		handle:   engine.Handle(uuid.New().String()),
		uri:      src.URI,
		onStatus: onStatus,
		loadedCh: make(chan error, 1),
		paused:   !initial.ShouldPlay,
	}
	e.current = r
	closed := e.closed
	e.mu.Unlock()

	fail := func(err error) (engine.Handle, error) {
		e.mu.Lock()
		if e.current == r {
			e.current = nil
		}
		e.mu.Unlock()
		return "", errors.Mark(errors.Wrapf(err, "load %s", src.URI), engine.ErrLoad)
	}

	if _, err := e.request(ctx, "set_property", propVolume, initial.Volume*100); err != nil {
		return fail(err)
	}
	if _, err := e.request(ctx, "set_property", propPause, !initial.ShouldPlay); err != nil {
		return fail(err)
	}
	if _, err := e.request(ctx, "loadfile", src.URI, "replace"); err != nil {
		return fail(err)
	}

	select {
	case err := <-r.loadedCh:
		if err != nil {
			return fail(err)
		}
	case <-ctx.Done():
		// Abandon the half-loaded file so the next load starts clean.
		_, _ = e.request(context.Background(), "stop")
		return fail(ctx.Err())
	case <-closed:
		return fail(ErrNotConnected)
	}

	zlog.Debug().Msgf("mpv: loaded: handle=%s uri=%s", r.handle, src.URI)
	return r.handle, nil
}

// Unload stops playback of h.
func (e *Engine) Unload(ctx context.Context, h engine.Handle) error {
	e.mu.Lock()
	if e.current == nil || e.current.handle != h {
		e.mu.Unlock()
		return errors.Mark(errors.Newf("handle %s already released", h), engine.ErrUnload)
	}
	e.current = nil
	e.mu.Unlock()

	if _, err := e.request(ctx, "stop"); err != nil {
		return errors.Mark(errors.Wrapf(err, "unload %s", h), engine.ErrUnload)
	}
	return nil
}

// Play resumes h.
func (e *Engine) Play(ctx context.Context, h engine.Handle) error {
	return e.setPause(ctx, h, false)
}

// Pause pauses h.
func (e *Engine) Pause(ctx context.Context, h engine.Handle) error {
	return e.setPause(ctx, h, true)
}

func (e *Engine) setPause(ctx context.Context, h engine.Handle, paused bool) error {
	e.mu.Lock()
	live := e.current != nil && e.current.handle == h && e.current.loaded
	e.mu.Unlock()
	if !live {
		return errors.Mark(errors.Newf("handle %s is not loaded", h), engine.ErrPlayback)
	}

	if _, err := e.request(ctx, "set_property", propPause, paused); err != nil {
		return errors.Mark(errors.Wrapf(err, "set pause=%v", paused), engine.ErrPlayback)
	}
	return nil
}

// Close stops mpv (when this engine started it) and closes the socket.
func (e *Engine) Close() error {
	e.mu.Lock()
	conn, cmd := e.conn, e.cmd
	e.cmd = nil
	e.mu.Unlock()
	if conn == nil {
		return nil
	}

	if cmd != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, _ = e.request(ctx, "quit")
		cancel()
	}

	err := conn.Close()
	if cmd != nil {
		_ = cmd.Wait()
	}
	return err
}

// connect establishes the IPC connection unless one is up.
// After the connection is lost it starts over, including the mpv process.
func (e *Engine) connect(ctx context.Context) error {
	e.mu.Lock()
	connected := e.conn != nil
	e.mu.Unlock()
	if connected {
		return nil
	}

	var cmd *exec.Cmd
	if e.settings.StartProcess == nil || *e.settings.StartProcess {
		var err error
		if cmd, err = e.startProcess(ctx); err != nil {
			return err
		}
	}

	timeout := time.Duration(e.settings.ConnectTimeoutMs) * time.Millisecond
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := d.DialContext(dialCtx, "unix", e.settings.SocketPath)
	if err != nil {
		if cmd != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
		}
		return errors.Wrap(err, "could not connect to mpv socket")
	}

	closed := make(chan struct{})
	e.mu.Lock()
	e.conn = conn
	e.cmd = cmd
	e.closed = closed
	e.mu.Unlock()

	go e.readLoop(conn, closed)
	zlog.Info().Msgf("mpv: connected: socket=%s", e.settings.SocketPath)
	return nil
}

// startProcess launches mpv in idle mode and waits for its socket to appear.
func (e *Engine) startProcess(ctx context.Context) (*exec.Cmd, error) {
	_ = os.Remove(e.settings.SocketPath)

	args := []string{
		"--idle=yes",
		"--input-ipc-server=" + e.settings.SocketPath,
		"--no-video",
		"--no-terminal",
	}
	args = append(args, e.settings.ExtraArgs...)

	zlog.Info().Msgf("mpv: starting process: binary=%s", e.settings.Binary)
	cmd := exec.Command(e.settings.Binary, args...)
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "could not start mpv process")
	}

	deadline := time.Now().Add(time.Duration(e.settings.ConnectTimeoutMs) * time.Millisecond)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(e.settings.SocketPath); err == nil {
			return cmd, nil
		}
		select {
		case <-ctx.Done():
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return nil, ctx.Err()
		case <-time.After(socketCheckInterval):
		}
	}

	_ = cmd.Process.Kill()
	_ = cmd.Wait()
	return nil, errors.Newf("mpv socket did not appear at %s", e.settings.SocketPath)
}

// request sends one command and waits for its reply.
func (e *Engine) request(ctx context.Context, args ...any) (message, error) {
	e.mu.Lock()
	conn := e.conn
	if conn == nil {
		e.mu.Unlock()
		return message{}, ErrNotConnected
	}
	closed := e.closed
	e.nextID++
	id := e.nextID
	replyCh := make(chan message, 1)
	e.pending[id] = replyCh
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
	}()

	data, err := json.Marshal(request{Command: args, RequestID: id})
	if err != nil {
		return message{}, errors.Wrap(err, "encode mpv command")
	}
	data = append(data, '\n')

	e.writeMu.Lock()
	_, err = conn.Write(data)
	e.writeMu.Unlock()
	if err != nil {
		return message{}, errors.Wrap(err, "write mpv command")
	}

	select {
	case reply := <-replyCh:
		if reply.Error != "success" {
			return reply, errors.Newf("mpv %v: %s", args[0], reply.Error)
		}
		return reply, nil
	case <-ctx.Done():
		return message{}, ctx.Err()
	case <-closed:
		return message{}, ErrNotConnected
	}
}

// readLoop dispatches replies to waiting requests and events to the current resource.
// When conn ends it forgets the connection so the next Configure reconnects.
func (e *Engine) readLoop(conn net.Conn, closed chan struct{}) {
	defer e.disconnected(conn, closed)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		var msg message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			zlog.Warn().Err(err).Msgf("mpv: could not parse line: %s", scanner.Text())
			continue
		}

		if msg.Event == "" {
			e.mu.Lock()
			replyCh, ok := e.pending[msg.RequestID]
			e.mu.Unlock()
			if ok {
				replyCh <- msg
			}
			continue
		}

		e.handleEvent(msg)
	}

	if err := scanner.Err(); err != nil {
		zlog.Error().Err(err).Msg("mpv: error reading from socket")
	}
	zlog.Info().Msg("mpv: connection closed")
}

// disconnected drops conn and whatever was loaded over it, and reaps an mpv process it started.
func (e *Engine) disconnected(conn net.Conn, closed chan struct{}) {
	e.mu.Lock()
	var cmd *exec.Cmd
	if e.conn == conn {
		e.conn = nil
		e.current = nil
		cmd, e.cmd = e.cmd, nil
	}
	e.mu.Unlock()

	close(closed)
	_ = conn.Close()
	if cmd != nil {
		zlog.Warn().Msg("mpv: process lost, it will be restarted by the next Configure")
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

func (e *Engine) handleEvent(msg message) {
	e.mu.Lock()
	r := e.current
	if r == nil {
		e.mu.Unlock()
		return
	}

	var status *engine.Status
	switch msg.Event {
	case eventFileLoaded:
		if !r.loaded {
			r.loaded = true
			r.signalLoaded(nil)
		}
	case eventEndFile:
		switch {
		case !r.loaded && msg.Reason == endReasonError:
			r.signalLoaded(errors.Newf("mpv could not open file: %s", msg.FileError))
		case r.loaded && msg.Reason == endReasonEOF:
			status = &engine.Status{IsLoaded: true, DidJustFinish: true}
		}
	case eventPropertyChange:
		var value bool
		if err := json.Unmarshal(msg.Data, &value); err == nil {
			switch msg.Name {
			case propPausedForCache:
				r.buffered = value
			case propPause:
				r.paused = value
			}
			status = &engine.Status{IsLoaded: r.loaded, IsPlaying: !r.paused, IsBuffering: r.buffered}
		}
	}
	onStatus := r.onStatus
	e.mu.Unlock()

	if status != nil && onStatus != nil {
		onStatus(*status)
	}
}
