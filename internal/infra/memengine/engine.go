// Package memengine provides an in-memory audio engine.
//
// It produces no sound. It records every call, can be told to fail, and lets callers push
// status reports for any handle it ever issued. It backs dry runs and tests.
package memengine

import (
	"context"
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

// Op names recorded in Call.
const (
	OpConfigure = "configure"
	OpLoad      = "load"
	OpUnload    = "unload"
	OpPlay      = "play"
	OpPause     = "pause"
)

// Settings holds engine settings decoded from config.
type Settings struct {
	// BufferingMs simulates a buffering phase of this length after every load.
	BufferingMs int `mapstructure:"buffering_ms" default:"0" validate:"gte=0,lte=60000"`
}

// Call is one recorded engine call.
type Call struct {
	Op      string
	Handle  engine.Handle
	Source  engine.Source
	Initial engine.InitialStatus
	Options engine.Options
}

type resource struct {
	source   engine.Source
	onStatus engine.StatusFunc
	live     bool
	playing  bool
	volume   float64
}

// Engine is an in-memory engine.Engine.
type Engine struct {
	mu        sync.Mutex
	calls     []Call
	resources map[engine.Handle]*resource
	options   *engine.Options
	buffering time.Duration

	configureErr error
	loadErrs     map[string]error
	playbackErr  error
	onLoad       func(src engine.Source)
}

var _ engine.Engine = (*Engine)(nil)

// New creates an empty in-memory engine.
func New() *Engine {
	return &Engine{
		resources: make(map[engine.Handle]*resource),
		loadErrs:  make(map[string]error),
	}
}

// NewFromSettings creates an engine from raw config settings.
func NewFromSettings(settings map[string]any) (*Engine, error) {
	var s Settings
	if err := mapstructure.Decode(settings, &s); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&s); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(s); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	e := New()
	e.buffering = time.Duration(s.BufferingMs) * time.Millisecond
	return e, nil
}

// Configure records opts after validating them.
func (e *Engine) Configure(ctx context.Context, opts engine.Options) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, Call{Op: OpConfigure, Options: opts})
	if e.configureErr != nil {
		return errors.Mark(e.configureErr, engine.ErrConfiguration)
	}
	if err := opts.Validate(); err != nil {
		return err
	}
	e.options = &opts
	zlog.Debug().Msgf("memengine: configured: exclusive=%v background=%v", opts.Exclusive(), opts.StaysActiveInBackground)
	return nil
}

// Load registers a new live resource for src.
func (e *Engine) Load(ctx context.Context, src engine.Source, initial engine.InitialStatus, onStatus engine.StatusFunc) (engine.Handle, error) {
	e.mu.Lock()
	e.calls = append(e.calls, Call{Op: OpLoad, Source: src, Initial: initial})
	hook := e.onLoad
	loadErr := e.loadErrs[src.URI]
	e.mu.Unlock()

	if hook != nil {
		hook(src)
	}

	if err := ctx.Err(); err != nil {
		return "", errors.Mark(errors.Wrapf(err, "load %s", src.URI), engine.ErrLoad)
	}
	if loadErr != nil {
		return "", errors.Mark(errors.Wrapf(loadErr, "load %s", src.URI), engine.ErrLoad)
	}

	h := engine.Handle(uuid.New().String())

	e.mu.Lock()
	e.resources[h] = &resource{
		source:   src,
		onStatus: onStatus,
		live:     true,
		playing:  initial.ShouldPlay,
		volume:   initial.Volume,
	}
	buffering := e.buffering
	e.mu.Unlock()

	zlog.Debug().Msgf("memengine: loaded: handle=%s uri=%s should_play=%v volume=%.2f", h, src.URI, initial.ShouldPlay, initial.Volume)

	if buffering > 0 {
		go e.simulateBuffering(h, buffering)
	}

	return h, nil
}

// Unload releases h.
func (e *Engine) Unload(ctx context.Context, h engine.Handle) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, Call{Op: OpUnload, Handle: h})
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "unload %s", h)
	}
	r, ok := e.resources[h]
	if !ok || !r.live {
		return errors.Mark(errors.Newf("handle %s already released", h), engine.ErrUnload)
	}
	r.live = false
	r.playing = false
	zlog.Debug().Msgf("memengine: unloaded: handle=%s", h)
	return nil
}

// Play starts playback of h.
func (e *Engine) Play(ctx context.Context, h engine.Handle) error {
	return e.transport(OpPlay, h, true)
}

// Pause pauses playback of h.
func (e *Engine) Pause(ctx context.Context, h engine.Handle) error {
	return e.transport(OpPause, h, false)
}

func (e *Engine) transport(op string, h engine.Handle, playing bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.calls = append(e.calls, Call{Op: op, Handle: h})
	if e.playbackErr != nil {
		return errors.Mark(errors.Wrapf(e.playbackErr, "%s %s", op, h), engine.ErrPlayback)
	}
	r, ok := e.resources[h]
	if !ok || !r.live {
		return errors.Mark(errors.Newf("%s: handle %s is not loaded", op, h), engine.ErrPlayback)
	}
	r.playing = playing
	return nil
}

// Emit delivers status to the subscriber registered when h was loaded.
// It works for released handles too, which mimics reports arriving late.
func (e *Engine) Emit(h engine.Handle, status engine.Status) bool {
	e.mu.Lock()
	r, ok := e.resources[h]
	e.mu.Unlock()

	if !ok || r.onStatus == nil {
		return false
	}
	r.onStatus(status)
	return true
}

func (e *Engine) simulateBuffering(h engine.Handle, d time.Duration) {
	e.Emit(h, engine.Status{IsLoaded: true, IsBuffering: true})
	time.Sleep(d)

	e.mu.Lock()
	r, ok := e.resources[h]
	live := ok && r.live
	playing := ok && r.playing
	e.mu.Unlock()

	if live {
		e.Emit(h, engine.Status{IsLoaded: true, IsPlaying: playing, IsBuffering: false})
	}
}

// SetConfigureError makes Configure fail with err.
func (e *Engine) SetConfigureError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configureErr = err
}

// SetLoadError makes loads of uri fail with err. A nil err clears the failure.
func (e *Engine) SetLoadError(uri string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.loadErrs, uri)
		return
	}
	e.loadErrs[uri] = err
}

// SetPlaybackError makes Play and Pause fail with err.
func (e *Engine) SetPlaybackError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playbackErr = err
}

// OnLoad installs a hook run inside Load before the resource is created.
func (e *Engine) OnLoad(fn func(src engine.Source)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onLoad = fn
}

// Calls returns a copy of the recorded calls.
func (e *Engine) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := make([]Call, len(e.calls))
	copy(result, e.calls)
	return result
}

// Ops returns the recorded operation names in order.
func (e *Engine) Ops() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	ops := make([]string, len(e.calls))
	for i, c := range e.calls {
		ops[i] = c.Op
	}
	return ops
}

// LastLoad returns the most recent load call.
func (e *Engine) LastLoad() (Call, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := len(e.calls) - 1; i >= 0; i-- {
		if e.calls[i].Op == OpLoad {
			return e.calls[i], true
		}
	}
	return Call{}, false
}

// LiveHandles returns the handles that are loaded and not yet released.
func (e *Engine) LiveHandles() []engine.Handle {
	e.mu.Lock()
	defer e.mu.Unlock()

	var live []engine.Handle
	for h, r := range e.resources {
		if r.live {
			live = append(live, h)
		}
	}
	return live
}

// IsPlaying reports whether h is live and playing.
func (e *Engine) IsPlaying(h engine.Handle) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.resources[h]
	return ok && r.live && r.playing
}

// Configured returns the options of the last successful Configure.
func (e *Engine) Configured() (engine.Options, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.options == nil {
		return engine.Options{}, false
	}
	return *e.options, true
}
