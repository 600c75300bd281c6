// Package engine defines the contract between the playback controller and an audio engine.
//
// An engine opens, decodes and renders audio resources. The controller only ever holds one
// loaded resource at a time and addresses it through an opaque Handle.
package engine

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
)

// Errors reported at the engine boundary.
// Implementations mark their errors with these sentinels so callers can use errors.Is.
var (
	ErrConfiguration = errors.New("engine rejected configuration")
	ErrLoad          = errors.New("failed to load resource")
	ErrUnload        = errors.New("failed to unload resource")
	ErrPlayback      = errors.New("playback command failed")
)

// Handle is an opaque reference to a resource loaded by an engine.
type Handle string

// String returns the handle identifier.
func (h Handle) String() string {
	return string(h)
}

// IsZero reports whether h refers to no resource.
func (h Handle) IsZero() bool {
	return h == ""
}

// Source describes the resource to load.
type Source struct {
	URI string
}

// InitialStatus is applied by the engine when the resource finishes loading.
type InitialStatus struct {
	ShouldPlay bool
	Volume     float64 // 0.0 - 1.0
}

// Status is a playback status report for one loaded resource.
// The controller consumes IsBuffering only.
type Status struct {
	IsLoaded      bool
	IsPlaying     bool
	IsBuffering   bool
	Position      time.Duration
	Duration      time.Duration
	DidJustFinish bool
}

// StatusFunc receives status reports. It may be called from any goroutine.
type StatusFunc func(Status)

// Engine is the audio engine contract.
type Engine interface {
	// Configure applies the global playback policy. It is called once before the first load.
	Configure(ctx context.Context, opts Options) error

	// Load opens src and applies initial once loaded. onStatus is registered before the
	// load starts, so no report is missed after it completes.
	Load(ctx context.Context, src Source, initial InitialStatus, onStatus StatusFunc) (Handle, error)

	// Unload releases h. Unloading a released handle fails with ErrUnload.
	Unload(ctx context.Context, h Handle) error

	// Play and Pause fail with ErrPlayback when h is not the live resource.
	Play(ctx context.Context, h Handle) error
	Pause(ctx context.Context, h Handle) error
}
