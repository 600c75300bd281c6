package engine

import "github.com/cockroachdb/errors"

// InterruptionModeIOS controls how playback interacts with other iOS audio.
type InterruptionModeIOS string

const (
	InterruptionModeIOSMixWithOthers InterruptionModeIOS = "mix_with_others"
	InterruptionModeIOSDoNotMix      InterruptionModeIOS = "do_not_mix"
	InterruptionModeIOSDuckOthers    InterruptionModeIOS = "duck_others"
)

// InterruptionModeAndroid controls how playback interacts with other Android audio.
type InterruptionModeAndroid string

const (
	InterruptionModeAndroidDoNotMix   InterruptionModeAndroid = "do_not_mix"
	InterruptionModeAndroidDuckOthers InterruptionModeAndroid = "duck_others"
)

// Options is the global playback policy passed to Engine.Configure.
type Options struct {
	AllowsRecordingIOS         bool
	InterruptionModeIOS        InterruptionModeIOS
	PlaysInSilentModeIOS       bool
	InterruptionModeAndroid    InterruptionModeAndroid
	ShouldDuckAndroid          bool
	StaysActiveInBackground    bool
	PlayThroughEarpieceAndroid bool
}

// DefaultOptions returns an exclusive, background-capable policy.
func DefaultOptions() Options {
	return Options{
		AllowsRecordingIOS:         false,
		InterruptionModeIOS:        InterruptionModeIOSDoNotMix,
		PlaysInSilentModeIOS:       true,
		InterruptionModeAndroid:    InterruptionModeAndroidDuckOthers,
		ShouldDuckAndroid:          true,
		StaysActiveInBackground:    true,
		PlayThroughEarpieceAndroid: false,
	}
}

// Validate checks the enumerated modes. Errors are marked with ErrConfiguration.
func (o Options) Validate() error {
	switch o.InterruptionModeIOS {
	case InterruptionModeIOSMixWithOthers, InterruptionModeIOSDoNotMix, InterruptionModeIOSDuckOthers:
	default:
		return errors.Mark(errors.Newf("unknown iOS interruption mode: %q", o.InterruptionModeIOS), ErrConfiguration)
	}

	switch o.InterruptionModeAndroid {
	case InterruptionModeAndroidDoNotMix, InterruptionModeAndroidDuckOthers:
	default:
		return errors.Mark(errors.Newf("unknown Android interruption mode: %q", o.InterruptionModeAndroid), ErrConfiguration)
	}

	if o.ShouldDuckAndroid && o.InterruptionModeAndroid == InterruptionModeAndroidDoNotMix {
		return errors.Mark(errors.New("should_duck_android conflicts with do_not_mix"), ErrConfiguration)
	}

	return nil
}

// Exclusive reports whether other audio must be stopped while playing.
func (o Options) Exclusive() bool {
	return o.InterruptionModeIOS == InterruptionModeIOSDoNotMix
}
