// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/osa030/abplayer/internal/app/engine"
	"github.com/osa030/abplayer/internal/app/playback"
	"github.com/osa030/abplayer/internal/domain/playlist"
	"github.com/osa030/abplayer/internal/domain/track"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Engine    EngineConfig    `yaml:"engine"`
	AudioMode AudioModeConfig `yaml:"audio_mode"`
	Playback  PlaybackConfig  `yaml:"playback"`
	Playlist  []TrackConfig   `yaml:"playlist" validate:"required,min=1,dive"`
}

// ServerConfig represents the remote control server configuration.
type ServerConfig struct {
	Enabled      *bool  `yaml:"enabled" default:"true"`
	Addr         string `yaml:"addr" default:"127.0.0.1:8080" validate:"required"`
	ControlToken string `yaml:"control_token"`
}

// EngineConfig selects and configures the audio engine.
type EngineConfig struct {
	Type     string         `yaml:"type" default:"mpv" validate:"oneof=mpv memory"`
	Settings map[string]any `yaml:"settings"`
}

// AudioModeConfig represents the global playback policy handed to the engine.
type AudioModeConfig struct {
	AllowsRecordingIOS         bool   `yaml:"allows_recording_ios"`
	InterruptionModeIOS        string `yaml:"interruption_mode_ios" default:"do_not_mix" validate:"oneof=mix_with_others do_not_mix duck_others"`
	PlaysInSilentModeIOS       *bool  `yaml:"plays_in_silent_mode_ios" default:"true"`
	InterruptionModeAndroid    string `yaml:"interruption_mode_android" default:"duck_others" validate:"oneof=do_not_mix duck_others"`
	ShouldDuckAndroid          *bool  `yaml:"should_duck_android" default:"true"`
	StaysActiveInBackground    *bool  `yaml:"stays_active_in_background" default:"true"`
	PlayThroughEarpieceAndroid bool   `yaml:"play_through_earpiece_android"`
}

// PlaybackConfig represents playback controller configuration.
type PlaybackConfig struct {
	Volume         *float64 `yaml:"volume" default:"1.0" validate:"required,gte=0,lte=1"`
	LoadTimeoutMs  int      `yaml:"load_timeout_ms" default:"15000" validate:"gte=0,lte=300000"`
	PreviousPolicy string   `yaml:"previous_policy" default:"wrap" validate:"oneof=wrap reset"`
	EventBuffer    int      `yaml:"event_buffer" default:"16" validate:"gte=1,lte=1024"`
}

// TrackConfig represents one playlist entry.
type TrackConfig struct {
	Title  string `yaml:"title" validate:"required"`
	Author string `yaml:"author"`
	URI    string `yaml:"uri" validate:"required"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse parses, defaults and validates YAML configuration.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("ABPLAYER_CONTROL_TOKEN"); v != "" {
		c.Server.ControlToken = v
	}
	if v := os.Getenv("ABPLAYER_ENGINE"); v != "" {
		c.Engine.Type = v
	}
	if v := os.Getenv("ABPLAYER_MPV_BINARY"); v != "" {
		c.engineSettings()["binary"] = v
	}
	if v := os.Getenv("ABPLAYER_MPV_SOCKET"); v != "" {
		c.engineSettings()["socket_path"] = v
	}
}

func (c *Config) engineSettings() map[string]any {
	if c.Engine.Settings == nil {
		c.Engine.Settings = make(map[string]any)
	}
	return c.Engine.Settings
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if err := c.EngineOptions().Validate(); err != nil {
		return errors.Wrap(err, "invalid audio_mode")
	}

	return nil
}

// EngineOptions converts the audio mode section into engine options.
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		AllowsRecordingIOS:         c.AudioMode.AllowsRecordingIOS,
		InterruptionModeIOS:        engine.InterruptionModeIOS(c.AudioMode.InterruptionModeIOS),
		PlaysInSilentModeIOS:       boolValue(c.AudioMode.PlaysInSilentModeIOS),
		InterruptionModeAndroid:    engine.InterruptionModeAndroid(c.AudioMode.InterruptionModeAndroid),
		ShouldDuckAndroid:          boolValue(c.AudioMode.ShouldDuckAndroid),
		StaysActiveInBackground:    boolValue(c.AudioMode.StaysActiveInBackground),
		PlayThroughEarpieceAndroid: c.AudioMode.PlayThroughEarpieceAndroid,
	}
}

// PlaybackConfig converts the playback section into controller configuration.
func (c *Config) PlaybackConfig() playback.Config {
	volume := 1.0
	if c.Playback.Volume != nil {
		volume = *c.Playback.Volume
	}
	return playback.Config{
		Volume:         volume,
		LoadTimeout:    time.Duration(c.Playback.LoadTimeoutMs) * time.Millisecond,
		PreviousPolicy: playlist.BackPolicy(c.Playback.PreviousPolicy),
		EventBuffer:    c.Playback.EventBuffer,
		Options:        c.EngineOptions(),
	}
}

// ServerEnabled reports whether the remote control server should run.
func (c *Config) ServerEnabled() bool {
	return boolValue(c.Server.Enabled)
}

// Tracks returns the configured playlist entries.
func (c *Config) Tracks() []track.Track {
	tracks := make([]track.Track, len(c.Playlist))
	for i, t := range c.Playlist {
		tracks[i] = track.Track{Title: t.Title, Author: t.Author, URI: t.URI}
	}
	return tracks
}

func boolValue(b *bool) bool {
	return b != nil && *b
}
