package main

import (
	"io"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/abplayer/internal/app/engine"
	"github.com/osa030/abplayer/internal/infra/config"
	"github.com/osa030/abplayer/internal/infra/memengine"
	"github.com/osa030/abplayer/internal/infra/mpv"
)

const (
	engineTypeMpv    = "mpv"
	engineTypeMemory = "memory"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newEngine creates the engine named by the config, with a closer for its resources.
func newEngine(cfg *config.Config) (engine.Engine, io.Closer, error) {
	zlog.Info().Msgf("Creating engine: type=%s", cfg.Engine.Type)

	switch cfg.Engine.Type {
	case engineTypeMpv:
		e, err := mpv.New(cfg.Engine.Settings)
		if err != nil {
			return nil, nil, errors.Wrap(err, "mpv engine")
		}
		return e, e, nil
	case engineTypeMemory:
		e, err := memengine.NewFromSettings(cfg.Engine.Settings)
		if err != nil {
			return nil, nil, errors.Wrap(err, "memory engine")
		}
		return e, nopCloser{}, nil
	default:
		return nil, nil, errors.Newf("unknown engine type: %s", cfg.Engine.Type)
	}
}
