// Package main provides the player entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/connect"
	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	apiconnect "github.com/osa030/abplayer/internal/api/connect"
	"github.com/osa030/abplayer/internal/app/notification"
	"github.com/osa030/abplayer/internal/app/playback"
	"github.com/osa030/abplayer/internal/app/presenter"
	"github.com/osa030/abplayer/internal/domain/playlist"
	"github.com/osa030/abplayer/internal/infra/config"
	"github.com/osa030/abplayer/internal/infra/logger"
)

const shutdownTimeout = 5 * time.Second

var (
	app        = kingpin.New("abplayer", "audiobook player")
	configPath = app.Flag("config", "Path to config file").Default("config/player.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stderr)").String()

	// list-tracks command
	listTracksCmd = app.Command("list-tracks", "List the configured playlist and exit")
)

func init() {
	app.Command("start", "Start the player (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Log to stderr so the console view on stdout stays readable.
	loggerConfig := logger.Config{Output: "stderr", Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	logCloser, err := logger.Init(loggerConfig)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logCloser.Close()

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == listTracksCmd.FullCommand() {
		printTracks(os.Stdout, cfg)
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Player error: %v", err)
		os.Exit(1)
	}
}

// run wires the player and blocks until the user quits or a signal arrives.
func run(cfg *config.Config) error {
	pl, err := playlist.New(cfg.Tracks())
	if err != nil {
		return errors.Wrap(err, "invalid playlist")
	}

	eng, engineCloser, err := newEngine(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to create engine")
	}
	defer func() {
		if err := engineCloser.Close(); err != nil {
			zlog.Warn().Err(err).Msg("Failed to close engine")
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// Cancelled on quit as well, so Run and open watch streams end with the console.
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	controller := playback.NewController(eng, pl, cfg.PlaybackConfig())
	notifications := notification.NewManager()
	defer notifications.Close()

	p := presenter.New(controller, notifications)
	go p.Run(ctx)

	// Initialization errors leave the player Empty; the console still starts so the user can quit.
	if err := controller.Initialize(ctx); err != nil {
		zlog.Error().Err(err).Msg("Initialization failed, no track loaded")
	}

	var server *http.Server
	serverErrCh := make(chan error, 1)
	if cfg.ServerEnabled() {
		server = newServer(cfg, p)
		go func() {
			zlog.Info().Msgf("Starting control server: addr=%s", cfg.Server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErrCh <- err
			}
		}()
	}

	console := newConsole(os.Stdin, os.Stdout, p)
	consoleDone := make(chan struct{})
	go func() {
		defer close(consoleDone)
		console.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		zlog.Info().Msg("Received shutdown signal")
	case <-consoleDone:
		zlog.Info().Msg("Quit requested")
	case err := <-serverErrCh:
		runErr = errors.Wrap(err, "control server failed")
	}

	stopPlayer(cancel, controller, p, server)
	zlog.Info().Msg("Player stopped")
	return runErr
}

// stopPlayer releases the loaded resource, ends the presenter and its watch streams,
// then stops the control server. Each step gets its own shutdownTimeout.
func stopPlayer(cancel context.CancelFunc, controller *playback.Controller, p *presenter.Presenter, server *http.Server) {
	ctx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := controller.Shutdown(ctx); err != nil && !errors.Is(err, playback.ErrClosed) {
		zlog.Warn().Err(err).Msg("Controller shutdown failed")
	}
	cancelShutdown()

	cancel()
	select {
	case <-p.Done():
	case <-time.After(shutdownTimeout):
		zlog.Warn().Msg("Presenter did not stop in time")
	}

	if server == nil {
		return
	}
	ctx, cancelServer := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelServer()
	if err := server.Shutdown(ctx); err != nil {
		zlog.Warn().Err(err).Msg("Control server shutdown failed")
	}
}

// newServer creates the Connect control server with h2c (HTTP/2 cleartext) support.
func newServer(cfg *config.Config, p *presenter.Presenter) *http.Server {
	if cfg.Server.ControlToken == "" {
		zlog.Warn().Msg("Control token is not set, remote control is unauthenticated")
	}

	path, handler := apiconnect.NewPlayerServiceHandler(
		apiconnect.NewPlayerService(p),
		connect.WithInterceptors(apiconnect.NewControlAuthInterceptor(cfg.Server.ControlToken)),
	)
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	return &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: h2c.NewHandler(mux, &http2.Server{}),
	}
}

func printTracks(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "Playlist:")
	for i, t := range cfg.Tracks() {
		fmt.Fprintf(w, "  %d. %s\n", i+1, t)
		fmt.Fprintf(w, "     %s\n", t.URI)
	}
}
