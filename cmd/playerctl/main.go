// Package main provides the remote control CLI of the player.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/abplayer/internal/api/connect"
	"github.com/osa030/abplayer/internal/app/presenter"
)

var (
	app    = kingpin.New("abplayer-ctl", "abplayer remote control")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Control token").Envar("ABPLAYER_CONTROL_TOKEN").String()

	stateCmd  = app.Command("state", "Show the current state").Default()
	toggleCmd = app.Command("toggle", "Toggle play/pause")
	nextCmd   = app.Command("next", "Skip to the next track")
	prevCmd   = app.Command("prev", "Go back one track")
	watchCmd  = app.Command("watch", "Print state changes until interrupted")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewClient(http.DefaultClient, *server, *token)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		v   presenter.View
		err error
	)
	switch command {
	case stateCmd.FullCommand():
		v, err = client.GetState(ctx)
	case toggleCmd.FullCommand():
		v, err = client.PlayPause(ctx)
	case nextCmd.FullCommand():
		v, err = client.Next(ctx)
	case prevCmd.FullCommand():
		v, err = client.Previous(ctx)
	case watchCmd.FullCommand():
		watch(ctx, client)
		return
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	printView(v)
}

func watch(ctx context.Context, client *apiconnect.Client) {
	fmt.Println("Watching player state. Press Ctrl+C to exit.")

	err := client.Watch(ctx, func(seq uint64, event string, v presenter.View) error {
		fmt.Printf("\n[Sequence: %d] %s\n", seq, event)
		printView(v)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		fmt.Printf("Stream error: %v\n", err)
		os.Exit(1)
	}
}

func printView(v presenter.View) {
	fmt.Printf("  State: %s\n", v.State)
	fmt.Printf("  Track: %d/%d\n", v.Index+1, v.Total)
	if v.Loaded {
		fmt.Printf("  Title: %s\n", v.Title)
		fmt.Printf("  Author: %s\n", v.Author)
	}
	fmt.Printf("  Playing: %v\n", v.IsPlaying)
	fmt.Printf("  Buffering: %v\n", v.IsBuffering)
}
