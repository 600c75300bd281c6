package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/abplayer/internal/app/playback"
	"github.com/osa030/abplayer/internal/app/presenter"
)

const consoleHelp = "commands: p = play/pause, n = next, b = previous, s = state, q = quit"

// console is the terminal presentation layer: it renders the view and reads one-letter commands.
type console struct {
	in  io.Reader
	out io.Writer
	p   *presenter.Presenter

	mu sync.Mutex // serializes writes to out
}

func newConsole(in io.Reader, out io.Writer, p *presenter.Presenter) *console {
	return &console{in: in, out: out, p: p}
}

// Run renders changes and handles commands until ctx ends or the user quits.
func (c *console) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		err := c.p.Watch(ctx, func(_ uint64, event string, v presenter.View) error {
			c.render(event, v)
			return nil
		})
		if err != nil {
			zlog.Warn().Err(err).Msg("console: watch ended")
		}
	}()

	c.println(consoleHelp)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				// Input closed: keep serving until ctx ends.
				lines = nil
				continue
			}
			if quit := c.handle(ctx, line); quit {
				return
			}
		}
	}
}

// handle runs one command line. It returns true when the user asked to quit.
func (c *console) handle(ctx context.Context, line string) bool {
	var err error
	switch strings.ToLower(line) {
	case "":
		return false
	case "p":
		err = c.p.RequestPlayPause(ctx)
	case "n":
		err = c.p.RequestNext(ctx)
	case "b":
		err = c.p.RequestPrevious(ctx)
	case "s":
		c.render("state", c.p.View())
	case "q":
		return true
	default:
		c.println(consoleHelp)
	}

	switch {
	case err == nil:
	case errors.Is(err, playback.ErrNoResource):
		c.println("nothing is loaded")
	default:
		c.println(fmt.Sprintf("command failed: %v", err))
	}
	return false
}

func (c *console) render(event string, v presenter.View) {
	c.println(formatView(event, v))
}

func (c *console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, s)
}

// formatView renders one status line. Track details are shown only while a resource is loaded.
func formatView(event string, v presenter.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %d/%d %s", event, v.Index+1, v.Total, formatState(v))
	if v.Loaded {
		fmt.Fprintf(&b, " | %s", v.Title)
		if v.Author != "" {
			fmt.Fprintf(&b, " - %s", v.Author)
		}
	}
	if v.IsBuffering {
		b.WriteString(" (buffering)")
	}
	return b.String()
}

func formatState(v presenter.View) string {
	switch v.State {
	case playback.StatePlaying.String():
		return "▶️  Playing"
	case playback.StatePaused.String():
		return "⏸  Paused"
	case playback.StateLoading.String():
		return "⏳ Loading"
	case playback.StateEmpty.String():
		return "⏹  Empty"
	default:
		return "❓ Unknown"
	}
}
