// Command framecast-view watches a framecast server from the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/framecast/internal/tui"
	"github.com/MrWong99/framecast/internal/viewer"
)

func main() {
	os.Exit(run())
}

func run() int {
	server := flag.String("url", "ws://localhost:8080/v1/viewers/ws", "viewer WebSocket URL of the server")
	id := flag.String("id", "", "viewer ID; the server picks one when empty")
	name := flag.String("name", "", "display name")
	world := flag.String("world", "", "world to join; the server default when empty")
	caps := flag.String("caps", "", "comma separated capabilities, honoured only by servers that trust clients")
	logFile := flag.String("log", "", "write debug logs to this file")
	flag.Parse()

	// The terminal belongs to the UI, so logs go to a file or nowhere.
	var logOut io.Writer = io.Discard
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "framecast-view: %v\n", err)
			return 1
		}
		defer f.Close()
		logOut = f
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: slog.LevelDebug})))

	target, err := dialURL(*server, *id, *name, *world, *caps)
	if err != nil {
		fmt.Fprintf(os.Stderr, "framecast-view: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := viewer.Dial(dialCtx, target)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "framecast-view: %v\n", err)
		return 1
	}
	defer client.Close()
	slog.Info("connected", "url", target)

	if err := tui.Run(ctx, client); err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "framecast-view: %v\n", err)
		return 1
	}
	return 0
}

// dialURL adds the viewer handshake parameters to base.
func dialURL(base, id, name, world, caps string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return "", fmt.Errorf("url %q: scheme must be ws or wss", base)
	}
	q := u.Query()
	for k, v := range map[string]string{"id": id, "name": name, "world": world, "caps": caps} {
		if v != "" {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
