package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	// a missing .env is normal
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "Warning: cannot load .env: %v\n", err)
	}

	cfg, err := LoadConfig(args, stderr)
	if err != nil {
		return err
	}

	if cfg.ShowVersion {
		fmt.Fprintf(stdout, "mdlive %s (commit: %s, built: %s)\n", version, commit, date)
		return nil
	}

	logger := newLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	app, err := NewAppContext(cfg.Target, Options{Port: cfg.Port, Open: cfg.Open, Watch: cfg.Watch})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var source EventSource
	if app.Options.Watch {
		watcher := NewWatcher(DefaultExcludePolicy(), cfg.Debounce, logger)
		if err := watcher.Start(app.WatchPath()); err != nil {
			logger.Warn("cannot watch for changes, live reload disabled", "error", err)
		} else {
			defer watcher.Stop()
		}
		source = watcher
	}

	hub := NewHub(source, cfg.Heartbeat, logger)
	srv := NewServer(app, hub, logger, version)

	listener, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr(), err)
	}

	// request contexts derive from ctx so open change streams end on shutdown
	server := &http.Server{
		Handler:     srv.Routes(cfg.CORSOrigins),
		ReadTimeout: 15 * time.Second,
		// WriteTimeout intentionally omitted for SSE streaming endpoints
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	url := fmt.Sprintf("http://%s", listener.Addr())
	fmt.Fprintf(stdout, "Serving %s on %s\n", app.TargetPath, url)
	fmt.Fprintln(stdout, "Press Ctrl+C to quit")
	logger.Info("server started", "mode", app.Mode, "root", app.Root, "addr", listener.Addr().String(), "watch", app.Options.Watch)

	if app.Options.Open {
		go func() {
			time.Sleep(500 * time.Millisecond)
			openURL(url, logger)
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
		return err
	}
	return nil
}

func openURL(url string, logger *slog.Logger) {
	var cmd string
	var args []string

	switch {
	case fileExists("/usr/bin/open"): // macOS
		cmd = "open"
		args = []string{url}
	case fileExists("/usr/bin/xdg-open"): // Linux
		cmd = "xdg-open"
		args = []string{url}
	default: // Windows
		cmd = "cmd"
		args = []string{"/c", "start", url}
	}

	if err := exec.Command(cmd, args...).Start(); err != nil {
		logger.Warn("failed to open browser", "url", url, "error", err)
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
