// Package main is the entry point for the termmux daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/termmux/internal/config"
	"github.com/dshills/termmux/internal/server"
	"github.com/dshills/termmux/internal/terminal"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load configuration: %v\n", err)
		return 1
	}
	if opts.listenAddr != "" {
		cfg.ListenAddr = opts.listenAddr
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	registry := terminal.NewRegistry(cfg.Terminal(), terminal.WithLogger(logger))
	defer registry.Shutdown(shutdownTimeout)

	srv := server.New(registry, server.Options{
		AuthToken:      cfg.AuthToken,
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})
	httpServer := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     srv.Handler(),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 2 * time.Minute,
	}

	// Handle signals for graceful shutdown.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.ListenAddr).
			Str("version", version).
			Msg("termmuxd listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case sig := <-signals:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			return 1
		}
		return 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}
	registry.Shutdown(shutdownTimeout)

	return 0
}

type cliOptions struct {
	configPath string
	listenAddr string
	logLevel   string
}

func parseFlags() cliOptions {
	var opts cliOptions
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", "", "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", "", "Path to configuration file (shorthand)")
	flag.StringVar(&opts.listenAddr, "listen", "", "Listen address (overrides config)")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "termmuxd - terminal session multiplexer daemon\n\n")
		fmt.Fprintf(os.Stderr, "Usage: termmuxd [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables prefixed TERMMUX_ override file settings,\n")
		fmt.Fprintf(os.Stderr, "e.g. TERMMUX_LISTEN_ADDR, TERMMUX_MAX_SESSIONS, TERMMUX_AUTH_TOKEN.\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("termmuxd %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	return opts
}

func newLogger(level string) (zerolog.Logger, error) {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level %q", level)
	}
	return zerolog.New(os.Stderr).Level(parsed).With().Timestamp().Logger(), nil
}
