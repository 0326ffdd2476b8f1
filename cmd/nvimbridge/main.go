// Package main is a terminal host for the bridge: a plain text view whose
// document is driven by an embedded or remote engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/dshills/nvimbridge/internal/bridge"
	"github.com/dshills/nvimbridge/internal/config"
	"github.com/dshills/nvimbridge/internal/host"
	"github.com/dshills/nvimbridge/internal/logging"
	"github.com/dshills/nvimbridge/internal/recovery"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type options struct {
	configPath string
	address    string
	logLevel   string
	file       string
}

func main() {
	os.Exit(run())
}

func run() int {
	opts := parseFlags()

	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "Error: nvimbridge needs an interactive terminal")
		return 1
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if opts.address != "" {
		cfg.Engine.Address = opts.address
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	logger, closeLog, err := openLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, opts.file, logger); err != nil && !errors.Is(err, errQuit) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func serve(ctx context.Context, cfg config.Config, file string, logger *logging.Logger) error {
	h, err := newHarness(cfg.ColumnUnit())
	if err != nil {
		return err
	}
	defer h.close()

	policy := recovery.New(recovery.Config{
		MaxAttempts:      cfg.Recovery.MaxAttempts,
		InitialDelay:     cfg.Recovery.InitialDelay.Std(),
		MaxDelay:         cfg.Recovery.MaxDelay.Std(),
		Multiplier:       cfg.Recovery.Multiplier,
		FailureThreshold: recovery.DefaultConfig().FailureThreshold,
		CoolDown:         recovery.DefaultConfig().CoolDown,
	}, recovery.WithLogger(logger))

	b, err := bridge.New(cfg, bridge.Deps{
		Editors:  host.NewActive(h.doc),
		Recovery: policy,
		Cmdline:  h,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	h.bridge = b

	if err := b.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		b.Stop(stopCtx)
	}()

	if err := b.Open(ctx, file, nil); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.pollEvents(gctx) })
	g.Go(func() error { return h.drawLoop(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		// Unblocks PollEvent.
		h.screen.Fini()
		return nil
	})
	return g.Wait()
}

func openLogger(cfg config.LogConfig) (*logging.Logger, func(), error) {
	// The screen owns stdout and stderr, so logs go to a file or nowhere.
	var out io.Writer = io.Discard
	closeFn := func() {}
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeFn = func() { _ = f.Close() }
	}
	logger := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Level),
		Format: logging.ParseFormat(cfg.Format),
		Output: out,
		Prefix: "nvimbridge",
	})
	return logger, closeFn, nil
}

func parseFlags() options {
	var opts options
	var showVersion bool

	flag.StringVar(&opts.configPath, "config", config.DefaultPath(), "Path to configuration file")
	flag.StringVar(&opts.configPath, "c", config.DefaultPath(), "Path to configuration file (shorthand)")
	flag.StringVar(&opts.address, "listen", "", "Connect to a running engine at this socket or host:port")
	flag.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showVersion, "v", false, "Show version information (shorthand)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "nvimbridge - a terminal host kept in sync with an engine\n\n")
		fmt.Fprintf(os.Stderr, "Usage: nvimbridge [options] [file]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nKeys:\n")
		fmt.Fprintf(os.Stderr, "  F5     reconnect the engine\n")
		fmt.Fprintf(os.Stderr, "  F10    quit\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Printf("nvimbridge %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	if opts.logLevel != "" && !logging.ValidLevel(opts.logLevel) {
		fmt.Fprintf(os.Stderr, "Error: invalid log level %q (must be debug, info, warn, or error)\n", opts.logLevel)
		os.Exit(1)
	}
	if flag.NArg() > 1 {
		fmt.Fprintln(os.Stderr, "Error: at most one file may be given")
		os.Exit(1)
	}
	opts.file = flag.Arg(0)
	return opts
}
