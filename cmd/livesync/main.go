// livesync keeps a realtime session with the booking backend alive and
// exposes its state through a local control API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mouldrestoration/livesync/internal/config"
	"github.com/mouldrestoration/livesync/internal/engine"
	"github.com/mouldrestoration/livesync/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var (
		configFile string
		envFile    string
		flags      config.Flags
		enabled    bool
		devRelay   bool
	)

	flagSet := pflag.NewFlagSet("livesync", pflag.ContinueOnError)
	flagSet.StringVarP(&configFile, "config", "c", "", "path to YAML configuration file")
	flagSet.StringVar(&envFile, "env-file", "", "load environment variables from this file (default: .env if present)")
	flagSet.StringVar(&flags.URL, "url", "", "realtime backend websocket URL")
	flagSet.StringVar(&flags.APIAddr, "api-addr", "", "control API listen address")
	flagSet.StringVar(&flags.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flagSet.StringVar(&flags.Token, "token", "", "session token to connect with")
	flagSet.BoolVar(&enabled, "enabled", false, "enable realtime updates")
	flagSet.BoolVar(&devRelay, "dev-relay", false, "run an in-process relay and connect to it")

	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if rest := flagSet.Args(); len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	// Bool flags only override configuration when given explicitly
	if flagSet.Changed("enabled") {
		flags.Enabled = &enabled
	}
	if flagSet.Changed("dev-relay") {
		flags.DevRelay = &devRelay
	}

	cfg, err := config.LoadConfig(configFile, envFile, flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	closeLogs, err := logging.Setup(cfg.ToLoggingConfig())
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer closeLogs()

	e, err := engine.New(cfg)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if !cfg.Lifecycle.HandleSignals {
		// The engine is not listening for signals itself
		var stop context.CancelFunc
		ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()
	}

	log.Info().
		Bool("realtime_enabled", cfg.Realtime.Enabled).
		Bool("dev_relay", cfg.Relay.Enabled).
		Str("api_addr", cfg.API.Addr).
		Msg("Starting livesync")

	return e.Start(ctx)
}
