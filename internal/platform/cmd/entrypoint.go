// Package cmd holds the startup plumbing shared by RecordVault commands:
// env-then-flag configuration, signal handling, log routing and tracing.
package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/louisbranch/recordvault/internal/platform/config"
	"github.com/louisbranch/recordvault/internal/platform/otel"
	"github.com/louisbranch/recordvault/internal/platform/timeouts"
)

// ServiceVault names the vault process in telemetry.
const ServiceVault = "recordvault"

// RunOptions controls shared entrypoint behavior for service commands.
type RunOptions struct {
	// ShutdownTimeout bounds the tracer flush on exit.
	ShutdownTimeout time.Duration
	// Telemetry replaces the tracing config read from the environment.
	Telemetry *otel.Config
}

// ParseConfig loads environment defaults into cfg.
func ParseConfig[T any](cfg *T) error {
	if cfg == nil {
		return errors.New("config target is required")
	}
	return config.ParseEnv(cfg)
}

// ParseArgs parses command-line flags.
func ParseArgs(fs *flag.FlagSet, args []string) error {
	if fs == nil {
		return errors.New("flag parser is required")
	}
	if args == nil {
		args = []string{}
	}
	return fs.Parse(args)
}

// Main runs a long-lived command until SIGINT or SIGTERM. Logs go to stderr
// under prefix, since stdout may carry a protocol stream. A run error exits
// the process with status 1.
func Main(prefix string, run func(context.Context) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := runMain(ctx, os.Stderr, prefix, run)
	stop()
	if err != nil {
		config.Exitf("%s%v", prefix, err)
	}
}

func runMain(ctx context.Context, logOut io.Writer, prefix string, run func(context.Context) error) error {
	if run == nil {
		return errors.New("run function is required")
	}
	log.SetOutput(logOut)
	log.SetPrefix(prefix)
	return run(ctx)
}

// RunWithTelemetry configures tracing and executes a service run loop.
func RunWithTelemetry(ctx context.Context, service string, run func(context.Context) error) error {
	return RunWithTelemetryAndOptions(ctx, service, RunOptions{}, run)
}

// RunWithTelemetryAndOptions configures tracing and executes a service run
// loop. The tracer is flushed after run returns, even on error.
func RunWithTelemetryAndOptions(ctx context.Context, service string, options RunOptions, run func(context.Context) error) error {
	service = strings.TrimSpace(service)
	if service == "" {
		return fmt.Errorf("service name is required")
	}
	if run == nil {
		return fmt.Errorf("run function is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var otelCfg otel.Config
	if options.Telemetry != nil {
		otelCfg = *options.Telemetry
	} else {
		loaded, err := otel.LoadConfig()
		if err != nil {
			return fmt.Errorf("load otel config: %w", err)
		}
		otelCfg = loaded
	}
	shutdown, err := otel.Setup(ctx, service, otelCfg)
	if err != nil {
		return fmt.Errorf("setup otel: %w", err)
	}
	defer func() {
		shutdownTimeout := options.ShutdownTimeout
		if shutdownTimeout <= 0 {
			shutdownTimeout = timeouts.Shutdown
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Printf("%s otel shutdown: %v", service, err)
		}
	}()
	return run(ctx)
}
