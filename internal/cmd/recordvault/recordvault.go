// Package recordvault parses vault command flags and runs the selected mode:
// the MCP server, a journal verification, an orphan sweep or a health probe.
package recordvault

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	entrypoint "github.com/louisbranch/recordvault/internal/platform/cmd"
	platformgrpc "github.com/louisbranch/recordvault/internal/platform/grpc"
	"github.com/louisbranch/recordvault/internal/platform/timeouts"
	"github.com/louisbranch/recordvault/internal/services/vault/app"
)

// Config holds vault command configuration.
type Config struct {
	app.Config

	Verify      bool
	Sweep       bool
	HealthCheck bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg.Config); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "ledger database path")
	fs.StringVar(&cfg.BlobBackend, "blob-backend", cfg.BlobBackend, "blob backend: bbolt or ipfs")
	fs.StringVar(&cfg.BlobPath, "blob-path", cfg.BlobPath, "bbolt blob store path")
	fs.StringVar(&cfg.IPFSAPIURL, "ipfs-api-url", cfg.IPFSAPIURL, "IPFS node API URL")
	fs.StringVar(&cfg.RootAddress, "root-address", cfg.RootAddress, "root administrator address")
	fs.StringVar(&cfg.HealthAddr, "health-addr", cfg.HealthAddr, "gRPC health listen address (empty disables)")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "locale for tool error messages")
	fs.BoolVar(&cfg.Verify, "verify", false, "verify the journal and ledger views, then exit")
	fs.BoolVar(&cfg.Sweep, "sweep", false, "unpin orphaned blobs, then exit")
	fs.BoolVar(&cfg.HealthCheck, "healthcheck", false, "probe a running vault's health endpoint, then exit")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	modes := 0
	for _, set := range []bool{c.Verify, c.Sweep, c.HealthCheck} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return errors.New("-verify, -sweep and -healthcheck are mutually exclusive")
	}
	if c.HealthCheck && c.HealthAddr == "" {
		return errors.New("-healthcheck requires -health-addr")
	}
	return nil
}

// Run runs the selected mode. The server mode speaks MCP on stdio.
func Run(ctx context.Context, cfg Config) error {
	return run(ctx, cfg, &mcp.StdioTransport{}, os.Stdout)
}

func run(ctx context.Context, cfg Config, transport mcp.Transport, out io.Writer) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceVault, func(ctx context.Context) error {
		if cfg.HealthCheck {
			return healthCheck(ctx, cfg.HealthAddr)
		}

		vault, err := app.Open(cfg.Config)
		if err != nil {
			return err
		}
		defer func() {
			if err := vault.Close(); err != nil {
				log.Printf("close vault: %v", err)
			}
		}()

		switch {
		case cfg.Verify:
			return vault.Verify(ctx, out)
		case cfg.Sweep:
			_, err := vault.Sweep(ctx, out)
			return err
		}
		return vault.Serve(ctx, transport)
	})
}

func healthCheck(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, timeouts.HealthProbe)
	defer cancel()
	if err := platformgrpc.Probe(ctx, addr, "", nil); err != nil {
		return fmt.Errorf("health check %s: %w", addr, err)
	}
	return nil
}
