package main

import (
	"context"
	"flag"
	"os"

	vaultcmd "github.com/louisbranch/recordvault/internal/cmd/recordvault"
	entrypoint "github.com/louisbranch/recordvault/internal/platform/cmd"
	"github.com/louisbranch/recordvault/internal/platform/config"
)

// main starts the vault MCP server on stdio, or runs a maintenance mode.
func main() {
	cfg, err := vaultcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	entrypoint.Main("[VAULT] ", func(ctx context.Context) error {
		return vaultcmd.Run(ctx, cfg)
	})
}
