// Package main mints a caller token for an address.
package main

import (
	"flag"
	"os"

	"github.com/louisbranch/recordvault/internal/platform/config"
	"github.com/louisbranch/recordvault/internal/tools/tokenmint"
)

func main() {
	cfg, err := tokenmint.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := tokenmint.Run(cfg, os.Stdout); err != nil {
		config.Exitf("mint caller token: %v", err)
	}
}
