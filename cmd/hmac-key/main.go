// Package main prints a journal signing keyring, optionally rotating the
// one configured in the environment.
package main

import (
	"flag"
	"os"

	"github.com/louisbranch/recordvault/internal/platform/config"
	"github.com/louisbranch/recordvault/internal/tools/hmackey"
)

func main() {
	cfg, err := hmackey.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	if err := hmackey.Run(cfg, os.Stdout, nil); err != nil {
		config.Exitf("generate key: %v", err)
	}
}
