// Package main provides a one-shot utility for caller token key generation.
//
// It emits the key pair the vault uses to verify caller tokens.
package main

import (
	"os"

	"github.com/louisbranch/recordvault/internal/platform/config"
	"github.com/louisbranch/recordvault/internal/tools/callerkey"
)

func main() {
	if err := callerkey.Run(os.Stdout, nil); err != nil {
		config.Exitf("generate caller token key: %v", err)
	}
}
