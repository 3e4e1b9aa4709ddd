// Package callerkey generates the ed25519 key pair that signs caller tokens.
package callerkey

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/louisbranch/recordvault/internal/platform/config"
	"github.com/louisbranch/recordvault/internal/services/vault/callertoken"
)

// Run generates a caller token key pair and writes exports.
func Run(out io.Writer, reader io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if reader == nil {
		reader = rand.Reader
	}
	publicKey, privateKey, err := ed25519.GenerateKey(reader)
	if err != nil {
		return fmt.Errorf("generate caller token key: %w", err)
	}
	if _, err := fmt.Fprintf(out, "export %sCALLER_TOKEN_PRIVATE_KEY=%s\n", config.EnvPrefix, callertoken.EncodeKey(privateKey)); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(out, "export %sCALLER_TOKEN_PUBLIC_KEY=%s\n", config.EnvPrefix, callertoken.EncodeKey(publicKey)); err != nil {
		return err
	}
	return nil
}
