// Package tokenmint issues caller tokens for operators and MCP clients.
package tokenmint

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/louisbranch/recordvault/internal/platform/config"
	"github.com/louisbranch/recordvault/internal/services/vault/callertoken"
)

// Config holds token minting configuration. The signing key comes from the
// same env variable the vault reads.
type Config struct {
	callertoken.Config
	Address string
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg.Config); err != nil {
		return Config{}, err
	}
	fs.StringVar(&cfg.Address, "address", "", "caller address the token names")
	fs.DurationVar(&cfg.TTL, "ttl", cfg.TTL, "token lifetime")
	fs.StringVar(&cfg.PrivateKey, "private-key", cfg.PrivateKey, "base64 ed25519 private key or seed")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run issues a token for cfg.Address and writes it to out.
func Run(cfg Config, out io.Writer) error {
	if out == nil {
		return errors.New("output is required")
	}
	if strings.TrimSpace(cfg.Address) == "" {
		return errors.New("address is required")
	}
	if strings.TrimSpace(cfg.PrivateKey) == "" {
		return errors.New(config.EnvPrefix + "CALLER_TOKEN_PRIVATE_KEY is required")
	}
	key, err := callertoken.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return err
	}
	issuer, err := callertoken.NewIssuer(cfg.Issuer, cfg.Audience, key, cfg.TTL)
	if err != nil {
		return err
	}
	token, err := issuer.Issue(cfg.Address)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
