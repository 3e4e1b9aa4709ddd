// Package hmackey builds journal signing keyrings. With -rotate it keeps the
// keys already configured in the environment, so events signed before the
// rotation still verify.
package hmackey

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/louisbranch/recordvault/internal/platform/config"
)

const defaultKeySize = 32

// Config selects the new key and whether existing keys are carried over.
type Config struct {
	Size   int
	KeyID  string
	Rotate bool
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := Config{Size: defaultKeySize, KeyID: "v1"}
	fs.IntVar(&cfg.Size, "size", cfg.Size, "key size in bytes")
	fs.StringVar(&cfg.KeyID, "key-id", cfg.KeyID, "id of the new signing key")
	fs.BoolVar(&cfg.Rotate, "rotate", false, "keep the keys from the current environment")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// configured mirrors the journal keyring variables the vault reads.
type configured struct {
	Keys  map[string]string `env:"JOURNAL_HMAC_KEYS" envKeyValSeparator:"="`
	Key   string            `env:"JOURNAL_HMAC_KEY"`
	KeyID string            `env:"JOURNAL_HMAC_KEY_ID" envDefault:"v1"`
}

// Run writes a keyring whose active key is freshly generated. random
// defaults to crypto/rand.
func Run(cfg Config, out io.Writer, random io.Reader) error {
	if out == nil {
		return errors.New("output is required")
	}
	if cfg.Size < 16 {
		return errors.New("key size must be at least 16 bytes")
	}
	keyID := strings.TrimSpace(cfg.KeyID)
	if keyID == "" || strings.ContainsAny(keyID, "=, ") {
		return fmt.Errorf("invalid key id %q", cfg.KeyID)
	}

	keys := map[string]string{}
	if cfg.Rotate {
		current, err := currentKeys()
		if err != nil {
			return err
		}
		keys = current
	}
	if _, taken := keys[keyID]; taken {
		return fmt.Errorf("key id %q is already in the keyring", keyID)
	}

	if random == nil {
		random = rand.Reader
	}
	secret := make([]byte, cfg.Size)
	if _, err := io.ReadFull(random, secret); err != nil {
		return fmt.Errorf("read random bytes: %w", err)
	}
	keys[keyID] = hex.EncodeToString(secret)

	entries := make([]string, 0, len(keys))
	for _, id := range slices.Sorted(maps.Keys(keys)) {
		entries = append(entries, id+"="+keys[id])
	}
	_, err := fmt.Fprintf(out, "%[1]sJOURNAL_HMAC_KEYS=%[2]s\n%[1]sJOURNAL_HMAC_KEY_ID=%[3]s\n",
		config.EnvPrefix, strings.Join(entries, ","), keyID)
	return err
}

// currentKeys returns the keyring the environment configures now, in the
// same precedence the vault applies.
func currentKeys() (map[string]string, error) {
	var env configured
	if err := config.ParseEnv(&env); err != nil {
		return nil, err
	}
	if len(env.Keys) > 0 {
		return env.Keys, nil
	}
	if key := strings.TrimSpace(env.Key); key != "" {
		return map[string]string{strings.TrimSpace(env.KeyID): key}, nil
	}
	return nil, errors.New("-rotate needs an existing " + config.EnvPrefix + "JOURNAL_HMAC_KEYS or " + config.EnvPrefix + "JOURNAL_HMAC_KEY")
}
