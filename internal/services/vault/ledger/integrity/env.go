package integrity

import (
	"errors"
	"strings"

	"github.com/louisbranch/recordvault/internal/platform/config"
)

type keyringEnv struct {
	// Keys holds rotated keys as "id=value,id=value".
	Keys  map[string]string `env:"JOURNAL_HMAC_KEYS" envKeyValSeparator:"="`
	Key   string            `env:"JOURNAL_HMAC_KEY"`
	KeyID string            `env:"JOURNAL_HMAC_KEY_ID" envDefault:"v1"`
}

// KeyringFromEnv loads the journal keyring. RECORDVAULT_JOURNAL_HMAC_KEYS wins
// over the single-key RECORDVAULT_JOURNAL_HMAC_KEY form.
func KeyringFromEnv() (*Keyring, error) {
	var cfg keyringEnv
	if err := config.ParseEnv(&cfg); err != nil {
		return nil, err
	}
	keyID := strings.TrimSpace(cfg.KeyID)
	if keyID == "" {
		keyID = "v1"
	}

	if len(cfg.Keys) == 0 {
		raw := strings.TrimSpace(cfg.Key)
		if raw == "" {
			return nil, errors.New(config.EnvPrefix + "JOURNAL_HMAC_KEY is required")
		}
		return NewKeyring(map[string][]byte{keyID: []byte(raw)}, keyID)
	}

	keys := make(map[string][]byte, len(cfg.Keys))
	for id, value := range cfg.Keys {
		id = strings.TrimSpace(id)
		value = strings.TrimSpace(value)
		if id == "" || value == "" {
			return nil, errors.New("invalid " + config.EnvPrefix + "JOURNAL_HMAC_KEYS entry")
		}
		keys[id] = []byte(value)
	}
	return NewKeyring(keys, keyID)
}
