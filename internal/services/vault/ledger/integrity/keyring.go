// Package integrity signs and verifies the journal's hash chain.
//
// Root keys never sign directly: each is expanded with HKDF into a key bound
// to the journal stream, so the same root can safely back other streams.
package integrity

import (
	"crypto/hkdf"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Stream identifies the journal the keyring signs for.
const Stream = "recordvault/journal"

// Keyring holds derived HMAC keys by key id and the id used for new signatures.
type Keyring struct {
	derived     map[string][]byte
	activeKeyID string
}

// NewKeyring derives stream keys from root keys. activeKeyID must be one of keys.
func NewKeyring(keys map[string][]byte, activeKeyID string) (*Keyring, error) {
	if len(keys) == 0 {
		return nil, errors.New("hmac keys are required")
	}
	activeKeyID = strings.TrimSpace(activeKeyID)
	if activeKeyID == "" {
		return nil, errors.New("active hmac key id is required")
	}
	if _, ok := keys[activeKeyID]; !ok {
		return nil, fmt.Errorf("active hmac key id %q is not configured", activeKeyID)
	}

	derived := make(map[string][]byte, len(keys))
	for keyID, root := range keys {
		if len(root) == 0 {
			return nil, fmt.Errorf("hmac key %q is empty", keyID)
		}
		key, err := hkdf.Key(sha256.New, root, nil, Stream, 32)
		if err != nil {
			return nil, fmt.Errorf("derive key %q: %w", keyID, err)
		}
		derived[keyID] = key
	}
	return &Keyring{derived: derived, activeKeyID: activeKeyID}, nil
}

// ActiveKeyID returns the configured signing key id.
func (k *Keyring) ActiveKeyID() string {
	if k == nil {
		return ""
	}
	return k.activeKeyID
}

// Sign signs a chain hash with the active key and returns the signature and key id.
func (k *Keyring) Sign(chainHash string) (string, string, error) {
	if k == nil {
		return "", "", errors.New("hmac keyring is not configured")
	}
	if chainHash == "" {
		return "", "", errors.New("chain hash is required")
	}
	return hmacSHA256Hex(k.derived[k.activeKeyID], chainHash), k.activeKeyID, nil
}

// Verify checks signature against chainHash using the key named by keyID.
// Retired keys stay in the ring so old journal rows keep verifying.
func (k *Keyring) Verify(chainHash, signature, keyID string) error {
	if k == nil {
		return errors.New("hmac keyring is not configured")
	}
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return errors.New("signature key id is required")
	}
	key, ok := k.derived[keyID]
	if !ok {
		return fmt.Errorf("signature key id %q is unknown", keyID)
	}
	expected := hmacSHA256Hex(key, chainHash)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return errors.New("signature mismatch")
	}
	return nil
}

func hmacSHA256Hex(key []byte, value string) string {
	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}
