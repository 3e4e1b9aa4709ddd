// Package blobstore defines the content-addressed store that holds document
// and profile bytes. The store owns bytes only; which hashes are still
// referenced is decided by the ledger's document index.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mr-tron/base58"
)

var (
	// ErrNotFound indicates no bytes are stored under a hash.
	ErrNotFound = errors.New("blob not found")
	// ErrInvalidHash indicates a string that is not a CIDv0 content hash.
	ErrInvalidHash = errors.New("invalid content hash")
	// ErrCorrupt indicates stored bytes no longer match their hash.
	ErrCorrupt = errors.New("blob content does not match its hash")
)

// Store is the content-addressed store adapter. Put is idempotent: storing
// identical bytes twice returns the same hash and keeps one copy.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
	// Unpin releases the bytes under hash. Unpinning an unknown hash is not
	// an error.
	Unpin(ctx context.Context, hash string) error
}

// Pin describes one pinned blob.
type Pin struct {
	Hash     string
	Size     int64
	PinnedAt time.Time
}

// Lister is implemented by stores that can enumerate their pins, which the
// orphan sweep requires.
type Lister interface {
	Pins(ctx context.Context) ([]Pin, error)
}

// sha2-256 multihash prefix: function code 0x12, digest length 0x20.
var multihashPrefix = []byte{0x12, 0x20}

// ContentHash returns the CIDv0 form of data's SHA-256 digest: the base58btc
// encoding of the sha2-256 multihash.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	raw := make([]byte, 0, len(multihashPrefix)+len(sum))
	raw = append(raw, multihashPrefix...)
	raw = append(raw, sum[:]...)
	return base58.Encode(raw)
}

// ParseHash validates hash as a CIDv0 and returns its SHA-256 digest.
func ParseHash(hash string) ([]byte, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidHash)
	}
	raw, err := base58.Decode(hash)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	if len(raw) != len(multihashPrefix)+sha256.Size || !bytes.HasPrefix(raw, multihashPrefix) {
		return nil, fmt.Errorf("%w: not a sha2-256 multihash", ErrInvalidHash)
	}
	return raw[len(multihashPrefix):], nil
}

// Verify reports whether data hashes to hash.
func Verify(hash string, data []byte) error {
	digest, err := ParseHash(hash)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(data)
	if !bytes.Equal(digest, sum[:]) {
		return ErrCorrupt
	}
	return nil
}
