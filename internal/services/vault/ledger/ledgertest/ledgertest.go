// Package ledgertest opens throwaway SQLite ledgers for package tests.
package ledgertest

import (
	"path/filepath"
	"testing"

	"github.com/louisbranch/recordvault/internal/services/vault/ledger/integrity"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger/sqlite"
)

// Keyring returns a single-key journal keyring.
func Keyring(t testing.TB) *integrity.Keyring {
	t.Helper()
	keyring, err := integrity.NewKeyring(
		map[string][]byte{"test-key-1": []byte("0123456789abcdef0123456789abcdef")},
		"test-key-1",
	)
	if err != nil {
		t.Fatalf("create test keyring: %v", err)
	}
	return keyring
}

// Open opens a ledger in a temporary directory, closed on cleanup.
func Open(t testing.TB, opts ...sqlite.Option) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "ledger.sqlite"), Keyring(t), opts...)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close ledger: %v", err)
		}
	})
	return store
}
