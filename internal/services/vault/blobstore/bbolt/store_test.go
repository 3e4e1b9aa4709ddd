package bbolt

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/recordvault/internal/services/vault/blobstore"
	"go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "blobs.db"))
	if err != nil {
		t.Fatalf("open blob store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close blob store: %v", err)
		}
	})
	return store
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestPutGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	data := []byte("%PDF-1.7 lab results")

	hash, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if hash != blobstore.ContentHash(data) {
		t.Fatalf("hash = %q, want %q", hash, blobstore.ContentHash(data))
	}
	got, err := store.Get(ctx, hash)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("get = %q, want %q", got, data)
	}

	again, err := store.Put(ctx, data)
	if err != nil {
		t.Fatalf("second put: %v", err)
	}
	if again != hash {
		t.Fatalf("second put hash = %q", again)
	}
	pins, err := store.Pins(ctx)
	if err != nil {
		t.Fatalf("pins: %v", err)
	}
	if len(pins) != 1 || pins[0].Hash != hash || pins[0].Size != int64(len(data)) || pins[0].PinnedAt.IsZero() {
		t.Fatalf("pins = %+v", pins)
	}
}

func TestPutRestartsPinAge(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	data := []byte("orphaned scan")

	first := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return first }
	if _, err := store.Put(ctx, data); err != nil {
		t.Fatalf("put: %v", err)
	}

	later := first.Add(2 * time.Hour)
	store.now = func() time.Time { return later }
	if _, err := store.Put(ctx, data); err != nil {
		t.Fatalf("second put: %v", err)
	}
	pins, err := store.Pins(ctx)
	if err != nil {
		t.Fatalf("pins: %v", err)
	}
	if len(pins) != 1 || !pins[0].PinnedAt.Equal(later) {
		t.Fatalf("pins = %+v, want one pin at %v", pins, later)
	}
}

func TestGetMissingAndInvalid(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if _, err := store.Get(ctx, blobstore.ContentHash([]byte("never stored"))); !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("missing error = %v", err)
	}
	if _, err := store.Get(ctx, "not-a-hash"); !errors.Is(err, blobstore.ErrInvalidHash) {
		t.Fatalf("invalid error = %v", err)
	}
}

func TestGetDetectsCorruption(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	hash, err := store.Put(ctx, []byte("original"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	err = store.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(blobBucket)).Put([]byte(hash), []byte("tampered"))
	})
	if err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if _, err := store.Get(ctx, hash); !errors.Is(err, blobstore.ErrCorrupt) {
		t.Fatalf("error = %v, want ErrCorrupt", err)
	}
}

func TestUnpin(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	hash, err := store.Put(ctx, []byte("to remove"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Unpin(ctx, hash); err != nil {
		t.Fatalf("unpin: %v", err)
	}
	if _, err := store.Get(ctx, hash); !errors.Is(err, blobstore.ErrNotFound) {
		t.Fatalf("get after unpin error = %v", err)
	}
	if err := store.Unpin(ctx, hash); err != nil {
		t.Fatalf("second unpin: %v", err)
	}
	pins, err := store.Pins(ctx)
	if err != nil {
		t.Fatalf("pins: %v", err)
	}
	if len(pins) != 0 {
		t.Fatalf("pins = %+v", pins)
	}
}

func TestCancelledContext(t *testing.T) {
	store := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.Put(ctx, []byte("x")); !errors.Is(err, context.Canceled) {
		t.Fatalf("put error = %v", err)
	}
}
