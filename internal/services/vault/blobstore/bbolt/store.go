// Package bbolt provides a local content-addressed blob store on BoltDB.
package bbolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/recordvault/internal/services/vault/blobstore"
	"go.etcd.io/bbolt"
)

const (
	blobBucket = "blobs"
	pinBucket  = "pins"
)

type pinRecord struct {
	Size     int64 `json:"size"`
	PinnedAt int64 `json:"pinned_at"`
}

// Store keeps blob bytes and pin metadata in two buckets keyed by content hash.
type Store struct {
	db  *bbolt.DB
	now func() time.Time
}

var (
	_ blobstore.Store  = (*Store)(nil)
	_ blobstore.Lister = (*Store)(nil)
)

// Open opens a BoltDB-backed blob store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open blob db: %w", err)
	}

	store := &Store{db: db, now: time.Now}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put stores data under its content hash and pins it. Every Put restarts
// the pin's age, so bytes uploaded again are not swept as an old orphan.
func (s *Store) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s == nil || s.db == nil {
		return "", fmt.Errorf("storage is not configured")
	}

	hash := blobstore.ContentHash(data)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		blobs := tx.Bucket([]byte(blobBucket))
		pins := tx.Bucket([]byte(pinBucket))
		if blobs == nil || pins == nil {
			return fmt.Errorf("blob buckets are missing")
		}
		if blobs.Get([]byte(hash)) == nil {
			// Bolt values are only valid for the transaction; Put copies.
			if err := blobs.Put([]byte(hash), data); err != nil {
				return fmt.Errorf("put blob: %w", err)
			}
		}
		record, err := json.Marshal(pinRecord{Size: int64(len(data)), PinnedAt: s.now().UTC().UnixMilli()})
		if err != nil {
			return fmt.Errorf("marshal pin: %w", err)
		}
		return pins.Put([]byte(hash), record)
	})
	if err != nil {
		return "", err
	}
	return hash, nil
}

// Get returns the bytes stored under hash after checking them against it.
func (s *Store) Get(ctx context.Context, hash string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if _, err := blobstore.ParseHash(hash); err != nil {
		return nil, err
	}

	var data []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		blobs := tx.Bucket([]byte(blobBucket))
		if blobs == nil {
			return fmt.Errorf("blob bucket is missing")
		}
		stored := blobs.Get([]byte(hash))
		if stored == nil {
			return blobstore.ErrNotFound
		}
		data = append([]byte(nil), stored...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := blobstore.Verify(hash, data); err != nil {
		return nil, fmt.Errorf("read %s: %w", hash, err)
	}
	return data, nil
}

// Unpin drops the pin and the bytes under hash.
func (s *Store) Unpin(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		blobs := tx.Bucket([]byte(blobBucket))
		pins := tx.Bucket([]byte(pinBucket))
		if blobs == nil || pins == nil {
			return fmt.Errorf("blob buckets are missing")
		}
		if err := pins.Delete([]byte(hash)); err != nil {
			return fmt.Errorf("delete pin: %w", err)
		}
		if err := blobs.Delete([]byte(hash)); err != nil {
			return fmt.Errorf("delete blob: %w", err)
		}
		return nil
	})
}

// Pins lists every pinned hash in key order.
func (s *Store) Pins(ctx context.Context) ([]blobstore.Pin, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	var out []blobstore.Pin
	err := s.db.View(func(tx *bbolt.Tx) error {
		pins := tx.Bucket([]byte(pinBucket))
		if pins == nil {
			return fmt.Errorf("pin bucket is missing")
		}
		return pins.ForEach(func(key, value []byte) error {
			var record pinRecord
			if err := json.Unmarshal(value, &record); err != nil {
				return fmt.Errorf("unmarshal pin %s: %w", key, err)
			}
			out = append(out, blobstore.Pin{
				Hash:     string(key),
				Size:     record.Size,
				PinnedAt: time.UnixMilli(record.PinnedAt).UTC(),
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{blobBucket, pinBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create %s bucket: %w", name, err)
			}
		}
		return nil
	})
}
