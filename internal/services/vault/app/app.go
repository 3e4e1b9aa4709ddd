// Package app assembles the vault runtime: ledger, blob store, registry,
// consent engine, custody and the MCP tool surface.
package app

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/recordvault/internal/services/vault/blobstore"
	blobbolt "github.com/louisbranch/recordvault/internal/services/vault/blobstore/bbolt"
	"github.com/louisbranch/recordvault/internal/services/vault/blobstore/ipfs"
	"github.com/louisbranch/recordvault/internal/services/vault/callertoken"
	"github.com/louisbranch/recordvault/internal/services/vault/consent"
	"github.com/louisbranch/recordvault/internal/services/vault/custody"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger/integrity"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger/sqlite"
	"github.com/louisbranch/recordvault/internal/services/vault/registry"
)

// Blob backends.
const (
	BlobBackendBolt = "bbolt"
	BlobBackendIPFS = "ipfs"
)

// Config holds vault runtime configuration.
type Config struct {
	DBPath           string        `env:"DB_PATH" envDefault:"data/recordvault.sqlite"`
	BlobBackend      string        `env:"BLOB_BACKEND" envDefault:"bbolt"`
	BlobPath         string        `env:"BLOB_PATH" envDefault:"data/blobs.db"`
	IPFSAPIURL       string        `env:"IPFS_API_URL" envDefault:"http://127.0.0.1:5001"`
	RootAddress      string        `env:"ROOT_ADDRESS"`
	RootName         string        `env:"ROOT_NAME" envDefault:"Root"`
	HealthAddr       string        `env:"HEALTH_ADDR"`
	Locale           string        `env:"LOCALE" envDefault:"en-US"`
	RegistryCacheTTL time.Duration `env:"REGISTRY_CACHE_TTL" envDefault:"30s"`

	Custody     custody.Config
	CallerToken callertoken.Config
}

// Vault owns the opened stores and the services built on them.
type Vault struct {
	cfg        Config
	store      *sqlite.Store
	blobs      blobstore.Store
	closeBlobs func() error
	consent    *consent.Engine
	janitor    *custody.Janitor
	manager    *custody.Manager
}

// Open opens the ledger and blob store and builds the custody services.
// The journal keyring comes from the environment.
func Open(cfg Config) (*Vault, error) {
	keyring, err := integrity.KeyringFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load journal keyring: %w", err)
	}
	return OpenWithKeyring(cfg, keyring)
}

// OpenWithKeyring is Open with an explicit journal keyring.
func OpenWithKeyring(cfg Config, keyring *integrity.Keyring) (*Vault, error) {
	if err := ensureDir(cfg.DBPath); err != nil {
		return nil, err
	}
	store, err := sqlite.Open(cfg.DBPath, keyring)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	blobs, closeBlobs, err := openBlobStore(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	v := &Vault{cfg: cfg, store: store, blobs: blobs, closeBlobs: closeBlobs}
	if err := v.build(); err != nil {
		_ = v.Close()
		return nil, err
	}
	return v, nil
}

func (v *Vault) build() error {
	var err error
	if v.consent, err = consent.New(v.store); err != nil {
		return fmt.Errorf("consent engine: %w", err)
	}
	if v.janitor, err = custody.NewJanitor(v.store, v.blobs, v.cfg.Custody.UnpinQueueSize); err != nil {
		return fmt.Errorf("janitor: %w", err)
	}
	if v.manager, err = custody.NewManager(v.store, v.blobs, v.consent, v.janitor, v.cfg.Custody); err != nil {
		return fmt.Errorf("custody manager: %w", err)
	}
	return nil
}

// Close releases the blob store and the ledger.
func (v *Vault) Close() error {
	var errs []error
	if v.closeBlobs != nil {
		errs = append(errs, v.closeBlobs())
	}
	if v.store != nil {
		errs = append(errs, v.store.Close())
	}
	return errors.Join(errs...)
}

// registry builds the identity registry, wires the deactivation cascades in
// consent-then-custody order and makes sure the root administrator exists.
func (v *Vault) registry(ctx context.Context) (*registry.Registry, error) {
	reg, err := registry.New(v.store, v.cfg.RootAddress, registry.WithCacheTTL(v.cfg.RegistryCacheTTL))
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	reg.OnSubjectDeactivated(v.consent, v.manager)
	if _, err := reg.Bootstrap(ctx, v.cfg.RootName); err != nil {
		return nil, fmt.Errorf("bootstrap root: %w", err)
	}
	return reg, nil
}

func openBlobStore(cfg Config) (blobstore.Store, func() error, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.BlobBackend)) {
	case "", BlobBackendBolt:
		if err := ensureDir(cfg.BlobPath); err != nil {
			return nil, nil, err
		}
		store, err := blobbolt.Open(cfg.BlobPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open blob store: %w", err)
		}
		return store, store.Close, nil
	case BlobBackendIPFS:
		client, err := ipfs.New(cfg.IPFSAPIURL)
		if err != nil {
			return nil, nil, fmt.Errorf("ipfs client: %w", err)
		}
		log.Printf("using ipfs node at %s", cfg.IPFSAPIURL)
		return client, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown blob backend %q", cfg.BlobBackend)
	}
}

func ensureDir(path string) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("storage path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
	}
	return nil
}

// verifier builds the caller token verifier. The public key may be derived
// from a configured private key.
func verifier(cfg callertoken.Config) (*callertoken.Verifier, error) {
	var pub ed25519.PublicKey
	switch {
	case strings.TrimSpace(cfg.PublicKey) != "":
		key, err := callertoken.ParsePublicKey(cfg.PublicKey)
		if err != nil {
			return nil, err
		}
		pub = key
	case strings.TrimSpace(cfg.PrivateKey) != "":
		key, err := callertoken.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		pub = key.Public().(ed25519.PublicKey)
	default:
		return nil, errors.New("caller token public key is required")
	}
	return callertoken.NewVerifier(cfg.Issuer, cfg.Audience, pub)
}
