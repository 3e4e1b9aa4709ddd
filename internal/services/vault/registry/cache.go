package registry

import (
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
)

const (
	defaultCacheTTL      = 30 * time.Second
	cacheCleanupInterval = time.Minute

	identityKeyPrefix = "identity/"
	activeKeyPrefix   = "active/"
)

// replica is the read-side identity cache. It never decides a side-effecting
// authorization; those always read the ledger.
type replica struct {
	cache *gocache.Cache
}

func newReplica(ttl time.Duration) *replica {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &replica{cache: gocache.New(ttl, cacheCleanupInterval)}
}

func (r *replica) identity(address string) (identity.Identity, bool) {
	value, found := r.cache.Get(identityKeyPrefix + address)
	if !found {
		return identity.Identity{}, false
	}
	ident, ok := value.(identity.Identity)
	return ident, ok
}

func (r *replica) storeIdentity(ident identity.Identity) {
	r.cache.SetDefault(identityKeyPrefix+ident.Address, ident)
}

func (r *replica) active(role identity.Role) ([]identity.Identity, bool) {
	value, found := r.cache.Get(activeKeyPrefix + string(role))
	if !found {
		return nil, false
	}
	list, ok := value.([]identity.Identity)
	return list, ok
}

func (r *replica) storeActive(role identity.Role, list []identity.Identity) {
	r.cache.SetDefault(activeKeyPrefix+string(role), list)
}

// invalidate drops the address entry and every role listing, since a
// change to one identity can move it in or out of any of them.
func (r *replica) invalidate(address string) {
	r.cache.Delete(identityKeyPrefix + address)
	for key := range r.cache.Items() {
		if strings.HasPrefix(key, activeKeyPrefix) {
			r.cache.Delete(key)
		}
	}
}

func (r *replica) flush() {
	r.cache.Flush()
}
