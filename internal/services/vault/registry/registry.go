// Package registry owns identity and role truth: registration, profile
// updates, deactivation and the cascade that deactivation drives.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	apperrors "github.com/louisbranch/recordvault/internal/platform/errors"
	"github.com/louisbranch/recordvault/internal/platform/timeouts"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/event"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger"
)

// Store is the ledger surface the registry needs.
type Store interface {
	ledger.Reader
	ledger.Submitter
}

// SubjectCascade cleans up after a subject is deactivated. Implementations
// must be safe to re-run after a partial failure.
type SubjectCascade interface {
	CascadeSubject(ctx context.Context, actor, subject string) error
}

// Registry manages identities on the ledger and keeps a read replica of them.
type Registry struct {
	store    Store
	root     string
	replica  *replica
	mu       sync.RWMutex
	cascades []SubjectCascade
}

// Option configures a Registry.
type Option func(*Registry)

// WithCacheTTL sets how long read-replica entries live without invalidation.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		r.replica = newReplica(ttl)
	}
}

// New creates a registry. rootAddress names the administrator that can never
// be deactivated.
func New(store Store, rootAddress string, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	root := identity.NormalizeAddress(rootAddress)
	if root == "" {
		return nil, errors.New("root address is required")
	}
	r := &Registry{store: store, root: root, replica: newReplica(defaultCacheTTL)}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RootAddress returns the protected administrator address.
func (r *Registry) RootAddress() string {
	return r.root
}

// OnSubjectDeactivated registers cascades run, in order, after a subject is
// deactivated.
func (r *Registry) OnSubjectDeactivated(cascades ...SubjectCascade) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cascades = append(r.cascades, cascades...)
}

// Bootstrap makes sure the root administrator exists and is active.
func (r *Registry) Bootstrap(ctx context.Context, displayName string) (identity.Identity, error) {
	current, err := r.store.GetIdentity(ctx, r.root)
	switch {
	case err == nil && !current.Active:
		return identity.Identity{}, retired(r.root)
	case err == nil && current.Active:
		if current.Role != identity.RoleAdmin {
			return identity.Identity{}, apperrors.WithMetadata(apperrors.CodeInvalidArgument,
				"root address is registered without the admin role", map[string]string{
					apperrors.MetaAddress: r.root,
					apperrors.MetaRole:    string(current.Role),
				})
		}
		return current, nil
	case err != nil && !errors.Is(err, ledger.ErrNotFound):
		return identity.Identity{}, err
	}

	input, err := identity.NormalizeAddInput(identity.AddInput{
		Address:     r.root,
		DisplayName: displayName,
		Role:        identity.RoleAdmin,
	})
	if err != nil {
		return identity.Identity{}, err
	}
	ident := identity.New(input, time.Now().UTC())
	if _, err := r.submit(ctx, ledger.AddIdentity{Actor: r.root, Identity: ident}); err != nil {
		if guardErr, ok := ledger.FailedGuard(err); ok && guardErr.Observed == "active" {
			// Lost a race with another bootstrap.
			return r.store.GetIdentity(ctx, r.root)
		}
		return identity.Identity{}, err
	}
	log.Printf("bootstrapped root administrator %s", r.root)
	return r.fresh(ctx, r.root)
}

// AddIdentity registers an identity. Only an active administrator may call.
func (r *Registry) AddIdentity(ctx context.Context, caller string, input identity.AddInput) (identity.Identity, error) {
	input, err := identity.NormalizeAddInput(input)
	if err != nil {
		return identity.Identity{}, err
	}
	callerAddr, err := r.requireAdmin(ctx, caller)
	if err != nil {
		return identity.Identity{}, err
	}

	existing, err := r.store.GetIdentity(ctx, input.Address)
	switch {
	case err == nil && existing.Active:
		return identity.Identity{}, alreadyExists(input.Address)
	case err == nil:
		// Grants and documents naming a deactivated address outlive it, so
		// the address is never handed out again.
		return identity.Identity{}, retired(input.Address)
	case !errors.Is(err, ledger.ErrNotFound):
		return identity.Identity{}, err
	}

	_, err = r.submit(ctx, ledger.AddIdentity{
		Actor:    callerAddr,
		Identity: identity.New(input, time.Now().UTC()),
		Guards:   []ledger.Guard{adminGuard(callerAddr)},
	})
	if err != nil {
		return identity.Identity{}, r.guardFailure(err, callerAddr, input.Address)
	}
	return r.fresh(ctx, input.Address)
}

// UpdateIdentity changes display name and profile reference. The caller must
// be the identity itself or an active administrator.
func (r *Registry) UpdateIdentity(ctx context.Context, caller string, input identity.UpdateInput) (identity.Identity, error) {
	input, err := identity.NormalizeUpdateInput(input)
	if err != nil {
		return identity.Identity{}, err
	}
	callerIdent, err := r.activeCaller(ctx, caller)
	if err != nil {
		return identity.Identity{}, err
	}
	if !identity.CanUpdate(callerIdent, input.Address) {
		return identity.Identity{}, unauthorized(callerIdent.Address, "caller may not update this identity")
	}

	target, err := r.store.GetIdentity(ctx, input.Address)
	if errors.Is(err, ledger.ErrNotFound) || (err == nil && !target.Active) {
		return identity.Identity{}, notFound(input.Address)
	}
	if err != nil {
		return identity.Identity{}, err
	}

	mutation := ledger.UpdateIdentity{
		Actor:       callerIdent.Address,
		Address:     input.Address,
		DisplayName: input.DisplayName,
		ProfileRef:  input.ProfileRef,
	}
	if callerIdent.Address != input.Address {
		mutation.Guards = []ledger.Guard{adminGuard(callerIdent.Address)}
	}
	if _, err := r.submit(ctx, mutation); err != nil {
		return identity.Identity{}, r.guardFailure(err, callerIdent.Address, input.Address)
	}
	return r.fresh(ctx, input.Address)
}

// DeactivateIdentity soft-deletes an identity and, for subjects, runs the
// cascade. Deactivation is complete only when every cascade has succeeded;
// ResumeDeactivation finishes an interrupted one.
func (r *Registry) DeactivateIdentity(ctx context.Context, caller, address string) error {
	address = identity.NormalizeAddress(address)
	if address == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "address is required")
	}
	callerAddr, err := r.requireAdmin(ctx, caller)
	if err != nil {
		return err
	}
	if address == r.root {
		return apperrors.WithMetadata(apperrors.CodeProtectedIdentity, "root administrator cannot be deactivated",
			map[string]string{apperrors.MetaAddress: address})
	}
	if address == callerAddr {
		return apperrors.WithMetadata(apperrors.CodeCannotDeactivateSelf, "caller cannot deactivate itself",
			map[string]string{apperrors.MetaAddress: address})
	}

	target, err := r.store.GetIdentity(ctx, address)
	if errors.Is(err, ledger.ErrNotFound) || (err == nil && !target.Active) {
		return notFound(address)
	}
	if err != nil {
		return err
	}

	_, err = r.submit(ctx, ledger.DeactivateIdentity{
		Actor:   callerAddr,
		Address: address,
		Guards:  []ledger.Guard{adminGuard(callerAddr)},
	})
	if err != nil {
		return r.guardFailure(err, callerAddr, address)
	}
	return r.cascade(ctx, callerAddr, target)
}

// ResumeDeactivation re-runs the cascade for an identity that is already
// inactive.
func (r *Registry) ResumeDeactivation(ctx context.Context, caller, address string) error {
	address = identity.NormalizeAddress(address)
	callerAddr, err := r.requireAdmin(ctx, caller)
	if err != nil {
		return err
	}
	target, err := r.store.GetIdentity(ctx, address)
	if errors.Is(err, ledger.ErrNotFound) {
		return notFound(address)
	}
	if err != nil {
		return err
	}
	if target.Active {
		return apperrors.WithMetadata(apperrors.CodeIdentityStillActive, "identity is still active",
			map[string]string{apperrors.MetaAddress: address})
	}
	return r.cascade(ctx, callerAddr, target)
}

func (r *Registry) cascade(ctx context.Context, actor string, target identity.Identity) error {
	if target.Role != identity.RoleSubject {
		return nil
	}
	r.mu.RLock()
	cascades := slices.Clone(r.cascades)
	r.mu.RUnlock()

	for _, c := range cascades {
		if err := c.CascadeSubject(ctx, actor, target.Address); err != nil {
			log.Printf("deactivation cascade for %s incomplete: %v", target.Address, err)
			return err
		}
	}
	return nil
}

// ResolveRole returns the role of the active identity at address.
func (r *Registry) ResolveRole(ctx context.Context, address string) (identity.Role, error) {
	ident, err := r.Lookup(ctx, address)
	if err != nil {
		return "", err
	}
	if !ident.Active {
		return "", notFound(ident.Address)
	}
	return ident.Role, nil
}

// Lookup returns the identity at address, active or not, from the replica
// when possible.
func (r *Registry) Lookup(ctx context.Context, address string) (identity.Identity, error) {
	address = identity.NormalizeAddress(address)
	if address == "" {
		return identity.Identity{}, apperrors.New(apperrors.CodeInvalidArgument, "address is required")
	}
	if ident, ok := r.replica.identity(address); ok {
		return ident, nil
	}
	ident, err := r.store.GetIdentity(ctx, address)
	if errors.Is(err, ledger.ErrNotFound) {
		return identity.Identity{}, notFound(address)
	}
	if err != nil {
		return identity.Identity{}, err
	}
	r.replica.storeIdentity(ident)
	return ident, nil
}

// ListActive returns active identities with role, or all active identities
// when role is empty.
func (r *Registry) ListActive(ctx context.Context, role identity.Role) ([]identity.Identity, error) {
	if role != "" && !role.Valid() {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidArgument, "role is invalid",
			map[string]string{apperrors.MetaRole: string(role)})
	}
	if list, ok := r.replica.active(role); ok {
		return slices.Clone(list), nil
	}
	list, err := r.store.ListIdentities(ctx, role, true)
	if err != nil {
		return nil, err
	}
	r.replica.storeActive(role, list)
	return slices.Clone(list), nil
}

// Observe invalidates replica entries touched by a journal event, including
// events confirmed by other processes.
func (r *Registry) Observe(evt event.Event) {
	if evt.Type.Category() != "identity" {
		return
	}
	var payload event.IdentityPayload
	if err := evt.Decode(&payload); err != nil {
		r.replica.flush()
		return
	}
	r.replica.invalidate(payload.Address)
}

// fresh reads the identity from the ledger and refreshes the replica.
func (r *Registry) fresh(ctx context.Context, address string) (identity.Identity, error) {
	r.replica.invalidate(address)
	ident, err := r.store.GetIdentity(ctx, address)
	if err != nil {
		return identity.Identity{}, err
	}
	r.replica.storeIdentity(ident)
	return ident, nil
}

func (r *Registry) submit(ctx context.Context, mutation ledger.Mutation) (ledger.Confirmation, error) {
	ctx, cancel := context.WithTimeout(ctx, timeouts.LedgerSubmit)
	defer cancel()
	conf, err := r.store.Submit(ctx, mutation)
	if err == nil {
		switch m := mutation.(type) {
		case ledger.AddIdentity:
			r.replica.invalidate(m.Identity.Address)
		case ledger.UpdateIdentity:
			r.replica.invalidate(m.Address)
		case ledger.DeactivateIdentity:
			r.replica.invalidate(m.Address)
		}
	}
	return conf, err
}

// activeCaller loads the caller from the ledger, never the replica.
func (r *Registry) activeCaller(ctx context.Context, caller string) (identity.Identity, error) {
	caller = identity.NormalizeAddress(caller)
	if caller == "" {
		return identity.Identity{}, unauthorized(caller, "caller is required")
	}
	ident, err := r.store.GetIdentity(ctx, caller)
	if errors.Is(err, ledger.ErrNotFound) || (err == nil && !ident.Active) {
		return identity.Identity{}, unauthorized(caller, "caller is not an active identity")
	}
	if err != nil {
		return identity.Identity{}, err
	}
	return ident, nil
}

func (r *Registry) requireAdmin(ctx context.Context, caller string) (string, error) {
	ident, err := r.activeCaller(ctx, caller)
	if err != nil {
		return "", err
	}
	if !ident.IsAdmin() {
		return "", unauthorized(ident.Address, "caller is not an administrator")
	}
	return ident.Address, nil
}

// guardFailure translates a failed ledger guard into the registry's codes.
func (r *Registry) guardFailure(err error, caller, target string) error {
	guardErr, ok := ledger.FailedGuard(err)
	if !ok {
		return err
	}
	switch g := guardErr.Guard.(type) {
	case ledger.IdentityAbsent:
		if guardErr.Observed == "inactive" {
			return retired(g.Address)
		}
		return alreadyExists(g.Address)
	case ledger.IdentityActive:
		if g.Address == caller {
			return unauthorized(caller, "caller authority changed before confirmation")
		}
	}
	return apperrors.WrapWithMetadata(apperrors.CodeStaleState, "identity changed before confirmation",
		map[string]string{apperrors.MetaAddress: target, apperrors.MetaState: guardErr.Observed}, err)
}

func adminGuard(address string) ledger.Guard {
	return ledger.IdentityActive{Address: address, Roles: []identity.Role{identity.RoleAdmin}}
}

func unauthorized(caller, message string) error {
	return apperrors.WithMetadata(apperrors.CodeUnauthorized, message, map[string]string{apperrors.MetaCaller: caller})
}

func notFound(address string) error {
	return apperrors.WithMetadata(apperrors.CodeIdentityNotFound, fmt.Sprintf("identity %s not found", address),
		map[string]string{apperrors.MetaAddress: address})
}

func alreadyExists(address string) error {
	return apperrors.WithMetadata(apperrors.CodeIdentityAlreadyExists, "an active identity already holds this address",
		map[string]string{apperrors.MetaAddress: address})
}

func retired(address string) error {
	return apperrors.WithMetadata(apperrors.CodeIdentityAlreadyExists, "address belongs to a deactivated identity and cannot be reused",
		map[string]string{apperrors.MetaAddress: address})
}
