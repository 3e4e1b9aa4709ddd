package registry

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/louisbranch/recordvault/internal/platform/errors"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/event"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger/ledgertest"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger/sqlite"
)

const root = "0xroot"

type recordingCascade struct {
	calls []string
	err   error
}

func (c *recordingCascade) CascadeSubject(_ context.Context, actor, subject string) error {
	c.calls = append(c.calls, actor+"->"+subject)
	return c.err
}

func newTestRegistry(t *testing.T) (*Registry, *sqlite.Store) {
	t.Helper()
	store := ledgertest.Open(t)
	reg, err := New(store, root)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if _, err := reg.Bootstrap(context.Background(), "Root"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return reg, store
}

func mustAdd(t *testing.T, reg *Registry, caller, address string, role identity.Role) identity.Identity {
	t.Helper()
	ident, err := reg.AddIdentity(context.Background(), caller, identity.AddInput{Address: address, DisplayName: address, Role: role})
	if err != nil {
		t.Fatalf("add %s: %v", address, err)
	}
	return ident
}

func assertCode(t *testing.T, err error, code apperrors.Code) {
	t.Helper()
	if !apperrors.HasCode(err, code) {
		t.Fatalf("error = %v, want code %s", err, code)
	}
}

func TestNewValidatesArguments(t *testing.T) {
	if _, err := New(nil, root); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := New(ledgertest.Open(t), "  "); err == nil {
		t.Fatal("expected error for empty root")
	}
}

func TestBootstrapIsIdempotent(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	again, err := reg.Bootstrap(ctx, "Root")
	if err != nil {
		t.Fatalf("second bootstrap: %v", err)
	}
	if again.Address != root || again.Role != identity.RoleAdmin || !again.Active {
		t.Fatalf("root = %+v", again)
	}
	seq, err := store.LatestSeq(ctx)
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if seq != 1 {
		t.Fatalf("journal length = %d, want 1", seq)
	}
}

func TestAddIdentity(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()

	alice, err := reg.AddIdentity(ctx, root, identity.AddInput{Address: " 0xALICE ", DisplayName: "Alice", Role: identity.RoleSubject})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if alice.Address != "0xalice" || !alice.Active || alice.Role != identity.RoleSubject {
		t.Fatalf("alice = %+v", alice)
	}

	_, err = reg.AddIdentity(ctx, root, identity.AddInput{Address: "0xalice", DisplayName: "Other", Role: identity.RoleHandler})
	assertCode(t, err, apperrors.CodeIdentityAlreadyExists)

	_, err = reg.AddIdentity(ctx, "0xalice", identity.AddInput{Address: "0xbob", DisplayName: "Bob", Role: identity.RoleHandler})
	assertCode(t, err, apperrors.CodeUnauthorized)

	_, err = reg.AddIdentity(ctx, "0xnobody", identity.AddInput{Address: "0xbob", DisplayName: "Bob", Role: identity.RoleHandler})
	assertCode(t, err, apperrors.CodeUnauthorized)

	_, err = reg.AddIdentity(ctx, root, identity.AddInput{Address: "0xbob", DisplayName: "Bob", Role: "doctor"})
	assertCode(t, err, apperrors.CodeInvalidArgument)

	// Root bootstrap plus one add; rejected calls append nothing.
	seq, err := store.LatestSeq(ctx)
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if seq != 2 {
		t.Fatalf("journal length = %d, want 2", seq)
	}
}

func TestUpdateIdentity(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	mustAdd(t, reg, root, "0xalice", identity.RoleSubject)
	mustAdd(t, reg, root, "0xbob", identity.RoleHandler)

	updated, err := reg.UpdateIdentity(ctx, "0xalice", identity.UpdateInput{Address: "0xalice", DisplayName: "Alice Smith", ProfileRef: "QmProfile"})
	if err != nil {
		t.Fatalf("self update: %v", err)
	}
	if updated.DisplayName != "Alice Smith" || updated.ProfileRef != "QmProfile" || updated.Role != identity.RoleSubject {
		t.Fatalf("updated = %+v", updated)
	}

	if _, err := reg.UpdateIdentity(ctx, root, identity.UpdateInput{Address: "0xalice", DisplayName: "By Admin"}); err != nil {
		t.Fatalf("admin update: %v", err)
	}

	_, err = reg.UpdateIdentity(ctx, "0xbob", identity.UpdateInput{Address: "0xalice", DisplayName: "Hijack"})
	assertCode(t, err, apperrors.CodeUnauthorized)

	_, err = reg.UpdateIdentity(ctx, root, identity.UpdateInput{Address: "0xghost", DisplayName: "Ghost"})
	assertCode(t, err, apperrors.CodeIdentityNotFound)
}

func TestDeactivateIdentityRules(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	mustAdd(t, reg, root, "0xadmin2", identity.RoleAdmin)
	mustAdd(t, reg, root, "0xbob", identity.RoleHandler)

	tests := []struct {
		name    string
		caller  string
		address string
		code    apperrors.Code
	}{
		{name: "root is protected", caller: "0xadmin2", address: root, code: apperrors.CodeProtectedIdentity},
		{name: "root cannot deactivate itself", caller: root, address: root, code: apperrors.CodeProtectedIdentity},
		{name: "self", caller: "0xadmin2", address: "0xadmin2", code: apperrors.CodeCannotDeactivateSelf},
		{name: "non admin", caller: "0xbob", address: "0xadmin2", code: apperrors.CodeUnauthorized},
		{name: "unknown target", caller: root, address: "0xghost", code: apperrors.CodeIdentityNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assertCode(t, reg.DeactivateIdentity(ctx, tt.caller, tt.address), tt.code)
		})
	}

	if err := reg.DeactivateIdentity(ctx, root, "0xbob"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	assertCode(t, reg.DeactivateIdentity(ctx, root, "0xbob"), apperrors.CodeIdentityNotFound)
	_, err := reg.ResolveRole(ctx, "0xbob")
	assertCode(t, err, apperrors.CodeIdentityNotFound)
}

func TestDeactivateSubjectRunsCascadesInOrder(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	mustAdd(t, reg, root, "0xalice", identity.RoleSubject)
	mustAdd(t, reg, root, "0xbob", identity.RoleHandler)

	first := &recordingCascade{}
	second := &recordingCascade{}
	reg.OnSubjectDeactivated(first, second)

	if err := reg.DeactivateIdentity(ctx, root, "0xbob"); err != nil {
		t.Fatalf("deactivate handler: %v", err)
	}
	if len(first.calls) != 0 {
		t.Fatalf("handler deactivation ran subject cascade: %v", first.calls)
	}

	if err := reg.DeactivateIdentity(ctx, root, "0xalice"); err != nil {
		t.Fatalf("deactivate subject: %v", err)
	}
	if len(first.calls) != 1 || first.calls[0] != root+"->0xalice" || len(second.calls) != 1 {
		t.Fatalf("cascade calls = %v / %v", first.calls, second.calls)
	}
}

func TestResumeDeactivationAfterCascadeFailure(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	mustAdd(t, reg, root, "0xalice", identity.RoleSubject)

	failing := &recordingCascade{err: apperrors.New(apperrors.CodeLedgerUnavailable, "ledger down")}
	reg.OnSubjectDeactivated(failing)

	err := reg.DeactivateIdentity(ctx, root, "0xalice")
	assertCode(t, err, apperrors.CodeLedgerUnavailable)

	ident, lookupErr := reg.Lookup(ctx, "0xalice")
	if lookupErr != nil {
		t.Fatalf("lookup: %v", lookupErr)
	}
	if ident.Active {
		t.Fatal("identity should be inactive even though cascade failed")
	}

	failing.err = nil
	if err := reg.ResumeDeactivation(ctx, root, "0xalice"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if len(failing.calls) != 2 {
		t.Fatalf("cascade calls = %v", failing.calls)
	}

	mustAdd(t, reg, root, "0xcarol", identity.RoleSubject)
	assertCode(t, reg.ResumeDeactivation(ctx, root, "0xcarol"), apperrors.CodeIdentityStillActive)
}

func TestDeactivatedAddressIsNotReused(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()
	mustAdd(t, reg, root, "0xalice", identity.RoleSubject)
	if err := reg.DeactivateIdentity(ctx, root, "0xalice"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	before, err := store.LatestSeq(ctx)
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}

	_, err = reg.AddIdentity(ctx, root, identity.AddInput{Address: "0xalice", DisplayName: "Alice", Role: identity.RoleHandler})
	assertCode(t, err, apperrors.CodeIdentityAlreadyExists)

	got, err := store.GetIdentity(ctx, "0xalice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Active || got.Role != identity.RoleSubject {
		t.Fatalf("identity after refused re-add = %+v", got)
	}
	after, err := store.LatestSeq(ctx)
	if err != nil {
		t.Fatalf("latest seq: %v", err)
	}
	if after != before {
		t.Fatalf("journal grew from %d to %d on a refused re-add", before, after)
	}
}

func TestListActiveReflectsMutations(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()
	mustAdd(t, reg, root, "0xbob", identity.RoleHandler)

	handlers, err := reg.ListActive(ctx, identity.RoleHandler)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(handlers) != 1 {
		t.Fatalf("handlers = %+v", handlers)
	}

	mustAdd(t, reg, root, "0xdan", identity.RoleHandler)
	handlers, err = reg.ListActive(ctx, identity.RoleHandler)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(handlers) != 2 {
		t.Fatalf("cached listing not invalidated: %+v", handlers)
	}

	if err := reg.DeactivateIdentity(ctx, root, "0xbob"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	handlers, err = reg.ListActive(ctx, identity.RoleHandler)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(handlers) != 1 || handlers[0].Address != "0xdan" {
		t.Fatalf("handlers after deactivation = %+v", handlers)
	}

	if _, err := reg.ListActive(ctx, "doctor"); !apperrors.HasCode(err, apperrors.CodeInvalidArgument) {
		t.Fatalf("invalid role error = %v", err)
	}
}

func TestObserveInvalidatesExternalChanges(t *testing.T) {
	reg, store := newTestRegistry(t)
	ctx := context.Background()
	mustAdd(t, reg, root, "0xalice", identity.RoleSubject)
	if _, err := reg.Lookup(ctx, "0xalice"); err != nil {
		t.Fatalf("lookup: %v", err)
	}

	// Another process deactivates the identity directly on the ledger.
	conf, err := store.Submit(ctx, ledger.DeactivateIdentity{Actor: root, Address: "0xalice"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	stale, err := reg.Lookup(ctx, "0xalice")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !stale.Active {
		t.Fatal("expected replica to still hold the active identity")
	}

	events, err := store.ListEvents(ctx, conf.Seq-1, 1)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	reg.Observe(events[0])
	fresh, err := reg.Lookup(ctx, "0xalice")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if fresh.Active {
		t.Fatal("replica not invalidated by observed event")
	}

	reg.Observe(event.Event{Type: event.TypeGrantRequested})
}

func TestLookupUnknown(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Lookup(context.Background(), "0xghost")
	if !errors.Is(err, apperrors.New(apperrors.CodeIdentityNotFound, "")) {
		t.Fatalf("error = %v", err)
	}
}
