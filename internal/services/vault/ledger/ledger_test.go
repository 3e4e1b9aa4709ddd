package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/louisbranch/recordvault/internal/services/vault/domain/event"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/grant"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
)

func TestFilterMatch(t *testing.T) {
	evt := event.Event{
		Type:    event.TypeGrantRequested,
		Payload: event.MustPayload(event.GrantPayload{Subject: "0xs", Handler: "0xh", From: "none", To: "pending"}),
	}
	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"type match", Filter{Types: []event.Type{event.TypeGrantRequested}}, true},
		{"type miss", Filter{Types: []event.Type{event.TypeDocumentAdded}}, false},
		{"party subject", Filter{Party: "0xs"}, true},
		{"party handler", Filter{Party: "0xh"}, true},
		{"party miss", Filter{Party: "0xother"}, false},
		{"type and party", Filter{Types: []event.Type{event.TypeGrantRequested}, Party: "0xh"}, true},
	}
	for _, tc := range tests {
		if got := tc.filter.Match(evt); got != tc.want {
			t.Fatalf("%s: match = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestPreconditionsPrependImplicitGuard(t *testing.T) {
	m := TransitionGrant{
		Subject: "0xs",
		Handler: "0xh",
		From:    []grant.State{grant.StatePending},
		To:      grant.StateApproved,
		Guards:  []Guard{IdentityActive{Address: "0xs"}},
	}
	guards := m.Preconditions()
	if len(guards) != 2 {
		t.Fatalf("guards = %d, want 2", len(guards))
	}
	if _, ok := guards[0].(GrantIn); !ok {
		t.Fatalf("first guard = %T, want GrantIn", guards[0])
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		m    Mutation
		ok   bool
	}{
		{"nil", nil, false},
		{"add identity", AddIdentity{Identity: identity.Identity{Address: "0x1", Role: identity.RoleSubject}}, true},
		{"add identity bad role", AddIdentity{Identity: identity.Identity{Address: "0x1", Role: "x"}}, false},
		{"transition no from", TransitionGrant{Subject: "s", Handler: "h", To: grant.StatePending}, false},
		{"transition to none", TransitionGrant{Subject: "s", Handler: "h", From: []grant.State{grant.StatePending}, To: grant.StateNone}, false},
		{"remove document", RemoveDocument{Subject: "s", ContentHash: "Qm"}, true},
	}
	for _, tc := range tests {
		err := Validate(tc.m)
		if (err == nil) != tc.ok {
			t.Fatalf("%s: err = %v, want ok=%v", tc.name, err, tc.ok)
		}
	}
}

func TestGuardErrorMatching(t *testing.T) {
	err := fmt.Errorf("submit: %w", &GuardError{
		Guard:    GrantIn{Subject: "0xs", Handler: "0xh", States: []grant.State{grant.StatePending}},
		Observed: "approved",
	})
	if !errors.Is(err, ErrGuardFailed) {
		t.Fatal("expected ErrGuardFailed match")
	}
	guardErr, ok := FailedGuard(err)
	if !ok {
		t.Fatal("expected guard error")
	}
	if guardErr.Observed != "approved" {
		t.Fatalf("observed = %q", guardErr.Observed)
	}
	if guardErr.Error() != "guard failed: grant 0xs/0xh in pending (found approved)" {
		t.Fatalf("message = %q", guardErr.Error())
	}
}

func TestIdentityActiveAllowsRole(t *testing.T) {
	any := IdentityActive{Address: "0x1"}
	if !any.AllowsRole(identity.RoleSubject) {
		t.Fatal("expected empty role list to allow any role")
	}
	handlers := IdentityActive{Address: "0x1", Roles: []identity.Role{identity.RoleHandler}}
	if handlers.AllowsRole(identity.RoleAdmin) {
		t.Fatal("expected admin to be rejected")
	}
}
