package identity

import (
	"strings"
	"testing"
	"time"

	apperrors "github.com/louisbranch/recordvault/internal/platform/errors"
)

func TestNormalizeAddInput(t *testing.T) {
	got, err := NormalizeAddInput(AddInput{
		Address:     "  0xABCdef ",
		DisplayName: " Dr. Ana ",
		Role:        "Handler",
		ProfileRef:  " Qm123 ",
	})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got.Address != "0xabcdef" {
		t.Fatalf("address = %q, want 0xabcdef", got.Address)
	}
	if got.DisplayName != "Dr. Ana" {
		t.Fatalf("display name = %q", got.DisplayName)
	}
	if got.Role != RoleHandler {
		t.Fatalf("role = %q, want handler", got.Role)
	}
	if got.ProfileRef != "Qm123" {
		t.Fatalf("profile ref = %q", got.ProfileRef)
	}
}

func TestNormalizeAddInputRejects(t *testing.T) {
	tests := []struct {
		name  string
		input AddInput
	}{
		{name: "empty address", input: AddInput{DisplayName: "A", Role: RoleSubject}},
		{name: "empty name", input: AddInput{Address: "0x1", Role: RoleSubject}},
		{name: "long name", input: AddInput{Address: "0x1", DisplayName: strings.Repeat("a", 201), Role: RoleSubject}},
		{name: "bad role", input: AddInput{Address: "0x1", DisplayName: "A", Role: "nurse"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NormalizeAddInput(tc.input)
			if apperrors.CodeOf(err) != apperrors.CodeInvalidArgument {
				t.Fatalf("code = %s, want %s", apperrors.CodeOf(err), apperrors.CodeInvalidArgument)
			}
		})
	}
}

func TestNormalizeUpdateInputKeepsEmptyProfile(t *testing.T) {
	got, err := NormalizeUpdateInput(UpdateInput{Address: "0xA", DisplayName: "Bo"})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if got.Address != "0xa" || got.ProfileRef != "" {
		t.Fatalf("unexpected normalized input %+v", got)
	}
}

func TestNewIsActive(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ident := New(AddInput{Address: "0x1", DisplayName: "A", Role: RoleAdmin}, now)
	if !ident.Active || !ident.IsAdmin() {
		t.Fatalf("expected active admin, got %+v", ident)
	}
	if !ident.CreatedAt.Equal(now) || !ident.UpdatedAt.Equal(now) {
		t.Fatalf("timestamps = %v/%v", ident.CreatedAt, ident.UpdatedAt)
	}
}

func TestCanUpdate(t *testing.T) {
	admin := Identity{Address: "0xa", Role: RoleAdmin, Active: true}
	self := Identity{Address: "0xs", Role: RoleSubject, Active: true}
	inactiveAdmin := Identity{Address: "0xb", Role: RoleAdmin}

	if !CanUpdate(admin, "0xs") {
		t.Fatal("expected admin to update others")
	}
	if !CanUpdate(self, " 0xS ") {
		t.Fatal("expected self update")
	}
	if CanUpdate(self, "0xother") {
		t.Fatal("expected subject to be denied updating others")
	}
	if CanUpdate(inactiveAdmin, "0xs") {
		t.Fatal("expected inactive admin to be denied")
	}
}
