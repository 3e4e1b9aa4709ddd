// Package identity models registry entries: who an address is and what it may do.
package identity

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/recordvault/internal/platform/errors"
)

// Role names the capability set of an identity.
type Role string

const (
	// RoleSubject owns records and decides who may read them.
	RoleSubject Role = "subject"
	// RoleHandler requests access to subjects and reads or writes their records.
	RoleHandler Role = "handler"
	// RoleAdmin manages identities and may revoke grants in cleanup.
	RoleAdmin Role = "admin"
)

const maxDisplayNameLength = 200

// Identity is one registry entry. Addresses are never reused while active.
type Identity struct {
	Address       string
	DisplayName   string
	Role          Role
	Active        bool
	ProfileRef    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeactivatedAt *time.Time
}

// AddInput contains the fields an administrator supplies to register an identity.
type AddInput struct {
	Address     string
	DisplayName string
	Role        Role
	ProfileRef  string
}

// UpdateInput contains the mutable fields of an identity. Role is absent on purpose.
type UpdateInput struct {
	Address     string
	DisplayName string
	ProfileRef  string
}

// NormalizeAddress canonicalizes an address for storage and comparison.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// ParseRole converts user input into a Role.
func ParseRole(value string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(value))) {
	case RoleSubject:
		return RoleSubject, nil
	case RoleHandler:
		return RoleHandler, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", apperrors.WithMetadata(apperrors.CodeInvalidArgument, "role is invalid", map[string]string{
			apperrors.MetaRole: value,
		})
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// NormalizeAddInput canonicalizes and validates registration input.
func NormalizeAddInput(input AddInput) (AddInput, error) {
	input.Address = NormalizeAddress(input.Address)
	if input.Address == "" {
		return AddInput{}, apperrors.New(apperrors.CodeInvalidArgument, "address is required")
	}
	name, err := normalizeDisplayName(input.DisplayName)
	if err != nil {
		return AddInput{}, err
	}
	input.DisplayName = name
	role, err := ParseRole(string(input.Role))
	if err != nil {
		return AddInput{}, err
	}
	input.Role = role
	input.ProfileRef = strings.TrimSpace(input.ProfileRef)
	return input, nil
}

// NormalizeUpdateInput canonicalizes and validates update input.
func NormalizeUpdateInput(input UpdateInput) (UpdateInput, error) {
	input.Address = NormalizeAddress(input.Address)
	if input.Address == "" {
		return UpdateInput{}, apperrors.New(apperrors.CodeInvalidArgument, "address is required")
	}
	name, err := normalizeDisplayName(input.DisplayName)
	if err != nil {
		return UpdateInput{}, err
	}
	input.DisplayName = name
	input.ProfileRef = strings.TrimSpace(input.ProfileRef)
	return input, nil
}

// New builds an active identity from normalized input.
func New(input AddInput, now time.Time) Identity {
	return Identity{
		Address:     input.Address,
		DisplayName: input.DisplayName,
		Role:        input.Role,
		Active:      true,
		ProfileRef:  input.ProfileRef,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// IsAdmin reports whether the identity is an active administrator.
func (i Identity) IsAdmin() bool {
	return i.Active && i.Role == RoleAdmin
}

// CanUpdate reports whether caller may update the identity at address.
func CanUpdate(caller Identity, address string) bool {
	if !caller.Active {
		return false
	}
	return caller.Role == RoleAdmin || caller.Address == NormalizeAddress(address)
}

func normalizeDisplayName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "display name is required")
	}
	if len([]rune(name)) > maxDisplayNameLength {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "display name is too long")
	}
	return name, nil
}
