// Package event defines the journal entries appended for every confirmed
// registry, consent and custody mutation.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type names a journal entry.
type Type string

const (
	TypeIdentityAdded       Type = "identity.added"
	TypeIdentityUpdated     Type = "identity.updated"
	TypeIdentityDeactivated Type = "identity.deactivated"

	TypeGrantRequested Type = "grant.requested"
	TypeGrantApproved  Type = "grant.approved"
	TypeGrantRejected  Type = "grant.rejected"
	TypeGrantRevoked   Type = "grant.revoked"

	TypeDocumentAdded   Type = "document.added"
	TypeDocumentRemoved Type = "document.removed"
)

// Event is one confirmed journal entry. Seq is assigned by the ledger and is
// unique and gapless; it is the only ordering consumers may rely on.
type Event struct {
	Seq       uint64
	ID        string
	Type      Type
	Key       string
	Actor     string
	Payload   json.RawMessage
	Timestamp time.Time

	Hash      string
	PrevHash  string
	ChainHash string
	Signature string
	KeyID     string
}

// IdentityPayload describes the identity state carried by identity events.
type IdentityPayload struct {
	Address     string `json:"address"`
	DisplayName string `json:"display_name,omitempty"`
	Role        string `json:"role,omitempty"`
	ProfileRef  string `json:"profile_ref,omitempty"`
}

// GrantPayload describes one grant transition.
type GrantPayload struct {
	Subject string `json:"subject"`
	Handler string `json:"handler"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// DocumentPayload describes one document index change.
type DocumentPayload struct {
	Subject     string `json:"subject"`
	ContentHash string `json:"content_hash"`
	Name        string `json:"name,omitempty"`
	UploadedBy  string `json:"uploaded_by,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// IdentityKey is the reconciliation key for an identity.
func IdentityKey(address string) string {
	return "identity/" + address
}

// GrantKey is the reconciliation key for a (subject, handler) pair.
func GrantKey(subject, handler string) string {
	return "grant/" + subject + "/" + handler
}

// DocumentKey is the reconciliation key for a (subject, content hash) pair.
func DocumentKey(subject, contentHash string) string {
	return "document/" + subject + "/" + contentHash
}

// Category returns the prefix of the type ("identity", "grant", "document").
func (t Type) Category() string {
	for i := 0; i < len(t); i++ {
		if t[i] == '.' {
			return string(t[:i])
		}
	}
	return string(t)
}

// Decode unmarshals the payload into target.
func (e Event) Decode(target any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %d has no payload", e.Seq)
	}
	if err := json.Unmarshal(e.Payload, target); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Parties returns the addresses an event concerns, used by subscription filters.
func (e Event) Parties() []string {
	switch e.Type.Category() {
	case "identity":
		var p IdentityPayload
		if e.Decode(&p) == nil {
			return []string{p.Address}
		}
	case "grant":
		var p GrantPayload
		if e.Decode(&p) == nil {
			return []string{p.Subject, p.Handler}
		}
	case "document":
		var p DocumentPayload
		if e.Decode(&p) == nil {
			return []string{p.Subject, p.UploadedBy}
		}
	}
	return nil
}

// GrantEventType maps a target grant state to the event recorded for it.
func GrantEventType(to string) (Type, error) {
	switch to {
	case "pending":
		return TypeGrantRequested, nil
	case "approved":
		return TypeGrantApproved, nil
	case "rejected":
		return TypeGrantRejected, nil
	case "revoked":
		return TypeGrantRevoked, nil
	default:
		return "", fmt.Errorf("no grant event for state %q", to)
	}
}

// MustPayload marshals a payload struct. Payload types only hold strings and
// integers, so marshal errors are programming errors.
func MustPayload(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("marshal event payload: %v", err))
	}
	return data
}
