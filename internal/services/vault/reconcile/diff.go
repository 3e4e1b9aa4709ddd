package reconcile

import (
	"fmt"
	"sort"

	"github.com/louisbranch/recordvault/internal/services/vault/domain/document"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/event"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/grant"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger"
)

// Mismatch is one key where the replayed state and the ledger views disagree.
// An empty side means the key is absent there.
type Mismatch struct {
	Key      string
	Replayed string
	Ledger   string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: replayed %q, ledger %q", m.Key, m.Replayed, m.Ledger)
}

// Diff compares a replayed state with a ledger snapshot taken at the same
// sequence. Timestamps are not compared.
func Diff(state *State, snap ledger.Snapshot) []Mismatch {
	var out []Mismatch
	if state.LastSeq != snap.LastSeq {
		out = append(out, Mismatch{
			Key:      "journal/last_seq",
			Replayed: fmt.Sprint(state.LastSeq),
			Ledger:   fmt.Sprint(snap.LastSeq),
		})
	}

	ledgerIdentities := make(map[string]string, len(snap.Identities))
	for _, ident := range snap.Identities {
		ledgerIdentities[event.IdentityKey(ident.Address)] = describeIdentity(ident)
	}
	replayed := make(map[string]string, len(state.identities))
	for address, ident := range state.identities {
		replayed[event.IdentityKey(address)] = describeIdentity(ident)
	}
	out = append(out, compare(replayed, ledgerIdentities)...)

	ledgerGrants := make(map[string]string, len(snap.Grants))
	for _, g := range snap.Grants {
		ledgerGrants[event.GrantKey(g.Subject, g.Handler)] = describeGrant(g)
	}
	replayed = make(map[string]string, len(state.grants))
	for key, g := range state.grants {
		replayed[key] = describeGrant(g)
	}
	out = append(out, compare(replayed, ledgerGrants)...)

	ledgerDocs := make(map[string]string, len(snap.Documents))
	for _, doc := range snap.Documents {
		ledgerDocs[event.DocumentKey(doc.Subject, doc.ContentHash)] = describeDocument(doc)
	}
	replayed = make(map[string]string, len(state.documents))
	for key, doc := range state.documents {
		replayed[key] = describeDocument(doc)
	}
	out = append(out, compare(replayed, ledgerDocs)...)

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func compare(replayed, current map[string]string) []Mismatch {
	var out []Mismatch
	for key, want := range current {
		if got := replayed[key]; got != want {
			out = append(out, Mismatch{Key: key, Replayed: got, Ledger: want})
		}
	}
	for key, got := range replayed {
		if _, ok := current[key]; !ok {
			out = append(out, Mismatch{Key: key, Replayed: got})
		}
	}
	return out
}

func describeIdentity(ident identity.Identity) string {
	return fmt.Sprintf("name=%s role=%s active=%t profile=%s", ident.DisplayName, ident.Role, ident.Active, ident.ProfileRef)
}

func describeGrant(g grant.Grant) string {
	return fmt.Sprintf("state=%s seq=%d", g.State, g.Seq)
}

func describeDocument(doc document.Document) string {
	return fmt.Sprintf("name=%s uploaded_by=%s size=%d", doc.Name, doc.UploadedBy, doc.Size)
}
