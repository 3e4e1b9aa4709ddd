// Package mcptools exposes the vault operations as MCP tools. Every tool takes
// a caller token; the caller address comes from the verified token, never from
// tool input.
package mcptools

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	apperrors "github.com/louisbranch/recordvault/internal/platform/errors"
	"github.com/louisbranch/recordvault/internal/platform/id"
	"github.com/louisbranch/recordvault/internal/services/vault/callertoken"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/document"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/event"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/grant"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
)

const (
	metaInvocationID = "invocation_id"
	metaCaller       = "caller"
)

// Identities is the registry surface the identity tools use.
type Identities interface {
	AddIdentity(ctx context.Context, caller string, input identity.AddInput) (identity.Identity, error)
	UpdateIdentity(ctx context.Context, caller string, input identity.UpdateInput) (identity.Identity, error)
	DeactivateIdentity(ctx context.Context, caller, address string) error
	Lookup(ctx context.Context, address string) (identity.Identity, error)
	ListActive(ctx context.Context, role identity.Role) ([]identity.Identity, error)
}

// Access is the consent surface the access tools use.
type Access interface {
	Request(ctx context.Context, subject, handler string) error
	Approve(ctx context.Context, subject, handler, caller string) error
	Reject(ctx context.Context, subject, handler, caller string) error
	Revoke(ctx context.Context, subject, handler, caller string) error
	Check(ctx context.Context, subject, handler string) (bool, error)
	Grant(ctx context.Context, subject, handler string) (grant.Grant, error)
	ListPending(ctx context.Context, subject string) ([]string, error)
	ListApproved(ctx context.Context, subject string) ([]string, error)
	ListForHandler(ctx context.Context, handler string, state grant.State) ([]grant.Grant, error)
}

// Documents is the custody surface the document tools use.
type Documents interface {
	Upload(ctx context.Context, subject, name string, data []byte, uploader string) (string, error)
	List(ctx context.Context, subject, caller string) ([]document.Document, error)
	Fetch(ctx context.Context, contentHash, subject, caller string) ([]byte, error)
	Delete(ctx context.Context, subject, contentHash, caller string) error
}

// Events pages through the journal.
type Events interface {
	ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error)
}

// Callers verifies caller tokens.
type Callers interface {
	Verify(token string) (callertoken.Claims, error)
}

// Services bundles the collaborators behind the tools.
type Services struct {
	Identities Identities
	Access     Access
	Documents  Documents
	Events     Events
	Callers    Callers
	// Locale selects the error message catalog.
	Locale string
}

func (s Services) validate() error {
	switch {
	case s.Identities == nil:
		return fmt.Errorf("identities service is required")
	case s.Access == nil:
		return fmt.Errorf("access service is required")
	case s.Documents == nil:
		return fmt.Errorf("documents service is required")
	case s.Events == nil:
		return fmt.Errorf("event journal is required")
	case s.Callers == nil:
		return fmt.Errorf("caller token verifier is required")
	}
	return nil
}

// invocation is one authenticated tool call.
type invocation struct {
	id     string
	caller identity.Identity
}

// begin verifies the caller token and loads the caller, which must be active.
func (s Services) begin(ctx context.Context, token string) (invocation, error) {
	claims, err := s.Callers.Verify(token)
	if err != nil {
		return invocation{}, err
	}
	caller, err := s.Identities.Lookup(ctx, claims.Address)
	if apperrors.HasCode(err, apperrors.CodeIdentityNotFound) || (err == nil && !caller.Active) {
		return invocation{}, apperrors.WithMetadata(apperrors.CodeUnauthorized, "caller is not an active identity",
			map[string]string{apperrors.MetaCaller: claims.Address})
	}
	if err != nil {
		return invocation{}, err
	}
	invocationID, err := id.NewID()
	if err != nil {
		return invocation{}, fmt.Errorf("generate invocation id: %w", err)
	}
	return invocation{id: invocationID, caller: caller}, nil
}

func (inv invocation) address() string {
	return inv.caller.Address
}

// or returns value, or the caller's address when value is blank.
func (inv invocation) or(value string) string {
	if address := identity.NormalizeAddress(value); address != "" {
		return address
	}
	return inv.caller.Address
}

func (inv invocation) result() *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Meta: map[string]any{
			metaInvocationID: inv.id,
			metaCaller:       inv.caller.Address,
		},
	}
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func identityResult(ident identity.Identity) IdentityResult {
	result := IdentityResult{
		Address:     ident.Address,
		DisplayName: ident.DisplayName,
		Role:        string(ident.Role),
		Active:      ident.Active,
		ProfileRef:  ident.ProfileRef,
		CreatedAt:   formatTime(ident.CreatedAt),
		UpdatedAt:   formatTime(ident.UpdatedAt),
	}
	if ident.DeactivatedAt != nil {
		result.DeactivatedAt = formatTime(*ident.DeactivatedAt)
	}
	return result
}

func grantResult(g grant.Grant) GrantResult {
	return GrantResult{
		Subject:   g.Subject,
		Handler:   g.Handler,
		State:     string(g.State),
		UpdatedBy: g.UpdatedBy,
		UpdatedAt: formatTime(g.UpdatedAt),
		Seq:       g.Seq,
	}
}

func documentResult(doc document.Document) DocumentResult {
	return DocumentResult{
		Subject:     doc.Subject,
		Name:        doc.Name,
		ContentHash: doc.ContentHash,
		UploadedBy:  doc.UploadedBy,
		UploadedAt:  formatTime(doc.UploadedAt),
		Size:        doc.Size,
	}
}
