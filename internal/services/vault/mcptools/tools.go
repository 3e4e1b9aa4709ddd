package mcptools

import "github.com/modelcontextprotocol/go-sdk/mcp"

// IdentityAddInput represents the MCP tool input for registering an identity.
type IdentityAddInput struct {
	CallerToken string `json:"caller_token" jsonschema:"signed caller token naming the acting address"`
	Address     string `json:"address" jsonschema:"address to register"`
	DisplayName string `json:"display_name" jsonschema:"display name"`
	Role        string `json:"role" jsonschema:"identity role (subject, handler, admin)"`
	ProfileRef  string `json:"profile_ref,omitempty" jsonschema:"optional content hash of the profile document"`
}

// IdentityUpdateInput represents the MCP tool input for profile updates.
type IdentityUpdateInput struct {
	CallerToken string `json:"caller_token" jsonschema:"signed caller token naming the acting address"`
	Address     string `json:"address,omitempty" jsonschema:"address to update (defaults to the caller)"`
	DisplayName string `json:"display_name" jsonschema:"display name"`
	ProfileRef  string `json:"profile_ref,omitempty" jsonschema:"optional content hash of the profile document"`
}

// IdentityAddressInput represents the MCP tool input for tools acting on one address.
type IdentityAddressInput struct {
	CallerToken string `json:"caller_token" jsonschema:"signed caller token naming the acting address"`
	Address     string `json:"address" jsonschema:"identity address"`
}

// IdentityListInput represents the MCP tool input for listing active identities.
type IdentityListInput struct {
	CallerToken string `json:"caller_token" jsonschema:"signed caller token naming the acting address"`
	Role        string `json:"role,omitempty" jsonschema:"role filter (subject, handler, admin); all roles when empty"`
}

// IdentityResult represents one identity in MCP tool output.
type IdentityResult struct {
	Address       string `json:"address" jsonschema:"identity address"`
	DisplayName   string `json:"display_name" jsonschema:"display name"`
	Role          string `json:"role" jsonschema:"identity role"`
	Active        bool   `json:"active" jsonschema:"whether the identity is active"`
	ProfileRef    string `json:"profile_ref,omitempty" jsonschema:"content hash of the profile document"`
	CreatedAt     string `json:"created_at" jsonschema:"RFC3339 timestamp when the identity was registered"`
	UpdatedAt     string `json:"updated_at" jsonschema:"RFC3339 timestamp of the last change"`
	DeactivatedAt string `json:"deactivated_at,omitempty" jsonschema:"RFC3339 timestamp when the identity was deactivated"`
}

// IdentityListResult represents the MCP tool output for identity listings.
type IdentityListResult struct {
	Identities []IdentityResult `json:"identities" jsonschema:"active identities"`
}

// IdentityDeactivateResult represents the MCP tool output for deactivation.
type IdentityDeactivateResult struct {
	Address string `json:"address" jsonschema:"deactivated address"`
	Active  bool   `json:"active" jsonschema:"always false once the cascade completed"`
}

// AccessInput represents the MCP tool input for grant lifecycle tools.
type AccessInput struct {
	CallerToken string `json:"caller_token" jsonschema:"signed caller token naming the acting address"`
	Subject     string `json:"subject,omitempty" jsonschema:"subject address (defaults to the caller)"`
	Handler     string `json:"handler,omitempty" jsonschema:"handler address (defaults to the caller)"`
}

// AccessListInput represents the MCP tool input for grant listings.
type AccessListInput struct {
	CallerToken string `json:"caller_token" jsonschema:"signed caller token naming the acting address"`
	Subject     string `json:"subject,omitempty" jsonschema:"list grants given by this subject"`
	Handler     string `json:"handler,omitempty" jsonschema:"list grants held by this handler"`
	State       string `json:"state,omitempty" jsonschema:"grant state filter (pending, approved, rejected, revoked)"`
}

// GrantResult represents one grant in MCP tool output.
type GrantResult struct {
	Subject   string `json:"subject" jsonschema:"subject address"`
	Handler   string `json:"handler" jsonschema:"handler address"`
	State     string `json:"state" jsonschema:"grant state"`
	UpdatedBy string `json:"updated_by,omitempty" jsonschema:"address that made the last transition"`
	UpdatedAt string `json:"updated_at,omitempty" jsonschema:"RFC3339 timestamp of the last transition"`
	Seq       uint64 `json:"seq,omitempty" jsonschema:"journal sequence of the last transition"`
}

// AccessCheckResult represents the MCP tool output for access checks.
type AccessCheckResult struct {
	Subject  string `json:"subject" jsonschema:"subject address"`
	Handler  string `json:"handler" jsonschema:"handler address"`
	Approved bool   `json:"approved" jsonschema:"whether the handler currently holds approved access"`
}

// AccessListResult represents the MCP tool output for grant listings.
type AccessListResult struct {
	Grants []GrantResult `json:"grants" jsonschema:"matching grants"`
}

// DocumentUploadInput represents the MCP tool input for document uploads.
type DocumentUploadInput struct {
	CallerToken   string `json:"caller_token" jsonschema:"signed caller token naming the acting address"`
	Subject       string `json:"subject,omitempty" jsonschema:"subject the document belongs to (defaults to the caller)"`
	Name          string `json:"name" jsonschema:"document name"`
	ContentBase64 string `json:"content_base64" jsonschema:"document bytes, base64 encoded"`
}

// DocumentInput represents the MCP tool input for tools acting on one document.
type DocumentInput struct {
	CallerToken string `json:"caller_token" jsonschema:"signed caller token naming the acting address"`
	Subject     string `json:"subject,omitempty" jsonschema:"subject the document belongs to (defaults to the caller)"`
	ContentHash string `json:"content_hash" jsonschema:"content hash of the document"`
}

// DocumentListInput represents the MCP tool input for document listings.
type DocumentListInput struct {
	CallerToken string `json:"caller_token" jsonschema:"signed caller token naming the acting address"`
	Subject     string `json:"subject,omitempty" jsonschema:"subject whose documents to list (defaults to the caller)"`
}

// DocumentResult represents one document index entry in MCP tool output.
type DocumentResult struct {
	Subject     string `json:"subject" jsonschema:"subject address"`
	Name        string `json:"name" jsonschema:"document name"`
	ContentHash string `json:"content_hash" jsonschema:"content hash"`
	UploadedBy  string `json:"uploaded_by" jsonschema:"uploader address"`
	UploadedAt  string `json:"uploaded_at" jsonschema:"RFC3339 timestamp of the upload"`
	Size        int64  `json:"size" jsonschema:"size in bytes"`
}

// DocumentUploadResult represents the MCP tool output for uploads.
type DocumentUploadResult struct {
	Subject     string `json:"subject" jsonschema:"subject address"`
	Name        string `json:"name" jsonschema:"document name"`
	ContentHash string `json:"content_hash" jsonschema:"content hash"`
	Size        int    `json:"size" jsonschema:"size in bytes"`
}

// DocumentListResult represents the MCP tool output for document listings.
type DocumentListResult struct {
	Documents []DocumentResult `json:"documents" jsonschema:"document index entries"`
}

// DocumentFetchResult represents the MCP tool output for fetches.
type DocumentFetchResult struct {
	Subject       string `json:"subject" jsonschema:"subject address"`
	ContentHash   string `json:"content_hash" jsonschema:"content hash"`
	ContentBase64 string `json:"content_base64" jsonschema:"document bytes, base64 encoded"`
	Size          int    `json:"size" jsonschema:"size in bytes"`
}

// DocumentDeleteResult represents the MCP tool output for deletes.
type DocumentDeleteResult struct {
	Subject     string `json:"subject" jsonschema:"subject address"`
	ContentHash string `json:"content_hash" jsonschema:"removed content hash"`
	Deleted     bool   `json:"deleted" jsonschema:"whether the index entry was removed"`
}

// EventsPollInput represents the MCP tool input for journal polling.
type EventsPollInput struct {
	CallerToken string   `json:"caller_token" jsonschema:"signed caller token naming the acting address"`
	AfterSeq    uint64   `json:"after_seq,omitempty" jsonschema:"return events after this sequence"`
	Limit       int      `json:"limit,omitempty" jsonschema:"maximum number of events (default 50, max 200)"`
	Types       []string `json:"types,omitempty" jsonschema:"event type filter"`
}

// EventResult represents one journal event in MCP tool output.
type EventResult struct {
	Seq       uint64 `json:"seq" jsonschema:"journal sequence"`
	Type      string `json:"type" jsonschema:"event type"`
	Key       string `json:"key" jsonschema:"entity key"`
	Actor     string `json:"actor" jsonschema:"address that caused the event"`
	Payload   string `json:"payload" jsonschema:"event payload as JSON"`
	Timestamp string `json:"timestamp" jsonschema:"RFC3339 confirmation timestamp"`
}

// EventsPollResult represents the MCP tool output for journal polling.
type EventsPollResult struct {
	Events  []EventResult `json:"events" jsonschema:"events visible to the caller"`
	NextSeq uint64        `json:"next_seq" jsonschema:"pass as after_seq to continue"`
}

// IdentityAddTool defines the MCP tool schema for registering identities.
func IdentityAddTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "identity_add",
		Description: "Registers an identity with a role (administrators only)",
	}
}

// IdentityUpdateTool defines the MCP tool schema for profile updates.
func IdentityUpdateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "identity_update",
		Description: "Updates an identity's display name and profile reference",
	}
}

// IdentityDeactivateTool defines the MCP tool schema for deactivation.
func IdentityDeactivateTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "identity_deactivate",
		Description: "Deactivates an identity and revokes everything it was party to (administrators only)",
	}
}

// IdentityListTool defines the MCP tool schema for identity listings.
func IdentityListTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "identity_list",
		Description: "Lists active identities, optionally by role",
	}
}

// IdentityResolveTool defines the MCP tool schema for identity lookups.
func IdentityResolveTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "identity_resolve",
		Description: "Resolves an address to its identity and role",
	}
}

// AccessRequestTool defines the MCP tool schema for access requests.
func AccessRequestTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "access_request",
		Description: "Requests access to a subject's records as the calling handler",
	}
}

// AccessApproveTool defines the MCP tool schema for approvals.
func AccessApproveTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "access_approve",
		Description: "Approves a pending access request as the calling subject",
	}
}

// AccessRejectTool defines the MCP tool schema for rejections.
func AccessRejectTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "access_reject",
		Description: "Rejects a pending access request as the calling subject",
	}
}

// AccessRevokeTool defines the MCP tool schema for revocations.
func AccessRevokeTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "access_revoke",
		Description: "Revokes approved access (subject or administrator)",
	}
}

// AccessCheckTool defines the MCP tool schema for access checks.
func AccessCheckTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "access_check",
		Description: "Reports whether a handler holds approved access to a subject",
	}
}

// AccessListTool defines the MCP tool schema for grant listings.
func AccessListTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "access_list",
		Description: "Lists grants given by a subject or held by a handler",
	}
}

// DocumentUploadTool defines the MCP tool schema for uploads.
func DocumentUploadTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "document_upload",
		Description: "Stores a document for a subject and records it in the index",
	}
}

// DocumentListTool defines the MCP tool schema for document listings.
func DocumentListTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "document_list",
		Description: "Lists a subject's document index entries",
	}
}

// DocumentFetchTool defines the MCP tool schema for fetches.
func DocumentFetchTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "document_fetch",
		Description: "Fetches a document's bytes after re-checking access",
	}
}

// DocumentDeleteTool defines the MCP tool schema for deletes.
func DocumentDeleteTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "document_delete",
		Description: "Removes a document from the index (uploader or administrator)",
	}
}

// EventsPollTool defines the MCP tool schema for journal polling.
func EventsPollTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "events_poll",
		Description: "Returns journal events that concern the caller",
	}
}
