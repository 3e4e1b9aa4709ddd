package mcptools

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/louisbranch/recordvault/internal/services/vault/domain/document"
)

// DocumentUploadHandler stores a document for a subject as the caller.
func DocumentUploadHandler(s Services) mcp.ToolHandlerFor[DocumentUploadInput, DocumentUploadResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DocumentUploadInput) (*mcp.CallToolResult, DocumentUploadResult, error) {
		inv, err := s.begin(ctx, input.CallerToken)
		if err != nil {
			return nil, DocumentUploadResult{}, toolError(err, s.Locale)
		}
		data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(input.ContentBase64))
		if err != nil {
			return nil, DocumentUploadResult{}, toolError(invalidArgument("content_base64 is not valid base64"), s.Locale)
		}
		subject := inv.or(input.Subject)
		hash, err := s.Documents.Upload(ctx, subject, input.Name, data, inv.address())
		if err != nil {
			return nil, DocumentUploadResult{}, toolError(err, s.Locale)
		}
		name, _ := document.NormalizeName(input.Name)
		return inv.result(), DocumentUploadResult{
			Subject:     subject,
			Name:        name,
			ContentHash: hash,
			Size:        len(data),
		}, nil
	}
}

// DocumentListHandler lists a subject's index entries.
func DocumentListHandler(s Services) mcp.ToolHandlerFor[DocumentListInput, DocumentListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DocumentListInput) (*mcp.CallToolResult, DocumentListResult, error) {
		inv, err := s.begin(ctx, input.CallerToken)
		if err != nil {
			return nil, DocumentListResult{}, toolError(err, s.Locale)
		}
		docs, err := s.Documents.List(ctx, inv.or(input.Subject), inv.address())
		if err != nil {
			return nil, DocumentListResult{}, toolError(err, s.Locale)
		}
		result := DocumentListResult{Documents: make([]DocumentResult, 0, len(docs))}
		for _, doc := range docs {
			result.Documents = append(result.Documents, documentResult(doc))
		}
		return inv.result(), result, nil
	}
}

// DocumentFetchHandler returns a document's bytes.
func DocumentFetchHandler(s Services) mcp.ToolHandlerFor[DocumentInput, DocumentFetchResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DocumentInput) (*mcp.CallToolResult, DocumentFetchResult, error) {
		inv, err := s.begin(ctx, input.CallerToken)
		if err != nil {
			return nil, DocumentFetchResult{}, toolError(err, s.Locale)
		}
		subject := inv.or(input.Subject)
		hash := strings.TrimSpace(input.ContentHash)
		data, err := s.Documents.Fetch(ctx, hash, subject, inv.address())
		if err != nil {
			return nil, DocumentFetchResult{}, toolError(err, s.Locale)
		}
		return inv.result(), DocumentFetchResult{
			Subject:       subject,
			ContentHash:   hash,
			ContentBase64: base64.StdEncoding.EncodeToString(data),
			Size:          len(data),
		}, nil
	}
}

// DocumentDeleteHandler removes a document from the index.
func DocumentDeleteHandler(s Services) mcp.ToolHandlerFor[DocumentInput, DocumentDeleteResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input DocumentInput) (*mcp.CallToolResult, DocumentDeleteResult, error) {
		inv, err := s.begin(ctx, input.CallerToken)
		if err != nil {
			return nil, DocumentDeleteResult{}, toolError(err, s.Locale)
		}
		subject := inv.or(input.Subject)
		hash := strings.TrimSpace(input.ContentHash)
		if err := s.Documents.Delete(ctx, subject, hash, inv.address()); err != nil {
			return nil, DocumentDeleteResult{}, toolError(err, s.Locale)
		}
		return inv.result(), DocumentDeleteResult{Subject: subject, ContentHash: hash, Deleted: true}, nil
	}
}
