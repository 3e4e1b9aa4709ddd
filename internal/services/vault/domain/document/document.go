// Package document models the per-subject document index.
package document

import (
	"path"
	"strings"
	"time"

	apperrors "github.com/louisbranch/recordvault/internal/platform/errors"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
)

const maxNameLength = 255

// Document is one index entry. The bytes live in the blob store under
// ContentHash; the index never owns them.
type Document struct {
	Subject     string
	Name        string
	ContentHash string
	UploadedBy  string
	UploadedAt  time.Time
	Size        int64
}

// NormalizeName trims a document name and strips any directory component.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name != "" {
		name = path.Base(name)
	}
	if name == "" || name == "." || name == "/" {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "document name is required")
	}
	if len([]rune(name)) > maxNameLength {
		return "", apperrors.New(apperrors.CodeInvalidArgument, "document name is too long")
	}
	return name, nil
}

// CanDelete reports whether caller may remove doc: only the uploader or an
// active administrator, regardless of any grant the caller holds.
func CanDelete(doc Document, caller identity.Identity) bool {
	if !caller.Active {
		return false
	}
	return caller.Role == identity.RoleAdmin || caller.Address == doc.UploadedBy
}
