package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/recordvault/internal/services/vault/domain/document"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/grant"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger"
)

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const identityColumns = `address, display_name, role, active, profile_ref, created_at, updated_at, deactivated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (identity.Identity, error) {
	var (
		ident         identity.Identity
		role          string
		createdAt     int64
		updatedAt     int64
		deactivatedAt sql.NullInt64
	)
	if err := row.Scan(
		&ident.Address,
		&ident.DisplayName,
		&role,
		&ident.Active,
		&ident.ProfileRef,
		&createdAt,
		&updatedAt,
		&deactivatedAt,
	); err != nil {
		return identity.Identity{}, err
	}
	ident.Role = identity.Role(role)
	ident.CreatedAt = fromMillis(createdAt)
	ident.UpdatedAt = fromMillis(updatedAt)
	if deactivatedAt.Valid {
		at := fromMillis(deactivatedAt.Int64)
		ident.DeactivatedAt = &at
	}
	return ident, nil
}

// GetIdentity returns the identity at address, active or not.
func (s *Store) GetIdentity(ctx context.Context, address string) (identity.Identity, error) {
	if err := ctx.Err(); err != nil {
		return identity.Identity{}, classify(ctx, "get identity", err)
	}
	if strings.TrimSpace(address) == "" {
		return identity.Identity{}, fmt.Errorf("address is required")
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+identityColumns+` FROM identities WHERE address = ?`, address)
	ident, err := scanIdentity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Identity{}, ledger.ErrNotFound
	}
	if err != nil {
		return identity.Identity{}, classify(ctx, "get identity", err)
	}
	return ident, nil
}

// ListIdentities returns identities ordered by address.
func (s *Store) ListIdentities(ctx context.Context, role identity.Role, activeOnly bool) ([]identity.Identity, error) {
	return listIdentities(ctx, s.sqlDB, role, activeOnly)
}

func listIdentities(ctx context.Context, q queryer, role identity.Role, activeOnly bool) ([]identity.Identity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE 1 = 1`
	var args []any
	if role != "" {
		query += ` AND role = ?`
		args = append(args, string(role))
	}
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY address`

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(ctx, "list identities", err)
	}
	defer rows.Close()

	var out []identity.Identity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, classify(ctx, "scan identity", err)
		}
		out = append(out, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, "list identities", err)
	}
	return out, nil
}

const grantColumns = `subject, handler, state, updated_by, updated_at, seq`

func scanGrant(row rowScanner) (grant.Grant, error) {
	var (
		g         grant.Grant
		state     string
		updatedAt int64
	)
	if err := row.Scan(&g.Subject, &g.Handler, &state, &g.UpdatedBy, &updatedAt, &g.Seq); err != nil {
		return grant.Grant{}, err
	}
	g.State = grant.State(state)
	g.UpdatedAt = fromMillis(updatedAt)
	return g, nil
}

// GetGrant returns the grant for the pair, or a StateNone grant when the pair
// was never requested.
func (s *Store) GetGrant(ctx context.Context, subject, handler string) (grant.Grant, error) {
	if err := ctx.Err(); err != nil {
		return grant.Grant{}, classify(ctx, "get grant", err)
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+grantColumns+` FROM grants WHERE subject = ? AND handler = ?`, subject, handler)
	g, err := scanGrant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return grant.Grant{Subject: subject, Handler: handler, State: grant.StateNone}, nil
	}
	if err != nil {
		return grant.Grant{}, classify(ctx, "get grant", err)
	}
	return g, nil
}

// ListGrants returns the subject's grants ordered by handler.
func (s *Store) ListGrants(ctx context.Context, subject string, state grant.State) ([]grant.Grant, error) {
	return s.listGrants(ctx, "subject", subject, state, "handler")
}

// ListGrantsForHandler returns the handler's grants ordered by subject.
func (s *Store) ListGrantsForHandler(ctx context.Context, handler string, state grant.State) ([]grant.Grant, error) {
	return s.listGrants(ctx, "handler", handler, state, "subject")
}

func (s *Store) listGrants(ctx context.Context, column, value string, state grant.State, orderBy string) ([]grant.Grant, error) {
	query := `SELECT ` + grantColumns + ` FROM grants WHERE ` + column + ` = ?`
	args := []any{value}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, string(state))
	}
	query += ` ORDER BY ` + orderBy
	return listGrantRows(ctx, s.sqlDB, query, args...)
}

func listGrantRows(ctx context.Context, q queryer, query string, args ...any) ([]grant.Grant, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(ctx, "list grants", err)
	}
	defer rows.Close()

	var out []grant.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, classify(ctx, "scan grant", err)
		}
		out = append(out, g)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, "list grants", err)
	}
	return out, nil
}

const documentColumns = `subject, content_hash, name, uploaded_by, uploaded_at, size`

func scanDocument(row rowScanner) (document.Document, error) {
	var (
		doc        document.Document
		uploadedAt int64
	)
	if err := row.Scan(&doc.Subject, &doc.ContentHash, &doc.Name, &doc.UploadedBy, &uploadedAt, &doc.Size); err != nil {
		return document.Document{}, err
	}
	doc.UploadedAt = fromMillis(uploadedAt)
	return doc, nil
}

// GetDocument returns the index entry for (subject, contentHash).
func (s *Store) GetDocument(ctx context.Context, subject, contentHash string) (document.Document, error) {
	if err := ctx.Err(); err != nil {
		return document.Document{}, classify(ctx, "get document", err)
	}
	row := s.sqlDB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE subject = ? AND content_hash = ?`, subject, contentHash)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, ledger.ErrNotFound
	}
	if err != nil {
		return document.Document{}, classify(ctx, "get document", err)
	}
	return doc, nil
}

// ListDocuments returns the subject's index entries in upload order.
func (s *Store) ListDocuments(ctx context.Context, subject string) ([]document.Document, error) {
	return listDocumentRows(ctx, s.sqlDB,
		`SELECT `+documentColumns+` FROM documents WHERE subject = ? ORDER BY seq`, subject)
}

func listDocumentRows(ctx context.Context, q queryer, query string, args ...any) ([]document.Document, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(ctx, "list documents", err)
	}
	defer rows.Close()

	var out []document.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, classify(ctx, "scan document", err)
		}
		out = append(out, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, "list documents", err)
	}
	return out, nil
}

// CountContentRefs counts index entries plus active identity profile
// references that name contentHash.
func (s *Store) CountContentRefs(ctx context.Context, contentHash string) (int, error) {
	var count int
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT
    (SELECT COUNT(*) FROM documents WHERE content_hash = ?) +
    (SELECT COUNT(*) FROM identities WHERE profile_ref = ? AND active = 1)`,
		contentHash, contentHash,
	).Scan(&count)
	if err != nil {
		return 0, classify(ctx, "count content refs", err)
	}
	return count, nil
}
