// Package custody owns the document index: upload, listing, fetch and
// deletion of a subject's documents, re-authorized against current consent on
// every call.
package custody

import (
	"context"
	"errors"
	"log"
	"time"

	apperrors "github.com/louisbranch/recordvault/internal/platform/errors"
	"github.com/louisbranch/recordvault/internal/platform/otel"
	"github.com/louisbranch/recordvault/internal/platform/timeouts"
	"github.com/louisbranch/recordvault/internal/services/vault/blobstore"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/document"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/grant"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/louisbranch/recordvault/internal/services/vault/custody")

// Config holds custody limits.
type Config struct {
	MaxDocumentBytes int64         `env:"MAX_DOCUMENT_BYTES" envDefault:"26214400"`
	SweepGrace       time.Duration `env:"SWEEP_GRACE" envDefault:"1h"`
	UnpinQueueSize   int           `env:"UNPIN_QUEUE_SIZE" envDefault:"256"`
}

// Store is the ledger surface custody needs.
type Store interface {
	ledger.Reader
	ledger.Submitter
}

// Authorizer is the consent predicate.
type Authorizer interface {
	Check(ctx context.Context, subject, handler string) (bool, error)
}

// Manager applies document operations.
type Manager struct {
	store   Store
	blobs   blobstore.Store
	consent Authorizer
	janitor *Janitor
	cfg     Config
	now     func() time.Time
}

// NewManager wires a manager. janitor receives every release request.
func NewManager(store Store, blobs blobstore.Store, consent Authorizer, janitor *Janitor, cfg Config) (*Manager, error) {
	switch {
	case store == nil:
		return nil, errors.New("ledger store is required")
	case blobs == nil:
		return nil, errors.New("blob store is required")
	case consent == nil:
		return nil, errors.New("consent authorizer is required")
	case janitor == nil:
		return nil, errors.New("janitor is required")
	}
	if cfg.MaxDocumentBytes <= 0 {
		cfg.MaxDocumentBytes = 25 << 20
	}
	if cfg.SweepGrace <= 0 {
		cfg.SweepGrace = time.Hour
	}
	return &Manager{store: store, blobs: blobs, consent: consent, janitor: janitor, cfg: cfg, now: time.Now}, nil
}

// Upload stores data and indexes it under subject. The uploader is the
// subject, or an active handler the subject has approved. Bytes are stored
// before the index entry is appended, under a per-hash lock that keeps the
// janitor and the sweep from unpinning them in between. If the append fails
// the blob is left for the orphan sweep.
func (m *Manager) Upload(ctx context.Context, subject, name string, data []byte, uploader string) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "custody.Upload")
	defer func() { otel.End(span, err) }()
	span.SetAttributes(attribute.Int("document.size", len(data)))

	subject = identity.NormalizeAddress(subject)
	uploader = identity.NormalizeAddress(uploader)
	name, err = document.NormalizeName(name)
	if err != nil {
		return "", err
	}
	if int64(len(data)) > m.cfg.MaxDocumentBytes {
		return "", apperrors.WithMetadata(apperrors.CodeDocumentTooLarge, "document exceeds the size limit",
			map[string]string{apperrors.MetaSubject: subject})
	}

	subj, err := m.store.GetIdentity(ctx, subject)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return "", apperrors.WithMetadata(apperrors.CodeSubjectNotFound, "subject not found",
			map[string]string{apperrors.MetaSubject: subject})
	case err != nil:
		return "", err
	case subj.Role != identity.RoleSubject:
		return "", apperrors.WithMetadata(apperrors.CodeSubjectRoleInvalid, "address is not a subject",
			map[string]string{apperrors.MetaSubject: subject})
	case !subj.Active:
		return "", apperrors.WithMetadata(apperrors.CodeSubjectInactive, "subject is inactive",
			map[string]string{apperrors.MetaSubject: subject})
	}

	guards := []ledger.Guard{ledger.IdentityActive{Address: subject, Roles: []identity.Role{identity.RoleSubject}}}
	if uploader != subject {
		if err := m.authorizeHandler(ctx, subject, uploader); err != nil {
			return "", err
		}
		guards = append(guards,
			ledger.IdentityActive{Address: uploader, Roles: []identity.Role{identity.RoleHandler}},
			ledger.GrantIn{Subject: subject, Handler: uploader, States: []grant.State{grant.StateApproved}},
		)
	}

	// Releases of the same bytes wait until the index entry is appended.
	unlock := m.janitor.locks.lock(blobstore.ContentHash(data))
	defer unlock()

	putCtx, cancel := context.WithTimeout(ctx, timeouts.StoreCall)
	hash, err := m.blobs.Put(putCtx, data)
	cancel()
	if err != nil {
		return "", apperrors.WrapWithMetadata(apperrors.CodeStoreWriteFailed, "store write failed",
			map[string]string{apperrors.MetaSubject: subject}, err)
	}
	m.janitor.Forget(hash)
	span.SetAttributes(attribute.String("document.hash", hash))

	submitCtx, cancel := context.WithTimeout(ctx, timeouts.LedgerSubmit)
	defer cancel()
	_, err = m.store.Submit(submitCtx, ledger.AddDocument{
		Actor: uploader,
		Document: document.Document{
			Subject:     subject,
			Name:        name,
			ContentHash: hash,
			UploadedBy:  uploader,
			Size:        int64(len(data)),
		},
		Guards: guards,
	})
	if err != nil {
		guardErr, isGuard := ledger.FailedGuard(err)
		if !isGuard || !isDocumentGuard(guardErr.Guard) {
			log.Printf("custody: index append failed after storing %s for %s; blob left for sweep: %v", hash, subject, err)
		}
		return "", uploadFailure(err, subject, uploader, hash)
	}
	return hash, nil
}

// List returns the subject's index entries. Bytes are never included.
func (m *Manager) List(ctx context.Context, subject, caller string) ([]document.Document, error) {
	subject = identity.NormalizeAddress(subject)
	caller = identity.NormalizeAddress(caller)
	if err := m.authorizeRead(ctx, subject, caller); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, timeouts.LedgerQuery)
	defer cancel()
	docs, err := m.store.ListDocuments(ctx, subject)
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = []document.Document{}
	}
	return docs, nil
}

// Fetch returns the bytes of one indexed document. Authorization is checked
// on every call.
func (m *Manager) Fetch(ctx context.Context, contentHash, subject, caller string) (_ []byte, err error) {
	ctx, span := tracer.Start(ctx, "custody.Fetch")
	defer func() { otel.End(span, err) }()
	span.SetAttributes(attribute.String("document.hash", contentHash))

	subject = identity.NormalizeAddress(subject)
	caller = identity.NormalizeAddress(caller)
	if err := m.authorizeRead(ctx, subject, caller); err != nil {
		return nil, err
	}
	if _, err := m.store.GetDocument(ctx, subject, contentHash); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return nil, documentNotFound(subject, contentHash)
		}
		return nil, err
	}

	getCtx, cancel := context.WithTimeout(ctx, timeouts.StoreCall)
	defer cancel()
	data, err := m.blobs.Get(getCtx, contentHash)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, documentNotFound(subject, contentHash)
		}
		return nil, apperrors.WrapWithMetadata(apperrors.CodeStoreReadFailed, "store read failed",
			map[string]string{apperrors.MetaSubject: subject, apperrors.MetaContentHash: contentHash}, err)
	}
	return data, nil
}

// Delete removes an index entry, then schedules a best-effort unpin. Only
// the uploader or an administrator may delete.
func (m *Manager) Delete(ctx context.Context, subject, contentHash, caller string) (err error) {
	ctx, span := tracer.Start(ctx, "custody.Delete")
	defer func() { otel.End(span, err) }()
	span.SetAttributes(attribute.String("document.hash", contentHash))

	subject = identity.NormalizeAddress(subject)
	caller = identity.NormalizeAddress(caller)
	callerIdent, err := m.activeCaller(ctx, caller, subject)
	if err != nil {
		return err
	}
	doc, err := m.store.GetDocument(ctx, subject, contentHash)
	if errors.Is(err, ledger.ErrNotFound) {
		return documentNotFound(subject, contentHash)
	}
	if err != nil {
		return err
	}
	if !document.CanDelete(doc, callerIdent) {
		return unauthorized(caller, subject, "only the uploader or an administrator may delete")
	}

	guard := ledger.IdentityActive{Address: caller}
	if caller != doc.UploadedBy {
		guard.Roles = []identity.Role{identity.RoleAdmin}
	}
	submitCtx, cancel := context.WithTimeout(ctx, timeouts.LedgerSubmit)
	defer cancel()
	_, err = m.store.Submit(submitCtx, ledger.RemoveDocument{
		Actor:       caller,
		Subject:     subject,
		ContentHash: contentHash,
		Guards:      []ledger.Guard{guard},
	})
	if err != nil {
		if guardErr, ok := ledger.FailedGuard(err); ok {
			if _, present := guardErr.Guard.(ledger.DocumentPresent); present {
				return documentNotFound(subject, contentHash)
			}
			return unauthorized(caller, subject, "caller authority changed before confirmation")
		}
		return err
	}
	m.janitor.Enqueue(contentHash)
	return nil
}

// PurgeSubject removes every index entry of subject and schedules unpins. It
// is safe to re-run.
func (m *Manager) PurgeSubject(ctx context.Context, actor, subject string) error {
	subject = identity.NormalizeAddress(subject)
	docs, err := m.store.ListDocuments(ctx, subject)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		submitCtx, cancel := context.WithTimeout(ctx, timeouts.LedgerSubmit)
		_, err := m.store.Submit(submitCtx, ledger.RemoveDocument{
			Actor:       actor,
			Subject:     subject,
			ContentHash: doc.ContentHash,
		})
		cancel()
		if err != nil && !errors.Is(err, ledger.ErrGuardFailed) {
			return err
		}
		m.janitor.Enqueue(doc.ContentHash)
	}
	return nil
}

// CascadeSubject purges a deactivated subject's documents.
func (m *Manager) CascadeSubject(ctx context.Context, actor, subject string) error {
	return m.PurgeSubject(ctx, actor, subject)
}

// authorizeRead allows the subject, an administrator, or an active handler
// with an approved grant. It reads the ledger on every call.
func (m *Manager) authorizeRead(ctx context.Context, subject, caller string) error {
	if subject == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "subject is required")
	}
	callerIdent, err := m.activeCaller(ctx, caller, subject)
	if err != nil {
		return err
	}
	switch {
	case caller == subject, callerIdent.IsAdmin():
		return nil
	case callerIdent.Role == identity.RoleHandler:
		return m.authorizeHandler(ctx, subject, caller)
	default:
		return unauthorized(caller, subject, "caller has no access to this subject")
	}
}

// authorizeHandler requires an active handler with an approved grant. The
// registry's active flag is consulted as well as consent, since a
// deactivated handler keeps its grant rows.
func (m *Manager) authorizeHandler(ctx context.Context, subject, handler string) error {
	ident, err := m.activeCaller(ctx, handler, subject)
	if err != nil {
		return err
	}
	if ident.Role != identity.RoleHandler {
		return unauthorized(handler, subject, "caller is not a handler")
	}
	ok, err := m.consent.Check(ctx, subject, handler)
	if err != nil {
		return err
	}
	if !ok {
		return unauthorized(handler, subject, "handler has no approved grant")
	}
	return nil
}

func (m *Manager) activeCaller(ctx context.Context, caller, subject string) (identity.Identity, error) {
	if caller == "" {
		return identity.Identity{}, unauthorized(caller, subject, "caller is required")
	}
	ident, err := m.store.GetIdentity(ctx, caller)
	if errors.Is(err, ledger.ErrNotFound) || (err == nil && !ident.Active) {
		return identity.Identity{}, unauthorized(caller, subject, "caller is not an active identity")
	}
	if err != nil {
		return identity.Identity{}, err
	}
	return ident, nil
}

func isDocumentGuard(g ledger.Guard) bool {
	_, ok := g.(ledger.DocumentAbsent)
	return ok
}

func uploadFailure(err error, subject, uploader, hash string) error {
	guardErr, ok := ledger.FailedGuard(err)
	if !ok {
		return err
	}
	switch g := guardErr.Guard.(type) {
	case ledger.DocumentAbsent:
		return apperrors.WrapWithMetadata(apperrors.CodeDocumentAlreadyExists, "document already indexed",
			map[string]string{apperrors.MetaSubject: subject, apperrors.MetaContentHash: hash}, err)
	case ledger.IdentityActive:
		if g.Address == subject {
			return apperrors.WrapWithMetadata(apperrors.CodeSubjectInactive, "subject changed before confirmation",
				map[string]string{apperrors.MetaSubject: subject}, err)
		}
	}
	return apperrors.WrapWithMetadata(apperrors.CodeUnauthorized, "uploader authority changed before confirmation",
		map[string]string{apperrors.MetaSubject: subject, apperrors.MetaCaller: uploader}, err)
}

func documentNotFound(subject, hash string) error {
	return apperrors.WithMetadata(apperrors.CodeDocumentNotFound, "document not found",
		map[string]string{apperrors.MetaSubject: subject, apperrors.MetaContentHash: hash})
}

func unauthorized(caller, subject, message string) error {
	return apperrors.WithMetadata(apperrors.CodeUnauthorized, message,
		map[string]string{apperrors.MetaCaller: caller, apperrors.MetaSubject: subject})
}
