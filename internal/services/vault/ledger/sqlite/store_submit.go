package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	apperrors "github.com/louisbranch/recordvault/internal/platform/errors"
	"github.com/louisbranch/recordvault/internal/platform/otel"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/event"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/grant"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/identity"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/louisbranch/recordvault/internal/services/vault/ledger/sqlite")

// Submit evaluates the mutation's guards and, when all hold, applies the view
// change and appends its journal event in one transaction.
func (s *Store) Submit(ctx context.Context, mutation ledger.Mutation) (_ ledger.Confirmation, err error) {
	if err := ctx.Err(); err != nil {
		return ledger.Confirmation{}, classify(ctx, "submit", err)
	}
	if err := ledger.Validate(mutation); err != nil {
		return ledger.Confirmation{}, apperrors.Wrap(apperrors.CodeLedgerRejected, "invalid mutation", err)
	}

	ctx, span := tracer.Start(ctx, "ledger.Submit")
	defer func() { otel.End(span, err) }()
	span.SetAttributes(attribute.String("ledger.mutation", fmt.Sprintf("%T", mutation)))

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Confirmation{}, classify(ctx, "begin submit", err)
	}
	defer tx.Rollback()

	for _, guard := range mutation.Preconditions() {
		if err := checkGuard(ctx, tx, guard); err != nil {
			return ledger.Confirmation{}, classify(ctx, "check guard", err)
		}
	}

	var last uint64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&last); err != nil {
		return ledger.Confirmation{}, classify(ctx, "read journal head", err)
	}
	seq := last + 1
	now := s.now().UTC().Truncate(time.Millisecond)

	evt, err := applyMutation(ctx, tx, mutation, seq, now)
	if err != nil {
		return ledger.Confirmation{}, classify(ctx, "apply mutation", err)
	}
	evt.Seq = seq
	evt.Actor = mutation.ActorAddress()
	evt.Timestamp = now
	if evt.ID, err = s.newID(); err != nil {
		return ledger.Confirmation{}, fmt.Errorf("generate event id: %w", err)
	}
	if err := s.appendEvent(ctx, tx, &evt); err != nil {
		return ledger.Confirmation{}, classify(ctx, "append event", err)
	}

	if err := tx.Commit(); err != nil {
		return ledger.Confirmation{}, classify(ctx, "commit", err)
	}
	s.broadcast()

	span.SetAttributes(attribute.Int64("ledger.seq", int64(evt.Seq)), attribute.String("ledger.event_type", string(evt.Type)))
	return ledger.Confirmation{
		Seq:         evt.Seq,
		EventID:     evt.ID,
		EventType:   evt.Type,
		ConfirmedAt: now,
	}, nil
}

// appendEvent hashes, chains and signs evt against the previous row and
// inserts it.
func (s *Store) appendEvent(ctx context.Context, tx *sql.Tx, evt *event.Event) error {
	hash, err := event.Hash(*evt)
	if err != nil {
		return fmt.Errorf("compute event hash: %w", err)
	}
	evt.Hash = hash

	prevHash := ""
	if evt.Seq > 1 {
		if err := tx.QueryRowContext(ctx, `SELECT chain_hash FROM events WHERE seq = ?`, evt.Seq-1).Scan(&prevHash); err != nil {
			return fmt.Errorf("load previous chain hash: %w", err)
		}
	}
	evt.PrevHash = prevHash

	chainHash, err := event.ChainHash(*evt, prevHash)
	if err != nil {
		return fmt.Errorf("compute chain hash: %w", err)
	}
	evt.ChainHash = chainHash

	signature, keyID, err := s.keyring.Sign(chainHash)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	evt.Signature = signature
	evt.KeyID = keyID

	_, err = tx.ExecContext(ctx, `
INSERT INTO events (seq, event_id, event_type, event_key, actor, payload, timestamp, event_hash, prev_hash, chain_hash, signature, key_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.Seq, evt.ID, string(evt.Type), evt.Key, evt.Actor, string(evt.Payload), toMillis(evt.Timestamp),
		evt.Hash, evt.PrevHash, evt.ChainHash, evt.Signature, evt.KeyID,
	)
	return err
}

func checkGuard(ctx context.Context, tx *sql.Tx, guard ledger.Guard) error {
	switch g := guard.(type) {
	case ledger.IdentityActive:
		var role string
		var active bool
		err := tx.QueryRowContext(ctx, `SELECT role, active FROM identities WHERE address = ?`, g.Address).Scan(&role, &active)
		if errors.Is(err, sql.ErrNoRows) {
			return &ledger.GuardError{Guard: g, Observed: "absent"}
		}
		if err != nil {
			return err
		}
		if !active {
			return &ledger.GuardError{Guard: g, Observed: "inactive"}
		}
		if !g.AllowsRole(identity.Role(role)) {
			return &ledger.GuardError{Guard: g, Observed: "role " + role}
		}
		return nil
	case ledger.IdentityAbsent:
		var active bool
		err := tx.QueryRowContext(ctx, `SELECT active FROM identities WHERE address = ?`, g.Address).Scan(&active)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if active {
			return &ledger.GuardError{Guard: g, Observed: "active"}
		}
		return &ledger.GuardError{Guard: g, Observed: "inactive"}
	case ledger.GrantIn:
		state, err := grantState(ctx, tx, g.Subject, g.Handler)
		if err != nil {
			return err
		}
		if !slices.Contains(g.States, state) {
			return &ledger.GuardError{Guard: g, Observed: string(state)}
		}
		return nil
	case ledger.DocumentPresent:
		found, err := documentExists(ctx, tx, g.Subject, g.ContentHash)
		if err != nil {
			return err
		}
		if !found {
			return &ledger.GuardError{Guard: g, Observed: "absent"}
		}
		return nil
	case ledger.DocumentAbsent:
		found, err := documentExists(ctx, tx, g.Subject, g.ContentHash)
		if err != nil {
			return err
		}
		if found {
			return &ledger.GuardError{Guard: g, Observed: "present"}
		}
		return nil
	default:
		return fmt.Errorf("unsupported guard %T", guard)
	}
}

func grantState(ctx context.Context, tx *sql.Tx, subject, handler string) (grant.State, error) {
	var state string
	err := tx.QueryRowContext(ctx, `SELECT state FROM grants WHERE subject = ? AND handler = ?`, subject, handler).Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		return grant.StateNone, nil
	}
	if err != nil {
		return "", err
	}
	return grant.State(state), nil
}

func documentExists(ctx context.Context, tx *sql.Tx, subject, contentHash string) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE subject = ? AND content_hash = ?`, subject, contentHash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// applyMutation writes the view change and returns the event describing it,
// without position or integrity fields.
func applyMutation(ctx context.Context, tx *sql.Tx, mutation ledger.Mutation, seq uint64, now time.Time) (event.Event, error) {
	at := toMillis(now)
	switch m := mutation.(type) {
	case ledger.AddIdentity:
		ident := m.Identity
		_, err := tx.ExecContext(ctx, `
INSERT INTO identities (address, display_name, role, active, profile_ref, created_at, updated_at, deactivated_at, seq)
VALUES (?, ?, ?, 1, ?, ?, ?, NULL, ?)`,
			ident.Address, ident.DisplayName, string(ident.Role), ident.ProfileRef, at, at, seq,
		)
		if err != nil {
			return event.Event{}, fmt.Errorf("insert identity: %w", err)
		}
		return event.Event{
			Type: event.TypeIdentityAdded,
			Key:  event.IdentityKey(ident.Address),
			Payload: event.MustPayload(event.IdentityPayload{
				Address:     ident.Address,
				DisplayName: ident.DisplayName,
				Role:        string(ident.Role),
				ProfileRef:  ident.ProfileRef,
			}),
		}, nil

	case ledger.UpdateIdentity:
		var role string
		if err := tx.QueryRowContext(ctx, `SELECT role FROM identities WHERE address = ?`, m.Address).Scan(&role); err != nil {
			return event.Event{}, fmt.Errorf("load identity: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
UPDATE identities SET display_name = ?, profile_ref = ?, updated_at = ?, seq = ?
WHERE address = ?`,
			m.DisplayName, m.ProfileRef, at, seq, m.Address,
		)
		if err != nil {
			return event.Event{}, fmt.Errorf("update identity: %w", err)
		}
		return event.Event{
			Type: event.TypeIdentityUpdated,
			Key:  event.IdentityKey(m.Address),
			Payload: event.MustPayload(event.IdentityPayload{
				Address:     m.Address,
				DisplayName: m.DisplayName,
				Role:        role,
				ProfileRef:  m.ProfileRef,
			}),
		}, nil

	case ledger.DeactivateIdentity:
		_, err := tx.ExecContext(ctx, `
UPDATE identities SET active = 0, updated_at = ?, deactivated_at = ?, seq = ?
WHERE address = ?`,
			at, at, seq, m.Address,
		)
		if err != nil {
			return event.Event{}, fmt.Errorf("deactivate identity: %w", err)
		}
		return event.Event{
			Type:    event.TypeIdentityDeactivated,
			Key:     event.IdentityKey(m.Address),
			Payload: event.MustPayload(event.IdentityPayload{Address: m.Address}),
		}, nil

	case ledger.TransitionGrant:
		from, err := grantState(ctx, tx, m.Subject, m.Handler)
		if err != nil {
			return event.Event{}, fmt.Errorf("load grant: %w", err)
		}
		eventType, err := event.GrantEventType(string(m.To))
		if err != nil {
			return event.Event{}, err
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO grants (subject, handler, state, updated_by, updated_at, seq)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(subject, handler) DO UPDATE SET
    state = excluded.state,
    updated_by = excluded.updated_by,
    updated_at = excluded.updated_at,
    seq = excluded.seq`,
			m.Subject, m.Handler, string(m.To), m.Actor, at, seq,
		)
		if err != nil {
			return event.Event{}, fmt.Errorf("write grant: %w", err)
		}
		return event.Event{
			Type: eventType,
			Key:  event.GrantKey(m.Subject, m.Handler),
			Payload: event.MustPayload(event.GrantPayload{
				Subject: m.Subject,
				Handler: m.Handler,
				From:    string(from),
				To:      string(m.To),
			}),
		}, nil

	case ledger.AddDocument:
		doc := m.Document
		_, err := tx.ExecContext(ctx, `
INSERT INTO documents (subject, content_hash, name, uploaded_by, uploaded_at, size, seq)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
			doc.Subject, doc.ContentHash, doc.Name, doc.UploadedBy, at, doc.Size, seq,
		)
		if err != nil {
			return event.Event{}, fmt.Errorf("insert document: %w", err)
		}
		return event.Event{
			Type: event.TypeDocumentAdded,
			Key:  event.DocumentKey(doc.Subject, doc.ContentHash),
			Payload: event.MustPayload(event.DocumentPayload{
				Subject:     doc.Subject,
				ContentHash: doc.ContentHash,
				Name:        doc.Name,
				UploadedBy:  doc.UploadedBy,
				Size:        doc.Size,
			}),
		}, nil

	case ledger.RemoveDocument:
		var name, uploadedBy string
		var size int64
		err := tx.QueryRowContext(ctx, `SELECT name, uploaded_by, size FROM documents WHERE subject = ? AND content_hash = ?`,
			m.Subject, m.ContentHash).Scan(&name, &uploadedBy, &size)
		if err != nil {
			return event.Event{}, fmt.Errorf("load document: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE subject = ? AND content_hash = ?`, m.Subject, m.ContentHash); err != nil {
			return event.Event{}, fmt.Errorf("delete document: %w", err)
		}
		return event.Event{
			Type: event.TypeDocumentRemoved,
			Key:  event.DocumentKey(m.Subject, m.ContentHash),
			Payload: event.MustPayload(event.DocumentPayload{
				Subject:     m.Subject,
				ContentHash: m.ContentHash,
				Name:        name,
				UploadedBy:  uploadedBy,
				Size:        size,
			}),
		}, nil

	default:
		return event.Event{}, fmt.Errorf("unsupported mutation %T", mutation)
	}
}
