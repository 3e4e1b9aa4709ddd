package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/louisbranch/recordvault/internal/platform/timeouts"
	"github.com/louisbranch/recordvault/internal/services/vault/domain/event"
	"github.com/louisbranch/recordvault/internal/services/vault/ledger"
)

const (
	defaultEventPage = 100
	maxEventPage     = 1000
)

const eventColumns = `seq, event_id, event_type, event_key, actor, payload, timestamp, event_hash, prev_hash, chain_hash, signature, key_id`

func scanEvent(row rowScanner) (event.Event, error) {
	var (
		evt       event.Event
		eventType string
		payload   string
		timestamp int64
	)
	if err := row.Scan(
		&evt.Seq,
		&evt.ID,
		&eventType,
		&evt.Key,
		&evt.Actor,
		&payload,
		&timestamp,
		&evt.Hash,
		&evt.PrevHash,
		&evt.ChainHash,
		&evt.Signature,
		&evt.KeyID,
	); err != nil {
		return event.Event{}, err
	}
	evt.Type = event.Type(eventType)
	evt.Payload = json.RawMessage(payload)
	evt.Timestamp = fromMillis(timestamp)
	return evt, nil
}

// ListEvents returns up to limit events with seq greater than afterSeq.
func (s *Store) ListEvents(ctx context.Context, afterSeq uint64, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = defaultEventPage
	}
	if limit > maxEventPage {
		limit = maxEventPage
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE seq > ? ORDER BY seq LIMIT ?`, afterSeq, limit)
	if err != nil {
		return nil, classify(ctx, "list events", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, classify(ctx, "scan event", err)
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(ctx, "list events", err)
	}
	return out, nil
}

// LatestSeq returns the highest confirmed sequence, or zero for an empty journal.
func (s *Store) LatestSeq(ctx context.Context) (uint64, error) {
	return latestSeq(ctx, s.sqlDB)
}

func latestSeq(ctx context.Context, q queryer) (uint64, error) {
	var seq uint64
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq); err != nil {
		return 0, classify(ctx, "latest seq", err)
	}
	return seq, nil
}

// Subscribe yields confirmed events after afterSeq that match filter. It wakes
// on local commits and polls for commits made by other processes.
func (s *Store) Subscribe(ctx context.Context, afterSeq uint64, filter ledger.Filter) iter.Seq2[event.Event, error] {
	return func(yield func(event.Event, error) bool) {
		cursor := afterSeq
		ticker := time.NewTicker(timeouts.SubscriptionPoll)
		defer ticker.Stop()

		for {
			// Take the wake channel before reading so a commit landing between
			// the read and the wait is not missed.
			wake := s.changed()
			page, err := s.ListEvents(ctx, cursor, defaultEventPage)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				yield(event.Event{}, err)
				return
			}
			for _, evt := range page {
				cursor = evt.Seq
				if !filter.Match(evt) {
					continue
				}
				if !yield(evt, nil) {
					return
				}
			}
			if len(page) == defaultEventPage {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-wake:
			case <-ticker.C:
			}
		}
	}
}

// IntegrityError describes the first journal row that fails verification.
type IntegrityError struct {
	Seq    uint64
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("journal integrity broken at seq %d: %s", e.Seq, e.Reason)
}

// VerifyIntegrity walks the whole journal checking sequence continuity, event
// hashes, chain links and signatures. It returns the number of rows verified.
func (s *Store) VerifyIntegrity(ctx context.Context) (uint64, error) {
	var (
		expected  uint64 = 1
		prevChain string
	)
	for {
		page, err := s.ListEvents(ctx, expected-1, maxEventPage)
		if err != nil {
			return expected - 1, err
		}
		if len(page) == 0 {
			return expected - 1, nil
		}
		for _, evt := range page {
			if evt.Seq != expected {
				return expected - 1, &IntegrityError{Seq: expected, Reason: fmt.Sprintf("gap: next row is seq %d", evt.Seq)}
			}
			hash, err := event.Hash(evt)
			if err != nil {
				return expected - 1, &IntegrityError{Seq: evt.Seq, Reason: err.Error()}
			}
			if hash != evt.Hash {
				return expected - 1, &IntegrityError{Seq: evt.Seq, Reason: "event hash mismatch"}
			}
			if evt.PrevHash != prevChain {
				return expected - 1, &IntegrityError{Seq: evt.Seq, Reason: "previous hash mismatch"}
			}
			chain, err := event.ChainHash(evt, prevChain)
			if err != nil {
				return expected - 1, &IntegrityError{Seq: evt.Seq, Reason: err.Error()}
			}
			if chain != evt.ChainHash {
				return expected - 1, &IntegrityError{Seq: evt.Seq, Reason: "chain hash mismatch"}
			}
			if err := s.keyring.Verify(evt.ChainHash, evt.Signature, evt.KeyID); err != nil {
				return expected - 1, &IntegrityError{Seq: evt.Seq, Reason: err.Error()}
			}
			prevChain = evt.ChainHash
			expected++
		}
	}
}

// Snapshot dumps every view at one journal position.
func (s *Store) Snapshot(ctx context.Context) (ledger.Snapshot, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Snapshot{}, classify(ctx, "begin snapshot", err)
	}
	defer tx.Rollback()

	var snap ledger.Snapshot
	if snap.LastSeq, err = latestSeq(ctx, tx); err != nil {
		return ledger.Snapshot{}, err
	}
	if snap.Identities, err = listIdentities(ctx, tx, "", false); err != nil {
		return ledger.Snapshot{}, err
	}
	if snap.Grants, err = listGrantRows(ctx, tx, `SELECT `+grantColumns+` FROM grants ORDER BY subject, handler`); err != nil {
		return ledger.Snapshot{}, err
	}
	if snap.Documents, err = listDocumentRows(ctx, tx, `SELECT `+documentColumns+` FROM documents ORDER BY subject, content_hash`); err != nil {
		return ledger.Snapshot{}, err
	}
	return snap, nil
}

// Checkpoints returns the consumer checkpoint store sharing this database.
func (s *Store) Checkpoints() ledger.CheckpointStore {
	return checkpointStore{store: s}
}

type checkpointStore struct {
	store *Store
}

func (c checkpointStore) Get(ctx context.Context, name string) (ledger.Checkpoint, error) {
	var (
		cp        = ledger.Checkpoint{Name: name}
		updatedAt int64
	)
	err := c.store.sqlDB.QueryRowContext(ctx,
		`SELECT last_seq, updated_at FROM checkpoints WHERE name = ?`, name).Scan(&cp.LastSeq, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Checkpoint{}, ledger.ErrNotFound
	}
	if err != nil {
		return ledger.Checkpoint{}, classify(ctx, "get checkpoint", err)
	}
	cp.UpdatedAt = fromMillis(updatedAt)
	return cp, nil
}

func (c checkpointStore) Save(ctx context.Context, cp ledger.Checkpoint) error {
	if cp.Name == "" {
		return fmt.Errorf("checkpoint name is required")
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = c.store.now()
	}
	_, err := c.store.sqlDB.ExecContext(ctx, `
INSERT INTO checkpoints (name, last_seq, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET last_seq = excluded.last_seq, updated_at = excluded.updated_at`,
		cp.Name, cp.LastSeq, toMillis(cp.UpdatedAt),
	)
	if err != nil {
		return classify(ctx, "save checkpoint", err)
	}
	return nil
}
