package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Hash computes the content hash of an event: SHA-256 over the canonical JSON
// of its identifying fields. Integrity fields and Seq are excluded so the
// hash can be computed before the ledger assigns a position.
func Hash(e Event) (string, error) {
	envelope := map[string]any{
		"id":        e.ID,
		"type":      string(e.Type),
		"key":       e.Key,
		"actor":     e.Actor,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if len(e.Payload) > 0 {
		envelope["payload"] = json.RawMessage(e.Payload)
	}
	data, err := CanonicalJSON(envelope)
	if err != nil {
		return "", fmt.Errorf("canonical event: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ChainHash links an event to its predecessor by hashing the sequence, the
// previous chain hash and the event hash together.
func ChainHash(e Event, prevChainHash string) (string, error) {
	if e.Hash == "" {
		return "", fmt.Errorf("event hash is required")
	}
	data, err := CanonicalJSON(map[string]any{
		"seq":        strconv.FormatUint(e.Seq, 10),
		"prev_hash":  prevChainHash,
		"event_hash": e.Hash,
	})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalJSON produces deterministic JSON: object keys sorted, no
// insignificant whitespace, no HTML escaping, numbers kept verbatim.
func CanonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	// encoding/json writes map keys in sorted order.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("encode canonical: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
