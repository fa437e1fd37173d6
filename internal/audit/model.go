package audit

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/types"
)

// canonicalJSON produces deterministic JSON output with sorted map keys.
// Go maps have random iteration order and PostgreSQL JSONB may reorder
// keys, so hashes are always taken over the canonical form.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}

	return canonicalMarshal(parsed)
}

func canonicalMarshal(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			valBytes, err := canonicalMarshal(val[k])
			if err != nil {
				return nil, err
			}
			buf.Write(valBytes)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil

	case []any:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			itemBytes, err := canonicalMarshal(item)
			if err != nil {
				return nil, err
			}
			buf.Write(itemBytes)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil

	default:
		return json.Marshal(val)
	}
}

// AuditEvent is one immutable entry of a patient's audit trail. Events of a
// patient form a hash chain ordered by Sequence.
type AuditEvent struct {
	ID           types.ID       `json:"id"`
	PatientID    types.ID       `json:"patient_id"`
	Sequence     int64          `json:"sequence"`
	Timestamp    time.Time      `json:"timestamp"`
	Actor        string         `json:"actor"`
	Action       domain.Action  `json:"action"`
	Entity       domain.Entity  `json:"entity"`
	EntityID     string         `json:"entity_id,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	PreviousHash string         `json:"previous_hash,omitempty"`
	Hash         string         `json:"hash"`
}

// newEvent builds the next event of a chain from an audit intent
func newEvent(patientID types.ID, seq int64, prevHash string, c domain.Change) (AuditEvent, error) {
	// Payloads are stored in their JSON form so that a reloaded event hashes
	// to the same value as the one that was appended.
	var payload map[string]any
	if len(c.Payload) > 0 {
		data, err := json.Marshal(c.Payload)
		if err != nil {
			return AuditEvent{}, err
		}
		if err := json.Unmarshal(data, &payload); err != nil {
			return AuditEvent{}, err
		}
	}

	ts := c.At
	if ts.IsZero() {
		ts = time.Now()
	}

	e := AuditEvent{
		ID:           types.NewID(),
		PatientID:    patientID,
		Sequence:     seq,
		Timestamp:    ts.UTC().Truncate(time.Microsecond), // PostgreSQL precision
		Actor:        c.Actor,
		Action:       c.Action,
		Entity:       c.Entity,
		EntityID:     c.EntityID,
		Payload:      payload,
		PreviousHash: prevHash,
	}
	e.Hash = e.calculateHash()
	return e, nil
}

// calculateHash calculates the SHA-256 hash of the event over canonical JSON
func (e *AuditEvent) calculateHash() string {
	data := map[string]any{
		"id":            e.ID,
		"patient_id":    e.PatientID,
		"sequence":      e.Sequence,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"actor":         e.Actor,
		"action":        e.Action,
		"entity":        e.Entity,
		"entity_id":     e.EntityID,
		"previous_hash": e.PreviousHash,
	}
	if len(e.Payload) > 0 {
		data["payload"] = e.Payload
	}

	jsonData, _ := canonicalJSON(data)
	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:])
}

// VerifyHash verifies the event's hash against its content
func (e *AuditEvent) VerifyHash() bool {
	return e.Hash == e.calculateHash()
}

// VerifyResult contains chain verification results for one patient
type VerifyResult struct {
	PatientID      types.ID `json:"patient_id"`
	Valid          bool     `json:"valid"`
	Checked        int      `json:"checked"`
	ContentValid   int      `json:"content_valid"`
	ContentInvalid int      `json:"content_invalid"`
	LinkageValid   int      `json:"linkage_valid"`
	LinkageInvalid int      `json:"linkage_invalid"`
	Violations     []string `json:"violations,omitempty"`
}
