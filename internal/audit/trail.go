package audit

import (
	"context"
	"fmt"
	"sync"

	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/metrics"
	"github.com/medflow/platform/internal/shared/types"
)

// Loader reads a patient's previously mirrored events, oldest first
type Loader interface {
	ForPatient(ctx context.Context, patientID types.ID) ([]AuditEvent, error)
}

// Trail is the authoritative append-only audit log. Each patient has its
// own hash chain; appends for one patient are totally ordered. Appended
// events are handed to the forwarder for best-effort mirroring.
type Trail struct {
	mu        sync.Mutex
	chains    map[types.ID][]AuditEvent
	loader    Loader
	forwarder *Forwarder
}

// TrailOption configures a Trail
type TrailOption func(*Trail)

// WithLoader restores chains written by an earlier process on first use
func WithLoader(l Loader) TrailOption {
	return func(t *Trail) { t.loader = l }
}

// WithForwarder mirrors appended events to external sinks
func WithForwarder(f *Forwarder) TrailOption {
	return func(t *Trail) { t.forwarder = f }
}

// NewTrail creates an empty trail
func NewTrail(opts ...TrailOption) *Trail {
	t := &Trail{chains: make(map[types.ID][]AuditEvent)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// chain returns the chain of a patient, restoring it through the loader
// the first time. Caller holds t.mu.
func (t *Trail) chain(ctx context.Context, patientID types.ID) ([]AuditEvent, error) {
	if c, ok := t.chains[patientID]; ok {
		return c, nil
	}
	var c []AuditEvent
	if t.loader != nil {
		loaded, err := t.loader.ForPatient(ctx, patientID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load audit trail")
		}
		c = loaded
	}
	t.chains[patientID] = c
	return c, nil
}

// Pending is a batch of events built against a chain head but not yet
// stored. It is produced by Prepare and stored by Commit.
type Pending struct {
	patientID types.ID
	headSeq   int64
	headHash  string
	events    []AuditEvent
}

// Events returns the prepared events, oldest first
func (p *Pending) Events() []AuditEvent {
	if p == nil {
		return nil
	}
	return p.events
}

// Append appends one event per change, in order, and returns them
func (t *Trail) Append(ctx context.Context, patientID types.ID, changes ...domain.Change) ([]AuditEvent, error) {
	p, err := t.Prepare(ctx, patientID, changes...)
	if err != nil {
		return nil, err
	}
	return t.Commit(p)
}

// Prepare builds one event per change against the current head of the
// patient's chain without storing them. Loading the chain and hashing the
// payloads are the failure points of an append, so a caller that prepares
// before writing elsewhere can abort cleanly. A nil Pending means there was
// nothing to append.
func (t *Trail) Prepare(ctx context.Context, patientID types.ID, changes ...domain.Change) (*Pending, error) {
	if len(changes) == 0 {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.chain(ctx, patientID)
	if err != nil {
		return nil, err
	}

	p := &Pending{patientID: patientID}
	if n := len(c); n > 0 {
		p.headHash = c[n-1].Hash
		p.headSeq = c[n-1].Sequence
	}

	prevHash, seq := p.headHash, p.headSeq
	p.events = make([]AuditEvent, 0, len(changes))
	for _, change := range changes {
		seq++
		e, err := newEvent(patientID, seq, prevHash, change)
		if err != nil {
			return nil, errors.Wrap(err, "failed to build audit event")
		}
		p.events = append(p.events, e)
		prevHash = e.Hash
	}
	return p, nil
}

// Commit stores prepared events. It fails without storing anything when the
// chain has moved since Prepare.
func (t *Trail) Commit(p *Pending) ([]AuditEvent, error) {
	if p == nil || len(p.events) == 0 {
		return nil, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c := t.chains[p.patientID]
	var headHash string
	var headSeq int64
	if n := len(c); n > 0 {
		headHash = c[n-1].Hash
		headSeq = c[n-1].Sequence
	}
	if headHash != p.headHash || headSeq != p.headSeq {
		return nil, errors.Conflict(fmt.Sprintf("audit trail of patient %s moved from sequence %d to %d", p.patientID, p.headSeq, headSeq))
	}

	t.chains[p.patientID] = append(c, p.events...)

	for _, e := range p.events {
		metrics.RecordAuditEvent(string(e.Action), string(e.Entity))
		if t.forwarder != nil {
			t.forwarder.Enqueue(e)
		}
	}
	return p.events, nil
}

// ForPatient returns a copy of the patient's events, oldest first
func (t *Trail) ForPatient(ctx context.Context, patientID types.ID) ([]AuditEvent, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, err := t.chain(ctx, patientID)
	if err != nil {
		return nil, err
	}
	out := make([]AuditEvent, len(c))
	for i, e := range c {
		e.Payload = copyValue(e.Payload).(map[string]any)
		out[i] = e
	}
	return out, nil
}

// copyValue deep-copies decoded JSON so callers cannot reach stored payloads
func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if val == nil {
			return val
		}
		m := make(map[string]any, len(val))
		for k, item := range val {
			m[k] = copyValue(item)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, item := range val {
			s[i] = copyValue(item)
		}
		return s
	default:
		return val
	}
}

// Verify recomputes every hash of the patient's chain and checks linkage
func (t *Trail) Verify(ctx context.Context, patientID types.ID) (*VerifyResult, error) {
	events, err := t.ForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	return VerifyChain(patientID, events), nil
}

// VerifyChain checks content hashes and prev-hash linkage of events given
// oldest first.
func VerifyChain(patientID types.ID, events []AuditEvent) *VerifyResult {
	result := &VerifyResult{PatientID: patientID, Valid: true}

	var prevHash string
	for i, e := range events {
		if e.VerifyHash() {
			result.ContentValid++
		} else {
			result.ContentInvalid++
			result.Valid = false
			result.Violations = append(result.Violations,
				fmt.Sprintf("CONTENT TAMPERED: event %s (seq %d) - stored hash doesn't match content", e.ID, e.Sequence))
		}

		if e.PreviousHash == prevHash && e.Sequence == int64(i+1) {
			result.LinkageValid++
		} else {
			result.LinkageInvalid++
			result.Valid = false
			result.Violations = append(result.Violations,
				fmt.Sprintf("CHAIN BROKEN: event %s (seq %d) - previous hash or sequence doesn't follow the prior event", e.ID, e.Sequence))
		}

		prevHash = e.Hash
		result.Checked++
	}
	return result
}
