package audit

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/auth"
	"github.com/medflow/platform/internal/shared/logger"
	"github.com/medflow/platform/internal/shared/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func change(action domain.Action, entity domain.Entity, payload map[string]any) domain.Change {
	return domain.Change{
		Action:   action,
		Entity:   entity,
		EntityID: "e-1",
		Actor:    "dr.house",
		Payload:  payload,
		At:       time.Now(),
	}
}

// TestNewEvent tests building the first event of a chain
func TestNewEvent(t *testing.T) {
	patientID := types.NewID()

	e, err := newEvent(patientID, 1, "", change(domain.ActionCreate, domain.EntityPatientRecord, map[string]any{"name": "Ana"}))
	require.NoError(t, err)

	if e.ID.IsZero() {
		t.Error("Expected non-zero ID")
	}
	if e.Sequence != 1 {
		t.Errorf("Expected sequence 1, got %d", e.Sequence)
	}
	if e.PreviousHash != "" {
		t.Error("Expected empty previous hash for first event")
	}
	if e.Hash == "" {
		t.Error("Expected non-empty hash")
	}
	if e.Timestamp.Nanosecond()%1000 != 0 {
		t.Error("Timestamp should be truncated to microseconds")
	}
	if e.Timestamp.Location() != time.UTC {
		t.Error("Timestamp should be in UTC")
	}
	if !e.VerifyHash() {
		t.Error("Hash should be valid for a new event")
	}
}

// TestTamperDetection tests that modifying an event invalidates its hash
func TestTamperDetection(t *testing.T) {
	e, err := newEvent(types.NewID(), 1, "", change(domain.ActionModify, domain.EntityHistorySection, map[string]any{"text": "Original"}))
	require.NoError(t, err)

	e.Payload["text"] = "Tampered"
	if e.VerifyHash() {
		t.Error("Hash should be invalid after tampering with the payload")
	}

	e.Payload["text"] = "Original"
	e.Actor = "someone.else"
	if e.VerifyHash() {
		t.Error("Hash should be invalid after tampering with the actor")
	}
}

// TestCanonicalJSONDeterminism tests that key order never changes a hash
func TestCanonicalJSONDeterminism(t *testing.T) {
	a, err := canonicalJSON(map[string]any{
		"zebra": "last",
		"apple": "first",
		"nested": map[string]any{
			"z": 3,
			"a": 1,
		},
	})
	require.NoError(t, err)

	b, err := canonicalJSON(map[string]any{
		"nested": map[string]any{
			"a": 1,
			"z": 3,
		},
		"apple": "first",
		"zebra": "last",
	})
	require.NoError(t, err)

	assert.Equal(t, `{"apple":"first","nested":{"a":1,"z":3},"zebra":"last"}`, string(a))
	assert.Equal(t, string(a), string(b))
}

func TestTrailAppendChainsEvents(t *testing.T) {
	ctx := context.Background()
	trail := NewTrail()
	patientID := types.NewID()

	first, err := trail.Append(ctx, patientID,
		change(domain.ActionCreate, domain.EntityPatientRecord, nil),
		change(domain.ActionCreate, domain.EntityVitals, map[string]any{"spo2": 88}),
	)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := trail.Append(ctx, patientID, change(domain.ActionSignoff, domain.EntityClinicalFile, nil))
	require.NoError(t, err)
	require.Len(t, second, 1)

	events, err := trail.ForPatient(ctx, patientID)
	require.NoError(t, err)
	require.Len(t, events, 3)

	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
		if i > 0 {
			assert.Equal(t, events[i-1].Hash, e.PreviousHash, "event %d should link to its predecessor", i)
		}
	}

	result, err := trail.Verify(ctx, patientID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 3, result.Checked)
	assert.Equal(t, 3, result.ContentValid)
	assert.Equal(t, 3, result.LinkageValid)
	assert.Empty(t, result.Violations)
}

func TestTrailAppendNothing(t *testing.T) {
	events, err := NewTrail().Append(context.Background(), types.NewID())
	require.NoError(t, err)
	assert.Nil(t, events)
}

func TestTrailChainsArePerPatient(t *testing.T) {
	ctx := context.Background()
	trail := NewTrail()
	a, b := types.NewID(), types.NewID()

	_, err := trail.Append(ctx, a, change(domain.ActionCreate, domain.EntityPatientRecord, nil))
	require.NoError(t, err)
	_, err = trail.Append(ctx, a, change(domain.ActionModify, domain.EntityPatientRecord, nil))
	require.NoError(t, err)
	got, err := trail.Append(ctx, b, change(domain.ActionCreate, domain.EntityPatientRecord, nil))
	require.NoError(t, err)

	assert.Equal(t, int64(1), got[0].Sequence)
	assert.Empty(t, got[0].PreviousHash)
}

func TestTrailConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	trail := NewTrail()
	patientID := types.NewID()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := trail.Append(ctx, patientID, change(domain.ActionModify, domain.EntityTeamNote, map[string]any{"i": i}))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	result, err := trail.Verify(ctx, patientID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, 20, result.Checked)
}

func TestForPatientReturnsCopies(t *testing.T) {
	ctx := context.Background()
	trail := NewTrail()
	patientID := types.NewID()

	_, err := trail.Append(ctx, patientID, change(domain.ActionModify, domain.EntitySOAPNote, map[string]any{"text": "stable"}))
	require.NoError(t, err)

	events, err := trail.ForPatient(ctx, patientID)
	require.NoError(t, err)
	events[0].Payload["text"] = "changed"

	result, err := trail.Verify(ctx, patientID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestVerifyChainDetectsViolations(t *testing.T) {
	ctx := context.Background()
	trail := NewTrail()
	patientID := types.NewID()

	_, err := trail.Append(ctx, patientID,
		change(domain.ActionCreate, domain.EntityOrder, map[string]any{"code": "CBC"}),
		change(domain.ActionAccept, domain.EntityOrder, nil),
		change(domain.ActionCancel, domain.EntityOrder, nil),
	)
	require.NoError(t, err)

	tests := []struct {
		name           string
		tamper         func([]AuditEvent) []AuditEvent
		contentInvalid int
		linkageInvalid int
	}{
		{
			name:   "untouched",
			tamper: func(e []AuditEvent) []AuditEvent { return e },
		},
		{
			name: "edited payload",
			tamper: func(e []AuditEvent) []AuditEvent {
				e[0].Payload["code"] = "BMP"
				return e
			},
			contentInvalid: 1,
		},
		{
			name: "removed event",
			tamper: func(e []AuditEvent) []AuditEvent {
				return []AuditEvent{e[0], e[2]}
			},
			linkageInvalid: 1,
		},
		{
			name: "reordered events",
			tamper: func(e []AuditEvent) []AuditEvent {
				return []AuditEvent{e[1], e[0], e[2]}
			},
			linkageInvalid: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := trail.ForPatient(ctx, patientID)
			require.NoError(t, err)

			result := VerifyChain(patientID, tt.tamper(events))
			if result.ContentInvalid != tt.contentInvalid {
				t.Errorf("Expected %d content violations, got %d", tt.contentInvalid, result.ContentInvalid)
			}
			if result.LinkageInvalid != tt.linkageInvalid {
				t.Errorf("Expected %d linkage violations, got %d", tt.linkageInvalid, result.LinkageInvalid)
			}
			wantValid := tt.contentInvalid == 0 && tt.linkageInvalid == 0
			if result.Valid != wantValid {
				t.Errorf("Expected valid=%v, got %v (%v)", wantValid, result.Valid, result.Violations)
			}
		})
	}
}

type stubLoader struct {
	events []AuditEvent
	err    error
	calls  int
}

func (l *stubLoader) ForPatient(_ context.Context, _ types.ID) ([]AuditEvent, error) {
	l.calls++
	return l.events, l.err
}

func TestTrailRestoresFromLoader(t *testing.T) {
	ctx := context.Background()
	patientID := types.NewID()

	earlier := NewTrail()
	stored, err := earlier.Append(ctx, patientID,
		change(domain.ActionCreate, domain.EntityPatientRecord, nil),
		change(domain.ActionCreate, domain.EntityVitals, nil),
	)
	require.NoError(t, err)

	loader := &stubLoader{events: stored}
	trail := NewTrail(WithLoader(loader))

	appended, err := trail.Append(ctx, patientID, change(domain.ActionSignoff, domain.EntityClinicalFile, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(3), appended[0].Sequence)
	assert.Equal(t, stored[1].Hash, appended[0].PreviousHash)

	_, err = trail.ForPatient(ctx, patientID)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls, "chain should be loaded once")

	result, err := trail.Verify(ctx, patientID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestTrailLoaderFailure(t *testing.T) {
	trail := NewTrail(WithLoader(&stubLoader{err: fmt.Errorf("connection refused")}))

	_, err := trail.Append(context.Background(), types.NewID(), change(domain.ActionCreate, domain.EntityPatientRecord, nil))
	assert.Error(t, err)
}

func TestTrailPrepareDoesNotStore(t *testing.T) {
	ctx := context.Background()
	patientID := types.NewID()
	trail := NewTrail()

	pending, err := trail.Prepare(ctx, patientID, change(domain.ActionCreate, domain.EntityPatientRecord, nil))
	require.NoError(t, err)
	require.Len(t, pending.Events(), 1)

	events, err := trail.ForPatient(ctx, patientID)
	require.NoError(t, err)
	if len(events) != 0 {
		t.Errorf("Expected no stored events before commit, got %d", len(events))
	}

	committed, err := trail.Commit(pending)
	require.NoError(t, err)
	assert.Equal(t, int64(1), committed[0].Sequence)

	result, err := trail.Verify(ctx, patientID)
	require.NoError(t, err)
	assert.True(t, result.Valid)
}

func TestTrailCommitRejectsMovedHead(t *testing.T) {
	ctx := context.Background()
	patientID := types.NewID()
	trail := NewTrail()

	pending, err := trail.Prepare(ctx, patientID, change(domain.ActionModify, domain.EntityTeamNote, nil))
	require.NoError(t, err)

	_, err = trail.Append(ctx, patientID, change(domain.ActionCreate, domain.EntityPatientRecord, nil))
	require.NoError(t, err)

	_, err = trail.Commit(pending)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}

	events, err := trail.ForPatient(ctx, patientID)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestTrailPrepareLoaderFailure(t *testing.T) {
	trail := NewTrail(WithLoader(&stubLoader{err: fmt.Errorf("connection refused")}))

	pending, err := trail.Prepare(context.Background(), types.NewID(), change(domain.ActionCreate, domain.EntityPatientRecord, nil))
	assert.Error(t, err)
	assert.Nil(t, pending)
}

type recordingSink struct {
	mu       sync.Mutex
	events   []AuditEvent
	failures int
	attempts int
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Write(_ context.Context, e AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("sink unavailable")
	}
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) snapshot() ([]AuditEvent, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AuditEvent(nil), s.events...), s.attempts
}

func TestForwarderMirrorsInOrder(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	fwd := NewForwarder(16, 0, logger.Nop(), sink)
	fwd.Start(ctx)

	trail := NewTrail(WithForwarder(fwd))
	patientID := types.NewID()
	for i := 0; i < 5; i++ {
		_, err := trail.Append(ctx, patientID, change(domain.ActionModify, domain.EntityChecklist, map[string]any{"i": i}))
		require.NoError(t, err)
	}
	fwd.Close()

	got, _ := sink.snapshot()
	require.Len(t, got, 5)
	for i, e := range got {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestForwarderRetriesFailedWrites(t *testing.T) {
	sink := &recordingSink{failures: 2}
	fwd := NewForwarder(4, 3, logger.Nop(), sink)
	fwd.backoff = time.Millisecond
	fwd.Start(context.Background())

	e, err := newEvent(types.NewID(), 1, "", change(domain.ActionCreate, domain.EntityRound, nil))
	require.NoError(t, err)
	assert.True(t, fwd.Enqueue(e))
	fwd.Close()

	got, attempts := sink.snapshot()
	assert.Len(t, got, 1)
	assert.Equal(t, 3, attempts)
}

func TestForwarderGivesUpAfterRetries(t *testing.T) {
	sink := &recordingSink{failures: 10}
	fwd := NewForwarder(4, 1, logger.Nop(), sink)
	fwd.backoff = time.Millisecond
	fwd.Start(context.Background())

	e, err := newEvent(types.NewID(), 1, "", change(domain.ActionCreate, domain.EntityRound, nil))
	require.NoError(t, err)
	fwd.Enqueue(e)
	fwd.Close()

	got, attempts := sink.snapshot()
	assert.Empty(t, got)
	assert.Equal(t, 2, attempts)
}

func TestForwarderDropsWhenFull(t *testing.T) {
	fwd := NewForwarder(1, 0, logger.Nop(), &recordingSink{})

	e, err := newEvent(types.NewID(), 1, "", change(domain.ActionCreate, domain.EntityRound, nil))
	require.NoError(t, err)

	// Not started, so nothing drains the queue
	assert.True(t, fwd.Enqueue(e))
	assert.False(t, fwd.Enqueue(e))

	fwd.Close()
	assert.False(t, fwd.Enqueue(e), "closed forwarder should refuse events")
}

func TestForwarderFailureDoesNotAffectTrail(t *testing.T) {
	ctx := context.Background()
	fwd := NewForwarder(1, 0, logger.Nop(), &recordingSink{failures: 100})
	trail := NewTrail(WithForwarder(fwd))
	patientID := types.NewID()

	for i := 0; i < 3; i++ {
		_, err := trail.Append(ctx, patientID, change(domain.ActionModify, domain.EntityTeamNote, nil))
		require.NoError(t, err)
	}

	events, err := trail.ForPatient(ctx, patientID)
	require.NoError(t, err)
	assert.Len(t, events, 3)
	fwd.Close()
}

func TestExportXLSX(t *testing.T) {
	ctx := context.Background()
	trail := NewTrail()
	patientID := types.NewID()
	_, err := trail.Append(ctx, patientID,
		change(domain.ActionCreate, domain.EntityPatientRecord, map[string]any{"name": "Ana"}),
		change(domain.ActionSignoff, domain.EntityClinicalFile, nil),
	)
	require.NoError(t, err)
	events, err := trail.ForPatient(ctx, patientID)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, ExportXLSX(&buf, patientID, events))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, exportHeader, rows[0])
	assert.Equal(t, "1", rows[1][0])
	assert.Equal(t, "dr.house", rows[1][2])
	assert.Equal(t, "signoff", rows[2][3])
	assert.Equal(t, events[1].Hash, rows[2][8])

	verification, err := f.GetRows("Verification")
	require.NoError(t, err)
	assert.Equal(t, []string{"Valid", "TRUE"}, verification[1])
}

func TestHandlerRoutes(t *testing.T) {
	ctx := context.Background()
	trail := NewTrail()
	patientID := types.NewID()
	_, err := trail.Append(ctx, patientID, change(domain.ActionCreate, domain.EntityPatientRecord, nil))
	require.NoError(t, err)

	router := NewHandler(trail).Routes()
	doctor := &auth.User{ID: "dr.house", Roles: []string{auth.RoleDoctor}}
	intern := &auth.User{ID: "intern.1", Roles: []string{auth.RoleIntern}}

	tests := []struct {
		name   string
		path   string
		user   *auth.User
		status int
	}{
		{"list", "/patients/" + patientID.String() + "/", doctor, http.StatusOK},
		{"verify", "/patients/" + patientID.String() + "/verify", doctor, http.StatusOK},
		{"export", "/patients/" + patientID.String() + "/export.xlsx", doctor, http.StatusOK},
		{"bad id", "/patients/not-a-uuid/", doctor, http.StatusBadRequest},
		{"intern forbidden", "/patients/" + patientID.String() + "/", intern, http.StatusForbidden},
		{"anonymous", "/patients/" + patientID.String() + "/", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.user != nil {
				req = req.WithContext(auth.WithUser(req.Context(), tt.user))
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Errorf("Expected status %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
		})
	}
}
