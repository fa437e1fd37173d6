package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/metrics"
	"github.com/medflow/platform/internal/shared/types"
)

// PostgresSink mirrors audit events into the append-only audit_events
// table and restores chains from it after a restart.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink creates a new Postgres audit sink
func NewPostgresSink(pool *pgxpool.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

func (s *PostgresSink) Name() string { return "postgres" }

// Write inserts the event. Re-delivery of an already stored event is a no-op.
func (s *PostgresSink) Write(ctx context.Context, e AuditEvent) error {
	defer observe("audit_insert", time.Now())

	var payload []byte
	if len(e.Payload) > 0 {
		var err error
		payload, err = json.Marshal(e.Payload)
		if err != nil {
			return errors.Wrap(err, "failed to marshal audit payload")
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (
			id, patient_id, sequence, timestamp, actor,
			action, entity, entity_id, payload, previous_hash, hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (patient_id, sequence) DO NOTHING`,
		e.ID, e.PatientID, e.Sequence, e.Timestamp, e.Actor,
		string(e.Action), string(e.Entity), e.EntityID, payload, e.PreviousHash, e.Hash,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert audit event")
	}
	return nil
}

// ForPatient returns the stored chain of a patient, oldest first
func (s *PostgresSink) ForPatient(ctx context.Context, patientID types.ID) ([]AuditEvent, error) {
	defer observe("audit_select", time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT id, patient_id, sequence, timestamp, actor,
			action, entity, entity_id, payload, COALESCE(previous_hash, ''), hash
		FROM audit_events
		WHERE patient_id = $1
		ORDER BY sequence ASC`, patientID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit events")
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var action, entity string
		var payload []byte

		if err := rows.Scan(
			&e.ID, &e.PatientID, &e.Sequence, &e.Timestamp, &e.Actor,
			&action, &entity, &e.EntityID, &payload, &e.PreviousHash, &e.Hash,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan audit event")
		}

		e.Action = domain.Action(action)
		e.Entity = domain.Entity(entity)
		e.Timestamp = e.Timestamp.UTC()
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, errors.Wrap(err, "failed to decode audit payload")
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read audit events")
	}

	return events, nil
}

func observe(op string, start time.Time) {
	metrics.RecordDBQuery(op, time.Since(start))
}

var (
	_ Sink   = (*PostgresSink)(nil)
	_ Loader = (*PostgresSink)(nil)
)
