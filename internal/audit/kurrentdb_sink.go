package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"
	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/types"
)

const (
	// AuditStreamPrefix prefixes the per-patient audit stream
	AuditStreamPrefix = "clinical-audit-"
	// AuditEventType is the event type for audit entries
	AuditEventType = "ClinicalAuditEvent"
)

// KurrentDBSink mirrors audit events into one KurrentDB stream per patient.
// KurrentDB is append-only, and the audit event ID is used as the esdb
// event ID so retried writes are deduplicated by the server.
type KurrentDBSink struct {
	client *esdb.Client
}

// NewKurrentDBSink creates a new KurrentDB audit sink
func NewKurrentDBSink(client *esdb.Client) *KurrentDBSink {
	return &KurrentDBSink{client: client}
}

func (s *KurrentDBSink) Name() string { return "kurrentdb" }

// StreamName returns the audit stream of a patient
func StreamName(patientID types.ID) string {
	return AuditStreamPrefix + patientID.String()
}

// Write appends the event to the patient's stream
func (s *KurrentDBSink) Write(ctx context.Context, e AuditEvent) error {
	eventData, err := toEventData(e)
	if err != nil {
		return err
	}

	_, err = s.client.AppendToStream(ctx, StreamName(e.PatientID), esdb.AppendToStreamOptions{}, eventData)
	if err != nil {
		return errors.Wrap(err, "failed to append audit event")
	}
	return nil
}

// ForPatient reads the patient's stream, oldest first
func (s *KurrentDBSink) ForPatient(ctx context.Context, patientID types.ID) ([]AuditEvent, error) {
	opts := esdb.ReadStreamOptions{
		Direction: esdb.Forwards,
		From:      esdb.Start{},
	}

	stream, err := s.client.ReadStream(ctx, StreamName(patientID), opts, ^uint64(0))
	if err != nil {
		if esdbErr, ok := esdb.FromError(err); !ok && esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to read audit stream")
	}
	defer stream.Close()

	var events []AuditEvent
	for {
		resolved, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if esdbErr, ok := esdb.FromError(err); !ok && esdbErr.Code() == esdb.ErrorCodeResourceNotFound {
				return nil, nil
			}
			return nil, errors.Wrap(err, "failed to read audit stream")
		}

		if resolved.Event == nil || resolved.Event.EventType != AuditEventType {
			continue
		}
		var e AuditEvent
		if err := json.Unmarshal(resolved.Event.Data, &e); err != nil {
			return nil, errors.Wrap(err, "failed to decode audit event")
		}
		events = append(events, e)
	}

	return events, nil
}

func toEventData(e AuditEvent) (esdb.EventData, error) {
	eventID, err := uuid.Parse(e.ID.String())
	if err != nil {
		return esdb.EventData{}, errors.Wrap(err, "audit event id is not a uuid")
	}

	data, err := json.Marshal(e)
	if err != nil {
		return esdb.EventData{}, errors.Wrap(err, "failed to marshal audit event")
	}

	return esdb.EventData{
		EventID:     eventID,
		EventType:   AuditEventType,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		Metadata: []byte(fmt.Sprintf(`{"sequence":%d,"hash":"%s"}`,
			e.Sequence, e.Hash)),
	}, nil
}

var (
	_ Sink   = (*KurrentDBSink)(nil)
	_ Loader = (*KurrentDBSink)(nil)
)
