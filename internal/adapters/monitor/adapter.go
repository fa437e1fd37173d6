// Package monitor subscribes to bedside monitor readings over MQTT and
// records them as device vitals.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/medflow/platform/internal/patient/domain"
	"github.com/medflow/platform/internal/shared/config"
	"github.com/medflow/platform/internal/shared/errors"
	"github.com/medflow/platform/internal/shared/metrics"
	"github.com/medflow/platform/internal/shared/types"
	"github.com/medflow/platform/internal/workflow"
	"github.com/rs/zerolog"
)

// DefaultTopic carries one reading per message; the last level is the patient ID
const DefaultTopic = "medflow/monitors/+/vitals"

const feedName = "monitor"

// VitalsRecorder records vitals readings
type VitalsRecorder interface {
	RecordVitals(ctx context.Context, actorID string, id types.ID, m domain.VitalsMeasurements, source domain.VitalsSource, observations string) (workflow.Result, error)
}

// Reading is the JSON payload a monitor publishes
type Reading struct {
	PatientID    types.ID `json:"patient_id,omitempty"`
	DeviceID     string   `json:"device_id"`
	Observations string   `json:"observations,omitempty"`

	domain.VitalsMeasurements
}

// Adapter records every reading received on the monitor topic
type Adapter struct {
	cfg      config.MonitorConfig
	recorder VitalsRecorder
	log      zerolog.Logger

	mu     sync.Mutex
	client mqtt.Client
	ctx    context.Context
}

// New creates a monitor adapter
func New(cfg config.MonitorConfig, recorder VitalsRecorder, log zerolog.Logger) *Adapter {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "medflow-platform"
	}
	return &Adapter{
		cfg:      cfg,
		recorder: recorder,
		log:      log.With().Str("component", "monitor").Logger(),
	}
}

// Start connects to the broker and subscribes to the monitor topic
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil {
		return fmt.Errorf("adapter already running")
	}
	a.ctx = context.WithoutCancel(ctx)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(a.cfg.Broker)
	opts.SetClientID(a.cfg.ClientID)
	if a.cfg.Username != "" {
		opts.SetUsername(a.cfg.Username)
	}
	if a.cfg.Password != "" {
		opts.SetPassword(a.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		a.log.Warn().Err(err).Msg("monitor broker connection lost")
	})
	// Subscriptions do not survive a clean-session reconnect
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if err := a.subscribe(c); err != nil {
			a.log.Error().Err(err).Msg("failed to resubscribe")
		}
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	a.client = client
	a.log.Info().Str("broker", a.cfg.Broker).Str("topic", a.cfg.Topic).Msg("monitor feed started")
	return nil
}

func (a *Adapter) subscribe(c mqtt.Client) error {
	token := c.Subscribe(a.cfg.Topic, a.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		if err := a.Handle(a.ctx, msg.Topic(), msg.Payload()); err != nil {
			a.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("monitor reading dropped")
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", a.cfg.Topic, token.Error())
	}
	return nil
}

// Stop unsubscribes and disconnects
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil {
		return
	}
	if token := a.client.Unsubscribe(a.cfg.Topic); token.Wait() && token.Error() != nil {
		a.log.Warn().Err(token.Error()).Msg("failed to unsubscribe")
	}
	a.client.Disconnect(250)
	a.client = nil
}

// Health reports broker connectivity
func (a *Adapter) Health() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil || !a.client.IsConnected() {
		return fmt.Errorf("monitor broker not connected")
	}
	return nil
}

// Handle records one reading. Readings for unknown or discharged patients
// are dropped.
func (a *Adapter) Handle(ctx context.Context, topic string, payload []byte) error {
	var r Reading
	if err := json.Unmarshal(payload, &r); err != nil {
		metrics.RecordFeedMessage(feedName, "malformed")
		return fmt.Errorf("invalid reading: %w", err)
	}

	if r.PatientID == "" {
		r.PatientID = patientFromTopic(topic)
	}
	id, err := types.ParseID(string(r.PatientID))
	if err != nil {
		metrics.RecordFeedMessage(feedName, "malformed")
		return fmt.Errorf("invalid patient id %q", r.PatientID)
	}

	actor := "device"
	if r.DeviceID != "" {
		actor = "device:" + r.DeviceID
	}

	_, err = a.recorder.RecordVitals(ctx, actor, id, r.VitalsMeasurements, domain.VitalsSourceDevice, r.Observations)
	switch {
	case err == nil:
		metrics.RecordFeedMessage(feedName, "recorded")
		return nil
	case errors.Is(err, errors.ErrNotFound), errors.Is(err, errors.ErrIllegalTransition), errors.Is(err, errors.ErrValidation):
		metrics.RecordFeedMessage(feedName, "rejected")
		return err
	default:
		metrics.RecordFeedMessage(feedName, "failed")
		return err
	}
}

// patientFromTopic extracts the patient ID from medflow/monitors/{id}/vitals
func patientFromTopic(topic string) types.ID {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 && parts[len(parts)-1] == "vitals" {
		return types.ID(parts[len(parts)-2])
	}
	return ""
}
