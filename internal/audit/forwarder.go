package audit

import (
	"context"
	"sync"
	"time"

	"github.com/medflow/platform/internal/shared/metrics"
	"github.com/rs/zerolog"
)

// Sink is an external store audit events are mirrored to
type Sink interface {
	Name() string
	Write(ctx context.Context, e AuditEvent) error
}

// Forwarder mirrors audit events to sinks from a bounded queue drained by
// a single goroutine, so per-patient order is kept. Enqueue never blocks:
// when the queue is full the event is counted as dropped. It stays in the
// Trail either way. Sink errors are logged and counted, never returned.
type Forwarder struct {
	queue   chan AuditEvent
	sinks   []Sink
	retries int
	backoff time.Duration
	timeout time.Duration
	log     zerolog.Logger

	mu      sync.RWMutex
	started bool
	closed  bool
	done    chan struct{}
}

// NewForwarder creates a forwarder with room for bufferSize pending events
func NewForwarder(bufferSize, retries int, log zerolog.Logger, sinks ...Sink) *Forwarder {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if retries < 0 {
		retries = 0
	}
	return &Forwarder{
		queue:   make(chan AuditEvent, bufferSize),
		sinks:   sinks,
		retries: retries,
		backoff: 200 * time.Millisecond,
		timeout: 5 * time.Second,
		log:     log.With().Str("component", "audit_forwarder").Logger(),
		done:    make(chan struct{}),
	}
}

// Start launches the drain goroutine
func (f *Forwarder) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started || f.closed {
		return
	}
	f.started = true
	go f.run(context.WithoutCancel(ctx))
}

// Enqueue schedules e for forwarding and reports whether it was accepted
func (f *Forwarder) Enqueue(e AuditEvent) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed || len(f.sinks) == 0 {
		return false
	}
	select {
	case f.queue <- e:
		return true
	default:
		metrics.RecordAuditForwardDropped()
		f.log.Warn().
			Str("patient_id", e.PatientID.String()).
			Int64("sequence", e.Sequence).
			Msg("audit forward queue full, event not mirrored")
		return false
	}
}

// Close stops accepting events and waits until the queue is drained
func (f *Forwarder) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	started := f.started
	close(f.queue)
	f.mu.Unlock()

	if started {
		<-f.done
	}
}

func (f *Forwarder) run(ctx context.Context) {
	defer close(f.done)
	for e := range f.queue {
		for _, s := range f.sinks {
			f.write(ctx, s, e)
		}
	}
}

func (f *Forwarder) write(ctx context.Context, s Sink, e AuditEvent) {
	var err error
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(f.backoff * time.Duration(attempt))
		}
		wctx, cancel := context.WithTimeout(ctx, f.timeout)
		err = s.Write(wctx, e)
		cancel()
		if err == nil {
			return
		}
	}

	metrics.RecordAuditForwardFailure(s.Name())
	f.log.Error().Err(err).
		Str("sink", s.Name()).
		Str("patient_id", e.PatientID.String()).
		Int64("sequence", e.Sequence).
		Msg("failed to forward audit event")
}
