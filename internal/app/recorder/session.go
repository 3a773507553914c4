// Package recorder owns the recording session: one state machine, one
// ingestion goroutine, one durable log.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DJA-prog/MCU/internal/domain"
	"github.com/DJA-prog/MCU/internal/ports"
	"github.com/DJA-prog/MCU/internal/wire"
)

// State is the lifecycle position of the session.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateRecording  State = "recording"
	StateError      State = "error"
	StateStopping   State = "stopping"
)

var (
	// ErrAlreadyActive rejects start while a session is running. The
	// running session is left untouched.
	ErrAlreadyActive = errors.New("recording is already active")
	// ErrNotActive rejects stop while idle.
	ErrNotActive = errors.New("recording is not active")
	// ErrNotConnected rejects device commands while the link is down.
	ErrNotConnected = errors.New("transport not connected")
)

// Status is a point-in-time snapshot of the session. is_recording is
// user intent, is_connected is transport fact; they move independently.
type Status struct {
	State         State           `json:"state"`
	IsRecording   bool            `json:"is_recording"`
	IsConnected   bool            `json:"is_connected"`
	Transport     string          `json:"transport"`
	StartTime     *time.Time      `json:"start_time,omitempty"`
	TotalReadings uint64          `json:"total_readings"`
	LastReading   *domain.Reading `json:"last_reading,omitempty"`
}

// Option customizes a Session.
type Option func(*Session)

// WithStopTimeout bounds how long Stop waits for the ingestion
// goroutine to confirm exit.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithClock overrides the receive timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// Session drives one transport into the ring buffer and the record log.
// The ingestion goroutine is the sole writer of the buffer, the log,
// last_reading and total_readings; everything else reads snapshots.
type Session struct {
	transport ports.Transport
	log       ports.RecordWriter
	buffer    ports.ReadingBuffer
	obs       ports.Observability

	stopTimeout time.Duration
	now         func() time.Time

	mu            sync.RWMutex
	state         State
	isRecording   bool
	isConnected   bool
	startTime     *time.Time
	totalReadings uint64
	lastReading   *domain.Reading
	lastReceived  time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSession(tr ports.Transport, log ports.RecordWriter, buf ports.ReadingBuffer, obs ports.Observability, opts ...Option) *Session {
	s := &Session{
		transport:   tr,
		log:         log,
		buffer:      buf,
		obs:         obs,
		stopTimeout: 5 * time.Second,
		now:         time.Now,
		state:       StateIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start accepts the recording request and returns while the connection
// proceeds in the background. Valid only from Idle; anything else is
// rejected without touching the running session.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.state = StateConnecting
	s.isRecording = true
	s.isConnected = false
	s.startTime = nil

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	if err := s.transport.Open(runCtx); err != nil {
		cancel()
		s.mu.Lock()
		s.state = StateIdle
		s.isRecording = false
		s.cancel = nil
		s.done = nil
		s.mu.Unlock()
		return fmt.Errorf("open %s transport: %w", s.transport.Name(), err)
	}

	go s.run(runCtx, done)
	s.obs.LogInfo("session_started", ports.Field{Key: "transport", Value: s.transport.Name()})
	return nil
}

// Stop tears the session down: close the transport, wait briefly for
// the ingestion goroutine, return to Idle. Once past the state check it
// always succeeds; a ragged teardown is logged, never propagated.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state == StateIdle || s.state == StateStopping {
		s.mu.Unlock()
		return ErrNotActive
	}
	s.state = StateStopping
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := s.transport.Close(); err != nil {
		s.obs.LogWarn("transport_close_failed", err)
	}
	if done != nil {
		select {
		case <-done:
		case <-time.After(s.stopTimeout):
			s.obs.LogWarn("ingest_exit_timeout", nil, ports.Field{Key: "timeout", Value: s.stopTimeout.String()})
		}
	}

	s.mu.Lock()
	s.state = StateIdle
	s.isRecording = false
	s.isConnected = false
	s.mu.Unlock()

	s.obs.SetGauge("recorder_connected", 0)
	s.obs.LogInfo("session_stopped")
	return nil
}

// Send relays one device command. Accepted only while the transport is
// connected; the command never changes session state.
func (s *Session) Send(cmd ports.Command) error {
	s.mu.RLock()
	connected := s.isConnected
	s.mu.RUnlock()
	if !connected {
		return ErrNotConnected
	}

	if err := s.transport.Send(cmd); err != nil {
		s.obs.IncCounter("recorder_transport_errors_total", 1)
		s.obs.LogWarn("command_send_failed", err, ports.Field{Key: "command", Value: string(cmd)})
		return fmt.Errorf("send command: %w", err)
	}
	s.obs.IncCounter("recorder_commands_sent_total", 1)
	s.obs.LogInfo("command_sent", ports.Field{Key: "command", Value: string(cmd)})
	return nil
}

// Status returns an atomic snapshot of the session fields.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		State:         s.state,
		IsRecording:   s.isRecording,
		IsConnected:   s.isConnected,
		Transport:     s.transport.Name(),
		TotalReadings: s.totalReadings,
	}
	if s.startTime != nil {
		t := *s.startTime
		st.StartTime = &t
	}
	if s.lastReading != nil {
		r := *s.lastReading
		st.LastReading = &r
	}
	return st
}

// Latest returns the most recent committed reading, if any.
func (s *Session) Latest() (domain.Reading, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastReading == nil {
		return domain.Reading{}, false
	}
	return *s.lastReading, true
}

// Recent returns up to limit buffered readings, oldest first. limit <= 0
// means the whole buffer.
func (s *Session) Recent(limit int) []domain.Reading {
	snap := s.buffer.Snapshot()
	if limit > 0 && len(snap) > limit {
		snap = snap[len(snap)-limit:]
	}
	return snap
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	events := s.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev ports.Event) {
	switch ev.Kind {
	case ports.EventConnected:
		s.markConnected()
		s.obs.LogInfo("transport_connected", ports.Field{Key: "transport", Value: s.transport.Name()})

	case ports.EventDisconnected:
		s.markDisconnected()
		s.obs.LogWarn("transport_disconnected", nil, ports.Field{Key: "reason", Value: ev.Reason})

	case ports.EventError:
		s.markDisconnected()
		s.obs.LogWarn("transport_error", ev.Err)

	case ports.EventFrame:
		s.obs.IncCounter("recorder_frames_total", 1)
		// Traffic proves the link is up even if the connected event was
		// lost or has not fired yet.
		s.markConnected()
		s.ingest(ev.Frame)
	}
}

func (s *Session) markConnected() {
	s.mu.Lock()
	s.isConnected = true
	if s.state == StateConnecting || s.state == StateError {
		s.state = StateRecording
		if s.startTime == nil {
			now := s.now()
			s.startTime = &now
		}
	}
	s.mu.Unlock()
	s.obs.SetGauge("recorder_connected", 1)
}

func (s *Session) markDisconnected() {
	s.mu.Lock()
	s.isConnected = false
	if s.state == StateRecording || s.state == StateConnecting {
		s.state = StateError
	}
	s.mu.Unlock()
	s.obs.SetGauge("recorder_connected", 0)
}

func (s *Session) ingest(frame []byte) {
	res := wire.Decode(frame)
	switch res.Kind {
	case wire.KindReading:
		s.commit(res.Reading)

	case wire.KindStatus:
		s.obs.IncCounter("recorder_status_events_total", 1)
		if res.Status.Error {
			s.obs.LogWarn("device_status", nil, ports.Field{Key: "text", Value: res.Status.Text})
		} else {
			s.obs.LogInfo("device_status", ports.Field{Key: "text", Value: res.Status.Text})
		}

	case wire.KindAck:
		s.obs.LogDebug("device_ack", ports.Field{Key: "ok", Value: res.AckOK})

	case wire.KindIgnored:
		s.obs.LogDebug("frame_ignored", ports.Field{Key: "raw", Value: res.Raw})

	case wire.KindUnrecognized:
		s.obs.IncCounter("recorder_unrecognized_frames_total", 1)
		s.obs.LogInfo("frame_unrecognized", ports.Field{Key: "raw", Value: res.Raw})

	case wire.KindInvalid:
		s.obs.IncCounter("recorder_decode_errors_total", 1)
		s.obs.LogWarn("frame_decode_failed", res.Err, ports.Field{Key: "raw", Value: res.Raw})
	}
}

// commit publishes one accepted reading: memory first (always visible),
// then the durable log. A failed append is a warning, not a session
// failure; the reading stays queryable either way.
func (s *Session) commit(r *domain.Reading) {
	now := s.now()

	s.mu.Lock()
	// received_at never moves backwards, wall clock or not.
	if now.Before(s.lastReceived) {
		now = s.lastReceived
	}
	s.lastReceived = now
	r.ReceivedAt = now
	accepted := *r
	s.lastReading = &accepted
	s.totalReadings++
	s.mu.Unlock()

	s.buffer.Push(accepted)
	s.obs.SetGauge("recorder_buffer_readings", float64(s.buffer.Len()))

	start := time.Now()
	if err := s.log.Append(&accepted); err != nil {
		s.obs.IncCounter("recorder_log_write_failures_total", 1)
		s.obs.LogWarn("record_append_failed", err, ports.Field{Key: "device", Value: accepted.Device})
	} else {
		s.obs.ObserveLatency("recorder_log_append_seconds", time.Since(start).Seconds())
	}
	s.obs.IncCounter("recorder_readings_total", 1)
}
