package datamcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// StreamState is the lifecycle state of one event stream.
type StreamState int

const (
	StreamActive StreamState = iota
	StreamClosing
	StreamClosed
)

// EventSink is the transport a stream session emits its events through. A
// Send that returns an error counts as a missed delivery.
type EventSink interface {
	Send(ctx context.Context, data []byte) error
}

var (
	defaultGraceDelay        = 1 * time.Second
	defaultHeartbeatInterval = 10 * time.Second
	defaultMissedThreshold   = 3

	// capabilitiesEventID is the fixed correlation id of the stream's
	// capabilities event.
	capabilitiesEventID = RequestID("1")
)

// StreamOption represents the options for a StreamSession.
type StreamOption func(*StreamSession)

// StreamSession owns one client's event stream. It emits a ready event, then
// after a short grace delay a capabilities event, then periodic heartbeats,
// and tears itself down when the sink fails repeatedly or the context is
// cancelled. All mutation happens on the session's own Run goroutine; the
// exported accessors are safe to call from other goroutines.
type StreamSession struct {
	clientID     string
	createdAt    time.Time
	sink         EventSink
	capabilities Capabilities

	clock             clockwork.Clock
	graceDelay        time.Duration
	heartbeatInterval time.Duration
	missedThreshold   int

	logger *slog.Logger

	mu     sync.Mutex
	state  StreamState
	missed int
}

type streamEvent struct {
	Type      string `json:"type"`
	ClientID  string `json:"clientId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// NewStreamSession creates a session that will emit events for the given
// capabilities payload through sink. A fresh client id is generated per
// session.
func NewStreamSession(sink EventSink, capabilities Capabilities, options ...StreamOption) *StreamSession {
	s := &StreamSession{
		clientID:          uuid.New().String(),
		sink:              sink,
		capabilities:      capabilities,
		clock:             clockwork.NewRealClock(),
		graceDelay:        defaultGraceDelay,
		heartbeatInterval: defaultHeartbeatInterval,
		missedThreshold:   defaultMissedThreshold,
		logger:            slog.Default(),
	}
	for _, opt := range options {
		opt(s)
	}
	s.createdAt = s.clock.Now()
	s.logger = s.logger.With(slog.String("clientID", s.clientID))
	return s
}

// WithStreamClock overrides the session's clock. Tests inject a fake clock
// to drive the grace delay and heartbeat timers.
func WithStreamClock(clock clockwork.Clock) StreamOption {
	return func(s *StreamSession) {
		s.clock = clock
	}
}

// WithGraceDelay overrides the delay between the ready and capabilities
// events.
func WithGraceDelay(delay time.Duration) StreamOption {
	return func(s *StreamSession) {
		s.graceDelay = delay
	}
}

// WithHeartbeatInterval overrides the heartbeat period.
func WithHeartbeatInterval(interval time.Duration) StreamOption {
	return func(s *StreamSession) {
		s.heartbeatInterval = interval
	}
}

// WithMissedThreshold overrides how many consecutive failed heartbeat sends
// close the session.
func WithMissedThreshold(threshold int) StreamOption {
	return func(s *StreamSession) {
		s.missedThreshold = threshold
	}
}

// WithStreamLogger sets the logger for the session.
func WithStreamLogger(logger *slog.Logger) StreamOption {
	return func(s *StreamSession) {
		s.logger = logger.With(slog.String("component", "stream"))
	}
}

// ClientID returns the opaque token identifying this stream.
func (s *StreamSession) ClientID() string { return s.clientID }

// CreatedAt returns when the session was opened.
func (s *StreamSession) CreatedAt() time.Time { return s.createdAt }

// State returns the session's lifecycle state.
func (s *StreamSession) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// MissedHeartbeats returns the current consecutive-failure count.
func (s *StreamSession) MissedHeartbeats() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.missed
}

func (s *StreamSession) setState(state StreamState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *StreamSession) setMissed(n int) {
	s.mu.Lock()
	s.missed = n
	s.mu.Unlock()
}

// Run drives the session until cancellation or failure. Cancellation through
// ctx is the clean path and returns nil without an error event; an
// unrecoverable sink failure emits one final error event best-effort and
// returns the failure. The session is Closed when Run returns.
func (s *StreamSession) Run(ctx context.Context) error {
	defer s.setState(StreamClosed)

	ready := streamEvent{Type: "ready", ClientID: s.clientID}
	if err := s.sendJSON(ctx, ready); err != nil {
		return s.fail(ctx, fmt.Errorf("failed to send ready event: %w", err))
	}

	select {
	case <-ctx.Done():
		s.logger.Info("stream cancelled before capabilities")
		return nil
	case <-s.clock.After(s.graceDelay):
	}

	caps := NewResult(capabilitiesEventID, capabilitiesResult{Capabilities: s.capabilities})
	capsBs, err := caps.Encode()
	if err != nil {
		return s.fail(ctx, err)
	}
	if err := s.sink.Send(ctx, capsBs); err != nil {
		return s.fail(ctx, fmt.Errorf("failed to send capabilities event: %w", err))
	}

	ticker := s.clock.NewTicker(s.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("stream closed by client")
			return nil
		case <-ticker.Chan():
			hb := streamEvent{
				Type:      "heartbeat",
				ClientID:  s.clientID,
				Timestamp: s.clock.Now().UTC().Format(time.RFC3339),
			}
			if err := s.sendJSON(ctx, hb); err != nil {
				s.mu.Lock()
				s.missed++
				missed := s.missed
				s.mu.Unlock()
				s.logger.Error("failed to send heartbeat",
					slog.Int("missed", missed),
					slog.String("err", err.Error()))
				if missed >= s.missedThreshold {
					s.setState(StreamClosing)
					s.logger.Warn("too many missed heartbeats, closing stream")
					return fmt.Errorf("stream stalled after %d missed heartbeats: %w", missed, err)
				}
				continue
			}
			s.setMissed(0)
		}
	}
}

// fail emits the final error event, tolerating a second sink failure, and
// returns the original error.
func (s *StreamSession) fail(ctx context.Context, err error) error {
	s.setState(StreamClosing)
	s.logger.Error("stream error", slog.String("err", err.Error()))
	ev := streamEvent{Type: "error", Message: "Stream error", Detail: err.Error()}
	if sendErr := s.sendJSON(ctx, ev); sendErr != nil {
		s.logger.Error("failed to send error event", slog.String("err", sendErr.Error()))
	}
	return err
}

func (s *StreamSession) sendJSON(ctx context.Context, v any) error {
	bs, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return s.sink.Send(ctx, bs)
}
