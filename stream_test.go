package datamcp_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/datamcp/datamcp"
)

// fakeSink records every delivery attempt and can be switched into a failing
// mode to simulate a stalled client.
type fakeSink struct {
	mu       sync.Mutex
	failing  bool
	attempts chan sinkAttempt
}

type sinkAttempt struct {
	data   []byte
	failed bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{attempts: make(chan sinkAttempt, 64)}
}

func (s *fakeSink) setFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

func (s *fakeSink) Send(_ context.Context, data []byte) error {
	s.mu.Lock()
	failing := s.failing
	s.mu.Unlock()
	s.attempts <- sinkAttempt{data: data, failed: failing}
	if failing {
		return errors.New("client gone")
	}
	return nil
}

func (s *fakeSink) next(t *testing.T) sinkAttempt {
	t.Helper()
	select {
	case a := <-s.attempts:
		return a
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a sink delivery")
		return sinkAttempt{}
	}
}

func eventType(t *testing.T, data []byte) string {
	t.Helper()
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		t.Fatalf("event is not valid JSON: %v", err)
	}
	if _, ok := probe["jsonrpc"]; ok {
		return "capabilities"
	}
	var typ string
	if err := json.Unmarshal(probe["type"], &typ); err != nil {
		t.Fatalf("event has no type: %s", data)
	}
	return typ
}

func testCapabilities() datamcp.Capabilities {
	d := datamcp.NewDispatcher(
		datamcp.ServerInfo{Name: "Test Server", Version: "0.0.1"},
		datamcp.DefaultRegistry(),
		&mockBackend{},
	)
	return d.Capabilities()
}

func startStream(t *testing.T, sink *fakeSink, clock clockwork.Clock) (*datamcp.StreamSession, context.CancelFunc, chan error) {
	t.Helper()
	stream := datamcp.NewStreamSession(sink, testCapabilities(),
		datamcp.WithStreamClock(clock))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- stream.Run(ctx)
	}()
	return stream, cancel, done
}

func waitDone(t *testing.T, done chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not terminate")
		return nil
	}
}

func TestStreamEventOrder(t *testing.T) {
	sink := newFakeSink()
	clock := clockwork.NewFakeClock()
	stream, cancel, done := startStream(t, sink, clock)
	defer cancel()

	ready := sink.next(t)
	if got := eventType(t, ready.data); got != "ready" {
		t.Fatalf("first event = %q, want ready", got)
	}
	var readyEvent struct {
		ClientID string `json:"clientId"`
	}
	if err := json.Unmarshal(ready.data, &readyEvent); err != nil {
		t.Fatal(err)
	}
	if readyEvent.ClientID != stream.ClientID() {
		t.Errorf("ready clientId = %q, want %q", readyEvent.ClientID, stream.ClientID())
	}

	// The capabilities event follows only after the grace delay.
	clock.BlockUntil(1)
	select {
	case a := <-sink.attempts:
		t.Fatalf("event %s arrived before the grace delay elapsed", a.data)
	default:
	}
	clock.Advance(time.Second)

	caps := sink.next(t)
	if got := eventType(t, caps.data); got != "capabilities" {
		t.Fatalf("second event = %q, want capabilities", got)
	}
	var capsEnv struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  struct {
			Capabilities struct {
				Tools []datamcp.Tool `json:"tools"`
			} `json:"capabilities"`
		} `json:"result"`
	}
	if err := json.Unmarshal(caps.data, &capsEnv); err != nil {
		t.Fatal(err)
	}
	if capsEnv.JSONRPC != "2.0" || string(capsEnv.ID) != "1" {
		t.Errorf("capabilities envelope jsonrpc=%q id=%s", capsEnv.JSONRPC, capsEnv.ID)
	}
	if len(capsEnv.Result.Capabilities.Tools) != 4 {
		t.Errorf("capabilities advertise %d tools, want 4", len(capsEnv.Result.Capabilities.Tools))
	}

	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)
	hb := sink.next(t)
	if got := eventType(t, hb.data); got != "heartbeat" {
		t.Fatalf("third event = %q, want heartbeat", got)
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("clean cancellation returned %v", err)
	}
	if stream.State() != datamcp.StreamClosed {
		t.Errorf("state = %v, want closed", stream.State())
	}
}

func TestStreamCleanCancellationEmitsNoErrorEvent(t *testing.T) {
	sink := newFakeSink()
	clock := clockwork.NewFakeClock()
	_, cancel, done := startStream(t, sink, clock)

	sink.next(t) // ready
	clock.BlockUntil(1)
	cancel()

	if err := waitDone(t, done); err != nil {
		t.Fatalf("Run returned %v, want nil", err)
	}
	select {
	case a := <-sink.attempts:
		t.Errorf("unexpected event after cancellation: %s", a.data)
	default:
	}
}

func TestStreamHeartbeatFailureResets(t *testing.T) {
	sink := newFakeSink()
	clock := clockwork.NewFakeClock()
	stream, cancel, done := startStream(t, sink, clock)
	defer cancel()

	sink.next(t) // ready
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	sink.next(t) // capabilities

	// Two misses, then a recovering delivery.
	sink.setFailing(true)
	for i := 1; i <= 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(10 * time.Second)
		if a := sink.next(t); !a.failed {
			t.Fatalf("heartbeat %d unexpectedly delivered", i)
		}
		if got := stream.MissedHeartbeats(); got != i {
			t.Errorf("missed = %d, want %d", got, i)
		}
	}

	sink.setFailing(false)
	clock.BlockUntil(1)
	clock.Advance(10 * time.Second)
	if a := sink.next(t); a.failed {
		t.Fatal("recovering heartbeat failed")
	}
	if got := stream.MissedHeartbeats(); got != 0 {
		t.Errorf("missed = %d after recovery, want 0", got)
	}

	cancel()
	if err := waitDone(t, done); err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestStreamClosesAfterThreeConsecutiveMisses(t *testing.T) {
	sink := newFakeSink()
	clock := clockwork.NewFakeClock()
	stream, cancel, done := startStream(t, sink, clock)
	defer cancel()

	sink.next(t) // ready
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	sink.next(t) // capabilities

	sink.setFailing(true)
	for i := 1; i <= 3; i++ {
		clock.BlockUntil(1)
		clock.Advance(10 * time.Second)
		sink.next(t)
	}

	err := waitDone(t, done)
	if err == nil {
		t.Fatal("Run returned nil after three missed heartbeats")
	}
	if stream.State() != datamcp.StreamClosed {
		t.Errorf("state = %v, want closed", stream.State())
	}
	// The liveness threshold closes silently; only unrecoverable stream
	// errors produce a final error event.
	select {
	case a := <-sink.attempts:
		t.Errorf("unexpected event after threshold close: %s", a.data)
	default:
	}
}

func TestStreamReadyFailureEmitsErrorEvent(t *testing.T) {
	sink := newFakeSink()
	sink.setFailing(true)
	clock := clockwork.NewFakeClock()
	_, cancel, done := startStream(t, sink, clock)
	defer cancel()

	if a := sink.next(t); !a.failed {
		t.Fatal("ready event unexpectedly delivered")
	}
	errEvent := sink.next(t)
	if got := eventType(t, errEvent.data); got != "error" {
		t.Fatalf("follow-up event = %q, want error", got)
	}
	var ev struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(errEvent.data, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Message != "Stream error" {
		t.Errorf("message = %q", ev.Message)
	}
	if err := waitDone(t, done); err == nil {
		t.Error("Run returned nil, want the ready failure")
	}
}

func TestStreamSessionsGetDistinctClientIDs(t *testing.T) {
	a := datamcp.NewStreamSession(newFakeSink(), testCapabilities())
	b := datamcp.NewStreamSession(newFakeSink(), testCapabilities())
	if a.ClientID() == b.ClientID() {
		t.Errorf("two sessions share client id %q", a.ClientID())
	}
	if a.ClientID() == "" {
		t.Error("client id is empty")
	}
}
