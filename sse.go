package datamcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/tmaxmax/go-sse"
)

// ServerOption represents the options for the Server.
type ServerOption func(*Server)

// Server binds a Dispatcher and the stream session machinery to HTTP. It
// exposes two handlers: HandleRPC for discrete JSON-RPC calls and
// HandleEvents for the long-lived server-to-client event stream. The
// handlers are framework-agnostic and can be mounted on any router.
//
// Calls carrying a clientID query parameter share the lifecycle state of the
// matching open stream; calls without one share a single default state, so a
// lone client needs no stream to use the RPC endpoint.
type Server struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
	clock      clockwork.Clock

	streamOptions []StreamOption

	onStreamOpen  func(clientID string)
	onStreamClose func(clientID string)

	maxBodySize int64

	statesMu     sync.Mutex
	states       map[string]*SessionState
	defaultState *SessionState
}

// NewServer creates a Server dispatching through d.
func NewServer(d *Dispatcher, options ...ServerOption) *Server {
	s := &Server{
		dispatcher:   d,
		logger:       slog.Default(),
		clock:        clockwork.NewRealClock(),
		maxBodySize:  1 << 20,
		states:       make(map[string]*SessionState),
		defaultState: NewSessionState(),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// WithServerLogger sets the logger for the server.
func WithServerLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "server"))
	}
}

// WithServerClock overrides the clock handed to stream sessions.
func WithServerClock(clock clockwork.Clock) ServerOption {
	return func(s *Server) {
		s.clock = clock
	}
}

// WithStreamOptions appends options applied to every stream session the
// server opens.
func WithStreamOptions(options ...StreamOption) ServerOption {
	return func(s *Server) {
		s.streamOptions = append(s.streamOptions, options...)
	}
}

// WithStreamHooks installs callbacks fired when an event stream opens and
// closes, e.g. to maintain an active-connections gauge.
func WithStreamHooks(onOpen, onClose func(clientID string)) ServerOption {
	return func(s *Server) {
		s.onStreamOpen = onOpen
		s.onStreamClose = onClose
	}
}

// WithMaxBodySize caps the accepted JSON-RPC request body size in bytes.
func WithMaxBodySize(size int64) ServerOption {
	return func(s *Server) {
		s.maxBodySize = size
	}
}

// HandleRPC returns an http.Handler for the JSON-RPC call endpoint. Every
// request receives a structurally valid JSON-RPC response body; only a
// response that cannot be serialized at all degrades to a 500 with a static
// internal-error body.
func (s *Server) HandleRPC() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodySize))
		if err != nil {
			s.writeEnvelope(w, http.StatusBadRequest,
				NewError(NullID, ErrCodeParse, "Parse error",
					map[string]any{"detail": "failed to read request body"}))
			return
		}

		req, err := DecodeEnvelope(body)
		if err != nil {
			s.logger.Warn("failed to decode request", slog.String("err", err.Error()))
			pErr, ok := err.(*Error)
			if !ok {
				pErr = &Error{Code: ErrCodeParse, Message: "Parse error"}
			}
			// The id is recovered best-effort so the client can still
			// correlate the failure.
			s.writeEnvelope(w, http.StatusBadRequest,
				Envelope{JSONRPC: ProtocolVersion, ID: RecoverID(body), Error: pErr})
			return
		}

		state := s.stateFor(r.URL.Query().Get("clientID"))
		resp := s.dispatcher.Dispatch(r.Context(), req, state)
		s.writeEnvelope(w, http.StatusOK, resp)
	})
}

// HandleEvents returns an http.Handler for the event-stream endpoint. The
// handler upgrades the connection to SSE and runs one stream session on the
// request's own goroutine until the client disconnects or the session fails.
func (s *Server) HandleEvents() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.Error("failed to upgrade session", slog.String("err", nErr.Error()))
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		options := append([]StreamOption{
			WithStreamClock(s.clock),
			WithStreamLogger(s.logger),
		}, s.streamOptions...)
		stream := NewStreamSession(sseSink{sess: sess}, s.dispatcher.Capabilities(), options...)

		s.registerState(stream.ClientID())
		defer s.removeState(stream.ClientID())

		if s.onStreamOpen != nil {
			s.onStreamOpen(stream.ClientID())
		}
		defer func() {
			if s.onStreamClose != nil {
				s.onStreamClose(stream.ClientID())
			}
		}()

		s.logger.Info("event stream established",
			slog.String("clientID", stream.ClientID()),
			slog.String("userAgent", r.UserAgent()))

		if err := stream.Run(r.Context()); err != nil {
			s.logger.Error("event stream terminated",
				slog.String("clientID", stream.ClientID()),
				slog.String("err", err.Error()))
			return
		}
		s.logger.Info("event stream closed", slog.String("clientID", stream.ClientID()))
	})
}

// stateFor resolves the lifecycle state for a call. An unknown or absent
// clientID maps to the shared default state.
func (s *Server) stateFor(clientID string) *SessionState {
	if clientID == "" {
		return s.defaultState
	}
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	if state, ok := s.states[clientID]; ok {
		return state
	}
	return s.defaultState
}

func (s *Server) registerState(clientID string) {
	s.statesMu.Lock()
	s.states[clientID] = NewSessionState()
	s.statesMu.Unlock()
}

func (s *Server) removeState(clientID string) {
	s.statesMu.Lock()
	delete(s.states, clientID)
	s.statesMu.Unlock()
}

func (s *Server) writeEnvelope(w http.ResponseWriter, status int, env Envelope) {
	bs, err := env.Encode()
	if err != nil {
		s.logger.Error("failed to encode response", slog.String("err", err.Error()))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":null,"error":{"code":%d,"message":"Internal error"}}`,
			ErrCodeInternal)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(bs); err != nil {
		s.logger.Error("failed to write response", slog.String("err", err.Error()))
	}
}

// sseSink adapts a go-sse session to the EventSink the stream machinery
// expects. Events are framed as bare data chunks with no event name, so
// plain EventSource clients receive them as message events.
type sseSink struct {
	sess *sse.Session
}

func (s sseSink) Send(_ context.Context, data []byte) error {
	msg := &sse.Message{}
	msg.AppendData(string(data))
	if err := s.sess.Send(msg); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}
	if err := s.sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush event: %w", err)
	}
	return nil
}
