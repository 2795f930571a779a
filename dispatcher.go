package datamcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Phase tracks where a client connection is in the protocol lifecycle.
type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseInitialized
	PhaseShuttingDown
)

func (p Phase) String() string {
	switch p {
	case PhaseUninitialized:
		return "uninitialized"
	case PhaseInitialized:
		return "initialized"
	case PhaseShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// SessionState carries the per-client lifecycle phase across dispatch calls.
// One state exists per logical client connection; the dispatcher itself holds
// no mutable state, so concurrent clients stay isolated as long as each owns
// its own SessionState.
type SessionState struct {
	mu    sync.Mutex
	phase Phase
}

// NewSessionState returns a state in the uninitialized phase.
func NewSessionState() *SessionState { return &SessionState{} }

// Phase returns the current lifecycle phase.
func (s *SessionState) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *SessionState) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Observer is invoked after every dispatch with the method name, how long
// handling took, and the outcome ("success" or "error").
type Observer func(method string, duration time.Duration, outcome string)

var defaultBackendTimeout = 30 * time.Second

// DispatcherOption represents the options for the Dispatcher.
type DispatcherOption func(*Dispatcher)

// Dispatcher routes decoded envelopes to their method handlers, enforcing
// the session lifecycle and parameter contracts, and delegating real work to
// the configured Backend. Every fault on the dispatch path is converted to
// an error envelope; Dispatch never panics and never returns a structurally
// invalid response.
type Dispatcher struct {
	info     ServerInfo
	registry *Registry
	backend  Backend
	assist   Assist
	flags    CapabilityFlags

	debug          bool
	backendTimeout time.Duration

	observer Observer
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher serving the given registry through the
// given backend.
func NewDispatcher(info ServerInfo, registry *Registry, backend Backend, options ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		info:           info,
		registry:       registry,
		backend:        backend,
		flags:          DefaultCapabilityFlags(),
		backendTimeout: defaultBackendTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range options {
		opt(d)
	}
	return d
}

// WithAssist returns a DispatcherOption that enables the code-assistance
// methods through the given implementation.
func WithAssist(assist Assist) DispatcherOption {
	return func(d *Dispatcher) {
		d.assist = assist
	}
}

// WithCapabilityFlags returns a DispatcherOption that overrides the
// advertised capability flags.
func WithCapabilityFlags(flags CapabilityFlags) DispatcherOption {
	return func(d *Dispatcher) {
		d.flags = flags
	}
}

// WithDebug returns a DispatcherOption that enables detail propagation in
// internal error responses. Off by default so internals never leak.
func WithDebug(debug bool) DispatcherOption {
	return func(d *Dispatcher) {
		d.debug = debug
	}
}

// WithBackendTimeout returns a DispatcherOption that bounds how long a
// single backend call may run before it fails as an application error.
func WithBackendTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		d.backendTimeout = timeout
	}
}

// WithDispatchObserver returns a DispatcherOption that installs a hook
// invoked on each dispatch completion.
func WithDispatchObserver(observer Observer) DispatcherOption {
	return func(d *Dispatcher) {
		d.observer = observer
	}
}

// WithDispatcherLogger sets the logger for the dispatcher.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger.With(slog.String("component", "dispatcher"))
	}
}

// Capabilities returns the payload advertised by the initialize handshake
// and the streaming capabilities event.
func (d *Dispatcher) Capabilities() Capabilities {
	return newCapabilities(d.info, d.registry, d.flags)
}

// Dispatch routes one request envelope and returns its response envelope,
// mutating state according to the lifecycle transitions the method causes.
// The returned envelope always carries the request id and exactly one of
// result or error.
func (d *Dispatcher) Dispatch(ctx context.Context, req Envelope, state *SessionState) (resp Envelope) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic during dispatch",
				slog.String("method", req.Method),
				slog.Any("panic", r))
			resp = d.internalError(req.ID, fmt.Errorf("panic: %v", r))
		}
		if d.observer != nil {
			outcome := "success"
			if resp.Error != nil {
				outcome = "error"
			}
			d.observer(req.Method, time.Since(start), outcome)
		}
	}()

	d.logger.Info("dispatching request",
		slog.String("method", req.Method),
		slog.String("phase", state.Phase().String()))

	switch req.Method {
	case MethodInitialize:
		return d.handleInitialize(req, state)
	case MethodShutdown:
		state.setPhase(PhaseShuttingDown)
		return Envelope{JSONRPC: ProtocolVersion, ID: req.ID, Result: json.RawMessage("null")}
	case MethodListTables:
		if env, ok := d.requireInitialized(req, state); !ok {
			return env
		}
		return d.callBackend(ctx, req, func(ctx context.Context) (any, error) {
			tables, err := d.backend.ListTables(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"tables": tables}, nil
		})
	case MethodDiscoverData:
		table, errEnv, ok := d.requireStringParam(req, "table")
		if !ok {
			return errEnv
		}
		if env, ok := d.requireInitialized(req, state); !ok {
			return env
		}
		return d.callBackend(ctx, req, func(ctx context.Context) (any, error) {
			columns, err := d.backend.DiscoverData(ctx, table)
			if err != nil {
				return nil, err
			}
			return map[string]any{"columns": columns}, nil
		})
	case MethodPrepareQuery:
		query, errEnv, ok := d.requireStringParam(req, "query")
		if !ok {
			return errEnv
		}
		if env, ok := d.requireInitialized(req, state); !ok {
			return env
		}
		return d.callBackend(ctx, req, func(ctx context.Context) (any, error) {
			return d.backend.PrepareQuery(ctx, query)
		})
	case MethodQuery:
		query, errEnv, ok := d.requireStringParam(req, "query")
		if !ok {
			return errEnv
		}
		if env, ok := d.requireInitialized(req, state); !ok {
			return env
		}
		return d.callBackend(ctx, req, func(ctx context.Context) (any, error) {
			return d.backend.Query(ctx, query)
		})
	case MethodCodeCompletion, MethodCodeAnalysis, MethodCodeDocumentation:
		if d.assist == nil {
			return d.methodNotFound(req)
		}
		return d.handleAssist(ctx, req)
	default:
		return d.methodNotFound(req)
	}
}

type initializeParams struct {
	ClientInfo struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"clientInfo"`
}

func (d *Dispatcher) handleInitialize(req Envelope, state *SessionState) Envelope {
	if state.Phase() == PhaseShuttingDown {
		return NewError(req.ID, ErrCodeApplication, "Server is shutting down", nil)
	}

	// clientInfo is advisory; a missing or malformed params object still
	// initializes the session.
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err == nil && params.ClientInfo.Name != "" {
			d.logger.Info("client initialized",
				slog.String("client", params.ClientInfo.Name),
				slog.String("version", params.ClientInfo.Version))
		}
	}

	state.setPhase(PhaseInitialized)
	return NewResult(req.ID, capabilitiesResult{Capabilities: d.Capabilities()})
}

func (d *Dispatcher) handleAssist(ctx context.Context, req Envelope) Envelope {
	ctx, cancel := context.WithTimeout(ctx, d.backendTimeout)
	defer cancel()

	var (
		result any
		err    error
	)
	switch req.Method {
	case MethodCodeCompletion:
		var params CompletionParams
		if uErr := json.Unmarshal(req.Params, &params); uErr != nil {
			return d.invalidParams(req.ID, uErr.Error())
		}
		result, err = d.assist.Complete(ctx, params)
	case MethodCodeAnalysis:
		var params AnalysisParams
		if uErr := json.Unmarshal(req.Params, &params); uErr != nil {
			return d.invalidParams(req.ID, uErr.Error())
		}
		result, err = d.assist.Analyze(ctx, params)
	case MethodCodeDocumentation:
		var params DocumentationParams
		if uErr := json.Unmarshal(req.Params, &params); uErr != nil {
			return d.invalidParams(req.ID, uErr.Error())
		}
		result, err = d.assist.Document(ctx, params)
	}
	if err != nil {
		return d.convertBackendError(req, err)
	}
	return NewResult(req.ID, result)
}

// callBackend runs one backend call under the configured timeout and
// converts its outcome into a response envelope.
func (d *Dispatcher) callBackend(ctx context.Context, req Envelope, call func(context.Context) (any, error)) Envelope {
	ctx, cancel := context.WithTimeout(ctx, d.backendTimeout)
	defer cancel()

	result, err := call(ctx)
	if err != nil {
		return d.convertBackendError(req, err)
	}
	return NewResult(req.ID, result)
}

func (d *Dispatcher) convertBackendError(req Envelope, err error) Envelope {
	var bErr *BackendError
	switch {
	case errors.As(err, &bErr):
		d.logger.Error("backend call failed",
			slog.String("method", req.Method),
			slog.String("err", bErr.Message))
		return NewError(req.ID, ErrCodeApplication, bErr.Message, nil)
	case errors.Is(err, context.DeadlineExceeded):
		d.logger.Error("backend call timed out", slog.String("method", req.Method))
		return NewError(req.ID, ErrCodeApplication, "Backend timeout", nil)
	default:
		d.logger.Error("unexpected backend failure",
			slog.String("method", req.Method),
			slog.String("err", err.Error()))
		return d.internalError(req.ID, err)
	}
}

func (d *Dispatcher) internalError(id RequestID, err error) Envelope {
	var data map[string]any
	if d.debug && err != nil {
		data = map[string]any{"detail": err.Error()}
	}
	return NewError(id, ErrCodeInternal, "Internal error", data)
}

func (d *Dispatcher) invalidParams(id RequestID, detail string) Envelope {
	return NewError(id, ErrCodeInvalidParams, "Invalid params",
		map[string]any{"detail": detail})
}

func (d *Dispatcher) methodNotFound(req Envelope) Envelope {
	d.logger.Warn("method not found", slog.String("method", req.Method))
	return NewError(req.ID, ErrCodeMethodNotFound, "Method not found",
		map[string]any{"method": req.Method})
}

// requireInitialized gates backend-dependent methods on the initialized
// phase. Parameter validation runs before this gate so malformed params are
// reported the same way in every phase.
func (d *Dispatcher) requireInitialized(req Envelope, state *SessionState) (Envelope, bool) {
	if state.Phase() != PhaseInitialized {
		return NewError(req.ID, ErrCodeApplication, "Server not initialized", nil), false
	}
	return Envelope{}, true
}

// requireStringParam extracts a required non-empty string parameter,
// returning an invalid-params envelope when it is absent, empty, or not a
// string. The backend is never consulted in that case.
func (d *Dispatcher) requireStringParam(req Envelope, name string) (string, Envelope, bool) {
	var params map[string]json.RawMessage
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return "", d.invalidParams(req.ID, fmt.Sprintf("invalid params object: %s", err)), false
		}
	}
	raw, ok := params[name]
	if !ok {
		return "", d.invalidParams(req.ID, fmt.Sprintf("Missing required parameter: %s", name)), false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil || value == "" {
		return "", d.invalidParams(req.ID, fmt.Sprintf("Missing required parameter: %s", name)), false
	}
	return value, Envelope{}, true
}
