package eventbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"
)

var errServerDisabled = errors.New("eventbridge: server disabled")

// Server is the notification intake for a run. Whatever executes work orders
// POSTs task outcomes to /events; GET /health reports what has been accepted.
type Server struct {
	settings  Settings
	processor EventProcessor
	logger    Logger
	clock     func() time.Time
	scope     *planScope

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	started  time.Time
	accepted map[string]int
}

// planScope limits intake to the plan being run.
type planScope struct {
	planID string
	tasks  map[string]struct{}
}

func (p *planScope) check(evt Event) (int, error) {
	if normalizePlan(evt.PlanID) != normalizePlan(p.planID) {
		return http.StatusNotFound, fmt.Errorf("unknown plan %s", evt.PlanID)
	}
	if _, ok := p.tasks[evt.TaskID]; !ok {
		return http.StatusUnprocessableEntity, fmt.Errorf("plan %s has no task %s", p.planID, evt.TaskID)
	}
	return 0, nil
}

// Option customizes server construction.
type Option func(*Server)

// WithProcessor sets where validated events go.
func WithProcessor(p EventProcessor) Option {
	return func(s *Server) {
		if p != nil {
			s.processor = p
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithPlan accepts only events for planID that name one of taskIDs. Other
// plans get 404 and unknown tasks 422.
func WithPlan(planID string, taskIDs []string) Option {
	return func(s *Server) {
		scope := &planScope{planID: planID, tasks: make(map[string]struct{}, len(taskIDs))}
		for _, id := range taskIDs {
			scope.tasks[id] = struct{}{}
		}
		s.scope = scope
	}
}

// NewServer prepares an intake server.
func NewServer(settings Settings, opts ...Option) *Server {
	s := &Server{
		settings:  settings.withDefaults(),
		processor: EventProcessorFunc(func(Event) error { return nil }),
		logger:    nopLogger{},
		clock:     time.Now,
		accepted:  map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start binds the listener and serves in the background until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	if !s.settings.Enabled {
		return errServerDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("eventbridge: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("eventbridge: listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /events", s.handleEvents)
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  s.settings.Timeout,
		WriteTimeout: s.settings.Timeout,
		IdleTimeout:  4 * s.settings.Timeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.listener = listener
	s.started = s.clock()
	go func(srv *http.Server) {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("eventbridge: serve error: %v", err)
		}
	}(s.server)
	s.logger.Printf("eventbridge: accepting events on http://%s/events", listener.Addr())
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server, s.listener = nil, nil
	return err
}

// EventsURL is where task outcomes are posted. It is empty until Start.
func (s *Server) EventsURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return "http://" + s.listener.Addr().String() + "/events"
}

// Accepted returns how many events of each type were accepted.
func (s *Server) Accepted() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.accepted))
	for kind, n := range s.accepted {
		out[kind] = n
	}
	return out
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Accepted: s.Accepted()}
	if s.scope != nil {
		resp.PlanID = s.scope.planID
		resp.Tasks = make([]string, 0, len(s.scope.tasks))
		for id := range s.scope.tasks {
			resp.Tasks = append(resp.Tasks, id)
		}
		sort.Strings(resp.Tasks)
	}
	s.mu.Lock()
	if !s.started.IsZero() {
		resp.UptimeSeconds = int64(s.clock().Sub(s.started).Seconds())
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	evt, status, err := s.decodeEvent(w, r)
	if err != nil {
		writeJSON(w, status, eventResponse{Status: "rejected", Error: err.Error()})
		return
	}
	resp := eventResponse{EventID: evt.EventID, PlanID: evt.PlanID, TaskID: evt.TaskID, Type: evt.Type}
	if s.scope != nil {
		if status, err := s.scope.check(evt); err != nil {
			resp.Status, resp.Error = "rejected", err.Error()
			writeJSON(w, status, resp)
			return
		}
	}
	evt.StampServerTime(s.clock())
	resp.ServerTime = evt.ServerTime

	err = s.processor.HandleEvent(evt)
	switch {
	case err == nil:
		s.mu.Lock()
		s.accepted[evt.Type]++
		s.mu.Unlock()
		resp.Status = "accepted"
		writeJSON(w, http.StatusAccepted, resp)
	case errors.Is(err, ErrDuplicateEvent):
		resp.Status = "duplicate"
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, ErrQueueFull):
		s.logger.Printf("eventbridge: %s for %s refused, queue full", evt.Type, evt.TaskID)
		w.Header().Set("Retry-After", "1")
		resp.Status, resp.Error = "retry", "queue full"
		writeJSON(w, http.StatusServiceUnavailable, resp)
	default:
		s.logger.Printf("eventbridge: processing %s failed: %v", evt.EventID, err)
		resp.Status, resp.Error = "error", "event processing failed"
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}

// decodeEvent reads one strict JSON event, normalized and validated.
func (s *Server) decodeEvent(w http.ResponseWriter, r *http.Request) (Event, int, error) {
	var evt Event
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&evt); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return evt, http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", maxErr.Limit)
		}
		return evt, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err)
	}
	evt.Normalize()
	if err := evt.Validate(); err != nil {
		return evt, http.StatusBadRequest, err
	}
	return evt, 0, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
