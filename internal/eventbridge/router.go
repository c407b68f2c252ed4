package eventbridge

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/kingrea/lattice-waves/internal/workflow/engine"
)

const (
	defaultSubscriberCapacity = 100
	defaultBacklogLimit       = defaultSubscriberCapacity
	defaultDedupeWindow       = 1024
)

// ErrQueueFull is returned when a terminal event cannot be queued without
// dropping another terminal event. The bridge answers 503 so the sender retries.
var ErrQueueFull = errors.New("eventbridge: subscriber queue full")

// ErrDuplicateEvent is returned for an event ID seen inside the dedupe window.
// The event is not delivered again.
var ErrDuplicateEvent = errors.New("eventbridge: duplicate event")

// RouterOption customizes Router construction.
type RouterOption func(*Router)

// Router delivers bridge events to plan-specific subscribers with buffering,
// deduplication, and bounded channel semantics.
type Router struct {
	mu           sync.Mutex
	subscribers  map[string]map[*subscriber]struct{}
	backlog      map[string][]Event
	recentIDs    map[string]struct{}
	recentOrder  []string
	channelSize  int
	backlogLimit int
	dedupeWindow int
	logger       Logger
}

// Subscription represents an active plan subscription.
type Subscription struct {
	Events <-chan Event
	cancel func()
}

// Close terminates the subscription.
func (s Subscription) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// NewRouter constructs a router with sane defaults.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		subscribers:  map[string]map[*subscriber]struct{}{},
		backlog:      map[string][]Event{},
		recentIDs:    map[string]struct{}{},
		recentOrder:  make([]string, 0, defaultDedupeWindow),
		channelSize:  defaultSubscriberCapacity,
		backlogLimit: defaultBacklogLimit,
		dedupeWindow: defaultDedupeWindow,
		logger:       nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	// A replay must fit in a fresh subscriber channel.
	if r.backlogLimit > r.channelSize {
		r.backlogLimit = r.channelSize
	}
	return r
}

// RouterWithLogger injects a logger for drop/diagnostic messages.
func RouterWithLogger(logger Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// RouterWithSubscriberCapacity overrides the buffered channel size per subscriber.
func RouterWithSubscriberCapacity(cap int) RouterOption {
	return func(r *Router) {
		if cap > 0 {
			r.channelSize = cap
		}
	}
}

// RouterWithBacklogLimit overrides the backlog size for pre-subscription
// buffering. The limit never exceeds the subscriber capacity.
func RouterWithBacklogLimit(limit int) RouterOption {
	return func(r *Router) {
		if limit > 0 {
			r.backlogLimit = limit
		}
	}
}

// RouterWithDedupeWindow controls how many recent event IDs are retained.
func RouterWithDedupeWindow(size int) RouterOption {
	return func(r *Router) {
		if size > 0 {
			r.dedupeWindow = size
		}
	}
}

// Subscribe registers for events keyed by plan ID. Events that arrived before
// the subscription are replayed first, ahead of anything routed afterwards.
func (r *Router) Subscribe(planID string) Subscription {
	plan := normalizePlan(planID)
	sub := newSubscriber(r.channelSize, r.logger)
	r.mu.Lock()
	if r.subscribers[plan] == nil {
		r.subscribers[plan] = map[*subscriber]struct{}{}
	}
	r.subscribers[plan][sub] = struct{}{}
	backlog := r.backlog[plan]
	delete(r.backlog, plan)
	for i, event := range backlog {
		if err := sub.deliver(event); err != nil {
			r.logger.Printf("eventbridge: replay for %s stopped after %d of %d events: %v", plan, i, len(backlog), err)
			break
		}
	}
	r.mu.Unlock()
	return Subscription{
		Events: sub.channel(),
		cancel: func() {
			r.removeSubscriber(plan, sub)
		},
	}
}

// HandleEvent satisfies the EventProcessor interface.
func (r *Router) HandleEvent(event Event) error {
	return r.Route(event)
}

// Route delivers the event to subscribers or buffers it when no subscriber
// exists. A rejected event is forgotten by the dedupe window so a retry with
// the same ID is accepted.
func (r *Router) Route(event Event) error {
	if event.EventID != "" && r.isDuplicate(event.EventID) {
		return ErrDuplicateEvent
	}
	plan := normalizePlan(event.PlanID)
	if plan == "" {
		return nil
	}
	r.mu.Lock()
	subs := r.snapshotSubscribers(plan)
	if len(subs) == 0 {
		err := r.bufferLocked(plan, event)
		r.mu.Unlock()
		if err != nil {
			r.forget(event.EventID)
		}
		return err
	}
	r.mu.Unlock()
	var rejected bool
	for _, sub := range subs {
		if err := sub.deliver(event); err != nil {
			rejected = true
		}
	}
	if rejected {
		r.forget(event.EventID)
		return ErrQueueFull
	}
	return nil
}

func (r *Router) snapshotSubscribers(plan string) []*subscriber {
	live := r.subscribers[plan]
	if len(live) == 0 {
		return nil
	}
	items := make([]*subscriber, 0, len(live))
	for sub := range live {
		items = append(items, sub)
	}
	return items
}

func (r *Router) removeSubscriber(plan string, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs := r.subscribers[plan]; subs != nil {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.subscribers, plan)
		}
	}
	sub.close()
}

// bufferLocked queues an event for a plan nobody is listening to yet. On a
// full backlog an incoming progress event is dropped, otherwise the oldest
// queued progress event makes room. Terminal events are never evicted; when
// only terminal events are queued the new one is refused with ErrQueueFull.
func (r *Router) bufferLocked(plan string, event Event) error {
	queue := r.backlog[plan]
	if len(queue) >= r.backlogLimit {
		if isPreferredDrop(event.Type) {
			r.logger.Printf("eventbridge: backlog full for %s, dropped %s for %s", plan, event.Type, event.TaskID)
			return nil
		}
		drop := -1
		for i, queued := range queue {
			if isPreferredDrop(queued.Type) {
				drop = i
				break
			}
		}
		if drop < 0 {
			return ErrQueueFull
		}
		r.logger.Printf("eventbridge: backlog full for %s, dropped %s for %s", plan, queue[drop].Type, queue[drop].TaskID)
		queue = append(queue[:drop:drop], queue[drop+1:]...)
	}
	r.backlog[plan] = append(queue, event)
	return nil
}

func (r *Router) isDuplicate(eventID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recentIDs[eventID]; ok {
		return true
	}
	r.recentIDs[eventID] = struct{}{}
	r.recentOrder = append(r.recentOrder, eventID)
	if len(r.recentOrder) > r.dedupeWindow {
		oldest := r.recentOrder[0]
		r.recentOrder = r.recentOrder[1:]
		delete(r.recentIDs, oldest)
	}
	return false
}

func (r *Router) forget(eventID string) {
	if eventID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recentIDs, eventID)
	for i, id := range r.recentOrder {
		if id == eventID {
			r.recentOrder = append(r.recentOrder[:i:i], r.recentOrder[i+1:]...)
			break
		}
	}
}

func normalizePlan(planID string) string {
	return strings.TrimSpace(strings.ToLower(planID))
}

// Notifications turns a subscription's terminal events into driver
// notifications. The returned channel closes when events closes or ctx ends.
func Notifications(ctx context.Context, events <-chan Event, logger Logger) <-chan engine.Notification {
	if logger == nil {
		logger = nopLogger{}
	}
	out := make(chan engine.Notification)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}
				n, terminal := event.Notification()
				if !terminal {
					logger.Printf("eventbridge: %s for %s", event.Type, event.TaskID)
					continue
				}
				select {
				case out <- n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

type subscriber struct {
	ch     chan Event
	logger Logger
	closed bool
	mu     sync.Mutex
}

func newSubscriber(capacity int, logger Logger) *subscriber {
	if capacity <= 0 {
		capacity = defaultSubscriberCapacity
	}
	return &subscriber{
		ch:     make(chan Event, capacity),
		logger: logger,
	}
}

func (s *subscriber) channel() <-chan Event {
	return s.ch
}

// deliver enqueues event without blocking. On overflow an incoming progress
// event is dropped, and a terminal event may displace the oldest queued event
// only when that one is progress. Otherwise ErrQueueFull.
func (s *subscriber) deliver(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	select {
	case s.ch <- event:
		return nil
	default:
	}
	if isPreferredDrop(event.Type) {
		s.logDrop(event, "queue overflow:incoming")
		return nil
	}
	var oldest Event
	select {
	case oldest = <-s.ch:
	default:
		// Drained by the consumer in the meantime.
		s.ch <- event
		return nil
	}
	if isPreferredDrop(oldest.Type) {
		s.logDrop(oldest, "queue overflow")
		s.ch <- event
		return nil
	}
	s.ch <- oldest
	return ErrQueueFull
}

func (s *subscriber) logDrop(event Event, reason string) {
	s.logger.Printf("eventbridge: dropped %s for %s (%s)", event.Type, event.TaskID, reason)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

func isPreferredDrop(kind string) bool {
	return strings.ToLower(strings.TrimSpace(kind)) == EventTaskProgress
}
