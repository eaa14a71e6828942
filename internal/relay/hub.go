package relay

import (
	"context"
	"sync"
)

// Hub is an in-memory Transport. Each endpoint keeps its own event store so
// tests can model partial propagation and per-relay failures. Live deliveries
// happen synchronously inside Publish, after the hub lock is released.
type Hub struct {
	mu      sync.Mutex
	stores  map[string][]Event
	subs    map[uint64]*hubSub
	failing map[string]error
	nextSub uint64
}

type hubSub struct {
	id        uint64
	endpoints map[string]struct{}
	filter    Filter
	fn        func(Event)

	mu     sync.Mutex
	seen   map[string]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{
		stores:  make(map[string][]Event),
		subs:    make(map[uint64]*hubSub),
		failing: make(map[string]error),
	}
}

// SetFailing makes endpoint reject publishes and queries with err. A nil err
// clears the failure.
func (h *Hub) SetFailing(endpoint string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	endpoint = NormalizeURL(endpoint)
	if err == nil {
		delete(h.failing, endpoint)
		return
	}
	h.failing[endpoint] = err
}

// Events returns a copy of everything stored on endpoint, in arrival order.
func (h *Hub) Events(endpoint string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Event(nil), h.stores[NormalizeURL(endpoint)]...)
}

func (h *Hub) Query(ctx context.Context, endpoints []string, f Filter) ([]Event, error) {
	endpoints = Endpoints(endpoints)
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[string]struct{})
	var out []Event
	failed := 0
	for _, ep := range endpoints {
		if _, bad := h.failing[ep]; bad {
			failed++
			continue
		}
		var matched []Event
		for _, ev := range h.stores[ep] {
			if f.Matches(ev) {
				matched = append(matched, ev)
			}
		}
		SortNewestFirst(matched)
		if f.Limit > 0 && len(matched) > f.Limit {
			matched = matched[:f.Limit]
		}
		for _, ev := range matched {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			out = append(out, ev)
		}
	}
	if failed == len(endpoints) {
		return nil, ErrNotConnected
	}
	SortNewestFirst(out)
	return out, nil
}

func (h *Hub) Subscribe(ctx context.Context, endpoints []string, f Filter, fn func(Event)) (Subscription, error) {
	endpoints = Endpoints(endpoints)
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := &hubSub{
		endpoints: make(map[string]struct{}, len(endpoints)),
		filter:    f,
		fn:        fn,
		seen:      make(map[string]struct{}),
	}
	for _, ep := range endpoints {
		s.endpoints[ep] = struct{}{}
	}

	h.mu.Lock()
	h.nextSub++
	s.id = h.nextSub
	h.subs[s.id] = s
	h.mu.Unlock()

	sub := &hubSubscription{hub: h, sub: s}
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			sub.Close()
		}()
	}
	return sub, nil
}

func (h *Hub) Publish(ctx context.Context, endpoints []string, ev Event) []PublishResult {
	endpoints = Endpoints(endpoints)
	results := make([]PublishResult, 0, len(endpoints))
	var accepted []string

	h.mu.Lock()
	for _, ep := range endpoints {
		if err := ctx.Err(); err != nil {
			results = append(results, PublishResult{Endpoint: ep, Err: err})
			continue
		}
		if err, bad := h.failing[ep]; bad {
			results = append(results, PublishResult{Endpoint: ep, Err: endpointError(ep, err)})
			continue
		}
		if !h.storedLocked(ep, ev.ID) {
			h.stores[ep] = append(h.stores[ep], ev)
		}
		accepted = append(accepted, ep)
		results = append(results, PublishResult{Endpoint: ep})
	}
	var targets []*hubSub
	for _, s := range h.subs {
		for _, ep := range accepted {
			if _, ok := s.endpoints[ep]; ok && s.filter.Matches(ev) {
				targets = append(targets, s)
				break
			}
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		s.deliver(ev)
	}
	return results
}

func (h *Hub) storedLocked(ep, id string) bool {
	for _, e := range h.stores[ep] {
		if e.ID == id {
			return true
		}
	}
	return false
}

func (s *hubSub) deliver(ev Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, dup := s.seen[ev.ID]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[ev.ID] = struct{}{}
	s.mu.Unlock()
	s.fn(ev)
}

type hubSubscription struct {
	hub  *Hub
	sub  *hubSub
	once sync.Once
}

func (s *hubSubscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		delete(s.hub.subs, s.sub.id)
		s.hub.mu.Unlock()
		s.sub.mu.Lock()
		s.sub.closed = true
		s.sub.mu.Unlock()
	})
}
