package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Relay-Chess/internal/obslog"
)

type PoolConfig struct {
	QueryTimeout         time.Duration
	AckTimeout           time.Duration
	MaxReconnectAttempts int
}

func (c PoolConfig) withDefaults() PoolConfig {
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = 8 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 10 * time.Second
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	return c
}

// Pool is the websocket Transport. It lazily opens one Conn per relay URL and
// shares it between queries, subscriptions and publishes.
type Pool struct {
	cfg   PoolConfig
	mu    sync.Mutex
	conns map[string]*Conn
	seq   atomic.Uint64
}

func NewPool(cfg PoolConfig) *Pool {
	return &Pool{
		cfg:   cfg.withDefaults(),
		conns: make(map[string]*Conn),
	}
}

func (p *Pool) connect(ctx context.Context, endpoint string) (*Conn, error) {
	p.mu.Lock()
	c, ok := p.conns[endpoint]
	if !ok || c.State() == StateFailed {
		if ok {
			old := c
			go func() { _ = old.Close(context.Background()) }()
		}
		c = NewConn(endpoint, p.cfg.MaxReconnectAttempts)
		p.conns[endpoint] = c
	}
	p.mu.Unlock()

	if err := c.Connect(ctx); err != nil {
		return c, endpointError(endpoint, err)
	}
	return c, nil
}

func (p *Pool) nextSubID() string {
	return fmt.Sprintf("chess-%d", p.seq.Add(1))
}

// Query ends per relay at EOSE or at the query timeout, whichever comes
// first. A relay that never sends EOSE still contributes what it sent.
func (p *Pool) Query(ctx context.Context, endpoints []string, f Filter) ([]Event, error) {
	endpoints = Endpoints(endpoints)
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	ctx, cancel := context.WithTimeout(ctx, p.cfg.QueryTimeout)
	defer cancel()

	type batch struct {
		events []Event
		err    error
	}
	batches := make([]batch, len(endpoints))
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		wg.Add(1)
		go func() {
			defer wg.Done()
			batches[i].events, batches[i].err = p.queryOne(ctx, ep, f)
		}()
	}
	wg.Wait()

	seen := make(map[string]struct{})
	var out []Event
	var errs []error
	for i, b := range batches {
		if b.err != nil {
			errs = append(errs, b.err)
			obslog.L().Debug("relay_query_failed", zap.String("relay", endpoints[i]), zap.Error(b.err))
			continue
		}
		for _, ev := range b.events {
			if _, dup := seen[ev.ID]; dup {
				continue
			}
			seen[ev.ID] = struct{}{}
			out = append(out, ev)
		}
	}
	if len(errs) == len(endpoints) {
		return nil, errors.Join(errs...)
	}
	SortNewestFirst(out)
	return out, nil
}

func (p *Pool) queryOne(ctx context.Context, endpoint string, f Filter) ([]Event, error) {
	c, err := p.connect(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var (
		mu     sync.Mutex
		events []Event
		once   sync.Once
	)
	done := make(chan struct{})
	subID := p.nextSubID()
	onEvent := func(ev Event) {
		if !f.Matches(ev) {
			return
		}
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}
	onEOSE := func() { once.Do(func() { close(done) }) }

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		c.Unsub(closeCtx, subID)
		cancel()
	}()
	if err := c.Req(ctx, subID, f, onEvent, onEOSE); err != nil {
		return nil, endpointError(endpoint, err)
	}

	select {
	case <-done:
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
	}

	mu.Lock()
	defer mu.Unlock()
	return append([]Event(nil), events...), nil
}

// Subscribe registers f on every reachable relay. Relays that are down but
// reconnecting keep the registration and resume delivery once back.
func (p *Pool) Subscribe(ctx context.Context, endpoints []string, f Filter, fn func(Event)) (Subscription, error) {
	endpoints = Endpoints(endpoints)
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	sub := &poolSub{
		id:   p.nextSubID(),
		fn:   fn,
		seen: make(map[string]struct{}),
		done: make(chan struct{}),
	}
	var errs []error
	for _, ep := range endpoints {
		c, err := p.connect(ctx, ep)
		if err != nil && c.State() == StateFailed {
			errs = append(errs, err)
			continue
		}
		sub.conns = append(sub.conns, c)
		if err == nil {
			err = c.Req(ctx, sub.id, f, sub.deliver, nil)
		} else {
			// Reconnecting: register now, the REQ goes out after reconnect.
			_ = c.Req(ctx, sub.id, f, sub.deliver, nil)
		}
		if err != nil {
			obslog.L().Warn("relay_subscribe_deferred", zap.String("relay", ep), zap.Error(err))
			errs = append(errs, err)
		}
	}
	if len(sub.conns) == 0 {
		return nil, errors.Join(errs...)
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// Publish sends ev to every endpoint in parallel and waits for each relay's
// acknowledgement up to the ack timeout.
func (p *Pool) Publish(ctx context.Context, endpoints []string, ev Event) []PublishResult {
	endpoints = Endpoints(endpoints)
	results := make([]PublishResult, len(endpoints))
	var wg sync.WaitGroup
	for i, ep := range endpoints {
		results[i].Endpoint = ep
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.connect(ctx, ep)
			if err != nil {
				results[i].Err = err
				return
			}
			ackCtx, cancel := context.WithTimeout(ctx, p.cfg.AckTimeout)
			defer cancel()
			if err := c.Publish(ackCtx, ev); err != nil {
				results[i].Err = endpointError(ep, err)
			}
		}()
	}
	wg.Wait()

	obslog.L().Debug("relay_publish",
		zap.String("event", ev.ID),
		zap.Int("targets", len(endpoints)),
		zap.Int("accepted", Accepted(results)),
	)
	return results
}

// States reports the connection state of every relay the pool has touched.
func (p *Pool) States() map[string]ConnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]ConnState, len(p.conns))
	for url, c := range p.conns {
		out[url] = c.State()
	}
	return out
}

func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	conns := make([]*Conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[string]*Conn)
	p.mu.Unlock()

	var errs []error
	for _, c := range conns {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type poolSub struct {
	id    string
	fn    func(Event)
	conns []*Conn

	mu     sync.Mutex
	seen   map[string]struct{}
	closed bool
	once   sync.Once
	done   chan struct{}
}

func (s *poolSub) deliver(ev Event) {
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

func (s *poolSub) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		for _, c := range s.conns {
			c.Unsub(ctx, s.id)
		}
	})
}
