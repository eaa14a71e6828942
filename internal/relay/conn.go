package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/Cheese-Relay-Chess/internal/obslog"
)

type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateFailed       ConnState = "failed"
)

type okResult struct {
	accepted bool
	message  string
	err      error
}

type connSub struct {
	filter  Filter
	onEvent func(Event)
	onEOSE  func()
}

// Conn is a single relay websocket. It keeps registered subscriptions across
// reconnects and re-sends their REQ frames once the socket is back.
type Conn struct {
	url string

	conn   *websocket.Conn
	state  ConnState
	stateM sync.RWMutex
	dialM  sync.Mutex
	writeM sync.Mutex

	subs map[string]*connSub
	acks map[string]chan okResult
	subM sync.Mutex

	maxReconnectAttempts int
	pingInterval         time.Duration
	dialTimeout          time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	rootCtx    context.Context
	rootCancel context.CancelFunc
}

func NewConn(url string, maxReconnectAttempts int) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		url:                  NormalizeURL(url),
		state:                StateDisconnected,
		subs:                 make(map[string]*connSub),
		acks:                 make(map[string]chan okResult),
		maxReconnectAttempts: maxReconnectAttempts,
		pingInterval:         30 * time.Second,
		dialTimeout:          10 * time.Second,
		stopCh:               make(chan struct{}),
		rootCtx:              ctx,
		rootCancel:           cancel,
	}
}

func (c *Conn) URL() string { return c.url }

func (c *Conn) State() ConnState {
	c.stateM.RLock()
	defer c.stateM.RUnlock()
	return c.state
}

func (c *Conn) Connect(ctx context.Context) error {
	c.dialM.Lock()
	defer c.dialM.Unlock()

	if c.isStopping() {
		return ErrClosed
	}
	switch c.State() {
	case StateConnected:
		return nil
	case StateReconnecting:
		return ErrNotConnected
	}
	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateFailed)
		obslog.L().Warn("relay_connect_failed", zap.String("relay", c.url), zap.Error(err))
		c.scheduleReconnect()
		return err
	}
	c.attach(conn)
	obslog.L().Info("relay_connected", zap.String("relay", c.url))
	return nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		return nil, err
	}
	// Relays send large stored batches; the library default of 32KiB is too small.
	conn.SetReadLimit(1 << 22)
	return conn, nil
}

func (c *Conn) attach(conn *websocket.Conn) {
	c.stateM.Lock()
	c.conn = conn
	c.state = StateConnected
	c.stateM.Unlock()

	c.wg.Add(2)
	go c.listen(conn)
	go c.pingLoop(conn)
	c.resubscribe()
}

func (c *Conn) current() *websocket.Conn {
	c.stateM.RLock()
	defer c.stateM.RUnlock()
	return c.conn
}

// drop detaches conn if it is still the active socket. Only the caller that
// wins the detach schedules a reconnect.
func (c *Conn) drop(conn *websocket.Conn, code websocket.StatusCode, reason string) bool {
	c.stateM.Lock()
	if c.conn != conn || conn == nil {
		c.stateM.Unlock()
		return false
	}
	c.conn = nil
	c.state = StateDisconnected
	c.stateM.Unlock()

	_ = conn.Close(code, reason)
	c.failAcks(ErrClosed)
	return true
}

func (c *Conn) listen(conn *websocket.Conn) {
	defer c.wg.Done()
	for {
		var frame []json.RawMessage
		if err := wsjson.Read(c.rootCtx, conn, &frame); err != nil {
			if c.isStopping() {
				return
			}
			if c.drop(conn, websocket.StatusGoingAway, "reconnect") {
				obslog.L().Warn("relay_read_failed", zap.String("relay", c.url), zap.Error(err))
				c.scheduleReconnect()
			}
			return
		}
		c.dispatch(frame)
	}
}

func (c *Conn) pingLoop(conn *websocket.Conn) {
	defer c.wg.Done()
	t := time.NewTicker(c.pingInterval)
	defer t.Stop()
	failures := 0
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			if c.current() != conn {
				return
			}
			ctx, cancel := context.WithTimeout(c.rootCtx, 3*time.Second)
			err := conn.Ping(ctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				if c.drop(conn, websocket.StatusGoingAway, "ping failure") {
					c.scheduleReconnect()
				}
				return
			}
		}
	}
}

func (c *Conn) scheduleReconnect() {
	if c.isStopping() {
		return
	}
	if c.maxReconnectAttempts <= 0 {
		c.setState(StateFailed)
		return
	}
	c.setState(StateReconnecting)

	go func() {
		for attempt := 1; attempt <= c.maxReconnectAttempts; attempt++ {
			select {
			case <-c.stopCh:
				return
			case <-time.After(backoffDuration(attempt)):
			}
			conn, err := c.dial(c.rootCtx)
			if err != nil {
				obslog.L().Debug("relay_reconnect_attempt_failed",
					zap.String("relay", c.url),
					zap.Int("attempt", attempt),
					zap.Error(err),
				)
				continue
			}
			c.attach(conn)
			obslog.L().Info("relay_reconnected", zap.String("relay", c.url), zap.Int("attempt", attempt))
			return
		}
		c.setState(StateFailed)
	}()
}

func (c *Conn) dispatch(frame []json.RawMessage) {
	if len(frame) < 2 {
		return
	}
	var label string
	if err := json.Unmarshal(frame[0], &label); err != nil {
		return
	}

	switch label {
	case "EVENT":
		if len(frame) < 3 {
			return
		}
		var subID string
		var ev Event
		if json.Unmarshal(frame[1], &subID) != nil || json.Unmarshal(frame[2], &ev) != nil {
			obslog.L().Debug("relay_bad_event_frame", zap.String("relay", c.url))
			return
		}
		if sub := c.sub(subID); sub != nil && sub.onEvent != nil {
			sub.onEvent(ev)
		}
	case "EOSE":
		var subID string
		if json.Unmarshal(frame[1], &subID) != nil {
			return
		}
		if sub := c.sub(subID); sub != nil && sub.onEOSE != nil {
			sub.onEOSE()
		}
	case "OK":
		if len(frame) < 3 {
			return
		}
		var id string
		var accepted bool
		var message string
		if json.Unmarshal(frame[1], &id) != nil || json.Unmarshal(frame[2], &accepted) != nil {
			return
		}
		if len(frame) > 3 {
			_ = json.Unmarshal(frame[3], &message)
		}
		c.subM.Lock()
		ch := c.acks[id]
		c.subM.Unlock()
		if ch != nil {
			select {
			case ch <- okResult{accepted: accepted, message: message}:
			default:
			}
		}
	case "CLOSED":
		var subID, message string
		if json.Unmarshal(frame[1], &subID) != nil {
			return
		}
		if len(frame) > 2 {
			_ = json.Unmarshal(frame[2], &message)
		}
		obslog.L().Warn("relay_subscription_closed",
			zap.String("relay", c.url),
			zap.String("sub", subID),
			zap.String("message", message),
		)
		c.subM.Lock()
		sub := c.subs[subID]
		delete(c.subs, subID)
		c.subM.Unlock()
		if sub != nil && sub.onEOSE != nil {
			sub.onEOSE()
		}
	case "NOTICE":
		var message string
		_ = json.Unmarshal(frame[1], &message)
		obslog.L().Info("relay_notice", zap.String("relay", c.url), zap.String("message", message))
	}
}

func (c *Conn) sub(id string) *connSub {
	c.subM.Lock()
	defer c.subM.Unlock()
	return c.subs[id]
}

func (c *Conn) write(ctx context.Context, v any) error {
	conn := c.current()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeM.Lock()
	defer c.writeM.Unlock()
	return wsjson.Write(ctx, conn, v)
}

// Req registers a subscription and sends its REQ frame. The registration is
// kept even when the write fails, so a reconnect will restore it; callers
// that do not want that must call Unsub.
func (c *Conn) Req(ctx context.Context, subID string, f Filter, onEvent func(Event), onEOSE func()) error {
	c.subM.Lock()
	c.subs[subID] = &connSub{filter: f, onEvent: onEvent, onEOSE: onEOSE}
	c.subM.Unlock()
	return c.write(ctx, []any{"REQ", subID, f})
}

func (c *Conn) Unsub(ctx context.Context, subID string) {
	c.subM.Lock()
	_, ok := c.subs[subID]
	delete(c.subs, subID)
	c.subM.Unlock()
	if ok {
		_ = c.write(ctx, []any{"CLOSE", subID})
	}
}

func (c *Conn) resubscribe() {
	c.subM.Lock()
	pending := make(map[string]Filter, len(c.subs))
	for id, s := range c.subs {
		pending[id] = s.filter
	}
	c.subM.Unlock()

	for id, f := range pending {
		ctx, cancel := context.WithTimeout(c.rootCtx, 5*time.Second)
		if err := c.write(ctx, []any{"REQ", id, f}); err != nil {
			obslog.L().Warn("relay_resubscribe_failed", zap.String("relay", c.url), zap.String("sub", id), zap.Error(err))
		}
		cancel()
	}
}

// Publish sends ev and waits for the relay's OK frame. A "duplicate:" refusal
// means the relay already holds the event and counts as accepted.
func (c *Conn) Publish(ctx context.Context, ev Event) error {
	ch := make(chan okResult, 1)
	c.subM.Lock()
	c.acks[ev.ID] = ch
	c.subM.Unlock()
	defer func() {
		c.subM.Lock()
		delete(c.acks, ev.ID)
		c.subM.Unlock()
	}()

	if err := c.write(ctx, []any{"EVENT", ev}); err != nil {
		return err
	}

	select {
	case res := <-ch:
		if res.err != nil {
			return res.err
		}
		if res.accepted || strings.HasPrefix(res.message, "duplicate:") {
			return nil
		}
		return fmt.Errorf("%w: %s", ErrRejected, res.message)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrAckTimeout
		}
		return ctx.Err()
	case <-c.stopCh:
		return ErrClosed
	}
}

func (c *Conn) failAcks(err error) {
	c.subM.Lock()
	defer c.subM.Unlock()
	for _, ch := range c.acks {
		select {
		case ch <- okResult{err: err}:
		default:
		}
	}
}

func (c *Conn) setState(state ConnState) {
	c.stateM.Lock()
	c.state = state
	c.stateM.Unlock()
}

func (c *Conn) Close(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.drop(c.current(), websocket.StatusNormalClosure, "close")
	c.rootCancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (c *Conn) isStopping() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	base := 100 * time.Millisecond
	return time.Duration(1<<uint(attempt-1)) * base // 100ms, 200ms ...
}
