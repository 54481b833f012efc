// Package shared holds transport plumbing common to every venue adapter.
package shared

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"

	"github.com/coachpo/spreadwatch/errs"
)

// StreamConfig describes one venue's websocket stream. The frame encoders are
// venue-specific; the manager only owns the connection, reconnection, and
// pacing of control messages.
type StreamConfig struct {
	Venue string
	URL   string

	// DialTimeout bounds the wait for the first successful connection.
	DialTimeout time.Duration
	// ReconnectDelay seeds the reconnect backoff; successive failures double
	// it up to MaxReconnectDelay.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the backoff. Defaults to six reconnect delays.
	MaxReconnectDelay time.Duration
	// ControlInterval is the minimum gap between control frames. Zero disables
	// pacing.
	ControlInterval time.Duration
	// MaxTopicsPerFrame chunks large subscribe payloads. Zero sends one frame.
	MaxTopicsPerFrame int

	// EncodeSubscribe builds the control frame subscribing to a topic chunk.
	EncodeSubscribe func(topics []string) ([]byte, error)
	// EncodeUnsubscribe builds the control frame dropping a topic chunk.
	// Optional; venues without unsubscribe support leave it nil.
	EncodeUnsubscribe func(topics []string) ([]byte, error)
	// Handler receives every data frame.
	Handler func(data []byte) error
	// OnReconnect fires each time the connection is re-established after a
	// drop, before resubscription.
	OnReconnect func()
}

func (c StreamConfig) withDefaults() StreamConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 6 * c.ReconnectDelay
	}
	return c
}

// StreamManager maintains a single websocket connection with live
// subscribe/unsubscribe support and automatic reconnection.
type StreamManager struct {
	cfg    StreamConfig
	ctx    context.Context
	cancel context.CancelFunc

	conn   *websocket.Conn
	connMu sync.RWMutex

	subscriptions map[string]struct{}
	subsMu        sync.Mutex

	errorChan chan<- error

	ready     chan struct{}
	readyOnce sync.Once

	controlMu       sync.Mutex
	lastControlSend time.Time
}

// NewStreamManager creates a stream manager. Asynchronous failures are
// reported on errorChan as errs envelopes without blocking.
func NewStreamManager(ctx context.Context, cfg StreamConfig, errorChan chan<- error) *StreamManager {
	managerCtx, cancel := context.WithCancel(ctx)
	return &StreamManager{
		cfg:           cfg.withDefaults(),
		ctx:           managerCtx,
		cancel:        cancel,
		subscriptions: make(map[string]struct{}),
		errorChan:     errorChan,
		ready:         make(chan struct{}),
	}
}

// Start establishes the connection in the background and waits for the first
// successful dial.
func (sm *StreamManager) Start() error {
	go func() {
		if err := sm.connect(); err != nil && !errors.Is(err, context.Canceled) {
			sm.reportError(err)
		}
	}()

	select {
	case <-sm.ready:
		return nil
	case <-time.After(sm.cfg.DialTimeout):
		return errs.New(sm.cfg.Venue, errs.CodeNetwork,
			errs.WithMessage("timeout waiting for websocket connection"))
	case <-sm.ctx.Done():
		return errs.New(sm.cfg.Venue, errs.CodeNetwork,
			errs.WithMessage("stream context done"), errs.WithCause(sm.ctx.Err()))
	}
}

// Stop closes the connection and cancels the stream context.
func (sm *StreamManager) Stop() {
	sm.cancel()
	sm.connMu.Lock()
	if sm.conn != nil {
		_ = sm.conn.Close(websocket.StatusNormalClosure, "shutdown")
		sm.conn = nil
	}
	sm.connMu.Unlock()
}

// Connected reports whether a live connection is held.
func (sm *StreamManager) Connected() bool {
	sm.connMu.RLock()
	defer sm.connMu.RUnlock()
	return sm.conn != nil
}

// Topics returns the active subscription topics.
func (sm *StreamManager) Topics() []string {
	sm.subsMu.Lock()
	defer sm.subsMu.Unlock()
	out := make([]string, 0, len(sm.subscriptions))
	for topic := range sm.subscriptions {
		out = append(out, topic)
	}
	return out
}

// Subscribe adds topics, sending control frames for the ones not yet held.
func (sm *StreamManager) Subscribe(topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	sm.subsMu.Lock()
	added := make([]string, 0, len(topics))
	for _, topic := range topics {
		if _, exists := sm.subscriptions[topic]; !exists {
			added = append(added, topic)
			sm.subscriptions[topic] = struct{}{}
		}
	}
	sm.subsMu.Unlock()

	if len(added) == 0 {
		return nil
	}
	return sm.sendControl(sm.cfg.EncodeSubscribe, added)
}

// Unsubscribe drops topics held by the stream.
func (sm *StreamManager) Unsubscribe(topics []string) error {
	if len(topics) == 0 {
		return nil
	}
	sm.subsMu.Lock()
	removed := make([]string, 0, len(topics))
	for _, topic := range topics {
		if _, exists := sm.subscriptions[topic]; exists {
			removed = append(removed, topic)
			delete(sm.subscriptions, topic)
		}
	}
	sm.subsMu.Unlock()

	if len(removed) == 0 || sm.cfg.EncodeUnsubscribe == nil {
		return nil
	}
	return sm.sendControl(sm.cfg.EncodeUnsubscribe, removed)
}

// connect dials the venue and keeps the connection alive, reconnecting with
// capped exponential backoff.
func (sm *StreamManager) connect() error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = sm.cfg.ReconnectDelay
	bo.MaxInterval = sm.cfg.MaxReconnectDelay
	bo.Multiplier = 2.0
	bo.RandomizationFactor = 0

	established := 0
	for {
		select {
		case <-sm.ctx.Done():
			return context.Canceled
		default:
		}

		dialCtx, cancel := context.WithTimeout(sm.ctx, sm.cfg.DialTimeout)
		conn, _, err := websocket.Dial(dialCtx, sm.cfg.URL, nil)
		cancel()
		if err != nil {
			sm.reportError(errs.New(sm.cfg.Venue, errs.CodeNetwork,
				errs.WithMessage("dial "+sm.cfg.URL), errs.WithCause(err)))
			sleep := bo.NextBackOff()
			if sleep == backoff.Stop {
				sleep = sm.cfg.MaxReconnectDelay
			}
			select {
			case <-sm.ctx.Done():
				return context.Canceled
			case <-time.After(sleep):
				continue
			}
		}

		sm.connMu.Lock()
		sm.conn = conn
		sm.connMu.Unlock()

		sm.readyOnce.Do(func() { close(sm.ready) })
		bo.Reset()

		established++
		if established > 1 && sm.cfg.OnReconnect != nil {
			sm.cfg.OnReconnect()
		}

		if err := sm.resubscribeAll(); err != nil {
			sm.reportError(errs.New(sm.cfg.Venue, errs.CodeTransientFeed,
				errs.WithMessage("resubscribe after reconnect"), errs.WithCause(err)))
		}

		if err := sm.readLoop(conn); err != nil {
			if errors.Is(err, context.Canceled) {
				return context.Canceled
			}
			sm.reportError(errs.New(sm.cfg.Venue, errs.CodeTransientFeed,
				errs.WithMessage("read loop"), errs.WithCause(err)))
		}

		sm.connMu.Lock()
		sm.conn = nil
		sm.connMu.Unlock()

		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = sm.cfg.MaxReconnectDelay
		}
		select {
		case <-sm.ctx.Done():
			return context.Canceled
		case <-time.After(sleep):
		}
	}
}

func (sm *StreamManager) resubscribeAll() error {
	sm.subsMu.Lock()
	topics := make([]string, 0, len(sm.subscriptions))
	for topic := range sm.subscriptions {
		topics = append(topics, topic)
	}
	sm.subsMu.Unlock()

	if len(topics) == 0 {
		return nil
	}
	return sm.sendControl(sm.cfg.EncodeSubscribe, topics)
}

func (sm *StreamManager) sendControl(encode func([]string) ([]byte, error), topics []string) error {
	if encode == nil {
		return errs.New(sm.cfg.Venue, errs.CodeNetwork,
			errs.WithMessage("control frame encoder not configured"))
	}

	sm.controlMu.Lock()
	defer sm.controlMu.Unlock()

	sm.connMu.RLock()
	conn := sm.conn
	sm.connMu.RUnlock()
	if conn == nil {
		return errs.New(sm.cfg.Venue, errs.CodeNetwork,
			errs.WithMessage("websocket not connected"))
	}

	for _, chunk := range chunkTopics(topics, sm.cfg.MaxTopicsPerFrame) {
		if err := sm.waitForControlWindowLocked(); err != nil {
			return err
		}
		data, err := encode(chunk)
		if err != nil {
			return errs.New(sm.cfg.Venue, errs.CodeNetwork,
				errs.WithMessage("encode control frame"), errs.WithCause(err))
		}
		writeCtx, cancel := context.WithTimeout(sm.ctx, 5*time.Second)
		err = conn.Write(writeCtx, websocket.MessageText, data)
		cancel()
		if err != nil {
			return errs.New(sm.cfg.Venue, errs.CodeNetwork,
				errs.WithMessage("write control frame"), errs.WithCause(err))
		}
		sm.lastControlSend = time.Now()
	}
	return nil
}

func chunkTopics(topics []string, size int) [][]string {
	if len(topics) == 0 {
		return nil
	}
	if size <= 0 || len(topics) <= size {
		snapshot := make([]string, len(topics))
		copy(snapshot, topics)
		return [][]string{snapshot}
	}
	chunks := make([][]string, 0, (len(topics)+size-1)/size)
	for start := 0; start < len(topics); start += size {
		end := start + size
		if end > len(topics) {
			end = len(topics)
		}
		chunk := make([]string, end-start)
		copy(chunk, topics[start:end])
		chunks = append(chunks, chunk)
	}
	return chunks
}

func (sm *StreamManager) waitForControlWindowLocked() error {
	if sm.cfg.ControlInterval <= 0 || sm.lastControlSend.IsZero() {
		return nil
	}
	wait := time.Until(sm.lastControlSend.Add(sm.cfg.ControlInterval))
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-sm.ctx.Done():
		return errs.New(sm.cfg.Venue, errs.CodeNetwork,
			errs.WithMessage("context done while pacing control frames"),
			errs.WithCause(sm.ctx.Err()))
	}
}

func (sm *StreamManager) readLoop(conn *websocket.Conn) error {
	for {
		msgType, data, err := conn.Read(sm.ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return context.Canceled
			}
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return err
		}
		if msgType != websocket.MessageText {
			continue
		}
		if sm.cfg.Handler != nil {
			if err := sm.cfg.Handler(data); err != nil {
				sm.reportError(err)
			}
		}
	}
}

func (sm *StreamManager) reportError(err error) {
	if err == nil || sm.errorChan == nil {
		return
	}
	select {
	case <-sm.ctx.Done():
	case sm.errorChan <- err:
	default:
	}
}
