package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

// ErrNotConnected is returned by Emit while the session has no live connection.
var ErrNotConnected = errors.New("transport not connected")

// Config holds the connection parameters of a Session.
type Config struct {
	URL               string
	Token             string
	HandshakeTimeout  time.Duration
	ReconnectDelay    time.Duration
	ReconnectDelayMax time.Duration
	MaxAttempts       int
}

// DefaultConfig returns the standard connection parameters for url.
func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		HandshakeTimeout:  30 * time.Second,
		ReconnectDelay:    2 * time.Second,
		ReconnectDelayMax: 10 * time.Second,
		MaxAttempts:       5,
	}
}

// Handler receives the raw JSON payload of an event.
type Handler func(data []byte)

// Subscription is the handle returned by Subscribe. Unsubscribe removes only
// this handler.
type Subscription struct {
	session *Session
	event   string
	handler Handler
	once    sync.Once
}

func (sub *Subscription) Unsubscribe() {
	if sub == nil {
		return
	}
	sub.once.Do(func() { sub.session.remove(sub) })
}

// Session owns one logical duplex channel to the board server. It dials,
// dispatches incoming events to subscribers and reconnects with backoff.
type Session struct {
	cfg    Config
	dialer Dialer
	logger *log.Logger
	signal *stateSignal

	mu      sync.Mutex
	conn    Conn
	running bool
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex

	subsMu sync.RWMutex
	subs   map[string][]*Subscription
}

func NewSession(cfg Config, dialer Dialer, logger *log.Logger) *Session {
	if dialer == nil {
		dialer = NewWebsocketDialer(cfg)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Session{
		cfg:    cfg,
		dialer: dialer,
		logger: logger,
		signal: newStateSignal(),
		subs:   make(map[string][]*Subscription),
	}
}

// State returns the current connection state.
func (s *Session) State() ConnectionState {
	return s.signal.get()
}

// WaitFor blocks until the session reaches state or ctx is done.
func (s *Session) WaitFor(ctx context.Context, state ConnectionState) error {
	return s.signal.waitFor(ctx, state)
}

// Notify registers fn for every state transition and returns a func that
// removes it.
func (s *Session) Notify(fn StateListener) func() {
	return s.signal.notify(fn)
}

// Connect starts the connection loop. It is a no-op while the loop is
// running; after Disconnect or Failed it starts over with fresh retry
// counters. Subscriptions survive across reconnects. Dial failures are never
// returned to the caller, they move the session to Reconnecting.
func (s *Session) Connect() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.running = true
	s.gen++
	gen := s.gen
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go s.run(ctx, gen, done)
}

// Disconnect closes the connection and stops reconnecting.
func (s *Session) Disconnect() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.signal.set(Disconnected)
}

// Emit sends event to the server. It does not queue: while disconnected the
// call is logged and ErrNotConnected is returned.
func (s *Session) Emit(event string, payload any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || s.State() != Connected {
		s.logger.WithFields(log.Fields{"event": event, "state": s.State().String()}).Debug("emit skipped, transport not connected")
		return ErrNotConnected
	}
	msg, err := EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, msg)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.WithError(err).WithField("event", event).Warn("emit failed")
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Subscribe adds handler for event. Handlers run sequentially on the
// session's reader goroutine in receipt order.
func (s *Session) Subscribe(event string, handler Handler) *Subscription {
	sub := &Subscription{session: s, event: event, handler: handler}
	s.subsMu.Lock()
	s.subs[event] = append(s.subs[event], sub)
	s.subsMu.Unlock()
	return sub
}

func (s *Session) remove(sub *Subscription) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	list := s.subs[sub.event]
	for i, existing := range list {
		if existing == sub {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(s.subs, sub.event)
		return
	}
	s.subs[sub.event] = list
}

func (s *Session) dispatch(f Frame) {
	s.subsMu.RLock()
	handlers := make([]Handler, 0, len(s.subs[f.Event]))
	for _, sub := range s.subs[f.Event] {
		handlers = append(handlers, sub.handler)
	}
	s.subsMu.RUnlock()

	if len(handlers) == 0 {
		s.logger.WithField("event", f.Event).Debug("no subscribers for event")
		return
	}
	for _, h := range handlers {
		h(f.Data)
	}
}

// stopped marks loop gen as finished so that Connect may start a new one.
func (s *Session) stopped(gen uint64) {
	s.mu.Lock()
	if s.gen == gen {
		s.running = false
	}
	s.mu.Unlock()
}

func (s *Session) run(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	defer s.stopped(gen)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.cfg.ReconnectDelay
	bo.MaxInterval = s.cfg.ReconnectDelayMax

	s.signal.set(Connecting)
	attempts := 0
	for {
		conn, err := s.dialer.Dial(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			attempts++
			fields := log.Fields{"attempt": attempts, "max_attempts": s.cfg.MaxAttempts, "url": s.cfg.URL}
			if attempts >= s.cfg.MaxAttempts {
				s.logger.WithFields(fields).WithError(err).Error("cannot reach server, giving up")
				s.stopped(gen)
				s.signal.set(Failed)
				return
			}
			s.logger.WithFields(fields).WithError(err).Warn("connect failed")
			s.signal.set(Reconnecting)
			if !sleep(ctx, bo.NextBackOff()) {
				return
			}
			continue
		}

		attempts = 0
		bo.Reset()
		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.logger.WithField("url", s.cfg.URL).Info("transport connected")
		s.signal.set(Connected)

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		err = s.readLoop(conn)
		stop()

		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		s.signal.set(Reconnecting)
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			s.logger.Info("server closed the connection, reconnecting now")
			continue
		}
		s.logger.WithError(err).Warn("transport dropped")
		if !sleep(ctx, bo.NextBackOff()) {
			return
		}
	}
}

func (s *Session) readLoop(conn Conn) error {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f, err := DecodeFrame(msg)
		if err != nil {
			s.logger.WithError(err).Warn("dropping malformed frame")
			continue
		}
		s.dispatch(f)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
