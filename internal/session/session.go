// Package session owns the client's one connection to the relay and
// fans received frames out to the subscribed consumers.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"snakesync/internal/codec"
	"snakesync/internal/dispatch"
)

// ErrNotConnected reports a send attempted without a live transport.
// The frame is discarded, not queued.
var ErrNotConnected = errors.New("not connected")

// Session is the client's connection manager. Construct with New, then
// Connect; Connect again to reconnect (the old transport is closed
// first). All methods are safe for concurrent use.
type Session struct {
	dial     Dialer
	log      *zap.Logger
	registry *dispatch.Registry

	mu        sync.Mutex
	transport Transport
	connected bool
	gen       int // bumped per Connect so stale pumps can't flip state
}

func New(dial Dialer, log *zap.Logger) *Session {
	if dial == nil {
		dial = WebsocketDialer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		dial:     dial,
		log:      log,
		registry: dispatch.NewRegistry(log),
	}
}

// Connect opens a transport to url and starts the read pump. Any
// previous transport is closed first. The session reports connected
// only after the dial succeeds; a failed dial leaves it disconnected.
func (s *Session) Connect(ctx context.Context, url string) error {
	s.mu.Lock()
	if s.transport != nil {
		_ = s.transport.Close()
		s.transport = nil
		s.connected = false
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	t, err := s.dial(ctx, url)
	if err != nil {
		s.log.Warn("connect failed", zap.String("url", url), zap.Error(err))
		return err
	}

	s.mu.Lock()
	if gen != s.gen {
		// A newer Connect raced us; yield to it.
		s.mu.Unlock()
		_ = t.Close()
		return nil
	}
	s.transport = t
	s.connected = true
	s.mu.Unlock()

	s.log.Info("connected", zap.String("url", url))
	go s.readPump(t, gen)
	return nil
}

// Send encodes and transmits one command. While disconnected the
// command is dropped and ErrNotConnected returned; delivery is
// best-effort either way.
func (s *Session) Send(event string, payload any) error {
	s.mu.Lock()
	t, ok := s.transport, s.connected
	s.mu.Unlock()
	if !ok || t == nil {
		s.log.Warn("send while disconnected, frame dropped", zap.String("event", event))
		return ErrNotConnected
	}

	wire, err := codec.Encode(event, payload)
	if err != nil {
		return err
	}
	if err := t.Write(context.Background(), wire); err != nil {
		s.log.Warn("write failed", zap.String("event", event), zap.Error(err))
		return err
	}
	return nil
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Listen subscribes h to frames carrying event. The returned func
// unsubscribes and is idempotent.
func (s *Session) Listen(event string, h func(codec.Envelope)) func() {
	return s.registry.Listen(event, h)
}

// Close tears the transport down. The session can be reused by calling
// Connect again.
func (s *Session) Close() {
	s.mu.Lock()
	t := s.transport
	s.transport = nil
	s.connected = false
	s.gen++
	s.mu.Unlock()
	if t != nil {
		_ = t.Close()
	}
}

// readPump reads frames until the transport fails, decoding and
// dispatching one frame at a time. Undecodable frames are dropped;
// they never reach a listener.
func (s *Session) readPump(t Transport, gen int) {
	for {
		data, err := t.Read(context.Background())
		if err != nil {
			s.teardown(t, gen, err)
			return
		}
		env, err := codec.Decode(data)
		if err != nil {
			s.log.Debug("dropping undecodable frame", zap.Error(err))
			continue
		}
		s.registry.Dispatch(env)
	}
}

func (s *Session) teardown(t Transport, gen int, cause error) {
	s.mu.Lock()
	if gen == s.gen && s.transport == t {
		s.transport = nil
		s.connected = false
	}
	s.mu.Unlock()
	_ = t.Close()

	switch websocket.CloseStatus(cause) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		s.log.Info("disconnected")
	default:
		s.log.Info("disconnected", zap.Error(cause))
	}
}
