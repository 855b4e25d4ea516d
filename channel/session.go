package channel

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/errors"
)

// Session is one connection to the engine plus the engine-wide lock that
// serializes mutations falling outside per-channel batching. It is passed
// explicitly to every channel it creates.
type Session struct {
	engine engine.Engine
	log    *zap.Logger
	id     uuid.UUID
	conn   engine.Connection

	lock sync.Mutex

	mu       sync.Mutex
	channels map[*Channel]struct{}
	closed   bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session's logger.
func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSession connects to eng.
func NewSession(eng engine.Engine, opts ...SessionOption) (*Session, error) {
	if eng == nil {
		return nil, errors.NotInitialized(errors.PhaseConnect, "engine")
	}

	s := &Session{
		engine:   eng,
		id:       uuid.New(),
		channels: make(map[*Channel]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = Logger()
	}
	s.log = s.log.With(zap.Stringer("session", s.id))

	conn, st := eng.Connect()
	if err := st.Err(errors.PhaseConnect, "Connect"); err != nil {
		return nil, err
	}
	s.conn = conn

	s.log.Debug("session connected", zap.Uint64("connection", uint64(conn)))
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() uuid.UUID { return s.id }

// Engine returns the engine the session is connected to.
func (s *Session) Engine() engine.Engine { return s.engine }

// Connection returns the transport connection.
func (s *Session) Connection() engine.Connection { return s.conn }

// Logger returns the session's logger.
func (s *Session) Logger() *zap.Logger { return s.log }

// Guard is a held engine lock. Release is idempotent.
type Guard struct {
	s        *Session
	released atomic.Bool
}

// Lock acquires the engine lock. Callers must Release the guard, normally
// with defer:
//
//	g := s.Lock()
//	defer g.Release()
func (s *Session) Lock() *Guard {
	s.lock.Lock()
	return &Guard{s: s}
}

// Release gives the lock back. Calls after the first do nothing.
func (g *Guard) Release() {
	if g.released.CompareAndSwap(false, true) {
		g.s.lock.Unlock()
	}
}

// WithLock runs fn holding the engine lock. The lock is released on every
// exit path, including a panic in fn.
func (s *Session) WithLock(fn func() error) error {
	g := s.Lock()
	defer g.Release()
	return fn()
}

// Channels returns the channels currently open on the session.
func (s *Session) Channels() []*Channel {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Channel, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

// Close closes every channel still open on the session and disconnects.
// Calling Close twice is safe.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	open := make([]*Channel, 0, len(s.channels))
	for ch := range s.channels {
		open = append(open, ch)
	}
	s.mu.Unlock()

	var err error
	for _, ch := range open {
		err = multierr.Append(err, ch.Close())
	}
	err = multierr.Append(err, s.engine.Disconnect(s.conn).Err(errors.PhaseConnect, "Disconnect"))

	s.log.Debug("session closed", zap.Int("channels_closed", len(open)), zap.Error(err))
	return err
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) track(ch *Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Closed(errors.PhaseConnect, "CreateChannel")
	}
	s.channels[ch] = struct{}{}
	return nil
}

func (s *Session) untrack(ch *Channel) {
	s.mu.Lock()
	delete(s.channels, ch)
	s.mu.Unlock()
}
