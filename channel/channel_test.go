package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/errors"
	"github.com/wippyai/composition/loopback"
	"github.com/wippyai/composition/protocol"
)

func newSession(t *testing.T) (*Session, *loopback.Engine) {
	t.Helper()
	eng := loopback.New()
	s, err := NewSession(eng)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
		require.NoError(t, eng.Close())
	})
	return s, eng
}

func newChannel(t *testing.T, s *Session, ref *Channel) *Channel {
	t.Helper()
	ch, err := Create(s, ref, Options{})
	require.NoError(t, err)
	return ch
}

func TestCreate(t *testing.T) {
	s, eng := newSession(t)

	a := newChannel(t, s, nil)
	b := newChannel(t, s, a)
	require.False(t, a.IsClosed())
	require.Same(t, a, b.Reference())
	require.Equal(t, engine.MarshalCrossThread, a.MarshalType())

	pa, _ := eng.Partition(a.Handle())
	pb, _ := eng.Partition(b.Handle())
	require.Equal(t, pa, pb)

	inline, err := Create(s, nil, Options{Synchronous: true, OutOfBand: true})
	require.NoError(t, err)
	require.True(t, inline.IsSynchronous())
	require.True(t, inline.IsOutOfBand())
	require.Equal(t, engine.MarshalSameThread, inline.MarshalType())

	require.Len(t, s.Channels(), 3)
}

func TestCreateFailures(t *testing.T) {
	s, _ := newSession(t)

	a := newChannel(t, s, nil)
	require.NoError(t, a.Close())

	_, err := Create(s, a, Options{})
	require.ErrorIs(t, err, errors.ErrClosed)

	_, err = Create(nil, nil, Options{})
	require.Error(t, err)

	eng := loopback.New()
	dead, err := NewSession(eng)
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	// Engine failures propagate.
	_, err = Create(dead, nil, Options{})
	require.Error(t, err)
	require.Equal(t, errors.KindWrongState, errors.KindOf(err))
}

func TestScenarioBrushAddRef(t *testing.T) {
	s, _ := newSession(t)
	ch := newChannel(t, s, nil)

	h1, created, err := ch.CreateOrAddRefOnChannel(engine.NullHandle, engine.TypeSolidColorBrush)
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := ch.CreateOrAddRefOnChannel(h1, engine.TypeSolidColorBrush)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, h1, again)

	n, err := ch.GetRefCount(h1)
	require.NoError(t, err)
	require.Equal(t, uint32(2), n)

	released, err := ch.ReleaseOnChannel(h1)
	require.NoError(t, err)
	require.False(t, released)
	released, err = ch.ReleaseOnChannel(h1)
	require.NoError(t, err)
	require.True(t, released)

	// Releasing more than referenced is reported.
	_, err = ch.ReleaseOnChannel(h1)
	require.ErrorIs(t, err, errors.ErrInvalidHandle)
	_, err = ch.ReleaseOnChannel(engine.NullHandle)
	require.ErrorIs(t, err, errors.ErrContract)
}

func TestCloseIsIdempotent(t *testing.T) {
	s, eng := newSession(t)
	ref := newChannel(t, s, nil)
	ch := newChannel(t, s, ref)

	h, _, err := ch.CreateOrAddRefOnChannel(engine.NullHandle, engine.TypeSolidColorBrush)
	require.NoError(t, err)
	require.NoError(t, ch.Send(protocol.SolidColorBrush{Handle: h, Opacity: 1}, engine.WithinCurrentBatch))

	require.NoError(t, ch.Close())
	require.True(t, ch.IsClosed())
	require.Nil(t, ch.Reference())
	require.NoError(t, ch.Close())

	// The open batch was committed before the channel went away.
	require.NoError(t, ref.SyncFlush(context.Background()))
	st := eng.Stats()
	require.Equal(t, uint64(1), st.Commits)
	require.Equal(t, uint64(1), st.HandlesDropped)
	require.Len(t, s.Channels(), 1)
}

func TestBestEffortOnClosed(t *testing.T) {
	s, eng := newSession(t)
	ch := newChannel(t, s, nil)
	require.NoError(t, ch.Close())
	before := eng.Stats()

	ctx := context.Background()
	require.NoError(t, ch.Commit())
	require.NoError(t, ch.CloseBatch())
	require.NoError(t, ch.SyncFlush(ctx))
	require.NoError(t, ch.Present())
	require.NoError(t, ch.SendCommand([]byte{1, 2, 3, 4}, engine.AsOwnBatch))
	require.NoError(t, ch.BeginCommand([]byte{5, 0, 0, 0}, 4))
	require.NoError(t, ch.AppendCommandData([]byte{0, 0, 0, 0}))
	require.NoError(t, ch.EndCommand())
	require.NoError(t, ch.SendVariable(protocol.GuidelineSet{X: []float64{1}}))
	require.NoError(t, ch.WaitForNextMessage(ctx))

	msg, ok, err := ch.PeekNextMessage()
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, protocol.Message{}, msg)

	require.Equal(t, before, eng.Stats())
}

func TestStrictOnClosed(t *testing.T) {
	s, _ := newSession(t)
	ch := newChannel(t, s, nil)
	other := newChannel(t, s, nil)
	require.NoError(t, ch.Close())

	_, _, err := ch.CreateOrAddRefOnChannel(engine.NullHandle, engine.TypeVisual)
	require.ErrorIs(t, err, errors.ErrClosed)
	_, err = ch.ReleaseOnChannel(1)
	require.ErrorIs(t, err, errors.ErrClosed)
	_, err = ch.GetRefCount(1)
	require.ErrorIs(t, err, errors.ErrClosed)
	_, err = ch.DuplicateHandle(1, other)
	require.ErrorIs(t, err, errors.ErrClosed)
	_, err = other.DuplicateHandle(1, ch)
	require.ErrorIs(t, err, errors.ErrClosed)
	require.ErrorIs(t, ch.SetNotificationWindow(1, 2), errors.ErrClosed)
}

func TestDuplicateHandle(t *testing.T) {
	s, _ := newSession(t)
	a := newChannel(t, s, nil)
	b := newChannel(t, s, a)
	foreign := newChannel(t, s, nil)

	h, _, err := a.CreateOrAddRefOnChannel(engine.NullHandle, engine.TypeVisual)
	require.NoError(t, err)
	require.NoError(t, a.Commit())

	dup, err := a.DuplicateHandle(h, foreign)
	require.NoError(t, err)
	require.True(t, dup.IsNull())

	dup, err = a.DuplicateHandle(h, b)
	require.NoError(t, err)
	require.False(t, dup.IsNull())

	n, err := b.GetRefCount(dup)
	require.NoError(t, err)
	require.Equal(t, uint32(1), n)

	_, err = a.DuplicateHandle(h, nil)
	require.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestCommandsReachEngine(t *testing.T) {
	s, eng := newSession(t)
	ch := newChannel(t, s, nil)

	brush, _, err := ch.CreateOrAddRefOnChannel(engine.NullHandle, engine.TypeSolidColorBrush)
	require.NoError(t, err)
	guides, _, err := ch.CreateOrAddRefOnChannel(engine.NullHandle, engine.TypeGuidelineSet)
	require.NoError(t, err)

	require.NoError(t, ch.Send(protocol.SolidColorBrush{Handle: brush, Opacity: 0.5}, engine.WithinCurrentBatch))
	require.NoError(t, ch.CloseBatch())
	require.NoError(t, ch.SendVariable(protocol.GuidelineSet{Handle: guides, X: []float64{3, 1, 2}, Y: []float64{0.5}}))
	require.NoError(t, ch.Send(protocol.SolidColorBrush{Handle: brush, Opacity: 1}, engine.AsOwnBatch))
	require.NoError(t, ch.Commit())
	require.NoError(t, ch.SyncFlush(context.Background()))

	st := eng.Stats()
	require.Equal(t, uint64(3), st.Batches)
	require.Equal(t, uint64(2), st.ByType[protocol.CmdSolidColorBrush])
	require.Equal(t, uint64(1), st.ByType[protocol.CmdGuidelineSet])
	require.Zero(t, st.Rejected)

	// Engine refusals on an open channel surface as errors.
	err = ch.SendCommand([]byte{0xff, 0, 0, 0}, engine.WithinCurrentBatch)
	require.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestOneCommandInFlight(t *testing.T) {
	s, _ := newSession(t)
	ch := newChannel(t, s, nil)

	g := protocol.GuidelineSet{X: []float64{1, 2}}
	header, err := g.Header()
	require.NoError(t, err)
	payload, err := g.Payload()
	require.NoError(t, err)

	require.ErrorIs(t, ch.AppendCommandData(payload), errors.ErrContract)
	require.ErrorIs(t, ch.EndCommand(), errors.ErrContract)

	require.NoError(t, ch.BeginCommand(header, g.PayloadSize()))
	require.ErrorIs(t, ch.BeginCommand(header, g.PayloadSize()), errors.ErrContract)
	require.ErrorIs(t, ch.SendVariable(g), errors.ErrContract)
	require.NoError(t, ch.AppendCommandData(payload))
	require.NoError(t, ch.EndCommand())

	// Closing with a command in flight ends it first.
	require.NoError(t, ch.BeginCommand(header, g.PayloadSize()))
	require.NoError(t, ch.AppendCommandData(payload))
	require.NoError(t, ch.Close())
}

func TestNotificationsPump(t *testing.T) {
	s, _ := newSession(t)
	ch := newChannel(t, s, nil)

	require.NoError(t, ch.Send(protocol.PartitionRegisterForNotifications{Enable: true}, engine.WithinCurrentBatch))
	require.NoError(t, ch.Commit())
	require.NoError(t, ch.Present())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var got []protocol.MessageType
	err := ch.Pump(ctx, func(m protocol.Message) error {
		got = append(got, m.Type)
		if len(got) == 3 {
			return ch.Close()
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []protocol.MessageType{
		protocol.MessageCaps,
		protocol.MessageSyncModeStatus,
		protocol.MessagePresented,
	}, got)
}

func TestCloseWakesWaiter(t *testing.T) {
	s, _ := newSession(t)
	ch := newChannel(t, s, nil)

	done := make(chan error, 1)
	go func() { done <- ch.WaitForNextMessage(context.Background()) }()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, ch.Close())

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitForNextMessage did not return after Close")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	s, _ := newSession(t)
	ch := newChannel(t, s, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, ch.WaitForNextMessage(ctx), context.DeadlineExceeded)
}

func TestConcurrentClose(t *testing.T) {
	s, _ := newSession(t)
	ch := newChannel(t, s, nil)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, ch.Commit())
			assert.NoError(t, ch.Close())
			assert.NoError(t, ch.SyncFlush(context.Background()))
		}()
	}
	wg.Wait()
	require.True(t, ch.IsClosed())
}

// unknownFirst queues a message with an unrecognized discriminant ahead of
// every real one.
type unknownFirst struct {
	*loopback.Engine
	sent bool
}

func (u *unknownFirst) PeekNextMessage(ch engine.ChannelHandle, msg *engine.MessageBuffer) (bool, engine.Status) {
	if !u.sent {
		u.sent = true
		*msg = engine.MessageBuffer{0x7f}
		return true, engine.StatusOK
	}
	return u.Engine.PeekNextMessage(ch, msg)
}

func TestPeekSkipsUnknownMessages(t *testing.T) {
	base := loopback.New()
	defer base.Close()
	eng := &unknownFirst{Engine: base}

	s, err := NewSession(eng)
	require.NoError(t, err)
	defer s.Close()
	ch, err := Create(s, nil, Options{Synchronous: true})
	require.NoError(t, err)

	_, ok, err := ch.PeekNextMessage()
	require.NoError(t, err)
	require.False(t, ok)
	require.True(t, eng.sent)

	require.NoError(t, ch.Send(protocol.ChannelRequestTier{}, engine.WithinCurrentBatch))
	require.NoError(t, ch.Commit())
	msg, ok, err := ch.PeekNextMessage()
	require.NoError(t, err)
	require.True(t, ok)
	_, isCaps := msg.Caps()
	require.True(t, isCaps)
}

func TestNotificationWindow(t *testing.T) {
	var mu sync.Mutex
	var calls []uint32
	eng := loopback.New(loopback.WithWindowNotifier(func(_ engine.ChannelHandle, window uintptr, message uint32) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, message)
	}))
	defer eng.Close()

	s, err := NewSession(eng)
	require.NoError(t, err)
	defer s.Close()
	ch, err := Create(s, nil, Options{Synchronous: true})
	require.NoError(t, err)

	require.NoError(t, ch.SetNotificationWindow(0xbeef, 0x401))
	require.NoError(t, ch.Send(protocol.ChannelRequestTier{}, engine.WithinCurrentBatch))
	require.NoError(t, ch.Commit())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, 2*time.Second, time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []uint32{0x401}, calls)
}

func TestNotificationWindowMayReadChannel(t *testing.T) {
	var target atomic.Pointer[Channel]
	got := make(chan protocol.MessageType, 8)
	eng := loopback.New(loopback.WithWindowNotifier(func(engine.ChannelHandle, uintptr, uint32) {
		ch := target.Load()
		if ch == nil {
			return
		}
		for {
			msg, ok, err := ch.PeekNextMessage()
			if err != nil || !ok {
				return
			}
			got <- msg.Type
		}
	}))
	defer eng.Close()

	s, err := NewSession(eng)
	require.NoError(t, err)
	defer s.Close()
	ch, err := Create(s, nil, Options{Synchronous: true})
	require.NoError(t, err)
	target.Store(ch)

	require.NoError(t, ch.SetNotificationWindow(1, 2))
	require.NoError(t, ch.Send(protocol.PartitionRegisterForNotifications{Enable: true}, engine.WithinCurrentBatch))

	done := make(chan error, 1)
	go func() { done <- ch.Commit() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Commit did not return")
	}

	for _, want := range []protocol.MessageType{protocol.MessageCaps, protocol.MessageSyncModeStatus} {
		select {
		case typ := <-got:
			require.Equal(t, want, typ)
		case <-time.After(2 * time.Second):
			t.Fatalf("no %s delivered", want)
		}
	}
}

// closingEngine closes the session after the engine channel exists but
// before the session tracks it, then fails the cleanup destroy.
type closingEngine struct {
	*loopback.Engine
	session *Session
}

func (e *closingEngine) GetMarshalType(ch engine.ChannelHandle) (engine.MarshalType, engine.Status) {
	mt, st := e.Engine.GetMarshalType(ch)
	_ = e.session.Close()
	return mt, st
}

func (e *closingEngine) DestroyChannel(engine.ChannelHandle) engine.Status {
	return engine.StatusWrongState
}

func TestCreateReportsCleanupFailure(t *testing.T) {
	inner := loopback.New()
	defer inner.Close()
	eng := &closingEngine{Engine: inner}

	s, err := NewSession(eng)
	require.NoError(t, err)
	eng.session = s

	ch, err := Create(s, nil, Options{})
	require.Nil(t, ch)
	require.ErrorIs(t, err, errors.ErrClosed)
	require.ErrorIs(t, err, errors.ErrWrongState)
}

func TestCloseReportsPartialCommand(t *testing.T) {
	s, eng := newSession(t)
	ch := newChannel(t, s, nil)

	h, _, err := ch.CreateOrAddRefOnChannel(engine.NullHandle, engine.TypeGuidelineSet)
	require.NoError(t, err)
	g := protocol.GuidelineSet{Handle: h, X: []float64{1, 2}, Y: []float64{3}}
	header, err := g.Header()
	require.NoError(t, err)
	payload, err := g.Payload()
	require.NoError(t, err)

	require.NoError(t, ch.BeginCommand(header, g.PayloadSize()))
	require.NoError(t, ch.AppendCommandData(payload[:4]))

	err = ch.Close()
	require.ErrorIs(t, err, errors.ErrInvalidInput)
	require.True(t, ch.IsClosed())
	require.NoError(t, ch.Close())
	require.Zero(t, eng.Stats().Commands)
}
