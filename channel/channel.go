package channel

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/errors"
	"github.com/wippyai/composition/protocol"
)

// Options control how a channel is created.
type Options struct {
	// OutOfBand channels bypass the partition's normal batch ordering.
	OutOfBand bool
	// Synchronous channels apply each commit before Commit returns.
	Synchronous bool
}

// Channel is an ordered, batched command pipe to one partition of the
// engine. A Channel is Open until Close; a zero handle means Closed.
//
// Best-effort operations (Commit, CloseBatch, SyncFlush, Present, the send
// family) do nothing on a Closed channel. Strict operations (the resource
// family, SetNotificationWindow) return an error with KindClosed.
type Channel struct {
	session *Session
	log     *zap.Logger

	mu        sync.Mutex
	handle    engine.ChannelHandle
	reference *Channel
	inFlight  bool

	outOfBand   bool
	synchronous bool
	marshal     engine.MarshalType
}

// Create opens a channel on s. A nil reference starts a new partition;
// otherwise the channel joins the partition of reference, which must be
// Open.
func Create(s *Session, reference *Channel, opts Options) (*Channel, error) {
	if s == nil {
		return nil, errors.NotInitialized(errors.PhaseChannel, "session")
	}
	if s.isClosed() {
		return nil, errors.Closed(errors.PhaseConnect, "CreateChannel")
	}

	var refHandle engine.ChannelHandle
	if reference != nil {
		refHandle = reference.Handle()
		if refHandle == 0 {
			return nil, errors.Closed(errors.PhaseChannel, "Create")
		}
	}

	eng := s.engine
	h, st := eng.CreateChannel(s.conn, refHandle, opts.OutOfBand, opts.Synchronous)
	if err := st.Err(errors.PhaseChannel, "CreateChannel"); err != nil {
		return nil, err
	}

	mt, st := eng.GetMarshalType(h)
	if err := st.Err(errors.PhaseChannel, "GetMarshalType"); err != nil {
		return nil, multierr.Append(err, eng.DestroyChannel(h).Err(errors.PhaseChannel, "DestroyChannel"))
	}

	c := &Channel{
		session:     s,
		handle:      h,
		reference:   reference,
		outOfBand:   opts.OutOfBand,
		synchronous: opts.Synchronous,
		marshal:     mt,
		log:         s.log.With(zap.Uint64("channel", uint64(h))),
	}
	if err := s.track(c); err != nil {
		return nil, multierr.Append(err, eng.DestroyChannel(h).Err(errors.PhaseChannel, "DestroyChannel"))
	}

	c.log.Debug("channel created",
		zap.Uint64("reference", uint64(refHandle)),
		zap.Bool("synchronous", opts.Synchronous),
		zap.Bool("out_of_band", opts.OutOfBand),
		zap.Stringer("marshal", mt))
	return c, nil
}

// Session returns the session the channel was created on.
func (c *Channel) Session() *Session { return c.session }

// Handle returns the engine handle, or 0 once the channel is Closed.
func (c *Channel) Handle() engine.ChannelHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// IsClosed reports whether Close has run.
func (c *Channel) IsClosed() bool { return c.Handle() == 0 }

// Reference returns the channel this one joined, or nil. Close clears it.
func (c *Channel) Reference() *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reference
}

func (c *Channel) IsSynchronous() bool { return c.synchronous }

func (c *Channel) IsOutOfBand() bool { return c.outOfBand }

// MarshalType reports whether calls on the channel need cross-thread
// marshaling. It is queried once at creation.
func (c *Channel) MarshalType() engine.MarshalType { return c.marshal }

// Close closes the open batch, commits, destroys the engine channel and
// drops the reference link. Closing a Closed channel does nothing.
//
// A variable command still in flight is ended as is; the engine discards
// it and the resulting EndCommand error is part of the returned error.
// The channel is Closed after Close returns even when the engine reported
// errors along the way.
func (c *Channel) Close() error {
	c.mu.Lock()
	h := c.handle
	if h == 0 {
		c.mu.Unlock()
		return nil
	}
	eng := c.session.engine

	var err error
	if c.inFlight {
		err = multierr.Append(err, eng.EndCommand(h).Err(errors.PhaseChannel, "EndCommand"))
		c.inFlight = false
	}
	err = multierr.Combine(
		err,
		eng.CloseBatch(h).Err(errors.PhaseChannel, "CloseBatch"),
		eng.CommitChannel(h).Err(errors.PhaseChannel, "CommitChannel"),
		eng.DestroyChannel(h).Err(errors.PhaseChannel, "DestroyChannel"),
	)
	c.handle = 0
	c.reference = nil
	c.mu.Unlock()

	c.session.untrack(c)
	c.log.Debug("channel closed", zap.Error(err))
	return err
}

// Commit submits every command enqueued since the last commit as one unit,
// executed before the engine renders its next frame.
func (c *Channel) Commit() error {
	return c.bestEffort("Commit", func(eng engine.Engine, h engine.ChannelHandle) engine.Status {
		return eng.CommitChannel(h)
	})
}

// CloseBatch seals the open batch without submitting it.
func (c *Channel) CloseBatch() error {
	return c.bestEffort("CloseBatch", func(eng engine.Engine, h engine.ChannelHandle) engine.Status {
		return eng.CloseBatch(h)
	})
}

// Present asks for the most recently composed frame to be presented.
func (c *Channel) Present() error {
	return c.bestEffort("Present", func(eng engine.Engine, h engine.ChannelHandle) engine.Status {
		return eng.Present(h)
	})
}

// SyncFlush blocks until everything committed on the channel has executed,
// or ctx is done. The channel lock is not held while waiting, so a
// concurrent Close ends the wait without error.
func (c *Channel) SyncFlush(ctx context.Context) error {
	h := c.Handle()
	if h == 0 {
		return nil
	}
	st := c.session.engine.SyncFlush(ctx, h)
	if st == engine.StatusChannelClosed {
		return nil
	}
	if err := ctx.Err(); err != nil && st.Failed() {
		return errors.Wrap(errors.PhaseChannel, errors.KindFailure, err, "sync flush interrupted")
	}
	return st.Err(errors.PhaseChannel, "SyncFlush")
}

// SendCommand submits one fixed-size command record.
func (c *Channel) SendCommand(data []byte, mode engine.BatchMode) error {
	return c.bestEffort("SendCommand", func(eng engine.Engine, h engine.ChannelHandle) engine.Status {
		return eng.SendCommand(h, data, mode)
	})
}

// BeginCommand starts a variable-length command: header now, then exactly
// extraSize bytes through AppendCommandData, then EndCommand. Only one
// variable command may be in flight per channel.
func (c *Channel) BeginCommand(header []byte, extraSize uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.beginLocked(header, extraSize)
}

// AppendCommandData streams payload for the in-flight command.
func (c *Channel) AppendCommandData(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(data)
}

// EndCommand finishes the in-flight command.
func (c *Channel) EndCommand() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endLocked()
}

// Send encodes cmd and submits it.
func (c *Channel) Send(cmd protocol.Command, mode engine.BatchMode) error {
	data, err := cmd.MarshalBinary()
	if err != nil {
		return err
	}
	return c.SendCommand(data, mode)
}

// SendVariable encodes cmd and streams it through Begin/Append/End while
// holding the channel lock, so variable commands from different goroutines
// never interleave.
func (c *Channel) SendVariable(cmd protocol.VariableCommand) error {
	header, err := cmd.Header()
	if err != nil {
		return err
	}
	payload, err := cmd.Payload()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == 0 {
		return nil
	}
	if err := c.beginLocked(header, uint32(len(payload))); err != nil {
		return err
	}
	if len(payload) > 0 {
		if err := c.appendLocked(payload); err != nil {
			return multierr.Append(err, c.endLocked())
		}
	}
	return c.endLocked()
}

func (c *Channel) beginLocked(header []byte, extraSize uint32) error {
	if c.handle == 0 {
		return nil
	}
	if c.inFlight {
		return errors.Contract(errors.PhaseCommand, "BeginCommand while another command is in flight")
	}
	if err := c.session.engine.BeginCommand(c.handle, header, extraSize).Err(errors.PhaseCommand, "BeginCommand"); err != nil {
		return err
	}
	c.inFlight = true
	return nil
}

func (c *Channel) appendLocked(data []byte) error {
	if c.handle == 0 {
		return nil
	}
	if !c.inFlight {
		return errors.Contract(errors.PhaseCommand, "AppendCommandData without BeginCommand")
	}
	return c.session.engine.AppendCommandData(c.handle, data).Err(errors.PhaseCommand, "AppendCommandData")
}

func (c *Channel) endLocked() error {
	if c.handle == 0 {
		return nil
	}
	if !c.inFlight {
		return errors.Contract(errors.PhaseCommand, "EndCommand without BeginCommand")
	}
	c.inFlight = false
	return c.session.engine.EndCommand(c.handle).Err(errors.PhaseCommand, "EndCommand")
}

// CreateOrAddRefOnChannel allocates a new handle of type t when handle is
// Null (created is true), otherwise increments the engine ref count of
// handle.
func (c *Channel) CreateOrAddRefOnChannel(handle engine.ResourceHandle, t engine.ResourceType) (engine.ResourceHandle, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == 0 {
		return engine.NullHandle, false, errors.Closed(errors.PhaseResource, "CreateOrAddRefOnChannel")
	}
	h, created, st := c.session.engine.CreateOrAddRefOnChannel(c.handle, t, handle)
	if err := st.Err(errors.PhaseResource, "CreateOrAddRefOnChannel"); err != nil {
		return engine.NullHandle, false, err
	}

	c.log.Debug("resource referenced",
		zap.Uint32("handle", uint32(h)),
		zap.Stringer("type", t),
		zap.Bool("created", created))
	return h, created, nil
}

// ReleaseOnChannel decrements the engine ref count of handle and reports
// whether it reached zero. Releasing more often than referenced fails with
// KindInvalidHandle.
func (c *Channel) ReleaseOnChannel(handle engine.ResourceHandle) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == 0 {
		return false, errors.Closed(errors.PhaseResource, "ReleaseOnChannel")
	}
	if handle.IsNull() {
		return false, errors.Contract(errors.PhaseResource, "release of null handle")
	}
	released, st := c.session.engine.ReleaseOnChannel(c.handle, handle)
	if err := st.Err(errors.PhaseResource, "ReleaseOnChannel"); err != nil {
		return false, err
	}

	c.log.Debug("resource released", zap.Uint32("handle", uint32(handle)), zap.Bool("fully_released", released))
	return released, nil
}

// DuplicateHandle shares original from c into target. It returns
// NullHandle with a nil error when the two channels are in different
// partitions. The source channel must be committed before the duplicate is
// used on target.
func (c *Channel) DuplicateHandle(original engine.ResourceHandle, target *Channel) (engine.ResourceHandle, error) {
	if target == nil {
		return engine.NullHandle, errors.InvalidInput(errors.PhaseResource, "nil target channel")
	}
	targetHandle := target.Handle()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == 0 || targetHandle == 0 {
		return engine.NullHandle, errors.Closed(errors.PhaseResource, "DuplicateHandle")
	}
	h, st := c.session.engine.DuplicateHandle(c.handle, original, targetHandle)
	if err := st.Err(errors.PhaseResource, "DuplicateHandle"); err != nil {
		return engine.NullHandle, err
	}
	if st == engine.StatusFalse {
		c.log.Debug("duplicate refused across partitions",
			zap.Uint32("handle", uint32(original)),
			zap.Uint64("target", uint64(targetHandle)))
		return engine.NullHandle, nil
	}
	return h, nil
}

// GetRefCount returns a snapshot of the engine-side ref count of handle.
func (c *Channel) GetRefCount(handle engine.ResourceHandle) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == 0 {
		return 0, errors.Closed(errors.PhaseResource, "GetRefCount")
	}
	n, st := c.session.engine.GetRefCount(c.handle, handle)
	if err := st.Err(errors.PhaseResource, "GetRefCount"); err != nil {
		return 0, err
	}
	return n, nil
}

// SetNotificationWindow registers a window to be signalled with message
// whenever a notification is queued for the channel.
func (c *Channel) SetNotificationWindow(window uintptr, message uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == 0 {
		return errors.Closed(errors.PhaseNotify, "SetNotificationWindow")
	}
	return c.session.engine.SetNotificationWindow(c.handle, window, message).Err(errors.PhaseNotify, "SetNotificationWindow")
}

// WaitForNextMessage blocks until a notification is queued, the channel is
// torn down, or ctx is done. Teardown is not an error.
func (c *Channel) WaitForNextMessage(ctx context.Context) error {
	h := c.Handle()
	if h == 0 {
		return nil
	}
	st := c.session.engine.WaitForNextMessage(ctx, h)
	if st == engine.StatusChannelClosed {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return st.Err(errors.PhaseNotify, "WaitForNextMessage")
}

// PeekNextMessage dequeues one notification without blocking. Messages
// with unrecognized discriminants are skipped.
func (c *Channel) PeekNextMessage() (protocol.Message, bool, error) {
	h := c.Handle()
	if h == 0 {
		return protocol.Message{}, false, nil
	}

	eng := c.session.engine
	for {
		var buf engine.MessageBuffer
		found, st := eng.PeekNextMessage(h, &buf)
		if st == engine.StatusChannelClosed {
			return protocol.Message{}, false, nil
		}
		if err := st.Err(errors.PhaseNotify, "PeekNextMessage"); err != nil {
			return protocol.Message{}, false, err
		}
		if !found {
			return protocol.Message{}, false, nil
		}

		msg, err := protocol.DecodeMessage(buf[:])
		if err != nil {
			return protocol.Message{}, false, err
		}
		if !msg.Known() {
			c.log.Debug("skipping unknown notification", zap.Uint32("type", uint32(msg.Type)))
			continue
		}
		return msg, true, nil
	}
}

// Pump delivers notifications to fn until the channel is closed, ctx is
// done, or fn returns an error. A closed channel ends the pump with nil.
func (c *Channel) Pump(ctx context.Context, fn func(protocol.Message) error) error {
	for {
		for {
			msg, ok, err := c.PeekNextMessage()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := fn(msg); err != nil {
				return err
			}
		}
		if c.IsClosed() {
			return nil
		}
		if err := c.WaitForNextMessage(ctx); err != nil {
			return err
		}
	}
}

func (c *Channel) bestEffort(op string, call func(engine.Engine, engine.ChannelHandle) engine.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == 0 {
		return nil
	}
	return call(c.session.engine, c.handle).Err(errors.PhaseChannel, op)
}
