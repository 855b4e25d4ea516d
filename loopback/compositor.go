package loopback

import (
	"context"

	"go.uber.org/zap"

	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/errors"
	"github.com/wippyai/composition/protocol"
)

type unitKind uint8

const (
	unitCommit unitKind = iota
	unitPresent
	unitBarrier
)

// unit is one piece of work for the compositor, applied in enqueue order.
type unit struct {
	ch      *channelState
	done    chan struct{}
	batches [][]record
	kind    unitKind
}

func (u *unit) finish() {
	if u.done != nil {
		close(u.done)
	}
}

func (e *Engine) enqueueLocked(u *unit) {
	e.queue = append(e.queue, u)
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) next() *unit {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.queue) == 0 {
		return nil
	}
	u := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	return u
}

func (e *Engine) compose() {
	defer e.wg.Done()

	for {
		select {
		case <-e.wake:
			for u := e.next(); u != nil; u = e.next() {
				e.apply(u)
			}
		case <-e.done:
			// Channels are gone; release anything still waiting on a barrier.
			for u := e.next(); u != nil; u = e.next() {
				u.finish()
			}
			return
		}
	}
}

func (e *Engine) apply(u *unit) {
	e.applyMu.Lock()
	defer e.applyMu.Unlock()
	defer u.finish()

	switch u.kind {
	case unitCommit:
		e.execute(u.ch, u.batches)
	case unitPresent:
		e.present(u.ch)
	}
}

func (e *Engine) execute(cs *channelState, batches [][]record) {
	var out []protocol.Message

	e.mu.Lock()
	if e.channels[cs.handle] != cs || cs.part.zombie != 0 {
		for _, b := range batches {
			e.stats.Discarded += uint64(len(b))
		}
		e.mu.Unlock()
		return
	}

	for _, batch := range batches {
		e.stats.Batches++
		for _, rec := range batch {
			cmd, err := e.check(cs, rec)
			if err != nil {
				e.stats.Rejected++
				cs.log.Warn("command rejected", zap.Stringer("command", rec.typ), zap.Error(err))
				continue
			}
			e.stats.Commands++
			e.stats.ByType[rec.typ]++

			switch c := cmd.(type) {
			case protocol.PartitionRegisterForNotifications:
				cs.registered = c.Enable
				if c.Enable {
					out = append(out,
						protocol.NewCapsMessage(e.opts.caps),
						protocol.NewSyncModeMessage(protocol.SyncMode{Enabled: e.opts.syncMode}))
				}
			case protocol.ChannelRequestTier:
				out = append(out, protocol.NewCapsMessage(e.opts.caps))
			}
		}
	}
	e.mu.Unlock()

	for _, m := range out {
		e.post(cs, m)
	}
}

// check decodes rec and verifies that every handle it names is live on the
// channel. Guideline sets decode to a nil Command.
func (e *Engine) check(cs *channelState, rec record) (protocol.Command, error) {
	if rec.typ == protocol.CmdGuidelineSet {
		d, err := protocol.DecodeGuidelineSet(rec.header, rec.payload)
		if err != nil {
			return nil, err
		}
		return nil, checkHandles(cs, rec.typ, d.Handle)
	}

	cmd, err := protocol.DecodeCommand(rec.header)
	if err != nil {
		return nil, err
	}
	var handles []engine.ResourceHandle
	if rec.typ.HasTarget() {
		hdr, _ := protocol.DecodeHeader(rec.header)
		handles = append(handles, hdr.Target)
	}
	if ref, ok := cmd.(protocol.Referencer); ok {
		handles = append(handles, ref.References()...)
	}
	return cmd, checkHandles(cs, rec.typ, handles...)
}

func checkHandles(cs *channelState, typ protocol.CommandType, handles ...engine.ResourceHandle) error {
	for _, h := range handles {
		if _, _, ok := cs.table.Get(h); !ok {
			return errors.New(errors.PhaseCommand, errors.KindInvalidHandle).
				Path(typ.String()).
				Value(uint32(h)).
				Detail("handle %d is not live on channel %d", uint32(h), uint64(cs.handle)).
				Build()
		}
	}
	return nil
}

func (e *Engine) present(cs *channelState) {
	e.mu.Lock()
	if e.channels[cs.handle] != cs || cs.part.zombie != 0 {
		e.mu.Unlock()
		return
	}
	e.stats.Presents++
	registered := cs.registered
	e.mu.Unlock()

	if !registered {
		return
	}
	e.post(cs, protocol.NewPresentedMessage(protocol.Presented{
		Result:      protocol.PresentationPresented,
		RefreshRate: e.opts.refreshRate,
		Time:        e.opts.clock().UnixNano(),
	}))
}

// post queues msg for cs, dropping the oldest message when the queue is
// full, and signals the channel's waiter and notification window.
func (e *Engine) post(cs *channelState, msg protocol.Message) {
	buf := msg.Encode()

	e.mu.Lock()
	if e.channels[cs.handle] != cs {
		e.mu.Unlock()
		return
	}
	if len(cs.queue) >= e.opts.queueDepth {
		cs.queue = cs.queue[1:]
		e.stats.MessagesDropped++
		cs.log.Warn("notification queue full, dropping oldest", zap.Int("depth", e.opts.queueDepth))
	}
	cs.queue = append(cs.queue, buf)
	e.stats.MessagesPosted++
	select {
	case cs.signal <- struct{}{}:
	default:
	}
	window, message, notifier := cs.window, cs.windowMsg, e.opts.notifier
	e.mu.Unlock()

	if window != 0 && notifier != nil {
		e.notifyWindow(windowNote{ch: cs.handle, window: window, message: message})
	}
}

type windowNote struct {
	ch      engine.ChannelHandle
	window  uintptr
	message uint32
}

// notifyWindow queues a window notification for the dispatcher. The
// notifier never runs on the goroutine that posted the message.
func (e *Engine) notifyWindow(n windowNote) {
	e.notesMu.Lock()
	e.notes = append(e.notes, n)
	e.notesMu.Unlock()
	select {
	case e.notesWake <- struct{}{}:
	default:
	}
}

// dispatch delivers window notifications in post order until the engine
// closes. Notes still pending at Close are dropped.
func (e *Engine) dispatch() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case <-e.notesWake:
		}

		e.notesMu.Lock()
		notes := e.notes
		e.notes = nil
		e.notesMu.Unlock()

		for _, n := range notes {
			select {
			case <-e.done:
				return
			default:
			}
			e.opts.notifier(n.ch, n.window, n.message)
		}
	}
}

func (e *Engine) Present(ch engine.ChannelHandle) engine.Status {
	e.mu.Lock()
	cs := e.channels[ch]
	if cs == nil {
		e.mu.Unlock()
		return engine.StatusChannelClosed
	}
	u := &unit{kind: unitPresent, ch: cs}
	if cs.synchronous {
		e.mu.Unlock()
		e.apply(u)
		return engine.StatusOK
	}
	e.enqueueLocked(u)
	e.mu.Unlock()
	return engine.StatusOK
}

// SyncFlush queues a barrier behind everything already committed and waits
// for the compositor to reach it.
func (e *Engine) SyncFlush(ctx context.Context, ch engine.ChannelHandle) engine.Status {
	e.mu.Lock()
	cs := e.channels[ch]
	if cs == nil {
		e.mu.Unlock()
		return engine.StatusChannelClosed
	}
	u := &unit{kind: unitBarrier, ch: cs, done: make(chan struct{})}
	e.enqueueLocked(u)
	destroyed := cs.destroyed
	e.mu.Unlock()

	select {
	case <-u.done:
		return engine.StatusOK
	case <-destroyed:
		return engine.StatusChannelClosed
	case <-ctx.Done():
		return engine.StatusAbort
	}
}
