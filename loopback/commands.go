package loopback

import (
	"slices"

	"go.uber.org/zap"

	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/protocol"
)

// record is one submitted command. Fixed commands carry the whole record in
// header; variable commands split it into header and payload.
type record struct {
	header  []byte
	payload []byte
	typ     protocol.CommandType
}

type pendingCommand struct {
	header []byte
	data   []byte
	size   uint32
}

// discardLocked drops uncommitted and in-flight commands and returns how
// many records were dropped.
func (cs *channelState) discardLocked() int {
	n := len(cs.open)
	for _, b := range cs.sealed {
		n += len(b)
	}
	if cs.pending != nil {
		n++
	}
	cs.open, cs.sealed, cs.pending = nil, nil, nil
	return n
}

func (cs *channelState) closeBatchLocked() {
	if len(cs.open) == 0 {
		return
	}
	cs.sealed = append(cs.sealed, cs.open)
	cs.open = nil
}

func (e *Engine) SendCommand(ch engine.ChannelHandle, data []byte, mode engine.BatchMode) engine.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.channels[ch]
	if cs == nil {
		return engine.StatusChannelClosed
	}
	if cs.pending != nil {
		return engine.StatusWrongState
	}

	typ, st := checkFixed(data)
	if st.Failed() {
		cs.log.Debug("command refused", zap.Int("size", len(data)), zap.Stringer("status", st))
		return st
	}
	if cs.part.zombie != 0 {
		e.stats.Discarded++
		return engine.StatusOK
	}

	rec := record{typ: typ, header: slices.Clone(data)}
	if mode == engine.AsOwnBatch {
		cs.sealed = append(cs.sealed, []record{rec})
	} else {
		cs.open = append(cs.open, rec)
	}
	return engine.StatusOK
}

func checkFixed(data []byte) (protocol.CommandType, engine.Status) {
	hdr, err := protocol.DecodeHeader(data)
	if err != nil {
		return protocol.CmdInvalid, engine.StatusInvalidArg
	}
	if !hdr.Type.Known() || hdr.Type.Variable() || len(data) != hdr.Type.Size() {
		return hdr.Type, engine.StatusInvalidArg
	}
	return hdr.Type, engine.StatusOK
}

func (e *Engine) BeginCommand(ch engine.ChannelHandle, header []byte, extraSize uint32) engine.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.channels[ch]
	if cs == nil {
		return engine.StatusChannelClosed
	}
	if cs.pending != nil {
		return engine.StatusWrongState
	}
	hdr, err := protocol.DecodeHeader(header)
	if err != nil || !hdr.Type.Variable() || extraSize%4 != 0 {
		return engine.StatusInvalidArg
	}

	cs.pending = &pendingCommand{
		header: slices.Clone(header),
		data:   make([]byte, 0, extraSize),
		size:   extraSize,
	}
	return engine.StatusOK
}

func (e *Engine) AppendCommandData(ch engine.ChannelHandle, data []byte) engine.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.channels[ch]
	if cs == nil {
		return engine.StatusChannelClosed
	}
	p := cs.pending
	if p == nil {
		return engine.StatusWrongState
	}
	if uint64(len(p.data))+uint64(len(data)) > uint64(p.size) {
		return engine.StatusInvalidArg
	}
	p.data = append(p.data, data...)
	return engine.StatusOK
}

func (e *Engine) EndCommand(ch engine.ChannelHandle) engine.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.channels[ch]
	if cs == nil {
		return engine.StatusChannelClosed
	}
	p := cs.pending
	if p == nil {
		return engine.StatusWrongState
	}
	cs.pending = nil

	if uint32(len(p.data)) != p.size {
		cs.log.Debug("variable command short of declared size",
			zap.Int("have", len(p.data)),
			zap.Uint32("declared", p.size))
		return engine.StatusInvalidArg
	}
	if cs.part.zombie != 0 {
		e.stats.Discarded++
		return engine.StatusOK
	}

	hdr, _ := protocol.DecodeHeader(p.header)
	cs.open = append(cs.open, record{typ: hdr.Type, header: p.header, payload: p.data})
	return engine.StatusOK
}

func (e *Engine) CloseBatch(ch engine.ChannelHandle) engine.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.channels[ch]
	if cs == nil {
		return engine.StatusChannelClosed
	}
	cs.closeBatchLocked()
	return engine.StatusOK
}

func (e *Engine) CommitChannel(ch engine.ChannelHandle) engine.Status {
	e.mu.Lock()
	cs := e.channels[ch]
	if cs == nil {
		e.mu.Unlock()
		return engine.StatusChannelClosed
	}
	cs.closeBatchLocked()
	batches := cs.sealed
	cs.sealed = nil
	if len(batches) == 0 {
		e.mu.Unlock()
		return engine.StatusOK
	}
	e.stats.Commits++

	u := &unit{kind: unitCommit, ch: cs, batches: batches}
	if cs.synchronous {
		e.mu.Unlock()
		e.apply(u)
		return engine.StatusOK
	}
	e.enqueueLocked(u)
	e.mu.Unlock()
	return engine.StatusOK
}
