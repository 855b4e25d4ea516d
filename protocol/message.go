package protocol

import (
	"fmt"

	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/errors"
)

// MessageType is the discriminant of a back-channel notification.
type MessageType uint32

const (
	MessageInvalid           MessageType = 0x00
	MessageSyncFlushReply    MessageType = 0x01
	MessageCaps              MessageType = 0x04
	MessagePartitionIsZombie MessageType = 0x06
	MessageSyncModeStatus    MessageType = 0x09
	MessagePresented         MessageType = 0x0A
	MessageBadPixelShader    MessageType = 0x10
)

func (t MessageType) String() string {
	switch t {
	case MessageInvalid:
		return "Invalid"
	case MessageSyncFlushReply:
		return "SyncFlushReply"
	case MessageCaps:
		return "Caps"
	case MessagePartitionIsZombie:
		return "PartitionIsZombie"
	case MessageSyncModeStatus:
		return "SyncModeStatus"
	case MessagePresented:
		return "Presented"
	case MessageBadPixelShader:
		return "BadPixelShader"
	default:
		return fmt.Sprintf("Message(0x%02X)", uint32(t))
	}
}

// Known reports whether t is a discriminant this package understands.
// Readers skip messages whose type is not known.
func (t MessageType) Known() bool {
	switch t {
	case MessageSyncFlushReply, MessageCaps, MessagePartitionIsZombie,
		MessageSyncModeStatus, MessagePresented, MessageBadPixelShader:
		return true
	}
	return false
}

// messageHeaderSize is the type word plus a reserved word.
const messageHeaderSize = 8

// payloadSize is the shared payload region of every message.
const payloadSize = engine.MessageSize - messageHeaderSize

// Message is a fixed-size tagged union. The discriminant selects how the
// payload region is interpreted; use the accessor that matches Type.
type Message struct {
	Type    MessageType
	payload [payloadSize]byte
}

// Known reports whether the message type is understood.
func (m Message) Known() bool { return m.Type.Known() }

func (m Message) String() string {
	switch m.Type {
	case MessageCaps:
		c, _ := m.Caps()
		return fmt.Sprintf("Caps{tier=%d max=%dx%d ps=0x%X}", c.Tier, c.MaxTextureWidth, c.MaxTextureHeight, c.PixelShaderVersion)
	case MessagePartitionIsZombie:
		z, _ := m.Zombie()
		return fmt.Sprintf("PartitionIsZombie{code=%s}", z.Code)
	case MessagePresented:
		p, _ := m.Presented()
		return fmt.Sprintf("Presented{result=%s refresh=%d}", p.Result, p.RefreshRate)
	case MessageSyncModeStatus:
		s, _ := m.SyncMode()
		return fmt.Sprintf("SyncModeStatus{enabled=%t}", s.Enabled)
	case MessageSyncFlushReply:
		s, _ := m.SyncFlush()
		return fmt.Sprintf("SyncFlushReply{status=%s}", s.Status)
	}
	return m.Type.String()
}

// DecodeMessage decodes one raw record. Unknown discriminants decode
// successfully; check Known before interpreting the payload.
func DecodeMessage(data []byte) (Message, error) {
	if len(data) != engine.MessageSize {
		return Message{}, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path("message").
			Detail("record is %d bytes, want %d", len(data), engine.MessageSize).
			Build()
	}
	r := NewReader(data)
	t, _ := r.ReadU32()
	m := Message{Type: MessageType(t)}
	copy(m.payload[:], data[messageHeaderSize:])
	return m, nil
}

// Encode renders the message into its fixed-size record.
func (m Message) Encode() engine.MessageBuffer {
	var buf engine.MessageBuffer
	w := NewWriter(engine.MessageSize)
	w.WriteU32(uint32(m.Type))
	w.WriteU32(0)
	w.WriteBytes(m.payload[:])
	copy(buf[:], w.Bytes())
	return buf
}

func newMessage(t MessageType, fill func(w *Writer)) Message {
	m := Message{Type: t}
	w := NewWriter(payloadSize)
	if fill != nil {
		fill(w)
	}
	copy(m.payload[:], w.Bytes())
	return m
}

func (m Message) reader(t MessageType) (*Reader, bool) {
	if m.Type != t {
		return nil, false
	}
	return NewReader(m.payload[:]), true
}

// Caps describes the rendering capabilities of the engine's display set.
type Caps struct {
	Tier               uint32
	MaxTextureWidth    uint32
	MaxTextureHeight   uint32
	PixelShaderVersion uint32
	DisplayUniqueness  uint32
}

// NewCapsMessage builds a Caps notification.
func NewCapsMessage(c Caps) Message {
	return newMessage(MessageCaps, func(w *Writer) {
		w.WriteU32(c.Tier)
		w.WriteU32(c.MaxTextureWidth)
		w.WriteU32(c.MaxTextureHeight)
		w.WriteU32(c.PixelShaderVersion)
		w.WriteU32(c.DisplayUniqueness)
	})
}

// Caps returns the capabilities payload.
func (m Message) Caps() (Caps, bool) {
	r, ok := m.reader(MessageCaps)
	if !ok {
		return Caps{}, false
	}
	var c Caps
	c.Tier, _ = r.ReadU32()
	c.MaxTextureWidth, _ = r.ReadU32()
	c.MaxTextureHeight, _ = r.ReadU32()
	c.PixelShaderVersion, _ = r.ReadU32()
	c.DisplayUniqueness, _ = r.ReadU32()
	return c, true
}

// Zombie carries the failure that tore a partition down.
type Zombie struct {
	Code engine.Status
}

// NewZombieMessage builds a PartitionIsZombie notification.
func NewZombieMessage(code engine.Status) Message {
	return newMessage(MessagePartitionIsZombie, func(w *Writer) {
		w.WriteI32(int32(code))
	})
}

// Zombie returns the zombie-partition payload.
func (m Message) Zombie() (Zombie, bool) {
	r, ok := m.reader(MessagePartitionIsZombie)
	if !ok {
		return Zombie{}, false
	}
	code, _ := r.ReadI32()
	return Zombie{Code: engine.Status(code)}, true
}

// PresentationResult says what happened to a present request.
type PresentationResult uint32

const (
	PresentationPresented PresentationResult = iota
	PresentationVSyncUnsupported
	PresentationNoPresent
	PresentationDropped
)

func (r PresentationResult) String() string {
	switch r {
	case PresentationPresented:
		return "presented"
	case PresentationVSyncUnsupported:
		return "vsync_unsupported"
	case PresentationNoPresent:
		return "no_present"
	case PresentationDropped:
		return "dropped"
	default:
		return fmt.Sprintf("presentation(%d)", uint32(r))
	}
}

// Presented reports the outcome and timing of a present.
type Presented struct {
	Result      PresentationResult
	RefreshRate uint32
	Time        int64 // monotonic nanoseconds on the engine clock
}

// NewPresentedMessage builds a Presented notification.
func NewPresentedMessage(p Presented) Message {
	return newMessage(MessagePresented, func(w *Writer) {
		w.WriteU32(uint32(p.Result))
		w.WriteU32(p.RefreshRate)
		w.WriteI64(p.Time)
	})
}

// Presented returns the present payload.
func (m Message) Presented() (Presented, bool) {
	r, ok := m.reader(MessagePresented)
	if !ok {
		return Presented{}, false
	}
	var p Presented
	res, _ := r.ReadU32()
	p.Result = PresentationResult(res)
	p.RefreshRate, _ = r.ReadU32()
	p.Time, _ = r.ReadI64()
	return p, true
}

// SyncMode reports whether the partition renders synchronously.
type SyncMode struct {
	Enabled bool
	Status  engine.Status
}

// NewSyncModeMessage builds a SyncModeStatus notification.
func NewSyncModeMessage(s SyncMode) Message {
	return newMessage(MessageSyncModeStatus, func(w *Writer) {
		w.WriteBool(s.Enabled)
		w.WriteI32(int32(s.Status))
	})
}

// SyncMode returns the sync-mode payload.
func (m Message) SyncMode() (SyncMode, bool) {
	r, ok := m.reader(MessageSyncModeStatus)
	if !ok {
		return SyncMode{}, false
	}
	var s SyncMode
	s.Enabled, _ = r.ReadBool()
	st, _ := r.ReadI32()
	s.Status = engine.Status(st)
	return s, true
}

// SyncFlushReply acknowledges a sync flush.
type SyncFlushReply struct {
	Status engine.Status
}

// NewSyncFlushReplyMessage builds a SyncFlushReply notification.
func NewSyncFlushReplyMessage(status engine.Status) Message {
	return newMessage(MessageSyncFlushReply, func(w *Writer) {
		w.WriteI32(int32(status))
	})
}

// SyncFlush returns the sync-flush reply payload.
func (m Message) SyncFlush() (SyncFlushReply, bool) {
	r, ok := m.reader(MessageSyncFlushReply)
	if !ok {
		return SyncFlushReply{}, false
	}
	st, _ := r.ReadI32()
	return SyncFlushReply{Status: engine.Status(st)}, true
}

// NewBadPixelShaderMessage builds a BadPixelShader notification.
func NewBadPixelShaderMessage() Message {
	return newMessage(MessageBadPixelShader, nil)
}
