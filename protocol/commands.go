package protocol

import (
	"fmt"

	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/errors"
)

// CommandType is the discriminant stored in the first word of every
// command record.
type CommandType uint32

const (
	CmdInvalid CommandType = iota
	CmdPartitionRegisterForNotifications
	CmdChannelRequestTier
	CmdSolidColorBrush
	CmdMatrixTransform
	CmdGuidelineSet
	CmdVisualSetOffset
	CmdVisualSetTransform
	CmdVisualInsertChildAt
	CmdVisualRemoveChild
	CmdViewport3DVisualSetCamera
	cmdCount
)

type commandInfo struct {
	name      string
	size      int  // record size, or header size for variable commands
	hasTarget bool // second word is the target resource handle
	variable  bool
}

var commandInfos = [...]commandInfo{
	CmdInvalid:                           {name: "Invalid"},
	CmdPartitionRegisterForNotifications: {name: "PartitionRegisterForNotifications", size: 8},
	CmdChannelRequestTier:                {name: "ChannelRequestTier", size: 8},
	CmdSolidColorBrush:                   {name: "SolidColorBrush", size: 32, hasTarget: true},
	CmdMatrixTransform:                   {name: "MatrixTransform", size: 56, hasTarget: true},
	CmdGuidelineSet:                      {name: "GuidelineSet", size: guidelineHeaderSize, hasTarget: true, variable: true},
	CmdVisualSetOffset:                   {name: "VisualSetOffset", size: 24, hasTarget: true},
	CmdVisualSetTransform:                {name: "VisualSetTransform", size: 16, hasTarget: true},
	CmdVisualInsertChildAt:               {name: "VisualInsertChildAt", size: 16, hasTarget: true},
	CmdVisualRemoveChild:                 {name: "VisualRemoveChild", size: 16, hasTarget: true},
	CmdViewport3DVisualSetCamera:         {name: "Viewport3DVisualSetCamera", size: 16, hasTarget: true},
}

func (c CommandType) String() string {
	if c.Known() {
		return commandInfos[c].name
	}
	return fmt.Sprintf("Command(%d)", uint32(c))
}

// ParseCommandType maps a name produced by String back to its type.
func ParseCommandType(name string) (CommandType, bool) {
	for c := CmdInvalid + 1; c < cmdCount; c++ {
		if commandInfos[c].name == name {
			return c, true
		}
	}
	return CmdInvalid, false
}

// Known reports whether c is a recognized, valid discriminant.
func (c CommandType) Known() bool { return c > CmdInvalid && c < cmdCount }

// Size returns the fixed record size, or the header size of a variable
// command. Unknown types return 0.
func (c CommandType) Size() int {
	if !c.Known() {
		return 0
	}
	return commandInfos[c].size
}

// HasTarget reports whether the second word of the record is a resource handle.
func (c CommandType) HasTarget() bool { return c.Known() && commandInfos[c].hasTarget }

// Variable reports whether the command carries a payload after its header.
func (c CommandType) Variable() bool { return c.Known() && commandInfos[c].variable }

// Command is a fixed-size command record.
type Command interface {
	Type() CommandType
	MarshalBinary() ([]byte, error)
}

// VariableCommand is a header followed by a payload whose size is declared
// before streaming starts.
type VariableCommand interface {
	Type() CommandType
	Header() ([]byte, error)
	Payload() ([]byte, error)
}

// Referencer is implemented by commands that name resources besides their
// target.
type Referencer interface {
	References() []engine.ResourceHandle
}

// Header is the common prefix of every record.
type Header struct {
	Type   CommandType
	Target engine.ResourceHandle // NullHandle when the type has no target
}

// DecodeHeader reads the discriminant and, when the type has one, the target.
// Unknown types decode without error so callers can decide how to treat them.
func DecodeHeader(data []byte) (Header, error) {
	r := NewReader(data)
	t, err := r.ReadU32()
	if err != nil {
		return Header{}, err
	}
	h := Header{Type: CommandType(t)}
	if h.Type.HasTarget() {
		target, err := r.ReadU32()
		if err != nil {
			return Header{}, err
		}
		h.Target = engine.ResourceHandle(target)
	}
	return h, nil
}

func begin(t CommandType) *Writer {
	w := NewWriter(t.Size())
	w.WriteU32(uint32(t))
	return w
}

func beginTarget(t CommandType, h engine.ResourceHandle) *Writer {
	w := begin(t)
	w.WriteU32(uint32(h))
	return w
}

// PartitionRegisterForNotifications enables or disables back-channel
// notifications for the sending channel.
type PartitionRegisterForNotifications struct {
	Enable bool
}

func (PartitionRegisterForNotifications) Type() CommandType {
	return CmdPartitionRegisterForNotifications
}

func (c PartitionRegisterForNotifications) MarshalBinary() ([]byte, error) {
	w := begin(CmdPartitionRegisterForNotifications)
	w.WriteBool(c.Enable)
	return w.Bytes(), nil
}

// ChannelRequestTier asks the engine to report its rendering capabilities.
type ChannelRequestTier struct {
	ReturnCommonMinimum bool
}

func (ChannelRequestTier) Type() CommandType { return CmdChannelRequestTier }

func (c ChannelRequestTier) MarshalBinary() ([]byte, error) {
	w := begin(CmdChannelRequestTier)
	w.WriteBool(c.ReturnCommonMinimum)
	return w.Bytes(), nil
}

// Color is a straight-alpha scRGB color.
type Color struct {
	R, G, B, A float32
}

// SolidColorBrush updates a brush resource.
type SolidColorBrush struct {
	Handle  engine.ResourceHandle
	Opacity float64
	Color   Color
}

func (SolidColorBrush) Type() CommandType { return CmdSolidColorBrush }

func (c SolidColorBrush) MarshalBinary() ([]byte, error) {
	w := beginTarget(CmdSolidColorBrush, c.Handle)
	w.WriteF64(c.Opacity)
	w.WriteF32(c.Color.R)
	w.WriteF32(c.Color.G)
	w.WriteF32(c.Color.B)
	w.WriteF32(c.Color.A)
	return w.Bytes(), nil
}

// Matrix is a 2D affine matrix.
type Matrix struct {
	M11, M12, M21, M22, OffsetX, OffsetY float64
}

// Identity is the identity matrix.
var Identity = Matrix{M11: 1, M22: 1}

// MatrixTransform updates a transform resource.
type MatrixTransform struct {
	Handle engine.ResourceHandle
	Matrix Matrix
}

func (MatrixTransform) Type() CommandType { return CmdMatrixTransform }

func (c MatrixTransform) MarshalBinary() ([]byte, error) {
	w := beginTarget(CmdMatrixTransform, c.Handle)
	m := c.Matrix
	for _, v := range [...]float64{m.M11, m.M12, m.M21, m.M22, m.OffsetX, m.OffsetY} {
		w.WriteF64(v)
	}
	return w.Bytes(), nil
}

// VisualSetOffset moves a 2D visual.
type VisualSetOffset struct {
	Handle engine.ResourceHandle
	X, Y   float64
}

func (VisualSetOffset) Type() CommandType { return CmdVisualSetOffset }

func (c VisualSetOffset) MarshalBinary() ([]byte, error) {
	w := beginTarget(CmdVisualSetOffset, c.Handle)
	w.WriteF64(c.X)
	w.WriteF64(c.Y)
	return w.Bytes(), nil
}

// VisualSetTransform attaches a transform resource to a visual.
type VisualSetTransform struct {
	Handle    engine.ResourceHandle
	Transform engine.ResourceHandle
}

func (VisualSetTransform) Type() CommandType { return CmdVisualSetTransform }

func (c VisualSetTransform) MarshalBinary() ([]byte, error) {
	w := beginTarget(CmdVisualSetTransform, c.Handle)
	w.WriteU32(uint32(c.Transform))
	w.WriteU32(0)
	return w.Bytes(), nil
}

func (c VisualSetTransform) References() []engine.ResourceHandle {
	if c.Transform.IsNull() {
		return nil
	}
	return []engine.ResourceHandle{c.Transform}
}

// VisualInsertChildAt inserts child into a visual's children.
type VisualInsertChildAt struct {
	Handle engine.ResourceHandle
	Child  engine.ResourceHandle
	Index  uint32
}

func (VisualInsertChildAt) Type() CommandType { return CmdVisualInsertChildAt }

func (c VisualInsertChildAt) MarshalBinary() ([]byte, error) {
	w := beginTarget(CmdVisualInsertChildAt, c.Handle)
	w.WriteU32(uint32(c.Child))
	w.WriteU32(c.Index)
	return w.Bytes(), nil
}

func (c VisualInsertChildAt) References() []engine.ResourceHandle {
	return []engine.ResourceHandle{c.Child}
}

// VisualRemoveChild removes child from a visual's children.
type VisualRemoveChild struct {
	Handle engine.ResourceHandle
	Child  engine.ResourceHandle
}

func (VisualRemoveChild) Type() CommandType { return CmdVisualRemoveChild }

func (c VisualRemoveChild) MarshalBinary() ([]byte, error) {
	w := beginTarget(CmdVisualRemoveChild, c.Handle)
	w.WriteU32(uint32(c.Child))
	w.WriteU32(0)
	return w.Bytes(), nil
}

func (c VisualRemoveChild) References() []engine.ResourceHandle {
	return []engine.ResourceHandle{c.Child}
}

// Viewport3DVisualSetCamera sets the camera of a 3D viewport visual.
type Viewport3DVisualSetCamera struct {
	Handle engine.ResourceHandle
	Camera engine.ResourceHandle
}

func (Viewport3DVisualSetCamera) Type() CommandType { return CmdViewport3DVisualSetCamera }

func (c Viewport3DVisualSetCamera) MarshalBinary() ([]byte, error) {
	w := beginTarget(CmdViewport3DVisualSetCamera, c.Handle)
	w.WriteU32(uint32(c.Camera))
	w.WriteU32(0)
	return w.Bytes(), nil
}

func (c Viewport3DVisualSetCamera) References() []engine.ResourceHandle {
	if c.Camera.IsNull() {
		return nil
	}
	return []engine.ResourceHandle{c.Camera}
}

// DecodeCommand decodes a fixed-size record. Variable commands and unknown
// types are rejected.
func DecodeCommand(data []byte) (Command, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	if !h.Type.Known() {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Detail("unknown command type %d", uint32(h.Type)).
			Value(uint32(h.Type)).
			Build()
	}
	if h.Type.Variable() {
		return nil, errors.Unsupported(errors.PhaseDecode, h.Type.String()+" is a variable-length command")
	}
	if len(data) != h.Type.Size() {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path(h.Type.String()).
			Detail("record is %d bytes, want %d", len(data), h.Type.Size()).
			Build()
	}

	r := NewReader(data)
	if h.Type.HasTarget() {
		_ = r.Skip(8)
	} else {
		_ = r.Skip(4)
	}

	switch h.Type {
	case CmdPartitionRegisterForNotifications:
		v, _ := r.ReadBool()
		return PartitionRegisterForNotifications{Enable: v}, nil
	case CmdChannelRequestTier:
		v, _ := r.ReadBool()
		return ChannelRequestTier{ReturnCommonMinimum: v}, nil
	case CmdSolidColorBrush:
		c := SolidColorBrush{Handle: h.Target}
		c.Opacity, _ = r.ReadF64()
		c.Color.R, _ = r.ReadF32()
		c.Color.G, _ = r.ReadF32()
		c.Color.B, _ = r.ReadF32()
		c.Color.A, _ = r.ReadF32()
		return c, nil
	case CmdMatrixTransform:
		c := MatrixTransform{Handle: h.Target}
		for _, p := range [...]*float64{&c.Matrix.M11, &c.Matrix.M12, &c.Matrix.M21, &c.Matrix.M22, &c.Matrix.OffsetX, &c.Matrix.OffsetY} {
			*p, _ = r.ReadF64()
		}
		return c, nil
	case CmdVisualSetOffset:
		c := VisualSetOffset{Handle: h.Target}
		c.X, _ = r.ReadF64()
		c.Y, _ = r.ReadF64()
		return c, nil
	case CmdVisualSetTransform:
		v, _ := r.ReadU32()
		return VisualSetTransform{Handle: h.Target, Transform: engine.ResourceHandle(v)}, nil
	case CmdVisualInsertChildAt:
		child, _ := r.ReadU32()
		idx, _ := r.ReadU32()
		return VisualInsertChildAt{Handle: h.Target, Child: engine.ResourceHandle(child), Index: idx}, nil
	case CmdVisualRemoveChild:
		v, _ := r.ReadU32()
		return VisualRemoveChild{Handle: h.Target, Child: engine.ResourceHandle(v)}, nil
	case CmdViewport3DVisualSetCamera:
		v, _ := r.ReadU32()
		return Viewport3DVisualSetCamera{Handle: h.Target, Camera: engine.ResourceHandle(v)}, nil
	}
	return nil, errors.Unsupported(errors.PhaseDecode, h.Type.String())
}
