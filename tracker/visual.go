package tracker

import (
	"github.com/wippyai/composition/channel"
	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/errors"
	"github.com/wippyai/composition/protocol"
)

// VisualKind distinguishes the visual variants.
type VisualKind uint8

const (
	Visual2D VisualKind = iota + 1
	Visual3D
)

func (k VisualKind) String() string {
	switch k {
	case Visual2D:
		return "visual2d"
	case Visual3D:
		return "visual3d"
	default:
		return "unknown"
	}
}

// Visual is a node of the visual tree. Both variants share reference
// tracking and child management; SetOffset applies only to 2D visuals and
// SetCamera only to 3D viewports.
type Visual struct {
	MultiChannelResource
	kind VisualKind
}

func NewVisual2D() *Visual { return &Visual{kind: Visual2D} }

func NewVisual3D() *Visual { return &Visual{kind: Visual3D} }

func (v *Visual) Kind() VisualKind { return v.kind }

// ResourceType is the engine type the visual is created as.
func (v *Visual) ResourceType() engine.ResourceType {
	if v.kind == Visual3D {
		return engine.TypeViewport3DVisual
	}
	return engine.TypeVisual
}

// AddRefOnChannel creates the visual on ch or adds a reference.
func (v *Visual) AddRefOnChannel(ch *channel.Channel) (created bool, err error) {
	return v.CreateOrAddRefOnChannel(ch, v.ResourceType())
}

// SetOffset moves a 2D visual on ch.
func (v *Visual) SetOffset(ch *channel.Channel, x, y float64) error {
	if v.kind != Visual2D {
		return errors.Unsupported(errors.PhaseCommand, "SetOffset on "+v.kind.String())
	}
	h, err := v.handleOn(ch)
	if err != nil {
		return err
	}
	return ch.Send(protocol.VisualSetOffset{Handle: h, X: x, Y: y}, engine.WithinCurrentBatch)
}

// SetCamera attaches a camera resource to a 3D viewport on ch.
func (v *Visual) SetCamera(ch *channel.Channel, camera *Resource) error {
	if v.kind != Visual3D {
		return errors.Unsupported(errors.PhaseCommand, "SetCamera on "+v.kind.String())
	}
	h, err := v.handleOn(ch)
	if err != nil {
		return err
	}
	var cam engine.ResourceHandle
	if camera != nil {
		cam = camera.Handle(ch)
	}
	return ch.Send(protocol.Viewport3DVisualSetCamera{Handle: h, Camera: cam}, engine.WithinCurrentBatch)
}

// SetTransform attaches a transform resource, or clears it when transform
// is nil.
func (v *Visual) SetTransform(ch *channel.Channel, transform *Resource) error {
	h, err := v.handleOn(ch)
	if err != nil {
		return err
	}
	var th engine.ResourceHandle
	if transform != nil {
		th = transform.Handle(ch)
	}
	return ch.Send(protocol.VisualSetTransform{Handle: h, Transform: th}, engine.WithinCurrentBatch)
}

// InsertChild inserts child at index. Both visuals must be on ch.
func (v *Visual) InsertChild(ch *channel.Channel, child *Visual, index uint32) error {
	h, err := v.handleOn(ch)
	if err != nil {
		return err
	}
	c, err := child.handleOn(ch)
	if err != nil {
		return err
	}
	return ch.Send(protocol.VisualInsertChildAt{Handle: h, Child: c, Index: index}, engine.WithinCurrentBatch)
}

// RemoveChild removes child. Both visuals must be on ch.
func (v *Visual) RemoveChild(ch *channel.Channel, child *Visual) error {
	h, err := v.handleOn(ch)
	if err != nil {
		return err
	}
	c, err := child.handleOn(ch)
	if err != nil {
		return err
	}
	return ch.Send(protocol.VisualRemoveChild{Handle: h, Child: c}, engine.WithinCurrentBatch)
}

func (v *Visual) handleOn(ch *channel.Channel) (engine.ResourceHandle, error) {
	h := v.Handle(ch)
	if h.IsNull() {
		return engine.NullHandle, errors.Contract(errors.PhaseCommand, "%s is not on the channel", v.kind)
	}
	return h, nil
}
