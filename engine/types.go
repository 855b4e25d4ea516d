package engine

import "fmt"

// Connection identifies a transport connection to the engine.
type Connection uint64

// ChannelHandle identifies a channel on the engine side.
// The zero handle marks a closed channel.
type ChannelHandle uint64

// ResourceHandle is an engine-assigned resource identifier, unique per channel.
type ResourceHandle uint32

// NullHandle is the reserved sentinel that never names a live resource.
const NullHandle ResourceHandle = 0

// IsNull reports whether h is the Null sentinel.
func (h ResourceHandle) IsNull() bool { return h == NullHandle }

// ResourceType selects the kind of engine object a handle refers to.
type ResourceType uint32

const (
	TypeNull ResourceType = iota
	TypeSolidColorBrush
	TypeMatrixTransform
	TypeGuidelineSet
	TypeVisual
	TypeViewport3DVisual
	TypeCamera
	TypeHwndTarget
	TypeDrawingImage
	typeCount
)

var resourceTypeNames = [...]string{
	TypeNull:             "null",
	TypeSolidColorBrush:  "solid_color_brush",
	TypeMatrixTransform:  "matrix_transform",
	TypeGuidelineSet:     "guideline_set",
	TypeVisual:           "visual",
	TypeViewport3DVisual: "viewport3d_visual",
	TypeCamera:           "camera",
	TypeHwndTarget:       "hwnd_target",
	TypeDrawingImage:     "drawing_image",
}

func (t ResourceType) String() string {
	if t < typeCount {
		return resourceTypeNames[t]
	}
	return fmt.Sprintf("resource_type(%d)", uint32(t))
}

// Valid reports whether t names a known, non-null resource type.
func (t ResourceType) Valid() bool {
	return t > TypeNull && t < typeCount
}

// ParseResourceType maps a name produced by String back to its type.
func ParseResourceType(name string) (ResourceType, bool) {
	for i, n := range resourceTypeNames {
		if n == name && ResourceType(i) != TypeNull {
			return ResourceType(i), true
		}
	}
	return TypeNull, false
}

// MarshalType tells whether calls on a channel must be marshaled to
// another thread.
type MarshalType uint8

const (
	MarshalSameThread MarshalType = iota
	MarshalCrossThread
)

func (m MarshalType) String() string {
	switch m {
	case MarshalSameThread:
		return "same_thread"
	case MarshalCrossThread:
		return "cross_thread"
	default:
		return fmt.Sprintf("marshal_type(%d)", uint8(m))
	}
}

// BatchMode decides how a fixed-size command is batched.
type BatchMode uint8

const (
	// WithinCurrentBatch appends the command to the open batch.
	WithinCurrentBatch BatchMode = iota
	// AsOwnBatch seals the command into its own batch, independent of
	// whatever batch is currently open. It is delivered with the next commit.
	AsOwnBatch
)

func (m BatchMode) String() string {
	if m == AsOwnBatch {
		return "own_batch"
	}
	return "current_batch"
}
