package protocol

import (
	"math"
	"slices"

	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/errors"
)

// guidelineHeaderSize covers type, handle, two u16 counts and the dynamic flag.
const guidelineHeaderSize = 16

// GuidelineSet updates a guideline-set resource with snapping coordinates.
//
// The X and Y coordinates are each sorted ascending independently and
// narrowed to float32. The payload is the sorted X values followed by the
// sorted Y values, so its length is exactly 4*(len(X)+len(Y)).
type GuidelineSet struct {
	Handle  engine.ResourceHandle
	X       []float64
	Y       []float64
	Dynamic bool
}

func (GuidelineSet) Type() CommandType { return CmdGuidelineSet }

// Header returns the fixed header. Each axis may hold at most 65535 values.
func (g GuidelineSet) Header() ([]byte, error) {
	if len(g.X) > math.MaxUint16 {
		return nil, errors.Overflow(errors.PhaseEncode, []string{"guidelines", "x"}, len(g.X), "u16")
	}
	if len(g.Y) > math.MaxUint16 {
		return nil, errors.Overflow(errors.PhaseEncode, []string{"guidelines", "y"}, len(g.Y), "u16")
	}
	w := beginTarget(CmdGuidelineSet, g.Handle)
	w.WriteU16(uint16(len(g.X)))
	w.WriteU16(uint16(len(g.Y)))
	w.WriteBool(g.Dynamic)
	return w.Bytes(), nil
}

// Payload returns the sorted, narrowed coordinates. The inputs are not modified.
func (g GuidelineSet) Payload() ([]byte, error) {
	w := NewWriter(4 * (len(g.X) + len(g.Y)))
	for _, axis := range [...][]float64{g.X, g.Y} {
		sorted := slices.Clone(axis)
		slices.Sort(sorted)
		for _, v := range sorted {
			w.WriteF32(float32(v))
		}
	}
	return w.Bytes(), nil
}

// PayloadSize returns the payload length declared at BeginCommand.
func (g GuidelineSet) PayloadSize() uint32 {
	return uint32(4 * (len(g.X) + len(g.Y)))
}

// GuidelineData is a decoded guideline-set command.
type GuidelineData struct {
	Handle  engine.ResourceHandle
	X       []float32
	Y       []float32
	Dynamic bool
}

// DecodeGuidelineSet decodes a header and its payload, checking that the
// payload length matches the declared counts.
func DecodeGuidelineSet(header, payload []byte) (GuidelineData, error) {
	if len(header) != guidelineHeaderSize {
		return GuidelineData{}, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path("guidelines", "header").
			Detail("header is %d bytes, want %d", len(header), guidelineHeaderSize).
			Build()
	}
	r := NewReader(header)
	t, _ := r.ReadU32()
	if CommandType(t) != CmdGuidelineSet {
		return GuidelineData{}, errors.InvalidData(errors.PhaseDecode, []string{"guidelines"}, "not a guideline set command")
	}
	h, _ := r.ReadU32()
	xCount, _ := r.ReadU16()
	yCount, _ := r.ReadU16()
	dynamic, _ := r.ReadBool()

	want := 4 * (int(xCount) + int(yCount))
	if len(payload) != want {
		return GuidelineData{}, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Path("guidelines", "payload").
			Detail("payload is %d bytes, want %d", len(payload), want).
			Build()
	}

	d := GuidelineData{
		Handle:  engine.ResourceHandle(h),
		X:       make([]float32, xCount),
		Y:       make([]float32, yCount),
		Dynamic: dynamic,
	}
	pr := NewReader(payload)
	for i := range d.X {
		d.X[i], _ = pr.ReadF32()
	}
	for i := range d.Y {
		d.Y[i], _ = pr.ReadF32()
	}
	return d, nil
}
