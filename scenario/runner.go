package scenario

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/composition/channel"
	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/errors"
	"github.com/wippyai/composition/protocol"
	"github.com/wippyai/composition/tracker"
)

type resourceState struct {
	tracker.MultiChannelResource
	typ engine.ResourceType
}

// Runner executes steps on one session. Channels and resources named by
// earlier steps stay available to later ones. A Runner is not safe for
// concurrent use.
type Runner struct {
	s        *channel.Session
	log      *zap.Logger
	channels map[string]*channel.Channel
	res      map[string]*resourceState
	trace    []Entry
	opts     options
	next     int
}

// NewRunner returns a runner on s. Session options are ignored; s is
// already open.
func NewRunner(s *channel.Session, name string, opts ...Option) *Runner {
	return newRunner(s, name, buildOptions(opts))
}

func newRunner(s *channel.Session, name string, o options) *Runner {
	return &Runner{
		s:        s,
		log:      s.Logger().With(zap.String("scenario", name)),
		channels: make(map[string]*channel.Channel),
		res:      make(map[string]*resourceState),
		opts:     o,
	}
}

// Exec validates and runs one step and returns the entries it added to the
// trace. A step whose Expect names an error kind succeeds when it fails
// with that kind.
func (r *Runner) Exec(ctx context.Context, st Step) ([]Entry, error) {
	i := r.next
	r.next++
	if err := st.validate(); err != nil {
		return nil, err
	}

	details, err := r.do(ctx, st)

	want := ""
	if st.Expect != nil {
		want = st.Expect.Error
	}
	switch {
	case want == "" && err != nil:
		return nil, err
	case want != "" && err == nil:
		return nil, errors.New(errors.PhaseScenario, errors.KindFailure).
			Detail("expected %s error", want).
			Build()
	case want != "":
		if got := errors.KindOf(err); string(got) != want {
			return nil, errors.New(errors.PhaseScenario, errors.KindFailure).
				Detail("error kind %q, want %q", got, want).
				Cause(err).
				Build()
		}
		details = []string{" error=" + want}
	}

	subject := st.subject()
	entries := make([]Entry, 0, len(details))
	for _, d := range details {
		entries = append(entries, Entry{Step: i, Op: st.Op, Detail: subject + d})
	}
	r.trace = append(r.trace, entries...)
	return entries, nil
}

// Trace returns the entries of every successful step so far.
func (r *Runner) Trace() []Entry { return slices.Clone(r.trace) }

// Channel returns the channel created under name.
func (r *Runner) Channel(name string) (*channel.Channel, bool) {
	ch, ok := r.channels[name]
	return ch, ok
}

// ChannelNames returns the names of all channels created so far, sorted.
func (r *Runner) ChannelNames() []string {
	names := make([]string, 0, len(r.channels))
	for name := range r.channels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Handle is one resource handle held on one channel.
type Handle struct {
	Resource string
	Channel  string
	Type     engine.ResourceType
	Handle   engine.ResourceHandle
	RefCount uint32 // 0 when the channel can no longer report it
}

// Handles lists every live handle, sorted by resource then channel.
func (r *Runner) Handles() []Handle {
	var out []Handle
	for name, rs := range r.res {
		for ch, h := range rs.All() {
			n, _ := ch.GetRefCount(h)
			out = append(out, Handle{
				Resource: name,
				Channel:  r.nameOf(ch),
				Type:     rs.typ,
				Handle:   h,
				RefCount: n,
			})
		}
	}
	slices.SortFunc(out, func(a, b Handle) int {
		if c := strings.Compare(a.Resource, b.Resource); c != 0 {
			return c
		}
		return strings.Compare(a.Channel, b.Channel)
	})
	return out
}

func (st Step) subject() string {
	switch st.Op {
	case OpCreateResource, OpRelease, OpRefCount:
		return st.Resource + " on " + st.Channel
	case OpDuplicate:
		return st.Resource + " " + st.Channel + "->" + st.Target
	case OpInspect:
		return st.Resource
	default:
		return st.Channel
	}
}

func (r *Runner) do(ctx context.Context, st Step) ([]string, error) {
	if st.Op == OpCreateChannel {
		return r.createChannel(st)
	}
	if st.Op == OpInspect {
		return r.inspect(st)
	}

	ch, err := r.channel(st.Channel)
	if err != nil {
		return nil, err
	}

	switch st.Op {
	case OpCreateResource:
		return r.createResource(ch, st)
	case OpRelease:
		return r.release(ch, st)
	case OpDuplicate:
		return r.duplicate(ch, st)
	case OpRefCount:
		return r.refCount(ch, st)
	case OpSend:
		return r.send(ch, st)
	case OpGuidelines:
		return r.guidelines(ch, st)
	case OpRegisterNotifications:
		err = ch.Send(protocol.PartitionRegisterForNotifications{Enable: !st.Disable}, engine.WithinCurrentBatch)
		return []string{fmt.Sprintf(" enable=%t", !st.Disable)}, err
	case OpCommit:
		return bare(ch.Commit())
	case OpCloseBatch:
		return bare(ch.CloseBatch())
	case OpSyncFlush:
		if r.opts.flushTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, r.opts.flushTimeout)
			defer cancel()
		}
		return bare(ch.SyncFlush(ctx))
	case OpPresent:
		return bare(ch.Present())
	case OpClose:
		return bare(ch.Close())
	case OpDrain:
		return r.drain(ch, st)
	}
	return nil, errors.NotFound(errors.PhaseScenario, "op", st.Op)
}

func bare(err error) ([]string, error) {
	return []string{""}, err
}

func (r *Runner) channel(name string) (*channel.Channel, error) {
	ch, ok := r.channels[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseScenario, "channel", name)
	}
	return ch, nil
}

func (r *Runner) resource(name string) (*resourceState, error) {
	rs, ok := r.res[name]
	if !ok {
		return nil, errors.NotFound(errors.PhaseScenario, "resource", name)
	}
	return rs, nil
}

func (r *Runner) createChannel(st Step) ([]string, error) {
	if _, dup := r.channels[st.Channel]; dup {
		return nil, errors.InvalidInput(errors.PhaseScenario, "channel "+st.Channel+" already exists")
	}
	var ref *channel.Channel
	partition := "new"
	if st.Reference != "" {
		var err error
		if ref, err = r.channel(st.Reference); err != nil {
			return nil, err
		}
		partition = "joined " + st.Reference
	}
	ch, err := channel.Create(r.s, ref, channel.Options{OutOfBand: st.OutOfBand, Synchronous: st.Synchronous})
	if err != nil {
		return nil, err
	}
	r.channels[st.Channel] = ch
	return []string{fmt.Sprintf(" partition=%s marshal=%s", partition, ch.MarshalType())}, nil
}

func (r *Runner) createResource(ch *channel.Channel, st Step) ([]string, error) {
	rs, ok := r.res[st.Resource]
	if !ok {
		t, known := engine.ParseResourceType(st.Type)
		if !known {
			return nil, errors.InvalidInput(errors.PhaseScenario, "new resource "+st.Resource+" needs a type")
		}
		rs = &resourceState{typ: t}
		r.res[st.Resource] = rs
	}
	created, err := rs.CreateOrAddRefOnChannel(ch, rs.typ)
	if err != nil {
		return nil, err
	}
	if err := expectBool("created", st.Expect, func(e *Expect) *bool { return e.Created }, created); err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf(" type=%s handle=%d created=%t", rs.typ, uint32(rs.Handle(ch)), created)}, nil
}

func (r *Runner) release(ch *channel.Channel, st Step) ([]string, error) {
	rs, err := r.resource(st.Resource)
	if err != nil {
		return nil, err
	}
	released, err := rs.ReleaseOnChannel(ch)
	if err != nil {
		return nil, err
	}
	if err := expectBool("released", st.Expect, func(e *Expect) *bool { return e.Released }, released); err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf(" released=%t", released)}, nil
}

func (r *Runner) duplicate(ch *channel.Channel, st Step) ([]string, error) {
	rs, err := r.resource(st.Resource)
	if err != nil {
		return nil, err
	}
	target, err := r.channel(st.Target)
	if err != nil {
		return nil, err
	}
	h, err := rs.DuplicateHandle(ch, target)
	if err != nil {
		return nil, err
	}
	if err := expectBool("null", st.Expect, func(e *Expect) *bool { return e.Null }, h.IsNull()); err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf(" handle=%d", uint32(h))}, nil
}

func (r *Runner) refCount(ch *channel.Channel, st Step) ([]string, error) {
	rs, err := r.resource(st.Resource)
	if err != nil {
		return nil, err
	}
	n, err := ch.GetRefCount(rs.Handle(ch))
	if err != nil {
		return nil, err
	}
	if st.Expect != nil && st.Expect.RefCount != nil && *st.Expect.RefCount != n {
		return nil, mismatch("refcount", n, *st.Expect.RefCount)
	}
	return []string{fmt.Sprintf(" refcount=%d", n)}, nil
}

func (r *Runner) inspect(st Step) ([]string, error) {
	rs, err := r.resource(st.Resource)
	if err != nil {
		return nil, err
	}
	n := rs.ChannelCount()
	if st.Expect != nil && st.Expect.Channels != nil && *st.Expect.Channels != n {
		return nil, mismatch("channels", n, *st.Expect.Channels)
	}
	names := make([]string, 0, n)
	for c := range rs.All() {
		names = append(names, r.nameOf(c))
	}
	slices.Sort(names)
	return []string{fmt.Sprintf(" channels=%d on_any=%t [%s]", n, rs.IsOnAnyChannel(), strings.Join(names, " "))}, nil
}

func (r *Runner) nameOf(ch *channel.Channel) string {
	for name, c := range r.channels {
		if c == ch {
			return name
		}
	}
	return "?"
}

func (r *Runner) send(ch *channel.Channel, st Step) ([]string, error) {
	t, _ := protocol.ParseCommandType(st.Command)
	mode, err := parseMode(st.Mode)
	if err != nil {
		return nil, err
	}

	var target, ref engine.ResourceHandle
	if st.Resource != "" {
		rs, err := r.resource(st.Resource)
		if err != nil {
			return nil, err
		}
		target = rs.Handle(ch)
	}
	if st.Ref != "" {
		rs, err := r.resource(st.Ref)
		if err != nil {
			return nil, err
		}
		ref = rs.Handle(ch)
	}

	cmd, err := build(t, target, ref, st)
	if err != nil {
		return nil, err
	}
	if err := ch.Send(cmd, mode); err != nil {
		return nil, err
	}

	var b strings.Builder
	fmt.Fprintf(&b, " %s", t)
	if t.HasTarget() {
		fmt.Fprintf(&b, " target=%d", uint32(target))
	}
	if st.Ref != "" {
		fmt.Fprintf(&b, " ref=%d", uint32(ref))
	}
	fmt.Fprintf(&b, " mode=%s", mode)
	return []string{b.String()}, nil
}

func (r *Runner) guidelines(ch *channel.Channel, st Step) ([]string, error) {
	rs, err := r.resource(st.Resource)
	if err != nil {
		return nil, err
	}
	g := protocol.GuidelineSet{Handle: rs.Handle(ch), X: st.X, Y: st.Y, Dynamic: st.Dynamic}
	if err := ch.SendVariable(g); err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf(" %s target=%d x=%d y=%d payload=%d",
		g.Type(), uint32(g.Handle), len(st.X), len(st.Y), g.PayloadSize())}, nil
}

func (r *Runner) drain(ch *channel.Channel, st Step) ([]string, error) {
	var out, types []string
	for {
		msg, ok, err := ch.PeekNextMessage()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, " "+msg.String())
		types = append(types, msg.Type.String())
	}
	if st.Expect != nil && st.Expect.Messages != nil && !slices.Equal(types, st.Expect.Messages) {
		return nil, mismatch("messages", types, st.Expect.Messages)
	}
	if len(out) == 0 {
		out = []string{" none"}
	}
	return out, nil
}

// build assembles a fixed-size command. Args default to the identity or
// opaque values so scripts only spell out what they change.
func build(t protocol.CommandType, target, ref engine.ResourceHandle, st Step) (protocol.Command, error) {
	arg := func(name string, def float64) float64 {
		if v, ok := st.Args[name]; ok {
			return v
		}
		return def
	}

	switch t {
	case protocol.CmdPartitionRegisterForNotifications:
		return protocol.PartitionRegisterForNotifications{Enable: arg("enable", 1) != 0}, nil
	case protocol.CmdChannelRequestTier:
		return protocol.ChannelRequestTier{ReturnCommonMinimum: arg("common_minimum", 0) != 0}, nil
	case protocol.CmdSolidColorBrush:
		return protocol.SolidColorBrush{
			Handle:  target,
			Opacity: arg("opacity", 1),
			Color: protocol.Color{
				R: float32(arg("r", 0)),
				G: float32(arg("g", 0)),
				B: float32(arg("b", 0)),
				A: float32(arg("a", 1)),
			},
		}, nil
	case protocol.CmdMatrixTransform:
		return protocol.MatrixTransform{Handle: target, Matrix: protocol.Matrix{
			M11:     arg("m11", 1),
			M12:     arg("m12", 0),
			M21:     arg("m21", 0),
			M22:     arg("m22", 1),
			OffsetX: arg("offset_x", 0),
			OffsetY: arg("offset_y", 0),
		}}, nil
	case protocol.CmdVisualSetOffset:
		return protocol.VisualSetOffset{Handle: target, X: arg("x", 0), Y: arg("y", 0)}, nil
	case protocol.CmdVisualSetTransform:
		return protocol.VisualSetTransform{Handle: target, Transform: ref}, nil
	case protocol.CmdVisualInsertChildAt:
		return protocol.VisualInsertChildAt{Handle: target, Child: ref, Index: st.Index}, nil
	case protocol.CmdVisualRemoveChild:
		return protocol.VisualRemoveChild{Handle: target, Child: ref}, nil
	case protocol.CmdViewport3DVisualSetCamera:
		return protocol.Viewport3DVisualSetCamera{Handle: target, Camera: ref}, nil
	}
	return nil, errors.Unsupported(errors.PhaseScenario, "send "+t.String())
}

func expectBool(field string, e *Expect, get func(*Expect) *bool, got bool) error {
	if e == nil {
		return nil
	}
	if want := get(e); want != nil && *want != got {
		return mismatch(field, got, *want)
	}
	return nil
}

func mismatch(field string, got, want any) error {
	return errors.New(errors.PhaseScenario, errors.KindFailure).
		Path(field).
		Value(got).
		Detail("got %v, want %v", got, want).
		Build()
}
