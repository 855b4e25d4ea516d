package loopback

import (
	"context"
	stderrors "errors"
	"maps"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/errors"
	"github.com/wippyai/composition/protocol"
	"github.com/wippyai/composition/resource"
)

var _ engine.Engine = (*Engine)(nil)

// Engine is an in-process engine. It keeps real partitions, per-channel
// handle tables and notification queues, and applies committed batches on
// a compositor goroutine. Commands are validated and counted, never drawn.
type Engine struct {
	opts options
	log  *zap.Logger

	mu         sync.Mutex
	conns      map[engine.Connection]map[engine.ChannelHandle]struct{}
	channels   map[engine.ChannelHandle]*channelState
	partitions map[uuid.UUID]*partition
	nextConn   uint64
	nextChan   uint64
	nextObject uint64
	stats      Stats
	queue      []*unit
	closed     bool

	applyMu sync.Mutex
	wake    chan struct{}

	notesMu   sync.Mutex
	notes     []windowNote
	notesWake chan struct{}

	done chan struct{}
	wg   sync.WaitGroup
}

// Stats is a snapshot of engine counters. Commits counts commits that
// delivered at least one batch; a commit with nothing sealed is accepted
// but not counted.
type Stats struct {
	ByType          map[protocol.CommandType]uint64
	Connections     int
	Channels        int
	Partitions      int
	LiveObjects     int
	Commits         uint64
	Batches         uint64
	Commands        uint64
	Rejected        uint64
	Discarded       uint64
	Presents        uint64
	MessagesPosted  uint64
	MessagesDropped uint64
	HandlesCreated  uint64
	HandlesDropped  uint64
}

type partition struct {
	channels map[engine.ChannelHandle]*channelState
	id       uuid.UUID
	zombie   engine.Status
}

type channelState struct {
	part      *partition
	table     *resource.Table
	log       *zap.Logger
	pending   *pendingCommand
	signal    chan struct{}
	destroyed chan struct{}
	open      []record
	sealed    [][]record
	queue     []engine.MessageBuffer

	handle      engine.ChannelHandle
	conn        engine.Connection
	window      uintptr
	windowMsg   uint32
	synchronous bool
	outOfBand   bool
	registered  bool
}

// object is the engine-side entity behind one or more handles. Duplicated
// handles in other channels of the partition share the same object.
type object struct {
	e       *Engine
	id      uint64
	typ     engine.ResourceType
	handles int
}

// Drop runs under the engine lock.
func (o *object) Drop() {
	o.handles--
	if o.handles == 0 {
		o.e.stats.LiveObjects--
	}
}

// New starts an engine and its compositor goroutine, plus a dispatcher
// goroutine when a window notifier is set.
func New(opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = Logger()
	}

	e := &Engine{
		opts:       o,
		log:        o.log,
		conns:      make(map[engine.Connection]map[engine.ChannelHandle]struct{}),
		channels:   make(map[engine.ChannelHandle]*channelState),
		partitions: make(map[uuid.UUID]*partition),
		stats:      Stats{ByType: make(map[protocol.CommandType]uint64)},
		wake:       make(chan struct{}, 1),
		notesWake:  make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	e.wg.Add(1)
	go e.compose()
	if o.notifier != nil {
		e.wg.Add(1)
		go e.dispatch()
	}
	return e
}

// Close destroys every channel, stops the compositor and reports each
// connection that was still open.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true

	var err error
	for conn, set := range e.conns {
		if len(set) > 0 {
			err = multierr.Append(err, errors.New(errors.PhaseConnect, errors.KindWrongState).
				Path("Close").
				Detail("connection %d still has %d open channels", uint64(conn), len(set)).
				Build())
		}
	}
	for _, cs := range e.channels {
		e.destroyLocked(cs)
	}
	clear(e.conns)
	e.mu.Unlock()

	close(e.done)
	e.wg.Wait()

	e.log.Debug("engine closed", zap.Error(err))
	return err
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stats
	s.ByType = maps.Clone(e.stats.ByType)
	s.Connections = len(e.conns)
	s.Channels = len(e.channels)
	s.Partitions = len(e.partitions)
	return s
}

// Partition returns the partition a channel belongs to.
func (e *Engine) Partition(ch engine.ChannelHandle) (uuid.UUID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.channels[ch]
	if cs == nil {
		return uuid.Nil, false
	}
	return cs.part.id, true
}

// ZombiePartition marks the partition of ch as failed with code. Every
// channel in the partition receives a PartitionIsZombie notification;
// queued and future commands in the partition are discarded.
func (e *Engine) ZombiePartition(ch engine.ChannelHandle, code engine.Status) engine.Status {
	if code.Succeeded() {
		return engine.StatusInvalidArg
	}

	e.mu.Lock()
	cs := e.channels[ch]
	if cs == nil {
		e.mu.Unlock()
		return engine.StatusChannelClosed
	}
	part := cs.part
	if part.zombie != 0 {
		e.mu.Unlock()
		return engine.StatusOK
	}
	part.zombie = code

	targets := make([]*channelState, 0, len(part.channels))
	for _, member := range part.channels {
		e.stats.Discarded += uint64(member.discardLocked())
		targets = append(targets, member)
	}
	e.mu.Unlock()

	e.log.Warn("partition is zombie", zap.Stringer("partition", part.id), zap.Stringer("status", code))
	msg := protocol.NewZombieMessage(code)
	for _, t := range targets {
		e.post(t, msg)
	}
	return engine.StatusOK
}

func (e *Engine) Connect() (engine.Connection, engine.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, engine.StatusWrongState
	}
	e.nextConn++
	conn := engine.Connection(e.nextConn)
	e.conns[conn] = make(map[engine.ChannelHandle]struct{})
	return conn, engine.StatusOK
}

func (e *Engine) Disconnect(conn engine.Connection) engine.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	set, ok := e.conns[conn]
	if !ok {
		return engine.StatusInvalidHandle
	}
	for h := range set {
		e.destroyLocked(e.channels[h])
	}
	delete(e.conns, conn)
	return engine.StatusOK
}

func (e *Engine) CreateChannel(conn engine.Connection, reference engine.ChannelHandle, outOfBand, synchronous bool) (engine.ChannelHandle, engine.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, engine.StatusWrongState
	}
	set, ok := e.conns[conn]
	if !ok {
		return 0, engine.StatusInvalidHandle
	}

	var part *partition
	if reference != 0 {
		ref := e.channels[reference]
		if ref == nil {
			return 0, engine.StatusInvalidHandle
		}
		part = ref.part
	} else {
		part = &partition{
			id:       uuid.New(),
			channels: make(map[engine.ChannelHandle]*channelState),
		}
		e.partitions[part.id] = part
	}

	e.nextChan++
	h := engine.ChannelHandle(e.nextChan)
	cs := &channelState{
		part:        part,
		table:       resource.NewTable(),
		signal:      make(chan struct{}, 1),
		destroyed:   make(chan struct{}),
		handle:      h,
		conn:        conn,
		synchronous: synchronous,
		outOfBand:   outOfBand,
		log:         e.log.With(zap.Uint64("channel", uint64(h)), zap.Stringer("partition", part.id)),
	}
	cs.table.Subscribe(resource.ObserverFunc(e.observe))

	e.channels[h] = cs
	part.channels[h] = cs
	set[h] = struct{}{}

	cs.log.Debug("channel opened", zap.Bool("joined", reference != 0))
	return h, engine.StatusOK
}

func (e *Engine) DestroyChannel(ch engine.ChannelHandle) engine.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.channels[ch]
	if cs == nil {
		return engine.StatusChannelClosed
	}
	e.destroyLocked(cs)
	return engine.StatusOK
}

func (e *Engine) destroyLocked(cs *channelState) {
	delete(e.channels, cs.handle)
	if set := e.conns[cs.conn]; set != nil {
		delete(set, cs.handle)
	}
	delete(cs.part.channels, cs.handle)
	if len(cs.part.channels) == 0 {
		delete(e.partitions, cs.part.id)
	}

	if n := cs.discardLocked(); n > 0 {
		e.stats.Discarded += uint64(n)
		cs.log.Debug("discarded uncommitted commands", zap.Int("commands", n))
	}
	close(cs.destroyed)

	live := cs.table.Close()
	cs.log.Debug("channel destroyed", zap.Int("live_handles", live))
}

func (e *Engine) observe(ev resource.Event) {
	switch ev.Kind {
	case resource.EventCreated:
		e.stats.HandlesCreated++
	case resource.EventDropped:
		e.stats.HandlesDropped++
	}
}

func (e *Engine) GetMarshalType(ch engine.ChannelHandle) (engine.MarshalType, engine.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.channels[ch]
	if cs == nil {
		return engine.MarshalSameThread, engine.StatusChannelClosed
	}
	if cs.synchronous {
		return engine.MarshalSameThread, engine.StatusOK
	}
	return engine.MarshalCrossThread, engine.StatusOK
}

func (e *Engine) CreateOrAddRefOnChannel(ch engine.ChannelHandle, t engine.ResourceType, h engine.ResourceHandle) (engine.ResourceHandle, bool, engine.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.channels[ch]
	if cs == nil {
		return engine.NullHandle, false, engine.StatusChannelClosed
	}

	if !h.IsNull() {
		if _, err := cs.table.AddRef(h, t); err != nil {
			return engine.NullHandle, false, tableStatus(err)
		}
		return h, false, engine.StatusOK
	}

	if t == engine.TypeNull || !t.Valid() {
		return engine.NullHandle, false, engine.StatusInvalidArg
	}
	e.nextObject++
	obj := &object{e: e, id: e.nextObject, typ: t, handles: 1}
	nh, err := cs.table.Create(t, obj)
	if err != nil {
		return engine.NullHandle, false, tableStatus(err)
	}
	e.stats.LiveObjects++
	return nh, true, engine.StatusOK
}

func (e *Engine) ReleaseOnChannel(ch engine.ChannelHandle, h engine.ResourceHandle) (bool, engine.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.channels[ch]
	if cs == nil {
		return false, engine.StatusChannelClosed
	}
	dropped, err := cs.table.Release(h)
	if err != nil {
		return false, tableStatus(err)
	}
	return dropped, engine.StatusOK
}

func (e *Engine) DuplicateHandle(src engine.ChannelHandle, h engine.ResourceHandle, target engine.ChannelHandle) (engine.ResourceHandle, engine.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	from, to := e.channels[src], e.channels[target]
	if from == nil || to == nil {
		return engine.NullHandle, engine.StatusChannelClosed
	}
	if from.part != to.part {
		return engine.NullHandle, engine.StatusFalse
	}

	v, typ, ok := from.table.Get(h)
	if !ok {
		return engine.NullHandle, engine.StatusInvalidHandle
	}
	obj := v.(*object)
	nh, err := to.table.Create(typ, obj)
	if err != nil {
		return engine.NullHandle, tableStatus(err)
	}
	obj.handles++
	return nh, engine.StatusOK
}

func (e *Engine) GetRefCount(ch engine.ChannelHandle, h engine.ResourceHandle) (uint32, engine.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.channels[ch]
	if cs == nil {
		return 0, engine.StatusChannelClosed
	}
	n, ok := cs.table.RefCount(h)
	if !ok {
		return 0, engine.StatusInvalidHandle
	}
	return n, engine.StatusOK
}

func (e *Engine) SetNotificationWindow(ch engine.ChannelHandle, window uintptr, message uint32) engine.Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.channels[ch]
	if cs == nil {
		return engine.StatusChannelClosed
	}
	cs.window, cs.windowMsg = window, message
	return engine.StatusOK
}

func (e *Engine) WaitForNextMessage(ctx context.Context, ch engine.ChannelHandle) engine.Status {
	for {
		e.mu.Lock()
		cs := e.channels[ch]
		if cs == nil {
			e.mu.Unlock()
			return engine.StatusChannelClosed
		}
		if len(cs.queue) > 0 {
			e.mu.Unlock()
			return engine.StatusOK
		}
		signal, destroyed := cs.signal, cs.destroyed
		e.mu.Unlock()

		select {
		case <-signal:
		case <-destroyed:
			return engine.StatusChannelClosed
		case <-ctx.Done():
			return engine.StatusAbort
		}
	}
}

func (e *Engine) PeekNextMessage(ch engine.ChannelHandle, msg *engine.MessageBuffer) (bool, engine.Status) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cs := e.channels[ch]
	if cs == nil {
		return false, engine.StatusChannelClosed
	}
	if len(cs.queue) == 0 {
		return false, engine.StatusOK
	}
	*msg = cs.queue[0]
	cs.queue = cs.queue[1:]
	return true, engine.StatusOK
}

func tableStatus(err error) engine.Status {
	switch {
	case stderrors.Is(err, resource.ErrInvalidHandle):
		return engine.StatusInvalidHandle
	case stderrors.Is(err, resource.ErrTypeMismatch):
		return engine.StatusInvalidArg
	case stderrors.Is(err, resource.ErrClosed):
		return engine.StatusChannelClosed
	default:
		return engine.StatusFail
	}
}
