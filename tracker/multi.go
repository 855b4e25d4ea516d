package tracker

import (
	"iter"

	"github.com/wippyai/composition/channel"
	"github.com/wippyai/composition/compactmap"
	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/errors"
)

// MultiChannelResource tracks one handle per channel for a resource that
// may be shown on several channels. Almost every resource lives on a single
// channel, which the compact map stores without allocating.
//
// MultiChannelResource is not safe for concurrent use.
type MultiChannelResource struct {
	handles compactmap.Map[*channel.Channel, engine.ResourceHandle]
}

// CreateOrAddRefOnChannel creates the resource on ch or adds a reference
// to its existing handle there.
func (m *MultiChannelResource) CreateOrAddRefOnChannel(ch *channel.Channel, t engine.ResourceType) (created bool, err error) {
	if ch == nil {
		return false, errors.InvalidInput(errors.PhaseResource, "nil channel")
	}

	existing, found := m.handles.Get(ch)
	h, created, err := ch.CreateOrAddRefOnChannel(existing, t)
	if err != nil {
		return false, err
	}
	if !found {
		m.handles.Set(ch, h)
	}
	return created, nil
}

// ReleaseOnChannel drops one reference on ch and forgets the channel once
// the engine count reaches zero.
func (m *MultiChannelResource) ReleaseOnChannel(ch *channel.Channel) (fullyReleased bool, err error) {
	h, ok := m.handles.Get(ch)
	if !ok {
		return false, errors.Contract(errors.PhaseResource, "release on a channel the resource is not on")
	}

	released, err := ch.ReleaseOnChannel(h)
	if err != nil {
		return false, err
	}
	if released {
		m.handles.Remove(ch)
	}
	return released, nil
}

// DuplicateHandle shares the handle on source into target. The resource
// must be on source and must not already be on target. When the channels
// are in different partitions nothing is recorded and Null is returned.
func (m *MultiChannelResource) DuplicateHandle(source, target *channel.Channel) (engine.ResourceHandle, error) {
	h, ok := m.handles.Get(source)
	if !ok {
		return engine.NullHandle, errors.Contract(errors.PhaseResource, "duplicate from a channel the resource is not on")
	}
	if _, exists := m.handles.Get(target); exists {
		return engine.NullHandle, errors.Contract(errors.PhaseResource, "resource already has a handle on the target channel")
	}

	dup, err := source.DuplicateHandle(h, target)
	if err != nil {
		return engine.NullHandle, err
	}
	if !dup.IsNull() {
		m.handles.Set(target, dup)
	}
	return dup, nil
}

// Handle returns the handle on ch, or Null.
func (m *MultiChannelResource) Handle(ch *channel.Channel) engine.ResourceHandle {
	h, _ := m.handles.Get(ch)
	return h
}

func (m *MultiChannelResource) IsOnChannel(ch *channel.Channel) bool {
	_, ok := m.handles.Get(ch)
	return ok
}

func (m *MultiChannelResource) IsOnAnyChannel() bool { return m.handles.Count() > 0 }

func (m *MultiChannelResource) ChannelCount() int { return m.handles.Count() }

// Channel returns the i-th channel the resource is on. It panics if i is
// out of range.
func (m *MultiChannelResource) Channel(i int) *channel.Channel { return m.handles.KeyAt(i) }

// All yields each channel with its handle.
func (m *MultiChannelResource) All() iter.Seq2[*channel.Channel, engine.ResourceHandle] {
	return m.handles.All()
}
