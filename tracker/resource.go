package tracker

import (
	"github.com/wippyai/composition/channel"
	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/errors"
)

// Resource tracks a resource that lives on exactly one channel. The handle
// is Null until the first successful CreateOrAddRefOnChannel and Null again
// after the last release. Using it with any other channel fails with
// KindChannelMismatch.
//
// Resource is not safe for concurrent use.
type Resource struct {
	ch     *channel.Channel
	handle engine.ResourceHandle
}

// CreateOrAddRefOnChannel creates the resource on ch, or adds a reference
// if it already exists there. created reports whether the caller must send
// the resource's initial state.
func (r *Resource) CreateOrAddRefOnChannel(ch *channel.Channel, t engine.ResourceType) (created bool, err error) {
	if ch == nil {
		return false, errors.InvalidInput(errors.PhaseResource, "nil channel")
	}
	if err := r.checkChannel(ch); err != nil {
		return false, err
	}

	h, created, err := ch.CreateOrAddRefOnChannel(r.handle, t)
	if err != nil {
		return false, err
	}
	r.ch, r.handle = ch, h
	return created, nil
}

// ReleaseOnChannel drops one reference. When the engine count reaches zero
// the handle resets to Null and fullyReleased is true.
func (r *Resource) ReleaseOnChannel(ch *channel.Channel) (fullyReleased bool, err error) {
	if r.handle.IsNull() {
		return false, errors.Contract(errors.PhaseResource, "release of a resource with no handle")
	}
	if err := r.checkChannel(ch); err != nil {
		return false, err
	}

	released, err := ch.ReleaseOnChannel(r.handle)
	if err != nil {
		return false, err
	}
	if released {
		r.ch, r.handle = nil, engine.NullHandle
	}
	return released, nil
}

// IsOnChannel reports whether the resource currently has a handle on ch.
func (r *Resource) IsOnChannel(ch *channel.Channel) bool {
	return !r.handle.IsNull() && r.ch == ch
}

// Handle returns the handle on ch, or Null.
func (r *Resource) Handle(ch *channel.Channel) engine.ResourceHandle {
	if r.ch != ch {
		return engine.NullHandle
	}
	return r.handle
}

// Channel returns the channel the resource was created on, or nil.
func (r *Resource) Channel() *channel.Channel { return r.ch }

func (r *Resource) checkChannel(ch *channel.Channel) error {
	if r.ch != nil && r.ch != ch {
		return errors.ChannelMismatch(errors.PhaseResource, uint32(r.handle))
	}
	return nil
}
