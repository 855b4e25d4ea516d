// Package tracker keeps the client-side view of which channels a resource
// has handles on.
//
// Resource is for resources that live on one channel. MultiChannelResource
// keeps at most one handle per channel and is used for resources that can
// be shared into other channels of a partition with DuplicateHandle. Visual
// adds visual-tree commands on top of MultiChannelResource.
//
// Misuse (releasing where nothing was created, duplicating onto a channel
// that already has a handle, using a Resource on a foreign channel) is
// reported as an *errors.Error of kind KindContract or KindChannelMismatch.
//
// None of these types are synchronized. Confine each instance to one
// goroutine or serialize access with the session lock.
package tracker
