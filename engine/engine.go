package engine

import "context"

// MessageSize is the fixed size of one back-channel notification record.
const MessageSize = 32

// MessageBuffer holds one raw notification record.
type MessageBuffer [MessageSize]byte

// Engine is the boundary to the composition engine. Implementations may live
// in-process (see the loopback package), on another thread, or in another
// process. Every call reports a Status; callers classify failures with
// Status.Err.
//
// Calls on a destroyed channel handle return StatusChannelClosed.
type Engine interface {
	// Connect opens a transport connection. Channels are created on a connection.
	Connect() (Connection, Status)

	// Disconnect releases a connection. Channels still open on it are destroyed.
	Disconnect(conn Connection) Status

	// CreateChannel creates a channel joining the partition of reference,
	// or starting a new partition when reference is zero.
	CreateChannel(conn Connection, reference ChannelHandle, outOfBand, synchronous bool) (ChannelHandle, Status)

	// DestroyChannel tears a channel down and wakes its message waiters.
	DestroyChannel(ch ChannelHandle) Status

	// CommitChannel submits every closed batch plus the open one as a unit.
	CommitChannel(ch ChannelHandle) Status

	// CloseBatch seals the open batch without submitting it.
	CloseBatch(ch ChannelHandle) Status

	// SyncFlush blocks until everything committed on ch has executed.
	SyncFlush(ctx context.Context, ch ChannelHandle) Status

	// Present asks for the most recently composed frame to be presented.
	Present(ch ChannelHandle) Status

	// SendCommand enqueues one fixed-size command record.
	SendCommand(ch ChannelHandle, data []byte, mode BatchMode) Status

	// BeginCommand starts a variable-length command whose payload will be
	// exactly extraSize bytes.
	BeginCommand(ch ChannelHandle, header []byte, extraSize uint32) Status

	// AppendCommandData streams payload for the in-flight command.
	AppendCommandData(ch ChannelHandle, data []byte) Status

	// EndCommand finishes the in-flight command.
	EndCommand(ch ChannelHandle) Status

	// CreateOrAddRefOnChannel allocates a new handle with ref count 1 when h
	// is Null, otherwise increments the ref count of h.
	CreateOrAddRefOnChannel(ch ChannelHandle, t ResourceType, h ResourceHandle) (ResourceHandle, bool, Status)

	// ReleaseOnChannel decrements the ref count of h and reports whether it
	// reached zero.
	ReleaseOnChannel(ch ChannelHandle, h ResourceHandle) (bool, Status)

	// DuplicateHandle shares h from src into target. Returns NullHandle and
	// StatusFalse when the channels are in different partitions.
	DuplicateHandle(src ChannelHandle, h ResourceHandle, target ChannelHandle) (ResourceHandle, Status)

	// GetRefCount returns the engine-side ref count of h.
	GetRefCount(ch ChannelHandle, h ResourceHandle) (uint32, Status)

	// WaitForNextMessage blocks until a message is queued for ch, the channel
	// is destroyed, or ctx is done.
	WaitForNextMessage(ctx context.Context, ch ChannelHandle) Status

	// PeekNextMessage dequeues one message into msg without blocking.
	PeekNextMessage(ch ChannelHandle, msg *MessageBuffer) (bool, Status)

	// GetMarshalType reports whether calls on ch need cross-thread marshaling.
	GetMarshalType(ch ChannelHandle) (MarshalType, Status)

	// SetNotificationWindow registers a window target to be signalled with
	// message whenever a notification is queued for ch.
	SetNotificationWindow(ch ChannelHandle, window uintptr, message uint32) Status
}
