package loopback

import (
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/composition/engine"
	"github.com/wippyai/composition/protocol"
)

// WindowNotifier is invoked each time a notification is queued for a
// channel that has a notification window registered. Calls are made in
// order from a dedicated goroutine, never from the caller that caused the
// notification, so the callback may read the channel's messages.
type WindowNotifier func(ch engine.ChannelHandle, window uintptr, message uint32)

type options struct {
	log         *zap.Logger
	notifier    WindowNotifier
	clock       func() time.Time
	caps        protocol.Caps
	queueDepth  int
	refreshRate uint32
	syncMode    bool
}

func defaultOptions() options {
	return options{
		clock:      time.Now,
		queueDepth: 64,
		caps: protocol.Caps{
			Tier:               2,
			MaxTextureWidth:    8192,
			MaxTextureHeight:   8192,
			PixelShaderVersion: 0x0300,
			DisplayUniqueness:  1,
		},
		refreshRate: 60,
	}
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the engine's logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithNotificationQueue bounds the number of undelivered notifications kept
// per channel. When full, the oldest message is dropped.
func WithNotificationQueue(depth int) Option {
	return func(o *options) {
		if depth > 0 {
			o.queueDepth = depth
		}
	}
}

// WithRefreshRate sets the refresh rate reported in Presented messages.
func WithRefreshRate(hz uint32) Option {
	return func(o *options) { o.refreshRate = hz }
}

// WithCaps sets the capabilities reported in Caps messages.
func WithCaps(c protocol.Caps) Option {
	return func(o *options) { o.caps = c }
}

// WithSyncMode makes partitions report synchronous rendering.
func WithSyncMode(enabled bool) Option {
	return func(o *options) { o.syncMode = enabled }
}

// WithWindowNotifier sets the callback used for SetNotificationWindow
// targets.
func WithWindowNotifier(fn WindowNotifier) Option {
	return func(o *options) { o.notifier = fn }
}

// WithClock replaces the clock used for presentation timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}
