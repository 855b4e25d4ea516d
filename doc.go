// Package composition is a client for retained-mode composition engines.
//
// It speaks to an engine through batched command channels, keeps track of
// which channels hold handles to which resources, and encodes the command
// and notification records that cross the boundary.
//
// # Architecture Overview
//
//	composition/
//	├── engine/       Engine interface, handles, status codes
//	├── channel/      Session (engine lock) and Channel
//	├── tracker/      Resource, MultiChannelResource, Visual
//	├── compactmap/   Map optimized for zero or one entry
//	├── protocol/     Command records, guideline sets, notifications
//	├── resource/     Reference-counted handle table
//	├── loopback/     In-process engine for tests and tooling
//	├── scenario/     YAML-scripted sessions with deterministic traces
//	├── config/       Settings from file and environment
//	└── errors/       Structured error types
//
// # Quick Start
//
//	eng := loopback.New()
//	defer eng.Close()
//
//	s, err := channel.NewSession(eng)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	ch, err := channel.Create(s, nil, channel.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	var brush tracker.Resource
//	created, err := brush.CreateOrAddRefOnChannel(ch, engine.TypeSolidColorBrush)
//	...
//	err = ch.Send(protocol.SolidColorBrush{Handle: brush.Handle(ch), Opacity: 1}, engine.WithinCurrentBatch)
//	err = ch.Commit()
//
// # Closed Channels
//
// Commit, CloseBatch, SyncFlush and command submission are no-ops on a
// closed channel, so components tearing down independently after a
// disconnect do not have to coordinate. Resource operations are strict and
// fail with an error of kind errors.KindClosed.
//
// # Engine Lock
//
// Operations that change engine-wide state outside channel batching run
// under the session lock:
//
//	err := s.WithLock(func() error {
//	    return visual.InsertChild(ch, child, 0)
//	})
//
// The lock is released on every exit path, including panics.
//
// # Notifications
//
// Register a channel for notifications and read them with Pump, which
// returns once the channel is closed:
//
//	err := ch.Pump(ctx, func(m protocol.Message) error {
//	    if caps, ok := m.Caps(); ok {
//	        fmt.Println("tier", caps.Tier)
//	    }
//	    return nil
//	})
//
// Unknown message types are skipped.
package composition
