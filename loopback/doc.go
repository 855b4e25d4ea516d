// Package loopback implements engine.Engine in process.
//
// The engine keeps the parts of a composition engine that the channel
// protocol depends on: partitions, per-channel handle tables with
// engine-side reference counts, batches, a compositor goroutine that applies
// commits in order, and bounded notification queues. Commands are decoded
// and checked against the live handles of their channel, then counted in
// Stats. Nothing is rendered.
//
//	eng := loopback.New(loopback.WithLogger(log))
//	defer eng.Close()
//
//	s, _ := channel.NewSession(eng)
//	ch, _ := channel.Create(s, nil, channel.Options{})
//
// Notifications follow the engine's protocol: registering a channel with
// PartitionRegisterForNotifications queues Caps and SyncModeStatus, Present
// queues Presented on registered channels, and ZombiePartition queues
// PartitionIsZombie on every channel of the partition.
package loopback
