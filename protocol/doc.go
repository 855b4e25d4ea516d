// Package protocol encodes command records and decodes back-channel
// notifications exchanged with the composition engine.
//
// # Command records
//
// Every record starts with a 32-bit CommandType. Commands that target a
// resource carry its handle in the second word. Remaining fields are
// little-endian and naturally aligned; every record is a multiple of the
// 4-byte word.
//
//	data, _ := protocol.VisualSetOffset{Handle: h, X: 10, Y: 20}.MarshalBinary()
//	ch.SendCommand(data, engine.WithinCurrentBatch)
//
// Variable-length commands expose a header and a payload whose size is
// declared up front. GuidelineSet sorts each axis ascending on its own,
// narrows to float32 and concatenates X then Y:
//
//	gs := protocol.GuidelineSet{Handle: h, X: xs, Y: ys}
//	ch.SendVariable(gs)
//
// # Notifications
//
// Notifications are fixed-size records (engine.MessageSize bytes): a type
// word, a reserved word and a shared payload region. Message exposes one
// accessor per variant; each returns ok=false when the discriminant does
// not match. Unknown discriminants decode without error so newer engines can
// add message types; readers skip messages for which Known is false.
package protocol
