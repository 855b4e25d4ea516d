// Package engine defines the boundary between the channel layer and the
// composition engine.
//
// The engine is an opaque service: it owns partitions, per-channel handle
// tables with reference counts, command batches and the back-channel
// notification queue. This package only declares the handle types, the
// status code space and the Engine interface; concrete engines live
// elsewhere (the loopback package ships an in-process implementation).
//
// # Status codes
//
// Every Engine call returns a Status. Non-negative values are success;
// negative values are failures and are classified into error kinds:
//
//	st := eng.CommitChannel(h)
//	if err := st.Err(errors.PhaseChannel, "CommitChannel"); err != nil {
//	    return err
//	}
//
// Unknown failure codes classify as errors.KindFailure with the raw code kept
// in errors.Error.Code.
//
// # Handles
//
// ChannelHandle zero marks a closed channel. ResourceHandle zero is the Null
// sentinel and never names a live resource.
package engine
