// Package errors provides structured error types for the composition channel core.
//
// Errors are categorized by Phase (which operation failed) and Kind (error
// category). Engine status codes are classified into Kinds by the engine
// package; the raw code is preserved in Error.Code for diagnostics.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseResource, errors.KindInvalidHandle).
//		Path("release").
//		Code(status).
//		Detail("handle %d not on channel", h).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Closed(errors.PhaseResource, "ReleaseOnChannel")
//	err := errors.Contract(errors.PhaseResource, "no handle on channel")
//
// All errors implement the standard error interface and support errors.Is/As.
// The Err* sentinels match any error of their Kind regardless of Phase.
package errors
