// Package resource provides the engine-side resource handle table.
//
// Each channel owns one Table that maps small integer handles to engine
// objects together with a reference count. Handle 0 is the Null sentinel and
// is never allocated.
//
// # Reference counting
//
//	table := resource.NewTable()
//
//	// First create: ref count 1
//	h, _ := table.Create(engine.TypeSolidColorBrush, obj)
//
//	// Further users add references
//	table.AddRef(h, engine.TypeSolidColorBrush) // 2
//
//	// Release returns dropped=true when the count reaches zero
//	dropped, _ := table.Release(h) // false
//	dropped, _ = table.Release(h)  // true, slot is free for reuse
//
// Releasing more times than the handle was referenced is reported as
// ErrInvalidHandle rather than corrupting a reused slot.
//
// # Observers
//
// Register observers to track handle lifecycle events:
//
//	table.Subscribe(resource.ObserverFunc(func(e resource.Event) {
//	    if e.Kind == resource.EventDropped {
//	        log.Printf("handle %d dropped", e.Handle)
//	    }
//	}))
//
// Observers run under the table lock.
//
// # Duplicated handles
//
// Values may be shared between tables: duplicating a handle into another
// channel stores the same value under a new handle there. Values that
// implement Dropper are notified each time one of their handles is dropped.
package resource
