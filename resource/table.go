package resource

import (
	"errors"
	"sync"

	"github.com/wippyai/composition/engine"
)

var (
	ErrClosed        = errors.New("handle table closed")
	ErrInvalidHandle = errors.New("invalid resource handle")
	ErrTypeMismatch  = errors.New("resource type mismatch")
	ErrRefOverflow   = errors.New("reference count overflow")
)

// Table is a reference-counted handle table. Handles are small integers
// starting at 1; freed slots are reused.
type Table struct {
	entries   []entry
	freeList  []engine.ResourceHandle
	observers []Observer
	mu        sync.RWMutex
	closed    bool
}

type entry struct {
	value    any
	typ      engine.ResourceType
	refCount uint32
	valid    bool
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		entries:  make([]entry, 0, 64),
		freeList: make([]engine.ResourceHandle, 0, 16),
	}
}

// Create stores value under a new handle with a reference count of one.
func (t *Table) Create(typ engine.ResourceType, value any) (engine.ResourceHandle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return engine.NullHandle, ErrClosed
	}

	e := entry{
		value:    value,
		typ:      typ,
		refCount: 1,
		valid:    true,
	}

	var handle engine.ResourceHandle
	if len(t.freeList) > 0 {
		handle = t.freeList[len(t.freeList)-1]
		t.freeList = t.freeList[:len(t.freeList)-1]
		t.entries[handle-1] = e
	} else {
		t.entries = append(t.entries, e)
		handle = engine.ResourceHandle(len(t.entries))
	}

	t.notify(Event{Kind: EventCreated, Handle: handle, Type: typ, Value: value, RefCount: 1})
	return handle, nil
}

// AddRef increments the reference count of handle. When typ is not
// TypeNull it must match the stored type.
func (t *Table) AddRef(handle engine.ResourceHandle, typ engine.ResourceType) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0, ErrClosed
	}
	e := t.lookup(handle)
	if e == nil {
		return 0, ErrInvalidHandle
	}
	if typ != engine.TypeNull && e.typ != typ {
		return 0, ErrTypeMismatch
	}
	if e.refCount == ^uint32(0) {
		return 0, ErrRefOverflow
	}

	e.refCount++
	t.notify(Event{Kind: EventAddRef, Handle: handle, Type: e.typ, Value: e.value, RefCount: e.refCount})
	return e.refCount, nil
}

// Release decrements the reference count of handle. When it reaches zero
// the slot is freed, the value's Drop method (if any) is called and
// dropped is true.
func (t *Table) Release(handle engine.ResourceHandle) (dropped bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return false, ErrClosed
	}
	e := t.lookup(handle)
	if e == nil {
		return false, ErrInvalidHandle
	}

	e.refCount--
	if e.refCount > 0 {
		t.notify(Event{Kind: EventReleased, Handle: handle, Type: e.typ, Value: e.value, RefCount: e.refCount})
		return false, nil
	}

	value, typ := e.value, e.typ
	*e = entry{}
	t.freeList = append(t.freeList, handle)

	if d, ok := value.(Dropper); ok {
		d.Drop()
	}
	t.notify(Event{Kind: EventDropped, Handle: handle, Type: typ, Value: value})
	return true, nil
}

// Get retrieves the value and type stored for handle.
func (t *Table) Get(handle engine.ResourceHandle) (any, engine.ResourceType, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e := t.lookup(handle)
	if e == nil {
		return nil, engine.TypeNull, false
	}
	return e.value, e.typ, true
}

// RefCount returns the reference count of handle.
func (t *Table) RefCount(handle engine.ResourceHandle) (uint32, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e := t.lookup(handle)
	if e == nil {
		return 0, false
	}
	return e.refCount, true
}

// Len returns the number of live handles.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := 0
	for _, e := range t.entries {
		if e.valid {
			count++
		}
	}
	return count
}

// Each iterates over all live handles.
func (t *Table) Each(fn func(engine.ResourceHandle, engine.ResourceType, uint32) bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for i, e := range t.entries {
		if e.valid {
			if !fn(engine.ResourceHandle(i+1), e.typ, e.refCount) {
				break
			}
		}
	}
}

// Subscribe adds an observer for lifecycle events.
func (t *Table) Subscribe(o Observer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observers = append(t.observers, o)
}

// Close drops every live handle regardless of its reference count and stops
// accepting operations. It returns the number of handles that were still live.
func (t *Table) Close() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return 0
	}
	t.closed = true

	leaked := 0
	for i := range t.entries {
		e := &t.entries[i]
		if !e.valid {
			continue
		}
		leaked++
		if d, ok := e.value.(Dropper); ok {
			d.Drop()
		}
		t.notify(Event{Kind: EventDropped, Handle: engine.ResourceHandle(i + 1), Type: e.typ, Value: e.value})
		*e = entry{}
	}

	t.entries = nil
	t.freeList = nil
	return leaked
}

func (t *Table) lookup(handle engine.ResourceHandle) *entry {
	if handle.IsNull() {
		return nil
	}
	idx := int(handle) - 1
	if idx >= len(t.entries) {
		return nil
	}
	e := &t.entries[idx]
	if !e.valid {
		return nil
	}
	return e
}

func (t *Table) notify(e Event) {
	for _, o := range t.observers {
		o.OnResourceEvent(e)
	}
}
