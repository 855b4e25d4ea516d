// Package compactmap provides a small associative container tuned for the
// case where almost every instance holds zero or one entry.
//
// A retained scene can hold thousands of resources and nearly all of them
// live on exactly one channel. Map keeps that single entry inline and only
// allocates a slice once a second distinct key is stored.
//
// The representation is a pure function of Count():
//
//	0   empty, no allocation
//	1   inline slot, list is nil
//	>=2 list holds every entry, inline slot is zeroed
//
// Map is not safe for concurrent mutation.
package compactmap

import "iter"

type entry[K comparable, V any] struct {
	key   K
	value V
}

// Map is a compact associative container. The zero value is an empty map.
type Map[K comparable, V any] struct {
	single entry[K, V]
	list   []entry[K, V]
	count  int
}

// Count returns the number of entries.
func (m *Map[K, V]) Count() int {
	return m.count
}

// Get returns the value stored for key.
func (m *Map[K, V]) Get(key K) (V, bool) {
	switch {
	case m.count == 1:
		if m.single.key == key {
			return m.single.value, true
		}
	case m.count > 1:
		if i := m.index(key); i >= 0 {
			return m.list[i].value, true
		}
	}
	var zero V
	return zero, false
}

// Set inserts or updates the value for key.
func (m *Map[K, V]) Set(key K, value V) {
	switch {
	case m.count == 0:
		m.single = entry[K, V]{key: key, value: value}
		m.count = 1
	case m.count == 1:
		if m.single.key == key {
			m.single.value = value
			return
		}
		m.list = make([]entry[K, V], 0, 2)
		m.list = append(m.list, m.single, entry[K, V]{key: key, value: value})
		m.single = entry[K, V]{}
		m.count = 2
	default:
		if i := m.index(key); i >= 0 {
			m.list[i].value = value
			return
		}
		m.list = append(m.list, entry[K, V]{key: key, value: value})
		m.count = len(m.list)
	}
}

// Remove deletes key and reports whether it was present. When a single
// entry remains it moves back to the inline slot.
func (m *Map[K, V]) Remove(key K) bool {
	switch {
	case m.count == 1:
		if m.single.key != key {
			return false
		}
		m.single = entry[K, V]{}
		m.count = 0
		return true
	case m.count > 1:
		i := m.index(key)
		if i < 0 {
			return false
		}
		last := len(m.list) - 1
		copy(m.list[i:], m.list[i+1:])
		m.list[last] = entry[K, V]{}
		m.list = m.list[:last]
		if len(m.list) == 1 {
			m.single = m.list[0]
			m.list = nil
		}
		m.count--
		return true
	}
	return false
}

// KeyAt returns the key at position i, 0 <= i < Count().
// Positions are stable between mutations only.
func (m *Map[K, V]) KeyAt(i int) K {
	k, _ := m.At(i)
	return k
}

// At returns the entry at position i, 0 <= i < Count().
// It panics if i is out of range, like slice indexing.
func (m *Map[K, V]) At(i int) (K, V) {
	if i < 0 || i >= m.count {
		panic("compactmap: index out of range")
	}
	if m.count == 1 {
		return m.single.key, m.single.value
	}
	e := m.list[i]
	return e.key, e.value
}

// All iterates over the entries in position order.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for i := 0; i < m.count; i++ {
			k, v := m.At(i)
			if !yield(k, v) {
				return
			}
		}
	}
}

// Clear removes every entry.
func (m *Map[K, V]) Clear() {
	m.single = entry[K, V]{}
	m.list = nil
	m.count = 0
}

// inline reports whether the single-entry representation is in use.
func (m *Map[K, V]) inline() bool {
	return m.count == 1 && m.list == nil
}

func (m *Map[K, V]) index(key K) int {
	for i := range m.list {
		if m.list[i].key == key {
			return i
		}
	}
	return -1
}
