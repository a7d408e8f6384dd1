// Package safemap provides a type-safe concurrent map built on sync.Map.
package safemap

import "sync"

// SafeMap is a concurrent map safe for use by multiple goroutines without
// additional locking. It must not be copied after first use.
//
// Store, Load and Delete are amortized O(1). Len and Range are O(n).
type SafeMap[K comparable, V any] struct {
	m sync.Map
}

// New returns an empty SafeMap.
func New[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{}
}

// Store sets the value for k, overwriting any existing value.
func (m *SafeMap[K, V]) Store(k K, v V) {
	m.m.Store(k, v)
}

// Swap stores v under k and returns the previous value, if any.
func (m *SafeMap[K, V]) Swap(k K, v V) (previous V, loaded bool) {
	p, loaded := m.m.Swap(k, v)
	if !loaded {
		return previous, false
	}
	return p.(V), true
}

// Load returns the value for k and whether it was present.
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	v, ok := m.m.Load(k)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// LoadAndDelete removes k and returns the value it held.
func (m *SafeMap[K, V]) LoadAndDelete(k K) (V, bool) {
	v, ok := m.m.LoadAndDelete(k)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Delete removes k. Deleting an absent key is a no-op.
func (m *SafeMap[K, V]) Delete(k K) {
	m.m.Delete(k)
}

// CompareAndDelete deletes k only if it currently maps to old. V must be a
// comparable type at runtime or this panics, same as sync.Map.
func (m *SafeMap[K, V]) CompareAndDelete(k K, old V) bool {
	return m.m.CompareAndDelete(k, old)
}

// Has reports whether k is present.
func (m *SafeMap[K, V]) Has(k K) bool {
	_, ok := m.m.Load(k)
	return ok
}

// Range calls f for each entry until f returns false. Entries stored or
// deleted concurrently may or may not be visited.
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Len counts the entries. It walks the whole map; use sparingly.
func (m *SafeMap[K, V]) Len() int {
	n := 0
	m.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Keys returns a snapshot of the keys.
func (m *SafeMap[K, V]) Keys() []K {
	var keys []K
	m.Range(func(k K, _ V) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}
