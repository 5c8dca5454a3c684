// Package registry tracks values attached to objects the registry does not
// own.
//
// Keys are held through weak pointers: registering a key never keeps it
// alive. When the garbage collector reclaims a key, its entry is dropped
// automatically. Callers that know a key is gone (a container removed from
// the document, for example) should still call [Registry.Unregister] so the
// entry goes away immediately rather than at the next collection.
//
// Values must not reference their key, directly or transitively, or the key
// can never be collected.
package registry

import (
	"runtime"
	"sync"
	"weak"
)

type entry[V any] struct {
	value   V
	cleanup runtime.Cleanup
}

// Registry maps live *K to V with O(1) membership checks. It is safe for
// concurrent use.
type Registry[K any, V any] struct {
	mu      sync.Mutex
	entries map[weak.Pointer[K]]*entry[V]
}

// New returns an empty registry.
func New[K any, V any]() *Registry[K, V] {
	return &Registry[K, V]{entries: make(map[weak.Pointer[K]]*entry[V])}
}

// Register associates v with key, replacing any previous value.
func (r *Registry[K, V]) Register(key *K, v V) {
	wp := weak.Make(key)

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[wp]; ok {
		e.value = v
		return
	}
	e := &entry[V]{value: v}
	e.cleanup = runtime.AddCleanup(key, r.collect, wp)
	r.entries[wp] = e
}

// collect runs after key has been reclaimed.
func (r *Registry[K, V]) collect(wp weak.Pointer[K]) {
	r.mu.Lock()
	delete(r.entries, wp)
	r.mu.Unlock()
}

// Get returns the value registered for key.
func (r *Registry[K, V]) Get(key *K) (V, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[weak.Make(key)]; ok {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Has reports whether key is registered.
func (r *Registry[K, V]) Has(key *K) bool {
	_, ok := r.Get(key)
	return ok
}

// Unregister removes key and returns the value it had.
func (r *Registry[K, V]) Unregister(key *K) (V, bool) {
	wp := weak.Make(key)

	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[wp]
	if !ok {
		var zero V
		return zero, false
	}
	e.cleanup.Stop()
	delete(r.entries, wp)
	return e.value, true
}

// Len returns the number of live entries.
func (r *Registry[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Range calls fn for every entry whose key is still alive, stopping early
// when fn returns false. fn runs without the registry lock held.
func (r *Registry[K, V]) Range(fn func(key *K, v V) bool) {
	type pair struct {
		key *K
		v   V
	}
	r.mu.Lock()
	live := make([]pair, 0, len(r.entries))
	for wp, e := range r.entries {
		if k := wp.Value(); k != nil {
			live = append(live, pair{k, e.value})
		}
	}
	r.mu.Unlock()

	for _, p := range live {
		if !fn(p.key, p.v) {
			return
		}
	}
}
