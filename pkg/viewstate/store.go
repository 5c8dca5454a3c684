// Package viewstate remembers the zoom and pan of each diagram across
// re-renders.
//
// States are keyed by [Key]: the content fingerprint of the diagram source
// plus the diagram's position among all diagrams in the document. The key is
// content-addressed on purpose, so a diagram that is removed and re-added
// with the same source at the same position gets its view back. Inserting a
// diagram above others shifts every later position and their saved views no
// longer line up; that is a known limitation.
//
// The store never evicts. Entries accumulate until [Store.Clear] or
// [Store.Remove] is called.
package viewstate

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/diagramzoom/pkg/fingerprint"
	"github.com/matzehuels/diagramzoom/pkg/panzoom"
)

// Key identifies a saved view.
type Key struct {
	Fingerprint string
	Index       int
}

// NewKey builds the key for source at position index.
func NewKey(source string, index int) Key {
	return Key{Fingerprint: fingerprint.Of(source), Index: index}
}

// String renders the key as "<fingerprint>-<index>".
func (k Key) String() string {
	return k.Fingerprint + "-" + strconv.Itoa(k.Index)
}

// ParseKey is the inverse of [Key.String].
func ParseKey(s string) (Key, error) {
	i := strings.LastIndexByte(s, '-')
	if i <= 0 {
		return Key{}, fmt.Errorf("viewstate: malformed key %q", s)
	}
	// A negative index shows up as "fp--1".
	if s[i-1] == '-' && i > 1 {
		i--
	}
	idx, err := strconv.Atoi(s[i+1:])
	if err != nil {
		return Key{}, fmt.Errorf("viewstate: malformed key %q: %w", s, err)
	}
	return Key{Fingerprint: s[:i], Index: idx}, nil
}

// State is a remembered view transform.
type State struct {
	Zoom float64       `json:"zoom"`
	Pan  panzoom.Point `json:"pan"`
}

// Valid reports whether the state holds finite numbers and a positive zoom.
// Range checks against zoom bounds are left to the controller.
func (s State) Valid() bool {
	return s.Zoom > 0 && !math.IsInf(s.Zoom, 0) && !math.IsNaN(s.Zoom) &&
		!math.IsNaN(s.Pan.X) && !math.IsNaN(s.Pan.Y) &&
		!math.IsInf(s.Pan.X, 0) && !math.IsInf(s.Pan.Y, 0)
}

// Target is what a saved state is applied to.
type Target interface {
	ZoomTo(zoom float64) error
	PanTo(p panzoom.Point) error
}

// Store is a process-wide table of view states. It is safe for concurrent
// use; concurrent saves to one key are last-writer-wins.
type Store struct {
	mu       sync.RWMutex
	states   map[Key]State
	failures atomic.Int64
	logger   *log.Logger
}

// NewStore returns an empty store. A nil logger falls back to log.Default().
func NewStore(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{states: make(map[Key]State), logger: logger}
}

// Save upserts the state for key.
func (s *Store) Save(key Key, st State) {
	s.mu.Lock()
	s.states[key] = st
	s.mu.Unlock()
}

// Get returns the state saved for key.
func (s *Store) Get(key Key) (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[key]
	return st, ok
}

// Has reports whether a state exists for key.
func (s *Store) Has(key Key) bool {
	_, ok := s.Get(key)
	return ok
}

// Restore applies the state saved for key to t. It returns false when
// nothing is saved or when t rejects the values; a rejection is logged and
// counted, never returned.
func (s *Store) Restore(key Key, t Target) bool {
	st, ok := s.Get(key)
	if !ok {
		return false
	}
	if err := apply(st, t); err != nil {
		s.failures.Add(1)
		s.logger.Warn("restore rejected", "key", key.String(), "zoom", st.Zoom, "err", err)
		return false
	}
	return true
}

func apply(st State, t Target) error {
	if err := t.ZoomTo(st.Zoom); err != nil {
		return err
	}
	return t.PanTo(st.Pan)
}

// RestoreFailures is the number of restores rejected by their target.
func (s *Store) RestoreFailures() int64 {
	return s.failures.Load()
}

// Remove drops the state for key.
func (s *Store) Remove(key Key) {
	s.mu.Lock()
	delete(s.states, key)
	s.mu.Unlock()
}

// Clear drops every state.
func (s *Store) Clear() {
	s.mu.Lock()
	s.states = make(map[Key]State)
	s.mu.Unlock()
}

// Len returns the number of saved states.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

// Snapshot copies the table keyed by [Key.String].
func (s *Store) Snapshot() map[string]State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]State, len(s.states))
	for k, v := range s.states {
		out[k.String()] = v
	}
	return out
}

// Load merges a snapshot into the store. Entries with malformed keys or
// invalid states are skipped; the number loaded is returned.
func (s *Store) Load(snap map[string]State) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for raw, st := range snap {
		k, err := ParseKey(raw)
		if err != nil || !st.Valid() {
			s.logger.Debug("skipping snapshot entry", "key", raw)
			continue
		}
		s.states[k] = st
		n++
	}
	return n
}
