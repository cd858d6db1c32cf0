// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package location

import "sync"

// Singleton holds a lazily created value. The first Get with a non-nil constructor creates it;
// every later Get returns the same value.
type Singleton[T any] struct {
	mu    sync.Mutex
	value T
	set   bool
}

// Get returns the held value, calling newFn to create it if it does not exist yet. newFn runs
// at most once no matter how many goroutines call Get concurrently.
func (s *Singleton[T]) Get(newFn func() T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.set && newFn != nil {
		s.value = newFn()
		s.set = true
	}
	return s.value
}

var shared Singleton[*Manager]

// Shared returns the process-wide Manager. newFn is only called on the first call; later calls
// may pass nil.
func Shared(newFn func() *Manager) *Manager {
	return shared.Get(newFn)
}
