// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package position

// State tracks the last position a provider emitted so repeated identical reads can be
// suppressed.
type State struct {
	MinDistance float64

	last     Position
	haveLast bool
}

// NewState returns a State that treats movements of at most minDistance meters as unchanged.
func NewState(minDistance float64) *State {
	return &State{MinDistance: minDistance}
}

// HasChanged reports whether next should be emitted.
func (s *State) HasChanged(next Position) bool {
	if !s.haveLast {
		return true
	}
	return next.MovedFrom(s.last, s.MinDistance)
}

// Update stores next as the last emitted position.
func (s *State) Update(next Position) {
	s.last = next
	s.haveLast = true
}
