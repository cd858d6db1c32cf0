// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"time"

	"github.com/wneessen/location-manager/internal/position"
)

// LocateFunc performs a single position lookup.
type LocateFunc func(ctx context.Context) (position.Position, error)

// PollStream calls locate right away and then once per period until ctx is cancelled. Results
// are emitted only if they moved more than minDistance meters from the last emitted one. Failed
// lookups are retried on the next tick.
func PollStream(ctx context.Context, period time.Duration, minDistance float64, locate LocateFunc) <-chan position.Position {
	out := make(chan position.Position)
	go func() {
		defer close(out)
		state := position.NewState(minDistance)
		firstRun := true

		for {
			if !firstRun {
				select {
				case <-ctx.Done():
					return
				case <-time.After(period):
				}
			}
			firstRun = false

			pos, err := locate(ctx)
			if err != nil {
				continue
			}

			// Only emit if values changed or it's the first read
			if !state.HasChanged(pos) {
				continue
			}
			state.Update(pos)

			select {
			case <-ctx.Done():
				return
			case out <- pos:
			}
		}
	}()
	return out
}
