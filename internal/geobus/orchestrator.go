// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/wneessen/location-manager/internal/position"
)

// Orchestrator coordinates the tracking and publication of positions from multiple
// providers through a GeoBus.
type Orchestrator struct {
	Bus       *GeoBus
	Providers []Provider
}

// Track runs every provider concurrently for key until ctx is cancelled.
func (o *Orchestrator) Track(ctx context.Context, key string) {
	var wg sync.WaitGroup
	for _, p := range o.Providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			o.trackProvider(ctx, p, key)
		}(p)
	}
	<-ctx.Done()
	wg.Wait()
}

// trackProvider continuously tracks a Provider, publishing results to the GeoBus and
// restarting closed streams with backoff.
func (o *Orchestrator) trackProvider(ctx context.Context, p Provider, key string) {
	backoff := initialBackoff
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		lookupChan := o.safeLookup(ctx, p, key)
		if lookupChan == nil {
			o.Bus.logger.Debug("provider returned no stream, backing off", slog.String("provider", p.Name()),
				slog.Duration("backoff", backoff))
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff)
			continue
		}

	stream:
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-lookupChan:
				if !ok {
					if !sleepOrDone(ctx, backoff) {
						return
					}
					backoff = nextBackoff(backoff)
					break stream
				}
				if r.Source == "" {
					r.Source = p.Name()
				}
				o.Bus.Publish(key, r)
				backoff = initialBackoff
			}
		}
	}
}

// safeLookup invokes LookupStream on a Provider and recovers from potential panics.
// Returns nil if the provider panicked.
func (o *Orchestrator) safeLookup(ctx context.Context, provider Provider, key string) (ch <-chan position.Position) {
	defer func() {
		if r := recover(); r != nil {
			o.Bus.logger.Error("provider panicked during lookup", slog.String("provider", provider.Name()),
				slog.Any("panic", r))
			ch = nil
		}
	}()
	return provider.LookupStream(ctx, key)
}
