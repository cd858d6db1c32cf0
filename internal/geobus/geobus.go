// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wneessen/location-manager/internal/logger"
	"github.com/wneessen/location-manager/internal/position"
)

const (
	accuracyEpsilon = 1e-6
	initialBackoff  = time.Second
	maxBackoff      = 30 * time.Second
)

// ErrAuthorizationDenied is wrapped by Authorizer implementations when location access is refused.
var ErrAuthorizationDenied = errors.New("location access denied")

// Provider defines an interface for geolocation service providers.
// It supports retrieving streamed results for a given key.
type Provider interface {
	Name() string
	LookupStream(ctx context.Context, key string) <-chan position.Position
}

// Authorizer is implemented by providers that need permission or a reachable backend before
// they can deliver positions.
type Authorizer interface {
	Authorize(ctx context.Context) error
}

// GeoBus keeps the best position per key and broadcasts changes to its subscribers.
type GeoBus struct {
	mu          sync.RWMutex
	logger      *logger.Logger
	best        map[string]position.Position
	subscribers map[string]map[chan position.Position]struct{}
}

// BetterThan reports whether next should replace prev. Older fixes never win; otherwise
// a fix from the same source or a more accurate fix does.
func BetterThan(next, prev position.Position) bool {
	if next.At.Before(prev.At) {
		return false
	}
	if next.Source == prev.Source {
		return true
	}
	return next.Accuracy < prev.Accuracy-accuracyEpsilon
}

// New initializes and returns a new GeoBus.
func New(log *logger.Logger) (*GeoBus, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &GeoBus{
		logger:      log,
		best:        make(map[string]position.Position),
		subscribers: make(map[string]map[chan position.Position]struct{}),
	}, nil
}

func (b *GeoBus) NewOrchestrator(provider []Provider) *Orchestrator {
	return &Orchestrator{
		Bus:       b,
		Providers: provider,
	}
}

// Subscribe adds a subscriber for updates associated with the given key and buffer size, returning a
// channel and an unsubscribe function. A fresh best position is delivered immediately.
func (b *GeoBus) Subscribe(key string, size int) (<-chan position.Position, func()) {
	if size < 1 {
		size = 1
	}
	ch := make(chan position.Position, size)
	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[chan position.Position]struct{})
	}
	b.subscribers[key][ch] = struct{}{}
	if best, ok := b.best[key]; ok && !best.IsExpired() {
		ch <- best
	}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.subscribers[key]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subscribers, key)
				}
			}
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish offers p for key. Positions without an accuracy estimate are dropped.
func (b *GeoBus) Publish(key string, p position.Position) {
	if p.Accuracy == 0 {
		return
	}
	if p.At.IsZero() {
		p.At = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	prev, have := b.best[key]
	if have && !prev.IsExpired() && !BetterThan(p, prev) {
		return
	}
	b.best[key] = p
	for ch := range b.subscribers[key] {
		select {
		case ch <- p:
		default:
			b.logger.Debug("subscriber is not keeping up, dropping position")
		}
	}
}

// Best returns the best non-expired position for key.
func (b *GeoBus) Best(key string) (position.Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.best[key]
	return p, ok && !p.IsExpired()
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d *= 2; d > maxBackoff {
		return maxBackoff
	}
	return d
}
