// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geobus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wneessen/location-manager/internal/logger"
	"github.com/wneessen/location-manager/internal/position"
)

const subscriberBuffer = 32

var (
	ErrNoProviders   = errors.New("no authorized geolocation providers available")
	ErrSessionActive = errors.New("sensor session is already active")
)

// Authorization is the outcome of the location access check.
type Authorization int

const (
	AuthorizationUndetermined Authorization = iota
	AuthorizationGranted
	AuthorizationDenied
)

func (a Authorization) String() string {
	switch a {
	case AuthorizationGranted:
		return "granted"
	case AuthorizationDenied:
		return "denied"
	default:
		return "undetermined"
	}
}

// Session is a sensor session over a set of providers. Positions published to the bus are
// handed to a single update callback.
type Session struct {
	bus       *GeoBus
	key       string
	logger    *logger.Logger
	providers []Provider

	mu         sync.Mutex
	authorized []Provider
	checked    bool
	started    atomic.Bool
}

// NewSession returns a Session for key over the given providers.
func NewSession(bus *GeoBus, key string, providers []Provider) *Session {
	return &Session{
		bus:       bus,
		key:       key,
		logger:    bus.logger,
		providers: providers,
	}
}

// RequestAuthorization asks every provider that implements Authorizer for access. Providers that
// refuse are excluded from the session. Access is granted if at least one provider remains.
func (s *Session) RequestAuthorization(ctx context.Context) Authorization {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authorized = s.authorized[:0]
	for _, p := range s.providers {
		auth, ok := p.(Authorizer)
		if !ok {
			s.authorized = append(s.authorized, p)
			continue
		}
		if err := auth.Authorize(ctx); err != nil {
			level := slog.LevelDebug
			if errors.Is(err, ErrAuthorizationDenied) {
				level = slog.LevelWarn
			}
			s.logger.Log(ctx, level, "geolocation provider not authorized", slog.String("provider", p.Name()),
				logger.Err(err))
			continue
		}
		s.authorized = append(s.authorized, p)
	}
	s.checked = true

	if len(s.authorized) == 0 {
		return AuthorizationDenied
	}
	return AuthorizationGranted
}

// LastKnown returns the best non-expired position the bus holds for the session's key.
func (s *Session) LastKnown() (position.Position, bool) {
	return s.bus.Best(s.key)
}

// StartUpdates starts tracking and calls onUpdate for every position the bus accepts. It returns
// immediately; the session ends when ctx is cancelled.
func (s *Session) StartUpdates(ctx context.Context, onUpdate func(position.Position)) error {
	if onUpdate == nil {
		return errors.New("update callback is required")
	}

	s.mu.Lock()
	providers := s.providers
	if s.checked {
		providers = append([]Provider(nil), s.authorized...)
	}
	s.mu.Unlock()
	if len(providers) == 0 {
		return ErrNoProviders
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrSessionActive
	}

	sub, unsub := s.bus.Subscribe(s.key, subscriberBuffer)
	orchestrator := s.bus.NewOrchestrator(providers)
	go orchestrator.Track(ctx, s.key)
	go func() {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case p, ok := <-sub:
				if !ok {
					return
				}
				s.logger.Debug("received geolocation update", slog.Float64("lat", p.Lat),
					slog.Float64("lon", p.Lon), slog.String("source", p.Source))
				onUpdate(p)
			}
		}
	}()

	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, p.Name())
	}
	s.logger.Info("sensor session started", slog.Any("providers", names))
	return nil
}
