// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package location provides the Manager, the single owner of the sensor session and the
// latest known position.
package location

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/wneessen/location-manager/internal/geobus"
	"github.com/wneessen/location-manager/internal/logger"
	"github.com/wneessen/location-manager/internal/metrics"
	"github.com/wneessen/location-manager/internal/position"
)

// ErrNoFix is returned when a position is requested before the sensor delivered one.
var ErrNoFix = errors.New("no location fix available")

// Sensor is the location-sensing subsystem the Manager owns.
type Sensor interface {
	RequestAuthorization(ctx context.Context) geobus.Authorization
	StartUpdates(ctx context.Context, onUpdate func(position.Position)) error
}

// lastKnownSensor is implemented by sensors that hold a cached fix from an earlier session.
type lastKnownSensor interface {
	LastKnown() (position.Position, bool)
}

// Transport hands a position to a remote collector.
type Transport interface {
	Name() string
	Send(ctx context.Context, pos position.Position) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records tracking and delivery counters to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(manager *Manager) {
		manager.metrics = m
	}
}

// Manager owns one sensor session and keeps the most recent position it delivered.
type Manager struct {
	sensor    Sensor
	transport Transport
	logger    *logger.Logger
	metrics   *metrics.Metrics

	tracking      atomic.Bool
	authorization atomic.Int32
	inflight      sync.WaitGroup

	mu     sync.RWMutex
	latest position.Position
	hasFix bool
}

// New returns a Manager that tracks via sensor and posts via transport.
func New(sensor Sensor, transport Transport, log *logger.Logger, opts ...Option) (*Manager, error) {
	if sensor == nil {
		return nil, errors.New("sensor is required")
	}
	if transport == nil {
		return nil, errors.New("transport is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	manager := &Manager{
		sensor:    sensor,
		transport: transport,
		logger:    log,
	}
	for _, opt := range opts {
		opt(manager)
	}
	return manager, nil
}

// StartLocationTracking requests location access and starts the sensor session. Only the first
// call has an effect. A denied authorization is logged and leaves the Manager without updates.
// The session lives until ctx is cancelled.
func (m *Manager) StartLocationTracking(ctx context.Context) {
	if !m.tracking.CompareAndSwap(false, true) {
		m.logger.Debug("location tracking already started")
		return
	}
	m.metrics.TrackingStarted()

	auth := m.sensor.RequestAuthorization(ctx)
	m.authorization.Store(int32(auth))
	if auth != geobus.AuthorizationGranted {
		m.logger.Warn("location access not granted, no location updates will be received",
			slog.String("authorization", auth.String()))
		return
	}

	if err := m.sensor.StartUpdates(ctx, m.update); err != nil {
		m.logger.Error("failed to start location updates", logger.Err(err))
		return
	}
	if cached, ok := m.sensor.(lastKnownSensor); ok {
		if pos, ok := cached.LastKnown(); ok {
			m.seed(pos)
		}
	}
	m.logger.Info("location tracking started")
}

// UploadCurrentLocation calls upload once, on its own goroutine, with the latest position. It
// returns ErrNoFix without calling upload if no position has been received yet.
func (m *Manager) UploadCurrentLocation(upload func(position.Position)) error {
	if upload == nil {
		return errors.New("upload callback is required")
	}
	pos, ok := m.LatestPosition()
	if !ok {
		m.metrics.Upload(metrics.ResultNoFix)
		return ErrNoFix
	}
	m.metrics.Upload(metrics.ResultDelivered)

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		upload(pos)
	}()
	return nil
}

// CurrentLocation returns a channel that yields the latest position and is then closed. Without
// a fix the channel is closed empty.
func (m *Manager) CurrentLocation() <-chan position.Position {
	ch := make(chan position.Position, 1)
	if pos, ok := m.LatestPosition(); ok {
		ch <- pos
	}
	close(ch)
	return ch
}

// PostCurrentLocation hands the latest position to the transport in the background. Without a
// fix it does nothing. Transport failures are logged and never retried.
func (m *Manager) PostCurrentLocation(ctx context.Context) {
	name := m.transport.Name()
	pos, ok := m.LatestPosition()
	if !ok {
		m.logger.Debug("no location fix available, skipping post", slog.String("transport", name))
		m.metrics.Post(name, metrics.ResultNoFix)
		return
	}

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()
		if err := m.transport.Send(ctx, pos); err != nil {
			m.logger.Error("failed to post current location", slog.String("transport", name), logger.Err(err))
			m.metrics.Post(name, metrics.ResultFailed)
			return
		}
		m.metrics.Post(name, metrics.ResultSent)
		m.logger.Debug("posted current location", slog.String("transport", name),
			slog.Float64("lat", pos.Lat), slog.Float64("lon", pos.Lon))
	}()
}

// Wait blocks until all in-flight uploads and posts have returned.
func (m *Manager) Wait() {
	m.inflight.Wait()
}

// LatestPosition returns the most recent position delivered by the sensor.
func (m *Manager) LatestPosition() (position.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest, m.hasFix
}

// Tracking reports whether StartLocationTracking has been called.
func (m *Manager) Tracking() bool {
	return m.tracking.Load()
}

// Authorization returns the outcome of the access request made by StartLocationTracking.
func (m *Manager) Authorization() geobus.Authorization {
	return geobus.Authorization(m.authorization.Load())
}

// seed sets pos as the latest position unless the sensor already delivered one.
func (m *Manager) seed(pos position.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hasFix {
		return
	}
	m.latest = pos
	m.hasFix = true
}

func (m *Manager) update(pos position.Position) {
	m.mu.Lock()
	m.latest = pos
	m.hasFix = true
	m.mu.Unlock()
	m.metrics.LocationUpdate(pos.Source)
}
