// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/location-manager/internal/logger"
)

const (
	logindInterface       = "org.freedesktop.login1.Manager"
	logindPrepareForSleep = "PrepareForSleep"

	signalBufferSize = 8

	resumeDebounce     = 2 * time.Second
	busReconnectDelay  = 5 * time.Second
	networkWakeupDelay = 10 * time.Second
)

var errBusClosed = errors.New("system bus connection closed")

// systemBus is the subset of *dbus.Conn used to receive logind signals.
type systemBus interface {
	AddMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Close() error
}

func dialSystemBus() (systemBus, error) {
	return dbus.ConnectSystemBus()
}

// monitorSleepResume posts the current location around system suspend until ctx is cancelled.
// A lost bus connection is re-established after busReconnectDelay.
func (s *Service) monitorSleepResume(ctx context.Context) {
	for {
		err := s.watchSleepSignals(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("sleep monitoring interrupted, reconnecting", logger.Err(err),
			slog.Duration("delay", busReconnectDelay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(busReconnectDelay):
		}
	}
}

// watchSleepSignals subscribes to PrepareForSleep and processes the signals until ctx is
// cancelled or the connection drops.
func (s *Service) watchSleepSignals(ctx context.Context) error {
	conn, err := s.dialSystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Error("failed to close system bus connection", logger.Err(err))
		}
	}()

	if err = conn.AddMatchSignal(dbus.WithMatchInterface(logindInterface),
		dbus.WithMatchMember(logindPrepareForSleep)); err != nil {
		return fmt.Errorf("failed to subscribe to %s.%s: %w", logindInterface, logindPrepareForSleep, err)
	}
	signals := make(chan *dbus.Signal, signalBufferSize)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)
	s.logger.Debug("subscribed to dbus signal", slog.String("interface", logindInterface),
		slog.String("member", logindPrepareForSleep))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sgn, ok := <-signals:
			if !ok {
				return errBusClosed
			}
			s.processSleepSignal(ctx, sgn)
		}
	}
}

// processSleepSignal handles a PrepareForSleep signal. Its single boolean argument is true
// before suspend and false after resume.
func (s *Service) processSleepSignal(ctx context.Context, sgn *dbus.Signal) {
	if sgn == nil || len(sgn.Body) != 1 {
		return
	}
	sleeping, ok := sgn.Body[0].(bool)
	if !ok {
		return
	}
	if ctx.Err() != nil {
		return
	}
	if sleeping {
		s.logger.Debug("system is going to sleep, posting current location")
		s.manager.PostCurrentLocation(ctx)
		return
	}
	s.handleResumeEvent(ctx)
}

// handleResumeEvent waits for the network to come back and posts the current location. Resume
// events within resumeDebounce of the previous one are dropped.
func (s *Service) handleResumeEvent(ctx context.Context) {
	now := time.Now()
	last := s.lastResume.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < resumeDebounce {
		return
	}
	if !s.lastResume.CompareAndSwap(last, now.UnixNano()) {
		return
	}

	select {
	case <-ctx.Done():
		return
	case <-time.After(networkWakeupDelay):
	}

	s.logger.Debug("resumed from sleep, posting current location")
	s.manager.PostCurrentLocation(ctx)
}
