// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/location-manager/internal/gpspoll"
	"github.com/wneessen/location-manager/internal/position"
)

const (
	name = "gpsd"

	DefaultHost        = "localhost"
	DefaultPort        = "2947"
	DefaultMinDistance = 10.0 // meters

	probeTimeout = time.Second * 3
	fixBuffer    = 8
)

// Mode selects how the provider talks to gpsd.
type Mode string

const (
	// ModeWatch keeps a WATCH session open and emits every TPV report.
	ModeWatch Mode = "watch"
	// ModePoll opens a short-lived connection every period and emits the first TPV report.
	ModePoll Mode = "poll"
)

type GeolocationGPSDProvider struct {
	name        string
	addr        string
	mode        Mode
	period      time.Duration
	ttl         time.Duration
	minDistance float64

	locateFn func(ctx context.Context) (gpspoll.Fix, error)
	watchFn  func(ctx context.Context, fixes chan<- gpspoll.Fix) error
	probeFn  func(ctx context.Context) error
}

// NewGeolocationGPSDProvider returns a gpsd provider for the daemon at host:port. Movements of
// at most minDistance meters are not re-emitted.
func NewGeolocationGPSDProvider(host, port string, mode Mode, minDistance float64) *GeolocationGPSDProvider {
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}
	if mode != ModePoll {
		mode = ModeWatch
	}
	client := gpspoll.New(host, port)
	provider := &GeolocationGPSDProvider{
		name:        name,
		addr:        net.JoinHostPort(host, port),
		mode:        mode,
		period:      time.Second * 30,
		ttl:         time.Minute * 2,
		minDistance: minDistance,
		locateFn:    client.Poll,
	}
	provider.watchFn = provider.watch
	provider.probeFn = func(ctx context.Context) error {
		_, err := client.Probe(ctx)
		return err
	}
	return provider
}

func (p *GeolocationGPSDProvider) Name() string {
	return p.name
}

// Authorize checks that gpsd is reachable. gpsd itself has no notion of permissions.
func (p *GeolocationGPSDProvider) Authorize(ctx context.Context) error {
	ctxProbe, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := p.probeFn(ctxProbe); err != nil {
		return fmt.Errorf("gpsd not reachable at %q: %w", p.addr, err)
	}
	return nil
}

func (p *GeolocationGPSDProvider) LookupStream(ctx context.Context, _ string) <-chan position.Position {
	out := make(chan position.Position)
	fixes := make(chan gpspoll.Fix, fixBuffer)

	switch p.mode {
	case ModePoll:
		go p.poll(ctx, fixes)
	default:
		go p.watchLoop(ctx, fixes)
	}

	go func() {
		defer close(out)
		state := position.NewState(p.minDistance)

		for {
			var fix gpspoll.Fix
			select {
			case <-ctx.Done():
				return
			case fix = <-fixes:
			}

			// Need at least 2D fix
			if !fix.Has2DFix() {
				continue
			}
			pos := p.createResult(fix)
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

// poll asks gpsd for a fix every period.
func (p *GeolocationGPSDProvider) poll(ctx context.Context, fixes chan<- gpspoll.Fix) {
	firstRun := true
	for {
		if !firstRun {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.period):
			}
		}
		firstRun = false

		fix, err := p.locateFn(ctx)
		if err != nil {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case fixes <- fix:
		}
	}
}

// watchLoop keeps a gpsd WATCH session open, reconnecting after period when it drops.
func (p *GeolocationGPSDProvider) watchLoop(ctx context.Context, fixes chan<- gpspoll.Fix) {
	for {
		_ = p.watchFn(ctx, fixes)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.period):
		}
	}
}

// watch streams TPV reports from gpsd until the connection ends or ctx is cancelled.
func (p *GeolocationGPSDProvider) watch(ctx context.Context, fixes chan<- gpspoll.Fix) error {
	session, err := gpsd.Dial(p.addr)
	if err != nil {
		return fmt.Errorf("failed to connect to gpsd at %q: %w", p.addr, err)
	}

	// Install TPV filter: this gets called for every TPV report
	session.AddFilter("TPV", func(r interface{}) {
		tpv, ok := r.(*gpsd.TPVReport)
		if !ok {
			return
		}
		select {
		case <-ctx.Done():
		case fixes <- fixFromTPV(tpv):
		default:
			// consumer is busy, the next report will do
		}
	})

	done := session.Watch()
	select {
	case <-ctx.Done():
		// go-gpsd has no Close(); the connection is torn down with the process.
		return ctx.Err()
	case <-done:
		return nil
	}
}

// createResult composes a Position from a gpsd fix.
func (p *GeolocationGPSDProvider) createResult(fix gpspoll.Fix) position.Position {
	at := fix.Time
	if at.IsZero() {
		at = time.Now()
	}
	return position.Position{
		Lat:      fix.Lat,
		Lon:      fix.Lon,
		Alt:      fix.Alt,
		Accuracy: fix.Acc,
		Source:   p.name,
		At:       at,
		TTL:      p.ttl,
	}
}

func fixFromTPV(tpv *gpsd.TPVReport) gpspoll.Fix {
	mode := int(tpv.Mode)
	acc := gpspoll.HorizontalAccuracyFallback(mode)
	if tpv.Epx > 0 && tpv.Epy > 0 {
		acc = math.Hypot(tpv.Epx, tpv.Epy)
	}
	return gpspoll.Fix{
		Lat:  tpv.Lat,
		Lon:  tpv.Lon,
		Alt:  tpv.Alt,
		Acc:  acc,
		Mode: mode,
		Time: tpv.Time,
	}
}
