// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package gpsd

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stratoberry/go-gpsd"

	"github.com/wneessen/location-manager/internal/gpspoll"
	"github.com/wneessen/location-manager/internal/position"
)

const (
	testLat = 40.7185
	testLon = -74.0025
)

func TestNewGeolocationGPSDProvider(t *testing.T) {
	t.Run("new GPSd provider succeeds", func(t *testing.T) {
		provider := NewGeolocationGPSDProvider("", "", "", DefaultMinDistance)
		if provider == nil {
			t.Fatal("expected provider to be non-nil")
		}
		if provider.addr != "localhost:2947" {
			t.Errorf("expected default address to be localhost:2947, got %s", provider.addr)
		}
		if provider.mode != ModeWatch {
			t.Errorf("expected default mode to be %s, got %s", ModeWatch, provider.mode)
		}
	})
	t.Run("poll mode is kept", func(t *testing.T) {
		provider := NewGeolocationGPSDProvider("gps.local", "1234", ModePoll, 0)
		if provider.mode != ModePoll {
			t.Errorf("expected mode to be %s, got %s", ModePoll, provider.mode)
		}
		if provider.addr != "gps.local:1234" {
			t.Errorf("expected address to be gps.local:1234, got %s", provider.addr)
		}
	})
}

func TestGeolocationGPSDProvider_Name(t *testing.T) {
	provider := NewGeolocationGPSDProvider("", "", ModeWatch, DefaultMinDistance)
	if !strings.EqualFold(provider.Name(), name) {
		t.Errorf("expected provider name to be %s, got %s", name, provider.Name())
	}
}

func TestGeolocationGPSDProvider_Authorize(t *testing.T) {
	t.Run("reachable gpsd is authorized", func(t *testing.T) {
		provider := NewGeolocationGPSDProvider("", "", ModeWatch, DefaultMinDistance)
		provider.probeFn = func(context.Context) error { return nil }
		if err := provider.Authorize(t.Context()); err != nil {
			t.Errorf("expected authorization to succeed, got %s", err)
		}
	})
	t.Run("unreachable gpsd is not authorized", func(t *testing.T) {
		provider := NewGeolocationGPSDProvider("", "", ModeWatch, DefaultMinDistance)
		provider.probeFn = func(context.Context) error { return errors.New("intentionally failing") }
		err := provider.Authorize(t.Context())
		if err == nil {
			t.Fatal("expected authorization to fail")
		}
		if !strings.Contains(err.Error(), "gpsd not reachable") {
			t.Errorf("expected error to contain %q, got %q", "gpsd not reachable", err)
		}
	})
}

func TestGeolocationGPSDProvider_createResult(t *testing.T) {
	provider := NewGeolocationGPSDProvider("", "", ModeWatch, DefaultMinDistance)
	fixTime := time.Date(2025, 11, 24, 10, 44, 41, 0, time.UTC)
	result := provider.createResult(gpspoll.Fix{Lat: testLat, Lon: testLon, Acc: 12, Mode: 3, Time: fixTime})
	if result.Lat != testLat {
		t.Errorf("expected latitude to be %f, got %f", testLat, result.Lat)
	}
	if result.Lon != testLon {
		t.Errorf("expected longitude to be %f, got %f", testLon, result.Lon)
	}
	if result.Accuracy != 12 {
		t.Errorf("expected accuracy to be %d, got %f", 12, result.Accuracy)
	}
	if result.Source != provider.Name() {
		t.Errorf("expected source to be %s, got %s", provider.Name(), result.Source)
	}
	if !result.At.Equal(fixTime) {
		t.Errorf("expected timestamp to be %s, got %s", fixTime, result.At)
	}
	if result.TTL != provider.ttl {
		t.Errorf("expected TTL to be %d, got %d", provider.ttl, result.TTL)
	}
}

func TestGeolocationGPSDProvider_LookupStream(t *testing.T) {
	t.Run("polling GPS data fails on first run but then succeeds", func(t *testing.T) {
		runCount := 0
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			provider := NewGeolocationGPSDProvider("", "", ModePoll, DefaultMinDistance)
			provider.period = time.Millisecond * 10
			provider.locateFn = func(ctx context.Context) (gpspoll.Fix, error) {
				if runCount == 0 {
					runCount++
					return gpspoll.Fix{}, errors.New("intentionally failing")
				}
				if runCount == 1 {
					runCount++
					return gpspoll.Fix{Lat: 1, Lon: 2, Acc: 3, Mode: 1}, nil
				}
				return gpspoll.Fix{Lat: 1.0, Lon: 2.0, Acc: 3.0, Mode: 2}, nil
			}

			out := provider.LookupStream(ctx, "test")
			if out == nil {
				t.Fatal("expected stream to be non-nil")
			}

			var result position.Position
			select {
			case r := <-out:
				result = r
				cancel()
			case <-ctx.Done():
				t.Fatalf("context done before result: %v", ctx.Err())
			}
			synctest.Wait()

			if result.Lat != 1.0 {
				t.Errorf("expected latitude to be %f, got %f", 1.0, result.Lat)
			}
			if result.Lon != 2.0 {
				t.Errorf("expected longitude to be %f, got %f", 2.0, result.Lon)
			}
			if result.Accuracy != 3.0 {
				t.Errorf("expected accuracy to be %f, got %f", 3.0, result.Accuracy)
			}
		})
	})
	t.Run("watched fixes are emitted only when the device moved", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			provider := NewGeolocationGPSDProvider("", "", ModeWatch, DefaultMinDistance)
			provider.watchFn = func(ctx context.Context, fixes chan<- gpspoll.Fix) error {
				for _, fix := range []gpspoll.Fix{
					{Lat: 37.0, Lon: -122.0, Acc: 5, Mode: 3},
					{Lat: 37.00001, Lon: -122.0, Acc: 5, Mode: 3}, // ~1m, below threshold
					{Lat: 37.1, Lon: -122.1, Acc: 5, Mode: 3},
				} {
					fixes <- fix
				}
				<-ctx.Done()
				return ctx.Err()
			}

			out := provider.LookupStream(ctx, "test")
			var results []position.Position
			for len(results) < 2 {
				results = append(results, <-out)
			}
			synctest.Wait()
			select {
			case r := <-out:
				t.Fatalf("expected no further results, got %+v", r)
			default:
			}
			if results[0].Lat != 37.0 || results[1].Lat != 37.1 {
				t.Errorf("expected latitudes 37.0 and 37.1, got %f and %f", results[0].Lat, results[1].Lat)
			}
			cancel()
			synctest.Wait()
		})
	})
}

func TestFixFromTPV(t *testing.T) {
	t.Run("accuracy from epx and epy", func(t *testing.T) {
		fix := fixFromTPV(&gpsd.TPVReport{Lat: testLat, Lon: testLon, Mode: gpsd.Mode3D, Epx: 3, Epy: 4})
		if fix.Acc != 5 {
			t.Errorf("expected accuracy to be 5, got %f", fix.Acc)
		}
		if fix.Mode != 3 {
			t.Errorf("expected mode to be 3, got %d", fix.Mode)
		}
	})
	t.Run("fallback accuracy without error estimate", func(t *testing.T) {
		fix := fixFromTPV(&gpsd.TPVReport{Lat: testLat, Lon: testLon, Mode: gpsd.Mode2D})
		if fix.Acc != gpspoll.HorizontalAccuracyFallback(2) {
			t.Errorf("expected 2D fallback accuracy, got %f", fix.Acc)
		}
	})
}
