// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geolocation_file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/wneessen/location-manager/internal/geobus"
	"github.com/wneessen/location-manager/internal/position"
)

const (
	name = "geolocation_file"
)

var ErrNoCoordinates = errors.New("no valid coordinates found in geolocation file")

// GeolocationFileProvider reads a "lat,lon" line from a file and emits it via a stream. Lines
// starting with # are ignored. The file is re-read periodically so edits are picked up.
type GeolocationFileProvider struct {
	name     string
	path     string
	period   time.Duration
	ttl      time.Duration
	locateFn geobus.LocateFunc
}

// NewGeolocationFileProvider initializes a GeolocationFileProvider with a file path and default update
// interval and TTL settings.
func NewGeolocationFileProvider(path string) *GeolocationFileProvider {
	provider := &GeolocationFileProvider{
		name:   name,
		path:   path,
		period: time.Minute * 2,
		ttl:    time.Hour * 1,
	}
	provider.locateFn = provider.locate
	return provider
}

// Name returns the name of the GeolocationFileProvider instance.
func (p *GeolocationFileProvider) Name() string {
	return p.name
}

// Authorize reports whether the geolocation file is readable.
func (p *GeolocationFileProvider) Authorize(context.Context) error {
	if _, err := os.Stat(p.path); err != nil {
		return fmt.Errorf("geolocation file not accessible: %w", err)
	}
	return nil
}

func (p *GeolocationFileProvider) LookupStream(ctx context.Context, _ string) <-chan position.Position {
	return geobus.PollStream(ctx, p.period, 0, p.locateFn)
}

func (p *GeolocationFileProvider) locate(context.Context) (position.Position, error) {
	lat, lon, err := p.readFile()
	if err != nil {
		return position.Position{}, err
	}
	return p.createResult(lat, lon), nil
}

// createResult composes a Position from the file coordinates. A user-supplied location is
// treated as accurate to the postcode area.
func (p *GeolocationFileProvider) createResult(lat, lon float64) position.Position {
	return position.Position{
		Lat:      lat,
		Lon:      lon,
		Accuracy: position.AccuracyZip,
		Source:   p.name,
		At:       time.Now(),
		TTL:      p.ttl,
	}
}

// readFile returns the first valid coordinate pair in the file at the configured path.
func (p *GeolocationFileProvider) readFile() (lat, lon float64, err error) {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read geolocation file %q: %w", p.path, err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			continue
		}
		coords := strings.Split(line, ",")
		if len(coords) != 2 {
			continue
		}
		lat, err = strconv.ParseFloat(strings.TrimSpace(coords[0]), 64)
		if err != nil {
			continue
		}
		lon, err = strconv.ParseFloat(strings.TrimSpace(coords[1]), 64)
		if err != nil {
			continue
		}
		if !(position.Position{Lat: lat, Lon: lon}).Valid() {
			continue
		}
		return lat, lon, nil
	}
	return 0, 0, ErrNoCoordinates
}
