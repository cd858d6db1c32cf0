// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wneessen/location-manager/internal/geobus"
	"github.com/wneessen/location-manager/internal/http"
	"github.com/wneessen/location-manager/internal/position"
)

const (
	apiEndpoint   = "https://reallyfreegeoip.org/json/"
	lookupTimeout = time.Second * 5
	name          = "geoip"
)

type GeolocationGeoIPProvider struct {
	name     string
	http     *http.Client
	period   time.Duration
	ttl      time.Duration
	locateFn geobus.LocateFunc
}

type APIResult struct {
	IP          string  `json:"ip"`
	CountryCode string  `json:"country_code"`
	Country     string  `json:"country_name"`
	RegionCode  string  `json:"region_code,omitempty"`
	Region      string  `json:"region_name,omitempty"`
	City        string  `json:"city,omitempty"`
	ZipCode     string  `json:"zip_code,omitempty"`
	TimeZone    string  `json:"time_zone"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	MetroCode   int     `json:"metro_code"`
}

func NewGeolocationGeoIPProvider(http *http.Client) (*GeolocationGeoIPProvider, error) {
	if http == nil {
		return nil, errors.New("http client is required")
	}
	provider := &GeolocationGeoIPProvider{
		name:   name,
		http:   http,
		period: time.Minute * 30,
		ttl:    time.Hour * 1,
	}
	provider.locateFn = provider.locate
	return provider, nil
}

func (p *GeolocationGeoIPProvider) Name() string {
	return p.name
}

// LookupStream periodically geolocates the public IP address and emits significant changes.
func (p *GeolocationGeoIPProvider) LookupStream(ctx context.Context, _ string) <-chan position.Position {
	return geobus.PollStream(ctx, p.period, position.DistanceThreshold, p.locateFn)
}

func (p *GeolocationGeoIPProvider) locate(ctx context.Context) (position.Position, error) {
	ctxHttp, cancelHttp := context.WithTimeout(ctx, lookupTimeout)
	defer cancelHttp()

	result := new(APIResult)
	if _, err := p.http.Get(ctxHttp, apiEndpoint, result, nil, nil); err != nil {
		return position.Position{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}
	return p.createResult(result), nil
}

// createResult converts an API result into a Position. The accuracy is derived from how
// specific the result is.
func (p *GeolocationGeoIPProvider) createResult(result *APIResult) position.Position {
	acc := float64(position.AccuracyUnknown)
	switch {
	case result.ZipCode != "":
		acc = position.AccuracyZip
	case result.City != "":
		acc = position.AccuracyCity
	case result.RegionCode != "":
		acc = position.AccuracyRegion
	case result.CountryCode != "":
		acc = position.AccuracyCountry
	}

	return position.Position{
		Lat:      position.Truncate(result.Latitude, position.TruncPrecision),
		Lon:      position.Truncate(result.Longitude, position.TruncPrecision),
		Accuracy: acc,
		Source:   p.name,
		At:       time.Now(),
		TTL:      p.ttl,
	}
}
