// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoapi

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/wneessen/location-manager/internal/geobus"
	"github.com/wneessen/location-manager/internal/http"
	"github.com/wneessen/location-manager/internal/position"
)

const (
	apiEndpoint   = "https://geoapi.info/api/geo"
	lookupTimeout = time.Second * 5
	name          = "geoapi"
)

type GeolocationGeoAPIProvider struct {
	name     string
	http     *http.Client
	period   time.Duration
	ttl      time.Duration
	locateFn geobus.LocateFunc
}

type APIResult struct {
	IP       string `json:"ip"`
	Location struct {
		CountryCode string `json:"country,omitempty"`
		Country     string `json:"countryName,omitempty"`
		Region      string `json:"region,omitempty"`
		City        string `json:"city,omitempty"`
		ZipCode     string `json:"postalCode,omitempty"`
		TimeZone    string `json:"timezone"`
		Coordinates struct {
			Latitude  string `json:"latitude"`
			Longitude string `json:"longitude"`
		} `json:"coordinates"`
	} `json:"location"`
}

func NewGeolocationGeoAPIProvider(http *http.Client) (*GeolocationGeoAPIProvider, error) {
	if http == nil {
		return nil, errors.New("http client is required")
	}
	provider := &GeolocationGeoAPIProvider{
		name:   name,
		http:   http,
		period: time.Minute * 10,
		ttl:    time.Hour * 2,
	}
	provider.locateFn = provider.locate
	return provider, nil
}

func (p *GeolocationGeoAPIProvider) Name() string {
	return p.name
}

func (p *GeolocationGeoAPIProvider) LookupStream(ctx context.Context, _ string) <-chan position.Position {
	return geobus.PollStream(ctx, p.period, position.DistanceThreshold, p.locateFn)
}

func (p *GeolocationGeoAPIProvider) locate(ctx context.Context) (position.Position, error) {
	ctxHttp, cancelHttp := context.WithTimeout(ctx, lookupTimeout)
	defer cancelHttp()

	result := new(APIResult)
	if _, err := p.http.Get(ctxHttp, apiEndpoint, result, nil, nil); err != nil {
		return position.Position{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}
	return p.createResult(result)
}

func (p *GeolocationGeoAPIProvider) createResult(result *APIResult) (position.Position, error) {
	acc := float64(position.AccuracyUnknown)
	switch {
	case result.Location.ZipCode != "":
		acc = position.AccuracyZip
	case result.Location.City != "":
		acc = position.AccuracyCity
	case result.Location.Region != "":
		acc = position.AccuracyRegion
	case result.Location.CountryCode != "":
		acc = position.AccuracyCountry
	}

	lat, err := strconv.ParseFloat(result.Location.Coordinates.Latitude, 64)
	if err != nil {
		return position.Position{}, fmt.Errorf("failed to parse latitude from API response: %w", err)
	}
	lon, err := strconv.ParseFloat(result.Location.Coordinates.Longitude, 64)
	if err != nil {
		return position.Position{}, fmt.Errorf("failed to parse longitude from API response: %w", err)
	}

	return position.Position{
		Lat:      position.Truncate(lat, position.TruncPrecision),
		Lon:      position.Truncate(lon, position.TruncPrecision),
		Accuracy: acc,
		Source:   p.name,
		At:       time.Now(),
		TTL:      p.ttl,
	}, nil
}
