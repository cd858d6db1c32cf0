// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package ichnaea

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mdlayher/wifi"

	"github.com/wneessen/location-manager/internal/geobus"
	"github.com/wneessen/location-manager/internal/http"
	"github.com/wneessen/location-manager/internal/position"
)

const (
	apiEndpoint   = "https://api.beacondb.net/v1/geolocate"
	lookupTimeout = time.Second * 5
	wifiScanTime  = time.Minute * 2
	name          = "ichnaea"
	minDistance   = 100.0 // meters
)

var ErrNoStationInterface = errors.New("no WiFi station interface found")

// wifiScanner is the part of *wifi.Client the provider needs.
type wifiScanner interface {
	Interfaces() ([]*wifi.Interface, error)
	AccessPoints(ifi *wifi.Interface) ([]*wifi.BSS, error)
}

type GeolocationICHNAEAProvider struct {
	name     string
	http     *http.Client
	wlan     wifiScanner
	period   time.Duration
	ttl      time.Duration
	locateFn geobus.LocateFunc

	apLock sync.RWMutex
	aps    []WirelessNetwork
}

type APIResult struct {
	Location struct {
		Latitude  float64 `json:"lat"`
		Longitude float64 `json:"lng"`
	} `json:"location"`
	Accuracy float64 `json:"accuracy"`
}

type WirelessNetwork struct {
	LastSeen       int64  `json:"age"`
	MACAddress     string `json:"macAddress"`
	SignalStrength int32  `json:"signalStrength"`
}

func NewGeolocationICHNAEAProvider(http *http.Client) (*GeolocationICHNAEAProvider, error) {
	if http == nil {
		return nil, errors.New("http client is required")
	}
	wlan, err := wifi.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create wifi client: %w", err)
	}
	return newProvider(http, wlan), nil
}

func newProvider(http *http.Client, wlan wifiScanner) *GeolocationICHNAEAProvider {
	provider := &GeolocationICHNAEAProvider{
		name:   name,
		http:   http,
		wlan:   wlan,
		period: time.Minute * 5,
		ttl:    time.Hour * 1,
	}
	provider.locateFn = provider.locate
	return provider
}

func (p *GeolocationICHNAEAProvider) Name() string {
	return p.name
}

// Authorize checks that at least one WiFi station interface can be scanned.
func (p *GeolocationICHNAEAProvider) Authorize(context.Context) error {
	ifaces, err := p.stationInterfaces()
	if err != nil {
		return err
	}
	if len(ifaces) == 0 {
		return ErrNoStationInterface
	}
	return nil
}

// LookupStream scans nearby access points in the background and periodically asks the
// geolocation API where they are.
func (p *GeolocationICHNAEAProvider) LookupStream(ctx context.Context, _ string) <-chan position.Position {
	go p.monitorWifiAccessPoints(ctx)
	return geobus.PollStream(ctx, p.period, minDistance, p.locateFn)
}

// createResult composes a Position from the API result.
func (p *GeolocationICHNAEAProvider) createResult(result *APIResult) position.Position {
	return position.Position{
		Lat:      position.Truncate(result.Location.Latitude, position.TruncPrecision),
		Lon:      position.Truncate(result.Location.Longitude, position.TruncPrecision),
		Accuracy: position.Truncate(result.Accuracy, position.TruncPrecision),
		Source:   p.name,
		At:       time.Now(),
		TTL:      p.ttl,
	}
}

func (p *GeolocationICHNAEAProvider) monitorWifiAccessPoints(ctx context.Context) {
	firstRun := true
	for {
		if !firstRun {
			select {
			case <-ctx.Done():
				return
			case <-time.After(wifiScanTime):
			}
		}
		firstRun = false

		list, err := p.wifiAccessPoints()
		if err != nil {
			continue
		}
		p.apLock.Lock()
		p.aps = list
		p.apLock.Unlock()
	}
}

func (p *GeolocationICHNAEAProvider) stationInterfaces() ([]*wifi.Interface, error) {
	ifaces, err := p.wlan.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}
	var stations []*wifi.Interface
	for _, iface := range ifaces {
		if iface.Type != wifi.InterfaceTypeStation {
			continue
		}
		stations = append(stations, iface)
	}
	return stations, nil
}

func (p *GeolocationICHNAEAProvider) wifiAccessPoints() ([]WirelessNetwork, error) {
	ifaces, err := p.stationInterfaces()
	if err != nil {
		return nil, err
	}

	var list []WirelessNetwork
	for _, iface := range ifaces {
		aps, err := p.wlan.AccessPoints(iface)
		if err != nil {
			continue
		}
		for _, ap := range aps {
			// Networks ending in _nomap opted out of location services
			if ap.SSID == "" || ap.SSID[0] == '\x00' || strings.HasSuffix(ap.SSID, "_nomap") {
				continue
			}
			list = append(list, WirelessNetwork{
				SignalStrength: ap.Signal / 100,
				MACAddress:     ap.BSSID.String(),
				LastSeen:       ap.LastSeen.Milliseconds(),
			})
		}
	}
	return list, nil
}

func (p *GeolocationICHNAEAProvider) locate(ctx context.Context) (position.Position, error) {
	p.apLock.RLock()
	wifiList := p.aps
	p.apLock.RUnlock()

	type request struct {
		ConsiderIP   bool              `json:"considerIp"`
		Accesspoints []WirelessNetwork `json:"wifiAccessPoints,omitempty"`
	}
	req := request{
		ConsiderIP:   true,
		Accesspoints: wifiList,
	}
	ctxHttp, cancelHttp := context.WithTimeout(ctx, lookupTimeout)
	defer cancelHttp()
	result := new(APIResult)
	if _, err := p.http.PostJSON(ctxHttp, apiEndpoint, req, result, nil); err != nil {
		return position.Position{}, fmt.Errorf("failed to get geolocation data from API: %w", err)
	}
	return p.createResult(result), nil
}
