// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package geoclue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/wneessen/location-manager/internal/geobus"
	"github.com/wneessen/location-manager/internal/position"
)

const (
	name = "geoclue"

	busName         = "org.freedesktop.GeoClue2"
	managerPath     = "/org/freedesktop/GeoClue2/Manager"
	managerIface    = "org.freedesktop.GeoClue2.Manager"
	clientIface     = "org.freedesktop.GeoClue2.Client"
	locationIface   = "org.freedesktop.GeoClue2.Location"
	propertiesIface = "org.freedesktop.DBus.Properties"
	listNamesMethod = "org.freedesktop.DBus.ListNames"
	locationUpdated = "LocationUpdated"

	// accuracyLevelExact is GCLUE_ACCURACY_LEVEL_EXACT
	accuracyLevelExact uint32 = 8

	DefaultMinDistance = 10.0 // meters
	signalBufferSize   = 8
)

var DefaultAgents = []string{
	"org.freedesktop.GeoClue2.DemoAgent",
	"org.gnome.Shell",
	"org.kde.plasmashell",
}

// GeolocationGeoClueProvider streams positions from GeoClue2 over the system bus. GeoClue hands
// permission decisions to an agent, so Authorize requires one to be registered.
type GeolocationGeoClueProvider struct {
	name        string
	desktopID   string
	agents      []string
	minDistance float64
	ttl         time.Duration

	listNamesFn func(ctx context.Context) ([]string, error)
	subscribeFn func(ctx context.Context) (<-chan position.Position, error)
}

func NewGeolocationGeoClueProvider(desktopID string, agents []string) (*GeolocationGeoClueProvider, error) {
	if desktopID == "" {
		return nil, errors.New("desktop id is required")
	}
	if len(agents) == 0 {
		agents = DefaultAgents
	}
	provider := &GeolocationGeoClueProvider{
		name:        name,
		desktopID:   desktopID,
		agents:      agents,
		minDistance: DefaultMinDistance,
		ttl:         time.Minute * 30,
	}
	provider.listNamesFn = listSessionNames
	provider.subscribeFn = provider.subscribe
	return provider, nil
}

func (p *GeolocationGeoClueProvider) Name() string {
	return p.name
}

// Authorize reports whether a GeoClue agent is running on the session bus.
func (p *GeolocationGeoClueProvider) Authorize(ctx context.Context) error {
	names, err := p.listNamesFn(ctx)
	if err != nil {
		return err
	}
	for _, n := range names {
		for _, agent := range p.agents {
			if strings.EqualFold(n, agent) {
				return nil
			}
		}
	}
	return fmt.Errorf("%w: no geoclue agent registered", geobus.ErrAuthorizationDenied)
}

func (p *GeolocationGeoClueProvider) LookupStream(ctx context.Context, _ string) <-chan position.Position {
	out := make(chan position.Position)
	go func() {
		defer close(out)
		updates, err := p.subscribeFn(ctx)
		if err != nil {
			return
		}

		state := position.NewState(p.minDistance)
		for {
			select {
			case <-ctx.Done():
				return
			case pos, ok := <-updates:
				if !ok {
					return
				}
				if !state.HasChanged(pos) {
					continue
				}
				state.Update(pos)
				select {
				case out <- pos:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// subscribe creates a GeoClue client, starts it and converts its LocationUpdated signals into
// positions. The returned channel is closed when ctx is done or the bus goes away.
func (p *GeolocationGeoClueProvider) subscribe(ctx context.Context) (<-chan position.Position, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	var clientPath dbus.ObjectPath
	manager := conn.Object(busName, managerPath)
	if err = manager.CallWithContext(ctx, managerIface+".GetClient", 0).Store(&clientPath); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to get geoclue client: %w", err)
	}

	client := conn.Object(busName, clientPath)
	if err = client.SetProperty(clientIface+".DesktopId", dbus.MakeVariant(p.desktopID)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set desktop id: %w", err)
	}
	if err = client.SetProperty(clientIface+".RequestedAccuracyLevel", dbus.MakeVariant(accuracyLevelExact)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set requested accuracy level: %w", err)
	}

	if err = conn.AddMatchSignal(dbus.WithMatchObjectPath(clientPath), dbus.WithMatchInterface(clientIface),
		dbus.WithMatchMember(locationUpdated)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to subscribe to location updates: %w", err)
	}
	sigCh := make(chan *dbus.Signal, signalBufferSize)
	conn.Signal(sigCh)

	if err = client.CallWithContext(ctx, clientIface+".Start", 0).Err; err != nil {
		_ = conn.Close()
		return nil, startError(err)
	}

	out := make(chan position.Position)
	go func() {
		defer close(out)
		defer func() {
			_ = client.Call(clientIface+".Stop", 0).Err
			_ = conn.Close()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case sgn, ok := <-sigCh:
				if !ok {
					return
				}
				locationPath, ok := newLocationPath(sgn)
				if !ok {
					continue
				}
				var props map[string]dbus.Variant
				if err := conn.Object(busName, locationPath).CallWithContext(ctx, propertiesIface+".GetAll", 0,
					locationIface).Store(&props); err != nil {
					continue
				}
				pos, err := p.createResult(props)
				if err != nil {
					continue
				}
				select {
				case out <- pos:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// createResult composes a Position from the properties of a GeoClue Location object.
func (p *GeolocationGeoClueProvider) createResult(props map[string]dbus.Variant) (position.Position, error) {
	lat, okLat := props["Latitude"].Value().(float64)
	lon, okLon := props["Longitude"].Value().(float64)
	if !okLat || !okLon {
		return position.Position{}, errors.New("location is missing coordinates")
	}
	acc, _ := props["Accuracy"].Value().(float64)
	alt, _ := props["Altitude"].Value().(float64)

	// GeoClue reports -Double.MAX when the altitude is unknown
	if alt < -1e6 {
		alt = 0
	}
	result := position.Position{
		Lat:      lat,
		Lon:      lon,
		Alt:      alt,
		Accuracy: acc,
		Source:   p.name,
		At:       timestamp(props["Timestamp"]),
		TTL:      p.ttl,
	}
	if !result.Valid() {
		return position.Position{}, fmt.Errorf("invalid coordinates %f,%f", lat, lon)
	}
	return result, nil
}

// timestamp converts the (tt) Timestamp property into a time.Time, falling back to now.
func timestamp(v dbus.Variant) time.Time {
	parts, ok := v.Value().([]any)
	if !ok || len(parts) != 2 {
		return time.Now()
	}
	sec, okSec := parts[0].(uint64)
	usec, okUsec := parts[1].(uint64)
	if !okSec || !okUsec || sec == 0 {
		return time.Now()
	}
	return time.Unix(int64(sec), int64(usec)*int64(time.Microsecond))
}

func newLocationPath(sgn *dbus.Signal) (dbus.ObjectPath, bool) {
	if sgn == nil || len(sgn.Body) != 2 {
		return "", false
	}
	path, ok := sgn.Body[1].(dbus.ObjectPath)
	return path, ok && path.IsValid()
}

func startError(err error) error {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) && strings.HasSuffix(dbusErr.Name, "AccessDenied") {
		return fmt.Errorf("%w: %s", geobus.ErrAuthorizationDenied, dbusErr.Error())
	}
	return fmt.Errorf("failed to start geoclue client: %w", err)
}

func listSessionNames(ctx context.Context) (list []string, err error) {
	conn, err := dbus.ConnectSessionBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close session bus: %w", closeErr))
		}
	}()

	if err = conn.BusObject().CallWithContext(ctx, listNamesMethod, 0).Store(&list); err != nil {
		return nil, fmt.Errorf("failed to call DBus ListNames: %w", err)
	}
	return list, nil
}
