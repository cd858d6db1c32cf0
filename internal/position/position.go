// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package position holds the geographic fix type that flows from the sensors to the
// transports.
package position

import (
	"math"
	"time"
)

const (
	EarthRadius       = 6371000.0 // meters
	DistanceThreshold = 2500.0    // 2.5km
	AccuracyThreshold = 50.0
	TruncPrecision    = 4
)

// Typical horizontal accuracies in meters for coarse sources.
const (
	AccuracyCountry = 300000
	AccuracyRegion  = 100000
	AccuracyCity    = 15000
	AccuracyZip     = 3000
	AccuracyUnknown = 1000000
)

// Position is a point-in-time geographic fix.
type Position struct {
	Lat      float64
	Lon      float64
	Alt      float64
	Accuracy float64
	Source   string
	At       time.Time
	TTL      time.Duration
}

// Valid checks if the position is within the EPSG:4326 bounds.
func (p Position) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lon >= -180 && p.Lon <= 180
}

// IsExpired reports whether the position is older than its TTL. A zero TTL never expires.
func (p Position) IsExpired() bool {
	return p.TTL > 0 && time.Since(p.At) > p.TTL
}

// DistanceTo returns the great-circle distance in meters between p and other, using the
// Haversine formula.
func (p Position) DistanceTo(other Position) float64 {
	dLat := (p.Lat - other.Lat) * math.Pi / 180
	dLon := (p.Lon - other.Lon) * math.Pi / 180
	lat1 := p.Lat * math.Pi / 180
	lat2 := other.Lat * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadius * math.Asin(math.Sqrt(h))
}

// MovedFrom reports whether p differs from other by more than minDistance meters, or whether p
// is more accurate than other by more than AccuracyThreshold. With a minDistance of zero any
// coordinate difference counts.
func (p Position) MovedFrom(other Position, minDistance float64) bool {
	// Higher accuracy always trumps the distance threshold.
	if p.Accuracy < other.Accuracy && math.Abs(p.Accuracy-other.Accuracy) > AccuracyThreshold {
		return true
	}
	if minDistance <= 0 {
		return p.Lat != other.Lat || p.Lon != other.Lon
	}
	return p.DistanceTo(other) > minDistance
}

// Truncate cuts x down to the given number of decimal places.
func Truncate(x float64, precision int) float64 {
	p := math.Pow(10, float64(precision))
	return math.Trunc(x*p) / p
}
