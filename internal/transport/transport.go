// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package transport defines how positions leave the process.
package transport

import (
	"context"
	"time"

	"github.com/wneessen/location-manager/internal/position"
)

// Transport delivers a position to a remote collector.
type Transport interface {
	Name() string
	Send(ctx context.Context, pos position.Position) error
	Close() error
}

// Payload is the wire representation of a position shared by all sinks.
type Payload struct {
	DeviceID  string  `json:"device_id" dynamodbav:"device_id"`
	Latitude  float64 `json:"latitude" dynamodbav:"latitude"`
	Longitude float64 `json:"longitude" dynamodbav:"longitude"`
	Altitude  float64 `json:"altitude" dynamodbav:"altitude"`
	Accuracy  float64 `json:"accuracy" dynamodbav:"accuracy"`
	Source    string  `json:"source" dynamodbav:"source"`
	Timestamp string  `json:"timestamp" dynamodbav:"timestamp"`
}

// NewPayload converts pos into a Payload for deviceID.
func NewPayload(deviceID string, pos position.Position) Payload {
	at := pos.At
	if at.IsZero() {
		at = time.Now()
	}
	return Payload{
		DeviceID:  deviceID,
		Latitude:  pos.Lat,
		Longitude: pos.Lon,
		Altitude:  pos.Alt,
		Accuracy:  pos.Accuracy,
		Source:    pos.Source,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}
