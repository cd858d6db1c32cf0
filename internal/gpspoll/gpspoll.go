// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package gpspoll implements a minimal gpsd client speaking gpsd's JSON protocol.
package gpspoll

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"time"
)

const (
	fallbackAccuracy3DFix = 10  // ~10 m typical consumer GPS in open sky
	fallbackAccuracy2DFix = 25  // worse than 3D, but still accurate enough
	fallbackAccuracyNoFix = 1e6 // effectively unusable
	watchTimeout          = time.Second * 2
)

// ErrNoVersion is returned by Probe if the peer did not greet with a gpsd VERSION object.
var ErrNoVersion = errors.New("no VERSION greeting received from GPSd")

// Client is a minimal GPSd client
type Client struct {
	Addr string
}

// Fix represents a single GPS fix from gpsd.
type Fix struct {
	Lat  float64
	Lon  float64
	Alt  float64
	Acc  float64
	Mode int
	Time time.Time
}

// Version is the greeting gpsd sends on every new connection.
type Version struct {
	Release    string `json:"release"`
	ProtoMajor int    `json:"proto_major"`
	ProtoMinor int    `json:"proto_minor"`
}

// report matches the subset of gpsd's TPV and VERSION objects we care about.
type report struct {
	Class      string    `json:"class"`
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	Alt        float64   `json:"alt"`
	Mode       int       `json:"mode"`
	Time       time.Time `json:"time"`
	Epx        float64   `json:"epx"`
	Epy        float64   `json:"epy"`
	Eph        float64   `json:"eph"`
	Epv        float64   `json:"epv"`
	Release    string    `json:"release"`
	ProtoMajor int       `json:"proto_major"`
	ProtoMinor int       `json:"proto_minor"`
}

// New constructs a new Client for the given host and port.
func New(host, port string) *Client {
	return &Client{
		Addr: net.JoinHostPort(host, port),
	}
}

// Poll connects to gpsd, enables a WATCH, and returns the first TPV report. The connection
// is closed before returning.
func (c *Client) Poll(ctx context.Context) (Fix, error) {
	var zero Fix

	conn, err := c.dial(ctx)
	if err != nil {
		return zero, err
	}
	defer func() {
		_ = conn.Close()
	}()

	if _, err = fmt.Fprint(conn, `?WATCH={"enable":true,"json":true}`+"\n"); err != nil {
		return zero, fmt.Errorf("gpspoll: write WATCH: %w", err)
	}

	// Wait for a TPV response or timeout.
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		default:
		}

		var resp report
		if err = json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		if resp.Class != "TPV" {
			continue
		}

		return Fix{
			Lat:  resp.Lat,
			Lon:  resp.Lon,
			Alt:  resp.Alt,
			Acc:  horizontalAccuracyMeters(resp),
			Mode: resp.Mode,
			Time: resp.Time,
		}, nil
	}

	if err = scanner.Err(); err != nil {
		return zero, fmt.Errorf("failed to scan GPSd response: %w", err)
	}

	return zero, errors.New("no TPV response received from GPSd")
}

// Probe connects to gpsd and returns its VERSION greeting. It is used to check that a
// daemon is reachable before a session relies on it.
func (c *Client) Probe(ctx context.Context) (Version, error) {
	var zero Version

	conn, err := c.dial(ctx)
	if err != nil {
		return zero, err
	}
	defer func() {
		_ = conn.Close()
	}()

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err = scanner.Err(); err != nil {
			return zero, fmt.Errorf("failed to read GPSd greeting: %w", err)
		}
		return zero, ErrNoVersion
	}
	var resp report
	if err = json.Unmarshal(scanner.Bytes(), &resp); err != nil || resp.Class != "VERSION" {
		return zero, ErrNoVersion
	}
	return Version{Release: resp.Release, ProtoMajor: resp.ProtoMajor, ProtoMinor: resp.ProtoMinor}, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("gpspoll: dial gpsd: %w", err)
	}

	// Respect context deadline if present, otherwise add a safety net so we don't hang forever.
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(watchTimeout))
	}
	return conn, nil
}

// Has2DFix reports whether the fix has at least a 2D fix.
func (f Fix) Has2DFix() bool {
	return f.Mode >= 2
}

func horizontalAccuracyMeters(tpv report) float64 {
	switch {
	case tpv.Eph > 0:
		return tpv.Eph
	case tpv.Epx > 0 && tpv.Epy > 0:
		// sqrt(epx² + epy²)
		return math.Hypot(tpv.Epx, tpv.Epy)
	default:
		return HorizontalAccuracyFallback(tpv.Mode)
	}
}

// HorizontalAccuracyFallback returns a typical horizontal accuracy in meters for a fix mode
// when gpsd reports no error estimate.
func HorizontalAccuracyFallback(mode int) float64 {
	switch mode {
	case 3:
		return fallbackAccuracy3DFix
	case 2:
		return fallbackAccuracy2DFix
	default:
		return fallbackAccuracyNoFix
	}
}
