// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package httpsink

import (
	"context"
	"errors"
	"fmt"

	"github.com/wneessen/location-manager/internal/http"
	"github.com/wneessen/location-manager/internal/position"
	"github.com/wneessen/location-manager/internal/transport"
)

const name = "http"

var ErrUnexpectedStatus = errors.New("unexpected HTTP status")

// Sink posts positions as JSON to a collector endpoint.
type Sink struct {
	http     *http.Client
	endpoint string
	token    string
	deviceID string
}

func New(client *http.Client, endpoint, token, deviceID string) (*Sink, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	return &Sink{
		http:     client,
		endpoint: endpoint,
		token:    token,
		deviceID: deviceID,
	}, nil
}

func (s *Sink) Name() string {
	return name
}

// Send posts pos to the endpoint. Any non-2xx response is reported as ErrUnexpectedStatus.
func (s *Sink) Send(ctx context.Context, pos position.Position) error {
	var headers map[string]string
	if s.token != "" {
		headers = map[string]string{"Authorization": "Bearer " + s.token}
	}
	code, err := s.http.PostJSON(ctx, s.endpoint, transport.NewPayload(s.deviceID, pos), nil, headers)
	if err != nil {
		return fmt.Errorf("failed to post position: %w", err)
	}
	if code < 200 || code > 299 {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, code)
	}
	return nil
}

func (s *Sink) Close() error {
	s.http.CloseIdleConnections()
	return nil
}
