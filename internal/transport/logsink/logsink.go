// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package logsink

import (
	"context"
	"errors"
	"log/slog"

	"github.com/wneessen/location-manager/internal/logger"
	"github.com/wneessen/location-manager/internal/position"
	"github.com/wneessen/location-manager/internal/transport"
)

const name = "log"

// Sink writes positions to the application log. It is used when no collector is configured.
type Sink struct {
	logger   *logger.Logger
	deviceID string
}

func New(log *logger.Logger, deviceID string) (*Sink, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	return &Sink{logger: log, deviceID: deviceID}, nil
}

func (s *Sink) Name() string {
	return name
}

func (s *Sink) Send(ctx context.Context, pos position.Position) error {
	payload := transport.NewPayload(s.deviceID, pos)
	s.logger.LogAttrs(ctx, slog.LevelInfo, "current location",
		slog.String("device_id", payload.DeviceID),
		slog.Float64("latitude", payload.Latitude),
		slog.Float64("longitude", payload.Longitude),
		slog.Float64("accuracy", payload.Accuracy),
		slog.String("source", payload.Source),
		slog.String("timestamp", payload.Timestamp),
	)
	return nil
}

func (s *Sink) Close() error {
	return nil
}
