// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package service

import (
	"context"
	"fmt"

	"github.com/wneessen/location-manager/internal/config"
	"github.com/wneessen/location-manager/internal/geobus"
	"github.com/wneessen/location-manager/internal/geobus/provider/geoapi"
	"github.com/wneessen/location-manager/internal/geobus/provider/geoclue"
	"github.com/wneessen/location-manager/internal/geobus/provider/geoip"
	"github.com/wneessen/location-manager/internal/geobus/provider/geolocation_file"
	"github.com/wneessen/location-manager/internal/geobus/provider/gpsd"
	"github.com/wneessen/location-manager/internal/geobus/provider/ichnaea"
	"github.com/wneessen/location-manager/internal/http"
	"github.com/wneessen/location-manager/internal/logger"
	"github.com/wneessen/location-manager/internal/transport"
	"github.com/wneessen/location-manager/internal/transport/dynamodbsink"
	"github.com/wneessen/location-manager/internal/transport/httpsink"
	"github.com/wneessen/location-manager/internal/transport/logsink"
	"github.com/wneessen/location-manager/internal/transport/mqttsink"
)

func (s *Service) selectGeobusProviders() ([]geobus.Provider, error) {
	httpClient := http.New(s.logger)
	geoConf := s.config.GeoLocation
	var provider []geobus.Provider

	if !geoConf.DisableGeolocationFile {
		provider = append(provider, geolocation_file.NewGeolocationFileProvider(geoConf.File))
	}

	if !geoConf.DisableGPSD {
		provider = append(provider, gpsd.NewGeolocationGPSDProvider(geoConf.GPSD.Host, geoConf.GPSD.Port,
			gpsd.Mode(geoConf.GPSD.Mode), geoConf.GPSD.MinDistance))
	}

	if !geoConf.DisableGeoClue {
		gcp, err := geoclue.NewGeolocationGeoClueProvider(geoConf.GeoClue.DesktopID, geoConf.GeoClue.Agents)
		if err != nil {
			return nil, fmt.Errorf("failed to create GeoClue provider: %w", err)
		}
		provider = append(provider, gcp)
	}

	if !geoConf.DisableGeoIP {
		gip, err := geoip.NewGeolocationGeoIPProvider(httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to create GeoIP provider: %w", err)
		}
		provider = append(provider, gip)
	}

	if !geoConf.DisableGeoAPI {
		gap, err := geoapi.NewGeolocationGeoAPIProvider(httpClient)
		if err != nil {
			return nil, fmt.Errorf("failed to create GeoAPI provider: %w", err)
		}
		provider = append(provider, gap)
	}

	if !geoConf.DisableICHNAEA {
		mls, err := ichnaea.NewGeolocationICHNAEAProvider(httpClient)
		if err != nil {
			s.logger.Error("failed to create ICHNAEA provider", logger.Err(err))
		} else {
			provider = append(provider, mls)
		}
	}
	if len(provider) == 0 {
		return nil, fmt.Errorf("no geolocation providers enabled")
	}

	return provider, nil
}

func (s *Service) selectTransport(ctx context.Context) (transport.Transport, error) {
	var (
		sink transport.Transport
		err  error
	)
	conf := s.config.Transport
	switch conf.Type {
	case config.TransportLog:
		sink, err = logsink.New(s.logger, s.config.DeviceID)
	case config.TransportHTTP:
		sink, err = httpsink.New(http.New(s.logger), conf.HTTP.Endpoint, conf.HTTP.Token, s.config.DeviceID)
	case config.TransportMQTT:
		sink, err = mqttsink.New(mqttsink.Config{
			Broker:   conf.MQTT.Broker,
			Topic:    conf.MQTT.Topic,
			ClientID: conf.MQTT.ClientID,
			Username: conf.MQTT.Username,
			Password: conf.MQTT.Password,
			QoS:      conf.MQTT.QoS,
			Retain:   conf.MQTT.Retain,
		}, s.config.DeviceID)
	case config.TransportDynamoDB:
		sink, err = dynamodbsink.New(ctx, conf.DynamoDB.Table, conf.DynamoDB.Region, s.config.DeviceID)
	default:
		return nil, fmt.Errorf("unsupported transport type: %s", conf.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s transport: %w", conf.Type, err)
	}
	return sink, nil
}
