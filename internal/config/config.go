// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kkyr/fig"
)

const (
	configEnv = "LOCATIONMANAGER"
	AppName   = "location-manager"

	TransportLog      = "log"
	TransportHTTP     = "http"
	TransportMQTT     = "mqtt"
	TransportDynamoDB = "dynamodb"

	GPSDModeWatch = "watch"
	GPSDModePoll  = "poll"
)

var machineIDFiles = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// Config represents the application's configuration structure.
type Config struct {
	LogLevel slog.Level `fig:"loglevel" default:"0"`
	// Identifies this device towards the collector. Derived from the machine id if empty.
	DeviceID string `fig:"device_id"`

	// Zero intervals fall back to the defaults.
	Intervals struct {
		Post   time.Duration `fig:"post" default:"5m"`
		Output time.Duration `fig:"output" default:"30s"`
	} `fig:"intervals"`

	GeoLocation struct {
		File                   string `fig:"file"`
		DisableGeoIP           bool   `fig:"disable_geoip"`
		DisableGeoAPI          bool   `fig:"disable_geoapi"`
		DisableGeolocationFile bool   `fig:"disable_geolocation_file"`
		DisableICHNAEA         bool   `fig:"disable_ichnaea"`
		DisableGPSD            bool   `fig:"disable_gpsd"`
		DisableGeoClue         bool   `fig:"disable_geoclue"`

		GPSD struct {
			Host string `fig:"host" default:"localhost"`
			Port string `fig:"port" default:"2947"`
			// Allowed values: watch, poll
			Mode        string  `fig:"mode" default:"watch"`
			MinDistance float64 `fig:"min_distance" default:"10"`
		} `fig:"gpsd"`

		GeoClue struct {
			DesktopID string   `fig:"desktop_id" default:"location-manager"`
			Agents    []string `fig:"agents"`
		} `fig:"geoclue"`
	} `fig:"geolocation"`

	Transport struct {
		// Allowed values: log, http, mqtt, dynamodb
		Type string `fig:"type" default:"log"`

		HTTP struct {
			Endpoint string `fig:"endpoint"`
			Token    string `fig:"token"`
		} `fig:"http"`

		MQTT struct {
			Broker   string `fig:"broker"`
			Topic    string `fig:"topic" default:"location-manager/locations"`
			ClientID string `fig:"client_id"`
			Username string `fig:"username"`
			Password string `fig:"password"`
			QoS      uint8  `fig:"qos" default:"1"`
			Retain   bool   `fig:"retain"`
		} `fig:"mqtt"`

		DynamoDB struct {
			Table  string `fig:"table"`
			Region string `fig:"region"`
		} `fig:"dynamodb"`
	} `fig:"transport"`

	Metrics struct {
		// Address for the Prometheus /metrics endpoint, disabled if empty
		Listen string `fig:"listen"`
	} `fig:"metrics"`
}

func NewFromFile(path, file string) (*Config, error) {
	conf := new(Config)
	_, err := os.Stat(filepath.Join(path, file))
	if err != nil {
		return conf, fmt.Errorf("failed to read Config: %w", err)
	}
	if err = fig.Load(conf, fig.Dirs(path), fig.File(file), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func New() (*Config, error) {
	conf := new(Config)
	if err := fig.Load(conf, fig.AllowNoFile(), fig.UseEnv(configEnv)); err != nil {
		return conf, fmt.Errorf("failed to load Config: %w", err)
	}

	return conf, conf.Validate()
}

func (c *Config) Validate() error {
	if c.Intervals.Post <= 0 {
		return fmt.Errorf("invalid post interval: %s", c.Intervals.Post)
	}
	if c.Intervals.Output <= 0 {
		return fmt.Errorf("invalid output interval: %s", c.Intervals.Output)
	}

	mode := strings.ToLower(c.GeoLocation.GPSD.Mode)
	if mode != GPSDModeWatch && mode != GPSDModePoll {
		return fmt.Errorf("invalid gpsd mode: %s", c.GeoLocation.GPSD.Mode)
	}
	c.GeoLocation.GPSD.Mode = mode
	if c.GeoLocation.GPSD.MinDistance < 0 {
		return fmt.Errorf("invalid gpsd min distance: %f", c.GeoLocation.GPSD.MinDistance)
	}

	c.Transport.Type = strings.ToLower(c.Transport.Type)
	switch c.Transport.Type {
	case TransportLog:
	case TransportHTTP:
		if c.Transport.HTTP.Endpoint == "" {
			return fmt.Errorf("http transport requires an endpoint")
		}
	case TransportMQTT:
		if c.Transport.MQTT.Broker == "" {
			return fmt.Errorf("mqtt transport requires a broker")
		}
		if c.Transport.MQTT.QoS > 2 {
			return fmt.Errorf("invalid mqtt qos: %d", c.Transport.MQTT.QoS)
		}
	case TransportDynamoDB:
		if c.Transport.DynamoDB.Table == "" {
			return fmt.Errorf("dynamodb transport requires a table")
		}
	default:
		return fmt.Errorf("invalid transport type: %s", c.Transport.Type)
	}

	if c.GeoLocation.File == "" {
		home, _ := os.UserHomeDir()
		c.GeoLocation.File = filepath.Join(home, ".config", AppName, "geolocation")
	}
	if c.DeviceID == "" {
		c.DeviceID = deviceID()
	}

	return nil
}

// deviceID returns a UUID derived from the machine id so it stays stable across restarts. A
// random UUID is used if no machine id is available.
func deviceID() string {
	if id := machineID(); id != "" {
		return uuid.NewSHA1(uuid.NameSpaceOID, []byte(AppName+":"+id)).String()
	}
	return uuid.NewString()
}

func machineID() string {
	for _, file := range machineIDFiles {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id
		}
	}
	return ""
}
