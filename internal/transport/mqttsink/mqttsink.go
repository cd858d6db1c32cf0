// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package mqttsink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wneessen/location-manager/internal/position"
	"github.com/wneessen/location-manager/internal/transport"
)

const (
	name = "mqtt"

	connectTimeout = time.Second * 30
	publishTimeout = time.Second * 10
	keepAlive      = time.Minute * 2
	quiesceMillis  = 250
)

var ErrTimeout = errors.New("timed out waiting for MQTT broker")

// client is the part of mqtt.Client the sink uses.
type client interface {
	IsConnected() bool
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
	Disconnect(quiesce uint)
}

type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	QoS      byte
	Retain   bool
}

// Sink publishes positions as JSON to an MQTT topic. The broker connection is established on
// the first Send.
type Sink struct {
	client   client
	topic    string
	qos      byte
	retain   bool
	deviceID string

	mu sync.Mutex
}

func New(conf Config, deviceID string) (*Sink, error) {
	if conf.Broker == "" {
		return nil, errors.New("broker is required")
	}
	if conf.Topic == "" {
		return nil, errors.New("topic is required")
	}
	if conf.QoS > 2 {
		return nil, fmt.Errorf("invalid QoS level %d", conf.QoS)
	}
	clientID := conf.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("location-manager-%s", deviceID)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(conf.Broker)
	opts.SetClientID(clientID)
	opts.SetUsername(conf.Username)
	opts.SetPassword(conf.Password)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(keepAlive)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)

	return newSink(mqtt.NewClient(opts), conf, deviceID), nil
}

func newSink(c client, conf Config, deviceID string) *Sink {
	return &Sink{
		client:   c,
		topic:    conf.Topic,
		qos:      conf.QoS,
		retain:   conf.Retain,
		deviceID: deviceID,
	}
}

func (s *Sink) Name() string {
	return name
}

// Send publishes pos to the configured topic and waits for the broker to acknowledge it
// according to the QoS level.
func (s *Sink) Send(ctx context.Context, pos position.Position) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	payload, err := json.Marshal(transport.NewPayload(s.deviceID, pos))
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	if err = wait(ctx, s.client.Publish(s.topic, s.qos, s.retain, payload), publishTimeout); err != nil {
		return fmt.Errorf("failed to publish position: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client.IsConnected() {
		s.client.Disconnect(quiesceMillis)
	}
	return nil
}

func (s *Sink) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client.IsConnected() {
		return nil
	}
	if err := wait(ctx, s.client.Connect(), connectTimeout); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// wait blocks until token completes, ctx is done or timeout expires.
func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrTimeout
	}
}
