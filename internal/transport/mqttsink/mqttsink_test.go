// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

package mqttsink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/wneessen/location-manager/internal/position"
	"github.com/wneessen/location-manager/internal/transport"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		conf    Config
		wantErr bool
	}{
		{"valid config", Config{Broker: "tcp://localhost:1883", Topic: "locations"}, false},
		{"missing broker", Config{Topic: "locations"}, true},
		{"missing topic", Config{Broker: "tcp://localhost:1883"}, true},
		{"invalid qos", Config{Broker: "tcp://localhost:1883", Topic: "locations", QoS: 3}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sink, err := New(tc.conf, "device-1")
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected sink creation to fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("failed to create sink: %s", err)
			}
			if sink.Name() != name {
				t.Errorf("expected sink name to be %s, got %s", name, sink.Name())
			}
		})
	}
}

func TestSink_Send(t *testing.T) {
	pos := position.Position{Lat: 37.1, Lon: -122.1, Accuracy: 5, Source: "gpsd"}
	conf := Config{Topic: "devices/locations", QoS: 1, Retain: true}

	t.Run("send connects once and publishes", func(t *testing.T) {
		fake := &fakeClient{}
		sink := newSink(fake, conf, "device-1")
		for range 2 {
			if err := sink.Send(t.Context(), pos); err != nil {
				t.Fatalf("failed to send position: %s", err)
			}
		}
		if fake.connects != 1 {
			t.Errorf("expected 1 connect, got %d", fake.connects)
		}
		if len(fake.published) != 2 {
			t.Fatalf("expected 2 publishes, got %d", len(fake.published))
		}
		msg := fake.published[0]
		if msg.topic != conf.Topic || msg.qos != 1 || !msg.retained {
			t.Errorf("unexpected publish options: %+v", msg)
		}
		var payload transport.Payload
		if err := json.Unmarshal(msg.payload, &payload); err != nil {
			t.Fatalf("failed to decode payload: %s", err)
		}
		if payload.DeviceID != "device-1" || payload.Latitude != 37.1 {
			t.Errorf("unexpected payload: %+v", payload)
		}
	})
	t.Run("connect failure fails", func(t *testing.T) {
		fake := &fakeClient{connectErr: errors.New("intentionally failing")}
		sink := newSink(fake, conf, "device-1")
		if err := sink.Send(t.Context(), pos); err == nil {
			t.Fatal("expected send to fail")
		}
		if len(fake.published) != 0 {
			t.Error("expected no publish after failed connect")
		}
	})
	t.Run("publish failure fails", func(t *testing.T) {
		fake := &fakeClient{publishErr: errors.New("intentionally failing")}
		sink := newSink(fake, conf, "device-1")
		if err := sink.Send(t.Context(), pos); err == nil {
			t.Fatal("expected send to fail")
		}
	})
	t.Run("unacknowledged publish times out", func(t *testing.T) {
		synctest.Test(t, func(t *testing.T) {
			fake := &fakeClient{hang: true}
			sink := newSink(fake, conf, "device-1")
			if err := sink.Send(t.Context(), pos); !errors.Is(err, ErrTimeout) {
				t.Errorf("expected error to be %s, got %s", ErrTimeout, err)
			}
		})
	})
	t.Run("cancelled context fails", func(t *testing.T) {
		fake := &fakeClient{hang: true}
		sink := newSink(fake, conf, "device-1")
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		if err := sink.Send(ctx, pos); !errors.Is(err, context.Canceled) {
			t.Errorf("expected error to be %s, got %s", context.Canceled, err)
		}
	})
}

func TestSink_Close(t *testing.T) {
	fake := &fakeClient{}
	sink := newSink(fake, Config{Topic: "locations"}, "device-1")
	if err := sink.Close(); err != nil {
		t.Fatalf("failed to close sink: %s", err)
	}
	if fake.disconnects != 0 {
		t.Error("expected no disconnect without connection")
	}
	if err := sink.Send(t.Context(), position.Position{Lat: 1, Lon: 1}); err != nil {
		t.Fatalf("failed to send position: %s", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("failed to close sink: %s", err)
	}
	if fake.disconnects != 1 {
		t.Errorf("expected 1 disconnect, got %d", fake.disconnects)
	}
}

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu          sync.Mutex
	connected   bool
	connects    int
	disconnects int
	published   []published
	connectErr  error
	publishErr  error
	hang        bool
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErr == nil {
		f.connected = true
	}
	return newToken(f.connectErr, false)
}

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload any) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, _ := payload.([]byte)
	f.published = append(f.published, published{topic, qos, retained, data})
	return newToken(f.publishErr, f.hang)
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.connected = false
}

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, hang bool) *fakeToken {
	token := &fakeToken{done: make(chan struct{}), err: err}
	if !hang {
		close(token.done)
	}
	return token
}

func (f *fakeToken) Wait() bool {
	<-f.done
	return true
}

func (f *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-f.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (f *fakeToken) Done() <-chan struct{} { return f.done }

func (f *fakeToken) Error() error { return f.err }
