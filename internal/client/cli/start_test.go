package cli

import (
	"errors"
	"testing"
	"time"

	"qrypub/internal/client/events"
)

func next(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return events.Event{}
}

func TestBusHooks(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	ch := bus.Subscribe()

	connected := false
	hooks := busHooks(bus, "localhost:7002", func() { connected = true })

	hooks.OnConnect()
	e := next(t, ch)
	if e.Type != events.EventConnected {
		t.Fatalf("expected connected, got %v", e.Type)
	}
	if d, ok := e.Data.(events.ConnectedData); !ok || d.HubAddr != "localhost:7002" {
		t.Errorf("unexpected connected data: %+v", e.Data)
	}
	if !connected {
		t.Error("onConnect callback should run")
	}

	hooks.OnDisconnect("transport close")
	e = next(t, ch)
	if d, ok := e.Data.(events.DisconnectedData); !ok || d.Reason != "transport close" {
		t.Errorf("unexpected disconnected data: %+v", e.Data)
	}

	hooks.OnReconnecting()
	if e = next(t, ch); e.Type != events.EventReconnecting {
		t.Errorf("expected reconnecting, got %v", e.Type)
	}

	hooks.OnNotRegistered()
	if e = next(t, ch); e.Type != events.EventNotRegistered {
		t.Errorf("expected not_registered, got %v", e.Type)
	}

	dropped := errors.New("socket not connected")
	hooks.OnPublish("api_usage", dropped)
	e = next(t, ch)
	if d, ok := e.Data.(events.PublishedData); !ok || d.Kind != "api_usage" || d.Err != dropped {
		t.Errorf("unexpected published data: %+v", e.Data)
	}
}

func TestBusHooks_NilCallback(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	hooks := busHooks(bus, "hub", nil)
	hooks.OnConnect()
}
