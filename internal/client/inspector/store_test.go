package inspector

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"qrypub/internal/client/events"
)

func TestNewRecorder(t *testing.T) {
	r := NewRecorder(100)
	if r == nil {
		t.Fatal("NewRecorder returned nil")
	}
	if r.Count() != 0 {
		t.Errorf("expected 0 entries, got %d", r.Count())
	}
}

func TestRecorder_Add(t *testing.T) {
	r := NewRecorder(100)

	id := r.Add(events.Event{Type: events.EventConnecting, Timestamp: time.Now()})
	if id != 0 {
		t.Errorf("expected first ID to be 0, got %d", id)
	}

	id2 := r.Add(events.Event{Type: events.EventConnected, Data: events.ConnectedData{HubAddr: "localhost:7002"}})
	if id2 != 1 {
		t.Errorf("expected second ID to be 1, got %d", id2)
	}

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	if list[0].Type != "connected" || list[0].Detail != "localhost:7002" {
		t.Errorf("unexpected newest entry: %+v", list[0])
	}
}

func TestRecorder_Describe(t *testing.T) {
	r := NewRecorder(10)

	r.Add(events.Event{Type: events.EventPublished, Data: events.PublishedData{Kind: "api_usage"}})
	r.Add(events.Event{Type: events.EventPublished, Data: events.PublishedData{Kind: "indexer_status", Err: errors.New("socket not connected")}})
	r.Add(events.Event{Type: events.EventDisconnected, Data: events.DisconnectedData{Reason: "transport close"}})

	list := r.List()
	if list[0].Detail != "transport close" {
		t.Errorf("expected disconnect reason, got %q", list[0].Detail)
	}
	if !list[1].Failed || !strings.Contains(list[1].Detail, "socket not connected") {
		t.Errorf("expected failed publish entry, got %+v", list[1])
	}
	if list[2].Failed || list[2].Detail != "api_usage" {
		t.Errorf("expected successful publish entry, got %+v", list[2])
	}
}

func TestRecorder_MaxSize(t *testing.T) {
	r := NewRecorder(3)

	for i := 0; i < 5; i++ {
		r.Add(events.Event{Type: events.EventPublished})
	}

	if r.Count() != 3 {
		t.Errorf("expected 3 entries (max size), got %d", r.Count())
	}

	list := r.List()
	if list[0].ID != 4 {
		t.Errorf("expected newest ID 4, got %d", list[0].ID)
	}
	if list[2].ID != 2 {
		t.Errorf("expected oldest ID 2, got %d", list[2].ID)
	}
}

func TestRecorder_Clear(t *testing.T) {
	r := NewRecorder(100)
	r.Add(events.Event{})
	r.Add(events.Event{})

	r.Clear()

	if r.Count() != 0 {
		t.Errorf("expected 0 entries after clear, got %d", r.Count())
	}
}

func TestRecorder_Run(t *testing.T) {
	bus := events.NewBus()
	r := NewRecorder(10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub := bus.Subscribe()
	done := make(chan struct{})
	go func() {
		r.Run(ctx, sub)
		close(done)
	}()

	bus.PublishType(events.EventConnecting)
	bus.PublishError(errors.New("boom"), "auth")

	deadline := time.Now().Add(time.Second)
	for r.Count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if r.Count() != 2 {
		t.Fatalf("expected 2 entries, got %d", r.Count())
	}

	bus.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Run should return when the subscription closes")
	}
}

func TestRecorder_Concurrent(t *testing.T) {
	r := NewRecorder(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Add(events.Event{Type: events.EventPublished})
				r.List()
			}
		}()
	}
	wg.Wait()

	if r.Count() != 1000 {
		t.Errorf("expected 1000 entries, got %d", r.Count())
	}
}
