package inspector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"qrypub/internal/client/events"
)

// Entry is one recorded publisher event.
type Entry struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Detail    string    `json:"detail,omitempty"`
	Failed    bool      `json:"failed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Recorder keeps the most recent events in a ring buffer, newest first.
type Recorder struct {
	mu      sync.RWMutex
	entries []Entry
	nextID  int64
	maxSize int
}

// NewRecorder creates a recorder holding at most maxSize entries.
func NewRecorder(maxSize int) *Recorder {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Recorder{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
	}
}

// Run records events from sub until it is closed or ctx ends.
func (r *Recorder) Run(ctx context.Context, sub <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			r.Add(e)
		}
	}
}

// Add records e and returns the assigned ID (thread-safe).
func (r *Recorder) Add(e events.Event) int64 {
	entry := describe(e)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry.ID = r.nextID
	r.nextID++

	if len(r.entries) >= r.maxSize {
		// Shift elements to make room, drop oldest
		copy(r.entries[1:], r.entries[:len(r.entries)-1])
		r.entries[0] = entry
	} else {
		next := make([]Entry, len(r.entries)+1, r.maxSize)
		next[0] = entry
		copy(next[1:], r.entries)
		r.entries = next
	}
	return entry.ID
}

// List returns a copy of all entries.
func (r *Recorder) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Entry, len(r.entries))
	copy(result, r.entries)
	return result
}

func (r *Recorder) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = r.entries[:0]
}

func (r *Recorder) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func describe(e events.Event) Entry {
	entry := Entry{Type: e.Type.String(), Timestamp: e.Timestamp}
	switch d := e.Data.(type) {
	case events.ConnectedData:
		entry.Detail = d.HubAddr
	case events.DisconnectedData:
		entry.Detail = d.Reason
	case events.PublishedData:
		entry.Detail = d.Kind
		if d.Err != nil {
			entry.Failed = true
			entry.Detail = fmt.Sprintf("%s: %v", d.Kind, d.Err)
		}
	case events.ErrorData:
		entry.Failed = true
		entry.Detail = fmt.Sprintf("%s: %v", d.Context, d.Error)
	}
	return entry
}
