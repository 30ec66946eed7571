package hub

import (
	"sync"
	"testing"
)

func TestNewInMemoryStore(t *testing.T) {
	store := NewInMemoryStore(100)
	if store == nil {
		t.Fatal("NewInMemoryStore returned nil")
	}
	if store.Count() != 0 {
		t.Errorf("expected 0 records, got %d", store.Count())
	}
}

func TestInMemoryStore_Add(t *testing.T) {
	store := NewInMemoryStore(100)

	id := store.Add(Record{PublicKey: "a", Type: "api_usage"})
	if id != 0 {
		t.Errorf("expected first ID to be 0, got %d", id)
	}

	id2 := store.Add(Record{PublicKey: "a", Type: "api_usage"})
	if id2 != 1 {
		t.Errorf("expected second ID to be 1, got %d", id2)
	}

	if store.Count() != 2 {
		t.Errorf("expected 2 records, got %d", store.Count())
	}

	if store.List()[0].Timestamp.IsZero() {
		t.Error("timestamp should be set automatically")
	}
}

func TestInMemoryStore_List(t *testing.T) {
	store := NewInMemoryStore(100)

	for i := 0; i < 3; i++ {
		store.Add(Record{PublicKey: "a"})
	}

	list := store.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 records, got %d", len(list))
	}

	// Newest first
	for i, want := range []int64{2, 1, 0} {
		if list[i].ID != want {
			t.Errorf("list[%d].ID = %d, want %d", i, list[i].ID, want)
		}
	}
}

func TestInMemoryStore_ListFor(t *testing.T) {
	store := NewInMemoryStore(100)
	store.Add(Record{PublicKey: "a", Type: "api_usage"})
	store.Add(Record{PublicKey: "b", Type: "indexer_status"})
	store.Add(Record{PublicKey: "a", Type: "api_usage_map"})

	list := store.ListFor("a")
	if len(list) != 2 {
		t.Fatalf("expected 2 records for a, got %d", len(list))
	}
	if list[0].Type != "api_usage_map" {
		t.Errorf("expected newest first, got %s", list[0].Type)
	}

	if got := store.ListFor("missing"); got == nil || len(got) != 0 {
		t.Errorf("expected empty non-nil slice, got %v", got)
	}
}

func TestInMemoryStore_MaxSize(t *testing.T) {
	store := NewInMemoryStore(3)

	for i := 0; i < 5; i++ {
		store.Add(Record{PublicKey: "a"})
	}

	if store.Count() != 3 {
		t.Errorf("expected 3 records (max size), got %d", store.Count())
	}

	list := store.List()
	if list[0].ID != 4 || list[2].ID != 2 {
		t.Errorf("expected IDs 4..2, got %d..%d", list[0].ID, list[2].ID)
	}
}

func TestInMemoryStore_Clear(t *testing.T) {
	store := NewInMemoryStore(100)
	store.Add(Record{})
	store.Add(Record{})

	store.Clear()
	if store.Count() != 0 {
		t.Errorf("expected 0 records after clear, got %d", store.Count())
	}

	if id := store.Add(Record{}); id != 2 {
		t.Errorf("expected ID 2 after clear, got %d", id)
	}
}

func TestInMemoryStore_Concurrent(t *testing.T) {
	store := NewInMemoryStore(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				store.Add(Record{PublicKey: "a"})
				store.List()
			}
		}()
	}
	wg.Wait()

	if store.Count() != 1000 {
		t.Errorf("expected 1000 records, got %d", store.Count())
	}
}
