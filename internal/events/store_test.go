package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newEvent(id, eventType string) Event {
	return Event{
		EventID:     id,
		EventType:   eventType,
		DevicePhyID: "82241218000382",
		Data:        map[string]any{"order_no": "ORD-" + id},
	}
}

func TestStore_IngestAcceptsNewEvent(t *testing.T) {
	fixed := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	store := NewStore(WithClock(func() time.Time { return fixed }))

	stored, result := store.Ingest(newEvent("evt-1", "order.created"))
	if result != Accepted {
		t.Fatalf("Expected Accepted, got %v", result)
	}

	if !stored.ReceivedAt.Equal(fixed) {
		t.Errorf("Expected ReceivedAt %v, got %v", fixed, stored.ReceivedAt)
	}

	recent := store.ListRecent()
	if len(recent) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(recent))
	}
	if recent[0].EventID != "evt-1" || !recent[0].ReceivedAt.Equal(fixed) {
		t.Errorf("Unexpected stored event: %+v", recent[0])
	}
}

func TestStore_IngestIsIdempotent(t *testing.T) {
	calls := 0
	store := NewStore(WithClock(func() time.Time {
		calls++
		return time.Unix(int64(calls), 0)
	}))

	_, first := store.Ingest(newEvent("evt-1", "device.heartbeat"))
	_, second := store.Ingest(newEvent("evt-1", "device.heartbeat"))

	if first != Accepted {
		t.Errorf("First ingest: expected Accepted, got %v", first)
	}
	if second != DuplicateIgnored {
		t.Errorf("Second ingest: expected DuplicateIgnored, got %v", second)
	}

	stats := store.Stats()
	if stats.TotalEvents != 1 {
		t.Errorf("Expected total_events 1, got %d", stats.TotalEvents)
	}
	if stats.UniqueEventIDs != 1 {
		t.Errorf("Expected unique_event_ids 1, got %d", stats.UniqueEventIDs)
	}
	if stats.EventTypeCounts["device.heartbeat"] != 1 {
		t.Errorf("Expected heartbeat count 1, got %v", stats.EventTypeCounts)
	}

	if calls != 1 {
		t.Errorf("Expected duplicate not to be re-stamped, clock called %d times", calls)
	}
}

func TestStore_DuplicateDoesNotReplaceStoredEvent(t *testing.T) {
	store := NewStore()

	store.Ingest(newEvent("evt-1", "order.created"))
	store.Ingest(newEvent("evt-1", "order.completed"))

	recent := store.ListRecent()
	if len(recent) != 1 || recent[0].EventType != "order.created" {
		t.Errorf("Expected first event to remain stored, got %+v", recent)
	}
}

func TestStore_BoundedHistory(t *testing.T) {
	store := NewStore()

	for i := 1; i <= 150; i++ {
		if _, result := store.Ingest(newEvent(fmt.Sprintf("evt-%d", i), "charging.progress")); result != Accepted {
			t.Fatalf("Expected event %d to be accepted, got %v", i, result)
		}
	}

	if store.Len() != HistoryCapacity {
		t.Fatalf("Expected history length %d, got %d", HistoryCapacity, store.Len())
	}

	// History holds events 51..150 in arrival order.
	store.mu.Lock()
	for i, e := range store.history {
		want := fmt.Sprintf("evt-%d", i+51)
		if e.EventID != want {
			t.Errorf("history[%d] = %s, want %s", i, e.EventID, want)
		}
	}
	store.mu.Unlock()

	stats := store.Stats()
	if stats.TotalEvents != 100 {
		t.Errorf("Expected total_events 100, got %d", stats.TotalEvents)
	}
	if stats.UniqueEventIDs != 150 {
		t.Errorf("Expected unique_event_ids 150, got %d", stats.UniqueEventIDs)
	}
	if stats.EventTypeCounts["charging.progress"] != 100 {
		t.Errorf("Expected type counts over retained history only, got %v", stats.EventTypeCounts)
	}
}

func TestStore_EvictedIDStaysSeen(t *testing.T) {
	store := NewStore()

	for i := 1; i <= HistoryCapacity+1; i++ {
		store.Ingest(newEvent(fmt.Sprintf("evt-%d", i), "device.heartbeat"))
	}

	// evt-1 has been evicted from history but is still a duplicate.
	if _, result := store.Ingest(newEvent("evt-1", "device.heartbeat")); result != DuplicateIgnored {
		t.Errorf("Expected evicted id to remain a duplicate, got %v", result)
	}
}

func TestStore_ListRecent(t *testing.T) {
	store := NewStore()

	if recent := store.ListRecent(); len(recent) != 0 {
		t.Fatalf("Expected empty store to list nothing, got %d", len(recent))
	}

	for i := 1; i <= 5; i++ {
		store.Ingest(newEvent(fmt.Sprintf("evt-%d", i), "order.created"))
	}
	recent := store.ListRecent()
	if len(recent) != 5 {
		t.Fatalf("Expected 5 events, got %d", len(recent))
	}

	for i := 6; i <= 30; i++ {
		store.Ingest(newEvent(fmt.Sprintf("evt-%d", i), "order.created"))
	}
	recent = store.ListRecent()
	if len(recent) != RecentLimit {
		t.Fatalf("Expected %d events, got %d", RecentLimit, len(recent))
	}
	if recent[0].EventID != "evt-11" || recent[len(recent)-1].EventID != "evt-30" {
		t.Errorf("Expected evt-11..evt-30 most-recent-last, got %s..%s",
			recent[0].EventID, recent[len(recent)-1].EventID)
	}
}

func TestStore_ListRecentReturnsCopy(t *testing.T) {
	store := NewStore()
	store.Ingest(newEvent("evt-1", "order.created"))

	recent := store.ListRecent()
	recent[0].EventID = "mutated"

	if got := store.ListRecent()[0].EventID; got != "evt-1" {
		t.Errorf("Expected stored event to be unaffected by caller mutation, got %s", got)
	}
}

func TestStore_StatsUnknownType(t *testing.T) {
	store := NewStore()
	store.Ingest(newEvent("a", ""))
	store.Ingest(newEvent("b", "custom.type"))
	store.Ingest(newEvent("c", "device.alarm"))

	counts := store.Stats().EventTypeCounts
	want := map[string]int{UnknownType: 1, "custom.type": 1, "device.alarm": 1}
	if len(counts) != len(want) {
		t.Fatalf("Expected %v, got %v", want, counts)
	}
	for k, v := range want {
		if counts[k] != v {
			t.Errorf("count[%q] = %d, want %d", k, counts[k], v)
		}
	}
}

func TestStore_StatsExplicitEmptyType(t *testing.T) {
	store := NewStore()

	for _, body := range []string{
		`{"event_id": "x", "event_type": ""}`,
		`{"event_id": "y"}`,
	} {
		e, err := ParseEvent([]byte(body))
		if err != nil {
			t.Fatalf("ParseEvent(%s) error = %v", body, err)
		}
		store.Ingest(e)
	}

	counts := store.Stats().EventTypeCounts
	if counts[""] != 1 {
		t.Errorf("Expected explicit empty type counted under \"\", got %v", counts)
	}
	if counts[UnknownType] != 1 {
		t.Errorf("Expected missing type counted under %q, got %v", UnknownType, counts)
	}
}

func TestStore_NumericIDsStayDistinct(t *testing.T) {
	store := NewStore()

	for _, body := range []string{
		`{"event_id": 1, "event_type": "device.heartbeat"}`,
		`{"event_id": 2, "event_type": "device.heartbeat"}`,
	} {
		e, err := ParseEvent([]byte(body))
		if err != nil {
			t.Fatalf("ParseEvent(%s) error = %v", body, err)
		}
		if _, result := store.Ingest(e); result != Accepted {
			t.Errorf("Expected %s to be accepted, got %v", body, result)
		}
	}

	stats := store.Stats()
	if stats.TotalEvents != 2 || stats.UniqueEventIDs != 2 {
		t.Errorf("Expected 2 events with 2 unique ids, got %+v", stats)
	}
}

func TestStore_ListRecentDeepCopiesData(t *testing.T) {
	store := NewStore()
	e := newEvent("evt-1", "charging.progress")
	e.Data["ports"] = []any{map[string]any{"port_no": "1"}}
	e.Extra = map[string]any{"nonce": "n1"}
	store.Ingest(e)

	recent := store.ListRecent()
	recent[0].Data["order_no"] = "mutated"
	recent[0].Data["ports"].([]any)[0].(map[string]any)["port_no"] = "9"
	recent[0].Extra["nonce"] = "mutated"

	got := store.ListRecent()[0]
	if got.Data["order_no"] != "ORD-evt-1" {
		t.Errorf("Expected stored data to be unaffected, got %v", got.Data["order_no"])
	}
	if port := got.Data["ports"].([]any)[0].(map[string]any)["port_no"]; port != "1" {
		t.Errorf("Expected nested port to be unaffected, got %v", port)
	}
	if got.Extra["nonce"] != "n1" {
		t.Errorf("Expected stored extra fields to be unaffected, got %v", got.Extra["nonce"])
	}
}

func TestStore_EmptyEventIDIsDeduplicated(t *testing.T) {
	store := NewStore()

	_, first := store.Ingest(newEvent("", "device.heartbeat"))
	_, second := store.Ingest(newEvent("", "device.heartbeat"))

	if first != Accepted || second != DuplicateIgnored {
		t.Errorf("Expected Accepted then DuplicateIgnored for empty id, got %v then %v", first, second)
	}
}

func TestStore_Clear(t *testing.T) {
	store := NewStore()
	for i := 0; i < 10; i++ {
		store.Ingest(newEvent(fmt.Sprintf("evt-%d", i), "order.created"))
	}

	store.Clear()

	stats := store.Stats()
	if stats.TotalEvents != 0 || stats.UniqueEventIDs != 0 {
		t.Errorf("Expected zeroed stats after clear, got %+v", stats)
	}
	if len(stats.EventTypeCounts) != 0 {
		t.Errorf("Expected no type counts after clear, got %v", stats.EventTypeCounts)
	}

	// A previously seen id is fresh again.
	if _, result := store.Ingest(newEvent("evt-3", "order.created")); result != Accepted {
		t.Errorf("Expected previously seen id to be accepted after clear, got %v", result)
	}
}

func TestStore_ConcurrentSameID(t *testing.T) {
	store := NewStore()
	const workers = 64

	var accepted, duplicates atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, result := store.Ingest(newEvent("same-id", "charging.started"))
			if result == Accepted {
				accepted.Add(1)
			} else {
				duplicates.Add(1)
			}
		}()
	}

	close(start)
	wg.Wait()

	if accepted.Load() != 1 {
		t.Errorf("Expected exactly 1 accepted, got %d", accepted.Load())
	}
	if duplicates.Load() != workers-1 {
		t.Errorf("Expected %d duplicates, got %d", workers-1, duplicates.Load())
	}
	if total := store.Stats().TotalEvents; total != 1 {
		t.Errorf("Expected total_events 1, got %d", total)
	}
}

func TestStore_ConcurrentIngestAndClear(t *testing.T) {
	store := NewStore()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				store.Ingest(newEvent(fmt.Sprintf("w%d-%d", worker, j), "device.heartbeat"))
			}
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			store.Clear()
			store.ListRecent()
		}
	}()

	wg.Wait()

	stats := store.Stats()
	if stats.TotalEvents > HistoryCapacity {
		t.Errorf("History exceeded capacity: %d", stats.TotalEvents)
	}
	if stats.UniqueEventIDs < stats.TotalEvents {
		t.Errorf("Seen ids (%d) must cover retained history (%d)", stats.UniqueEventIDs, stats.TotalEvents)
	}
}

func TestIngestResult_String(t *testing.T) {
	if Accepted.String() != "accepted" {
		t.Errorf("Accepted.String() = %q", Accepted.String())
	}
	if DuplicateIgnored.String() != "duplicate" {
		t.Errorf("DuplicateIgnored.String() = %q", DuplicateIgnored.String())
	}
}

func TestStore_Options(t *testing.T) {
	store := NewStore(WithCapacity(5), WithRecentLimit(2))

	for i := 1; i <= 8; i++ {
		store.Ingest(newEvent(fmt.Sprintf("evt-%d", i), "order.created"))
	}

	if store.Capacity() != 5 || store.Len() != 5 {
		t.Errorf("Expected capacity and length 5, got %d and %d", store.Capacity(), store.Len())
	}

	recent := store.ListRecent()
	if len(recent) != 2 || recent[0].EventID != "evt-7" || recent[1].EventID != "evt-8" {
		t.Errorf("Expected evt-7, evt-8, got %+v", recent)
	}
}

func TestStore_OptionsIgnoreNonPositive(t *testing.T) {
	store := NewStore(WithCapacity(0), WithRecentLimit(-1))

	if store.Capacity() != HistoryCapacity {
		t.Errorf("Expected default capacity %d, got %d", HistoryCapacity, store.Capacity())
	}
}
