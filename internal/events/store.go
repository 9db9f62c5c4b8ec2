package events

import (
	"sync"
	"time"
)

const (
	// HistoryCapacity is the default number of events retained in history.
	HistoryCapacity = 100

	// RecentLimit is the default number of events returned by ListRecent.
	RecentLimit = 20

	// UnknownType is the stats key for events sent without an event_type.
	UnknownType = "unknown"
)

// IngestResult is the outcome of an Ingest call.
type IngestResult int

const (
	// Accepted means the event was new and has been stored.
	Accepted IngestResult = iota
	// DuplicateIgnored means the event id was seen before; nothing changed.
	DuplicateIgnored
)

func (r IngestResult) String() string {
	if r == DuplicateIgnored {
		return "duplicate"
	}
	return "accepted"
}

// Stats is an aggregate view of the store.
type Stats struct {
	TotalEvents     int            `json:"total_events"`
	UniqueEventIDs  int            `json:"unique_event_ids"`
	EventTypeCounts map[string]int `json:"event_type_counts"`
}

// Option configures a Store.
type Option func(*Store)

// WithCapacity sets how many events history retains. Values below 1 are
// ignored.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithRecentLimit sets how many events ListRecent returns. Values below 1
// are ignored.
func WithRecentLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.recent = n
		}
	}
}

// WithClock overrides the clock used to stamp ReceivedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store is the in-memory, volatile event store.
//
// It keeps a bounded history of recent events in arrival order and the
// set of every event id it has ever accepted. The id set is never pruned on
// eviction, so a redelivery of an evicted event is still a duplicate. Only
// Clear empties it.
//
// All methods are serialized by a single mutex.
type Store struct {
	mu       sync.Mutex
	history  []Event
	seenIDs  map[string]struct{}
	capacity int
	recent   int
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		seenIDs:  make(map[string]struct{}),
		capacity: HistoryCapacity,
		recent:   RecentLimit,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.history = make([]Event, 0, s.capacity)
	return s
}

// Ingest stores e unless its id was accepted before.
//
// The duplicate check and the insert happen under one lock, so concurrent
// deliveries of the same id produce exactly one Accepted. A duplicate is not
// re-stored, re-counted or re-stamped. The stored copy is returned with
// ReceivedAt set; for duplicates the input is returned unchanged.
func (s *Store) Ingest(e Event) (Event, IngestResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.seenIDs[e.EventID]; seen {
		return e, DuplicateIgnored
	}

	s.seenIDs[e.EventID] = struct{}{}
	e.ReceivedAt = s.now()
	s.history = append(s.history, e)
	if len(s.history) > s.capacity {
		// Evict the oldest entry in place to keep the backing array bounded.
		copy(s.history, s.history[1:])
		s.history[len(s.history)-1] = Event{}
		s.history = s.history[:len(s.history)-1]
	}

	return e, Accepted
}

// ListRecent returns the most recently ingested events, up to the recent limit,
// oldest first. The events are deep copies; callers may modify them freely.
func (s *Store) ListRecent() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := len(s.history) - s.recent
	if start < 0 {
		start = 0
	}

	out := make([]Event, 0, len(s.history)-start)
	for _, e := range s.history[start:] {
		out = append(out, e.clone())
	}
	return out
}

// Capacity returns the maximum number of retained events.
func (s *Store) Capacity() int {
	return s.capacity
}

// Len returns the number of events currently retained.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.history)
}

// Stats returns totals over the retained history and the id set. Type counts
// cover retained events only, so they shrink as old events are evicted. An
// event sent with "event_type": "" is counted under "", one sent without the
// field under UnknownType.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int)
	for _, e := range s.history {
		t := e.EventType
		if t == "" && !e.typeSet {
			t = UnknownType
		}
		counts[t]++
	}

	return Stats{
		TotalEvents:     len(s.history),
		UniqueEventIDs:  len(s.seenIDs),
		EventTypeCounts: counts,
	}
}

// Clear empties both the history and the id set.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = make([]Event, 0, s.capacity)
	s.seenIDs = make(map[string]struct{})
}
