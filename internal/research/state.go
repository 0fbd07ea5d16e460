package research

import (
	"errors"
	"math"
	"sync"
	"time"
)

// ErrInvalidCost rejects a cost amount that is NaN, infinite or negative.
// The ledger total is left unchanged.
var ErrInvalidCost = errors.New("invalid cost amount")

// State is the mutable aggregate of one research task. The orchestrator owns
// it and every stage receives the same pointer. All access goes through
// methods; the lock keeps the invariants intact under concurrent fan-out
// branches: the visited set only grows, the cost total never decreases, the
// event log is append-only in emission order.
type State struct {
	mu sync.Mutex

	query  string
	params ReportParams

	visited     map[string]struct{}
	sources     []Source
	images      []string
	imageHashes map[string]struct{}
	fragments   []string
	costTotal   float64
	events      []Event
	draft       string
	feedback    []string
	revisions   int

	sink EventSink
}

// NewState creates the state for one task. sink may be nil.
func NewState(query string, params ReportParams, sink EventSink) *State {
	return &State{
		query:       query,
		params:      params,
		visited:     make(map[string]struct{}),
		imageHashes: make(map[string]struct{}),
		sink:        sink,
	}
}

func (s *State) Query() string        { return s.query }
func (s *State) Params() ReportParams { return s.params }

// MarkVisited records a URL batch and returns only the URLs not seen before,
// in batch order. Duplicates inside the batch collapse to one.
func (s *State) MarkVisited(urls []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fresh []string
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, seen := s.visited[u]; seen {
			continue
		}
		s.visited[u] = struct{}{}
		fresh = append(fresh, u)
	}
	return fresh
}

// VisitedCount reports the size of the visited set
func (s *State) VisitedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visited)
}

// AddSources appends scraped documents
func (s *State) AddSources(srcs ...Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = append(s.sources, srcs...)
}

// Sources returns a copy of the accumulated documents
func (s *State) Sources() []Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Source, len(s.sources))
	copy(out, s.sources)
	return out
}

// ReplaceSources swaps the document list, used after curation
func (s *State) ReplaceSources(srcs []Source) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = srcs
}

// AddImage records a selected image unless its content hash or URL was
// already selected. Reports whether the image was added.
func (s *State) AddImage(url, hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.imageHashes[hash]; seen {
		return false
	}
	for _, existing := range s.images {
		if existing == url {
			return false
		}
	}
	s.imageHashes[hash] = struct{}{}
	s.images = append(s.images, url)
	return true
}

// Images returns a copy of the selected image URLs
func (s *State) Images() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.images))
	copy(out, s.images)
	return out
}

// AddContext appends compressed context fragments
func (s *State) AddContext(fragments ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments = append(s.fragments, fragments...)
}

// Context returns a copy of the accumulated context fragments
func (s *State) Context() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.fragments))
	copy(out, s.fragments)
	return out
}

// AddCost adds a USD amount to the running total. NaN, infinite and negative
// amounts are rejected with ErrInvalidCost and the total stays unchanged.
// The total never resets mid-task.
func (s *State) AddCost(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return ErrInvalidCost
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.costTotal += amount
	return nil
}

// Costs returns the running USD total
func (s *State) Costs() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.costTotal
}

// Emit appends an event to the log and forwards it to the sink. Stamping,
// appending and sink dispatch all happen under the state lock so the log
// stays timestamp-ordered and the sink sees events in log order even with
// concurrent producers. Sinks must not block; wrap slow ones in a
// BufferedSink.
func (s *State) Emit(message string, done, isErr bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := Event{Message: message, Done: done, Error: isErr, Timestamp: time.Now()}
	s.events = append(s.events, e)
	if s.sink != nil {
		s.sink.Publish(e)
	}
}

// Events returns a copy of the event log
func (s *State) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// SetDraft replaces the current draft
func (s *State) SetDraft(draft string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = draft
}

// Draft returns the current draft
func (s *State) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// AddFeedback records reviewer notes and bumps the revision counter
func (s *State) AddFeedback(notes string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, notes)
	s.revisions++
}

// Feedback returns a copy of all reviewer notes so far
func (s *State) Feedback() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.feedback))
	copy(out, s.feedback)
	return out
}

// Revisions reports how many revision passes have run
func (s *State) Revisions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revisions
}
