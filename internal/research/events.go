package research

import (
	"sync"
	"time"
)

// Event is one entry of a task's progress log
type Event struct {
	Message   string    `json:"message"`
	Done      bool      `json:"done"`
	Error     bool      `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// EventSink receives events in emission order. Implementations must not
// assume the pipeline waits for them; slow sinks get a BufferedSink wrapper.
type EventSink interface {
	Publish(Event)
}

// SinkFunc adapts a function to the EventSink interface
type SinkFunc func(Event)

func (f SinkFunc) Publish(e Event) { f(e) }

// BufferedSink decouples event delivery from the pipeline. Publish never
// blocks: when the buffer is full the oldest undelivered event is dropped.
// Delivered events keep emission order. Publish after Close is a no-op.
type BufferedSink struct {
	next EventSink

	mu     sync.Mutex
	ch     chan Event
	closed bool

	done chan struct{}
}

// NewBufferedSink wraps next with a buffer of the given size and starts the
// delivery goroutine. Close flushes and stops it.
func NewBufferedSink(next EventSink, size int) *BufferedSink {
	if size <= 0 {
		size = 64
	}
	s := &BufferedSink{
		next: next,
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
	go s.deliver()
	return s
}

func (s *BufferedSink) deliver() {
	defer close(s.done)
	for e := range s.ch {
		s.next.Publish(e)
	}
}

func (s *BufferedSink) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- e:
			return
		default:
		}
		// Buffer full: drop the oldest event to keep making progress
		select {
		case <-s.ch:
		default:
		}
	}
}

// Close stops accepting events and waits for buffered ones to flush.
// Idempotent.
func (s *BufferedSink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
	<-s.done
}
