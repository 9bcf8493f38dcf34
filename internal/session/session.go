package session

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/banshee-data/cartvision/internal/monitoring"
	"github.com/banshee-data/cartvision/internal/vision/tracks"
)

var (
	// ErrSessionClosed is returned when work is submitted to a session that
	// has been closed.
	ErrSessionClosed = errors.New("session closed")
	// ErrQueueFull is returned when the session's frame queue has no room.
	ErrQueueFull = errors.New("session queue full")
)

// DefaultQueueSize is the frame queue depth used when none is configured.
const DefaultQueueSize = 16

// Session owns one cart session's ledger and tracker and serialises all
// work on them through a bounded queue consumed by a single goroutine.
type Session struct {
	ID        string
	StartedAt time.Time

	// Ledger and Tracker may only be touched from jobs running on the
	// session loop, or after Close has returned.
	Ledger  *Ledger
	Tracker *tracks.Tracker

	mu     sync.Mutex
	closed bool
	queue  chan func()
	done   chan struct{}
}

// New creates a session and starts its processing loop.
func New(id string, startedAt time.Time, ledger *Ledger, tracker *tracks.Tracker, queueSize int) *Session {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	s := &Session{
		ID:        id,
		StartedAt: startedAt,
		Ledger:    ledger,
		Tracker:   tracker,
		queue:     make(chan func(), queueSize),
		done:      make(chan struct{}),
	}
	go s.loop()
	return s
}

// Enqueue hands job to the session loop without blocking. A full queue
// rejects the newest job with ErrQueueFull.
func (s *Session) Enqueue(job func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.queue <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// QueueLen returns the number of jobs waiting.
func (s *Session) QueueLen() int {
	return len(s.queue)
}

// Close stops accepting work, waits for queued jobs to finish and stops the
// loop. It is safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Session) loop() {
	defer close(s.done)
	for job := range s.queue {
		s.run(job)
	}
}

func (s *Session) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Warnf("session %s: job panicked: %v\n%s", s.ID, r, debug.Stack())
		}
	}()
	job()
}

// String implements fmt.Stringer.
func (s *Session) String() string {
	return fmt.Sprintf("session(%s)", s.ID)
}
