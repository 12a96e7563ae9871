package bridge

import (
	"log/slog"
	"sync"

	"scoremark/internal/logging"
)

// DefaultQueueSize is the number of writes an Async bridge buffers before
// callers block.
const DefaultQueueSize = 16

// Async runs the writes of a Bridge on a single worker goroutine. Writes
// return as soon as they are queued; failures are logged and not retried.
// Lookups go straight to the wrapped bridge.
type Async struct {
	Bridge

	mu     sync.Mutex
	closed bool
	jobs   chan job
	done   chan struct{}
	log    *slog.Logger
}

type job struct {
	name    string
	scoreID string
	run     func() error
}

// NewAsync starts the worker. Close must be called to stop it.
func NewAsync(next Bridge, queueSize int, log *slog.Logger) *Async {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	a := &Async{
		Bridge: next,
		jobs:   make(chan job, queueSize),
		done:   make(chan struct{}),
		log:    logging.Module(log, "bridge"),
	}
	go a.worker()
	return a
}

func (a *Async) worker() {
	defer close(a.done)
	for j := range a.jobs {
		if err := j.run(); err != nil {
			a.log.Error("bridge call failed", "call", j.name, "score", j.scoreID, "error", err)
		}
	}
}

func (a *Async) enqueue(j job) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	a.jobs <- j
	return nil
}

// SaveToJSON queues the save. payload must not be modified afterwards.
func (a *Async) SaveToJSON(scoreID string, payload any) error {
	return a.enqueue(job{name: "SaveToJSON", scoreID: scoreID, run: func() error {
		return a.Bridge.SaveToJSON(scoreID, payload)
	}})
}

// MarkAnnotated queues the status change.
func (a *Async) MarkAnnotated(scoreID string, complete bool) error {
	return a.enqueue(job{name: "MarkAnnotated", scoreID: scoreID, run: func() error {
		return a.Bridge.MarkAnnotated(scoreID, complete)
	}})
}

// Close stops accepting writes and waits for the queued ones to finish.
func (a *Async) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.jobs)
	}
	a.mu.Unlock()
	<-a.done
	return nil
}
