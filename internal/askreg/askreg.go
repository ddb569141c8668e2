// Package askreg coordinates pending ask/reply pairs. Each registered
// message id terminates exactly once: resolved by a matching reply,
// rejected at its deadline, or rejected when the registry is destroyed.
package askreg

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"agentmesh/internal/metrics"
)

var (
	ErrTimeout = errors.New("ask timed out")
	ErrStopped = errors.New("agent stopped")
)

type outcome struct {
	payload string
	err     error
}

// Pending is the caller's handle for one registered ask.
type Pending struct {
	ch chan outcome
}

// Await blocks until the ask terminates or ctx is done. An abandoned
// entry is still reaped by its deadline timer.
func (p *Pending) Await(ctx context.Context) (string, error) {
	select {
	case out := <-p.ch:
		return out.payload, out.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type entry struct {
	ch    chan outcome
	timer *time.Timer
}

// Registry is safe for concurrent use by HTTP handlers and timers.
type Registry struct {
	mu      sync.Mutex
	pending map[string]*entry
	closed  bool
	log     *zap.Logger
}

func New(log *zap.Logger) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	return &Registry{pending: make(map[string]*entry), log: log}
}

// Register creates a pending entry for messageID with a deadline. A
// registry that has been destroyed hands back an already-rejected
// handle. Re-registering a live id rejects the previous entry first.
func (r *Registry) Register(messageID string, timeout time.Duration) *Pending {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		ch := make(chan outcome, 1)
		ch <- outcome{err: ErrStopped}
		return &Pending{ch: ch}
	}
	if old, ok := r.pending[messageID]; ok {
		delete(r.pending, messageID)
		old.timer.Stop()
		old.ch <- outcome{err: ErrStopped}
	}

	e := &entry{ch: make(chan outcome, 1)}
	e.timer = time.AfterFunc(timeout, func() {
		if r.finish(messageID, outcome{err: ErrTimeout}) {
			metrics.AsksTimedOut.Inc()
			r.log.Debug("ask timed out", zap.String("id", messageID))
		}
	})
	r.pending[messageID] = e
	return &Pending{ch: e.ch}
}

// Resolve completes the pending ask for replyTo. Returns false when no
// entry exists, so late replies are dropped rather than treated as
// errors.
func (r *Registry) Resolve(replyTo, payload string) bool {
	if r.finish(replyTo, outcome{payload: payload}) {
		metrics.AsksResolved.Inc()
		return true
	}
	return false
}

// Fail rejects a pending ask, e.g. when the outbound send failed.
func (r *Registry) Fail(messageID string, err error) bool {
	return r.finish(messageID, outcome{err: err})
}

func (r *Registry) Has(messageID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[messageID]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Destroy rejects every pending ask with a terminal error and refuses
// future registrations.
func (r *Registry) Destroy() {
	r.mu.Lock()
	r.closed = true
	taken := r.pending
	r.pending = make(map[string]*entry)
	r.mu.Unlock()

	for id, e := range taken {
		e.timer.Stop()
		e.ch <- outcome{err: ErrStopped}
		r.log.Debug("rejected pending ask on shutdown", zap.String("id", id))
	}
}

// finish removes the entry under the lock, then delivers the outcome.
// The buffered channel and the delete-before-send make delivery
// exactly-once even when a reply races the deadline timer.
func (r *Registry) finish(id string, out outcome) bool {
	r.mu.Lock()
	e, ok := r.pending[id]
	if ok {
		delete(r.pending, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.timer.Stop()
	e.ch <- out
	return true
}
