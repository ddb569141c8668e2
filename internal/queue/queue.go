// Package queue is the ordered FIFO of accepted incoming messages, with
// an optional durable mirror. The mirror is best-effort: a persistence
// failure never fails the enqueue, and an unreadable mirror at startup
// means an empty queue rather than a refused start.
package queue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"agentmesh/internal/fsutil"
	"agentmesh/internal/wire"
)

type Queue struct {
	mu         sync.Mutex
	items      []wire.Incoming
	mirrorPath string // empty disables the mirror
	log        *zap.Logger
}

// New creates a queue. With a mirror path, any prior mirror is restored
// verbatim; read or parse failures start empty.
func New(mirrorPath string, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	q := &Queue{mirrorPath: mirrorPath, log: log}
	if mirrorPath == "" {
		return q
	}
	if err := os.MkdirAll(filepath.Dir(mirrorPath), 0o755); err != nil {
		log.Warn("queue mirror dir", zap.Error(err))
		return q
	}
	b, err := os.ReadFile(mirrorPath)
	if err != nil {
		return q
	}
	var items []wire.Incoming
	if err := json.Unmarshal(b, &items); err != nil {
		log.Warn("queue mirror unreadable, starting empty", zap.Error(err))
		return q
	}
	q.items = items
	log.Info("restored queue mirror", zap.Int("messages", len(items)))
	return q
}

// Enqueue appends m and mirrors the full queue. FIFO order follows
// acceptance order: concurrent enqueues serialize on the queue lock.
func (q *Queue) Enqueue(m wire.Incoming) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, m)
	q.persistLocked()
}

// Drain returns all queued messages in order and clears the queue.
func (q *Queue) Drain() []wire.Incoming {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	q.persistLocked()
	return out
}

// Requeue puts a failed batch back at the front, ahead of anything that
// arrived while it was being processed.
func (q *Queue) Requeue(items []wire.Incoming) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(append([]wire.Incoming{}, items...), q.items...)
	q.persistLocked()
}

// Peek returns a read-only snapshot.
func (q *Queue) Peek() []wire.Incoming {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]wire.Incoming, len(q.items))
	copy(out, q.items)
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// persistLocked runs inside the critical section so the mirror always
// reflects a real in-memory state.
func (q *Queue) persistLocked() {
	if q.mirrorPath == "" {
		return
	}
	items := q.items
	if items == nil {
		items = []wire.Incoming{}
	}
	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		q.log.Warn("queue mirror marshal", zap.Error(err))
		return
	}
	if err := fsutil.WriteFileAtomic(q.mirrorPath, b, 0o644); err != nil {
		q.log.Warn("queue mirror write", zap.Error(err))
	}
}
