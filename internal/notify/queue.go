// Package notify holds the bounded queue of user-facing outcomes. Every
// orchestration-level success or failure is pushed here in addition to being
// returned to the caller, so fire-and-forget invocations still surface a
// visible state.
package notify

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"orchestd/pkg/types"
)

// DefaultCapacity bounds the queue. The source behavior was unbounded; a
// long-lived process cannot afford that, so the oldest entry is evicted once
// the ring is full. 256 comfortably exceeds anything a consumer renders.
const DefaultCapacity = 256

var notificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "orchestd",
		Subsystem: "notify",
		Name:      "pushed_total",
		Help:      "Total notifications pushed, by kind",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(notificationsTotal)
}

// Notifier receives outcome notifications. Implementations must be safe for
// concurrent use and must not block.
type Notifier interface {
	Push(kind types.NotificationKind, message string)
}

// Noop drops notifications. Default for registries constructed without a queue.
type Noop struct{}

func (Noop) Push(types.NotificationKind, string) {}

// Queue is a bounded, ordered notification queue. IDs are strictly increasing
// so insertion order always equals id order; List returns oldest-first.
type Queue struct {
	mu      sync.Mutex
	nextID  uint64
	cap     int
	entries []types.Notification
	now     func() time.Time
}

// NewQueue builds a queue with the given capacity (<=0 means DefaultCapacity).
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{cap: capacity, now: time.Now}
}

// Push appends an entry, evicting the oldest when full.
func (q *Queue) Push(kind types.NotificationKind, message string) {
	notificationsTotal.WithLabelValues(string(kind)).Inc()
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	n := types.Notification{
		ID:        q.nextID,
		Kind:      kind,
		Message:   message,
		Timestamp: q.now().UTC(),
	}
	q.entries = append(q.entries, n)
	if len(q.entries) > q.cap {
		q.entries = q.entries[len(q.entries)-q.cap:]
	}
}

// Remove deletes the entry with the given id, if present.
func (q *Queue) Remove(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, n := range q.entries {
		if n.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Clear empties the queue. IDs keep increasing across a clear.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.entries = nil
	q.mu.Unlock()
}

// List returns a copy of the entries, oldest first.
func (q *Queue) List() []types.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]types.Notification, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len reports the current queue length.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
