package serverlink

import (
	"sync"
	"sync/atomic"

	"github.com/mindfly/brainpilot/internal/neuro"
)

// sampleQueue is a bounded FIFO of outbound samples. When full, Push
// evicts the oldest queued sample: bounded staleness is preferred over
// unbounded memory growth or blocking the sensor-read path.
type sampleQueue struct {
	mu   sync.Mutex
	buf  []neuro.Sample
	head int
	size int

	dropped atomic.Uint64

	// ready carries a wakeup to the connection writer when the queue
	// goes non-empty.
	ready chan struct{}
}

func newSampleQueue(capacity int) *sampleQueue {
	return &sampleQueue{
		buf:   make([]neuro.Sample, capacity),
		ready: make(chan struct{}, 1),
	}
}

// Push enqueues a sample without blocking. It reports whether an older
// sample was evicted to make room.
func (q *sampleQueue) Push(s neuro.Sample) (evicted bool) {
	q.mu.Lock()

	if q.size == len(q.buf) {
		// Evict the oldest; the newest samples within a burst are the
		// ones worth keeping.
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		q.dropped.Add(1)
		evicted = true
	}

	q.buf[(q.head+q.size)%len(q.buf)] = s
	q.size++
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return evicted
}

// Pop dequeues the oldest sample without blocking.
func (q *sampleQueue) Pop() (neuro.Sample, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.size == 0 {
		return neuro.Sample{}, false
	}

	s := q.buf[q.head]
	q.buf[q.head] = neuro.Sample{}
	q.head = (q.head + 1) % len(q.buf)
	q.size--
	return s, true
}

// Len returns the number of queued samples.
func (q *sampleQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Dropped returns the total number of evicted samples.
func (q *sampleQueue) Dropped() uint64 {
	return q.dropped.Load()
}
