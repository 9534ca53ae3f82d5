package stack

import (
	"errors"
	"sync"

	"github.com/soypat/rawstack"
)

// ErrQueueClosed is returned by Pop once a PBQueue has been closed and
// drained; any goroutine blocked in Pop at close time is woken immediately
// rather than left to poll for shutdown, since sync.Cond.Broadcast already
// gives this implementation the wakeup spec.md's bounded poll was a
// workaround for in the original single-threaded-condvar source.
var ErrQueueClosed = errors.New("stack: queue closed")

// PBQueue is a bounded FIFO of packet buffers between producers and one
// consumer thread: a device's RX thread and the network demultiplexer, or
// the goroutines sending on the stack and the device's TX thread. Push from
// multiple goroutines is safe, only Pop assumes a single consumer loop.
// Socket inboxes do not use PBQueue; FDTable keeps them as slices.
type PBQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*rawstack.PacketBuffer
	cap    int
	closed bool
}

// NewPBQueue constructs a PBQueue bounded to capacity items; Push silently
// drops the oldest item when full rather than blocking the producer, since
// device dispatch threads must never stall on a slow downstream consumer.
func NewPBQueue(capacity int) *PBQueue {
	q := &PBQueue{cap: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues pb, dropping the oldest queued item if the queue is full.
func (q *PBQueue) Push(pb *rawstack.PacketBuffer) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	if len(q.items) >= q.cap {
		q.items = q.items[1:]
	}
	q.items = append(q.items, pb)
	q.mu.Unlock()
	q.cond.Signal()
}

// Pop blocks until an item is available or the queue is closed.
func (q *PBQueue) Pop() (*rawstack.PacketBuffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, ErrQueueClosed
	}
	pb := q.items[0]
	q.items = q.items[1:]
	return pb, nil
}

// Len reports the number of items currently queued.
func (q *PBQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close marks the queue closed and wakes every blocked Pop call; queued
// items already present drain normally before Pop starts returning
// ErrQueueClosed.
func (q *PBQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}
