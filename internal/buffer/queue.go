package buffer

import "sync/atomic"

// DefaultQueueCapacity holds a little over four seconds of one lead at the
// reference sample rate (5 samples / 20 ms).
const DefaultQueueCapacity = 4096

// Queue is a bounded FIFO handing one lead's samples from the producer to
// the render loop. It is safe for one producer and one consumer running
// concurrently. When full, the oldest value is evicted so the producer
// never blocks.
type Queue struct {
	ch      chan float64
	dropped atomic.Uint64
}

func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}

	return &Queue{ch: make(chan float64, capacity)}
}

// Push enqueues values in order and returns how many older values were
// evicted to make room.
func (q *Queue) Push(values []float64) int {
	evicted := 0
	for _, v := range values {
		select {
		case q.ch <- v:
			continue
		default:
		}

		select {
		case <-q.ch:
			evicted++
		default:
		}

		select {
		case q.ch <- v:
		default:
			// Only reachable with a second producer; count the new value as lost.
			evicted++
		}
	}

	if evicted > 0 {
		q.dropped.Add(uint64(evicted))
	}

	return evicted
}

// Drain appends everything queued at call time to dst. Values pushed while
// draining are left for the next call.
func (q *Queue) Drain(dst []float64) []float64 {
	n := len(q.ch)
	for i := 0; i < n; i++ {
		select {
		case v := <-q.ch:
			dst = append(dst, v)
		default:
			return dst
		}
	}

	return dst
}

// Len returns the number of queued values.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the queue bound.
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Dropped returns the total number of evicted values.
func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
