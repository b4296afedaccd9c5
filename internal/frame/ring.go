package frame

import "sync/atomic"

// Ring is a lock-free single-producer single-consumer bounded queue of
// Frames. The producer is always an audio-device callback (real-time
// thread: no locks, no allocation once constructed); the consumer is
// always the session task goroutine. On overflow the oldest frame is
// dropped and Overflows is incremented, observable from status/metrics.
type Ring struct {
	buf       [RingCapacity]Frame
	head      atomic.Uint64 // next write index
	tail      atomic.Uint64 // next read index
	Overflows atomic.Uint64
}

// NewRing returns an empty ring ready for use.
func NewRing() *Ring {
	return &Ring{}
}

// Push enqueues a frame. Called only from the audio callback. Never
// blocks: if the ring is full, the oldest frame is dropped to make
// room (the callback must never stall the audio thread).
func (r *Ring) Push(f Frame) {
	head := r.head.Load()
	tail := r.tail.Load()
	if head-tail >= RingCapacity {
		// full: drop oldest by advancing tail; consumer may observe a
		// torn read if it is mid-Pop, which is fine since both sides
		// only ever move forward and slots are overwritten, not freed.
		r.tail.CompareAndSwap(tail, tail+1)
		r.Overflows.Add(1)
	}
	r.buf[head%RingCapacity] = f
	r.head.Store(head + 1)
}

// Pop dequeues the oldest frame. Called only from the consumer
// goroutine. Returns ok=false if the ring is currently empty.
func (r *Ring) Pop() (Frame, bool) {
	tail := r.tail.Load()
	head := r.head.Load()
	if tail >= head {
		return Frame{}, false
	}
	f := r.buf[tail%RingCapacity]
	r.tail.Store(tail + 1)
	return f, true
}

// Len reports the number of frames currently queued.
func (r *Ring) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()
	if head < tail {
		return 0
	}
	return int(head - tail)
}

// Drain discards all currently queued frames, returning how many were
// dropped. Used by the flush delay in the capture session to discard
// TTS-reverb-contaminated frames before streaming starts.
func (r *Ring) Drain() int {
	n := 0
	for {
		if _, ok := r.Pop(); !ok {
			return n
		}
		n++
	}
}
