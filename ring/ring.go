// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package ring implements the single-producer/single-consumer byte
// ring shared between the serial transport and the extractor.
package ring

import (
	"errors"
	"sync"
	"sync/atomic"
)

// ErrOverflow is returned by Append when the ring has no room for the
// write. Append also counts it (see Overflows); the caller (serial)
// reports it onward as a BufferOverflow event.
var ErrOverflow = errors.New("ring: overflow")

// DefaultCapacity is the default ring size named in the configuration
// table (1 MiB).
const DefaultCapacity = 1 << 20

// Ring is a fixed-capacity power-of-two byte ring. Exactly one
// goroutine may call Append (the transport's read loop); exactly one
// goroutine may call ReadableSpan/Consume (the extractor). head and
// tail are the only cross-goroutine state and are accessed with
// atomic acquire/release semantics — there is no lock on the hot
// path.
type Ring struct {
	buf  []byte
	mask uint64

	head uint64 // producer write cursor, published with a release store
	tail uint64 // consumer read cursor, published with a release store

	mu        sync.Mutex // guards the condvar below, not the indices
	cond      *sync.Cond
	waitHead  uint64 // guarded by mu: head as of the last Wait return
	overflows uint64
}

// New creates a Ring of the given capacity, rounded up to the next
// power of two. Capacity must be > 0.
func New(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	size := nextPow2(uint64(capacity))
	r := &Ring{
		buf:  make([]byte, size),
		mask: size - 1,
	}
	r.cond = sync.NewCond(&r.mu)
	return r
}

func nextPow2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

// Capacity returns the ring's fixed byte capacity.
func (r *Ring) Capacity() int {
	return len(r.buf)
}

// Append writes bytes into the ring if there is room, publishing the
// new head with a release store, then wakes any consumer waiting in
// Wait. It returns ErrOverflow (and writes nothing) when the ring
// cannot hold the whole chunk — the transport is expected to count
// this as a BufferOverflow event and drop the chunk, per spec.
func (r *Ring) Append(b []byte) error {
	head := atomic.LoadUint64(&r.head)
	tail := atomic.LoadUint64(&r.tail)
	free := uint64(len(r.buf)) - (head - tail)
	if uint64(len(b)) > free {
		atomic.AddUint64(&r.overflows, 1)
		return ErrOverflow
	}

	pos := head & r.mask
	n := copy(r.buf[pos:], b)
	if n < len(b) {
		copy(r.buf, b[n:])
	}

	atomic.StoreUint64(&r.head, head+uint64(len(b))) // release store

	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
	return nil
}

// ReadableSpan returns up to two contiguous byte slices describing
// everything the producer has committed but the consumer has not yet
// consumed: first is the run up to the physical end of the backing
// array or up to the full readable length, whichever is shorter;
// second is the wrapped remainder, if any. The extractor may read
// (but not consume) ahead into these slices for pattern matching.
func (r *Ring) ReadableSpan() (first, second []byte) {
	head := atomic.LoadUint64(&r.head) // acquire load
	tail := atomic.LoadUint64(&r.tail)
	n := head - tail
	if n == 0 {
		return nil, nil
	}

	start := tail & r.mask
	end := start + n
	cap64 := uint64(len(r.buf))
	if end <= cap64 {
		return r.buf[start:end], nil
	}
	return r.buf[start:cap64], r.buf[:end-cap64]
}

// Consume advances the consumer cursor by n bytes, which must never
// exceed the length of the last span ReadableSpan reported: the
// extractor may read ahead for classification, but must only commit
// consumption for bytes it has actually classified (possibly as
// UNCLASSIFIED_TEXT), preserving the ability to resync on the
// remainder.
func (r *Ring) Consume(n int) {
	if n <= 0 {
		return
	}
	atomic.AddUint64(&r.tail, uint64(n)) // release store
}

// Fill returns the number of unread bytes currently buffered.
func (r *Ring) Fill() int {
	head := atomic.LoadUint64(&r.head)
	tail := atomic.LoadUint64(&r.tail)
	return int(head - tail)
}

// Overflows returns the cumulative overflow counter.
func (r *Ring) Overflows() uint64 {
	return atomic.LoadUint64(&r.overflows)
}

// Wait blocks until the producer has appended at least one byte since
// the last call, or until Close is called. It is used by the
// extractor to park instead of busy-spinning when the ring is empty.
func (r *Ring) Wait() {
	r.mu.Lock()
	if atomic.LoadUint64(&r.head) == r.waitHead {
		r.cond.Wait()
	}
	r.waitHead = atomic.LoadUint64(&r.head)
	r.mu.Unlock()
}

// Close wakes any goroutine parked in Wait; it does not invalidate
// the buffer or mark the ring as closed.
func (r *Ring) Close() {
	r.mu.Lock()
	r.cond.Broadcast()
	r.mu.Unlock()
}

// Bounce materializes a span that straddles the physical wrap point
// into a single contiguous buffer, the only copy the ring ever forces
// on the extractor — needed because a classified message must be
// handed to the message pool as one contiguous []byte.
func Bounce(first, second []byte) []byte {
	if len(second) == 0 {
		return first
	}
	out := make([]byte, len(first)+len(second))
	copy(out, first)
	copy(out[len(first):], second)
	return out
}
