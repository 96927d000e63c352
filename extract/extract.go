// Package extract implements the autonomous classification worker
// (C3): it drains the shared ring, segments the byte stream into
// typed messages by the rules in spec.md §4.C3, and publishes pool
// slot IDs to the router over a small SPSC queue.
package extract

import (
	"bytes"
	"sync/atomic"

	"github.com/ironsheep/p2term/message"
	"github.com/ironsheep/p2term/reset"
	"github.com/ironsheep/p2term/ring"
	"github.com/ironsheep/p2term/route"
)

// lineBudget is the maximum length of a single unterminated line
// before it is forced out as TERMINAL_OUTPUT (spec.md §4.C3 edge
// case, "64 KiB"). Pinned to message.MaxPayload rather than a literal
// 65536: a line can never be classified into a slot larger than the
// slot itself holds, so the pool's payload cap is the real ceiling.
const lineBudget = message.MaxPayload

// debuggerPacketLen is the fixed binary frame length emitted by the
// P2 single-step debugger.
const debuggerPacketLen = 416

// handshakeByte opens the one-shot "expect a debugger packet" window.
// Chosen per DESIGN.md's Open Question decision: 0xFE falls outside
// both the 0x00..0x07 cog-tag range and printable ASCII, so it cannot
// collide with ordinary terminal text.
const handshakeByte = 0xFE

// Stats is a point-in-time snapshot of extractor counters, part of
// the observable-metrics surface (spec.md §6).
type Stats struct {
	LineBudgetExceeded uint64
	SyncLost           uint64
	Classified         uint64
}

// Extractor runs the C3 classification loop on its own goroutine. It
// owns no lock on the hot path: the ring and pool are SPSC-disciplined
// and the extractor is always the lone consumer of one side and
// producer of the other.
type Extractor struct {
	ring *ring.Ring
	pool *message.Pool
	out  chan<- route.Item

	boundaries <-chan reset.Boundary
	stop       chan struct{}

	pendingBoundary *reset.Boundary // received while parked in waitForWork

	debuggerArmed bool

	lineBudgetExceeded uint64
	syncLost           uint64
	classified         uint64
}

// New builds an Extractor reading from r, allocating from p, and
// publishing to out. boundaries delivers reset markers that must be
// interleaved into out in arrival order; it may be nil if no reset
// coordinator is wired (e.g. in isolated tests).
func New(r *ring.Ring, p *message.Pool, out chan<- route.Item, boundaries <-chan reset.Boundary) *Extractor {
	return &Extractor{
		ring:       r,
		pool:       p,
		out:        out,
		boundaries: boundaries,
		stop:       make(chan struct{}),
	}
}

// Stop signals the run loop to exit after its current iteration. It
// does not close the ring or the output channel.
func (e *Extractor) Stop() { close(e.stop) }

// Stats returns a snapshot of the extractor's counters.
func (e *Extractor) Stats() Stats {
	return Stats{
		LineBudgetExceeded: atomic.LoadUint64(&e.lineBudgetExceeded),
		SyncLost:           atomic.LoadUint64(&e.syncLost),
		Classified:         atomic.LoadUint64(&e.classified),
	}
}

// Run drives the classification loop until Stop is called; closing the
// ring only wakes a parked wait and does not end the loop. It is meant
// to be the body of the extractor's dedicated goroutine.
func (e *Extractor) Run() {
	for {
		select {
		case <-e.stop:
			return
		default:
		}

		span := e.peek()
		if len(span) > 0 {
			armedWaiting := false
			if e.tryDebuggerPacket(span, &armedWaiting) {
				continue
			}
			if armedWaiting {
				// A debugger frame is mid-flight and the span isn't long
				// enough to classify it yet. The payload is opaque binary,
				// so none of the other rules may look at it — a stray
				// '\n' inside it would desync tryTerminalFallback against
				// bytes that still belong to the pending packet.
				if e.drainBoundary(span) {
					continue
				}
				if e.waitForWork() {
					return
				}
				continue
			}
			if e.tryCogLine(span) {
				continue
			}
			if e.tryBacktick(span) {
				continue
			}
			if e.tryTerminalFallback(span) {
				continue
			}
		}

		// Nothing classifiable in the current span. Before parking,
		// check for a pending reset boundary: it takes priority over
		// waiting for more bytes, since a partial line must be
		// flushed and the marker forwarded promptly (spec.md's
		// reset-boundary edge case), not held up behind a line
		// terminator that may never arrive before the reset.
		if e.drainBoundary(span) {
			continue
		}
		if e.waitForWork() {
			return
		}
	}
}

// peek materializes the ring's current readable span into one
// contiguous slice, bouncing across the wrap point if needed. It never
// consumes.
func (e *Extractor) peek() []byte {
	first, second := e.ring.ReadableSpan()
	return ring.Bounce(first, second)
}

// drainBoundary checks (non-blockingly) for a pending reset boundary.
// If one is found, any partial ASCII line in the current span is
// flushed as TERMINAL_OUTPUT first, binary classification state is
// cleared, and the marker is forwarded to the router — all per
// spec.md's reset-boundary edge case.
func (e *Extractor) drainBoundary(span []byte) bool {
	boundary := e.pendingBoundary
	e.pendingBoundary = nil
	if boundary == nil {
		select {
		case b := <-e.boundaries: // a nil channel is never ready
			boundary = &b
		default:
			return false
		}
	}
	if len(span) > 0 {
		e.emitTerminal(span)
	}
	e.debuggerArmed = false
	e.out <- route.Item{Boundary: boundary}
	return true
}

// waitForWork blocks until the ring has more bytes, a boundary
// arrives, or Stop is called, whichever happens first. It reports
// whether the caller should exit (stop was requested).
func (e *Extractor) waitForWork() bool {
	woken := make(chan struct{})
	go func() {
		e.ring.Wait()
		close(woken)
	}()
	select {
	case <-e.stop:
		return true
	case <-woken:
		return false
	case b := <-e.boundaries: // nil when no coordinator is wired: never ready
		e.pendingBoundary = &b
		return false
	}
}

// tryDebuggerPacket implements classification rule 1. It both arms
// the one-shot handshake window and consumes a complete packet once
// armed; see DESIGN.md's Open Question decision on the debugger-frame
// window of validity.
//
// waiting is set to true when the handshake is armed, the bytes seen
// so far are still plausibly a debugger frame (first byte in
// 0x00-0x07), but span isn't yet long enough to contain the whole
// packet. The caller must not let any other classification rule look
// at span in that case — the payload is opaque binary and may contain
// bytes that look like line terminators or backtick commands.
func (e *Extractor) tryDebuggerPacket(span []byte, waiting *bool) bool {
	if !e.debuggerArmed {
		if span[0] != handshakeByte {
			return false
		}
		e.ring.Consume(1)
		e.debuggerArmed = true
		return true
	}

	if span[0] > 0x07 {
		// A putative packet interrupted by a sync byte: the window
		// closes immediately and the bytes fall through to the other
		// rules instead of being discarded (spec.md §4.C3 sync-loss
		// policy). This check does not wait for a full 416 bytes —
		// the first byte alone is enough to know the handshake did
		// not open a real debugger frame.
		e.debuggerArmed = false
		atomic.AddUint64(&e.syncLost, 1)
		return false
	}
	if len(span) < debuggerPacketLen {
		*waiting = true
		return false
	}

	n := int8(span[0])
	e.publish(message.NewDebuggerPacket(n), message.Matched, span[:debuggerPacketLen], nil)
	e.ring.Consume(debuggerPacketLen)
	e.debuggerArmed = false
	return true
}

func (e *Extractor) tryCogLine(span []byte) bool {
	line, outOfRange, ok := matchCogLine(span)
	if !ok {
		return false
	}
	var kind message.Kind
	switch {
	case outOfRange:
		kind = message.Simple(message.InvalidCog)
	case isGoldenSync(line.N, line.Body):
		kind = message.Simple(message.P2SystemInit)
	default:
		kind = message.NewCogMessage(int8(line.N))
	}
	e.publish(kind, message.Matched, line.Matched, nil)
	e.ring.Consume(len(line.Matched))
	return true
}

func (e *Extractor) tryBacktick(span []byte) bool {
	cmd, ok := matchBacktickLine(span)
	if !ok {
		return false
	}
	if cmd.IsCreate {
		e.publish(message.Simple(message.BacktickCreate), message.Matched, cmd.Matched, []string{cmd.Type, cmd.Name})
	} else {
		payload := bytes.Join(toByteSlices(cmd.Payload), []byte(" "))
		e.publish(message.Simple(message.BacktickUpdate), message.Matched, payload, cmd.Targets)
	}
	e.ring.Consume(len(cmd.Matched))
	return true
}

func toByteSlices(ss []string) [][]byte {
	out := make([][]byte, len(ss))
	for i, s := range ss {
		out[i] = []byte(s)
	}
	return out
}

// tryTerminalFallback implements classification rule 4: a terminated
// line that matched neither rule 2 nor rule 3, or a line that has run
// past the line budget without a terminator.
func (e *Extractor) tryTerminalFallback(span []byte) bool {
	if idx := bytes.IndexByte(span, '\n'); idx >= 0 && idx < lineBudget {
		e.emitTerminal(span[:idx+1])
		return true
	}
	if len(span) >= lineBudget {
		atomic.AddUint64(&e.lineBudgetExceeded, 1)
		e.emitTerminal(span[:lineBudget])
		return true
	}
	return false
}

// emitTerminal publishes span as TERMINAL_OUTPUT with HEURISTIC
// confidence and consumes exactly len(span) bytes from the ring.
func (e *Extractor) emitTerminal(span []byte) {
	e.publish(message.Simple(message.TerminalOutput), message.Heuristic, span, nil)
	e.ring.Consume(len(span))
}

func (e *Extractor) publish(kind message.Kind, confidence message.Confidence, data []byte, names []string) {
	id := e.pool.Allocate()
	e.pool.Fill(id, kind, confidence, message.Now(), data, names)
	atomic.AddUint64(&e.classified, 1)
	e.out <- route.Item{Slot: id}
}
