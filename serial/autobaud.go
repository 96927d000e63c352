package serial

import "bytes"

// autoBaudAck is the byte pattern the side buffer treats as the P2's
// auto-baud acknowledgement. It is a two-byte stand-in chosen for this
// package, not bytes taken from the P2 ROM. The side buffer watches for
// it without removing the bytes from the main stream (spec.md §4.C1).
var autoBaudAck = []byte{0x15, 0x2D} // NAK, '-'

// autoBaudWatcher is a small sliding-window matcher: Feed is called
// with every chunk the read loop receives, in order, and never
// consumes or mutates it.
type autoBaudWatcher struct {
	tail  []byte // last len(autoBaudAck)-1 bytes seen, for matches spanning chunk boundaries
	acked bool
}

func newAutoBaudWatcher() *autoBaudWatcher {
	return &autoBaudWatcher{tail: make([]byte, 0, len(autoBaudAck)-1)}
}

// Feed scans chunk (plus any carried-over tail from the previous call)
// for autoBaudAck.
func (w *autoBaudWatcher) Feed(chunk []byte) {
	if w.acked {
		return
	}
	window := append(append([]byte(nil), w.tail...), chunk...)
	if bytes.Contains(window, autoBaudAck) {
		w.acked = true
		w.tail = w.tail[:0]
		return
	}
	keep := len(autoBaudAck) - 1
	if keep <= 0 {
		return
	}
	if len(window) > keep {
		window = window[len(window)-keep:]
	}
	w.tail = append(w.tail[:0], window...)
}

// Acked reports whether the handshake has been observed.
func (w *autoBaudWatcher) Acked() bool { return w.acked }
