// Package route implements the two-tier router (C5): a kind router
// that dequeues classified messages from the extractor and looks up
// destinations by message.Kind, and a window router that owns the
// window registry and enforces per-window delivery ordering across
// reset boundaries.
package route

import "github.com/ironsheep/p2term/message"

// Handler is the capability set a window must implement to receive
// routed messages. It stands in for the source's open-world JS
// closures with a small, closed interface — the same shape as the
// teacher's Mux/Stream capability sets.
type Handler interface {
	// Handle delivers one message. payload aliases pool memory and
	// must not be retained past the call. Handlers run synchronously
	// on the router thread and must not block on disk or network.
	Handle(kind message.Kind, payload []byte, arrivalNS int64) error
	// OnReady is called once, when the window transitions from
	// instance-registered to handler-ready, after its pre-ready queue
	// (if any) has been drained.
	OnReady()
	// OnClose is called once, when the window is unregistered.
	OnClose()
}
