package route

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/ironsheep/p2term/message"
)

// WindowCreator is the external factory contract a BACKTICK_CREATE
// command is handed to. It is an external collaborator (spec.md §1):
// the router only calls it, it never owns window construction.
type WindowCreator interface {
	CreateWindow(windowType, name string)
}

// ResetSink receives the two events the router produces for the reset
// coordinator (C6): boundary-drain confirmations and golden-sync
// notifications. The router depends only on these two methods;
// *reset.Coordinator satisfies it.
type ResetSink interface {
	Confirm(sequence uint64)
	GoldenSync(arrivalNS int64)
}

// Stats is a snapshot of the router's error counters, part of the
// observable-metrics surface (spec.md §6).
type Stats struct {
	MissingDestination uint64
	QueueFull          uint64
	HandlerFailed      uint64
}

// Router is the kind router + window router (C5). It is the sole
// owner of the window Registry and the sole caller of Pool.Release:
// every message it dequeues is released exactly once, after every one
// of its destinations has been visited (delivered, queued, or
// counted as missing/full).
type Router struct {
	in       <-chan Item
	pool     *message.Pool
	registry *Registry
	commands chan Command

	centralLog   Handler
	mainTerminal Handler
	creator      WindowCreator
	resetSink    ResetSink

	stop chan struct{}

	missingDestination uint64
	queueFull          uint64
	handlerFailed      uint64
}

// NewRouter builds a Router. centralLog and mainTerminal are the two
// fixed, always-present destinations (spec.md §4.C5); creator and
// resetSink may be nil in configurations that don't need them (e.g.
// isolated tests).
func NewRouter(in <-chan Item, pool *message.Pool, centralLog, mainTerminal Handler, creator WindowCreator, resetSink ResetSink, preReadyCap int) *Router {
	return &Router{
		in:           in,
		pool:         pool,
		registry:     NewRegistry(preReadyCap),
		commands:     make(chan Command, 64),
		centralLog:   centralLog,
		mainTerminal: mainTerminal,
		creator:      creator,
		resetSink:    resetSink,
		stop:         make(chan struct{}),
	}
}

// Commands returns the send side of the registration command channel
// (register_instance/register_handler/unregister), drained inline on
// the router thread before each dispatch and applied as they arrive
// while the router is idle.
func (router *Router) Commands() chan<- Command { return router.commands }

// Stop signals Run to exit after its current item.
func (router *Router) Stop() { close(router.stop) }

// Stats returns a snapshot of the router's error counters.
func (router *Router) Stats() Stats {
	return Stats{
		MissingDestination: atomic.LoadUint64(&router.missingDestination),
		QueueFull:          atomic.LoadUint64(&router.queueFull),
		HandlerFailed:      atomic.LoadUint64(&router.handlerFailed),
	}
}

// Run drives the router loop until Stop is called or the input
// channel is closed and drained.
func (router *Router) Run() {
	for {
		select {
		case <-router.stop:
			return
		case cmd := <-router.commands:
			router.registry.Apply(cmd)
		case item, ok := <-router.in:
			if !ok {
				return
			}
			router.drainCommands()
			router.handle(item)
		}
	}
}

func (router *Router) drainCommands() {
	for {
		select {
		case cmd := <-router.commands:
			router.registry.Apply(cmd)
		default:
			return
		}
	}
}

func (router *Router) handle(item Item) {
	if item.IsBoundary() {
		if router.resetSink != nil {
			router.resetSink.Confirm(item.Boundary.Sequence)
		}
		return
	}

	defer router.pool.Release(item.Slot)
	kind := router.pool.KindOf(item.Slot)
	payload := router.pool.Read(item.Slot)
	arrival := router.pool.ArrivalNS(item.Slot)

	switch kind.Tag {
	case message.DebuggerPacket:
		n, _ := kind.Cog()
		router.deliver(router.centralLog, kind, payload, arrival, "central-log")
		router.dispatchNamed(fmt.Sprintf("debugger-%d", n), kind, payload, arrival)

	case message.CogMessage:
		n, _ := kind.Cog()
		router.deliver(router.centralLog, kind, payload, arrival, "central-log")
		router.dispatchNamed(fmt.Sprintf("cog-%d", n), kind, payload, arrival)

	case message.InvalidCog:
		router.deliver(router.centralLog, kind, payload, arrival, "central-log")

	case message.P2SystemInit:
		router.deliver(router.centralLog, kind, payload, arrival, "central-log")
		router.dispatchNamed("cog-0", kind, payload, arrival)
		if router.resetSink != nil {
			router.resetSink.GoldenSync(arrival)
		}

	case message.BacktickCreate:
		names := router.pool.Names(item.Slot)
		if router.creator != nil && len(names) == 2 {
			router.creator.CreateWindow(names[0], names[1])
		}

	case message.BacktickUpdate:
		for _, id := range router.pool.Names(item.Slot) {
			router.dispatchNamed(id, kind, payload, arrival)
		}

	case message.TerminalOutput:
		router.deliver(router.centralLog, kind, payload, arrival, "central-log")
		router.deliver(router.mainTerminal, kind, payload, arrival, "main-terminal")

	case message.InternalTxEcho:
		// Logged for accounting but never forwarded to a display
		// destination — that is the point of this kind: suppress the
		// transport's own write from being shown as if it were
		// inbound terminal output.
		router.deliver(router.centralLog, kind, payload, arrival, "central-log")
	}
}

// deliver invokes one of the two fixed destinations directly; they
// are core engine responsibilities, not registry entries, so they are
// never "missing".
func (router *Router) deliver(h Handler, kind message.Kind, payload []byte, arrivalNS int64, label string) {
	if h == nil {
		return
	}
	if err := safeInvoke(h, kind, payload, arrivalNS); err != nil {
		logHandlerError(label, err)
		atomic.AddUint64(&router.handlerFailed, 1)
	}
}

// dispatchNamed delivers to a registry-resolved window_id and counts
// the outcome, per spec.md §4.C5's error policy: missing destination
// drops only that destination, a full pre-ready queue drops with a
// counter, a handler failure is logged and other destinations still
// receive (the caller already invoked those separately).
func (router *Router) dispatchNamed(windowID string, kind message.Kind, payload []byte, arrivalNS int64) {
	result, err := router.registry.Dispatch(windowID, kind, payload, arrivalNS)
	switch result {
	case ResultMissing:
		atomic.AddUint64(&router.missingDestination, 1)
	case ResultQueueFull:
		log.Printf("route: pre-ready queue full for window %q, dropping message", windowID)
		atomic.AddUint64(&router.queueFull, 1)
	case ResultQueued:
	case ResultDelivered:
		if err != nil {
			logHandlerError(windowID, err)
			atomic.AddUint64(&router.handlerFailed, 1)
		}
	}
}

func logHandlerError(windowID string, err error) {
	log.Printf("route: handler %q failed: %v", windowID, err)
}
