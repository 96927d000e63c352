package route

import (
	"fmt"

	"github.com/ironsheep/p2term/message"
)

// DefaultPreReadyQueueCap is the default bound on a not-yet-ready
// window's queued-message backlog (spec.md §6 pre_ready_queue_cap).
const DefaultPreReadyQueueCap = 1000

// DispatchResult reports what a Registry.Dispatch call did with a
// message, so the router can count it appropriately.
type DispatchResult uint8

const (
	ResultMissing DispatchResult = iota
	ResultQueued
	ResultQueueFull
	ResultDelivered
)

type queuedMessage struct {
	kind      message.Kind
	payload   []byte
	arrivalNS int64
}

type windowEntry struct {
	windowType string
	handler    Handler
	ready      bool
	preReady   []queuedMessage
}

// Registry is the router's window table: instance-registered windows
// that are not yet handler-ready queue messages (bounded) instead of
// dropping them, per spec.md's two-phase registration design note.
// It is owned by the router goroutine; every other goroutine talks to
// it only through commands built with RegisterInstance,
// RegisterHandler, and Unregister, drained inline before dispatch.
type Registry struct {
	entries     map[string]*windowEntry
	preReadyCap int
}

// NewRegistry builds an empty registry. preReadyCap <= 0 uses
// DefaultPreReadyQueueCap.
func NewRegistry(preReadyCap int) *Registry {
	if preReadyCap <= 0 {
		preReadyCap = DefaultPreReadyQueueCap
	}
	return &Registry{entries: make(map[string]*windowEntry), preReadyCap: preReadyCap}
}

// Command is a registration mutation, applied on the router goroutine.
type Command struct {
	kind       commandKind
	windowID   string
	windowType string
	handler    Handler
}

type commandKind uint8

const (
	cmdRegisterInstance commandKind = iota
	cmdRegisterHandler
	cmdUnregister
)

// RegisterInstance creates a not-ready window entry for windowID so
// early messages addressed to it can start queuing.
func RegisterInstance(windowID, windowType string) Command {
	return Command{kind: cmdRegisterInstance, windowID: windowID, windowType: windowType}
}

// RegisterHandler attaches h to windowID and marks it ready,
// transitioning any queued pre-ready messages to delivery in order.
func RegisterHandler(windowID string, h Handler) Command {
	return Command{kind: cmdRegisterHandler, windowID: windowID, handler: h}
}

// Unregister removes windowID's entry, calling OnClose if a handler
// was attached.
func Unregister(windowID string) Command {
	return Command{kind: cmdUnregister, windowID: windowID}
}

// Apply performs one registration command against the registry.
func (r *Registry) Apply(cmd Command) {
	switch cmd.kind {
	case cmdRegisterInstance:
		if _, exists := r.entries[cmd.windowID]; !exists {
			r.entries[cmd.windowID] = &windowEntry{windowType: cmd.windowType}
		}
	case cmdRegisterHandler:
		e, exists := r.entries[cmd.windowID]
		if !exists {
			e = &windowEntry{}
			r.entries[cmd.windowID] = e
		}
		e.handler = cmd.handler
		e.ready = true
		backlog := e.preReady
		e.preReady = nil
		for _, q := range backlog {
			if err := safeInvoke(e.handler, q.kind, q.payload, q.arrivalNS); err != nil {
				logHandlerError(cmd.windowID, err)
			}
		}
		e.handler.OnReady()
	case cmdUnregister:
		if e, exists := r.entries[cmd.windowID]; exists {
			if e.handler != nil {
				e.handler.OnClose()
			}
			delete(r.entries, cmd.windowID)
		}
	}
}

// Dispatch delivers one message to windowID, queuing it if the window
// exists but is not yet ready, or reporting it missing/full so the
// caller can count the outcome per spec.md §4.C5's error policy.
func (r *Registry) Dispatch(windowID string, kind message.Kind, payload []byte, arrivalNS int64) (DispatchResult, error) {
	e, ok := r.entries[windowID]
	if !ok {
		return ResultMissing, nil
	}
	if !e.ready {
		if len(e.preReady) >= r.preReadyCap {
			return ResultQueueFull, nil
		}
		cp := make([]byte, len(payload))
		copy(cp, payload)
		e.preReady = append(e.preReady, queuedMessage{kind: kind, payload: cp, arrivalNS: arrivalNS})
		return ResultQueued, nil
	}
	return ResultDelivered, safeInvoke(e.handler, kind, payload, arrivalNS)
}

// safeInvoke calls h.Handle, converting a handler panic into an error
// so one misbehaving window never takes down the router thread.
func safeInvoke(h Handler, kind message.Kind, payload []byte, arrivalNS int64) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h.Handle(kind, payload, arrivalNS)
}
