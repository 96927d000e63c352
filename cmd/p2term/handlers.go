package main

import (
	"fmt"
	"log"
	"os"

	"github.com/ironsheep/p2term/message"
)

// centralLogHandler is the always-present central log destination
// every message kind except the backtick commands is delivered to
// (spec.md §4.C5). It also owns
// the rotate_log event the reset coordinator's LogRotating state
// emits: full window semantics are out of scope (see Non-goals), so
// this default just timestamps the rotation in the log stream rather
// than truncating or rolling a file.
type centralLogHandler struct{}

func (h *centralLogHandler) Handle(kind message.Kind, payload []byte, arrivalNS int64) error {
	log.Printf("central-log: %s @%d: %q", kind, arrivalNS, truncateForLog(payload))
	return nil
}

func (h *centralLogHandler) OnReady() {}
func (h *centralLogHandler) OnClose() {}

// OnRotate is called by the reset coordinator's rotate callback when
// it enters LogRotating.
func (h *centralLogHandler) OnRotate() {
	log.Println("central-log: rotate_log event")
}

// stdoutHandler is the always-present main terminal destination
// (spec.md §4.C5): it writes TERMINAL_OUTPUT payloads straight
// through, unmodified, the way a real terminal window would.
type stdoutHandler struct{}

func (h *stdoutHandler) Handle(kind message.Kind, payload []byte, arrivalNS int64) error {
	_, err := os.Stdout.Write(payload)
	return err
}

func (h *stdoutHandler) OnReady() {}
func (h *stdoutHandler) OnClose() {}

// loggingWindowCreator stands in for the external window factory
// (route.WindowCreator) that owns actual window construction — full
// window semantics are a declared non-goal of the core engine, so the
// default just logs the request a real UI layer would act on.
type loggingWindowCreator struct{}

func (c *loggingWindowCreator) CreateWindow(windowType, name string) {
	log.Printf("route: create window type=%s name=%s (no UI layer wired)", windowType, name)
}

func truncateForLog(b []byte) string {
	const max = 200
	if len(b) <= max {
		return string(b)
	}
	return fmt.Sprintf("%s...(%d more bytes)", b[:max], len(b)-max)
}
