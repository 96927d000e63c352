// Package serial implements C1: the serial transport that opens a P2
// debug port, streams raw bytes into the shared ring (C2), and issues
// reset pulses on the configured control line.
package serial

import (
	"errors"
	"io"
	"strings"
	"time"

	goserial "github.com/goburrow/serial"

	"github.com/ironsheep/p2term/reset"
	"github.com/ironsheep/p2term/ring"
)

// Errors surfaced by Open/Write/PulseReset/Close (spec.md §4.C1).
var (
	ErrPortUnavailable        = errors.New("serial: port unavailable")
	ErrPermissionDenied       = errors.New("serial: permission denied")
	ErrBaudUnsupported        = errors.New("serial: baud rate unsupported")
	ErrWriteFailed            = errors.New("serial: write failed")
	ErrNotOpen                = errors.New("serial: not open")
	ErrControlLineUnsupported = errors.New("serial: control line pulse unsupported on this platform")
)

// PulseHold and PulseSettle match spec.md §4.C1's pulse_reset timing:
// assert for 10ms, then wait 15ms for the P2 serial loader.
const (
	PulseHold   = 10 * time.Millisecond
	PulseSettle = 15 * time.Millisecond
)

// readBlockSize bounds a single read-task wakeup; the P2 debug stream
// has no inherent message boundary on this path; raw bytes go straight
// to the ring (spec.md §4.C1), so any size that keeps the read loop
// responsive works.
const readBlockSize = 4096

// ResetSink receives ResetIssued(kind) when PulseReset completes,
// matching spec.md §4.C1's "Emits a ResetIssued(kind) event into C6"
// contract. Callers wire *reset.Coordinator's IssueReset here.
type ResetSink interface {
	IssueReset(line reset.Line, messagesSoFar uint64, nowNS int64) error
}

// Overflower is notified when the ring has no room for a read and
// bytes had to be dropped (spec.md's BufferOverflow event).
type Overflower interface {
	OnBufferOverflow(dropped int)
}

// Recorder receives every chunk the read loop commits to the ring,
// the C7 recorder's tap on C1's inbound path (spec.md §4.C7).
type Recorder interface {
	Record(nowNS int64, payload []byte)
}

// BytesCounter observes the bytes_in metric as bytes are committed to
// the ring.
type BytesCounter interface {
	AddBytesIn(n uint64)
}

// Transport owns the open serial device, the auto-baud side buffer,
// and the read goroutine that feeds Ring.
type Transport struct {
	path        string
	controlLine reset.Line
	port        io.ReadWriteCloser
	ring        *ring.Ring
	sideBuffer  *autoBaudWatcher

	stop chan struct{}
	done chan struct{}

	overflow Overflower
	recorder Recorder
	bytes    BytesCounter
}

// Options configures Open beyond the bare port/baud/control_line
// triple the spec table names.
type Options struct {
	Port        string
	Baud        int
	ControlLine reset.Line
	Overflow    Overflower   // optional
	Recorder    Recorder     // optional
	Bytes       BytesCounter // optional
}

// Open opens the device at opts.Port/opts.Baud and starts the read
// task feeding dst. No reset pulse is issued here; callers that want
// reset_on_connect call PulseReset afterward.
func Open(opts Options, dst *ring.Ring) (*Transport, error) {
	cfg := &goserial.Config{
		Address:  opts.Port,
		BaudRate: opts.Baud,
		DataBits: 8,
		StopBits: 1,
		Parity:   "N",
		Timeout:  200 * time.Millisecond,
	}
	port, err := goserial.Open(cfg)
	if err != nil {
		return nil, classifyOpenError(err)
	}

	t := &Transport{
		path:        opts.Port,
		controlLine: opts.ControlLine,
		port:        port,
		ring:        dst,
		sideBuffer:  newAutoBaudWatcher(),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		overflow:    opts.Overflow,
		recorder:    opts.Recorder,
		bytes:       opts.Bytes,
	}
	go t.readLoop()
	return t, nil
}

// classifyOpenError maps the underlying driver's error into the
// spec's three open-time failure modes. goburrow/serial doesn't
// distinguish these itself, so this is a best-effort string classification.
func classifyOpenError(err error) error {
	msg := err.Error()
	switch {
	case containsAny(msg, "permission denied", "access is denied"):
		return ErrPermissionDenied
	case containsAny(msg, "no such file", "cannot find the", "not exist"):
		return ErrPortUnavailable
	case containsAny(msg, "invalid baud", "unsupported baud", "baud rate"):
		return ErrBaudUnsupported
	default:
		return ErrPortUnavailable
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Write appends bytes to the device and waits for the hardware FIFO
// to drain, per spec.md §4.C1.
func (t *Transport) Write(b []byte) error {
	if t.port == nil {
		return ErrNotOpen
	}
	if _, err := t.port.Write(b); err != nil {
		return ErrWriteFailed
	}
	if err := drainDevice(t.path); err != nil {
		return ErrWriteFailed
	}
	return nil
}

// PulseReset asserts the configured control line for PulseHold, waits
// PulseSettle for the P2 serial loader, then reports ResetIssued to
// sink. messagesSoFar/nowNS are forwarded to the reset coordinator for
// its bookkeeping.
func (t *Transport) PulseReset(sink ResetSink, messagesSoFar uint64, nowNS int64) error {
	if t.port == nil {
		return ErrNotOpen
	}
	if err := pulseLine(t.path, t.controlLine, PulseHold); err != nil {
		return err
	}
	time.Sleep(PulseSettle)
	if sink != nil {
		return sink.IssueReset(t.controlLine, messagesSoFar, nowNS)
	}
	return nil
}

// Close drains the read task and releases the device.
func (t *Transport) Close() error {
	close(t.stop)
	<-t.done
	return t.port.Close()
}

func (t *Transport) readLoop() {
	defer close(t.done)
	buf := make([]byte, readBlockSize)
	for {
		select {
		case <-t.stop:
			return
		default:
		}
		n, err := t.port.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			t.sideBuffer.Feed(chunk)
			if appendErr := t.ring.Append(chunk); appendErr != nil {
				if t.overflow != nil {
					t.overflow.OnBufferOverflow(n)
				}
			} else {
				if t.bytes != nil {
					t.bytes.AddBytesIn(uint64(n))
				}
				if t.recorder != nil {
					t.recorder.Record(time.Now().UnixNano(), chunk)
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return
			}
			// A read timeout on goburrow/serial is expected idle
			// behavior, not a device failure; just loop and retry.
			continue
		}
	}
}

// AutoBaudAcked reports whether the P2's auto-baud acknowledgement
// string has been observed since Open.
func (t *Transport) AutoBaudAcked() bool {
	return t.sideBuffer.Acked()
}
