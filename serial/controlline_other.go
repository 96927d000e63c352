//go:build !linux && !darwin
// +build !linux,!darwin

package serial

import (
	"time"

	"github.com/ironsheep/p2term/reset"
)

// pulseLine has no portable implementation outside the POSIX ioctl
// path; platforms landing here (e.g. Windows, which needs
// EscapeCommFunction via a different syscall surface) report
// ErrControlLineUnsupported instead of silently no-op'ing.
func pulseLine(path string, line reset.Line, hold time.Duration) error {
	return ErrControlLineUnsupported
}

// drainDevice has no portable implementation outside the POSIX
// tcdrain(3) path. Unlike pulseLine, Write must still succeed on
// these platforms, so this is a best-effort no-op rather than an
// error: there's no reset-safety reason to refuse the write, only a
// weaker guarantee that the FIFO has actually flushed by the time it
// returns.
func drainDevice(path string) error {
	return nil
}
