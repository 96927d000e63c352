//go:build linux || darwin
// +build linux darwin

package serial

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/ironsheep/p2term/reset"
)

// pulseLine asserts line on the device at path for the hold duration
// via TIOCMBIS/TIOCMBIC, then releases it. goburrow/serial's Port
// doesn't expose the underlying file descriptor for modem-control
// ioctls, so the pulse opens its own short-lived handle to the same
// device node rather than threading one through the read/write Port.
func pulseLine(path string, line reset.Line, hold time.Duration) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "controlline: open")
	}
	defer f.Close()

	bit := tiocmBit(line)
	if err := ioctlBits(f, unix.TIOCMBIS, bit); err != nil {
		return errors.Wrap(err, "controlline: assert")
	}
	time.Sleep(hold)
	if err := ioctlBits(f, unix.TIOCMBIC, bit); err != nil {
		return errors.Wrap(err, "controlline: release")
	}
	return nil
}

func tiocmBit(line reset.Line) int {
	if line == reset.RTS {
		return unix.TIOCM_RTS
	}
	return unix.TIOCM_DTR
}

func ioctlBits(f *os.File, request uint, bit int) error {
	return unix.IoctlSetPointerInt(int(f.Fd()), request, bit)
}

// drainDevice blocks until path's hardware FIFO has transmitted every
// queued byte, via TCSBRK's drain mode (arg 1, the POSIX tcdrain(3)
// equivalent). Same short-lived-handle approach as pulseLine, since
// goburrow/serial's Port doesn't expose the fd Write needs for this.
func drainDevice(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "controlline: open")
	}
	defer f.Close()

	if err := unix.IoctlSetInt(int(f.Fd()), unix.TCSBRK, 1); err != nil {
		return errors.Wrap(err, "controlline: drain")
	}
	return nil
}
