// +build !linux,!darwin,!freebsd

package main

import (
	"github.com/ironsheep/p2term/extract"
	"github.com/ironsheep/p2term/reset"
	"github.com/ironsheep/p2term/serial"
)

// startSIGUSR1Handler has no portable implementation outside POSIX
// signal delivery; platforms landing here (Windows) simply don't get
// the manual-pulse-on-signal convenience.
func startSIGUSR1Handler(transport *serial.Transport, coord *reset.Coordinator, ex *extract.Extractor) {}
