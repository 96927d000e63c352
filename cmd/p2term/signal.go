// +build linux darwin freebsd

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ironsheep/p2term/extract"
	"github.com/ironsheep/p2term/message"
	"github.com/ironsheep/p2term/reset"
	"github.com/ironsheep/p2term/serial"
)

// startSIGUSR1Handler wires SIGUSR1 to a manual control-line pulse,
// the operator's equivalent of reset_on_connect. Unlike the teacher's
// init()-started handler, this one is started from main once the
// transport and coordinator exist: there is no package-level global
// to read before they're wired.
func startSIGUSR1Handler(transport *serial.Transport, coord *reset.Coordinator, ex *extract.Extractor) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	signal.Ignore(syscall.SIGPIPE)

	go func() {
		for range ch {
			messagesSoFar := ex.Stats().Classified
			if err := transport.PulseReset(coord, messagesSoFar, message.Now()); err != nil {
				log.Println("signal: pulse reset:", err)
			}
		}
	}()
}
