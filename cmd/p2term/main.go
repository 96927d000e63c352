// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/ironsheep/p2term/config"
	"github.com/ironsheep/p2term/extract"
	"github.com/ironsheep/p2term/message"
	"github.com/ironsheep/p2term/metrics"
	"github.com/ironsheep/p2term/record"
	"github.com/ironsheep/p2term/reset"
	"github.com/ironsheep/p2term/ring"
	"github.com/ironsheep/p2term/route"
	"github.com/ironsheep/p2term/serial"
)

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	defaults := config.Default()

	myApp := cli.NewApp()
	myApp.Name = "p2term"
	myApp.Usage = "Propeller 2 debug terminal core (ingestion & routing engine)"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "port",
			Usage: "serial device, e.g. /dev/ttyUSB0 or COM3",
		},
		cli.IntFlag{
			Name:  "baud",
			Value: defaults.Baud,
			Usage: "baud rate (up to 2,000,000)",
		},
		cli.StringFlag{
			Name:  "control-line",
			Value: defaults.ControlLine,
			Usage: "reset control line: DTR or RTS",
		},
		cli.BoolFlag{
			Name:  "no-reset-on-connect",
			Usage: "passive monitoring: do not pulse the control line on open",
		},
		cli.IntFlag{
			Name:  "ring-capacity",
			Value: defaults.RingCapacity,
			Usage: "shared ring capacity in bytes (rounded up to a power of two)",
		},
		cli.IntFlag{
			Name:  "pool-slots",
			Value: defaults.PoolSlots,
			Usage: "message pool slot count",
		},
		cli.IntFlag{
			Name:  "pre-ready-cap",
			Value: defaults.PreReadyCap,
			Usage: "per-window pre-ready backlog cap",
		},
		cli.IntFlag{
			Name:  "drain-timeout-ms",
			Value: defaults.DrainTimeout,
			Usage: "reset boundary drain timeout, in milliseconds",
		},
		cli.IntFlag{
			Name:  "keep-last-k",
			Value: defaults.KeepLastK,
			Usage: "reset boundary retention depth",
		},
		cli.StringFlag{
			Name:  "record",
			Usage: "write a .p2rec capture of the inbound stream to this path",
		},
		cli.IntFlag{
			Name:  "recorder-queue-depth",
			Value: defaults.RecorderQueueCap,
			Usage: "bounded async-writer queue depth for the recorder",
		},
		cli.StringFlag{
			Name:   "passphrase",
			Usage:  "seal recordings at rest with AES-256-GCM under this passphrase",
			EnvVar: "P2TERM_PASSPHRASE",
		},
		cli.StringFlag{
			Name:  "metrics-log",
			Usage: "collect metrics to file, aware of time format in golang, like: ./metrics-20060102.log",
		},
		cli.IntFlag{
			Name:  "metrics-period",
			Value: defaults.MetricsPeriod,
			Usage: "metrics collection period, in seconds",
		},
		cli.StringFlag{
			Name:  "log",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "pprof",
			Usage: "start profiling server on :6060",
		},
		cli.StringFlag{
			Name:  "c",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = run
	if err := myApp.Run(os.Args); err != nil {
		log.Fatalf("%+v", err)
	}
}

func run(c *cli.Context) error {
	cfg := config.Default()
	cfg.Port = c.String("port")
	cfg.Baud = c.Int("baud")
	cfg.ControlLine = c.String("control-line")
	cfg.ResetOnOpen = !c.Bool("no-reset-on-connect")
	cfg.RingCapacity = c.Int("ring-capacity")
	cfg.PoolSlots = c.Int("pool-slots")
	cfg.PreReadyCap = c.Int("pre-ready-cap")
	cfg.DrainTimeout = c.Int("drain-timeout-ms")
	cfg.KeepLastK = c.Int("keep-last-k")
	cfg.RecordPath = c.String("record")
	cfg.RecorderQueueCap = c.Int("recorder-queue-depth")
	cfg.Passphrase = c.String("passphrase")
	cfg.MetricsLog = c.String("metrics-log")
	cfg.MetricsPeriod = c.Int("metrics-period")
	cfg.Log = c.String("log")
	cfg.Pprof = c.Bool("pprof")

	if path := c.String("c"); path != "" {
		if err := config.ParseJSONConfig(&cfg, path); err != nil {
			return errors.Wrap(err, "parseJSONConfig")
		}
	}

	if cfg.Log != "" {
		f, err := os.OpenFile(cfg.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return errors.Wrap(err, "open log file")
		}
		defer f.Close()
		log.SetOutput(f)
	}

	if cfg.Port == "" {
		return errors.New("port is required (-port)")
	}

	log.Println("version:", VERSION)
	log.Println("port:", cfg.Port)
	log.Println("baud:", cfg.Baud)
	log.Println("control line:", cfg.ControlLine)
	log.Println("reset on connect:", cfg.ResetOnOpen)
	log.Println("ring capacity:", cfg.RingCapacity)
	log.Println("pool slots:", cfg.PoolSlots)
	log.Println("pre-ready cap:", cfg.PreReadyCap)
	log.Println("drain timeout ms:", cfg.DrainTimeout)
	log.Println("keep last k:", cfg.KeepLastK)
	log.Println("record path:", cfg.RecordPath)
	log.Println("metrics log:", cfg.MetricsLog)
	log.Println("pprof:", cfg.Pprof)

	// Parameter sanity checks, same "print and proceed" idiom the
	// teacher uses for its QPP/scavenger parameter warnings.
	if cfg.Baud > 2_000_000 {
		color.Red("WARNING: baud %d exceeds the P2's supported 2,000,000; the device may not lock on.", cfg.Baud)
	}
	if cfg.RecordPath != "" && cfg.Passphrase == "" {
		color.Red("WARNING: recording to %s with no -passphrase: the .p2rec file will be stored in the clear.", cfg.RecordPath)
	}

	var controlLine reset.Line
	switch strings.ToUpper(cfg.ControlLine) {
	case "RTS":
		controlLine = reset.RTS
	default:
		controlLine = reset.DTR
	}

	if cfg.Pprof {
		go http.ListenAndServe(":6060", nil)
	}

	reg := metrics.New()
	stopMetrics := make(chan struct{})
	metrics.StartLogger(cfg.MetricsLog, time.Duration(cfg.MetricsPeriod)*time.Second, reg, stopMetrics)

	ringBuf := ring.New(cfg.RingCapacity)
	pool := message.New(cfg.PoolSlots)
	boundaries := make(chan reset.Boundary, cfg.KeepLastK+1)
	items := make(chan route.Item, 4096)

	centralLog := &centralLogHandler{}
	mainTerminal := &stdoutHandler{}
	creator := &loggingWindowCreator{}

	var rec *record.Recorder
	if cfg.RecordPath != "" {
		meta := record.Metadata{
			DeviceName:    cfg.Port,
			RecordingDate: time.Now().Format(time.RFC3339),
		}
		var err error
		rec, err = record.Create(cfg.RecordPath, message.Now(), meta, cfg.Passphrase, cfg.RecorderQueueCap)
		if err != nil {
			return errors.Wrap(err, "record.Create")
		}
		log.Println("recording to:", cfg.RecordPath)
	}

	coord := reset.New(boundaries, func() {
		centralLog.OnRotate()
		if rec != nil && rec.Truncated() {
			log.Println("reset: rotate_log event (recording already truncated)")
		}
	})
	coord.SetDrainTimeout(time.Duration(cfg.DrainTimeout) * time.Millisecond)

	overflow := &overflowCounter{reg: reg}

	var recorderTap serial.Recorder
	if rec != nil {
		recorderTap = rec
	}

	transport, err := serial.Open(serial.Options{
		Port:        cfg.Port,
		Baud:        cfg.Baud,
		ControlLine: controlLine,
		Overflow:    overflow,
		Recorder:    recorderTap,
		Bytes:       reg,
	}, ringBuf)
	if err != nil {
		return errors.Wrap(err, "serial.Open")
	}

	extractor := extract.New(ringBuf, pool, items, boundaries)
	router := route.NewRouter(items, pool, centralLog, mainTerminal, creator, coord, cfg.PreReadyCap)

	go extractor.Run()
	go router.Run()
	stopPolling := make(chan struct{})
	go pollMetrics(reg, extractor, router, coord, ringBuf, pool, stopPolling)

	if cfg.ResetOnOpen {
		go func() {
			if err := transport.PulseReset(coord, 0, message.Now()); err != nil {
				log.Println("reset-on-connect: pulse reset:", err)
			}
		}()
	}

	startSIGUSR1Handler(transport, coord, extractor)

	shutdown := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigCh
		log.Println("shutting down")
		close(stopPolling)
		close(stopMetrics)
		if err := transport.Close(); err != nil {
			log.Println("transport close:", err)
		}
		extractor.Stop()
		time.Sleep(time.Duration(cfg.DrainTimeout) * time.Millisecond)
		router.Stop()
		if rec != nil {
			if err := rec.Close(); err != nil {
				log.Println("recorder close:", err)
			}
		}
		close(shutdown)
	}()

	<-shutdown
	return nil
}

// overflowCounter adapts metrics.Registry to serial.Overflower.
type overflowCounter struct {
	reg *metrics.Registry
}

func (o *overflowCounter) OnBufferOverflow(dropped int) {
	o.reg.IncOverflow()
}

// pollMetrics mirrors each component's own atomic counters into the
// shared registry once a second — the components keep their own
// Stats() for in-process inspection, this just feeds the periodic CSV
// logger the same numbers, the way the teacher's SnmpLogger reads
// kcp.DefaultSnmp directly rather than every call site touching it.
func pollMetrics(reg *metrics.Registry, ex *extract.Extractor, router *route.Router, coord *reset.Coordinator, ringBuf *ring.Ring, pool *message.Pool, stop <-chan struct{}) {
	var lastSyncLost, lastLineBudget uint64
	var lastMissing, lastQueueFull, lastHandlerFail uint64
	var lastDrainTimeout, lastDTR, lastRTS uint64
	var lastClassified uint64

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			es := ex.Stats()
			catchUp(&lastSyncLost, es.SyncLost, reg.IncSyncLost)
			catchUp(&lastLineBudget, es.LineBudgetExceeded, reg.IncLineBudgetExceeded)
			catchUp(&lastClassified, es.Classified, reg.IncMessagesOut)

			rs := router.Stats()
			catchUp(&lastMissing, rs.MissingDestination, reg.IncMissingDest)
			catchUp(&lastQueueFull, rs.QueueFull, reg.IncQueueFull)
			catchUp(&lastHandlerFail, rs.HandlerFailed, reg.IncHandlerFail)

			cs := coord.Stats()
			catchUp(&lastDrainTimeout, cs.DrainTimeouts, reg.IncDrainTimeout)
			catchUp(&lastDTR, cs.DTRResets, func() { reg.IncReset(false) })
			catchUp(&lastRTS, cs.RTSResets, func() { reg.IncReset(true) })

			if capacity := ringBuf.Capacity(); capacity > 0 {
				reg.SetRingFill(uint64(ringBuf.Fill()) * 100 / uint64(capacity))
			}
			if ps := pool.Stats(); ps.Capacity > 0 {
				reg.SetPoolInUse(uint64(ps.InUse) * 100 / uint64(ps.Capacity))
			}
		}
	}
}

// catchUp calls inc once for every unit current has advanced past
// *last, then updates *last — turning a cumulative snapshot counter
// into the registry's per-event Inc* calls.
func catchUp(last *uint64, current uint64, inc func()) {
	for *last < current {
		inc()
		*last++
	}
}
