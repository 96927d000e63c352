package record

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// closeDrainDeadline bounds how long Close waits for the writer
// goroutine to drain the queue before giving up and closing the file
// out from under it (spec.md §5 stop() deadline).
const closeDrainDeadline = 2 * time.Second

// DefaultQueueDepth is the recorder's bounded async-write channel
// depth (spec.md §6 recorder_queue_depth).
const DefaultQueueDepth = 4096

type pendingEntry struct {
	deltaMS  uint32
	dataType DataType
	payload  []byte
}

// Recorder taps C1's inbound path with a zero-copy callback: each
// Record call enqueues one entry onto a bounded channel drained by a
// background writer goroutine, so a slow disk never stalls the
// transport's read loop. When the channel is full the entry is dropped and the
// session is marked Truncated.
type Recorder struct {
	startNS int64
	f       *os.File
	w       *bufio.Writer
	seal    *sealer

	queue chan pendingEntry
	done  chan struct{}

	entryCount uint32 // atomic
	truncated  int32  // atomic bool

	mu      sync.Mutex
	closeErr error
}

// Create creates path and begins recording, tagging entries with
// timestamps relative to startNS. passphrase, if non-empty, enables
// AES-GCM sealing of the entry payloads (§4.C7). meta is written to
// the clear metadata blob immediately; its EntryCount/TotalDuration
// are advisory only (the entry stream itself is authoritative), so
// callers that care about the final count use EntryCount rather than
// relying on the header copy.
func Create(path string, startNS int64, meta Metadata, passphrase string, queueDepth int) (*Recorder, error) {
	s, err := newSealer(passphrase)
	if err != nil {
		return nil, fmt.Errorf("record: build sealer: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	blob, err := json.Marshal(meta)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := writeHeader(f, startNS, uint32(len(blob))); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := f.Write(blob); err != nil {
		f.Close()
		return nil, err
	}

	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	r := &Recorder{
		startNS: startNS,
		f:       f,
		w:       bufio.NewWriter(f),
		seal:    s,
		queue:   make(chan pendingEntry, queueDepth),
		done:    make(chan struct{}),
	}
	go r.run()
	return r, nil
}

// Record enqueues one captured write. nowNS is the arrival time on the
// same clock as startNS; the callback never blocks on disk I/O.
func (r *Recorder) Record(nowNS int64, payload []byte) {
	deltaMS := uint32((nowNS - r.startNS) / 1_000_000)
	cp := make([]byte, len(payload))
	copy(cp, payload)
	select {
	case r.queue <- pendingEntry{deltaMS: deltaMS, dataType: DataBinary, payload: cp}:
	default:
		atomic.StoreInt32(&r.truncated, 1)
	}
}

// Truncated reports whether any entry was dropped because the writer
// couldn't keep up.
func (r *Recorder) Truncated() bool {
	return atomic.LoadInt32(&r.truncated) != 0
}

// EntryCount returns the number of entries the writer has flushed so
// far.
func (r *Recorder) EntryCount() uint32 {
	return atomic.LoadUint32(&r.entryCount)
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		payload := e.payload
		if r.seal != nil {
			sealed, err := r.seal.seal(payload)
			if err != nil {
				r.setCloseErr(fmt.Errorf("record: seal entry: %w", err))
				continue
			}
			payload = sealed
		}
		if err := writeEntry(r.w, e.deltaMS, e.dataType, payload); err != nil {
			r.setCloseErr(err)
			continue
		}
		atomic.AddUint32(&r.entryCount, 1)
	}
}

func (r *Recorder) setCloseErr(err error) {
	r.mu.Lock()
	if r.closeErr == nil {
		r.closeErr = err
	}
	r.mu.Unlock()
}

// Close stops accepting new entries and waits up to
// closeDrainDeadline for the writer to drain before flushing and
// closing the file. If the writer hasn't finished by the deadline,
// Close proceeds anyway and marks the session Truncated: a stalled
// disk must not hang shutdown indefinitely. Safe to call once.
func (r *Recorder) Close() error {
	close(r.queue)
	select {
	case <-r.done:
	case <-time.After(closeDrainDeadline):
		atomic.StoreInt32(&r.truncated, 1)
		r.setCloseErr(fmt.Errorf("record: writer did not drain within %s", closeDrainDeadline))
	}
	if err := r.w.Flush(); err != nil {
		r.setCloseErr(err)
	}
	if err := r.f.Close(); err != nil {
		r.setCloseErr(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closeErr
}
