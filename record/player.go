package record

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ironsheep/p2term/ring"
)

// DriftThreshold is the inter-entry scheduling error that triggers a
// re-anchor of the playback clock (spec.md §4).
const DriftThreshold = 5 * time.Millisecond

// Sink is the injection point a Player pushes decoded entry bytes
// into — the same append the serial transport uses to feed the ring,
// so a played-back recording classifies identically to a live one.
type Sink interface {
	Append(b []byte) error
}

var _ Sink = (*ring.Ring)(nil)

// Player loads a .p2rec file and schedules its entries onto a Sink in
// real time (or at a configured speed), reproducing the original
// inter-arrival gaps.
type Player struct {
	f    *os.File
	r    *bufio.Reader
	seal *sealer
	sink Sink

	meta    Metadata
	startNS int64
	entries []Entry // loaded lazily via Load; empty until then

	mu      sync.Mutex
	speed   float64
	paused  bool
	stopped bool
	cond    *sync.Cond
}

// Open opens path, validates the header, and loads its metadata. Call
// Load to materialize the entry list before Play.
func Open(path, passphrase string) (*Player, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	s, err := newSealer(passphrase)
	if err != nil {
		f.Close()
		return nil, err
	}
	r := bufio.NewReader(f)
	startNS, metaLen, err := readHeader(r)
	if err != nil {
		f.Close()
		return nil, err
	}
	meta, err := readMetadata(r, metaLen)
	if err != nil {
		f.Close()
		return nil, err
	}
	p := &Player{f: f, r: r, seal: s, meta: meta, startNS: startNS, speed: 1.0}
	p.cond = sync.NewCond(&p.mu)
	return p, nil
}

// Metadata returns the recording's clear-text metadata blob.
func (p *Player) Metadata() Metadata { return p.meta }

// Load reads every remaining entry into memory, stopping cleanly at
// EOF on an entry boundary; io.ErrUnexpectedEOF means the file was
// truncated mid-entry, reported as an error with whatever was read so
// far still usable for playback up to that point.
func (p *Player) Load() error {
	for {
		deltaMS, dataType, payload, err := readEntry(p.r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if p.seal != nil {
			plain, uerr := p.seal.unseal(payload)
			if uerr != nil {
				return fmt.Errorf("record: unseal entry at %dms: %w", deltaMS, uerr)
			}
			payload = plain
		}
		p.entries = append(p.entries, Entry{DeltaMS: deltaMS, DataType: dataType, Payload: payload})
	}
}

// Close releases the underlying file.
func (p *Player) Close() error { return p.f.Close() }

// SetSpeed changes the playback rate; valid range is [0.25, 10] per
// spec.md §4.
func (p *Player) SetSpeed(speed float64) {
	if speed < 0.25 {
		speed = 0.25
	}
	if speed > 10 {
		speed = 10
	}
	p.mu.Lock()
	p.speed = speed
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Pause suspends scheduling until Play's internal wait loop observes
// Resume.
func (p *Player) Pause() {
	p.mu.Lock()
	p.paused = true
	p.mu.Unlock()
}

// Resume clears a prior Pause.
func (p *Player) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
	p.cond.Broadcast()
}

// Stop aborts an in-flight Play call as soon as it notices.
func (p *Player) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	p.cond.Broadcast()
}

// seekIndex returns the entry index the fraction [0,1] maps to, by
// total recorded duration rather than by entry count, so seeking to
// 0.5 lands near the midpoint in time, not in entry-sequence order.
func (p *Player) seekIndex(fraction float64) int {
	if len(p.entries) == 0 {
		return 0
	}
	if fraction <= 0 {
		return 0
	}
	if fraction >= 1 {
		return len(p.entries)
	}
	total := p.entries[len(p.entries)-1].DeltaMS
	targetMS := uint32(fraction * float64(total))
	for i, e := range p.entries {
		if e.DeltaMS >= targetMS {
			return i
		}
	}
	return len(p.entries)
}

// Play schedules every loaded entry starting at seekFraction (0 plays
// from the beginning) onto sink, honoring speed, pause, and stop.
// Drift beyond DriftThreshold re-anchors the playback clock by the
// observed drift divided by speed, per spec.md §4.
func (p *Player) Play(sink Sink, seekFraction float64) error {
	p.sink = sink
	startIdx := p.seekIndex(seekFraction)
	if startIdx >= len(p.entries) {
		return nil
	}

	wallStart := time.Now()
	baseDeltaMS := p.entries[startIdx].DeltaMS

	for _, e := range p.entries[startIdx:] {
		p.mu.Lock()
		for p.paused && !p.stopped {
			p.cond.Wait()
		}
		stopped := p.stopped
		speed := p.speed
		p.mu.Unlock()
		if stopped {
			return nil
		}

		elapsed := time.Duration(float64(e.DeltaMS-baseDeltaMS)) * time.Millisecond
		target := wallStart.Add(time.Duration(float64(elapsed) / speed))
		if sleep := time.Until(target); sleep > 0 {
			time.Sleep(sleep)
		} else if drift := -sleep; drift > DriftThreshold {
			wallStart = wallStart.Add(time.Duration(float64(drift) / speed))
		}

		if err := sink.Append(e.Payload); err != nil {
			return err
		}
	}
	return nil
}
