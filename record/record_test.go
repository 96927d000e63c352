package record

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/ironsheep/p2term/ring"
)

func TestSealUnsealRoundTrip(t *testing.T) {
	s, err := newSealer("hunter2")
	if err != nil {
		t.Fatalf("newSealer: %v", err)
	}
	plain := []byte("Cog3  debug line\r\n")
	sealed, err := s.seal(plain)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if string(sealed) == string(plain) {
		t.Fatal("sealed output must differ from plaintext")
	}
	got, err := s.unseal(sealed)
	if err != nil {
		t.Fatalf("unseal: %v", err)
	}
	if string(got) != string(plain) {
		t.Fatalf("unsealed = %q, want %q", got, plain)
	}
}

func TestEmptyPassphraseDisablesSealing(t *testing.T) {
	s, err := newSealer("")
	if err != nil {
		t.Fatalf("newSealer: %v", err)
	}
	if s != nil {
		t.Fatal("empty passphrase must return a nil sealer")
	}
}

func TestRecordThenLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.p2rec")
	start := int64(1_000_000_000)

	rec, err := Create(path, start, Metadata{DeviceName: "P2-Eval"}, "", 0)
	if err != nil {
		t.Fatalf("Open recorder: %v", err)
	}
	rec.Record(start+5_000_000, []byte("Cog0  INIT $0 $0 load\r\n"))
	rec.Record(start+12_000_000, []byte("Cog3  hello\r\n"))
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if rec.Truncated() {
		t.Fatal("unexpected truncation")
	}

	p, err := Open(path, "")
	if err != nil {
		t.Fatalf("Open player: %v", err)
	}
	defer p.Close()
	if err := p.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(p.entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(p.entries))
	}
	if p.entries[0].DeltaMS != 5 || p.entries[1].DeltaMS != 12 {
		t.Fatalf("deltas = %d,%d", p.entries[0].DeltaMS, p.entries[1].DeltaMS)
	}
	if string(p.entries[1].Payload) != "Cog3  hello\r\n" {
		t.Fatalf("payload = %q", p.entries[1].Payload)
	}
}

func TestSealedRecordingRequiresPassphraseToLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sealed.p2rec")
	rec, err := Create(path, 0, Metadata{}, "correct horse", 0)
	if err != nil {
		t.Fatalf("Open recorder: %v", err)
	}
	rec.Record(1_000_000, []byte("secret line\r\n"))
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p, err := Open(path, "wrong passphrase")
	if err != nil {
		t.Fatalf("Open player: %v", err)
	}
	defer p.Close()
	if err := p.Load(); err == nil {
		t.Fatal("expected Load to fail decrypting with the wrong passphrase")
	}
}

func TestPlayInjectsIntoSinkInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playback.p2rec")
	rec, err := Create(path, 0, Metadata{}, "", 0)
	if err != nil {
		t.Fatalf("Open recorder: %v", err)
	}
	rec.Record(1_000_000, []byte("A"))
	rec.Record(3_000_000, []byte("B"))
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	p, err := Open(path, "")
	if err != nil {
		t.Fatalf("Open player: %v", err)
	}
	defer p.Close()
	if err := p.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	p.SetSpeed(10)

	r := ring.New(4096)
	defer r.Close()
	if err := p.Play(r, 0); err != nil {
		t.Fatalf("Play: %v", err)
	}
	first, second := r.ReadableSpan()
	got := ring.Bounce(first, second)
	if string(got) != "AB" {
		t.Fatalf("sink received %q, want %q", got, "AB")
	}
}

func TestSeekIndexByTimeFraction(t *testing.T) {
	p := &Player{entries: []Entry{
		{DeltaMS: 0}, {DeltaMS: 100}, {DeltaMS: 200}, {DeltaMS: 400},
	}}
	if got := p.seekIndex(0); got != 0 {
		t.Fatalf("seekIndex(0) = %d", got)
	}
	if got := p.seekIndex(1); got != 4 {
		t.Fatalf("seekIndex(1) = %d", got)
	}
	if got := p.seekIndex(0.5); got != 2 {
		t.Fatalf("seekIndex(0.5) = %d, want the 200ms entry", got)
	}
}

func TestSetSpeedClampsToValidRange(t *testing.T) {
	p := &Player{speed: 1}
	p.cond = sync.NewCond(&p.mu)
	p.SetSpeed(0.01)
	if p.speed != 0.25 {
		t.Fatalf("speed = %v, want clamped to 0.25", p.speed)
	}
	p.SetSpeed(50)
	if p.speed != 10 {
		t.Fatalf("speed = %v, want clamped to 10", p.speed)
	}
}
