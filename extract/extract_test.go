package extract

import (
	"reflect"
	"testing"
	"time"

	"github.com/ironsheep/p2term/message"
	"github.com/ironsheep/p2term/reset"
	"github.com/ironsheep/p2term/ring"
	"github.com/ironsheep/p2term/route"
)

// newHarness wires a small ring+pool+extractor triple for a single
// test and returns a function to read the next published item with a
// bounded wait, plus teardown.
func newHarness(t *testing.T, boundaries <-chan reset.Boundary) (r *ring.Ring, p *message.Pool, out chan route.Item, e *Extractor) {
	t.Helper()
	r = ring.New(1 << 20)
	p = message.New(16)
	out = make(chan route.Item, 64)
	e = New(r, p, out, boundaries)
	go e.Run()
	t.Cleanup(func() {
		e.Stop()
		r.Close()
	})
	return r, p, out, e
}

func recvItem(t *testing.T, out <-chan route.Item) route.Item {
	t.Helper()
	select {
	case item := <-out:
		return item
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published item")
		return route.Item{}
	}
}

func TestCogMessageClassification(t *testing.T) {
	r, p, out, _ := newHarness(t, nil)
	if err := r.Append([]byte("Cog3  hello\r\n")); err != nil {
		t.Fatal(err)
	}
	item := recvItem(t, out)
	if item.IsBoundary() {
		t.Fatal("unexpected boundary item")
	}
	if got := p.KindOf(item.Slot); got != message.NewCogMessage(3) {
		t.Fatalf("kind = %v, want COG_MESSAGE(3)", got)
	}
	if got := string(p.Read(item.Slot)); got != "Cog3  hello\r\n" {
		t.Fatalf("payload = %q", got)
	}
	if p.ConfidenceOf(item.Slot) != message.Matched {
		t.Fatal("expected MATCHED confidence")
	}
}

func TestGoldenSyncClassification(t *testing.T) {
	r, p, out, _ := newHarness(t, nil)
	body := []byte("Cog0  INIT $0000_0000 $0000_0000 load\r\n")
	if err := r.Append(body); err != nil {
		t.Fatal(err)
	}
	item := recvItem(t, out)
	if got := p.KindOf(item.Slot); got != message.Simple(message.P2SystemInit) {
		t.Fatalf("kind = %v, want P2_SYSTEM_INIT", got)
	}
	if got := string(p.Read(item.Slot)); got != string(body) {
		t.Fatalf("payload = %q", got)
	}
}

func TestBacktickCreateThenMultiUpdate(t *testing.T) {
	r, p, out, _ := newHarness(t, nil)
	if err := r.Append([]byte("`scope ch1 400 300 100\n")); err != nil {
		t.Fatal(err)
	}
	create := recvItem(t, out)
	if got := p.KindOf(create.Slot); got != message.Simple(message.BacktickCreate) {
		t.Fatalf("kind = %v, want BACKTICK_CREATE", got)
	}
	if got := p.Names(create.Slot); !reflect.DeepEqual(got, []string{"scope", "ch1"}) {
		t.Fatalf("names = %v", got)
	}

	if err := r.Append([]byte("`ch1 ch2 0,1,2\n")); err != nil {
		t.Fatal(err)
	}
	update := recvItem(t, out)
	if got := p.KindOf(update.Slot); got != message.Simple(message.BacktickUpdate) {
		t.Fatalf("kind = %v, want BACKTICK_UPDATE", got)
	}
	if got := p.Names(update.Slot); !reflect.DeepEqual(got, []string{"ch1", "ch2"}) {
		t.Fatalf("targets = %v", got)
	}
	if got := string(p.Read(update.Slot)); got != "0,1,2" {
		t.Fatalf("payload = %q", got)
	}
}

func TestDebuggerPacketClassification(t *testing.T) {
	r, p, out, _ := newHarness(t, nil)
	pkt := make([]byte, 1+debuggerPacketLen)
	pkt[0] = handshakeByte
	pkt[1] = 0x05
	for i := 2; i < len(pkt); i++ {
		pkt[i] = byte(i)
	}
	if err := r.Append(pkt); err != nil {
		t.Fatal(err)
	}
	item := recvItem(t, out)
	want := message.NewDebuggerPacket(5)
	if got := p.KindOf(item.Slot); got != want {
		t.Fatalf("kind = %v, want %v", got, want)
	}
	if got := p.Read(item.Slot); len(got) != debuggerPacketLen || got[0] != 0x05 {
		t.Fatalf("payload len=%d first=%x", len(got), got[0])
	}
}

func TestSyncLossAfterHandshakeFallsThroughToOtherRules(t *testing.T) {
	r, p, out, e := newHarness(t, nil)
	payload := append([]byte{handshakeByte}, []byte("Cog3  hi\r\n")...)
	if err := r.Append(payload); err != nil {
		t.Fatal(err)
	}
	item := recvItem(t, out)
	if got := p.KindOf(item.Slot); got != message.NewCogMessage(3) {
		t.Fatalf("kind = %v, want COG_MESSAGE(3) after sync loss", got)
	}
	if e.Stats().SyncLost == 0 {
		t.Fatal("expected sync-loss counter to increment")
	}
}

func TestLineBudgetExceededSplitsLine(t *testing.T) {
	r, p, out, e := newHarness(t, nil)
	data := make([]byte, lineBudget+1)
	for i := range data {
		data[i] = 'x'
	}
	if err := r.Append(data); err != nil {
		t.Fatal(err)
	}
	item := recvItem(t, out)
	if got := p.KindOf(item.Slot); got != message.Simple(message.TerminalOutput) {
		t.Fatalf("kind = %v, want TERMINAL_OUTPUT", got)
	}
	if got := len(p.Read(item.Slot)); got != lineBudget {
		t.Fatalf("payload len = %d, want %d", got, lineBudget)
	}
	if p.ConfidenceOf(item.Slot) != message.Heuristic {
		t.Fatal("expected HEURISTIC confidence")
	}
	if e.Stats().LineBudgetExceeded == 0 {
		t.Fatal("expected line-budget-exceeded counter to increment")
	}
}

func TestResetBoundaryFlushesPartialLineFirst(t *testing.T) {
	boundaries := make(chan reset.Boundary, 1)
	r, p, out, _ := newHarness(t, boundaries)
	if err := r.Append([]byte("partial text with no terminator yet")); err != nil {
		t.Fatal(err)
	}
	boundaries <- reset.Boundary{Sequence: 7, TimestampNS: 42}

	flushed := recvItem(t, out)
	if flushed.IsBoundary() {
		t.Fatal("expected the partial line to be flushed before the boundary")
	}
	if got := p.KindOf(flushed.Slot); got != message.Simple(message.TerminalOutput) {
		t.Fatalf("kind = %v, want TERMINAL_OUTPUT", got)
	}
	if got := string(p.Read(flushed.Slot)); got != "partial text with no terminator yet" {
		t.Fatalf("flushed payload = %q", got)
	}

	marker := recvItem(t, out)
	if !marker.IsBoundary() {
		t.Fatal("expected a boundary item next")
	}
	if marker.Boundary.Sequence != 7 {
		t.Fatalf("sequence = %d, want 7", marker.Boundary.Sequence)
	}
}
