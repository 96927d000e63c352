package route

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ironsheep/p2term/message"
	"github.com/ironsheep/p2term/reset"
)

var testBoundary = reset.Boundary{Sequence: 9, TimestampNS: 1}

type call struct {
	kind      message.Kind
	payload   string
	arrivalNS int64
}

type fakeHandler struct {
	mu      sync.Mutex
	calls   []call
	err     error
	readyN  int
	closedN int
}

func (f *fakeHandler) Handle(kind message.Kind, payload []byte, arrivalNS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: kind, payload: string(payload), arrivalNS: arrivalNS})
	return f.err
}
func (f *fakeHandler) OnReady() { f.mu.Lock(); f.readyN++; f.mu.Unlock() }
func (f *fakeHandler) OnClose() { f.mu.Lock(); f.closedN++; f.mu.Unlock() }

func (f *fakeHandler) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]call, len(f.calls))
	copy(out, f.calls)
	return out
}

type fakeCreator struct {
	mu    sync.Mutex
	types []string
	names []string
}

func (f *fakeCreator) CreateWindow(windowType, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, windowType)
	f.names = append(f.names, name)
}

type fakeResetSink struct {
	mu         sync.Mutex
	confirmed  []uint64
	goldenSync []int64
}

func (f *fakeResetSink) Confirm(sequence uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirmed = append(f.confirmed, sequence)
}
func (f *fakeResetSink) GoldenSync(arrivalNS int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.goldenSync = append(f.goldenSync, arrivalNS)
}

// harness bundles a running Router with the pieces tests poke at.
type harness struct {
	pool    *message.Pool
	in      chan Item
	router  *Router
	log     *fakeHandler
	term    *fakeHandler
	creator *fakeCreator
	reset   *fakeResetSink
}

func newRouterHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		pool:    message.New(32),
		in:      make(chan Item, 32),
		log:     &fakeHandler{},
		term:    &fakeHandler{},
		creator: &fakeCreator{},
		reset:   &fakeResetSink{},
	}
	h.router = NewRouter(h.in, h.pool, h.log, h.term, h.creator, h.reset, 4)
	go h.router.Run()
	t.Cleanup(h.router.Stop)
	return h
}

func (h *harness) publish(kind message.Kind, payload string, names []string) {
	id := h.pool.Allocate()
	h.pool.Fill(id, kind, message.Matched, 100, []byte(payload), names)
	h.in <- Item{Slot: id}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestCogMessageToCentralLogAndNamedWindow(t *testing.T) {
	h := newRouterHarness(t)
	cog3 := &fakeHandler{}
	h.router.Commands() <- RegisterHandler("cog-3", cog3)

	h.publish(message.NewCogMessage(3), "Cog3  hi\r\n", nil)

	waitUntil(t, func() bool { return len(h.log.snapshot()) == 1 && len(cog3.snapshot()) == 1 })
	if got := h.log.snapshot()[0].payload; got != "Cog3  hi\r\n" {
		t.Fatalf("central log payload = %q", got)
	}
}

func TestMissingNamedWindowCountsButCentralLogStillReceives(t *testing.T) {
	h := newRouterHarness(t)
	h.publish(message.NewCogMessage(5), "Cog5  hi\r\n", nil)
	waitUntil(t, func() bool { return len(h.log.snapshot()) == 1 })
	waitUntil(t, func() bool { return h.router.Stats().MissingDestination == 1 })
}

func TestPreReadyQueueDrainsInOrderOnceReady(t *testing.T) {
	h := newRouterHarness(t)
	h.router.Commands() <- RegisterInstance("cog-1", "term")

	h.publish(message.NewCogMessage(1), "Cog1  first\r\n", nil)
	h.publish(message.NewCogMessage(1), "Cog1  second\r\n", nil)
	waitUntil(t, func() bool { return len(h.log.snapshot()) == 2 })

	cog1 := &fakeHandler{}
	h.router.Commands() <- RegisterHandler("cog-1", cog1)
	waitUntil(t, func() bool { return len(cog1.snapshot()) == 2 })

	calls := cog1.snapshot()
	if calls[0].payload != "Cog1  first\r\n" || calls[1].payload != "Cog1  second\r\n" {
		t.Fatalf("delivered out of order: %+v", calls)
	}
	if cog1.readyN != 1 {
		t.Fatalf("OnReady called %d times, want 1", cog1.readyN)
	}
}

func TestGoldenSyncNotifiesResetSinkAndCog0(t *testing.T) {
	h := newRouterHarness(t)
	cog0 := &fakeHandler{}
	h.router.Commands() <- RegisterHandler("cog-0", cog0)

	h.publish(message.Simple(message.P2SystemInit), "Cog0  INIT $0 $0 load\r\n", nil)

	waitUntil(t, func() bool { return len(h.reset.goldenSync) == 1 && len(cog0.snapshot()) == 1 })
}

func TestBacktickCreateCallsFactory(t *testing.T) {
	h := newRouterHarness(t)
	h.publish(message.Simple(message.BacktickCreate), "`scope ch1 400 300 100\n", []string{"scope", "ch1"})
	waitUntil(t, func() bool { return len(h.creator.types) == 1 })
	if h.creator.types[0] != "scope" || h.creator.names[0] != "ch1" {
		t.Fatalf("creator got type=%q name=%q", h.creator.types[0], h.creator.names[0])
	}
}

func TestBacktickUpdateDispatchesToEachTargetInOrder(t *testing.T) {
	h := newRouterHarness(t)
	ch1 := &fakeHandler{}
	ch2 := &fakeHandler{}
	h.router.Commands() <- RegisterHandler("ch1", ch1)
	h.router.Commands() <- RegisterHandler("ch2", ch2)

	h.publish(message.Simple(message.BacktickUpdate), "0,1,2", []string{"ch1", "ch2"})

	waitUntil(t, func() bool { return len(ch1.snapshot()) == 1 && len(ch2.snapshot()) == 1 })
	if ch1.snapshot()[0].payload != "0,1,2" || ch2.snapshot()[0].payload != "0,1,2" {
		t.Fatal("both targets should receive the same payload")
	}
}

func TestBoundaryConfirmsToResetSinkWithoutDispatch(t *testing.T) {
	h := newRouterHarness(t)
	h.in <- Item{Boundary: &testBoundary}
	waitUntil(t, func() bool { return len(h.reset.confirmed) == 1 })
	if h.reset.confirmed[0] != testBoundary.Sequence {
		t.Fatalf("confirmed sequence = %d, want %d", h.reset.confirmed[0], testBoundary.Sequence)
	}
	if len(h.log.snapshot()) != 0 {
		t.Fatal("a boundary marker must not be dispatched to any handler")
	}
}

func TestHandlerErrorIsLoggedAndCounted(t *testing.T) {
	h := newRouterHarness(t)
	h.log.err = errors.New("boom")
	h.publish(message.Simple(message.TerminalOutput), "hello\n", nil)
	waitUntil(t, func() bool { return h.router.Stats().HandlerFailed >= 1 })
}

type panickingHandler struct{}

func (panickingHandler) Handle(message.Kind, []byte, int64) error { panic("handler exploded") }
func (panickingHandler) OnReady()                                 {}
func (panickingHandler) OnClose()                                 {}

func TestHandlerPanicIsRecoveredOtherDestinationsStillReceive(t *testing.T) {
	h := newRouterHarness(t)
	h.router.Commands() <- RegisterHandler("cog-2", panickingHandler{})

	h.publish(message.NewCogMessage(2), "Cog2  hi\r\n", nil)

	waitUntil(t, func() bool { return len(h.log.snapshot()) == 1 })
	waitUntil(t, func() bool { return h.router.Stats().HandlerFailed >= 1 })
}
