package message

import (
	"sync"
	"testing"
	"time"
)

func TestAllocateFillReadRelease(t *testing.T) {
	p := New(4)
	id, ok := p.TryAllocate()
	if !ok {
		t.Fatal("expected a free slot")
	}
	p.Fill(id, NewCogMessage(3), Matched, 42, []byte("Cog3  hi\r\n"), nil)
	if got := p.KindOf(id); got != NewCogMessage(3) {
		t.Fatalf("kind = %v, want COG_MESSAGE(3)", got)
	}
	if got := string(p.Read(id)); got != "Cog3  hi\r\n" {
		t.Fatalf("payload = %q", got)
	}
	if p.ArrivalNS(id) != 42 {
		t.Fatalf("arrival = %d, want 42", p.ArrivalNS(id))
	}
	p.Release(id)
	if stats := p.Stats(); stats.InUse != 0 {
		t.Fatalf("inUse = %d after release, want 0", stats.InUse)
	}
}

func TestExhaustionBackpressures(t *testing.T) {
	p := New(1)
	id, ok := p.TryAllocate()
	if !ok {
		t.Fatal("expected first allocation to succeed")
	}
	if _, ok := p.TryAllocate(); ok {
		t.Fatal("expected exhaustion on second allocation")
	}
	if p.Stats().ExhaustedAt == 0 {
		t.Fatal("expected exhaustion counter to increment")
	}

	// Allocate() must block until Release frees the slot.
	var wg sync.WaitGroup
	wg.Add(1)
	unblocked := make(chan SlotID, 1)
	go func() {
		defer wg.Done()
		unblocked <- p.Allocate()
	}()

	select {
	case <-unblocked:
		t.Fatal("Allocate returned before Release")
	case <-time.After(20 * time.Millisecond):
	}

	p.Release(id)
	wg.Wait()
	select {
	case got := <-unblocked:
		if got == 0 {
			t.Fatal("Allocate returned the invalid slot id")
		}
	default:
		t.Fatal("Allocate never returned after Release")
	}
}

func TestFillStoresTargetNameList(t *testing.T) {
	p := New(1)
	id, _ := p.TryAllocate()
	p.Fill(id, Simple(BacktickUpdate), Matched, 1, []byte("0,1,2"), []string{"ch1", "ch2"})
	if got := p.Names(id); !equalStrings(got, []string{"ch1", "ch2"}) {
		t.Fatalf("names = %v", got)
	}
	p.Release(id)
	if got := p.Names(id); got != nil {
		t.Fatalf("names after release = %v, want nil", got)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestHighWaterTracksPeakUsage(t *testing.T) {
	p := New(2)
	a, _ := p.TryAllocate()
	_, _ = p.TryAllocate()
	if p.Stats().HighWater != 2 {
		t.Fatalf("highWater = %d, want 2", p.Stats().HighWater)
	}
	p.Release(a)
	if p.Stats().HighWater != 2 {
		t.Fatalf("highWater should not decrease, got %d", p.Stats().HighWater)
	}
}
