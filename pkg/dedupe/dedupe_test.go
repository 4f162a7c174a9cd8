package dedupe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
)

func TestObserveSuppressesRepeat(t *testing.T) {
	w := NewWindow(3)

	if !w.Observe("a") {
		t.Fatal("Expected first delivery of 'a' to be fresh")
	}
	if w.Observe("a") {
		t.Error("Expected repeat of 'a' to be suppressed")
	}
	if !w.Seen("a") {
		t.Error("Expected 'a' to be remembered")
	}
}

func TestObserveEvictsOldest(t *testing.T) {
	w := NewWindow(3)
	for _, id := range []string{"a", "b", "c", "d"} {
		w.Observe(id)
	}

	if w.Seen("a") {
		t.Error("Expected 'a' to be evicted after the window filled")
	}
	for _, id := range []string{"b", "c", "d"} {
		if !w.Seen(id) {
			t.Errorf("Expected '%s' to be remembered", id)
		}
	}
	if w.Len() != 3 {
		t.Errorf("Expected window length 3, got %d", w.Len())
	}
	// An evicted id counts as new again.
	if !w.Observe("a") {
		t.Error("Expected evicted 'a' to be fresh")
	}
}

func TestNewWindowDefaultSize(t *testing.T) {
	w := NewWindow(0)
	for i := 0; i < DefaultSize+1; i++ {
		w.Observe(fmt.Sprintf("m%d", i))
	}
	if w.Seen("m0") {
		t.Error("Expected m0 to be evicted from a default-sized window")
	}
	if !w.Seen("m1") {
		t.Error("Expected m1 to be remembered")
	}
}

func TestObserveConcurrentDeliveries(t *testing.T) {
	w := NewWindow(10)

	var fresh atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Observe("same") {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := fresh.Load(); got != 1 {
		t.Errorf("Expected exactly one fresh delivery, got %d", got)
	}
}
