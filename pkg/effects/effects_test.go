package effects

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestApplyActivatesAndReverts(t *testing.T) {
	d := New(WithDuration(KindStars, 30*time.Millisecond))

	d.Apply(KindStars, json.RawMessage(`{"count":3}`))
	if !d.Active(KindStars) {
		t.Fatal("stars should be active after Apply")
	}

	time.Sleep(80 * time.Millisecond)
	if d.Active(KindStars) {
		t.Fatal("stars should auto-revert after its window")
	}
}

func TestReapplyRestartsWindowWithOneRevert(t *testing.T) {
	var mu sync.Mutex
	var reverts int
	d := New(
		WithDuration(KindHighlight, 60*time.Millisecond),
		WithOnChange(func(e Effect) {
			if e.Kind == KindHighlight && !e.Active {
				mu.Lock()
				reverts++
				mu.Unlock()
			}
		}),
	)

	d.Apply(KindHighlight, nil)
	time.Sleep(30 * time.Millisecond)
	d.Apply(KindHighlight, nil)

	// Past the first apply's deadline but within the second's window.
	time.Sleep(45 * time.Millisecond)
	if !d.Active(KindHighlight) {
		t.Fatal("second Apply must reschedule the revert, not keep the first")
	}

	time.Sleep(60 * time.Millisecond)
	if d.Active(KindHighlight) {
		t.Fatal("highlight should be reverted by now")
	}
	mu.Lock()
	defer mu.Unlock()
	if reverts != 1 {
		t.Errorf("got %d reverts, want exactly 1", reverts)
	}
}

func TestKindsAreIndependent(t *testing.T) {
	d := New(
		WithDuration(KindStars, 20*time.Millisecond),
		WithDuration(KindBackground, 200*time.Millisecond),
	)

	d.Apply(KindStars, nil)
	d.Apply(KindBackground, json.RawMessage(`{"mood":"calm"}`))

	time.Sleep(60 * time.Millisecond)
	if d.Active(KindStars) {
		t.Error("stars should have reverted")
	}
	if !d.Active(KindBackground) {
		t.Error("background must outlive the stars revert")
	}
}

func TestUnknownKindIgnored(t *testing.T) {
	d := New()
	d.Apply(Kind("teleport"), nil)
	for _, e := range d.Snapshot() {
		if e.Active {
			t.Errorf("unexpected active effect %+v", e)
		}
	}
}

func TestResetCancelsPendingReverts(t *testing.T) {
	var mu sync.Mutex
	var changes int
	d := New(
		WithDuration(KindConfetti, 20*time.Millisecond),
		WithOnChange(func(e Effect) {
			if !e.Active {
				mu.Lock()
				changes++
				mu.Unlock()
			}
		}),
	)

	d.Apply(KindConfetti, nil)
	d.Reset()
	if d.Active(KindConfetti) {
		t.Fatal("Reset must deactivate")
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if changes != 0 {
		t.Errorf("cancelled revert still fired %d times", changes)
	}
}
