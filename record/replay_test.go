package record

import "testing"

func TestWindow_AcceptsInOrder(t *testing.T) {
	w := newWindow(8)
	for i := uint64(0); i < 5; i++ {
		if err := w.checkAndSet(i); err != nil {
			t.Fatalf("checkAndSet(%d): %v", i, err)
		}
	}
}

func TestWindow_RejectsDuplicate(t *testing.T) {
	w := newWindow(8)
	if err := w.checkAndSet(3); err != nil {
		t.Fatalf("checkAndSet: %v", err)
	}
	if err := w.checkAndSet(3); err == nil {
		t.Fatalf("expected replay error for duplicate counter")
	}
}

func TestWindow_AcceptsOutOfOrderWithinWindow(t *testing.T) {
	w := newWindow(8)
	_ = w.checkAndSet(10)
	if err := w.checkAndSet(8); err != nil {
		t.Fatalf("checkAndSet(8) within window: %v", err)
	}
	if err := w.checkAndSet(8); err == nil {
		t.Fatalf("expected replay error for re-accepted counter")
	}
}

func TestWindow_RejectsBelowWindow(t *testing.T) {
	w := newWindow(4)
	_ = w.checkAndSet(100)
	if err := w.checkAndSet(90); err == nil {
		t.Fatalf("expected replay error for counter far below window")
	}
}

func TestWindow_AdvancesHighWaterMark(t *testing.T) {
	w := newWindow(4)
	_ = w.checkAndSet(1)
	_ = w.checkAndSet(2)
	_ = w.checkAndSet(3)
	_ = w.checkAndSet(4)
	_ = w.checkAndSet(5)
	if err := w.checkAndSet(1); err == nil {
		t.Fatalf("expected counter 1 to have fallen out of the window")
	}
}
