package button

import (
	"testing"
	"time"
)

func TestLongPressFiresOnce(t *testing.T) {
	m := NewMonitor(3 * time.Second)
	start := time.Now()

	erases := 0
	for ms := 0; ms <= 10000; ms += 50 {
		if m.Poll(start.Add(time.Duration(ms)*time.Millisecond), true) == ActionErase {
			erases++
		}
	}

	if erases != 1 {
		t.Errorf("erase actions while held = %d, want 1", erases)
	}
}

func TestThresholdBoundary(t *testing.T) {
	m := NewMonitor(3 * time.Second)
	start := time.Now()

	if got := m.Poll(start, true); got != ActionNone {
		t.Fatalf("Poll(first press) = %v, want none", got)
	}
	if got := m.Poll(start.Add(2999*time.Millisecond), true); got != ActionNone {
		t.Errorf("Poll(2.999s) = %v, want none", got)
	}
	if got := m.Poll(start.Add(3*time.Second), true); got != ActionErase {
		t.Errorf("Poll(3s) = %v, want erase", got)
	}
}

func TestReleaseResetsTimer(t *testing.T) {
	m := NewMonitor(3 * time.Second)
	start := time.Now()

	m.Poll(start, true)
	m.Poll(start.Add(2*time.Second), true)
	m.Poll(start.Add(2100*time.Millisecond), false)

	// A new press starts timing again.
	m.Poll(start.Add(2200*time.Millisecond), true)
	if got := m.Poll(start.Add(4*time.Second), true); got != ActionNone {
		t.Errorf("Poll() after release = %v, want none before new threshold", got)
	}
	if got := m.Poll(start.Add(5200*time.Millisecond), true); got != ActionErase {
		t.Errorf("Poll() = %v, want erase after full hold", got)
	}
}

func TestReleaseResetsLatch(t *testing.T) {
	m := NewMonitor(time.Second)
	start := time.Now()

	m.Poll(start, true)
	if m.Poll(start.Add(time.Second), true) != ActionErase {
		t.Fatal("first press did not fire")
	}
	m.Poll(start.Add(1100*time.Millisecond), false)

	m.Poll(start.Add(1200*time.Millisecond), true)
	if got := m.Poll(start.Add(2200*time.Millisecond), true); got != ActionErase {
		t.Errorf("second press = %v, want erase", got)
	}
}

func TestHeld(t *testing.T) {
	m := NewMonitor(0)
	start := time.Now()

	if got := m.Held(start); got != 0 {
		t.Errorf("Held() idle = %v, want 0", got)
	}
	m.Poll(start, true)
	if got := m.Held(start.Add(1500 * time.Millisecond)); got != 1500*time.Millisecond {
		t.Errorf("Held() = %v, want 1.5s", got)
	}
}

func TestNopPin(t *testing.T) {
	pressed, err := NopPin{}.Pressed()
	if err != nil || pressed {
		t.Errorf("NopPin.Pressed() = %v, %v", pressed, err)
	}
}
