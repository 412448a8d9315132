package timecredit

import "testing"

func TestManualClock(t *testing.T) {
	c := NewManualClock(100)
	if c.Now() != 100 {
		t.Fatalf("Expected 100, got %d", c.Now())
	}
	c.Advance(30)
	if c.Now() != 130 {
		t.Fatalf("Expected 130, got %d", c.Now())
	}
	// A Set below the current reading simulates a reboot.
	c.Set(5)
	if c.Now() != 5 {
		t.Fatalf("Expected 5, got %d", c.Now())
	}
}

func TestSystemClockNonDecreasing(t *testing.T) {
	c := NewSystemClock()
	a := c.Now()
	b := c.Now()
	if b < a {
		t.Fatalf("System clock went backward: %d then %d", a, b)
	}
}
