package trickle

import (
	"math/rand"
	"testing"
	"time"
)

func TestNewMachineValidation(t *testing.T) {
	if _, err := NewMachine(0, 4, 1); err != ErrBadIMin {
		t.Fatalf("expected ErrBadIMin, got %v", err)
	}
	if _, err := NewMachine(-time.Second, 4, 1); err != ErrBadIMin {
		t.Fatalf("expected ErrBadIMin, got %v", err)
	}
}

func TestIntervalBounds(t *testing.T) {
	imin := 16 * time.Millisecond
	doublings := uint(5)

	m, err := NewMachine(imin, doublings, 2)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	m.Begin(now)

	// Any sequence of events must keep the interval within
	// [imin, imin * 2^doublings].
	for i := 0; i < 1000; i++ {
		switch rand.Intn(3) {
		case 0:
			m.Consistency()
		case 1:
			now = m.IntervalEnd()
			m.Double(now)
		case 2:
			now = now.Add(time.Duration(rand.Int63n(int64(m.ICur()))))
			m.Inconsistency(now)
		}

		if m.ICur() < m.IMin() || m.ICur() > m.IMax() {
			t.Fatalf("interval %v outside [%v, %v]", m.ICur(), m.IMin(), m.IMax())
		}
	}
}

func TestDoubleCapsAtIMax(t *testing.T) {
	m, err := NewMachine(10*time.Millisecond, 3, 1)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	m.Begin(now)

	for i := 0; i < 10; i++ {
		now = m.IntervalEnd()
		m.Double(now)
	}

	if m.ICur() != 80*time.Millisecond {
		t.Fatalf("interval should cap at 80ms, got %v", m.ICur())
	}
}

func TestZeroDoublingsFixedInterval(t *testing.T) {
	imin := 25 * time.Millisecond

	m, err := NewMachine(imin, 0, 1)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	m.Begin(now)

	for i := 0; i < 20; i++ {
		now = m.IntervalEnd()
		m.Double(now)
		if m.ICur() != imin {
			t.Fatalf("interval should stay fixed at %v, got %v", imin, m.ICur())
		}
	}
}

func TestTxPointInUpperHalf(t *testing.T) {
	imin := 64 * time.Millisecond

	m, err := NewMachine(imin, 4, 2)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	m.Begin(now)

	// After a collapse the transmission point must lie in [imin/2, imin)
	// relative to the new interval start, every time.
	for i := 0; i < 500; i++ {
		m.Inconsistency(now)

		offset := m.TxTime().Sub(now)
		if offset < imin/2 || offset >= imin {
			t.Fatalf("tx offset %v outside [%v, %v)", offset, imin/2, imin)
		}

		now = now.Add(time.Millisecond)
	}
}

func TestInconsistencyAtIMinReschedules(t *testing.T) {
	m, err := NewMachine(20*time.Millisecond, 4, 1)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	m.Begin(now)
	m.Consistency()
	suppressedBefore := m.Fire()

	// Already at imin: an inconsistency must still start a fresh interval
	// rather than no-op, clearing c and the fired flag.
	later := now.Add(5 * time.Millisecond)
	m.Inconsistency(later)

	if m.C() != 0 {
		t.Fatalf("c should reset on inconsistency, got %d", m.C())
	}
	if m.Fired() {
		t.Fatal("fired flag should clear on inconsistency")
	}
	if !m.IntervalEnd().Equal(later.Add(m.IMin())) {
		t.Fatalf("interval end should be %v, got %v", later.Add(m.IMin()), m.IntervalEnd())
	}
	_ = suppressedBefore
}

func TestConsistencyCounter(t *testing.T) {
	m, err := NewMachine(30*time.Millisecond, 2, 5)
	if err != nil {
		t.Fatal(err)
	}

	m.Begin(time.Now())

	m.Consistency()
	m.Consistency()

	if m.C() != 2 {
		t.Fatalf("two consistency signals should give c=2, got %d", m.C())
	}
}

func TestSuppressionLaw(t *testing.T) {
	testCases := []struct {
		k          uint
		signals    uint
		suppressed bool
	}{
		{2, 0, false},
		{2, 1, false},
		{2, 2, true},
		{2, 3, true},
		{1, 0, false},
		{1, 1, true},
		// k=0 suppresses every interval, even before any observation.
		{0, 0, true},
	}

	for _, tc := range testCases {
		m, err := NewMachine(30*time.Millisecond, 2, tc.k)
		if err != nil {
			t.Fatal(err)
		}
		m.Begin(time.Now())

		for i := uint(0); i < tc.signals; i++ {
			m.Consistency()
		}

		if got := m.Fire(); got != tc.suppressed {
			t.Errorf("k=%d c=%d: suppressed=%v, want %v", tc.k, tc.signals, got, tc.suppressed)
		}
	}
}

func TestTimeToTx(t *testing.T) {
	m, err := NewMachine(40*time.Millisecond, 2, 1)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	m.Begin(now)

	until := m.TimeToTx(now)
	if until < 20*time.Millisecond || until >= 40*time.Millisecond {
		t.Fatalf("time to tx %v outside [20ms, 40ms)", until)
	}

	// Past the transmission point the accessor tracks the interval end,
	// matching the behaviour of the underlying timer.
	m.Fire()
	if got := m.TimeToTx(now); got != m.IntervalEnd().Sub(now) {
		t.Fatalf("after fire, TimeToTx should point at interval end, got %v", got)
	}
}
