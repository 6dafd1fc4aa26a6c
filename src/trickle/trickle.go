// Package trickle implements the Trickle algorithm (RFC 6206), an adaptive
// suppression scheme for low-power dissemination. A node transmits at a
// random point within an interval unless it has already overheard enough
// consistent transmissions. Intervals double while the network agrees and
// collapse back to the minimum when an inconsistency is detected.
//
// The algorithm itself lives in Machine, a synchronous state machine driven
// by explicit timestamps. Timer wraps a Machine in a goroutine that
// schedules against the wall clock and serialises all state transitions.
package trickle

import (
	"errors"
	"math/rand"
	"time"
)

var (
	// ErrBadIMin is returned when configuring a machine with a
	// non-positive minimum interval.
	ErrBadIMin = errors.New("trickle: imin must be positive")
)

// Machine holds the state of one Trickle instance: the current interval
// size I, the consistency counter c, and the transmission point t drawn
// uniformly from [I/2, I).
type Machine struct {
	imin      time.Duration
	doublings uint
	k         uint

	iCur          time.Duration
	c             uint
	intervalStart time.Time
	txAt          time.Time
	fired         bool
}

// NewMachine returns an unstarted machine. imin is the minimum interval,
// doublings the maximum number of interval doublings (0 means the interval
// is fixed at imin forever), and k the redundancy constant.
func NewMachine(imin time.Duration, doublings uint, k uint) (*Machine, error) {
	if imin <= 0 {
		return nil, ErrBadIMin
	}
	return &Machine{
		imin:      imin,
		doublings: doublings,
		k:         k,
	}, nil
}

// IMin returns the configured minimum interval.
func (m *Machine) IMin() time.Duration { return m.imin }

// IMax returns the maximum interval, imin * 2^doublings.
func (m *Machine) IMax() time.Duration { return m.imin << m.doublings }

// ICur returns the current interval size.
func (m *Machine) ICur() time.Duration { return m.iCur }

// C returns the consistency counter for the current interval.
func (m *Machine) C() uint { return m.c }

// K returns the redundancy constant.
func (m *Machine) K() uint { return m.k }

// Begin starts the first interval at the minimum size.
func (m *Machine) Begin(now time.Time) {
	m.iCur = m.imin
	m.newInterval(now)
}

// newInterval resets the per-interval state and draws a fresh transmission
// point uniformly in [I/2, I) relative to now. The half-open upper bound
// keeps transmissions from synchronising across nodes.
func (m *Machine) newInterval(now time.Time) {
	m.intervalStart = now
	m.c = 0
	m.fired = false

	half := m.iCur / 2
	spread := m.iCur - half
	m.txAt = now.Add(half + time.Duration(rand.Int63n(int64(spread))))
}

// Consistency records the observation of a consistent transmission. It
// affects neither the interval nor the transmission point.
func (m *Machine) Consistency() {
	m.c++
}

// Inconsistency collapses the interval to the minimum and starts a fresh
// interval. A machine already at the minimum still reschedules: an
// inconsistency signals new information that must propagate quickly.
func (m *Machine) Inconsistency(now time.Time) {
	m.iCur = m.imin
	m.newInterval(now)
}

// IntervalEnd returns the instant at which the current interval expires.
func (m *Machine) IntervalEnd() time.Time {
	return m.intervalStart.Add(m.iCur)
}

// TxTime returns the scheduled transmission instant within the current
// interval.
func (m *Machine) TxTime() time.Time {
	return m.txAt
}

// Fired reports whether the transmission point of the current interval has
// already passed.
func (m *Machine) Fired() bool {
	return m.fired
}

// Fire consumes the transmission point of the current interval and reports
// whether the transmission is suppressed, which is the case exactly when
// c >= k.
func (m *Machine) Fire() (suppressed bool) {
	m.fired = true
	return m.c >= m.k
}

// Double ends the current interval: the interval size doubles, capped at
// IMax, and a fresh interval starts at now.
func (m *Machine) Double(now time.Time) {
	if m.iCur < m.IMax() {
		m.iCur *= 2
		if m.iCur > m.IMax() {
			m.iCur = m.IMax()
		}
	}
	m.newInterval(now)
}

// TimeToTx returns the time remaining until the next scheduled
// transmission. Once the transmission point of the current interval has
// passed it returns the time until the interval's end, after which a new
// point is drawn; callers using this for anything other than diagnostics
// should do so with caution.
func (m *Machine) TimeToTx(now time.Time) time.Duration {
	if !m.fired {
		return m.txAt.Sub(now)
	}
	return m.IntervalEnd().Sub(now)
}
