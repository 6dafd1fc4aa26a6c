package trickle

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// TransmitFunc is invoked at the transmission point of every interval. When
// suppressed is true the caller must not put anything on the air; the
// callback still fires so that suppression can be observed and counted.
type TransmitFunc func(suppressed bool)

// State is a snapshot of a running timer, used for logging and stats.
type State struct {
	ICur     time.Duration
	C        uint
	K        uint
	TimeToTx time.Duration
}

// Timer drives a Machine against the wall clock. A single goroutine owns
// the machine, so every signal, no matter which goroutine it comes from, is
// applied one at a time. This mirrors the run-to-completion event model of
// the firmware this protocol comes from.
type Timer struct {
	machine  *Machine
	transmit TransmitFunc
	logger   *logrus.Entry

	consistencyCh   chan struct{}
	inconsistencyCh chan struct{}
	resetCh         chan struct{}
	stopCh          chan struct{}
	restartCh       chan struct{}
	queryCh         chan chan State
	shutdownCh      chan struct{}
	shutdown        sync.Once
}

// NewTimer wraps machine. Run must be called for the timer to do anything.
func NewTimer(machine *Machine, transmit TransmitFunc, logger *logrus.Entry) *Timer {
	return &Timer{
		machine:         machine,
		transmit:        transmit,
		logger:          logger,
		consistencyCh:   make(chan struct{}),
		inconsistencyCh: make(chan struct{}),
		resetCh:         make(chan struct{}),
		stopCh:          make(chan struct{}),
		restartCh:       make(chan struct{}),
		queryCh:         make(chan chan State),
		shutdownCh:      make(chan struct{}),
	}
}

// Run executes the timer loop. It returns when Shutdown is called.
func (t *Timer) Run() {
	now := time.Now()
	t.machine.Begin(now)

	running := true
	timer := time.NewTimer(t.machine.TxTime().Sub(now))
	defer timer.Stop()

	for {
		select {
		case now := <-timer.C:
			if !running {
				// A fire that raced with Stop; the machine is
				// halted, so the event carries no meaning.
				continue
			}
			if !t.machine.Fired() {
				suppressed := t.machine.Fire()
				t.logger.WithFields(logrus.Fields{
					"i_cur":      t.machine.ICur(),
					"c":          t.machine.C(),
					"suppressed": suppressed,
				}).Debug("Trickle transmission point")
				t.transmit(suppressed)
				reset(timer, t.machine.IntervalEnd().Sub(now))
			} else {
				t.machine.Double(now)
				reset(timer, t.machine.TxTime().Sub(now))
			}

		case <-t.consistencyCh:
			t.machine.Consistency()

		case <-t.inconsistencyCh:
			t.collapse(timer)
			running = true

		case <-t.resetCh:
			t.collapse(timer)
			running = true

		case <-t.stopCh:
			running = false
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}

		case <-t.restartCh:
			now := time.Now()
			t.machine.Begin(now)
			reset(timer, t.machine.TxTime().Sub(now))
			running = true

		case respCh := <-t.queryCh:
			respCh <- State{
				ICur:     t.machine.ICur(),
				C:        t.machine.C(),
				K:        t.machine.K(),
				TimeToTx: t.machine.TimeToTx(time.Now()),
			}

		case <-t.shutdownCh:
			return
		}
	}
}

func (t *Timer) collapse(timer *time.Timer) {
	now := time.Now()
	t.machine.Inconsistency(now)
	reset(timer, t.machine.TxTime().Sub(now))
	t.logger.WithFields(logrus.Fields{
		"i_cur":   t.machine.ICur(),
		"next_tx": t.machine.TxTime().Sub(now),
	}).Debug("Trickle interval collapsed")
}

// reset re-arms a timer owned by the Run goroutine. Run is the only reader
// of timer.C, so draining before Reset cannot race.
func reset(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}

// Consistency signals the observation of a consistent transmission.
func (t *Timer) Consistency() {
	select {
	case t.consistencyCh <- struct{}{}:
	case <-t.shutdownCh:
	}
}

// Inconsistency signals an inconsistent observation, collapsing the
// interval to the minimum.
func (t *Timer) Inconsistency() {
	select {
	case t.inconsistencyCh <- struct{}{}:
	case <-t.shutdownCh:
	}
}

// Reset is the external reset event: the interval collapses exactly as for
// an inconsistency. Sources use it when they generate a new value.
func (t *Timer) Reset() {
	select {
	case t.resetCh <- struct{}{}:
	case <-t.shutdownCh:
	}
}

// Stop halts the machine without discarding the goroutine. Pending fires
// are ignored until Restart.
func (t *Timer) Stop() {
	select {
	case t.stopCh <- struct{}{}:
	case <-t.shutdownCh:
	}
}

// Restart begins again from the first interval at the minimum size, as
// after a cold boot.
func (t *Timer) Restart() {
	select {
	case t.restartCh <- struct{}{}:
	case <-t.shutdownCh:
	}
}

// State returns a snapshot of the running timer.
func (t *Timer) State() State {
	respCh := make(chan State, 1)
	select {
	case t.queryCh <- respCh:
		return <-respCh
	case <-t.shutdownCh:
		return State{}
	}
}

// Shutdown terminates the Run loop. It is safe to call more than once.
func (t *Timer) Shutdown() {
	t.shutdown.Do(func() {
		close(t.shutdownCh)
	})
}
