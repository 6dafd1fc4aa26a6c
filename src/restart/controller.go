// Package restart schedules the deliberate crash-and-reboot cycle of a
// transiently-powered node. A scheduled restart powers the radio down,
// waits, then voids all volatile protocol state and starts the node's
// engine again from scratch, emulating an energy-harvesting node browning
// out and coming back with empty memory.
package restart

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Radio is the power switch of the node's transceiver.
type Radio interface {
	RadioOn()
	RadioOff()
}

// StatusLight is the visual "restart pending" indicator. It is purely
// observational and has no protocol effect.
type StatusLight interface {
	On()
	Off()
}

// NoopLight returns a StatusLight that does nothing, for nodes without
// LEDs.
func NoopLight() StatusLight {
	return noopLight{}
}

type noopLight struct{}

func (noopLight) On()  {}
func (noopLight) Off() {}

// Controller owns at most one pending restart. Scheduling while one is
// pending replaces it: the last command wins. gen guards against the timer
// of a replaced request firing late.
type Controller struct {
	mu      sync.Mutex
	gen     uint64
	timer   *time.Timer
	pending bool

	radio  Radio
	light  StatusLight
	reinit func()
	logger *logrus.Entry
}

// NewController returns a controller that powers radio down for the wait
// and calls reinit when the restart fires. reinit must restore the node to
// its cold-boot state.
func NewController(radio Radio, light StatusLight, reinit func(), logger *logrus.Entry) *Controller {
	if light == nil {
		light = NoopLight()
	}
	return &Controller{
		radio:  radio,
		light:  light,
		reinit: reinit,
		logger: logger,
	}
}

// Schedule arms a restart delay from now. Non-positive delays are ignored.
// An already-pending restart is cancelled and replaced.
func (c *Controller) Schedule(delay time.Duration) {
	if delay <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}

	c.gen++
	gen := c.gen
	c.pending = true
	c.timer = time.AfterFunc(delay, func() {
		c.fire(gen)
	})

	c.radio.RadioOff()
	c.light.On()

	c.logger.WithField("delay", delay).Info("Restart scheduled, radio off")
}

// fire performs the cold reboot, unless this timer was replaced or
// cancelled after it was armed.
func (c *Controller) fire(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || !c.pending {
		c.mu.Unlock()
		return
	}
	c.pending = false
	c.timer = nil

	c.radio.RadioOn()
	c.light.Off()
	c.mu.Unlock()

	c.logger.Info("Restarting node, volatile state discarded")

	// Outside the lock: reinitialisation runs arbitrary node code.
	c.reinit()
}

// Cancel drops a pending restart without rebooting. The radio is turned
// back on.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.pending {
		return
	}

	c.gen++
	c.pending = false
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	c.radio.RadioOn()
	c.light.Off()
}

// Pending reports whether a restart is currently scheduled.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.pending
}
