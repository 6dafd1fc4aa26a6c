// Package membership maintains a decaying one-hop neighbour table. Entries
// are created and refreshed by periodic announcements and removed by
// per-entry expiry timers, so a neighbour that falls silent disappears on
// its own without any sweeping.
package membership

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// entry is one neighbour. gen guards against expiry timers that fire after
// the entry was refreshed or the table cleared: a stale fire finds a newer
// generation and does nothing.
type entry struct {
	addr  string
	gen   uint64
	timer *time.Timer
}

// Table is a bounded set of neighbour addresses. All methods are safe for
// concurrent use; expiry callbacks run on timer goroutines and take the
// same lock as everything else.
type Table struct {
	mu sync.Mutex

	timeout  time.Duration
	capacity int
	entries  map[string]*entry
	gen      uint64

	logger *logrus.Entry
}

// NewTable returns an empty table. capacity bounds the number of
// neighbours; announcements that would exceed it are dropped. timeout is
// how long an entry survives without a refresh.
func NewTable(capacity int, timeout time.Duration, logger *logrus.Entry) *Table {
	return &Table{
		timeout:  timeout,
		capacity: capacity,
		entries:  make(map[string]*entry),
		logger:   logger,
	}
}

// Announce records an announcement from addr. A known neighbour has its
// expiry refreshed; an unknown one is inserted if the pool has room. On a
// full pool the announcement is dropped silently, which is the expected
// behaviour, never an error.
func (t *Table) Announce(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[addr]; ok {
		e.timer.Stop()
		t.arm(e)
		return
	}

	if len(t.entries) >= t.capacity {
		t.logger.WithField("addr", addr).Debug("Neighbour pool full, dropping announcement")
		return
	}

	e := &entry{addr: addr}
	t.entries[addr] = e
	t.arm(e)

	t.logger.WithFields(logrus.Fields{
		"addr":       addr,
		"neighbours": len(t.entries),
	}).Debug("New neighbour")
}

// arm gives e a fresh generation and expiry timer. Caller holds the lock.
func (t *Table) arm(e *entry) {
	t.gen++
	e.gen = t.gen
	gen := t.gen
	e.timer = time.AfterFunc(t.timeout, func() {
		t.expire(e.addr, gen)
	})
}

// expire removes addr when its timer fires, unless the entry was refreshed
// or replaced in the meantime.
func (t *Table) expire(addr string, gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[addr]
	if !ok || e.gen != gen {
		return
	}

	delete(t.entries, addr)

	t.logger.WithFields(logrus.Fields{
		"addr":       addr,
		"neighbours": len(t.entries),
	}).Debug("Neighbour expired")
}

// Random returns a uniformly chosen live neighbour. ok is false when the
// table is empty.
func (t *Table) Random() (addr string, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) == 0 {
		return "", false
	}

	i := rand.Intn(len(t.entries))
	for a := range t.entries {
		if i == 0 {
			return a, true
		}
		i--
	}

	// Unreachable: the map cannot shrink while the lock is held.
	return "", false
}

// Contains reports whether addr is currently a live neighbour.
func (t *Table) Contains(addr string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.entries[addr]
	return ok
}

// Len returns the number of live neighbours.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// Addrs returns the live neighbour addresses, in no particular order.
func (t *Table) Addrs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	addrs := make([]string, 0, len(t.entries))
	for a := range t.entries {
		addrs = append(addrs, a)
	}
	return addrs
}

// Clear stops every pending expiry timer and empties the table. Used when
// a node restarts and its volatile state is voided.
func (t *Table) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		e.timer.Stop()
	}
	t.entries = make(map[string]*entry)
}
