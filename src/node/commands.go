package node

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// The serial command grammar is position-strict:
//
//	init <i_max_doublings> <i_min_ms> <k>
//	limit <N>
//	set sink|source
//	print
//	sleep <seconds>
//
// Malformed lines are rejected in full, with no partial state change.
var ErrBadCommand = errors.New("node: bad command")

// SubmitLine queues a serial line for the event loop. Lines submitted
// after shutdown are discarded.
func (n *Node) SubmitLine(line string) {
	select {
	case n.cmdCh <- line:
	case <-n.shutdownCh:
	}
}

// HandleCommand parses and executes one serial line.
func (n *Node) HandleCommand(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty line", ErrBadCommand)
	}

	switch fields[0] {
	case "init":
		if len(fields) != 4 {
			return fmt.Errorf("%w: init takes <i_max_doublings> <i_min_ms> <k>", ErrBadCommand)
		}
		doublings, err1 := strconv.ParseUint(fields[1], 10, 8)
		iminMs, err2 := strconv.ParseInt(fields[2], 10, 32)
		k, err3 := strconv.ParseUint(fields[3], 10, 16)
		if err1 != nil || err2 != nil || err3 != nil || iminMs <= 0 {
			return fmt.Errorf("%w: init arguments must be numeric with i_min > 0", ErrBadCommand)
		}
		n.Init(uint(doublings), time.Duration(iminMs)*time.Millisecond, uint(k))
		return nil

	case "limit":
		if len(fields) != 2 {
			return fmt.Errorf("%w: limit takes <N>", ErrBadCommand)
		}
		limit, err := strconv.ParseUint(fields[1], 10, 8)
		if err != nil {
			return fmt.Errorf("%w: limit must fit in a byte", ErrBadCommand)
		}
		n.Limit(uint8(limit))
		return nil

	case "set":
		if len(fields) != 2 {
			return fmt.Errorf("%w: set takes sink|source", ErrBadCommand)
		}
		switch fields[1] {
		case "sink":
			n.SetRole(RoleSink)
		case "source":
			n.SetRole(RoleSource)
		default:
			return fmt.Errorf("%w: set takes sink|source", ErrBadCommand)
		}
		return nil

	case "print":
		if len(fields) != 1 {
			return fmt.Errorf("%w: print takes no arguments", ErrBadCommand)
		}
		n.Print()
		return nil

	case "sleep":
		if len(fields) != 2 {
			return fmt.Errorf("%w: sleep takes <seconds>", ErrBadCommand)
		}
		secs, err := strconv.ParseInt(fields[1], 10, 32)
		if err != nil || secs <= 0 {
			return fmt.Errorf("%w: sleep takes a positive number of seconds", ErrBadCommand)
		}
		n.Sleep(time.Duration(secs) * time.Second)
		return nil

	default:
		return fmt.Errorf("%w: unknown command %q", ErrBadCommand, fields[0])
	}
}

// Init reconfigures the trickle engine and restarts it with the new
// parameters.
func (n *Node) Init(doublings uint, imin time.Duration, k uint) {
	n.coreLock.Lock()
	n.conf.IMaxDoublings = doublings
	n.conf.IMin = imin
	n.conf.K = k
	n.startEngine()
	n.coreLock.Unlock()

	n.logger.WithField("imin", imin).WithField("imax_doublings", doublings).
		WithField("k", k).Info("Trickle reconfigured")
}

// Limit sets the source's token ceiling.
func (n *Node) Limit(limit uint8) {
	n.coreLock.Lock()
	n.msgLimit = limit
	n.coreLock.Unlock()

	n.logger.WithField("limit", limit).Info("Setting limit")
}

// SetRole assigns the protocol role and starts the engine from its initial
// state, as the firmware does on a set command.
func (n *Node) SetRole(role Role) {
	n.coreLock.Lock()
	n.role = role
	n.startEngine()
	n.coreLock.Unlock()

	n.logger.WithField("role", role.String()).Info("Setting node status")
}

// Print emits the current token and quietens the node: the radio goes off
// and further trickle transmissions are suppressed, without losing any
// protocol state.
func (n *Node) Print() {
	n.coreLock.Lock()
	tok := n.tok
	n.suppress = true
	n.coreLock.Unlock()

	n.trans.RadioOff()
	n.logger.WithField("token", tok).Info("Current token")
}

// Sleep schedules a power-loss restart.
func (n *Node) Sleep(delay time.Duration) {
	n.restarter.Schedule(delay)
}

func boolString(b bool) string {
	return strconv.FormatBool(b)
}

func uintString(u uint) string {
	return strconv.FormatUint(uint64(u), 10)
}
