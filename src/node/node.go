// Package node implements the trickle token consistency protocol: every
// node carries a single-byte token and disseminates it under the control
// of a Trickle timer. Receiving an equal token is a consistency; receiving
// a different one is an inconsistency that collapses the interval, and the
// newer value, in serial number terms, wins.
//
// The node also hosts the power-loss restart controller. A restart voids
// all volatile protocol state, exactly as a transiently-powered mote
// browning out would.
package node

import (
	"math/rand"
	"sync"
	"time"

	"github.com/davidjrichardson/erts-2020/src/config"
	"github.com/davidjrichardson/erts-2020/src/net"
	"github.com/davidjrichardson/erts-2020/src/restart"
	"github.com/davidjrichardson/erts-2020/src/telemetry"
	"github.com/davidjrichardson/erts-2020/src/token"
	"github.com/davidjrichardson/erts-2020/src/trickle"
	"github.com/sirupsen/logrus"
)

// Node is a trickle token node.
type Node struct {
	conf   *config.Config
	logger *logrus.Entry

	trans net.Transport
	netCh <-chan net.Packet

	// coreLock protects the protocol state below. Handlers run on the
	// event loop, the trickle timer goroutine and the restart timer; the
	// lock makes them effectively one-at-a-time, as on the mote.
	coreLock sync.Mutex
	role     Role
	tok      token.Token
	msgLimit uint8
	suppress bool
	timer    *trickle.Timer

	restarter *restart.Controller

	cmdCh      chan string
	shutdownCh chan struct{}
	shutdown   sync.Once
}

// NewNode is a factory method that returns a Node instance. light may be
// nil for nodes without a status indicator.
func NewNode(conf *config.Config, trans net.Transport, light restart.StatusLight) *Node {
	logger := conf.Logger().WithField("addr", trans.LocalAddr())

	n := &Node{
		conf:       conf,
		logger:     logger,
		trans:      trans,
		netCh:      trans.Consumer(),
		msgLimit:   conf.MsgLimit,
		cmdCh:      make(chan string, 4),
		shutdownCh: make(chan struct{}),
	}

	n.restarter = restart.NewController(trans, light, n.reinitialise, logger)

	return n
}

// Run starts the transport and the trickle engine and services events
// until Shutdown. All nodes initially agree that the token is zero; that
// changes when a source randomly decides to generate a new one.
func (n *Node) Run() {
	n.logger.Info("Trickle protocol started")

	n.trans.Listen()

	n.coreLock.Lock()
	n.startEngine()
	n.coreLock.Unlock()

	genTicker := time.NewTicker(n.conf.NewTokenInterval)
	defer genTicker.Stop()

	for {
		select {
		case pkt := <-n.netCh:
			n.handlePacket(pkt)
		case line := <-n.cmdCh:
			if err := n.HandleCommand(line); err != nil {
				n.logger.WithError(err).WithField("line", line).Warn("Ignoring command")
			}
		case <-genTicker.C:
			n.maybeGenerateToken()
		case <-n.shutdownCh:
			return
		}
	}
}

// RunAsync calls Run on a separate goroutine.
func (n *Node) RunAsync() {
	go n.Run()
}

// startEngine builds a fresh trickle machine from the current
// configuration, replacing any running one. Caller holds coreLock.
func (n *Node) startEngine() {
	if n.timer != nil {
		n.timer.Shutdown()
	}

	machine, err := trickle.NewMachine(n.conf.IMin, n.conf.IMaxDoublings, n.conf.K)
	if err != nil {
		// The configuration entry points validate imin, so this only
		// trips on a bad config file; fall back to defaults.
		n.logger.WithError(err).Error("Bad trickle configuration, using defaults")
		machine, _ = trickle.NewMachine(config.DefaultIMin, config.DefaultIMaxDoublings, config.DefaultK)
	}

	n.tok = 0
	n.suppress = false
	n.timer = trickle.NewTimer(machine, n.transmit, n.logger)
	go n.timer.Run()
}

// currentTimer returns the running engine, if any.
func (n *Node) currentTimer() *trickle.Timer {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()
	return n.timer
}

// handlePacket processes one inbound datagram. Malformed packets are
// counted and dropped without touching any state.
func (n *Node) handlePacket(pkt net.Packet) {
	var msg net.Message
	if err := msg.Unmarshal(pkt.Data); err != nil {
		telemetry.MalformedTotal.Inc()
		n.logger.WithError(err).WithField("from", pkt.From).Debug("Dropping malformed packet")
		return
	}

	if msg.Type != net.MsgToken {
		return
	}

	theirs := token.Token(msg.Token)

	n.coreLock.Lock()
	ours := n.tok
	timer := n.timer
	role := n.role

	consistent := ours == theirs
	if !consistent && token.Newer(ours, theirs) {
		n.tok = theirs
	}
	n.coreLock.Unlock()

	if timer == nil {
		return
	}

	entry := n.logger.WithFields(logrus.Fields{
		"ours":   ours,
		"theirs": theirs,
		"from":   pkt.From,
		"sink":   role == RoleSink,
	})

	if consistent {
		entry.Debug("Consistent RX")
		timer.Consistency()
		return
	}

	if token.Newer(ours, theirs) {
		entry.Debug("Theirs is newer. Update")
	} else {
		entry.Debug("They are behind")
	}

	telemetry.InconsistenciesTotal.Inc()
	timer.Inconsistency()

	entry.WithField("next_tx", timer.State().TimeToTx).Debug("Trickle inconsistency")
}

// transmit is the trickle engine's transmission callback. A suppressed
// slot is observable here but never reaches the air.
func (n *Node) transmit(suppressed bool) {
	if suppressed {
		telemetry.SuppressedTotal.Inc()
		return
	}

	n.coreLock.Lock()
	operatorQuiet := n.suppress
	tok := n.tok
	n.coreLock.Unlock()

	if operatorQuiet {
		return
	}

	msg := net.Message{
		Type:       net.MsgToken,
		Originator: n.trans.LocalAddr(),
		Token:      uint8(tok),
	}

	raw, err := msg.Marshal()
	if err != nil {
		n.logger.WithError(err).Error("Encoding token")
		return
	}

	if err := n.trans.Broadcast(raw); err != nil {
		if err != net.ErrRadioOff {
			n.logger.WithError(err).Error("Broadcasting token")
		}
		return
	}

	telemetry.TransmissionsTotal.WithLabelValues("trickle").Inc()
	n.logger.WithField("token", tok).Debug("Trickle TX")
}

// maybeGenerateToken is the source's periodic generation tick: with
// probability 1/NewTokenProb, and only below the message limit, the token
// is incremented and the trickle timer force-reset so the new value
// propagates immediately at the minimum interval.
func (n *Node) maybeGenerateToken() {
	n.coreLock.Lock()
	if n.role != RoleSource || n.timer == nil {
		n.coreLock.Unlock()
		return
	}

	if rand.Intn(n.conf.NewTokenProb) != 0 || uint8(n.tok) >= n.msgLimit {
		n.coreLock.Unlock()
		return
	}

	n.tok = n.tok.Next()
	tok := n.tok
	timer := n.timer
	n.coreLock.Unlock()

	n.logger.WithField("token", tok).Info("Generating a new token")
	timer.Reset()
}

// reinitialise is the restart controller's callback: the cold reboot. The
// token and the trickle interval state are voided and the engine begins
// again from scratch. The controller has already re-enabled the radio.
func (n *Node) reinitialise() {
	n.coreLock.Lock()
	n.tok = 0
	n.suppress = false
	timer := n.timer
	n.coreLock.Unlock()

	if timer != nil {
		timer.Restart()
	}

	telemetry.RestartsTotal.Inc()
}

// Token returns the node's current token.
func (n *Node) Token() token.Token {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()
	return n.tok
}

// Role returns the node's current role.
func (n *Node) Role() Role {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()
	return n.role
}

// TimeToTx returns the time until the engine's next scheduled
// transmission. It exists for timing diagnostics.
func (n *Node) TimeToTx() time.Duration {
	timer := n.currentTimer()
	if timer == nil {
		return 0
	}
	return timer.State().TimeToTx
}

// Stats returns a stats map for the HTTP service.
func (n *Node) Stats() map[string]string {
	n.coreLock.Lock()
	role := n.role
	tok := n.tok
	limit := n.msgLimit
	quiet := n.suppress
	timer := n.timer
	n.coreLock.Unlock()

	s := map[string]string{
		"protocol":        "trickle",
		"addr":            n.trans.LocalAddr(),
		"moniker":         n.conf.Moniker,
		"role":            role.String(),
		"token":           tok.String(),
		"msg_limit":       token.Token(limit).String(),
		"quiet":           boolString(quiet),
		"restart_pending": boolString(n.restarter.Pending()),
	}

	if timer != nil {
		st := timer.State()
		s["i_cur"] = st.ICur.String()
		s["c"] = uintString(st.C)
		s["k"] = uintString(st.K)
		s["time_to_tx"] = st.TimeToTx.String()
	}

	return s
}

// Shutdown stops the node, its engine and its transport.
func (n *Node) Shutdown() {
	n.shutdown.Do(func() {
		n.logger.Debug("Shutdown")

		close(n.shutdownCh)

		if timer := n.currentTimer(); timer != nil {
			timer.Shutdown()
		}

		n.trans.Close()
	})
}
