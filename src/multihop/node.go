// Package multihop implements the random forwarding protocol: nodes
// advertise their presence with periodic announcements, remember the
// neighbours they hear in a decaying membership table, and relay data
// packets by handing each one to a uniformly chosen live neighbour until
// it reaches its destination. No routing state is kept beyond one-hop
// membership; an empty table at forward time drops the packet, which is
// an expected outcome on a sparse or freshly restarted network.
package multihop

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/davidjrichardson/erts-2020/src/config"
	"github.com/davidjrichardson/erts-2020/src/membership"
	"github.com/davidjrichardson/erts-2020/src/net"
	"github.com/davidjrichardson/erts-2020/src/restart"
	"github.com/davidjrichardson/erts-2020/src/telemetry"
	"github.com/sirupsen/logrus"
)

// MaxPayload caps a data packet's payload, matching the fixed buffer a
// mote would carry it in.
const MaxPayload = 6

var (
	// ErrBadCommand rejects a malformed serial line in full, with no
	// partial state change.
	ErrBadCommand = errors.New("multihop: bad command")

	// ErrPayloadTooBig rejects an originated payload over MaxPayload.
	ErrPayloadTooBig = errors.New("multihop: payload too big")
)

// Node is a random forwarding node.
type Node struct {
	conf   *config.Config
	logger *logrus.Entry

	trans net.Transport
	netCh <-chan net.Packet

	table *membership.Table

	// coreLock protects the delivery record and the quiet flag. The
	// membership table has its own lock.
	coreLock    sync.Mutex
	suppress    bool
	lastPayload []byte
	lastOrigin  string
	lastHops    uint8

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
		table:      membership.NewTable(conf.MaxNeighbours, conf.NeighbourTimeout, logger),
		cmdCh:      make(chan string, 4),
		shutdownCh: make(chan struct{}),
	}

	n.restarter = restart.NewController(trans, light, n.reinitialise, logger)

	return n
}

// Run starts the transport and services events until Shutdown. The
// announcement ticker is the node's only self-generated traffic; data
// moves when a peer or the operator injects it.
func (n *Node) Run() {
	n.logger.Info("Random forwarding protocol started")

	n.trans.Listen()

	announceTicker := time.NewTicker(n.conf.AnnouncementInterval)
	defer announceTicker.Stop()

	for {
		select {
		case pkt := <-n.netCh:
			n.handlePacket(pkt)
		case line := <-n.cmdCh:
			if err := n.HandleCommand(line); err != nil {
				n.logger.WithError(err).WithField("line", line).Warn("Ignoring command")
			}
		case <-announceTicker.C:
			n.announce()
		case <-n.shutdownCh:
			return
		}
	}
}

// RunAsync calls Run on a separate goroutine.
func (n *Node) RunAsync() {
	go n.Run()
}

// announce broadcasts the presence beacon that keeps this node alive in
// its neighbours' membership tables.
func (n *Node) announce() {
	n.coreLock.Lock()
	operatorQuiet := n.suppress
	n.coreLock.Unlock()

	if operatorQuiet {
		return
	}

	msg := net.Message{
		Type:       net.MsgAnnouncement,
		Originator: n.trans.LocalAddr(),
	}

	raw, err := msg.Marshal()
	if err != nil {
		n.logger.WithError(err).Error("Encoding announcement")
		return
	}

	if err := n.trans.Broadcast(raw); err != nil {
		if err != net.ErrRadioOff {
			n.logger.WithError(err).Error("Broadcasting announcement")
		}
		return
	}

	telemetry.TransmissionsTotal.WithLabelValues("rmh").Inc()
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

	switch msg.Type {
	case net.MsgAnnouncement:
		n.table.Announce(pkt.From)
		telemetry.Neighbours.Set(float64(n.table.Len()))
	case net.MsgData:
		n.route(&msg, pkt.From)
	}
}

// route delivers msg if this node is its destination, otherwise relays it
// to a random live neighbour.
func (n *Node) route(msg *net.Message, from string) {
	if msg.Dest == n.trans.LocalAddr() {
		n.deliver(msg, from)
		return
	}

	n.coreLock.Lock()
	operatorQuiet := n.suppress
	n.coreLock.Unlock()

	if operatorQuiet {
		return
	}

	n.forward(msg)
}

// deliver records the packet at its final destination.
func (n *Node) deliver(msg *net.Message, from string) {
	n.coreLock.Lock()
	n.lastPayload = append([]byte(nil), msg.Payload...)
	n.lastOrigin = msg.Originator
	n.lastHops = msg.Hops
	n.coreLock.Unlock()

	telemetry.DeliveredTotal.Inc()

	n.logger.WithFields(logrus.Fields{
		"payload":    string(msg.Payload),
		"originator": msg.Originator,
		"hops":       msg.Hops,
		"last_hop":   from,
	}).Info("Delivered")
}

// forward relays msg to a uniformly chosen neighbour, incrementing its
// hop count. An empty table drops the packet.
func (n *Node) forward(msg *net.Message) {
	next, ok := n.table.Random()
	if !ok {
		telemetry.DroppedNoRouteTotal.Inc()
		n.logger.WithFields(logrus.Fields{
			"dest": msg.Dest,
			"hops": msg.Hops,
		}).Debug("No route, dropping")
		return
	}

	relayed := *msg
	relayed.Hops = msg.Hops + 1

	raw, err := relayed.Marshal()
	if err != nil {
		n.logger.WithError(err).Error("Encoding data packet")
		return
	}

	if err := n.trans.Send(next, raw); err != nil {
		if err != net.ErrRadioOff {
			n.logger.WithError(err).WithField("next", next).Debug("Forwarding failed")
		}
		return
	}

	telemetry.TransmissionsTotal.WithLabelValues("rmh").Inc()

	n.logger.WithFields(logrus.Fields{
		"dest": relayed.Dest,
		"next": next,
		"hops": relayed.Hops,
	}).Debug("Forwarded")
}

// Originate injects a new data packet towards dest. A packet addressed to
// this node is delivered locally; anything else takes its chances with
// the membership table, where no route is an expected, counted outcome
// rather than an error.
func (n *Node) Originate(payload []byte, dest string) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %d bytes over a %d byte cap", ErrPayloadTooBig, len(payload), MaxPayload)
	}

	msg := net.Message{
		Type:       net.MsgData,
		Originator: n.trans.LocalAddr(),
		Dest:       dest,
		Payload:    payload,
	}

	if dest == n.trans.LocalAddr() {
		n.deliver(&msg, n.trans.LocalAddr())
		return nil
	}

	n.forward(&msg)
	return nil
}

// reinitialise is the restart controller's callback: the cold reboot. The
// membership table and the delivery record are voided. The controller
// has already re-enabled the radio.
func (n *Node) reinitialise() {
	n.table.Clear()
	telemetry.Neighbours.Set(0)

	n.coreLock.Lock()
	n.suppress = false
	n.lastPayload = nil
	n.lastOrigin = ""
	n.lastHops = 0
	n.coreLock.Unlock()

	telemetry.RestartsTotal.Inc()
}

// SubmitLine queues a serial line for the event loop. Lines submitted
// after shutdown are discarded.
func (n *Node) SubmitLine(line string) {
	select {
	case n.cmdCh <- line:
	case <-n.shutdownCh:
	}
}

// HandleCommand parses and executes one serial line:
//
//	send [<dest>] <text>
//	print
//	sleep <seconds>
func (n *Node) HandleCommand(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty line", ErrBadCommand)
	}

	switch fields[0] {
	case "send":
		// A bare `send <text>` goes to the configured destination, as the
		// firmware's button press did.
		switch len(fields) {
		case 2:
			return n.Originate([]byte(fields[1]), n.conf.DataDest)
		case 3:
			return n.Originate([]byte(fields[2]), fields[1])
		default:
			return fmt.Errorf("%w: send takes [<dest>] <text>", ErrBadCommand)
		}

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

// Print reports the last delivered payload and quietens the node: the
// radio goes off and announcements and forwarding stop, without losing
// the membership table.
func (n *Node) Print() {
	n.coreLock.Lock()
	payload := string(n.lastPayload)
	origin := n.lastOrigin
	hops := n.lastHops
	n.suppress = true
	n.coreLock.Unlock()

	n.trans.RadioOff()

	n.logger.WithFields(logrus.Fields{
		"payload":    payload,
		"originator": origin,
		"hops":       hops,
		"neighbours": n.table.Len(),
	}).Info("Last delivery")
}

// Sleep schedules a power-loss restart.
func (n *Node) Sleep(delay time.Duration) {
	n.restarter.Schedule(delay)
}

// LastDelivery returns the most recently delivered payload and its
// originator. ok is false when nothing has been delivered since the last
// restart.
func (n *Node) LastDelivery() (payload []byte, origin string, ok bool) {
	n.coreLock.Lock()
	defer n.coreLock.Unlock()

	if n.lastPayload == nil {
		return nil, "", false
	}
	return append([]byte(nil), n.lastPayload...), n.lastOrigin, true
}

// Neighbours returns the live neighbour addresses.
func (n *Node) Neighbours() []string {
	return n.table.Addrs()
}

// Stats returns a stats map for the HTTP service.
func (n *Node) Stats() map[string]string {
	n.coreLock.Lock()
	quiet := n.suppress
	payload := string(n.lastPayload)
	origin := n.lastOrigin
	hops := n.lastHops
	n.coreLock.Unlock()

	return map[string]string{
		"protocol":        "rmh",
		"addr":            n.trans.LocalAddr(),
		"moniker":         n.conf.Moniker,
		"neighbours":      strconv.Itoa(n.table.Len()),
		"quiet":           strconv.FormatBool(quiet),
		"restart_pending": strconv.FormatBool(n.restarter.Pending()),
		"last_payload":    payload,
		"last_originator": origin,
		"last_hops":       strconv.FormatUint(uint64(hops), 10),
	}
}

// Shutdown stops the node and its transport.
func (n *Node) Shutdown() {
	n.shutdown.Do(func() {
		n.logger.Debug("Shutdown")

		close(n.shutdownCh)
		n.table.Clear()
		n.trans.Close()
	})
}
