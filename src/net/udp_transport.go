package net

import (
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
)

// maxDatagramSize bounds a single read. Protocol payloads are a few bytes,
// so this is generous.
const maxDatagramSize = 1024

// UDPTransport implements Transport over a UDP multicast group, the
// stand-in for link-local all-nodes multicast on the real radio. Broadcast
// writes to the group; Send writes unicast to the target's address.
type UDPTransport struct {
	localAddr  string
	group      *net.UDPAddr
	conn       *net.UDPConn
	pconn      *ipv4.PacketConn
	consumerCh chan Packet
	logger     *logrus.Entry

	mu       sync.Mutex
	radioOn  bool
	isClosed bool
}

// NewUDPTransport binds the multicast group on the named interface (or the
// system default when iface is empty). advertiseAddr is the identity this
// node is known by; it must be the address peers can unicast to.
func NewUDPTransport(advertiseAddr, groupAddr, iface string, logger *logrus.Entry) (*UDPTransport, error) {
	group, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: group.Port})
	if err != nil {
		return nil, err
	}

	pconn := ipv4.NewPacketConn(conn)

	var ifi *net.Interface
	if iface != "" {
		if ifi, err = net.InterfaceByName(iface); err != nil {
			conn.Close()
			return nil, err
		}
	}

	if err := pconn.JoinGroup(ifi, &net.UDPAddr{IP: group.IP}); err != nil {
		conn.Close()
		return nil, err
	}

	// Our own broadcasts must not come back to us; the protocols do not
	// count their own transmissions.
	if err := pconn.SetMulticastLoopback(false); err != nil {
		logger.WithError(err).Warn("Cannot disable multicast loopback")
	}

	return &UDPTransport{
		localAddr:  advertiseAddr,
		group:      group,
		conn:       conn,
		pconn:      pconn,
		consumerCh: make(chan Packet, 16),
		logger:     logger,
		radioOn:    true,
	}, nil
}

// Listen starts the receive loop.
func (t *UDPTransport) Listen() {
	go t.readLoop()
}

func (t *UDPTransport) readLoop() {
	buf := make([]byte, maxDatagramSize)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			t.mu.Lock()
			closed := t.isClosed
			t.mu.Unlock()
			if closed {
				return
			}
			t.logger.WithError(err).Error("UDP read")
			continue
		}

		if !t.receiving() || from.String() == t.localAddr {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case t.consumerCh <- Packet{From: from.String(), Data: data}:
		default:
			// Inbound buffer full: drop, as the radio would.
		}
	}
}

// Consumer implements the Transport interface.
func (t *UDPTransport) Consumer() <-chan Packet {
	return t.consumerCh
}

// LocalAddr implements the Transport interface.
func (t *UDPTransport) LocalAddr() string {
	return t.localAddr
}

// Broadcast implements the Transport interface.
func (t *UDPTransport) Broadcast(data []byte) error {
	if err := t.sendable(); err != nil {
		return err
	}

	_, err := t.conn.WriteToUDP(data, t.group)
	return err
}

// Send implements the Transport interface.
func (t *UDPTransport) Send(target string, data []byte) error {
	if err := t.sendable(); err != nil {
		return err
	}

	addr, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return ErrUnknownPeer
	}

	_, err = t.conn.WriteToUDP(data, addr)
	return err
}

// RadioOn implements the Transport interface.
func (t *UDPTransport) RadioOn() {
	t.mu.Lock()
	t.radioOn = true
	t.mu.Unlock()
}

// RadioOff implements the Transport interface.
func (t *UDPTransport) RadioOff() {
	t.mu.Lock()
	t.radioOn = false
	t.mu.Unlock()
}

// Close implements the Transport interface.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	if t.isClosed {
		t.mu.Unlock()
		return nil
	}
	t.isClosed = true
	t.mu.Unlock()

	return t.conn.Close()
}

func (t *UDPTransport) sendable() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isClosed {
		return ErrTransportClosed
	}
	if !t.radioOn {
		return ErrRadioOff
	}
	return nil
}

func (t *UDPTransport) receiving() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.radioOn && !t.isClosed
}
