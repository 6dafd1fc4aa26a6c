package net

import (
	"sync"
)

// InmemNetwork is a broadcast domain connecting InmemTransports in one
// process, used to simulate multi-node networks in tests. Delivery is
// best-effort: a node whose inbound buffer is full, or whose radio is off,
// simply misses the datagram, just like on the air.
type InmemNetwork struct {
	mu    sync.RWMutex
	nodes map[string]*InmemTransport
}

// NewInmemNetwork returns an empty broadcast domain.
func NewInmemNetwork() *InmemNetwork {
	return &InmemNetwork{
		nodes: make(map[string]*InmemTransport),
	}
}

// NewTransport creates a transport with the given address and joins it to
// the network.
func (n *InmemNetwork) NewTransport(addr string) *InmemTransport {
	trans := &InmemTransport{
		network:    n,
		localAddr:  addr,
		consumerCh: make(chan Packet, 16),
		radioOn:    true,
	}

	n.mu.Lock()
	n.nodes[addr] = trans
	n.mu.Unlock()

	return trans
}

// deliver hands a packet to the addressed node if it is attached, powered
// and has buffer space.
func (n *InmemNetwork) deliver(target string, pkt Packet) bool {
	n.mu.RLock()
	node, ok := n.nodes[target]
	n.mu.RUnlock()

	if !ok || !node.receiving() {
		return false
	}

	select {
	case node.consumerCh <- pkt:
		return true
	default:
		// Inbound buffer full: the datagram is lost, as on a real
		// medium.
		return false
	}
}

// broadcast delivers to every attached node except the sender.
func (n *InmemNetwork) broadcast(from string, data []byte) {
	n.mu.RLock()
	addrs := make([]string, 0, len(n.nodes))
	for a := range n.nodes {
		if a != from {
			addrs = append(addrs, a)
		}
	}
	n.mu.RUnlock()

	for _, a := range addrs {
		n.deliver(a, Packet{From: from, Data: data})
	}
}

// remove detaches a transport from the domain.
func (n *InmemNetwork) remove(addr string) {
	n.mu.Lock()
	delete(n.nodes, addr)
	n.mu.Unlock()
}

// InmemTransport implements Transport over an InmemNetwork.
type InmemTransport struct {
	network    *InmemNetwork
	localAddr  string
	consumerCh chan Packet

	mu       sync.Mutex
	radioOn  bool
	isClosed bool
}

// Listen implements the Transport interface. There is nothing to defer for
// the in-memory transport.
func (t *InmemTransport) Listen() {}

// Consumer implements the Transport interface.
func (t *InmemTransport) Consumer() <-chan Packet {
	return t.consumerCh
}

// LocalAddr implements the Transport interface.
func (t *InmemTransport) LocalAddr() string {
	return t.localAddr
}

// Broadcast implements the Transport interface.
func (t *InmemTransport) Broadcast(data []byte) error {
	if err := t.sendable(); err != nil {
		return err
	}

	t.network.broadcast(t.localAddr, data)
	return nil
}

// Send implements the Transport interface.
func (t *InmemTransport) Send(target string, data []byte) error {
	if err := t.sendable(); err != nil {
		return err
	}

	if !t.network.deliver(target, Packet{From: t.localAddr, Data: data}) {
		return ErrUnknownPeer
	}
	return nil
}

// RadioOn implements the Transport interface.
func (t *InmemTransport) RadioOn() {
	t.mu.Lock()
	t.radioOn = true
	t.mu.Unlock()
}

// RadioOff implements the Transport interface.
func (t *InmemTransport) RadioOff() {
	t.mu.Lock()
	t.radioOn = false
	t.mu.Unlock()
}

// Close implements the Transport interface.
func (t *InmemTransport) Close() error {
	t.mu.Lock()
	t.isClosed = true
	t.mu.Unlock()

	t.network.remove(t.localAddr)
	return nil
}

func (t *InmemTransport) sendable() error {
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

func (t *InmemTransport) receiving() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.radioOn && !t.isClosed
}
