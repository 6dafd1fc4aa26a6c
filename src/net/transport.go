// Package net defines the datagram transport that stands in for the radio
// of a sensor node: single-hop broadcast to whoever is in range, unicast
// send, and an on/off switch for the radio itself. Implementations are an
// in-memory broadcast domain for tests and a UDP multicast transport for
// real deployments.
package net

import "errors"

var (
	// ErrRadioOff is returned by sends while the radio is powered down.
	ErrRadioOff = errors.New("net: radio is off")

	// ErrUnknownPeer is returned when a unicast target cannot be reached.
	ErrUnknownPeer = errors.New("net: unknown peer")

	// ErrTransportClosed is returned after Close.
	ErrTransportClosed = errors.New("net: transport closed")
)

// Packet is an inbound datagram together with its sender's address.
type Packet struct {
	From string
	Data []byte
}

// Transport provides the radio interface for a node. Sends are single-shot
// and unacknowledged; the medium may lose any datagram. While the radio is
// off nothing is sent and nothing is received, but the transport stays
// usable: turning the radio back on resumes traffic.
type Transport interface {
	// Listen starts the receive path.
	Listen()

	// Consumer returns the channel on which inbound packets are
	// delivered.
	Consumer() <-chan Packet

	// LocalAddr returns the node's own address.
	LocalAddr() string

	// Broadcast sends data to all nodes in radio range.
	Broadcast(data []byte) error

	// Send sends data to a single node.
	Send(target string, data []byte) error

	// RadioOn and RadioOff control the simulated radio power state.
	RadioOn()
	RadioOff()

	// Close permanently shuts the transport down.
	Close() error
}
