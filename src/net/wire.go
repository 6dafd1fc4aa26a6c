package net

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/ugorji/go/codec"
)

// MsgType discriminates the three kinds of datagram on the air.
type MsgType uint8

const (
	// MsgToken carries the 1-byte token of the trickle consistency
	// protocol.
	MsgToken MsgType = iota

	// MsgAnnouncement is the periodic presence beacon that populates
	// neighbour tables. It carries no data beyond the sender address.
	MsgAnnouncement

	// MsgData is a multihop data packet relayed towards Dest.
	MsgData
)

// String implements fmt.Stringer.
func (m MsgType) String() string {
	switch m {
	case MsgToken:
		return "token"
	case MsgAnnouncement:
		return "announcement"
	case MsgData:
		return "data"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(m))
	}
}

// ErrEmptyMessage is returned when decoding zero bytes.
var ErrEmptyMessage = errors.New("net: empty message")

// Message is the wire format shared by both protocols. Only the fields
// relevant to the Type are populated: Token for MsgToken; Originator, Dest,
// Hops and Payload for MsgData.
type Message struct {
	Type       MsgType
	Originator string
	Dest       string
	Token      uint8
	Hops       uint8
	Payload    []byte
}

// Marshal encodes the message with a canonical JSON codec.
func (m *Message) Marshal() ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)

	if err := enc.Encode(m); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Unmarshal decodes data into the message. Malformed or empty input yields
// an error and leaves the receiver untouched enough to be discarded;
// callers drop the packet and move on.
func (m *Message) Unmarshal(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyMessage
	}

	b := bytes.NewBuffer(data)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(b, jh)

	return dec.Decode(m)
}
