package net

import (
	"bytes"
	"testing"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := &Message{
		Type:       MsgData,
		Originator: "4.0",
		Dest:       "1.0",
		Hops:       3,
		Payload:    []byte("hello"),
	}

	raw, err := msg.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	var got Message
	if err := got.Unmarshal(raw); err != nil {
		t.Fatal(err)
	}

	if got.Type != MsgData || got.Originator != "4.0" || got.Dest != "1.0" || got.Hops != 3 {
		t.Fatalf("round trip mangled message: %+v", got)
	}
	if !bytes.Equal(got.Payload, msg.Payload) {
		t.Fatalf("payload %q, want %q", got.Payload, msg.Payload)
	}
}

func TestMessageUnmarshalMalformed(t *testing.T) {
	var msg Message

	if err := msg.Unmarshal(nil); err != ErrEmptyMessage {
		t.Fatalf("empty input: err=%v, want ErrEmptyMessage", err)
	}

	if err := msg.Unmarshal([]byte{0xff, 0x00, 0x17}); err == nil {
		t.Fatal("garbage input should fail to decode")
	}
}
