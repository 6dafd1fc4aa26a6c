package node

import (
	"testing"
	"time"

	"github.com/davidjrichardson/erts-2020/src/config"
	"github.com/davidjrichardson/erts-2020/src/net"
)

func newTestNode(t *testing.T, network *net.InmemNetwork, addr string, tweak func(*config.Config)) *Node {
	conf := config.NewTestConfig(t)
	conf.Moniker = addr
	if tweak != nil {
		tweak(conf)
	}
	n := NewNode(conf, network.NewTransport(addr), nil)
	n.RunAsync()
	t.Cleanup(n.Shutdown)
	return n
}

// sendToken injects a raw token datagram from a bare transport, bypassing
// any node logic on the sending side.
func sendToken(t *testing.T, network *net.InmemNetwork, from string, tok uint8) {
	t.Helper()
	trans := network.NewTransport(from)
	defer trans.Close()

	msg := net.Message{Type: net.MsgToken, Originator: from, Token: tok}
	raw, err := msg.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if err := trans.Broadcast(raw); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestAdoptNewerToken(t *testing.T) {
	network := net.NewInmemNetwork()
	n := newTestNode(t, network, "2.0", nil)
	n.SetRole(RoleSink)

	sendToken(t, network, "9.0", 1)

	waitFor(t, time.Second, func() bool {
		return n.Token() == 1
	}, "sink should adopt the newer token")

	// The inconsistency must have collapsed the interval back to imin. At
	// most one doubling can slip in between adoption and this query.
	st := n.currentTimer().State()
	if st.ICur > 2*n.conf.IMin {
		t.Fatalf("interval should have collapsed after adoption, got %v", st.ICur)
	}
}

func TestIgnoreOlderToken(t *testing.T) {
	network := net.NewInmemNetwork()
	n := newTestNode(t, network, "2.0", nil)

	sendToken(t, network, "9.0", 5)
	waitFor(t, time.Second, func() bool {
		return n.Token() == 5
	}, "node should adopt token 5")

	// An older token is an inconsistency but must not be adopted.
	sendToken(t, network, "9.1", 3)
	time.Sleep(100 * time.Millisecond)

	if got := n.Token(); got != 5 {
		t.Fatalf("node adopted an older token: %s", got)
	}
}

func TestMalformedPacketIgnored(t *testing.T) {
	network := net.NewInmemNetwork()
	n := newTestNode(t, network, "2.0", nil)

	raw := network.NewTransport("9.0")
	defer raw.Close()

	if err := raw.Broadcast([]byte{0x13, 0x37, 0xff}); err != nil {
		t.Fatal(err)
	}
	if err := raw.Broadcast(nil); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)

	if got := n.Token(); got != 0 {
		t.Fatalf("malformed input changed the token to %s", got)
	}
}

func TestSourceGeneratesUpToLimit(t *testing.T) {
	network := net.NewInmemNetwork()

	n := newTestNode(t, network, "1.0", func(c *config.Config) {
		c.NewTokenProb = 1 // generate on every tick
	})
	n.Limit(3)
	n.SetRole(RoleSource)

	waitFor(t, 2*time.Second, func() bool {
		return n.Token() == 3
	}, "source should generate tokens up to the limit")

	// The limit is a ceiling: no further tokens may be generated.
	time.Sleep(200 * time.Millisecond)
	if got := n.Token(); got != 3 {
		t.Fatalf("source generated past the limit: %s", got)
	}
}

func TestEndToEndDissemination(t *testing.T) {
	network := net.NewInmemNetwork()

	source := newTestNode(t, network, "1.0", func(c *config.Config) {
		c.NewTokenProb = 1
	})
	source.Limit(3)

	sink := newTestNode(t, network, "2.0", nil)
	relay := newTestNode(t, network, "3.0", nil)

	sink.SetRole(RoleSink)
	source.SetRole(RoleSource)

	// Everyone must converge on the source's final token.
	waitFor(t, 5*time.Second, func() bool {
		return sink.Token() == 3 && relay.Token() == 3
	}, "network should converge on token 3")
}

func TestPrintQuietensNode(t *testing.T) {
	network := net.NewInmemNetwork()
	n := newTestNode(t, network, "2.0", nil)

	listener := network.NewTransport("9.0")
	defer listener.Close()

	n.Print()

	// Drain anything already in flight, then expect silence.
	time.Sleep(50 * time.Millisecond)
	for {
		select {
		case <-listener.Consumer():
			continue
		default:
		}
		break
	}

	select {
	case pkt := <-listener.Consumer():
		t.Fatalf("quietened node transmitted %v", pkt)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestSleepRestartVoidsState(t *testing.T) {
	network := net.NewInmemNetwork()
	n := newTestNode(t, network, "2.0", nil)

	sendToken(t, network, "9.0", 7)
	waitFor(t, time.Second, func() bool {
		return n.Token() == 7
	}, "node should adopt token 7")

	n.restarter.Schedule(60 * time.Millisecond)

	if !n.restarter.Pending() {
		t.Fatal("restart should be pending")
	}

	waitFor(t, time.Second, func() bool {
		return n.Token() == 0 && !n.restarter.Pending()
	}, "restart should void the token")
}

func TestHandleCommand(t *testing.T) {
	network := net.NewInmemNetwork()
	n := newTestNode(t, network, "2.0", nil)

	if err := n.HandleCommand("set source"); err != nil {
		t.Fatal(err)
	}
	if n.Role() != RoleSource {
		t.Fatalf("role = %s, want source", n.Role())
	}

	if err := n.HandleCommand("limit 42"); err != nil {
		t.Fatal(err)
	}

	if err := n.HandleCommand("init 4 250 3"); err != nil {
		t.Fatal(err)
	}
	st := n.currentTimer().State()
	if st.ICur != 250*time.Millisecond || st.K != 3 {
		t.Fatalf("init did not take effect: %+v", st)
	}

	for _, bad := range []string{
		"",
		"bogus",
		"set both",
		"set",
		"init 4 250",
		"init a b c",
		"limit 300",
		"sleep -1",
		"sleep soon",
		"print now",
	} {
		if err := n.HandleCommand(bad); err == nil {
			t.Errorf("command %q should be rejected", bad)
		}
	}

	// Rejected commands must leave state untouched.
	if n.Role() != RoleSource {
		t.Fatal("bad commands changed the role")
	}
}
