package membership

import (
	"fmt"
	"testing"
	"time"

	"github.com/davidjrichardson/erts-2020/src/common"
)

func newTestTable(t *testing.T, capacity int, timeout time.Duration) *Table {
	return NewTable(capacity, timeout, common.NewTestEntry(t, "membership"))
}

func TestAnnounceAndExpiry(t *testing.T) {
	table := newTestTable(t, 16, 60*time.Millisecond)

	table.Announce("2.0")

	if !table.Contains("2.0") {
		t.Fatal("freshly announced neighbour should be present")
	}

	time.Sleep(30 * time.Millisecond)
	if !table.Contains("2.0") {
		t.Fatal("neighbour should still be present before the timeout")
	}

	time.Sleep(60 * time.Millisecond)
	if table.Contains("2.0") {
		t.Fatal("neighbour should expire after the timeout")
	}
	if _, ok := table.Random(); ok {
		t.Fatal("expired neighbour must not be selectable")
	}
}

func TestRefreshExtendsLifetime(t *testing.T) {
	table := newTestTable(t, 16, 60*time.Millisecond)

	table.Announce("3.0")

	// Keep announcing at half the timeout; the entry must survive well
	// past the original deadline.
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		table.Announce("3.0")
	}

	if !table.Contains("3.0") {
		t.Fatal("refreshed neighbour should not expire")
	}
	if table.Len() != 1 {
		t.Fatalf("refreshes must not duplicate entries, len=%d", table.Len())
	}
}

func TestPoolExhaustion(t *testing.T) {
	table := newTestTable(t, 4, time.Minute)

	for i := 0; i < 10; i++ {
		table.Announce(fmt.Sprintf("%d.0", i))
	}

	if table.Len() != 4 {
		t.Fatalf("table should cap at capacity 4, len=%d", table.Len())
	}

	// A refresh of an existing entry is not an allocation and must still
	// be accepted on a full pool.
	table.Announce("0.0")
	if !table.Contains("0.0") {
		t.Fatal("refresh should succeed on a full pool")
	}
}

func TestRandomSelection(t *testing.T) {
	table := newTestTable(t, 16, time.Minute)

	if _, ok := table.Random(); ok {
		t.Fatal("empty table should return no neighbour")
	}

	addrs := []string{"1.0", "2.0", "3.0"}
	for _, a := range addrs {
		table.Announce(a)
	}

	seen := make(map[string]int)
	for i := 0; i < 300; i++ {
		addr, ok := table.Random()
		if !ok {
			t.Fatal("non-empty table should always return a neighbour")
		}
		seen[addr]++
	}

	// Every live entry must be reachable; 300 draws over 3 entries makes
	// a miss astronomically unlikely under uniform selection.
	for _, a := range addrs {
		if seen[a] == 0 {
			t.Errorf("entry %s was never selected", a)
		}
	}
}

func TestClear(t *testing.T) {
	table := newTestTable(t, 16, 50*time.Millisecond)

	table.Announce("1.0")
	table.Announce("2.0")

	table.Clear()

	if table.Len() != 0 {
		t.Fatalf("cleared table should be empty, len=%d", table.Len())
	}

	// A re-announcement after Clear must not be removed by a timer armed
	// before the Clear.
	table.Announce("1.0")
	time.Sleep(30 * time.Millisecond)
	if !table.Contains("1.0") {
		t.Fatal("entry announced after Clear should survive its fresh timeout")
	}
}
